package filter

import (
	"testing"

	"github.com/ppiankov/dxmap/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spot(id int64, dx, freq string, band model.Band) *model.Spot {
	return &model.Spot{ID: id, Spotter: "W1AW", DX: dx, Freq: freq, Band: band}
}

func TestApply_NoFilters(t *testing.T) {
	e := New()
	s := spot(1, "JA1ABC", "14.074", model.Band20)
	assert.False(t, e.Apply(s))
	assert.False(t, s.Filtered())
}

func TestSetBand(t *testing.T) {
	e := New()
	s20 := spot(1, "JA1ABC", "14.074", model.Band20)
	s40 := spot(2, "VK2DEF", "7.030", model.Band40)

	e.SetBand(model.Band20, true)
	assert.True(t, e.Apply(s20))
	assert.True(t, s20.Reasons.Has(model.ReasonBand))
	assert.False(t, e.Apply(s40))

	e.SetBand(model.BandAll, true)
	for _, b := range model.Bands {
		assert.True(t, e.BandOn(b), b.String())
	}
	assert.True(t, e.Apply(s40))

	e.SetBand(model.Band40, false)
	assert.False(t, e.BandOn(model.BandAll), "clearing one band clears the all toggle")
	assert.True(t, e.Apply(s40))
	assert.False(t, s40.Filtered())

	e.SetBand(model.BandAll, false)
	assert.True(t, e.Apply(s20))
	assert.False(t, s20.Filtered())
}

func TestCallFilter_PrefixScenario(t *testing.T) {
	e := New()
	spots := []*model.Spot{
		spot(1, "JA1ABC", "14.074", model.Band20),
		spot(2, "JR2XYZ", "14.074", model.Band20),
		spot(3, "VK2DEF", "14.074", model.Band20),
		spot(4, "ja3low", "14.074", model.Band20),
	}

	e.SetCall("JA", false)
	lifted, suppressed := e.Replay(spots)
	assert.Empty(t, lifted)
	require.Len(t, suppressed, 2)
	assert.Equal(t, int64(2), suppressed[0].ID)
	assert.Equal(t, int64(3), suppressed[1].ID)
	assert.False(t, spots[0].Filtered())
	assert.False(t, spots[3].Filtered(), "prefix mode ignores case")

	e.SetCall("", false)
	lifted, suppressed = e.Replay(spots)
	assert.Len(t, lifted, 2)
	assert.Empty(t, suppressed)
	for _, s := range spots {
		assert.False(t, s.Filtered())
	}
}

func TestCallFilter_PrefixList(t *testing.T) {
	e := New()
	e.SetCall("JA, VK", false)
	assert.False(t, e.Apply(spot(1, "VK2DEF", "14.074", model.Band20)))

	s := spot(2, "ZS6XYZ", "14.074", model.Band20)
	e.Apply(s)
	assert.True(t, s.Reasons.Has(model.ReasonCall))
}

func TestCallFilter_Exact(t *testing.T) {
	e := New()
	e.SetCall("JA1", true)

	s := spot(1, "JA1ABC", "14.074", model.Band20)
	e.Apply(s)
	assert.False(t, s.Filtered())

	s = spot(2, "ja1abc", "14.074", model.Band20)
	e.Apply(s)
	assert.True(t, s.Filtered(), "exact mode is case-sensitive")

	s = spot(3, "JA", "14.074", model.Band20)
	e.Apply(s)
	assert.True(t, s.Filtered(), "shorter callsigns never match")
}

func TestDigitalFilter(t *testing.T) {
	e := New()
	ft8 := spot(1, "JA1ABC", "14.074", model.Band20)
	edge := spot(2, "JA1ABC", "14.078", model.Band20)
	cw := spot(3, "JA1ABC", "14.025", model.Band20)
	spots := []*model.Spot{ft8, edge, cw}

	e.SetDigital(true)
	_, suppressed := e.Replay(spots)
	require.Len(t, suppressed, 1)
	assert.Equal(t, cw, suppressed[0])
	assert.True(t, cw.Reasons.Has(model.ReasonDigital))
	assert.False(t, edge.Filtered(), "range bounds are inclusive")

	e.SetDigital(false)
	lifted, _ := e.Replay(spots)
	assert.Equal(t, []*model.Spot{cw}, lifted)
}

func TestReasonsAreIndependent(t *testing.T) {
	e := New()
	s := spot(1, "VK2DEF", "14.025", model.Band20)

	e.SetBand(model.Band20, true)
	e.SetCall("JA", false)
	e.Apply(s)
	assert.ElementsMatch(t, []string{"band", "call"}, s.Reasons.Strings())

	e.SetBand(model.Band20, false)
	assert.False(t, e.Apply(s), "still suppressed by the call filter")
	assert.True(t, s.Filtered())

	e.SetCall("", false)
	assert.True(t, e.Apply(s))
	assert.False(t, s.Filtered())
}

func TestHighlights(t *testing.T) {
	e := New()
	e.SetHighlights([]string{"3Y0J", "vp8*, ZL9HR"})

	tests := map[string]bool{
		"3Y0J":   true,
		"3Y0JA":  false,
		"VP8PJ":  true,
		"vp8abc": true,
		"ZL9HR":  true,
		"ZL1ABC": false,
	}
	for dx, want := range tests {
		s := spot(1, dx, "14.074", model.Band20)
		e.Apply(s)
		assert.Equal(t, want, s.Highlighted, dx)
		assert.False(t, s.Filtered(), "highlighting never suppresses")
	}
}

func TestFromConfig(t *testing.T) {
	e, err := FromConfig(model.FilterConfig{
		Bands:       []string{"20m", "40"},
		Call:        "JA",
		DigitalOnly: true,
		Highlights:  []string{"3Y0J"},
	})
	require.NoError(t, err)

	st := e.State()
	assert.True(t, st.Bands[model.Band20])
	assert.True(t, st.Bands[model.Band40])
	assert.False(t, st.Bands[model.Band15])
	assert.Equal(t, "JA", st.Call)
	assert.True(t, st.DigitalOnly)
	assert.Equal(t, []string{"3Y0J"}, st.Highlights)

	_, err = FromConfig(model.FilterConfig{Bands: []string{"11m"}})
	assert.Error(t, err)
}
