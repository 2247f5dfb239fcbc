package lookup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixTable_Resolve(t *testing.T) {
	table := NewPrefixTable()

	tests := []struct {
		call    string
		country string
	}{
		{"W1AW", "United States"},
		{"K1TTT", "United States"},
		{"KH6ABC", "Hawaii"},
		{"JA1ABC", "Japan"},
		{"7K1XYZ", "Japan"},
		{"DL1XX", "Germany"},
		{"GM4ABC", "Scotland"},
		{"G4ABC", "England"},
		{"UA9ABC", "Asiatic Russia"},
		{"UA3ABC", "European Russia"},
		{"EA8/DL1XX", "Canary Islands"},
		{"VP2E/W1AW", "Anguilla"},
		{"W1AW/P", "United States"},
		{"DL1XX/MM", "Germany"},
		{"w1aw/4", "United States"},
	}

	for _, tt := range tests {
		t.Run(tt.call, func(t *testing.T) {
			hit, ok := table.Resolve(tt.call)
			require.True(t, ok)
			assert.Equal(t, tt.country, hit.Country)
			assert.True(t, hit.Approximate)
			assert.Len(t, hit.Grid, 4)
		})
	}
}

func TestPrefixTable_Unknown(t *testing.T) {
	table := NewPrefixTable()
	_, ok := table.Resolve("Q1ABC")
	assert.False(t, ok)

	hit, err := table.Lookup(context.Background(), "q1abc")
	require.NoError(t, err)
	assert.True(t, hit.Failed)
	assert.Equal(t, "Q1ABC", hit.Callsign)

	_, ok = table.Resolve("/P")
	assert.False(t, ok)
}

func TestParsePrefixTable_Errors(t *testing.T) {
	_, err := parsePrefixTable("K|United States|x|1")
	assert.Error(t, err)
	_, err = parsePrefixTable("K|United States|1")
	assert.Error(t, err)
}

func TestMaidenhead(t *testing.T) {
	assert.Equal(t, "FN31", Maidenhead(41.7, -72.7))
	assert.Equal(t, "PM95", Maidenhead(35.68, 139.69))
	assert.Equal(t, "RR99", Maidenhead(90, 180))
	assert.Equal(t, "AA00", Maidenhead(-90, -180))
}
