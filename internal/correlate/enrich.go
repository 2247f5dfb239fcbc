package correlate

import (
	"errors"
	"fmt"

	"github.com/ppiankov/dxmap/internal/model"
)

// maxRegionLen is the longest region code appended to a shared country
const maxRegionLen = 3

var ErrIncompletePair = errors.New("correlated pair is incomplete")

// Enrich merges a complete pair into the spot's enriched record. When both
// parties are in the same country, short region codes are appended so the
// two ends can be told apart ("United States (CT)").
func Enrich(spot *model.Spot, pair model.CorrelatedPair) (*model.EnrichedRecord, error) {
	if !pair.Complete() {
		return nil, fmt.Errorf("spot %d: %w (%d hits)", pair.SpotID, ErrIncompletePair, len(pair.Hits))
	}
	pair.Sort()
	sp, dx := pair.Hits[0], pair.Hits[1]
	if sp.Seq != model.SeqSpotter || dx.Seq != model.SeqDX {
		return nil, fmt.Errorf("spot %d: %w: sequence tags %d,%d", pair.SpotID, ErrIncompletePair, sp.Seq, dx.Seq)
	}

	rec := &model.EnrichedRecord{
		Spot:           spot,
		SpotterCountry: sp.Country,
		SpotterGrid:    sp.Grid,
		SpotterLat:     sp.Lat,
		SpotterLon:     sp.Lon,
		SpotterFailed:  sp.Failed,
		DXCountry:      dx.Country,
		DXGrid:         dx.Grid,
		DXLat:          dx.Lat,
		DXLon:          dx.Lon,
		DXFailed:       dx.Failed,
	}

	if sp.Country != "" && sp.Country == dx.Country {
		rec.SpotterCountry = withRegion(sp)
		rec.DXCountry = withRegion(dx)
	}
	return rec, nil
}

func withRegion(h model.Hit) string {
	if h.Region == "" || len(h.Region) > maxRegionLen {
		return h.Country
	}
	return h.Country + " (" + h.Region + ")"
}
