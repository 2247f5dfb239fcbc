package model

import "sort"

// Sequence tags identify a lookup's role within a spot's pair
const (
	SeqSpotter = 0
	SeqDX      = 1
)

// Hit is one callsign's resolved geography
type Hit struct {
	Callsign    string  `json:"callsign"`
	Country     string  `json:"country,omitempty"`
	Region      string  `json:"region,omitempty"` // State / province code
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Grid        string  `json:"grid,omitempty"`
	Seq         int     `json:"seq"`
	Failed      bool    `json:"failed,omitempty"`      // Collaborator answered but did not know the callsign
	Approximate bool    `json:"approximate,omitempty"` // Resolved from the prefix table, not the service
}

// CorrelatedPair holds the two hits of one spot, ordered by sequence tag
type CorrelatedPair struct {
	SpotID int64
	Hits   []Hit
}

// Complete reports whether the pair holds exactly two results
func (p CorrelatedPair) Complete() bool { return len(p.Hits) == 2 }

// Sort orders hits spotter first
func (p CorrelatedPair) Sort() {
	sort.SliceStable(p.Hits, func(i, j int) bool { return p.Hits[i].Seq < p.Hits[j].Seq })
}

// EnrichedRecord is a spot merged with both parties' geography
type EnrichedRecord struct {
	Spot *Spot `json:"spot"`

	SpotterCountry string  `json:"spotter_country,omitempty"`
	SpotterGrid    string  `json:"spotter_grid,omitempty"`
	SpotterLat     float64 `json:"spotter_lat"`
	SpotterLon     float64 `json:"spotter_lon"`
	SpotterFailed  bool    `json:"spotter_failed,omitempty"`

	DXCountry string  `json:"dx_country,omitempty"`
	DXGrid    string  `json:"dx_grid,omitempty"`
	DXLat     float64 `json:"dx_lat"`
	DXLon     float64 `json:"dx_lon"`
	DXFailed  bool    `json:"dx_failed,omitempty"`
}
