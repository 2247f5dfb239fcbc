package model

// PinKind distinguishes the spotter end from the shared DX end
type PinKind string

const (
	PinOrigin      PinKind = "origin"
	PinDestination PinKind = "destination"
)

// Line connects the spotter and the DX station on the map
type Line struct {
	ID       ArtifactID `json:"id"`
	SpotID   int64      `json:"spot_id"`
	FromLat  float64    `json:"from_lat"`
	FromLon  float64    `json:"from_lon"`
	ToLat    float64    `json:"to_lat"`
	ToLon    float64    `json:"to_lon"`
	Band     Band       `json:"band"`
	Mode     string     `json:"mode,omitempty"`
	Color    string     `json:"color"`
	Emphasis bool       `json:"emphasis,omitempty"` // Highlighted spot
}

// Pin marks a station on the map. Destination pins are shared by every spot of one DX callsign.
type Pin struct {
	ID       ArtifactID `json:"id"`
	Kind     PinKind    `json:"kind"`
	Callsign string     `json:"callsign"`
	Lat      float64    `json:"lat"`
	Lon      float64    `json:"lon"`
	Titles   []string   `json:"titles"`
	Subtitle string     `json:"subtitle,omitempty"` // Country / category
	Refs     int        `json:"refs"`
}
