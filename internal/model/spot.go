package model

import (
	"strings"
	"time"
)

// Source identifies where a spot line came from. It selects the field offset table.
type Source int

const (
	SourceStream Source = iota // Telnet connection
	SourceHTML                 // Scraped web page
)

func (s Source) String() string {
	if s == SourceHTML {
		return "html"
	}
	return "stream"
}

// FilterReason is one dimension of the filter engine that can suppress a spot
type FilterReason uint8

const (
	ReasonBand FilterReason = 1 << iota
	ReasonCall
	ReasonDigital
)

func (r FilterReason) String() string {
	switch r {
	case ReasonBand:
		return "band"
	case ReasonCall:
		return "call"
	case ReasonDigital:
		return "digital"
	default:
		return "unknown"
	}
}

// FilterReasons is the set of active filter reasons on a spot
type FilterReasons uint8

// Has reports whether reason r is active
func (rs FilterReasons) Has(r FilterReason) bool { return rs&FilterReasons(r) != 0 }

// With returns the set with r toggled to on
func (rs FilterReasons) With(r FilterReason, on bool) FilterReasons {
	if on {
		return rs | FilterReasons(r)
	}
	return rs &^ FilterReasons(r)
}

// Strings lists the active reasons by name
func (rs FilterReasons) Strings() []string {
	var out []string
	for _, r := range []FilterReason{ReasonBand, ReasonCall, ReasonDigital} {
		if rs.Has(r) {
			out = append(out, r.String())
		}
	}
	return out
}

// ArtifactID identifies a line or pin owned by the display set
type ArtifactID int64

// Spot is one sighting of a DX station reported by a spotter
type Spot struct {
	ID          int64         `json:"id"`
	Spotter     string        `json:"spotter"`          // Reporting station
	DX          string        `json:"dx"`               // Reported station
	RawFreq     string        `json:"raw_freq"`         // Frequency as sent, kHz
	Freq        string        `json:"freq"`             // Normalized MHz decimal string
	Band        Band          `json:"band"`
	Mode        string        `json:"mode,omitempty"`
	Comment     string        `json:"comment,omitempty"`
	Time        string        `json:"time,omitempty"` // UTC HHMM
	Source      Source        `json:"source"`
	ReceivedAt  time.Time     `json:"received_at"`
	Reasons     FilterReasons `json:"-"`
	Highlighted bool          `json:"highlighted"`

	LineID   ArtifactID `json:"line_id,omitempty"`
	OriginID ArtifactID `json:"origin_id,omitempty"`
	DestID   ArtifactID `json:"dest_id,omitempty"`
}

// Filtered reports whether any filter reason is active
func (s *Spot) Filtered() bool { return s.Reasons != 0 }

// DedupeKey identifies spots that are duplicates of each other
func (s *Spot) DedupeKey() string {
	return strings.Join([]string{s.Spotter, s.DX, s.Freq}, "|")
}

// HasArtifacts reports whether the spot currently owns display artifacts
func (s *Spot) HasArtifacts() bool { return s.LineID != 0 }
