package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

const (
	// AllCategories is the sentinel category meaning "no category filter".
	AllCategories = "All"

	DefaultCategory = "Uncategorized"
	DefaultGenre    = "Unknown"
)

// RawEventRecord is a single event as delivered by the events backend.
// Timestamps are wall-clock strings, implicitly UTC unless they carry a zone
// suffix. Any of the optional fields may be null on the wire. The backend
// sends id as a number; ICS-derived records use strings. Both decode into ID.
type RawEventRecord struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	StartTime *string `json:"startTime"`
	EndTime   *string `json:"endTime"`
	Category  *string `json:"category"`
	Genre     *string `json:"genre"`

	// Carried through from the backend; not used by the core.
	TicketmasterID string `json:"ticketmasterId,omitempty"`
	URL            string `json:"url,omitempty"`
	VenueName      string `json:"venueName,omitempty"`
	Latitude       string `json:"latitude,omitempty"`
	Longitude      string `json:"longitude,omitempty"`
}

func (r *RawEventRecord) UnmarshalJSON(data []byte) error {
	type plain RawEventRecord
	aux := struct {
		ID json.RawMessage `json:"id"`
		*plain
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	raw := bytes.TrimSpace(aux.ID)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		r.ID = ""
	case raw[0] == '"':
		return json.Unmarshal(raw, &r.ID)
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return fmt.Errorf("record id %s: %w", raw, err)
		}
		r.ID = n.String()
	}
	return nil
}

// Event is a normalized event with concrete instants in the display zone.
// Events are built once per fetch and never mutated afterwards.
type Event struct {
	ID       string
	Title    string
	Start    time.Time
	End      time.Time
	Category string
	Genre    string
}

// TimeWindow is the visible hour range of the week grid projected onto the
// currently centered date.
type TimeWindow struct {
	MinHour    int
	MaxHour    int
	AnchorDate time.Time

	// Min / Max are MinHour / MaxHour on AnchorDate's calendar day.
	Min time.Time
	Max time.Time

	// ScrollTo is where the grid's initial vertical scroll lands.
	ScrollTo time.Time
}

// StringPtr is a small helper for building RawEventRecord literals.
func StringPtr(s string) *string {
	return &s
}
