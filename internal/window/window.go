// Package window derives the week grid's visible hour range from the events
// on screen.
package window

import (
	"time"

	"planit/internal/model"
)

const (
	DefaultMinHour = 8
	DefaultMaxHour = 22
)

// Fallbacks are the hours used when no event bounds one side of the window.
type Fallbacks struct {
	MinHour int
	MaxHour int
}

// DefaultFallbacks returns the 08:00-22:00 window.
func DefaultFallbacks() Fallbacks {
	return Fallbacks{MinHour: DefaultMinHour, MaxHour: DefaultMaxHour}
}

// Compute derives the visible window for events projected onto anchor's day,
// using the default fallbacks. It is pure.
func Compute(events []model.Event, anchor time.Time) model.TimeWindow {
	return DefaultFallbacks().Compute(events, anchor)
}

// Compute derives the visible window for events projected onto anchor's day.
//
// The window spans one hour before the earliest start hour to one hour after
// the latest end hour, where an end with a non-zero minute counts as the next
// hour. Seconds are ignored, so 13:00:59 ends in hour 13. An event that ends
// on a later day than it starts counts as ending at 24:00.
func (f Fallbacks) Compute(events []model.Event, anchor time.Time) model.TimeWindow {
	minHour, maxHour := f.MinHour, f.MaxHour

	earliest, latest := -1, -1
	for _, ev := range events {
		if !ev.Start.IsZero() {
			if h := ev.Start.Hour(); earliest < 0 || h < earliest {
				earliest = h
			}
		}
		if !ev.End.IsZero() {
			if h := endHour(ev); h > latest {
				latest = h
			}
		}
	}

	if earliest >= 0 {
		minHour = clamp(earliest-1, 0, 23)
	}
	if latest >= 0 {
		maxHour = clamp(latest+1, 1, 24)
	}
	if maxHour <= minHour {
		maxHour = clamp(minHour+1, 1, 24)
	}

	day := time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, anchor.Location())
	minAt := atHour(day, minHour)
	var maxAt time.Time
	if maxHour == 24 {
		maxAt = time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, int(999*time.Millisecond), day.Location())
	} else {
		maxAt = atHour(day, maxHour)
	}

	return model.TimeWindow{
		MinHour:    minHour,
		MaxHour:    maxHour,
		AnchorDate: day,
		Min:        minAt,
		Max:        maxAt,
		ScrollTo:   minAt,
	}
}

// endHour is the ceiling hour of ev's end in its own zone.
func endHour(ev model.Event) int {
	end := ev.End
	if !ev.Start.IsZero() && dayOf(end).After(dayOf(ev.Start.In(end.Location()))) {
		// Runs past midnight, or ends exactly on it.
		return 24
	}
	h := end.Hour()
	if end.Minute() != 0 {
		h++
	}
	return h
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func atHour(day time.Time, hour int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, day.Location())
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
