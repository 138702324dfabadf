package window

import "time"

// Anchor is the date the week grid is centered on.
type Anchor struct {
	date time.Time
}

// NewAnchor centers on now's calendar day in loc.
func NewAnchor(now time.Time, loc *time.Location) Anchor {
	var a Anchor
	a.Today(now, loc)
	return a
}

func (a Anchor) Date() time.Time { return a.date }

// Today re-centers on now's calendar day in loc.
func (a *Anchor) Today(now time.Time, loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	a.date = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
}

// Back moves exactly one week earlier.
func (a *Anchor) Back() { a.date = a.date.AddDate(0, 0, -7) }

// Next moves exactly one week later.
func (a *Anchor) Next() { a.date = a.date.AddDate(0, 0, 7) }

// Week returns the [start, end) range of the week containing the anchor.
func (a Anchor) Week(weekStart time.Weekday) (time.Time, time.Time) {
	offset := (int(a.date.Weekday()) - int(weekStart) + 7) % 7
	start := a.date.AddDate(0, 0, -offset)
	return start, start.AddDate(0, 0, 7)
}
