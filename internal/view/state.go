// Package view owns the calendar page state: the current event set, the
// filter selection and the centered date. Every derived value is recomputed
// from that state on read.
package view

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"planit/internal/filter"
	appLog "planit/internal/log"
	"planit/internal/model"
	"planit/internal/normalize"
	"planit/internal/window"
)

// ErrUnknownCategory is returned when selecting a category that the current
// events do not contain.
var ErrUnknownCategory = errors.New("category not present in current events")

// State is the single owner of page state. It is not safe for concurrent use;
// callers serialize access (see web.Server).
type State struct {
	loc       *time.Location
	fallbacks window.Fallbacks

	records   []model.RawEventRecord
	events    []model.Event
	malformed []error
	loadedAt  time.Time

	sel    *filter.Selection
	anchor window.Anchor

	// seq is the newest fetch handed out by BeginFetch.
	seq    uint64
	notice string
}

// New creates an empty state centered on now in loc.
func New(loc *time.Location, fallbacks window.Fallbacks, now time.Time) *State {
	if loc == nil {
		loc = time.Local
	}
	return &State{
		loc:       loc,
		fallbacks: fallbacks,
		events:    []model.Event{},
		sel:       filter.NewSelection(),
		anchor:    window.NewAnchor(now, loc),
	}
}

func (s *State) Location() *time.Location { return s.loc }

// BeginFetch tags a new fetch. Only the newest tag may apply its result.
func (s *State) BeginFetch() uint64 {
	s.seq++
	return s.seq
}

// ApplyFetch replaces the event set with records if seq is still the newest
// fetch. It reports whether the result was applied.
func (s *State) ApplyFetch(seq uint64, records []model.RawEventRecord, at time.Time) bool {
	return s.apply(seq, records, at, nil)
}

// ApplyDegradedFetch is ApplyFetch for a load where some sources failed or
// were served from cache. The records are shown and problem becomes the
// page notice.
func (s *State) ApplyDegradedFetch(seq uint64, records []model.RawEventRecord, at time.Time, problem error) bool {
	return s.apply(seq, records, at, problem)
}

func (s *State) apply(seq uint64, records []model.RawEventRecord, at time.Time, problem error) bool {
	if seq == 0 || seq != s.seq {
		appLog.Debug("view: discarding stale fetch result", "seq", seq, "latest", s.seq)
		return false
	}

	res := normalize.Normalize(records, s.loc)

	s.records = records
	s.events = res.Events
	s.malformed = res.Errors
	s.loadedAt = at
	s.notice = ""
	if problem != nil {
		s.notice = "Could not refresh every source: " + strings.ReplaceAll(problem.Error(), "\n", "; ")
	}

	// The selection must never be observed against a stale index.
	if s.sel.Reconcile(filter.CategoryIndex(s.events)) {
		appLog.Info("view: selected category no longer present; showing all")
	}

	for _, err := range res.Errors {
		appLog.Warn("view: record excluded", "reason", err.Error())
	}
	appLog.Info("view: events replaced",
		"seq", seq,
		"records", len(records),
		"events", len(s.events),
		"missing_times", res.Skipped,
		"malformed", len(res.Errors),
		"degraded", problem != nil,
	)
	return true
}

// FailFetch records a failed fetch. Prior events stay in place; a notice is
// set for the page. It reports whether the failure belonged to the newest
// fetch.
func (s *State) FailFetch(seq uint64, err error) bool {
	if seq == 0 || seq != s.seq {
		appLog.Debug("view: discarding stale fetch failure", "seq", seq, "latest", s.seq)
		return false
	}
	s.notice = fmt.Sprintf("Could not refresh events: %v", err)
	if !s.loadedAt.IsZero() {
		s.notice += fmt.Sprintf(" (showing events from %s)", s.loadedAt.In(s.loc).Format("Jan 2 15:04"))
	}
	appLog.Error("view: fetch failed; keeping previous events", err, "seq", seq, "events", len(s.events))
	return true
}

// SetCategory selects cat. "All" or "" clears the category restriction.
func (s *State) SetCategory(cat string) error {
	if cat != "" && cat != model.AllCategories && !slices.Contains(filter.CategoryIndex(s.events), cat) {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, cat)
	}
	s.sel.SetCategory(cat)
	return nil
}

// ToggleGenre flips genre within the active category.
func (s *State) ToggleGenre(genre string) {
	s.sel.ToggleGenre(genre)
}

// ResetFilters clears category and every remembered genre set.
func (s *State) ResetFilters() {
	s.sel.Reset()
}

func (s *State) Today(now time.Time) { s.anchor.Today(now, s.loc) }
func (s *State) Back()               { s.anchor.Back() }
func (s *State) Next()               { s.anchor.Next() }

// Week is the [start, end) range of the visible week for weekStart.
func (s *State) Week(weekStart time.Weekday) (time.Time, time.Time) {
	return s.anchor.Week(weekStart)
}

// Records returns the raw records of the last applied fetch.
func (s *State) Records() []model.RawEventRecord {
	return s.records
}

// Snapshot is everything the renderer needs for one draw.
type Snapshot struct {
	Events       []model.Event
	TotalEvents  int
	Categories   []string
	Genres       []string
	Category     string
	ActiveGenres []string
	Window       model.TimeWindow
	Notice       string
	Malformed    []string
	LoadedAt     time.Time
}

// Snapshot derives the current view.
func (s *State) Snapshot() Snapshot {
	filtered := filter.FilteredEvents(s.events, s.sel)

	malformed := make([]string, 0, len(s.malformed))
	for _, err := range s.malformed {
		malformed = append(malformed, err.Error())
	}

	return Snapshot{
		Events:       filtered,
		TotalEvents:  len(s.events),
		Categories:   filter.CategoryIndex(s.events),
		Genres:       filter.GenreIndex(s.events, s.sel.ActiveCategory()),
		Category:     s.sel.ActiveCategory(),
		ActiveGenres: s.sel.ActiveGenres(),
		Window:       s.fallbacks.Compute(filtered, s.anchor.Date()),
		Notice:       s.notice,
		Malformed:    malformed,
		LoadedAt:     s.loadedAt,
	}
}
