// Package filter holds the category/genre selection and the pure functions
// that derive indexes and the visible event set from it.
package filter

import (
	"maps"
	"slices"

	"planit/internal/model"
)

// Selection is the user's current category choice plus a remembered genre set
// per category. The zero value is not usable; call NewSelection.
//
// Selection is not safe for concurrent use.
type Selection struct {
	category         string
	genresByCategory map[string]map[string]struct{}
}

func NewSelection() *Selection {
	return &Selection{
		category:         model.AllCategories,
		genresByCategory: make(map[string]map[string]struct{}),
	}
}

// SetCategory switches the active category. Genre sets stored for other
// categories are kept and become active again when they are re-selected.
func (s *Selection) SetCategory(cat string) {
	if cat == "" {
		cat = model.AllCategories
	}
	s.category = cat
}

// ToggleGenre flips genre in the active category's set. Toggling is allowed
// under the "All" sentinel as well; that set restricts genres across every
// category.
func (s *Selection) ToggleGenre(genre string) {
	set, ok := s.genresByCategory[s.category]
	if !ok {
		set = make(map[string]struct{})
		s.genresByCategory[s.category] = set
	}
	if _, on := set[genre]; on {
		delete(set, genre)
		if len(set) == 0 {
			delete(s.genresByCategory, s.category)
		}
		return
	}
	set[genre] = struct{}{}
}

// Reset returns the selection to "All" and forgets every genre set.
func (s *Selection) Reset() {
	s.category = model.AllCategories
	clear(s.genresByCategory)
}

func (s *Selection) ActiveCategory() string {
	return s.category
}

// ActiveGenres returns the active category's genres, sorted. An empty result
// means no genre restriction.
func (s *Selection) ActiveGenres() []string {
	return slices.Sorted(maps.Keys(s.genresByCategory[s.category]))
}

// GenreActive reports whether genre is in the active set.
func (s *Selection) GenreActive(genre string) bool {
	_, ok := s.genresByCategory[s.category][genre]
	return ok
}

// Reconcile falls back to "All" when the active category no longer appears in
// index. It reports whether a correction happened. Remembered genres for the
// vanished category are kept.
func (s *Selection) Reconcile(index []string) bool {
	if s.category == model.AllCategories || slices.Contains(index, s.category) {
		return false
	}
	s.category = model.AllCategories
	return true
}

// Matches is the visibility predicate for a single event.
func (s *Selection) Matches(ev model.Event) bool {
	if s.category != model.AllCategories && ev.Category != s.category {
		return false
	}
	genres := s.genresByCategory[s.category]
	if len(genres) == 0 {
		return true
	}
	_, ok := genres[ev.Genre]
	return ok
}

// FilteredEvents returns the events visible under sel, preserving order. The
// input slice is not modified.
func FilteredEvents(events []model.Event, sel *Selection) []model.Event {
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if sel.Matches(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// CategoryIndex returns "All" followed by the distinct categories of events in
// first-seen order.
func CategoryIndex(events []model.Event) []string {
	index := []string{model.AllCategories}
	// A data category literally named "All" collapses into the sentinel.
	seen := map[string]struct{}{model.AllCategories: {}}
	for _, ev := range events {
		if _, ok := seen[ev.Category]; ok {
			continue
		}
		seen[ev.Category] = struct{}{}
		index = append(index, ev.Category)
	}
	return index
}

// GenreIndex returns the distinct genres, in first-seen order, of events in
// category (every event when category is "All").
func GenreIndex(events []model.Event, category string) []string {
	index := make([]string, 0)
	seen := make(map[string]struct{})
	for _, ev := range events {
		if category != model.AllCategories && ev.Category != category {
			continue
		}
		if _, ok := seen[ev.Genre]; ok {
			continue
		}
		seen[ev.Genre] = struct{}{}
		index = append(index, ev.Genre)
	}
	return index
}
