package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "planit/internal/log"
	"planit/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000

	// wireLayout matches the backend's zone-less UTC wall-clock strings.
	wireLayout = "2006-01-02T15:04:05"
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// RangeStart / RangeEnd define the inclusive time window for occurrences.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps runaway rules. Zero means
	// defaultMaxOccurrencesPerEvent.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the expanded records and truncation info.
type ExpandResult struct {
	Records []model.RawEventRecord
	// TruncatedEvents records UIDs that hit the MaxOccurrencesPerEvent cap.
	TruncatedEvents []string
	// SkippedAllDay counts all-day occurrences, which the timed week grid
	// does not show.
	SkippedAllDay int
}

type occurrence struct {
	ev    ParsedEvent
	start time.Time
	end   time.Time
}

// Expand turns parsed events into raw records, one per occurrence inside the
// configured range. It handles single events, RRULE recurrence, EXDATE and
// RECURRENCE-ID overrides.
func Expand(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Group base events and overrides by UID, keeping first-seen UID order so
	// output is deterministic.
	var uids []string
	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)

	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
			continue
		}
		if _, ok := baseByUID[ev.UID]; !ok {
			uids = append(uids, ev.UID)
		}
		baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
	}

	result.Records = make([]model.RawEventRecord, 0)

	for _, uid := range uids {
		ov := overridesByUID[uid]
		truncated := false

		for _, ev := range baseByUID[uid] {
			occs, hitCap := expandEvent(ev, ov, cfg)
			if hitCap {
				truncated = true
			}
			for _, occ := range occs {
				if occ.ev.AllDay {
					result.SkippedAllDay++
					continue
				}
				result.Records = append(result.Records, toRecord(occ))
			}
		}

		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, uid)
			appLog.Error("expand: truncated occurrences for UID due to cap",
				errors.New("max occurrences reached"),
				"uid", uid,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	return result, nil
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]occurrence, bool) {
	if ev.RawRRule == "" {
		return expandSingleEvent(ev, overrides, cfg), false
	}
	return expandRecurringEvent(ev, overrides, cfg)
}

func expandSingleEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []occurrence {
	if o, ok := findOverrideForStart(overrides, ev.Start); ok {
		ev = o
	}
	if !timeRangesOverlap(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []occurrence{{ev: ev, start: ev.Start, end: ev.End}}
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]occurrence, bool) {
	out := make([]occurrence, 0)
	hitCap := false

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return out, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen the lower bound by the event's duration so occurrences that
	// started before the range but are still running are included.
	dur := ev.End.Sub(ev.Start)
	rangeStart := cfg.RangeStart.Add(-dur).In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())

	occTimes := set.Between(rangeStart, rangeEnd, true)
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	for _, occStart := range occTimes {
		occ := occurrence{ev: ev, start: occStart, end: occStart.Add(dur)}
		if o, ok := findOverrideForStart(overrides, occStart); ok {
			occ = occurrence{ev: o, start: o.Start, end: o.End}
		}
		out = append(out, occ)
	}

	return out, hitCap
}

// findOverrideForStart finds an override whose RECURRENCE-ID equals start.
func findOverrideForStart(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

// toRecord renders an occurrence in the backend's wire shape: UTC wall clock,
// first CATEGORIES value as category (else the source name), second as genre.
func toRecord(occ occurrence) model.RawEventRecord {
	ev := occ.ev
	rec := model.RawEventRecord{
		ID:        ev.UID + "@" + occ.start.UTC().Format(time.RFC3339),
		Title:     ev.Summary,
		StartTime: model.StringPtr(occ.start.UTC().Format(wireLayout)),
		EndTime:   model.StringPtr(occ.end.UTC().Format(wireLayout)),
		URL:       ev.URL,
		VenueName: ev.Location,
	}

	switch {
	case len(ev.Categories) > 0:
		rec.Category = model.StringPtr(ev.Categories[0])
	case ev.Source.Name != "":
		rec.Category = model.StringPtr(ev.Source.Name)
	}
	if len(ev.Categories) > 1 {
		rec.Genre = model.StringPtr(ev.Categories[1])
	}
	return rec
}

func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if bEnd.Before(aStart) {
		return false
	}
	return true
}
