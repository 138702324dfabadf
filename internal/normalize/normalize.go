// Package normalize turns raw backend event records into zoned model.Events.
package normalize

import (
	"fmt"
	"strings"
	"time"

	appLog "planit/internal/log"
	"planit/internal/model"
)

// Wall-clock layouts accepted when the wire value carries no zone suffix.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
}

// MalformedTimestampError reports a record whose start or end could not be
// parsed. The record is excluded from the result.
type MalformedTimestampError struct {
	RecordID string
	Field    string
	Value    string
	Err      error
}

func (e *MalformedTimestampError) Error() string {
	return fmt.Sprintf("record %q: malformed %s %q: %v", e.RecordID, e.Field, e.Value, e.Err)
}

func (e *MalformedTimestampError) Unwrap() error { return e.Err }

// InvertedRangeError reports a record whose end precedes its start.
type InvertedRangeError struct {
	RecordID string
	Start    time.Time
	End      time.Time
}

func (e *InvertedRangeError) Error() string {
	return fmt.Sprintf("record %q: end %s is before start %s",
		e.RecordID, e.End.Format(time.RFC3339), e.Start.Format(time.RFC3339))
}

// Result holds the normalized events together with per-record problems.
type Result struct {
	Events []model.Event
	// Skipped counts records dropped for missing start or end times.
	Skipped int
	// Errors lists records excluded because their times were unusable.
	Errors []error
}

// Normalize converts records into events observed in loc. Records without a
// start or end time are dropped; records with unparsable or inverted times are
// dropped and reported in Result.Errors. It never fails as a whole.
//
// A nil loc means time.Local.
func Normalize(records []model.RawEventRecord, loc *time.Location) Result {
	if loc == nil {
		loc = time.Local
	}

	res := Result{Events: make([]model.Event, 0, len(records))}

	for _, rec := range records {
		if blank(rec.StartTime) || blank(rec.EndTime) {
			res.Skipped++
			continue
		}

		start, err := ParseUTC(*rec.StartTime)
		if err != nil {
			res.Errors = append(res.Errors, &MalformedTimestampError{
				RecordID: rec.ID, Field: "startTime", Value: *rec.StartTime, Err: err,
			})
			continue
		}
		end, err := ParseUTC(*rec.EndTime)
		if err != nil {
			res.Errors = append(res.Errors, &MalformedTimestampError{
				RecordID: rec.ID, Field: "endTime", Value: *rec.EndTime, Err: err,
			})
			continue
		}
		if end.Before(start) {
			res.Errors = append(res.Errors, &InvertedRangeError{RecordID: rec.ID, Start: start, End: end})
			continue
		}

		res.Events = append(res.Events, model.Event{
			ID:       rec.ID,
			Title:    rec.Title,
			Start:    start.In(loc),
			End:      end.In(loc),
			Category: orDefault(rec.Category, model.DefaultCategory),
			Genre:    orDefault(rec.Genre, model.DefaultGenre),
		})
	}

	if res.Skipped > 0 || len(res.Errors) > 0 {
		appLog.Debug("normalize: records excluded",
			"total", len(records),
			"kept", len(res.Events),
			"missing_times", res.Skipped,
			"malformed", len(res.Errors),
		)
	}

	return res
}

// ParseUTC parses a backend timestamp. Values without a zone suffix are
// interpreted as UTC; values that already carry "Z" or an offset are honored.
func ParseUTC(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC(), nil
	}

	var firstErr error
	for _, layout := range naiveLayouts {
		t, err := time.ParseInLocation(layout, v, time.UTC)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

func orDefault(s *string, def string) string {
	if blank(s) {
		return def
	}
	return *s
}
