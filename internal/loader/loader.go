// Package loader gathers raw event records from every configured source.
package loader

import (
	"context"
	"errors"
	"time"

	"planit/internal/feed"
	appLog "planit/internal/log"
	"planit/internal/model"
)

// ErrNoSources is returned when nothing is configured to load from.
var ErrNoSources = errors.New("no event sources configured")

// RecordSource is a backend that yields the full record list.
type RecordSource interface {
	Name() string
	Fetch(ctx context.Context) (feed.Result, error)
}

// RangeSource is a backend that yields records inside a time range, such as
// an expanded ICS subscription.
type RangeSource interface {
	Name() string
	Records(ctx context.Context, from, to time.Time) (feed.Result, error)
}

// Result is a merged load. Problems lists sources that failed outright or were
// answered from cache after a failed request; Records is still usable when
// Problems is non-empty.
type Result struct {
	Records  []model.RawEventRecord
	Problems []error
}

// Degraded reports whether any source could not be refreshed.
func (r Result) Degraded() bool { return len(r.Problems) > 0 }

// Problem joins Problems into one error, or nil.
func (r Result) Problem() error { return errors.Join(r.Problems...) }

// Loader merges records from the events backend and any ICS subscriptions.
type Loader struct {
	primary  RecordSource
	calendar []RangeSource

	// Backfill and Horizon bound ICS expansion around now.
	Backfill time.Duration
	Horizon  time.Duration

	now func() time.Time
}

// New builds a Loader. primary may be nil when only ICS sources are used.
func New(primary RecordSource, calendars ...RangeSource) *Loader {
	return &Loader{
		primary:  primary,
		calendar: calendars,
		Backfill: 7 * 24 * time.Hour,
		Horizon:  28 * 24 * time.Hour,
		now:      time.Now,
	}
}

// Load fetches every source. Partial failures and cache fallbacks are logged
// and reported in Result.Problems; if every source fails the joined error is
// returned.
func (l *Loader) Load(ctx context.Context) (Result, error) {
	if l.primary == nil && len(l.calendar) == 0 {
		return Result{}, ErrNoSources
	}

	var (
		out       = Result{Records: make([]model.RawEventRecord, 0)}
		errs      []error
		succeeded int
	)

	take := func(name string, res feed.Result) {
		succeeded++
		out.Records = append(out.Records, res.Records...)
		if res.Stale != nil {
			appLog.Warn("loader: source served from cache", "source", name, "reason", res.Stale.Err.Error())
			out.Problems = append(out.Problems, res.Stale)
		}
	}

	if l.primary != nil {
		res, err := l.primary.Fetch(ctx)
		if err != nil {
			appLog.Error("loader: events source failed", err, "source", l.primary.Name())
			errs = append(errs, err)
		} else {
			take(l.primary.Name(), res)
		}
	}

	now := l.now()
	from, to := now.Add(-l.Backfill), now.Add(l.Horizon)
	for _, src := range l.calendar {
		res, err := src.Records(ctx, from, to)
		if err != nil {
			appLog.Error("loader: calendar source failed", err, "source", src.Name())
			errs = append(errs, err)
			continue
		}
		take(src.Name(), res)
	}

	if succeeded == 0 {
		return Result{}, errors.Join(errs...)
	}
	if len(errs) > 0 {
		appLog.Warn("loader: partial load", "failed", len(errs), "succeeded", succeeded)
		out.Problems = append(out.Problems, errs...)
	}
	return out, nil
}
