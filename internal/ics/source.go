// Package ics turns iCalendar subscriptions into raw event records so they
// can be merged with the backend's events.
package ics

import (
	"context"
	"fmt"
	"time"

	"planit/internal/feed"
	appLog "planit/internal/log"
)

// Source represents a single ICS subscription source.
type Source struct {
	// ID is an internal identifier used for logging and record IDs.
	ID string
	// Name is the human label; it doubles as the category for events
	// without CATEGORIES.
	Name string
	// URL is the ICS endpoint.
	URL string
}

// BodyFetcher returns a raw payload; *feed.Fetcher implements it.
type BodyFetcher interface {
	FetchBody(ctx context.Context) (feed.Body, error)
}

// Client loads one subscription and expands it into records.
type Client struct {
	src     Source
	fetcher BodyFetcher
}

// NewClient builds a Client that fetches src.URL through the cached feed
// fetcher.
func NewClient(src Source, cacheDir string, timeout time.Duration) *Client {
	return NewClientWithFetcher(src, feed.NewBodyFetcher(src.URL, cacheDir, timeout, "text/calendar"))
}

func NewClientWithFetcher(src Source, f BodyFetcher) *Client {
	return &Client{src: src, fetcher: f}
}

func (c *Client) Name() string {
	if c.src.ID != "" {
		return c.src.ID
	}
	return feed.RedactURL(c.src.URL)
}

// Records fetches the feed and returns the occurrences in [from, to]. When
// the feed was served from cache after a failed request, Result.Stale says so.
func (c *Client) Records(ctx context.Context, from, to time.Time) (feed.Result, error) {
	body, err := c.fetcher.FetchBody(ctx)
	if err != nil {
		return feed.Result{}, err
	}

	parsed, err := ParseICS(c.src, body.Data)
	if err != nil {
		return feed.Result{}, &feed.FetchError{Source: c.Name(), Err: fmt.Errorf("parse ics: %w", err)}
	}

	res, err := Expand(parsed, ExpandConfig{RangeStart: from, RangeEnd: to})
	if err != nil {
		return feed.Result{}, err
	}

	appLog.Info("ics source loaded",
		"id", c.src.ID,
		"from_cache", body.FromCache,
		"records", len(res.Records),
		"skipped_all_day", res.SkippedAllDay,
		"truncated", len(res.TruncatedEvents),
	)
	return feed.Result{Records: res.Records, FromCache: body.FromCache, Stale: body.Stale}, nil
}
