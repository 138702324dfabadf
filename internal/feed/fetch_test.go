package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBody = `[
  {"id":"1","title":"Rock the Night","startTime":"2025-08-01T19:00:00","endTime":"2025-08-01T22:00:00","category":"Music","genre":"Rock","url":"https://example.com/e/1"},
  {"id":"2","title":"No Times","startTime":null,"endTime":null,"category":null,"genre":null}
]`

func TestFetch_DecodesRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleBody))
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL+"/api/events", "", 0)
	res, err := f.Fetch(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Records, 2)
	assert.False(t, res.FromCache)
	r0 := res.Records[0]
	assert.Equal(t, "1", r0.ID)
	require.NotNil(t, r0.StartTime)
	assert.Equal(t, "2025-08-01T19:00:00", *r0.StartTime)
	require.NotNil(t, r0.Category)
	assert.Equal(t, "Music", *r0.Category)
	assert.Equal(t, "https://example.com/e/1", r0.URL)

	r1 := res.Records[1]
	assert.Nil(t, r1.StartTime)
	assert.Nil(t, r1.EndTime)
	assert.Nil(t, r1.Category)
	assert.Nil(t, r1.Genre)
}

func TestFetch_NullBodyYieldsEmptyList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`null`))
	}))
	defer srv.Close()

	res, err := NewFetcher(srv.URL, "", 0).Fetch(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, res.Records)
	assert.Empty(t, res.Records)
}

func TestFetch_FailureIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewFetcher(srv.URL, "", 0).Fetch(context.Background())
	require.Error(t, err)

	var fe *FetchError
	assert.True(t, errors.As(err, &fe))
}

func TestFetch_InvalidJSONIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>oops</html>`))
	}))
	defer srv.Close()

	_, err := NewFetcher(srv.URL, t.TempDir(), 0).Fetch(context.Background())
	var fe *FetchError
	assert.True(t, errors.As(err, &fe))
}

func TestFetch_EmptyURL(t *testing.T) {
	_, err := NewFetcher("", "", 0).Fetch(context.Background())
	assert.Error(t, err)
}

func TestFetch_UsesETagAndCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(sampleBody))
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, t.TempDir(), 0)

	first, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Nil(t, second.Stale, "304 is a successful refresh")
	assert.Equal(t, first.Records, second.Records)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_FallsBackToCacheOnServerError(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(sampleBody))
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, t.TempDir(), 0)
	_, err := f.Fetch(context.Background())
	require.NoError(t, err)

	fail.Store(true)
	res, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Len(t, res.Records, 2)

	require.NotNil(t, res.Stale)
	assert.False(t, res.Stale.CachedAt.IsZero())
	assert.Contains(t, res.Stale.Error(), "502")
	assert.Contains(t, res.Stale.Error(), "using cached copy")
}

func TestFetch_FallsBackToCacheOnNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleBody))
	}))

	f := NewFetcher(srv.URL, t.TempDir(), 0)
	_, err := f.Fetch(context.Background())
	require.NoError(t, err)

	srv.Close()
	res, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Records, 2)
	require.NotNil(t, res.Stale)
	assert.NotNil(t, errors.Unwrap(res.Stale))
}

func TestFetch_DecodesBackendWireShape(t *testing.T) {
	const body = `[
  {"id":1,"ticketmasterId":"vvG1zZ9","title":"Hockey Night","category":"Sports","genre":"Hockey",
   "startTime":"2026-02-20T01:30:00Z","endTime":"2026-02-20T04:00:00Z","url":null,
   "venueName":"Arena","latitude":"43.64","longitude":"-79.38"},
  {"id":9007199254740993,"title":"Big id","startTime":"2026-02-21T18:00:00","endTime":"2026-02-21T20:00:00"},
  {"id":null,"title":"No id"}
]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	res, err := NewFetcher(srv.URL, "", 0).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Records, 3)

	r0 := res.Records[0]
	assert.Equal(t, "1", r0.ID)
	assert.Equal(t, "vvG1zZ9", r0.TicketmasterID)
	assert.Empty(t, r0.URL)
	assert.Equal(t, "Arena", r0.VenueName)
	assert.Equal(t, "43.64", r0.Latitude)
	require.NotNil(t, r0.StartTime)
	assert.Equal(t, "2026-02-20T01:30:00Z", *r0.StartTime)

	assert.Equal(t, "9007199254740993", res.Records[1].ID)
	assert.Empty(t, res.Records[2].ID)
}

func TestFetch_RejectsNonScalarID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":{"x":1},"title":"bad"}]`))
	}))
	defer srv.Close()

	_, err := NewFetcher(srv.URL, "", 0).Fetch(context.Background())
	var fe *FetchError
	assert.True(t, errors.As(err, &fe))
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://example.com/...(redacted)", RedactURL("https://example.com/api/events?token=abc"))
	assert.Equal(t, "http://localhost:8080", RedactURL("http://localhost:8080"))
	assert.Equal(t, "events://...(redacted)", RedactURL("not a url"))
}

func TestFetchBody_SendsAcceptHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/calendar", r.Header.Get("Accept"))
		_, _ = w.Write([]byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"))
	}))
	defer srv.Close()

	body, err := NewBodyFetcher(srv.URL, "", 0, "text/calendar").FetchBody(context.Background())
	require.NoError(t, err)
	assert.False(t, body.FromCache)
	assert.Nil(t, body.Stale)
	assert.Contains(t, string(body.Data), "VCALENDAR")
}
