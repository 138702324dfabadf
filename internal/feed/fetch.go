// Package feed fetches raw event records from the events backend.
package feed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	appLog "planit/internal/log"
	"planit/internal/model"
)

const defaultTimeout = 15 * time.Second

// FetchError is a failure to obtain a usable record list from a source.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StaleError reports a fetch that failed but was answered from the disk
// cache. The cached body is still usable; the failure should be surfaced.
type StaleError struct {
	Source   string
	CachedAt time.Time
	Err      error
}

func (e *StaleError) Error() string {
	msg := fmt.Sprintf("fetch %s: %v; using cached copy", e.Source, e.Err)
	if !e.CachedAt.IsZero() {
		msg += " from " + e.CachedAt.UTC().Format(time.RFC3339)
	}
	return msg
}

func (e *StaleError) Unwrap() error { return e.Err }

// Body is a raw payload and where it came from.
type Body struct {
	Data      []byte
	FromCache bool
	// Stale is set when the live request failed and Data is the cached copy.
	Stale *StaleError
}

// Result is the outcome of a single fetch.
type Result struct {
	Records   []model.RawEventRecord
	FromCache bool // true if the body came from the disk cache
	Stale     *StaleError
}

// cacheEntry holds HTTP cache metadata for the events URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher retrieves the backend's JSON event array with conditional requests
// (ETag / Last-Modified) and a disk-backed copy of the last good body.
type Fetcher struct {
	client   *http.Client
	url      string
	cacheDir string
	accept   string
}

// NewFetcher creates a Fetcher for the JSON endpoint. An empty cacheDir
// disables the disk cache.
func NewFetcher(endpoint, cacheDir string, timeout time.Duration) *Fetcher {
	return NewBodyFetcher(endpoint, cacheDir, timeout, "application/json")
}

// NewBodyFetcher creates a Fetcher for an arbitrary payload type. Use
// FetchBody with it; Fetch expects JSON.
func NewBodyFetcher(endpoint, cacheDir string, timeout time.Duration, accept string) *Fetcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		url:      endpoint,
		cacheDir: cacheDir,
		accept:   accept,
	}
}

func (f *Fetcher) Name() string {
	return RedactURL(f.url)
}

// Fetch retrieves and decodes the record list. On network errors or non-OK
// statuses the cached body is used when one exists, and Result.Stale carries
// the failure.
func (f *Fetcher) Fetch(ctx context.Context) (Result, error) {
	body, err := f.FetchBody(ctx)
	if err != nil {
		return Result{}, err
	}

	var records []model.RawEventRecord
	if err := json.Unmarshal(body.Data, &records); err != nil {
		return Result{}, &FetchError{Source: f.Name(), Err: fmt.Errorf("decode events: %w", err)}
	}
	if records == nil {
		records = []model.RawEventRecord{}
	}

	return Result{Records: records, FromCache: body.FromCache, Stale: body.Stale}, nil
}

// FetchBody returns the raw payload. Errors are *FetchError.
func (f *Fetcher) FetchBody(ctx context.Context) (Body, error) {
	body, err := f.fetchBody(ctx)
	if err != nil {
		return Body{}, &FetchError{Source: f.Name(), Err: err}
	}
	return body, nil
}

func (f *Fetcher) fetchBody(ctx context.Context) (Body, error) {
	if f.url == "" {
		return Body{}, errors.New("source URL is empty")
	}

	cachePath := f.cachePath()
	var (
		meta       cacheEntry
		cachedBody []byte
	)
	if cachePath != "" {
		if err := os.MkdirAll(cachePath, 0o700); err != nil {
			return Body{}, err
		}
		meta, _ = loadCacheMeta(cachePath)
		cachedBody, _ = os.ReadFile(filepath.Join(cachePath, "body"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return Body{}, err
	}
	if f.accept != "" {
		req.Header.Set("Accept", f.accept)
	}

	// Conditional headers only make sense when we can serve the cached body.
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("fetch start", "url", f.Name())

	stale := func(cause error) Body {
		return Body{
			Data:      cachedBody,
			FromCache: true,
			Stale:     &StaleError{Source: f.Name(), CachedAt: meta.UpdatedAt, Err: cause},
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cachedBody) > 0 {
			appLog.Error("fetch network error, using cached body", err, "url", f.Name())
			return stale(err), nil
		}
		return Body{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return Body{}, readErr
		}
		if cachePath != "" {
			newMeta := cacheEntry{
				URL:          f.url,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			if err := saveCache(cachePath, newMeta, body); err != nil {
				// Log but still return the freshly fetched body.
				appLog.Error("fetch cache save failed", err, "url", f.Name())
			}
		}

		appLog.Info("fetch success", "url", f.Name(), "status", resp.StatusCode, "bytes", len(body))
		return Body{Data: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return Body{}, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Info("fetch not modified; using cache", "url", f.Name())
		return Body{Data: cachedBody, FromCache: true}, nil

	default:
		statusErr := fmt.Errorf("unexpected status %s", resp.Status)
		if len(cachedBody) > 0 {
			appLog.Error("fetch non-OK, using cached body", statusErr, "url", f.Name(), "status", resp.StatusCode)
			return stale(statusErr), nil
		}
		return Body{}, statusErr
	}
}

func (f *Fetcher) cachePath() string {
	if f.cacheDir == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(f.url))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// RedactURL keeps only scheme and host so tokens in paths or query strings
// never reach the logs.
func RedactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "events://...(redacted)"
	}
	if parsed.Path == "" || parsed.Path == "/" {
		return parsed.Scheme + "://" + parsed.Host
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
