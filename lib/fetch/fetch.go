// Copyright 2026 The ComicFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package fetch materializes file content on demand. EnsureFetched
// turns a catalog file ID into a committed content-store blob,
// downloading it from the registered URL on first access.
//
// Downloads are coalesced per file: however many filesystem opens
// race on the same pending file, exactly one HTTP request is in
// flight, and every waiter receives that one outcome. The download
// itself is a background task — a waiter abandoning its open (context
// cancellation) does not abort the transfer, it just stops waiting.
// The result lands in the catalog either way and the next open is
// served from disk.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/comicfs-dev/comicfs/lib/catalog"
	"github.com/comicfs-dev/comicfs/lib/clock"
	"github.com/comicfs-dev/comicfs/lib/content"
)

// ErrorKind classifies a fetch failure.
type ErrorKind int

const (
	// Transient failures (connection errors, HTTP 429/5xx, attempt
	// timeouts) are retried with backoff up to the attempt ceiling.
	Transient ErrorKind = iota

	// Permanent failures (HTTP 4xx other than 429, malformed URLs)
	// are not retried in-process until the cool-down elapses — the
	// remote may eventually grow the content, so a later access
	// tries again.
	Permanent
)

func (k ErrorKind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// Error is a classified download failure.
type Error struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch: %s failure for %s: %v", e.Kind, e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Defaults for Config fields left zero.
const (
	DefaultMaxAttempts    = 3
	DefaultAttemptTimeout = 30 * time.Second
	DefaultRetryCooldown  = 5 * time.Minute
	baseBackoff           = 500 * time.Millisecond
)

// Config holds the parameters for creating a Fetcher.
type Config struct {
	// Catalog records state transitions. Required.
	Catalog *catalog.Catalog

	// Store receives downloaded bytes. Required.
	Store *content.Store

	// Client is the HTTP client for downloads. Defaults to
	// http.DefaultClient. Per-attempt timeouts are applied via
	// request contexts, not the client.
	Client *http.Client

	// MaxAttempts bounds retries of transient failures per
	// EnsureFetched call. Zero uses DefaultMaxAttempts.
	MaxAttempts int

	// AttemptTimeout bounds a single download attempt. Exceeding it
	// counts as a transient failure. Zero uses DefaultAttemptTimeout.
	AttemptTimeout time.Duration

	// RetryCooldown is how long a permanent failure suppresses new
	// download attempts for that file. Zero uses
	// DefaultRetryCooldown.
	RetryCooldown time.Duration

	// Clock provides time for backoff and cool-down. Defaults to
	// clock.Real().
	Clock clock.Clock

	// Logger receives diagnostic messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// Fetcher downloads file content on demand. Safe for concurrent use.
type Fetcher struct {
	catalog        *catalog.Catalog
	store          *content.Store
	client         *http.Client
	maxAttempts    int
	attemptTimeout time.Duration
	retryCooldown  time.Duration
	clock          clock.Clock
	logger         *slog.Logger

	// downloads counts HTTP attempts, for tests and diagnostics.
	downloads atomic.Uint64

	// mu protects flights and failures.
	mu       sync.Mutex
	flights  map[int64]*flight
	failures map[int64]failure
}

// flight is one in-progress download shared by all waiters.
type flight struct {
	done chan struct{} // closed when the download finishes
	ref  content.Ref
	err  error
}

// failure remembers a permanent failure for the cool-down window.
type failure struct {
	at  time.Time
	err error
}

// New creates a Fetcher.
func New(cfg Config) (*Fetcher, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("fetch: Catalog is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("fetch: Store is required")
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.RetryCooldown <= 0 {
		cfg.RetryCooldown = DefaultRetryCooldown
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	return &Fetcher{
		catalog:        cfg.Catalog,
		store:          cfg.Store,
		client:         cfg.Client,
		maxAttempts:    cfg.MaxAttempts,
		attemptTimeout: cfg.AttemptTimeout,
		retryCooldown:  cfg.RetryCooldown,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		flights:        make(map[int64]*flight),
		failures:       make(map[int64]failure),
	}, nil
}

// DownloadCount returns the number of HTTP download attempts made so
// far. Coalescing tests assert on this.
func (f *Fetcher) DownloadCount() uint64 { return f.downloads.Load() }

// EnsureFetched returns the content ref for a file, downloading it
// first if needed. A Done file returns immediately without touching
// the network. The ctx only governs how long this caller waits: an
// in-flight download keeps running after the caller gives up.
func (f *Fetcher) EnsureFetched(ctx context.Context, fileID int64) (content.Ref, error) {
	file, err := f.catalog.GetFileByID(ctx, fileID)
	if err != nil {
		return "", err
	}
	if file.State == catalog.StateDone {
		return content.Ref(file.ContentRef), nil
	}

	f.mu.Lock()
	// A permanent failure inside its cool-down window answers from
	// memory, without a new download.
	if cached, ok := f.failures[fileID]; ok {
		if f.clock.Now().Sub(cached.at) < f.retryCooldown {
			f.mu.Unlock()
			return "", cached.err
		}
		delete(f.failures, fileID)
	}

	fl, running := f.flights[fileID]
	if !running {
		fl = &flight{done: make(chan struct{})}
		f.flights[fileID] = fl
		go f.run(fileID, fl)
	}
	f.mu.Unlock()

	select {
	case <-fl.done:
		return fl.ref, fl.err
	case <-ctx.Done():
		// The download is shared state and keeps going; only this
		// waiter leaves.
		return "", ctx.Err()
	}
}

// run performs the shared download for one file and publishes the
// outcome. It deliberately does not take the waiter's context.
func (f *Fetcher) run(fileID int64, fl *flight) {
	ctx := context.Background()
	fl.ref, _, fl.err = f.download(ctx, fileID)

	f.mu.Lock()
	delete(f.flights, fileID)
	var fetchErr *Error
	if errors.As(fl.err, &fetchErr) && fetchErr.Kind == Permanent {
		f.failures[fileID] = failure{at: f.clock.Now(), err: fl.err}
	}
	f.mu.Unlock()

	close(fl.done)
}

// download runs the attempt loop for one file.
func (f *Fetcher) download(ctx context.Context, fileID int64) (content.Ref, int64, error) {
	file, err := f.catalog.GetFileByID(ctx, fileID)
	if err != nil {
		return "", 0, err
	}
	// Someone may have finished this file between the caller's check
	// and our start.
	if file.State == catalog.StateDone {
		return content.Ref(file.ContentRef), file.Size, nil
	}

	if err := f.catalog.SetFileState(ctx, fileID, catalog.StateInProgress, "", 0); err != nil {
		return "", 0, err
	}

	var lastErr error
	for attempt := 0; attempt < f.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * baseBackoff
			<-f.clock.After(backoff)
		}

		ref, size, err := f.attempt(ctx, file.URL)
		if err == nil {
			if err := f.catalog.SetFileState(ctx, fileID, catalog.StateDone, string(ref), size); err != nil {
				return "", 0, err
			}
			f.logger.Info("file fetched",
				"file_id", fileID,
				"url", file.URL,
				"size", size,
				"content_ref", string(ref),
			)
			return ref, size, nil
		}
		lastErr = err

		var fetchErr *Error
		if errors.As(err, &fetchErr) && fetchErr.Kind == Permanent {
			break
		}
		f.logger.Warn("transient fetch failure, retrying",
			"file_id", fileID,
			"url", file.URL,
			"attempt", attempt+1,
			"error", err,
		)
	}

	if err := f.catalog.SetFileState(ctx, fileID, catalog.StateFailed, "", 0); err != nil {
		f.logger.Error("recording fetch failure", "file_id", fileID, "error", err)
	}
	f.logger.Warn("fetch failed", "file_id", fileID, "url", file.URL, "error", lastErr)
	return "", 0, lastErr
}

// attempt performs a single bounded download: GET the URL, stream the
// body into the content store, commit.
func (f *Fetcher) attempt(ctx context.Context, rawURL string) (content.Ref, int64, error) {
	f.downloads.Add(1)

	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		if err == nil {
			err = fmt.Errorf("unsupported scheme %q", parsed.Scheme)
		}
		return "", 0, &Error{Kind: Permanent, URL: rawURL, Err: err}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, f.attemptTimeout)
	defer cancel()

	request, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", 0, &Error{Kind: Permanent, URL: rawURL, Err: err}
	}

	response, err := f.client.Do(request)
	if err != nil {
		return "", 0, &Error{Kind: Transient, URL: rawURL, Err: err}
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		kind := classifyStatus(response.StatusCode)
		return "", 0, &Error{Kind: kind, URL: rawURL, Err: fmt.Errorf("HTTP %s", response.Status)}
	}

	writer, err := f.store.Writer()
	if err != nil {
		return "", 0, &Error{Kind: Transient, URL: rawURL, Err: err}
	}
	if _, err := io.Copy(writer, response.Body); err != nil {
		writer.Abort()
		return "", 0, &Error{Kind: Transient, URL: rawURL, Err: err}
	}
	ref, size, err := writer.Commit()
	if err != nil {
		return "", 0, &Error{Kind: Transient, URL: rawURL, Err: err}
	}
	return ref, size, nil
}

// classifyStatus maps a non-200 status to a failure kind: 429 and 5xx
// are worth retrying, other 4xx are not.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return Transient
	case status >= 500:
		return Transient
	case status >= 400:
		return Permanent
	default:
		return Transient
	}
}
