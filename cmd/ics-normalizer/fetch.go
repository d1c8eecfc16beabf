package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// fetchEntry remembers the validators and body of the last successful fetch
// of one source URL.
type fetchEntry struct {
	etag         string
	lastModified string
	body         []byte
	lastUsed     time.Time
}

// Fetcher downloads upstream calendars with conditional requests. A 304
// answer, and any upstream failure when a cached body exists, is served from
// the in-memory cache. Entries idle longer than the TTL are expired by a
// cron janitor.
type Fetcher struct {
	client *http.Client
	ttl    time.Duration

	mu      sync.Mutex
	entries map[string]*fetchEntry

	cron *cron.Cron
}

func NewFetcher(timeout, ttl time.Duration) *Fetcher {
	f := &Fetcher{
		client:  &http.Client{Timeout: timeout},
		ttl:     ttl,
		entries: map[string]*fetchEntry{},
		cron:    cron.New(),
	}
	if _, err := f.cron.AddFunc("@every 1h", f.evictIdle); err != nil {
		slog.Error("can't schedule cache janitor", "error", err)
	}
	f.cron.Start()
	return f
}

func (f *Fetcher) Stop() {
	<-f.cron.Stop().Done()
}

// Fetch returns the body of the source URL, from the network or the cache.
// The second return reports whether the cache answered.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, bool, error) {
	f.mu.Lock()
	cached := f.entries[url]
	if cached != nil {
		cached.lastUsed = time.Now()
	}
	f.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	if cached != nil {
		if cached.etag != "" {
			req.Header.Set("If-None-Match", cached.etag)
		}
		if cached.lastModified != "" {
			req.Header.Set("If-Modified-Since", cached.lastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if cached != nil {
			slog.Warn("upstream fetch failed, using cached body", "url", url, "error", err)
			upstreamCacheHits.Inc()
			return cached.body, true, nil
		}
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, err
		}
		f.mu.Lock()
		f.entries[url] = &fetchEntry{
			etag:         resp.Header.Get("ETag"),
			lastModified: resp.Header.Get("Last-Modified"),
			body:         body,
			lastUsed:     time.Now(),
		}
		f.mu.Unlock()
		return body, false, nil

	case http.StatusNotModified:
		if cached == nil {
			return nil, false, errors.New("upstream returned 304 with no cached body")
		}
		upstreamCacheHits.Inc()
		return cached.body, true, nil

	default:
		if cached != nil {
			slog.Warn("upstream returned non-OK, using cached body", "url", url, "status", resp.StatusCode)
			upstreamCacheHits.Inc()
			return cached.body, true, nil
		}
		return nil, false, errors.New("upstream returned " + resp.Status)
	}
}

func (f *Fetcher) evictIdle() {
	cutoff := time.Now().Add(-f.ttl)
	f.mu.Lock()
	defer f.mu.Unlock()
	for url, e := range f.entries {
		if e.lastUsed.Before(cutoff) {
			delete(f.entries, url)
			slog.Debug("evicted idle cache entry", "url", url)
		}
	}
}
