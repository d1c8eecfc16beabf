package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcherConditionalRequests(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"))
	}))
	defer upstream.Close()

	f := NewFetcher(5*time.Second, time.Hour)
	defer f.Stop()

	body, fromCache, err := f.Fetch(context.Background(), upstream.URL)
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.NotEmpty(t, body)

	again, fromCache, err := f.Fetch(context.Background(), upstream.URL)
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.Equal(t, body, again)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetcherFallsBackOnUpstreamError(t *testing.T) {
	healthy := true
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"))
	}))
	defer upstream.Close()

	f := NewFetcher(5*time.Second, time.Hour)
	defer f.Stop()

	body, _, err := f.Fetch(context.Background(), upstream.URL)
	require.NoError(t, err)

	healthy = false
	cached, fromCache, err := f.Fetch(context.Background(), upstream.URL)
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.Equal(t, body, cached)
}

func TestFetcherErrorWithoutCache(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer upstream.Close()

	f := NewFetcher(5*time.Second, time.Hour)
	defer f.Stop()

	_, _, err := f.Fetch(context.Background(), upstream.URL)
	assert.Error(t, err)
}

func TestFetcherEvictsIdleEntries(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"))
	}))
	defer upstream.Close()

	f := NewFetcher(5*time.Second, time.Nanosecond)
	defer f.Stop()

	_, _, err := f.Fetch(context.Background(), upstream.URL)
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	f.evictIdle()

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Empty(t, f.entries)
}
