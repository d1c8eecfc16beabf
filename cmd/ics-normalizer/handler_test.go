package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const upstreamCalendar = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//Example Corp//Outlook Export//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:team-sync@example.com\r\n" +
	"DTSTART;TZID=Eastern Standard Time:20240610T093000\r\n" +
	"DTEND;TZID=Eastern Standard Time:20240610T103000\r\n" +
	"SUMMARY:Team Sync\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func testMux(t *testing.T) *http.ServeMux {
	t.Helper()
	config := &Config{
		port:         "0",
		outputMode:   "utc",
		fetchTimeout: 5 * time.Second,
		cacheTTL:     time.Hour,
	}
	fetcher := NewFetcher(config.GetFetchTimeout(), config.GetCacheTTL())
	t.Cleanup(fetcher.Stop)
	muxer := http.NewServeMux()
	Calendar(muxer, config, fetcher)
	return muxer
}

func get(t *testing.T, muxer *http.ServeMux, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, vs := range header {
		req.Header[k] = vs
	}
	rec := httptest.NewRecorder()
	muxer.ServeHTTP(rec, req)
	return rec
}

func TestCalendarHandler(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(upstreamCalendar))
	}))
	defer upstream.Close()

	muxer := testMux(t)
	rec := get(t, muxer, "/calendar.ics?source="+upstream.URL, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rec.Header().Get("ETag"))
	assert.Contains(t, rec.Body.String(), "DTSTART:20240610T133000Z\r\n")
	assert.NotContains(t, rec.Body.String(), "Eastern Standard Time")
}

func TestCalendarHandlerConditional(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(upstreamCalendar))
	}))
	defer upstream.Close()

	muxer := testMux(t)
	first := get(t, muxer, "/calendar.ics?source="+upstream.URL, nil)
	require.Equal(t, http.StatusOK, first.Code)
	etag := first.Header().Get("ETag")
	require.NotEmpty(t, etag)

	second := get(t, muxer, "/calendar.ics?source="+upstream.URL,
		http.Header{"If-None-Match": {etag}})
	assert.Equal(t, http.StatusNotModified, second.Code)
	assert.Empty(t, second.Body.String())

	stale := get(t, muxer, "/calendar.ics?source="+upstream.URL,
		http.Header{"If-None-Match": {`"deadbeef"`}})
	assert.Equal(t, http.StatusOK, stale.Code)
}

func TestCalendarHandlerCanonicalMode(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(upstreamCalendar))
	}))
	defer upstream.Close()

	muxer := testMux(t)
	rec := get(t, muxer, "/calendar.ics?mode=canonical-tzid&source="+upstream.URL, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "DTSTART;TZID=America/New_York:20240610T093000\r\n")
	assert.Contains(t, rec.Body.String(), "TZID:America/New_York\r\n")
}

func TestCalendarHandlerDiagnosticHeaders(t *testing.T) {
	floating := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\n" +
		"BEGIN:VEVENT\r\nUID:floating@example.com\r\n" +
		"DTSTART:20240610T090000\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(floating))
	}))
	defer upstream.Close()

	muxer := testMux(t)
	rec := get(t, muxer, "/calendar.ics?default-tz=Europe/Berlin&source="+upstream.URL, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	diags := rec.Header().Values("X-Normalizer-Diagnostic")
	require.Len(t, diags, 1)
	assert.True(t, strings.HasPrefix(diags[0], "FloatingTimeAssumed"), diags[0])
	assert.Contains(t, diags[0], "uid=floating@example.com")
	assert.Contains(t, diags[0], "property=DTSTART")
}

func TestCalendarHandlerBadParams(t *testing.T) {
	muxer := testMux(t)
	tests := []struct {
		name   string
		target string
	}{
		{"missing source", "/calendar.ics"},
		{"bad scheme", "/calendar.ics?source=ftp://example.com/cal.ics"},
		{"bad mode", "/calendar.ics?mode=local&source=http://example.com/cal.ics"},
		{"start without expand", "/calendar.ics?start=2024-06-01T00:00:00Z&source=http://example.com/cal.ics"},
		{"bad start", "/calendar.ics?expand=1&start=junk&source=http://example.com/cal.ics"},
		{"end before start", "/calendar.ics?expand=1&start=2024-07-01T00:00:00Z&end=2024-06-01T00:00:00Z&source=http://example.com/cal.ics"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rec := get(t, muxer, test.target, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCalendarHandlerUnknownTimezone(t *testing.T) {
	broken := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\n" +
		"BEGIN:VEVENT\r\nUID:broken@example.com\r\n" +
		"DTSTART;TZID=Mars/Olympus_Mons:20240610T090000\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(broken))
	}))
	defer upstream.Close()

	muxer := testMux(t)
	rec := get(t, muxer, "/calendar.ics?source="+upstream.URL, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "broken@example.com")
}

func TestCalendarHandlerUpstreamErrors(t *testing.T) {
	t.Run("upstream failure", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer upstream.Close()

		rec := get(t, testMux(t), "/calendar.ics?source="+upstream.URL, nil)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("upstream not ics", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>not a calendar</html>"))
		}))
		defer upstream.Close()

		rec := get(t, testMux(t), "/calendar.ics?source="+upstream.URL, nil)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestCalendarHandlerExpand(t *testing.T) {
	recurring := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\n" +
		"BEGIN:VEVENT\r\nUID:weekly@example.com\r\n" +
		"DTSTART:20240603T090000Z\r\n" +
		"RRULE:FREQ=WEEKLY;COUNT=3\r\n" +
		"SUMMARY:Weekly\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(recurring))
	}))
	defer upstream.Close()

	muxer := testMux(t)
	rec := get(t, muxer, "/calendar.ics?expand=1"+
		"&start=2024-06-01T00:00:00Z&end=2024-07-01T00:00:00Z&source="+upstream.URL, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Equal(t, 3, strings.Count(out, "BEGIN:VEVENT"))
	assert.NotContains(t, out, "RRULE")
}
