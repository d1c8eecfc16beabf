package main

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	ics "github.com/nillebco/ics-normalizer"
)

// Default expansion window when expand=1 is given without explicit bounds.
const (
	expandBack    = 7 * 24 * time.Hour
	expandForward = 90 * 24 * time.Hour
)

func Calendar(muxer *http.ServeMux, config *Config, fetcher *Fetcher) {
	muxer.HandleFunc("GET /calendar.ics", func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		requestID := uuid.NewString()
		logger := slog.With("request_id", requestID)

		status := func(code int) {
			requestsTotal.WithLabelValues(fmt.Sprint(code)).Inc()
			requestDuration.Observe(time.Since(started).Seconds())
		}

		source := r.URL.Query().Get("source")
		if source == "" {
			status(http.StatusBadRequest)
			http.Error(w, "missing source parameter", http.StatusBadRequest)
			return
		}
		if u, err := url.Parse(source); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			status(http.StatusBadRequest)
			http.Error(w, "source must be an http or https URL", http.StatusBadRequest)
			return
		}

		cfg := ics.Config{
			OutputMode:      ics.OutputMode(config.GetOutputMode()),
			DefaultTimezone: config.GetDefaultTimezone(),
		}
		if mode := r.URL.Query().Get("mode"); mode != "" {
			switch mode {
			case string(ics.OutputModeUTC), string(ics.OutputModeCanonicalTZID):
				cfg.OutputMode = ics.OutputMode(mode)
			default:
				status(http.StatusBadRequest)
				http.Error(w, "mode must be utc or canonical-tzid", http.StatusBadRequest)
				return
			}
		}
		if tz := r.URL.Query().Get("default-tz"); tz != "" {
			cfg.DefaultTimezone = tz
		}

		window, err := parseWindow(r)
		if err != nil {
			status(http.StatusBadRequest)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cfg.Window = window

		body, fromCache, err := fetcher.Fetch(r.Context(), source)
		if err != nil {
			logger.Error("upstream fetch failed", "source", source, "error", err)
			status(http.StatusBadGateway)
			http.Error(w, "upstream fetch failed", http.StatusBadGateway)
			return
		}

		result, err := ics.Normalize(body, cfg)
		if err != nil {
			logger.Error("normalize failed", "source", source, "error", err)
			switch {
			case errors.Is(err, ics.ErrUnknownTimezone):
				normalizeFailures.WithLabelValues("unknown_timezone").Inc()
				status(http.StatusUnprocessableEntity)
				http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			case errors.Is(err, ics.ErrMalformedInput), errors.Is(err, ics.ErrStructure):
				normalizeFailures.WithLabelValues("malformed_upstream").Inc()
				status(http.StatusBadGateway)
				http.Error(w, "upstream document is not valid iCalendar", http.StatusBadGateway)
			default:
				normalizeFailures.WithLabelValues("internal").Inc()
				status(http.StatusInternalServerError)
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		sum := sha256.Sum256(result.Bytes)
		etag := `"` + hex.EncodeToString(sum[:]) + `"`
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		for _, d := range result.Diagnostics {
			w.Header().Add("X-Normalizer-Diagnostic", diagnosticHeader(d))
		}

		if match := r.Header.Get("If-None-Match"); match != "" && etagMatches(match, etag) {
			status(http.StatusNotModified)
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		status(http.StatusOK)
		if _, err := w.Write(result.Bytes); err != nil {
			logger.Warn("can't write response", "error", err)
		}
		logger.Info("served calendar",
			"source", source, "mode", cfg.OutputMode, "from_cache", fromCache,
			"bytes", len(result.Bytes), "diagnostics", len(result.Diagnostics),
			"duration", time.Since(started))
	})
}

func parseWindow(r *http.Request) (*ics.Window, error) {
	q := r.URL.Query()
	expand := q.Get("expand") == "1"
	startRaw, endRaw := q.Get("start"), q.Get("end")
	if !expand {
		if startRaw != "" || endRaw != "" {
			return nil, errors.New("start and end require expand=1")
		}
		return nil, nil
	}
	now := time.Now().UTC()
	w := &ics.Window{Start: now.Add(-expandBack), End: now.Add(expandForward)}
	if startRaw != "" {
		t, err := time.Parse(time.RFC3339, startRaw)
		if err != nil {
			return nil, errors.New("start must be RFC 3339")
		}
		w.Start = t
	}
	if endRaw != "" {
		t, err := time.Parse(time.RFC3339, endRaw)
		if err != nil {
			return nil, errors.New("end must be RFC 3339")
		}
		w.End = t
	}
	if !w.End.After(w.Start) {
		return nil, errors.New("end must be after start")
	}
	return w, nil
}

func diagnosticHeader(d ics.Diagnostic) string {
	parts := []string{d.Kind}
	if d.UID != "" {
		parts = append(parts, "uid="+d.UID)
	}
	if d.Property != "" {
		parts = append(parts, "property="+d.Property)
	}
	return strings.Join(parts, "; ")
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == etag || candidate == "*" {
			return true
		}
	}
	return false
}
