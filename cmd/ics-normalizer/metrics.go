package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ics_normalizer_requests_total",
		Help: "The number of calendar requests served, by HTTP status code",
	}, []string{"code"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ics_normalizer_request_duration_seconds",
		Help:    "The end to end latency of calendar requests",
		Buckets: prometheus.DefBuckets,
	})

	normalizeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ics_normalizer_normalize_failures_total",
		Help: "The number of failed normalizations, by error kind",
	}, []string{"kind"})

	upstreamCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ics_normalizer_upstream_cache_hits_total",
		Help: "The number of upstream fetches answered from the conditional cache",
	})
)
