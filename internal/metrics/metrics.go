// Package metrics contains definitions of the prometheus metrics that the
// proxy exposes on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace and subsystem names used in the metric names.
const (
	namespace = "clawrubber"

	subsystemHTTP   = "http"
	subsystemSearch = "search"
	subsystemFetch  = "fetch"
)

var (
	// HTTPRequestsTotal is a counter of handled HTTP requests, labeled by
	// route pattern and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "requests_total",
		Namespace: namespace,
		Subsystem: subsystemHTTP,
		Help:      "Count of handled HTTP requests.",
	}, []string{"route", "code"})

	// FetchDecisionsTotal is a counter of pipeline decisions, labeled by
	// the decision and the stage that produced a block.
	FetchDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "decisions_total",
		Namespace: namespace,
		Subsystem: subsystemFetch,
		Help:      "Count of fetch pipeline decisions.",
	}, []string{"decision", "blocked_by"})

	// FetchDuration is a histogram of full pipeline durations, from request
	// to decision.
	FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:      "duration_seconds",
		Namespace: namespace,
		Subsystem: subsystemFetch,
		Help:      "Time elapsed on one fetch pipeline run.",
		Buckets:   prometheus.DefBuckets,
	})

	// SearchRetriesTotal is a counter of upstream search calls retried
	// after a 429.
	SearchRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "retries_total",
		Namespace: namespace,
		Subsystem: subsystemSearch,
		Help:      "Count of search calls retried after an upstream 429.",
	})
)

// RegisterSearchQueueDepth exposes the current depth of the search queue.
// We're using a function here because the queue does not exist until the
// search service is built.
func RegisterSearchQueueDepth(depth func() int) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name:      "queue_depth",
		Namespace: namespace,
		Subsystem: subsystemSearch,
		Help:      "Number of search calls waiting for the upstream rate limiter.",
	}, func() float64 {
		return float64(depth())
	})
}

// IncFetchDecision records one pipeline decision. An empty blockedBy, an
// allow, is recorded as "none".
func IncFetchDecision(decision, blockedBy string) {
	if blockedBy == "" {
		blockedBy = "none"
	}
	FetchDecisionsTotal.WithLabelValues(decision, blockedBy).Inc()
}
