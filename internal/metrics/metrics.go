// Package metrics contains the prometheus collectors exported by teamcal.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Feed outcomes recorded in FeedResponses.
const (
	OutcomeNotModified = "not_modified"
	OutcomeCacheHit    = "cache_hit"
	OutcomeRendered    = "rendered"
	OutcomeError       = "error"
)

var (
	// FeedResponses counts feed requests by how they were answered.
	FeedResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamcal_feed_responses_total",
			Help: "Feed requests by outcome.",
		},
		[]string{"outcome"},
	)

	// EnrichmentFailures counts best-effort lookups that degraded output.
	EnrichmentFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamcal_enrichment_failures_total",
			Help: "Best-effort upstream lookups that failed, by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	promRegister(FeedResponses)
	promRegister(EnrichmentFailures)
}

// Handler returns a handler that exports metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// InstrumentHandler decorates an HTTP handler with in-flight, count and
// latency metrics labelled by name.
func InstrumentHandler(name string, handler http.Handler) http.Handler {
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "teamcal_requests_in_flight",
		Help:        "Number of requests currently being served by the handler.",
		ConstLabels: prometheus.Labels{"handler": name},
	})
	inFlight = promRegister(inFlight).(prometheus.Gauge)
	handler = promhttp.InstrumentHandlerInFlight(inFlight, handler)

	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "teamcal_requests_total",
			Help:        "Total number of requests for the handler.",
			ConstLabels: prometheus.Labels{"handler": name},
		},
		[]string{"code"},
	)
	counter = promRegister(counter).(*prometheus.CounterVec)
	handler = promhttp.InstrumentHandlerCounter(counter, handler)

	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        "teamcal_response_duration_seconds",
			Help:        "A histogram of request latencies.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: prometheus.Labels{"handler": name},
		},
		[]string{},
	)
	duration = promRegister(duration).(*prometheus.HistogramVec)
	handler = promhttp.InstrumentHandlerDuration(duration, handler)

	return handler
}

// promRegister tolerates double registration (tests build several servers)
// by handing back the collector that is already registered.
func promRegister(c prometheus.Collector) prometheus.Collector {
	err := prometheus.Register(c)
	if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
		return are.ExistingCollector
	}
	if err != nil {
		panic(err)
	}
	return c
}
