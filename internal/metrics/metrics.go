// Package metrics defines the Prometheus instruments shared by the API and
// worker binaries. All collectors are registered on the default registry and
// exposed via Handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patchvec_http_requests_total",
		Help: "HTTP requests by method, route pattern and status class.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "patchvec_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	IngestRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patchvec_ingest_runs_total",
		Help: "Completed ingest pipeline runs by outcome.",
	}, []string{"status"})

	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "patchvec_ingest_duration_seconds",
		Help:    "Wall time of a successful ingest run.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "patchvec_search_duration_seconds",
		Help:    "End to end search latency including embedding and rescoring.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	SearchCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "patchvec_search_candidates",
		Help:    "Candidate pages per search before exact rescoring.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patchvec_webhook_deliveries_total",
		Help: "Webhook delivery attempts by outcome.",
	}, []string{"status"})
)

// Handler serves the scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
