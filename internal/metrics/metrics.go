// Package metrics registers the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequests counts API requests by method, route, and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vap_http_requests_total",
		Help: "API requests by method, route, and status class.",
	}, []string{"method", "route", "status"})

	// HTTPDuration observes request latency per route.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vap_http_request_seconds",
		Help:    "API request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// WebhookDeliveries counts webhook outcomes.
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vap_webhook_deliveries_total",
		Help: "Webhook delivery outcomes.",
	}, []string{"outcome"})

	// IndexerHeight is the last chain height the indexer completed.
	IndexerHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vap_indexer_height",
		Help: "Last fully indexed chain height.",
	})

	// MessagesScanned counts SafeChat verdicts.
	MessagesScanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vap_messages_scanned_total",
		Help: "SafeChat scan verdicts.",
	}, []string{"direction", "verdict"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
