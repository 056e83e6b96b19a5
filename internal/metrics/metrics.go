package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestTotal counts HTTP requests by method, route and status.
	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	// RequestDuration is the latency of HTTP requests.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	// EmailsSent counts bulk email sends by result ("sent" or "failed").
	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_emails_sent_total",
			Help: "Total number of campaign emails attempted",
		},
		[]string{"result"},
	)
	// EventsPublished counts domain events by topic.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_events_published_total",
			Help: "Total number of domain events published",
		},
		[]string{"topic"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
