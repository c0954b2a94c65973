package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// Plans counts country runs by outcome (ok, infeasible, data_inconsistency, ...)
	Plans = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "evsite_plans_total", Help: "Country optimization runs by status."},
		[]string{"status"},
	)
	// SolveDuration tracks the time spent in branch-and-bound
	SolveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "evsite_solve_duration_seconds", Help: "Solver wall time in seconds.", Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300}},
	)
	BnBNodes = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "evsite_bnb_nodes", Help: "Branch-and-bound nodes explored per solve.", Buckets: prometheus.ExponentialBuckets(1, 4, 10)},
	)
	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type"},
	)
	SitesBuilt = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "evsite_sites_built", Help: "Sites chosen in the latest plan per country."},
		[]string{"country"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func(){
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(Plans)
		Registry.MustRegister(SolveDuration)
		Registry.MustRegister(BnBNodes)
		Registry.MustRegister(SitesBuilt)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(WebhookLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// ObservePlan records one finished country run. nodes and elapsed are only
// meaningful when the solver ran.
func ObservePlan(country, status string, sitesBuilt, nodes int, elapsed time.Duration) {
	Plans.WithLabelValues(status).Inc()
	if nodes > 0 {
		BnBNodes.Observe(float64(nodes))
		SolveDuration.Observe(elapsed.Seconds())
	}
	if status == "ok" {
		SitesBuilt.WithLabelValues(country).Set(float64(sitesBuilt))
	}
}
