// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30}

var (
	LayerQueriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "siterisk_layer_queries_total",
		Help: "Datastore queries issued against layers, by operation and outcome",
	}, []string{"operation", "outcome"})
	LayerQueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "siterisk_layer_query_duration_seconds",
		Help:    "Layer query latency in seconds",
		Buckets: durationBuckets,
	}, []string{"operation"})
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "siterisk_http_requests_total",
		Help: "HTTP requests by route pattern and status code",
	}, []string{"route", "status"})
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "siterisk_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: durationBuckets,
	}, []string{"route"})
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "siterisk_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	})
	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "siterisk_cache_hits_total",
		Help: "Result cache hits by tier",
	}, []string{"tier"})
	CacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "siterisk_cache_misses_total",
		Help: "Result cache misses by tier",
	}, []string{"tier"})
)

func init() {
	prometheus.MustRegister(LayerQueriesTotal)
	prometheus.MustRegister(LayerQueryDuration)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(RateLimitedTotal)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
}

// ObserveLayerQuery records one layer query that started at start.
func ObserveLayerQuery(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	LayerQueriesTotal.WithLabelValues(operation, outcome).Inc()
	LayerQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ObserveHTTP records one served request.
func ObserveHTTP(route string, status int, d time.Duration) {
	HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// Handler exposes the default registry.
func Handler() http.Handler { return promhttp.Handler() }
