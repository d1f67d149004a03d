// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements the observer interfaces of the calibre gateway and
// the cover cache and records HTTP and login outcomes.
type Collector struct {
	toolCalls    *prometheus.CounterVec
	toolLatency  *prometheus.HistogramVec
	coverLookups *prometheus.CounterVec
	httpStatus   *prometheus.CounterVec
	logins       *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foxtales_calibredb_calls_total",
			Help: "calibredb invocations by subcommand and outcome.",
		}, []string{"command", "outcome"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "foxtales_calibredb_duration_seconds",
			Help:    "calibredb invocation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),
		coverLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foxtales_cover_cache_lookups_total",
			Help: "Cover cache lookups by result.",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foxtales_http_responses_total",
			Help: "HTTP responses by status code.",
		}, []string{"status_code"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foxtales_logins_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.toolCalls,
		c.toolLatency,
		c.coverLookups,
		c.httpStatus,
		c.logins,
	)

	return c
}

// ObserveTool records one calibredb invocation.
func (c *Collector) ObserveTool(command string, took time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.toolCalls.WithLabelValues(command, outcome).Inc()
	c.toolLatency.WithLabelValues(command).Observe(took.Seconds())
}

// ObserveCache records a cover cache lookup.
func (c *Collector) ObserveCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.coverLookups.WithLabelValues(result).Inc()
}

// RecordLogin records a login attempt. outcome is e.g. "success",
// "rejected" or "limited".
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordHTTPStatus records one HTTP response.
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Middleware records the status code of every response.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.RecordHTTPStatus(status)
	})
}

// Handler returns the HTTP handler for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
