// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	searchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prospector_searches_total",
			Help: "Search executions by outcome",
		},
		[]string{"outcome"},
	)

	prospectsSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prospector_search_prospects_total",
			Help: "Prospects attached to search sessions by source",
		},
		[]string{"source"},
	)

	upstreamCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prospector_upstream_calls_total",
			Help: "Calls to external providers by service and outcome",
		},
		[]string{"service", "outcome"},
	)

	enrichmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prospector_enrichments_total",
			Help: "Enrichment runs by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	leadsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prospector_leads_created_total",
			Help: "Leads created from converted prospects",
		},
	)

	demoViews = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prospector_demo_views_total",
			Help: "Public demo page views",
		},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prospector_notifications_total",
			Help: "Notification deliveries by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// Hijack passes the websocket upgrade through to the underlying writer.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Middleware records request counts and latency labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// RecordSearch counts one search execution. outcome is ok, degraded or
// quota_exceeded.
func RecordSearch(outcome string, cached, fetched int) {
	searchesTotal.WithLabelValues(outcome).Inc()
	prospectsSaved.WithLabelValues("cache").Add(float64(cached))
	prospectsSaved.WithLabelValues("directory").Add(float64(fetched))
}

// RecordUpstream counts one guarded call to an external provider.
func RecordUpstream(service string, err error) {
	upstreamCalls.WithLabelValues(service, outcome(err)).Inc()
}

// RecordEnrichment counts one enrichment stage run.
func RecordEnrichment(stage string, err error) {
	enrichmentsTotal.WithLabelValues(stage, outcome(err)).Inc()
}

// RecordLeadCreated counts a newly created lead.
func RecordLeadCreated() { leadsCreated.Inc() }

// RecordDemoView counts one public demo view.
func RecordDemoView() { demoViews.Inc() }

// RecordNotification counts one delivery attempt on a channel.
func RecordNotification(channel string, err error) {
	notificationsTotal.WithLabelValues(channel, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
