package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result constants for metric labels.
const (
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultForbidden = "forbidden"
	ResultLimited   = "rate_limited"
	ResultMissing   = "missing"
	ResultInfra     = "store_unavailable"
)

// Auth holds the Prometheus collectors emitted by the auth service.
// A nil *Auth is valid and drops every observation.
type Auth struct {
	registry prometheus.Gatherer

	logins          *prometheus.CounterVec
	sessionLookups  *prometheus.CounterVec
	guardDecisions  *prometheus.CounterVec
	portalSwitches  *prometheus.CounterVec
	httpInFlight    prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpRequestTime *prometheus.HistogramVec
}

// New creates the collectors and registers them on a private registry.
func New() *Auth {
	reg := prometheus.NewRegistry()
	m := &Auth{
		registry: reg,
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_auth_logins_total",
			Help: "Login attempts by method and result.",
		}, []string{"method", "result"}),
		sessionLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_auth_session_lookups_total",
			Help: "Session lookups by result.",
		}, []string{"result"}),
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_auth_guard_decisions_total",
			Help: "Server-side guard decisions by portal and outcome.",
		}, []string{"portal", "result"}),
		portalSwitches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_auth_portal_switches_total",
			Help: "Portal switch requests by target and result.",
		}, []string{"portal", "result"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpRequestTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
	reg.MustRegister(
		m.logins, m.sessionLookups, m.guardDecisions, m.portalSwitches,
		m.httpInFlight, m.httpRequests, m.httpRequestTime,
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Auth) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Login records a login attempt.
func (m *Auth) Login(method, result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(method, result).Inc()
}

// SessionLookup records a session resolution outcome.
func (m *Auth) SessionLookup(result string) {
	if m == nil {
		return
	}
	m.sessionLookups.WithLabelValues(result).Inc()
}

// GuardDecision records a server-side guard outcome for portal.
func (m *Auth) GuardDecision(portal, result string) {
	if m == nil {
		return
	}
	m.guardDecisions.WithLabelValues(portal, result).Inc()
}

// PortalSwitch records a portal switch request.
func (m *Auth) PortalSwitch(portal, result string) {
	if m == nil {
		return
	}
	m.portalSwitches.WithLabelValues(portal, result).Inc()
}

// Instrument wraps next with request count, latency and in-flight metrics.
// Paths are labelled by the matched route pattern to keep cardinality bounded.
func (m *Auth) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(sw.code)
		m.httpRequestTime.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(r.Method, path, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
