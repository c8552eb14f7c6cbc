package observability

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus metrics of the service. It satisfies the
// metrics hooks declared by the query and guard packages.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	queryLookups    *prometheus.CounterVec
	queryFetches    *prometheus.CounterVec
	invalidations   *prometheus.CounterVec
	mutations       *prometheus.CounterVec
	guardDecisions  *prometheus.CounterVec
}

// NewMetrics initialises the registry and every collector.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "foreman_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "foreman_http_request_duration_seconds",
		Help:    "HTTP request latency per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "foreman_query_lookups_total",
		Help: "Query cache lookups by resource kind and result (hit, miss, disabled).",
	}, []string{"kind", "result"})
	fetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "foreman_query_fetches_total",
		Help: "Backend fetches by resource kind, split into leaders and joined waiters.",
	}, []string{"kind", "role"})
	invalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "foreman_query_invalidations_total",
		Help: "Cache entries marked stale by resource kind.",
	}, []string{"kind"})
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "foreman_mutations_total",
		Help: "Mutations by name and outcome.",
	}, []string{"mutation", "outcome"})
	guards := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "foreman_guard_decisions_total",
		Help: "Capability guard decisions by area and outcome.",
	}, []string{"area", "outcome"})
	registry.MustRegister(requests, duration, lookups, fetches, invalidations, mutations, guards)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		queryLookups:    lookups,
		queryFetches:    fetches,
		invalidations:   invalidations,
		mutations:       mutations,
		guardDecisions:  guards,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for job metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// QueryLookup counts a cache lookup.
func (m *Metrics) QueryLookup(kind, result string) {
	if m == nil {
		return
	}
	m.queryLookups.WithLabelValues(kind, result).Inc()
}

// QueryFetch counts a backend fetch; joined is true for callers that waited
// on a fetch already in flight.
func (m *Metrics) QueryFetch(kind string, joined bool) {
	if m == nil {
		return
	}
	role := "leader"
	if joined {
		role = "joined"
	}
	m.queryFetches.WithLabelValues(kind, role).Inc()
}

// QueryInvalidated counts entries marked stale.
func (m *Metrics) QueryInvalidated(kind string, entries int) {
	if m == nil || entries == 0 {
		return
	}
	m.invalidations.WithLabelValues(kind).Add(float64(entries))
}

// MutationDone counts a finished mutation.
func (m *Metrics) MutationDone(name string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.mutations.WithLabelValues(name, outcome).Inc()
}

// GuardDecision counts a settled guard decision.
func (m *Metrics) GuardDecision(area, outcome string) {
	if m == nil {
		return
	}
	m.guardDecisions.WithLabelValues(area, outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("observability: response writer cannot hijack")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
