// Package metrics exposes Prometheus counters for the player: session
// lifecycle, playback commands, trace persistence, diagram rendering, flow
// reloads and retention sweeps. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	SessionsOpened   *prometheus.CounterVec
	SessionsActive   prometheus.Gauge
	CommandsTotal    *prometheus.CounterVec
	TraceEvents      *prometheus.CounterVec
	DiagramRenders   *prometheus.CounterVec
	FlowReloads      *prometheus.CounterVec
	RetentionDeleted prometheus.Counter

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates a Metrics on its own registry, with the Go runtime and process
// collectors attached.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		SessionsOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authflow_sessions_opened_total",
				Help: "Playback sessions opened",
			},
			[]string{"flow_id", "clock"},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "authflow_sessions_active",
				Help: "Playback sessions currently open",
			},
		),
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authflow_commands_total",
				Help: "Playback commands applied to sessions",
			},
			[]string{"command", "result"},
		),
		TraceEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authflow_trace_events_total",
				Help: "Debug events handled by session recorders",
			},
			[]string{"result"},
		),
		DiagramRenders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authflow_diagram_renders_total",
				Help: "Diagram requests by format and cache outcome",
			},
			[]string{"format", "cache"},
		),
		FlowReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authflow_flow_reloads_total",
				Help: "Flow documents reloaded from the flows directory",
			},
			[]string{"result"},
		),
		RetentionDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authflow_retention_deleted_sessions_total",
				Help: "Closed sessions deleted by the retention janitor",
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authflow_http_requests_total",
				Help: "HTTP requests served by the player",
			},
			[]string{"method", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authflow_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SessionsOpened,
		m.SessionsActive,
		m.CommandsTotal,
		m.TraceEvents,
		m.DiagramRenders,
		m.FlowReloads,
		m.RetentionDeleted,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionOpened counts a new session.
func (m *Metrics) SessionOpened(flowID string, virtual bool) {
	if m == nil {
		return
	}
	clock := "realtime"
	if virtual {
		clock = "virtual"
	}
	m.SessionsOpened.WithLabelValues(flowID, clock).Inc()
	m.SessionsActive.Inc()
}

// SessionClosed records a closed session and its recorder totals.
func (m *Metrics) SessionClosed(written, dropped uint64) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.TraceEvents.WithLabelValues("written").Add(float64(written))
	m.TraceEvents.WithLabelValues("dropped").Add(float64(dropped))
}

// Command counts a playback command by outcome.
func (m *Metrics) Command(name string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	m.CommandsTotal.WithLabelValues(name, result).Inc()
}

// DiagramRender counts a diagram request.
func (m *Metrics) DiagramRender(format string, cacheHit bool) {
	if m == nil {
		return
	}
	cache := "miss"
	if cacheHit {
		cache = "hit"
	}
	m.DiagramRenders.WithLabelValues(format, cache).Inc()
}

// FlowReload counts a flows directory change. result is "loaded", "removed"
// or "error".
func (m *Metrics) FlowReload(result string) {
	if m == nil {
		return
	}
	m.FlowReloads.WithLabelValues(result).Inc()
}

// Retention counts sessions deleted by one janitor sweep.
func (m *Metrics) Retention(deleted int) {
	if m == nil || deleted <= 0 {
		return
	}
	m.RetentionDeleted.Add(float64(deleted))
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streams working through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware instruments next with request counts and durations. Labels stay
// low-cardinality: paths are not recorded.
func Middleware(m *Metrics, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(sw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}
