// Package metrics exposes Prometheus collectors for location evaluation
// cycles, attendance gate outcomes and the HTTP surface.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"attendance-backend/internal/attendance"
	"attendance-backend/internal/location"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the service metrics. It satisfies location.CycleRecorder
// and attendance.OutcomeRecorder.
type Collector struct {
	gatherer prometheus.Gatherer

	Cycles           *prometheus.CounterVec
	CycleDurations   *prometheus.HistogramVec
	CyclesSuperseded prometheus.Counter
	GateAttempts     *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDurations    *prometheus.HistogramVec
	ActiveEngines    prometheus.Gauge
	WebsocketClients prometheus.Gauge
}

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	cycles, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "location_cycles_total",
		Help: "Completed location evaluation cycles, labeled by resulting status.",
	}, []string{"status"}), "location_cycles_total")
	if err != nil {
		return nil, err
	}
	cycleDurations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "location_cycle_duration_seconds",
		Help:    "Duration of completed location evaluation cycles.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"status"}), "location_cycle_duration_seconds")
	if err != nil {
		return nil, err
	}
	superseded, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "location_cycles_superseded_total",
		Help: "Evaluation cycles whose result was discarded because a newer cycle was triggered.",
	}), "location_cycles_superseded_total")
	if err != nil {
		return nil, err
	}
	gate, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_gate_attempts_total",
		Help: "Check-in and check-out attempts, labeled by action and result.",
	}, []string{"action", "result"}), "attendance_gate_attempts_total")
	if err != nil {
		return nil, err
	}
	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Handled HTTP requests, labeled by method, route and status code.",
	}, []string{"method", "route", "code"}), "http_requests_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"}), "http_request_duration_seconds")
	if err != nil {
		return nil, err
	}
	engines, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "location_engines_active",
		Help: "Employees with a live location engine.",
	}), "location_engines_active")
	if err != nil {
		return nil, err
	}
	clients, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_clients_connected",
		Help: "Currently connected websocket clients.",
	}), "websocket_clients_connected")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:         gatherer,
		Cycles:           cycles,
		CycleDurations:   cycleDurations,
		CyclesSuperseded: superseded,
		GateAttempts:     gate,
		HTTPRequests:     requests,
		HTTPDurations:    durations,
		ActiveEngines:    engines,
		WebsocketClients: clients,
	}, nil
}

// CycleCompleted implements location.CycleRecorder.
func (c *Collector) CycleCompleted(status location.Status, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.Cycles.WithLabelValues(status.String()).Inc()
	c.CycleDurations.WithLabelValues(status.String()).Observe(elapsed.Seconds())
}

// CycleSuperseded implements location.CycleRecorder.
func (c *Collector) CycleSuperseded() {
	if c == nil {
		return
	}
	c.CyclesSuperseded.Inc()
}

// GateAttempt implements attendance.OutcomeRecorder.
func (c *Collector) GateAttempt(action attendance.Action, result string) {
	if c == nil {
		return
	}
	c.GateAttempts.WithLabelValues(string(action), result).Inc()
}

// SetActiveEngines reports the number of live per-employee engines.
func (c *Collector) SetActiveEngines(n int) {
	if c == nil {
		return
	}
	c.ActiveEngines.Set(float64(n))
}

// SetWebsocketClients reports the number of connected websocket clients.
func (c *Collector) SetWebsocketClients(n int) {
	if c == nil {
		return
	}
	c.WebsocketClients.Set(float64(n))
}

// Middleware records request counts and latency labeled by chi route pattern.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		c.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(code)).Inc()
		c.HTTPDurations.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
