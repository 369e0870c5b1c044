package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// breakerStateValues encodes breaker states for the state gauge.
var breakerStateValues = map[string]float64{
	"CLOSED":    0,
	"OPEN":      1,
	"HALF-OPEN": 2,
}

// Exporter mirrors collector events into Prometheus collectors on a
// private registry.
type Exporter struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	responses    *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	rejections   *prometheus.CounterVec
	faults       *prometheus.CounterVec
	breakerState *prometheus.GaugeVec
	transitions  *prometheus.CounterVec
	instanceUp   *prometheus.GaugeVec
}

func NewExporter(namespace string) *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Requests resolved to a backend.",
		}, []string{"backend"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "responses_total",
			Help:      "Backend responses relayed to callers, by status code.",
		}, []string{"backend", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "upstream_duration_seconds",
			Help:      "Time from forwarding a request to the end of the backend response.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}, []string{"backend"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "rejections_total",
			Help:      "Requests rejected by an open circuit breaker.",
		}, []string{"backend"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "faults_total",
			Help:      "Gateway error responses, by fault kind.",
		}, []string{"backend", "kind"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "state",
			Help:      "Breaker state: 0 closed, 1 open, 2 half-open.",
		}, []string{"backend"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "transitions_total",
			Help:      "Breaker state transitions, by target state.",
		}, []string{"backend", "state"}),
		instanceUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "healthy",
			Help:      "1 if the instance passed its last health check.",
		}, []string{"backend", "instance"}),
	}

	e.registry.MustRegister(
		e.requests,
		e.responses,
		e.duration,
		e.rejections,
		e.faults,
		e.breakerState,
		e.transitions,
		e.instanceUp,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	return e
}

// Registry exposes the underlying registry, mainly for tests.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry in the Prometheus text format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Observe applies one event. A nil exporter ignores events.
func (e *Exporter) Observe(event MetricEvent) {
	if e == nil {
		return
	}

	switch event.Type {
	case EventRequestReceived:
		e.requests.WithLabelValues(event.Backend).Inc()

	case EventResponseCompleted:
		e.responses.WithLabelValues(event.Backend, strconv.Itoa(event.StatusCode)).Inc()
		e.duration.WithLabelValues(event.Backend).Observe(event.Duration.Seconds())

	case EventBreakerRejected:
		e.rejections.WithLabelValues(event.Backend).Inc()

	case EventFault:
		e.faults.WithLabelValues(event.Backend, event.FaultKind).Inc()

	case EventBreakerTransition:
		if v, ok := breakerStateValues[event.State]; ok {
			e.breakerState.WithLabelValues(event.Backend).Set(v)
		}
		e.transitions.WithLabelValues(event.Backend, event.State).Inc()

	case EventHealthChanged:
		up := 0.0
		if event.Healthy {
			up = 1
		}
		e.instanceUp.WithLabelValues(event.Backend, event.Instance).Set(up)
	}
}
