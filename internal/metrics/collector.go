package metrics

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventRequestReceived   EventType = "request_received"
	EventResponseCompleted EventType = "response_completed"
	EventBreakerTransition EventType = "breaker_transition"
	EventBreakerRejected   EventType = "breaker_rejected"
	EventFault             EventType = "fault"
	EventHealthChanged     EventType = "health_changed"
)

// MetricEvent is one observation from the request path. Backend is the
// logical backend name; Instance is set for instance-level events.
type MetricEvent struct {
	Type       EventType
	Timestamp  time.Time
	Backend    string
	Instance   string
	Duration   time.Duration
	StatusCode int
	Healthy    bool
	State      string
	FaultKind  string
}

// Collector consumes events on its own goroutine so the request path never
// blocks on bookkeeping.
type Collector struct {
	eventCh  chan MetricEvent
	metrics  *Metrics
	exporter *Exporter
	logger   *slog.Logger
	done     chan struct{}
}

// NewCollector creates a collector. exporter may be nil when Prometheus
// export is not wanted.
func NewCollector(bufferSize int, exporter *Exporter, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh:  make(chan MetricEvent, bufferSize),
		metrics:  NewMetrics(),
		exporter: exporter,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

func (c *Collector) EventChannel() chan<- MetricEvent {
	return c.eventCh
}

// Emit queues an event without blocking. Events are dropped when the
// buffer is full.
func (c *Collector) Emit(event MetricEvent) {
	if c == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
		c.logger.Debug("Metrics buffer full, dropping event", slog.String("type", string(event.Type)))
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

// Done is closed once the collector has drained and stopped.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")
	defer close(c.done)

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventRequestReceived:
		c.metrics.IncrementRequests(event.Backend)

	case EventResponseCompleted:
		c.metrics.RecordResponse(event.Backend, event.Duration, event.StatusCode)

	case EventBreakerTransition:
		c.metrics.RecordBreakerState(event.Backend, event.State)

	case EventBreakerRejected:
		c.metrics.IncrementRejections(event.Backend)

	case EventFault:
		c.metrics.RecordFault(event.Backend, event.FaultKind)

	case EventHealthChanged:
		c.metrics.UpdateHealthStatus(event.Backend, event.Instance, event.Healthy)
	}

	c.exporter.Observe(event)
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}
