// Package metrics collects gateway metrics off the request path.
//
// Pipeline stages emit MetricEvents through a buffered channel with
// non-blocking sends; a single collector goroutine folds them into:
//   - Request and breaker rejection counts per backend
//   - Upstream response times with percentiles (P50, P95, P99)
//   - Status code and fault kind distributions
//   - Breaker state and instance health
//
// The same events feed an optional Exporter that publishes Prometheus
// collectors. The collector drains pending events on shutdown.
//
// Example usage:
//
//	exporter := metrics.NewExporter("edge")
//	collector := metrics.NewCollector(1000, exporter, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:       metrics.EventResponseCompleted,
//		Backend:    "flights",
//		Duration:   150 * time.Millisecond,
//		StatusCode: 200,
//	})
package metrics
