// Package circuitbreaker implements per-backend circuit breaking for the gateway.
//
// A circuit breaker stops forwarding to a backend after repeated failed
// dispatches and periodically lets trial requests through to test recovery.
// It has three states:
//
//   - CLOSED: Normal operation, requests pass through
//   - OPEN: Backend failing, requests rejected without a network call
//   - HALF-OPEN: Recovery timeout elapsed, a bounded number of trials admitted
//
// Breakers are keyed by logical backend name and created lazily. Each one
// has its own lock, so traffic to unrelated backends never contends.
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(circuitbreaker.DefaultSettings())
//	if !registry.Admit("flights") {
//	    // reject with 503
//	}
//	resp, err := forward(req)
//	registry.RecordOutcome("flights", err == nil)
//
// A request that ends without an outcome hands its slot back with the
// receipt from AdmitRequest:
//
//	adm, ok := registry.AdmitRequest("flights")
//	...
//	registry.Release("flights", adm)
package circuitbreaker
