// Package dispatcher forwards requests to backends.
//
// For each request the dispatcher resolves the route, asks the backend's
// circuit breaker for admission and, when admitted, proxies the request
// with the route's rewritten path under a bounded timeout. Any response
// received from the backend is a successful dispatch and is passed through
// verbatim. Transport errors are failed dispatches and are reported to the
// fault translator. A request whose caller disconnected first records
// nothing.
package dispatcher
