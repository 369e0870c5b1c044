// Package fault defines the gateway's fault taxonomy and translates faults
// into the uniform JSON error envelope.
//
// Inner pipeline stages call Report instead of writing error responses
// themselves. The Translator stage writes the envelope once, after the
// inner stages return, and only if nothing has been committed yet.
//
//	RouteNotFound     -> 503 SERVICE_UNAVAILABLE
//	CircuitOpen       -> 503 SERVICE_UNAVAILABLE
//	ConnectionFailure -> 503 CONNECTION_ERROR
//	Timeout           -> 504 TIMEOUT_ERROR
//	Unclassified      -> 500 INTERNAL_ERROR
package fault
