package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// Kind is the closed set of reasons a dispatch can fail.
type Kind int

const (
	KindUnclassified Kind = iota
	KindRouteNotFound
	KindCircuitOpen
	KindConnectionFailure
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindRouteNotFound:
		return "ROUTE_NOT_FOUND"
	case KindCircuitOpen:
		return "CIRCUIT_OPEN"
	case KindConnectionFailure:
		return "CONNECTION_FAILURE"
	case KindTimeout:
		return "TIMEOUT"
	default:
		return "UNCLASSIFIED"
	}
}

// Status returns the HTTP status a fault of this kind is reported with.
func (k Kind) Status() int {
	switch k {
	case KindRouteNotFound, KindCircuitOpen, KindConnectionFailure:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the errorCode carried in the error envelope.
func (k Kind) Code() string {
	switch k {
	case KindRouteNotFound, KindCircuitOpen:
		return "SERVICE_UNAVAILABLE"
	case KindConnectionFailure:
		return "CONNECTION_ERROR"
	case KindTimeout:
		return "TIMEOUT_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

// Message returns the caller-facing message for the kind.
func (k Kind) Message() string {
	switch k {
	case KindRouteNotFound:
		return "Service is currently unavailable. Please try again later."
	case KindCircuitOpen:
		return "Service temporarily unavailable. Circuit breaker is open."
	case KindConnectionFailure:
		return "Unable to connect to the requested service. The service may be down."
	case KindTimeout:
		return "Request timeout. The service took too long to respond."
	default:
		return "An unexpected error occurred. Please try again later."
	}
}

// Error is a gateway fault. Err holds the underlying cause, if any.
type Error struct {
	Kind    Kind
	Backend string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Backend != "" && e.Err != nil:
		return fmt.Sprintf("%s (backend %s): %v", e.Kind, e.Backend, e.Err)
	case e.Backend != "":
		return fmt.Sprintf("%s (backend %s)", e.Kind, e.Backend)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a fault of the given kind.
func New(kind Kind, backend string, err error) *Error {
	return &Error{Kind: kind, Backend: backend, Err: err}
}

// KindOf returns the kind of err. Errors that are not gateway faults are
// classified by Classify.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Classify(err)
}

// Classify maps a transport-level error from an upstream call to a fault kind.
func Classify(err error) Kind {
	if err == nil {
		return KindUnclassified
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindConnectionFailure
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return KindConnectionFailure
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return KindConnectionFailure
	}

	return KindUnclassified
}
