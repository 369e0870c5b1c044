package fault

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// TimestampLayout is the local date-time layout of Envelope.Timestamp.
const TimestampLayout = "2006-01-02T15:04:05.000"

// Envelope is the uniform JSON body of every gateway-generated error.
type Envelope struct {
	Timestamp string `json:"timestamp"`
	Status    int    `json:"status"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
	Path      string `json:"path"`
}

// NewEnvelope builds the envelope for err raised while serving path.
func NewEnvelope(err error, path string, now time.Time) Envelope {
	kind := KindOf(err)
	status := kind.Status()

	return Envelope{
		Timestamp: now.Format(TimestampLayout),
		Status:    status,
		Error:     http.StatusText(status),
		Message:   kind.Message(),
		ErrorCode: kind.Code(),
		Path:      path,
	}
}

// WriteError writes the envelope for err to w.
func WriteError(w http.ResponseWriter, path string, err error) Envelope {
	env := NewEnvelope(err, path, time.Now())

	w.Header().Set("Content-Type", "application/json")
	w.Header().Del("Content-Length")
	w.WriteHeader(env.Status)
	_ = json.NewEncoder(w).Encode(env)

	return env
}

// AsError returns err as a gateway fault, wrapping foreign errors with
// their classified kind.
func AsError(err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return New(Classify(err), "", err)
}
