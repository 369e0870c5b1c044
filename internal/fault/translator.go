package fault

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

type slotKey struct{}

// slot holds the first fault reported for a request.
type slot struct {
	err error
}

// Report hands err to the translator stage serving r. When no translator is
// installed the envelope is written directly.
func Report(w http.ResponseWriter, r *http.Request, err error) {
	if s, ok := r.Context().Value(slotKey{}).(*slot); ok {
		if s.err == nil {
			s.err = err
		}
		return
	}
	WriteError(w, r.URL.Path, err)
}

// Translator converts reported faults and recovered panics into error
// envelopes. It is the only stage that writes gateway-generated errors.
type Translator struct {
	logger  *slog.Logger
	observe func(*Error)
}

// NewTranslator creates a translator. observe, if non-nil, is called once
// for every translated fault.
func NewTranslator(logger *slog.Logger, observe func(*Error)) *Translator {
	return &Translator{
		logger:  logger,
		observe: observe,
	}
}

// Middleware installs the translator around next.
func (t *Translator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cw := &commitWriter{ResponseWriter: w}
		s := &slot{}
		r = r.WithContext(context.WithValue(r.Context(), slotKey{}, s))

		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				t.logger.Error("Recovered panic in gateway pipeline",
					slog.String("path", r.URL.Path),
					slog.Any("panic", rec))
				if s.err == nil {
					s.err = New(KindUnclassified, "", fmt.Errorf("panic: %v", rec))
				}
			}

			if s.err != nil {
				t.translate(cw, r, s.err)
			}
		}()

		next.ServeHTTP(cw, r)
	})
}

func (t *Translator) translate(cw *commitWriter, r *http.Request, err error) {
	fe := AsError(err)

	if cw.committed {
		t.logger.Error("Fault after response was committed, closing connection",
			slog.String("path", r.URL.Path),
			slog.String("kind", fe.Kind.String()),
			slog.Any("err", err))
		panic(http.ErrAbortHandler)
	}

	logAttrs := []any{
		slog.String("path", r.URL.Path),
		slog.String("kind", fe.Kind.String()),
		slog.String("backend", fe.Backend),
	}
	if fe.Err != nil {
		logAttrs = append(logAttrs, slog.Any("err", fe.Err))
	}

	switch fe.Kind {
	case KindUnclassified:
		t.logger.Error("Unexpected gateway error", logAttrs...)
	default:
		t.logger.Warn("Gateway fault", logAttrs...)
	}

	WriteError(cw, r.URL.Path, fe)

	if t.observe != nil {
		t.observe(fe)
	}
}

// commitWriter records whether a final response status has been sent.
type commitWriter struct {
	http.ResponseWriter
	committed bool
}

func (c *commitWriter) WriteHeader(code int) {
	if code >= http.StatusOK || code == http.StatusSwitchingProtocols {
		c.committed = true
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *commitWriter) Write(b []byte) (int, error) {
	c.committed = true
	return c.ResponseWriter.Write(b)
}

func (c *commitWriter) Unwrap() http.ResponseWriter {
	return c.ResponseWriter
}
