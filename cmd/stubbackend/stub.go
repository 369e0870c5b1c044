package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	ModeOK   = "ok"
	ModeFail = "fail"
	ModeSlow = "slow"
)

// Echo is the body returned for every proxied call.
type Echo struct {
	ID            string `json:"id"`
	Backend       string `json:"backend"`
	Method        string `json:"method"`
	Path          string `json:"path"`
	RequestID     string `json:"requestId,omitempty"`
	Authenticated bool   `json:"authenticated"`
	Body          string `json:"body,omitempty"`
}

// Stub is a backend whose behaviour can be switched at runtime.
type Stub struct {
	name   string
	delay  time.Duration
	logger *slog.Logger

	mutex sync.RWMutex
	mode  string
}

func NewStub(name, mode string, delay time.Duration, logger *slog.Logger) (*Stub, error) {
	s := &Stub{name: name, delay: delay, logger: logger}
	if err := s.setMode(mode); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Stub) Mode() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.mode
}

func (s *Stub) setMode(mode string) error {
	switch mode {
	case ModeOK, ModeFail, ModeSlow:
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}

	s.mutex.Lock()
	s.mode = mode
	s.mutex.Unlock()
	return nil
}

func (s *Stub) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/_stub", func(w http.ResponseWriter, r *http.Request) {
		if err := s.setMode(r.URL.Query().Get("mode")); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Info("Mode changed", slog.String("mode", s.Mode()))
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/actuator/health", func(w http.ResponseWriter, r *http.Request) {
		status, code := "UP", http.StatusOK
		if s.Mode() == ModeFail {
			status, code = "DOWN", http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]string{"status": status})
	})

	r.HandleFunc("/*", s.echo)

	return r
}

func (s *Stub) echo(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.logger.Info("Request",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("from", r.RemoteAddr))

	switch s.Mode() {
	case ModeFail:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "stub failure"})
		return
	case ModeSlow:
		if !s.stall(r) {
			return
		}
	}

	writeJSON(w, http.StatusOK, Echo{
		ID:            uuid.NewString(),
		Backend:       s.name,
		Method:        r.Method,
		Path:          r.URL.Path,
		RequestID:     r.Header.Get("X-Request-ID"),
		Authenticated: r.Header.Get("Authorization") != "",
		Body:          string(body),
	})
}

// stall waits out the configured delay, or until the caller gives up when
// no delay is set. It reports whether the caller is still there.
func (s *Stub) stall(r *http.Request) bool {
	if s.delay <= 0 {
		<-r.Context().Done()
		return false
	}

	select {
	case <-time.After(s.delay):
		return true
	case <-r.Context().Done():
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
