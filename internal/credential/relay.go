package credential

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

type tokenKey struct{}

// Relay forwards bearer credentials to backends. It never rejects a
// request: missing credentials on protected paths are logged and the
// request proceeds, leaving enforcement to the backends.
type Relay struct {
	openPaths []string
	logger    *slog.Logger
}

func NewRelay(openPaths []string, logger *slog.Logger) *Relay {
	return &Relay{
		openPaths: append([]string(nil), openPaths...),
		logger:    logger,
	}
}

// IsOpen reports whether a path is exempt from credential expectations.
// A path is open when it contains any allow-listed entry.
func (rl *Relay) IsOpen(path string) bool {
	for _, open := range rl.openPaths {
		if strings.Contains(path, open) {
			return true
		}
	}
	return false
}

func (rl *Relay) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		token, ok := bearerToken(r)

		switch {
		case ok:
			rl.logger.Debug("Bearer credential found", slog.String("path", path))
			r = r.WithContext(context.WithValue(r.Context(), tokenKey{}, token))
		case rl.IsOpen(path):
			rl.logger.Debug("Open endpoint, credential not expected", slog.String("path", path))
		default:
			// TODO: reject with 401 once backends agree on gateway-level enforcement.
			rl.logger.Warn("No bearer credential on protected endpoint", slog.String("path", path))
		}

		next.ServeHTTP(w, r)
	})
}

// FromContext returns the bearer token the relay captured, if any.
func FromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenKey{}).(string)
	return token, ok && token != ""
}

// Forward puts the captured bearer credential from ctx onto an outgoing
// request unchanged. Bearer headers cloned from the inbound request are
// dropped first, so only a credential seen by the relay reaches a backend.
// Other authorization schemes pass through.
func Forward(ctx context.Context, out *http.Request) {
	if strings.HasPrefix(out.Header.Get("Authorization"), bearerPrefix) {
		out.Header.Del("Authorization")
	}
	if token, ok := FromContext(ctx); ok {
		out.Header.Set("Authorization", bearerPrefix+token)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	token := strings.TrimPrefix(header, bearerPrefix)
	return token, token != ""
}
