package cors

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Options mirror the gateway's cors configuration section.
type Options struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// Middleware answers preflight requests and decorates responses to
// allowed origins.
type Middleware struct {
	allowedOrigins []string
	allowAll       bool
	methods        string
	headers        string
	anyHeader      bool
	exposed        string
	credentials    bool
	maxAge         string
}

func New(opts Options) *Middleware {
	m := &Middleware{
		allowedOrigins: opts.AllowedOrigins,
		allowAll:       slices.Contains(opts.AllowedOrigins, "*"),
		methods:        strings.Join(opts.AllowedMethods, ", "),
		anyHeader:      slices.Contains(opts.AllowedHeaders, "*"),
		headers:        strings.Join(opts.AllowedHeaders, ", "),
		exposed:        strings.Join(opts.ExposedHeaders, ", "),
		credentials:    opts.AllowCredentials,
	}
	if opts.MaxAge > 0 {
		m.maxAge = strconv.Itoa(int(opts.MaxAge.Seconds()))
	}
	return m
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Add("Vary", "Origin")
		allowed := m.isOriginAllowed(origin)
		preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

		if preflight {
			w.Header().Add("Vary", "Access-Control-Request-Method")
			w.Header().Add("Vary", "Access-Control-Request-Headers")
			if !allowed {
				http.Error(w, "Invalid CORS request", http.StatusForbidden)
				return
			}
			m.setAllowOrigin(w, origin)
			w.Header().Set("Access-Control-Allow-Methods", m.methods)
			if m.anyHeader {
				if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
					w.Header().Set("Access-Control-Allow-Headers", requested)
				}
			} else if m.headers != "" {
				w.Header().Set("Access-Control-Allow-Headers", m.headers)
			}
			if m.maxAge != "" {
				w.Header().Set("Access-Control-Max-Age", m.maxAge)
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if allowed {
			m.setAllowOrigin(w, origin)
			if m.exposed != "" {
				w.Header().Set("Access-Control-Expose-Headers", m.exposed)
			}
		}

		next.ServeHTTP(w, r)
	})
}

// setAllowOrigin echoes the origin; credentials rule out the "*" wildcard.
func (m *Middleware) setAllowOrigin(w http.ResponseWriter, origin string) {
	if m.allowAll && !m.credentials {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}
	if m.credentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
}

func (m *Middleware) isOriginAllowed(origin string) bool {
	return m.allowAll || slices.Contains(m.allowedOrigins, origin)
}
