package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/angeloszaimis/edge-gateway/internal/backend"
	"github.com/angeloszaimis/edge-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/edge-gateway/internal/credential"
	"github.com/angeloszaimis/edge-gateway/internal/fault"
	"github.com/angeloszaimis/edge-gateway/internal/loadbalancer"
	"github.com/angeloszaimis/edge-gateway/internal/metrics"
	"github.com/angeloszaimis/edge-gateway/internal/route"
)

// BackendHeader names the instance that produced a proxied response.
const BackendHeader = "X-Backend-Server"

const defaultForwardTimeout = 30 * time.Second

// Options tune forwarding. Zero values select defaults.
type Options struct {
	ForwardTimeout time.Duration
	// TripOnServerError counts 5xx responses as failed dispatches.
	TripOnServerError bool
	Transport         http.RoundTripper
}

// Dispatcher is the terminal pipeline stage: it resolves the route, asks
// the breaker for admission, forwards the request and records the outcome.
type Dispatcher struct {
	logger    *slog.Logger
	routes    *route.Table
	pools     *loadbalancer.Pools
	breakers  *circuitbreaker.Registry
	collector *metrics.Collector
	proxy     *httputil.ReverseProxy

	forwardTimeout    time.Duration
	tripOnServerError bool
}

type exchangeKey struct{}

// exchange carries per-request forwarding state through the shared proxy.
type exchange struct {
	backend   string
	admission circuitbreaker.Admission
	target    *url.URL
	path      string
	responded bool
	status    int
	err       error
	// bodyErr is a read failure while streaming an already committed response.
	bodyErr error
}

// watchedBody records a failed upstream body read on the exchange.
type watchedBody struct {
	io.ReadCloser
	ex *exchange
}

func (b *watchedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && err != io.EOF && b.ex.bodyErr == nil {
		b.ex.bodyErr = err
	}
	return n, err
}

func New(logger *slog.Logger, routes *route.Table, pools *loadbalancer.Pools, breakers *circuitbreaker.Registry, collector *metrics.Collector, opts Options) *Dispatcher {
	if opts.ForwardTimeout <= 0 {
		opts.ForwardTimeout = defaultForwardTimeout
	}
	if opts.Transport == nil {
		opts.Transport = NewTransport(TransportOptions{})
	}

	d := &Dispatcher{
		logger:            logger,
		routes:            routes,
		pools:             pools,
		breakers:          breakers,
		collector:         collector,
		forwardTimeout:    opts.ForwardTimeout,
		tripOnServerError: opts.TripOnServerError,
	}

	d.proxy = &httputil.ReverseProxy{
		Rewrite:        d.rewrite,
		Transport:      opts.Transport,
		ModifyResponse: d.modifyResponse,
		ErrorHandler:   d.recordError,
		ErrorLog:       slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	return d
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	entry, err := d.routes.Resolve(r.URL.Path)
	if err != nil {
		d.logger.Warn("No route for path", slog.String("path", r.URL.Path))
		fault.Report(w, r, fault.New(fault.KindRouteNotFound, "", err))
		return
	}

	name := entry.Backend
	d.collector.Emit(metrics.MetricEvent{
		Type:      metrics.EventRequestReceived,
		Timestamp: time.Now(),
		Backend:   name,
	})

	adm, admitted := d.breakers.AdmitRequest(name)
	if !admitted {
		d.logger.Warn("Circuit open, rejecting request",
			slog.String("backend", name),
			slog.String("path", r.URL.Path))
		d.collector.Emit(metrics.MetricEvent{
			Type:      metrics.EventBreakerRejected,
			Timestamp: time.Now(),
			Backend:   name,
		})
		fault.Report(w, r, fault.New(fault.KindCircuitOpen, name, nil))
		return
	}

	target, inst, err := d.selectTarget(entry, r)
	if err != nil {
		d.breakers.Release(name, adm)
		d.logger.Warn("No target available",
			slog.String("backend", name),
			slog.Any("err", err))
		fault.Report(w, r, fault.New(fault.KindRouteNotFound, name, err))
		return
	}
	if inst != nil {
		defer inst.Release()
	}

	ex := &exchange{
		backend:   name,
		admission: adm,
		target:  target,
		path:    entry.ForwardPath(r.URL.Path),
	}

	ctx, cancel := context.WithTimeout(r.Context(), d.forwardTimeout)
	defer cancel()
	outReq := r.WithContext(context.WithValue(ctx, exchangeKey{}, ex))

	d.logger.Debug("Forwarding request",
		slog.String("route", entry.ID),
		slog.String("backend", name),
		slog.String("target", target.String()),
		slog.String("path", r.URL.Path),
		slog.String("forward_path", ex.path))

	start := time.Now()
	defer func() {
		d.settle(w, r, ex, inst, time.Since(start))
	}()

	d.proxy.ServeHTTP(w, outReq)
}

// settle feeds the dispatch outcome to the breaker and reports faults.
func (d *Dispatcher) settle(w http.ResponseWriter, r *http.Request, ex *exchange, inst *backend.Instance, elapsed time.Duration) {
	switch {
	case ex.responded:
		succeeded := !(d.tripOnServerError && ex.status >= http.StatusInternalServerError)
		if ex.bodyErr != nil && r.Context().Err() == nil {
			// Headers are already out, so the fault is recorded but not written.
			succeeded = false
			kind := fault.Classify(ex.bodyErr)
			d.logger.Warn("Upstream failed mid-response",
				slog.String("backend", ex.backend),
				slog.String("kind", kind.String()),
				slog.Any("err", ex.bodyErr))
			d.collector.Emit(metrics.MetricEvent{
				Type:      metrics.EventFault,
				Timestamp: time.Now(),
				Backend:   ex.backend,
				FaultKind: kind.String(),
			})
		}
		d.breakers.RecordOutcome(ex.backend, succeeded)
		if inst != nil {
			inst.RecordResponse(elapsed)
		}
		d.collector.Emit(metrics.MetricEvent{
			Type:       metrics.EventResponseCompleted,
			Timestamp:  time.Now(),
			Backend:    ex.backend,
			Duration:   elapsed,
			StatusCode: ex.status,
		})

	case r.Context().Err() != nil:
		// Caller went away before an outcome was known.
		d.breakers.Release(ex.backend, ex.admission)
		d.logger.Debug("Caller cancelled request",
			slog.String("backend", ex.backend),
			slog.String("path", r.URL.Path))

	case ex.err != nil:
		d.breakers.RecordOutcome(ex.backend, false)
		fault.Report(w, r, fault.New(fault.Classify(ex.err), ex.backend, ex.err))

	default:
		// The proxy neither responded nor failed; treat as unclassified.
		d.breakers.Release(ex.backend, ex.admission)
		fault.Report(w, r, fault.New(fault.KindUnclassified, ex.backend, errors.New("no upstream outcome")))
	}
}

func (d *Dispatcher) selectTarget(entry route.Entry, r *http.Request) (*url.URL, *backend.Instance, error) {
	if !entry.LoadBalanced() {
		return entry.Target, nil, nil
	}

	pool, ok := d.pools.Get(entry.Target.Host)
	if !ok {
		return nil, nil, fmt.Errorf("backend pool %q is not configured", entry.Target.Host)
	}

	inst, err := pool.Reserve(clientIP(r))
	if err != nil {
		return nil, nil, err
	}

	return inst.URL(), inst, nil
}

func (d *Dispatcher) rewrite(pr *httputil.ProxyRequest) {
	ex := pr.In.Context().Value(exchangeKey{}).(*exchange)

	pr.Out.URL.Path = ex.path
	pr.Out.URL.RawPath = ""
	pr.SetURL(ex.target)
	pr.SetXForwarded()
	credential.Forward(pr.In.Context(), pr.Out)
}

func (d *Dispatcher) modifyResponse(res *http.Response) error {
	ex := res.Request.Context().Value(exchangeKey{}).(*exchange)
	ex.responded = true
	ex.status = res.StatusCode
	if res.StatusCode != http.StatusSwitchingProtocols {
		res.Body = &watchedBody{ReadCloser: res.Body, ex: ex}
	}

	// CORS is answered by the gateway, not the backends.
	res.Header.Del("Access-Control-Allow-Origin")
	res.Header.Del("Access-Control-Allow-Credentials")
	res.Header.Set(BackendHeader, ex.target.String())
	return nil
}

func (d *Dispatcher) recordError(_ http.ResponseWriter, r *http.Request, err error) {
	ex := r.Context().Value(exchangeKey{}).(*exchange)
	ex.err = err
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
