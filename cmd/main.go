package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/angeloszaimis/edge-gateway/config"
	"github.com/angeloszaimis/edge-gateway/internal/accesslog"
	"github.com/angeloszaimis/edge-gateway/internal/backend"
	"github.com/angeloszaimis/edge-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/edge-gateway/internal/cors"
	"github.com/angeloszaimis/edge-gateway/internal/credential"
	"github.com/angeloszaimis/edge-gateway/internal/dispatcher"
	"github.com/angeloszaimis/edge-gateway/internal/fault"
	"github.com/angeloszaimis/edge-gateway/internal/gateway"
	"github.com/angeloszaimis/edge-gateway/internal/healthcheck"
	"github.com/angeloszaimis/edge-gateway/internal/httpserver"
	"github.com/angeloszaimis/edge-gateway/internal/loadbalancer"
	"github.com/angeloszaimis/edge-gateway/internal/metrics"
	"github.com/angeloszaimis/edge-gateway/internal/route"
	"github.com/angeloszaimis/edge-gateway/internal/strategy"
	"github.com/angeloszaimis/edge-gateway/pkg/logger"
)

const metricsBufferSize = 1000

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.AddSource, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Gateway stopped with error", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	table, err := buildRouteTable(cfg.Routes)
	if err != nil {
		return fmt.Errorf("build route table: %w", err)
	}

	pools, err := buildPools(cfg.Backends)
	if err != nil {
		return fmt.Errorf("build backend pools: %w", err)
	}

	exporter := metrics.NewExporter("gateway")
	collectorCtx, stopCollector := context.WithCancel(context.Background())
	collector := metrics.NewCollector(metricsBufferSize, exporter, log)
	collector.Start(collectorCtx)
	defer func() {
		stopCollector()
		<-collector.Done()
	}()

	breakers := circuitbreaker.NewRegistry(breakerSettings(cfg.Gateway.CircuitBreaker),
		circuitbreaker.WithTransitionHook(func(name string, from, to circuitbreaker.State) {
			log.Warn("Circuit breaker state changed",
				slog.String("backend", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			collector.Emit(metrics.MetricEvent{
				Type:    metrics.EventBreakerTransition,
				Backend: name,
				State:   to.String(),
			})
		}))

	disp := dispatcher.New(log, table, pools, breakers, collector, dispatcher.Options{
		ForwardTimeout:    cfg.Gateway.ForwardTimeoutDuration(),
		TripOnServerError: cfg.Gateway.TripOnServerError,
		Transport: dispatcher.NewTransport(dispatcher.TransportOptions{
			DialTimeout:         cfg.Transport.DialTimeoutDuration(),
			MaxIdleConnsPerHost: cfg.Transport.MaxIdleConnsPerHost,
			IdleConnTimeout:     cfg.Transport.IdleConnTimeoutDuration(),
		}),
	})

	pipeline := gateway.Standard(gateway.Components{
		AccessLog: accesslog.New(log),
		CORS: cors.New(cors.Options{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   cfg.CORS.AllowedMethods,
			AllowedHeaders:   cfg.CORS.AllowedHeaders,
			ExposedHeaders:   cfg.CORS.ExposedHeaders,
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           cfg.CORS.MaxAgeDuration(),
		}),
		Translator: fault.NewTranslator(log, func(fe *fault.Error) {
			collector.Emit(metrics.MetricEvent{
				Type:      metrics.EventFault,
				Backend:   fe.Backend,
				FaultKind: fe.Kind.String(),
			})
		}),
		Relay:      credential.NewRelay(cfg.Gateway.OpenPaths, log),
		Dispatcher: disp,
	})

	log.Info("Gateway pipeline assembled",
		slog.Any("stages", pipeline.Names()),
		slog.Int("routes", len(table.Entries())),
		slog.Any("backends", table.Backends()))

	srv, err := httpserver.New(cfg.Server.Address, pipeline, httpserver.Timeouts{
		Read:     cfg.Server.ReadTimeoutDuration(),
		Write:    cfg.Server.WriteTimeoutDuration(),
		Idle:     cfg.Server.IdleTimeoutDuration(),
		Shutdown: cfg.Server.ShutdownTimeoutDuration(),
	}, log)
	if err != nil {
		return fmt.Errorf("create gateway server: %w", err)
	}

	servers := []*httpserver.Server{srv}
	if cfg.Admin.Enabled {
		adminSrv, err := httpserver.New(cfg.Admin.Address,
			setupAdminRouter(collector, exporter, breakers, table),
			httpserver.Timeouts{Shutdown: cfg.Server.ShutdownTimeoutDuration()}, log)
		if err != nil {
			return fmt.Errorf("create admin server: %w", err)
		}
		servers = append(servers, adminSrv)
	}

	if cfg.HealthCheck.Enabled {
		checker := healthcheck.New(cfg.HealthCheck.Path,
			cfg.HealthCheck.IntervalDuration(),
			cfg.HealthCheck.TimeoutDuration(),
			log,
			func(pool string, inst *backend.Instance, healthy bool) {
				collector.Emit(metrics.MetricEvent{
					Type:     metrics.EventHealthChanged,
					Backend:  pool,
					Instance: inst.URL().String(),
					Healthy:  healthy,
				})
			})
		go checker.Run(ctx, pools.All())
	}

	srvErrCh := make(chan error, len(servers))
	for _, s := range servers {
		s := s
		if err := s.Listen(); err != nil {
			return fmt.Errorf("listen on %s: %w", s.Addr(), err)
		}
		log.Info("Listening", slog.String("addr", s.Addr()))
		go func() {
			srvErrCh <- s.Serve()
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-srvErrCh:
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeoutDuration()+time.Second)
	defer cancel()
	for _, s := range servers {
		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Error("Error during shutdown", slog.String("addr", s.Addr()), slog.Any("err", err))
			runErr = errors.Join(runErr, err)
		}
	}

	return runErr
}

func breakerSettings(cb config.CircuitBreakerConfig) circuitbreaker.Settings {
	return circuitbreaker.Settings{
		FailureThreshold:  cb.FailureThreshold,
		RecoveryTimeout:   cb.RecoveryTimeoutDuration(),
		HalfOpenMaxTrials: cb.HalfOpenMaxTrials,
	}
}

// buildRouteTable expands every configured path of every route into a
// table entry.
func buildRouteTable(routes []config.RouteConfig) (*route.Table, error) {
	var entries []route.Entry

	for _, rc := range routes {
		target, err := url.Parse(rc.URI)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", rc.ID, err)
		}

		var rw *route.Rewrite
		if rc.Rewrite != nil {
			rw, err = route.NewRewrite(rc.Rewrite.Pattern, rc.Rewrite.Replacement)
			if err != nil {
				return nil, fmt.Errorf("route %s: %w", rc.ID, err)
			}
		}

		for _, p := range rc.Paths {
			entry, err := route.NewEntry(rc.ID, p, rc.BackendName(), target, rw)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}
	}

	if len(entries) == 0 {
		return nil, errors.New("no routes configured")
	}

	return route.NewTable(entries), nil
}

// buildPools creates one load-balanced pool per configured backend.
func buildPools(backends []config.BackendConfig) (*loadbalancer.Pools, error) {
	pools := make([]*loadbalancer.Pool, 0, len(backends))

	for _, bc := range backends {
		strat, err := strategy.New(bc.Strategy, bc.VirtualNodes)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", bc.Name, err)
		}

		instances := make([]*backend.Instance, 0, len(bc.Instances))
		for _, ic := range bc.Instances {
			u, err := url.Parse(ic.URL)
			if err != nil {
				return nil, fmt.Errorf("backend %s: instance %q: %w", bc.Name, ic.URL, err)
			}
			instances = append(instances, backend.New(u, ic.Weight))
		}

		if len(instances) == 0 {
			return nil, fmt.Errorf("backend %s: no instances configured", bc.Name)
		}

		pools = append(pools, loadbalancer.NewPool(bc.Name, instances, strat))
	}

	return loadbalancer.NewPools(pools...)
}
