package healthcheck

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/angeloszaimis/edge-gateway/internal/backend"
	"github.com/angeloszaimis/edge-gateway/internal/loadbalancer"
)

// ChangeFunc is called when an instance's health flips.
type ChangeFunc func(pool string, inst *backend.Instance, healthy bool)

// Checker periodically probes every instance of every pool.
type Checker struct {
	client   *http.Client
	path     string
	interval time.Duration
	logger   *slog.Logger
	onChange ChangeFunc
}

func New(path string, interval, timeout time.Duration, logger *slog.Logger, onChange ChangeFunc) *Checker {
	return &Checker{
		client:   &http.Client{Timeout: timeout},
		path:     path,
		interval: interval,
		logger:   logger,
		onChange: onChange,
	}
}

// Run probes all instances until ctx is cancelled. It blocks; call it in
// its own goroutine.
func (c *Checker) Run(ctx context.Context, pools []*loadbalancer.Pool) {
	var wg sync.WaitGroup
	for _, pool := range pools {
		pool := pool
		for _, inst := range pool.Instances() {
			inst := inst
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.watch(ctx, pool.Name(), inst)
			}()
		}
	}
	wg.Wait()
}

func (c *Checker) watch(ctx context.Context, pool string, inst *backend.Instance) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Health check stopped",
				slog.String("backend", pool),
				slog.String("instance", inst.URL().String()))
			return

		case <-ticker.C:
			c.Check(ctx, pool, inst)
		}
	}
}

// Check probes one instance once, updates its health and reports whether
// it is healthy.
func (c *Checker) Check(ctx context.Context, pool string, inst *backend.Instance) bool {
	healthy := c.probe(ctx, inst)
	if ctx.Err() != nil {
		return inst.IsHealthy()
	}

	if inst.SetHealthy(healthy) {
		if healthy {
			c.logger.Info("Instance is back up",
				slog.String("backend", pool),
				slog.String("instance", inst.URL().String()))
		} else {
			c.logger.Warn("Instance is down",
				slog.String("backend", pool),
				slog.String("instance", inst.URL().String()))
		}

		if c.onChange != nil {
			c.onChange(pool, inst, healthy)
		}
	}

	return healthy
}

func (c *Checker) probe(ctx context.Context, inst *backend.Instance) bool {
	healthURL := inst.URL().ResolveReference(&url.URL{Path: c.path})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL.String(), nil)
	if err != nil {
		return false
	}

	res, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))

	return res.StatusCode >= 200 && res.StatusCode < 300
}
