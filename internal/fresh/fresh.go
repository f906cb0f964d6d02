// Package fresh prunes cache entries whose source no longer resolves.
package fresh

import (
	"context"
	"errors"
	"io"

	"golang.org/x/time/rate"

	"github.com/brogergvhs/coverd/internal/cache"
	"github.com/brogergvhs/coverd/internal/metrics"
	"github.com/brogergvhs/coverd/internal/ui"
)

type Prober interface {
	Probe(ctx context.Context, target string) (bool, error)
}

type Report struct {
	Checked int
	Pruned  []string
	// Errors maps keys whose probe failed transiently to the error; they
	// are kept.
	Errors map[string]error
}

type Checker struct {
	cache   *cache.Cache
	prober  Prober
	limiter *rate.Limiter
	log     *ui.Logger
	metrics *metrics.Metrics
}

// New builds a checker probing at most perSec keys per second.
func New(c *cache.Cache, p Prober, perSec float64, log *ui.Logger, m *metrics.Metrics) *Checker {
	limit := rate.Limit(perSec)
	if perSec <= 0 {
		limit = rate.Inf
	}
	if log == nil {
		log = ui.NewLoggerTo(io.Discard, false)
	}

	return &Checker{
		cache:   c,
		prober:  p,
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
		metrics: m,
	}
}

// Run probes every cached key once and removes the dead ones.
func (c *Checker) Run(ctx context.Context) (Report, error) {
	rep := Report{Errors: map[string]error{}}

	for _, key := range c.cache.Keys() {
		if err := c.limiter.Wait(ctx); err != nil {
			return rep, err
		}

		rep.Checked++
		removed, err := c.cache.DeleteIfStale(ctx, key, c.prober.Probe)
		if errors.Is(err, cache.ErrDegraded) {
			return rep, err
		}
		if err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			c.log.Debugf("Freshness probe for %s failed, keeping entry: %v\n", key, err)
			rep.Errors[key] = err
			continue
		}

		if removed {
			c.log.Infof("Pruned stale cache entry %s\n", key)
			c.metrics.IncFreshPruned()
			rep.Pruned = append(rep.Pruned, key)
		}
	}

	return rep, nil
}
