// Package session wires the cache, fetcher, extractor and renderer into the
// initial page load and owns its startup and teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/brogergvhs/coverd/internal/cache"
	"github.com/brogergvhs/coverd/internal/extract"
	"github.com/brogergvhs/coverd/internal/fresh"
	"github.com/brogergvhs/coverd/internal/metrics"
	"github.com/brogergvhs/coverd/internal/render"
	"github.com/brogergvhs/coverd/internal/retry"
	"github.com/brogergvhs/coverd/internal/state"
	"github.com/brogergvhs/coverd/internal/ui"
)

var (
	ErrBusy      = errors.New("load skipped: another load or a search is running, or the panel is open")
	ErrNoContent = errors.New("no content fetched")
)

type Fetcher interface {
	Fetch(ctx context.Context, target string) (string, error)
	Probe(ctx context.Context, target string) (bool, error)
}

// Batcher renders the next window of the session list.
type Batcher interface {
	RenderNextBatch(ctx context.Context) (int, error)
}

// Rearmer restarts infinite scrolling on the current last grid item.
type Rearmer interface {
	Rearm()
}

type Config struct {
	SourceURL  string
	MaxRetries int
	RetryDelay time.Duration

	ClearOnStart    bool
	ClearOnExit     bool
	FreshCheck      bool
	FreshRatePerSec float64

	Fetcher   Fetcher
	Cache     *cache.Cache
	Extractor *extract.Extractor
	Renderer  Batcher
	Viewport  Rearmer
	Session   *state.Session
	Scheduler retry.Scheduler
	Notifier  ui.Notifier
	Log       *ui.Logger
	Metrics   *metrics.Metrics
}

type Pipeline struct {
	cfg    Config
	policy retry.Policy

	closeOnce sync.Once
	closeErr  error
}

func New(cfg Config) *Pipeline {
	if cfg.Scheduler == nil {
		cfg.Scheduler = retry.TimerScheduler{}
	}
	if cfg.Log == nil {
		cfg.Log = ui.NewLoggerTo(io.Discard, false)
	}
	if cfg.Session == nil {
		cfg.Session = state.New()
	}

	return &Pipeline{
		cfg:    cfg,
		policy: retry.Exponential(cfg.MaxRetries, cfg.RetryDelay),
	}
}

func (p *Pipeline) Session() *state.Session { return p.cfg.Session }

// Start prepares the cache and performs the initial load. A cache that was
// cleared has nothing to check for freshness.
func (p *Pipeline) Start(ctx context.Context) (int, error) {
	switch {
	case p.cfg.ClearOnStart:
		if err := p.cfg.Cache.Clear(ctx); err != nil {
			p.cfg.Log.Debugf("Clearing cache on start failed: %v\n", err)
		}
	case p.cfg.FreshCheck:
		if _, err := p.CheckFreshness(ctx); err != nil && ctx.Err() != nil {
			return 0, ctx.Err()
		}
	}

	return p.Load(ctx)
}

// CheckFreshness drops cached pages whose source no longer resolves.
func (p *Pipeline) CheckFreshness(ctx context.Context) (fresh.Report, error) {
	chk := fresh.New(p.cfg.Cache, p.cfg.Fetcher, p.cfg.FreshRatePerSec, p.cfg.Log, p.cfg.Metrics)

	rep, err := chk.Run(ctx)
	if err != nil {
		p.cfg.Log.Debugf("Freshness check stopped: %v\n", err)
		return rep, err
	}

	p.cfg.Log.Debugf("Freshness check: %d checked, %d pruned, %d kept on error\n",
		rep.Checked, len(rep.Pruned), len(rep.Errors))
	return rep, nil
}

// Load fetches the source page (from cache when possible), extracts its
// covers into the session and renders the first batch.
func (p *Pipeline) Load(ctx context.Context) (int, error) {
	s := p.cfg.Session
	if s.Panel.Active() || !s.Loading.TryAcquire() {
		return 0, ErrBusy
	}
	defer s.Loading.Release()
	// read after taking Loading, see search.Runner.Run
	if s.Searching.Active() {
		return 0, ErrBusy
	}

	body, err := p.page(ctx)
	switch {
	case errors.Is(err, ErrNoContent):
		p.notify("No content fetched. Please try again later.")
		return 0, err
	case err != nil:
		p.notify("Failed to fetch covers. Please try again later.")
		return 0, err
	}

	doc, err := extract.ParseString(body, p.cfg.SourceURL)
	if err != nil {
		p.cfg.Log.Errorf("Failed to parse %s: %v\n", p.cfg.SourceURL, err)
		p.notify("Failed to parse HTML content.")
		return 0, fmt.Errorf("parsing %s: %w", p.cfg.SourceURL, err)
	}

	records, captions := p.cfg.Extractor.Extract(doc, s.Seen())
	s.Merge(records, captions)
	p.cfg.Log.Debugf("Extracted %d new covers (%d total)\n", len(records), s.Len())

	if s.Len() == 0 {
		p.notify("No images found. Please check the source.")
		return 0, nil
	}

	n, err := p.cfg.Renderer.RenderNextBatch(ctx)
	switch {
	case errors.Is(err, render.ErrNoMoreItems):
		// everything was rendered by an earlier load
	case errors.Is(err, render.ErrStaleBatch):
		return 0, nil
	case err != nil:
		if ctx.Err() == nil {
			p.notify("Error loading images.")
		}
		return 0, err
	}

	if p.cfg.Viewport != nil {
		p.cfg.Viewport.Rearm()
	}

	return n, nil
}

// page returns the source HTML, consulting the cache first. Only non-empty
// bodies are stored.
func (p *Pipeline) page(ctx context.Context) (string, error) {
	key := p.cfg.SourceURL

	if body, ok := p.cfg.Cache.Get(ctx, key); ok {
		p.cfg.Log.Debugf("Cache hit for %s (%d bytes)\n", key, len(body))
		return body, nil
	}

	var body string
	err := retry.Do(ctx, p.cfg.Scheduler, p.policy, func(ctx context.Context) error {
		var ferr error
		body, ferr = p.cfg.Fetcher.Fetch(ctx, key)
		return ferr
	}, func(n int, err error) {
		p.cfg.Metrics.IncRetry("page")
		p.cfg.Log.Warnf("Fetching %s failed (%d/%d), retrying: %v\n", key, n+1, p.policy.MaxRetries, err)
	})
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", key, err)
	}
	if strings.TrimSpace(body) == "" {
		return "", ErrNoContent
	}

	p.cfg.Cache.Put(ctx, key, body)
	return body, nil
}

// Close runs the exit teardown once: the cache is cleared when configured
// and the backend is released.
func (p *Pipeline) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		var errs []error
		if p.cfg.ClearOnExit {
			if err := p.cfg.Cache.Clear(ctx); err != nil {
				errs = append(errs, fmt.Errorf("clearing cache: %w", err))
			}
		}
		if err := p.cfg.Cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing cache: %w", err))
		}
		p.closeErr = errors.Join(errs...)
	})

	return p.closeErr
}

func (p *Pipeline) notify(msg string) {
	if p.cfg.Notifier != nil {
		p.cfg.Notifier.Error(msg)
	}
}
