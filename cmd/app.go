package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/brogergvhs/coverd/internal/cache"
	"github.com/brogergvhs/coverd/internal/config"
	"github.com/brogergvhs/coverd/internal/extract"
	"github.com/brogergvhs/coverd/internal/fetch"
	"github.com/brogergvhs/coverd/internal/metrics"
	"github.com/brogergvhs/coverd/internal/render"
	"github.com/brogergvhs/coverd/internal/session"
	"github.com/brogergvhs/coverd/internal/state"
	"github.com/brogergvhs/coverd/internal/ui"
	"github.com/brogergvhs/coverd/internal/util"
	"github.com/brogergvhs/coverd/internal/viewport"
)

// app holds what every gallery command needs: the merged config and the
// network and cache layers built from it.
type app struct {
	cfg     *config.Config
	used    string
	log     *ui.Logger
	banner  *ui.Banner
	metrics *metrics.Metrics
	client  *http.Client
	fetcher *fetch.Fetcher
	cache   *cache.Cache
}

func newApp(ctx context.Context, opts config.Options) (*app, error) {
	opts.IgnoreConfig = flagIgnoreConfig
	opts.Debug = opts.Debug || flagDebug

	cfg, used, err := config.LoadMerged(opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s:\n%w", used, err)
	}

	logSvc := ui.NewLogger(cfg.Debug)
	m := metrics.New()

	client, err := util.NewHTTPClient(util.HTTPClientOptions{
		Timeout:          3 * cfg.FetchTimeout(),
		UserAgent:        util.PickUserAgent(cfg.UserAgent),
		Cookie:           cfg.Cookie,
		CookieFile:       cfg.CookieFile,
		CloudflareBypass: cfg.CloudflareBypass,
		DebugLogger:      logSvc,
	})
	if err != nil {
		return nil, err
	}

	store, err := cache.Open(cfg.CacheBackend, cfg.CacheDir, cfg.RedisAddr)
	if err != nil {
		logSvc.Warnf("Cache backend %q unavailable, using memory: %v\n", cfg.CacheBackend, err)
		store = cache.NewMemoryStore()
	}

	return &app{
		cfg:     cfg,
		used:    used,
		log:     logSvc,
		banner:  ui.NewBanner(logSvc, cfg.ErrorDisplay()),
		metrics: m,
		client:  client,
		fetcher: fetch.New(client, fetch.Options{
			RelayBase: cfg.RelayBase,
			Timeout:   cfg.FetchTimeout(),
			Metrics:   m,
			Log:       logSvc,
		}),
		cache: cache.New(ctx, store, cache.Options{
			Budget:  cfg.CacheBudgetBytes,
			Metrics: m,
			Log:     logSvc,
		}),
	}, nil
}

// printHeader shows where the config came from, like every command that
// renders covers does before starting.
func (a *app) printHeader() {
	if a.used != "" {
		fmt.Printf("Config file: %s\n", a.used)
	}
	if a.cfg.Debug {
		fmt.Println("Full config:")
		a.cfg.Print()
		fmt.Println()
	}
}

// finish flushes metrics when --metrics-file was given.
func (a *app) finish() {
	if flagMetricsFile == "" {
		return
	}
	if err := a.metrics.WriteFile(flagMetricsFile); err != nil {
		a.log.Warnf("Writing metrics to %s failed: %v\n", flagMetricsFile, err)
		return
	}
	a.log.Debugf("Metrics written to %s\n", flagMetricsFile)
}

// gallery is the output side: the on-disk grid, the renderer filling it and
// the pipeline that performs the initial load.
type gallery struct {
	session  *state.Session
	grid     *render.Grid
	renderer *render.Renderer
	progress *ui.ProgressManager
	stats    *ui.Stats
	viewport *viewport.Loader
	prompt   *viewport.PromptSource
	pipeline *session.Pipeline
}

// newGallery builds the output side. Interactive galleries scroll on
// terminal input, the others keep loading until the list runs out.
func (a *app) newGallery(interactive bool) (*gallery, error) {
	cfg := a.cfg

	if err := os.MkdirAll(cfg.Output, 0755); err != nil {
		return nil, fmt.Errorf("cannot create output folder: %w", err)
	}

	grid, err := render.NewGrid(cfg.Output, render.GridOptions{
		Title:   "Top Light Novels",
		Dark:    cfg.DarkTheme,
		Density: cfg.GridDensity,
	})
	if err != nil {
		return nil, err
	}

	loaderOpts := render.LoaderOptions{
		Referer: cfg.SourceURL,
		Timeout: cfg.FetchTimeout(),
	}
	if cfg.ProxyImages {
		loaderOpts.Relay = a.fetcher.RelayURL
	}

	sess := state.New()
	stats := &ui.Stats{}

	var (
		src    viewport.Source
		prompt *viewport.PromptSource
	)
	if interactive {
		dark := cfg.DarkTheme
		prompt = viewport.NewPromptSource(os.Stdin, os.Stdout, &sess.Panel, viewport.PromptOptions{
			Status: a.banner.Current,
			ToggleTheme: func() (bool, error) {
				dark = !dark
				return dark, grid.SetTheme(dark, 0)
			},
		})
		src = prompt
	} else {
		src = viewport.NewAutoSource()
	}

	pm := ui.NewProgressManager(os.Stdout)

	r := render.New(sess, render.NewHTTPLoader(a.client, loaderOpts), grid, render.Options{
		BatchSize:  cfg.BatchSize,
		Workers:    cfg.ImageWorkers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay(),
		Fallback:   cfg.FallbackImage,
		Notifier:   a.banner,
		Log:        a.log,
		Metrics:    a.metrics,
		Stats:      stats,
		Progress:   pm,
	})

	vp := viewport.New(viewport.Config{
		Source:   src,
		Renderer: r,
		Grid:     grid,
		Session:  sess,
		Options: viewport.Options{
			Threshold:    cfg.ObserverThreshold,
			RootMarginPx: cfg.ObserverRootMarginPx,
		},
		Log:      a.log,
		Notifier: a.banner,
	})

	p := session.New(session.Config{
		SourceURL:       cfg.SourceURL,
		MaxRetries:      cfg.MaxRetries,
		RetryDelay:      cfg.RetryDelay(),
		ClearOnStart:    cfg.ClearOnStart,
		ClearOnExit:     cfg.ClearOnExit,
		FreshCheck:      cfg.FreshCheck,
		FreshRatePerSec: cfg.FreshRatePerSec,
		Fetcher:         a.fetcher,
		Cache:           a.cache,
		Extractor:       extract.New(cfg.Selectors),
		Renderer:        r,
		Viewport:        vp,
		Session:         sess,
		Notifier:        a.banner,
		Log:             a.log,
		Metrics:         a.metrics,
	})

	return &gallery{
		session:  sess,
		grid:     grid,
		renderer: r,
		progress: pm,
		stats:    stats,
		viewport: vp,
		prompt:   prompt,
		pipeline: p,
	}, nil
}

func (g *gallery) printSummary() {
	fmt.Println()
	fmt.Println("Gallery Summary:")
	fmt.Printf("Batches:   %d\n", g.stats.TotalBatches.Load())
	fmt.Printf("Covers:    %d of %d\n", g.grid.Len(), g.session.Len())
	fmt.Printf("Fallbacks: %d\n", g.stats.TotalFallbacks.Load())
	fmt.Printf("Dropped:   %d\n", g.stats.TotalDropped.Load())
	fmt.Printf("Data:      %s\n", util.Human(g.stats.TotalBytes.Load()))
	fmt.Printf("Index:     %s\n", g.grid.IndexPath())
}
