// Package search replaces the grid with the results of a site search.
package search

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/brogergvhs/coverd/internal/extract"
	"github.com/brogergvhs/coverd/internal/fetch"
	"github.com/brogergvhs/coverd/internal/metrics"
	"github.com/brogergvhs/coverd/internal/render"
	"github.com/brogergvhs/coverd/internal/retry"
	"github.com/brogergvhs/coverd/internal/state"
	"github.com/brogergvhs/coverd/internal/ui"
)

const (
	MinQueryLen = 3
	MaxQueryLen = 100
)

var (
	ErrSearchInFlight = errors.New("search already in progress")
	ErrLoadInFlight   = errors.New("covers are still loading")
	ErrInvalidQuery   = errors.New("invalid search query")
)

type Fetcher interface {
	Fetch(ctx context.Context, target string) (string, error)
}

// Renderer renders the whole session list as one batch.
type Renderer interface {
	RenderAll(ctx context.Context) (int, error)
}

type Config struct {
	Fetcher     Fetcher
	Extractor   *extract.Extractor
	Renderer    Renderer
	Grid        render.Container
	Session     *state.Session
	URLTemplate string
	MaxRetries  int
	RetryDelay  time.Duration
	Debounce    time.Duration
	Scheduler   retry.Scheduler
	Notifier    ui.Notifier
	Log         *ui.Logger
	Metrics     *metrics.Metrics
	// OnDone, if set, receives the outcome of every debounced search.
	OnDone func(query string, n int, err error)
}

type Runner struct {
	cfg      Config
	policy   retry.Policy
	sanitize *bluemonday.Policy
	inFlight atomic.Bool

	mu    sync.Mutex
	timer *time.Timer
	ctx   context.Context
}

func New(cfg Config) *Runner {
	if cfg.Scheduler == nil {
		cfg.Scheduler = retry.TimerScheduler{}
	}
	if cfg.Log == nil {
		cfg.Log = ui.NewLoggerTo(io.Discard, false)
	}

	return &Runner{
		cfg:      cfg,
		policy:   retry.Fixed(cfg.MaxRetries, cfg.RetryDelay),
		sanitize: bluemonday.StrictPolicy(),
		ctx:      context.Background(),
	}
}

// Sanitize strips markup from q and trims it.
func (r *Runner) Sanitize(q string) string {
	return strings.TrimSpace(html.UnescapeString(r.sanitize.Sanitize(q)))
}

// Validate returns the cleaned query or ErrInvalidQuery.
func (r *Runner) Validate(q string) (string, error) {
	clean := r.Sanitize(q)

	n := utf8.RuneCountInString(clean)
	switch {
	case n == 0:
		return "", fmt.Errorf("%w: empty", ErrInvalidQuery)
	case n < MinQueryLen:
		return "", fmt.Errorf("%w: at least %d characters required", ErrInvalidQuery, MinQueryLen)
	case n > MaxQueryLen:
		return "", fmt.Errorf("%w: at most %d characters allowed", ErrInvalidQuery, MaxQueryLen)
	}

	return clean, nil
}

func (r *Runner) URL(query string) string {
	return strings.Replace(r.cfg.URLTemplate, "%s", fetch.EncodeComponent(query), 1)
}

// Submit schedules a search after the debounce period. A later Submit
// within the period replaces the pending query.
func (r *Runner) Submit(ctx context.Context, query string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ctx = ctx
	if r.timer != nil {
		r.timer.Stop()
	}

	r.timer = time.AfterFunc(r.cfg.Debounce, func() {
		r.mu.Lock()
		ctx := r.ctx
		r.mu.Unlock()

		n, err := r.Run(ctx, query)
		if r.cfg.OnDone != nil {
			r.cfg.OnDone(query, n, err)
		}
	})
}

// Flush cancels any pending debounced search.
func (r *Runner) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Runner) InFlight() bool { return r.inFlight.Load() }

// Run searches for query right away and replaces the grid with the
// results. A call made while another search runs returns
// ErrSearchInFlight, one made while a batch loads returns ErrLoadInFlight;
// neither does anything.
func (r *Runner) Run(ctx context.Context, query string) (int, error) {
	clean, err := r.Validate(query)
	if err != nil {
		r.cfg.Metrics.IncSearch("invalid")
		if r.cfg.Notifier != nil {
			r.cfg.Notifier.Error("Please enter a valid search query.")
		}
		return 0, err
	}

	if !r.inFlight.CompareAndSwap(false, true) {
		r.cfg.Metrics.IncSearch("skipped")
		r.cfg.Log.Debugf("Search for %q ignored, another search is running\n", clean)
		return 0, ErrSearchInFlight
	}
	defer r.inFlight.Store(false)

	// Searching goes up before Loading is read; loads take Loading before
	// reading Searching, so one of the two always backs off.
	s := r.cfg.Session
	s.Searching.Set(true)
	defer s.Searching.Release()

	if s.Loading.Active() {
		r.cfg.Metrics.IncSearch("skipped")
		r.cfg.Log.Debugf("Search for %q ignored, a batch is loading\n", clean)
		if r.cfg.Notifier != nil {
			r.cfg.Notifier.Error("Covers are still loading. Please search again in a moment.")
		}
		return 0, ErrLoadInFlight
	}

	// the generation moves first so no batch of the old list can commit
	// into the cleared grid
	s.Replace(nil, nil)
	if err := r.cfg.Grid.Reset(); err != nil {
		return 0, fmt.Errorf("clearing grid: %w", err)
	}

	target := r.URL(clean)
	r.cfg.Log.Infof("Searching for %q\n", clean)

	var body string
	err = retry.Do(ctx, r.cfg.Scheduler, r.policy, func(ctx context.Context) error {
		var ferr error
		body, ferr = r.cfg.Fetcher.Fetch(ctx, target)
		return ferr
	}, func(n int, err error) {
		r.cfg.Metrics.IncRetry("search")
		r.cfg.Log.Debugf("Search fetch failed (%d/%d): %v\n", n+1, r.policy.MaxRetries, err)
	})
	if err != nil {
		r.cfg.Metrics.IncSearch("error")
		if ctx.Err() == nil && r.cfg.Notifier != nil {
			r.cfg.Notifier.Persist("Failed to load search results. Please try again later.")
		}
		return 0, fmt.Errorf("search %q: %w", clean, err)
	}

	doc, err := extract.ParseString(body, target)
	if err != nil {
		r.cfg.Metrics.IncSearch("error")
		if r.cfg.Notifier != nil {
			r.cfg.Notifier.Error("Failed to parse search results.")
		}
		return 0, err
	}

	records, captions := r.cfg.Extractor.ExtractSearch(doc, extract.NewSeenSet())
	s.Replace(records, captions)

	if len(records) == 0 {
		r.cfg.Metrics.IncSearch("empty")
		if r.cfg.Notifier != nil {
			r.cfg.Notifier.Error("No results found.")
		}
		return 0, nil
	}

	n, err := r.cfg.Renderer.RenderAll(ctx)
	if err != nil {
		r.cfg.Metrics.IncSearch("error")
		return n, err
	}

	r.cfg.Metrics.IncSearch("ok")
	return n, nil
}
