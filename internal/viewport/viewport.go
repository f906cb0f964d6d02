// Package viewport drives infinite scrolling: it watches only the last grid
// item and renders the next batch when that item becomes visible.
package viewport

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/brogergvhs/coverd/internal/render"
	"github.com/brogergvhs/coverd/internal/state"
	"github.com/brogergvhs/coverd/internal/ui"
)

type Options struct {
	Threshold    float64
	RootMarginPx int
}

type Event struct {
	Item         render.Item
	Intersecting bool
	Ratio        float64
}

// Source reports visibility changes for observed items.
type Source interface {
	Observe(item render.Item, opts Options)
	Unobserve(item render.Item)
	Events() <-chan Event
}

// Batcher renders the next batch of the session list.
type Batcher interface {
	RenderNextBatch(ctx context.Context) (int, error)
	BatchSize() int
}

type Config struct {
	Source   Source
	Renderer Batcher
	Grid     render.Container
	Session  *state.Session
	Options  Options
	Log      *ui.Logger
	Notifier ui.Notifier
}

type Loader struct {
	cfg Config

	mu       sync.Mutex
	observed *render.Item
	stopped  bool
}

func New(cfg Config) *Loader {
	if cfg.Log == nil {
		cfg.Log = ui.NewLoggerTo(io.Discard, false)
	}
	return &Loader{cfg: cfg}
}

func key(it render.Item) string { return it.Record.ImageURL }

// Rearm starts observing the current last item, leaving the Stopped state.
// Call it after the list has been replaced and its first batch rendered.
func (l *Loader) Rearm() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopped = false
	l.retargetLocked()
}

func (l *Loader) Stopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

// Observed returns the item currently watched.
func (l *Loader) Observed() (render.Item, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.observed == nil {
		return render.Item{}, false
	}
	return *l.observed, true
}

func (l *Loader) unobserveLocked() {
	if l.observed != nil {
		l.cfg.Source.Unobserve(*l.observed)
		l.observed = nil
	}
}

func (l *Loader) stopLocked() {
	l.unobserveLocked()
	l.stopped = true
	l.cfg.Log.Debugf("All %d items rendered, infinite scroll stopped\n", l.cfg.Session.Len())
}

// retargetLocked moves observation to the grid's last item, or stops when
// nothing is left to render.
func (l *Loader) retargetLocked() {
	l.unobserveLocked()

	if l.cfg.Session.Exhausted(l.cfg.Renderer.BatchSize()) {
		l.stopLocked()
		return
	}

	last, ok := l.cfg.Grid.Last()
	if !ok {
		return
	}

	l.observed = &last
	l.cfg.Source.Observe(last, l.cfg.Options)
}

// HandleEvent renders the next batch when ev says the observed item is
// visible enough. It reports whether a batch was rendered.
func (l *Loader) HandleEvent(ctx context.Context, ev Event) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped || l.observed == nil || key(ev.Item) != key(*l.observed) {
		return false, nil
	}
	if !ev.Intersecting || ev.Ratio < l.cfg.Options.Threshold {
		return false, nil
	}

	s := l.cfg.Session
	if s.Panel.Active() || !s.Loading.TryAcquire() {
		return false, nil
	}
	defer s.Loading.Release()
	if s.Searching.Active() {
		l.cfg.Log.Debugf("Search running, not loading more\n")
		return false, nil
	}

	if s.Exhausted(l.cfg.Renderer.BatchSize()) {
		l.stopLocked()
		return false, nil
	}

	_, err := l.cfg.Renderer.RenderNextBatch(ctx)
	switch {
	case errors.Is(err, render.ErrNoMoreItems):
		l.stopLocked()
		return false, nil
	case errors.Is(err, render.ErrStaleBatch):
		// the replacer rearms us
		return false, nil
	case err != nil:
		if ctx.Err() == nil && l.cfg.Notifier != nil {
			l.cfg.Notifier.Error("Failed to load more covers: " + err.Error())
		}
		return false, err
	}

	l.retargetLocked()
	return true, nil
}

// Run feeds source events to HandleEvent until the loader stops, the
// source closes or ctx is done.
func (l *Loader) Run(ctx context.Context) error {
	if l.Stopped() {
		return nil
	}

	events := l.cfg.Source.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if _, err := l.HandleEvent(ctx, ev); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			if l.Stopped() {
				return nil
			}
		}
	}
}
