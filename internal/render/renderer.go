// Package render turns the session's image list into grid items, one batch
// at a time, loading each image with retries and a fallback placeholder.
package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/brogergvhs/coverd/internal/extract"
	"github.com/brogergvhs/coverd/internal/metrics"
	"github.com/brogergvhs/coverd/internal/retry"
	"github.com/brogergvhs/coverd/internal/state"
	"github.com/brogergvhs/coverd/internal/ui"
)

var (
	ErrNoMoreItems = errors.New("no more items to render")
	// ErrStaleBatch means the list was replaced while the batch was loading.
	ErrStaleBatch = errors.New("batch discarded: list replaced")
)

type Options struct {
	BatchSize  int
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
	Fallback   string

	Scheduler retry.Scheduler
	Notifier  ui.Notifier
	Log       *ui.Logger
	Metrics   *metrics.Metrics
	Stats     *ui.Stats
	// Progress may be nil to render without bars.
	Progress *ui.ProgressManager
}

type Renderer struct {
	session *state.Session
	loader  Loader
	grid    Container
	opts    Options
	policy  retry.Policy
}

func New(session *state.Session, loader Loader, grid Container, opts Options) *Renderer {
	if opts.BatchSize < 1 {
		opts.BatchSize = 40
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Scheduler == nil {
		opts.Scheduler = retry.TimerScheduler{}
	}
	if opts.Stats == nil {
		opts.Stats = &ui.Stats{}
	}
	if opts.Log == nil {
		opts.Log = ui.NewLoggerTo(io.Discard, false)
	}

	return &Renderer{
		session: session,
		loader:  loader,
		grid:    grid,
		opts:    opts,
		policy:  retry.Exponential(opts.MaxRetries, opts.RetryDelay),
	}
}

func (r *Renderer) BatchSize() int { return r.opts.BatchSize }

func (r *Renderer) Grid() Container { return r.grid }

func (r *Renderer) Stats() *ui.Stats { return r.opts.Stats }

// RenderNextBatch renders the batch at the session cursor and advances the
// cursor by one. It returns the number of items appended.
func (r *Renderer) RenderNextBatch(ctx context.Context) (int, error) {
	records, start, gen, ok := r.session.Window(r.opts.BatchSize)
	if !ok {
		return 0, ErrNoMoreItems
	}

	label := fmt.Sprintf("batch %d", start/r.opts.BatchSize+1)
	items, err := r.load(ctx, records, label)
	if err != nil {
		return 0, err
	}

	return r.commit(ctx, items, func(apply func() error) error {
		return r.session.CommitBatch(gen, apply)
	})
}

// RenderAll renders the whole current list as a single batch.
func (r *Renderer) RenderAll(ctx context.Context) (int, error) {
	records := r.session.Images()
	gen := r.session.Generation()

	items, err := r.load(ctx, records, "results")
	if err != nil {
		return 0, err
	}

	return r.commit(ctx, items, func(apply func() error) error {
		return r.session.CommitAll(gen, r.opts.BatchSize, apply)
	})
}

// commit appends items to the grid through the session's commit, so the
// generation check, the append and the cursor move are one step.
func (r *Renderer) commit(ctx context.Context, items []Item, through func(apply func() error) error) (int, error) {
	err := through(func() error { return r.grid.Append(ctx, items) })
	switch {
	case errors.Is(err, state.ErrStale):
		r.opts.Log.Debugf("Discarding batch of %d items from a replaced list\n", len(items))
		return 0, ErrStaleBatch
	case err != nil:
		return 0, fmt.Errorf("appending batch: %w", err)
	}

	r.opts.Stats.TotalBatches.Add(1)
	r.opts.Stats.TotalImages.Add(int64(len(items)))
	r.opts.Metrics.IncBatch(r.grid.Len())

	return len(items), nil
}

type batchState struct {
	mu    sync.Mutex
	done  int
	total int
	bytes int64
	ph    *ui.ProgressHandle
}

func (b *batchState) update(doneDelta int, bytesDelta int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.done += doneDelta
	b.bytes += bytesDelta
	if b.ph != nil {
		b.ph.Update(b.done, b.total, b.bytes)
	}
}

// load fetches records on the worker pool. Results land in an ordered
// buffer so the batch keeps list order whatever the completion order;
// dropped items leave a hole that is skipped.
func (r *Renderer) load(ctx context.Context, records []extract.ImageRecord, label string) ([]Item, error) {
	total := len(records)
	if total == 0 {
		return nil, nil
	}

	bs := &batchState{total: total}
	if r.opts.Progress != nil {
		bs.ph = r.opts.Progress.Register(label)
		defer bs.ph.MarkDone()
	}
	bs.update(0, 0)

	workers := min(r.opts.Workers, total)
	results := make([]*Item, total)

	jobs := make(chan int)
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for i := range jobs {
			var last int64
			progress := func(done int64) {
				delta := done - last
				if delta <= 0 {
					return
				}
				last = done
				bs.update(0, delta)
			}

			if it, ok := r.loadItem(ctx, records[i], progress); ok {
				results[i] = &it
			}
			bs.update(1, 0)
		}
	}

	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go worker()
	}

	for i := range records {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return nil, ctx.Err()
		case jobs <- i:
		}
	}

	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.opts.Stats.TotalBytes.Add(bs.bytes)

	items := make([]Item, 0, total)
	for _, it := range results {
		if it != nil {
			items = append(items, *it)
		}
	}

	return items, nil
}

// loadItem drives one item through Loading, Retrying and Failed. After the
// retries run out the fallback image is used; if that fails too the item
// is dropped and the user told.
func (r *Renderer) loadItem(ctx context.Context, rec extract.ImageRecord, progress func(int64)) (Item, bool) {
	item := Item{Record: rec, Caption: r.session.Caption(rec.LinkURL)}
	a := Attempt{State: Loading}

	for {
		asset, err := loadSource(ctx, r.loader, rec.ImageURL, progress)
		if err == nil {
			item.Asset = asset
			item.Attempt = a.Succeed()
			r.opts.Metrics.IncItem("loaded")
			return item, true
		}
		if ctx.Err() != nil {
			return Item{}, false
		}

		a = a.Fail(r.opts.MaxRetries)
		if a.State == Failed {
			r.opts.Log.Debugf("Giving up on %s after %d retries: %v\n", rec.ImageURL, a.Retry, err)
			break
		}

		delay := r.policy.Backoff(a.Retry)
		r.opts.Log.Debugf("Retrying %s in %s (%d/%d): %v\n", rec.ImageURL, delay, a.Retry+1, r.opts.MaxRetries, err)
		r.opts.Metrics.IncRetry("image")

		if err := r.opts.Scheduler.Wait(ctx, delay); err != nil {
			return Item{}, false
		}
		a = a.Next()
	}

	item.Attempt = a
	asset, err := loadSource(ctx, r.loader, r.opts.Fallback, nil)
	if err != nil {
		r.opts.Stats.TotalDropped.Add(1)
		r.opts.Metrics.IncItem("dropped")
		if r.opts.Notifier != nil {
			r.opts.Notifier.Error("Failed to load image: " + rec.ImageURL)
		}
		return Item{}, false
	}

	item.Asset = asset
	item.Fallback = true
	r.opts.Stats.TotalFallbacks.Add(1)
	r.opts.Metrics.IncItem("fallback")

	return item, true
}

func loadSource(ctx context.Context, l Loader, src string, progress func(int64)) (Asset, error) {
	if src == "" {
		return Asset{}, errors.New("no image source")
	}
	return l.Load(ctx, src, progress)
}
