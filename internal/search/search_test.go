package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brogergvhs/coverd/internal/extract"
	"github.com/brogergvhs/coverd/internal/metrics"
	"github.com/brogergvhs/coverd/internal/render"
	"github.com/brogergvhs/coverd/internal/state"
)

const searchTemplate = "https://jnovels.com/?s=%s"

func resultsPage(titles ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, t := range titles {
		slug := strings.ToLower(strings.ReplaceAll(t, " ", "-"))
		b.WriteString(`<a rel="bookmark" href="/` + slug + `/" title="` + t + `"><img src="/covers/` + slug + `.jpg"></a>`)
	}
	b.WriteString("</body></html>")
	return b.String()
}

type fakeFetcher struct {
	mu      sync.Mutex
	calls   []string
	pages   map[string]string
	fail    bool
	started chan struct{}
	release chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, target string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, target)
	started, release := f.started, f.release
	f.started = nil
	f.mu.Unlock()

	if started != nil {
		close(started)
		<-release
	}
	if f.fail {
		return "", errors.New("relay timeout")
	}
	return f.pages[target], nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type okLoader struct{}

func (okLoader) Load(context.Context, string, func(int64)) (render.Asset, error) {
	return render.Asset{Data: []byte("x"), ContentType: "image/jpeg"}, nil
}

// gatedLoader holds every load until release is closed.
type gatedLoader struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (g *gatedLoader) Load(ctx context.Context, _ string, _ func(int64)) (render.Asset, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return render.Asset{}, ctx.Err()
	}
	return render.Asset{Data: []byte("old"), ContentType: "image/jpeg"}, nil
}

type notes struct {
	mu         sync.Mutex
	errors     []string
	persistent []string
}

func (n *notes) Error(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, msg)
}

func (n *notes) Persist(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.persistent = append(n.persistent, msg)
}

type virtualClock struct{ delays []time.Duration }

func (c *virtualClock) Wait(_ context.Context, d time.Duration) error {
	c.delays = append(c.delays, d)
	return nil
}

func newRunner(t *testing.T, f *fakeFetcher) (*Runner, *render.Grid, *state.Session, *notes, *virtualClock) {
	t.Helper()

	sess := state.New()
	grid, err := render.NewGrid(t.TempDir(), render.GridOptions{})
	require.NoError(t, err)

	n := &notes{}
	clock := &virtualClock{}
	r := New(Config{
		Fetcher:     f,
		Extractor:   extract.New(extract.DefaultSelectors()),
		Renderer:    render.New(sess, okLoader{}, grid, render.Options{BatchSize: 40, Workers: 4}),
		Grid:        grid,
		Session:     sess,
		URLTemplate: searchTemplate,
		MaxRetries:  3,
		RetryDelay:  time.Second,
		Debounce:    20 * time.Millisecond,
		Scheduler:   clock,
		Notifier:    n,
	})

	return r, grid, sess, n, clock
}

func TestRun_ReplacesGrid(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		"https://jnovels.com/?s=isekai": resultsPage("Isekai One", "Isekai Two"),
	}}
	r, grid, sess, _, _ := newRunner(t, f)

	require.NoError(t, grid.Append(context.Background(), []render.Item{{
		Record: extract.ImageRecord{ImageURL: "https://old/1.jpg"},
		Asset:  render.Asset{Data: []byte("x"), ContentType: "image/png"},
	}}))

	n, err := r.Run(context.Background(), "  <b>isekai</b> ")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	items := grid.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "https://jnovels.com/covers/isekai-one.jpg", items[0].Record.ImageURL)
	assert.Equal(t, "Isekai Two", items[1].Caption)
	assert.True(t, sess.Exhausted(40))
	assert.False(t, sess.Searching.Active())
}

func TestRun_RejectsInvalidQueries(t *testing.T) {
	f := &fakeFetcher{}
	r, _, _, n, _ := newRunner(t, f)

	for _, q := range []string{"", "   ", "ab", "<script>alert(1)</script>", "<b></b>", strings.Repeat("x", 101)} {
		_, err := r.Run(context.Background(), q)
		assert.ErrorIs(t, err, ErrInvalidQuery, q)
	}
	assert.Equal(t, 0, f.callCount())
	assert.NotEmpty(t, n.errors)
}

func TestRun_InFlightIsNoOp(t *testing.T) {
	f := &fakeFetcher{
		pages: map[string]string{
			"https://jnovels.com/?s=isekai": resultsPage("Isekai One"),
			"https://jnovels.com/?s=romcom": resultsPage("Romcom One", "Romcom Two"),
		},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	started, release := f.started, f.release
	r, grid, _, _, _ := newRunner(t, f)
	m := metrics.New()
	r.cfg.Metrics = m

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), "isekai")
		done <- err
	}()

	<-started
	assert.True(t, r.InFlight())

	_, err := r.Run(context.Background(), "romcom")
	assert.ErrorIs(t, err, ErrSearchInFlight)

	close(release)
	require.NoError(t, <-done)

	items := grid.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "Isekai One", items[0].Caption)
	assert.Equal(t, 1, f.callCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchTotal.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchTotal.WithLabelValues("ok")))
}

func TestRun_DiscardsBatchOfReplacedList(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		"https://jnovels.com/?s=isekai": resultsPage("Alpha One"),
	}}
	r, grid, sess, _, _ := newRunner(t, f)

	sess.Merge([]extract.ImageRecord{{ImageURL: "https://old.example/0.jpg"}}, nil)
	gate := &gatedLoader{started: make(chan struct{}), release: make(chan struct{})}
	incremental := render.New(sess, gate, grid, render.Options{BatchSize: 40, Workers: 1})

	pending := make(chan error, 1)
	go func() {
		_, err := incremental.RenderNextBatch(context.Background())
		pending <- err
	}()
	<-gate.started

	n, err := r.Run(context.Background(), "isekai")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	close(gate.release)
	assert.ErrorIs(t, <-pending, render.ErrStaleBatch)

	items := grid.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "https://jnovels.com/covers/alpha-one.jpg", items[0].Record.ImageURL)
	assert.True(t, sess.Exhausted(40))
}

func TestRun_RefusedWhileBatchLoads(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		"https://jnovels.com/?s=isekai": resultsPage("Alpha One"),
	}}
	r, grid, sess, n, _ := newRunner(t, f)

	require.NoError(t, grid.Append(context.Background(), []render.Item{{
		Record: extract.ImageRecord{ImageURL: "https://old/1.jpg"},
		Asset:  render.Asset{Data: []byte("x"), ContentType: "image/png"},
	}}))

	require.True(t, sess.Loading.TryAcquire())
	_, err := r.Run(context.Background(), "isekai")
	assert.ErrorIs(t, err, ErrLoadInFlight)
	assert.Equal(t, 0, f.callCount())
	assert.Equal(t, 1, grid.Len())
	assert.False(t, sess.Searching.Active())
	assert.False(t, r.InFlight())
	assert.NotEmpty(t, n.errors)
	sess.Loading.Release()

	got, err := r.Run(context.Background(), "isekai")
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestRun_ExhaustionLeavesGridEmpty(t *testing.T) {
	f := &fakeFetcher{fail: true}
	r, grid, _, n, clock := newRunner(t, f)

	require.NoError(t, grid.Append(context.Background(), []render.Item{{
		Record: extract.ImageRecord{ImageURL: "https://old/1.jpg"},
		Asset:  render.Asset{Data: []byte("x"), ContentType: "image/png"},
	}}))

	_, err := r.Run(context.Background(), "isekai")
	require.Error(t, err)

	assert.Equal(t, 4, f.callCount())
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, clock.delays)
	assert.Equal(t, 0, grid.Len())
	assert.Equal(t, []string{"Failed to load search results. Please try again later."}, n.persistent)
	assert.False(t, r.InFlight())
}

func TestRun_NoResults(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{"https://jnovels.com/?s=nothing": "<html></html>"}}
	r, grid, _, n, _ := newRunner(t, f)

	got, err := r.Run(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Equal(t, 0, got)
	assert.Equal(t, 0, grid.Len())
	assert.Equal(t, []string{"No results found."}, n.errors)
}

func TestSubmit_Debounces(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		"https://jnovels.com/?s=isekai%20hero": resultsPage("Hero"),
	}}
	r, _, _, _, _ := newRunner(t, f)

	done := make(chan string, 4)
	r.cfg.OnDone = func(q string, _ int, _ error) { done <- q }

	ctx := context.Background()
	r.Submit(ctx, "ise")
	r.Submit(ctx, "isekai")
	r.Submit(ctx, "isekai hero")

	select {
	case q := <-done:
		assert.Equal(t, "isekai hero", q)
	case <-time.After(2 * time.Second):
		t.Fatal("debounced search never ran")
	}

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.callCount())
	assert.Empty(t, done)
}

func TestURL(t *testing.T) {
	r := New(Config{URLTemplate: searchTemplate})
	assert.Equal(t, "https://jnovels.com/?s=re%3Azero%20%26%20more", r.URL("re:zero & more"))
}
