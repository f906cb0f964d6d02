package viewport

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brogergvhs/coverd/internal/extract"
	"github.com/brogergvhs/coverd/internal/render"
	"github.com/brogergvhs/coverd/internal/state"
)

// manualSource is driven by the test: it only remembers what is observed.
type manualSource struct {
	observed   []string
	unobserved []string
	events     chan Event
}

func newManualSource() *manualSource {
	return &manualSource{events: make(chan Event)}
}

func (s *manualSource) Observe(item render.Item, _ Options) {
	s.observed = append(s.observed, item.Record.ImageURL)
}

func (s *manualSource) Unobserve(item render.Item) {
	s.unobserved = append(s.unobserved, item.Record.ImageURL)
}

func (s *manualSource) Events() <-chan Event { return s.events }

type okLoader struct{}

func (okLoader) Load(context.Context, string, func(int64)) (render.Asset, error) {
	return render.Asset{Data: []byte("x"), ContentType: "image/png"}, nil
}

type countingRenderer struct {
	*render.Renderer
	calls int
}

func (c *countingRenderer) RenderNextBatch(ctx context.Context) (int, error) {
	c.calls++
	return c.Renderer.RenderNextBatch(ctx)
}

func setup(t *testing.T, n, batch int) (*Loader, *manualSource, *countingRenderer, *state.Session, render.Container) {
	t.Helper()

	sess := state.New()
	recs := make([]extract.ImageRecord, n)
	for i := range recs {
		recs[i] = extract.ImageRecord{ImageURL: fmt.Sprintf("https://img/%02d.jpg", i)}
	}
	sess.Merge(recs, nil)

	grid, err := render.NewGrid(t.TempDir(), render.GridOptions{})
	require.NoError(t, err)

	rr := &countingRenderer{Renderer: render.New(sess, okLoader{}, grid, render.Options{BatchSize: batch, Workers: 4})}
	src := newManualSource()
	l := New(Config{
		Source:   src,
		Renderer: rr,
		Grid:     grid,
		Session:  sess,
		Options:  Options{Threshold: 0.2, RootMarginPx: 250},
	})

	return l, src, rr, sess, grid
}

func visible(it render.Item) Event {
	return Event{Item: it, Intersecting: true, Ratio: 1}
}

func TestLoader_45ItemsIn20s(t *testing.T) {
	l, src, rr, sess, grid := setup(t, 45, 20)
	ctx := context.Background()

	n, err := rr.RenderNextBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 20, n)
	l.Rearm()
	assert.Equal(t, []string{"https://img/19.jpg"}, src.observed)

	last, _ := l.Observed()
	rendered, err := l.HandleEvent(ctx, visible(last))
	require.NoError(t, err)
	assert.True(t, rendered)
	assert.Equal(t, 2, sess.Cursor())
	assert.Equal(t, 40, grid.Len())
	assert.Equal(t, []string{"https://img/19.jpg"}, src.unobserved)
	assert.Equal(t, "https://img/39.jpg", src.observed[len(src.observed)-1])

	last, _ = l.Observed()
	rendered, err = l.HandleEvent(ctx, visible(last))
	require.NoError(t, err)
	assert.True(t, rendered)
	assert.Equal(t, 3, sess.Cursor())
	assert.Equal(t, 45, grid.Len())
	assert.True(t, l.Stopped())

	_, ok := l.Observed()
	assert.False(t, ok)

	rendered, err = l.HandleEvent(ctx, visible(last))
	require.NoError(t, err)
	assert.False(t, rendered)
	assert.Equal(t, 3, rr.calls)
}

func TestLoader_IgnoresWeakOrForeignEvents(t *testing.T) {
	l, _, rr, _, grid := setup(t, 10, 5)
	ctx := context.Background()

	_, err := rr.RenderNextBatch(ctx)
	require.NoError(t, err)
	l.Rearm()
	last, _ := grid.Last()

	for _, ev := range []Event{
		{Item: last, Intersecting: false, Ratio: 1},
		{Item: last, Intersecting: true, Ratio: 0.1},
		{Item: render.Item{Record: extract.ImageRecord{ImageURL: "https://img/00.jpg"}}, Intersecting: true, Ratio: 1},
	} {
		rendered, err := l.HandleEvent(ctx, ev)
		require.NoError(t, err)
		assert.False(t, rendered)
	}
	assert.Equal(t, 1, rr.calls)
}

func TestLoader_PanelAndLoadingGuards(t *testing.T) {
	l, _, rr, sess, grid := setup(t, 10, 5)
	ctx := context.Background()

	_, err := rr.RenderNextBatch(ctx)
	require.NoError(t, err)
	l.Rearm()
	last, _ := grid.Last()

	sess.Panel.Set(true)
	rendered, _ := l.HandleEvent(ctx, visible(last))
	assert.False(t, rendered)
	sess.Panel.Set(false)

	require.True(t, sess.Loading.TryAcquire())
	rendered, _ = l.HandleEvent(ctx, visible(last))
	assert.False(t, rendered)
	sess.Loading.Release()

	sess.Searching.Set(true)
	rendered, _ = l.HandleEvent(ctx, visible(last))
	assert.False(t, rendered)
	assert.False(t, sess.Loading.Active())
	sess.Searching.Release()

	rendered, err = l.HandleEvent(ctx, visible(last))
	require.NoError(t, err)
	assert.True(t, rendered)
	assert.False(t, sess.Loading.Active())
}

func TestLoader_RearmAfterReplace(t *testing.T) {
	l, _, rr, sess, grid := setup(t, 4, 5)
	ctx := context.Background()

	_, err := rr.RenderNextBatch(ctx)
	require.NoError(t, err)
	l.Rearm()
	assert.True(t, l.Stopped())

	sess.Replace([]extract.ImageRecord{
		{ImageURL: "https://img/a.jpg"}, {ImageURL: "https://img/b.jpg"},
		{ImageURL: "https://img/c.jpg"}, {ImageURL: "https://img/d.jpg"},
		{ImageURL: "https://img/e.jpg"}, {ImageURL: "https://img/f.jpg"},
	}, nil)
	require.NoError(t, grid.Reset())
	_, err = rr.RenderNextBatch(ctx)
	require.NoError(t, err)

	l.Rearm()
	assert.False(t, l.Stopped())
	obs, ok := l.Observed()
	require.True(t, ok)
	assert.Equal(t, "https://img/e.jpg", obs.Record.ImageURL)
}

func TestLoader_RunWithAutoSource(t *testing.T) {
	sess := state.New()
	recs := make([]extract.ImageRecord, 23)
	for i := range recs {
		recs[i] = extract.ImageRecord{ImageURL: fmt.Sprintf("https://img/%02d.jpg", i)}
	}
	sess.Merge(recs, nil)

	grid, err := render.NewGrid(t.TempDir(), render.GridOptions{})
	require.NoError(t, err)
	r := render.New(sess, okLoader{}, grid, render.Options{BatchSize: 5, Workers: 2})

	l := New(Config{Source: NewAutoSource(), Renderer: r, Grid: grid, Session: sess, Options: Options{Threshold: 0.2}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = r.RenderNextBatch(ctx)
	require.NoError(t, err)
	l.Rearm()

	require.NoError(t, l.Run(ctx))
	assert.Equal(t, 23, grid.Len())
	assert.True(t, l.Stopped())
}

func TestPromptSource(t *testing.T) {
	var panel state.Flag
	var out bytes.Buffer
	src := NewPromptSource(strings.NewReader("p\n\np\n\nq\n"), &out, &panel, PromptOptions{})

	item := render.Item{Record: extract.ImageRecord{ImageURL: "https://img/last.jpg"}}
	src.Observe(item, Options{})

	events := src.Events()
	ev, ok := <-events
	require.True(t, ok)
	assert.Equal(t, "https://img/last.jpg", ev.Item.Record.ImageURL)
	assert.True(t, panel.Active())

	ev, ok = <-events
	require.True(t, ok)
	assert.True(t, ev.Intersecting)
	assert.False(t, panel.Active())

	_, ok = <-events
	assert.False(t, ok)
	assert.Contains(t, out.String(), "Panel open, loading paused.")
}

func TestPromptSource_StatusAndTheme(t *testing.T) {
	var panel state.Flag
	var out bytes.Buffer

	shown := []string{"Failed to load image: https://img/1.jpg"}
	dark := false
	src := NewPromptSource(strings.NewReader("t\nt\nq\n"), &out, &panel, PromptOptions{
		Status: func() (string, bool) {
			if len(shown) == 0 {
				return "", false
			}
			msg := shown[0]
			shown = shown[1:]
			return msg, true
		},
		ToggleTheme: func() (bool, error) {
			dark = !dark
			return dark, nil
		},
	})

	_, ok := <-src.Events()
	assert.False(t, ok)

	text := out.String()
	assert.Equal(t, 1, strings.Count(text, "! Failed to load image: https://img/1.jpg"))
	assert.Contains(t, text, "[t] toggle theme")
	assert.Less(t, strings.Index(text, "Dark theme."), strings.Index(text, "Light theme."))
	assert.False(t, dark)
}
