package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brogergvhs/coverd/internal/metrics"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) tick() { c.t = c.t.Add(time.Second) }

type warnRecorder struct{ lines []string }

func (w *warnRecorder) Warnf(format string, args ...any) {
	w.lines = append(w.lines, fmt.Sprintf(format, args...))
}

type brokenStore struct{ *MemoryStore }

var errBroken = errors.New("quota exceeded")

func (*brokenStore) Get(context.Context, string) (Entry, bool, error) {
	return Entry{}, false, errBroken
}
func (*brokenStore) Put(context.Context, Entry) error { return errBroken }

func newTestCache(t *testing.T, store Store, budget int64) (*Cache, *clock) {
	t.Helper()

	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	c := New(context.Background(), store, Options{Budget: budget, Now: clk.now})
	return c, clk
}

func TestCache_BudgetEvictsOldest(t *testing.T) {
	ctx := context.Background()
	c, clk := newTestCache(t, NewMemoryStore(), 1000)

	c.Put(ctx, "a", strings.Repeat("x", 400))
	clk.tick()
	c.Put(ctx, "b", strings.Repeat("x", 400))
	clk.tick()
	c.Put(ctx, "c", strings.Repeat("x", 400))

	assert.Equal(t, int64(800), c.Size())
	assert.Equal(t, []string{"b", "c"}, c.Keys())

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)
	got, ok := c.Get(ctx, "c")
	assert.True(t, ok)
	assert.Len(t, got, 400)
}

func TestCache_EvictTieBreaksByKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c, _ := newTestCache(t, store, 1000)

	// same timestamp for every entry
	for _, k := range []string{"m", "b", "z", "a"} {
		c.Put(ctx, k, strings.Repeat("x", 200))
	}
	assert.Equal(t, int64(800), c.Size())

	c.budget = 300
	removed := c.Evict(ctx)
	assert.Equal(t, []string{"a", "b", "m"}, removed)
	assert.Equal(t, []string{"z"}, c.Keys())
}

func TestCache_OversizedPayloadEvictsItself(t *testing.T) {
	ctx := context.Background()
	c, clk := newTestCache(t, NewMemoryStore(), 100)

	c.Put(ctx, "small", "tiny")
	clk.tick()
	c.Put(ctx, "huge", strings.Repeat("x", 101))

	assert.LessOrEqual(t, c.Size(), int64(100))
	_, ok := c.Get(ctx, "huge")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_PutReplacesEntry(t *testing.T) {
	ctx := context.Background()
	c, clk := newTestCache(t, NewMemoryStore(), 1000)

	c.Put(ctx, "src", "old payload")
	clk.tick()
	c.Put(ctx, "src", "new")

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(3), c.Size())
	got, _ := c.Get(ctx, "src")
	assert.Equal(t, "new", got)
}

func TestCache_GetDoesNotRefreshStoredAt(t *testing.T) {
	ctx := context.Background()
	c, clk := newTestCache(t, NewMemoryStore(), 10)

	c.Put(ctx, "a", "12345")
	clk.tick()
	c.Put(ctx, "b", "12345")
	clk.tick()

	_, _ = c.Get(ctx, "a")
	c.Put(ctx, "c", "1")

	assert.Equal(t, []string{"b", "c"}, c.Keys())
}

func TestCache_Clear(t *testing.T) {
	ctx := context.Background()
	m := metrics.New()
	c := New(ctx, NewMemoryStore(), Options{Budget: 1000, Metrics: m})

	c.Put(ctx, "a", "1")
	c.Put(ctx, "b", "2")
	require.NoError(t, c.Clear(ctx))

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.Size())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CacheEntries))
}

func TestCache_DegradesOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	warn := &warnRecorder{}
	m := metrics.New()
	c := New(ctx, &brokenStore{MemoryStore: NewMemoryStore()}, Options{Budget: 1000, Log: warn, Metrics: m})

	c.Put(ctx, "a", "payload")
	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "b")
	assert.False(t, ok)
	c.Put(ctx, "c", "payload")

	assert.True(t, c.Degraded())
	assert.Len(t, warn.lines, 1)
	assert.Contains(t, warn.lines[0], "quota exceeded")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheEvents.WithLabelValues("degraded")))
	assert.True(t, c.Stats().Degraded)
}

func TestCache_DeleteIfStale(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, NewMemoryStore(), 1000)

	c.Put(ctx, "alive", "1")
	c.Put(ctx, "dead", "22")
	c.Put(ctx, "flaky", "333")

	probe := func(_ context.Context, key string) (bool, error) {
		switch key {
		case "alive":
			return true, nil
		case "dead":
			return false, nil
		default:
			return false, errors.New("relay timeout")
		}
	}

	removed, err := c.DeleteIfStale(ctx, "alive", probe)
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = c.DeleteIfStale(ctx, "dead", probe)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = c.DeleteIfStale(ctx, "flaky", probe)
	assert.Error(t, err)
	assert.False(t, removed)

	assert.Equal(t, []string{"alive", "flaky"}, c.Keys())
	assert.Equal(t, int64(4), c.Size())
}

func TestCache_LoadsIndexFromStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Put(ctx, Entry{Key: "old", Payload: "abc", StoredAt: ts}))
	require.NoError(t, store.Put(ctx, Entry{Key: "new", Payload: "defg", StoredAt: ts.Add(time.Minute)}))

	c := New(ctx, store, Options{Budget: 1000})

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int64(7), c.Size())
	assert.Equal(t, []string{"old", "new"}, c.Keys())
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewSQLiteStore(dir)
	require.NoError(t, err)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Put(ctx, Entry{Key: "https://jnovels.com/", Payload: "<html/>", StoredAt: ts}))
	require.NoError(t, s.Put(ctx, Entry{Key: "https://jnovels.com/", Payload: "<html>v2</html>", StoredAt: ts.Add(time.Hour)}))

	e, ok, err := s.Get(ctx, "https://jnovels.com/")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "<html>v2</html>", e.Payload)
	assert.True(t, e.StoredAt.Equal(ts.Add(time.Hour)))

	require.NoError(t, s.Close())

	// reopen and check persistence through the cache index
	s, err = NewSQLiteStore(dir)
	require.NoError(t, err)
	defer s.Close()

	c := New(ctx, s, Options{Budget: 1000})
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(len("<html>v2</html>")), c.Size())

	require.NoError(t, c.Clear(ctx))
	_, ok, err = s.Get(ctx, "https://jnovels.com/")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("COVERD_TEST_REDIS")
	if addr == "" {
		t.Skip("COVERD_TEST_REDIS not set")
	}

	ctx := context.Background()
	s, err := NewRedisStore(addr, fmt.Sprintf("coverd-test-%d", time.Now().UnixNano()))
	require.NoError(t, err)
	defer s.Close()
	defer func() { _ = s.Clear(ctx) }()

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Put(ctx, Entry{Key: "k1", Payload: "hello", StoredAt: ts}))

	e, ok, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", e.Payload)

	metas, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, int64(5), metas[0].Size)

	require.NoError(t, s.Delete(ctx, "k1"))
	_, ok, err = s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open("etcd", "", "")
	assert.Error(t, err)
}
