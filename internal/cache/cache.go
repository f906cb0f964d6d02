// Package cache keeps previously fetched page payloads under a total byte
// budget. Entries are evicted oldest-stored first. A broken backend never
// fails the caller: the cache degrades to a permanent miss and warns once.
package cache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brogergvhs/coverd/internal/metrics"
)

type Options struct {
	Budget  int64
	Metrics *metrics.Metrics
	Log     interface {
		Warnf(string, ...any)
	}
	Now func() time.Time
}

type Stats struct {
	Entries  int
	Bytes    int64
	Budget   int64
	Degraded bool
}

// Probe reports whether key still resolves. A nil error with false means
// the key is definitely gone.
type Probe func(ctx context.Context, key string) (bool, error)

type Cache struct {
	store   Store
	budget  int64
	metrics *metrics.Metrics
	log     interface{ Warnf(string, ...any) }
	now     func() time.Time

	mu    sync.Mutex
	index map[string]Meta
	total int64

	degraded atomic.Bool
	warnOnce sync.Once
}

// New wraps store and loads its current contents into the size index.
func New(ctx context.Context, store Store, opts Options) *Cache {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Cache{
		store:   store,
		budget:  opts.Budget,
		metrics: opts.Metrics,
		log:     opts.Log,
		now:     opts.Now,
		index:   make(map[string]Meta),
	}

	metas, err := store.List(ctx)
	if err != nil {
		c.degrade(err)
		return c
	}

	for _, m := range metas {
		c.index[m.Key] = m
		c.total += m.Size
	}
	c.publish()

	return c
}

func (c *Cache) degrade(err error) {
	c.degraded.Store(true)
	c.warnOnce.Do(func() {
		if c.log != nil {
			c.log.Warnf("Cache unavailable, continuing without it: %v\n", err)
		}
		c.metrics.IncCache("degraded")
	})
}

func (c *Cache) Degraded() bool {
	return c.degraded.Load()
}

// publish must be called with mu held.
func (c *Cache) publish() {
	c.metrics.SetCacheSize(c.total, len(c.index))
}

// Get returns the cached payload for key. It does not refresh storedAt.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	if c.degraded.Load() {
		c.metrics.IncCache("miss")
		return "", false
	}

	e, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.degrade(err)
		c.metrics.IncCache("miss")
		return "", false
	}

	if !ok {
		c.metrics.IncCache("miss")
		return "", false
	}

	c.metrics.IncCache("hit")
	return e.Payload, true
}

// Put stores payload under key with the current time, replacing any previous
// entry, and then evicts until the budget holds again.
func (c *Cache) Put(ctx context.Context, key, payload string) {
	if c.degraded.Load() {
		return
	}

	e := Entry{Key: key, Payload: payload, StoredAt: c.now()}
	if err := c.store.Put(ctx, e); err != nil {
		c.degrade(err)
		return
	}
	c.metrics.IncCache("put")

	c.mu.Lock()
	if old, ok := c.index[key]; ok {
		c.total -= old.Size
	}
	c.index[key] = Meta{Key: key, Size: int64(len(payload)), StoredAt: e.StoredAt}
	c.total += int64(len(payload))
	c.mu.Unlock()

	c.Evict(ctx)
}

// Evict removes the oldest entries (ties broken by ascending key) while the
// total size exceeds the budget, and returns the removed keys in order.
func (c *Cache) Evict(ctx context.Context) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []string
	for c.total > c.budget && len(c.index) > 0 {
		victim := c.oldest()

		if err := c.store.Delete(ctx, victim.Key); err != nil {
			c.degrade(err)
			break
		}

		delete(c.index, victim.Key)
		c.total -= victim.Size
		removed = append(removed, victim.Key)
		c.metrics.IncCache("evict")
	}
	c.publish()

	return removed
}

func (c *Cache) oldest() Meta {
	var best Meta
	first := true
	for _, m := range c.index {
		if first ||
			m.StoredAt.Before(best.StoredAt) ||
			(m.StoredAt.Equal(best.StoredAt) && m.Key < best.Key) {
			best = m
			first = false
		}
	}
	return best
}

func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.store.Clear(ctx)
	c.index = make(map[string]Meta)
	c.total = 0
	c.publish()

	if err != nil && !c.degraded.Load() {
		c.degrade(err)
		return ErrDegraded
	}

	return nil
}

// DeleteIfStale removes key when probe reports it gone. Probe errors are
// returned untouched and leave the entry in place.
func (c *Cache) DeleteIfStale(ctx context.Context, key string, probe Probe) (bool, error) {
	alive, err := probe(ctx, key)
	if err != nil {
		return false, err
	}
	if alive {
		return false, nil
	}

	if c.degraded.Load() {
		return false, ErrDegraded
	}

	if err := c.store.Delete(ctx, key); err != nil {
		c.degrade(err)
		return false, ErrDegraded
	}

	c.mu.Lock()
	if m, ok := c.index[key]; ok {
		c.total -= m.Size
		delete(c.index, key)
	}
	c.publish()
	c.mu.Unlock()

	return true, nil
}

// Keys returns the cached keys oldest first.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	metas := make([]Meta, 0, len(c.index))
	for _, m := range c.index {
		metas = append(metas, m)
	}
	sort.Slice(metas, func(i, j int) bool {
		if metas[i].StoredAt.Equal(metas[j].StoredAt) {
			return metas[i].Key < metas[j].Key
		}
		return metas[i].StoredAt.Before(metas[j].StoredAt)
	})

	keys := make([]string, len(metas))
	for i, m := range metas {
		keys[i] = m.Key
	}
	return keys
}

func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Entries:  len(c.index),
		Bytes:    c.total,
		Budget:   c.budget,
		Degraded: c.degraded.Load(),
	}
}

func (c *Cache) Close() error {
	return c.store.Close()
}
