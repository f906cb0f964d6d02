package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrDegraded = errors.New("cache backend unavailable")

type Entry struct {
	Key      string
	Payload  string
	StoredAt time.Time
}

// Meta is an entry without its payload; enough to enforce the budget.
type Meta struct {
	Key      string
	Size     int64
	StoredAt time.Time
}

// Store is the key-value persistence primitive behind the cache.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, e Entry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	List(ctx context.Context) ([]Meta, error)
	Close() error
}

// Open builds the backend named by kind: memory, sqlite or redis.
func Open(kind, dir, redisAddr string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(dir)
	case "redis":
		return NewRedisStore(redisAddr, "coverd")
	default:
		return nil, fmt.Errorf("unknown cache backend %q", kind)
	}
}

type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	return e, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[e.Key] = e
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]Entry)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Meta, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, Meta{Key: e.Key, Size: int64(len(e.Payload)), StoredAt: e.StoredAt})
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
