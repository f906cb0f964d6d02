package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one hash per entry plus a set indexing the keys, so
// List and Clear never need SCAN.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(addr, prefix string) (*RedisStore, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis %s: %w", addr, err)
	}

	return &RedisStore{client: rdb, prefix: prefix}, nil
}

func (s *RedisStore) entryKey(key string) string {
	return fmt.Sprintf("%s:entry:%s", s.prefix, key)
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":keys"
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	vals, err := s.client.HGetAll(ctx, s.entryKey(key)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(vals) == 0) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	ts, _ := strconv.ParseInt(vals["stored_at"], 10, 64)
	return Entry{Key: key, Payload: vals["payload"], StoredAt: time.Unix(0, ts)}, true, nil
}

func (s *RedisStore) Put(ctx context.Context, e Entry) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.entryKey(e.Key),
			"payload", e.Payload,
			"size", len(e.Payload),
			"stored_at", e.StoredAt.UnixNano(),
		)
		p.SAdd(ctx, s.indexKey(), e.Key)
		return nil
	})
	return err
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.entryKey(key))
		p.SRem(ctx, s.indexKey(), key)
		return nil
	})
	return err
}

func (s *RedisStore) Clear(ctx context.Context) error {
	keys, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return err
	}

	del := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		del = append(del, s.entryKey(k))
	}
	del = append(del, s.indexKey())

	return s.client.Del(ctx, del...).Err()
}

func (s *RedisStore) List(ctx context.Context) ([]Meta, error) {
	keys, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Meta, 0, len(keys))
	for _, k := range keys {
		vals, err := s.client.HMGet(ctx, s.entryKey(k), "size", "stored_at").Result()
		if err != nil {
			return nil, err
		}
		if vals[0] == nil {
			// index points at an entry that expired or was removed elsewhere
			continue
		}

		size, _ := strconv.ParseInt(fmt.Sprint(vals[0]), 10, 64)
		ts, _ := strconv.ParseInt(fmt.Sprint(vals[1]), 10, 64)
		out = append(out, Meta{Key: k, Size: size, StoredAt: time.Unix(0, ts)})
	}

	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
