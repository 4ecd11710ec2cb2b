package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "semi:cache:"
	redisOpTimeout = 2 * time.Second
	// Entries outlive their TTL so stale reads stay possible.
	redisRetention = 24 * time.Hour
)

// RedisStore shares cached responses between server replicas.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// OpenRedis connects using a redis:// URL and verifies the connection.
func OpenRedis(ctx context.Context, rawURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis at %s: %w", opts.Addr, err)
	}
	return &RedisStore{client: client, now: time.Now}, nil
}

func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) Get(key string, maxStale time.Duration) (Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	raw, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Result{Hit: false}, nil
		}
		return Result{}, fmt.Errorf("cache read: %w", err)
	}
	var e entry
	if err := jsoniter.Unmarshal(raw, &e); err != nil {
		return Result{}, fmt.Errorf("decode cache entry: %w", err)
	}
	return entryResult(e, s.now(), maxStale), nil
}

func (s *RedisStore) Set(key string, value []byte, ttl time.Duration) error {
	e := newEntry(value, ttl, s.now())
	raw, err := jsoniter.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	expiry := time.Duration(e.TTLSeconds)*time.Second + redisRetention
	if err := s.client.Set(ctx, redisKeyPrefix+key, raw, expiry).Err(); err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return nil
}
