package cache

import "time"

// Backend is the response cache used by commands and the HTTP server.
type Backend interface {
	Get(key string, maxStale time.Duration) (Result, error)
	Set(key string, value []byte, ttl time.Duration) error
	Close() error
}

var (
	_ Backend = (*Store)(nil)
	_ Backend = (*RedisStore)(nil)
)

// Result is a cache lookup. Stale entries are still returned so callers can
// fall back to them when an upstream fails; TooStale marks entries past
// ttl+maxStale. A negative maxStale never marks an entry TooStale.
type Result struct {
	Hit      bool
	Value    []byte
	Age      time.Duration
	Stale    bool
	TooStale bool
}

type entry struct {
	Value      []byte `json:"value"`
	CreatedAt  int64  `json:"created_at"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

func newEntry(value []byte, ttl time.Duration, now time.Time) entry {
	ttlSeconds := int64(ttl.Seconds())
	if ttlSeconds <= 0 {
		ttlSeconds = 1
	}
	return entry{Value: value, CreatedAt: now.UTC().Unix(), TTLSeconds: ttlSeconds}
}

func entryResult(e entry, now time.Time, maxStale time.Duration) Result {
	age := now.Sub(time.Unix(e.CreatedAt, 0))
	if age < 0 {
		age = 0
	}
	ttl := time.Duration(e.TTLSeconds) * time.Second
	stale := age > ttl
	return Result{
		Hit:      true,
		Value:    e.Value,
		Age:      age,
		Stale:    stale,
		TooStale: stale && maxStale >= 0 && age > ttl+maxStale,
	}
}
