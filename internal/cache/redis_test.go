package cache

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestRedisEntryFreshness(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	entry := newEntry([]byte(`{"ok":true}`), 10*time.Second, now)

	fresh := entryResult(entry, now.Add(5*time.Second), time.Minute)
	if !fresh.Hit || fresh.Stale || fresh.TooStale || string(fresh.Value) != `{"ok":true}` {
		t.Fatalf("expected fresh hit, got %+v", fresh)
	}
	stale := entryResult(entry, now.Add(30*time.Second), time.Minute)
	if !stale.Stale || stale.TooStale {
		t.Fatalf("expected usable stale hit, got %+v", stale)
	}
	tooStale := entryResult(entry, now.Add(2*time.Minute), time.Minute)
	if !tooStale.TooStale {
		t.Fatalf("expected too stale, got %+v", tooStale)
	}
	if e := newEntry(nil, 0, now); e.TTLSeconds != 1 {
		t.Fatalf("expected minimum ttl of 1s, got %d", e.TTLSeconds)
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	url := os.Getenv("SEMI_TEST_REDIS_URL")
	if url == "" {
		t.Skip("SEMI_TEST_REDIS_URL not set")
	}
	store, err := OpenRedis(context.Background(), url)
	if err != nil {
		t.Fatalf("OpenRedis failed: %v", err)
	}
	defer store.Close()

	key := "test:" + time.Now().Format(time.RFC3339Nano)
	if err := store.Set(key, []byte("value"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	res, err := store.Get(key, time.Minute)
	if err != nil || !res.Hit || string(res.Value) != "value" {
		t.Fatalf("unexpected get result %+v err=%v", res, err)
	}
	miss, err := store.Get(key+":missing", time.Minute)
	if err != nil || miss.Hit {
		t.Fatalf("expected miss, got %+v err=%v", miss, err)
	}
}

func TestOpenRedisRejectsBadURL(t *testing.T) {
	if _, err := OpenRedis(context.Background(), "not-a-redis-url"); err == nil {
		t.Fatal("expected url parse error")
	}
}
