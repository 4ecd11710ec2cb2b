package cache

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	tmp := t.TempDir()
	store, err := Open(filepath.Join(tmp, "cache.db"), filepath.Join(tmp, "cache.lock"))
	if err != nil {
		t.Fatalf("Open cache failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	clock := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return clock }
	return store, &clock
}

func TestStoreFreshStaleAndTooStale(t *testing.T) {
	store, clock := openTestStore(t)
	if err := store.Set("balances|a", []byte(`{"native":"1"}`), 30*time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	res, err := store.Get("balances|a", time.Minute)
	if err != nil || !res.Hit || res.Stale || string(res.Value) != `{"native":"1"}` {
		t.Fatalf("expected fresh hit, got %+v err=%v", res, err)
	}

	*clock = clock.Add(45 * time.Second)
	res, _ = store.Get("balances|a", time.Minute)
	if !res.Stale || res.TooStale || res.Age != 45*time.Second {
		t.Fatalf("expected stale within budget, got %+v", res)
	}

	*clock = clock.Add(2 * time.Minute)
	res, _ = store.Get("balances|a", time.Minute)
	if !res.TooStale {
		t.Fatalf("expected too stale, got %+v", res)
	}
	if res, _ := store.Get("balances|a", -1); res.TooStale {
		t.Fatalf("negative max stale must disable the budget, got %+v", res)
	}
}

func TestStoreMissAndOverwrite(t *testing.T) {
	store, _ := openTestStore(t)
	if res, err := store.Get("missing", time.Minute); err != nil || res.Hit {
		t.Fatalf("expected miss, got %+v err=%v", res, err)
	}
	_ = store.Set("k", []byte("1"), time.Minute)
	_ = store.Set("k", []byte("2"), time.Minute)
	if res, _ := store.Get("k", time.Minute); string(res.Value) != "2" {
		t.Fatalf("expected overwrite, got %s", res.Value)
	}
}

func TestPruneKeepsEntriesUsableForStaleFallback(t *testing.T) {
	store, clock := openTestStore(t)
	_ = store.Set("recent", []byte("r"), time.Minute)
	*clock = clock.Add(-48 * time.Hour)
	_ = store.Set("ancient", []byte("a"), time.Minute)
	*clock = clock.Add(48*time.Hour + time.Hour)

	if err := store.Prune(); err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if res, _ := store.Get("recent", -1); !res.Hit {
		t.Fatal("expired entry inside retention must survive pruning")
	}
	if res, _ := store.Get("ancient", -1); res.Hit {
		t.Fatal("entry past retention must be pruned")
	}
}

func TestStoreConcurrentWriters(t *testing.T) {
	tmp := t.TempDir()
	dbPath := filepath.Join(tmp, "cache.db")
	lockPath := filepath.Join(tmp, "cache.lock")

	const workers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			store, err := Open(dbPath, lockPath)
			if err != nil {
				errCh <- fmt.Errorf("worker %d open: %w", w, err)
				return
			}
			defer store.Close()
			for i := 0; i < 25; i++ {
				key := fmt.Sprintf("nfts|%d|%d", w, i)
				if err := store.Set(key, []byte(`[]`), time.Minute); err != nil {
					errCh <- fmt.Errorf("worker %d set %d: %w", w, i, err)
					return
				}
				if res, err := store.Get(key, time.Minute); err != nil || !res.Hit {
					errCh <- fmt.Errorf("worker %d get %d: hit=%v err=%v", w, i, res.Hit, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}
}
