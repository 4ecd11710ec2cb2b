package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

const (
	lockWait = 5 * time.Second
	// Expired responses are kept this long for stale fallback before pruning.
	retention = 24 * time.Hour
)

var schema = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
	`CREATE TABLE IF NOT EXISTS responses (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		ttl_seconds INTEGER NOT NULL
	);`,
}

// Store is the local sqlite response cache. Writers serialize on a file lock
// so concurrent CLI invocations can share one database.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
	now  func() time.Time
}

func Open(path, lockPath string) (*Store, error) {
	for _, dir := range []string{filepath.Dir(path), filepath.Dir(lockPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init cache schema: %w", err)
		}
	}
	s := &Store{db: db, lock: flock.New(lockPath), now: time.Now}
	_ = s.Prune()
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Prune drops entries that expired more than the retention window ago.
func (s *Store) Prune() error {
	if s == nil || s.db == nil {
		return nil
	}
	cutoff := s.now().Add(-retention).Unix()
	if _, err := s.db.Exec("DELETE FROM responses WHERE created_at + ttl_seconds < ?", cutoff); err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}
	return nil
}

func (s *Store) Get(key string, maxStale time.Duration) (Result, error) {
	var e entry
	err := s.db.QueryRow("SELECT value, created_at, ttl_seconds FROM responses WHERE key = ?", key).
		Scan(&e.Value, &e.CreatedAt, &e.TTLSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return Result{}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("cache read: %w", err)
	}
	return entryResult(e, s.now(), maxStale), nil
}

func (s *Store) Set(key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), lockWait)
	defer cancel()
	locked, err := s.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return errors.New("lock cache: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	e := newEntry(value, ttl, s.now())
	_, err = s.db.Exec(`INSERT INTO responses (key, value, created_at, ttl_seconds) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, created_at=excluded.created_at, ttl_seconds=excluded.ttl_seconds`,
		key, e.Value, e.CreatedAt, e.TTLSeconds)
	if err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return nil
}
