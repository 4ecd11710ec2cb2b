package execution

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var ErrTransferNotFound = errors.New("transfer not found")

// Journal persists transfer attempts so they can be inspected after the fact.
type Journal struct {
	db   *sql.DB
	lock *flock.Flock
}

func OpenJournal(path, lockPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create transfer journal directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create transfer lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open transfer sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS transfers (
			transfer_id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			status TEXT NOT NULL,
			chain_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_transfers_status_updated ON transfers(status, updated_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init transfer schema: %w", err)
		}
	}
	return &Journal{db: db, lock: flock.New(lockPath)}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) Save(t Transfer) error {
	if strings.TrimSpace(t.TransferID) == "" {
		return fmt.Errorf("save transfer: missing transfer id")
	}
	locked, err := j.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock transfer journal: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock transfer journal: timeout acquiring lock")
	}
	defer func() { _ = j.lock.Unlock() }()

	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal transfer: %w", err)
	}
	createdUnix, _ := parseRFC3339Unix(t.CreatedAt)
	updatedUnix, _ := parseRFC3339Unix(t.UpdatedAt)
	if createdUnix == 0 {
		createdUnix = time.Now().UTC().Unix()
	}
	if updatedUnix == 0 {
		updatedUnix = time.Now().UTC().Unix()
	}

	_, err = j.db.Exec(`
		INSERT INTO transfers (transfer_id, mode, status, chain_id, created_at, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transfer_id) DO UPDATE SET
			status=excluded.status,
			updated_at=excluded.updated_at,
			payload=excluded.payload
	`, t.TransferID, t.Mode, t.Status, t.ChainID, createdUnix, updatedUnix, payload)
	if err != nil {
		return fmt.Errorf("save transfer: %w", err)
	}
	return nil
}

func (j *Journal) Get(transferID string) (Transfer, error) {
	var payload []byte
	err := j.db.QueryRow("SELECT payload FROM transfers WHERE transfer_id = ?", transferID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transfer{}, fmt.Errorf("%w: %s", ErrTransferNotFound, transferID)
		}
		return Transfer{}, fmt.Errorf("read transfer: %w", err)
	}
	var t Transfer
	if err := json.Unmarshal(payload, &t); err != nil {
		return Transfer{}, fmt.Errorf("decode transfer payload: %w", err)
	}
	return t, nil
}

func (j *Journal) List(status string, limit int) ([]Transfer, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(status) == "" {
		rows, err = j.db.Query("SELECT payload FROM transfers ORDER BY updated_at DESC, created_at DESC LIMIT ?", limit)
	} else {
		rows, err = j.db.Query("SELECT payload FROM transfers WHERE status = ? ORDER BY updated_at DESC, created_at DESC LIMIT ?", status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	out := make([]Transfer, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan transfer row: %w", err)
		}
		var t Transfer
		if err := json.Unmarshal(payload, &t); err != nil {
			return nil, fmt.Errorf("decode transfer row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer rows: %w", err)
	}
	return out, nil
}

func parseRFC3339Unix(v string) (int64, bool) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0, false
	}
	return t.UTC().Unix(), true
}
