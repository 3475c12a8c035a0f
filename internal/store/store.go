// Package store keeps a local ledger of submitted swaps so their status can
// be listed and revisited after the process that sent them exits.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	clierr "github.com/ggonzalez94/cdp-cli/internal/errors"
	"github.com/ggonzalez94/cdp-cli/internal/swap"
)

const (
	KindAccount      = "account"
	KindSmartAccount = "smart-account"
)

// Record is one swap submission.
type Record struct {
	ID           string `json:"id"`
	QuoteID      string `json:"quote_id"`
	Account      string `json:"account"`
	Network      string `json:"network"`
	Kind         string `json:"kind"`
	TxHash       string `json:"transaction_hash,omitempty"`
	UserOpHash   string `json:"user_op_hash,omitempty"`
	Status       string `json:"status"`
	// WaitTimedOut records that the submit-time wait gave up. Such swaps are
	// kept pending until a refresh sees a final user-operation status.
	WaitTimedOut bool   `json:"wait_timed_out,omitempty"`
	FromToken    string `json:"from_token"`
	ToToken      string `json:"to_token"`
	FromAmount   string `json:"from_amount"`
	ToAmount     string `json:"to_amount"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

func NewRecordID() string {
	return "swp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// FromResult builds a fresh record for a swap result. A result whose wait
// timed out is recorded as pending so it can be refreshed later.
func FromResult(res *swap.Result, acct, kind string) Record {
	now := time.Now().UTC().Format(time.RFC3339)
	status := res.Status
	if res.WaitTimedOut {
		status = swap.StatusPending
	}
	return Record{
		ID:           NewRecordID(),
		QuoteID:      res.QuoteID,
		Account:      acct,
		Network:      res.Network,
		Kind:         kind,
		TxHash:       res.TransactionHash,
		UserOpHash:   res.UserOpHash,
		Status:       status,
		WaitTimedOut: res.WaitTimedOut,
		FromToken:    res.FromToken,
		ToToken:      res.ToToken,
		FromAmount:   res.FromAmount,
		ToAmount:     res.ToAmount,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Refreshable reports whether a later user-operation poll can change the
// record's status.
func (r Record) Refreshable() bool {
	return r.Kind == KindSmartAccount && r.Status == swap.StatusPending && r.UserOpHash != ""
}

type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create swap store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create swap lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open swap sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS swaps (
			id TEXT PRIMARY KEY,
			quote_id TEXT NOT NULL,
			account TEXT NOT NULL,
			network TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_swaps_status_updated ON swaps(status, updated_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init swap schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save inserts or replaces rec. UpdatedAt is refreshed on every save.
func (s *Store) Save(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		return clierr.New(clierr.CodeUsage, "save swap: missing id")
	}
	locked, err := s.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock swap store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock swap store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	now := time.Now().UTC()
	if rec.CreatedAt == "" {
		rec.CreatedAt = now.Format(time.RFC3339)
	}
	rec.UpdatedAt = now.Format(time.RFC3339)
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal swap: %w", err)
	}
	createdUnix, ok := parseRFC3339Unix(rec.CreatedAt)
	if !ok {
		createdUnix = now.Unix()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO swaps (id, quote_id, account, network, status, created_at, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			updated_at=excluded.updated_at,
			payload=excluded.payload
	`, rec.ID, rec.QuoteID, strings.ToLower(rec.Account), rec.Network, rec.Status, createdUnix, now.UnixNano(), payload)
	if err != nil {
		return fmt.Errorf("save swap: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM swaps WHERE id = ?", id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, clierr.Newf(clierr.CodeNotFound, "swap not found: %s", id)
		}
		return Record{}, fmt.Errorf("read swap: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, fmt.Errorf("decode swap payload: %w", err)
	}
	return rec, nil
}

// List returns the most recently updated records, optionally filtered by
// status.
func (s *Store) List(ctx context.Context, status string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(status) == "" {
		rows, err = s.db.QueryContext(ctx, "SELECT payload FROM swaps ORDER BY updated_at DESC LIMIT ?", limit)
	} else {
		rows, err = s.db.QueryContext(ctx, "SELECT payload FROM swaps WHERE status = ? ORDER BY updated_at DESC LIMIT ?", status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list swaps: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan swap row: %w", err)
		}
		var rec Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("decode swap row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swap rows: %w", err)
	}
	return records, nil
}

func parseRFC3339Unix(v string) (int64, bool) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0, false
	}
	return t.UTC().Unix(), true
}
