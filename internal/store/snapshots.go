package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"schoolattend/internal/ledger"
)

// DefaultSnapshotName is the row or key the ledger snapshot is stored under.
const DefaultSnapshotName = "ledger"

func encode(snap ledger.Snapshot) ([]byte, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return raw, nil
}

func decode(raw []byte) (ledger.Snapshot, error) {
	return ledger.DecodeSnapshot(bytes.NewReader(raw))
}

// SQLSnapshots keeps the snapshot as one JSON document per name in a table.
type SQLSnapshots struct {
	db   *sql.DB
	name string
	// postgres binds $n, sqlite binds ?
	postgres bool
}

// NewSQLSnapshots stores snapshots in db under name.
func NewSQLSnapshots(db *DB, name string) *SQLSnapshots {
	if name == "" {
		name = DefaultSnapshotName
	}
	return &SQLSnapshots{db: db.Client, name: name, postgres: db.driver == "pgx"}
}

func (s *SQLSnapshots) bind(q string) string {
	if !s.postgres {
		return q
	}
	var b bytes.Buffer
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EnsureSchema creates the snapshot table when missing.
func (s *SQLSnapshots) EnsureSchema(ctx context.Context) error {
	bodyType := "TEXT"
	if s.postgres {
		bodyType = "JSONB"
	}
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_snapshots (
			name     TEXT PRIMARY KEY,
			body     `+bodyType+` NOT NULL,
			saved_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// Load returns the stored snapshot or ledger.ErrNoSnapshot.
func (s *SQLSnapshots) Load(ctx context.Context) (ledger.Snapshot, error) {
	var raw []byte
	row := s.db.QueryRowContext(ctx, s.bind(`SELECT body FROM ledger_snapshots WHERE name = ?`), s.name)
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Snapshot{}, ledger.ErrNoSnapshot
		}
		return ledger.Snapshot{}, err
	}
	return decode(raw)
}

// Save replaces the stored snapshot.
func (s *SQLSnapshots) Save(ctx context.Context, snap ledger.Snapshot) error {
	raw, err := encode(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.bind(`
		INSERT INTO ledger_snapshots (name, body, saved_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (name) DO UPDATE SET body = excluded.body, saved_at = excluded.saved_at
	`), s.name, string(raw))
	return err
}

// RedisSnapshots keeps the snapshot as a JSON string under one key.
type RedisSnapshots struct {
	client *redis.Client
	key    string
}

// NewRedisSnapshots stores snapshots under key.
func NewRedisSnapshots(r *Redis, key string) *RedisSnapshots {
	if key == "" {
		key = "schoolattend:" + DefaultSnapshotName
	}
	return &RedisSnapshots{client: r.Client, key: key}
}

// Load returns the stored snapshot or ledger.ErrNoSnapshot.
func (s *RedisSnapshots) Load(ctx context.Context) (ledger.Snapshot, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ledger.Snapshot{}, ledger.ErrNoSnapshot
		}
		return ledger.Snapshot{}, err
	}
	return decode(raw)
}

// Save replaces the stored snapshot.
func (s *RedisSnapshots) Save(ctx context.Context, snap ledger.Snapshot) error {
	raw, err := encode(snap)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key, raw, 0).Err()
}

// Memory keeps the last saved snapshot in process, for dev and tests.
type Memory struct {
	mu   sync.Mutex
	raw  []byte
	hits int
}

// Load returns the stored snapshot or ledger.ErrNoSnapshot.
func (m *Memory) Load(context.Context) (ledger.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.raw == nil {
		return ledger.Snapshot{}, ledger.ErrNoSnapshot
	}
	return decode(m.raw)
}

// Save replaces the stored snapshot.
func (m *Memory) Save(_ context.Context, snap ledger.Snapshot) error {
	raw, err := encode(snap)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw = raw
	m.hits++
	return nil
}

// Saves reports how many times Save succeeded.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits
}
