package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"schoolattend/internal/ledger"
	"schoolattend/internal/metrics"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
)

// Options selects and configures a snapshot backend.
type Options struct {
	Backend     string
	DatabaseURL string
	SQLiteDSN   string
	RedisAddr   string
	// Name is the snapshot row or key suffix.
	Name string
}

// Persistence is an opened backend. Close releases its connections.
type Persistence struct {
	ledger.Persister
	Backend string
	Close   func() error
}

// Open connects the configured backend and prepares its schema.
func Open(ctx context.Context, opts Options) (*Persistence, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return &Persistence{Persister: &Memory{}, Backend: BackendMemory, Close: func() error { return nil }}, nil
	case BackendPostgres, BackendSQLite:
		var (
			db  *DB
			err error
		)
		if opts.Backend == BackendPostgres {
			if opts.DatabaseURL == "" {
				return nil, errors.New("postgres backend needs DATABASE_URL")
			}
			db, err = NewDB(ctx, opts.DatabaseURL)
		} else {
			db, err = NewSQLite(ctx, opts.SQLiteDSN)
		}
		if err != nil {
			return nil, err
		}
		snaps := NewSQLSnapshots(db, opts.Name)
		if err := snaps.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create snapshot table: %w", err)
		}
		return &Persistence{Persister: snaps, Backend: opts.Backend, Close: db.Close}, nil
	case BackendRedis:
		r := NewRedis(opts.RedisAddr)
		if !r.Healthy(ctx) {
			_ = r.Close()
			return nil, fmt.Errorf("redis at %s is not reachable", opts.RedisAddr)
		}
		key := ""
		if opts.Name != "" {
			key = "schoolattend:" + opts.Name
		}
		return &Persistence{Persister: NewRedisSnapshots(r, key), Backend: BackendRedis, Close: r.Close}, nil
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", opts.Backend)
	}
}

// Restore loads the stored snapshot. When nothing is stored yet it falls back
// to seed, which may be nil for an empty ledger.
func Restore(ctx context.Context, p ledger.Persister, seed func() (ledger.Snapshot, error)) (ledger.Snapshot, error) {
	snap, err := p.Load(ctx)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, ledger.ErrNoSnapshot) {
		return ledger.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	if seed == nil {
		return ledger.Snapshot{}, nil
	}
	return seed()
}

// SeedFile returns a Restore seed reading a JSON snapshot from path, or nil
// when path is empty.
func SeedFile(path string) func() (ledger.Snapshot, error) {
	if path == "" {
		return nil
	}
	return func() (ledger.Snapshot, error) {
		f, err := os.Open(path)
		if err != nil {
			return ledger.Snapshot{}, fmt.Errorf("open seed: %w", err)
		}
		defer f.Close()
		return ledger.DecodeSnapshot(f)
	}
}

// Saver writes the ledger to a persister on an interval and once more on stop.
type Saver struct {
	store    *ledger.Store
	p        *Persistence
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewSaver creates a saver. m may be nil.
func NewSaver(store *ledger.Store, p *Persistence, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *Saver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Saver{store: store, p: p, interval: interval, metrics: m, logger: logger}
}

// Save writes the current snapshot once.
func (s *Saver) Save(ctx context.Context) error {
	start := time.Now()
	err := s.p.Save(ctx, s.store.Snapshot())
	s.metrics.SnapshotSaved(s.p.Backend, err)
	if err != nil {
		s.logger.ErrorContext(ctx, "snapshot save failed", "backend", s.p.Backend, "error", err)
		return err
	}
	s.logger.DebugContext(ctx, "snapshot saved", "backend", s.p.Backend, "duration", time.Since(start))
	return nil
}

// Run saves every interval until ctx is done, then saves a final time with a
// fresh deadline so shutdown does not lose the last writes.
func (s *Saver) Run(ctx context.Context) {
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
	loop:
		for {
			select {
			case <-ticker.C:
				_ = s.Save(ctx)
			case <-ctx.Done():
				break loop
			}
		}
	} else {
		<-ctx.Done()
	}
	final, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.Save(final)
}
