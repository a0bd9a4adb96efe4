package localstore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/fellowship/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema
// 1 - Added (kind, seq) index for ordered collection reads
const currentSchemaVersion = 1

// CommitHook runs inside the write transaction after entity has been
// upserted into kind. See the package documentation for failure semantics.
type CommitHook interface {
	OnEntityCommitted(ctx context.Context, tx *Tx, kind domain.Kind, entity domain.Entity) error
}

// CommitHookFunc adapts a function to CommitHook.
type CommitHookFunc func(ctx context.Context, tx *Tx, kind domain.Kind, entity domain.Entity) error

// OnEntityCommitted calls f.
func (f CommitHookFunc) OnEntityCommitted(ctx context.Context, tx *Tx, kind domain.Kind, entity domain.Entity) error {
	return f(ctx, tx, kind, entity)
}

// Store is the local persistent store.
type Store struct {
	db     *sql.DB
	clock  *Clock
	now    func() time.Time
	queues map[domain.Kind]*writeQueue

	hooksMu sync.RWMutex
	hooks   []CommitHook

	closeOnce sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithNow overrides the wall clock used for updated_at.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open creates or opens a SQLite database at path and starts one write
// queue per kind. Pragmas and migrations are applied on every open; Open
// is idempotent.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite has a single writer; one connection also means a transaction
	// owns the database until it finishes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	var maxSeq int64
	err = db.QueryRow(`
		SELECT MAX(m) FROM (
			SELECT COALESCE(MAX(seq), 0) AS m FROM records
			UNION ALL SELECT COALESCE(MAX(seq), 0) FROM command_log
			UNION ALL SELECT COALESCE(MAX(seq), 0) FROM projections
		)
	`).Scan(&maxSeq)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read sequence: %w", err)
	}

	s := &Store{
		db:     db,
		clock:  NewClockAt(maxSeq),
		now:    time.Now,
		queues: make(map[domain.Kind]*writeQueue, len(domain.Kinds)),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, kind := range domain.Kinds {
		q := newWriteQueue(kind)
		go q.run()
		s.queues[kind] = q
	}

	return s, nil
}

// Use registers a commit hook. Hooks run in registration order.
func (s *Store) Use(h CommitHook) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, h)
}

func (s *Store) commitHooks() []CommitHook {
	s.hooksMu.RLock()
	defer s.hooksMu.RUnlock()
	return append([]CommitHook(nil), s.hooks...)
}

// Close drains every write queue, then closes the database.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		for _, q := range s.queues {
			q.Close()
		}
		for _, q := range s.queues {
			<-q.stopped
		}
		err = s.db.Close()
	})
	return err
}

// DB returns the underlying sql.DB for diagnostics and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_records_kind_seq ON records(kind, seq)`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
