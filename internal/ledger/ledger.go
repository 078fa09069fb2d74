package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema
// 1 - Added index on attempts.product_id
const currentSchemaVersion = 1

// ErrUnknownAttempt is returned when finishing an attempt that was never started.
var ErrUnknownAttempt = errors.New("unknown attempt")

// ErrUnknownTransaction is returned when finalizing a transaction that was never recorded.
var ErrUnknownTransaction = errors.New("unknown transaction")

// Ledger provides durable storage for purchase attempts, transactions and
// attribution syncs. Uses SQLite with WAL mode for concurrent read access.
type Ledger struct {
	db    *sql.DB
	clock *Clock
	now   func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithNow overrides the wall clock used for started/finished/synced timestamps.
func WithNow(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// Open creates or opens a SQLite ledger at the given path.
// Applies required pragmas and migrations automatically, then resumes the
// logical clock after the highest stored seq.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
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

	l := &Ledger{db: db, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}

	last, err := l.lastSeq(context.Background())
	if err != nil {
		db.Close()
		return nil, err
	}
	l.clock = NewClockAt(last)

	return l, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Ledger methods when available.
func (l *Ledger) DB() *sql.DB {
	return l.db
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
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

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 indexes attempts by product for per-product history listings.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_attempts_product
		ON attempts(product_id, seq)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// lastSeq returns the highest seq number used in the ledger.
func (l *Ledger) lastSeq(ctx context.Context) (int64, error) {
	var maxSeq int64
	for _, table := range []string{"attempts", "transactions", "attribution_syncs"} {
		var seq int64
		query := fmt.Sprintf("SELECT COALESCE(MAX(seq), 0) FROM %s", table)
		if err := l.db.QueryRowContext(ctx, query).Scan(&seq); err != nil {
			return 0, fmt.Errorf("get last seq from %s: %w", table, err)
		}
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	return maxSeq, nil
}

func (l *Ledger) timestamp() string {
	return l.now().UTC().Format(time.RFC3339Nano)
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (l *Ledger) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := l.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
