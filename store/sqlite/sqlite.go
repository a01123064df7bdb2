/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements ledger.Store (accounts, transactions, movements, invoices,
  cycles, both event logs and the checkpoint table) and notify.Store
  (inbound notifications) on SQLite through database/sql.

INTERFACES IMPLEMENTED:
  ledger.Store: Ledger reads + WithTx
  ledger.Tx:    Ledger writes, event appends, checkpoint moves
  notify.Store: Notification persistence and retention purge

KEY TABLES:
  accounts, transactions, exportable_movements, invoices, account_cycles
  billing_transaction_events:  Append-only, never pruned
  exportable_movement_changes: Append-only, pruned on acknowledge
  sync_checkpoints:            One row per event log
  notifications:               Inbound notifications

MONEY AND TIME:
  Decimals are stored as TEXT and parsed back with shopspring/decimal.
  Timestamps are stored as fixed-width UTC text (timeLayout) so string
  comparison in SQL matches chronological order. Dates use YYYY-MM-DD.

CONCURRENCY:
  The database is opened with _txlock=immediate, so write transactions take
  the SQLite write lock up front and serialize. WithTx additionally holds a
  process mutex. Reads inside WithTx go through the same *sql.Tx.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/movimientos.db", sqlite.WithClock(clock))
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Versioned SQL files under migrations/ are embedded and applied with
  golang-migrate on New().

SEE ALSO:
  - ledger/store.go: Interface definitions
  - notify/store.go: Notification store interface
  - migrate.go: Migration runner
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/movimientos/ledger"
)

// timeLayout is the storage format of timestamps.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// reader implements ledger.Reader over any querier.
type reader struct {
	q     querier
	clock ledger.Clock
}

// Store implements all storage interfaces using SQLite.
type Store struct {
	reader
	db *sql.DB
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for store-generated timestamps.
func WithClock(c ledger.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// New creates a new SQLite store with the given database path and applies
// pending migrations. Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return NewFromDB(db, opts...), nil
}

// NewFromDB wraps an already opened and migrated database handle.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	s := &Store{reader: reader{q: db, clock: ledger.SystemClock{}}, db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.Store interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{reader: reader{q: sqlTx, clock: s.clock}}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// txStore implements ledger.Tx on top of an open *sql.Tx.
type txStore struct {
	reader
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func formatDate(t time.Time) string {
	return t.UTC().Format(ledger.DateLayout)
}

func parseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(ledger.DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func intPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isConstraintError(err error) bool {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code == sqlite3.ErrConstraint
	}
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

// mapWriteError turns constraint failures into ledger.ErrConstraintViolation.
func mapWriteError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isConstraintError(err) {
		return fmt.Errorf("%s: %w: %v", op, ledger.ErrConstraintViolation, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// requireRow converts a zero-rows-affected result into notFound.
func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
