/*
Package sqldb implements leave.Backend over database/sql.

PURPOSE:
  One set of queries serves both SQL adapters. store/sqlite and
  store/postgres open the driver and hand this package a Dialect describing
  the differences: placeholder style, row locking, column types and how the
  driver reports lock conflicts and unique violations.

KEY TABLES:
  leave_types:     Reference data (approval chain as JSON)
  employees:       Directory records (holiday list)
  approvers:       Approver identity per (employee, role)
  holidays:        Holiday lists, recurring entries expanded by holiday/
  allocations:     Ledger rows, one per (employee, leave type, period)
  reservations:    Held / committed / released day holds
  leave_requests:  Requests and their lifecycle status
  leave_approvals: One row per (request, level)
  ledger_entries:  Append-only journal, unique idempotency key

LOCKING:
  Rows read through the transactional view use the dialect's FOR UPDATE
  suffix (PostgreSQL) or run inside an immediate write transaction
  (SQLite). Every UPDATE is additionally guarded by the row version or the
  expected status, and zero affected rows is reported as
  generic.ErrConcurrentModification.

ENCODING:
  Dates are TEXT "2006-01-02", timestamps TEXT RFC 3339, day amounts are
  decimal.Decimal (TEXT on SQLite, NUMERIC on PostgreSQL).

SEE ALSO:
  - leave/store.go: The interfaces implemented here
  - store/memory: The in-memory equivalent
*/
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// Dialect captures what differs between SQL engines.
type Dialect struct {
	Name string

	// NumberedParams rewrites "?" placeholders to "$1", "$2", ...
	NumberedParams bool

	// ForUpdate is appended to SELECTs made through the transactional view.
	ForUpdate string

	// TxPrelude runs at the start of every transaction.
	TxPrelude []string

	AmountType string // column type for day amounts
	SerialKey  string // auto-increment primary key column definition

	// ClassifyError returns generic.ErrConcurrentModification or
	// generic.ErrDuplicate for driver errors that mean either, nil otherwise.
	ClassifyError func(error) error
}

// Store implements leave.Backend.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ leave.Backend = (*Store)(nil)

// New wraps an open database. Call Migrate before first use.
func New(db *sql.DB, dialect Dialect) *Store {
	if dialect.ClassifyError == nil {
		dialect.ClassifyError = func(error) error { return nil }
	}
	return &Store{db: db, dialect: dialect}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	schema := strings.NewReplacer(
		"{{amount}}", s.dialect.AmountType,
		"{{serial}}", s.dialect.SerialKey,
	).Replace(schemaTemplate)

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect.Name, err)
		}
	}
	return nil
}

// Reset deletes every row. Used by the demo scenario loader.
func (s *Store) Reset(ctx context.Context) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer sqlTx.Rollback()
	for _, stmt := range resetStatements {
		if _, err := sqlTx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}
	return sqlTx.Commit()
}

var resetStatements = []string{
	"DELETE FROM ledger_entries",
	"DELETE FROM leave_approvals",
	"DELETE FROM leave_requests",
	"DELETE FROM reservations",
	"DELETE FROM allocations",
	"DELETE FROM holidays",
	"DELETE FROM approvers",
	"DELETE FROM employees",
	"DELETE FROM leave_types",
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction. If fn returns an error
// the transaction is rolled back, otherwise committed.
func (s *Store) WithTx(ctx context.Context, fn func(tx leave.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.classify(fmt.Errorf("begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	for _, stmt := range s.dialect.TxPrelude {
		if _, err := sqlTx.ExecContext(ctx, stmt); err != nil {
			return s.classify(fmt.Errorf("%s: %w", stmt, err))
		}
	}

	if err := fn(&txStore{tx: sqlTx, s: s}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return s.classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// rebind rewrites "?" placeholders for dialects with numbered parameters.
func (s *Store) rebind(query string) string {
	if !s.dialect.NumberedParams {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// classify maps driver errors onto the engine's sentinels, keeping the
// original message.
func (s *Store) classify(err error) error {
	if err == nil {
		return nil
	}
	if sentinel := s.dialect.ClassifyError(err); sentinel != nil {
		return fmt.Errorf("%w: %v", sentinel, err)
	}
	return err
}

// execOne runs a write and reports ErrConcurrentModification when it matched
// no row.
func (s *Store) execOne(ctx context.Context, q queryer, what, query string, args ...any) error {
	res, err := q.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return s.classify(fmt.Errorf("%s: %w", what, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, generic.ErrConcurrentModification)
	}
	return nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func notFound(what string, id any) error {
	return fmt.Errorf("%s %v: %w", what, id, leave.ErrNotFound)
}
