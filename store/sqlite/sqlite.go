/*
Package sqlite opens the SQLite-backed leave store.

PURPOSE:
  Configures github.com/mattn/go-sqlite3 for the engine and hands the
  connection to store/sqldb, which holds the queries shared with PostgreSQL.

CONCURRENCY:
  SQLite has no row locks. Every transaction is opened with BEGIN IMMEDIATE
  (_txlock=immediate), which takes the database write lock up front, and the
  pool is limited to one connection so transactions in this process run one
  at a time. SQLITE_BUSY and SQLITE_LOCKED from other processes surface as
  generic.ErrConcurrentModification and are retried by the caller.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Readers in other processes don't block the writer
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := leave.NewService(store, store)

  Use ":memory:" for an in-memory database.

MIGRATION:
  Schema is auto-migrated on New().
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/store/sqldb"
)

// Dialect is the SQLite flavour of the shared SQL store.
var Dialect = sqldb.Dialect{
	Name:          "sqlite",
	AmountType:    "TEXT",
	SerialKey:     "INTEGER PRIMARY KEY AUTOINCREMENT",
	ClassifyError: classify,
}

const pragmas = "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"

// New opens (or creates) the database at dbPath and migrates it.
func New(dbPath string) (*sqldb.Store, error) {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", dbPath+sep+pragmas)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := sqldb.New(db, Dialect)
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func classify(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return nil
	}
	switch se.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return generic.ErrConcurrentModification
	case sqlite3.ErrConstraint:
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return generic.ErrDuplicate
		}
	}
	return nil
}
