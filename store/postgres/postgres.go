// Package postgres opens the PostgreSQL-backed leave store.
//
// The pool is a pgxpool.Pool exposed to store/sqldb through database/sql
// (pgx stdlib). Rows read inside a transaction are locked with
// SELECT ... FOR UPDATE, and every transaction sets lock_timeout so a
// blocked writer gives up and is retried instead of waiting indefinitely.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/store/sqldb"
)

// PostgreSQL error codes the store reacts to.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

type Options struct {
	MaxConns    int32
	LockTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{MaxConns: 10, LockTimeout: 2 * time.Second}
}

// Store is the shared SQL store plus the pool it runs on.
type Store struct {
	*sqldb.Store
	pool *pgxpool.Pool
}

// Dialect returns the PostgreSQL flavour of the shared SQL store.
func Dialect(lockTimeout time.Duration) sqldb.Dialect {
	d := sqldb.Dialect{
		Name:           "postgres",
		NumberedParams: true,
		ForUpdate:      " FOR UPDATE",
		AmountType:     "NUMERIC(12,4)",
		SerialKey:      "BIGSERIAL PRIMARY KEY",
		ClassifyError:  classify,
	}
	if lockTimeout > 0 {
		d.TxPrelude = []string{fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockTimeout.Milliseconds())}
	}
	return d
}

// Open connects to dsn, verifies the connection and migrates the schema.
func Open(ctx context.Context, dsn string, opts Options) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}
	config.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	store := sqldb.New(stdlib.OpenDBFromPool(pool), Dialect(opts.LockTimeout))
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		pool.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return &Store{Store: store, pool: pool}, nil
}

// Close releases the database handle and the pool.
func (s *Store) Close() error {
	err := s.Store.Close()
	s.pool.Close()
	return err
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return generic.ErrConcurrentModification
	case codeUniqueViolation:
		return generic.ErrDuplicate
	}
	return nil
}
