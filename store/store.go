// Package store provides the typed query/update primitives every
// repository in package repository is built on: a gorm.DB-backed relational
// connection, a transaction helper, and the case-insensitive key and
// cursor-pagination conventions spec.md §4.1 requires.
//
// The contract generalizes the teacher's storage/database.DBManager
// interface (storage/database/db_manager.go): that interface exposed many
// chain-specific typed accessors over a key-value engine, this one exposes
// few typed relational primitives plus the cursor codec, because the
// backing engine here is a relational store rather than a block index.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jinzhu/gorm"
	_ "github.com/go-sql-driver/mysql"

	"github.com/vaultworks/reconcore/internal/config"
	"github.com/vaultworks/reconcore/internal/log"
)

var logger = log.NewModuleLogger("store")

// Store wraps the relational connection pool. It is constructed once at
// process start (service.Container) and passed explicitly to every
// repository — the only process-wide shared mutable resource, per
// spec.md §5.
type Store struct {
	db *gorm.DB
}

// Open establishes the connection pool described by cfg.
func Open(cfg config.StoreConfig) (*Store, error) {
	db, err := gorm.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.DB().SetMaxOpenConns(cfg.MaxOpenConns)
	db.DB().SetMaxIdleConns(cfg.MaxIdleConns)
	db.DB().SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifeMins) * time.Minute)
	return &Store{db: db}, nil
}

// Close tears down the pool. Called once at shutdown.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying gorm handle for repositories to build queries
// against. Repositories never hold a raw *sql.DB directly; they always go
// through Store so isolation level and SKIP LOCKED support stay in one
// place.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// txKey is the context key Tx uses to thread the active transaction's
// *gorm.DB through nested repository calls.
type txKey struct{}

// Tx runs fn within a database transaction at the given isolation level.
// Repositories that need SERIALIZABLE (the reconciliation job claim, the
// workflow optimistic update) request it explicitly; everything else
// defaults to the driver's default (REPEATABLE READ on MySQL-compatible
// engines).
func (s *Store) Tx(ctx context.Context, isolation sql.IsolationLevel, fn func(ctx context.Context) error) error {
	tx := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: isolation})
	if tx.Error != nil {
		return fmt.Errorf("begin tx: %w", tx.Error)
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback().Error; rbErr != nil {
			logger.Error("rollback failed after error", "err", rbErr, "cause", err)
		}
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Conn returns the *gorm.DB to issue queries against: the active
// transaction if ctx carries one (set by Tx), otherwise the pool handle.
func (s *Store) Conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return s.db
}

// Now returns the DB server's notion of the current time where a query
// needs it to be computed server-side (e.g. updatedAt refresh).
// Repositories otherwise take timestamps from time.Now directly; only
// reconcile.Engine and classify.Worker go through the injected clock.Clock.
func (s *Store) Now() string {
	return "UTC_TIMESTAMP(3)"
}
