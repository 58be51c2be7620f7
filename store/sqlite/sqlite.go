/*
Package sqlite opens a SQLite-backed ledger store.

PURPOSE:
  Opens the go-sqlite3 driver and hands the connection to sqlstore with
  the SQLite dialect. All queries live in sqlstore.

CONCURRENCY:
  SQLite has no row-level locks. The store is opened with:
  - _txlock=immediate: BEGIN takes the write lock, so a transaction that
    reads a balance and then writes it can never interleave with another
  - one open connection: ":memory:" databases are per-connection, and a
    single connection keeps transactions strictly serialized
  - WAL journal and a busy timeout for file databases

USAGE:
  store, err := sqlite.New(ctx, "./data/ledger.db", log)
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := ledger.NewService(store)

SEE ALSO:
  - store/sqlstore: shared implementation and migrations
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/warp/supply-ledger/store/sqlstore"
)

// New opens (and migrates) a SQLite store at dbPath.
// Use ":memory:" for an in-memory database.
func New(ctx context.Context, dbPath string, log logrus.FieldLogger) (*sqlstore.Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_txlock=immediate&_busy_timeout=5000"
	if dbPath != ":memory:" {
		dsn += "&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store, err := sqlstore.Open(ctx, db, sqlstore.SQLite.WithUniqueViolation(isUniqueConstraintError), log)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
