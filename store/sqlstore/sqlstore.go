/*
Package sqlstore provides the database/sql implementation of ledger.Store.

PURPOSE:
  One implementation of the ledger persistence contract shared by SQLite,
  PostgreSQL and MySQL. The packages store/sqlite, store/postgres and
  store/mysql only open the driver and pick a Dialect.

DIALECTS:
  Queries are written once with '?' placeholders. The Dialect rebinds
  them ($1, $2, ... on PostgreSQL), supplies the row-lock suffix and the
  insert-if-absent form used for lazy rows:

                 placeholder  row lock     insert-if-absent
    sqlite3      ?            (none)       INSERT OR IGNORE
    postgres     $n           FOR UPDATE   ON CONFLICT DO NOTHING
    mysql        ?            FOR UPDATE   INSERT IGNORE

  A live advance or a settlement that does not exist yet cannot be locked
  with FOR UPDATE, so two transactions may both pass the check. The
  unique indexes decide the race and the loser's violation is mapped to
  ErrSupplierHasUnsettledAdvance or ErrDuplicateSettlement.

  SQLite has no row locks. It is opened with _txlock=immediate and a
  single connection, so every transaction holds the database write lock
  from BEGIN to COMMIT.

KEY TABLES:
  users, balances, balance_movements, stock_entries, advances,
  advance_consumptions, documents, settlements, payments, deliveries,
  transfers, register_head, register_entries, fund_requests

  Append-ordered tables carry an auto-increment pos column so listings
  keep insertion order even when timestamps tie.

MIGRATIONS:
  Versioned SQL files per dialect under migrations/, embedded in the
  binary and applied with goose on Open.

SEE ALSO:
  - ledger/store.go: the contract implemented here
  - store/storetest: contract suite run against every backend
*/
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	"github.com/warp/supply-ledger/ledger"
)

//go:embed migrations/*/*.sql
var migrations embed.FS

// Dialect captures the SQL differences between backends.
type Dialect struct {
	// Name is the goose dialect name.
	Name string
	// Dir is the migrations subdirectory.
	Dir          string
	dollar       bool
	forUpdate    string
	ignorePrefix string
	ignoreSuffix string

	// uniqueViolation reports whether err is the driver's unique
	// constraint error. Set by the backend package.
	uniqueViolation func(error) bool
}

var (
	SQLite = Dialect{
		Name:         "sqlite3",
		Dir:          "sqlite",
		ignorePrefix: "INSERT OR IGNORE INTO ",
	}
	Postgres = Dialect{
		Name:         "postgres",
		Dir:          "postgres",
		dollar:       true,
		forUpdate:    " FOR UPDATE",
		ignorePrefix: "INSERT INTO ",
		ignoreSuffix: " ON CONFLICT DO NOTHING",
	}
	MySQL = Dialect{
		Name:         "mysql",
		Dir:          "mysql",
		forUpdate:    " FOR UPDATE",
		ignorePrefix: "INSERT IGNORE INTO ",
	}
)

// WithUniqueViolation returns a copy of d that recognises the driver's
// unique constraint error, so inserts racing on a unique index fail with
// the matching ledger error instead of an internal one.
func (d Dialect) WithUniqueViolation(fn func(error) bool) Dialect {
	d.uniqueViolation = fn
	return d
}

// rebind rewrites '?' placeholders for the dialect.
func (d Dialect) rebind(query string) string {
	if !d.dollar {
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

func (d Dialect) insertIgnore(rest string) string {
	return d.ignorePrefix + rest + d.ignoreSuffix
}

// Store implements ledger.Store on a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
	log     logrus.FieldLogger
}

// Open wraps db and applies pending migrations.
func Open(ctx context.Context, db *sql.DB, d Dialect, log logrus.FieldLogger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Store{db: db, dialect: d, log: log.WithField("store", d.Name)}
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// goose keeps its configuration in package globals.
var gooseMu sync.Mutex

// Migrate applies every embedded migration for the dialect.
func (s *Store) Migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(s.log)
	if err := goose.SetDialect(s.dialect.Name); err != nil {
		return fmt.Errorf("sqlstore: goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations/"+s.dialect.Dir); err != nil {
		return fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&tx{tx: sqlTx, d: s.dialect}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit: %w", err)
	}
	return nil
}

var _ ledger.Store = (*Store)(nil)
