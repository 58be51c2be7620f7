// Package postgres opens a PostgreSQL-backed ledger store through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"

	"github.com/warp/supply-ledger/store/sqlstore"
)

// New connects to dsn (a postgres:// URL or key=value string), checks the
// connection and applies migrations.
func New(ctx context.Context, dsn string, log logrus.FieldLogger) (*sqlstore.Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	store, err := sqlstore.Open(ctx, db, sqlstore.Postgres.WithUniqueViolation(isUniqueViolation), log)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// isUniqueViolation matches SQLSTATE 23505 (unique_violation).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
