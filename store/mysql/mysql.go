// Package mysql opens a MySQL-backed ledger store.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"github.com/warp/supply-ledger/store/sqlstore"
)

// New connects using a go-sql-driver DSN (user:pass@tcp(host:3306)/db).
// Time parsing is forced on so DATETIME columns scan into time.Time.
func New(ctx context.Context, dsn string, log logrus.FieldLogger) (*sqlstore.Store, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: parse dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.MultiStatements = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql: connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}
	store, err := sqlstore.Open(ctx, db, sqlstore.MySQL.WithUniqueViolation(isUniqueViolation), log)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// erDupEntry is MySQL error 1062, duplicate entry for a unique key.
const erDupEntry = 1062

func isUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == erDupEntry
}
