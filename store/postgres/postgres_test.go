package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/warp/supply-ledger/ledger"
	"github.com/warp/supply-ledger/store/postgres"
	"github.com/warp/supply-ledger/store/storetest"
)

// Every table the migration creates, children first.
var tables = []string{
	"fund_requests", "register_entries", "transfers", "deliveries", "payments",
	"settlements", "advance_consumptions", "advances", "documents",
	"stock_entries", "balance_movements", "balances", "users",
}

// Set LEDGER_TEST_POSTGRES_DSN to run against a scratch database. The
// suite truncates every table between subtests.
func TestPostgres_Contract(t *testing.T) {
	dsn := os.Getenv("LEDGER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LEDGER_TEST_POSTGRES_DSN not set")
	}
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	storetest.Run(t, func(t *testing.T) ledger.Store {
		ctx := context.Background()
		s, err := postgres.New(ctx, dsn, log)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })

		for _, table := range tables {
			_, err := s.DB().ExecContext(ctx, "DELETE FROM "+table)
			require.NoError(t, err)
		}
		_, err = s.DB().ExecContext(ctx, "UPDATE register_head SET last_seq = 0, balance = 0 WHERE id = 1")
		require.NoError(t, err)
		return s
	})
}
