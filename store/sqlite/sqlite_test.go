package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/supply-ledger/ledger"
	"github.com/warp/supply-ledger/store/sqlite"
	"github.com/warp/supply-ledger/store/storetest"
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	return log
}

func TestSQLite_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.Store {
		s, err := sqlite.New(context.Background(), ":memory:", quietLogger())
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLite_FileSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	s, err := sqlite.New(ctx, path, quietLogger())
	require.NoError(t, err)
	svc := ledger.NewService(s, ledger.WithLogger(quietLogger()))
	_, err = svc.CreateUser(ctx, ledger.User{ID: "u1", Name: "u1", Role: ledger.RoleCollector})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopening runs the migrations again, which must be a no-op.
	s, err = sqlite.New(ctx, path, quietLogger())
	require.NoError(t, err)
	defer s.Close()

	u, err := ledger.NewService(s, ledger.WithLogger(quietLogger())).GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, ledger.RoleCollector, u.Role)
}
