package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/supply-ledger/ledger"
	"github.com/warp/supply-ledger/ledger/store"
	"github.com/warp/supply-ledger/store/storetest"
)

func TestMemory_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.Store {
		return store.NewMemory()
	})
}

func TestMemory_CancelledContext(t *testing.T) {
	m := store.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := m.WithTx(ctx, func(ledger.Tx) error {
		called = true
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

// Rows handed out by the store are copies; mutating them without an
// Update call must not leak into the store.
func TestMemory_ReturnsCopies(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.InsertUser(ctx, ledger.User{ID: "u1", Name: "before", Role: ledger.RoleAdmin})
	}))

	require.NoError(t, m.WithTx(ctx, func(tx ledger.Tx) error {
		u, err := tx.GetUser(ctx, "u1")
		if err != nil {
			return err
		}
		u.Name = "after"
		return nil
	}))

	err := m.WithTx(ctx, func(tx ledger.Tx) error {
		u, err := tx.GetUser(ctx, "u1")
		if err != nil {
			return err
		}
		if u.Name != "before" {
			return errors.New("user row was mutated through a returned pointer")
		}
		return nil
	})
	require.NoError(t, err)
}
