/*
Package storetest is the contract suite every ledger.Store must pass.

PURPOSE:
  The memory store and the SQL stores must be interchangeable behind
  ledger.Service. Run exercises the raw Tx contract (missing rows,
  rollback, lazy rows, ordering) and then drives the Service end to end
  against the same backend.

USAGE:
  func TestContract(t *testing.T) {
      storetest.Run(t, func(t *testing.T) ledger.Store {
          return store.NewMemory()
      })
  }

  Each subtest gets a fresh store from the factory.
*/
package storetest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/supply-ledger/ledger"
)

// Factory returns an empty store. It registers its own cleanup on t.
type Factory func(t *testing.T) ledger.Store

// Run executes the whole suite.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s ledger.Store)
	}{
		{"MissingRowsAreNil", testMissingRowsAreNil},
		{"RollbackOnError", testRollbackOnError},
		{"LazyRowsIgnoreDuplicates", testLazyRowsIgnoreDuplicates},
		{"MovementsNewestFirst", testMovementsNewestFirst},
		{"StockEntriesGlobalFirst", testStockEntriesGlobalFirst},
		{"AdvanceFilters", testAdvanceFilters},
		{"UniqueRowsConflict", testUniqueRowsConflict},
		{"RegisterLogOrder", testRegisterLogOrder},
		{"FundRequestsByStatus", testFundRequestsByStatus},
		{"SettlementFlow", testSettlementFlow},
		{"EscrowFlow", testEscrowFlow},
		{"PartialDeliveryFlow", testPartialDeliveryFlow},
		{"ConcurrentTransfers", testConcurrentTransfers},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// =============================================================================
// HELPERS
// =============================================================================

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "want %s, got %s", want, got)
}

func newService(s ledger.Store) *ledger.Service {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return ledger.NewService(s, ledger.WithLogger(log))
}

func tx(t *testing.T, s ledger.Store, fn func(tx ledger.Tx) error) {
	t.Helper()
	require.NoError(t, s.WithTx(context.Background(), fn))
}

func insertUser(t *testing.T, s ledger.Store, id ledger.UserID, role ledger.Role) {
	t.Helper()
	tx(t, s, func(tx ledger.Tx) error {
		return tx.InsertUser(context.Background(), ledger.User{ID: id, Name: string(id), Role: role, CreatedAt: t0})
	})
}

func createUser(t *testing.T, svc *ledger.Service, id string, role ledger.Role, funds string) ledger.UserID {
	t.Helper()
	ctx := context.Background()
	u, err := svc.CreateUser(ctx, ledger.User{ID: ledger.UserID(id), Name: id, Role: role})
	require.NoError(t, err)
	if funds != "" {
		_, err = svc.Credit(ctx, u.ID, d(funds), "")
		require.NoError(t, err)
	}
	return u.ID
}

// =============================================================================
// TX CONTRACT
// =============================================================================

func testMissingRowsAreNil(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	tx(t, s, func(tx ledger.Tx) error {
		u, err := tx.GetUser(ctx, "nobody")
		require.NoError(t, err)
		assert.Nil(t, u)

		b, err := tx.LockBalance(ctx, "nobody")
		require.NoError(t, err)
		assert.Nil(t, b)

		e, err := tx.LockStockEntry(ctx, ledger.MaterialFG, ledger.GlobalOwner())
		require.NoError(t, err)
		assert.Nil(t, e)

		a, err := tx.LockAdvance(ctx, "none")
		require.NoError(t, err)
		assert.Nil(t, a)

		live, err := tx.LockLiveAdvance(ctx, "supplier")
		require.NoError(t, err)
		assert.Nil(t, live)

		doc, err := tx.LockDocument(ctx, "none")
		require.NoError(t, err)
		assert.Nil(t, doc)

		st, err := tx.GetSettlementByDocument(ctx, "none")
		require.NoError(t, err)
		assert.Nil(t, st)

		del, err := tx.LockDelivery(ctx, "none")
		require.NoError(t, err)
		assert.Nil(t, del)

		re, err := tx.GetRegisterEntry(ctx, "none")
		require.NoError(t, err)
		assert.Nil(t, re)

		fr, err := tx.LockFundRequest(ctx, "none")
		require.NoError(t, err)
		assert.Nil(t, fr)

		head, err := tx.GetRegisterHead(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), head.LastSeq)
		assertDecimal(t, "0", head.Balance)
		return nil
	})
}

func testRollbackOnError(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		if err := tx.InsertUser(ctx, ledger.User{ID: "u1", Name: "u1", Role: ledger.RoleCollector, CreatedAt: t0}); err != nil {
			return err
		}
		if err := tx.InsertBalance(ctx, ledger.Balance{UserID: "u1", Amount: d("10"), UpdatedAt: t0}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	tx(t, s, func(tx ledger.Tx) error {
		u, err := tx.GetUser(ctx, "u1")
		require.NoError(t, err)
		assert.Nil(t, u)
		b, err := tx.GetBalance(ctx, "u1")
		require.NoError(t, err)
		assert.Nil(t, b)
		return nil
	})
}

func testLazyRowsIgnoreDuplicates(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	insertUser(t, s, "u1", ledger.RoleCollector)

	tx(t, s, func(tx ledger.Tx) error {
		require.NoError(t, tx.InsertBalance(ctx, ledger.Balance{UserID: "u1", Amount: d("5"), UpdatedAt: t0}))
		require.NoError(t, tx.InsertBalance(ctx, ledger.Balance{UserID: "u1", Amount: d("0"), UpdatedAt: t0}))

		e := ledger.StockEntry{ID: "s1", Material: ledger.MaterialCG, Owner: ledger.GlobalOwner(), TotalIn: d("3"), Available: d("3"), UpdatedAt: t0}
		require.NoError(t, tx.InsertStockEntry(ctx, e))
		e.ID, e.TotalIn, e.Available = "s2", d("0"), d("0")
		require.NoError(t, tx.InsertStockEntry(ctx, e))
		return nil
	})

	tx(t, s, func(tx ledger.Tx) error {
		b, err := tx.LockBalance(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, b)
		assertDecimal(t, "5", b.Amount)

		e, err := tx.LockStockEntry(ctx, ledger.MaterialCG, ledger.GlobalOwner())
		require.NoError(t, err)
		require.NotNil(t, e)
		assert.Equal(t, "s1", e.ID)
		assertDecimal(t, "3", e.TotalIn)
		return nil
	})
}

func testMovementsNewestFirst(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	insertUser(t, s, "u1", ledger.RoleCollector)

	tx(t, s, func(tx ledger.Tx) error {
		for i := 1; i <= 3; i++ {
			require.NoError(t, tx.InsertMovement(ctx, ledger.BalanceMovement{
				ID: fmt.Sprintf("m%d", i), UserID: "u1", Kind: ledger.MovementCredit,
				Delta: decimal.NewFromInt(int64(i)), BalanceAfter: decimal.NewFromInt(int64(i)),
				CreatedAt: t0, // identical timestamps: order must come from insertion
			}))
		}
		return nil
	})

	tx(t, s, func(tx ledger.Tx) error {
		all, err := tx.ListMovements(ctx, "u1", 0)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"m3", "m2", "m1"}, []string{all[0].ID, all[1].ID, all[2].ID})

		two, err := tx.ListMovements(ctx, "u1", 2)
		require.NoError(t, err)
		assert.Len(t, two, 2)
		return nil
	})
}

func testStockEntriesGlobalFirst(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	insertUser(t, s, "c1", ledger.RoleCollector)

	tx(t, s, func(tx ledger.Tx) error {
		for i, owner := range []ledger.Owner{ledger.OwnedBy("c1"), ledger.GlobalOwner()} {
			require.NoError(t, tx.InsertStockEntry(ctx, ledger.StockEntry{
				ID: fmt.Sprintf("e%d", i), Material: ledger.MaterialGG, Owner: owner,
				TotalIn: d("1.25"), Available: d("0.75"), UpdatedAt: t0,
			}))
		}
		return nil
	})

	tx(t, s, func(tx ledger.Tx) error {
		entries, err := tx.ListStockEntries(ctx, ledger.MaterialGG)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.True(t, entries[0].Owner.IsGlobal())
		owner, ok := entries[1].Owner.User()
		assert.True(t, ok)
		assert.Equal(t, ledger.UserID("c1"), owner)
		assertDecimal(t, "0.75", entries[1].Available)
		assertDecimal(t, "0.5", entries[1].Reserved())
		return nil
	})
}

func testAdvanceFilters(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	insertUser(t, s, "p1", ledger.RoleCollector)

	mk := func(id string, supplier ledger.SupplierID, status ledger.AdvanceStatus, created time.Time) ledger.AdvancePayment {
		return ledger.AdvancePayment{
			ID: ledger.AdvanceID(id), SupplierID: supplier, PayerID: "p1",
			Amount: d("10"), UsedAmount: d("0"), RemainingAmount: d("10"),
			Status: status, CreatedAt: created,
		}
	}
	tx(t, s, func(tx ledger.Tx) error {
		require.NoError(t, tx.InsertAdvance(ctx, mk("a1", "S1", ledger.AdvancePending, t0)))
		require.NoError(t, tx.InsertAdvance(ctx, mk("a2", "S2", ledger.AdvanceCancelled, t0.Add(time.Hour))))
		require.NoError(t, tx.InsertAdvance(ctx, mk("a3", "S2", ledger.AdvanceArrived, t0.Add(2*time.Hour))))
		return nil
	})

	tx(t, s, func(tx ledger.Tx) error {
		live, err := tx.LockLiveAdvance(ctx, "S2")
		require.NoError(t, err)
		require.NotNil(t, live)
		assert.Equal(t, ledger.AdvanceID("a3"), live.ID)

		bySupplier, err := tx.ListAdvances(ctx, ledger.AdvanceFilter{SupplierID: "S2"})
		require.NoError(t, err)
		assert.Len(t, bySupplier, 2)

		pending, err := tx.ListAdvances(ctx, ledger.AdvanceFilter{Status: ledger.AdvancePending})
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, ledger.AdvanceID("a1"), pending[0].ID)

		early, err := tx.ListAdvances(ctx, ledger.AdvanceFilter{CreatedBefore: t0.Add(90 * time.Minute)})
		require.NoError(t, err)
		assert.Len(t, early, 2)
		return nil
	})
}

// A second live advance for a supplier or a second settlement for a
// document fails with the ledger error, whichever transaction loses.
func testUniqueRowsConflict(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	svc := newService(s)
	payer := createUser(t, svc, "p1", ledger.RoleCollector, "")
	doc, err := svc.RegisterDocument(ctx, ledger.DocumentInput{
		Family: ledger.FamilyRaw, Material: ledger.MaterialFG, SupplierID: "S1",
		OwnerID: payer, NetWeight: d("10"), UnitPrice: d("1"),
	})
	require.NoError(t, err)

	advance := func(id string) ledger.AdvancePayment {
		return ledger.AdvancePayment{
			ID: ledger.AdvanceID(id), SupplierID: "S1", PayerID: payer,
			Amount: d("10"), UsedAmount: d("0"), RemainingAmount: d("10"),
			Status: ledger.AdvancePending, CreatedAt: t0,
		}
	}
	settlement := func(id string) ledger.Settlement {
		return ledger.Settlement{
			ID: ledger.SettlementID(id), DocumentID: doc.ID, PayerID: payer,
			TotalPaid: d("0"), CreatedAt: t0, UpdatedAt: t0,
		}
	}

	tx(t, s, func(tx ledger.Tx) error {
		if err := tx.InsertAdvance(ctx, advance("a1")); err != nil {
			return err
		}
		return tx.InsertSettlement(ctx, settlement("st1"))
	})

	err = s.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.InsertAdvance(ctx, advance("a2"))
	})
	require.ErrorIs(t, err, ledger.ErrSupplierHasUnsettledAdvance)
	assert.Equal(t, "supplier_has_unsettled_advance", ledger.Kind(err))

	err = s.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.InsertSettlement(ctx, settlement("st2"))
	})
	require.ErrorIs(t, err, ledger.ErrDuplicateSettlement)
	assert.Equal(t, "duplicate_settlement", ledger.Kind(err))

	advances, err := svc.ListAdvances(ctx, ledger.AdvanceFilter{SupplierID: "S1"})
	require.NoError(t, err)
	assert.Len(t, advances, 1)
}

func testRegisterLogOrder(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	tx(t, s, func(tx ledger.Tx) error {
		for i := int64(1); i <= 3; i++ {
			require.NoError(t, tx.InsertRegisterEntry(ctx, ledger.RegisterEntry{
				ID: ledger.RegisterEntryID(fmt.Sprintf("r%d", i)), Seq: i,
				Amount: d("10"), BalanceAfter: decimal.NewFromInt(10 * i),
				Type: ledger.RegisterIncome, CreatedAt: t0,
			}))
		}
		return tx.UpdateRegisterHead(ctx, ledger.RegisterHead{LastSeq: 3, Balance: d("30")})
	})

	tx(t, s, func(tx ledger.Tx) error {
		require.NoError(t, tx.DeleteRegisterEntry(ctx, "r2"))
		entries, err := tx.ListRegisterEntries(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, []int64{1, 3}, []int64{entries[0].Seq, entries[1].Seq})

		head, err := tx.LockRegisterHead(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), head.LastSeq)
		assertDecimal(t, "30", head.Balance)
		return nil
	})
}

func testFundRequestsByStatus(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	insertUser(t, s, "c1", ledger.RoleCollector)

	tx(t, s, func(tx ledger.Tx) error {
		for i, st := range []ledger.FundRequestStatus{ledger.FundRequestPending, ledger.FundRequestRejected, ledger.FundRequestPending} {
			require.NoError(t, tx.InsertFundRequest(ctx, ledger.FundRequest{
				ID: ledger.FundRequestID(fmt.Sprintf("f%d", i)), RequesterID: "c1",
				Amount: d("1"), Status: st, CreatedAt: t0,
			}))
		}
		return nil
	})

	tx(t, s, func(tx ledger.Tx) error {
		pending, err := tx.ListFundRequests(ctx, ledger.FundRequestPending)
		require.NoError(t, err)
		assert.Len(t, pending, 2)
		all, err := tx.ListFundRequests(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)
		return nil
	})
}

// =============================================================================
// SERVICE FLOWS
// =============================================================================

func testSettlementFlow(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	svc := newService(s)
	payer := createUser(t, svc, "col", ledger.RoleCollector, "1000")

	doc, err := svc.RegisterDocument(ctx, ledger.DocumentInput{
		Family: ledger.FamilyRaw, Material: ledger.MaterialFG, SupplierID: "sup",
		OwnerID: payer, NetWeight: d("100"), UnitPrice: d("10"),
	})
	require.NoError(t, err)

	first, err := svc.Settle(ctx, doc.ID, d("600"), payer)
	require.NoError(t, err)
	assert.Equal(t, ledger.DocPartiallyPaid, first.Document.Status)

	_, err = svc.Settle(ctx, doc.ID, d("1"), payer)
	require.ErrorIs(t, err, ledger.ErrDuplicateSettlement)

	second, err := svc.AddPayment(ctx, first.Settlement.ID, d("400"))
	require.NoError(t, err)
	assert.Equal(t, ledger.DocPaid, second.Document.Status)
	assert.True(t, second.StockedIn)

	bal, err := svc.Balance(ctx, payer)
	require.NoError(t, err)
	assertDecimal(t, "0", bal)

	total, err := svc.SystemTotal(ctx, ledger.MaterialFG)
	require.NoError(t, err)
	assertDecimal(t, "200", total)

	_, payments, err := svc.GetSettlement(ctx, first.Settlement.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 2)

	moves, err := svc.Movements(ctx, payer, 0)
	require.NoError(t, err)
	assert.Len(t, moves, 3)
}

func testEscrowFlow(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	svc := newService(s)
	payer := createUser(t, svc, "col", ledger.RoleCollector, "500")

	adv, err := svc.CreateAdvance(ctx, ledger.AdvanceInput{PayerID: payer, SupplierID: "S", Amount: d("500"), DeadlineHours: 1})
	require.NoError(t, err)

	_, err = svc.CreateAdvance(ctx, ledger.AdvanceInput{PayerID: payer, SupplierID: "S", Amount: d("1")})
	require.Error(t, err)

	ids, err := svc.AutoConfirmOverdue(ctx, time.Now().UTC().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []ledger.AdvanceID{adv.ID}, ids)

	doc, err := svc.RegisterDocument(ctx, ledger.DocumentInput{
		Family: ledger.FamilyRaw, Material: ledger.MaterialCG, SupplierID: "S",
		OwnerID: payer, NetWeight: d("30"), UnitPrice: d("10"),
	})
	require.NoError(t, err)

	res, err := svc.Consume(ctx, adv.ID, d("300"), doc.ID)
	require.NoError(t, err)
	assertDecimal(t, "200", res.Advance.RemainingAmount)
	assert.Equal(t, ledger.DocPaid, res.Settlement.Document.Status)

	cancelled, err := svc.CancelAdvance(ctx, adv.ID, "done")
	require.NoError(t, err)
	assert.Equal(t, ledger.AdvanceCancelled, cancelled.Status)
	require.NotNil(t, cancelled.ArrivedAt)
	require.NotNil(t, cancelled.ClosedAt)

	bal, err := svc.Balance(ctx, payer)
	require.NoError(t, err)
	assertDecimal(t, "200", bal)

	_, uses, err := svc.GetAdvance(ctx, adv.ID)
	require.NoError(t, err)
	require.Len(t, uses, 1)
	assert.Equal(t, doc.ID, uses[0].DocumentID)
}

func testPartialDeliveryFlow(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	svc := newService(s)
	col := createUser(t, svc, "col", ledger.RoleCollector, "")
	dist := createUser(t, svc, "dist", ledger.RoleDistiller, "")
	actor := ledger.Actor{ID: col, Role: ledger.RoleCollector}

	doc, err := svc.RegisterDocument(ctx, ledger.DocumentInput{
		Family: ledger.FamilyRaw, Material: ledger.MaterialGG, SupplierID: "sup",
		OwnerID: col, NetWeight: d("50"), UnitPrice: d("0"),
	})
	require.NoError(t, err)
	require.Equal(t, ledger.DocPaid, doc.Status)

	del, err := svc.StartPartialDelivery(ctx, actor, doc.ID, d("20"), dist)
	require.NoError(t, err)
	_, got, err := svc.CompletePartialDelivery(ctx, del.ID, d("15"))
	require.NoError(t, err)
	assert.Equal(t, ledger.DocPartiallyDelivered, got.Status)
	assertDecimal(t, "35", got.RemainingQuantity)

	avail, err := svc.AvailableFor(ctx, ledger.MaterialGG, col)
	require.NoError(t, err)
	// 50 global + 35 in the collector pool
	assertDecimal(t, "85", avail)

	list, err := svc.DocumentDeliveries(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assertDecimal(t, "15", list[0].DeliveredQuantity)
	assert.Equal(t, ledger.DeliveryDelivered, list[0].Status)
}

func testConcurrentTransfers(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	svc := newService(s)
	admin := createUser(t, svc, "admin", ledger.RoleAdmin, "")
	vendor := createUser(t, svc, "vendor", ledger.RoleVendor, "100")
	a := createUser(t, svc, "ca", ledger.RoleCollector, "100")
	b := createUser(t, svc, "cb", ledger.RoleCollector, "100")
	_, err := svc.RecordRegisterEntry(ctx, ledger.RegisterInput{Type: ledger.RegisterIncome, Amount: d("100")})
	require.NoError(t, err)

	pairs := [][2]ledger.UserID{{a, b}, {b, a}, {vendor, admin}, {admin, a}}
	var wg sync.WaitGroup
	for i := 0; i < 24; i++ {
		wg.Add(1)
		go func(p [2]ledger.UserID) {
			defer wg.Done()
			_, _ = svc.Transfer(ctx, ledger.TransferInput{FromID: p[0], ToID: p[1], Amount: d("7")})
		}(pairs[i%len(pairs)])
	}
	wg.Wait()

	total := decimal.Zero
	for _, id := range []ledger.UserID{admin, vendor, a, b} {
		bal, err := svc.Balance(ctx, id)
		require.NoError(t, err)
		assert.False(t, bal.IsNegative())
		total = total.Add(bal)
	}
	reg, err := svc.RegisterBalance(ctx)
	require.NoError(t, err)

	// A vendor deposit credits the admin and the register at once, so
	// users plus register grows by exactly the deposits. Everything else
	// moves money around without creating any.
	entries, err := svc.RegisterEntries(ctx)
	require.NoError(t, err)
	deposits := decimal.Zero
	running := decimal.Zero
	for _, e := range entries {
		running = running.Add(e.Type.Signed(e.Amount))
		assert.Truef(t, running.Equal(e.BalanceAfter), "seq %d: running %s, stored %s", e.Seq, running, e.BalanceAfter)
		if e.Type == ledger.RegisterIncome && e.Seq > 1 {
			deposits = deposits.Add(e.Amount)
		}
	}
	assert.True(t, running.Equal(reg))
	assertDecimal(t, "400", total.Add(reg).Sub(deposits))
}
