package ledger_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/supply-ledger/ledger"
)

func (f *fixture) transfer(from, to ledger.UserID, amount string) (ledger.Transfer, error) {
	return f.svc.Transfer(f.ctx, ledger.TransferInput{FromID: from, ToID: to, Amount: d(amount), Method: "cash"})
}

// vendor with 200 sends 150 to an admin with 0.
func TestTransfer_VendorToAdminFeedsRegister(t *testing.T) {
	f := newFixture(t)
	vendor := f.funded("v1", ledger.RoleVendor, "200")
	admin := f.user("a1", ledger.RoleAdmin)
	_, err := f.svc.RecordRegisterEntry(f.ctx, ledger.RegisterInput{Type: ledger.RegisterIncome, Amount: d("40")})
	require.NoError(t, err)

	tr, err := f.transfer(vendor, admin, "150")

	require.NoError(t, err)
	assertDecimal(t, "50", f.balance(vendor))
	assertDecimal(t, "150", f.balance(admin))
	assert.Equal(t, ledger.SourceBalance, tr.Source)
	require.NotEmpty(t, tr.RegisterEntryID)

	entries, err := f.svc.RegisterEntries(f.ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	last := entries[1]
	assert.Equal(t, tr.RegisterEntryID, last.ID)
	assert.Equal(t, ledger.RegisterIncome, last.Type)
	assertDecimal(t, "190", last.BalanceAfter)
	assertDecimal(t, "190", f.registerBalance())
}

func TestTransfer_AdminPaysFromRegister(t *testing.T) {
	f := newFixture(t)
	admin := f.user("a1", ledger.RoleAdmin)
	col := f.user("c1", ledger.RoleCollector)
	_, err := f.svc.RecordRegisterEntry(f.ctx, ledger.RegisterInput{Type: ledger.RegisterIncome, Amount: d("500")})
	require.NoError(t, err)

	tr, err := f.transfer(admin, col, "120")

	require.NoError(t, err)
	assert.Equal(t, ledger.SourceRegister, tr.Source)
	assertDecimal(t, "380", f.registerBalance())
	assertDecimal(t, "120", f.balance(col))
	// the admin's own balance is not involved
	assertDecimal(t, "0", f.balance(admin))
}

func TestTransfer_AdminWithEmptyRegister(t *testing.T) {
	f := newFixture(t)
	admin := f.funded("a1", ledger.RoleAdmin, "1000")
	col := f.user("c1", ledger.RoleCollector)

	_, err := f.transfer(admin, col, "1")

	assertKind(t, "insufficient_funds", err)
	assertDecimal(t, "0", f.balance(col))
	assertDecimal(t, "1000", f.balance(admin))
	entries, err := f.svc.RegisterEntries(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTransfer_Recipients(t *testing.T) {
	f := newFixture(t)
	vendor := f.funded("v1", ledger.RoleVendor, "100")
	col := f.funded("c1", ledger.RoleCollector, "100")
	dist := f.user("d1", ledger.RoleDistiller)

	tests := []struct {
		name     string
		from, to ledger.UserID
		kind     string
	}{
		{"self", col, col, "invalid_recipient"},
		{"vendor to collector", vendor, col, "invalid_recipient"},
		{"vendor to distiller", vendor, dist, "invalid_recipient"},
		{"unknown sender", "ghost", col, "not_found"},
		{"unknown recipient", col, "ghost", "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.transfer(tt.from, tt.to, "10")
			assertKind(t, tt.kind, err)
		})
	}
	assertDecimal(t, "100", f.balance(vendor))
	assertDecimal(t, "100", f.balance(col))
}

func TestTransfer_CollectorToDistiller(t *testing.T) {
	f := newFixture(t)
	col := f.funded("c1", ledger.RoleCollector, "100")
	dist := f.user("d1", ledger.RoleDistiller)

	_, err := f.transfer(col, dist, "100.01")
	assertKind(t, "insufficient_funds", err)

	tr, err := f.transfer(col, dist, "60")
	require.NoError(t, err)
	assert.Equal(t, ledger.SourceBalance, tr.Source)
	assert.Empty(t, tr.RegisterEntryID)
	assertDecimal(t, "40", f.balance(col))
	assertDecimal(t, "60", f.balance(dist))

	sent, err := f.svc.Transfers(f.ctx, col)
	require.NoError(t, err)
	received, err := f.svc.Transfers(f.ctx, dist)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, sent, received)
}

func TestTransfer_ConcurrentConservesMoney(t *testing.T) {
	f := newFixture(t)
	const users = 4
	ids := make([]ledger.UserID, users)
	for i := range ids {
		ids[i] = f.funded(fmt.Sprintf("c%d", i), ledger.RoleCollector, "100")
	}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := ids[i%users], ids[(i+1)%users]
			// some of these fail for lack of funds; that is fine
			_, _ = f.transfer(from, to, "35")
		}(i)
	}
	wg.Wait()

	total := d("0")
	for _, id := range ids {
		b := f.balance(id)
		assert.False(t, b.IsNegative(), id)
		total = total.Add(b)
	}
	assertDecimal(t, "400", total)
}
