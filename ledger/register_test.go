package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/supply-ledger/ledger"
)

func (f *fixture) registerEntry(typ ledger.RegisterEntryType, amount string) ledger.RegisterEntry {
	f.t.Helper()
	e, err := f.svc.RecordRegisterEntry(f.ctx, ledger.RegisterInput{Type: typ, Amount: d(amount), Method: "cash"})
	require.NoError(f.t, err)
	return e
}

func TestRegister_RecordChainsBalanceAfter(t *testing.T) {
	f := newFixture(t)

	a := f.registerEntry(ledger.RegisterIncome, "100")
	b := f.registerEntry(ledger.RegisterExpense, "30")
	c := f.registerEntry(ledger.RegisterIncome, "5.5")

	assertDecimal(t, "100", a.BalanceAfter)
	assertDecimal(t, "70", b.BalanceAfter)
	assertDecimal(t, "75.5", c.BalanceAfter)
	assert.Equal(t, []int64{1, 2, 3}, []int64{a.Seq, b.Seq, c.Seq})
	assertDecimal(t, "75.5", f.registerBalance())
}

func TestRegister_ExpenseCannotOverdraw(t *testing.T) {
	f := newFixture(t)
	f.registerEntry(ledger.RegisterIncome, "10")

	_, err := f.svc.RecordRegisterEntry(f.ctx, ledger.RegisterInput{Type: ledger.RegisterExpense, Amount: d("10.01")})

	assertKind(t, "insufficient_funds", err)
	assertDecimal(t, "10", f.registerBalance())
}

func TestRegister_InputValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		in   ledger.RegisterInput
	}{
		{"unknown type", ledger.RegisterInput{Type: "refund", Amount: d("1")}},
		{"zero amount", ledger.RegisterInput{Type: ledger.RegisterIncome, Amount: d("0")}},
		{"reserved reference", ledger.RegisterInput{Type: ledger.RegisterIncome, Amount: d("1"), Reference: "transfer:abc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.RecordRegisterEntry(f.ctx, tt.in)
			assertKind(t, "invalid_input", err)
		})
	}
}

func TestRegister_EditRebuildsFollowingEntries(t *testing.T) {
	f := newFixture(t)
	a := f.registerEntry(ledger.RegisterIncome, "100")
	f.registerEntry(ledger.RegisterExpense, "30")
	f.registerEntry(ledger.RegisterIncome, "10")

	edited, err := f.svc.EditRegisterEntry(f.ctx, a.ID, ledger.RegisterInput{Type: ledger.RegisterIncome, Amount: d("200"), Reason: "recount"})
	require.NoError(t, err)
	assertDecimal(t, "200", edited.BalanceAfter)
	assert.Equal(t, "recount", edited.Reason)

	entries, err := f.svc.RegisterEntries(f.ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assertDecimal(t, "170", entries[1].BalanceAfter)
	assertDecimal(t, "180", entries[2].BalanceAfter)
	assertDecimal(t, "180", f.registerBalance())
}

func TestRegister_EditThatOverdrawsRollsBack(t *testing.T) {
	f := newFixture(t)
	a := f.registerEntry(ledger.RegisterIncome, "100")
	f.registerEntry(ledger.RegisterExpense, "80")

	_, err := f.svc.EditRegisterEntry(f.ctx, a.ID, ledger.RegisterInput{Type: ledger.RegisterIncome, Amount: d("50")})

	assertKind(t, "insufficient_funds", err)
	entries, err := f.svc.RegisterEntries(f.ctx)
	require.NoError(t, err)
	assertDecimal(t, "100", entries[0].Amount)
	assertDecimal(t, "20", f.registerBalance())
}

func TestRegister_DeleteKeepsSeqMonotonic(t *testing.T) {
	f := newFixture(t)
	f.registerEntry(ledger.RegisterIncome, "100")
	b := f.registerEntry(ledger.RegisterExpense, "30")

	head, err := f.svc.DeleteRegisterEntry(f.ctx, b.ID)
	require.NoError(t, err)
	assertDecimal(t, "100", head.Balance)
	assert.Equal(t, int64(2), head.LastSeq)

	c := f.registerEntry(ledger.RegisterIncome, "1")
	assert.Equal(t, int64(3), c.Seq)
	assertDecimal(t, "101", c.BalanceAfter)

	_, err = f.svc.DeleteRegisterEntry(f.ctx, b.ID)
	assertKind(t, "not_found", err)
}

func TestRegister_DeleteThatOverdrawsRollsBack(t *testing.T) {
	f := newFixture(t)
	a := f.registerEntry(ledger.RegisterIncome, "100")
	f.registerEntry(ledger.RegisterExpense, "60")

	_, err := f.svc.DeleteRegisterEntry(f.ctx, a.ID)

	assertKind(t, "insufficient_funds", err)
	entries, err := f.svc.RegisterEntries(f.ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRegister_TransferEntriesAreLocked(t *testing.T) {
	f := newFixture(t)
	admin := f.user("a1", ledger.RoleAdmin)
	col := f.user("c1", ledger.RoleCollector)
	f.registerEntry(ledger.RegisterIncome, "100")
	tr, err := f.transfer(admin, col, "40")
	require.NoError(t, err)

	_, err = f.svc.EditRegisterEntry(f.ctx, tr.RegisterEntryID, ledger.RegisterInput{Type: ledger.RegisterExpense, Amount: d("1")})
	assertKind(t, "invalid_state", err)

	_, err = f.svc.DeleteRegisterEntry(f.ctx, tr.RegisterEntryID)
	assertKind(t, "invalid_state", err)

	assertDecimal(t, "60", f.registerBalance())
}

func TestRegister_RebuildIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.registerEntry(ledger.RegisterIncome, "100")
	f.registerEntry(ledger.RegisterExpense, "25")

	first, err := f.svc.RebuildRegister(f.ctx)
	require.NoError(t, err)
	second, err := f.svc.RebuildRegister(f.ctx)
	require.NoError(t, err)

	assert.Equal(t, first.LastSeq, second.LastSeq)
	assertDecimal(t, "75", second.Balance)
}
