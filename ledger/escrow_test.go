package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/supply-ledger/ledger"
)

func (f *fixture) advance(payer ledger.UserID, supplier, amount string, deadline int) ledger.AdvancePayment {
	f.t.Helper()
	adv, err := f.svc.CreateAdvance(f.ctx, ledger.AdvanceInput{
		PayerID:       payer,
		SupplierID:    ledger.SupplierID(supplier),
		Amount:        d(amount),
		DeadlineHours: deadline,
	})
	require.NoError(f.t, err)
	return adv
}

func assertEscrowConserved(t *testing.T, a ledger.AdvancePayment) {
	t.Helper()
	assert.Truef(t, a.UsedAmount.Add(a.RemainingAmount).Equal(a.Amount),
		"used %s + remaining %s != amount %s", a.UsedAmount, a.RemainingAmount, a.Amount)
}

// create 500, confirm, consume 300 then 200 on two documents, cancel fails.
func TestAdvance_FullLifecycle(t *testing.T) {
	f := newFixture(t)
	payer := f.funded("col", ledger.RoleCollector, "800")
	doc1 := f.document(ledger.FamilyRaw, ledger.MaterialFG, "S", payer, "40", "10")
	doc2 := f.document(ledger.FamilyRaw, ledger.MaterialFG, "S", payer, "20", "10")

	adv := f.advance(payer, "S", "500", 0)
	assert.Equal(t, ledger.AdvancePending, adv.Status)
	assertDecimal(t, "300", f.balance(payer))
	assertEscrowConserved(t, adv)

	adv, err := f.svc.ConfirmArrival(f.ctx, adv.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.AdvanceArrived, adv.Status)
	require.NotNil(t, adv.ArrivedAt)

	res, err := f.svc.Consume(f.ctx, adv.ID, d("300"), doc1.ID)
	require.NoError(t, err)
	assertDecimal(t, "300", res.Advance.UsedAmount)
	assertDecimal(t, "200", res.Advance.RemainingAmount)
	assert.Equal(t, ledger.AdvanceArrived, res.Advance.Status)
	assertEscrowConserved(t, res.Advance)
	assert.Equal(t, ledger.PaymentFromAdvance, res.Settlement.Payment.Source)
	assert.Equal(t, adv.ID, res.Settlement.Payment.AdvanceID)
	assertDecimal(t, "100", res.Settlement.Document.DebtToSupplier)

	res, err = f.svc.Consume(f.ctx, adv.ID, d("200"), doc2.ID)
	require.NoError(t, err)
	assertDecimal(t, "500", res.Advance.UsedAmount)
	assertDecimal(t, "0", res.Advance.RemainingAmount)
	assert.Equal(t, ledger.AdvanceUsed, res.Advance.Status)
	assertEscrowConserved(t, res.Advance)
	assert.Equal(t, ledger.DocPaid, res.Settlement.Document.Status)
	assert.True(t, res.Settlement.StockedIn)

	_, err = f.svc.CancelAdvance(f.ctx, adv.ID, "too late")
	assertKind(t, "invalid_state", err)

	// Consuming never touched the payer's balance again.
	assertDecimal(t, "300", f.balance(payer))

	got, uses, err := f.svc.GetAdvance(f.ctx, adv.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.AdvanceUsed, got.Status)
	require.Len(t, uses, 2)
	assert.Equal(t, doc1.ID, uses[0].DocumentID)
	assert.Equal(t, doc2.ID, uses[1].DocumentID)
}

func TestAdvance_OneLivePerSupplier(t *testing.T) {
	f := newFixture(t)
	payer := f.funded("col", ledger.RoleCollector, "1000")
	first := f.advance(payer, "S", "100", 0)

	_, err := f.svc.CreateAdvance(f.ctx, ledger.AdvanceInput{PayerID: payer, SupplierID: "S", Amount: d("50")})
	require.ErrorIs(t, err, ledger.ErrSupplierHasUnsettledAdvance)
	assertDecimal(t, "900", f.balance(payer))

	// A different supplier is fine.
	f.advance(payer, "T", "50", 0)

	// Once the first one is cancelled the supplier is free again.
	_, err = f.svc.CancelAdvance(f.ctx, first.ID, "")
	require.NoError(t, err)
	f.advance(payer, "S", "50", 0)
}

func TestAdvance_CreateInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	payer := f.funded("col", ledger.RoleCollector, "10")

	_, err := f.svc.CreateAdvance(f.ctx, ledger.AdvanceInput{PayerID: payer, SupplierID: "S", Amount: d("11")})

	assertKind(t, "insufficient_funds", err)
	advances, err := f.svc.ListAdvances(f.ctx, ledger.AdvanceFilter{SupplierID: "S"})
	require.NoError(t, err)
	assert.Empty(t, advances)
}

func TestAdvance_ConfirmTwice(t *testing.T) {
	f := newFixture(t)
	payer := f.funded("col", ledger.RoleCollector, "100")
	adv := f.advance(payer, "S", "100", 0)
	_, err := f.svc.ConfirmArrival(f.ctx, adv.ID)
	require.NoError(t, err)

	_, err = f.svc.ConfirmArrival(f.ctx, adv.ID)

	assertKind(t, "invalid_state", err)
}

func TestAdvance_DeadlineBounds(t *testing.T) {
	f := newFixture(t)
	payer := f.funded("col", ledger.RoleCollector, "100")

	// Far-future deadlines would overflow time.Duration and land in the past
	_, err := f.svc.CreateAdvance(f.ctx, ledger.AdvanceInput{
		PayerID: payer, SupplierID: "S", Amount: d("10"), DeadlineHours: 3_000_000,
	})
	assertKind(t, "invalid_input", err)
	assertDecimal(t, "100", f.balance(payer))

	adv := f.advance(payer, "S", "10", ledger.MaxDeadlineHours)
	assert.True(t, adv.Deadline().After(adv.CreatedAt))

	ids, err := f.svc.AutoConfirmOverdue(f.ctx, f.clock.Now().Add(time.Nanosecond))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestAdvance_CancelRefundsRemaining(t *testing.T) {
	f := newFixture(t)
	payer := f.funded("col", ledger.RoleCollector, "1000")
	doc := f.document(ledger.FamilyRaw, ledger.MaterialGG, "S", payer, "100", "1")
	adv := f.advance(payer, "S", "400", 0)
	_, err := f.svc.ConfirmArrival(f.ctx, adv.ID)
	require.NoError(t, err)
	_, err = f.svc.Consume(f.ctx, adv.ID, d("70"), doc.ID)
	require.NoError(t, err)

	got, err := f.svc.CancelAdvance(f.ctx, adv.ID, "supplier gone")

	require.NoError(t, err)
	assert.Equal(t, ledger.AdvanceCancelled, got.Status)
	assert.Equal(t, "supplier gone", got.CancelReason)
	assertEscrowConserved(t, got)
	// 1000 - 400 + 330 refunded
	assertDecimal(t, "930", f.balance(payer))

	_, err = f.svc.CancelAdvance(f.ctx, adv.ID, "")
	assertKind(t, "invalid_state", err)
}

func TestConsume_Failures(t *testing.T) {
	f := newFixture(t)
	payer := f.funded("col", ledger.RoleCollector, "1000")
	doc := f.document(ledger.FamilyRaw, ledger.MaterialFG, "S", payer, "10", "10")
	other := f.document(ledger.FamilyRaw, ledger.MaterialFG, "T", payer, "10", "10")
	adv := f.advance(payer, "S", "300", 0)

	// pending advances cannot be drawn
	_, err := f.svc.Consume(f.ctx, adv.ID, d("10"), doc.ID)
	assertKind(t, "invalid_state", err)

	_, err = f.svc.ConfirmArrival(f.ctx, adv.ID)
	require.NoError(t, err)

	_, err = f.svc.Consume(f.ctx, adv.ID, d("301"), doc.ID)
	assertKind(t, "insufficient_escrow_funds", err)

	_, err = f.svc.Consume(f.ctx, adv.ID, d("10"), other.ID)
	assertKind(t, "invalid_state", err)

	_, err = f.svc.Consume(f.ctx, adv.ID, d("101"), doc.ID)
	assertKind(t, "quantity_exceeds_remaining", err)

	_, err = f.svc.Consume(f.ctx, adv.ID, d("10"), "missing")
	assertKind(t, "not_found", err)

	// Nothing was drawn by the failed calls.
	got, uses, err := f.svc.GetAdvance(f.ctx, adv.ID)
	require.NoError(t, err)
	assertDecimal(t, "300", got.RemainingAmount)
	assert.Empty(t, uses)
}

func TestConsume_JoinsExistingSettlement(t *testing.T) {
	f := newFixture(t)
	payer := f.funded("col", ledger.RoleCollector, "1000")
	doc := f.document(ledger.FamilyRaw, ledger.MaterialFG, "S", payer, "10", "10")
	first, err := f.svc.Settle(f.ctx, doc.ID, d("40"), payer)
	require.NoError(t, err)
	adv := f.advance(payer, "S", "60", 0)
	_, err = f.svc.ConfirmArrival(f.ctx, adv.ID)
	require.NoError(t, err)

	res, err := f.svc.Consume(f.ctx, adv.ID, d("60"), doc.ID)

	require.NoError(t, err)
	assert.Equal(t, first.Settlement.ID, res.Settlement.Settlement.ID)
	assertDecimal(t, "100", res.Settlement.Settlement.TotalPaid)
	assert.Equal(t, ledger.DocPaid, res.Settlement.Document.Status)
	assert.Equal(t, ledger.AdvanceUsed, res.Advance.Status)
}

func TestAutoConfirmOverdue(t *testing.T) {
	f := newFixture(t)
	payer := f.funded("col", ledger.RoleCollector, "1000")
	due := f.advance(payer, "S", "100", 24)
	later := f.advance(payer, "T", "100", 72)
	none := f.advance(payer, "U", "100", 0)

	f.clock.Advance(25 * time.Hour)
	ids, err := f.svc.AutoConfirmOverdue(f.ctx, f.clock.Now())

	require.NoError(t, err)
	assert.Equal(t, []ledger.AdvanceID{due.ID}, ids)

	for id, want := range map[ledger.AdvanceID]ledger.AdvanceStatus{
		due.ID:   ledger.AdvanceArrived,
		later.ID: ledger.AdvancePending,
		none.ID:  ledger.AdvancePending,
	} {
		got, _, err := f.svc.GetAdvance(f.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, id)
	}

	ids, err = f.svc.AutoConfirmOverdue(f.ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestListAdvances_Filter(t *testing.T) {
	f := newFixture(t)
	payer := f.funded("col", ledger.RoleCollector, "1000")
	a := f.advance(payer, "S", "10", 0)
	f.advance(payer, "T", "10", 0)
	_, err := f.svc.ConfirmArrival(f.ctx, a.ID)
	require.NoError(t, err)

	arrived, err := f.svc.ListAdvances(f.ctx, ledger.AdvanceFilter{Status: ledger.AdvanceArrived})
	require.NoError(t, err)
	require.Len(t, arrived, 1)
	assert.Equal(t, a.ID, arrived[0].ID)

	all, err := f.svc.ListAdvances(f.ctx, ledger.AdvanceFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.svc.ListAdvances(f.ctx, ledger.AdvanceFilter{Status: "expired"})
	assertKind(t, "invalid_input", err)
}
