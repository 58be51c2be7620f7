package ledger_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/supply-ledger/ledger"
)

// net_weight 100, debt 1000; settle 1000 with payer balance 1000.
func TestSettle_FullPaymentStocksBothPools(t *testing.T) {
	f := newFixture(t)
	payer := f.funded("col", ledger.RoleCollector, "1000")
	doc := f.document(ledger.FamilyRaw, ledger.MaterialFG, "sup", payer, "100", "10")
	assert.Equal(t, ledger.DocUnpaid, doc.Status)
	assertDecimal(t, "1000", doc.DebtToSupplier)

	res, err := f.svc.Settle(f.ctx, doc.ID, d("1000"), payer)

	require.NoError(t, err)
	assert.True(t, res.StockedIn)
	assert.Equal(t, ledger.DocPaid, res.Document.Status)
	assertDecimal(t, "0", res.Document.DebtToSupplier)
	assertDecimal(t, "0", f.balance(payer))
	assertDecimal(t, "100", f.entry(ledger.MaterialFG, global).TotalIn)
	assertDecimal(t, "100", f.entry(ledger.MaterialFG, ledger.OwnedBy(payer)).TotalIn)
	assert.Equal(t, ledger.PaymentFromBalance, res.Payment.Source)
}

func TestSettle_PartialThenAddPayment(t *testing.T) {
	f := newFixture(t)
	payer := f.funded("col", ledger.RoleCollector, "1000")
	doc := f.document(ledger.FamilyRaw, ledger.MaterialCG, "sup", payer, "50", "4")

	first, err := f.svc.Settle(f.ctx, doc.ID, d("150"), payer)
	require.NoError(t, err)
	assert.Equal(t, ledger.DocPartiallyPaid, first.Document.Status)
	assert.False(t, first.StockedIn)
	assertDecimal(t, "0", f.entry(ledger.MaterialCG, global).TotalIn)

	second, err := f.svc.AddPayment(f.ctx, first.Settlement.ID, d("50"))
	require.NoError(t, err)
	assert.Equal(t, ledger.DocPaid, second.Document.Status)
	assert.True(t, second.StockedIn)
	assertDecimal(t, "200", second.Settlement.TotalPaid)
	assertDecimal(t, "800", f.balance(payer))

	st, payments, err := f.svc.GetSettlement(f.ctx, first.Settlement.ID)
	require.NoError(t, err)
	assertDecimal(t, "200", st.TotalPaid)
	require.Len(t, payments, 2)
	assertDecimal(t, "150", payments[0].Amount)
	assertDecimal(t, "50", payments[1].Amount)
}

func TestSettle_OverpaymentFloorsDebt(t *testing.T) {
	f := newFixture(t)
	payer := f.funded("col", ledger.RoleCollector, "500")
	doc := f.document(ledger.FamilyRaw, ledger.MaterialGG, "sup", payer, "10", "10")

	res, err := f.svc.Settle(f.ctx, doc.ID, d("120"), payer)

	require.NoError(t, err)
	assertDecimal(t, "0", res.Document.DebtToSupplier)
	assertDecimal(t, "380", f.balance(payer))
}

func TestSettle_Duplicate(t *testing.T) {
	f := newFixture(t)
	payer := f.funded("col", ledger.RoleCollector, "1000")
	doc := f.document(ledger.FamilyRaw, ledger.MaterialFG, "sup", payer, "10", "10")
	_, err := f.svc.Settle(f.ctx, doc.ID, d("10"), payer)
	require.NoError(t, err)

	_, err = f.svc.Settle(f.ctx, doc.ID, d("10"), payer)

	require.ErrorIs(t, err, ledger.ErrDuplicateSettlement)
	assertDecimal(t, "990", f.balance(payer))
}

func TestSettle_InsufficientFundsRollsBack(t *testing.T) {
	f := newFixture(t)
	payer := f.funded("col", ledger.RoleCollector, "50")
	doc := f.document(ledger.FamilyRaw, ledger.MaterialFG, "sup", payer, "10", "10")

	_, err := f.svc.Settle(f.ctx, doc.ID, d("100"), payer)
	assertKind(t, "insufficient_funds", err)

	// No settlement was left behind, so a retry is not a duplicate.
	st, err := f.svc.SettlementForDocument(f.ctx, doc.ID)
	require.NoError(t, err)
	assert.Nil(t, st)

	got, err := f.svc.GetDocument(f.ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.DocUnpaid, got.Status)
	assertDecimal(t, "100", got.DebtToSupplier)

	_, err = f.svc.Settle(f.ctx, doc.ID, d("50"), payer)
	require.NoError(t, err)
}

func TestAddPayment_AfterPaidDoesNotRestock(t *testing.T) {
	f := newFixture(t)
	payer := f.funded("col", ledger.RoleCollector, "1000")
	doc := f.document(ledger.FamilyRaw, ledger.MaterialFG, "sup", payer, "20", "5")
	res, err := f.svc.Settle(f.ctx, doc.ID, d("100"), payer)
	require.NoError(t, err)
	require.True(t, res.StockedIn)

	for i := 0; i < 3; i++ {
		_, err = f.svc.AddPayment(f.ctx, res.Settlement.ID, d("10"))
		assertKind(t, "invalid_state", err)
	}

	assertDecimal(t, "20", f.entry(ledger.MaterialFG, global).TotalIn)
	assertDecimal(t, "20", f.entry(ledger.MaterialFG, ledger.OwnedBy(payer)).TotalIn)
	assertDecimal(t, "900", f.balance(payer))
}

func TestRegisterDocument_ZeroDebtIsPaidOnArrival(t *testing.T) {
	f := newFixture(t)
	owner := f.user("col", ledger.RoleCollector)

	doc, err := f.svc.RegisterDocument(f.ctx, ledger.DocumentInput{
		Family:     ledger.FamilyOil,
		Material:   ledger.MaterialHE,
		SupplierID: "sup",
		OwnerID:    owner,
		NetWeight:  d("8"),
		UnitPrice:  d("100"),
		Debt:       decimal.NewNullDecimal(decimal.Zero),
	})

	require.NoError(t, err)
	assert.Equal(t, ledger.DocPaid, doc.Status)
	assert.True(t, doc.StockedIn)
	assertDecimal(t, "800", doc.TotalPrice)
	assertDecimal(t, "8", f.entry(ledger.MaterialHE, global).TotalIn)
	assertDecimal(t, "8", f.entry(ledger.MaterialHE, ledger.OwnedBy(owner)).TotalIn)
}

func TestRegisterDocument_Validation(t *testing.T) {
	f := newFixture(t)
	owner := f.user("col", ledger.RoleCollector)

	tests := []struct {
		name string
		in   ledger.DocumentInput
		kind string
	}{
		{"raw family with oil", ledger.DocumentInput{Family: ledger.FamilyRaw, Material: ledger.MaterialHE, SupplierID: "s", OwnerID: owner, NetWeight: d("1")}, "invalid_input"},
		{"oil family with raw", ledger.DocumentInput{Family: ledger.FamilyOil, Material: ledger.MaterialFG, SupplierID: "s", OwnerID: owner, NetWeight: d("1")}, "invalid_input"},
		{"zero weight", ledger.DocumentInput{Family: ledger.FamilyRaw, Material: ledger.MaterialFG, SupplierID: "s", OwnerID: owner, NetWeight: d("0")}, "invalid_input"},
		{"negative price", ledger.DocumentInput{Family: ledger.FamilyRaw, Material: ledger.MaterialFG, SupplierID: "s", OwnerID: owner, NetWeight: d("1"), UnitPrice: d("-1")}, "invalid_input"},
		{"missing supplier", ledger.DocumentInput{Family: ledger.FamilyRaw, Material: ledger.MaterialFG, OwnerID: owner, NetWeight: d("1")}, "invalid_input"},
		{"unknown owner", ledger.DocumentInput{Family: ledger.FamilyRaw, Material: ledger.MaterialFG, SupplierID: "s", OwnerID: "ghost", NetWeight: d("1")}, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.RegisterDocument(f.ctx, tt.in)
			assertKind(t, tt.kind, err)
		})
	}
}

func TestSettle_UnknownDocument(t *testing.T) {
	f := newFixture(t)
	payer := f.funded("col", ledger.RoleCollector, "10")

	_, err := f.svc.Settle(f.ctx, "missing", d("1"), payer)

	assert.True(t, ledger.IsNotFound(err))
}
