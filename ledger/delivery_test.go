package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/supply-ledger/ledger"
)

// reserve 40 of 40 for a simple delivery, cancel gives it back.
func TestDelivery_SimpleRoundTrip(t *testing.T) {
	f := newFixture(t)
	vendor := f.user("v1", ledger.RoleVendor)
	dist := f.user("d1", ledger.RoleDistiller)
	_, err := f.svc.StockIn(f.ctx, ledger.MaterialHE, global, d("40"))
	require.NoError(t, err)
	actor := ledger.Actor{ID: vendor, Role: ledger.RoleVendor}

	del, err := f.svc.CreateDelivery(f.ctx, actor, ledger.DeliveryInput{
		Material: ledger.MaterialHE, Owner: global, Quantity: d("40"), RecipientID: dist,
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.DeliverySimple, del.Kind)
	assert.Equal(t, ledger.DeliveryDelivered, del.Status)
	assertDecimal(t, "0", f.entry(ledger.MaterialHE, global).Available)

	del, err = f.svc.CancelDelivery(f.ctx, del.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.DeliveryCancelled, del.Status)
	assertDecimal(t, "40", f.entry(ledger.MaterialHE, global).Available)

	_, err = f.svc.CancelDelivery(f.ctx, del.ID)
	assertKind(t, "invalid_state", err)
	assertDecimal(t, "40", f.entry(ledger.MaterialHE, global).Available)
}

func TestDelivery_SimpleInsufficientStock(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.StockIn(f.ctx, ledger.MaterialHE, global, d("5"))
	require.NoError(t, err)

	_, err = f.svc.CreateDelivery(f.ctx, ledger.Actor{ID: "x", Role: ledger.RoleVendor}, ledger.DeliveryInput{
		Material: ledger.MaterialHE, Owner: global, Quantity: d("6"),
	})

	assertKind(t, "insufficient_stock", err)
	assertDecimal(t, "5", f.entry(ledger.MaterialHE, global).Available)
}

func TestDelivery_UnknownRecipient(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.StockIn(f.ctx, ledger.MaterialHE, global, d("5"))
	require.NoError(t, err)

	_, err = f.svc.CreateDelivery(f.ctx, ledger.Actor{}, ledger.DeliveryInput{
		Material: ledger.MaterialHE, Owner: global, Quantity: d("1"), RecipientID: "ghost",
	})

	assertKind(t, "not_found", err)
	assertDecimal(t, "5", f.entry(ledger.MaterialHE, global).Available)
}

func TestPartialDelivery_StartCompleteInSteps(t *testing.T) {
	f := newFixture(t)
	col := f.user("c1", ledger.RoleCollector)
	dist := f.user("d1", ledger.RoleDistiller)
	doc := f.paidDocument(ledger.MaterialFG, col, "100")
	owner := ledger.OwnedBy(col)
	actor := ledger.Actor{ID: col, Role: ledger.RoleCollector}

	// GIVEN: A delivery note for 40 is started
	del, err := f.svc.StartPartialDelivery(f.ctx, actor, doc.ID, d("40"), dist)
	require.NoError(t, err)
	assert.Equal(t, ledger.DeliveryPending, del.Status)
	assert.Equal(t, owner, del.Owner)
	assertDecimal(t, "60", f.entry(ledger.MaterialFG, owner).Available)
	got, err := f.svc.GetDocument(f.ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.DocInDelivery, got.Status)

	// AND: A second one cannot start while the first is open
	_, err = f.svc.StartPartialDelivery(f.ctx, actor, doc.ID, d("10"), dist)
	assertKind(t, "invalid_state", err)

	// WHEN: Only 30 is actually delivered
	del, got, err = f.svc.CompletePartialDelivery(f.ctx, del.ID, d("30"))
	require.NoError(t, err)

	// THEN: The 10 not delivered goes back to the pool
	assert.Equal(t, ledger.DeliveryDelivered, del.Status)
	assertDecimal(t, "30", del.DeliveredQuantity)
	assertDecimal(t, "70", f.entry(ledger.MaterialFG, owner).Available)
	assert.Equal(t, ledger.DocPartiallyDelivered, got.Status)
	assertDecimal(t, "70", got.RemainingQuantity)

	// WHEN: The rest is delivered in one go
	del2, err := f.svc.StartPartialDelivery(f.ctx, actor, doc.ID, d("70"), dist)
	require.NoError(t, err)
	_, got, err = f.svc.CompletePartialDelivery(f.ctx, del2.ID, d("70"))
	require.NoError(t, err)

	// THEN: The document is delivered and nothing more can start
	assert.Equal(t, ledger.DocDelivered, got.Status)
	assertDecimal(t, "0", got.RemainingQuantity)
	assertDecimal(t, "0", f.entry(ledger.MaterialFG, owner).Available)
	assertDecimal(t, "100", f.entry(ledger.MaterialFG, global).Available)

	_, err = f.svc.StartPartialDelivery(f.ctx, actor, doc.ID, d("1"), dist)
	assertKind(t, "invalid_state", err)

	list, err := f.svc.DocumentDeliveries(f.ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestPartialDelivery_QuantityLimits(t *testing.T) {
	f := newFixture(t)
	col := f.user("c1", ledger.RoleCollector)
	doc := f.paidDocument(ledger.MaterialCG, col, "20")
	actor := ledger.Actor{ID: col, Role: ledger.RoleCollector}

	_, err := f.svc.StartPartialDelivery(f.ctx, actor, doc.ID, d("21"), "")
	assertKind(t, "quantity_exceeds_remaining", err)

	del, err := f.svc.StartPartialDelivery(f.ctx, actor, doc.ID, d("15"), "")
	require.NoError(t, err)

	_, _, err = f.svc.CompletePartialDelivery(f.ctx, del.ID, d("16"))
	assertKind(t, "quantity_exceeds_remaining", err)

	_, _, err = f.svc.CompletePartialDelivery(f.ctx, del.ID, d("0"))
	assertKind(t, "invalid_input", err)

	_, _, err = f.svc.CompletePartialDelivery(f.ctx, del.ID, d("15"))
	require.NoError(t, err)

	_, _, err = f.svc.CompletePartialDelivery(f.ctx, del.ID, d("1"))
	assertKind(t, "invalid_state", err)
}

func TestPartialDelivery_CancelRestoresDocument(t *testing.T) {
	f := newFixture(t)
	col := f.user("c1", ledger.RoleCollector)
	doc := f.paidDocument(ledger.MaterialGG, col, "50")
	owner := ledger.OwnedBy(col)
	actor := ledger.Actor{ID: col, Role: ledger.RoleCollector}

	// Cancelling before anything was delivered goes back to paid.
	del, err := f.svc.StartPartialDelivery(f.ctx, actor, doc.ID, d("20"), "")
	require.NoError(t, err)
	_, err = f.svc.CancelDelivery(f.ctx, del.ID)
	require.NoError(t, err)
	got, err := f.svc.GetDocument(f.ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.DocPaid, got.Status)
	assertDecimal(t, "50", f.entry(ledger.MaterialGG, owner).Available)

	// After a partial delivery, cancelling the next note keeps partially_delivered.
	del, err = f.svc.StartPartialDelivery(f.ctx, actor, doc.ID, d("20"), "")
	require.NoError(t, err)
	_, _, err = f.svc.CompletePartialDelivery(f.ctx, del.ID, d("20"))
	require.NoError(t, err)
	del, err = f.svc.StartPartialDelivery(f.ctx, actor, doc.ID, d("10"), "")
	require.NoError(t, err)
	_, err = f.svc.CancelDelivery(f.ctx, del.ID)
	require.NoError(t, err)

	got, err = f.svc.GetDocument(f.ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.DocPartiallyDelivered, got.Status)
	assertDecimal(t, "30", got.RemainingQuantity)
	assertDecimal(t, "30", f.entry(ledger.MaterialGG, owner).Available)

	// Delivered notes are final.
	done, err := f.svc.StartPartialDelivery(f.ctx, actor, doc.ID, d("5"), "")
	require.NoError(t, err)
	_, _, err = f.svc.CompletePartialDelivery(f.ctx, done.ID, d("5"))
	require.NoError(t, err)
	_, err = f.svc.CancelDelivery(f.ctx, done.ID)
	assertKind(t, "invalid_state", err)
}

func TestPartialDelivery_RequiresPaidRawDocument(t *testing.T) {
	f := newFixture(t)
	col := f.user("c1", ledger.RoleCollector)
	actor := ledger.Actor{ID: col, Role: ledger.RoleCollector}
	unpaid := f.document(ledger.FamilyRaw, ledger.MaterialFG, "sup", col, "10", "10")
	oil := f.document(ledger.FamilyOil, ledger.MaterialHE, "sup", col, "10", "0")
	require.Equal(t, ledger.DocPaid, oil.Status)

	_, err := f.svc.StartPartialDelivery(f.ctx, actor, unpaid.ID, d("1"), "")
	assertKind(t, "invalid_state", err)

	_, err = f.svc.StartPartialDelivery(f.ctx, actor, oil.ID, d("1"), "")
	assertKind(t, "invalid_state", err)

	_, err = f.svc.StartPartialDelivery(f.ctx, actor, "missing", d("1"), "")
	assertKind(t, "not_found", err)

	_, err = f.svc.GetDelivery(f.ctx, "missing")
	assertKind(t, "not_found", err)
}
