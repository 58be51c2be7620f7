package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/supply-ledger/ledger"
)

func TestFundRequest_ApprovePaysFromRegister(t *testing.T) {
	f := newFixture(t)
	admin := f.user("a1", ledger.RoleAdmin)
	col := f.user("c1", ledger.RoleCollector)
	f.registerEntry(ledger.RegisterIncome, "300")

	req, err := f.svc.RequestFunds(f.ctx, col, d("120"), "diesel")
	require.NoError(t, err)
	assert.Equal(t, ledger.FundRequestPending, req.Status)

	got, tr, err := f.svc.ApproveFundRequest(f.ctx, admin, req.ID, "ok")

	require.NoError(t, err)
	assert.Equal(t, ledger.FundRequestApproved, got.Status)
	assert.Equal(t, admin, got.DecidedBy)
	assert.Equal(t, tr.ID, got.TransferID)
	require.NotNil(t, got.DecidedAt)
	assert.Equal(t, "fund_request", tr.Method)
	assert.Equal(t, ledger.SourceRegister, tr.Source)
	assertDecimal(t, "120", f.balance(col))
	assertDecimal(t, "180", f.registerBalance())

	_, _, err = f.svc.ApproveFundRequest(f.ctx, admin, req.ID, "")
	assertKind(t, "invalid_state", err)
	assertDecimal(t, "120", f.balance(col))
}

func TestFundRequest_ApproveWithoutCashRollsBack(t *testing.T) {
	f := newFixture(t)
	admin := f.user("a1", ledger.RoleAdmin)
	col := f.user("c1", ledger.RoleCollector)
	req, err := f.svc.RequestFunds(f.ctx, col, d("50"), "")
	require.NoError(t, err)

	_, _, err = f.svc.ApproveFundRequest(f.ctx, admin, req.ID, "")

	assertKind(t, "insufficient_funds", err)
	pending, err := f.svc.FundRequests(f.ctx, ledger.FundRequestPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, req.ID, pending[0].ID)
}

func TestFundRequest_Reject(t *testing.T) {
	f := newFixture(t)
	admin := f.user("a1", ledger.RoleAdmin)
	col := f.user("c1", ledger.RoleCollector)
	req, err := f.svc.RequestFunds(f.ctx, col, d("50"), "")
	require.NoError(t, err)

	got, err := f.svc.RejectFundRequest(f.ctx, admin, req.ID, "not now")

	require.NoError(t, err)
	assert.Equal(t, ledger.FundRequestRejected, got.Status)
	assert.Equal(t, "not now", got.DecisionNote)
	assertDecimal(t, "0", f.balance(col))

	_, err = f.svc.RejectFundRequest(f.ctx, admin, req.ID, "")
	assertKind(t, "invalid_state", err)
}

func TestFundRequest_OnlyAdminsDecide(t *testing.T) {
	f := newFixture(t)
	vendor := f.user("v1", ledger.RoleVendor)
	col := f.user("c1", ledger.RoleCollector)
	req, err := f.svc.RequestFunds(f.ctx, col, d("50"), "")
	require.NoError(t, err)

	_, _, err = f.svc.ApproveFundRequest(f.ctx, vendor, req.ID, "")
	require.ErrorIs(t, err, ledger.ErrForbidden)

	_, err = f.svc.RejectFundRequest(f.ctx, col, req.ID, "")
	require.ErrorIs(t, err, ledger.ErrForbidden)

	_, err = f.svc.RejectFundRequest(f.ctx, vendor, "missing", "")
	assertKind(t, "not_found", err)
}

func TestFundRequest_Validation(t *testing.T) {
	f := newFixture(t)
	col := f.user("c1", ledger.RoleCollector)

	_, err := f.svc.RequestFunds(f.ctx, col, d("0"), "")
	assertKind(t, "invalid_input", err)

	_, err = f.svc.RequestFunds(f.ctx, "ghost", d("1"), "")
	assertKind(t, "not_found", err)

	all, err := f.svc.FundRequests(f.ctx, "")
	require.NoError(t, err)
	assert.Empty(t, all)
}
