package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// RequestFunds records a user's request for money from the cash register.
func (s *Service) RequestFunds(ctx context.Context, requester UserID, amount decimal.Decimal, reason string) (FundRequest, error) {
	if err := requirePositive("amount", amount); err != nil {
		return FundRequest{}, err
	}
	r := FundRequest{
		ID:          FundRequestID(s.newID()),
		RequesterID: requester,
		Amount:      amount,
		Reason:      reason,
		Status:      FundRequestPending,
		CreatedAt:   s.now(),
	}
	err := s.withTransaction(ctx, "funds.request", func(tx Tx) error {
		if _, err := requireUser(ctx, tx, requester); err != nil {
			return err
		}
		return tx.InsertFundRequest(ctx, r)
	})
	if err != nil {
		return FundRequest{}, err
	}
	return r, nil
}

// ApproveFundRequest pays a pending request from the cash register to the
// requester. Only admins decide.
func (s *Service) ApproveFundRequest(ctx context.Context, admin UserID, id FundRequestID, note string) (FundRequest, Transfer, error) {
	var (
		out FundRequest
		t   Transfer
	)
	err := s.withRegister(ctx, "funds.approve", func(tx Tx) error {
		r, decider, err := s.pendingDecision(ctx, tx, admin, id, "approve")
		if err != nil {
			return err
		}
		requester, err := requireUser(ctx, tx, r.RequesterID)
		if err != nil {
			return err
		}
		t, err = s.transferTx(ctx, tx, *decider, *requester, TransferInput{
			FromID: decider.ID,
			ToID:   requester.ID,
			Amount: r.Amount,
			Method: "fund_request",
			Reason: r.Reason,
		})
		if err != nil {
			return err
		}
		s.decide(r, decider.ID, FundRequestApproved, note)
		r.TransferID = t.ID
		out = *r
		return tx.UpdateFundRequest(ctx, *r)
	})
	return out, t, err
}

// RejectFundRequest closes a pending request without moving money.
func (s *Service) RejectFundRequest(ctx context.Context, admin UserID, id FundRequestID, note string) (FundRequest, error) {
	var out FundRequest
	err := s.withTransaction(ctx, "funds.reject", func(tx Tx) error {
		r, decider, err := s.pendingDecision(ctx, tx, admin, id, "reject")
		if err != nil {
			return err
		}
		s.decide(r, decider.ID, FundRequestRejected, note)
		out = *r
		return tx.UpdateFundRequest(ctx, *r)
	})
	return out, err
}

// FundRequests lists requests in a status, or all when status is empty.
func (s *Service) FundRequests(ctx context.Context, status FundRequestStatus) ([]FundRequest, error) {
	var out []FundRequest
	err := s.withTransaction(ctx, "funds.list", func(tx Tx) error {
		var err error
		out, err = tx.ListFundRequests(ctx, status)
		return err
	})
	return out, err
}

func (s *Service) pendingDecision(ctx context.Context, tx Tx, admin UserID, id FundRequestID, op string) (*FundRequest, *User, error) {
	r, err := tx.LockFundRequest(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if r == nil {
		return nil, nil, notFound("fund request", id)
	}
	decider, err := requireUser(ctx, tx, admin)
	if err != nil {
		return nil, nil, err
	}
	if decider.Role != RoleAdmin {
		return nil, nil, forbidden(Actor{ID: decider.ID, Role: decider.Role}, op+" fund requests")
	}
	if r.Status != FundRequestPending {
		return nil, nil, invalidState("fund request", id, r.Status, op)
	}
	return r, decider, nil
}

func (s *Service) decide(r *FundRequest, by UserID, status FundRequestStatus, note string) {
	now := s.now()
	r.Status = status
	r.DecidedBy = by
	r.DecisionNote = note
	r.DecidedAt = &now
}
