/*
escrow.go - AdvancePaymentEscrow: supplier prepayments

PURPOSE:
  An advance moves money out of the payer's balance into escrow for one
  supplier before goods arrive. Once the goods are confirmed, the advance
  is drawn down against that supplier's reception documents. Whatever was
  not drawn down can be refunded by cancelling.

STATE MACHINE:
  pending --ConfirmArrival / deadline--> arrived
  arrived --Consume (remaining > 0)----> arrived
  arrived --Consume (remaining == 0)---> used
  pending|arrived --CancelAdvance------> cancelled (refunds remaining)

INVARIANTS:
  - used_amount + remaining_amount == amount after every operation
  - at most one live (pending or arrived) advance per supplier

SEE ALSO:
  - settlement.go: applyPaymentTx records the consumed amount as a payment
  - api/scheduler.go: runs AutoConfirmOverdue periodically
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type AdvanceInput struct {
	PayerID       UserID
	SupplierID    SupplierID
	Amount        decimal.Decimal
	DeadlineHours int
	Reference     string
	Note          string
}

// ConsumeResult reports the advance after a draw-down together with the
// settlement payment it produced.
type ConsumeResult struct {
	Advance     AdvancePayment
	Consumption AdvanceConsumption
	Settlement  SettlementResult
}

// CreateAdvance debits the payer and holds the amount in escrow for the
// supplier.
func (s *Service) CreateAdvance(ctx context.Context, in AdvanceInput) (AdvancePayment, error) {
	if err := requirePositive("amount", in.Amount); err != nil {
		return AdvancePayment{}, err
	}
	if in.SupplierID == "" {
		return AdvancePayment{}, invalidInput("supplier is required")
	}
	if in.DeadlineHours < 0 || in.DeadlineHours > MaxDeadlineHours {
		return AdvancePayment{}, invalidInput("deadline hours must be between 0 and %d, got %d", MaxDeadlineHours, in.DeadlineHours)
	}

	adv := AdvancePayment{
		ID:              AdvanceID(s.newID()),
		SupplierID:      in.SupplierID,
		PayerID:         in.PayerID,
		Amount:          in.Amount,
		UsedAmount:      decimal.Zero,
		RemainingAmount: in.Amount,
		Status:          AdvancePending,
		DeadlineHours:   in.DeadlineHours,
		Reference:       in.Reference,
		Note:            in.Note,
		CreatedAt:       s.now(),
	}
	err := s.withTransaction(ctx, "advance.create", func(tx Tx) error {
		live, err := tx.LockLiveAdvance(ctx, in.SupplierID)
		if err != nil {
			return err
		}
		if live != nil {
			return fmt.Errorf("%w: supplier %s has advance %s in state %s",
				ErrSupplierHasUnsettledAdvance, in.SupplierID, live.ID, live.Status)
		}
		if _, err := requireUser(ctx, tx, in.PayerID); err != nil {
			return err
		}
		if _, err := s.debitTx(ctx, tx, in.PayerID, in.Amount, "advance:"+string(adv.ID), "advance to "+string(in.SupplierID)); err != nil {
			return err
		}
		return tx.InsertAdvance(ctx, adv)
	})
	if err != nil {
		return AdvancePayment{}, err
	}
	return adv, nil
}

// ConfirmArrival marks the supplier's goods as arrived.
func (s *Service) ConfirmArrival(ctx context.Context, id AdvanceID) (AdvancePayment, error) {
	var out AdvancePayment
	err := s.withTransaction(ctx, "advance.confirm", func(tx Tx) error {
		adv, err := lockAdvance(ctx, tx, id)
		if err != nil {
			return err
		}
		if adv.Status != AdvancePending {
			return invalidState("advance", id, adv.Status, "confirm")
		}
		s.markArrived(adv)
		out = *adv
		return tx.UpdateAdvance(ctx, *adv)
	})
	return out, err
}

// CancelAdvance closes a live advance and refunds its remaining amount to
// the payer.
func (s *Service) CancelAdvance(ctx context.Context, id AdvanceID, reason string) (AdvancePayment, error) {
	var out AdvancePayment
	err := s.withTransaction(ctx, "advance.cancel", func(tx Tx) error {
		adv, err := lockAdvance(ctx, tx, id)
		if err != nil {
			return err
		}
		if !adv.Status.Live() {
			return invalidState("advance", id, adv.Status, "cancel")
		}
		if adv.RemainingAmount.IsPositive() {
			if _, err := s.creditTx(ctx, tx, adv.PayerID, adv.RemainingAmount, "advance:"+string(adv.ID), "advance refund"); err != nil {
				return err
			}
		}
		now := s.now()
		adv.Status = AdvanceCancelled
		adv.CancelReason = reason
		adv.ClosedAt = &now
		out = *adv
		return tx.UpdateAdvance(ctx, *adv)
	})
	return out, err
}

// Consume draws amount from an arrived advance and pays it against one
// reception document of the same supplier.
func (s *Service) Consume(ctx context.Context, id AdvanceID, amount decimal.Decimal, document DocumentID) (ConsumeResult, error) {
	if err := requirePositive("amount", amount); err != nil {
		return ConsumeResult{}, err
	}
	var res ConsumeResult
	err := s.withTransaction(ctx, "advance.consume", func(tx Tx) error {
		adv, err := lockAdvance(ctx, tx, id)
		if err != nil {
			return err
		}
		if adv.Status != AdvanceArrived {
			return invalidState("advance", id, adv.Status, "consume")
		}
		if amount.GreaterThan(adv.RemainingAmount) {
			return &InsufficientEscrowError{AdvanceID: id, Remaining: adv.RemainingAmount, Requested: amount}
		}

		doc, err := lockDocument(ctx, tx, document)
		if err != nil {
			return err
		}
		if doc.SupplierID != adv.SupplierID {
			return &InvalidStateError{Entity: "document", ID: string(doc.ID),
				State: "supplier " + string(doc.SupplierID), Op: "consume advance of supplier " + string(adv.SupplierID) + " against"}
		}
		if doc.PaidOff() {
			return invalidState("document", doc.ID, doc.Status, "consume advance against")
		}
		if amount.GreaterThan(doc.DebtToSupplier) {
			return &QuantityExceedsRemainingError{Entity: "document", ID: string(doc.ID),
				Remaining: doc.DebtToSupplier, Requested: amount}
		}

		st, err := tx.GetSettlementByDocument(ctx, document)
		if err != nil {
			return err
		}
		if st == nil {
			if st, err = s.openSettlementTx(ctx, tx, doc, adv.PayerID); err != nil {
				return err
			}
		}
		paid, err := s.applyPaymentTx(ctx, tx, doc, st, adv.PayerID, amount, PaymentFromAdvance, adv.ID)
		if err != nil {
			return err
		}

		now := s.now()
		adv.UsedAmount = adv.UsedAmount.Add(amount)
		adv.RemainingAmount = adv.RemainingAmount.Sub(amount)
		adv.LastDocumentID = document
		if adv.RemainingAmount.IsZero() {
			adv.Status = AdvanceUsed
			adv.ClosedAt = &now
		}
		if err := tx.UpdateAdvance(ctx, *adv); err != nil {
			return err
		}
		c := AdvanceConsumption{
			ID:         s.newID(),
			AdvanceID:  adv.ID,
			DocumentID: document,
			Amount:     amount,
			CreatedAt:  now,
		}
		if err := tx.InsertAdvanceConsumption(ctx, c); err != nil {
			return err
		}
		res = ConsumeResult{Advance: *adv, Consumption: c, Settlement: paid}
		return nil
	})
	return res, err
}

// GetAdvance returns an advance with its consumptions in order.
func (s *Service) GetAdvance(ctx context.Context, id AdvanceID) (AdvancePayment, []AdvanceConsumption, error) {
	var (
		adv  AdvancePayment
		uses []AdvanceConsumption
	)
	err := s.withTransaction(ctx, "advance.get", func(tx Tx) error {
		found, err := tx.GetAdvance(ctx, id)
		if err != nil {
			return err
		}
		if found == nil {
			return notFound("advance", id)
		}
		adv = *found
		uses, err = tx.ListAdvanceConsumptions(ctx, id)
		return err
	})
	return adv, uses, err
}

func (s *Service) ListAdvances(ctx context.Context, filter AdvanceFilter) ([]AdvancePayment, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, invalidInput("unknown advance status %q", filter.Status)
	}
	var out []AdvancePayment
	err := s.withTransaction(ctx, "advance.list", func(tx Tx) error {
		var err error
		out, err = tx.ListAdvances(ctx, filter)
		return err
	})
	return out, err
}

// AutoConfirmOverdue confirms every pending advance whose deadline has
// passed at now. Advances without a deadline are left alone.
func (s *Service) AutoConfirmOverdue(ctx context.Context, now time.Time) ([]AdvanceID, error) {
	var confirmed []AdvanceID
	err := s.withTransaction(ctx, "advance.auto_confirm", func(tx Tx) error {
		pending, err := tx.ListAdvances(ctx, AdvanceFilter{Status: AdvancePending, CreatedBefore: now})
		if err != nil {
			return err
		}
		for _, p := range pending {
			deadline := p.Deadline()
			if deadline.IsZero() || now.Before(deadline) {
				continue
			}
			adv, err := lockAdvance(ctx, tx, p.ID)
			if err != nil {
				return err
			}
			if adv.Status != AdvancePending {
				continue
			}
			s.markArrived(adv)
			if err := tx.UpdateAdvance(ctx, *adv); err != nil {
				return err
			}
			confirmed = append(confirmed, adv.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return confirmed, nil
}

func (s *Service) markArrived(adv *AdvancePayment) {
	now := s.now()
	adv.Status = AdvanceArrived
	adv.ArrivedAt = &now
}

func lockAdvance(ctx context.Context, tx Tx, id AdvanceID) (*AdvancePayment, error) {
	adv, err := tx.LockAdvance(ctx, id)
	if err != nil {
		return nil, err
	}
	if adv == nil {
		return nil, notFound("advance", id)
	}
	return adv, nil
}
