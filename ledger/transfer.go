/*
transfer.go - TransferWorkflow

PURPOSE:
  Moves money from one user to another. Where the money comes from depends
  on the initiator's role:

    admin   debits the cash register (expense entry)
    vendor  debits the vendor's balance and deposits it into the register
            (income entry); the recipient must be an admin
    others  debit the initiator's own balance

  The recipient's balance is always credited. Self-transfers are refused.

LOCKING:
  Register-touching transfers hold the register tail lock, then lock the
  register head row before any balance row. Balances are locked in
  ascending user-id order.
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

type TransferInput struct {
	FromID UserID
	ToID   UserID
	Amount decimal.Decimal
	Method string
	Reason string
}

// Transfer moves amount from the initiator to the recipient.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (Transfer, error) {
	if err := requirePositive("amount", in.Amount); err != nil {
		return Transfer{}, err
	}
	if in.FromID == in.ToID {
		return Transfer{}, &RecipientError{From: in.FromID, To: in.ToID, Reason: "cannot transfer to self"}
	}

	role, err := s.roleOf(ctx, in.FromID)
	if err != nil {
		return Transfer{}, err
	}
	run := s.withTransaction
	if role == RoleAdmin || role == RoleVendor {
		run = s.withRegister
	}

	var out Transfer
	err = run(ctx, "transfer.create", func(tx Tx) error {
		from, err := requireUser(ctx, tx, in.FromID)
		if err != nil {
			return err
		}
		to, err := requireUser(ctx, tx, in.ToID)
		if err != nil {
			return err
		}
		out, err = s.transferTx(ctx, tx, *from, *to, in)
		return err
	})
	return out, err
}

// Transfers lists transfers sent or received by a user, oldest first.
func (s *Service) Transfers(ctx context.Context, user UserID) ([]Transfer, error) {
	var out []Transfer
	err := s.withTransaction(ctx, "transfer.list", func(tx Tx) error {
		if _, err := requireUser(ctx, tx, user); err != nil {
			return err
		}
		var err error
		out, err = tx.ListTransfers(ctx, user)
		return err
	})
	return out, err
}

// roleOf resolves the stored role of a user outside of any operation.
// Roles never change once a user is registered.
func (s *Service) roleOf(ctx context.Context, id UserID) (Role, error) {
	var role Role
	err := s.store.WithTx(ctx, func(tx Tx) error {
		u, err := requireUser(ctx, tx, id)
		if err != nil {
			return err
		}
		role = u.Role
		return nil
	})
	return role, err
}

// transferTx applies one transfer. Register-sourced transfers require the
// caller to hold the register tail lock.
func (s *Service) transferTx(ctx context.Context, tx Tx, from, to User, in TransferInput) (Transfer, error) {
	if from.ID == to.ID {
		return Transfer{}, &RecipientError{From: from.ID, To: to.ID, Reason: "cannot transfer to self"}
	}
	if from.Role == RoleVendor && to.Role != RoleAdmin {
		return Transfer{}, &RecipientError{From: from.ID, To: to.ID, Reason: "vendors may only transfer to an admin"}
	}

	t := Transfer{
		ID:        TransferID(s.newID()),
		FromID:    from.ID,
		ToID:      to.ID,
		Amount:    in.Amount,
		Method:    in.Method,
		Reason:    in.Reason,
		Source:    SourceBalance,
		CreatedAt: s.now(),
	}
	ref := transferRefPrefix + string(t.ID)

	switch from.Role {
	case RoleAdmin:
		e, err := s.appendRegisterTx(ctx, tx, RegisterInput{
			Type: RegisterExpense, Amount: in.Amount, Method: in.Method, Reason: in.Reason, Reference: ref,
		})
		if err != nil {
			return Transfer{}, err
		}
		t.Source = SourceRegister
		t.RegisterEntryID = e.ID

	case RoleVendor:
		if _, err := tx.LockRegisterHead(ctx); err != nil {
			return Transfer{}, err
		}
		if err := s.lockBalances(ctx, tx, from.ID, to.ID); err != nil {
			return Transfer{}, err
		}
		if _, err := s.debitTx(ctx, tx, from.ID, in.Amount, ref, in.Reason); err != nil {
			return Transfer{}, err
		}
		e, err := s.appendRegisterTx(ctx, tx, RegisterInput{
			Type: RegisterIncome, Amount: in.Amount, Method: in.Method, Reason: in.Reason, Reference: ref,
		})
		if err != nil {
			return Transfer{}, err
		}
		t.RegisterEntryID = e.ID

	default:
		if err := s.lockBalances(ctx, tx, from.ID, to.ID); err != nil {
			return Transfer{}, err
		}
		if _, err := s.debitTx(ctx, tx, from.ID, in.Amount, ref, in.Reason); err != nil {
			return Transfer{}, err
		}
	}

	if _, err := s.creditTx(ctx, tx, to.ID, in.Amount, ref, in.Reason); err != nil {
		return Transfer{}, err
	}
	if err := tx.InsertTransfer(ctx, t); err != nil {
		return Transfer{}, err
	}
	s.log.WithField("transfer", t.ID).WithField("source", t.Source).
		Infof("transferred %s from %s to %s", t.Amount, t.FromID, t.ToID)
	return t, nil
}
