/*
balance.go - BalanceLedger: per-user cash balances

PURPOSE:
  Credits and debits user balances. A balance never goes negative: a
  debit larger than the current amount fails with InsufficientFundsError
  and changes nothing. Every mutation appends a BalanceMovement so the
  balance can be audited back to its history.

ROW LIFECYCLE:
  Balance rows are created lazily on first credit (zero row inserted,
  then locked). A user with no row has a balance of zero.

LOCKING:
  Each read-modify-write holds the balance row lock. Operations touching
  two users lock both rows first, in ascending user-id order.

SEE ALSO:
  - transfer.go: cross-user movements
  - settlement.go, escrow.go: debit payers
*/
package ledger

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// Credit adds amount to the user's balance.
func (s *Service) Credit(ctx context.Context, user UserID, amount decimal.Decimal, note string) (Balance, error) {
	if err := requirePositive("amount", amount); err != nil {
		return Balance{}, err
	}
	var out Balance
	err := s.withTransaction(ctx, "balance.credit", func(tx Tx) error {
		if _, err := requireUser(ctx, tx, user); err != nil {
			return err
		}
		var err error
		out, err = s.creditTx(ctx, tx, user, amount, "credit", note)
		return err
	})
	return out, err
}

// Debit subtracts amount from the user's balance.
func (s *Service) Debit(ctx context.Context, user UserID, amount decimal.Decimal, note string) (Balance, error) {
	if err := requirePositive("amount", amount); err != nil {
		return Balance{}, err
	}
	var out Balance
	err := s.withTransaction(ctx, "balance.debit", func(tx Tx) error {
		if _, err := requireUser(ctx, tx, user); err != nil {
			return err
		}
		var err error
		out, err = s.debitTx(ctx, tx, user, amount, "debit", note)
		return err
	})
	return out, err
}

// Balance returns the user's current amount, zero when no row exists yet.
func (s *Service) Balance(ctx context.Context, user UserID) (decimal.Decimal, error) {
	amount := decimal.Zero
	err := s.withTransaction(ctx, "balance.get", func(tx Tx) error {
		if _, err := requireUser(ctx, tx, user); err != nil {
			return err
		}
		b, err := tx.GetBalance(ctx, user)
		if err != nil {
			return err
		}
		if b != nil {
			amount = b.Amount
		}
		return nil
	})
	return amount, err
}

// Movements returns the user's most recent balance movements, newest first.
// limit <= 0 returns everything.
func (s *Service) Movements(ctx context.Context, user UserID, limit int) ([]BalanceMovement, error) {
	var out []BalanceMovement
	err := s.withTransaction(ctx, "balance.movements", func(tx Tx) error {
		if _, err := requireUser(ctx, tx, user); err != nil {
			return err
		}
		var err error
		out, err = tx.ListMovements(ctx, user, limit)
		return err
	})
	return out, err
}

// =============================================================================
// TRANSACTION HELPERS
// =============================================================================

// lockBalances creates missing rows and locks every listed balance in
// ascending user-id order.
func (s *Service) lockBalances(ctx context.Context, tx Tx, users ...UserID) error {
	ids := append([]UserID(nil), users...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var prev UserID
	for i, id := range ids {
		if i > 0 && id == prev {
			continue
		}
		prev = id
		if err := tx.InsertBalance(ctx, Balance{UserID: id, Amount: decimal.Zero, UpdatedAt: s.now()}); err != nil {
			return err
		}
		if _, err := tx.LockBalance(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) creditTx(ctx context.Context, tx Tx, user UserID, amount decimal.Decimal, ref, note string) (Balance, error) {
	if err := s.lockBalances(ctx, tx, user); err != nil {
		return Balance{}, err
	}
	b, err := tx.LockBalance(ctx, user)
	if err != nil {
		return Balance{}, err
	}
	b.Amount = b.Amount.Add(amount)
	b.UpdatedAt = s.now()
	if err := tx.UpdateBalance(ctx, *b); err != nil {
		return Balance{}, err
	}
	return *b, s.recordMovement(ctx, tx, *b, MovementCredit, amount, ref, note)
}

func (s *Service) debitTx(ctx context.Context, tx Tx, user UserID, amount decimal.Decimal, ref, note string) (Balance, error) {
	b, err := tx.LockBalance(ctx, user)
	if err != nil {
		return Balance{}, err
	}
	if b == nil {
		return Balance{}, &InsufficientFundsError{Account: string(user), Available: decimal.Zero, Requested: amount}
	}
	if b.Amount.LessThan(amount) {
		return Balance{}, &InsufficientFundsError{Account: string(user), Available: b.Amount, Requested: amount}
	}
	b.Amount = b.Amount.Sub(amount)
	b.UpdatedAt = s.now()
	if err := tx.UpdateBalance(ctx, *b); err != nil {
		return Balance{}, err
	}
	return *b, s.recordMovement(ctx, tx, *b, MovementDebit, amount.Neg(), ref, note)
}

func (s *Service) recordMovement(ctx context.Context, tx Tx, b Balance, kind MovementKind, delta decimal.Decimal, ref, note string) error {
	return tx.InsertMovement(ctx, BalanceMovement{
		ID:           s.newID(),
		UserID:       b.UserID,
		Kind:         kind,
		Delta:        delta,
		BalanceAfter: b.Amount,
		Reference:    ref,
		Note:         note,
		CreatedAt:    b.UpdatedAt,
	})
}
