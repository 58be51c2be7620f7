/*
register.go - Cash register log

PURPOSE:
  The cash register is the admin-level running cash balance, kept as an
  append-only sequence of entries. Each entry carries the balance after
  it was applied, so the current balance is the balance_after of the last
  entry. RegisterHead caches (last seq, balance) so reading the current
  balance and appending are O(1).

APPENDS:
  Serialized twice: the Service takes the register tail lock (Locker)
  before opening the transaction, and the transaction locks the head row.
  The register never goes negative.

CORRECTIONS:
  Editing or deleting an entry is followed by a full rebuild that
  recomputes balance_after for every entry in seq order inside the same
  transaction. A rebuild that would drive the balance negative fails and
  the correction is rolled back. Entries written by transfers cannot be
  corrected here; only manual entries can.
*/
package ledger

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// transferRefPrefix marks register entries written by a transfer.
const transferRefPrefix = "transfer:"

const registerAccount = "register"

type RegisterInput struct {
	Type      RegisterEntryType
	Amount    decimal.Decimal
	Method    string
	Reason    string
	Reference string
}

func (in RegisterInput) validate() error {
	if !in.Type.Valid() {
		return invalidInput("unknown register entry type %q", in.Type)
	}
	if strings.HasPrefix(in.Reference, transferRefPrefix) {
		return invalidInput("reference prefix %q is reserved", transferRefPrefix)
	}
	return requirePositive("amount", in.Amount)
}

// RegisterBalance returns the current register balance.
func (s *Service) RegisterBalance(ctx context.Context) (decimal.Decimal, error) {
	var head RegisterHead
	err := s.withTransaction(ctx, "register.balance", func(tx Tx) error {
		var err error
		head, err = tx.GetRegisterHead(ctx)
		return err
	})
	return head.Balance, err
}

// RegisterEntries returns the whole log in seq order.
func (s *Service) RegisterEntries(ctx context.Context) ([]RegisterEntry, error) {
	var out []RegisterEntry
	err := s.withTransaction(ctx, "register.entries", func(tx Tx) error {
		var err error
		out, err = tx.ListRegisterEntries(ctx)
		return err
	})
	return out, err
}

// RecordRegisterEntry appends a manual income or expense.
func (s *Service) RecordRegisterEntry(ctx context.Context, in RegisterInput) (RegisterEntry, error) {
	if err := in.validate(); err != nil {
		return RegisterEntry{}, err
	}
	var out RegisterEntry
	err := s.withRegister(ctx, "register.record", func(tx Tx) error {
		var err error
		out, err = s.appendRegisterTx(ctx, tx, in)
		return err
	})
	return out, err
}

// EditRegisterEntry rewrites a manual entry and rebuilds the log.
func (s *Service) EditRegisterEntry(ctx context.Context, id RegisterEntryID, in RegisterInput) (RegisterEntry, error) {
	if err := in.validate(); err != nil {
		return RegisterEntry{}, err
	}
	var out RegisterEntry
	err := s.withRegister(ctx, "register.edit", func(tx Tx) error {
		if _, err := tx.LockRegisterHead(ctx); err != nil {
			return err
		}
		e, err := manualEntry(ctx, tx, id, "edit")
		if err != nil {
			return err
		}
		e.Type = in.Type
		e.Amount = in.Amount
		e.Method = in.Method
		e.Reason = in.Reason
		e.Reference = in.Reference
		if err := tx.UpdateRegisterEntry(ctx, *e); err != nil {
			return err
		}
		if _, err := s.rebuildRegisterTx(ctx, tx); err != nil {
			return err
		}
		rebuilt, err := tx.GetRegisterEntry(ctx, id)
		if err != nil {
			return err
		}
		out = *rebuilt
		return nil
	})
	return out, err
}

// DeleteRegisterEntry removes a manual entry and rebuilds the log.
func (s *Service) DeleteRegisterEntry(ctx context.Context, id RegisterEntryID) (RegisterHead, error) {
	var head RegisterHead
	err := s.withRegister(ctx, "register.delete", func(tx Tx) error {
		if _, err := tx.LockRegisterHead(ctx); err != nil {
			return err
		}
		if _, err := manualEntry(ctx, tx, id, "delete"); err != nil {
			return err
		}
		if err := tx.DeleteRegisterEntry(ctx, id); err != nil {
			return err
		}
		var err error
		head, err = s.rebuildRegisterTx(ctx, tx)
		return err
	})
	return head, err
}

// RebuildRegister recomputes every balance_after from the first entry.
func (s *Service) RebuildRegister(ctx context.Context) (RegisterHead, error) {
	var head RegisterHead
	err := s.withRegister(ctx, "register.rebuild", func(tx Tx) error {
		var err error
		head, err = s.rebuildRegisterTx(ctx, tx)
		return err
	})
	return head, err
}

// =============================================================================
// TRANSACTION HELPERS
// =============================================================================

// appendRegisterTx writes the next entry after the head. The caller holds
// the register tail lock.
func (s *Service) appendRegisterTx(ctx context.Context, tx Tx, in RegisterInput) (RegisterEntry, error) {
	head, err := tx.LockRegisterHead(ctx)
	if err != nil {
		return RegisterEntry{}, err
	}
	after := head.Balance.Add(in.Type.Signed(in.Amount))
	if after.IsNegative() {
		return RegisterEntry{}, &InsufficientFundsError{Account: registerAccount, Available: head.Balance, Requested: in.Amount}
	}
	e := RegisterEntry{
		ID:           RegisterEntryID(s.newID()),
		Seq:          head.LastSeq + 1,
		BalanceAfter: after,
		Amount:       in.Amount,
		Type:         in.Type,
		Method:       in.Method,
		Reason:       in.Reason,
		Reference:    in.Reference,
		CreatedAt:    s.now(),
	}
	if err := tx.InsertRegisterEntry(ctx, e); err != nil {
		return RegisterEntry{}, err
	}
	head.LastSeq = e.Seq
	head.Balance = after
	return e, tx.UpdateRegisterHead(ctx, head)
}

// rebuildRegisterTx replays the log in seq order. LastSeq is kept so seq
// numbers of deleted entries are never reused.
func (s *Service) rebuildRegisterTx(ctx context.Context, tx Tx) (RegisterHead, error) {
	head, err := tx.LockRegisterHead(ctx)
	if err != nil {
		return RegisterHead{}, err
	}
	entries, err := tx.ListRegisterEntries(ctx)
	if err != nil {
		return RegisterHead{}, err
	}

	running := decimal.Zero
	for _, e := range entries {
		next := running.Add(e.Type.Signed(e.Amount))
		if next.IsNegative() {
			return RegisterHead{}, &InsufficientFundsError{Account: registerAccount, Available: running, Requested: e.Amount}
		}
		running = next
		if e.BalanceAfter.Equal(running) {
			continue
		}
		e.BalanceAfter = running
		if err := tx.UpdateRegisterEntry(ctx, e); err != nil {
			return RegisterHead{}, err
		}
	}

	head.Balance = running
	if err := tx.UpdateRegisterHead(ctx, head); err != nil {
		return RegisterHead{}, err
	}
	s.log.WithField("entries", len(entries)).Infof("register rebuilt, balance %s", running)
	return head, nil
}

func manualEntry(ctx context.Context, tx Tx, id RegisterEntryID, op string) (*RegisterEntry, error) {
	e, err := tx.GetRegisterEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, notFound("register entry", id)
	}
	if strings.HasPrefix(e.Reference, transferRefPrefix) {
		return nil, invalidState("register entry", id, "linked to "+e.Reference, op)
	}
	return e, nil
}
