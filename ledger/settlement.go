/*
settlement.go - Reception documents and InvoiceSettlement

PURPOSE:
  A reception document records material received from a supplier and the
  debt owed for it. A settlement pays that debt down, either from the
  payer's balance or from an advance held in escrow. The moment the debt
  first reaches zero the document becomes paid and its net weight is
  stocked into both the global pool and the owner's pool.

STATUS:
  unpaid -> partially_paid -> paid, derived from debt_to_supplier.
  Raw-material documents continue into the delivery states (delivery.go).

STOCK-IN:
  Fires exactly once per document, guarded by ReceptionDocument.StockedIn.
  Payments against an already-paid document are refused, so repeated
  calls never add stock again.

SEE ALSO:
  - escrow.go: Consume pays through applyPaymentTx
  - stock.go: stockInTx
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// DocumentInput describes a reception to register.
// Debt defaults to the total price when not set.
type DocumentInput struct {
	Family     DocumentFamily
	Material   MaterialType
	SupplierID SupplierID
	OwnerID    UserID
	NetWeight  decimal.Decimal
	UnitPrice  decimal.Decimal
	Debt       decimal.NullDecimal
}

func (in DocumentInput) validate() error {
	switch in.Family {
	case FamilyRaw:
		if !in.Material.IsRaw() {
			return invalidInput("raw document needs a raw material, got %q", in.Material)
		}
	case FamilyOil:
		if in.Material != MaterialHE {
			return invalidInput("oil document needs material HE, got %q", in.Material)
		}
	default:
		return invalidInput("unknown document family %q", in.Family)
	}
	if in.SupplierID == "" {
		return invalidInput("supplier is required")
	}
	if in.OwnerID == "" {
		return invalidInput("owner is required")
	}
	if err := requirePositive("net weight", in.NetWeight); err != nil {
		return err
	}
	if in.UnitPrice.IsNegative() {
		return invalidInput("unit price must not be negative, got %s", in.UnitPrice)
	}
	if in.Debt.Valid && in.Debt.Decimal.IsNegative() {
		return invalidInput("debt must not be negative, got %s", in.Debt.Decimal)
	}
	return nil
}

// SettlementResult is returned by every payment operation.
type SettlementResult struct {
	Settlement Settlement
	Document   ReceptionDocument
	Payment    Payment
	// StockedIn is true when this payment triggered the stock-in.
	StockedIn bool
}

// RegisterDocument records a reception. A document registered with no
// debt is paid on arrival and stocked in immediately.
func (s *Service) RegisterDocument(ctx context.Context, in DocumentInput) (ReceptionDocument, error) {
	if err := in.validate(); err != nil {
		return ReceptionDocument{}, err
	}
	now := s.now()
	total := in.NetWeight.Mul(in.UnitPrice)
	debt := total
	if in.Debt.Valid {
		debt = in.Debt.Decimal
	}
	doc := ReceptionDocument{
		ID:                DocumentID(s.newID()),
		Family:            in.Family,
		Material:          in.Material,
		SupplierID:        in.SupplierID,
		OwnerID:           in.OwnerID,
		NetWeight:         in.NetWeight,
		UnitPrice:         in.UnitPrice,
		TotalPrice:        total,
		DebtToSupplier:    debt,
		RemainingQuantity: in.NetWeight,
		Status:            DocUnpaid,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := s.withTransaction(ctx, "document.register", func(tx Tx) error {
		if _, err := requireUser(ctx, tx, in.OwnerID); err != nil {
			return err
		}
		if doc.PaidOff() {
			doc.Status = DocPaid
			if err := s.stockInDocumentTx(ctx, tx, &doc); err != nil {
				return err
			}
		}
		return tx.InsertDocument(ctx, doc)
	})
	if err != nil {
		return ReceptionDocument{}, err
	}
	return doc, nil
}

func (s *Service) GetDocument(ctx context.Context, id DocumentID) (ReceptionDocument, error) {
	var doc ReceptionDocument
	err := s.withTransaction(ctx, "document.get", func(tx Tx) error {
		d, err := tx.GetDocument(ctx, id)
		if err != nil {
			return err
		}
		if d == nil {
			return notFound("document", id)
		}
		doc = *d
		return nil
	})
	return doc, err
}

// Settle opens the single settlement of a document with a first payment
// debited from the payer's balance.
func (s *Service) Settle(ctx context.Context, document DocumentID, amount decimal.Decimal, payer UserID) (SettlementResult, error) {
	if err := requirePositive("amount", amount); err != nil {
		return SettlementResult{}, err
	}
	var res SettlementResult
	err := s.withTransaction(ctx, "settlement.settle", func(tx Tx) error {
		doc, err := lockDocument(ctx, tx, document)
		if err != nil {
			return err
		}
		existing, err := tx.GetSettlementByDocument(ctx, document)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: document %s already has settlement %s",
				ErrDuplicateSettlement, document, existing.ID)
		}
		if doc.PaidOff() {
			return invalidState("document", doc.ID, doc.Status, "settle")
		}
		if _, err := requireUser(ctx, tx, payer); err != nil {
			return err
		}

		st, err := s.openSettlementTx(ctx, tx, doc, payer)
		if err != nil {
			return err
		}
		res, err = s.applyPaymentTx(ctx, tx, doc, st, payer, amount, PaymentFromBalance, "")
		return err
	})
	return res, err
}

// AddPayment pays a further amount against an existing settlement from the
// settlement payer's balance.
func (s *Service) AddPayment(ctx context.Context, settlement SettlementID, amount decimal.Decimal) (SettlementResult, error) {
	if err := requirePositive("amount", amount); err != nil {
		return SettlementResult{}, err
	}
	var res SettlementResult
	err := s.withTransaction(ctx, "settlement.add_payment", func(tx Tx) error {
		st, err := tx.GetSettlement(ctx, settlement)
		if err != nil {
			return err
		}
		if st == nil {
			return notFound("settlement", settlement)
		}
		doc, err := lockDocument(ctx, tx, st.DocumentID)
		if err != nil {
			return err
		}
		// Re-read under the document lock.
		if st, err = tx.GetSettlement(ctx, settlement); err != nil {
			return err
		}
		if doc.PaidOff() {
			return invalidState("document", doc.ID, doc.Status, "add payment to")
		}
		res, err = s.applyPaymentTx(ctx, tx, doc, st, st.PayerID, amount, PaymentFromBalance, "")
		return err
	})
	return res, err
}

// GetSettlement returns a settlement and its payments in order.
func (s *Service) GetSettlement(ctx context.Context, id SettlementID) (Settlement, []Payment, error) {
	var (
		st       Settlement
		payments []Payment
	)
	err := s.withTransaction(ctx, "settlement.get", func(tx Tx) error {
		found, err := tx.GetSettlement(ctx, id)
		if err != nil {
			return err
		}
		if found == nil {
			return notFound("settlement", id)
		}
		st = *found
		payments, err = tx.ListPayments(ctx, id)
		return err
	})
	return st, payments, err
}

// SettlementForDocument returns the settlement of a document, if any.
func (s *Service) SettlementForDocument(ctx context.Context, document DocumentID) (*Settlement, error) {
	var st *Settlement
	err := s.withTransaction(ctx, "settlement.by_document", func(tx Tx) error {
		var err error
		st, err = tx.GetSettlementByDocument(ctx, document)
		return err
	})
	return st, err
}

// =============================================================================
// TRANSACTION HELPERS
// =============================================================================

func lockDocument(ctx context.Context, tx Tx, id DocumentID) (*ReceptionDocument, error) {
	doc, err := tx.LockDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, notFound("document", id)
	}
	return doc, nil
}

func (s *Service) openSettlementTx(ctx context.Context, tx Tx, doc *ReceptionDocument, payer UserID) (*Settlement, error) {
	now := s.now()
	st := &Settlement{
		ID:         SettlementID(s.newID()),
		DocumentID: doc.ID,
		PayerID:    payer,
		TotalPaid:  decimal.Zero,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return st, tx.InsertSettlement(ctx, *st)
}

// applyPaymentTx records one payment, reduces the debt (floored at zero),
// recomputes the document status and fires stock-in on the first
// transition to paid. The caller holds the document lock.
func (s *Service) applyPaymentTx(ctx context.Context, tx Tx, doc *ReceptionDocument, st *Settlement,
	payer UserID, amount decimal.Decimal, source PaymentSource, advance AdvanceID) (SettlementResult, error) {

	if source == PaymentFromBalance {
		if _, err := s.debitTx(ctx, tx, payer, amount, "settlement:"+string(st.ID), "document "+string(doc.ID)); err != nil {
			return SettlementResult{}, err
		}
	}

	now := s.now()
	doc.DebtToSupplier = decimal.Max(doc.DebtToSupplier.Sub(amount), decimal.Zero)
	doc.Status = DocPartiallyPaid
	if doc.PaidOff() {
		doc.Status = DocPaid
	}
	doc.UpdatedAt = now

	st.TotalPaid = st.TotalPaid.Add(amount)
	st.UpdatedAt = now
	if err := tx.UpdateSettlement(ctx, *st); err != nil {
		return SettlementResult{}, err
	}

	p := Payment{
		ID:           s.newID(),
		SettlementID: st.ID,
		PayerID:      payer,
		Amount:       amount,
		Source:       source,
		AdvanceID:    advance,
		CreatedAt:    now,
	}
	if err := tx.InsertPayment(ctx, p); err != nil {
		return SettlementResult{}, err
	}

	stocked := false
	if doc.Status == DocPaid && !doc.StockedIn {
		if err := s.stockInDocumentTx(ctx, tx, doc); err != nil {
			return SettlementResult{}, err
		}
		stocked = true
	}
	if err := tx.UpdateDocument(ctx, *doc); err != nil {
		return SettlementResult{}, err
	}

	s.log.WithField("document", doc.ID).WithField("status", doc.Status).
		Debugf("payment of %s applied from %s", amount, source)
	return SettlementResult{Settlement: *st, Document: *doc, Payment: p, StockedIn: stocked}, nil
}

// stockInDocumentTx adds the document's net weight to the global pool and
// to the owner's pool, then marks the document stocked.
func (s *Service) stockInDocumentTx(ctx context.Context, tx Tx, doc *ReceptionDocument) error {
	if _, err := s.stockInTx(ctx, tx, doc.Material, GlobalOwner(), doc.NetWeight); err != nil {
		return err
	}
	if _, err := s.stockInTx(ctx, tx, doc.Material, OwnedBy(doc.OwnerID), doc.NetWeight); err != nil {
		return err
	}
	doc.StockedIn = true
	return nil
}
