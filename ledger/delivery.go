/*
delivery.go - DeliveryLifecycle

PURPOSE:
  Two delivery flows share the reserve/release contract of the stock pool.

  Simple (essential-oil vendor delivery): the full quantity is reserved at
  creation and the delivery is immediately "delivered". Cancelling it
  releases the whole quantity.

  Partial (raw-material delivery note against a reception document): the
  requested quantity is reserved from the document owner's pool and the
  delivery stays pending until completed. Completion consumes what was
  actually delivered, releases the rest of the reservation and moves the
  document towards delivered.

DOCUMENT STATUS (partial flow):
  paid | partially_delivered --Start--> in_delivery
  in_delivery --Complete--> partially_delivered (remaining > 0)
                            delivered (remaining == 0)
  in_delivery --Cancel----> paid | partially_delivered

LOCK ORDER:
  delivery, document, stock entry.
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

type DeliveryInput struct {
	Material    MaterialType
	Owner       Owner
	Quantity    decimal.Decimal
	RecipientID UserID
}

// CreateDelivery reserves the full quantity from a pool and records a
// delivered simple delivery.
func (s *Service) CreateDelivery(ctx context.Context, actor Actor, in DeliveryInput) (Delivery, error) {
	if err := validateStockArgs(in.Material, in.Quantity); err != nil {
		return Delivery{}, err
	}
	now := s.now()
	d := Delivery{
		ID:                DeliveryID(s.newID()),
		Kind:              DeliverySimple,
		Material:          in.Material,
		Owner:             in.Owner,
		CreatedBy:         actor.ID,
		RecipientID:       in.RecipientID,
		RequestedQuantity: in.Quantity,
		DeliveredQuantity: in.Quantity,
		Status:            DeliveryDelivered,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err := s.withTransaction(ctx, "delivery.create", func(tx Tx) error {
		if err := requireRecipient(ctx, tx, in.RecipientID); err != nil {
			return err
		}
		if _, err := s.reserveTx(ctx, tx, in.Material, in.Owner, in.Quantity); err != nil {
			return err
		}
		return tx.InsertDelivery(ctx, d)
	})
	if err != nil {
		return Delivery{}, err
	}
	return d, nil
}

// StartPartialDelivery opens a pending delivery note for qty of a paid
// raw-material document.
func (s *Service) StartPartialDelivery(ctx context.Context, actor Actor, document DocumentID, qty decimal.Decimal, recipient UserID) (Delivery, error) {
	if err := requirePositive("quantity", qty); err != nil {
		return Delivery{}, err
	}
	var out Delivery
	err := s.withTransaction(ctx, "delivery.start_partial", func(tx Tx) error {
		doc, err := lockDocument(ctx, tx, document)
		if err != nil {
			return err
		}
		if doc.Family != FamilyRaw {
			return invalidState("document", doc.ID, doc.Family, "deliver")
		}
		if doc.Status != DocPaid && doc.Status != DocPartiallyDelivered {
			return invalidState("document", doc.ID, doc.Status, "start delivery for")
		}
		if !doc.RemainingQuantity.IsPositive() {
			return invalidState("document", doc.ID, doc.Status, "start delivery for")
		}
		if qty.GreaterThan(doc.RemainingQuantity) {
			return &QuantityExceedsRemainingError{Entity: "document", ID: string(doc.ID),
				Remaining: doc.RemainingQuantity, Requested: qty}
		}
		if err := requireRecipient(ctx, tx, recipient); err != nil {
			return err
		}

		owner := OwnedBy(doc.OwnerID)
		if _, err := s.reserveTx(ctx, tx, doc.Material, owner, qty); err != nil {
			return err
		}

		now := s.now()
		doc.Status = DocInDelivery
		doc.UpdatedAt = now
		if err := tx.UpdateDocument(ctx, *doc); err != nil {
			return err
		}
		out = Delivery{
			ID:                DeliveryID(s.newID()),
			Kind:              DeliveryPartial,
			Material:          doc.Material,
			Owner:             owner,
			DocumentID:        doc.ID,
			CreatedBy:         actor.ID,
			RecipientID:       recipient,
			RequestedQuantity: qty,
			DeliveredQuantity: decimal.Zero,
			Status:            DeliveryPending,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		return tx.InsertDelivery(ctx, out)
	})
	return out, err
}

// CompletePartialDelivery records what was actually delivered on a
// pending delivery note. The undelivered part of the reservation goes
// back to the pool.
func (s *Service) CompletePartialDelivery(ctx context.Context, id DeliveryID, delivered decimal.Decimal) (Delivery, ReceptionDocument, error) {
	if err := requirePositive("delivered quantity", delivered); err != nil {
		return Delivery{}, ReceptionDocument{}, err
	}
	var (
		outD   Delivery
		outDoc ReceptionDocument
	)
	err := s.withTransaction(ctx, "delivery.complete_partial", func(tx Tx) error {
		d, err := lockDelivery(ctx, tx, id)
		if err != nil {
			return err
		}
		if d.Kind != DeliveryPartial || d.Status != DeliveryPending {
			return invalidState("delivery", id, d.Status, "complete")
		}
		doc, err := lockDocument(ctx, tx, d.DocumentID)
		if err != nil {
			return err
		}
		limit := decimal.Min(d.RequestedQuantity, doc.RemainingQuantity)
		if delivered.GreaterThan(limit) {
			return &QuantityExceedsRemainingError{Entity: "delivery", ID: string(id),
				Remaining: limit, Requested: delivered}
		}
		if rest := d.RequestedQuantity.Sub(delivered); rest.IsPositive() {
			if _, err := s.releaseTx(ctx, tx, d.Material, d.Owner, rest); err != nil {
				return err
			}
		}

		now := s.now()
		doc.RemainingQuantity = doc.RemainingQuantity.Sub(delivered)
		doc.Status = DocPartiallyDelivered
		if doc.RemainingQuantity.IsZero() {
			doc.Status = DocDelivered
		}
		doc.UpdatedAt = now
		if err := tx.UpdateDocument(ctx, *doc); err != nil {
			return err
		}

		d.DeliveredQuantity = delivered
		d.Status = DeliveryDelivered
		d.UpdatedAt = now
		outD, outDoc = *d, *doc
		return tx.UpdateDelivery(ctx, *d)
	})
	return outD, outDoc, err
}

// CancelDelivery releases a delivery's reservation. Simple deliveries can
// be cancelled once delivered; partial ones only while pending.
func (s *Service) CancelDelivery(ctx context.Context, id DeliveryID) (Delivery, error) {
	var out Delivery
	err := s.withTransaction(ctx, "delivery.cancel", func(tx Tx) error {
		d, err := lockDelivery(ctx, tx, id)
		if err != nil {
			return err
		}
		switch {
		case d.Kind == DeliverySimple && d.Status == DeliveryDelivered:
		case d.Kind == DeliveryPartial && d.Status == DeliveryPending:
			doc, err := lockDocument(ctx, tx, d.DocumentID)
			if err != nil {
				return err
			}
			doc.Status = DocPartiallyDelivered
			if doc.RemainingQuantity.Equal(doc.NetWeight) {
				doc.Status = DocPaid
			}
			doc.UpdatedAt = s.now()
			if err := tx.UpdateDocument(ctx, *doc); err != nil {
				return err
			}
		default:
			return invalidState("delivery", id, d.Status, "cancel")
		}

		if _, err := s.releaseTx(ctx, tx, d.Material, d.Owner, d.RequestedQuantity); err != nil {
			return err
		}
		d.Status = DeliveryCancelled
		d.UpdatedAt = s.now()
		out = *d
		return tx.UpdateDelivery(ctx, *d)
	})
	return out, err
}

func (s *Service) GetDelivery(ctx context.Context, id DeliveryID) (Delivery, error) {
	var out Delivery
	err := s.withTransaction(ctx, "delivery.get", func(tx Tx) error {
		d, err := tx.GetDelivery(ctx, id)
		if err != nil {
			return err
		}
		if d == nil {
			return notFound("delivery", id)
		}
		out = *d
		return nil
	})
	return out, err
}

// DocumentDeliveries lists the delivery notes of a document.
func (s *Service) DocumentDeliveries(ctx context.Context, document DocumentID) ([]Delivery, error) {
	var out []Delivery
	err := s.withTransaction(ctx, "delivery.list", func(tx Tx) error {
		if d, err := tx.GetDocument(ctx, document); err != nil {
			return err
		} else if d == nil {
			return notFound("document", document)
		}
		var err error
		out, err = tx.ListDeliveries(ctx, document)
		return err
	})
	return out, err
}

func lockDelivery(ctx context.Context, tx Tx, id DeliveryID) (*Delivery, error) {
	d, err := tx.LockDelivery(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, notFound("delivery", id)
	}
	return d, nil
}

// requireRecipient checks an optional recipient exists.
func requireRecipient(ctx context.Context, tx Tx, id UserID) error {
	if id == "" {
		return nil
	}
	_, err := requireUser(ctx, tx, id)
	return err
}
