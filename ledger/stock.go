/*
stock.go - StockPool: two-tier material quantities

PURPOSE:
  Tracks received material per (material, owner) pool. The global pool
  is shared by every actor; a user pool belongs to one collector. The two
  tiers are independent ledgers: stocking into one never touches the
  other unless the caller does both (settlement does).

INVARIANT:
  0 <= available <= total_in for every entry. Reserve fails rather than
  going below zero. Release is the only operation allowed to clamp: it
  never raises available above total_in.

SEE ALSO:
  - delivery.go: reserve/release on delivery create/cancel
  - settlement.go: stock-in when a document is paid
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// StockIn adds received quantity to a pool, creating the entry if needed.
func (s *Service) StockIn(ctx context.Context, material MaterialType, owner Owner, qty decimal.Decimal) (StockEntry, error) {
	if err := validateStockArgs(material, qty); err != nil {
		return StockEntry{}, err
	}
	var out StockEntry
	err := s.withTransaction(ctx, "stock.in", func(tx Tx) error {
		if err := requireOwner(ctx, tx, owner); err != nil {
			return err
		}
		var err error
		out, err = s.stockInTx(ctx, tx, material, owner, qty)
		return err
	})
	return out, err
}

// Reserve holds qty of the pool's available quantity.
func (s *Service) Reserve(ctx context.Context, material MaterialType, owner Owner, qty decimal.Decimal) (StockEntry, error) {
	if err := validateStockArgs(material, qty); err != nil {
		return StockEntry{}, err
	}
	var out StockEntry
	err := s.withTransaction(ctx, "stock.reserve", func(tx Tx) error {
		var err error
		out, err = s.reserveTx(ctx, tx, material, owner, qty)
		return err
	})
	return out, err
}

// Release returns qty to the pool's available quantity, capped at total_in.
func (s *Service) Release(ctx context.Context, material MaterialType, owner Owner, qty decimal.Decimal) (StockEntry, error) {
	if err := validateStockArgs(material, qty); err != nil {
		return StockEntry{}, err
	}
	var out StockEntry
	err := s.withTransaction(ctx, "stock.release", func(tx Tx) error {
		var err error
		out, err = s.releaseTx(ctx, tx, material, owner, qty)
		return err
	})
	return out, err
}

// AvailableFor returns what the requester may use: the global pool's
// available quantity plus the requester's own pool, if any.
func (s *Service) AvailableFor(ctx context.Context, material MaterialType, requester UserID) (decimal.Decimal, error) {
	if !material.Valid() {
		return decimal.Zero, invalidInput("unknown material %q", material)
	}
	total := decimal.Zero
	err := s.withTransaction(ctx, "stock.available", func(tx Tx) error {
		owners := []Owner{GlobalOwner()}
		if requester != "" {
			owners = append(owners, OwnedBy(requester))
		}
		for _, o := range owners {
			e, err := tx.GetStockEntry(ctx, material, o)
			if err != nil {
				return err
			}
			if e != nil {
				total = total.Add(e.Available)
			}
		}
		return nil
	})
	return total, err
}

// SystemTotal sums available quantity across every pool of a material.
// Reporting callers only; actors should use AvailableFor.
func (s *Service) SystemTotal(ctx context.Context, material MaterialType) (decimal.Decimal, error) {
	entries, err := s.Entries(ctx, material)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Available)
	}
	return total, nil
}

// Entries lists every pool for a material, global first.
func (s *Service) Entries(ctx context.Context, material MaterialType) ([]StockEntry, error) {
	if !material.Valid() {
		return nil, invalidInput("unknown material %q", material)
	}
	var out []StockEntry
	err := s.withTransaction(ctx, "stock.entries", func(tx Tx) error {
		var err error
		out, err = tx.ListStockEntries(ctx, material)
		return err
	})
	return out, err
}

// =============================================================================
// TRANSACTION HELPERS
// =============================================================================

func validateStockArgs(material MaterialType, qty decimal.Decimal) error {
	if !material.Valid() {
		return invalidInput("unknown material %q", material)
	}
	return requirePositive("quantity", qty)
}

func requireOwner(ctx context.Context, tx Tx, owner Owner) error {
	id, ok := owner.User()
	if !ok {
		return nil
	}
	_, err := requireUser(ctx, tx, id)
	return err
}

func (s *Service) stockInTx(ctx context.Context, tx Tx, material MaterialType, owner Owner, qty decimal.Decimal) (StockEntry, error) {
	err := tx.InsertStockEntry(ctx, StockEntry{
		ID:        s.newID(),
		Material:  material,
		Owner:     owner,
		TotalIn:   decimal.Zero,
		Available: decimal.Zero,
		UpdatedAt: s.now(),
	})
	if err != nil {
		return StockEntry{}, err
	}
	e, err := tx.LockStockEntry(ctx, material, owner)
	if err != nil {
		return StockEntry{}, err
	}
	e.TotalIn = e.TotalIn.Add(qty)
	e.Available = e.Available.Add(qty)
	e.UpdatedAt = s.now()
	return *e, tx.UpdateStockEntry(ctx, *e)
}

func (s *Service) reserveTx(ctx context.Context, tx Tx, material MaterialType, owner Owner, qty decimal.Decimal) (StockEntry, error) {
	e, err := tx.LockStockEntry(ctx, material, owner)
	if err != nil {
		return StockEntry{}, err
	}
	if e == nil {
		return StockEntry{}, notFound("stock entry", string(material)+"/"+owner.String())
	}
	if qty.GreaterThan(e.Available) {
		return StockEntry{}, &InsufficientStockError{Material: material, Owner: owner, Available: e.Available, Requested: qty}
	}
	e.Available = e.Available.Sub(qty)
	e.UpdatedAt = s.now()
	return *e, tx.UpdateStockEntry(ctx, *e)
}

func (s *Service) releaseTx(ctx context.Context, tx Tx, material MaterialType, owner Owner, qty decimal.Decimal) (StockEntry, error) {
	e, err := tx.LockStockEntry(ctx, material, owner)
	if err != nil {
		return StockEntry{}, err
	}
	if e == nil {
		return StockEntry{}, notFound("stock entry", string(material)+"/"+owner.String())
	}
	e.Available = decimal.Min(e.Available.Add(qty), e.TotalIn)
	e.UpdatedAt = s.now()
	return *e, tx.UpdateStockEntry(ctx, *e)
}
