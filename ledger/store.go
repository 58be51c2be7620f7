/*
store.go - Persistence contract for the ledger core

PURPOSE:
  Defines the interface between the accounting logic and the database.
  The core never talks to a driver directly: every operation opens one
  transaction through Store.WithTx and performs row-level reads and
  writes through the Tx it receives.

KEY INTERFACES:
  Store: opens transactions (all-or-nothing)
  Tx:    row operations available inside a transaction

LOCKING:
  Lock* methods read a row and hold a write lock on it until the
  transaction ends (SELECT ... FOR UPDATE on SQL backends). Get* methods
  read without locking. Every operation acquires locks in this order:

    fund request, advance, delivery, document, settlement,
    register head, balances (ascending user id), stock (global first)

NOT FOUND:
  Lock and Get methods return (nil, nil) when the row does not exist. The core
  decides whether absence is an error (ErrNotFound) or lazy creation.

LAZY ROWS:
  InsertBalance and InsertStockEntry do nothing when the row already
  exists, so two transactions creating the same row cannot collide. The
  core inserts a zero row and then locks it.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory, used by tests and dev mode
  - store/sqlstore: database/sql implementation shared by sqlite,
    postgres and mysql

SEE ALSO:
  - service.go: withTransaction combinator
*/
package ledger

import (
	"context"
	"time"
)

// Store opens transactions.
type Store interface {
	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of row operations available inside one transaction.
type Tx interface {
	// Users
	GetUser(ctx context.Context, id UserID) (*User, error)
	InsertUser(ctx context.Context, u User) error
	ListUsers(ctx context.Context) ([]User, error)

	// Balances
	GetBalance(ctx context.Context, id UserID) (*Balance, error)
	LockBalance(ctx context.Context, id UserID) (*Balance, error)
	InsertBalance(ctx context.Context, b Balance) error
	UpdateBalance(ctx context.Context, b Balance) error
	InsertMovement(ctx context.Context, m BalanceMovement) error
	ListMovements(ctx context.Context, id UserID, limit int) ([]BalanceMovement, error)

	// Stock
	GetStockEntry(ctx context.Context, material MaterialType, owner Owner) (*StockEntry, error)
	LockStockEntry(ctx context.Context, material MaterialType, owner Owner) (*StockEntry, error)
	InsertStockEntry(ctx context.Context, e StockEntry) error
	UpdateStockEntry(ctx context.Context, e StockEntry) error
	ListStockEntries(ctx context.Context, material MaterialType) ([]StockEntry, error)

	// Advance payments
	GetAdvance(ctx context.Context, id AdvanceID) (*AdvancePayment, error)
	LockAdvance(ctx context.Context, id AdvanceID) (*AdvancePayment, error)
	// LockLiveAdvance returns the pending or arrived advance of a supplier, if any.
	LockLiveAdvance(ctx context.Context, supplier SupplierID) (*AdvancePayment, error)
	InsertAdvance(ctx context.Context, a AdvancePayment) error
	UpdateAdvance(ctx context.Context, a AdvancePayment) error
	ListAdvances(ctx context.Context, filter AdvanceFilter) ([]AdvancePayment, error)
	InsertAdvanceConsumption(ctx context.Context, c AdvanceConsumption) error
	ListAdvanceConsumptions(ctx context.Context, id AdvanceID) ([]AdvanceConsumption, error)

	// Reception documents
	GetDocument(ctx context.Context, id DocumentID) (*ReceptionDocument, error)
	LockDocument(ctx context.Context, id DocumentID) (*ReceptionDocument, error)
	InsertDocument(ctx context.Context, d ReceptionDocument) error
	UpdateDocument(ctx context.Context, d ReceptionDocument) error

	// Settlements
	GetSettlement(ctx context.Context, id SettlementID) (*Settlement, error)
	GetSettlementByDocument(ctx context.Context, id DocumentID) (*Settlement, error)
	InsertSettlement(ctx context.Context, s Settlement) error
	UpdateSettlement(ctx context.Context, s Settlement) error
	InsertPayment(ctx context.Context, p Payment) error
	ListPayments(ctx context.Context, id SettlementID) ([]Payment, error)

	// Deliveries
	GetDelivery(ctx context.Context, id DeliveryID) (*Delivery, error)
	LockDelivery(ctx context.Context, id DeliveryID) (*Delivery, error)
	InsertDelivery(ctx context.Context, d Delivery) error
	UpdateDelivery(ctx context.Context, d Delivery) error
	ListDeliveries(ctx context.Context, document DocumentID) ([]Delivery, error)

	// Transfers
	InsertTransfer(ctx context.Context, t Transfer) error
	ListTransfers(ctx context.Context, user UserID) ([]Transfer, error)

	// Cash register
	GetRegisterHead(ctx context.Context) (RegisterHead, error)
	LockRegisterHead(ctx context.Context) (RegisterHead, error)
	UpdateRegisterHead(ctx context.Context, h RegisterHead) error
	InsertRegisterEntry(ctx context.Context, e RegisterEntry) error
	GetRegisterEntry(ctx context.Context, id RegisterEntryID) (*RegisterEntry, error)
	UpdateRegisterEntry(ctx context.Context, e RegisterEntry) error
	DeleteRegisterEntry(ctx context.Context, id RegisterEntryID) error
	// ListRegisterEntries returns the whole log ordered by Seq.
	ListRegisterEntries(ctx context.Context) ([]RegisterEntry, error)

	// Fund requests
	LockFundRequest(ctx context.Context, id FundRequestID) (*FundRequest, error)
	InsertFundRequest(ctx context.Context, r FundRequest) error
	UpdateFundRequest(ctx context.Context, r FundRequest) error
	ListFundRequests(ctx context.Context, status FundRequestStatus) ([]FundRequest, error)
}

// AdvanceFilter narrows ListAdvances. Zero fields match everything.
type AdvanceFilter struct {
	SupplierID    SupplierID
	Status        AdvanceStatus
	CreatedBefore time.Time
}

// Match applies the filter in memory.
func (f AdvanceFilter) Match(a AdvancePayment) bool {
	if f.SupplierID != "" && a.SupplierID != f.SupplierID {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if !f.CreatedBefore.IsZero() && !a.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	return true
}
