/*
Package ledger provides the stock, balance and escrow accounting engine.

PURPOSE:
  This package owns every quantity that moves through the supply chain:
  user cash balances, two-tier material stock pools, supplier advance
  payments held in escrow, reception-document settlement, deliveries,
  balance transfers and the admin cash register. Request handlers call
  into the Service facade; nothing here knows about HTTP.

KEY CONCEPTS IN THIS FILE (types.go):
  - Identifiers: type-safe string IDs for users, suppliers and records
  - Role: the caller's role string (admin, vendor, collector, distiller)
  - MaterialType: raw-material codes FG/CG/GG and essential oil HE
  - Owner: tagged variant Global | User(id) that keys stock pools
  - Entities: Balance, StockEntry, AdvancePayment, ReceptionDocument,
    Settlement, Delivery, Transfer, RegisterEntry, FundRequest

DESIGN PRINCIPLES:
  1. Precision: every amount and quantity is a decimal.Decimal
  2. Explicit ownership: stock calls always name the Owner
  3. Closed enums: statuses are typed constants, never free strings

SEE ALSO:
  - service.go: Service facade and the withTransaction combinator
  - store.go: Persistence contract
  - errors.go: Error taxonomy
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type SupplierID string
type DocumentID string
type AdvanceID string
type SettlementID string
type DeliveryID string
type TransferID string
type RegisterEntryID string
type FundRequestID string

// =============================================================================
// ROLES
// =============================================================================

// Role identifies what a caller is allowed to do. Authentication happens
// elsewhere; the core only sees the resolved role string.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleVendor    Role = "vendor"
	RoleCollector Role = "collector"
	RoleDistiller Role = "distiller"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleVendor, RoleCollector, RoleDistiller:
		return true
	}
	return false
}

// Actor is the identified caller of a core operation.
type Actor struct {
	ID   UserID
	Role Role
}

// User is a registered participant that can hold a balance or stock.
type User struct {
	ID        UserID
	Name      string
	Role      Role
	CreatedAt time.Time
}

// =============================================================================
// MATERIALS AND OWNERS
// =============================================================================

type MaterialType string

const (
	MaterialFG MaterialType = "FG"
	MaterialCG MaterialType = "CG"
	MaterialGG MaterialType = "GG"
	MaterialHE MaterialType = "HE" // essential oil
)

func (m MaterialType) Valid() bool {
	switch m {
	case MaterialFG, MaterialCG, MaterialGG, MaterialHE:
		return true
	}
	return false
}

// IsRaw reports whether m is a raw-material code.
func (m MaterialType) IsRaw() bool {
	return m == MaterialFG || m == MaterialCG || m == MaterialGG
}

// Owner selects which stock pool an operation targets: the shared global
// pool or one user's private pool. The zero value is the global pool.
type Owner struct {
	user UserID
}

// GlobalOwner returns the shared pool owner.
func GlobalOwner() Owner { return Owner{} }

// OwnedBy returns the private pool owner for a user.
func OwnedBy(id UserID) Owner { return Owner{user: id} }

// OwnerFromKey rebuilds an Owner from its storage key ("" is global).
func OwnerFromKey(key string) Owner { return Owner{user: UserID(key)} }

func (o Owner) IsGlobal() bool { return o.user == "" }

// User returns the owning user id; ok is false for the global pool.
func (o Owner) User() (id UserID, ok bool) { return o.user, o.user != "" }

// Key is the storage representation. Global is the empty string so the
// (material, owner) pair stays unique in SQL without NULL semantics.
func (o Owner) Key() string { return string(o.user) }

func (o Owner) String() string {
	if o.IsGlobal() {
		return "global"
	}
	return "user:" + string(o.user)
}

// =============================================================================
// BALANCE
// =============================================================================

// Balance is a user's cash balance. Created lazily on first credit.
type Balance struct {
	UserID    UserID
	Amount    decimal.Decimal
	UpdatedAt time.Time
}

type MovementKind string

const (
	MovementCredit MovementKind = "credit"
	MovementDebit  MovementKind = "debit"
)

// BalanceMovement is the audit row written for every balance mutation.
type BalanceMovement struct {
	ID           string
	UserID       UserID
	Kind         MovementKind
	Delta        decimal.Decimal // signed
	BalanceAfter decimal.Decimal
	Reference    string
	Note         string
	CreatedAt    time.Time
}

// =============================================================================
// STOCK
// =============================================================================

// StockEntry is one (material, owner) pool.
//
// INVARIANT: 0 <= Available <= TotalIn
type StockEntry struct {
	ID        string
	Material  MaterialType
	Owner     Owner
	TotalIn   decimal.Decimal
	Available decimal.Decimal
	UpdatedAt time.Time
}

// Reserved returns the quantity currently held by reservations.
func (e StockEntry) Reserved() decimal.Decimal {
	return e.TotalIn.Sub(e.Available)
}

// =============================================================================
// ADVANCE PAYMENTS
// =============================================================================

type AdvanceStatus string

const (
	AdvancePending   AdvanceStatus = "pending"
	AdvanceArrived   AdvanceStatus = "arrived"
	AdvanceUsed      AdvanceStatus = "used"
	AdvanceCancelled AdvanceStatus = "cancelled"
)

func (s AdvanceStatus) Valid() bool {
	switch s {
	case AdvancePending, AdvanceArrived, AdvanceUsed, AdvanceCancelled:
		return true
	}
	return false
}

// Live reports whether the advance still blocks a new one for its supplier.
func (s AdvanceStatus) Live() bool {
	return s == AdvancePending || s == AdvanceArrived
}

// AdvancePayment is supplier prepayment held in escrow.
//
// INVARIANT: UsedAmount + RemainingAmount == Amount
type AdvancePayment struct {
	ID              AdvanceID
	SupplierID      SupplierID
	PayerID         UserID
	Amount          decimal.Decimal
	UsedAmount      decimal.Decimal
	RemainingAmount decimal.Decimal
	Status          AdvanceStatus
	DeadlineHours   int
	Reference       string
	Note            string
	CancelReason    string
	LastDocumentID  DocumentID
	CreatedAt       time.Time
	ArrivedAt       *time.Time
	ClosedAt        *time.Time
}

// MaxDeadlineHours caps an advance deadline at ten years.
const MaxDeadlineHours = 87600

// Deadline is when a pending advance gets confirmed automatically.
// Zero when no deadline was set.
func (a AdvancePayment) Deadline() time.Time {
	if a.DeadlineHours <= 0 {
		return time.Time{}
	}
	return a.CreatedAt.Add(time.Duration(a.DeadlineHours) * time.Hour)
}

// AdvanceConsumption links one drawn-down portion to one document.
type AdvanceConsumption struct {
	ID         string
	AdvanceID  AdvanceID
	DocumentID DocumentID
	Amount     decimal.Decimal
	CreatedAt  time.Time
}

// =============================================================================
// RECEPTION DOCUMENTS
// =============================================================================

// DocumentFamily separates raw-material receptions from essential-oil ones.
type DocumentFamily string

const (
	FamilyRaw DocumentFamily = "raw"
	FamilyOil DocumentFamily = "oil"
)

type DocumentStatus string

const (
	DocUnpaid             DocumentStatus = "unpaid"
	DocPartiallyPaid      DocumentStatus = "partially_paid"
	DocPaid               DocumentStatus = "paid"
	DocInDelivery         DocumentStatus = "in_delivery"
	DocPartiallyDelivered DocumentStatus = "partially_delivered"
	DocDelivered          DocumentStatus = "delivered"
)

// Allows reports whether status belongs to the family's status set.
// Only raw-material documents go through the delivery-note states.
func (f DocumentFamily) Allows(status DocumentStatus) bool {
	switch status {
	case DocUnpaid, DocPartiallyPaid, DocPaid:
		return f == FamilyRaw || f == FamilyOil
	case DocInDelivery, DocPartiallyDelivered, DocDelivered:
		return f == FamilyRaw
	}
	return false
}

// ReceptionDocument records material received from a supplier.
type ReceptionDocument struct {
	ID                DocumentID
	Family            DocumentFamily
	Material          MaterialType
	SupplierID        SupplierID
	OwnerID           UserID // collector whose pool receives the stock-in
	NetWeight         decimal.Decimal
	UnitPrice         decimal.Decimal
	TotalPrice        decimal.Decimal
	DebtToSupplier    decimal.Decimal
	RemainingQuantity decimal.Decimal
	Status            DocumentStatus
	StockedIn         bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PaidOff reports whether the supplier debt reached zero.
func (d ReceptionDocument) PaidOff() bool {
	return !d.DebtToSupplier.IsPositive()
}

// =============================================================================
// SETTLEMENT
// =============================================================================

type Settlement struct {
	ID         SettlementID
	DocumentID DocumentID
	PayerID    UserID
	TotalPaid  decimal.Decimal
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type PaymentSource string

const (
	PaymentFromBalance PaymentSource = "balance"
	PaymentFromAdvance PaymentSource = "advance"
)

type Payment struct {
	ID           string
	SettlementID SettlementID
	PayerID      UserID
	Amount       decimal.Decimal
	Source       PaymentSource
	AdvanceID    AdvanceID
	CreatedAt    time.Time
}

// =============================================================================
// DELIVERIES
// =============================================================================

type DeliveryKind string

const (
	DeliverySimple  DeliveryKind = "simple"  // full reservation, no partial tracking
	DeliveryPartial DeliveryKind = "partial" // delivery note against a reception document
)

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryCancelled DeliveryStatus = "cancelled"
)

type Delivery struct {
	ID                DeliveryID
	Kind              DeliveryKind
	Material          MaterialType
	Owner             Owner
	DocumentID        DocumentID
	CreatedBy         UserID
	RecipientID       UserID
	RequestedQuantity decimal.Decimal
	DeliveredQuantity decimal.Decimal
	Status            DeliveryStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// =============================================================================
// TRANSFERS AND CASH REGISTER
// =============================================================================

type TransferSource string

const (
	SourceBalance  TransferSource = "balance"
	SourceRegister TransferSource = "register"
)

// Transfer is the immutable record of one balance movement between users.
type Transfer struct {
	ID              TransferID
	FromID          UserID
	ToID            UserID
	Amount          decimal.Decimal
	Method          string
	Reason          string
	Source          TransferSource
	RegisterEntryID RegisterEntryID
	CreatedAt       time.Time
}

type RegisterEntryType string

const (
	RegisterIncome  RegisterEntryType = "income"
	RegisterExpense RegisterEntryType = "expense"
)

func (t RegisterEntryType) Valid() bool {
	return t == RegisterIncome || t == RegisterExpense
}

// Signed returns amount with the sign the entry applies to the register.
func (t RegisterEntryType) Signed(amount decimal.Decimal) decimal.Decimal {
	if t == RegisterExpense {
		return amount.Neg()
	}
	return amount
}

// RegisterEntry is one row of the append-only cash register log.
type RegisterEntry struct {
	ID           RegisterEntryID
	Seq          int64
	BalanceAfter decimal.Decimal
	Amount       decimal.Decimal
	Type         RegisterEntryType
	Method       string
	Reason       string
	Reference    string
	CreatedAt    time.Time
}

// RegisterHead caches the tail of the register log.
type RegisterHead struct {
	LastSeq int64
	Balance decimal.Decimal
}

// =============================================================================
// FUND REQUESTS
// =============================================================================

type FundRequestStatus string

const (
	FundRequestPending  FundRequestStatus = "pending"
	FundRequestApproved FundRequestStatus = "approved"
	FundRequestRejected FundRequestStatus = "rejected"
)

type FundRequest struct {
	ID           FundRequestID
	RequesterID  UserID
	Amount       decimal.Decimal
	Reason       string
	Status       FundRequestStatus
	DecidedBy    UserID
	DecisionNote string
	TransferID   TransferID
	CreatedAt    time.Time
	DecidedAt    *time.Time
}
