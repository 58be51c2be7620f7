/*
errors.go - Error taxonomy for the ledger core

PURPOSE:
  All error kinds in one place. Every rejected operation returns one of
  the sentinels below, usually wrapped in a structured error that carries
  the amounts and ids involved. Callers match with errors.Is / errors.As.

ERROR KINDS:
  ErrInsufficientFunds           balance or cash-register debit too large
  ErrInsufficientStock           reservation exceeds available stock
  ErrInsufficientEscrowFunds     consumption exceeds advance remaining amount
  ErrInvalidState                operation not allowed from current state
  ErrDuplicateSettlement         document already has a settlement
  ErrSupplierHasUnsettledAdvance supplier already has a live advance
  ErrInvalidRecipient            self-transfer or role-incompatible target
  ErrQuantityExceedsRemaining    partial delivery/consumption over remainder
  ErrNotFound                    referenced entity does not exist
  ErrInvalidInput                non-positive amount, unknown enum value
  ErrForbidden                   caller role may not perform the operation

SEE ALSO:
  - api/handlers.go: maps kinds to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInsufficientFunds           = errors.New("insufficient funds")
	ErrInsufficientStock           = errors.New("insufficient stock")
	ErrInsufficientEscrowFunds     = errors.New("insufficient escrow funds")
	ErrInvalidState                = errors.New("invalid state")
	ErrDuplicateSettlement         = errors.New("duplicate settlement")
	ErrSupplierHasUnsettledAdvance = errors.New("supplier has unsettled advance")
	ErrInvalidRecipient            = errors.New("invalid recipient")
	ErrQuantityExceedsRemaining    = errors.New("quantity exceeds remaining")
	ErrNotFound                    = errors.New("not found")
	ErrInvalidInput                = errors.New("invalid input")
	ErrForbidden                   = errors.New("forbidden")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError is returned when a debit exceeds what an account holds.
// Account is a user id or "register" for the cash register.
type InsufficientFundsError struct {
	Account   string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds on %s: available %s, requested %s",
		e.Account, e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

type InsufficientStockError struct {
	Material  MaterialType
	Owner     Owner
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient %s stock in %s pool: available %s, requested %s",
		e.Material, e.Owner, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

type InsufficientEscrowError struct {
	AdvanceID AdvanceID
	Remaining decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientEscrowError) Error() string {
	return fmt.Sprintf("advance %s has %s remaining, requested %s",
		e.AdvanceID, e.Remaining, e.Requested)
}

func (e *InsufficientEscrowError) Unwrap() error { return ErrInsufficientEscrowFunds }

// InvalidStateError names the entity, its current state and the refused operation.
type InvalidStateError struct {
	Entity string
	ID     string
	State  string
	Op     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in state %q", e.Op, e.Entity, e.ID, e.State)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

type QuantityExceedsRemainingError struct {
	Entity    string
	ID        string
	Remaining decimal.Decimal
	Requested decimal.Decimal
}

func (e *QuantityExceedsRemainingError) Error() string {
	return fmt.Sprintf("%s %s: requested %s exceeds remaining %s",
		e.Entity, e.ID, e.Requested, e.Remaining)
}

func (e *QuantityExceedsRemainingError) Unwrap() error { return ErrQuantityExceedsRemaining }

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// RecipientError explains why a transfer target was refused.
type RecipientError struct {
	From   UserID
	To     UserID
	Reason string
}

func (e *RecipientError) Error() string {
	return fmt.Sprintf("invalid recipient %s for %s: %s", e.To, e.From, e.Reason)
}

func (e *RecipientError) Unwrap() error { return ErrInvalidRecipient }

func forbidden(actor Actor, op string) error {
	return fmt.Errorf("%w: %s %s may not %s", ErrForbidden, actor.Role, actor.ID, op)
}

func notFound(entity string, id any) error {
	return &NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func invalidState(entity string, id any, state any, op string) error {
	return &InvalidStateError{Entity: entity, ID: fmt.Sprint(id), State: fmt.Sprint(state), Op: op}
}

// requirePositive rejects zero and negative amounts.
func requirePositive(field string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return invalidInput("%s must be positive, got %s", field, v)
	}
	return nil
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

var kinds = []struct {
	err  error
	name string
}{
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrInsufficientStock, "insufficient_stock"},
	{ErrInsufficientEscrowFunds, "insufficient_escrow_funds"},
	{ErrInvalidState, "invalid_state"},
	{ErrDuplicateSettlement, "duplicate_settlement"},
	{ErrSupplierHasUnsettledAdvance, "supplier_has_unsettled_advance"},
	{ErrInvalidRecipient, "invalid_recipient"},
	{ErrQuantityExceedsRemaining, "quantity_exceeds_remaining"},
	{ErrNotFound, "not_found"},
	{ErrInvalidInput, "invalid_input"},
	{ErrForbidden, "forbidden"},
}

// Kind returns the snake_case error kind, or "internal" for anything
// outside the taxonomy.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}

// IsClientError returns true if the error is a rejected operation rather
// than an infrastructure failure.
func IsClientError(err error) bool {
	return err != nil && Kind(err) != "internal"
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
