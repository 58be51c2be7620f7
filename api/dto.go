/*
dto.go - Data Transfer Objects for the HTTP API

PURPOSE:
  Request and response shapes for the REST API. Keeps the JSON format
  separate from the ledger types so the wire format can stay stable while
  the core evolves.

CONVENTIONS:
  - Amounts and quantities are decimal strings ("1250.50"); numbers are
    accepted on input too
  - Times are RFC3339
  - Owners are "global" or a user id
  - Request structs carry validator tags; numeric rules (amount > 0) are
    enforced by the ledger itself

SEE ALSO:
  - handlers.go: Uses these DTOs
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/supply-ledger/ledger"
)

// =============================================================================
// REQUEST DTOs
// =============================================================================

type CreateUserRequest struct {
	ID   string `json:"id"`
	Name string `json:"name" validate:"required,max=255"`
	Role string `json:"role" validate:"required,oneof=admin vendor collector distiller"`
}

type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note" validate:"max=255"`
}

type StockRequest struct {
	Owner    string          `json:"owner" validate:"required"`
	Quantity decimal.Decimal `json:"quantity"`
}

type CreateAdvanceRequest struct {
	SupplierID    string          `json:"supplier_id" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	DeadlineHours int             `json:"deadline_hours" validate:"gte=0,lte=87600"`
	Reference     string          `json:"reference" validate:"max=255"`
	Note          string          `json:"note" validate:"max=255"`
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

type ConsumeRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	DocumentID string          `json:"document_id" validate:"required"`
}

type RegisterDocumentRequest struct {
	Family     string           `json:"family" validate:"required,oneof=raw oil"`
	Material   string           `json:"material" validate:"required,oneof=FG CG GG HE"`
	SupplierID string           `json:"supplier_id" validate:"required"`
	OwnerID    string           `json:"owner_id" validate:"required"`
	NetWeight  decimal.Decimal  `json:"net_weight"`
	UnitPrice  decimal.Decimal  `json:"unit_price"`
	Debt       *decimal.Decimal `json:"debt,omitempty"`
}

type SettleRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	PayerID string          `json:"payer_id"`
}

type DeliveryRequest struct {
	Material    string          `json:"material" validate:"required,oneof=FG CG GG HE"`
	Owner       string          `json:"owner" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity"`
	RecipientID string          `json:"recipient_id"`
}

type PartialDeliveryRequest struct {
	Quantity    decimal.Decimal `json:"quantity"`
	RecipientID string          `json:"recipient_id"`
}

type CompleteDeliveryRequest struct {
	DeliveredQuantity decimal.Decimal `json:"delivered_quantity"`
}

type TransferRequest struct {
	ToID   string          `json:"to_id" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method" validate:"max=64"`
	Reason string          `json:"reason" validate:"max=255"`
}

type RegisterEntryRequest struct {
	Type      string          `json:"type" validate:"required,oneof=income expense"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method" validate:"max=64"`
	Reason    string          `json:"reason" validate:"max=255"`
	Reference string          `json:"reference" validate:"max=255"`
}

type FundRequestRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" validate:"max=255"`
}

type DecisionRequest struct {
	Note string `json:"note" validate:"max=255"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSE DTOs
// =============================================================================

type UserDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type BalanceDTO struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

type MovementDTO struct {
	ID           string          `json:"id"`
	Kind         string          `json:"kind"`
	Delta        decimal.Decimal `json:"delta"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Reference    string          `json:"reference,omitempty"`
	Note         string          `json:"note,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type StockEntryDTO struct {
	Material  string          `json:"material"`
	Owner     string          `json:"owner"`
	TotalIn   decimal.Decimal `json:"total_in"`
	Available decimal.Decimal `json:"available"`
	Reserved  decimal.Decimal `json:"reserved"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type QuantityDTO struct {
	Material string          `json:"material"`
	Quantity decimal.Decimal `json:"quantity"`
}

type ConsumptionDTO struct {
	DocumentID string          `json:"document_id"`
	Amount     decimal.Decimal `json:"amount"`
	CreatedAt  time.Time       `json:"created_at"`
}

type AdvanceDTO struct {
	ID              string           `json:"id"`
	SupplierID      string           `json:"supplier_id"`
	PayerID         string           `json:"payer_id"`
	Amount          decimal.Decimal  `json:"amount"`
	UsedAmount      decimal.Decimal  `json:"used_amount"`
	RemainingAmount decimal.Decimal  `json:"remaining_amount"`
	Status          string           `json:"status"`
	DeadlineHours   int              `json:"deadline_hours"`
	Deadline        *time.Time       `json:"deadline,omitempty"`
	Reference       string           `json:"reference,omitempty"`
	Note            string           `json:"note,omitempty"`
	CancelReason    string           `json:"cancel_reason,omitempty"`
	LastDocumentID  string           `json:"last_document_id,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	ArrivedAt       *time.Time       `json:"arrived_at,omitempty"`
	ClosedAt        *time.Time       `json:"closed_at,omitempty"`
	Consumptions    []ConsumptionDTO `json:"consumptions,omitempty"`
}

type DocumentDTO struct {
	ID                string          `json:"id"`
	Family            string          `json:"family"`
	Material          string          `json:"material"`
	SupplierID        string          `json:"supplier_id"`
	OwnerID           string          `json:"owner_id"`
	NetWeight         decimal.Decimal `json:"net_weight"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	TotalPrice        decimal.Decimal `json:"total_price"`
	DebtToSupplier    decimal.Decimal `json:"debt_to_supplier"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
	Status            string          `json:"status"`
	StockedIn         bool            `json:"stocked_in"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type PaymentDTO struct {
	ID        string          `json:"id"`
	PayerID   string          `json:"payer_id"`
	Amount    decimal.Decimal `json:"amount"`
	Source    string          `json:"source"`
	AdvanceID string          `json:"advance_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type SettlementDTO struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"document_id"`
	PayerID    string          `json:"payer_id"`
	TotalPaid  decimal.Decimal `json:"total_paid"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Payments   []PaymentDTO    `json:"payments,omitempty"`
}

// SettlementResultDTO is returned by settle, add-payment and consume.
type SettlementResultDTO struct {
	Settlement SettlementDTO `json:"settlement"`
	Document   DocumentDTO   `json:"document"`
	Payment    PaymentDTO    `json:"payment"`
	StockedIn  bool          `json:"stocked_in"`
}

type ConsumeResultDTO struct {
	Advance    AdvanceDTO          `json:"advance"`
	Settlement SettlementResultDTO `json:"settlement"`
}

type DeliveryDTO struct {
	ID                string          `json:"id"`
	Kind              string          `json:"kind"`
	Material          string          `json:"material"`
	Owner             string          `json:"owner"`
	DocumentID        string          `json:"document_id,omitempty"`
	CreatedBy         string          `json:"created_by,omitempty"`
	RecipientID       string          `json:"recipient_id,omitempty"`
	RequestedQuantity decimal.Decimal `json:"requested_quantity"`
	DeliveredQuantity decimal.Decimal `json:"delivered_quantity"`
	Status            string          `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type TransferDTO struct {
	ID              string          `json:"id"`
	FromID          string          `json:"from_id"`
	ToID            string          `json:"to_id"`
	Amount          decimal.Decimal `json:"amount"`
	Method          string          `json:"method,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	Source          string          `json:"source"`
	RegisterEntryID string          `json:"register_entry_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type RegisterEntryDTO struct {
	ID           string          `json:"id"`
	Seq          int64           `json:"seq"`
	Type         string          `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Method       string          `json:"method,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Reference    string          `json:"reference,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type RegisterDTO struct {
	Balance decimal.Decimal    `json:"balance"`
	Entries []RegisterEntryDTO `json:"entries"`
}

type FundRequestDTO struct {
	ID           string          `json:"id"`
	RequesterID  string          `json:"requester_id"`
	Amount       decimal.Decimal `json:"amount"`
	Reason       string          `json:"reason,omitempty"`
	Status       string          `json:"status"`
	DecidedBy    string          `json:"decided_by,omitempty"`
	DecisionNote string          `json:"decision_note,omitempty"`
	TransferID   string          `json:"transfer_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	DecidedAt    *time.Time      `json:"decided_at,omitempty"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// ScenarioResultDTO names the records a scenario created.
type ScenarioResultDTO struct {
	Scenario ScenarioDTO       `json:"scenario"`
	Records  map[string]string `json:"records"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func ownerString(o ledger.Owner) string {
	if id, ok := o.User(); ok {
		return string(id)
	}
	return "global"
}

func parseOwner(s string) ledger.Owner {
	if s == "" || s == "global" {
		return ledger.GlobalOwner()
	}
	return ledger.OwnedBy(ledger.UserID(s))
}

func toUserDTO(u ledger.User) UserDTO {
	return UserDTO{ID: string(u.ID), Name: u.Name, Role: string(u.Role), CreatedAt: u.CreatedAt}
}

func toMovementDTO(m ledger.BalanceMovement) MovementDTO {
	return MovementDTO{
		ID:           m.ID,
		Kind:         string(m.Kind),
		Delta:        m.Delta,
		BalanceAfter: m.BalanceAfter,
		Reference:    m.Reference,
		Note:         m.Note,
		CreatedAt:    m.CreatedAt,
	}
}

func toStockEntryDTO(e ledger.StockEntry) StockEntryDTO {
	return StockEntryDTO{
		Material:  string(e.Material),
		Owner:     ownerString(e.Owner),
		TotalIn:   e.TotalIn,
		Available: e.Available,
		Reserved:  e.Reserved(),
		UpdatedAt: e.UpdatedAt,
	}
}

func toAdvanceDTO(a ledger.AdvancePayment, uses []ledger.AdvanceConsumption) AdvanceDTO {
	dto := AdvanceDTO{
		ID:              string(a.ID),
		SupplierID:      string(a.SupplierID),
		PayerID:         string(a.PayerID),
		Amount:          a.Amount,
		UsedAmount:      a.UsedAmount,
		RemainingAmount: a.RemainingAmount,
		Status:          string(a.Status),
		DeadlineHours:   a.DeadlineHours,
		Reference:       a.Reference,
		Note:            a.Note,
		CancelReason:    a.CancelReason,
		LastDocumentID:  string(a.LastDocumentID),
		CreatedAt:       a.CreatedAt,
		ArrivedAt:       a.ArrivedAt,
		ClosedAt:        a.ClosedAt,
	}
	if d := a.Deadline(); !d.IsZero() {
		dto.Deadline = &d
	}
	for _, u := range uses {
		dto.Consumptions = append(dto.Consumptions, ConsumptionDTO{
			DocumentID: string(u.DocumentID),
			Amount:     u.Amount,
			CreatedAt:  u.CreatedAt,
		})
	}
	return dto
}

func toDocumentDTO(d ledger.ReceptionDocument) DocumentDTO {
	return DocumentDTO{
		ID:                string(d.ID),
		Family:            string(d.Family),
		Material:          string(d.Material),
		SupplierID:        string(d.SupplierID),
		OwnerID:           string(d.OwnerID),
		NetWeight:         d.NetWeight,
		UnitPrice:         d.UnitPrice,
		TotalPrice:        d.TotalPrice,
		DebtToSupplier:    d.DebtToSupplier,
		RemainingQuantity: d.RemainingQuantity,
		Status:            string(d.Status),
		StockedIn:         d.StockedIn,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

func toPaymentDTO(p ledger.Payment) PaymentDTO {
	return PaymentDTO{
		ID:        p.ID,
		PayerID:   string(p.PayerID),
		Amount:    p.Amount,
		Source:    string(p.Source),
		AdvanceID: string(p.AdvanceID),
		CreatedAt: p.CreatedAt,
	}
}

func toSettlementDTO(s ledger.Settlement, payments []ledger.Payment) SettlementDTO {
	dto := SettlementDTO{
		ID:         string(s.ID),
		DocumentID: string(s.DocumentID),
		PayerID:    string(s.PayerID),
		TotalPaid:  s.TotalPaid,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
	for _, p := range payments {
		dto.Payments = append(dto.Payments, toPaymentDTO(p))
	}
	return dto
}

func toSettlementResultDTO(r ledger.SettlementResult) SettlementResultDTO {
	return SettlementResultDTO{
		Settlement: toSettlementDTO(r.Settlement, nil),
		Document:   toDocumentDTO(r.Document),
		Payment:    toPaymentDTO(r.Payment),
		StockedIn:  r.StockedIn,
	}
}

func toDeliveryDTO(d ledger.Delivery) DeliveryDTO {
	return DeliveryDTO{
		ID:                string(d.ID),
		Kind:              string(d.Kind),
		Material:          string(d.Material),
		Owner:             ownerString(d.Owner),
		DocumentID:        string(d.DocumentID),
		CreatedBy:         string(d.CreatedBy),
		RecipientID:       string(d.RecipientID),
		RequestedQuantity: d.RequestedQuantity,
		DeliveredQuantity: d.DeliveredQuantity,
		Status:            string(d.Status),
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

func toTransferDTO(t ledger.Transfer) TransferDTO {
	return TransferDTO{
		ID:              string(t.ID),
		FromID:          string(t.FromID),
		ToID:            string(t.ToID),
		Amount:          t.Amount,
		Method:          t.Method,
		Reason:          t.Reason,
		Source:          string(t.Source),
		RegisterEntryID: string(t.RegisterEntryID),
		CreatedAt:       t.CreatedAt,
	}
}

func toRegisterEntryDTO(e ledger.RegisterEntry) RegisterEntryDTO {
	return RegisterEntryDTO{
		ID:           string(e.ID),
		Seq:          e.Seq,
		Type:         string(e.Type),
		Amount:       e.Amount,
		BalanceAfter: e.BalanceAfter,
		Method:       e.Method,
		Reason:       e.Reason,
		Reference:    e.Reference,
		CreatedAt:    e.CreatedAt,
	}
}

func toFundRequestDTO(r ledger.FundRequest) FundRequestDTO {
	return FundRequestDTO{
		ID:           string(r.ID),
		RequesterID:  string(r.RequesterID),
		Amount:       r.Amount,
		Reason:       r.Reason,
		Status:       string(r.Status),
		DecidedBy:    string(r.DecidedBy),
		DecisionNote: r.DecisionNote,
		TransferID:   string(r.TransferID),
		CreatedAt:    r.CreatedAt,
		DecidedAt:    r.DecidedAt,
	}
}

// mapSlice converts a slice, returning an empty (non-nil) slice for JSON.
func mapSlice[T, U any](in []T, f func(T) U) []U {
	out := make([]U, 0, len(in))
	for _, v := range in {
		out = append(out, f(v))
	}
	return out
}
