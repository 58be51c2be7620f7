/*
handlers.go - HTTP API handlers for the supply ledger

PURPOSE:
  Exposes the ledger Service via REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates to the ledger.

ENDPOINTS:
  Users and balances:
    GET    /api/users                       List users
    POST   /api/users                       Create user
    GET    /api/users/{id}                  Get user
    GET    /api/users/{id}/balance          Current balance (0 if never credited)
    POST   /api/users/{id}/credit           Credit balance
    POST   /api/users/{id}/debit            Debit balance
    GET    /api/users/{id}/movements        Balance movement history
    GET    /api/users/{id}/transfers        Transfers sent or received

  Stock:
    GET    /api/stock/{material}            All pools for a material
    GET    /api/stock/{material}/available  Global + caller's own pool
    GET    /api/stock/{material}/total      Available across every pool (admin)
    POST   /api/stock/{material}/in         Stock-in
    POST   /api/stock/{material}/reserve    Reserve
    POST   /api/stock/{material}/release    Release

  Escrow:
    GET    /api/advances                    List (?supplier_id=&status=)
    POST   /api/advances                    Create (caller pays)
    GET    /api/advances/{id}               Advance with consumptions
    POST   /api/advances/{id}/confirm       Confirm arrival
    POST   /api/advances/{id}/cancel        Cancel and refund remaining
    POST   /api/advances/{id}/consume       Draw down against a document
    POST   /api/advances/auto-confirm       Run the deadline sweep now

  Documents, settlements, deliveries:
    POST   /api/documents                   Register reception document
    GET    /api/documents/{id}              Get document
    POST   /api/documents/{id}/settle       Open settlement with first payment (caller pays)
    GET    /api/documents/{id}/settlement   Settlement for document
    GET    /api/documents/{id}/deliveries   Delivery notes for document
    POST   /api/documents/{id}/deliveries   Start partial delivery
    GET    /api/settlements/{id}            Settlement with payments
    POST   /api/settlements/{id}/payments   Add payment
    POST   /api/deliveries                  Simple delivery
    GET    /api/deliveries/{id}             Get delivery
    POST   /api/deliveries/{id}/complete    Complete partial delivery
    POST   /api/deliveries/{id}/cancel      Cancel delivery

  Transfers, register, fund requests:
    POST   /api/transfers                   Transfer from caller
    GET    /api/register                    Balance and entries (admin)
    POST   /api/register/entries            Manual entry (admin)
    PUT    /api/register/entries/{id}       Edit manual entry (admin)
    DELETE /api/register/entries/{id}       Delete manual entry (admin)
    POST   /api/register/rebuild            Recompute balance_after (admin)
    GET    /api/fund-requests               List (?status=)
    POST   /api/fund-requests               Request funds (caller)
    POST   /api/fund-requests/{id}/approve  Approve (admin)
    POST   /api/fund-requests/{id}/reject   Reject (admin)

  Scenarios:
    GET    /api/scenarios                   List demo scenarios
    POST   /api/scenarios/load              Load a demo scenario

CALLER IDENTITY:
  The caller is named by the X-User-ID header and resolved against the
  user table; the stored role is what counts. Authentication itself is
  handled in front of this service.

ERROR HANDLING:
  Ledger errors are mapped by kind:
  - 400: invalid_input, malformed JSON, validation errors
  - 403: forbidden
  - 404: not_found
  - 409: invalid_state, duplicate_settlement, supplier_has_unsettled_advance
  - 422: insufficient_*, invalid_recipient, quantity_exceeds_remaining
  - 500: anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/supply-ledger/ledger"
)

// UserHeader names the calling user.
const UserHeader = "X-User-ID"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds the dependencies of every endpoint.
type Handler struct {
	Service   *ledger.Service
	Scheduler *AdvanceScheduler
	Log       logrus.FieldLogger

	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

func NewHandler(svc *ledger.Service, log logrus.FieldLogger) *Handler {
	return &Handler{
		Service:  svc,
		Log:      log,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// =============================================================================
// USERS AND BALANCES
// =============================================================================

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Service.ListUsers(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(users, toUserDTO))
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	u, err := h.Service.CreateUser(r.Context(), ledger.User{
		ID:   ledger.UserID(req.ID),
		Name: req.Name,
		Role: ledger.Role(req.Role),
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(u))
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.Service.GetUser(r.Context(), ledger.UserID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(u))
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))
	amount, err := h.Service.Balance(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{UserID: string(id), Amount: amount})
}

func (h *Handler) Credit(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !h.decode(w, r, &req) {
		return
	}
	b, err := h.Service.Credit(r.Context(), ledger.UserID(chi.URLParam(r, "id")), req.Amount, req.Note)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{UserID: string(b.UserID), Amount: b.Amount})
}

func (h *Handler) Debit(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !h.decode(w, r, &req) {
		return
	}
	b, err := h.Service.Debit(r.Context(), ledger.UserID(chi.URLParam(r, "id")), req.Amount, req.Note)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{UserID: string(b.UserID), Amount: b.Amount})
}

func (h *Handler) GetMovements(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}
	moves, err := h.Service.Movements(r.Context(), ledger.UserID(chi.URLParam(r, "id")), limit)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(moves, toMovementDTO))
}

func (h *Handler) GetUserTransfers(w http.ResponseWriter, r *http.Request) {
	ts, err := h.Service.Transfers(r.Context(), ledger.UserID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(ts, toTransferDTO))
}

// =============================================================================
// STOCK
// =============================================================================

func material(r *http.Request) ledger.MaterialType {
	return ledger.MaterialType(chi.URLParam(r, "material"))
}

func (h *Handler) ListStock(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Service.Entries(r.Context(), material(r))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(entries, toStockEntryDTO))
}

// GetAvailable reports the global pool plus the caller's own pool. Without
// a caller only the global pool counts.
func (h *Handler) GetAvailable(w http.ResponseWriter, r *http.Request) {
	qty, err := h.Service.AvailableFor(r.Context(), material(r), ledger.UserID(r.Header.Get(UserHeader)))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QuantityDTO{Material: string(material(r)), Quantity: qty})
}

// GetSystemTotal is a reporting figure and is limited to admins.
func (h *Handler) GetSystemTotal(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	qty, err := h.Service.SystemTotal(r.Context(), material(r))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QuantityDTO{Material: string(material(r)), Quantity: qty})
}

type stockOp func(h *Handler, r *http.Request, m ledger.MaterialType, o ledger.Owner, q decimal.Decimal) (ledger.StockEntry, error)

func (h *Handler) stockHandler(op stockOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StockRequest
		if !h.decode(w, r, &req) {
			return
		}
		e, err := op(h, r, material(r), parseOwner(req.Owner), req.Quantity)
		if err != nil {
			h.writeLedgerError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toStockEntryDTO(e))
	}
}

func (h *Handler) StockIn(w http.ResponseWriter, r *http.Request) {
	h.stockHandler(func(h *Handler, r *http.Request, m ledger.MaterialType, o ledger.Owner, q decimal.Decimal) (ledger.StockEntry, error) {
		return h.Service.StockIn(r.Context(), m, o, q)
	})(w, r)
}

func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	h.stockHandler(func(h *Handler, r *http.Request, m ledger.MaterialType, o ledger.Owner, q decimal.Decimal) (ledger.StockEntry, error) {
		return h.Service.Reserve(r.Context(), m, o, q)
	})(w, r)
}

func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	h.stockHandler(func(h *Handler, r *http.Request, m ledger.MaterialType, o ledger.Owner, q decimal.Decimal) (ledger.StockEntry, error) {
		return h.Service.Release(r.Context(), m, o, q)
	})(w, r)
}

// =============================================================================
// ESCROW
// =============================================================================

func (h *Handler) ListAdvances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.AdvanceFilter{
		SupplierID: ledger.SupplierID(q.Get("supplier_id")),
		Status:     ledger.AdvanceStatus(q.Get("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid status", nil)
		return
	}
	advances, err := h.Service.ListAdvances(r.Context(), filter)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(advances, func(a ledger.AdvancePayment) AdvanceDTO {
		return toAdvanceDTO(a, nil)
	}))
}

func (h *Handler) CreateAdvance(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req CreateAdvanceRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.Service.CreateAdvance(r.Context(), ledger.AdvanceInput{
		PayerID:       actor.ID,
		SupplierID:    ledger.SupplierID(req.SupplierID),
		Amount:        req.Amount,
		DeadlineHours: req.DeadlineHours,
		Reference:     req.Reference,
		Note:          req.Note,
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAdvanceDTO(a, nil))
}

func (h *Handler) GetAdvance(w http.ResponseWriter, r *http.Request) {
	a, uses, err := h.Service.GetAdvance(r.Context(), ledger.AdvanceID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdvanceDTO(a, uses))
}

func (h *Handler) ConfirmArrival(w http.ResponseWriter, r *http.Request) {
	a, err := h.Service.ConfirmArrival(r.Context(), ledger.AdvanceID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdvanceDTO(a, nil))
}

func (h *Handler) CancelAdvance(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	a, err := h.Service.CancelAdvance(r.Context(), ledger.AdvanceID(chi.URLParam(r, "id")), req.Reason)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdvanceDTO(a, nil))
}

func (h *Handler) ConsumeAdvance(w http.ResponseWriter, r *http.Request) {
	var req ConsumeRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Service.Consume(r.Context(), ledger.AdvanceID(chi.URLParam(r, "id")), req.Amount, ledger.DocumentID(req.DocumentID))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ConsumeResultDTO{
		Advance:    toAdvanceDTO(res.Advance, nil),
		Settlement: toSettlementResultDTO(res.Settlement),
	})
}

// RunAutoConfirm runs the deadline sweep immediately.
func (h *Handler) RunAutoConfirm(w http.ResponseWriter, r *http.Request) {
	var (
		ids []ledger.AdvanceID
		err error
	)
	if h.Scheduler != nil {
		ids, err = h.Scheduler.RunNow(r.Context())
	} else {
		ids, err = h.Service.AutoConfirmOverdue(r.Context(), time.Now().UTC())
	}
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"confirmed": ids, "count": len(ids)})
}

// =============================================================================
// DOCUMENTS AND SETTLEMENTS
// =============================================================================

func (h *Handler) RegisterDocument(w http.ResponseWriter, r *http.Request) {
	var req RegisterDocumentRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := ledger.DocumentInput{
		Family:     ledger.DocumentFamily(req.Family),
		Material:   ledger.MaterialType(req.Material),
		SupplierID: ledger.SupplierID(req.SupplierID),
		OwnerID:    ledger.UserID(req.OwnerID),
		NetWeight:  req.NetWeight,
		UnitPrice:  req.UnitPrice,
	}
	if req.Debt != nil {
		in.Debt = decimal.NewNullDecimal(*req.Debt)
	}
	doc, err := h.Service.RegisterDocument(r.Context(), in)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDocumentDTO(doc))
}

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Service.GetDocument(r.Context(), ledger.DocumentID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDTO(doc))
}

// Settle opens the settlement paid by the caller. Only an admin may name
// another payer.
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req SettleRequest
	if !h.decode(w, r, &req) {
		return
	}
	payer := actor.ID
	if req.PayerID != "" && ledger.UserID(req.PayerID) != actor.ID {
		if actor.Role != ledger.RoleAdmin {
			writeErrorCode(w, http.StatusForbidden, "Only an admin may settle on behalf of another user", "forbidden", nil)
			return
		}
		payer = ledger.UserID(req.PayerID)
	}
	res, err := h.Service.Settle(r.Context(), ledger.DocumentID(chi.URLParam(r, "id")), req.Amount, payer)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSettlementResultDTO(res))
}

func (h *Handler) GetDocumentSettlement(w http.ResponseWriter, r *http.Request) {
	st, err := h.Service.SettlementForDocument(r.Context(), ledger.DocumentID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "Document has no settlement", nil)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(*st, nil))
}

func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	st, payments, err := h.Service.GetSettlement(r.Context(), ledger.SettlementID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(st, payments))
}

func (h *Handler) AddPayment(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Service.AddPayment(r.Context(), ledger.SettlementID(chi.URLParam(r, "id")), req.Amount)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementResultDTO(res))
}

// =============================================================================
// DELIVERIES
// =============================================================================

func (h *Handler) CreateDelivery(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req DeliveryRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := h.Service.CreateDelivery(r.Context(), actor, ledger.DeliveryInput{
		Material:    ledger.MaterialType(req.Material),
		Owner:       parseOwner(req.Owner),
		Quantity:    req.Quantity,
		RecipientID: ledger.UserID(req.RecipientID),
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDeliveryDTO(d))
}

func (h *Handler) StartPartialDelivery(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req PartialDeliveryRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := h.Service.StartPartialDelivery(r.Context(), actor,
		ledger.DocumentID(chi.URLParam(r, "id")), req.Quantity, ledger.UserID(req.RecipientID))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDeliveryDTO(d))
}

func (h *Handler) ListDocumentDeliveries(w http.ResponseWriter, r *http.Request) {
	ds, err := h.Service.DocumentDeliveries(r.Context(), ledger.DocumentID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(ds, toDeliveryDTO))
}

func (h *Handler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	d, err := h.Service.GetDelivery(r.Context(), ledger.DeliveryID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeliveryDTO(d))
}

func (h *Handler) CompleteDelivery(w http.ResponseWriter, r *http.Request) {
	var req CompleteDeliveryRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, doc, err := h.Service.CompletePartialDelivery(r.Context(), ledger.DeliveryID(chi.URLParam(r, "id")), req.DeliveredQuantity)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"delivery": toDeliveryDTO(d),
		"document": toDocumentDTO(doc),
	})
}

func (h *Handler) CancelDelivery(w http.ResponseWriter, r *http.Request) {
	d, err := h.Service.CancelDelivery(r.Context(), ledger.DeliveryID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeliveryDTO(d))
}

// =============================================================================
// TRANSFERS
// =============================================================================

func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req TransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	t, err := h.Service.Transfer(r.Context(), ledger.TransferInput{
		FromID: actor.ID,
		ToID:   ledger.UserID(req.ToID),
		Amount: req.Amount,
		Method: req.Method,
		Reason: req.Reason,
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransferDTO(t))
}

// =============================================================================
// CASH REGISTER (admin only)
// =============================================================================

func (h *Handler) GetRegister(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	balance, err := h.Service.RegisterBalance(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	entries, err := h.Service.RegisterEntries(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RegisterDTO{Balance: balance, Entries: mapSlice(entries, toRegisterEntryDTO)})
}

func (h *Handler) registerInput(w http.ResponseWriter, r *http.Request) (ledger.RegisterInput, bool) {
	var req RegisterEntryRequest
	if !h.decode(w, r, &req) {
		return ledger.RegisterInput{}, false
	}
	return ledger.RegisterInput{
		Type:      ledger.RegisterEntryType(req.Type),
		Amount:    req.Amount,
		Method:    req.Method,
		Reason:    req.Reason,
		Reference: req.Reference,
	}, true
}

func (h *Handler) RecordRegisterEntry(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	in, ok := h.registerInput(w, r)
	if !ok {
		return
	}
	e, err := h.Service.RecordRegisterEntry(r.Context(), in)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRegisterEntryDTO(e))
}

func (h *Handler) EditRegisterEntry(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	in, ok := h.registerInput(w, r)
	if !ok {
		return
	}
	e, err := h.Service.EditRegisterEntry(r.Context(), ledger.RegisterEntryID(chi.URLParam(r, "id")), in)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRegisterEntryDTO(e))
}

func (h *Handler) DeleteRegisterEntry(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	head, err := h.Service.DeleteRegisterEntry(r.Context(), ledger.RegisterEntryID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": head.Balance, "last_seq": head.LastSeq})
}

func (h *Handler) RebuildRegister(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	head, err := h.Service.RebuildRegister(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": head.Balance, "last_seq": head.LastSeq})
}

// =============================================================================
// FUND REQUESTS
// =============================================================================

func (h *Handler) ListFundRequests(w http.ResponseWriter, r *http.Request) {
	status := ledger.FundRequestStatus(r.URL.Query().Get("status"))
	reqs, err := h.Service.FundRequests(r.Context(), status)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(reqs, toFundRequestDTO))
}

func (h *Handler) RequestFunds(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req FundRequestRequest
	if !h.decode(w, r, &req) {
		return
	}
	fr, err := h.Service.RequestFunds(r.Context(), actor.ID, req.Amount, req.Reason)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFundRequestDTO(fr))
}

func (h *Handler) ApproveFundRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req DecisionRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	fr, t, err := h.Service.ApproveFundRequest(r.Context(), actor.ID, ledger.FundRequestID(chi.URLParam(r, "id")), req.Note)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request":  toFundRequestDTO(fr),
		"transfer": toTransferDTO(t),
	})
}

func (h *Handler) RejectFundRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req DecisionRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	fr, err := h.Service.RejectFundRequest(r.Context(), actor.ID, ledger.FundRequestID(chi.URLParam(r, "id")), req.Note)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFundRequestDTO(fr))
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// requireActor resolves the caller named by the X-User-ID header.
func (h *Handler) requireActor(w http.ResponseWriter, r *http.Request) (ledger.Actor, bool) {
	id := r.Header.Get(UserHeader)
	if id == "" {
		writeError(w, http.StatusUnauthorized, UserHeader+" header is required", nil)
		return ledger.Actor{}, false
	}
	u, err := h.Service.GetUser(r.Context(), ledger.UserID(id))
	if ledger.IsNotFound(err) {
		writeError(w, http.StatusUnauthorized, "Unknown caller", err)
		return ledger.Actor{}, false
	}
	if err != nil {
		h.writeLedgerError(w, r, err)
		return ledger.Actor{}, false
	}
	return ledger.Actor{ID: u.ID, Role: u.Role}, true
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) (ledger.Actor, bool) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return actor, false
	}
	if actor.Role != ledger.RoleAdmin {
		writeErrorCode(w, http.StatusForbidden, "Admin role required", "forbidden", nil)
		return actor, false
	}
	return actor, true
}

// decode reads a JSON body into dst and validates it. On failure it writes
// a 400 and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return false
	}
	return h.validateBody(w, dst)
}

// decodeOptional is decode for endpoints whose body may be empty.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "Invalid JSON", err)
			return false
		}
	}
	return h.validateBody(w, dst)
}

func (h *Handler) validateBody(w http.ResponseWriter, dst any) bool {
	err := h.validate.Struct(dst)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Code: "invalid_input", Details: fields})
		return false
	}
	writeError(w, http.StatusBadRequest, "Validation failed", err)
	return false
}

// statusFor maps a ledger error kind to an HTTP status.
func statusFor(kind string) int {
	switch kind {
	case "invalid_input":
		return http.StatusBadRequest
	case "forbidden":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "invalid_state", "duplicate_settlement", "supplier_has_unsettled_advance":
		return http.StatusConflict
	case "insufficient_funds", "insufficient_stock", "insufficient_escrow_funds",
		"invalid_recipient", "quantity_exceeds_remaining":
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	kind := ledger.Kind(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		h.Log.WithFields(logrus.Fields{"path": r.URL.Path, "method": r.Method}).WithError(err).Error("request failed")
		writeErrorCode(w, status, "Internal error", kind, nil)
		return
	}
	writeErrorCode(w, status, err.Error(), kind, nil)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeErrorCode(w http.ResponseWriter, status int, message, code string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
