// Package store provides the in-memory ledger.Store implementation.
package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/supply-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every table in maps guarded by one mutex. Transactions are
// fully serialized; a failed transaction restores the snapshot taken when
// it began.
type Memory struct {
	mu sync.Mutex
	st state
}

type stockKey struct {
	material ledger.MaterialType
	owner    string
}

type state struct {
	users        map[ledger.UserID]ledger.User
	balances     map[ledger.UserID]ledger.Balance
	movements    []ledger.BalanceMovement
	stock        map[stockKey]ledger.StockEntry
	advances     map[ledger.AdvanceID]ledger.AdvancePayment
	advanceOrder []ledger.AdvanceID
	consumptions []ledger.AdvanceConsumption
	documents    map[ledger.DocumentID]ledger.ReceptionDocument
	settlements  map[ledger.SettlementID]ledger.Settlement
	settledDocs  map[ledger.DocumentID]ledger.SettlementID
	payments     []ledger.Payment
	deliveries   map[ledger.DeliveryID]ledger.Delivery
	deliveryList []ledger.DeliveryID
	transfers    []ledger.Transfer
	head         ledger.RegisterHead
	register     map[ledger.RegisterEntryID]ledger.RegisterEntry
	funds        map[ledger.FundRequestID]ledger.FundRequest
	fundOrder    []ledger.FundRequestID
}

func NewMemory() *Memory {
	return &Memory{st: state{
		users:       make(map[ledger.UserID]ledger.User),
		balances:    make(map[ledger.UserID]ledger.Balance),
		stock:       make(map[stockKey]ledger.StockEntry),
		advances:    make(map[ledger.AdvanceID]ledger.AdvancePayment),
		documents:   make(map[ledger.DocumentID]ledger.ReceptionDocument),
		settlements: make(map[ledger.SettlementID]ledger.Settlement),
		settledDocs: make(map[ledger.DocumentID]ledger.SettlementID),
		deliveries:  make(map[ledger.DeliveryID]ledger.Delivery),
		head:        ledger.RegisterHead{Balance: decimal.Zero},
		register:    make(map[ledger.RegisterEntryID]ledger.RegisterEntry),
		funds:       make(map[ledger.FundRequestID]ledger.FundRequest),
	}}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&memTx{st: &m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (s *state) clone() state {
	return state{
		users:        maps.Clone(s.users),
		balances:     maps.Clone(s.balances),
		movements:    slices.Clone(s.movements),
		stock:        maps.Clone(s.stock),
		advances:     maps.Clone(s.advances),
		advanceOrder: slices.Clone(s.advanceOrder),
		consumptions: slices.Clone(s.consumptions),
		documents:    maps.Clone(s.documents),
		settlements:  maps.Clone(s.settlements),
		settledDocs:  maps.Clone(s.settledDocs),
		payments:     slices.Clone(s.payments),
		deliveries:   maps.Clone(s.deliveries),
		deliveryList: slices.Clone(s.deliveryList),
		transfers:    slices.Clone(s.transfers),
		head:         s.head,
		register:     maps.Clone(s.register),
		funds:        maps.Clone(s.funds),
		fundOrder:    slices.Clone(s.fundOrder),
	}
}

// memTx is the view handed to a transaction. Lock* methods are plain reads:
// the store mutex already serializes transactions.
type memTx struct {
	st *state
}

func ptr[T any](v T, ok bool) *T {
	if !ok {
		return nil
	}
	return &v
}

// missing reports an update of a row the transaction never inserted.
func missing(entity string, id any) error {
	return fmt.Errorf("memory: update of unknown %s %v", entity, id)
}

// =============================================================================
// USERS
// =============================================================================

func (t *memTx) GetUser(_ context.Context, id ledger.UserID) (*ledger.User, error) {
	u, ok := t.st.users[id]
	return ptr(u, ok), nil
}

func (t *memTx) InsertUser(_ context.Context, u ledger.User) error {
	if _, ok := t.st.users[u.ID]; ok {
		return fmt.Errorf("memory: user %s already exists", u.ID)
	}
	t.st.users[u.ID] = u
	return nil
}

func (t *memTx) ListUsers(_ context.Context) ([]ledger.User, error) {
	out := slices.Collect(maps.Values(t.st.users))
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// BALANCES
// =============================================================================

func (t *memTx) GetBalance(_ context.Context, id ledger.UserID) (*ledger.Balance, error) {
	b, ok := t.st.balances[id]
	return ptr(b, ok), nil
}

func (t *memTx) LockBalance(ctx context.Context, id ledger.UserID) (*ledger.Balance, error) {
	return t.GetBalance(ctx, id)
}

func (t *memTx) InsertBalance(_ context.Context, b ledger.Balance) error {
	if _, ok := t.st.balances[b.UserID]; !ok {
		t.st.balances[b.UserID] = b
	}
	return nil
}

func (t *memTx) UpdateBalance(_ context.Context, b ledger.Balance) error {
	if _, ok := t.st.balances[b.UserID]; !ok {
		return missing("balance", b.UserID)
	}
	t.st.balances[b.UserID] = b
	return nil
}

func (t *memTx) InsertMovement(_ context.Context, mv ledger.BalanceMovement) error {
	t.st.movements = append(t.st.movements, mv)
	return nil
}

// ListMovements returns newest first.
func (t *memTx) ListMovements(_ context.Context, id ledger.UserID, limit int) ([]ledger.BalanceMovement, error) {
	var out []ledger.BalanceMovement
	for i := len(t.st.movements) - 1; i >= 0; i-- {
		if t.st.movements[i].UserID != id {
			continue
		}
		out = append(out, t.st.movements[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// =============================================================================
// STOCK
// =============================================================================

func (t *memTx) GetStockEntry(_ context.Context, material ledger.MaterialType, owner ledger.Owner) (*ledger.StockEntry, error) {
	e, ok := t.st.stock[stockKey{material, owner.Key()}]
	return ptr(e, ok), nil
}

func (t *memTx) LockStockEntry(ctx context.Context, material ledger.MaterialType, owner ledger.Owner) (*ledger.StockEntry, error) {
	return t.GetStockEntry(ctx, material, owner)
}

func (t *memTx) InsertStockEntry(_ context.Context, e ledger.StockEntry) error {
	k := stockKey{e.Material, e.Owner.Key()}
	if _, ok := t.st.stock[k]; !ok {
		t.st.stock[k] = e
	}
	return nil
}

func (t *memTx) UpdateStockEntry(_ context.Context, e ledger.StockEntry) error {
	k := stockKey{e.Material, e.Owner.Key()}
	if _, ok := t.st.stock[k]; !ok {
		return missing("stock entry", fmt.Sprintf("%s/%s", e.Material, e.Owner))
	}
	t.st.stock[k] = e
	return nil
}

// ListStockEntries returns the global entry first, then owners by id.
func (t *memTx) ListStockEntries(_ context.Context, material ledger.MaterialType) ([]ledger.StockEntry, error) {
	var out []ledger.StockEntry
	for k, e := range t.st.stock {
		if k.material == material {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner.Key() < out[j].Owner.Key() })
	return out, nil
}

// =============================================================================
// ADVANCES
// =============================================================================

func (t *memTx) GetAdvance(_ context.Context, id ledger.AdvanceID) (*ledger.AdvancePayment, error) {
	a, ok := t.st.advances[id]
	return ptr(a, ok), nil
}

func (t *memTx) LockAdvance(ctx context.Context, id ledger.AdvanceID) (*ledger.AdvancePayment, error) {
	return t.GetAdvance(ctx, id)
}

func (t *memTx) LockLiveAdvance(_ context.Context, supplier ledger.SupplierID) (*ledger.AdvancePayment, error) {
	for _, id := range t.st.advanceOrder {
		a := t.st.advances[id]
		if a.SupplierID == supplier && a.Status.Live() {
			return &a, nil
		}
	}
	return nil, nil
}

func (t *memTx) InsertAdvance(ctx context.Context, a ledger.AdvancePayment) error {
	if _, ok := t.st.advances[a.ID]; ok {
		return fmt.Errorf("memory: advance %s already exists", a.ID)
	}
	if live, _ := t.LockLiveAdvance(ctx, a.SupplierID); live != nil && a.Status.Live() {
		return fmt.Errorf("memory: %w: %s", ledger.ErrSupplierHasUnsettledAdvance, a.SupplierID)
	}
	t.st.advances[a.ID] = a
	t.st.advanceOrder = append(t.st.advanceOrder, a.ID)
	return nil
}

func (t *memTx) UpdateAdvance(_ context.Context, a ledger.AdvancePayment) error {
	if _, ok := t.st.advances[a.ID]; !ok {
		return missing("advance", a.ID)
	}
	t.st.advances[a.ID] = a
	return nil
}

func (t *memTx) ListAdvances(_ context.Context, filter ledger.AdvanceFilter) ([]ledger.AdvancePayment, error) {
	var out []ledger.AdvancePayment
	for _, id := range t.st.advanceOrder {
		if a := t.st.advances[id]; filter.Match(a) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (t *memTx) InsertAdvanceConsumption(_ context.Context, c ledger.AdvanceConsumption) error {
	t.st.consumptions = append(t.st.consumptions, c)
	return nil
}

func (t *memTx) ListAdvanceConsumptions(_ context.Context, id ledger.AdvanceID) ([]ledger.AdvanceConsumption, error) {
	var out []ledger.AdvanceConsumption
	for _, c := range t.st.consumptions {
		if c.AdvanceID == id {
			out = append(out, c)
		}
	}
	return out, nil
}

// =============================================================================
// DOCUMENTS AND SETTLEMENTS
// =============================================================================

func (t *memTx) GetDocument(_ context.Context, id ledger.DocumentID) (*ledger.ReceptionDocument, error) {
	d, ok := t.st.documents[id]
	return ptr(d, ok), nil
}

func (t *memTx) LockDocument(ctx context.Context, id ledger.DocumentID) (*ledger.ReceptionDocument, error) {
	return t.GetDocument(ctx, id)
}

func (t *memTx) InsertDocument(_ context.Context, d ledger.ReceptionDocument) error {
	if _, ok := t.st.documents[d.ID]; ok {
		return fmt.Errorf("memory: document %s already exists", d.ID)
	}
	t.st.documents[d.ID] = d
	return nil
}

func (t *memTx) UpdateDocument(_ context.Context, d ledger.ReceptionDocument) error {
	if _, ok := t.st.documents[d.ID]; !ok {
		return missing("document", d.ID)
	}
	t.st.documents[d.ID] = d
	return nil
}

func (t *memTx) GetSettlement(_ context.Context, id ledger.SettlementID) (*ledger.Settlement, error) {
	s, ok := t.st.settlements[id]
	return ptr(s, ok), nil
}

func (t *memTx) GetSettlementByDocument(ctx context.Context, id ledger.DocumentID) (*ledger.Settlement, error) {
	sid, ok := t.st.settledDocs[id]
	if !ok {
		return nil, nil
	}
	return t.GetSettlement(ctx, sid)
}

func (t *memTx) InsertSettlement(_ context.Context, s ledger.Settlement) error {
	if _, ok := t.st.settledDocs[s.DocumentID]; ok {
		return fmt.Errorf("memory: %w: %s", ledger.ErrDuplicateSettlement, s.DocumentID)
	}
	t.st.settlements[s.ID] = s
	t.st.settledDocs[s.DocumentID] = s.ID
	return nil
}

func (t *memTx) UpdateSettlement(_ context.Context, s ledger.Settlement) error {
	if _, ok := t.st.settlements[s.ID]; !ok {
		return missing("settlement", s.ID)
	}
	t.st.settlements[s.ID] = s
	return nil
}

func (t *memTx) InsertPayment(_ context.Context, p ledger.Payment) error {
	t.st.payments = append(t.st.payments, p)
	return nil
}

func (t *memTx) ListPayments(_ context.Context, id ledger.SettlementID) ([]ledger.Payment, error) {
	var out []ledger.Payment
	for _, p := range t.st.payments {
		if p.SettlementID == id {
			out = append(out, p)
		}
	}
	return out, nil
}

// =============================================================================
// DELIVERIES AND TRANSFERS
// =============================================================================

func (t *memTx) GetDelivery(_ context.Context, id ledger.DeliveryID) (*ledger.Delivery, error) {
	d, ok := t.st.deliveries[id]
	return ptr(d, ok), nil
}

func (t *memTx) LockDelivery(ctx context.Context, id ledger.DeliveryID) (*ledger.Delivery, error) {
	return t.GetDelivery(ctx, id)
}

func (t *memTx) InsertDelivery(_ context.Context, d ledger.Delivery) error {
	if _, ok := t.st.deliveries[d.ID]; ok {
		return fmt.Errorf("memory: delivery %s already exists", d.ID)
	}
	t.st.deliveries[d.ID] = d
	t.st.deliveryList = append(t.st.deliveryList, d.ID)
	return nil
}

func (t *memTx) UpdateDelivery(_ context.Context, d ledger.Delivery) error {
	if _, ok := t.st.deliveries[d.ID]; !ok {
		return missing("delivery", d.ID)
	}
	t.st.deliveries[d.ID] = d
	return nil
}

func (t *memTx) ListDeliveries(_ context.Context, document ledger.DocumentID) ([]ledger.Delivery, error) {
	var out []ledger.Delivery
	for _, id := range t.st.deliveryList {
		if d := t.st.deliveries[id]; d.DocumentID == document {
			out = append(out, d)
		}
	}
	return out, nil
}

func (t *memTx) InsertTransfer(_ context.Context, tr ledger.Transfer) error {
	t.st.transfers = append(t.st.transfers, tr)
	return nil
}

func (t *memTx) ListTransfers(_ context.Context, user ledger.UserID) ([]ledger.Transfer, error) {
	var out []ledger.Transfer
	for _, tr := range t.st.transfers {
		if tr.FromID == user || tr.ToID == user {
			out = append(out, tr)
		}
	}
	return out, nil
}

// =============================================================================
// CASH REGISTER
// =============================================================================

func (t *memTx) GetRegisterHead(_ context.Context) (ledger.RegisterHead, error) {
	return t.st.head, nil
}

func (t *memTx) LockRegisterHead(ctx context.Context) (ledger.RegisterHead, error) {
	return t.GetRegisterHead(ctx)
}

func (t *memTx) UpdateRegisterHead(_ context.Context, h ledger.RegisterHead) error {
	t.st.head = h
	return nil
}

func (t *memTx) InsertRegisterEntry(_ context.Context, e ledger.RegisterEntry) error {
	for _, other := range t.st.register {
		if other.Seq == e.Seq {
			return fmt.Errorf("memory: register seq %d already used", e.Seq)
		}
	}
	t.st.register[e.ID] = e
	return nil
}

func (t *memTx) GetRegisterEntry(_ context.Context, id ledger.RegisterEntryID) (*ledger.RegisterEntry, error) {
	e, ok := t.st.register[id]
	return ptr(e, ok), nil
}

func (t *memTx) UpdateRegisterEntry(_ context.Context, e ledger.RegisterEntry) error {
	if _, ok := t.st.register[e.ID]; !ok {
		return missing("register entry", e.ID)
	}
	t.st.register[e.ID] = e
	return nil
}

func (t *memTx) DeleteRegisterEntry(_ context.Context, id ledger.RegisterEntryID) error {
	if _, ok := t.st.register[id]; !ok {
		return missing("register entry", id)
	}
	delete(t.st.register, id)
	return nil
}

func (t *memTx) ListRegisterEntries(_ context.Context) ([]ledger.RegisterEntry, error) {
	out := slices.Collect(maps.Values(t.st.register))
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// =============================================================================
// FUND REQUESTS
// =============================================================================

func (t *memTx) LockFundRequest(_ context.Context, id ledger.FundRequestID) (*ledger.FundRequest, error) {
	r, ok := t.st.funds[id]
	return ptr(r, ok), nil
}

func (t *memTx) InsertFundRequest(_ context.Context, r ledger.FundRequest) error {
	if _, ok := t.st.funds[r.ID]; ok {
		return fmt.Errorf("memory: fund request %s already exists", r.ID)
	}
	t.st.funds[r.ID] = r
	t.st.fundOrder = append(t.st.fundOrder, r.ID)
	return nil
}

func (t *memTx) UpdateFundRequest(_ context.Context, r ledger.FundRequest) error {
	if _, ok := t.st.funds[r.ID]; !ok {
		return missing("fund request", r.ID)
	}
	t.st.funds[r.ID] = r
	return nil
}

func (t *memTx) ListFundRequests(_ context.Context, status ledger.FundRequestStatus) ([]ledger.FundRequest, error) {
	var out []ledger.FundRequest
	for _, id := range t.st.fundOrder {
		if r := t.st.funds[id]; status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

var _ ledger.Store = (*Memory)(nil)
var _ ledger.Tx = (*memTx)(nil)
