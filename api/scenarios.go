/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the ledger with realistic
	data for demos. Each scenario creates its own users and then drives
	the public Service operations, so everything it writes obeys the same
	rules as live traffic.

AVAILABLE SCENARIOS:

	supply-chain:   Reception settled in two payments, then a delivery note
	advance-escrow: Supplier advance confirmed and drawn against a document
	cash-register:  Register float, admin and vendor transfers, fund request
	oil-delivery:   Essential-oil reception paid on arrival, simple delivery

HOW SCENARIOS WORK:
 1. Create fresh users (generated ids, so a scenario can be loaded twice)
 2. Fund balances or the register
 3. Run the scenario's operations
 4. Return the ids of the records created

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "supply-chain"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add it to the loaders map

SEE ALSO:
  - handlers.go: Endpoint helpers
  - ledger/service.go: Operations the scenarios drive
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/supply-ledger/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "supply-chain",
		Name:        "Supply Chain",
		Description: "Collector settles a raw-material reception in two payments, then ships part of it to a distiller",
		Category:    "settlement",
	},
	{
		ID:          "advance-escrow",
		Name:        "Advance Escrow",
		Description: "Collector prepays a supplier, confirms arrival and draws the advance down against the reception",
		Category:    "escrow",
	},
	{
		ID:          "cash-register",
		Name:        "Cash Register",
		Description: "Opening float, admin payout to a vendor, vendor deposit back and an approved fund request",
		Category:    "register",
	},
	{
		ID:          "oil-delivery",
		Name:        "Oil Delivery",
		Description: "Essential-oil reception with no debt is stocked in at once and delivered",
		Category:    "delivery",
	},
}

type scenarioLoader func(h *Handler, ctx context.Context) (map[string]string, error)

var loaders = map[string]scenarioLoader{
	"supply-chain":   (*Handler).loadSupplyChainScenario,
	"advance-escrow": (*Handler).loadAdvanceEscrowScenario,
	"cash-register":  (*Handler).loadCashRegisterScenario,
	"oil-delivery":   (*Handler).loadOilDeliveryScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario runs a demo scenario against the ledger.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	meta, records, err := h.LoadScenarioByID(r.Context(), req.ScenarioID)
	if errors.Is(err, errUnknownScenario) {
		writeError(w, http.StatusNotFound, "Unknown scenario", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, ScenarioResultDTO{Scenario: meta, Records: records})
}

var errUnknownScenario = errors.New("unknown scenario")

// LoadScenarioByID runs a scenario outside a request, e.g. to seed a
// fresh server at startup.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) (ScenarioDTO, map[string]string, error) {
	var meta *ScenarioDTO
	for i := range scenarios {
		if scenarios[i].ID == id {
			meta = &scenarios[i]
			break
		}
	}
	load, ok := loaders[id]
	if meta == nil || !ok {
		return ScenarioDTO{}, nil, fmt.Errorf("%w: %q", errUnknownScenario, id)
	}

	records, err := load(h, ctx)
	if err != nil {
		h.Log.WithField("scenario", id).WithError(err).Error("scenario load failed")
		return ScenarioDTO{}, nil, err
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()

	h.Log.WithField("scenario", id).Info("scenario loaded")
	return *meta, records, nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadSupplyChainScenario(ctx context.Context) (map[string]string, error) {
	svc := h.Service
	users, err := h.createUsers(ctx, map[string]ledger.Role{
		"collector": ledger.RoleCollector,
		"distiller": ledger.RoleDistiller,
	})
	if err != nil {
		return nil, err
	}
	collector := users["collector"]

	if _, err := svc.Credit(ctx, collector.ID, dec("5000"), "opening balance"); err != nil {
		return nil, err
	}

	doc, err := svc.RegisterDocument(ctx, ledger.DocumentInput{
		Family:     ledger.FamilyRaw,
		Material:   ledger.MaterialFG,
		SupplierID: newSupplierID(),
		OwnerID:    collector.ID,
		NetWeight:  dec("100"),
		UnitPrice:  dec("10"),
	})
	if err != nil {
		return nil, err
	}

	first, err := svc.Settle(ctx, doc.ID, dec("600"), collector.ID)
	if err != nil {
		return nil, err
	}
	if _, err := svc.AddPayment(ctx, first.Settlement.ID, dec("400")); err != nil {
		return nil, err
	}

	actor := ledger.Actor{ID: collector.ID, Role: collector.Role}
	note, err := svc.StartPartialDelivery(ctx, actor, doc.ID, dec("40"), users["distiller"].ID)
	if err != nil {
		return nil, err
	}
	if _, _, err := svc.CompletePartialDelivery(ctx, note.ID, dec("30")); err != nil {
		return nil, err
	}

	return map[string]string{
		"collector":  string(collector.ID),
		"distiller":  string(users["distiller"].ID),
		"document":   string(doc.ID),
		"settlement": string(first.Settlement.ID),
		"delivery":   string(note.ID),
	}, nil
}

func (h *Handler) loadAdvanceEscrowScenario(ctx context.Context) (map[string]string, error) {
	svc := h.Service
	users, err := h.createUsers(ctx, map[string]ledger.Role{"collector": ledger.RoleCollector})
	if err != nil {
		return nil, err
	}
	collector := users["collector"]
	supplier := newSupplierID()

	if _, err := svc.Credit(ctx, collector.ID, dec("2000"), "opening balance"); err != nil {
		return nil, err
	}

	adv, err := svc.CreateAdvance(ctx, ledger.AdvanceInput{
		PayerID:       collector.ID,
		SupplierID:    supplier,
		Amount:        dec("500"),
		DeadlineHours: 48,
		Note:          "prepayment for next harvest",
	})
	if err != nil {
		return nil, err
	}
	if _, err := svc.ConfirmArrival(ctx, adv.ID); err != nil {
		return nil, err
	}

	doc, err := svc.RegisterDocument(ctx, ledger.DocumentInput{
		Family:     ledger.FamilyRaw,
		Material:   ledger.MaterialCG,
		SupplierID: supplier,
		OwnerID:    collector.ID,
		NetWeight:  dec("30"),
		UnitPrice:  dec("10"),
	})
	if err != nil {
		return nil, err
	}
	res, err := svc.Consume(ctx, adv.ID, dec("300"), doc.ID)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"collector":  string(collector.ID),
		"supplier":   string(supplier),
		"advance":    string(adv.ID),
		"document":   string(doc.ID),
		"settlement": string(res.Settlement.Settlement.ID),
	}, nil
}

func (h *Handler) loadCashRegisterScenario(ctx context.Context) (map[string]string, error) {
	svc := h.Service
	users, err := h.createUsers(ctx, map[string]ledger.Role{
		"admin":  ledger.RoleAdmin,
		"vendor": ledger.RoleVendor,
	})
	if err != nil {
		return nil, err
	}
	admin, vendor := users["admin"], users["vendor"]

	if _, err := svc.RecordRegisterEntry(ctx, ledger.RegisterInput{
		Type:   ledger.RegisterIncome,
		Amount: dec("1000"),
		Method: "cash",
		Reason: "opening float",
	}); err != nil {
		return nil, err
	}

	payout, err := svc.Transfer(ctx, ledger.TransferInput{
		FromID: admin.ID, ToID: vendor.ID, Amount: dec("200"), Method: "cash", Reason: "weekly float",
	})
	if err != nil {
		return nil, err
	}
	deposit, err := svc.Transfer(ctx, ledger.TransferInput{
		FromID: vendor.ID, ToID: admin.ID, Amount: dec("150"), Method: "cash", Reason: "sales deposit",
	})
	if err != nil {
		return nil, err
	}

	fr, err := svc.RequestFunds(ctx, vendor.ID, dec("100"), "market day")
	if err != nil {
		return nil, err
	}
	fr, _, err = svc.ApproveFundRequest(ctx, admin.ID, fr.ID, "approved")
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"admin":        string(admin.ID),
		"vendor":       string(vendor.ID),
		"payout":       string(payout.ID),
		"deposit":      string(deposit.ID),
		"fund_request": string(fr.ID),
	}, nil
}

func (h *Handler) loadOilDeliveryScenario(ctx context.Context) (map[string]string, error) {
	svc := h.Service
	users, err := h.createUsers(ctx, map[string]ledger.Role{
		"collector": ledger.RoleCollector,
		"distiller": ledger.RoleDistiller,
	})
	if err != nil {
		return nil, err
	}
	collector := users["collector"]

	doc, err := svc.RegisterDocument(ctx, ledger.DocumentInput{
		Family:     ledger.FamilyOil,
		Material:   ledger.MaterialHE,
		SupplierID: newSupplierID(),
		OwnerID:    collector.ID,
		NetWeight:  dec("12.5"),
		UnitPrice:  dec("80"),
		Debt:       decimal.NewNullDecimal(decimal.Zero),
	})
	if err != nil {
		return nil, err
	}

	if _, err := svc.StockIn(ctx, ledger.MaterialHE, ledger.GlobalOwner(), dec("20")); err != nil {
		return nil, err
	}

	d, err := svc.CreateDelivery(ctx, ledger.Actor{ID: collector.ID, Role: collector.Role}, ledger.DeliveryInput{
		Material:    ledger.MaterialHE,
		Owner:       ledger.OwnedBy(collector.ID),
		Quantity:    dec("5"),
		RecipientID: users["distiller"].ID,
	})
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"collector": string(collector.ID),
		"distiller": string(users["distiller"].ID),
		"document":  string(doc.ID),
		"delivery":  string(d.ID),
	}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) createUsers(ctx context.Context, roles map[string]ledger.Role) (map[string]ledger.User, error) {
	out := make(map[string]ledger.User, len(roles))
	for name, role := range roles {
		u, err := h.Service.CreateUser(ctx, ledger.User{Name: name, Role: role})
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", name, err)
		}
		out[name] = u
	}
	return out, nil
}

func newSupplierID() ledger.SupplierID {
	return ledger.SupplierID("supplier-" + uuid.NewString()[:8])
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
