/*
scenarios_test.go - Tests for demo scenario loaders

Each scenario must load cleanly on an empty ledger, and loading it twice
must not collide with the records of the first load.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/supply-ledger/ledger"
)

func TestScenarios_AllLoadTwice(t *testing.T) {
	for _, sc := range scenarios {
		t.Run(sc.ID, func(t *testing.T) {
			api := newTestAPI(t)

			for i := 0; i < 2; i++ {
				rec := api.do(http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: sc.ID})
				require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
				res := decodeBody[ScenarioResultDTO](t, rec)
				assert.Equal(t, sc.ID, res.Scenario.ID)
				assert.NotEmpty(t, res.Records)
			}

			rec := api.do(http.MethodGet, "/api/scenarios/current", "", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, sc.ID, decodeBody[ScenarioDTO](t, rec).ID)
		})
	}
}

func TestScenarios_UnknownID(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "nope"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScenarios_EveryListedScenarioHasLoader(t *testing.T) {
	for _, sc := range scenarios {
		_, ok := loaders[sc.ID]
		assert.True(t, ok, sc.ID)
	}
	assert.Len(t, loaders, len(scenarios))
}

func TestSupplyChainScenario_State(t *testing.T) {
	api := newTestAPI(t)
	h := NewHandler(api.svc, discardLogger())
	ctx := context.Background()

	// WHEN: Loading the supply-chain scenario
	records, err := h.loadSupplyChainScenario(ctx)
	require.NoError(t, err)

	// THEN: The collector paid 1000 out of 5000
	bal, err := api.svc.Balance(ctx, ledger.UserID(records["collector"]))
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(4000)), bal.String())

	// AND: 30 of 100 were delivered, 70 remain in the collector's pool
	doc, err := api.svc.GetDocument(ctx, ledger.DocumentID(records["document"]))
	require.NoError(t, err)
	assert.Equal(t, ledger.DocPartiallyDelivered, doc.Status)
	assert.True(t, doc.RemainingQuantity.Equal(decimal.NewFromInt(70)))

	entries, err := api.svc.Entries(ctx, ledger.MaterialFG)
	require.NoError(t, err)
	var own decimal.Decimal
	for _, e := range entries {
		if id, ok := e.Owner.User(); ok && id == ledger.UserID(records["collector"]) {
			own = e.Available
		}
	}
	assert.True(t, own.Equal(decimal.NewFromInt(70)), own.String())

	// AND: The collector's view adds the 100 held in the global pool
	avail, err := api.svc.AvailableFor(ctx, ledger.MaterialFG, ledger.UserID(records["collector"]))
	require.NoError(t, err)
	assert.True(t, avail.Equal(decimal.NewFromInt(170)), avail.String())
}

func TestCashRegisterScenario_State(t *testing.T) {
	api := newTestAPI(t)
	h := NewHandler(api.svc, discardLogger())
	ctx := context.Background()

	_, err := h.loadCashRegisterScenario(ctx)
	require.NoError(t, err)

	// 1000 float - 200 payout + 150 deposit - 100 fund request
	reg, err := api.svc.RegisterBalance(ctx)
	require.NoError(t, err)
	assert.True(t, reg.Equal(decimal.NewFromInt(850)), reg.String())
}
