/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the ledger with realistic
	data for demos. Each scenario creates its own store, products and
	movements through the same ledger calls the API uses, so balances,
	snapshots and the audit log are all consistent.

AVAILABLE SCENARIOS:

	corner-shop:      one store, three products, a week of backdated history
	month-end-count:  stocked store with a draft stock take showing shrinkage
	chat-channel:     store bound to a chat channel, ready for bot submissions

HOW SCENARIOS WORK:
 1. Create a store coded DEMO-<SCENARIO>
 2. Create the scenario's products (shared SKUs are reused)
 3. Post movements for today
 4. Backfill earlier days with approved adjustments

	Loading the same scenario twice fails with 409 because the store code
	already exists. Nothing is reset or deleted.

USAGE VIA API:

	GET  /api/scenarios
	POST /api/scenarios/load
	{"scenario_id": "corner-shop"}

NOTE:

	Routes are mounted only when ENABLE_SCENARIOS is set. Only use in
	development/demo environments.

SEE ALSO:
  - server.go: route registration
  - handlers.go: Handler
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "corner-shop",
		Name:        "Corner Shop",
		Description: "Three products with a week of receipts and sales, backfilled by adjustments",
		Category:    "movements",
	},
	{
		ID:          "month-end-count",
		Name:        "Month-End Count",
		Description: "Stocked store with a draft stock take that finds shrinkage",
		Category:    "workflows",
	},
	{
		ID:          "chat-channel",
		Name:        "Chat Channel",
		Description: "Store bound to channel demo-channel for bot submissions",
		Category:    "channel",
	},
}

// scenarioOperator signs every write a scenario makes.
var scenarioOperator = ledger.Operator{ID: "scenario", Name: "Scenario Loader", Role: ledger.RoleAdmin}

// scenarioState remembers the scenarios loaded by this process.
type scenarioState struct {
	mu     sync.Mutex
	loaded []string
}

func (s *scenarioState) add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = append(s.loaded, id)
}

func (s *scenarioState) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.loaded...)
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadedScenarios returns the scenario IDs loaded since startup.
func (h *Handler) LoadedScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scenarios.list())
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	var (
		store *ledger.Store
		err   error
	)
	switch req.ScenarioID {
	case "corner-shop":
		store, err = h.loadCornerShop(ctx)
	case "month-end-count":
		store, err = h.loadMonthEndCount(ctx)
	case "chat-channel":
		store, err = h.loadChatChannel(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}
	if err != nil {
		h.fail(w, r, fmt.Errorf("load scenario %s: %w", req.ScenarioID, err))
		return
	}

	h.scenarios.add(req.ScenarioID)
	h.Log.WithField("scenario", req.ScenarioID).WithField("store_id", store.ID).Info("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "loaded",
		"scenario": req.ScenarioID,
		"store":    toStoreDTO(*store),
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

type demoProduct struct {
	sku          string
	name         string
	unitsPerCase int64
	safetyCase   int64
}

var demoProducts = []demoProduct{
	{"DEMO-COLA-330", "Cola 330ml", 24, 2},
	{"DEMO-WATER-600", "Water 600ml", 12, 3},
	{"DEMO-CHIPS-50", "Potato Chips 50g", 30, 1},
}

func (h *Handler) loadCornerShop(ctx context.Context) (*ledger.Store, error) {
	store, products, err := h.demoStore(ctx, "corner-shop", "Corner Shop", "")
	if err != nil {
		return nil, err
	}
	cola, water, chips := products[0], products[1], products[2]

	// Today's trading
	if err := h.demoInbound(ctx, store, cola, 10, 12, "180.00", "8.00"); err != nil {
		return nil, err
	}
	if err := h.demoInbound(ctx, store, water, 6, 0, "60.00", ""); err != nil {
		return nil, err
	}
	if err := h.demoInbound(ctx, store, chips, 2, 15, "240.00", "9.50"); err != nil {
		return nil, err
	}
	if err := h.demoOutbound(ctx, store, cola, 3, 5); err != nil {
		return nil, err
	}
	if err := h.demoOutbound(ctx, store, water, 4, 0); err != nil {
		return nil, err
	}

	// The previous week, recorded late
	today := h.Ledger.Calendar.Today()
	for days := 6; days >= 1; days-- {
		date := today.AddDays(-days)
		if err := h.demoAdjustment(ctx, store, ledger.AdjustMakeUpInbound, date, "late delivery note",
			ledger.AdjustmentItem{
				ProductID:    cola.ID,
				QuantityCase: int64(days),
				UnitCostCase: decimal.NewNullDecimal(decimal.RequireFromString("175.00").Add(decimal.NewFromInt(int64(days)))),
			}); err != nil {
			return nil, err
		}
	}
	err = h.demoAdjustment(ctx, store, ledger.AdjustConversion, today, "broke cases for the fridge",
		ledger.AdjustmentItem{ProductID: cola.ID, Conversion: ledger.Conversion{FromCase: 1, ToUnit: cola.UnitsPerCase}})
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (h *Handler) loadMonthEndCount(ctx context.Context) (*ledger.Store, error) {
	store, products, err := h.demoStore(ctx, "month-end-count", "Month-End Count", "")
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		if err := h.demoInbound(ctx, store, p, 8, 10, "100.00", "5.00"); err != nil {
			return nil, err
		}
	}

	// Shelves come up short on two products and over on one
	_, err = h.StockTakes.Create(ctx, ledger.CreateStockTakeRequest{
		StoreID: store.ID,
		Lines: []ledger.CountLine{
			{ProductID: products[0].ID, ActualCase: 7, ActualUnit: 10, Note: "one case missing"},
			{ProductID: products[1].ID, ActualCase: 8, ActualUnit: 6},
			{ProductID: products[2].ID, ActualCase: 9, ActualUnit: 10, Note: "unrecorded delivery"},
		},
		Operator: scenarioOperator,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (h *Handler) loadChatChannel(ctx context.Context) (*ledger.Store, error) {
	store, products, err := h.demoStore(ctx, "chat-channel", "Chat Channel Store", "demo-channel")
	if err != nil {
		return nil, err
	}
	for _, p := range products[:2] {
		if err := h.demoInbound(ctx, store, p, 5, 0, "120.00", ""); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// =============================================================================
// SCENARIO HELPERS
// =============================================================================

// demoStore creates the scenario's store and makes sure the demo products
// exist, reusing any a previous scenario created.
func (h *Handler) demoStore(ctx context.Context, id, name, channelID string) (*ledger.Store, []*ledger.Product, error) {
	store, err := h.Catalog.CreateStore(ctx, ledger.StoreInput{
		Code:      "DEMO-" + strings.ToUpper(id),
		Name:      name,
		ChannelID: channelID,
	}, scenarioOperator)
	if err != nil {
		return nil, nil, err
	}

	products := make([]*ledger.Product, 0, len(demoProducts))
	for _, dp := range demoProducts {
		p, err := h.Catalog.FindProductBySKU(ctx, dp.sku)
		if errors.Is(err, ledger.ErrProductNotFound) {
			p, err = h.Catalog.CreateProduct(ctx, ledger.ProductInput{
				SKU:             dp.sku,
				Name:            dp.name,
				UnitsPerCase:    dp.unitsPerCase,
				SafetyStockCase: dp.safetyCase,
			}, scenarioOperator)
		}
		if err != nil {
			return nil, nil, err
		}
		products = append(products, p)
	}
	return store, products, nil
}

func (h *Handler) demoInbound(ctx context.Context, s *ledger.Store, p *ledger.Product, qtyCase, qtyUnit int64, costCase, costUnit string) error {
	_, err := h.Ledger.Inbound(ctx, ledger.MovementRequest{
		StoreID:      s.ID,
		ProductID:    p.ID,
		QuantityCase: qtyCase,
		QuantityUnit: qtyUnit,
		UnitCostCase: demoCost(costCase),
		UnitCostUnit: demoCost(costUnit),
		Source:       ledger.SourceSystem,
		Operator:     scenarioOperator,
		Note:         "demo receipt",
	})
	return err
}

func (h *Handler) demoOutbound(ctx context.Context, s *ledger.Store, p *ledger.Product, qtyCase, qtyUnit int64) error {
	_, err := h.Ledger.Outbound(ctx, ledger.MovementRequest{
		StoreID:      s.ID,
		ProductID:    p.ID,
		QuantityCase: qtyCase,
		QuantityUnit: qtyUnit,
		Source:       ledger.SourceSystem,
		Operator:     scenarioOperator,
		Note:         "demo sale",
	})
	return err
}

// demoAdjustment creates and immediately approves one adjustment.
func (h *Handler) demoAdjustment(ctx context.Context, s *ledger.Store, typ ledger.AdjustmentType, date ledger.Date, reason string, items ...ledger.AdjustmentItem) error {
	a, err := h.Adjustments.Create(ctx, ledger.CreateAdjustmentRequest{
		StoreID:        s.ID,
		Type:           typ,
		AdjustmentDate: date,
		Reason:         reason,
		Items:          items,
		Operator:       scenarioOperator,
	})
	if err != nil {
		return err
	}
	_, err = h.Adjustments.Approve(ctx, a.ID, scenarioOperator)
	return err
}

func demoCost(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	return decimal.RequireFromString(s)
}
