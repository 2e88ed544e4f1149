package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_List(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/scenarios", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]ScenarioDTO](t, rec)
	require.Len(t, list, 3)
	assert.Equal(t, "corner-shop", list[0].ID)
}

func TestScenarios_LoadCornerShop(t *testing.T) {
	// GIVEN: An empty ledger
	ts := newTestServer(t)

	// WHEN: Loading the corner shop
	rec := ts.do(http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "corner-shop"})

	// THEN: Its store exists with the week of history behind it
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[struct {
		Status string   `json:"status"`
		Store  StoreDTO `json:"store"`
	}](t, rec)
	assert.Equal(t, "loaded", body.Status)
	assert.Equal(t, "DEMO-CORNER-SHOP", body.Store.Code)

	rec = ts.do(http.MethodGet, fmt.Sprintf("/api/snapshots?store_id=%d&date=2025-03-04", body.Store.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snaps := decodeBody[[]SnapshotDTO](t, rec)
	require.Len(t, snaps, 3)
	var inbound int64
	for _, s := range snaps {
		inbound += s.Inbound.Case
	}
	assert.Equal(t, int64(6), inbound)

	rec = ts.do(http.MethodGet, fmt.Sprintf("/api/adjustments?store_id=%d&status=approved", body.Store.ID), nil)
	assert.Len(t, decodeBody[[]AdjustmentDTO](t, rec), 7)

	rec = ts.do(http.MethodGet, "/api/scenarios/loaded", nil)
	assert.Equal(t, []string{"corner-shop"}, decodeBody[[]string](t, rec))

	// AND: Loading it again collides on the store code
	rec = ts.do(http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "corner-shop"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestScenarios_AllLoadSideBySide(t *testing.T) {
	ts := newTestServer(t)

	for _, s := range scenarios {
		rec := ts.do(http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": s.ID})
		require.Equal(t, http.StatusOK, rec.Code, "%s: %s", s.ID, rec.Body.String())
	}

	// shared SKUs are created once
	rec := ts.do(http.MethodGet, "/api/products", nil)
	assert.Len(t, decodeBody[[]ProductDTO](t, rec), 3)

	rec = ts.do(http.MethodGet, "/api/stocktakes?status=draft", nil)
	assert.Len(t, decodeBody[[]StockTakeDTO](t, rec), 1)

	// the chat store answers on its channel
	rec = ts.do(http.MethodPost, "/api/channel/select", map[string]any{
		"channel_id": "demo-channel", "user_id": "u-1", "sku": "demo-water-600",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sel := decodeBody[SelectionDTO](t, rec)
	require.NotNil(t, sel.Balance)
	assert.Equal(t, int64(5), sel.Balance.QuantityCase)
}

func TestScenarios_UnknownAndDisabled(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "moon-base"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.handler.Scenarios = false
	router := NewRouter(ts.handler, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/scenarios", nil)
	out := httptest.NewRecorder()
	router.ServeHTTP(out, req)
	assert.Equal(t, http.StatusNotFound, out.Code)
}
