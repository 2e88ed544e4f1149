/*
handlers.go - HTTP API handlers for the stock ledger

PURPOSE:
  Exposes the ledger, workflows, catalog and reports via REST. Handles HTTP
  request/response and JSON, and delegates every rule to package ledger.

ENDPOINTS:
  Master data:
    GET    /api/stores                      List stores (?all=true for inactive)
    POST   /api/stores                      Create store
    GET    /api/stores/{id}                 Get store
    PUT    /api/stores/{id}                 Update store
    DELETE /api/stores/{id}                 Deactivate store
    GET    /api/stores/{id}/balances        Balances in a store
    GET    /api/stores/{id}/low-stock       Products at or below safety stock
    GET    /api/low-stock                   Same, ?store_id optional (all stores)
    GET    /api/products ...                Same shape as stores, ?q= name search
    GET    /api/products/sku/{sku}          Lookup by SKU
    GET    /api/products/barcode/{code}     Lookup by barcode

  Movements:
    POST   /api/movements/inbound           Receive stock
    POST   /api/movements/outbound          Issue stock
    GET    /api/transactions                Filter by store/product/date range
    GET    /api/transactions/recent         Newest rows across stores
    POST   /api/transactions/{id}/cancel    Reverse a row from today

  Workflows:
    /api/adjustments                        create/list/get/approve/reject
    /api/stocktakes                         create/list/get/complete

  Reports:
    GET    /api/snapshots                   ?store_id&date
    POST   /api/snapshots/recompute         Rebuild from a date through today
    GET    /api/exports/workbook            ?store_id&from&to, xlsx download
    GET    /api/audit                       ?table&record_id&limit

REQUEST FLOW:
  1. Decode JSON body, check validator tags
  2. Read operator identity from X-Operator-* headers
  3. Call the ledger
  4. Serialize response, or map the error to a status

ERROR HANDLING:
  - 400: Validation errors, malformed JSON
  - 404: Record not found
  - 409: Concurrent modification (retry), duplicate key
  - 422: Ledger rule rejected the operation
  - 503: Storage unavailable
  - 500: Anything else

SECURITY NOTE:
  No authentication. The operator headers are recorded as given; the
  deployment in front of this server is expected to set them.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/warp/stock-ledger/channel"
	"github.com/warp/stock-ledger/export"
	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether the durable store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger      *ledger.Ledger
	Adjustments *ledger.AdjustmentWorkflow
	StockTakes  *ledger.StockTakeWorkflow
	Catalog     *ledger.Catalog
	Rollup      *ledger.SnapshotRollup
	Workbook    *export.Workbook
	Channel     *channel.Adapter // nil disables /api/channel
	Scenarios   bool             // mounts /api/scenarios
	Store       Pinger
	Log         logrus.FieldLogger

	scenarios scenarioState
}

// NewHandler wires handlers around one ledger. Workflows, catalog, rollup
// and workbook are derived from it.
func NewHandler(l *ledger.Ledger, catalog *ledger.Catalog, store Pinger, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		Ledger:      l,
		Adjustments: &ledger.AdjustmentWorkflow{Ledger: l},
		StockTakes:  &ledger.StockTakeWorkflow{Ledger: l},
		Catalog:     catalog,
		Rollup:      l.Rollup,
		Workbook:    &export.Workbook{Snapshots: l.Rollup, Catalog: catalog},
		Store:       store,
		Log:         log.WithField("component", "api"),
	}
}

// operatorFrom reads the caller's identity from request headers.
func operatorFrom(r *http.Request) ledger.Operator {
	op := ledger.Operator{
		ID:   r.Header.Get("X-Operator-ID"),
		Name: r.Header.Get("X-Operator-Name"),
		Role: ledger.Role(r.Header.Get("X-Operator-Role")),
	}
	if op.Name == "" {
		op.Name = op.ID
	}
	if op.Role == "" {
		op.Role = ledger.RoleUser
	}
	return op
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			h.Log.WithError(err).Warn("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"today":  h.Ledger.Calendar.Today().String(),
	})
}

// =============================================================================
// STORE HANDLERS
// =============================================================================

func (h *Handler) ListStores(w http.ResponseWriter, r *http.Request) {
	stores, err := h.Catalog.ListStores(r.Context(), queryBool(r, "all"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]StoreDTO, len(stores))
	for i, s := range stores {
		dtos[i] = toStoreDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateStore(w http.ResponseWriter, r *http.Request) {
	var req StoreRequest
	if !h.decode(w, r, &req) {
		return
	}
	s, err := h.Catalog.CreateStore(r.Context(), req.input(), operatorFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStoreDTO(*s))
}

func (h *Handler) GetStore(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	s, err := h.Catalog.GetStore(r.Context(), ledger.StoreID(id))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStoreDTO(*s))
}

func (h *Handler) UpdateStore(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req StoreRequest
	if !h.decode(w, r, &req) {
		return
	}
	s, err := h.Catalog.UpdateStore(r.Context(), ledger.StoreID(id), req.input(), operatorFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStoreDTO(*s))
}

func (h *Handler) DeactivateStore(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	s, err := h.Catalog.DeactivateStore(r.Context(), ledger.StoreID(id), operatorFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStoreDTO(*s))
}

// ListStoreBalances returns every balance row of a store.
func (h *Handler) ListStoreBalances(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	balances, err := h.Ledger.ListBalances(r.Context(), ledger.StoreID(id))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]BalanceDTO, len(balances))
	for i, b := range balances {
		dtos[i] = toBalanceDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) LowStock(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	h.writeLowStock(w, r, ledger.StoreID(id))
}

// LowStockAll lists low stock in one store when store_id is given and in
// every active store otherwise.
func (h *Handler) LowStockAll(w http.ResponseWriter, r *http.Request) {
	storeID, err := queryStoreID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeLowStock(w, r, storeID)
}

func (h *Handler) writeLowStock(w http.ResponseWriter, r *http.Request, storeID ledger.StoreID) {
	items, err := h.Ledger.LowStock(r.Context(), storeID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]LowStockDTO, len(items))
	for i, it := range items {
		dtos[i] = LowStockDTO{Balance: toBalanceDTO(it.Balance), Product: toProductDTO(it.Product)}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetBalance returns one (store, product) balance. A key no movement has
// touched yet reports zeros.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	storeID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || productID <= 0 {
		h.fail(w, r, &ledger.ValidationError{Field: "product_id", Reason: "must be a positive integer"})
		return
	}
	b, err := h.Ledger.GetBalance(r.Context(), ledger.StoreID(storeID), ledger.ProductID(productID))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if b == nil {
		b = &ledger.Balance{StoreID: ledger.StoreID(storeID), ProductID: ledger.ProductID(productID)}
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(*b))
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

// ListProducts lists products, or searches active ones by name when q is
// given.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	var (
		products []ledger.Product
		err      error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		var limit int64
		if limit, err = queryInt(r, "limit"); err == nil {
			products, err = h.Catalog.SearchProducts(r.Context(), q, int(limit))
		}
	} else {
		products, err = h.Catalog.ListProducts(r.Context(), queryBool(r, "all"))
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.Catalog.CreateProduct(r.Context(), req.input(), operatorFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(*p))
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	p, err := h.Catalog.GetProduct(r.Context(), ledger.ProductID(id))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*p))
}

// GetProductBySKU looks a product up by SKU in any letter case.
func (h *Handler) GetProductBySKU(w http.ResponseWriter, r *http.Request) {
	p, err := h.Catalog.FindProductBySKU(r.Context(), chi.URLParam(r, "sku"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*p))
}

func (h *Handler) GetProductByBarcode(w http.ResponseWriter, r *http.Request) {
	p, err := h.Catalog.FindProductByBarcode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*p))
}

func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req ProductRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.Catalog.UpdateProduct(r.Context(), ledger.ProductID(id), req.input(), operatorFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*p))
}

func (h *Handler) DeactivateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	p, err := h.Catalog.DeactivateProduct(r.Context(), ledger.ProductID(id), operatorFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*p))
}

// =============================================================================
// MOVEMENT & TRANSACTION HANDLERS
// =============================================================================

func (h *Handler) Inbound(w http.ResponseWriter, r *http.Request) {
	h.postMovement(w, r, h.Ledger.Inbound)
}

func (h *Handler) Outbound(w http.ResponseWriter, r *http.Request) {
	h.postMovement(w, r, h.Ledger.Outbound)
}

func (h *Handler) postMovement(w http.ResponseWriter, r *http.Request, post func(context.Context, ledger.MovementRequest) (*ledger.Transaction, error)) {
	var req MovementRequest
	if !h.decode(w, r, &req) {
		return
	}
	tx, err := post(r.Context(), ledger.MovementRequest{
		StoreID:      ledger.StoreID(req.StoreID),
		ProductID:    ledger.ProductID(req.ProductID),
		QuantityCase: req.QuantityCase,
		QuantityUnit: req.QuantityUnit,
		UnitCostCase: req.UnitCostCase,
		UnitCostUnit: req.UnitCostUnit,
		Source:       ledger.SourceWeb,
		Operator:     operatorFrom(r),
		Note:         req.Note,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(*tx))
}

// ListTransactions filters by store_id, product_id, from, to and limit.
// Cancelled rows are included unless ?active=true.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter := ledger.TransactionFilter{IncludeCancelled: !queryBool(r, "active"), Newest: true}
	var err error
	if filter.StoreID, err = queryStoreID(r); err != nil {
		h.fail(w, r, err)
		return
	}
	pid, err := queryInt(r, "product_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter.ProductID = ledger.ProductID(pid)
	if filter.From, err = queryDate(r, "from"); err != nil {
		h.fail(w, r, err)
		return
	}
	if filter.To, err = queryDate(r, "to"); err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter.Limit = int(limit)
	if t := r.URL.Query().Get("type"); t != "" {
		typ := ledger.TransactionType(t)
		if !typ.Valid() {
			h.fail(w, r, &ledger.ValidationError{Field: "type", Reason: "is not a known transaction type"})
			return
		}
		filter.Types = []ledger.TransactionType{typ}
	}

	txs, err := h.Ledger.ListTransactions(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

func (h *Handler) RecentTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	txs, err := h.Ledger.RecentTransactions(r.Context(), int(limit))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	tx, err := h.Ledger.GetTransaction(r.Context(), ledger.TransactionID(id))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

// CancelTransaction reverses a row. The response is the new cancel row.
func (h *Handler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	cancel, err := h.Ledger.CancelTransaction(r.Context(), ledger.TransactionID(id), operatorFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*cancel))
}

// =============================================================================
// ADJUSTMENT HANDLERS
// =============================================================================

func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req CreateAdjustmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.Adjustments.Create(r.Context(), req.toLedger(operatorFrom(r)))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAdjustmentDTO(*a))
}

func (h *Handler) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	storeID, err := queryStoreID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.Adjustments.List(r.Context(), ledger.AdjustmentFilter{
		StoreID: storeID,
		Status:  ledger.AdjustmentStatus(r.URL.Query().Get("status")),
		Limit:   int(limit),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]AdjustmentDTO, len(list))
	for i, a := range list {
		dtos[i] = toAdjustmentDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetAdjustment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	a, err := h.Adjustments.Get(r.Context(), ledger.AdjustmentID(id))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdjustmentDTO(*a))
}

func (h *Handler) ApproveAdjustment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	a, err := h.Adjustments.Approve(r.Context(), ledger.AdjustmentID(id), operatorFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdjustmentDTO(*a))
}

func (h *Handler) RejectAdjustment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req RejectRequest
	// the body is optional
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	a, err := h.Adjustments.Reject(r.Context(), ledger.AdjustmentID(id), operatorFrom(r), req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdjustmentDTO(*a))
}

// =============================================================================
// STOCK TAKE HANDLERS
// =============================================================================

func (h *Handler) CreateStockTake(w http.ResponseWriter, r *http.Request) {
	var req CreateStockTakeRequest
	if !h.decode(w, r, &req) {
		return
	}
	st, err := h.StockTakes.Create(r.Context(), req.toLedger(operatorFrom(r)))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStockTakeDTO(*st))
}

func (h *Handler) ListStockTakes(w http.ResponseWriter, r *http.Request) {
	storeID, err := queryStoreID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	list, err := h.StockTakes.List(r.Context(), ledger.StockTakeFilter{
		StoreID: storeID,
		Status:  ledger.StockTakeStatus(q.Get("status")),
		Month:   q.Get("month"),
		Limit:   int(limit),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]StockTakeDTO, len(list))
	for i, st := range list {
		dtos[i] = toStockTakeDTO(st)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetStockTake(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	st, err := h.StockTakes.Get(r.Context(), ledger.StockTakeID(id))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockTakeDTO(*st))
}

func (h *Handler) CompleteStockTake(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	st, err := h.StockTakes.Complete(r.Context(), ledger.StockTakeID(id), operatorFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockTakeDTO(*st))
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// ListSnapshots returns the stored daily snapshots of one store. The date
// defaults to today's business date.
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	storeID, err := requiredStoreID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	date, err := queryDate(r, "date")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if date.IsZero() {
		date = h.Ledger.Calendar.Today()
	}
	snaps, err := h.Rollup.SnapshotsByDate(r.Context(), storeID, date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]SnapshotDTO, len(snaps))
	for i, s := range snaps {
		dtos[i] = toSnapshotDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RecomputeSnapshots rebuilds a store's snapshots from ?from through today.
func (h *Handler) RecomputeSnapshots(w http.ResponseWriter, r *http.Request) {
	storeID, err := requiredStoreID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	from, err := queryDate(r, "from")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	today := h.Ledger.Calendar.Today()
	if from.IsZero() {
		from = today
	}
	if from.After(today) {
		h.fail(w, r, &ledger.ValidationError{Field: "from", Reason: "must not be after today's business date"})
		return
	}
	if _, err := h.Catalog.GetStore(r.Context(), storeID); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Rollup.RetroactiveRecompute(r.Context(), from, storeID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"store_id": storeID,
		"from":     from,
		"to":       today,
	})
}

// ExportWorkbook streams an xlsx workbook with one MMDD sheet per day.
// from defaults to the first of the current month and to defaults to today.
func (h *Handler) ExportWorkbook(w http.ResponseWriter, r *http.Request) {
	storeID, err := requiredStoreID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	today := h.Ledger.Calendar.Today()
	from, err := queryDate(r, "from")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	to, err := queryDate(r, "to")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if to.IsZero() {
		to = today
	}
	if from.IsZero() {
		from = ledger.NewDate(to.Year(), to.Month(), 1)
	}
	if len(from.DaysThrough(to)) > 366 {
		h.fail(w, r, &ledger.ValidationError{Field: "from", Reason: "range must not exceed 366 days"})
		return
	}

	f, err := h.Workbook.Build(r.Context(), storeID, from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="store-%d-%s-%s.xlsx"`, storeID, from, to))
	w.WriteHeader(http.StatusOK)
	if err := f.Write(w); err != nil {
		// headers are gone; all we can do is log
		h.Log.WithError(err).WithField("store_id", storeID).Error("write workbook")
	}
}

func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	recordID, err := queryInt(r, "record_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entries, err := h.Catalog.AuditTrail(r.Context(), ledger.AuditFilter{
		Table:    r.URL.Query().Get("table"),
		RecordID: recordID,
		Limit:    int(limit),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]AuditDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// CHAT CHANNEL HANDLERS
// =============================================================================

func (h *Handler) ChannelSelect(w http.ResponseWriter, r *http.Request) {
	var req ChannelSelectRequest
	if !h.decode(w, r, &req) {
		return
	}
	sel, err := h.Channel.Select(r.Context(), channel.Sender{
		ChannelID: req.ChannelID,
		UserID:    req.UserID,
		UserName:  req.UserName,
	}, req.SKU)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSelectionDTO(*sel))
}

// ChannelSearch finds products by name for a chat user. A single match is
// selected for them.
func (h *Handler) ChannelSearch(w http.ResponseWriter, r *http.Request) {
	var req ChannelSearchRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Channel.Search(r.Context(), channel.Sender{
		ChannelID: req.ChannelID,
		UserID:    req.UserID,
		UserName:  req.UserName,
	}, req.Keyword)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dto := ChannelSearchDTO{Matches: make([]ProductDTO, len(res.Matches))}
	for i, p := range res.Matches {
		dto.Matches[i] = toProductDTO(p)
	}
	if res.Selection != nil {
		sel := toSelectionDTO(*res.Selection)
		dto.Selection = &sel
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) ChannelInbound(w http.ResponseWriter, r *http.Request) {
	h.channelMovement(w, r, h.Channel.Inbound)
}

func (h *Handler) ChannelOutbound(w http.ResponseWriter, r *http.Request) {
	h.channelMovement(w, r, h.Channel.Outbound)
}

func (h *Handler) channelMovement(w http.ResponseWriter, r *http.Request, submit func(context.Context, channel.Submission) (*ledger.Transaction, error)) {
	var req ChannelMovementRequest
	if !h.decode(w, r, &req) {
		return
	}
	tx, err := submit(r.Context(), channel.Submission{
		Sender: channel.Sender{
			ChannelID: req.ChannelID,
			UserID:    req.UserID,
			UserName:  req.UserName,
		},
		SKU:          req.SKU,
		QuantityCase: req.QuantityCase,
		QuantityUnit: req.QuantityUnit,
		UnitCostCase: req.UnitCostCase,
		UnitCostUnit: req.UnitCostUnit,
		Note:         req.Note,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(*tx))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
		resp.Code = ledger.ReasonCode(err)
	}
	writeJSON(w, status, resp)
}

// statusFor maps a ledger error to an HTTP status.
func statusFor(err error) int {
	switch {
	case ledger.IsValidation(err):
		return http.StatusBadRequest
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case ledger.IsRetryable(err), errors.Is(err, ledger.ErrDuplicate):
		return http.StatusConflict
	case ledger.IsBusinessRule(err):
		return http.StatusUnprocessableEntity
	case ledger.IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Server-side failures are logged
// and their details withheld from the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Log.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
		}).WithError(err).Error("request failed")
		writeJSON(w, status, ErrorResponse{Error: http.StatusText(status), Code: ledger.ReasonCode(err)})
		return
	}
	writeError(w, status, http.StatusText(status), err)
}

// decode reads a JSON body into dst and checks its validator tags. It
// writes the 400 response itself and reports false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	fields, err := validateStruct(dst)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Validation failed",
			Code:    ledger.ReasonCode(err),
			Details: err.Error(),
			Fields:  fields,
		})
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid id", &ledger.ValidationError{Field: "id", Reason: "must be a positive integer"})
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string) (int64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, &ledger.ValidationError{Field: key, Reason: "must be a non-negative integer"}
	}
	return n, nil
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}

func queryDate(r *http.Request, key string) (ledger.Date, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return ledger.Date{}, nil
	}
	d, err := ledger.ParseDate(v)
	if err != nil {
		return ledger.Date{}, &ledger.ValidationError{Field: key, Reason: "must be YYYY-MM-DD"}
	}
	return d, nil
}

func queryStoreID(r *http.Request) (ledger.StoreID, error) {
	n, err := queryInt(r, "store_id")
	return ledger.StoreID(n), err
}

func requiredStoreID(r *http.Request) (ledger.StoreID, error) {
	id, err := queryStoreID(r)
	if err == nil && id == 0 {
		err = &ledger.ValidationError{Field: "store_id", Reason: "is required"}
	}
	return id, err
}
