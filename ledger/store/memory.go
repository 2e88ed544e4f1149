// Package store provides an in-memory ledger.TxRepository.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements ledger.TxRepository. Every method takes the lock and
// delegates to a view over the shared data; WithTx hands fn the same view
// while holding the write lock for the whole closure.
type Memory struct {
	mu   sync.RWMutex
	data *memoryData
}

type balanceKey struct {
	StoreID   ledger.StoreID
	ProductID ledger.ProductID
}

type snapshotKey struct {
	StoreID   ledger.StoreID
	ProductID ledger.ProductID
	Date      string
}

type memoryData struct {
	stores       map[ledger.StoreID]ledger.Store
	products     map[ledger.ProductID]ledger.Product
	balances     map[balanceKey]ledger.Balance
	transactions []ledger.Transaction // index = id-1
	adjustments  map[ledger.AdjustmentID]ledger.Adjustment
	stockTakes   map[ledger.StockTakeID]ledger.StockTake
	snapshots    map[snapshotKey]ledger.Snapshot
	audit        []ledger.AuditEntry

	nextStore, nextProduct, nextAdjustment, nextStockTake, nextItem int64
}

func NewMemory() *Memory {
	return &Memory{data: &memoryData{
		stores:      make(map[ledger.StoreID]ledger.Store),
		products:    make(map[ledger.ProductID]ledger.Product),
		balances:    make(map[balanceKey]ledger.Balance),
		adjustments: make(map[ledger.AdjustmentID]ledger.Adjustment),
		stockTakes:  make(map[ledger.StockTakeID]ledger.StockTake),
		snapshots:   make(map[snapshotKey]ledger.Snapshot),
	}}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := m.data.clone()
	if err := fn(&view{d: m.data}); err != nil {
		m.data = saved
		return err
	}
	return nil
}

func (m *Memory) read() *view {
	return &view{d: m.data}
}

func (d *memoryData) clone() *memoryData {
	c := *d
	c.stores = make(map[ledger.StoreID]ledger.Store, len(d.stores))
	for k, v := range d.stores {
		c.stores[k] = v
	}
	c.products = make(map[ledger.ProductID]ledger.Product, len(d.products))
	for k, v := range d.products {
		c.products[k] = v
	}
	c.balances = make(map[balanceKey]ledger.Balance, len(d.balances))
	for k, v := range d.balances {
		c.balances[k] = v
	}
	c.transactions = append([]ledger.Transaction(nil), d.transactions...)
	c.adjustments = make(map[ledger.AdjustmentID]ledger.Adjustment, len(d.adjustments))
	for k, v := range d.adjustments {
		c.adjustments[k] = cloneAdjustment(v)
	}
	c.stockTakes = make(map[ledger.StockTakeID]ledger.StockTake, len(d.stockTakes))
	for k, v := range d.stockTakes {
		c.stockTakes[k] = cloneStockTake(v)
	}
	c.snapshots = make(map[snapshotKey]ledger.Snapshot, len(d.snapshots))
	for k, v := range d.snapshots {
		c.snapshots[k] = v
	}
	c.audit = append([]ledger.AuditEntry(nil), d.audit...)
	return &c
}

func cloneAdjustment(a ledger.Adjustment) ledger.Adjustment {
	a.Items = append([]ledger.AdjustmentItem(nil), a.Items...)
	return a
}

func cloneStockTake(st ledger.StockTake) ledger.StockTake {
	st.Items = append([]ledger.StockTakeItem(nil), st.Items...)
	return st
}

// =============================================================================
// LOCKED ENTRY POINTS
// =============================================================================

func (m *Memory) CreateStore(ctx context.Context, s *ledger.Store) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().CreateStore(ctx, s)
}

func (m *Memory) UpdateStore(ctx context.Context, s ledger.Store) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().UpdateStore(ctx, s)
}

func (m *Memory) GetStore(ctx context.Context, id ledger.StoreID) (*ledger.Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetStore(ctx, id)
}

func (m *Memory) GetStoreByChannel(ctx context.Context, channelID string) (*ledger.Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetStoreByChannel(ctx, channelID)
}

func (m *Memory) ListStores(ctx context.Context, includeInactive bool) ([]ledger.Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListStores(ctx, includeInactive)
}

func (m *Memory) CreateProduct(ctx context.Context, p *ledger.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().CreateProduct(ctx, p)
}

func (m *Memory) UpdateProduct(ctx context.Context, p ledger.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().UpdateProduct(ctx, p)
}

func (m *Memory) GetProduct(ctx context.Context, id ledger.ProductID) (*ledger.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetProduct(ctx, id)
}

func (m *Memory) GetProductBySKU(ctx context.Context, sku string) (*ledger.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetProductBySKU(ctx, sku)
}

func (m *Memory) GetProductByBarcode(ctx context.Context, barcode string) (*ledger.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetProductByBarcode(ctx, barcode)
}

func (m *Memory) SearchProducts(ctx context.Context, keyword string, limit int) ([]ledger.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().SearchProducts(ctx, keyword, limit)
}

func (m *Memory) ListProducts(ctx context.Context, includeInactive bool) ([]ledger.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListProducts(ctx, includeInactive)
}

func (m *Memory) GetBalance(ctx context.Context, storeID ledger.StoreID, productID ledger.ProductID) (*ledger.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetBalance(ctx, storeID, productID)
}

func (m *Memory) SaveBalance(ctx context.Context, b ledger.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().SaveBalance(ctx, b)
}

func (m *Memory) ListBalances(ctx context.Context, storeID ledger.StoreID) ([]ledger.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListBalances(ctx, storeID)
}

func (m *Memory) AppendTransaction(ctx context.Context, tx *ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().AppendTransaction(ctx, tx)
}

func (m *Memory) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetTransaction(ctx, id)
}

func (m *Memory) MarkCancelled(ctx context.Context, id, cancelledBy ledger.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().MarkCancelled(ctx, id, cancelledBy)
}

func (m *Memory) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListTransactions(ctx, f)
}

func (m *Memory) CreateAdjustment(ctx context.Context, a *ledger.Adjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().CreateAdjustment(ctx, a)
}

func (m *Memory) GetAdjustment(ctx context.Context, id ledger.AdjustmentID) (*ledger.Adjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetAdjustment(ctx, id)
}

func (m *Memory) ListAdjustments(ctx context.Context, f ledger.AdjustmentFilter) ([]ledger.Adjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListAdjustments(ctx, f)
}

func (m *Memory) ResolveAdjustment(ctx context.Context, a ledger.Adjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().ResolveAdjustment(ctx, a)
}

func (m *Memory) CreateStockTake(ctx context.Context, st *ledger.StockTake) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().CreateStockTake(ctx, st)
}

func (m *Memory) GetStockTake(ctx context.Context, id ledger.StockTakeID) (*ledger.StockTake, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetStockTake(ctx, id)
}

func (m *Memory) ListStockTakes(ctx context.Context, f ledger.StockTakeFilter) ([]ledger.StockTake, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListStockTakes(ctx, f)
}

func (m *Memory) CompleteStockTake(ctx context.Context, id ledger.StockTakeID, by ledger.Operator, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().CompleteStockTake(ctx, id, by, at)
}

func (m *Memory) UpsertSnapshot(ctx context.Context, s ledger.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().UpsertSnapshot(ctx, s)
}

func (m *Memory) GetSnapshot(ctx context.Context, storeID ledger.StoreID, productID ledger.ProductID, date ledger.Date) (*ledger.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetSnapshot(ctx, storeID, productID, date)
}

func (m *Memory) LatestSnapshotBefore(ctx context.Context, storeID ledger.StoreID, productID ledger.ProductID, date ledger.Date) (*ledger.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().LatestSnapshotBefore(ctx, storeID, productID, date)
}

func (m *Memory) ListSnapshots(ctx context.Context, storeID ledger.StoreID, date ledger.Date) ([]ledger.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListSnapshots(ctx, storeID, date)
}

func (m *Memory) SnapshotProducts(ctx context.Context, storeID ledger.StoreID) ([]ledger.ProductID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().SnapshotProducts(ctx, storeID)
}

func (m *Memory) AppendAudit(ctx context.Context, e ledger.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().AppendAudit(ctx, e)
}

func (m *Memory) ListAudit(ctx context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListAudit(ctx, f)
}

// =============================================================================
// VIEW - Unlocked operations over memoryData
// =============================================================================

type view struct {
	d *memoryData
}

func (v *view) CreateStore(_ context.Context, s *ledger.Store) error {
	for _, existing := range v.d.stores {
		if existing.Code == s.Code {
			return ledger.ErrDuplicate
		}
	}
	v.d.nextStore++
	s.ID = ledger.StoreID(v.d.nextStore)
	v.d.stores[s.ID] = *s
	return nil
}

func (v *view) UpdateStore(_ context.Context, s ledger.Store) error {
	if _, ok := v.d.stores[s.ID]; !ok {
		return ledger.ErrStoreNotFound
	}
	for id, existing := range v.d.stores {
		if id != s.ID && existing.Code == s.Code {
			return ledger.ErrDuplicate
		}
	}
	v.d.stores[s.ID] = s
	return nil
}

func (v *view) GetStore(_ context.Context, id ledger.StoreID) (*ledger.Store, error) {
	s, ok := v.d.stores[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (v *view) GetStoreByChannel(_ context.Context, channelID string) (*ledger.Store, error) {
	for _, s := range v.d.stores {
		if s.ChannelID == channelID && s.Active {
			s := s
			return &s, nil
		}
	}
	return nil, nil
}

func (v *view) ListStores(_ context.Context, includeInactive bool) ([]ledger.Store, error) {
	var out []ledger.Store
	for _, s := range v.d.stores {
		if s.Active || includeInactive {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) CreateProduct(_ context.Context, p *ledger.Product) error {
	for _, existing := range v.d.products {
		if existing.SKU == p.SKU {
			return ledger.ErrDuplicate
		}
	}
	v.d.nextProduct++
	p.ID = ledger.ProductID(v.d.nextProduct)
	v.d.products[p.ID] = *p
	return nil
}

func (v *view) UpdateProduct(_ context.Context, p ledger.Product) error {
	if _, ok := v.d.products[p.ID]; !ok {
		return ledger.ErrProductNotFound
	}
	for id, existing := range v.d.products {
		if id != p.ID && existing.SKU == p.SKU {
			return ledger.ErrDuplicate
		}
	}
	v.d.products[p.ID] = p
	return nil
}

func (v *view) GetProduct(_ context.Context, id ledger.ProductID) (*ledger.Product, error) {
	p, ok := v.d.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (v *view) GetProductBySKU(_ context.Context, sku string) (*ledger.Product, error) {
	for _, p := range v.d.products {
		if p.SKU == sku {
			p := p
			return &p, nil
		}
	}
	return nil, nil
}

func (v *view) GetProductByBarcode(_ context.Context, barcode string) (*ledger.Product, error) {
	var best *ledger.Product
	for _, p := range v.d.products {
		if p.Barcode != barcode {
			continue
		}
		if best == nil || (p.Active && !best.Active) || (p.Active == best.Active && p.ID < best.ID) {
			p := p
			best = &p
		}
	}
	return best, nil
}

func (v *view) SearchProducts(_ context.Context, keyword string, limit int) ([]ledger.Product, error) {
	needle := strings.ToLower(keyword)
	var out []ledger.Product
	for _, p := range v.d.products {
		if p.Active && strings.Contains(strings.ToLower(p.Name), needle) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (v *view) ListProducts(_ context.Context, includeInactive bool) ([]ledger.Product, error) {
	var out []ledger.Product
	for _, p := range v.d.products {
		if p.Active || includeInactive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) GetBalance(_ context.Context, storeID ledger.StoreID, productID ledger.ProductID) (*ledger.Balance, error) {
	b, ok := v.d.balances[balanceKey{storeID, productID}]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

// SaveBalance applies the version guard described on ledger.BalanceStore.
func (v *view) SaveBalance(_ context.Context, b ledger.Balance) error {
	k := balanceKey{b.StoreID, b.ProductID}
	cur, exists := v.d.balances[k]
	switch {
	case b.Version == 0 && exists:
		return ledger.ErrConcurrentModification
	case b.Version != 0 && (!exists || cur.Version != b.Version):
		return ledger.ErrConcurrentModification
	}
	b.Version++
	v.d.balances[k] = b
	return nil
}

func (v *view) ListBalances(_ context.Context, storeID ledger.StoreID) ([]ledger.Balance, error) {
	var out []ledger.Balance
	for k, b := range v.d.balances {
		if k.StoreID == storeID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (v *view) AppendTransaction(_ context.Context, tx *ledger.Transaction) error {
	tx.ID = ledger.TransactionID(len(v.d.transactions) + 1)
	v.d.transactions = append(v.d.transactions, *tx)
	return nil
}

func (v *view) GetTransaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	if id <= 0 || int(id) > len(v.d.transactions) {
		return nil, nil
	}
	tx := v.d.transactions[id-1]
	return &tx, nil
}

func (v *view) MarkCancelled(_ context.Context, id, cancelledBy ledger.TransactionID) error {
	if id <= 0 || int(id) > len(v.d.transactions) {
		return ledger.ErrTransactionNotFound
	}
	tx := &v.d.transactions[id-1]
	if tx.IsCancelled {
		return ledger.ErrAlreadyCancelled
	}
	tx.IsCancelled = true
	tx.CancelledByID = &cancelledBy
	return nil
}

func (v *view) ListTransactions(_ context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	var out []ledger.Transaction
	for _, tx := range v.d.transactions {
		if matchTransaction(tx, f) {
			out = append(out, tx)
		}
	}
	if f.Newest {
		sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matchTransaction(tx ledger.Transaction, f ledger.TransactionFilter) bool {
	switch {
	case f.StoreID != 0 && tx.StoreID != f.StoreID:
		return false
	case f.ProductID != 0 && tx.ProductID != f.ProductID:
		return false
	case f.AfterID != 0 && tx.ID <= f.AfterID:
		return false
	case !f.IncludeCancelled && tx.IsCancelled:
		return false
	case !f.From.IsZero() && tx.BusinessDate.Before(f.From):
		return false
	case !f.To.IsZero() && tx.BusinessDate.After(f.To):
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if tx.Type == t {
			return true
		}
	}
	return false
}

func (v *view) CreateAdjustment(_ context.Context, a *ledger.Adjustment) error {
	v.d.nextAdjustment++
	a.ID = ledger.AdjustmentID(v.d.nextAdjustment)
	for i := range a.Items {
		v.d.nextItem++
		a.Items[i].ID = v.d.nextItem
		a.Items[i].AdjustmentID = a.ID
	}
	v.d.adjustments[a.ID] = cloneAdjustment(*a)
	return nil
}

func (v *view) GetAdjustment(_ context.Context, id ledger.AdjustmentID) (*ledger.Adjustment, error) {
	a, ok := v.d.adjustments[id]
	if !ok {
		return nil, nil
	}
	a = cloneAdjustment(a)
	return &a, nil
}

func (v *view) ListAdjustments(_ context.Context, f ledger.AdjustmentFilter) ([]ledger.Adjustment, error) {
	var out []ledger.Adjustment
	for _, a := range v.d.adjustments {
		if f.StoreID != 0 && a.StoreID != f.StoreID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, cloneAdjustment(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (v *view) ResolveAdjustment(_ context.Context, a ledger.Adjustment) error {
	cur, ok := v.d.adjustments[a.ID]
	if !ok {
		return ledger.ErrAdjustmentNotFound
	}
	if cur.Status != ledger.AdjustmentPending {
		return ledger.ErrAlreadyProcessed
	}
	cur.Status = a.Status
	cur.Reason = a.Reason
	cur.ApprovedByID = a.ApprovedByID
	cur.ApprovedByName = a.ApprovedByName
	cur.ApprovedAt = a.ApprovedAt
	cur.UpdatedAt = a.UpdatedAt
	v.d.adjustments[a.ID] = cur
	return nil
}

func (v *view) CreateStockTake(_ context.Context, st *ledger.StockTake) error {
	v.d.nextStockTake++
	st.ID = ledger.StockTakeID(v.d.nextStockTake)
	for i := range st.Items {
		v.d.nextItem++
		st.Items[i].ID = v.d.nextItem
		st.Items[i].StockTakeID = st.ID
	}
	v.d.stockTakes[st.ID] = cloneStockTake(*st)
	return nil
}

func (v *view) GetStockTake(_ context.Context, id ledger.StockTakeID) (*ledger.StockTake, error) {
	st, ok := v.d.stockTakes[id]
	if !ok {
		return nil, nil
	}
	st = cloneStockTake(st)
	return &st, nil
}

func (v *view) ListStockTakes(_ context.Context, f ledger.StockTakeFilter) ([]ledger.StockTake, error) {
	var out []ledger.StockTake
	for _, st := range v.d.stockTakes {
		if f.StoreID != 0 && st.StoreID != f.StoreID {
			continue
		}
		if f.Status != "" && st.Status != f.Status {
			continue
		}
		if f.Month != "" && st.Month != f.Month {
			continue
		}
		out = append(out, cloneStockTake(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (v *view) CompleteStockTake(_ context.Context, id ledger.StockTakeID, by ledger.Operator, at time.Time) error {
	st, ok := v.d.stockTakes[id]
	if !ok {
		return ledger.ErrStockTakeNotFound
	}
	if st.Status != ledger.StockTakeDraft {
		return ledger.ErrAlreadyCompleted
	}
	st.Status = ledger.StockTakeCompleted
	st.CompletedByID = by.ID
	st.CompletedByName = by.Name
	st.CompletedAt = &at
	v.d.stockTakes[id] = st
	return nil
}

func (v *view) UpsertSnapshot(_ context.Context, s ledger.Snapshot) error {
	v.d.snapshots[snapshotKey{s.StoreID, s.ProductID, s.BusinessDate.String()}] = s
	return nil
}

func (v *view) GetSnapshot(_ context.Context, storeID ledger.StoreID, productID ledger.ProductID, date ledger.Date) (*ledger.Snapshot, error) {
	s, ok := v.d.snapshots[snapshotKey{storeID, productID, date.String()}]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (v *view) LatestSnapshotBefore(_ context.Context, storeID ledger.StoreID, productID ledger.ProductID, date ledger.Date) (*ledger.Snapshot, error) {
	var best *ledger.Snapshot
	for k, s := range v.d.snapshots {
		if k.StoreID != storeID || k.ProductID != productID || !s.BusinessDate.Before(date) {
			continue
		}
		if best == nil || s.BusinessDate.After(best.BusinessDate) {
			s := s
			best = &s
		}
	}
	return best, nil
}

func (v *view) ListSnapshots(_ context.Context, storeID ledger.StoreID, date ledger.Date) ([]ledger.Snapshot, error) {
	var out []ledger.Snapshot
	for k, s := range v.d.snapshots {
		if k.StoreID == storeID && s.BusinessDate.Equal(date) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (v *view) SnapshotProducts(_ context.Context, storeID ledger.StoreID) ([]ledger.ProductID, error) {
	seen := make(map[ledger.ProductID]bool)
	var out []ledger.ProductID
	for k := range v.d.snapshots {
		if k.StoreID == storeID && !seen[k.ProductID] {
			seen[k.ProductID] = true
			out = append(out, k.ProductID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (v *view) AppendAudit(_ context.Context, e ledger.AuditEntry) error {
	e.ID = int64(len(v.d.audit) + 1)
	v.d.audit = append(v.d.audit, e)
	return nil
}

func (v *view) ListAudit(_ context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	var out []ledger.AuditEntry
	for i := len(v.d.audit) - 1; i >= 0; i-- {
		e := v.d.audit[i]
		if f.Table != "" && e.Table != f.Table {
			continue
		}
		if f.RecordID != 0 && e.RecordID != f.RecordID {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

var _ ledger.TxRepository = (*Memory)(nil)
