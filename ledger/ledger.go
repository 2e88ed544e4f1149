/*
ledger.go - Movement posting, balance updates and cancellation

PURPOSE:
  Ledger is the single writer of balances and transaction rows. Every
  stock change, whether a direct inbound/outbound, an approved adjustment,
  a completed stock take or a cancellation, goes through post(), which:

    1. reads the current balance (absent = zero)
    2. prices the movement with the CostingEngine
    3. asks the MovementValidator to admit any stock removal
    4. applies the delta and persists the balance (version guarded)
    5. appends the immutable transaction row

  Steps 1-5 run inside one repository transaction while the per-key lock
  is held.

WRITE PATH:
  lock keys ──▶ WithTx ──▶ post() per item ──▶ commit ──▶ recompute
  snapshots ──▶ unlock ──▶ notify

  A lost race on the balance version aborts the repository transaction
  and the whole closure is retried, up to MaxRetries times.

CANCELLATION:
  A committed row is never edited. CancelTransaction inserts an opposite
  "cancel" row dated today, flags the original and links both. Only rows
  from today's business date with no later activity on the same key can be
  cancelled.

SEE ALSO:
  - costing.go, validator.go: pricing and admission
  - adjustment.go, stocktake.go: multi-item workflows built on post()
  - snapshot.go: daily rollup run after commit
*/
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DefaultMaxRetries bounds automatic retries after a concurrency conflict.
const DefaultMaxRetries = 3

// Ledger posts movements against a TxRepository.
type Ledger struct {
	Repo      TxRepository
	Calendar  *Calendar
	Costing   CostingEngine
	Validator MovementValidator
	Locker    KeyLocker
	Rollup    *SnapshotRollup
	Notifier  Notifier
	Log       logrus.FieldLogger

	MaxRetries int
}

// NewLedger wires a Ledger with an in-process locker and a snapshot rollup
// over the same repository.
func NewLedger(repo TxRepository, cal *Calendar) *Ledger {
	locker := NewLocalLocker(0)
	l := &Ledger{
		Repo:       repo,
		Calendar:   cal,
		Locker:     locker,
		Log:        logrus.StandardLogger(),
		MaxRetries: DefaultMaxRetries,
	}
	l.Rollup = &SnapshotRollup{Repo: repo, Calendar: cal, Locker: locker}
	return l
}

// MovementRequest is a direct inbound or outbound movement. Quantities are
// non-negative counts; unit costs apply to inbound only.
type MovementRequest struct {
	StoreID      StoreID
	ProductID    ProductID
	QuantityCase int64
	QuantityUnit int64
	UnitCostCase decimal.Decimal
	UnitCostUnit decimal.Decimal
	Source       Source
	Operator     Operator
	Note         string
}

func (r MovementRequest) validate(inbound bool) error {
	switch {
	case r.StoreID <= 0:
		return invalid("store_id", "is required")
	case r.ProductID <= 0:
		return invalid("product_id", "is required")
	case r.QuantityCase < 0:
		return invalid("quantity_case", "must not be negative")
	case r.QuantityUnit < 0:
		return invalid("quantity_unit", "must not be negative")
	case r.QuantityCase == 0 && r.QuantityUnit == 0:
		return invalid("quantity", "must be greater than zero")
	case r.Operator.ID == "":
		return invalid("operator", "is required")
	}
	if inbound && (r.UnitCostCase.IsNegative() || r.UnitCostUnit.IsNegative()) {
		return invalid("unit_cost", "must not be negative")
	}
	return nil
}

// posting is one priced movement waiting to be written.
type posting struct {
	Type         TransactionType
	StoreID      StoreID
	ProductID    ProductID
	BusinessDate Date
	Source       Source
	Operator     Operator
	AdjustmentID *AdjustmentID
	StockTakeID  *StockTakeID
	CancelsID    *TransactionID
	Note         string

	// price turns the current balance into the delta to apply.
	price func(b Balance) Delta
	// unitCosts reports the per-item costs to record on the row.
	unitCosts func(b Balance) (decimal.NullDecimal, decimal.NullDecimal)
}

// =============================================================================
// READS
// =============================================================================

// GetBalance returns the balance for a key, or nil if no movement has
// touched it yet.
func (l *Ledger) GetBalance(ctx context.Context, storeID StoreID, productID ProductID) (*Balance, error) {
	return l.Repo.GetBalance(ctx, storeID, productID)
}

func (l *Ledger) ListBalances(ctx context.Context, storeID StoreID) ([]Balance, error) {
	return l.Repo.ListBalances(ctx, storeID)
}

// LowStockItem pairs a balance with the product whose threshold it crossed.
type LowStockItem struct {
	Balance Balance
	Product Product
}

// LowStock returns active products at or below safety stock. A zero
// storeID covers every active store.
func (l *Ledger) LowStock(ctx context.Context, storeID StoreID) ([]LowStockItem, error) {
	if storeID != 0 {
		return l.lowStockIn(ctx, storeID)
	}
	stores, err := l.Repo.ListStores(ctx, false)
	if err != nil {
		return nil, err
	}
	var items []LowStockItem
	for _, s := range stores {
		found, err := l.lowStockIn(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		items = append(items, found...)
	}
	return items, nil
}

func (l *Ledger) lowStockIn(ctx context.Context, storeID StoreID) ([]LowStockItem, error) {
	balances, err := l.Repo.ListBalances(ctx, storeID)
	if err != nil {
		return nil, err
	}
	var items []LowStockItem
	for _, b := range balances {
		p, err := l.Repo.GetProduct(ctx, b.ProductID)
		if err != nil {
			return nil, err
		}
		if p == nil || !p.Active {
			continue
		}
		if b.BelowSafetyStock(*p) {
			items = append(items, LowStockItem{Balance: b, Product: *p})
		}
	}
	return items, nil
}

func (l *Ledger) GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error) {
	tx, err := l.Repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, ErrTransactionNotFound
	}
	return tx, nil
}

func (l *Ledger) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	return l.Repo.ListTransactions(ctx, filter)
}

// RecentTransactions returns the newest rows across all stores.
func (l *Ledger) RecentTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.Repo.ListTransactions(ctx, TransactionFilter{Limit: limit, Newest: true, IncludeCancelled: true})
}

// =============================================================================
// LOW-LEVEL OPERATIONS
// =============================================================================

// ApplyMovement adds d to the balance of (storeID, productID) under the key
// lock and returns the persisted balance. It records no transaction row;
// Inbound, Outbound and the workflows pair both for you.
func (l *Ledger) ApplyMovement(ctx context.Context, storeID StoreID, productID ProductID, d Delta) (*Balance, error) {
	var out Balance
	err := l.write(ctx, []string{BalanceKey(storeID, productID)}, func(repo Repository) error {
		b, _, err := l.applyMovement(ctx, repo, storeID, productID, d, l.Calendar.now())
		out = b
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RecordTransaction appends tx as-is. Missing dates default to now.
func (l *Ledger) RecordTransaction(ctx context.Context, tx *Transaction) (TransactionID, error) {
	if !tx.Type.Valid() {
		return 0, invalid("type", "is not a known transaction type")
	}
	if tx.StoreID <= 0 || tx.ProductID <= 0 {
		return 0, invalid("store_id/product_id", "are required")
	}
	now := l.Calendar.now()
	if tx.TransactionTime.IsZero() {
		tx.TransactionTime = now
	}
	if tx.BusinessDate.IsZero() {
		tx.BusinessDate = l.Calendar.BusinessDateOf(tx.TransactionTime)
	}
	if tx.TotalCost.IsZero() {
		tx.TotalCost = tx.CostCase.Add(tx.CostUnit)
	}
	tx.CreatedAt = now
	err := l.withRetry(ctx, func() error {
		return l.Repo.WithTx(ctx, func(repo Repository) error {
			return repo.AppendTransaction(ctx, tx)
		})
	})
	if err != nil {
		return 0, err
	}
	return tx.ID, nil
}

// applyMovement is the only code path that writes a balance. It returns the
// new balance and the delta actually recorded after rounding.
func (l *Ledger) applyMovement(ctx context.Context, repo Repository, storeID StoreID, productID ProductID, d Delta, now time.Time) (Balance, Delta, error) {
	cur, err := repo.GetBalance(ctx, storeID, productID)
	if err != nil {
		return Balance{}, Delta{}, err
	}
	if err := l.Validator.CanApply(cur, d); err != nil {
		return Balance{}, Delta{}, err
	}
	base := Balance{StoreID: storeID, ProductID: productID, TotalCostCase: decimal.Zero, TotalCostUnit: decimal.Zero}
	if cur != nil {
		base = *cur
	}
	next := l.Costing.Apply(base, d).Rounded()
	if next.QuantityCase < 0 || next.QuantityUnit < 0 {
		return Balance{}, Delta{}, ErrNegativeBalance
	}
	next.UpdatedAt = now
	if err := repo.SaveBalance(ctx, next); err != nil {
		return Balance{}, Delta{}, err
	}
	recorded := Delta{
		Case:     d.Case,
		Unit:     d.Unit,
		CostCase: next.TotalCostCase.Sub(base.TotalCostCase),
		CostUnit: next.TotalCostUnit.Sub(base.TotalCostUnit),
	}
	next.Version++
	return next, recorded, nil
}

// post prices, admits, applies and records one movement inside repo.
func (l *Ledger) post(ctx context.Context, repo Repository, p posting, now time.Time) (*Transaction, error) {
	cur, err := repo.GetBalance(ctx, p.StoreID, p.ProductID)
	if err != nil {
		return nil, err
	}
	base := Balance{StoreID: p.StoreID, ProductID: p.ProductID}
	if cur != nil {
		base = *cur
	}
	d := p.price(base)
	if d.Case == 0 && d.Unit == 0 && p.Type != TxConversion && p.Type != TxCancel {
		return nil, invalid("quantity", "must be non-zero")
	}
	var costCase, costUnit decimal.NullDecimal
	if p.unitCosts != nil {
		costCase, costUnit = p.unitCosts(base)
	}

	_, recorded, err := l.applyMovement(ctx, repo, p.StoreID, p.ProductID, d, now)
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		StoreID:         p.StoreID,
		ProductID:       p.ProductID,
		Type:            p.Type,
		QuantityCase:    recorded.Case,
		QuantityUnit:    recorded.Unit,
		UnitCostCase:    costCase,
		UnitCostUnit:    costUnit,
		CostCase:        recorded.CostCase,
		CostUnit:        recorded.CostUnit,
		TotalCost:       recorded.CostCase.Add(recorded.CostUnit),
		BusinessDate:    p.BusinessDate,
		TransactionTime: now,
		Source:          p.Source,
		OperatorID:      p.Operator.ID,
		OperatorName:    p.Operator.Name,
		AdjustmentID:    p.AdjustmentID,
		StockTakeID:     p.StockTakeID,
		CancelsID:       p.CancelsID,
		Note:            p.Note,
		CreatedAt:       now,
	}
	if err := repo.AppendTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// =============================================================================
// DIRECT MOVEMENTS
// =============================================================================

// Inbound receives stock at explicit unit costs, dated today.
func (l *Ledger) Inbound(ctx context.Context, req MovementRequest) (*Transaction, error) {
	if err := req.validate(true); err != nil {
		return nil, err
	}
	p := l.directPosting(TxInbound, req)
	p.price = func(Balance) Delta {
		return l.Costing.inboundDelta(req.QuantityCase, req.QuantityUnit, req.UnitCostCase, req.UnitCostUnit)
	}
	p.unitCosts = func(Balance) (decimal.NullDecimal, decimal.NullDecimal) {
		return unitCostIf(req.QuantityCase, req.UnitCostCase), unitCostIf(req.QuantityUnit, req.UnitCostUnit)
	}
	return l.postDirect(ctx, p)
}

// Outbound issues stock at the current average cost, dated today.
func (l *Ledger) Outbound(ctx context.Context, req MovementRequest) (*Transaction, error) {
	if err := req.validate(false); err != nil {
		return nil, err
	}
	p := l.directPosting(TxOutbound, req)
	p.price = func(b Balance) Delta {
		return l.Costing.outboundDelta(b, req.QuantityCase, req.QuantityUnit)
	}
	p.unitCosts = averageUnitCosts(req.QuantityCase, req.QuantityUnit)
	return l.postDirect(ctx, p)
}

func (l *Ledger) directPosting(typ TransactionType, req MovementRequest) posting {
	source := req.Source
	if source == "" {
		source = SourceWeb
	}
	return posting{
		Type:      typ,
		StoreID:   req.StoreID,
		ProductID: req.ProductID,
		Source:    source,
		Operator:  req.Operator,
		Note:      req.Note,
	}
}

func (l *Ledger) postDirect(ctx context.Context, p posting) (*Transaction, error) {
	var tx *Transaction
	key := BalanceKey(p.StoreID, p.ProductID)
	err := l.write(ctx, []string{key}, func(repo Repository) error {
		if err := checkActive(ctx, repo, p.StoreID, p.ProductID); err != nil {
			return err
		}
		now := l.Calendar.now()
		p.BusinessDate = l.Calendar.BusinessDateOf(now)
		var err error
		tx, err = l.post(ctx, repo, p, now)
		return err
	})
	if err != nil {
		l.log().WithFields(logrus.Fields{
			"store_id":   p.StoreID,
			"product_id": p.ProductID,
			"type":       p.Type,
		}).WithError(err).Warn("movement rejected")
		return nil, err
	}

	l.afterCommit(ctx, Event{
		Kind:           EventMovementPosted,
		StoreID:        tx.StoreID,
		ProductIDs:     []ProductID{tx.ProductID},
		TransactionIDs: []TransactionID{tx.ID},
		BusinessDate:   tx.BusinessDate,
		OccurredAt:     tx.TransactionTime,
	})
	return tx, nil
}

// =============================================================================
// CANCELLATION
// =============================================================================

// activityTypes are the rows that count as later activity on a key. Cancel
// rows are excluded: they only neutralize a later row that is itself
// flagged as cancelled.
var activityTypes = []TransactionType{
	TxInbound, TxOutbound, TxAdjustmentIn, TxAdjustmentOut, TxConversion, TxStockTake,
}

// CancelTransaction reverses a row from today's business date that is still
// the latest activity on its (store, product).
func (l *Ledger) CancelTransaction(ctx context.Context, id TransactionID, actor Operator) (*Transaction, error) {
	orig, err := l.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}

	var cancel *Transaction
	err = l.write(ctx, []string{BalanceKey(orig.StoreID, orig.ProductID)}, func(repo Repository) error {
		cur, err := repo.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if cur == nil {
			return ErrTransactionNotFound
		}
		if cur.IsCancelled {
			return ErrAlreadyCancelled
		}
		if cur.Type == TxCancel {
			return ErrNotCancellable
		}
		now := l.Calendar.now()
		today := l.Calendar.BusinessDateOf(now)
		if !cur.BusinessDate.Equal(today) {
			return ErrOutsideCancellationWindow
		}
		later, err := repo.ListTransactions(ctx, TransactionFilter{
			StoreID:   cur.StoreID,
			ProductID: cur.ProductID,
			Types:     activityTypes,
			AfterID:   cur.ID,
			Limit:     1,
		})
		if err != nil {
			return err
		}
		if len(later) > 0 {
			return ErrHasSubsequentActivity
		}

		cancel, err = l.post(ctx, repo, posting{
			Type:         TxCancel,
			StoreID:      cur.StoreID,
			ProductID:    cur.ProductID,
			BusinessDate: today,
			Source:       SourceWeb,
			Operator:     actor,
			CancelsID:    &cur.ID,
			Note:         fmt.Sprintf("cancel transaction #%d", cur.ID),
			price:        func(Balance) Delta { return cur.Delta().Neg() },
		}, now)
		if err != nil {
			return err
		}
		if err := repo.MarkCancelled(ctx, cur.ID, cancel.ID); err != nil {
			return err
		}
		return repo.AppendAudit(ctx, AuditEntry{
			Table:        "transactions",
			RecordID:     int64(cur.ID),
			Action:       AuditCancel,
			OldValue:     auditJSON(cur),
			NewValue:     auditJSON(cancel),
			OperatorID:   actor.ID,
			OperatorName: actor.Name,
			CreatedAt:    now,
		})
	})
	if err != nil {
		return nil, err
	}

	l.afterCommit(ctx, Event{
		Kind:           EventTransactionCancelled,
		StoreID:        cancel.StoreID,
		ProductIDs:     []ProductID{cancel.ProductID},
		TransactionIDs: []TransactionID{orig.ID, cancel.ID},
		BusinessDate:   cancel.BusinessDate,
		OccurredAt:     cancel.TransactionTime,
	})
	return cancel, nil
}

// =============================================================================
// WRITE PLUMBING
// =============================================================================

// write locks keys, then runs fn in a repository transaction, retrying on
// concurrency conflicts.
func (l *Ledger) write(ctx context.Context, keys []string, fn func(Repository) error) error {
	release, err := l.Locker.Lock(ctx, SortedKeys(keys)...)
	if err != nil {
		return err
	}
	defer release()

	return l.withRetry(ctx, func() error {
		return l.Repo.WithTx(ctx, fn)
	})
}

func (l *Ledger) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= l.MaxRetries; attempt++ {
		if err = fn(); err == nil || !IsRetryable(err) {
			return err
		}
		l.log().WithField("attempt", attempt+1).WithError(err).Debug("retrying after conflict")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
	return err
}

// afterCommit refreshes snapshots and notifies. Failures are logged only;
// the movement is already committed.
func (l *Ledger) afterCommit(ctx context.Context, ev Event) {
	if l.Rollup != nil {
		var err error
		if ev.Retroactive {
			err = l.Rollup.RetroactiveRecompute(ctx, ev.BusinessDate, ev.StoreID)
		} else {
			for _, pid := range ev.ProductIDs {
				if err = l.Rollup.RecomputeSnapshot(ctx, ev.StoreID, pid, ev.BusinessDate); err != nil {
					break
				}
			}
		}
		if err != nil {
			l.log().WithFields(logrus.Fields{
				"store_id": ev.StoreID,
				"date":     ev.BusinessDate.String(),
				"event":    ev.Kind,
			}).WithError(err).Error("snapshot recompute failed")
		}
	}
	if l.Notifier != nil {
		l.Notifier.Notify(context.WithoutCancel(ctx), ev)
	}
}

func (l *Ledger) log() logrus.FieldLogger {
	if l.Log == nil {
		return logrus.StandardLogger()
	}
	return l.Log
}

// checkActive verifies both master records exist and are active.
func checkActive(ctx context.Context, repo Repository, storeID StoreID, productID ProductID) error {
	s, err := repo.GetStore(ctx, storeID)
	if err != nil {
		return err
	}
	if s == nil {
		return ErrStoreNotFound
	}
	if !s.Active {
		return fmt.Errorf("store %d: %w", storeID, ErrInactive)
	}
	p, err := repo.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrProductNotFound
	}
	if !p.Active {
		return fmt.Errorf("product %d: %w", productID, ErrInactive)
	}
	return nil
}

func unitCostIf(n int64, cost decimal.Decimal) decimal.NullDecimal {
	if n == 0 {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(cost)
}

// averageUnitCosts records the pre-movement averages for the dimensions a
// movement touches.
func averageUnitCosts(qtyCase, qtyUnit int64) func(Balance) (decimal.NullDecimal, decimal.NullDecimal) {
	return func(b Balance) (decimal.NullDecimal, decimal.NullDecimal) {
		return unitCostIf(qtyCase, b.AvgCostCase().Round(CostScale)), unitCostIf(qtyUnit, b.AvgCostUnit().Round(CostScale))
	}
}

func auditJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
