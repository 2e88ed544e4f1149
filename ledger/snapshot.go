/*
snapshot.go - Daily rollup of ledger activity

PURPOSE:
  A Snapshot aggregates one business day of activity for a (store,
  product) into opening / inbound / outbound / adjustment / closing buckets,
  per dimension, with the resulting average costs. Snapshots are derived:
  they can be dropped and rebuilt from the transaction log at any time.

BUCKETS:
  inbound, adjustment_in    ──▶ Inbound     (as recorded, positive)
  outbound, adjustment_out  ──▶ Outbound    (absolute values)
  stocktake, conversion     ──▶ Adjustment  (signed)
  cancel                    ──▶ ignored; the cancelled original is
                                excluded from the scan as well

  Closing = Opening + Inbound - Outbound + Adjustment, per case and unit,
  for quantity and cost alike.

OPENING:
  The closing of the latest snapshot strictly before the date, so a day
  with no activity carries the previous closing forward.

RETROACTIVE RECOMPUTE:
  A backdated adjustment changes every later day's opening. After one is
  approved, every date from the adjustment date through today is rebuilt,
  oldest first, for every product the store has stock or history for.

SEE ALSO:
  - ledger.go: afterCommit triggers recompute
  - export/: reporting adapters read SnapshotsByDate
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SNAPSHOT - Derived daily aggregate
// =============================================================================

// Bucket is a quantity and cost pair per dimension.
type Bucket struct {
	Case     int64
	Unit     int64
	CostCase decimal.Decimal
	CostUnit decimal.Decimal
}

func (b Bucket) add(o Bucket) Bucket {
	return Bucket{
		Case:     b.Case + o.Case,
		Unit:     b.Unit + o.Unit,
		CostCase: b.CostCase.Add(o.CostCase),
		CostUnit: b.CostUnit.Add(o.CostUnit),
	}
}

func (b Bucket) sub(o Bucket) Bucket {
	return b.add(Bucket{Case: -o.Case, Unit: -o.Unit, CostCase: o.CostCase.Neg(), CostUnit: o.CostUnit.Neg()})
}

func (b Bucket) abs() Bucket {
	return Bucket{Case: absInt(b.Case), Unit: absInt(b.Unit), CostCase: b.CostCase.Abs(), CostUnit: b.CostUnit.Abs()}
}

func (b Bucket) rounded() Bucket {
	b.CostCase = b.CostCase.Round(CostScale)
	b.CostUnit = b.CostUnit.Round(CostScale)
	return b
}

type Snapshot struct {
	StoreID      StoreID
	ProductID    ProductID
	BusinessDate Date
	Opening      Bucket
	Inbound      Bucket
	Outbound     Bucket
	Adjustment   Bucket
	Closing      Bucket
	AvgCostCase  decimal.Decimal
	AvgCostUnit  decimal.Decimal
	UpdatedAt    time.Time
}

// Label is the MMDD day label used by reporting sheets.
func (s Snapshot) Label() string { return s.BusinessDate.Label() }

// SameFigures reports whether two snapshots hold identical figures,
// ignoring UpdatedAt.
func (s Snapshot) SameFigures(o Snapshot) bool {
	return s.StoreID == o.StoreID && s.ProductID == o.ProductID &&
		s.BusinessDate.Equal(o.BusinessDate) &&
		bucketEqual(s.Opening, o.Opening) && bucketEqual(s.Inbound, o.Inbound) &&
		bucketEqual(s.Outbound, o.Outbound) && bucketEqual(s.Adjustment, o.Adjustment) &&
		bucketEqual(s.Closing, o.Closing) &&
		s.AvgCostCase.Equal(o.AvgCostCase) && s.AvgCostUnit.Equal(o.AvgCostUnit)
}

func bucketEqual(a, b Bucket) bool {
	return a.Case == b.Case && a.Unit == b.Unit && a.CostCase.Equal(b.CostCase) && a.CostUnit.Equal(b.CostUnit)
}

// =============================================================================
// SNAPSHOT ROLLUP
// =============================================================================

type SnapshotRollup struct {
	Repo     Repository
	Calendar *Calendar
	Locker   KeyLocker // serializes recomputes of the same key; optional
}

// RecomputeSnapshot rebuilds and upserts the snapshot for one key and date.
// Running it twice over the same transactions yields the same figures.
func (r *SnapshotRollup) RecomputeSnapshot(ctx context.Context, storeID StoreID, productID ProductID, date Date) error {
	if r.Locker != nil {
		release, err := r.Locker.Lock(ctx, fmt.Sprintf("snapshot:%d:%d", storeID, productID))
		if err != nil {
			return err
		}
		defer release()
	}
	snap, err := r.Build(ctx, storeID, productID, date)
	if err != nil {
		return err
	}
	existing, err := r.Repo.GetSnapshot(ctx, storeID, productID, date)
	if err != nil {
		return err
	}
	if existing != nil && existing.SameFigures(*snap) {
		return nil
	}
	return r.Repo.UpsertSnapshot(ctx, *snap)
}

// Build computes the snapshot for one key and date without saving it.
func (r *SnapshotRollup) Build(ctx context.Context, storeID StoreID, productID ProductID, date Date) (*Snapshot, error) {
	snap := &Snapshot{StoreID: storeID, ProductID: productID, BusinessDate: date}

	prev, err := r.Repo.LatestSnapshotBefore(ctx, storeID, productID, date)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		snap.Opening = prev.Closing
	}

	txs, err := r.Repo.ListTransactions(ctx, TransactionFilter{
		StoreID:   storeID,
		ProductID: productID,
		From:      date,
		To:        date,
	})
	if err != nil {
		return nil, err
	}
	for _, tx := range txs {
		if tx.IsCancelled {
			continue
		}
		b := Bucket{Case: tx.QuantityCase, Unit: tx.QuantityUnit, CostCase: tx.CostCase, CostUnit: tx.CostUnit}
		switch tx.Type {
		case TxInbound, TxAdjustmentIn:
			snap.Inbound = snap.Inbound.add(b)
		case TxOutbound, TxAdjustmentOut:
			snap.Outbound = snap.Outbound.add(b.abs())
		case TxStockTake, TxConversion:
			snap.Adjustment = snap.Adjustment.add(b)
		}
	}

	snap.Closing = snap.Opening.add(snap.Inbound).sub(snap.Outbound).add(snap.Adjustment)
	snap.Opening = snap.Opening.rounded()
	snap.Inbound = snap.Inbound.rounded()
	snap.Outbound = snap.Outbound.rounded()
	snap.Adjustment = snap.Adjustment.rounded()
	snap.Closing = snap.Closing.rounded()
	snap.AvgCostCase = AverageCost(snap.Closing.Case, snap.Closing.CostCase).Round(CostScale)
	snap.AvgCostUnit = AverageCost(snap.Closing.Unit, snap.Closing.CostUnit).Round(CostScale)
	snap.UpdatedAt = r.Calendar.now()
	return snap, nil
}

// RetroactiveRecompute rebuilds every date from `from` through today for
// every product the store has a balance or snapshot for.
func (r *SnapshotRollup) RetroactiveRecompute(ctx context.Context, from Date, storeID StoreID) error {
	products, err := r.affectedProducts(ctx, storeID)
	if err != nil {
		return err
	}
	today := r.Calendar.Today()
	for _, day := range from.DaysThrough(today) {
		for _, pid := range products {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := r.RecomputeSnapshot(ctx, storeID, pid, day); err != nil {
				return fmt.Errorf("recompute %s product %d: %w", day, pid, err)
			}
		}
	}
	return nil
}

// SnapshotsByDate returns the stored snapshots for one store and day.
func (r *SnapshotRollup) SnapshotsByDate(ctx context.Context, storeID StoreID, date Date) ([]Snapshot, error) {
	return r.Repo.ListSnapshots(ctx, storeID, date)
}

func (r *SnapshotRollup) affectedProducts(ctx context.Context, storeID StoreID) ([]ProductID, error) {
	balances, err := r.Repo.ListBalances(ctx, storeID)
	if err != nil {
		return nil, err
	}
	fromSnapshots, err := r.Repo.SnapshotProducts(ctx, storeID)
	if err != nil {
		return nil, err
	}
	seen := make(map[ProductID]bool)
	var ids []ProductID
	for _, b := range balances {
		if !seen[b.ProductID] {
			seen[b.ProductID] = true
			ids = append(ids, b.ProductID)
		}
	}
	for _, pid := range fromSnapshots {
		if !seen[pid] {
			seen[pid] = true
			ids = append(ids, pid)
		}
	}
	return ids, nil
}

func absInt(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
