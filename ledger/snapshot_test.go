package ledger_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/ledger"
)

func TestSnapshot_BucketsForOneDay(t *testing.T) {
	// GIVEN: A receipt, an issue and a stock take on the same day
	f := newFixture(t)
	f.inbound(t, 10, 24, "100", "5")
	_, err := f.outbound(3, 4)
	require.NoError(t, err)
	st, err := f.takes.Create(f.ctx, ledger.CreateStockTakeRequest{
		StoreID:  f.store.ID,
		Lines:    []ledger.CountLine{{ProductID: f.product.ID, ActualCase: 6, ActualUnit: 20}},
		Operator: clerk,
	})
	require.NoError(t, err)
	_, err = f.takes.Complete(f.ctx, st.ID, manager)
	require.NoError(t, err)

	// WHEN: Reading the day's snapshot
	snap := f.snapshot(t, ledger.MustParseDate("2025-03-10"))

	// THEN: Each movement lands in its bucket and closing matches the balance
	assert.Equal(t, int64(10), snap.Inbound.Case)
	assert.Equal(t, int64(24), snap.Inbound.Unit)
	assert.Equal(t, int64(3), snap.Outbound.Case)
	assert.Equal(t, int64(4), snap.Outbound.Unit)
	requireDecimal(t, "300", snap.Outbound.CostCase)
	assert.Equal(t, int64(-1), snap.Adjustment.Case)
	assert.Equal(t, int64(0), snap.Adjustment.Unit)

	b := f.balance(t)
	assert.Equal(t, b.QuantityCase, snap.Closing.Case)
	assert.Equal(t, b.QuantityUnit, snap.Closing.Unit)
	requireDecimal(t, b.TotalCostCase.String(), snap.Closing.CostCase)
	requireDecimal(t, "600", snap.Closing.CostCase)
	requireDecimal(t, "100", snap.AvgCostCase)
	assert.Equal(t, "0310", snap.Label())
}

func TestSnapshot_RecomputeIsIdempotent(t *testing.T) {
	// GIVEN: A stored snapshot
	f := newFixture(t)
	f.inbound(t, 2, 0, "50", "")
	day := ledger.MustParseDate("2025-03-10")
	first := f.snapshot(t, day)

	// WHEN: It is recomputed later with no new activity
	f.clock.Set(at(2025, time.March, 10, 18, 0, 0))
	require.NoError(t, f.ledger.Rollup.RecomputeSnapshot(f.ctx, f.store.ID, f.product.ID, day))

	// THEN: The stored row is untouched
	second := f.snapshot(t, day)
	assert.True(t, first.SameFigures(second))
	assert.True(t, first.UpdatedAt.Equal(second.UpdatedAt))

	built, err := f.ledger.Rollup.Build(f.ctx, f.store.ID, f.product.ID, day)
	require.NoError(t, err)
	assert.True(t, built.SameFigures(second))
}

func TestSnapshot_OpeningCarriesLatestPriorClosing(t *testing.T) {
	// GIVEN: Activity on the 8th and nothing on the 9th
	f := newFixture(t)
	f.clock.Set(at(2025, time.March, 8, 12, 0, 0))
	f.inbound(t, 7, 0, "10", "")

	// WHEN: The 10th is built
	f.clock.Set(at(2025, time.March, 10, 12, 0, 0))
	snap, err := f.ledger.Rollup.Build(f.ctx, f.store.ID, f.product.ID, ledger.MustParseDate("2025-03-10"))
	require.NoError(t, err)

	// THEN: Its opening is the 8th's closing
	assert.Equal(t, int64(7), snap.Opening.Case)
	requireDecimal(t, "70", snap.Opening.CostCase)
	assert.Equal(t, int64(7), snap.Closing.Case)
	assert.True(t, snap.Inbound.CostCase.IsZero())
}

func TestSnapshot_CancelledRowsAreExcluded(t *testing.T) {
	f := newFixture(t)
	tx := f.inbound(t, 5, 0, "10", "")
	_, err := f.ledger.CancelTransaction(f.ctx, tx.ID, clerk)
	require.NoError(t, err)

	snap := f.snapshot(t, ledger.MustParseDate("2025-03-10"))

	assert.Equal(t, int64(0), snap.Inbound.Case)
	assert.Equal(t, int64(0), snap.Closing.Case)
	requireDecimal(t, "0", snap.Closing.CostCase)
}

func TestSnapshot_RetroactiveChainStaysContinuous(t *testing.T) {
	// GIVEN: Three days of activity
	f := newFixture(t)
	f.clock.Set(at(2025, time.March, 8, 10, 0, 0))
	f.inbound(t, 10, 0, "100", "")
	f.clock.Set(at(2025, time.March, 9, 10, 0, 0))
	_, err := f.outbound(4, 0)
	require.NoError(t, err)
	f.clock.Set(at(2025, time.March, 10, 10, 0, 0))
	f.inbound(t, 2, 0, "130", "")

	// WHEN: A make-up inbound dated the 8th is approved on the 10th
	a, err := f.adjust.Create(f.ctx, ledger.CreateAdjustmentRequest{
		StoreID:        f.store.ID,
		Type:           ledger.AdjustMakeUpInbound,
		AdjustmentDate: ledger.MustParseDate("2025-03-08"),
		Items: []ledger.AdjustmentItem{{
			ProductID:    f.product.ID,
			QuantityCase: 5,
			UnitCostCase: decimal.NewNullDecimal(dec("100")),
		}},
		Operator: clerk,
	})
	require.NoError(t, err)
	_, err = f.adjust.Approve(f.ctx, a.ID, manager)
	require.NoError(t, err)

	// THEN: Every day is rebuilt and each closing is the next opening
	days := ledger.MustParseDate("2025-03-08").DaysThrough(ledger.MustParseDate("2025-03-10"))
	wantClosing := []struct {
		qty  int64
		cost string
	}{{15, "1500"}, {11, "1100"}, {13, "1360"}}
	var prev *ledger.Snapshot
	for i, day := range days {
		snap := f.snapshot(t, day)
		assert.Equal(t, wantClosing[i].qty, snap.Closing.Case, day.String())
		requireDecimal(t, wantClosing[i].cost, snap.Closing.CostCase)
		if prev != nil {
			assert.Equal(t, prev.Closing.Case, snap.Opening.Case, day.String())
			requireDecimal(t, prev.Closing.CostCase.String(), snap.Opening.CostCase)
		}
		prev = &snap
	}

	b := f.balance(t)
	assert.Equal(t, int64(13), b.QuantityCase)
	requireDecimal(t, "1360", b.TotalCostCase)

	ev := f.events.Last()
	assert.Equal(t, ledger.EventAdjustmentApproved, ev.Kind)
	assert.True(t, ev.Retroactive)
	assert.Equal(t, "2025-03-08", ev.BusinessDate.String())
}

func TestSnapshot_ListByDate(t *testing.T) {
	f := newFixture(t)
	f.inbound(t, 1, 0, "10", "")
	other, err := f.catalog.CreateProduct(f.ctx, ledger.ProductInput{SKU: "water-600", Name: "Water"}, manager)
	require.NoError(t, err)
	_, err = f.ledger.Inbound(f.ctx, ledger.MovementRequest{
		StoreID: f.store.ID, ProductID: other.ID, QuantityUnit: 3, UnitCostUnit: dec("2"), Operator: clerk,
	})
	require.NoError(t, err)

	snaps, err := f.ledger.Rollup.SnapshotsByDate(f.ctx, f.store.ID, ledger.MustParseDate("2025-03-10"))
	require.NoError(t, err)
	assert.Len(t, snaps, 2)

	none, err := f.ledger.Rollup.SnapshotsByDate(f.ctx, f.store.ID, ledger.MustParseDate("2025-03-09"))
	require.NoError(t, err)
	assert.Empty(t, none)
}
