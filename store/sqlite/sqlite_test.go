/*
sqlite_test.go - Repository tests against an in-memory SQLite database

Tests for:
- Master data round trips and unique keys
- Version-guarded balance writes
- Transaction filters and the cancellation flag
- Snapshot upsert and lookups
- Workflow state transitions guarded in SQL
- A full ledger run on top of the store
*/
package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/store/sqlite"
)

var t0 = time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// seed creates one store and one product.
func seed(t *testing.T, s *sqlite.Store) (ledger.StoreID, ledger.ProductID) {
	t.Helper()
	ctx := context.Background()
	st := &ledger.Store{Code: "BKK-01", Name: "Bangkok", ChannelID: "chan-1", Active: true, CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, s.CreateStore(ctx, st))
	p := &ledger.Product{SKU: "COLA-330", Name: "Cola", UnitsPerCase: 24, UnitPrice: decimal.RequireFromString("12.50"), Active: true, CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, s.CreateProduct(ctx, p))
	return st.ID, p.ID
}

func TestMasterData_RoundTripAndUniqueKeys(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	storeID, productID := seed(t, s)

	got, err := s.GetStore(ctx, storeID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Bangkok", got.Name)
	assert.True(t, got.Active)

	byChannel, err := s.GetStoreByChannel(ctx, "chan-1")
	require.NoError(t, err)
	require.NotNil(t, byChannel)
	assert.Equal(t, storeID, byChannel.ID)

	p, err := s.GetProductBySKU(ctx, "COLA-330")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, productID, p.ID)
	assert.True(t, decimal.RequireFromString("12.5").Equal(p.UnitPrice))

	err = s.CreateStore(ctx, &ledger.Store{Code: "BKK-01", Name: "Dup", CreatedAt: t0, UpdatedAt: t0})
	assert.ErrorIs(t, err, ledger.ErrDuplicate)
	err = s.CreateProduct(ctx, &ledger.Product{SKU: "COLA-330", Name: "Dup", CreatedAt: t0, UpdatedAt: t0})
	assert.ErrorIs(t, err, ledger.ErrDuplicate)

	missing, err := s.GetStore(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMasterData_InactiveFiltering(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	storeID, _ := seed(t, s)

	st, err := s.GetStore(ctx, storeID)
	require.NoError(t, err)
	st.Active = false
	require.NoError(t, s.UpdateStore(ctx, *st))

	active, err := s.ListStores(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, active)
	all, err := s.ListStores(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	byChannel, err := s.GetStoreByChannel(ctx, "chan-1")
	require.NoError(t, err)
	assert.Nil(t, byChannel)
}

func TestMasterData_BarcodeAndNameSearch(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, colaID := seed(t, s)
	for _, p := range []*ledger.Product{
		{SKU: "COLA-ZERO", Name: "Cola Zero", Barcode: "885000000002", Active: true, CreatedAt: t0, UpdatedAt: t0},
		{SKU: "OLD-COLA", Name: "Old Cola 100%", Barcode: "885000000001", Active: false, CreatedAt: t0, UpdatedAt: t0},
		{SKU: "WATER-600", Name: "Water", Barcode: "885000000001", Active: true, CreatedAt: t0, UpdatedAt: t0},
	} {
		require.NoError(t, s.CreateProduct(ctx, p))
	}

	// a shared barcode resolves to the active product
	p, err := s.GetProductByBarcode(ctx, "885000000001")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "WATER-600", p.SKU)

	none, err := s.GetProductByBarcode(ctx, "000")
	require.NoError(t, err)
	assert.Nil(t, none)

	// name match ignores case and skips inactive products
	found, err := s.SearchProducts(ctx, "COLA", 10)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, colaID, found[0].ID)
	assert.Equal(t, "COLA-ZERO", found[1].SKU)

	limited, err := s.SearchProducts(ctx, "cola", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	// wildcards in the keyword match literally
	literal, err := s.SearchProducts(ctx, "%", 10)
	require.NoError(t, err)
	assert.Empty(t, literal)
}

func TestSaveBalance_VersionGuard(t *testing.T) {
	// GIVEN: A balance at version 1
	s := newStore(t)
	ctx := context.Background()
	storeID, productID := seed(t, s)
	require.NoError(t, s.SaveBalance(ctx, ledger.Balance{
		StoreID: storeID, ProductID: productID, QuantityCase: 5,
		TotalCostCase: decimal.RequireFromString("500"), TotalCostUnit: decimal.Zero, UpdatedAt: t0,
	}))
	b, err := s.GetBalance(ctx, storeID, productID)
	require.NoError(t, err)
	require.Equal(t, int64(1), b.Version)

	// WHEN: One writer updates it and a second writes from the same read
	next := *b
	next.QuantityCase = 4
	require.NoError(t, s.SaveBalance(ctx, next))
	stale := *b
	stale.QuantityCase = 3
	err = s.SaveBalance(ctx, stale)

	// THEN: The second write is a concurrency conflict
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)
	assert.True(t, ledger.IsRetryable(err))
	got, err := s.GetBalance(ctx, storeID, productID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.QuantityCase)
	assert.Equal(t, int64(2), got.Version)

	// AND: A second first-insert is a conflict too
	err = s.SaveBalance(ctx, ledger.Balance{StoreID: storeID, ProductID: productID, UpdatedAt: t0})
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)
}

func appendTx(t *testing.T, s *sqlite.Store, storeID ledger.StoreID, productID ledger.ProductID, typ ledger.TransactionType, qty int64, date string) *ledger.Transaction {
	t.Helper()
	tx := &ledger.Transaction{
		StoreID: storeID, ProductID: productID, Type: typ, QuantityCase: qty,
		CostCase: decimal.NewFromInt(qty * 10), TotalCost: decimal.NewFromInt(qty * 10),
		UnitCostCase:    decimal.NewNullDecimal(decimal.NewFromInt(10)),
		BusinessDate:    ledger.MustParseDate(date),
		TransactionTime: t0, Source: ledger.SourceWeb, OperatorID: "u-1", CreatedAt: t0,
	}
	require.NoError(t, s.AppendTransaction(context.Background(), tx))
	require.NotZero(t, tx.ID)
	return tx
}

func TestTransactions_FiltersAndCancellation(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	storeID, productID := seed(t, s)
	first := appendTx(t, s, storeID, productID, ledger.TxInbound, 5, "2025-03-09")
	second := appendTx(t, s, storeID, productID, ledger.TxOutbound, -2, "2025-03-10")
	appendTx(t, s, storeID, productID, ledger.TxInbound, 1, "2025-03-11")

	got, err := s.GetTransaction(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-09", got.BusinessDate.String())
	assert.True(t, got.UnitCostCase.Valid)
	assert.False(t, got.UnitCostUnit.Valid)

	byDate, err := s.ListTransactions(ctx, ledger.TransactionFilter{
		StoreID: storeID, From: ledger.MustParseDate("2025-03-10"), To: ledger.MustParseDate("2025-03-10"),
	})
	require.NoError(t, err)
	require.Len(t, byDate, 1)
	assert.Equal(t, second.ID, byDate[0].ID)

	inbound, err := s.ListTransactions(ctx, ledger.TransactionFilter{Types: []ledger.TransactionType{ledger.TxInbound}, Newest: true})
	require.NoError(t, err)
	require.Len(t, inbound, 2)
	assert.Greater(t, inbound[0].ID, inbound[1].ID)

	after, err := s.ListTransactions(ctx, ledger.TransactionFilter{AfterID: first.ID, Limit: 1})
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, second.ID, after[0].ID)

	// Cancelled rows are hidden unless asked for
	cancel := appendTx(t, s, storeID, productID, ledger.TxCancel, 2, "2025-03-10")
	require.NoError(t, s.MarkCancelled(ctx, second.ID, cancel.ID))
	assert.ErrorIs(t, s.MarkCancelled(ctx, second.ID, cancel.ID), ledger.ErrAlreadyCancelled)
	assert.ErrorIs(t, s.MarkCancelled(ctx, 999, cancel.ID), ledger.ErrTransactionNotFound)

	active, err := s.ListTransactions(ctx, ledger.TransactionFilter{StoreID: storeID})
	require.NoError(t, err)
	assert.Len(t, active, 3)
	all, err := s.ListTransactions(ctx, ledger.TransactionFilter{StoreID: storeID, IncludeCancelled: true})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	reloaded, err := s.GetTransaction(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.IsCancelled)
	require.NotNil(t, reloaded.CancelledByID)
	assert.Equal(t, cancel.ID, *reloaded.CancelledByID)
}

func TestSnapshots_UpsertAndLookups(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	storeID, productID := seed(t, s)

	snap := ledger.Snapshot{
		StoreID: storeID, ProductID: productID, BusinessDate: ledger.MustParseDate("2025-03-08"),
		Inbound:   ledger.Bucket{Case: 3, CostCase: decimal.NewFromInt(30), CostUnit: decimal.Zero},
		Closing:   ledger.Bucket{Case: 3, CostCase: decimal.NewFromInt(30), CostUnit: decimal.Zero},
		UpdatedAt: t0,
	}
	require.NoError(t, s.UpsertSnapshot(ctx, snap))
	snap.Closing.Case = 4
	require.NoError(t, s.UpsertSnapshot(ctx, snap))

	got, err := s.GetSnapshot(ctx, storeID, productID, snap.BusinessDate)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(4), got.Closing.Case)
	assert.True(t, decimal.NewFromInt(30).Equal(got.Closing.CostCase))

	prior, err := s.LatestSnapshotBefore(ctx, storeID, productID, ledger.MustParseDate("2025-03-10"))
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, "2025-03-08", prior.BusinessDate.String())

	none, err := s.LatestSnapshotBefore(ctx, storeID, productID, snap.BusinessDate)
	require.NoError(t, err)
	assert.Nil(t, none)

	list, err := s.ListSnapshots(ctx, storeID, snap.BusinessDate)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	products, err := s.SnapshotProducts(ctx, storeID)
	require.NoError(t, err)
	assert.Equal(t, []ledger.ProductID{productID}, products)
}

func TestWorkflows_StateGuards(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	storeID, productID := seed(t, s)

	a := &ledger.Adjustment{
		StoreID: storeID, Type: ledger.AdjustConversion, AdjustmentDate: ledger.MustParseDate("2025-03-09"),
		Status: ledger.AdjustmentPending, CreatedByID: "u-1", CreatedAt: t0, UpdatedAt: t0,
		Items: []ledger.AdjustmentItem{{ProductID: productID, Conversion: ledger.Conversion{FromCase: 1, ToUnit: 24}}},
	}
	require.NoError(t, s.CreateAdjustment(ctx, a))

	loaded, err := s.GetAdjustment(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Items, 1)
	assert.Equal(t, int64(24), loaded.Items[0].ToUnit)
	assert.False(t, loaded.Items[0].UnitCostCase.Valid)

	resolved := *loaded
	resolved.Status = ledger.AdjustmentApproved
	resolved.ApprovedByID = "u-9"
	resolved.ApprovedAt = &t0
	require.NoError(t, s.ResolveAdjustment(ctx, resolved))
	assert.ErrorIs(t, s.ResolveAdjustment(ctx, resolved), ledger.ErrAlreadyProcessed)

	pending, err := s.ListAdjustments(ctx, ledger.AdjustmentFilter{StoreID: storeID, Status: ledger.AdjustmentPending})
	require.NoError(t, err)
	assert.Empty(t, pending)

	st := &ledger.StockTake{
		StoreID: storeID, Date: ledger.MustParseDate("2025-03-10"), Month: "2025-03",
		Status: ledger.StockTakeDraft, Note: "back room only", CreatedByID: "u-1", CreatedAt: t0,
		Items: []ledger.StockTakeItem{{ProductID: productID, SystemCase: 5, ActualCase: 4, DiffCase: -1}},
	}
	require.NoError(t, s.CreateStockTake(ctx, st))
	require.NoError(t, s.CompleteStockTake(ctx, st.ID, ledger.Operator{ID: "u-9"}, t0))
	assert.ErrorIs(t, s.CompleteStockTake(ctx, st.ID, ledger.Operator{ID: "u-9"}, t0), ledger.ErrAlreadyCompleted)
	assert.ErrorIs(t, s.CompleteStockTake(ctx, 999, ledger.Operator{ID: "u-9"}, t0), ledger.ErrStockTakeNotFound)

	done, err := s.GetStockTake(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StockTakeCompleted, done.Status)
	assert.Equal(t, "back room only", done.Note)
	require.Len(t, done.Items, 1)
	assert.Equal(t, int64(-1), done.Items[0].DiffCase)

	byMonth, err := s.ListStockTakes(ctx, ledger.StockTakeFilter{Month: "2025-03"})
	require.NoError(t, err)
	require.Len(t, byMonth, 1)
	assert.Equal(t, "back room only", byMonth[0].Note)
}

func TestNew_AddsColumnsMissingFromOlderDatabases(t *testing.T) {
	// GIVEN: A database whose stock_takes table predates the note column
	path := filepath.Join(t.TempDir(), "old.db")
	old, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = old.Exec(`CREATE TABLE stock_takes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		store_id INTEGER NOT NULL,
		take_date TEXT NOT NULL,
		month TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft',
		created_by_id TEXT NOT NULL,
		created_by_name TEXT NOT NULL DEFAULT '',
		completed_by_id TEXT NOT NULL DEFAULT '',
		completed_by_name TEXT NOT NULL DEFAULT '',
		completed_at DATETIME,
		created_at DATETIME NOT NULL
	)`)
	require.NoError(t, err)
	require.NoError(t, old.Close())

	// WHEN: Opening it
	s, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	// THEN: Notes are stored and read back
	ctx := context.Background()
	storeID, productID := seed(t, s)
	st := &ledger.StockTake{
		StoreID: storeID, Date: ledger.MustParseDate("2025-03-10"), Month: "2025-03",
		Status: ledger.StockTakeDraft, Note: "after upgrade", CreatedByID: "u-1", CreatedAt: t0,
		Items: []ledger.StockTakeItem{{ProductID: productID, ActualCase: 1, DiffCase: 1}},
	}
	require.NoError(t, s.CreateStockTake(ctx, st))
	got, err := s.GetStockTake(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, "after upgrade", got.Note)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(repo ledger.Repository) error {
		if err := repo.CreateStore(ctx, &ledger.Store{Code: "TMP", Name: "Temp", Active: true, CreatedAt: t0, UpdatedAt: t0}); err != nil {
			return err
		}
		return ledger.ErrNegativeBalance
	})

	assert.ErrorIs(t, err, ledger.ErrNegativeBalance)
	stores, err := s.ListStores(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, stores)
}

func TestClosedDatabase_IsUnavailable(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.GetStore(context.Background(), 1)

	assert.ErrorIs(t, err, ledger.ErrStorageUnavailable)
	assert.True(t, ledger.IsUnavailable(s.Ping(context.Background())))
}

func TestLedger_EndToEndOnSQLite(t *testing.T) {
	// GIVEN: A ledger backed by SQLite with the clock at 10:00 local
	s := newStore(t)
	ctx := context.Background()
	loc := time.FixedZone("UTC+07:00", 7*3600)
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, loc)
	cal := ledger.NewCalendar(loc)
	cal.Now = func() time.Time { return now }
	l := ledger.NewLedger(s, cal)
	catalog := &ledger.Catalog{Repo: s, Now: cal.Now}
	op := ledger.Operator{ID: "u-1", Name: "Clerk", Role: ledger.RoleUser}

	st, err := catalog.CreateStore(ctx, ledger.StoreInput{Code: "BKK-01", Name: "Bangkok"}, op)
	require.NoError(t, err)
	p, err := catalog.CreateProduct(ctx, ledger.ProductInput{SKU: "cola", Name: "Cola"}, op)
	require.NoError(t, err)

	// WHEN: Receiving twice, issuing once and cancelling the issue
	for _, cost := range []string{"10", "12"} {
		_, err := l.Inbound(ctx, ledger.MovementRequest{
			StoreID: st.ID, ProductID: p.ID, QuantityUnit: 50, UnitCostUnit: decimal.RequireFromString(cost), Operator: op,
		})
		require.NoError(t, err)
	}
	out, err := l.Outbound(ctx, ledger.MovementRequest{StoreID: st.ID, ProductID: p.ID, QuantityUnit: 30, Operator: op})
	require.NoError(t, err)
	_, err = l.CancelTransaction(ctx, out.ID, op)
	require.NoError(t, err)

	// THEN: The balance, the log and the snapshot agree
	b, err := l.GetBalance(ctx, st.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), b.QuantityUnit)
	assert.True(t, decimal.NewFromInt(1100).Equal(b.TotalCostUnit), b.TotalCostUnit.String())

	txs, err := l.ListTransactions(ctx, ledger.TransactionFilter{StoreID: st.ID, IncludeCancelled: true})
	require.NoError(t, err)
	assert.Len(t, txs, 4)

	snap, err := s.GetSnapshot(ctx, st.ID, p.ID, ledger.MustParseDate("2025-03-10"))
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(100), snap.Closing.Unit)
	assert.Equal(t, int64(0), snap.Outbound.Unit)

	audit, err := catalog.AuditTrail(ctx, ledger.AuditFilter{Table: "transactions"})
	require.NoError(t, err)
	assert.Len(t, audit, 1)
}
