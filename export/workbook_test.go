package export_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/export"
	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/ledger/store"
	"github.com/xuri/excelize/v2"
)

var bangkok = time.FixedZone("UTC+07:00", 7*3600)

type fixture struct {
	ledger   *ledger.Ledger
	catalog  *ledger.Catalog
	workbook *export.Workbook
	store    *ledger.Store
	product  *ledger.Product
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2025, 3, 10, 10, 0, 0, 0, bangkok)}
	repo := store.NewMemory()
	cal := ledger.NewCalendar(bangkok)
	cal.Now = func() time.Time { return f.now }
	f.ledger = ledger.NewLedger(repo, cal)
	f.catalog = &ledger.Catalog{Repo: repo, Now: cal.Now}
	f.workbook = &export.Workbook{Snapshots: f.ledger.Rollup, Catalog: f.catalog}

	op := ledger.Operator{ID: "admin", Name: "Admin", Role: ledger.RoleAdmin}
	ctx := context.Background()
	var err error
	f.store, err = f.catalog.CreateStore(ctx, ledger.StoreInput{Code: "BKK-01", Name: "Bangkok"}, op)
	require.NoError(t, err)
	f.product, err = f.catalog.CreateProduct(ctx, ledger.ProductInput{SKU: "COLA-330", Name: "Cola", UnitsPerCase: 24}, op)
	require.NoError(t, err)
	return f
}

func (f *fixture) receive(t *testing.T, at time.Time, qtyCase int64, cost string) {
	t.Helper()
	f.now = at
	_, err := f.ledger.Inbound(context.Background(), ledger.MovementRequest{
		StoreID:      f.store.ID,
		ProductID:    f.product.ID,
		QuantityCase: qtyCase,
		UnitCostCase: decimal.RequireFromString(cost),
		Source:       ledger.SourceWeb,
		Operator:     ledger.Operator{ID: "u-1", Name: "Clerk", Role: ledger.RoleUser},
	})
	require.NoError(t, err)
}

func TestWorkbook_OneSheetPerDay(t *testing.T) {
	// GIVEN: Receipts on the 8th and the 10th
	f := newFixture(t)
	f.receive(t, time.Date(2025, 3, 8, 9, 0, 0, 0, bangkok), 2, "50")
	f.receive(t, time.Date(2025, 3, 10, 9, 0, 0, 0, bangkok), 3, "60")

	// WHEN: Building the 8th through the 10th
	wb, err := f.workbook.Build(context.Background(), f.store.ID, ledger.MustParseDate("2025-03-08"), ledger.MustParseDate("2025-03-10"))
	require.NoError(t, err)
	defer wb.Close()

	// THEN: Sheets are labelled MMDD in date order
	assert.Equal(t, []string{"0308", "0309", "0310"}, wb.GetSheetList())

	rows, err := wb.GetRows("0310")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, export.Headings, rows[0])
	assert.Equal(t, "COLA-330", rows[1][0])
	assert.Equal(t, "Bangkok", rows[1][2])
	assert.Equal(t, "2", rows[1][3])  // opening case
	assert.Equal(t, "3", rows[1][6])  // inbound case
	assert.Equal(t, "5", rows[1][15]) // closing case
	assert.Equal(t, "280", rows[1][17])

	// AND: A quiet day without a stored snapshot has headings only
	rows, err = wb.GetRows("0309")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestWorkbook_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.workbook.Build(ctx, f.store.ID, ledger.MustParseDate("2025-03-10"), ledger.MustParseDate("2025-03-09"))
	assert.True(t, ledger.IsValidation(err))

	_, err = f.workbook.Build(ctx, 99, ledger.MustParseDate("2025-03-09"), ledger.MustParseDate("2025-03-10"))
	assert.ErrorIs(t, err, ledger.ErrStoreNotFound)
}

func TestWorkbook_RangeRepeatingADayLabel(t *testing.T) {
	// GIVEN: 366 days from one New Year's Day through the next
	f := newFixture(t)
	from, to := ledger.MustParseDate("2025-01-01"), ledger.MustParseDate("2026-01-01")
	require.Len(t, from.DaysThrough(to), 366)

	// WHEN: Building the workbook
	_, err := f.workbook.Build(context.Background(), f.store.ID, from, to)

	// THEN: It is refused instead of overwriting the 0101 sheet
	require.Error(t, err)
	assert.True(t, ledger.IsValidation(err))
	assert.Contains(t, err.Error(), "0101")
}

func TestFileSink_WritesEveryTouchedMonth(t *testing.T) {
	// GIVEN: Stock received in February, then a retroactive event on 28 Feb
	f := newFixture(t)
	f.receive(t, time.Date(2025, 2, 28, 9, 0, 0, 0, bangkok), 1, "10")
	f.now = time.Date(2025, 3, 2, 9, 0, 0, 0, bangkok)

	sink := &export.FileSink{Dir: filepath.Join(t.TempDir(), "out"), Workbook: f.workbook, Calendar: f.ledger.Calendar}
	ev := ledger.Event{
		Kind:         ledger.EventAdjustmentApproved,
		StoreID:      f.store.ID,
		BusinessDate: ledger.MustParseDate("2025-02-28"),
		Retroactive:  true,
	}

	// WHEN: The sink handles it
	require.NoError(t, sink.Handle(context.Background(), ev))

	// THEN: February is written in full and March through today
	feb := sink.Path(f.store.ID, ledger.MustParseDate("2025-02-01"))
	mar := sink.Path(f.store.ID, ledger.MustParseDate("2025-03-01"))
	assert.Equal(t, "store-1-2025-02.xlsx", filepath.Base(feb))

	wb, err := excelize.OpenFile(feb)
	require.NoError(t, err)
	assert.Len(t, wb.GetSheetList(), 28)
	wb.Close()

	wb, err = excelize.OpenFile(mar)
	require.NoError(t, err)
	assert.Equal(t, []string{"0301", "0302"}, wb.GetSheetList())
	wb.Close()
}

func TestFileSink_IgnoresUndatedEvents(t *testing.T) {
	f := newFixture(t)
	dir := filepath.Join(t.TempDir(), "out")
	sink := &export.FileSink{Dir: dir, Workbook: f.workbook, Calendar: f.ledger.Calendar}

	require.NoError(t, sink.Handle(context.Background(), ledger.Event{StoreID: f.store.ID}))

	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}
