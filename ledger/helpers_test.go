package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var bangkok = time.FixedZone("UTC+07:00", 7*3600)

// clock is a settable time source shared by the calendar and the catalog.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// at returns a wall-clock instant in the business timezone.
func at(year int, month time.Month, day, hour, min, sec int) time.Time {
	return time.Date(year, month, day, hour, min, sec, 0, bangkok)
}

// eventLog records notifications.
type eventLog struct {
	mu     sync.Mutex
	events []ledger.Event
}

func (e *eventLog) Notify(_ context.Context, ev ledger.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventLog) Kinds() []ledger.EventKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ledger.EventKind, len(e.events))
	for i, ev := range e.events {
		out[i] = ev.Kind
	}
	return out
}

type fixture struct {
	ctx     context.Context
	repo    *store.Memory
	clock   *clock
	ledger  *ledger.Ledger
	catalog *ledger.Catalog
	adjust  *ledger.AdjustmentWorkflow
	takes   *ledger.StockTakeWorkflow
	events  *eventLog
	store   *ledger.Store
	product *ledger.Product
}

var clerk = ledger.Operator{ID: "u-1", Name: "Clerk", Role: ledger.RoleUser}
var manager = ledger.Operator{ID: "u-9", Name: "Manager", Role: ledger.RoleStoreManager}

// newFixture builds a ledger over the memory store with one store and one
// product. The clock starts at 2025-03-10 10:00 local.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := store.NewMemory()
	clk := &clock{now: at(2025, time.March, 10, 10, 0, 0)}

	cal := ledger.NewCalendar(bangkok)
	cal.Now = clk.Now
	l := ledger.NewLedger(repo, cal)
	events := &eventLog{}
	l.Notifier = events

	catalog := &ledger.Catalog{Repo: repo, Now: clk.Now}
	st, err := catalog.CreateStore(ctx, ledger.StoreInput{Code: "BKK-01", Name: "Bangkok Main", ChannelID: "chan-1"}, manager)
	require.NoError(t, err)
	p, err := catalog.CreateProduct(ctx, ledger.ProductInput{SKU: "cola-330", Name: "Cola 330ml", UnitsPerCase: 24}, manager)
	require.NoError(t, err)

	return &fixture{
		ctx:     ctx,
		repo:    repo,
		clock:   clk,
		ledger:  l,
		catalog: catalog,
		adjust:  &ledger.AdjustmentWorkflow{Ledger: l},
		takes:   &ledger.StockTakeWorkflow{Ledger: l},
		events:  events,
		store:   st,
		product: p,
	}
}

func (f *fixture) inbound(t *testing.T, qtyCase, qtyUnit int64, costCase, costUnit string) *ledger.Transaction {
	t.Helper()
	tx, err := f.ledger.Inbound(f.ctx, ledger.MovementRequest{
		StoreID:      f.store.ID,
		ProductID:    f.product.ID,
		QuantityCase: qtyCase,
		QuantityUnit: qtyUnit,
		UnitCostCase: dec(costCase),
		UnitCostUnit: dec(costUnit),
		Operator:     clerk,
	})
	require.NoError(t, err)
	return tx
}

func (f *fixture) outbound(qtyCase, qtyUnit int64) (*ledger.Transaction, error) {
	return f.ledger.Outbound(f.ctx, ledger.MovementRequest{
		StoreID:      f.store.ID,
		ProductID:    f.product.ID,
		QuantityCase: qtyCase,
		QuantityUnit: qtyUnit,
		Operator:     clerk,
	})
}

func (f *fixture) balance(t *testing.T) ledger.Balance {
	t.Helper()
	b, err := f.ledger.GetBalance(f.ctx, f.store.ID, f.product.ID)
	require.NoError(t, err)
	require.NotNil(t, b)
	return *b
}

func (f *fixture) snapshot(t *testing.T, date ledger.Date) ledger.Snapshot {
	t.Helper()
	s, err := f.repo.GetSnapshot(f.ctx, f.store.ID, f.product.ID, date)
	require.NoError(t, err)
	require.NotNil(t, s, "no snapshot for %s", date)
	return *s
}

func dec(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func (e *eventLog) Last() ledger.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.events) == 0 {
		return ledger.Event{}
	}
	return e.events[len(e.events)-1]
}
