package channel_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/channel"
	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/ledger/store"
)

var bangkok = time.FixedZone("UTC+07:00", 7*3600)

type fixture struct {
	adapter *channel.Adapter
	cache   *channel.MemoryCache
	ledger  *ledger.Ledger
	catalog *ledger.Catalog
	store   *ledger.Store
	cola    *ledger.Product
	water   *ledger.Product
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2025, 3, 10, 10, 0, 0, 0, bangkok)}
	clock := func() time.Time { return f.now }
	repo := store.NewMemory()
	cal := ledger.NewCalendar(bangkok)
	cal.Now = clock
	f.ledger = ledger.NewLedger(repo, cal)
	catalog := &ledger.Catalog{Repo: repo, Now: clock}

	log := logrus.New()
	log.SetOutput(io.Discard)
	f.ledger.Log = log
	f.cache = channel.NewMemoryCache()
	f.cache.Now = clock
	f.catalog = catalog
	f.adapter = channel.NewAdapter(f.ledger, catalog, f.cache, log)

	op := ledger.Operator{ID: "admin", Name: "Admin", Role: ledger.RoleAdmin}
	ctx := context.Background()
	var err error
	f.store, err = catalog.CreateStore(ctx, ledger.StoreInput{Code: "BKK-01", Name: "Bangkok", ChannelID: "chan-1"}, op)
	require.NoError(t, err)
	f.cola, err = catalog.CreateProduct(ctx, ledger.ProductInput{SKU: "COLA-330", Name: "Cola", Barcode: "8851959132012", UnitsPerCase: 24}, op)
	require.NoError(t, err)
	f.water, err = catalog.CreateProduct(ctx, ledger.ProductInput{SKU: "WATER-600", Name: "Water", UnitsPerCase: 12}, op)
	require.NoError(t, err)
	return f
}

var somchai = channel.Sender{ChannelID: "chan-1", UserID: "line-42", UserName: "Somchai"}

func TestSelect_RemembersProductPerUser(t *testing.T) {
	// GIVEN: A user picks cola by a lower-case SKU
	f := newFixture(t)
	ctx := context.Background()

	sel, err := f.adapter.Select(ctx, somchai, " cola-330 ")

	// THEN: The store comes from the channel and there is no stock record yet
	require.NoError(t, err)
	assert.Equal(t, f.store.ID, sel.Store.ID)
	assert.Equal(t, f.cola.ID, sel.Product.ID)
	assert.Nil(t, sel.Balance)

	cur, err := f.adapter.Current(ctx, somchai)
	require.NoError(t, err)
	assert.Equal(t, f.cola.ID, cur.Product.ID)

	// AND: Another user in the same channel has nothing selected
	_, err = f.adapter.Current(ctx, channel.Sender{ChannelID: "chan-1", UserID: "line-7"})
	assert.ErrorIs(t, err, channel.ErrNoSelection)
}

func TestSubmissions_UseSelectionAndBotSource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.adapter.Select(ctx, somchai, "COLA-330")
	require.NoError(t, err)

	// WHEN: Receiving and issuing without naming a SKU
	in, err := f.adapter.Inbound(ctx, channel.Submission{
		Sender:       somchai,
		QuantityCase: 5,
		UnitCostCase: decimal.NewFromInt(120),
	})
	require.NoError(t, err)
	out, err := f.adapter.Outbound(ctx, channel.Submission{Sender: somchai, QuantityCase: 2})
	require.NoError(t, err)

	// THEN: Both rows hit the selected product and are tagged as bot input
	for _, tx := range []*ledger.Transaction{in, out} {
		assert.Equal(t, f.cola.ID, tx.ProductID)
		assert.Equal(t, ledger.SourceBot, tx.Source)
		assert.Equal(t, "line-42", tx.OperatorID)
		assert.Equal(t, "Somchai", tx.OperatorName)
	}
	b, err := f.ledger.GetBalance(ctx, f.store.ID, f.cola.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), b.QuantityCase)
	assert.True(t, decimal.NewFromInt(360).Equal(b.TotalCostCase))
}

func TestSubmissions_NamingSKUSwitchesSelection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.adapter.Select(ctx, somchai, "COLA-330")
	require.NoError(t, err)

	_, err = f.adapter.Inbound(ctx, channel.Submission{Sender: somchai, SKU: "water-600", QuantityUnit: 6, UnitCostUnit: decimal.NewFromInt(7)})
	require.NoError(t, err)

	cur, err := f.adapter.Current(ctx, somchai)
	require.NoError(t, err)
	assert.Equal(t, f.water.ID, cur.Product.ID)
	require.NotNil(t, cur.Balance)
	assert.Equal(t, int64(6), cur.Balance.QuantityUnit)
}

func TestSubmissions_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.adapter.Outbound(ctx, channel.Submission{Sender: somchai, QuantityCase: 1})
	assert.ErrorIs(t, err, channel.ErrNoSelection)
	assert.True(t, ledger.IsValidation(err))

	_, err = f.adapter.Select(ctx, channel.Sender{ChannelID: "chan-9", UserID: "x"}, "COLA-330")
	assert.ErrorIs(t, err, ledger.ErrStoreNotFound)

	_, err = f.adapter.Select(ctx, channel.Sender{ChannelID: "chan-1"}, "COLA-330")
	assert.True(t, ledger.IsValidation(err))

	_, err = f.adapter.Select(ctx, somchai, "NOPE")
	assert.ErrorIs(t, err, ledger.ErrProductNotFound)

	_, err = f.adapter.Outbound(ctx, channel.Submission{Sender: somchai, SKU: "COLA-330", QuantityCase: 1})
	assert.ErrorIs(t, err, ledger.ErrNoInventoryRecord)
}

func TestSelection_ExpiresAndClears(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.adapter.Select(ctx, somchai, "COLA-330")
	require.NoError(t, err)

	f.now = f.now.Add(channel.DefaultSelectionTTL - time.Second)
	_, err = f.adapter.Current(ctx, somchai)
	require.NoError(t, err)

	f.now = f.now.Add(time.Second)
	_, err = f.adapter.Current(ctx, somchai)
	assert.ErrorIs(t, err, channel.ErrNoSelection)

	_, err = f.adapter.Select(ctx, somchai, "COLA-330")
	require.NoError(t, err)
	require.NoError(t, f.adapter.Clear(ctx, somchai))
	_, err = f.adapter.Current(ctx, somchai)
	assert.ErrorIs(t, err, channel.ErrNoSelection)
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	c := channel.NewMemoryCache()
	c.Now = func() time.Time { return now }
	key := channel.SelectionKey("chan-1", "u-1")
	assert.Equal(t, "selection:chan-1:u-1", key)

	require.NoError(t, c.Set(ctx, key, 9, time.Minute))
	id, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ledger.ProductID(9), id)

	now = now.Add(time.Minute)
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Delete(ctx, "missing"))
}

func TestSelect_FallsBackToBarcode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sel, err := f.adapter.Select(ctx, somchai, "8851959132012")

	require.NoError(t, err)
	assert.Equal(t, f.cola.ID, sel.Product.ID)
	cur, err := f.adapter.Current(ctx, somchai)
	require.NoError(t, err)
	assert.Equal(t, f.cola.ID, cur.Product.ID)

	// AND: A submission may name the barcode in place of the SKU
	tx, err := f.adapter.Inbound(ctx, channel.Submission{Sender: somchai, SKU: "8851959132012", QuantityCase: 1})
	require.NoError(t, err)
	assert.Equal(t, f.cola.ID, tx.ProductID)
}

func TestSearch_SelectsSingleMatchOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// WHEN: The keyword matches one product
	res, err := f.adapter.Search(ctx, somchai, "WAT")

	// THEN: It becomes the selection
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	require.NotNil(t, res.Selection)
	assert.Equal(t, f.water.ID, res.Selection.Product.ID)
	cur, err := f.adapter.Current(ctx, somchai)
	require.NoError(t, err)
	assert.Equal(t, f.water.ID, cur.Product.ID)

	// WHEN: Several products match
	op := ledger.Operator{ID: "admin", Name: "Admin", Role: ledger.RoleAdmin}
	_, err = f.catalog.CreateProduct(ctx, ledger.ProductInput{SKU: "COLA-ZERO", Name: "Cola Zero"}, op)
	require.NoError(t, err)
	res, err = f.adapter.Search(ctx, somchai, "cola")

	// THEN: They are listed by SKU and the old selection stays
	require.NoError(t, err)
	require.Len(t, res.Matches, 2)
	assert.Equal(t, "COLA-330", res.Matches[0].SKU)
	assert.Equal(t, "COLA-ZERO", res.Matches[1].SKU)
	assert.Nil(t, res.Selection)
	cur, err = f.adapter.Current(ctx, somchai)
	require.NoError(t, err)
	assert.Equal(t, f.water.ID, cur.Product.ID)

	// AND: No match is an empty list, not an error
	res, err = f.adapter.Search(ctx, somchai, "juice")
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
	assert.Nil(t, res.Selection)
}

// downCache fails every call, like a Redis that went away.
type downCache struct{}

var errRedisDown = errors.New("redis down")

func (downCache) Get(context.Context, string) (ledger.ProductID, bool, error) {
	return 0, false, errRedisDown
}

func (downCache) Set(context.Context, string, ledger.ProductID, time.Duration) error {
	return errRedisDown
}

func (downCache) Delete(context.Context, string) error { return errRedisDown }

func TestSubmissions_SurviveCacheOutageWhenSKUIsNamed(t *testing.T) {
	// GIVEN: A selection cache that fails every call
	f := newFixture(t)
	f.adapter.Cache = downCache{}
	ctx := context.Background()

	// WHEN: Selecting and submitting with an explicit SKU
	sel, err := f.adapter.Select(ctx, somchai, "COLA-330")
	require.NoError(t, err)
	assert.Equal(t, f.cola.ID, sel.Product.ID)
	tx, err := f.adapter.Inbound(ctx, channel.Submission{Sender: somchai, SKU: "COLA-330", QuantityCase: 1})

	// THEN: The movement commits
	require.NoError(t, err)
	assert.Equal(t, f.cola.ID, tx.ProductID)
	b, err := f.ledger.GetBalance(ctx, f.store.ID, f.cola.ID)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, int64(1), b.QuantityCase)

	// AND: Relying on the remembered selection surfaces the outage
	_, err = f.adapter.Outbound(ctx, channel.Submission{Sender: somchai, QuantityCase: 1})
	assert.ErrorIs(t, err, errRedisDown)
}

func TestMemoryCache_SetSweepsExpiredEntries(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	c := channel.NewMemoryCache()
	c.Now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, channel.SelectionKey("chan-1", "gone"), 1, time.Minute))
	require.NoError(t, c.Set(ctx, channel.SelectionKey("chan-1", "stays"), 2, time.Hour))
	assert.Equal(t, 2, c.Len())

	// WHEN: Another user selects after the first entry expired, unread
	now = now.Add(2 * time.Minute)
	require.NoError(t, c.Set(ctx, channel.SelectionKey("chan-1", "new"), 3, time.Minute))

	// THEN: The expired entry is gone and live ones remain
	assert.Equal(t, 2, c.Len())
	_, ok, err := c.Get(ctx, channel.SelectionKey("chan-1", "stays"))
	require.NoError(t, err)
	assert.True(t, ok)
}
