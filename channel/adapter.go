/*
Package channel submits stock movements from a chat channel.

PURPOSE:
  Each store can be bound to one chat channel. A user in that channel first
  selects a product by SKU, barcode or a name search, then posts inbound
  or outbound quantities against it. The selection is remembered per
  (channel, user) for a short time so follow-up messages can omit the SKU.

  The selection cache is a convenience. When it cannot be written, a
  movement naming its SKU still goes through; only a movement relying on
  a remembered selection fails.

  Message parsing belongs to the bot in front of this package. Requests
  arrive here already structured.

SEE ALSO:
  - cache.go: in-memory and Redis selection caches
  - ledger.Ledger: the movements go through the same path as the web API
*/
package channel

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/stock-ledger/ledger"
)

// ErrNoSelection is returned when a movement names no SKU and the user has
// no live selection.
var ErrNoSelection = &ledger.ValidationError{Field: "sku", Reason: "no product selected"}

type Adapter struct {
	Ledger  *ledger.Ledger
	Catalog *ledger.Catalog
	Cache   SelectionCache
	TTL     time.Duration
	Log     logrus.FieldLogger
}

func NewAdapter(l *ledger.Ledger, c *ledger.Catalog, cache SelectionCache, log logrus.FieldLogger) *Adapter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Adapter{
		Ledger:  l,
		Catalog: c,
		Cache:   cache,
		TTL:     DefaultSelectionTTL,
		Log:     log.WithField("component", "channel"),
	}
}

func (a *Adapter) ttl() time.Duration {
	if a.TTL > 0 {
		return a.TTL
	}
	return DefaultSelectionTTL
}

// Sender identifies the chat user behind a request.
type Sender struct {
	ChannelID string
	UserID    string
	UserName  string
}

func (s Sender) operator() ledger.Operator {
	name := s.UserName
	if name == "" {
		name = s.UserID
	}
	return ledger.Operator{ID: s.UserID, Name: name, Role: ledger.RoleUser}
}

// Submission is one chat movement. SKU may be empty to reuse the selection.
type Submission struct {
	Sender
	SKU          string
	QuantityCase int64
	QuantityUnit int64
	UnitCostCase decimal.Decimal
	UnitCostUnit decimal.Decimal
	Note         string
}

// Selection is the store and product a chat user is working on.
type Selection struct {
	Store   *ledger.Store
	Product *ledger.Product
	Balance *ledger.Balance // nil when the product has no stock record yet
}

// Select resolves code as a SKU, falling back to a barcode, remembers it
// for the sender and returns the current balance in the channel's store.
func (a *Adapter) Select(ctx context.Context, from Sender, code string) (*Selection, error) {
	if from.UserID == "" {
		return nil, &ledger.ValidationError{Field: "user_id", Reason: "is required"}
	}
	store, err := a.Catalog.StoreForChannel(ctx, from.ChannelID)
	if err != nil {
		return nil, err
	}
	product, err := a.resolve(ctx, code)
	if err != nil {
		return nil, err
	}
	return a.selectProduct(ctx, from, store, product)
}

func (a *Adapter) selectProduct(ctx context.Context, from Sender, store *ledger.Store, product *ledger.Product) (*Selection, error) {
	a.remember(ctx, from, product.ID)
	balance, err := a.Ledger.GetBalance(ctx, store.ID, product.ID)
	if err != nil {
		return nil, err
	}
	return &Selection{Store: store, Product: product, Balance: balance}, nil
}

// SearchResult lists the products matching a keyword. Selection is set when
// exactly one product matched and it became the sender's selection.
type SearchResult struct {
	Matches   []ledger.Product
	Selection *Selection
}

// Search looks products up by name. A single match is selected right away;
// several are returned for the user to pick from by SKU.
func (a *Adapter) Search(ctx context.Context, from Sender, keyword string) (*SearchResult, error) {
	if from.UserID == "" {
		return nil, &ledger.ValidationError{Field: "user_id", Reason: "is required"}
	}
	store, err := a.Catalog.StoreForChannel(ctx, from.ChannelID)
	if err != nil {
		return nil, err
	}
	matches, err := a.Catalog.SearchProducts(ctx, keyword, 0)
	if err != nil {
		return nil, err
	}
	res := &SearchResult{Matches: matches}
	if len(matches) == 1 {
		if res.Selection, err = a.selectProduct(ctx, from, store, &matches[0]); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// resolve finds a product by SKU, then by barcode.
func (a *Adapter) resolve(ctx context.Context, code string) (*ledger.Product, error) {
	product, err := a.Catalog.FindProductBySKU(ctx, code)
	if !errors.Is(err, ledger.ErrProductNotFound) {
		return product, err
	}
	byBarcode, berr := a.Catalog.FindProductByBarcode(ctx, code)
	switch {
	case berr == nil:
		return byBarcode, nil
	case ledger.IsNotFound(berr), ledger.IsValidation(berr):
		return nil, err
	default:
		return nil, berr
	}
}

// remember stores the selection. A cache failure is logged and otherwise
// ignored: the caller already knows the product.
func (a *Adapter) remember(ctx context.Context, from Sender, id ledger.ProductID) {
	if err := a.Cache.Set(ctx, SelectionKey(from.ChannelID, from.UserID), id, a.ttl()); err != nil {
		a.Log.WithError(err).WithFields(logrus.Fields{
			"channel_id": from.ChannelID,
			"user_id":    from.UserID,
			"product_id": id,
		}).Warn("selection cache unavailable")
	}
}

// Current returns the sender's live selection, or ErrNoSelection.
func (a *Adapter) Current(ctx context.Context, from Sender) (*Selection, error) {
	store, err := a.Catalog.StoreForChannel(ctx, from.ChannelID)
	if err != nil {
		return nil, err
	}
	product, err := a.selected(ctx, from)
	if err != nil {
		return nil, err
	}
	balance, err := a.Ledger.GetBalance(ctx, store.ID, product.ID)
	if err != nil {
		return nil, err
	}
	return &Selection{Store: store, Product: product, Balance: balance}, nil
}

// Clear forgets the sender's selection.
func (a *Adapter) Clear(ctx context.Context, from Sender) error {
	return a.Cache.Delete(ctx, SelectionKey(from.ChannelID, from.UserID))
}

// Inbound receives stock into the channel's store.
func (a *Adapter) Inbound(ctx context.Context, s Submission) (*ledger.Transaction, error) {
	req, err := a.request(ctx, s)
	if err != nil {
		return nil, err
	}
	req.UnitCostCase = s.UnitCostCase
	req.UnitCostUnit = s.UnitCostUnit
	tx, err := a.Ledger.Inbound(ctx, req)
	a.logResult("inbound", s, tx, err)
	return tx, err
}

// Outbound issues stock from the channel's store at its average cost.
func (a *Adapter) Outbound(ctx context.Context, s Submission) (*ledger.Transaction, error) {
	req, err := a.request(ctx, s)
	if err != nil {
		return nil, err
	}
	tx, err := a.Ledger.Outbound(ctx, req)
	a.logResult("outbound", s, tx, err)
	return tx, err
}

func (a *Adapter) request(ctx context.Context, s Submission) (ledger.MovementRequest, error) {
	if s.UserID == "" {
		return ledger.MovementRequest{}, &ledger.ValidationError{Field: "user_id", Reason: "is required"}
	}
	store, err := a.Catalog.StoreForChannel(ctx, s.ChannelID)
	if err != nil {
		return ledger.MovementRequest{}, err
	}

	var product *ledger.Product
	if s.SKU != "" {
		if product, err = a.resolve(ctx, s.SKU); err != nil {
			return ledger.MovementRequest{}, err
		}
		// naming a SKU also refreshes the selection
		a.remember(ctx, s.Sender, product.ID)
	} else if product, err = a.selected(ctx, s.Sender); err != nil {
		return ledger.MovementRequest{}, err
	}

	return ledger.MovementRequest{
		StoreID:      store.ID,
		ProductID:    product.ID,
		QuantityCase: s.QuantityCase,
		QuantityUnit: s.QuantityUnit,
		Source:       ledger.SourceBot,
		Operator:     s.operator(),
		Note:         s.Note,
	}, nil
}

func (a *Adapter) selected(ctx context.Context, from Sender) (*ledger.Product, error) {
	id, ok, err := a.Cache.Get(ctx, SelectionKey(from.ChannelID, from.UserID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoSelection
	}
	return a.Catalog.GetProduct(ctx, id)
}

func (a *Adapter) logResult(kind string, s Submission, tx *ledger.Transaction, err error) {
	fields := logrus.Fields{
		"channel_id": s.ChannelID,
		"user_id":    s.UserID,
		"kind":       kind,
	}
	if err != nil {
		a.Log.WithFields(fields).WithError(err).Info("chat movement rejected")
		return
	}
	fields["tx_id"] = tx.ID
	a.Log.WithFields(fields).Info("chat movement posted")
}
