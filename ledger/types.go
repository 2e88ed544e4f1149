/*
Package ledger provides the multi-store inventory ledger and costing engine.

PURPOSE:
  Tracks per-store, per-product stock in two independent units (case and
  loose unit), keeps a weighted-average cost per unit dimension, and records
  every stock change as an append-only transaction dated to a business day
  that runs 05:00 to 04:59:59 local time.

KEY CONCEPTS IN THIS FILE (types.go):
  - Store / Product: master data, deactivated but never deleted
  - Balance: materialized quantity and cost per (store, product)
  - Delta: a signed change to a Balance
  - Transaction: an immutable ledger row recording one committed movement
  - Operator: who performed a write (recorded, not authorized, here)

DESIGN PRINCIPLES:
  1. Unit separation: case and unit never share a quantity or cost pool
  2. Precision: decimal.Decimal for every monetary value
  3. Immutability: transaction quantities and costs are never edited;
     reversal inserts a "cancel" row and flags the original
  4. Balances never go negative in either dimension

USAGE:
  l := ledger.NewLedger(repo, ledger.NewCalendar(loc))
  tx, err := l.Inbound(ctx, ledger.MovementRequest{
      StoreID: 1, ProductID: 7, QuantityCase: 10,
      UnitCostCase: decimal.NewFromInt(120),
      Operator: ledger.Operator{ID: "u-1", Name: "Amy"},
  })

SEE ALSO:
  - costing.go: weighted-average arithmetic
  - validator.go: stock sufficiency and unit separation
  - ledger.go: movement posting and cancellation
  - snapshot.go: daily rollup
*/
package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CostScale is the number of fractional digits kept when a cost is persisted.
const CostScale int32 = 2

// =============================================================================
// IDENTIFIERS
// =============================================================================

type StoreID int64
type ProductID int64
type TransactionID int64
type AdjustmentID int64
type StockTakeID int64

// =============================================================================
// MASTER DATA
// =============================================================================

// Store is a warehouse or shop location.
type Store struct {
	ID        StoreID
	Code      string
	Name      string
	Address   string
	Phone     string
	ChannelID string // chat channel bound to this store, empty when unbound
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Product is SKU master data. UnitsPerCase is informational and is never
// used to convert one dimension's stock into the other.
type Product struct {
	ID              ProductID
	SKU             string
	Name            string
	Barcode         string
	Category        string
	UnitsPerCase    int64
	UnitPrice       decimal.Decimal
	SafetyStockCase int64
	SafetyStockUnit int64
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CanonicalSKU returns the case-insensitive canonical form of a SKU.
func CanonicalSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

// =============================================================================
// BALANCE - Materialized stock per (store, product)
// =============================================================================

// Balance is the current stock and cost basis for one store and product.
// Version increases on every write and guards concurrent updates.
type Balance struct {
	StoreID       StoreID
	ProductID     ProductID
	QuantityCase  int64
	QuantityUnit  int64
	TotalCostCase decimal.Decimal
	TotalCostUnit decimal.Decimal
	Version       int64
	UpdatedAt     time.Time
}

func (b Balance) AvgCostCase() decimal.Decimal { return AverageCost(b.QuantityCase, b.TotalCostCase) }
func (b Balance) AvgCostUnit() decimal.Decimal { return AverageCost(b.QuantityUnit, b.TotalCostUnit) }
func (b Balance) IsEmpty() bool                { return b.QuantityCase == 0 && b.QuantityUnit == 0 }

// Rounded returns b with costs rounded to CostScale for persistence.
func (b Balance) Rounded() Balance {
	b.TotalCostCase = b.TotalCostCase.Round(CostScale)
	b.TotalCostUnit = b.TotalCostUnit.Round(CostScale)
	return b
}

// BelowSafetyStock reports whether either dimension is at or below the
// product's threshold. A zero threshold disables the check for that dimension.
func (b Balance) BelowSafetyStock(p Product) bool {
	if p.SafetyStockCase > 0 && b.QuantityCase <= p.SafetyStockCase {
		return true
	}
	return p.SafetyStockUnit > 0 && b.QuantityUnit <= p.SafetyStockUnit
}

// Delta is a signed change applied to a Balance.
type Delta struct {
	Case     int64
	Unit     int64
	CostCase decimal.Decimal
	CostUnit decimal.Decimal
}

func (d Delta) Neg() Delta {
	return Delta{Case: -d.Case, Unit: -d.Unit, CostCase: d.CostCase.Neg(), CostUnit: d.CostUnit.Neg()}
}

func (d Delta) IsZero() bool {
	return d.Case == 0 && d.Unit == 0 && d.CostCase.IsZero() && d.CostUnit.IsZero()
}

// =============================================================================
// TRANSACTION - Immutable ledger row
// =============================================================================

type TransactionType string

const (
	TxInbound       TransactionType = "inbound"        // goods received
	TxOutbound      TransactionType = "outbound"       // goods issued
	TxAdjustmentIn  TransactionType = "adjustment_in"  // approved make-up inbound
	TxAdjustmentOut TransactionType = "adjustment_out" // approved make-up outbound
	TxConversion    TransactionType = "conversion"     // case/unit conversion, zero cost
	TxStockTake     TransactionType = "stocktake"      // physical count correction
	TxCancel        TransactionType = "cancel"         // reversal of another row
)

func (t TransactionType) Valid() bool {
	switch t {
	case TxInbound, TxOutbound, TxAdjustmentIn, TxAdjustmentOut, TxConversion, TxStockTake, TxCancel:
		return true
	}
	return false
}

type Source string

const (
	SourceWeb    Source = "web"
	SourceBot    Source = "bot"
	SourceSystem Source = "system"
)

type Transaction struct {
	ID           TransactionID
	StoreID      StoreID
	ProductID    ProductID
	Type         TransactionType
	QuantityCase int64 // signed; positive increases the balance
	QuantityUnit int64

	UnitCostCase decimal.NullDecimal
	UnitCostUnit decimal.NullDecimal
	CostCase     decimal.Decimal // signed cost delta applied to the case pool
	CostUnit     decimal.Decimal // signed cost delta applied to the unit pool
	TotalCost    decimal.Decimal

	BusinessDate    Date
	TransactionTime time.Time
	Source          Source
	OperatorID      string
	OperatorName    string

	AdjustmentID *AdjustmentID
	StockTakeID  *StockTakeID

	// Cancellation links: CancelsID is set on a cancel row, CancelledByID on
	// the row it reversed.
	CancelsID     *TransactionID
	CancelledByID *TransactionID
	IsCancelled   bool

	Note      string
	CreatedAt time.Time
}

// Delta returns the balance change this row applied.
func (t Transaction) Delta() Delta {
	return Delta{Case: t.QuantityCase, Unit: t.QuantityUnit, CostCase: t.CostCase, CostUnit: t.CostUnit}
}

// TransactionFilter narrows transaction queries. Zero values are ignored.
type TransactionFilter struct {
	StoreID          StoreID
	ProductID        ProductID
	Types            []TransactionType
	From             Date
	To               Date
	AfterID          TransactionID
	IncludeCancelled bool
	Limit            int
	Newest           bool // order by id descending
}

// =============================================================================
// OPERATOR - Identity recorded on every write
// =============================================================================

type Role string

const (
	RoleUser         Role = "user"
	RoleAdmin        Role = "admin"
	RoleStoreManager Role = "store_manager"
)

type Operator struct {
	ID   string
	Name string
	Role Role
}
