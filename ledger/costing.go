package ledger

import "github.com/shopspring/decimal"

// =============================================================================
// COSTING ENGINE - Weighted-average cost per unit dimension
// =============================================================================

// CostingEngine holds the weighted-average law:
//
//	newQty  = oldQty + deltaQty
//	newCost = oldCost + deltaCost
//	avg     = newQty > 0 ? newCost / newQty : 0
//
// applied to the case pool and the unit pool independently. It has no side
// effects and performs no rounding; callers round when persisting.
type CostingEngine struct{}

// Apply adds d to b and returns the new balance fields.
func (CostingEngine) Apply(b Balance, d Delta) Balance {
	b.QuantityCase += d.Case
	b.QuantityUnit += d.Unit
	b.TotalCostCase = b.TotalCostCase.Add(d.CostCase)
	b.TotalCostUnit = b.TotalCostUnit.Add(d.CostUnit)
	return b
}

// InboundCost is the cost added by receiving n items at unitCost each.
func (CostingEngine) InboundCost(n int64, unitCost decimal.Decimal) decimal.Decimal {
	return unitCost.Mul(decimal.NewFromInt(n))
}

// OutboundCost is the (negative) cost removed by issuing n items from a
// pool holding qty items at totalCost. Computed as totalCost*n/qty so the
// average of the remaining pool is unchanged.
func (CostingEngine) OutboundCost(qty int64, totalCost decimal.Decimal, n int64) decimal.Decimal {
	if qty <= 0 || n == 0 {
		return decimal.Zero
	}
	return totalCost.Mul(decimal.NewFromInt(n)).Div(decimal.NewFromInt(qty)).Neg()
}

// AtAverage values a signed quantity at the pool's current average. Used
// where the current average stands in for a historical one (stock takes,
// make-up outbound).
func (CostingEngine) AtAverage(qty int64, totalCost decimal.Decimal, n int64) decimal.Decimal {
	if qty <= 0 || n == 0 {
		return decimal.Zero
	}
	return totalCost.Mul(decimal.NewFromInt(n)).Div(decimal.NewFromInt(qty))
}

// AverageCost returns totalCost/qty, or zero for an empty pool.
func AverageCost(qty int64, totalCost decimal.Decimal) decimal.Decimal {
	if qty <= 0 {
		return decimal.Zero
	}
	return totalCost.Div(decimal.NewFromInt(qty))
}

// inboundDelta prices a receipt with explicit unit costs.
func (c CostingEngine) inboundDelta(qtyCase, qtyUnit int64, unitCostCase, unitCostUnit decimal.Decimal) Delta {
	return Delta{
		Case:     qtyCase,
		Unit:     qtyUnit,
		CostCase: c.InboundCost(qtyCase, unitCostCase),
		CostUnit: c.InboundCost(qtyUnit, unitCostUnit),
	}
}

// outboundDelta prices an issue of qtyCase/qtyUnit (positive counts) at the
// balance's current average.
func (c CostingEngine) outboundDelta(b Balance, qtyCase, qtyUnit int64) Delta {
	return Delta{
		Case:     -qtyCase,
		Unit:     -qtyUnit,
		CostCase: c.OutboundCost(b.QuantityCase, b.TotalCostCase, qtyCase),
		CostUnit: c.OutboundCost(b.QuantityUnit, b.TotalCostUnit, qtyUnit),
	}
}

// averageDelta prices signed quantity changes at the current average.
func (c CostingEngine) averageDelta(b Balance, diffCase, diffUnit int64) Delta {
	return Delta{
		Case:     diffCase,
		Unit:     diffUnit,
		CostCase: c.AtAverage(b.QuantityCase, b.TotalCostCase, diffCase),
		CostUnit: c.AtAverage(b.QuantityUnit, b.TotalCostUnit, diffUnit),
	}
}
