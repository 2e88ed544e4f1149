package ledger

// =============================================================================
// MOVEMENT VALIDATOR - Stock sufficiency and unit separation
// =============================================================================

// MovementValidator admits or rejects movements that remove stock.
//
// UNIT SEPARATION:
//
//	A case request is satisfied only from QuantityCase and a unit request
//	only from QuantityUnit. Two full cases never cover a 9-unit request when
//	only 5 loose units are on hand; breaking a case is an explicit conversion.
type MovementValidator struct{}

// CanOutbound returns nil when b can supply requestCase and requestUnit,
// ErrNoInventoryRecord when b is absent, or an *InsufficientStockError
// naming the first short dimension.
func (MovementValidator) CanOutbound(b *Balance, requestCase, requestUnit int64) error {
	if b == nil {
		return ErrNoInventoryRecord
	}
	if requestCase > b.QuantityCase {
		return &InsufficientStockError{
			StoreID:   b.StoreID,
			ProductID: b.ProductID,
			Dimension: DimensionCase,
			Available: b.QuantityCase,
			Requested: requestCase,
		}
	}
	if requestUnit > b.QuantityUnit {
		return &InsufficientStockError{
			StoreID:   b.StoreID,
			ProductID: b.ProductID,
			Dimension: DimensionUnit,
			Available: b.QuantityUnit,
			Requested: requestUnit,
		}
	}
	return nil
}

// CanApply checks a signed delta: every negative component must be covered
// by the same dimension of b.
func (v MovementValidator) CanApply(b *Balance, d Delta) error {
	var needCase, needUnit int64
	if d.Case < 0 {
		needCase = -d.Case
	}
	if d.Unit < 0 {
		needUnit = -d.Unit
	}
	if needCase == 0 && needUnit == 0 {
		return nil
	}
	return v.CanOutbound(b, needCase, needUnit)
}

// CanConvert validates the two conversion sub-moves in order: cases broken
// into units first, then units packed into cases against the stock left
// after the first move.
func (v MovementValidator) CanConvert(b *Balance, c Conversion) error {
	if c.FromCase == 0 && c.FromUnit == 0 {
		return nil
	}
	if err := v.CanOutbound(b, c.FromCase, 0); err != nil {
		return err
	}
	after := *b
	after.QuantityCase -= c.FromCase
	after.QuantityUnit += c.ToUnit
	return v.CanOutbound(&after, 0, c.FromUnit)
}
