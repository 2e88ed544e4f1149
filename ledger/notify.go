package ledger

import (
	"context"
	"time"
)

// =============================================================================
// EVENTS - Post-commit notifications for reporting adapters
// =============================================================================

type EventKind string

const (
	EventMovementPosted       EventKind = "movement_posted"
	EventTransactionCancelled EventKind = "transaction_cancelled"
	EventAdjustmentApproved   EventKind = "adjustment_approved"
	EventAdjustmentRejected   EventKind = "adjustment_rejected"
	EventStockTakeCompleted   EventKind = "stocktake_completed"
)

// Event describes a committed change. BusinessDate is the earliest business
// date whose snapshots changed; Retroactive is set when every later date
// through today was recomputed as well.
type Event struct {
	Kind           EventKind
	StoreID        StoreID
	ProductIDs     []ProductID
	TransactionIDs []TransactionID
	AdjustmentID   AdjustmentID
	StockTakeID    StockTakeID
	BusinessDate   Date
	Retroactive    bool
	OccurredAt     time.Time
}

// Notifier receives events after commit. Notify must not block on network
// I/O and must not report failures back to the ledger.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event)

func (f NotifierFunc) Notify(ctx context.Context, ev Event) { f(ctx, ev) }
