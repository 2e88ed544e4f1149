/*
store.go - Persistence interfaces for the inventory ledger

PURPOSE:
  Defines the boundary between ledger rules and the database. The ledger
  never touches SQL; it works against Repository and runs every write path
  inside TxRepository.WithTx so a movement's balance update and its
  transaction row commit together.

KEY INTERFACES:
  MasterDataStore:  stores and products
  BalanceStore:     materialized balance rows with a version guard
  TransactionStore: append-only transaction log (+ cancellation flag)
  WorkflowStore:    adjustments and stock takes
  SnapshotStore:    derived daily snapshots
  AuditLog:         who changed what
  TxRepository:     all of the above plus WithTx

CONVENTIONS:
  - Get* returns (nil, nil) when the record does not exist.
  - SaveBalance inserts when Version is 0 and otherwise updates only if the
    stored version still equals b.Version; a mismatch returns
    ErrConcurrentModification. The stored version becomes b.Version+1.
  - Transaction rows are never updated except through MarkCancelled.
  - Implementations wrap connectivity failures in ErrStorageUnavailable.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite via sqlx
  - ledger/store/memory.go: in-memory for tests

SEE ALSO:
  - ledger.go: the only writer of balances and transactions
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// MASTER DATA
// =============================================================================

type MasterDataStore interface {
	// CreateStore assigns s.ID. Returns ErrDuplicate if the code exists.
	CreateStore(ctx context.Context, s *Store) error
	UpdateStore(ctx context.Context, s Store) error
	GetStore(ctx context.Context, id StoreID) (*Store, error)
	GetStoreByChannel(ctx context.Context, channelID string) (*Store, error)
	ListStores(ctx context.Context, includeInactive bool) ([]Store, error)

	// CreateProduct assigns p.ID. Returns ErrDuplicate if the SKU exists.
	CreateProduct(ctx context.Context, p *Product) error
	UpdateProduct(ctx context.Context, p Product) error
	GetProduct(ctx context.Context, id ProductID) (*Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*Product, error)
	// GetProductByBarcode prefers an active product when several share the
	// barcode, then the lowest ID.
	GetProductByBarcode(ctx context.Context, barcode string) (*Product, error)
	// SearchProducts returns active products whose name contains keyword,
	// ignoring case, ordered by SKU.
	SearchProducts(ctx context.Context, keyword string, limit int) ([]Product, error)
	ListProducts(ctx context.Context, includeInactive bool) ([]Product, error)
}

// =============================================================================
// BALANCES
// =============================================================================

type BalanceStore interface {
	GetBalance(ctx context.Context, storeID StoreID, productID ProductID) (*Balance, error)

	// SaveBalance inserts when b.Version is 0 and otherwise updates only if
	// the stored version still equals b.Version; the stored version is then
	// incremented. A mismatch returns ErrConcurrentModification.
	SaveBalance(ctx context.Context, b Balance) error
	ListBalances(ctx context.Context, storeID StoreID) ([]Balance, error)
}

// =============================================================================
// TRANSACTIONS (append-only)
// =============================================================================

type TransactionStore interface {
	// AppendTransaction assigns tx.ID. Ids increase monotonically.
	AppendTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)

	// MarkCancelled flags id as cancelled by cancelledBy.
	MarkCancelled(ctx context.Context, id, cancelledBy TransactionID) error

	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
}

// =============================================================================
// WORKFLOWS
// =============================================================================

type WorkflowStore interface {
	// CreateAdjustment assigns ids to the adjustment and its items.
	CreateAdjustment(ctx context.Context, a *Adjustment) error
	GetAdjustment(ctx context.Context, id AdjustmentID) (*Adjustment, error)
	ListAdjustments(ctx context.Context, filter AdjustmentFilter) ([]Adjustment, error)

	// ResolveAdjustment moves a pending adjustment to a.Status and records
	// the approver. Returns ErrAlreadyProcessed if it is no longer pending.
	ResolveAdjustment(ctx context.Context, a Adjustment) error

	CreateStockTake(ctx context.Context, st *StockTake) error
	GetStockTake(ctx context.Context, id StockTakeID) (*StockTake, error)
	ListStockTakes(ctx context.Context, filter StockTakeFilter) ([]StockTake, error)

	// CompleteStockTake moves a draft to completed. Returns
	// ErrAlreadyCompleted if it is not a draft.
	CompleteStockTake(ctx context.Context, id StockTakeID, by Operator, at time.Time) error
}

// =============================================================================
// SNAPSHOTS (derived)
// =============================================================================

type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, s Snapshot) error
	GetSnapshot(ctx context.Context, storeID StoreID, productID ProductID, date Date) (*Snapshot, error)

	// LatestSnapshotBefore returns the most recent snapshot strictly before date.
	LatestSnapshotBefore(ctx context.Context, storeID StoreID, productID ProductID, date Date) (*Snapshot, error)

	ListSnapshots(ctx context.Context, storeID StoreID, date Date) ([]Snapshot, error)

	// SnapshotProducts returns every product that has a snapshot in the store.
	SnapshotProducts(ctx context.Context, storeID StoreID) ([]ProductID, error)
}

// =============================================================================
// AUDIT LOG - Separate from the ledger, tracks who did what when
// =============================================================================

type AuditAction string

const (
	AuditCreate     AuditAction = "create"
	AuditUpdate     AuditAction = "update"
	AuditDeactivate AuditAction = "deactivate"
	AuditApprove    AuditAction = "approve"
	AuditReject     AuditAction = "reject"
	AuditComplete   AuditAction = "complete"
	AuditCancel     AuditAction = "cancel"
)

// AuditEntry records a change to a record. Old and New hold JSON documents.
type AuditEntry struct {
	ID           int64
	Table        string
	RecordID     int64
	Action       AuditAction
	OldValue     string
	NewValue     string
	OperatorID   string
	OperatorName string
	CreatedAt    time.Time
}

type AuditFilter struct {
	Table    string
	RecordID int64
	Limit    int
}

type AuditLog interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	ListAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// =============================================================================
// REPOSITORY
// =============================================================================

type Repository interface {
	MasterDataStore
	BalanceStore
	TransactionStore
	WorkflowStore
	SnapshotStore
	AuditLog
}

// TxRepository wraps Repository with transaction support.
type TxRepository interface {
	Repository

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// fn must use only the Repository it is given.
	WithTx(ctx context.Context, fn func(Repository) error) error
}
