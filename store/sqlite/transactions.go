package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// BALANCES
// =============================================================================

type balanceRow struct {
	StoreID       int64           `db:"store_id"`
	ProductID     int64           `db:"product_id"`
	QuantityCase  int64           `db:"quantity_case"`
	QuantityUnit  int64           `db:"quantity_unit"`
	TotalCostCase decimal.Decimal `db:"total_cost_case"`
	TotalCostUnit decimal.Decimal `db:"total_cost_unit"`
	Version       int64           `db:"version"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

func (r balanceRow) toBalance() ledger.Balance {
	return ledger.Balance{
		StoreID:       ledger.StoreID(r.StoreID),
		ProductID:     ledger.ProductID(r.ProductID),
		QuantityCase:  r.QuantityCase,
		QuantityUnit:  r.QuantityUnit,
		TotalCostCase: r.TotalCostCase,
		TotalCostUnit: r.TotalCostUnit,
		Version:       r.Version,
		UpdatedAt:     r.UpdatedAt,
	}
}

const balanceColumns = `store_id, product_id, quantity_case, quantity_unit,
	total_cost_case, total_cost_unit, version, updated_at`

func (q *queries) GetBalance(ctx context.Context, storeID ledger.StoreID, productID ledger.ProductID) (*ledger.Balance, error) {
	var row balanceRow
	err := sqlx.GetContext(ctx, q.ext, &row,
		`SELECT `+balanceColumns+` FROM balances WHERE store_id = ? AND product_id = ?`,
		storeID, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	b := row.toBalance()
	return &b, nil
}

// SaveBalance inserts a first balance (Version 0) or performs a
// compare-and-swap update on version.
func (q *queries) SaveBalance(ctx context.Context, b ledger.Balance) error {
	if b.Version == 0 {
		_, err := q.ext.ExecContext(ctx, `
			INSERT INTO balances (store_id, product_id, quantity_case, quantity_unit,
				total_cost_case, total_cost_unit, version, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?)
		`, b.StoreID, b.ProductID, b.QuantityCase, b.QuantityUnit,
			b.TotalCostCase, b.TotalCostUnit, b.UpdatedAt)
		err = mapError(err)
		if errors.Is(err, ledger.ErrDuplicate) {
			return fmt.Errorf("%w: balance %d/%d created concurrently",
				ledger.ErrConcurrentModification, b.StoreID, b.ProductID)
		}
		return err
	}

	res, err := q.ext.ExecContext(ctx, `
		UPDATE balances SET
			quantity_case = ?, quantity_unit = ?,
			total_cost_case = ?, total_cost_unit = ?,
			version = version + 1, updated_at = ?
		WHERE store_id = ? AND product_id = ? AND version = ?
	`, b.QuantityCase, b.QuantityUnit, b.TotalCostCase, b.TotalCostUnit, b.UpdatedAt,
		b.StoreID, b.ProductID, b.Version)
	if err != nil {
		return mapError(err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: balance %d/%d version %d is stale",
			ledger.ErrConcurrentModification, b.StoreID, b.ProductID, b.Version)
	}
	return nil
}

func (q *queries) ListBalances(ctx context.Context, storeID ledger.StoreID) ([]ledger.Balance, error) {
	var rows []balanceRow
	err := sqlx.SelectContext(ctx, q.ext, &rows,
		`SELECT `+balanceColumns+` FROM balances WHERE store_id = ? ORDER BY product_id`, storeID)
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]ledger.Balance, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toBalance())
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONS (append-only)
// =============================================================================

type transactionRow struct {
	ID              int64               `db:"id"`
	StoreID         int64               `db:"store_id"`
	ProductID       int64               `db:"product_id"`
	Type            string              `db:"type"`
	QuantityCase    int64               `db:"quantity_case"`
	QuantityUnit    int64               `db:"quantity_unit"`
	UnitCostCase    decimal.NullDecimal `db:"unit_cost_case"`
	UnitCostUnit    decimal.NullDecimal `db:"unit_cost_unit"`
	CostCase        decimal.Decimal     `db:"cost_case"`
	CostUnit        decimal.Decimal     `db:"cost_unit"`
	TotalCost       decimal.Decimal     `db:"total_cost"`
	BusinessDate    ledger.Date         `db:"business_date"`
	TransactionTime time.Time           `db:"transaction_time"`
	Source          string              `db:"source"`
	OperatorID      string              `db:"operator_id"`
	OperatorName    string              `db:"operator_name"`
	AdjustmentID    sql.NullInt64       `db:"adjustment_id"`
	StockTakeID     sql.NullInt64       `db:"stock_take_id"`
	CancelsID       sql.NullInt64       `db:"cancels_id"`
	CancelledByID   sql.NullInt64       `db:"cancelled_by_id"`
	IsCancelled     bool                `db:"is_cancelled"`
	Note            string              `db:"note"`
	CreatedAt       time.Time           `db:"created_at"`
}

func newTransactionRow(tx ledger.Transaction) transactionRow {
	r := transactionRow{
		ID:              int64(tx.ID),
		StoreID:         int64(tx.StoreID),
		ProductID:       int64(tx.ProductID),
		Type:            string(tx.Type),
		QuantityCase:    tx.QuantityCase,
		QuantityUnit:    tx.QuantityUnit,
		UnitCostCase:    tx.UnitCostCase,
		UnitCostUnit:    tx.UnitCostUnit,
		CostCase:        tx.CostCase,
		CostUnit:        tx.CostUnit,
		TotalCost:       tx.TotalCost,
		BusinessDate:    tx.BusinessDate,
		TransactionTime: tx.TransactionTime,
		Source:          string(tx.Source),
		OperatorID:      tx.OperatorID,
		OperatorName:    tx.OperatorName,
		IsCancelled:     tx.IsCancelled,
		Note:            tx.Note,
		CreatedAt:       tx.CreatedAt,
	}
	if tx.AdjustmentID != nil {
		r.AdjustmentID = sql.NullInt64{Int64: int64(*tx.AdjustmentID), Valid: true}
	}
	if tx.StockTakeID != nil {
		r.StockTakeID = sql.NullInt64{Int64: int64(*tx.StockTakeID), Valid: true}
	}
	if tx.CancelsID != nil {
		r.CancelsID = sql.NullInt64{Int64: int64(*tx.CancelsID), Valid: true}
	}
	if tx.CancelledByID != nil {
		r.CancelledByID = sql.NullInt64{Int64: int64(*tx.CancelledByID), Valid: true}
	}
	return r
}

func (r transactionRow) toTransaction() ledger.Transaction {
	tx := ledger.Transaction{
		ID:              ledger.TransactionID(r.ID),
		StoreID:         ledger.StoreID(r.StoreID),
		ProductID:       ledger.ProductID(r.ProductID),
		Type:            ledger.TransactionType(r.Type),
		QuantityCase:    r.QuantityCase,
		QuantityUnit:    r.QuantityUnit,
		UnitCostCase:    r.UnitCostCase,
		UnitCostUnit:    r.UnitCostUnit,
		CostCase:        r.CostCase,
		CostUnit:        r.CostUnit,
		TotalCost:       r.TotalCost,
		BusinessDate:    r.BusinessDate,
		TransactionTime: r.TransactionTime,
		Source:          ledger.Source(r.Source),
		OperatorID:      r.OperatorID,
		OperatorName:    r.OperatorName,
		IsCancelled:     r.IsCancelled,
		Note:            r.Note,
		CreatedAt:       r.CreatedAt,
	}
	if r.AdjustmentID.Valid {
		id := ledger.AdjustmentID(r.AdjustmentID.Int64)
		tx.AdjustmentID = &id
	}
	if r.StockTakeID.Valid {
		id := ledger.StockTakeID(r.StockTakeID.Int64)
		tx.StockTakeID = &id
	}
	if r.CancelsID.Valid {
		id := ledger.TransactionID(r.CancelsID.Int64)
		tx.CancelsID = &id
	}
	if r.CancelledByID.Valid {
		id := ledger.TransactionID(r.CancelledByID.Int64)
		tx.CancelledByID = &id
	}
	return tx
}

const transactionColumns = `id, store_id, product_id, type, quantity_case, quantity_unit,
	unit_cost_case, unit_cost_unit, cost_case, cost_unit, total_cost,
	business_date, transaction_time, source, operator_id, operator_name,
	adjustment_id, stock_take_id, cancels_id, cancelled_by_id, is_cancelled, note, created_at`

func (q *queries) AppendTransaction(ctx context.Context, tx *ledger.Transaction) error {
	res, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO transactions (store_id, product_id, type, quantity_case, quantity_unit,
			unit_cost_case, unit_cost_unit, cost_case, cost_unit, total_cost,
			business_date, transaction_time, source, operator_id, operator_name,
			adjustment_id, stock_take_id, cancels_id, cancelled_by_id, is_cancelled, note, created_at)
		VALUES (:store_id, :product_id, :type, :quantity_case, :quantity_unit,
			:unit_cost_case, :unit_cost_unit, :cost_case, :cost_unit, :total_cost,
			:business_date, :transaction_time, :source, :operator_id, :operator_name,
			:adjustment_id, :stock_take_id, :cancels_id, :cancelled_by_id, :is_cancelled, :note, :created_at)
	`, newTransactionRow(*tx))
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", mapError(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return mapError(err)
	}
	tx.ID = ledger.TransactionID(id)
	return nil
}

func (q *queries) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	var row transactionRow
	err := sqlx.GetContext(ctx, q.ext, &row,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	tx := row.toTransaction()
	return &tx, nil
}

// MarkCancelled is the only UPDATE ever issued against transactions.
func (q *queries) MarkCancelled(ctx context.Context, id, cancelledBy ledger.TransactionID) error {
	res, err := q.ext.ExecContext(ctx, `
		UPDATE transactions SET is_cancelled = TRUE, cancelled_by_id = ?
		WHERE id = ? AND is_cancelled = FALSE
	`, cancelledBy, id)
	if err != nil {
		return mapError(err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	existing, err := q.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return ledger.ErrTransactionNotFound
	}
	return ledger.ErrAlreadyCancelled
}

func (q *queries) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if f.StoreID != 0 {
		where = append(where, "store_id = ?")
		args = append(args, f.StoreID)
	}
	if f.ProductID != 0 {
		where = append(where, "product_id = ?")
		args = append(args, f.ProductID)
	}
	if f.AfterID != 0 {
		where = append(where, "id > ?")
		args = append(args, f.AfterID)
	}
	if !f.IncludeCancelled {
		where = append(where, "is_cancelled = FALSE")
	}
	if !f.From.IsZero() {
		where = append(where, "business_date >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		where = append(where, "business_date <= ?")
		args = append(args, f.To)
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		clause, inArgs, err := sqlx.In("type IN (?)", types)
		if err != nil {
			return nil, err
		}
		where = append(where, clause)
		args = append(args, inArgs...)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	if f.Newest {
		query += ` ORDER BY id DESC`
	} else {
		query += ` ORDER BY id ASC`
	}
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	var rows []transactionRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, q.ext.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", mapError(err))
	}
	out := make([]ledger.Transaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toTransaction())
	}
	return out, nil
}
