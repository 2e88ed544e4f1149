package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// ADJUSTMENTS
// =============================================================================

type adjustmentRow struct {
	ID             int64        `db:"id"`
	StoreID        int64        `db:"store_id"`
	Type           string       `db:"type"`
	AdjustmentDate ledger.Date  `db:"adjustment_date"`
	Status         string       `db:"status"`
	Reason         string       `db:"reason"`
	CreatedByID    string       `db:"created_by_id"`
	CreatedByName  string       `db:"created_by_name"`
	ApprovedByID   string       `db:"approved_by_id"`
	ApprovedByName string       `db:"approved_by_name"`
	ApprovedAt     sql.NullTime `db:"approved_at"`
	CreatedAt      time.Time    `db:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at"`
}

func newAdjustmentRow(a ledger.Adjustment) adjustmentRow {
	r := adjustmentRow{
		ID: int64(a.ID), StoreID: int64(a.StoreID), Type: string(a.Type),
		AdjustmentDate: a.AdjustmentDate, Status: string(a.Status), Reason: a.Reason,
		CreatedByID: a.CreatedByID, CreatedByName: a.CreatedByName,
		ApprovedByID: a.ApprovedByID, ApprovedByName: a.ApprovedByName,
		CreatedAt: a.CreatedAt, UpdatedAt: a.UpdatedAt,
	}
	if a.ApprovedAt != nil {
		r.ApprovedAt = sql.NullTime{Time: *a.ApprovedAt, Valid: true}
	}
	return r
}

func (r adjustmentRow) toAdjustment() ledger.Adjustment {
	a := ledger.Adjustment{
		ID: ledger.AdjustmentID(r.ID), StoreID: ledger.StoreID(r.StoreID), Type: ledger.AdjustmentType(r.Type),
		AdjustmentDate: r.AdjustmentDate, Status: ledger.AdjustmentStatus(r.Status), Reason: r.Reason,
		CreatedByID: r.CreatedByID, CreatedByName: r.CreatedByName,
		ApprovedByID: r.ApprovedByID, ApprovedByName: r.ApprovedByName,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
	if r.ApprovedAt.Valid {
		t := r.ApprovedAt.Time
		a.ApprovedAt = &t
	}
	return a
}

type adjustmentItemRow struct {
	ID           int64               `db:"id"`
	AdjustmentID int64               `db:"adjustment_id"`
	ProductID    int64               `db:"product_id"`
	QuantityCase int64               `db:"quantity_case"`
	QuantityUnit int64               `db:"quantity_unit"`
	UnitCostCase decimal.NullDecimal `db:"unit_cost_case"`
	UnitCostUnit decimal.NullDecimal `db:"unit_cost_unit"`
	FromCase     int64               `db:"from_case"`
	ToUnit       int64               `db:"to_unit"`
	FromUnit     int64               `db:"from_unit"`
	ToCase       int64               `db:"to_case"`
	Note         string              `db:"note"`
}

func (r adjustmentItemRow) toItem() ledger.AdjustmentItem {
	return ledger.AdjustmentItem{
		ID:           r.ID,
		AdjustmentID: ledger.AdjustmentID(r.AdjustmentID),
		ProductID:    ledger.ProductID(r.ProductID),
		QuantityCase: r.QuantityCase,
		QuantityUnit: r.QuantityUnit,
		UnitCostCase: r.UnitCostCase,
		UnitCostUnit: r.UnitCostUnit,
		Conversion: ledger.Conversion{
			FromCase: r.FromCase, ToUnit: r.ToUnit, FromUnit: r.FromUnit, ToCase: r.ToCase,
		},
		Note: r.Note,
	}
}

const adjustmentColumns = `id, store_id, type, adjustment_date, status, reason,
	created_by_id, created_by_name, approved_by_id, approved_by_name, approved_at,
	created_at, updated_at`

const adjustmentItemColumns = `id, adjustment_id, product_id, quantity_case, quantity_unit,
	unit_cost_case, unit_cost_unit, from_case, to_unit, from_unit, to_case, note`

func (q *queries) CreateAdjustment(ctx context.Context, a *ledger.Adjustment) error {
	res, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO adjustments (store_id, type, adjustment_date, status, reason,
			created_by_id, created_by_name, approved_by_id, approved_by_name, approved_at,
			created_at, updated_at)
		VALUES (:store_id, :type, :adjustment_date, :status, :reason,
			:created_by_id, :created_by_name, :approved_by_id, :approved_by_name, :approved_at,
			:created_at, :updated_at)
	`, newAdjustmentRow(*a))
	if err != nil {
		return mapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return mapError(err)
	}
	a.ID = ledger.AdjustmentID(id)

	for i := range a.Items {
		it := &a.Items[i]
		res, err := q.ext.ExecContext(ctx, `
			INSERT INTO adjustment_items (adjustment_id, product_id, quantity_case, quantity_unit,
				unit_cost_case, unit_cost_unit, from_case, to_unit, from_unit, to_case, note)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, a.ID, it.ProductID, it.QuantityCase, it.QuantityUnit,
			it.UnitCostCase, it.UnitCostUnit, it.FromCase, it.ToUnit, it.FromUnit, it.ToCase, it.Note)
		if err != nil {
			return mapError(err)
		}
		itemID, err := res.LastInsertId()
		if err != nil {
			return mapError(err)
		}
		it.ID = itemID
		it.AdjustmentID = a.ID
	}
	return nil
}

func (q *queries) GetAdjustment(ctx context.Context, id ledger.AdjustmentID) (*ledger.Adjustment, error) {
	var row adjustmentRow
	err := sqlx.GetContext(ctx, q.ext, &row, `SELECT `+adjustmentColumns+` FROM adjustments WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	a := row.toAdjustment()
	if a.Items, err = q.adjustmentItems(ctx, a.ID); err != nil {
		return nil, err
	}
	return &a, nil
}

func (q *queries) adjustmentItems(ctx context.Context, id ledger.AdjustmentID) ([]ledger.AdjustmentItem, error) {
	var rows []adjustmentItemRow
	err := sqlx.SelectContext(ctx, q.ext, &rows,
		`SELECT `+adjustmentItemColumns+` FROM adjustment_items WHERE adjustment_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, mapError(err)
	}
	items := make([]ledger.AdjustmentItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.toItem())
	}
	return items, nil
}

func (q *queries) ListAdjustments(ctx context.Context, f ledger.AdjustmentFilter) ([]ledger.Adjustment, error) {
	var (
		where []string
		args  []any
	)
	if f.StoreID != 0 {
		where = append(where, "store_id = ?")
		args = append(args, f.StoreID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + adjustmentColumns + ` FROM adjustments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	var rows []adjustmentRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, query, args...); err != nil {
		return nil, mapError(err)
	}
	out := make([]ledger.Adjustment, 0, len(rows))
	for _, r := range rows {
		a := r.toAdjustment()
		items, err := q.adjustmentItems(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		a.Items = items
		out = append(out, a)
	}
	return out, nil
}

// ResolveAdjustment only moves rows that are still pending, so two
// approvers racing on the same adjustment cannot both succeed.
func (q *queries) ResolveAdjustment(ctx context.Context, a ledger.Adjustment) error {
	row := newAdjustmentRow(a)
	res, err := sqlx.NamedExecContext(ctx, q.ext, `
		UPDATE adjustments SET
			status = :status, reason = :reason,
			approved_by_id = :approved_by_id, approved_by_name = :approved_by_name,
			approved_at = :approved_at, updated_at = :updated_at
		WHERE id = :id AND status = 'pending'
	`, row)
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
	var exists bool
	if err := sqlx.GetContext(ctx, q.ext, &exists,
		`SELECT EXISTS(SELECT 1 FROM adjustments WHERE id = ?)`, a.ID); err != nil {
		return mapError(err)
	}
	if !exists {
		return ledger.ErrAdjustmentNotFound
	}
	return ledger.ErrAlreadyProcessed
}

// =============================================================================
// STOCK TAKES
// =============================================================================

type stockTakeRow struct {
	ID              int64        `db:"id"`
	StoreID         int64        `db:"store_id"`
	TakeDate        ledger.Date  `db:"take_date"`
	Month           string       `db:"month"`
	Status          string       `db:"status"`
	Note            string       `db:"note"`
	CreatedByID     string       `db:"created_by_id"`
	CreatedByName   string       `db:"created_by_name"`
	CompletedByID   string       `db:"completed_by_id"`
	CompletedByName string       `db:"completed_by_name"`
	CompletedAt     sql.NullTime `db:"completed_at"`
	CreatedAt       time.Time    `db:"created_at"`
}

func (r stockTakeRow) toStockTake() ledger.StockTake {
	st := ledger.StockTake{
		ID: ledger.StockTakeID(r.ID), StoreID: ledger.StoreID(r.StoreID),
		Date: r.TakeDate, Month: r.Month, Status: ledger.StockTakeStatus(r.Status), Note: r.Note,
		CreatedByID: r.CreatedByID, CreatedByName: r.CreatedByName,
		CompletedByID: r.CompletedByID, CompletedByName: r.CompletedByName,
		CreatedAt: r.CreatedAt,
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		st.CompletedAt = &t
	}
	return st
}

type stockTakeItemRow struct {
	ID          int64  `db:"id"`
	StockTakeID int64  `db:"stock_take_id"`
	ProductID   int64  `db:"product_id"`
	SystemCase  int64  `db:"system_case"`
	SystemUnit  int64  `db:"system_unit"`
	ActualCase  int64  `db:"actual_case"`
	ActualUnit  int64  `db:"actual_unit"`
	DiffCase    int64  `db:"diff_case"`
	DiffUnit    int64  `db:"diff_unit"`
	Note        string `db:"note"`
}

func (r stockTakeItemRow) toItem() ledger.StockTakeItem {
	return ledger.StockTakeItem{
		ID: r.ID, StockTakeID: ledger.StockTakeID(r.StockTakeID), ProductID: ledger.ProductID(r.ProductID),
		SystemCase: r.SystemCase, SystemUnit: r.SystemUnit,
		ActualCase: r.ActualCase, ActualUnit: r.ActualUnit,
		DiffCase: r.DiffCase, DiffUnit: r.DiffUnit, Note: r.Note,
	}
}

const stockTakeColumns = `id, store_id, take_date, month, status, note, created_by_id, created_by_name,
	completed_by_id, completed_by_name, completed_at, created_at`

const stockTakeItemColumns = `id, stock_take_id, product_id, system_case, system_unit,
	actual_case, actual_unit, diff_case, diff_unit, note`

func (q *queries) CreateStockTake(ctx context.Context, st *ledger.StockTake) error {
	res, err := q.ext.ExecContext(ctx, `
		INSERT INTO stock_takes (store_id, take_date, month, status, note, created_by_id, created_by_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, st.StoreID, st.Date, st.Month, string(st.Status), st.Note, st.CreatedByID, st.CreatedByName, st.CreatedAt)
	if err != nil {
		return mapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return mapError(err)
	}
	st.ID = ledger.StockTakeID(id)

	for i := range st.Items {
		it := &st.Items[i]
		res, err := q.ext.ExecContext(ctx, `
			INSERT INTO stock_take_items (stock_take_id, product_id, system_case, system_unit,
				actual_case, actual_unit, diff_case, diff_unit, note)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, st.ID, it.ProductID, it.SystemCase, it.SystemUnit,
			it.ActualCase, it.ActualUnit, it.DiffCase, it.DiffUnit, it.Note)
		if err != nil {
			return mapError(err)
		}
		itemID, err := res.LastInsertId()
		if err != nil {
			return mapError(err)
		}
		it.ID = itemID
		it.StockTakeID = st.ID
	}
	return nil
}

func (q *queries) GetStockTake(ctx context.Context, id ledger.StockTakeID) (*ledger.StockTake, error) {
	var row stockTakeRow
	err := sqlx.GetContext(ctx, q.ext, &row, `SELECT `+stockTakeColumns+` FROM stock_takes WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	st := row.toStockTake()
	if st.Items, err = q.stockTakeItems(ctx, st.ID); err != nil {
		return nil, err
	}
	return &st, nil
}

func (q *queries) stockTakeItems(ctx context.Context, id ledger.StockTakeID) ([]ledger.StockTakeItem, error) {
	var rows []stockTakeItemRow
	err := sqlx.SelectContext(ctx, q.ext, &rows,
		`SELECT `+stockTakeItemColumns+` FROM stock_take_items WHERE stock_take_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, mapError(err)
	}
	items := make([]ledger.StockTakeItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.toItem())
	}
	return items, nil
}

func (q *queries) ListStockTakes(ctx context.Context, f ledger.StockTakeFilter) ([]ledger.StockTake, error) {
	var (
		where []string
		args  []any
	)
	if f.StoreID != 0 {
		where = append(where, "store_id = ?")
		args = append(args, f.StoreID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Month != "" {
		where = append(where, "month = ?")
		args = append(args, f.Month)
	}
	query := `SELECT ` + stockTakeColumns + ` FROM stock_takes`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	var rows []stockTakeRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, query, args...); err != nil {
		return nil, mapError(err)
	}
	out := make([]ledger.StockTake, 0, len(rows))
	for _, r := range rows {
		st := r.toStockTake()
		items, err := q.stockTakeItems(ctx, st.ID)
		if err != nil {
			return nil, err
		}
		st.Items = items
		out = append(out, st)
	}
	return out, nil
}

func (q *queries) CompleteStockTake(ctx context.Context, id ledger.StockTakeID, by ledger.Operator, at time.Time) error {
	res, err := q.ext.ExecContext(ctx, `
		UPDATE stock_takes SET status = 'completed',
			completed_by_id = ?, completed_by_name = ?, completed_at = ?
		WHERE id = ? AND status = 'draft'
	`, by.ID, by.Name, at, id)
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
	var exists bool
	if err := sqlx.GetContext(ctx, q.ext, &exists,
		`SELECT EXISTS(SELECT 1 FROM stock_takes WHERE id = ?)`, id); err != nil {
		return mapError(err)
	}
	if !exists {
		return ledger.ErrStockTakeNotFound
	}
	return ledger.ErrAlreadyCompleted
}
