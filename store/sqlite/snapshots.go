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
// DAILY SNAPSHOTS
// =============================================================================

// snapshotRow flattens the five buckets of a snapshot into columns.
type snapshotRow struct {
	StoreID      int64       `db:"store_id"`
	ProductID    int64       `db:"product_id"`
	BusinessDate ledger.Date `db:"business_date"`

	OpeningCase     int64           `db:"opening_case"`
	OpeningUnit     int64           `db:"opening_unit"`
	OpeningCostCase decimal.Decimal `db:"opening_cost_case"`
	OpeningCostUnit decimal.Decimal `db:"opening_cost_unit"`

	InboundCase     int64           `db:"inbound_case"`
	InboundUnit     int64           `db:"inbound_unit"`
	InboundCostCase decimal.Decimal `db:"inbound_cost_case"`
	InboundCostUnit decimal.Decimal `db:"inbound_cost_unit"`

	OutboundCase     int64           `db:"outbound_case"`
	OutboundUnit     int64           `db:"outbound_unit"`
	OutboundCostCase decimal.Decimal `db:"outbound_cost_case"`
	OutboundCostUnit decimal.Decimal `db:"outbound_cost_unit"`

	AdjustmentCase     int64           `db:"adjustment_case"`
	AdjustmentUnit     int64           `db:"adjustment_unit"`
	AdjustmentCostCase decimal.Decimal `db:"adjustment_cost_case"`
	AdjustmentCostUnit decimal.Decimal `db:"adjustment_cost_unit"`

	ClosingCase     int64           `db:"closing_case"`
	ClosingUnit     int64           `db:"closing_unit"`
	ClosingCostCase decimal.Decimal `db:"closing_cost_case"`
	ClosingCostUnit decimal.Decimal `db:"closing_cost_unit"`

	AvgCostCase decimal.Decimal `db:"avg_cost_case"`
	AvgCostUnit decimal.Decimal `db:"avg_cost_unit"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

func newSnapshotRow(s ledger.Snapshot) snapshotRow {
	return snapshotRow{
		StoreID: int64(s.StoreID), ProductID: int64(s.ProductID), BusinessDate: s.BusinessDate,

		OpeningCase: s.Opening.Case, OpeningUnit: s.Opening.Unit,
		OpeningCostCase: s.Opening.CostCase, OpeningCostUnit: s.Opening.CostUnit,

		InboundCase: s.Inbound.Case, InboundUnit: s.Inbound.Unit,
		InboundCostCase: s.Inbound.CostCase, InboundCostUnit: s.Inbound.CostUnit,

		OutboundCase: s.Outbound.Case, OutboundUnit: s.Outbound.Unit,
		OutboundCostCase: s.Outbound.CostCase, OutboundCostUnit: s.Outbound.CostUnit,

		AdjustmentCase: s.Adjustment.Case, AdjustmentUnit: s.Adjustment.Unit,
		AdjustmentCostCase: s.Adjustment.CostCase, AdjustmentCostUnit: s.Adjustment.CostUnit,

		ClosingCase: s.Closing.Case, ClosingUnit: s.Closing.Unit,
		ClosingCostCase: s.Closing.CostCase, ClosingCostUnit: s.Closing.CostUnit,

		AvgCostCase: s.AvgCostCase, AvgCostUnit: s.AvgCostUnit, UpdatedAt: s.UpdatedAt,
	}
}

func (r snapshotRow) toSnapshot() ledger.Snapshot {
	return ledger.Snapshot{
		StoreID:      ledger.StoreID(r.StoreID),
		ProductID:    ledger.ProductID(r.ProductID),
		BusinessDate: r.BusinessDate,
		Opening:      ledger.Bucket{Case: r.OpeningCase, Unit: r.OpeningUnit, CostCase: r.OpeningCostCase, CostUnit: r.OpeningCostUnit},
		Inbound:      ledger.Bucket{Case: r.InboundCase, Unit: r.InboundUnit, CostCase: r.InboundCostCase, CostUnit: r.InboundCostUnit},
		Outbound:     ledger.Bucket{Case: r.OutboundCase, Unit: r.OutboundUnit, CostCase: r.OutboundCostCase, CostUnit: r.OutboundCostUnit},
		Adjustment:   ledger.Bucket{Case: r.AdjustmentCase, Unit: r.AdjustmentUnit, CostCase: r.AdjustmentCostCase, CostUnit: r.AdjustmentCostUnit},
		Closing:      ledger.Bucket{Case: r.ClosingCase, Unit: r.ClosingUnit, CostCase: r.ClosingCostCase, CostUnit: r.ClosingCostUnit},
		AvgCostCase:  r.AvgCostCase,
		AvgCostUnit:  r.AvgCostUnit,
		UpdatedAt:    r.UpdatedAt,
	}
}

var snapshotFields = []string{
	"opening_case", "opening_unit", "opening_cost_case", "opening_cost_unit",
	"inbound_case", "inbound_unit", "inbound_cost_case", "inbound_cost_unit",
	"outbound_case", "outbound_unit", "outbound_cost_case", "outbound_cost_unit",
	"adjustment_case", "adjustment_unit", "adjustment_cost_case", "adjustment_cost_unit",
	"closing_case", "closing_unit", "closing_cost_case", "closing_cost_unit",
	"avg_cost_case", "avg_cost_unit", "updated_at",
}

var (
	snapshotColumns = "store_id, product_id, business_date, " + strings.Join(snapshotFields, ", ")
	upsertSnapshot  = buildUpsertSnapshot()
)

func buildUpsertSnapshot() string {
	named := make([]string, 0, len(snapshotFields))
	updates := make([]string, 0, len(snapshotFields))
	for _, f := range snapshotFields {
		named = append(named, ":"+f)
		updates = append(updates, f+" = excluded."+f)
	}
	return `INSERT INTO daily_snapshots (` + snapshotColumns + `)
		VALUES (:store_id, :product_id, :business_date, ` + strings.Join(named, ", ") + `)
		ON CONFLICT(store_id, product_id, business_date) DO UPDATE SET ` + strings.Join(updates, ", ")
}

func (q *queries) UpsertSnapshot(ctx context.Context, s ledger.Snapshot) error {
	_, err := sqlx.NamedExecContext(ctx, q.ext, upsertSnapshot, newSnapshotRow(s))
	return mapError(err)
}

func (q *queries) GetSnapshot(ctx context.Context, storeID ledger.StoreID, productID ledger.ProductID, date ledger.Date) (*ledger.Snapshot, error) {
	return q.getSnapshot(ctx, `SELECT `+snapshotColumns+` FROM daily_snapshots
		WHERE store_id = ? AND product_id = ? AND business_date = ?`, storeID, productID, date)
}

func (q *queries) LatestSnapshotBefore(ctx context.Context, storeID ledger.StoreID, productID ledger.ProductID, date ledger.Date) (*ledger.Snapshot, error) {
	return q.getSnapshot(ctx, `SELECT `+snapshotColumns+` FROM daily_snapshots
		WHERE store_id = ? AND product_id = ? AND business_date < ?
		ORDER BY business_date DESC LIMIT 1`, storeID, productID, date)
}

func (q *queries) getSnapshot(ctx context.Context, query string, args ...any) (*ledger.Snapshot, error) {
	var row snapshotRow
	err := sqlx.GetContext(ctx, q.ext, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	s := row.toSnapshot()
	return &s, nil
}

func (q *queries) ListSnapshots(ctx context.Context, storeID ledger.StoreID, date ledger.Date) ([]ledger.Snapshot, error) {
	var rows []snapshotRow
	err := sqlx.SelectContext(ctx, q.ext, &rows, `SELECT `+snapshotColumns+` FROM daily_snapshots
		WHERE store_id = ? AND business_date = ? ORDER BY product_id`, storeID, date)
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]ledger.Snapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toSnapshot())
	}
	return out, nil
}

func (q *queries) SnapshotProducts(ctx context.Context, storeID ledger.StoreID) ([]ledger.ProductID, error) {
	var ids []int64
	err := sqlx.SelectContext(ctx, q.ext, &ids,
		`SELECT DISTINCT product_id FROM daily_snapshots WHERE store_id = ? ORDER BY product_id`, storeID)
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]ledger.ProductID, 0, len(ids))
	for _, id := range ids {
		out = append(out, ledger.ProductID(id))
	}
	return out, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

type auditRow struct {
	ID           int64     `db:"id"`
	TableName    string    `db:"table_name"`
	RecordID     int64     `db:"record_id"`
	Action       string    `db:"action"`
	OldValue     string    `db:"old_value"`
	NewValue     string    `db:"new_value"`
	OperatorID   string    `db:"operator_id"`
	OperatorName string    `db:"operator_name"`
	CreatedAt    time.Time `db:"created_at"`
}

func (q *queries) AppendAudit(ctx context.Context, e ledger.AuditEntry) error {
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO audit_logs (table_name, record_id, action, old_value, new_value,
			operator_id, operator_name, created_at)
		VALUES (:table_name, :record_id, :action, :old_value, :new_value,
			:operator_id, :operator_name, :created_at)
	`, auditRow{
		TableName: e.Table, RecordID: e.RecordID, Action: string(e.Action),
		OldValue: e.OldValue, NewValue: e.NewValue,
		OperatorID: e.OperatorID, OperatorName: e.OperatorName, CreatedAt: e.CreatedAt,
	})
	return mapError(err)
}

func (q *queries) ListAudit(ctx context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.Table != "" {
		where = append(where, "table_name = ?")
		args = append(args, f.Table)
	}
	if f.RecordID != 0 {
		where = append(where, "record_id = ?")
		args = append(args, f.RecordID)
	}
	query := `SELECT id, table_name, record_id, action, old_value, new_value,
		operator_id, operator_name, created_at FROM audit_logs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	var rows []auditRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, query, args...); err != nil {
		return nil, mapError(err)
	}
	out := make([]ledger.AuditEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, ledger.AuditEntry{
			ID: r.ID, Table: r.TableName, RecordID: r.RecordID, Action: ledger.AuditAction(r.Action),
			OldValue: r.OldValue, NewValue: r.NewValue,
			OperatorID: r.OperatorID, OperatorName: r.OperatorName, CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}
