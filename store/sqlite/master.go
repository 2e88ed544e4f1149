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
// STORES
// =============================================================================

type storeRow struct {
	ID        int64     `db:"id"`
	Code      string    `db:"code"`
	Name      string    `db:"name"`
	Address   string    `db:"address"`
	Phone     string    `db:"phone"`
	ChannelID string    `db:"channel_id"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func newStoreRow(s ledger.Store) storeRow {
	return storeRow{
		ID: int64(s.ID), Code: s.Code, Name: s.Name, Address: s.Address, Phone: s.Phone,
		ChannelID: s.ChannelID, Active: s.Active, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt,
	}
}

func (r storeRow) toStore() ledger.Store {
	return ledger.Store{
		ID: ledger.StoreID(r.ID), Code: r.Code, Name: r.Name, Address: r.Address, Phone: r.Phone,
		ChannelID: r.ChannelID, Active: r.Active, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

const storeColumns = `id, code, name, address, phone, channel_id, active, created_at, updated_at`

func (q *queries) CreateStore(ctx context.Context, s *ledger.Store) error {
	res, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO stores (code, name, address, phone, channel_id, active, created_at, updated_at)
		VALUES (:code, :name, :address, :phone, :channel_id, :active, :created_at, :updated_at)
	`, newStoreRow(*s))
	if err != nil {
		return mapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return mapError(err)
	}
	s.ID = ledger.StoreID(id)
	return nil
}

func (q *queries) UpdateStore(ctx context.Context, s ledger.Store) error {
	res, err := sqlx.NamedExecContext(ctx, q.ext, `
		UPDATE stores SET
			code = :code, name = :name, address = :address, phone = :phone,
			channel_id = :channel_id, active = :active, updated_at = :updated_at
		WHERE id = :id
	`, newStoreRow(s))
	if err != nil {
		return mapError(err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrStoreNotFound
	}
	return nil
}

func (q *queries) GetStore(ctx context.Context, id ledger.StoreID) (*ledger.Store, error) {
	return q.getStore(ctx, `SELECT `+storeColumns+` FROM stores WHERE id = ?`, id)
}

func (q *queries) GetStoreByChannel(ctx context.Context, channelID string) (*ledger.Store, error) {
	return q.getStore(ctx,
		`SELECT `+storeColumns+` FROM stores WHERE channel_id = ? AND active = TRUE ORDER BY id LIMIT 1`,
		channelID)
}

func (q *queries) getStore(ctx context.Context, query string, args ...any) (*ledger.Store, error) {
	var row storeRow
	err := sqlx.GetContext(ctx, q.ext, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	s := row.toStore()
	return &s, nil
}

func (q *queries) ListStores(ctx context.Context, includeInactive bool) ([]ledger.Store, error) {
	query := `SELECT ` + storeColumns + ` FROM stores`
	if !includeInactive {
		query += ` WHERE active = TRUE`
	}
	var rows []storeRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, query+` ORDER BY id`); err != nil {
		return nil, mapError(err)
	}
	out := make([]ledger.Store, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toStore())
	}
	return out, nil
}

// =============================================================================
// PRODUCTS
// =============================================================================

type productRow struct {
	ID              int64           `db:"id"`
	SKU             string          `db:"sku"`
	Name            string          `db:"name"`
	Barcode         string          `db:"barcode"`
	Category        string          `db:"category"`
	UnitsPerCase    int64           `db:"units_per_case"`
	UnitPrice       decimal.Decimal `db:"unit_price"`
	SafetyStockCase int64           `db:"safety_stock_case"`
	SafetyStockUnit int64           `db:"safety_stock_unit"`
	Active          bool            `db:"active"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

func newProductRow(p ledger.Product) productRow {
	return productRow{
		ID: int64(p.ID), SKU: p.SKU, Name: p.Name, Barcode: p.Barcode, Category: p.Category,
		UnitsPerCase: p.UnitsPerCase, UnitPrice: p.UnitPrice,
		SafetyStockCase: p.SafetyStockCase, SafetyStockUnit: p.SafetyStockUnit,
		Active: p.Active, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	}
}

func (r productRow) toProduct() ledger.Product {
	return ledger.Product{
		ID: ledger.ProductID(r.ID), SKU: r.SKU, Name: r.Name, Barcode: r.Barcode, Category: r.Category,
		UnitsPerCase: r.UnitsPerCase, UnitPrice: r.UnitPrice,
		SafetyStockCase: r.SafetyStockCase, SafetyStockUnit: r.SafetyStockUnit,
		Active: r.Active, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

const productColumns = `id, sku, name, barcode, category, units_per_case, unit_price,
	safety_stock_case, safety_stock_unit, active, created_at, updated_at`

func (q *queries) CreateProduct(ctx context.Context, p *ledger.Product) error {
	res, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO products (sku, name, barcode, category, units_per_case, unit_price,
			safety_stock_case, safety_stock_unit, active, created_at, updated_at)
		VALUES (:sku, :name, :barcode, :category, :units_per_case, :unit_price,
			:safety_stock_case, :safety_stock_unit, :active, :created_at, :updated_at)
	`, newProductRow(*p))
	if err != nil {
		return mapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return mapError(err)
	}
	p.ID = ledger.ProductID(id)
	return nil
}

func (q *queries) UpdateProduct(ctx context.Context, p ledger.Product) error {
	res, err := sqlx.NamedExecContext(ctx, q.ext, `
		UPDATE products SET
			sku = :sku, name = :name, barcode = :barcode, category = :category,
			units_per_case = :units_per_case, unit_price = :unit_price,
			safety_stock_case = :safety_stock_case, safety_stock_unit = :safety_stock_unit,
			active = :active, updated_at = :updated_at
		WHERE id = :id
	`, newProductRow(p))
	if err != nil {
		return mapError(err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrProductNotFound
	}
	return nil
}

func (q *queries) GetProduct(ctx context.Context, id ledger.ProductID) (*ledger.Product, error) {
	return q.getProduct(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
}

func (q *queries) GetProductBySKU(ctx context.Context, sku string) (*ledger.Product, error) {
	return q.getProduct(ctx, `SELECT `+productColumns+` FROM products WHERE sku = ?`, sku)
}

func (q *queries) GetProductByBarcode(ctx context.Context, barcode string) (*ledger.Product, error) {
	return q.getProduct(ctx, `SELECT `+productColumns+` FROM products
		WHERE barcode = ? ORDER BY active DESC, id LIMIT 1`, barcode)
}

// likeEscaper makes a keyword match literally inside a LIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (q *queries) SearchProducts(ctx context.Context, keyword string, limit int) ([]ledger.Product, error) {
	pattern := "%" + likeEscaper.Replace(strings.ToLower(keyword)) + "%"
	query := `SELECT ` + productColumns + ` FROM products
		WHERE active = TRUE AND lower(name) LIKE ? ESCAPE '\'
		ORDER BY sku`
	args := []any{pattern}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	var rows []productRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, query, args...); err != nil {
		return nil, mapError(err)
	}
	out := make([]ledger.Product, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toProduct())
	}
	return out, nil
}

func (q *queries) getProduct(ctx context.Context, query string, args ...any) (*ledger.Product, error) {
	var row productRow
	err := sqlx.GetContext(ctx, q.ext, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	p := row.toProduct()
	return &p, nil
}

func (q *queries) ListProducts(ctx context.Context, includeInactive bool) ([]ledger.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	if !includeInactive {
		query += ` WHERE active = TRUE`
	}
	var rows []productRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, query+` ORDER BY id`); err != nil {
		return nil, mapError(err)
	}
	out := make([]ledger.Product, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toProduct())
	}
	return out, nil
}
