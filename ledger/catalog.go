package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CATALOG - Store and product master data
// =============================================================================

// Catalog maintains stores and products. Records are deactivated, never
// deleted, and every change is written to the audit log.
type Catalog struct {
	Repo TxRepository
	Now  func() time.Time
}

func (c *Catalog) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

type StoreInput struct {
	Code      string
	Name      string
	Address   string
	Phone     string
	ChannelID string
}

func (in StoreInput) validate() error {
	switch {
	case in.Code == "":
		return invalid("code", "is required")
	case in.Name == "":
		return invalid("name", "is required")
	}
	return nil
}

func (c *Catalog) CreateStore(ctx context.Context, in StoreInput, by Operator) (*Store, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := c.now()
	s := &Store{
		Code:      in.Code,
		Name:      in.Name,
		Address:   in.Address,
		Phone:     in.Phone,
		ChannelID: in.ChannelID,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := c.Repo.WithTx(ctx, func(repo Repository) error {
		if err := repo.CreateStore(ctx, s); err != nil {
			return err
		}
		return repo.AppendAudit(ctx, c.audit("stores", int64(s.ID), AuditCreate, nil, s, by))
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (c *Catalog) UpdateStore(ctx context.Context, id StoreID, in StoreInput, by Operator) (*Store, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var out *Store
	err := c.Repo.WithTx(ctx, func(repo Repository) error {
		cur, err := repo.GetStore(ctx, id)
		if err != nil {
			return err
		}
		if cur == nil {
			return ErrStoreNotFound
		}
		next := *cur
		next.Code, next.Name, next.Address, next.Phone, next.ChannelID = in.Code, in.Name, in.Address, in.Phone, in.ChannelID
		next.UpdatedAt = c.now()
		if err := repo.UpdateStore(ctx, next); err != nil {
			return err
		}
		out = &next
		return repo.AppendAudit(ctx, c.audit("stores", int64(id), AuditUpdate, cur, next, by))
	})
	return out, err
}

// DeactivateStore hides a store from new movements. History is kept.
func (c *Catalog) DeactivateStore(ctx context.Context, id StoreID, by Operator) (*Store, error) {
	var out *Store
	err := c.Repo.WithTx(ctx, func(repo Repository) error {
		cur, err := repo.GetStore(ctx, id)
		if err != nil {
			return err
		}
		if cur == nil {
			return ErrStoreNotFound
		}
		next := *cur
		next.Active = false
		next.UpdatedAt = c.now()
		if err := repo.UpdateStore(ctx, next); err != nil {
			return err
		}
		out = &next
		return repo.AppendAudit(ctx, c.audit("stores", int64(id), AuditDeactivate, cur, next, by))
	})
	return out, err
}

func (c *Catalog) GetStore(ctx context.Context, id StoreID) (*Store, error) {
	s, err := c.Repo.GetStore(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrStoreNotFound
	}
	return s, nil
}

// StoreForChannel resolves the store bound to a chat channel.
func (c *Catalog) StoreForChannel(ctx context.Context, channelID string) (*Store, error) {
	if channelID == "" {
		return nil, invalid("channel_id", "is required")
	}
	s, err := c.Repo.GetStoreByChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrStoreNotFound
	}
	return s, nil
}

func (c *Catalog) ListStores(ctx context.Context, includeInactive bool) ([]Store, error) {
	return c.Repo.ListStores(ctx, includeInactive)
}

type ProductInput struct {
	SKU             string
	Name            string
	Barcode         string
	Category        string
	UnitsPerCase    int64
	UnitPrice       decimal.Decimal
	SafetyStockCase int64
	SafetyStockUnit int64
}

func (in ProductInput) validate() error {
	switch {
	case CanonicalSKU(in.SKU) == "":
		return invalid("sku", "is required")
	case in.Name == "":
		return invalid("name", "is required")
	case in.UnitsPerCase < 0:
		return invalid("units_per_case", "must not be negative")
	case in.UnitPrice.IsNegative():
		return invalid("unit_price", "must not be negative")
	case in.SafetyStockCase < 0 || in.SafetyStockUnit < 0:
		return invalid("safety_stock", "must not be negative")
	}
	return nil
}

func (in ProductInput) apply(p *Product) {
	p.SKU = CanonicalSKU(in.SKU)
	p.Name = in.Name
	p.Barcode = strings.TrimSpace(in.Barcode)
	p.Category = in.Category
	p.UnitsPerCase = in.UnitsPerCase
	p.UnitPrice = in.UnitPrice
	p.SafetyStockCase = in.SafetyStockCase
	p.SafetyStockUnit = in.SafetyStockUnit
}

func (c *Catalog) CreateProduct(ctx context.Context, in ProductInput, by Operator) (*Product, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := c.now()
	p := &Product{Active: true, CreatedAt: now, UpdatedAt: now}
	in.apply(p)
	err := c.Repo.WithTx(ctx, func(repo Repository) error {
		if err := repo.CreateProduct(ctx, p); err != nil {
			return err
		}
		return repo.AppendAudit(ctx, c.audit("products", int64(p.ID), AuditCreate, nil, p, by))
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (c *Catalog) UpdateProduct(ctx context.Context, id ProductID, in ProductInput, by Operator) (*Product, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var out *Product
	err := c.Repo.WithTx(ctx, func(repo Repository) error {
		cur, err := repo.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		if cur == nil {
			return ErrProductNotFound
		}
		next := *cur
		in.apply(&next)
		next.UpdatedAt = c.now()
		if err := repo.UpdateProduct(ctx, next); err != nil {
			return err
		}
		out = &next
		return repo.AppendAudit(ctx, c.audit("products", int64(id), AuditUpdate, cur, next, by))
	})
	return out, err
}

func (c *Catalog) DeactivateProduct(ctx context.Context, id ProductID, by Operator) (*Product, error) {
	var out *Product
	err := c.Repo.WithTx(ctx, func(repo Repository) error {
		cur, err := repo.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		if cur == nil {
			return ErrProductNotFound
		}
		next := *cur
		next.Active = false
		next.UpdatedAt = c.now()
		if err := repo.UpdateProduct(ctx, next); err != nil {
			return err
		}
		out = &next
		return repo.AppendAudit(ctx, c.audit("products", int64(id), AuditDeactivate, cur, next, by))
	})
	return out, err
}

func (c *Catalog) GetProduct(ctx context.Context, id ProductID) (*Product, error) {
	p, err := c.Repo.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProductNotFound
	}
	return p, nil
}

// FindProductBySKU looks a product up by SKU in any letter case.
func (c *Catalog) FindProductBySKU(ctx context.Context, sku string) (*Product, error) {
	p, err := c.Repo.GetProductBySKU(ctx, CanonicalSKU(sku))
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProductNotFound
	}
	return p, nil
}

// FindProductByBarcode returns the product carrying an exact barcode.
func (c *Catalog) FindProductByBarcode(ctx context.Context, barcode string) (*Product, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, invalid("barcode", "is required")
	}
	p, err := c.Repo.GetProductByBarcode(ctx, barcode)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProductNotFound
	}
	return p, nil
}

// DefaultSearchLimit caps keyword searches when the caller sets no limit.
const DefaultSearchLimit = 20

// SearchProducts finds active products by a name keyword.
func (c *Catalog) SearchProducts(ctx context.Context, keyword string, limit int) ([]Product, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, invalid("q", "is required")
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	return c.Repo.SearchProducts(ctx, keyword, limit)
}

func (c *Catalog) ListProducts(ctx context.Context, includeInactive bool) ([]Product, error) {
	return c.Repo.ListProducts(ctx, includeInactive)
}

func (c *Catalog) AuditTrail(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	return c.Repo.ListAudit(ctx, filter)
}

func (c *Catalog) audit(table string, id int64, action AuditAction, old, next any, by Operator) AuditEntry {
	e := AuditEntry{
		Table:        table,
		RecordID:     id,
		Action:       action,
		NewValue:     auditJSON(next),
		OperatorID:   by.ID,
		OperatorName: by.Name,
		CreatedAt:    c.now(),
	}
	if old != nil {
		e.OldValue = auditJSON(old)
	}
	return e
}
