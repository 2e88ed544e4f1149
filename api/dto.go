/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger's Go types from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags for shape checks
  (required fields, non-negative counts, date format). Ledger rules such as
  stock sufficiency are enforced by the ledger itself.

SEE ALSO:
  - handlers.go: Uses these types
  - validate.go: Tag validation and error mapping
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/channel"
	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// MASTER DATA
// =============================================================================

type StoreRequest struct {
	Code      string `json:"code" validate:"required,max=32"`
	Name      string `json:"name" validate:"required,max=200"`
	Address   string `json:"address" validate:"max=500"`
	Phone     string `json:"phone" validate:"max=50"`
	ChannelID string `json:"channel_id" validate:"max=100"`
}

func (r StoreRequest) input() ledger.StoreInput {
	return ledger.StoreInput{
		Code:      r.Code,
		Name:      r.Name,
		Address:   r.Address,
		Phone:     r.Phone,
		ChannelID: r.ChannelID,
	}
}

type StoreDTO struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	ChannelID string    `json:"channel_id,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toStoreDTO(s ledger.Store) StoreDTO {
	return StoreDTO{
		ID:        int64(s.ID),
		Code:      s.Code,
		Name:      s.Name,
		Address:   s.Address,
		Phone:     s.Phone,
		ChannelID: s.ChannelID,
		Active:    s.Active,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

type ProductRequest struct {
	SKU             string          `json:"sku" validate:"required,max=64"`
	Name            string          `json:"name" validate:"required,max=200"`
	Barcode         string          `json:"barcode" validate:"max=64"`
	Category        string          `json:"category" validate:"max=100"`
	UnitsPerCase    int64           `json:"units_per_case" validate:"gte=0"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	SafetyStockCase int64           `json:"safety_stock_case" validate:"gte=0"`
	SafetyStockUnit int64           `json:"safety_stock_unit" validate:"gte=0"`
}

func (r ProductRequest) input() ledger.ProductInput {
	return ledger.ProductInput{
		SKU:             r.SKU,
		Name:            r.Name,
		Barcode:         r.Barcode,
		Category:        r.Category,
		UnitsPerCase:    r.UnitsPerCase,
		UnitPrice:       r.UnitPrice,
		SafetyStockCase: r.SafetyStockCase,
		SafetyStockUnit: r.SafetyStockUnit,
	}
}

type ProductDTO struct {
	ID              int64           `json:"id"`
	SKU             string          `json:"sku"`
	Name            string          `json:"name"`
	Barcode         string          `json:"barcode,omitempty"`
	Category        string          `json:"category,omitempty"`
	UnitsPerCase    int64           `json:"units_per_case"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	SafetyStockCase int64           `json:"safety_stock_case"`
	SafetyStockUnit int64           `json:"safety_stock_unit"`
	Active          bool            `json:"active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func toProductDTO(p ledger.Product) ProductDTO {
	return ProductDTO{
		ID:              int64(p.ID),
		SKU:             p.SKU,
		Name:            p.Name,
		Barcode:         p.Barcode,
		Category:        p.Category,
		UnitsPerCase:    p.UnitsPerCase,
		UnitPrice:       p.UnitPrice,
		SafetyStockCase: p.SafetyStockCase,
		SafetyStockUnit: p.SafetyStockUnit,
		Active:          p.Active,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

// =============================================================================
// BALANCES
// =============================================================================

type BalanceDTO struct {
	StoreID       int64           `json:"store_id"`
	ProductID     int64           `json:"product_id"`
	QuantityCase  int64           `json:"quantity_case"`
	QuantityUnit  int64           `json:"quantity_unit"`
	TotalCostCase decimal.Decimal `json:"total_cost_case"`
	TotalCostUnit decimal.Decimal `json:"total_cost_unit"`
	AvgCostCase   decimal.Decimal `json:"avg_cost_case"`
	AvgCostUnit   decimal.Decimal `json:"avg_cost_unit"`
	Version       int64           `json:"version"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func toBalanceDTO(b ledger.Balance) BalanceDTO {
	r := b.Rounded()
	return BalanceDTO{
		StoreID:       int64(b.StoreID),
		ProductID:     int64(b.ProductID),
		QuantityCase:  b.QuantityCase,
		QuantityUnit:  b.QuantityUnit,
		TotalCostCase: r.TotalCostCase,
		TotalCostUnit: r.TotalCostUnit,
		AvgCostCase:   b.AvgCostCase().Round(ledger.CostScale),
		AvgCostUnit:   b.AvgCostUnit().Round(ledger.CostScale),
		Version:       b.Version,
		UpdatedAt:     b.UpdatedAt,
	}
}

type LowStockDTO struct {
	Balance BalanceDTO `json:"balance"`
	Product ProductDTO `json:"product"`
}

// =============================================================================
// MOVEMENTS & TRANSACTIONS
// =============================================================================

// MovementRequest posts a direct inbound or outbound movement. Unit costs
// are read for inbound only.
type MovementRequest struct {
	StoreID      int64           `json:"store_id" validate:"required,gt=0"`
	ProductID    int64           `json:"product_id" validate:"required,gt=0"`
	QuantityCase int64           `json:"quantity_case" validate:"gte=0"`
	QuantityUnit int64           `json:"quantity_unit" validate:"gte=0"`
	UnitCostCase decimal.Decimal `json:"unit_cost_case"`
	UnitCostUnit decimal.Decimal `json:"unit_cost_unit"`
	Note         string          `json:"note" validate:"max=500"`
}

type TransactionDTO struct {
	ID              int64           `json:"id"`
	StoreID         int64           `json:"store_id"`
	ProductID       int64           `json:"product_id"`
	Type            string          `json:"type"`
	QuantityCase    int64           `json:"quantity_case"`
	QuantityUnit    int64           `json:"quantity_unit"`
	UnitCostCase    *string         `json:"unit_cost_case,omitempty"`
	UnitCostUnit    *string         `json:"unit_cost_unit,omitempty"`
	CostCase        decimal.Decimal `json:"cost_case"`
	CostUnit        decimal.Decimal `json:"cost_unit"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	BusinessDate    ledger.Date     `json:"business_date"`
	TransactionTime time.Time       `json:"transaction_time"`
	Source          string          `json:"source"`
	OperatorID      string          `json:"operator_id"`
	OperatorName    string          `json:"operator_name"`
	AdjustmentID    *int64          `json:"adjustment_id,omitempty"`
	StockTakeID     *int64          `json:"stock_take_id,omitempty"`
	CancelsID       *int64          `json:"cancels_id,omitempty"`
	CancelledByID   *int64          `json:"cancelled_by_id,omitempty"`
	IsCancelled     bool            `json:"is_cancelled"`
	Note            string          `json:"note,omitempty"`
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:              int64(tx.ID),
		StoreID:         int64(tx.StoreID),
		ProductID:       int64(tx.ProductID),
		Type:            string(tx.Type),
		QuantityCase:    tx.QuantityCase,
		QuantityUnit:    tx.QuantityUnit,
		CostCase:        tx.CostCase.Round(ledger.CostScale),
		CostUnit:        tx.CostUnit.Round(ledger.CostScale),
		TotalCost:       tx.TotalCost.Round(ledger.CostScale),
		BusinessDate:    tx.BusinessDate,
		TransactionTime: tx.TransactionTime,
		Source:          string(tx.Source),
		OperatorID:      tx.OperatorID,
		OperatorName:    tx.OperatorName,
		IsCancelled:     tx.IsCancelled,
		Note:            tx.Note,
	}
	if tx.UnitCostCase.Valid {
		dto.UnitCostCase = strPtr(tx.UnitCostCase.Decimal.Round(ledger.CostScale).String())
	}
	if tx.UnitCostUnit.Valid {
		dto.UnitCostUnit = strPtr(tx.UnitCostUnit.Decimal.Round(ledger.CostScale).String())
	}
	if tx.AdjustmentID != nil {
		dto.AdjustmentID = int64Ptr(int64(*tx.AdjustmentID))
	}
	if tx.StockTakeID != nil {
		dto.StockTakeID = int64Ptr(int64(*tx.StockTakeID))
	}
	if tx.CancelsID != nil {
		dto.CancelsID = int64Ptr(int64(*tx.CancelsID))
	}
	if tx.CancelledByID != nil {
		dto.CancelledByID = int64Ptr(int64(*tx.CancelledByID))
	}
	return dto
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	out := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		out[i] = toTransactionDTO(tx)
	}
	return out
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

type AdjustmentItemRequest struct {
	ProductID    int64            `json:"product_id" validate:"required,gt=0"`
	QuantityCase int64            `json:"quantity_case" validate:"gte=0"`
	QuantityUnit int64            `json:"quantity_unit" validate:"gte=0"`
	UnitCostCase *decimal.Decimal `json:"unit_cost_case"`
	UnitCostUnit *decimal.Decimal `json:"unit_cost_unit"`
	FromCase     int64            `json:"from_case" validate:"gte=0"`
	ToUnit       int64            `json:"to_unit" validate:"gte=0"`
	FromUnit     int64            `json:"from_unit" validate:"gte=0"`
	ToCase       int64            `json:"to_case" validate:"gte=0"`
	Note         string           `json:"note" validate:"max=500"`
}

type CreateAdjustmentRequest struct {
	StoreID        int64                   `json:"store_id" validate:"required,gt=0"`
	Type           string                  `json:"type" validate:"required,oneof=make_up_outbound make_up_inbound conversion"`
	AdjustmentDate string                  `json:"adjustment_date" validate:"required,bizdate"`
	Reason         string                  `json:"reason" validate:"max=1000"`
	Items          []AdjustmentItemRequest `json:"items" validate:"required,min=1,dive"`
}

func (r CreateAdjustmentRequest) toLedger(op ledger.Operator) ledger.CreateAdjustmentRequest {
	items := make([]ledger.AdjustmentItem, len(r.Items))
	for i, it := range r.Items {
		items[i] = ledger.AdjustmentItem{
			ProductID:    ledger.ProductID(it.ProductID),
			QuantityCase: it.QuantityCase,
			QuantityUnit: it.QuantityUnit,
			UnitCostCase: nullDecimal(it.UnitCostCase),
			UnitCostUnit: nullDecimal(it.UnitCostUnit),
			Conversion: ledger.Conversion{
				FromCase: it.FromCase,
				ToUnit:   it.ToUnit,
				FromUnit: it.FromUnit,
				ToCase:   it.ToCase,
			},
			Note: it.Note,
		}
	}
	// the date has passed the bizdate tag already
	date, _ := ledger.ParseDate(r.AdjustmentDate)
	return ledger.CreateAdjustmentRequest{
		StoreID:        ledger.StoreID(r.StoreID),
		Type:           ledger.AdjustmentType(r.Type),
		AdjustmentDate: date,
		Reason:         r.Reason,
		Items:          items,
		Operator:       op,
	}
}

type RejectRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

type AdjustmentItemDTO struct {
	ID           int64   `json:"id"`
	ProductID    int64   `json:"product_id"`
	QuantityCase int64   `json:"quantity_case"`
	QuantityUnit int64   `json:"quantity_unit"`
	UnitCostCase *string `json:"unit_cost_case,omitempty"`
	UnitCostUnit *string `json:"unit_cost_unit,omitempty"`
	FromCase     int64   `json:"from_case,omitempty"`
	ToUnit       int64   `json:"to_unit,omitempty"`
	FromUnit     int64   `json:"from_unit,omitempty"`
	ToCase       int64   `json:"to_case,omitempty"`
	Note         string  `json:"note,omitempty"`
}

type AdjustmentDTO struct {
	ID             int64               `json:"id"`
	StoreID        int64               `json:"store_id"`
	Type           string              `json:"type"`
	AdjustmentDate ledger.Date         `json:"adjustment_date"`
	Status         string              `json:"status"`
	Reason         string              `json:"reason,omitempty"`
	CreatedByID    string              `json:"created_by_id"`
	CreatedByName  string              `json:"created_by_name"`
	ApprovedByID   string              `json:"approved_by_id,omitempty"`
	ApprovedByName string              `json:"approved_by_name,omitempty"`
	ApprovedAt     *time.Time          `json:"approved_at,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	Items          []AdjustmentItemDTO `json:"items"`
}

func toAdjustmentDTO(a ledger.Adjustment) AdjustmentDTO {
	dto := AdjustmentDTO{
		ID:             int64(a.ID),
		StoreID:        int64(a.StoreID),
		Type:           string(a.Type),
		AdjustmentDate: a.AdjustmentDate,
		Status:         string(a.Status),
		Reason:         a.Reason,
		CreatedByID:    a.CreatedByID,
		CreatedByName:  a.CreatedByName,
		ApprovedByID:   a.ApprovedByID,
		ApprovedByName: a.ApprovedByName,
		ApprovedAt:     a.ApprovedAt,
		CreatedAt:      a.CreatedAt,
		Items:          make([]AdjustmentItemDTO, len(a.Items)),
	}
	for i, it := range a.Items {
		item := AdjustmentItemDTO{
			ID:           it.ID,
			ProductID:    int64(it.ProductID),
			QuantityCase: it.QuantityCase,
			QuantityUnit: it.QuantityUnit,
			FromCase:     it.FromCase,
			ToUnit:       it.ToUnit,
			FromUnit:     it.FromUnit,
			ToCase:       it.ToCase,
			Note:         it.Note,
		}
		if it.UnitCostCase.Valid {
			item.UnitCostCase = strPtr(it.UnitCostCase.Decimal.String())
		}
		if it.UnitCostUnit.Valid {
			item.UnitCostUnit = strPtr(it.UnitCostUnit.Decimal.String())
		}
		dto.Items[i] = item
	}
	return dto
}

// =============================================================================
// STOCK TAKES
// =============================================================================

type CountLineRequest struct {
	ProductID  int64  `json:"product_id" validate:"required,gt=0"`
	ActualCase int64  `json:"actual_case" validate:"gte=0"`
	ActualUnit int64  `json:"actual_unit" validate:"gte=0"`
	Note       string `json:"note" validate:"max=500"`
}

type CreateStockTakeRequest struct {
	StoreID int64              `json:"store_id" validate:"required,gt=0"`
	Date    string             `json:"date" validate:"omitempty,bizdate"`
	Month   string             `json:"month" validate:"omitempty,datetime=2006-01"`
	Note    string             `json:"note" validate:"max=1000"`
	Items   []CountLineRequest `json:"items" validate:"required,min=1,dive"`
}

func (r CreateStockTakeRequest) toLedger(op ledger.Operator) ledger.CreateStockTakeRequest {
	lines := make([]ledger.CountLine, len(r.Items))
	for i, it := range r.Items {
		lines[i] = ledger.CountLine{
			ProductID:  ledger.ProductID(it.ProductID),
			ActualCase: it.ActualCase,
			ActualUnit: it.ActualUnit,
			Note:       it.Note,
		}
	}
	req := ledger.CreateStockTakeRequest{
		StoreID:  ledger.StoreID(r.StoreID),
		Month:    r.Month,
		Note:     r.Note,
		Lines:    lines,
		Operator: op,
	}
	if r.Date != "" {
		req.Date, _ = ledger.ParseDate(r.Date)
	}
	return req
}

type StockTakeItemDTO struct {
	ID         int64  `json:"id"`
	ProductID  int64  `json:"product_id"`
	SystemCase int64  `json:"system_case"`
	SystemUnit int64  `json:"system_unit"`
	ActualCase int64  `json:"actual_case"`
	ActualUnit int64  `json:"actual_unit"`
	DiffCase   int64  `json:"diff_case"`
	DiffUnit   int64  `json:"diff_unit"`
	Note       string `json:"note,omitempty"`
}

type StockTakeDTO struct {
	ID              int64              `json:"id"`
	StoreID         int64              `json:"store_id"`
	Date            ledger.Date        `json:"date"`
	Month           string             `json:"month"`
	Status          string             `json:"status"`
	Note            string             `json:"note,omitempty"`
	CreatedByID     string             `json:"created_by_id"`
	CreatedByName   string             `json:"created_by_name"`
	CompletedByID   string             `json:"completed_by_id,omitempty"`
	CompletedByName string             `json:"completed_by_name,omitempty"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	Items           []StockTakeItemDTO `json:"items"`
}

func toStockTakeDTO(st ledger.StockTake) StockTakeDTO {
	dto := StockTakeDTO{
		ID:              int64(st.ID),
		StoreID:         int64(st.StoreID),
		Date:            st.Date,
		Month:           st.Month,
		Status:          string(st.Status),
		Note:            st.Note,
		CreatedByID:     st.CreatedByID,
		CreatedByName:   st.CreatedByName,
		CompletedByID:   st.CompletedByID,
		CompletedByName: st.CompletedByName,
		CompletedAt:     st.CompletedAt,
		CreatedAt:       st.CreatedAt,
		Items:           make([]StockTakeItemDTO, len(st.Items)),
	}
	for i, it := range st.Items {
		dto.Items[i] = StockTakeItemDTO{
			ID:         it.ID,
			ProductID:  int64(it.ProductID),
			SystemCase: it.SystemCase,
			SystemUnit: it.SystemUnit,
			ActualCase: it.ActualCase,
			ActualUnit: it.ActualUnit,
			DiffCase:   it.DiffCase,
			DiffUnit:   it.DiffUnit,
			Note:       it.Note,
		}
	}
	return dto
}

// =============================================================================
// SNAPSHOTS & AUDIT
// =============================================================================

type BucketDTO struct {
	Case     int64           `json:"case"`
	Unit     int64           `json:"unit"`
	CostCase decimal.Decimal `json:"cost_case"`
	CostUnit decimal.Decimal `json:"cost_unit"`
}

type SnapshotDTO struct {
	StoreID      int64           `json:"store_id"`
	ProductID    int64           `json:"product_id"`
	BusinessDate ledger.Date     `json:"business_date"`
	Label        string          `json:"label"`
	Opening      BucketDTO       `json:"opening"`
	Inbound      BucketDTO       `json:"inbound"`
	Outbound     BucketDTO       `json:"outbound"`
	Adjustment   BucketDTO       `json:"adjustment"`
	Closing      BucketDTO       `json:"closing"`
	AvgCostCase  decimal.Decimal `json:"avg_cost_case"`
	AvgCostUnit  decimal.Decimal `json:"avg_cost_unit"`
}

func toBucketDTO(b ledger.Bucket) BucketDTO {
	return BucketDTO{Case: b.Case, Unit: b.Unit, CostCase: b.CostCase, CostUnit: b.CostUnit}
}

func toSnapshotDTO(s ledger.Snapshot) SnapshotDTO {
	return SnapshotDTO{
		StoreID:      int64(s.StoreID),
		ProductID:    int64(s.ProductID),
		BusinessDate: s.BusinessDate,
		Label:        s.Label(),
		Opening:      toBucketDTO(s.Opening),
		Inbound:      toBucketDTO(s.Inbound),
		Outbound:     toBucketDTO(s.Outbound),
		Adjustment:   toBucketDTO(s.Adjustment),
		Closing:      toBucketDTO(s.Closing),
		AvgCostCase:  s.AvgCostCase,
		AvgCostUnit:  s.AvgCostUnit,
	}
}

type AuditDTO struct {
	ID           int64     `json:"id"`
	Table        string    `json:"table"`
	RecordID     int64     `json:"record_id"`
	Action       string    `json:"action"`
	OldValue     string    `json:"old_value,omitempty"`
	NewValue     string    `json:"new_value,omitempty"`
	OperatorID   string    `json:"operator_id"`
	OperatorName string    `json:"operator_name"`
	CreatedAt    time.Time `json:"created_at"`
}

func toAuditDTO(e ledger.AuditEntry) AuditDTO {
	return AuditDTO{
		ID:           e.ID,
		Table:        e.Table,
		RecordID:     e.RecordID,
		Action:       string(e.Action),
		OldValue:     e.OldValue,
		NewValue:     e.NewValue,
		OperatorID:   e.OperatorID,
		OperatorName: e.OperatorName,
		CreatedAt:    e.CreatedAt,
	}
}

// =============================================================================
// CHAT CHANNEL
// =============================================================================

type ChannelSelectRequest struct {
	ChannelID string `json:"channel_id" validate:"required"`
	UserID    string `json:"user_id" validate:"required"`
	UserName  string `json:"user_name"`
	SKU       string `json:"sku" validate:"required"` // or a barcode
}

type ChannelMovementRequest struct {
	ChannelID    string          `json:"channel_id" validate:"required"`
	UserID       string          `json:"user_id" validate:"required"`
	UserName     string          `json:"user_name"`
	SKU          string          `json:"sku"`
	QuantityCase int64           `json:"quantity_case" validate:"gte=0"`
	QuantityUnit int64           `json:"quantity_unit" validate:"gte=0"`
	UnitCostCase decimal.Decimal `json:"unit_cost_case"`
	UnitCostUnit decimal.Decimal `json:"unit_cost_unit"`
	Note         string          `json:"note" validate:"max=500"`
}

type SelectionDTO struct {
	Store   StoreDTO    `json:"store"`
	Product ProductDTO  `json:"product"`
	Balance *BalanceDTO `json:"balance,omitempty"`
}

func toSelectionDTO(sel channel.Selection) SelectionDTO {
	dto := SelectionDTO{Store: toStoreDTO(*sel.Store), Product: toProductDTO(*sel.Product)}
	if sel.Balance != nil {
		b := toBalanceDTO(*sel.Balance)
		dto.Balance = &b
	}
	return dto
}

type ChannelSearchRequest struct {
	ChannelID string `json:"channel_id" validate:"required"`
	UserID    string `json:"user_id" validate:"required"`
	UserName  string `json:"user_name"`
	Keyword   string `json:"keyword" validate:"required,max=100"`
}

type ChannelSearchDTO struct {
	Matches   []ProductDTO  `json:"matches"`
	Selection *SelectionDTO `json:"selection,omitempty"`
}

// =============================================================================
// SCENARIO DTOs
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func strPtr(s string) *string { return &s }

func int64Ptr(n int64) *int64 { return &n }

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}
