/*
adjustment.go - Backdated adjustment approval workflow

PURPOSE:
  An Adjustment is an operator-submitted correction dated in the past.
  Nothing touches stock until an approver acts on it.

STATE MACHINE:
  ┌─────────┐  Approve  ┌──────────┐
  │ pending │ ────────▶ │ approved │  (terminal)
  └─────────┘           └──────────┘
       │       Reject   ┌──────────┐
       └──────────────▶ │ rejected │  (terminal)
                        └──────────┘

  Approve or Reject on anything but pending fails with ErrAlreadyProcessed.

APPROVAL:
  Each item is posted exactly like a direct movement, dated at the
  adjustment's business date:
  - make_up_inbound:  adjustment_in at the item's explicit unit costs
  - make_up_outbound: adjustment_out at the balance's average cost now
                      (no attempt to rebuild the historical average)
  - conversion:       one zero-cost conversion row with the net deltas of
                      cases→units and units→cases; cost pools stay untouched

  All items and the status flip commit in one repository transaction. If any
  item is rejected nothing is written and the adjustment stays pending.
  After commit, snapshots are recomputed from the adjustment date forward.

SEE ALSO:
  - ledger.go: post() and the write path
  - snapshot.go: RetroactiveRecompute
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// ADJUSTMENT - Backdated correction request
// =============================================================================

type AdjustmentType string

const (
	AdjustMakeUpOutbound AdjustmentType = "make_up_outbound"
	AdjustMakeUpInbound  AdjustmentType = "make_up_inbound"
	AdjustConversion     AdjustmentType = "conversion"
)

func (t AdjustmentType) Valid() bool {
	return t == AdjustMakeUpOutbound || t == AdjustMakeUpInbound || t == AdjustConversion
}

type AdjustmentStatus string

const (
	AdjustmentPending  AdjustmentStatus = "pending"
	AdjustmentApproved AdjustmentStatus = "approved"
	AdjustmentRejected AdjustmentStatus = "rejected"
)

type Adjustment struct {
	ID             AdjustmentID
	StoreID        StoreID
	Type           AdjustmentType
	AdjustmentDate Date
	Status         AdjustmentStatus
	Reason         string
	CreatedByID    string
	CreatedByName  string
	ApprovedByID   string // set on approval or rejection
	ApprovedByName string
	ApprovedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Items          []AdjustmentItem
}

// Conversion holds two independent unit-conversion moves: FromCase cases
// broken into ToUnit units, and FromUnit units packed into ToCase cases.
type Conversion struct {
	FromCase int64
	ToUnit   int64
	FromUnit int64
	ToCase   int64
}

// Net returns the combined quantity change of both moves.
func (c Conversion) Net() (dCase, dUnit int64) {
	return c.ToCase - c.FromCase, c.ToUnit - c.FromUnit
}

type AdjustmentItem struct {
	ID           int64
	AdjustmentID AdjustmentID
	ProductID    ProductID
	QuantityCase int64
	QuantityUnit int64
	UnitCostCase decimal.NullDecimal
	UnitCostUnit decimal.NullDecimal
	Conversion
	Note string
}

type AdjustmentFilter struct {
	StoreID StoreID
	Status  AdjustmentStatus
	Limit   int
}

// =============================================================================
// ADJUSTMENT WORKFLOW
// =============================================================================

type AdjustmentWorkflow struct {
	Ledger *Ledger
}

// CreateAdjustmentRequest is the input to Create.
type CreateAdjustmentRequest struct {
	StoreID        StoreID
	Type           AdjustmentType
	AdjustmentDate Date
	Reason         string
	Items          []AdjustmentItem
	Operator       Operator
}

func (r CreateAdjustmentRequest) validate(today Date) error {
	switch {
	case r.StoreID <= 0:
		return invalid("store_id", "is required")
	case !r.Type.Valid():
		return invalid("type", "must be make_up_outbound, make_up_inbound or conversion")
	case r.AdjustmentDate.IsZero():
		return invalid("adjustment_date", "is required")
	case r.AdjustmentDate.After(today):
		return invalid("adjustment_date", "must not be after today's business date")
	case len(r.Items) == 0:
		return invalid("items", "must not be empty")
	case r.Operator.ID == "":
		return invalid("operator", "is required")
	}
	for i, it := range r.Items {
		field := fmt.Sprintf("items[%d]", i)
		if it.ProductID <= 0 {
			return invalid(field+".product_id", "is required")
		}
		if r.Type == AdjustConversion {
			if err := validateConversion(field, it.Conversion); err != nil {
				return err
			}
			continue
		}
		if it.QuantityCase < 0 || it.QuantityUnit < 0 {
			return invalid(field+".quantity", "must not be negative")
		}
		if it.QuantityCase == 0 && it.QuantityUnit == 0 {
			return invalid(field+".quantity", "must be greater than zero")
		}
		if it.UnitCostCase.Valid && it.UnitCostCase.Decimal.IsNegative() ||
			it.UnitCostUnit.Valid && it.UnitCostUnit.Decimal.IsNegative() {
			return invalid(field+".unit_cost", "must not be negative")
		}
	}
	return nil
}

// validateConversion requires each move to name both sides or neither.
func validateConversion(field string, c Conversion) error {
	if c.FromCase < 0 || c.ToUnit < 0 || c.FromUnit < 0 || c.ToCase < 0 {
		return invalid(field+".conversion", "must not be negative")
	}
	if (c.FromCase > 0) != (c.ToUnit > 0) {
		return invalid(field+".conversion", "from_case and to_unit must both be set")
	}
	if (c.FromUnit > 0) != (c.ToCase > 0) {
		return invalid(field+".conversion", "from_unit and to_case must both be set")
	}
	if c.FromCase == 0 && c.FromUnit == 0 {
		return invalid(field+".conversion", "must convert at least one dimension")
	}
	return nil
}

// Create stores a pending adjustment. Stock is untouched.
func (w *AdjustmentWorkflow) Create(ctx context.Context, req CreateAdjustmentRequest) (*Adjustment, error) {
	l := w.Ledger
	now := l.Calendar.now()
	if err := req.validate(l.Calendar.BusinessDateOf(now)); err != nil {
		return nil, err
	}
	a := &Adjustment{
		StoreID:        req.StoreID,
		Type:           req.Type,
		AdjustmentDate: req.AdjustmentDate,
		Status:         AdjustmentPending,
		Reason:         req.Reason,
		CreatedByID:    req.Operator.ID,
		CreatedByName:  req.Operator.Name,
		CreatedAt:      now,
		UpdatedAt:      now,
		Items:          append([]AdjustmentItem(nil), req.Items...),
	}
	err := l.Repo.WithTx(ctx, func(repo Repository) error {
		s, err := repo.GetStore(ctx, req.StoreID)
		if err != nil {
			return err
		}
		if s == nil {
			return ErrStoreNotFound
		}
		for _, it := range a.Items {
			p, err := repo.GetProduct(ctx, it.ProductID)
			if err != nil {
				return err
			}
			if p == nil {
				return &ItemError{ProductID: it.ProductID, Err: ErrProductNotFound}
			}
		}
		if err := repo.CreateAdjustment(ctx, a); err != nil {
			return err
		}
		return repo.AppendAudit(ctx, AuditEntry{
			Table:        "adjustments",
			RecordID:     int64(a.ID),
			Action:       AuditCreate,
			NewValue:     auditJSON(a),
			OperatorID:   req.Operator.ID,
			OperatorName: req.Operator.Name,
			CreatedAt:    now,
		})
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (w *AdjustmentWorkflow) Get(ctx context.Context, id AdjustmentID) (*Adjustment, error) {
	a, err := w.Ledger.Repo.GetAdjustment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrAdjustmentNotFound
	}
	return a, nil
}

func (w *AdjustmentWorkflow) List(ctx context.Context, filter AdjustmentFilter) ([]Adjustment, error) {
	return w.Ledger.Repo.ListAdjustments(ctx, filter)
}

// Approve applies every item atomically and marks the adjustment approved.
func (w *AdjustmentWorkflow) Approve(ctx context.Context, id AdjustmentID, approver Operator) (*Adjustment, error) {
	l := w.Ledger
	a, err := w.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != AdjustmentPending {
		return nil, ErrAlreadyProcessed
	}
	if approver.ID == "" {
		return nil, invalid("operator", "is required")
	}

	keys := make([]string, 0, len(a.Items))
	for _, it := range a.Items {
		keys = append(keys, BalanceKey(a.StoreID, it.ProductID))
	}

	var (
		approved *Adjustment
		txIDs    []TransactionID
	)
	err = l.write(ctx, keys, func(repo Repository) error {
		txIDs = txIDs[:0]
		cur, err := repo.GetAdjustment(ctx, id)
		if err != nil {
			return err
		}
		if cur == nil {
			return ErrAdjustmentNotFound
		}
		if cur.Status != AdjustmentPending {
			return ErrAlreadyProcessed
		}
		now := l.Calendar.now()
		for _, it := range cur.Items {
			if err := checkActive(ctx, repo, cur.StoreID, it.ProductID); err != nil {
				return &ItemError{ProductID: it.ProductID, Err: err}
			}
			tx, err := w.postItem(ctx, repo, cur, it, approver, now)
			if err != nil {
				return &ItemError{ProductID: it.ProductID, Err: err}
			}
			txIDs = append(txIDs, tx.ID)
		}

		next := *cur
		next.Status = AdjustmentApproved
		next.ApprovedByID = approver.ID
		next.ApprovedByName = approver.Name
		next.ApprovedAt = &now
		next.UpdatedAt = now
		if err := repo.ResolveAdjustment(ctx, next); err != nil {
			return err
		}
		approved = &next
		return repo.AppendAudit(ctx, AuditEntry{
			Table:        "adjustments",
			RecordID:     int64(cur.ID),
			Action:       AuditApprove,
			OldValue:     auditJSON(cur),
			NewValue:     auditJSON(next),
			OperatorID:   approver.ID,
			OperatorName: approver.Name,
			CreatedAt:    now,
		})
	})
	if err != nil {
		l.log().WithFields(logrus.Fields{
			"adjustment_id": id,
			"store_id":      a.StoreID,
		}).WithError(err).Warn("adjustment approval rejected")
		return nil, err
	}

	l.afterCommit(ctx, Event{
		Kind:           EventAdjustmentApproved,
		StoreID:        approved.StoreID,
		ProductIDs:     adjustmentProducts(approved),
		TransactionIDs: txIDs,
		AdjustmentID:   approved.ID,
		BusinessDate:   approved.AdjustmentDate,
		Retroactive:    true,
		OccurredAt:     *approved.ApprovedAt,
	})
	return approved, nil
}

// postItem dispatches one item by adjustment type.
func (w *AdjustmentWorkflow) postItem(ctx context.Context, repo Repository, a *Adjustment, it AdjustmentItem, by Operator, now time.Time) (*Transaction, error) {
	l := w.Ledger
	adjID := a.ID
	p := posting{
		StoreID:      a.StoreID,
		ProductID:    it.ProductID,
		BusinessDate: a.AdjustmentDate,
		Source:       SourceWeb,
		Operator:     by,
		AdjustmentID: &adjID,
		Note:         it.Note,
	}
	switch a.Type {
	case AdjustMakeUpInbound:
		costCase := it.UnitCostCase.Decimal
		costUnit := it.UnitCostUnit.Decimal
		p.Type = TxAdjustmentIn
		p.price = func(Balance) Delta {
			return l.Costing.inboundDelta(it.QuantityCase, it.QuantityUnit, costCase, costUnit)
		}
		p.unitCosts = func(Balance) (decimal.NullDecimal, decimal.NullDecimal) {
			return unitCostIf(it.QuantityCase, costCase), unitCostIf(it.QuantityUnit, costUnit)
		}
	case AdjustMakeUpOutbound:
		p.Type = TxAdjustmentOut
		p.price = func(b Balance) Delta {
			return l.Costing.outboundDelta(b, it.QuantityCase, it.QuantityUnit)
		}
		p.unitCosts = averageUnitCosts(it.QuantityCase, it.QuantityUnit)
	case AdjustConversion:
		cur, err := repo.GetBalance(ctx, a.StoreID, it.ProductID)
		if err != nil {
			return nil, err
		}
		if err := l.Validator.CanConvert(cur, it.Conversion); err != nil {
			return nil, err
		}
		dCase, dUnit := it.Conversion.Net()
		p.Type = TxConversion
		p.price = func(Balance) Delta { return Delta{Case: dCase, Unit: dUnit} }
		if p.Note == "" {
			p.Note = conversionNote(it.Conversion)
		}
	default:
		return nil, invalid("type", "unknown adjustment type")
	}
	return l.post(ctx, repo, p, now)
}

// Reject closes a pending adjustment without touching stock.
func (w *AdjustmentWorkflow) Reject(ctx context.Context, id AdjustmentID, approver Operator, reason string) (*Adjustment, error) {
	l := w.Ledger
	if approver.ID == "" {
		return nil, invalid("operator", "is required")
	}
	var rejected *Adjustment
	err := l.withRetry(ctx, func() error {
		return l.Repo.WithTx(ctx, func(repo Repository) error {
			cur, err := repo.GetAdjustment(ctx, id)
			if err != nil {
				return err
			}
			if cur == nil {
				return ErrAdjustmentNotFound
			}
			if cur.Status != AdjustmentPending {
				return ErrAlreadyProcessed
			}
			now := l.Calendar.now()
			next := *cur
			next.Status = AdjustmentRejected
			next.ApprovedByID = approver.ID
			next.ApprovedByName = approver.Name
			next.ApprovedAt = &now
			next.UpdatedAt = now
			if reason != "" {
				next.Reason = joinReason(cur.Reason, reason)
			}
			if err := repo.ResolveAdjustment(ctx, next); err != nil {
				return err
			}
			rejected = &next
			return repo.AppendAudit(ctx, AuditEntry{
				Table:        "adjustments",
				RecordID:     int64(cur.ID),
				Action:       AuditReject,
				OldValue:     auditJSON(cur),
				NewValue:     auditJSON(next),
				OperatorID:   approver.ID,
				OperatorName: approver.Name,
				CreatedAt:    now,
			})
		})
	})
	if err != nil {
		return nil, err
	}
	if l.Notifier != nil {
		l.Notifier.Notify(context.WithoutCancel(ctx), Event{
			Kind:         EventAdjustmentRejected,
			StoreID:      rejected.StoreID,
			ProductIDs:   adjustmentProducts(rejected),
			AdjustmentID: rejected.ID,
			BusinessDate: rejected.AdjustmentDate,
			OccurredAt:   *rejected.ApprovedAt,
		})
	}
	return rejected, nil
}

func adjustmentProducts(a *Adjustment) []ProductID {
	seen := make(map[ProductID]bool, len(a.Items))
	var ids []ProductID
	for _, it := range a.Items {
		if !seen[it.ProductID] {
			seen[it.ProductID] = true
			ids = append(ids, it.ProductID)
		}
	}
	return ids
}

func conversionNote(c Conversion) string {
	switch {
	case c.FromCase > 0 && c.FromUnit > 0:
		return fmt.Sprintf("%d case -> %d unit; %d unit -> %d case", c.FromCase, c.ToUnit, c.FromUnit, c.ToCase)
	case c.FromCase > 0:
		return fmt.Sprintf("%d case -> %d unit", c.FromCase, c.ToUnit)
	default:
		return fmt.Sprintf("%d unit -> %d case", c.FromUnit, c.ToCase)
	}
}

func joinReason(existing, rejection string) string {
	if existing == "" {
		return "rejected: " + rejection
	}
	return existing + " (rejected: " + rejection + ")"
}
