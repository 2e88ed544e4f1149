package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// STOCK TAKE - Physical count reconciliation
// =============================================================================

type StockTakeStatus string

const (
	StockTakeDraft     StockTakeStatus = "draft"
	StockTakeCompleted StockTakeStatus = "completed"
)

type StockTake struct {
	ID              StockTakeID
	StoreID         StoreID
	Date            Date
	Month           string // reporting month, YYYY-MM
	Status          StockTakeStatus
	Note            string
	CreatedByID     string
	CreatedByName   string
	CompletedByID   string
	CompletedByName string
	CompletedAt     *time.Time
	CreatedAt       time.Time
	Items           []StockTakeItem
}

// StockTakeItem freezes the system count and the diff when the draft is
// created; later movements do not change them.
type StockTakeItem struct {
	ID          int64
	StockTakeID StockTakeID
	ProductID   ProductID
	SystemCase  int64
	SystemUnit  int64
	ActualCase  int64
	ActualUnit  int64
	DiffCase    int64
	DiffUnit    int64
	Note        string
}

type StockTakeFilter struct {
	StoreID StoreID
	Status  StockTakeStatus
	Month   string
	Limit   int
}

// CountLine is one counted product in a new stock take.
type CountLine struct {
	ProductID  ProductID
	ActualCase int64
	ActualUnit int64
	Note       string
}

type CreateStockTakeRequest struct {
	StoreID  StoreID
	Date     Date   // defaults to today's business date
	Month    string // defaults to Date's month
	Note     string
	Lines    []CountLine
	Operator Operator
}

func (r CreateStockTakeRequest) validate() error {
	switch {
	case r.StoreID <= 0:
		return invalid("store_id", "is required")
	case len(r.Lines) == 0:
		return invalid("items", "must not be empty")
	case r.Operator.ID == "":
		return invalid("operator", "is required")
	}
	if r.Month != "" {
		if _, err := time.Parse("2006-01", r.Month); err != nil {
			return invalid("month", "must be YYYY-MM")
		}
	}
	seen := make(map[ProductID]bool, len(r.Lines))
	for i, line := range r.Lines {
		field := fmt.Sprintf("items[%d]", i)
		if line.ProductID <= 0 {
			return invalid(field+".product_id", "is required")
		}
		if seen[line.ProductID] {
			return invalid(field+".product_id", "is listed twice")
		}
		seen[line.ProductID] = true
		if line.ActualCase < 0 || line.ActualUnit < 0 {
			return invalid(field+".actual", "must not be negative")
		}
	}
	return nil
}

// =============================================================================
// STOCK TAKE WORKFLOW - draft ──▶ completed (terminal)
// =============================================================================

type StockTakeWorkflow struct {
	Ledger *Ledger
}

// Create captures each product's current balance as the system count and
// freezes diff = actual - system.
func (w *StockTakeWorkflow) Create(ctx context.Context, req CreateStockTakeRequest) (*StockTake, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	l := w.Ledger
	now := l.Calendar.now()
	date := req.Date
	if date.IsZero() {
		date = l.Calendar.BusinessDateOf(now)
	}
	month := req.Month
	if month == "" {
		month = date.MonthTag()
	}

	st := &StockTake{
		StoreID:       req.StoreID,
		Date:          date,
		Month:         month,
		Status:        StockTakeDraft,
		Note:          req.Note,
		CreatedByID:   req.Operator.ID,
		CreatedByName: req.Operator.Name,
		CreatedAt:     now,
	}
	err := l.Repo.WithTx(ctx, func(repo Repository) error {
		s, err := repo.GetStore(ctx, req.StoreID)
		if err != nil {
			return err
		}
		if s == nil {
			return ErrStoreNotFound
		}
		st.Items = st.Items[:0]
		for _, line := range req.Lines {
			p, err := repo.GetProduct(ctx, line.ProductID)
			if err != nil {
				return err
			}
			if p == nil {
				return &ItemError{ProductID: line.ProductID, Err: ErrProductNotFound}
			}
			b, err := repo.GetBalance(ctx, req.StoreID, line.ProductID)
			if err != nil {
				return err
			}
			item := StockTakeItem{
				ProductID:  line.ProductID,
				ActualCase: line.ActualCase,
				ActualUnit: line.ActualUnit,
				Note:       line.Note,
			}
			if b != nil {
				item.SystemCase = b.QuantityCase
				item.SystemUnit = b.QuantityUnit
			}
			item.DiffCase = item.ActualCase - item.SystemCase
			item.DiffUnit = item.ActualUnit - item.SystemUnit
			st.Items = append(st.Items, item)
		}
		if err := repo.CreateStockTake(ctx, st); err != nil {
			return err
		}
		return repo.AppendAudit(ctx, AuditEntry{
			Table:        "stock_takes",
			RecordID:     int64(st.ID),
			Action:       AuditCreate,
			NewValue:     auditJSON(st),
			OperatorID:   req.Operator.ID,
			OperatorName: req.Operator.Name,
			CreatedAt:    now,
		})
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (w *StockTakeWorkflow) Get(ctx context.Context, id StockTakeID) (*StockTake, error) {
	st, err := w.Ledger.Repo.GetStockTake(ctx, id)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrStockTakeNotFound
	}
	return st, nil
}

func (w *StockTakeWorkflow) List(ctx context.Context, filter StockTakeFilter) ([]StockTake, error) {
	return w.Ledger.Repo.ListStockTakes(ctx, filter)
}

// Complete posts one stocktake row per non-zero diff, valued at the
// current average cost and dated today, then marks the draft completed.
// Everything commits together or not at all.
func (w *StockTakeWorkflow) Complete(ctx context.Context, id StockTakeID, by Operator) (*StockTake, error) {
	l := w.Ledger
	if by.ID == "" {
		return nil, invalid("operator", "is required")
	}
	st, err := w.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.Status != StockTakeDraft {
		return nil, ErrAlreadyCompleted
	}

	keys := make([]string, 0, len(st.Items))
	for _, it := range st.Items {
		keys = append(keys, BalanceKey(st.StoreID, it.ProductID))
	}

	var (
		done     *StockTake
		txIDs    []TransactionID
		products []ProductID
		today    Date
	)
	err = l.write(ctx, keys, func(repo Repository) error {
		txIDs, products = txIDs[:0], products[:0]
		cur, err := repo.GetStockTake(ctx, id)
		if err != nil {
			return err
		}
		if cur == nil {
			return ErrStockTakeNotFound
		}
		if cur.Status != StockTakeDraft {
			return ErrAlreadyCompleted
		}
		now := l.Calendar.now()
		today = l.Calendar.BusinessDateOf(now)
		stID := cur.ID
		for _, it := range cur.Items {
			if it.DiffCase == 0 && it.DiffUnit == 0 {
				continue
			}
			if err := checkActive(ctx, repo, cur.StoreID, it.ProductID); err != nil {
				return &ItemError{ProductID: it.ProductID, Err: err}
			}
			diffCase, diffUnit := it.DiffCase, it.DiffUnit
			tx, err := l.post(ctx, repo, posting{
				Type:         TxStockTake,
				StoreID:      cur.StoreID,
				ProductID:    it.ProductID,
				BusinessDate: today,
				Source:       SourceWeb,
				Operator:     by,
				StockTakeID:  &stID,
				Note:         fmt.Sprintf("stock take #%d (%s)", cur.ID, cur.Month),
				price: func(b Balance) Delta {
					return l.Costing.averageDelta(b, diffCase, diffUnit)
				},
				unitCosts: averageUnitCosts(diffCase, diffUnit),
			}, now)
			if err != nil {
				return &ItemError{ProductID: it.ProductID, Err: err}
			}
			txIDs = append(txIDs, tx.ID)
			products = append(products, it.ProductID)
		}
		if err := repo.CompleteStockTake(ctx, cur.ID, by, now); err != nil {
			return err
		}
		next := *cur
		next.Status = StockTakeCompleted
		next.CompletedByID = by.ID
		next.CompletedByName = by.Name
		next.CompletedAt = &now
		done = &next
		return repo.AppendAudit(ctx, AuditEntry{
			Table:        "stock_takes",
			RecordID:     int64(cur.ID),
			Action:       AuditComplete,
			OldValue:     auditJSON(cur),
			NewValue:     auditJSON(next),
			OperatorID:   by.ID,
			OperatorName: by.Name,
			CreatedAt:    now,
		})
	})
	if err != nil {
		l.log().WithFields(logrus.Fields{
			"stocktake_id": id,
			"store_id":     st.StoreID,
		}).WithError(err).Warn("stock take completion rejected")
		return nil, err
	}

	l.afterCommit(ctx, Event{
		Kind:           EventStockTakeCompleted,
		StoreID:        done.StoreID,
		ProductIDs:     products,
		TransactionIDs: txIDs,
		StockTakeID:    done.ID,
		BusinessDate:   today,
		OccurredAt:     *done.CompletedAt,
	})
	return done, nil
}
