package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/warp/stock-ledger/ledger"
	"github.com/xuri/excelize/v2"
)

// =============================================================================
// WORKBOOK - One sheet per business day, named MMDD
// =============================================================================

type SnapshotReader interface {
	SnapshotsByDate(ctx context.Context, storeID ledger.StoreID, date ledger.Date) ([]ledger.Snapshot, error)
}

type CatalogReader interface {
	GetStore(ctx context.Context, id ledger.StoreID) (*ledger.Store, error)
	GetProduct(ctx context.Context, id ledger.ProductID) (*ledger.Product, error)
}

// Headings is the column set of every daily sheet.
var Headings = []string{
	"SKU", "Product", "Store",
	"Opening Case", "Opening Unit", "Opening Cost",
	"Inbound Case", "Inbound Unit", "Inbound Cost",
	"Outbound Case", "Outbound Unit", "Outbound Cost",
	"Adjustment Case", "Adjustment Unit", "Adjustment Cost",
	"Closing Case", "Closing Unit", "Closing Cost",
	"Avg Cost Case", "Avg Cost Unit",
}

const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Workbook struct {
	Snapshots SnapshotReader
	Catalog   CatalogReader
}

// Build returns a workbook with one sheet per day from `from` through `to`
// for one store. Days without snapshots get a sheet with headings only.
// Sheets are named MMDD, so a range that would reuse a name is rejected.
func (w *Workbook) Build(ctx context.Context, storeID ledger.StoreID, from, to ledger.Date) (*excelize.File, error) {
	if to.Before(from) {
		return nil, &ledger.ValidationError{Field: "to", Reason: "must not be before from"}
	}
	days := from.DaysThrough(to)
	seen := make(map[string]ledger.Date, len(days))
	for _, day := range days {
		if first, ok := seen[day.Label()]; ok {
			return nil, &ledger.ValidationError{
				Field:  "to",
				Reason: fmt.Sprintf("range repeats sheet %s (%s and %s)", day.Label(), first, day),
			}
		}
		seen[day.Label()] = day
	}
	store, err := w.Catalog.GetStore(ctx, storeID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	products := make(map[ledger.ProductID]*ledger.Product)
	for i, day := range days {
		sheet := day.Label()
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				f.Close()
				return nil, err
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			f.Close()
			return nil, err
		}

		snaps, err := w.Snapshots.SnapshotsByDate(ctx, storeID, day)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("snapshots for %s: %w", day, err)
		}
		if err := writeRow(f, sheet, 1, headingValues()); err != nil {
			f.Close()
			return nil, err
		}
		for j, s := range snaps {
			p, ok := products[s.ProductID]
			if !ok {
				if p, err = w.Catalog.GetProduct(ctx, s.ProductID); err != nil {
					f.Close()
					return nil, err
				}
				products[s.ProductID] = p
			}
			if err := writeRow(f, sheet, j+2, snapshotValues(store, p, s)); err != nil {
				f.Close()
				return nil, err
			}
		}
	}
	return f, nil
}

func headingValues() []any {
	out := make([]any, len(Headings))
	for i, h := range Headings {
		out[i] = h
	}
	return out
}

func snapshotValues(store *ledger.Store, p *ledger.Product, s ledger.Snapshot) []any {
	return []any{
		p.SKU, p.Name, store.Name,
		s.Opening.Case, s.Opening.Unit, money(s.Opening),
		s.Inbound.Case, s.Inbound.Unit, money(s.Inbound),
		s.Outbound.Case, s.Outbound.Unit, money(s.Outbound),
		s.Adjustment.Case, s.Adjustment.Unit, money(s.Adjustment),
		s.Closing.Case, s.Closing.Unit, money(s.Closing),
		s.AvgCostCase.InexactFloat64(), s.AvgCostUnit.InexactFloat64(),
	}
}

func money(b ledger.Bucket) float64 {
	return b.CostCase.Add(b.CostUnit).Round(ledger.CostScale).InexactFloat64()
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// FILE SINK - Keeps one workbook per store and month on disk
// =============================================================================

// FileSink rewrites the monthly workbook of every month an event touched.
type FileSink struct {
	Dir      string
	Workbook *Workbook
	Calendar *ledger.Calendar
}

func (s *FileSink) Name() string { return "workbook" }

func (s *FileSink) Handle(ctx context.Context, ev ledger.Event) error {
	if ev.BusinessDate.IsZero() {
		return nil
	}
	today := s.Calendar.Today()
	last := ev.BusinessDate
	if ev.Retroactive && last.Before(today) {
		last = today
	}
	for month := firstOfMonth(ev.BusinessDate); !month.After(last); month = firstOfMonth(month.AddDays(32)) {
		end := firstOfMonth(month.AddDays(32)).AddDays(-1)
		if end.After(today) {
			end = today
		}
		if end.Before(month) {
			continue
		}
		if err := s.write(ctx, ev.StoreID, month, end); err != nil {
			return err
		}
	}
	return nil
}

// Path is where the workbook for one store and month lives.
func (s *FileSink) Path(storeID ledger.StoreID, month ledger.Date) string {
	return filepath.Join(s.Dir, fmt.Sprintf("store-%d-%s.xlsx", storeID, month.MonthTag()))
}

func (s *FileSink) write(ctx context.Context, storeID ledger.StoreID, from, to ledger.Date) error {
	f, err := s.Workbook.Build(ctx, storeID, from, to)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	return f.SaveAs(s.Path(storeID, from))
}

func firstOfMonth(d ledger.Date) ledger.Date {
	return ledger.NewDate(d.Year(), d.Month(), 1)
}
