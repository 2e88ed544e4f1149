/*
Package sqlite provides a SQLite-backed implementation of ledger.TxRepository.

PURPOSE:
  Persists master data, balances, the append-only transaction log, the
  adjustment and stock-take workflows, daily snapshots and the audit log.
  Queries go through sqlx against database/sql; the same SQL runs on
  PostgreSQL with minor dialect changes.

APPEND-ONLY ENFORCEMENT:
  Transaction rows are never updated except for the cancellation flag and
  the link to the cancel row. No DELETE statement touches transactions.

KEY TABLES:
  stores, products:     master data (deactivated, never deleted)
  balances:             materialized stock, guarded by a version column
  transactions:         immutable ledger of every stock change
  adjustments(+items):  approval workflow
  stock_takes(+items):  physical count workflow
  daily_snapshots:      derived per-day rollup, UNIQUE(store, product, date)
  audit_logs:           before/after images of workflow and master data writes

CONCURRENCY:
  A single connection is used (SetMaxOpenConns(1)), so SQLite sees one
  writer at a time. Inside WithTx every statement runs on the sql.Tx; the
  closure must never reach back to the Store, which would wait for the
  connection the transaction holds.

ERRORS:
  SQLITE_BUSY / SQLITE_LOCKED        ──▶ ledger.ErrConcurrentModification
  UNIQUE / PRIMARY KEY violations    ──▶ ledger.ErrDuplicate
  CANTOPEN / IOERR / CORRUPT / FULL  ──▶ ledger.ErrStorageUnavailable

USAGE:
  store, err := sqlite.New("./data/stock.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  l := ledger.NewLedger(store, ledger.NewCalendar(loc))

SEE ALSO:
  - ledger/store.go: interface definitions
  - ledger/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/warp/stock-ledger/ledger"
)

// Store implements ledger.TxRepository using SQLite.
type Store struct {
	queries
	db *sqlx.DB
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, queries: queries{ext: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return mapError(s.db.PingContext(ctx))
}

// WithTx executes fn within a database transaction. fn's error (or a failed
// commit) rolls everything back.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Repository) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if err := fn(&queries{ext: tx}); err != nil {
		return err
	}
	return mapError(tx.Commit())
}

// queries runs every repository statement against either the database or
// an open transaction.
type queries struct {
	ext sqlx.ExtContext
}

// addedColumns lists columns introduced after their table first shipped.
// CREATE TABLE IF NOT EXISTS leaves older tables alone, so migrate adds any
// of these that are missing.
var addedColumns = []struct{ table, column, ddl string }{
	{"stock_takes", "note", `ALTER TABLE stock_takes ADD COLUMN note TEXT NOT NULL DEFAULT ''`},
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	for _, c := range addedColumns {
		var n int
		if err := s.db.Get(&n, `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, c.table, c.column); err != nil {
			return fmt.Errorf("inspect %s: %w", c.table, err)
		}
		if n > 0 {
			continue
		}
		if _, err := s.db.Exec(c.ddl); err != nil {
			return fmt.Errorf("add %s.%s: %w", c.table, c.column, err)
		}
	}
	return nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS stores (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		channel_id TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_stores_channel
		ON stores(channel_id) WHERE channel_id <> '';

	CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sku TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		barcode TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		units_per_case INTEGER NOT NULL DEFAULT 0,
		unit_price TEXT NOT NULL DEFAULT '0',
		safety_stock_case INTEGER NOT NULL DEFAULT 0,
		safety_stock_unit INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_products_barcode
		ON products(barcode);

	-- Materialized stock; version guards concurrent writers
	CREATE TABLE IF NOT EXISTS balances (
		store_id INTEGER NOT NULL REFERENCES stores(id),
		product_id INTEGER NOT NULL REFERENCES products(id),
		quantity_case INTEGER NOT NULL DEFAULT 0 CHECK (quantity_case >= 0),
		quantity_unit INTEGER NOT NULL DEFAULT 0 CHECK (quantity_unit >= 0),
		total_cost_case TEXT NOT NULL DEFAULT '0',
		total_cost_unit TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 1,
		updated_at DATETIME NOT NULL,
		UNIQUE(store_id, product_id)
	);

	-- Append-only ledger
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		store_id INTEGER NOT NULL REFERENCES stores(id),
		product_id INTEGER NOT NULL REFERENCES products(id),
		type TEXT NOT NULL,
		quantity_case INTEGER NOT NULL DEFAULT 0,
		quantity_unit INTEGER NOT NULL DEFAULT 0,
		unit_cost_case TEXT,
		unit_cost_unit TEXT,
		cost_case TEXT NOT NULL DEFAULT '0',
		cost_unit TEXT NOT NULL DEFAULT '0',
		total_cost TEXT NOT NULL DEFAULT '0',
		business_date TEXT NOT NULL,
		transaction_time DATETIME NOT NULL,
		source TEXT NOT NULL,
		operator_id TEXT NOT NULL DEFAULT '',
		operator_name TEXT NOT NULL DEFAULT '',
		adjustment_id INTEGER REFERENCES adjustments(id),
		stock_take_id INTEGER REFERENCES stock_takes(id),
		cancels_id INTEGER REFERENCES transactions(id),
		cancelled_by_id INTEGER REFERENCES transactions(id),
		is_cancelled BOOLEAN NOT NULL DEFAULT FALSE,
		note TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	-- Hot path: snapshot rollup and subsequent-activity checks
	CREATE INDEX IF NOT EXISTS idx_transactions_store_product_date
		ON transactions(store_id, product_id, business_date);
	CREATE INDEX IF NOT EXISTS idx_transactions_store_date
		ON transactions(store_id, business_date);
	CREATE INDEX IF NOT EXISTS idx_transactions_type
		ON transactions(type);

	CREATE TABLE IF NOT EXISTS adjustments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		store_id INTEGER NOT NULL REFERENCES stores(id),
		type TEXT NOT NULL,
		adjustment_date TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		reason TEXT NOT NULL DEFAULT '',
		created_by_id TEXT NOT NULL,
		created_by_name TEXT NOT NULL DEFAULT '',
		approved_by_id TEXT NOT NULL DEFAULT '',
		approved_by_name TEXT NOT NULL DEFAULT '',
		approved_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_adjustments_store_status
		ON adjustments(store_id, status);

	CREATE TABLE IF NOT EXISTS adjustment_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		adjustment_id INTEGER NOT NULL REFERENCES adjustments(id),
		product_id INTEGER NOT NULL REFERENCES products(id),
		quantity_case INTEGER NOT NULL DEFAULT 0,
		quantity_unit INTEGER NOT NULL DEFAULT 0,
		unit_cost_case TEXT,
		unit_cost_unit TEXT,
		from_case INTEGER NOT NULL DEFAULT 0,
		to_unit INTEGER NOT NULL DEFAULT 0,
		from_unit INTEGER NOT NULL DEFAULT 0,
		to_case INTEGER NOT NULL DEFAULT 0,
		note TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_adjustment_items_adjustment
		ON adjustment_items(adjustment_id);

	CREATE TABLE IF NOT EXISTS stock_takes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		store_id INTEGER NOT NULL REFERENCES stores(id),
		take_date TEXT NOT NULL,
		month TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft',
		note TEXT NOT NULL DEFAULT '',
		created_by_id TEXT NOT NULL,
		created_by_name TEXT NOT NULL DEFAULT '',
		completed_by_id TEXT NOT NULL DEFAULT '',
		completed_by_name TEXT NOT NULL DEFAULT '',
		completed_at DATETIME,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_stock_takes_store_month
		ON stock_takes(store_id, month);

	CREATE TABLE IF NOT EXISTS stock_take_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		stock_take_id INTEGER NOT NULL REFERENCES stock_takes(id),
		product_id INTEGER NOT NULL REFERENCES products(id),
		system_case INTEGER NOT NULL DEFAULT 0,
		system_unit INTEGER NOT NULL DEFAULT 0,
		actual_case INTEGER NOT NULL DEFAULT 0,
		actual_unit INTEGER NOT NULL DEFAULT 0,
		diff_case INTEGER NOT NULL DEFAULT 0,
		diff_unit INTEGER NOT NULL DEFAULT 0,
		note TEXT NOT NULL DEFAULT '',
		UNIQUE(stock_take_id, product_id)
	);

	-- Derived daily rollup
	CREATE TABLE IF NOT EXISTS daily_snapshots (
		store_id INTEGER NOT NULL REFERENCES stores(id),
		product_id INTEGER NOT NULL REFERENCES products(id),
		business_date TEXT NOT NULL,
		opening_case INTEGER NOT NULL DEFAULT 0,
		opening_unit INTEGER NOT NULL DEFAULT 0,
		opening_cost_case TEXT NOT NULL DEFAULT '0',
		opening_cost_unit TEXT NOT NULL DEFAULT '0',
		inbound_case INTEGER NOT NULL DEFAULT 0,
		inbound_unit INTEGER NOT NULL DEFAULT 0,
		inbound_cost_case TEXT NOT NULL DEFAULT '0',
		inbound_cost_unit TEXT NOT NULL DEFAULT '0',
		outbound_case INTEGER NOT NULL DEFAULT 0,
		outbound_unit INTEGER NOT NULL DEFAULT 0,
		outbound_cost_case TEXT NOT NULL DEFAULT '0',
		outbound_cost_unit TEXT NOT NULL DEFAULT '0',
		adjustment_case INTEGER NOT NULL DEFAULT 0,
		adjustment_unit INTEGER NOT NULL DEFAULT 0,
		adjustment_cost_case TEXT NOT NULL DEFAULT '0',
		adjustment_cost_unit TEXT NOT NULL DEFAULT '0',
		closing_case INTEGER NOT NULL DEFAULT 0,
		closing_unit INTEGER NOT NULL DEFAULT 0,
		closing_cost_case TEXT NOT NULL DEFAULT '0',
		closing_cost_unit TEXT NOT NULL DEFAULT '0',
		avg_cost_case TEXT NOT NULL DEFAULT '0',
		avg_cost_unit TEXT NOT NULL DEFAULT '0',
		updated_at DATETIME NOT NULL,
		UNIQUE(store_id, product_id, business_date)
	);

	CREATE INDEX IF NOT EXISTS idx_daily_snapshots_store_date
		ON daily_snapshots(store_id, business_date);

	CREATE TABLE IF NOT EXISTS audit_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		table_name TEXT NOT NULL,
		record_id INTEGER NOT NULL,
		action TEXT NOT NULL,
		old_value TEXT NOT NULL DEFAULT '',
		new_value TEXT NOT NULL DEFAULT '',
		operator_id TEXT NOT NULL DEFAULT '',
		operator_name TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_record
		ON audit_logs(table_name, record_id);
`

// =============================================================================
// ERROR MAPPING
// =============================================================================

// mapError translates driver errors into the ledger's error taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", ledger.ErrConcurrentModification, err)
		case sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrCorrupt, sqlite3.ErrNotADB, sqlite3.ErrFull:
			return fmt.Errorf("%w: %v", ledger.ErrStorageUnavailable, err)
		case sqlite3.ErrConstraint:
			if se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
				return fmt.Errorf("%w: %v", ledger.ErrDuplicate, err)
			}
		}
	}
	if errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "database is closed") {
		return fmt.Errorf("%w: %v", ledger.ErrStorageUnavailable, err)
	}
	return err
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

var _ ledger.TxRepository = (*Store)(nil)
