package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stocktransfer/internal/inventory"
)

// InventoryRepository persists ledger entries in SQLite.
type InventoryRepository struct {
	db *sql.DB
}

// NewInventoryRepository constructs an InventoryRepository.
func NewInventoryRepository(db *sql.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

// WithTx runs fn inside a transaction.
func (r *InventoryRepository) WithTx(ctx context.Context, fn func(context.Context, inventory.Ledger) error) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		return fn(ctx, &ledger{q: tx})
	})
}

// OnHand reads the committed on-hand quantity.
func (r *InventoryRepository) OnHand(ctx context.Context, productID, warehouseID int64) (decimal.Decimal, error) {
	return (&ledger{q: r.db}).OnHand(ctx, productID, warehouseID)
}

// Entries lists entries ordered by id.
func (r *InventoryRepository) Entries(ctx context.Context, filter inventory.EntryFilter) ([]inventory.Entry, error) {
	return listEntries(ctx, r.db, filter)
}

type ledger struct {
	q querier
}

func (l *ledger) Append(ctx context.Context, entries ...inventory.Entry) ([]inventory.Entry, error) {
	out := make([]inventory.Entry, 0, len(entries))
	for _, e := range entries {
		if !e.Kind.IsValid() {
			return nil, fmt.Errorf("appending entry: unknown kind %q", e.Kind)
		}
		res, err := l.q.ExecContext(ctx,
			`INSERT INTO inventory_ledger (product_id, warehouse_id, branch_id, cost_center_id, kind, qty_change, ref_module, ref_id, ref_line_id, note, posted_at, created_by)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ProductID, e.WarehouseID, e.BranchID, e.CostCenterID, string(e.Kind), e.QtyChange.String(),
			e.RefModule, e.RefID, e.RefLineID, e.Note, formatTime(e.PostedAt), e.CreatedBy,
		)
		if err != nil {
			return nil, fmt.Errorf("appending entry: %w", err)
		}
		if e.ID, err = res.LastInsertId(); err != nil {
			return nil, fmt.Errorf("appending entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (l *ledger) OnHand(ctx context.Context, productID, warehouseID int64) (decimal.Decimal, error) {
	rows, err := l.q.QueryContext(ctx,
		`SELECT qty_change FROM inventory_ledger WHERE product_id = ? AND warehouse_id = ?`, productID, warehouseID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("reading on hand: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, fmt.Errorf("scanning quantity: %w", err)
		}
		q, err := parseDecimal(raw)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(q)
	}
	return total, rows.Err()
}

func (l *ledger) HasEntries(ctx context.Context, refModule string, refID int64, kind inventory.Kind) (bool, error) {
	var exists bool
	err := l.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM inventory_ledger WHERE ref_module = ? AND ref_id = ? AND kind = ?)`,
		refModule, refID, string(kind),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking entries: %w", err)
	}
	return exists, nil
}

func listEntries(ctx context.Context, q querier, filter inventory.EntryFilter) ([]inventory.Entry, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, product_id, warehouse_id, branch_id, cost_center_id, kind, qty_change, ref_module, ref_id, ref_line_id, note, posted_at, created_by
		FROM inventory_ledger WHERE id > ?`)
	args := []any{filter.AfterID}
	if filter.ProductID > 0 {
		sb.WriteString(" AND product_id = ?")
		args = append(args, filter.ProductID)
	}
	if filter.WarehouseID > 0 {
		sb.WriteString(" AND warehouse_id = ?")
		args = append(args, filter.WarehouseID)
	}
	if filter.RefModule != "" {
		sb.WriteString(" AND ref_module = ?")
		args = append(args, filter.RefModule)
	}
	if filter.RefID > 0 {
		sb.WriteString(" AND ref_id = ?")
		args = append(args, filter.RefID)
	}
	sb.WriteString(" ORDER BY id")
	if filter.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}

	rows, err := q.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	var entries []inventory.Entry
	for rows.Next() {
		var (
			e             inventory.Entry
			kind, qty, at string
		)
		if err := rows.Scan(&e.ID, &e.ProductID, &e.WarehouseID, &e.BranchID, &e.CostCenterID, &kind, &qty,
			&e.RefModule, &e.RefID, &e.RefLineID, &e.Note, &at, &e.CreatedBy); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		e.Kind = inventory.Kind(kind)
		if e.QtyChange, err = parseDecimal(qty); err != nil {
			return nil, err
		}
		if e.PostedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
