package inventory

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stocktransfer/internal/platform/db"
)

// Ledger is the write side of the stock ledger, bound to one transaction.
type Ledger interface {
	Reader
	// Append inserts entries in order and returns them with ids assigned.
	Append(ctx context.Context, entries ...Entry) ([]Entry, error)
	// HasEntries reports whether any entry of kind references the document.
	HasEntries(ctx context.Context, refModule string, refID int64, kind Kind) (bool, error)
}

// Repository persists ledger entries in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Ledger) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewLedger(tx))
	})
}

// OnHand reads the committed on-hand quantity.
func (r *Repository) OnHand(ctx context.Context, productID, warehouseID int64) (decimal.Decimal, error) {
	return NewLedger(r.pool).OnHand(ctx, productID, warehouseID)
}

// Entries lists entries ordered by id.
func (r *Repository) Entries(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	return listEntries(ctx, r.pool, filter)
}

type pgLedger struct {
	q db.Querier
}

// NewLedger binds a Ledger to a pool or an open transaction.
func NewLedger(q db.Querier) Ledger {
	return &pgLedger{q: q}
}

const entryColumns = `id, product_id, warehouse_id, branch_id, cost_center_id, kind, qty_change, ref_module, ref_id, ref_line_id, note, posted_at, created_by`

func (l *pgLedger) Append(ctx context.Context, entries ...Entry) ([]Entry, error) {
	const query = `INSERT INTO inventory_ledger (product_id, warehouse_id, branch_id, cost_center_id, kind, qty_change, ref_module, ref_id, ref_line_id, note, posted_at, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, NOW()), $12)
RETURNING id, posted_at`
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !e.Kind.IsValid() {
			return nil, fmt.Errorf("inventory: unknown entry kind %q", e.Kind)
		}
		var postedAt *pgtype.Timestamptz
		if !e.PostedAt.IsZero() {
			postedAt = &pgtype.Timestamptz{Time: e.PostedAt, Valid: true}
		}
		err := l.q.QueryRow(ctx, query,
			e.ProductID, e.WarehouseID, e.BranchID, e.CostCenterID, string(e.Kind),
			db.ToNumeric(e.QtyChange), e.RefModule, e.RefID, e.RefLineID, e.Note, postedAt, e.CreatedBy,
		).Scan(&e.ID, &e.PostedAt)
		if err != nil {
			return nil, fmt.Errorf("inventory: append entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (l *pgLedger) OnHand(ctx context.Context, productID, warehouseID int64) (decimal.Decimal, error) {
	var sum pgtype.Numeric
	err := l.q.QueryRow(ctx, `SELECT COALESCE(SUM(qty_change), 0) FROM inventory_ledger WHERE product_id = $1 AND warehouse_id = $2`, productID, warehouseID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("inventory: on hand: %w", err)
	}
	return db.FromNumeric(sum), nil
}

func (l *pgLedger) HasEntries(ctx context.Context, refModule string, refID int64, kind Kind) (bool, error) {
	var exists bool
	err := l.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM inventory_ledger WHERE ref_module = $1 AND ref_id = $2 AND kind = $3)`, refModule, refID, string(kind)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("inventory: has entries: %w", err)
	}
	return exists, nil
}

func listEntries(ctx context.Context, q db.Querier, filter EntryFilter) ([]Entry, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + entryColumns + ` FROM inventory_ledger WHERE id > $1`)
	args := []any{filter.AfterID}
	add := func(clause string, v any) {
		args = append(args, v)
		sb.WriteString(" AND " + clause + " = $" + strconv.Itoa(len(args)))
	}
	if filter.ProductID > 0 {
		add("product_id", filter.ProductID)
	}
	if filter.WarehouseID > 0 {
		add("warehouse_id", filter.WarehouseID)
	}
	if filter.RefModule != "" {
		add("ref_module", filter.RefModule)
	}
	if filter.RefID > 0 {
		add("ref_id", filter.RefID)
	}
	sb.WriteString(" ORDER BY id")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sb.WriteString(" LIMIT $" + strconv.Itoa(len(args)))
	}

	rows, err := q.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("inventory: list entries: %w", err)
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		var kind string
		var qty pgtype.Numeric
		if err := rows.Scan(&e.ID, &e.ProductID, &e.WarehouseID, &e.BranchID, &e.CostCenterID, &kind, &qty,
			&e.RefModule, &e.RefID, &e.RefLineID, &e.Note, &e.PostedAt, &e.CreatedBy); err != nil {
			return nil, err
		}
		e.Kind = Kind(kind)
		e.QtyChange = db.FromNumeric(qty)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
