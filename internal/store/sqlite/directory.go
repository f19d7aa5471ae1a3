package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/odyssey-erp/stocktransfer/internal/identity"
)

// Directory reads and maintains user assignments, warehouses and branches.
type Directory struct {
	db *sql.DB
}

// NewDirectory constructs a Directory.
func NewDirectory(db *sql.DB) *Directory {
	return &Directory{db: db}
}

// Lookup resolves the role and scope of a user within a company.
func (d *Directory) Lookup(ctx context.Context, companyID, userID int64) (identity.Actor, error) {
	var (
		actor     identity.Actor
		role      string
		warehouse sql.NullInt64
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT user_id, company_id, role, branch_id, warehouse_id FROM user_assignments WHERE company_id = ? AND user_id = ?`,
		companyID, userID,
	).Scan(&actor.UserID, &actor.CompanyID, &role, &actor.BranchID, &warehouse)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Actor{}, identity.ErrActorNotFound
	}
	if err != nil {
		return identity.Actor{}, fmt.Errorf("looking up actor: %w", err)
	}
	actor.Role = identity.Role(role)
	actor.WarehouseID = warehouse.Int64
	return actor, nil
}

// Warehouse returns the warehouse with its owning branch.
func (d *Directory) Warehouse(ctx context.Context, companyID, id int64) (identity.Warehouse, error) {
	var wh identity.Warehouse
	err := d.db.QueryRowContext(ctx,
		`SELECT id, company_id, branch_id, code, name FROM warehouses WHERE company_id = ? AND id = ?`,
		companyID, id,
	).Scan(&wh.ID, &wh.CompanyID, &wh.BranchID, &wh.Code, &wh.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Warehouse{}, identity.ErrWarehouseNotFound
	}
	if err != nil {
		return identity.Warehouse{}, fmt.Errorf("getting warehouse: %w", err)
	}
	return wh, nil
}

// DefaultCostCenter returns the cost center a branch books ledger entries to.
func (d *Directory) DefaultCostCenter(ctx context.Context, branchID int64) (int64, error) {
	var costCenter sql.NullInt64
	err := d.db.QueryRowContext(ctx, `SELECT default_cost_center_id FROM branches WHERE id = ?`, branchID).Scan(&costCenter)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !costCenter.Valid) {
		return 0, identity.ErrNoDefaultCostCenter
	}
	if err != nil {
		return 0, fmt.Errorf("reading branch defaults: %w", err)
	}
	return costCenter.Int64, nil
}

// WarehouseManagers lists users managing the warehouse, skipping staff and viewers.
func (d *Directory) WarehouseManagers(ctx context.Context, warehouseID int64) ([]int64, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT user_id FROM user_assignments WHERE warehouse_id = ? AND role NOT IN ('staff', 'viewer') ORDER BY user_id`,
		warehouseID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing warehouse managers: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning warehouse manager: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateBranch inserts a branch. A nil cost center leaves the branch
// unconfigured for ledger postings.
func (d *Directory) CreateBranch(ctx context.Context, companyID int64, code, name string, costCenterID *int64) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO branches (company_id, code, name, default_cost_center_id) VALUES (?, ?, ?, ?)`,
		companyID, code, name, nullInt(costCenterID),
	)
	if err != nil {
		return 0, fmt.Errorf("creating branch: %w", err)
	}
	return res.LastInsertId()
}

// CreateWarehouse inserts a warehouse on a branch.
func (d *Directory) CreateWarehouse(ctx context.Context, companyID, branchID int64, code, name string) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO warehouses (company_id, branch_id, code, name) VALUES (?, ?, ?, ?)`,
		companyID, branchID, code, name,
	)
	if err != nil {
		return 0, fmt.Errorf("creating warehouse: %w", err)
	}
	return res.LastInsertId()
}

// Assign creates or replaces a user's assignment.
func (d *Directory) Assign(ctx context.Context, actor identity.Actor) error {
	var warehouse sql.NullInt64
	if actor.WarehouseID != 0 {
		warehouse = sql.NullInt64{Int64: actor.WarehouseID, Valid: true}
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO user_assignments (company_id, user_id, role, branch_id, warehouse_id) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (company_id, user_id) DO UPDATE SET role = excluded.role, branch_id = excluded.branch_id, warehouse_id = excluded.warehouse_id`,
		actor.CompanyID, actor.UserID, string(actor.Role), actor.BranchID, warehouse,
	)
	if err != nil {
		return fmt.Errorf("assigning user: %w", err)
	}
	return nil
}
