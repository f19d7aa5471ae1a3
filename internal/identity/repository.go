package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Directory reads user assignments, warehouses and branch defaults from Postgres.
type Directory struct {
	pool *pgxpool.Pool
}

// NewDirectory constructs a Directory.
func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

// Lookup resolves the role and scope of a user within a company.
func (d *Directory) Lookup(ctx context.Context, companyID, userID int64) (Actor, error) {
	const query = `SELECT user_id, company_id, role, branch_id, COALESCE(warehouse_id, 0)
FROM user_assignments WHERE company_id = $1 AND user_id = $2`
	var actor Actor
	var role string
	err := d.pool.QueryRow(ctx, query, companyID, userID).Scan(&actor.UserID, &actor.CompanyID, &role, &actor.BranchID, &actor.WarehouseID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Actor{}, ErrActorNotFound
	}
	if err != nil {
		return Actor{}, fmt.Errorf("identity: lookup actor: %w", err)
	}
	actor.Role = Role(role)
	return actor, nil
}

// Warehouse returns the warehouse with its owning branch.
func (d *Directory) Warehouse(ctx context.Context, companyID, id int64) (Warehouse, error) {
	const query = `SELECT id, company_id, branch_id, code, name FROM warehouses WHERE company_id = $1 AND id = $2`
	var wh Warehouse
	err := d.pool.QueryRow(ctx, query, companyID, id).Scan(&wh.ID, &wh.CompanyID, &wh.BranchID, &wh.Code, &wh.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Warehouse{}, ErrWarehouseNotFound
	}
	if err != nil {
		return Warehouse{}, fmt.Errorf("identity: get warehouse: %w", err)
	}
	return wh, nil
}

// DefaultCostCenter returns the cost center ledger entries of a branch are booked to.
func (d *Directory) DefaultCostCenter(ctx context.Context, branchID int64) (int64, error) {
	var costCenterID *int64
	err := d.pool.QueryRow(ctx, `SELECT default_cost_center_id FROM branches WHERE id = $1`, branchID).Scan(&costCenterID)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && costCenterID == nil) {
		return 0, ErrNoDefaultCostCenter
	}
	if err != nil {
		return 0, fmt.Errorf("identity: branch defaults: %w", err)
	}
	return *costCenterID, nil
}

// WarehouseManagers lists users assigned to manage the warehouse. Staff and
// viewers assigned there are not managers.
func (d *Directory) WarehouseManagers(ctx context.Context, warehouseID int64) ([]int64, error) {
	rows, err := d.pool.Query(ctx, `SELECT user_id FROM user_assignments
WHERE warehouse_id = $1 AND role NOT IN ('staff', 'viewer')
ORDER BY user_id`, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("identity: warehouse managers: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
