// Package identity resolves who is acting and where warehouses sit in the
// branch hierarchy.
package identity

import "errors"

// Role names a user's assignment within a company.
type Role string

const (
	RoleOwner            Role = "owner"
	RoleAdmin            Role = "admin"
	RoleGeneralManager   Role = "general_manager"
	RoleManager          Role = "manager"
	RoleWarehouseManager Role = "warehouse_manager"
	RoleStaff            Role = "staff"
	RoleViewer           Role = "viewer"
)

// IsElevated reports whether the role has company-wide authority.
func (r Role) IsElevated() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleGeneralManager:
		return true
	}
	return false
}

// IsReadOnly reports whether the role may only observe transfers.
func (r Role) IsReadOnly() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleGeneralManager, RoleManager, RoleWarehouseManager:
		return false
	}
	return true
}

// Actor is the resolved principal behind a request.
type Actor struct {
	UserID    int64 `json:"user_id"`
	CompanyID int64 `json:"company_id"`
	Role      Role  `json:"role"`
	BranchID  int64 `json:"branch_id"`
	// WarehouseID is zero when the user manages no warehouse.
	WarehouseID int64 `json:"warehouse_id"`
}

// Warehouse is the directory view of a warehouse.
type Warehouse struct {
	ID        int64  `json:"id"`
	CompanyID int64  `json:"company_id"`
	BranchID  int64  `json:"branch_id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
}

var (
	// ErrActorNotFound indicates the user has no assignment in the company.
	ErrActorNotFound = errors.New("identity: actor not found")
	// ErrWarehouseNotFound indicates the warehouse is unknown to the company.
	ErrWarehouseNotFound = errors.New("identity: warehouse not found")
	// ErrNoDefaultCostCenter indicates the branch has no default cost center.
	ErrNoDefaultCostCenter = errors.New("identity: branch has no default cost center")
)
