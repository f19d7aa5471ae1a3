package transfer

import "github.com/odyssey-erp/stocktransfer/internal/identity"

// CanTransition is the governance gate. Rules apply in order:
//
//  1. actors never act across companies;
//  2. receive needs the destination warehouse assignment, which must differ
//     from the source, on the destination branch;
//  3. cancel belongs to the creator alone;
//  4. elevated roles pass everything else;
//  5. resubmit belongs to the creator, who may also submit their own draft;
//  6. managers act on transfers touching their branch, but never approve or
//     reject their own;
//  7. everyone else is read-only.
func CanTransition(actor identity.Actor, t *Transfer, ev Event) bool {
	if t == nil || actor.UserID == 0 || actor.CompanyID != t.CompanyID {
		return false
	}
	switch ev {
	case EventReceive:
		return canReceive(actor, t)
	case EventCancel:
		return actor.UserID == t.CreatedBy
	}
	if actor.Role.IsElevated() {
		return true
	}
	isCreator := actor.UserID == t.CreatedBy
	switch ev {
	case EventResubmit:
		return isCreator
	case EventSubmit:
		if isCreator && !actor.Role.IsReadOnly() {
			return true
		}
		return managesBranch(actor, t)
	case EventApprove, EventReject:
		return managesBranch(actor, t) && !isCreator
	case EventStart, EventDelete:
		return managesBranch(actor, t)
	}
	return false
}

func canReceive(actor identity.Actor, t *Transfer) bool {
	if actor.Role.IsReadOnly() || actor.WarehouseID == 0 {
		return false
	}
	return actor.WarehouseID == t.DestinationWarehouseID &&
		actor.WarehouseID != t.SourceWarehouseID &&
		actor.BranchID == t.DestinationBranchID
}

func managesBranch(actor identity.Actor, t *Transfer) bool {
	if actor.Role != identity.RoleManager {
		return false
	}
	return actor.BranchID == t.SourceBranchID || actor.BranchID == t.DestinationBranchID
}

// CanCreate reports whether actor may open a transfer between the warehouses.
func CanCreate(actor identity.Actor, source, destination identity.Warehouse) bool {
	if actor.UserID == 0 || actor.Role.IsReadOnly() {
		return false
	}
	if actor.CompanyID != source.CompanyID || actor.CompanyID != destination.CompanyID {
		return false
	}
	switch {
	case actor.Role.IsElevated():
		return true
	case actor.Role == identity.RoleManager:
		return actor.BranchID == source.BranchID || actor.BranchID == destination.BranchID
	case actor.Role == identity.RoleWarehouseManager:
		return actor.WarehouseID != 0 && actor.WarehouseID == source.ID
	}
	return false
}

// RequiresApproval reports whether a submission by actor waits for approval.
func RequiresApproval(actor identity.Actor) bool {
	return !actor.Role.IsElevated()
}

// CanOverrideReceived reports whether actor may record received quantities
// that differ from what was sent.
func CanOverrideReceived(actor identity.Actor) bool {
	return actor.Role.IsElevated()
}

// CanView reports whether actor may read the transfer.
func CanView(actor identity.Actor, t *Transfer) bool {
	return t != nil && actor.CompanyID == t.CompanyID
}
