// Package transfer implements the inter-warehouse transfer workflow: a
// multi-role approval lifecycle whose stock-moving transitions write the
// inventory ledger.
package transfer

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stocktransfer/internal/inventory"
)

// Status is the lifecycle state of a transfer.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusPending         Status = "pending"
	StatusInTransit       Status = "in_transit"
	StatusReceived        Status = "received"
	StatusCancelled       Status = "cancelled"
)

// ParseStatus converts a stored status, rejecting anything unknown.
func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return status, nil
}

// IsValid reports whether the status is one of the known states.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusPendingApproval, StatusPending, StatusInTransit, StatusReceived, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusReceived || s == StatusCancelled
}

// HasLedgerEffect reports whether a transfer in this status may have written
// ledger entries.
func (s Status) HasLedgerEffect() bool {
	switch s {
	case StatusInTransit, StatusReceived, StatusCancelled:
		return true
	}
	return false
}

// Event names a requested transition.
type Event string

const (
	EventCreate   Event = "create"
	EventSubmit   Event = "submit"
	EventApprove  Event = "approve"
	EventReject   Event = "reject"
	EventResubmit Event = "resubmit"
	EventDelete   Event = "delete"
	EventStart    Event = "start"
	EventCancel   Event = "cancel"
	EventReceive  Event = "receive"
)

// sourceStatuses lists where each event may fire from.
var sourceStatuses = map[Event][]Status{
	EventSubmit:   {StatusDraft},
	EventApprove:  {StatusPendingApproval},
	EventReject:   {StatusPendingApproval},
	EventResubmit: {StatusDraft},
	EventDelete:   {StatusPending, StatusPendingApproval},
	EventStart:    {StatusPending},
	EventCancel:   {StatusInTransit},
	EventReceive:  {StatusInTransit},
}

// CanFire reports whether ev is legal from the transfer's current status.
// Resubmit additionally requires a prior rejection.
func (t *Transfer) CanFire(ev Event) bool {
	for _, s := range sourceStatuses[ev] {
		if s == t.Status {
			if ev == EventResubmit {
				return t.IsRejected()
			}
			return true
		}
	}
	return false
}

// Transfer is the header and lines of one inter-warehouse movement.
type Transfer struct {
	ID                     int64      `json:"id"`
	CompanyID              int64      `json:"company_id"`
	Number                 string     `json:"number"`
	Status                 Status     `json:"status"`
	SourceWarehouseID      int64      `json:"source_warehouse_id"`
	DestinationWarehouseID int64      `json:"destination_warehouse_id"`
	SourceBranchID         int64      `json:"source_branch_id"`
	DestinationBranchID    int64      `json:"destination_branch_id"`
	TransferDate           time.Time  `json:"transfer_date"`
	ExpectedArrivalDate    *time.Time `json:"expected_arrival_date,omitempty"`
	ReceivedAt             *time.Time `json:"received_at,omitempty"`
	Notes                  string     `json:"notes,omitempty"`
	RejectionReason        string     `json:"rejection_reason,omitempty"`
	CreatedBy              int64      `json:"created_by"`
	ApprovedBy             *int64     `json:"approved_by,omitempty"`
	ReceivedBy             *int64     `json:"received_by,omitempty"`
	RejectedBy             *int64     `json:"rejected_by,omitempty"`
	RejectedAt             *time.Time `json:"rejected_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
	Lines                  []Line     `json:"lines"`
}

// Line is one product on a transfer.
type Line struct {
	ID           int64            `json:"id"`
	TransferID   int64            `json:"transfer_id"`
	LineNo       int              `json:"line_no"`
	ProductID    int64            `json:"product_id"`
	QtyRequested decimal.Decimal  `json:"qty_requested"`
	QtySent      *decimal.Decimal `json:"qty_sent,omitempty"`
	QtyReceived  *decimal.Decimal `json:"qty_received,omitempty"`
	Note         string           `json:"note,omitempty"`
}

// Sent returns the sent quantity, zero before start.
func (l Line) Sent() decimal.Decimal {
	if l.QtySent == nil {
		return decimal.Zero
	}
	return *l.QtySent
}

// Received returns the received quantity, zero before receipt.
func (l Line) Received() decimal.Decimal {
	if l.QtyReceived == nil {
		return decimal.Zero
	}
	return *l.QtyReceived
}

// IsRejected reports whether the transfer carries an unresolved rejection.
func (t *Transfer) IsRejected() bool {
	return t.RejectedAt != nil
}

// clearRejection drops rejection fields on resubmission.
func (t *Transfer) clearRejection() {
	t.RejectionReason = ""
	t.RejectedBy = nil
	t.RejectedAt = nil
}

// Validate checks the structural invariants of a transfer.
func (t *Transfer) Validate() error {
	if !t.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, t.Status)
	}
	if t.SourceWarehouseID == 0 || t.DestinationWarehouseID == 0 {
		return fmt.Errorf("%w: source and destination warehouse required", ErrValidation)
	}
	if t.SourceWarehouseID == t.DestinationWarehouseID {
		return fmt.Errorf("%w: source and destination warehouse must differ", ErrValidation)
	}
	if len(t.Lines) == 0 {
		return fmt.Errorf("%w: at least one line required", ErrValidation)
	}
	for _, l := range t.Lines {
		if err := l.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (l Line) validate() error {
	if l.ProductID == 0 {
		return fmt.Errorf("%w: line %d: product required", ErrValidation, l.LineNo)
	}
	if !l.QtyRequested.IsPositive() {
		return fmt.Errorf("%w: line %d: requested quantity must be positive", ErrValidation, l.LineNo)
	}
	for _, q := range []*decimal.Decimal{&l.QtyRequested, l.QtySent, l.QtyReceived} {
		if q != nil && inventory.ExceedsScale(*q) {
			return fmt.Errorf("%w: line %d: quantity %s has more than %d decimal places", ErrValidation, l.LineNo, q, inventory.QtyScale)
		}
	}
	if l.QtySent != nil {
		if l.QtySent.IsNegative() || l.QtySent.GreaterThan(l.QtyRequested) {
			return fmt.Errorf("%w: line %d: sent quantity out of range", ErrValidation, l.LineNo)
		}
	}
	if l.QtyReceived != nil {
		if l.QtyReceived.IsNegative() || l.QtyReceived.GreaterThan(l.Sent()) {
			return fmt.Errorf("%w: line %d: received quantity exceeds sent", ErrValidation, l.LineNo)
		}
	}
	return nil
}

// ListFilter narrows transfer listings.
type ListFilter struct {
	CompanyID   int64
	Status      Status
	WarehouseID int64
	Limit       int
	Offset      int
}

// CreateInput describes a new transfer.
type CreateInput struct {
	SourceWarehouseID      int64       `json:"source_warehouse_id" validate:"required,gt=0"`
	DestinationWarehouseID int64       `json:"destination_warehouse_id" validate:"required,gt=0,nefield=SourceWarehouseID"`
	TransferDate           *time.Time  `json:"transfer_date"`
	ExpectedArrivalDate    *time.Time  `json:"expected_arrival_date"`
	Notes                  string      `json:"notes" validate:"max=1000"`
	Submit                 bool        `json:"submit"`
	Lines                  []LineInput `json:"lines" validate:"required,min=1,dive"`
}

// LineInput describes one requested product.
type LineInput struct {
	ProductID    int64           `json:"product_id" validate:"required,gt=0"`
	QtyRequested decimal.Decimal `json:"qty_requested"`
	Note         string          `json:"note" validate:"max=500"`
}

// Result is returned by every transition. AlreadyProcessed marks an
// idempotent replay that changed nothing.
type Result struct {
	Transfer         Transfer `json:"transfer"`
	AlreadyProcessed bool     `json:"already_processed"`
}
