package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind enumerates ledger movement kinds.
type Kind string

const (
	// KindOpeningBalance seeds on-hand for a product at a warehouse.
	KindOpeningBalance Kind = "opening_balance"
	// KindAdjustment is a manual stock correction.
	KindAdjustment Kind = "adjustment"
	// KindTransferOut removes stock from the source warehouse.
	KindTransferOut Kind = "transfer_out"
	// KindTransferIn adds received stock at the destination warehouse.
	KindTransferIn Kind = "transfer_in"
	// KindTransferCancelled reverses a transfer_out.
	KindTransferCancelled Kind = "transfer_cancelled"
)

// IsValid reports whether the kind is known.
func (k Kind) IsValid() bool {
	switch k {
	case KindOpeningBalance, KindAdjustment, KindTransferOut, KindTransferIn, KindTransferCancelled:
		return true
	}
	return false
}

// Reference modules.
const (
	RefModuleTransfer   = "transfer"
	RefModuleAdjustment = "adjustment"
)

// Entry is one immutable quantity change.
type Entry struct {
	ID           int64           `json:"id"`
	ProductID    int64           `json:"product_id"`
	WarehouseID  int64           `json:"warehouse_id"`
	BranchID     int64           `json:"branch_id"`
	CostCenterID int64           `json:"cost_center_id"`
	Kind         Kind            `json:"kind"`
	QtyChange    decimal.Decimal `json:"qty_change"`
	RefModule    string          `json:"ref_module"`
	RefID        int64           `json:"ref_id"`
	RefLineID    int64           `json:"ref_line_id"`
	Note         string          `json:"note,omitempty"`
	PostedAt     time.Time       `json:"posted_at"`
	CreatedBy    int64           `json:"created_by"`
}

// Key returns the stock key the entry moves.
func (e Entry) Key() StockKey {
	return StockKey{ProductID: e.ProductID, WarehouseID: e.WarehouseID}
}

// StockKey identifies on-hand stock of one product at one warehouse.
type StockKey struct {
	ProductID   int64
	WarehouseID int64
}

// String renders the key for locking.
func (k StockKey) String() string {
	return fmt.Sprintf("stock:%d:%d", k.ProductID, k.WarehouseID)
}

// Balance is the on-hand quantity for a stock key.
type Balance struct {
	ProductID   int64           `json:"product_id"`
	WarehouseID int64           `json:"warehouse_id"`
	OnHand      decimal.Decimal `json:"on_hand"`
}

// StockCardEntry is a ledger entry with the running balance after it.
type StockCardEntry struct {
	EntryID    int64           `json:"entry_id"`
	Kind       Kind            `json:"kind"`
	PostedAt   time.Time       `json:"posted_at"`
	QtyIn      decimal.Decimal `json:"qty_in"`
	QtyOut     decimal.Decimal `json:"qty_out"`
	BalanceQty decimal.Decimal `json:"balance_qty"`
	RefModule  string          `json:"ref_module"`
	RefID      int64           `json:"ref_id"`
	Note       string          `json:"note,omitempty"`
}

// EntryFilter narrows ledger listings. Zero fields are ignored.
type EntryFilter struct {
	ProductID   int64
	WarehouseID int64
	RefModule   string
	RefID       int64
	AfterID     int64
	Limit       int
}

// QtyScale is the number of decimal places a ledger quantity carries.
const QtyScale = 4

// ExceedsScale reports whether q has significant digits beyond QtyScale.
func ExceedsScale(q decimal.Decimal) bool {
	return !q.Equal(q.Truncate(QtyScale))
}

// AdjustmentInput describes a request to adjust stock.
type AdjustmentInput struct {
	CompanyID   int64           `json:"-"`
	WarehouseID int64           `json:"warehouse_id" validate:"required,gt=0"`
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	Qty         decimal.Decimal `json:"qty"`
	Opening     bool            `json:"opening"`
	Note        string          `json:"note" validate:"max=500"`
	ActorID     int64           `json:"-"`
}

var (
	// ErrNegativeStock triggered when a movement would leave on-hand negative.
	ErrNegativeStock = errors.New("inventory: negative stock not allowed")
	// ErrInvalidQuantity indicates a zero or malformed quantity.
	ErrInvalidQuantity = errors.New("inventory: quantity must be non zero")
	// ErrInvalidInput indicates missing identifiers.
	ErrInvalidInput = errors.New("inventory: warehouse and product required")
)
