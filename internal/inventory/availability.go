package inventory

import (
	"context"

	"github.com/shopspring/decimal"
)

// Reader answers on-hand queries. Both the repository and a transactional
// Ledger satisfy it, so checks can run inside the writing transaction.
type Reader interface {
	OnHand(ctx context.Context, productID, warehouseID int64) (decimal.Decimal, error)
}

// Requirement is a quantity of a product needed from a warehouse.
type Requirement struct {
	ProductID int64
	Qty       decimal.Decimal
}

// Shortfall reports a product that cannot be supplied in full.
type Shortfall struct {
	ProductID   int64           `json:"product_id"`
	WarehouseID int64           `json:"warehouse_id"`
	Requested   decimal.Decimal `json:"requested"`
	Available   decimal.Decimal `json:"available"`
}

// Check reports whether qty of the product is on hand at the warehouse,
// together with the on-hand figure. It neither reserves nor locks.
func Check(ctx context.Context, r Reader, productID, warehouseID int64, qty decimal.Decimal) (bool, decimal.Decimal, error) {
	onHand, err := r.OnHand(ctx, productID, warehouseID)
	if err != nil {
		return false, decimal.Zero, err
	}
	return qty.LessThanOrEqual(onHand), onHand, nil
}

// CheckAll sums requirements per product and returns one shortfall per
// product whose total exceeds on-hand, in first-seen order.
func CheckAll(ctx context.Context, r Reader, warehouseID int64, reqs []Requirement) ([]Shortfall, error) {
	totals := make(map[int64]decimal.Decimal, len(reqs))
	order := make([]int64, 0, len(reqs))
	for _, req := range reqs {
		if _, ok := totals[req.ProductID]; !ok {
			order = append(order, req.ProductID)
			totals[req.ProductID] = decimal.Zero
		}
		totals[req.ProductID] = totals[req.ProductID].Add(req.Qty)
	}
	var shortfalls []Shortfall
	for _, productID := range order {
		ok, onHand, err := Check(ctx, r, productID, warehouseID, totals[productID])
		if err != nil {
			return nil, err
		}
		if !ok {
			shortfalls = append(shortfalls, Shortfall{
				ProductID:   productID,
				WarehouseID: warehouseID,
				Requested:   totals[productID],
				Available:   onHand,
			})
		}
	}
	return shortfalls, nil
}
