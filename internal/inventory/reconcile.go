package inventory

import (
	"context"

	"github.com/shopspring/decimal"
)

// EntryLister pages through the ledger.
type EntryLister interface {
	Entries(ctx context.Context, filter EntryFilter) ([]Entry, error)
}

// Violation marks an entry after which a stock key's running balance was negative.
type Violation struct {
	ProductID   int64           `json:"product_id"`
	WarehouseID int64           `json:"warehouse_id"`
	EntryID     int64           `json:"entry_id"`
	Balance     decimal.Decimal `json:"balance"`
}

// ReconcileReport summarises a full ledger scan.
type ReconcileReport struct {
	Entries    int                          `json:"entries"`
	Keys       int                          `json:"keys"`
	Violations []Violation                  `json:"violations"`
	Balances   map[StockKey]decimal.Decimal `json:"-"`
}

const defaultReconcileBatch = 1000

// Reconcile replays every entry in insertion order and reports each point at
// which a prefix sum went negative.
func Reconcile(ctx context.Context, lister EntryLister, batch int) (ReconcileReport, error) {
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	report := ReconcileReport{Balances: make(map[StockKey]decimal.Decimal)}
	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		entries, err := lister.Entries(ctx, EntryFilter{AfterID: afterID, Limit: batch})
		if err != nil {
			return report, err
		}
		for _, e := range entries {
			key := e.Key()
			balance := report.Balances[key].Add(e.QtyChange)
			report.Balances[key] = balance
			if balance.IsNegative() {
				report.Violations = append(report.Violations, Violation{
					ProductID:   e.ProductID,
					WarehouseID: e.WarehouseID,
					EntryID:     e.ID,
					Balance:     balance,
				})
			}
			afterID = e.ID
		}
		report.Entries += len(entries)
		if len(entries) < batch {
			break
		}
	}
	report.Keys = len(report.Balances)
	return report, nil
}
