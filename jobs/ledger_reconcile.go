package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stocktransfer/internal/jobs"
	"github.com/odyssey-erp/stocktransfer/internal/inventory"
)

// LedgerReconcileJob replays the whole ledger and reports every entry after
// which a stock key's running balance was negative.
type LedgerReconcileJob struct {
	Ledger  inventory.EntryLister
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLedgerReconcileJob initialises the reconcile handler.
func NewLedgerReconcileJob(ledger inventory.EntryLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerReconcileJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerReconcileJob{Ledger: ledger, Logger: logger, Metrics: metrics}
}

// Handle processes TaskLedgerReconcile tasks.
func (j *LedgerReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ReconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("ledger reconcile: %v: %w", err, asynq.SkipRetry)
		}
	}
	_, err := j.Run(ctx, payload.Batch)
	return err
}

// Run performs one reconciliation pass.
func (j *LedgerReconcileJob) Run(ctx context.Context, batch int) (report inventory.ReconcileReport, err error) {
	if j == nil || j.Ledger == nil {
		return inventory.ReconcileReport{}, errors.New("ledger reconcile: handler not configured")
	}
	start := time.Now()
	tracker := j.Metrics.Track(TaskLedgerReconcile)
	defer func() { err = tracker.End(err) }()

	report, err = inventory.Reconcile(ctx, j.Ledger, batch)
	if err != nil {
		j.Logger.Error("ledger reconcile failed", slog.Any("error", err))
		return report, err
	}
	perWarehouse := make(map[int64]int)
	for _, v := range report.Violations {
		j.Logger.Warn("negative running balance",
			slog.Int64("product_id", v.ProductID),
			slog.Int64("warehouse_id", v.WarehouseID),
			slog.Int64("entry_id", v.EntryID),
			slog.String("balance", v.Balance.String()),
		)
		perWarehouse[v.WarehouseID]++
	}
	for warehouseID, n := range perWarehouse {
		j.Metrics.AddViolations(warehouseID, n)
	}
	j.Logger.Info("ledger reconcile completed",
		slog.Int("entries", report.Entries),
		slog.Int("keys", report.Keys),
		slog.Int("violations", len(report.Violations)),
		slog.Duration("duration", time.Since(start)),
	)
	return report, nil
}
