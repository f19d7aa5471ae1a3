package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stocktransfer/internal/jobs"
	"github.com/odyssey-erp/stocktransfer/internal/shared"
	"github.com/odyssey-erp/stocktransfer/internal/transfer"
)

// AuditRecorder persists audit records.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// TransferAuditJob writes one audit record per committed transition.
type TransferAuditJob struct {
	Audit   AuditRecorder
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes TaskTransferAudit tasks.
func (j *TransferAuditJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Audit == nil {
		return errors.New("transfer audit: handler not configured")
	}
	msg, err := decodeMessage(t)
	if err != nil {
		return fmt.Errorf("transfer audit: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskTransferAudit)
	defer func() { err = tracker.End(err) }()

	meta := map[string]any{
		"event_id":                 msg.ID,
		"number":                   msg.Number,
		"to":                       string(msg.To),
		"source_warehouse_id":      msg.SourceWarehouseID,
		"destination_warehouse_id": msg.DestinationWarehouseID,
	}
	if msg.From != "" {
		meta["from"] = string(msg.From)
	}
	if msg.Reason != "" {
		meta["reason"] = msg.Reason
	}
	return j.Audit.Record(ctx, shared.AuditLog{
		ActorID:  msg.ActorID,
		Action:   "transfer:" + string(msg.Event),
		Entity:   "transfer",
		EntityID: strconv.FormatInt(msg.TransferID, 10),
		Meta:     meta,
		At:       msg.OccurredAt,
	})
}

// Notifier delivers a transfer notification to one user.
type Notifier interface {
	Notify(ctx context.Context, userID int64, msg transfer.Message) error
}

// Recipients resolves who manages a warehouse.
type Recipients interface {
	WarehouseManagers(ctx context.Context, warehouseID int64) ([]int64, error)
}

// LogNotifier writes notifications to the log. It stands in until a mail
// or push channel exists.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs the notification.
func (n LogNotifier) Notify(ctx context.Context, userID int64, msg transfer.Message) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "transfer notification",
		slog.Int64("user_id", userID),
		slog.Int64("transfer_id", msg.TransferID),
		slog.String("number", msg.Number),
		slog.String("event", string(msg.Event)),
		slog.String("status", string(msg.To)),
	)
	return nil
}

// TransferNotifyJob tells the destination warehouse managers that stock is on
// its way, and tells creators that their transfer was approved or rejected.
type TransferNotifyJob struct {
	Recipients Recipients
	Notifier   Notifier
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// Handle processes TaskTransferNotify tasks.
func (j *TransferNotifyJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Notifier == nil || j.Recipients == nil {
		return errors.New("transfer notify: handler not configured")
	}
	msg, err := decodeMessage(t)
	if err != nil {
		return fmt.Errorf("transfer notify: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskTransferNotify)
	defer func() { err = tracker.End(err) }()

	users, err := j.recipients(ctx, msg)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		j.logger().Warn("transfer notification has no recipients",
			slog.Int64("transfer_id", msg.TransferID), slog.String("event", string(msg.Event)))
		return nil
	}
	var errs []error
	for _, userID := range users {
		if err := j.Notifier.Notify(ctx, userID, msg); err != nil {
			errs = append(errs, fmt.Errorf("notify user %d: %w", userID, err))
			continue
		}
		j.Metrics.NotificationSent(string(msg.Event))
	}
	return errors.Join(errs...)
}

func (j *TransferNotifyJob) recipients(ctx context.Context, msg transfer.Message) ([]int64, error) {
	switch msg.Event {
	case transfer.EventStart:
		users, err := j.Recipients.WarehouseManagers(ctx, msg.DestinationWarehouseID)
		if err != nil {
			return nil, fmt.Errorf("transfer notify: managers of warehouse %d: %w", msg.DestinationWarehouseID, err)
		}
		return users, nil
	case transfer.EventApprove, transfer.EventReject:
		if msg.CreatedBy == 0 || msg.CreatedBy == msg.ActorID {
			return nil, nil
		}
		return []int64{msg.CreatedBy}, nil
	}
	return nil, nil
}

func (j *TransferNotifyJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
