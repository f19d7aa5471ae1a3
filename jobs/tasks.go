package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stocktransfer/internal/transfer"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTransferAudit records a committed transition in audit_logs.
	TaskTransferAudit = "transfer:audit"
	// TaskTransferNotify tells the people a transition concerns.
	TaskTransferNotify = "transfer:notify"
	// TaskLedgerReconcile replays the ledger looking for negative balances.
	TaskLedgerReconcile = "ledger:reconcile"
)

// ReconcilePayload carries scheduling metadata.
type ReconcilePayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	Batch        int       `json:"batch,omitempty"`
}

// NewTransferAuditTask builds the audit task for a message. The task id is
// derived from the message id so a repeated publish is rejected by the queue.
func NewTransferAuditTask(msg transfer.Message) (*asynq.Task, error) {
	return newMessageTask(TaskTransferAudit, msg)
}

// NewTransferNotifyTask builds the notification task for a message.
func NewTransferNotifyTask(msg transfer.Message) (*asynq.Task, error) {
	return newMessageTask(TaskTransferNotify, msg)
}

func newMessageTask(typ string, msg transfer.Message) (*asynq.Task, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, body,
		asynq.Queue(QueueDefault),
		asynq.TaskID(typ+":"+msg.ID),
		asynq.MaxRetry(10),
	), nil
}

// NewLedgerReconcileTask constructs the reconciliation task.
func NewLedgerReconcileTask(at time.Time, batch int) (*asynq.Task, error) {
	body, err := json.Marshal(ReconcilePayload{ScheduledFor: at, Batch: batch})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// notifies reports whether ev produces a notification.
func notifies(ev transfer.Event) bool {
	switch ev {
	case transfer.EventStart, transfer.EventApprove, transfer.EventReject:
		return true
	}
	return false
}

func decodeMessage(t *asynq.Task) (transfer.Message, error) {
	var msg transfer.Message
	if err := json.Unmarshal(t.Payload(), &msg); err != nil {
		return transfer.Message{}, err
	}
	return msg, nil
}
