package transfer

import (
	"context"
	"time"
)

// Message is emitted once a transition has committed. Consumers deliver
// notifications and audit records from it.
type Message struct {
	ID                     string    `json:"id"`
	Event                  Event     `json:"event"`
	TransferID             int64     `json:"transfer_id"`
	CompanyID              int64     `json:"company_id"`
	Number                 string    `json:"number"`
	ActorID                int64     `json:"actor_id"`
	From                   Status    `json:"from,omitempty"`
	To                     Status    `json:"to"`
	CreatedBy              int64     `json:"created_by"`
	SourceWarehouseID      int64     `json:"source_warehouse_id"`
	DestinationWarehouseID int64     `json:"destination_warehouse_id"`
	Reason                 string    `json:"reason,omitempty"`
	OccurredAt             time.Time `json:"occurred_at"`
}

// Publisher receives committed transitions. Failures never undo a transition.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, msg Message) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Message) error { return nil }
