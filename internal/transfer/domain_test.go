package transfer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stocktransfer/internal/inventory"
)

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("in_transit")
	require.NoError(t, err)
	assert.Equal(t, StatusInTransit, s)

	_, err = ParseStatus("shipped")
	require.ErrorIs(t, err, ErrUnknownStatus)

	assert.True(t, StatusReceived.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.True(t, StatusCancelled.HasLedgerEffect())
	assert.False(t, StatusPendingApproval.HasLedgerEffect())
}

func TestCanFire(t *testing.T) {
	legal := map[Status][]Event{
		StatusDraft:           {EventSubmit},
		StatusPendingApproval: {EventApprove, EventReject, EventDelete},
		StatusPending:         {EventStart, EventDelete},
		StatusInTransit:       {EventCancel, EventReceive},
		StatusReceived:        nil,
		StatusCancelled:       nil,
	}
	all := []Event{EventSubmit, EventApprove, EventReject, EventResubmit, EventDelete, EventStart, EventCancel, EventReceive}
	for status, events := range legal {
		for _, ev := range all {
			tr := &Transfer{Status: status}
			want := false
			for _, e := range events {
				if e == ev {
					want = true
				}
			}
			assert.Equal(t, want, tr.CanFire(ev), "%s from %s", ev, status)
		}
	}

	now := time.Now()
	rejected := &Transfer{Status: StatusDraft, RejectedAt: &now}
	assert.True(t, rejected.CanFire(EventResubmit))
}

func TestValidate(t *testing.T) {
	sent := qty("3")
	over := qty("4")
	base := func() Transfer {
		return Transfer{
			Status:                 StatusInTransit,
			SourceWarehouseID:      1,
			DestinationWarehouseID: 2,
			Lines:                  []Line{{LineNo: 1, ProductID: 1, QtyRequested: qty("3"), QtySent: &sent}},
		}
	}

	tr := base()
	require.NoError(t, tr.Validate())

	tr = base()
	tr.Lines[0].QtyReceived = &over
	require.ErrorIs(t, tr.Validate(), ErrValidation)

	tr = base()
	tr.Lines[0].QtyRequested = qty("3.00005")
	require.ErrorIs(t, tr.Validate(), ErrValidation)

	tr = base()
	tr.Lines[0].QtyRequested = qty("3.50000")
	require.NoError(t, tr.Validate())

	fine := qty("2.12345")
	tr = base()
	tr.Lines[0].QtyReceived = &fine
	require.ErrorIs(t, tr.Validate(), ErrValidation)

	tr = base()
	tr.DestinationWarehouseID = 1
	require.ErrorIs(t, tr.Validate(), ErrValidation)

	tr = base()
	tr.Status = "lost"
	require.ErrorIs(t, tr.Validate(), ErrUnknownStatus)
}

func TestFormatNumber(t *testing.T) {
	day := time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "TRF-20241231-0007", FormatNumber(day, 7))
	assert.Equal(t, "TRF-20241231-12345", FormatNumber(day, 12345))
}

func TestStoreFailureClassification(t *testing.T) {
	assert.NoError(t, storeFailure("op", nil))

	wrapped := fmt.Errorf("load: %w", ErrNotFound)
	assert.Same(t, wrapped, storeFailure("op", wrapped))
	assert.ErrorIs(t, storeFailure("op", context.Canceled), context.Canceled)
	assert.NotErrorIs(t, storeFailure("op", context.Canceled), ErrStoreFailure)

	err := storeFailure("op", errors.New("connection reset"))
	assert.ErrorIs(t, err, ErrStoreFailure)
	assert.Contains(t, err.Error(), "connection reset")

	shortage := &InsufficientStockError{WarehouseID: 1, Shortfalls: []inventory.Shortfall{{ProductID: 5, Requested: qty("2"), Available: qty("1")}}}
	assert.ErrorIs(t, storeFailure("op", shortage), ErrInsufficientStock)
	assert.Contains(t, shortage.Error(), "product 5: requested 2, available 1")
}
