package transfer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stocktransfer/internal/inventory"
)

func TestTransferLifecycleMovesStock(t *testing.T) {
	engine, store, pub := newTestEngine(Config{})
	ctx := context.Background()
	store.seed(100, 1, "10")
	store.seed(200, 1, "3")

	res, err := engine.Create(ctx, srcKeeper, createInput(1, 2, false, line(100, "5"), line(200, "3")))
	require.NoError(t, err)
	tr := res.Transfer
	require.Equal(t, StatusDraft, tr.Status)
	require.Equal(t, "TRF-20240305-0001", tr.Number)
	require.EqualValues(t, 10, tr.SourceBranchID)
	require.EqualValues(t, 20, tr.DestinationBranchID)

	res, err = engine.Submit(ctx, srcKeeper, tr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, res.Transfer.Status)
	require.Nil(t, res.Transfer.ApprovedBy)

	res, err = engine.Approve(ctx, dstManager, tr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, res.Transfer.Status)
	require.EqualValues(t, dstManager.UserID, *res.Transfer.ApprovedBy)

	res, err = engine.Start(ctx, srcManager, tr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInTransit, res.Transfer.Status)
	for _, l := range res.Transfer.Lines {
		require.True(t, l.Sent().Equal(l.QtyRequested))
	}
	out := store.transferEntries(tr.ID, inventory.KindTransferOut)
	require.Len(t, out, 2)
	assert.True(t, out[0].QtyChange.Equal(qty("-5")))
	assert.EqualValues(t, 110, out[0].CostCenterID)
	assert.EqualValues(t, 10, out[0].BranchID)
	assert.Equal(t, res.Transfer.Lines[0].ID, out[0].RefLineID)
	assert.True(t, store.onHand(100, 1).Equal(qty("5")))
	assert.True(t, store.onHand(200, 1).IsZero())

	res, err = engine.Receive(ctx, dstKeeper, tr.ID, nil)
	require.NoError(t, err)
	require.Equal(t, StatusReceived, res.Transfer.Status)
	require.EqualValues(t, dstKeeper.UserID, *res.Transfer.ReceivedBy)
	require.NotNil(t, res.Transfer.ReceivedAt)
	in := store.transferEntries(tr.ID, inventory.KindTransferIn)
	require.Len(t, in, 2)
	assert.EqualValues(t, 120, in[0].CostCenterID)
	assert.EqualValues(t, 2, in[0].WarehouseID)
	assert.True(t, store.onHand(100, 2).Equal(qty("5")))
	assert.True(t, store.onHand(200, 2).Equal(qty("3")))

	assert.Equal(t, []Event{EventCreate, EventSubmit, EventApprove, EventStart, EventReceive}, pub.events())
	last := pub.msgs[len(pub.msgs)-1]
	assert.Equal(t, StatusInTransit, last.From)
	assert.Equal(t, StatusReceived, last.To)
	assert.NotEmpty(t, last.ID)
}

func TestStartWithInsufficientStockHasNoEffect(t *testing.T) {
	engine, store, pub := newTestEngine(Config{})
	ctx := context.Background()
	store.seed(100, 1, "2")
	store.seed(200, 1, "10")

	res, err := engine.Create(ctx, owner, createInput(1, 2, true, line(100, "1.5"), line(200, "4"), line(100, "1.5")))
	require.NoError(t, err)
	require.Equal(t, StatusPending, res.Transfer.Status)
	require.EqualValues(t, owner.UserID, *res.Transfer.ApprovedBy)

	_, err = engine.Start(ctx, owner, res.Transfer.ID)
	require.ErrorIs(t, err, ErrInsufficientStock)
	var shortage *InsufficientStockError
	require.ErrorAs(t, err, &shortage)
	require.Len(t, shortage.Shortfalls, 1)
	assert.EqualValues(t, 100, shortage.Shortfalls[0].ProductID)
	assert.True(t, shortage.Shortfalls[0].Requested.Equal(qty("3")))
	assert.True(t, shortage.Shortfalls[0].Available.Equal(qty("2")))

	current, err := engine.Get(ctx, owner, res.Transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, current.Status)
	assert.Nil(t, current.Lines[0].QtySent)
	assert.Empty(t, store.transferEntries(res.Transfer.ID, inventory.KindTransferOut))
	assert.True(t, store.onHand(100, 1).Equal(qty("2")))
	assert.Equal(t, []Event{EventCreate}, pub.events())
}

func TestRejectAndResubmit(t *testing.T) {
	engine, _, _ := newTestEngine(Config{})
	ctx := context.Background()

	res, err := engine.Create(ctx, srcKeeper, createInput(1, 2, true, line(100, "1")))
	require.NoError(t, err)
	id := res.Transfer.ID
	require.Equal(t, StatusPendingApproval, res.Transfer.Status)

	_, err = engine.Reject(ctx, dstManager, id, "  ")
	require.ErrorIs(t, err, ErrValidation)

	res, err = engine.Reject(ctx, dstManager, id, "wrong quantity")
	require.NoError(t, err)
	require.Equal(t, StatusDraft, res.Transfer.Status)
	require.Equal(t, "wrong quantity", res.Transfer.RejectionReason)
	require.EqualValues(t, dstManager.UserID, *res.Transfer.RejectedBy)
	require.True(t, res.Transfer.IsRejected())

	_, err = engine.Resubmit(ctx, srcManager, id)
	require.ErrorIs(t, err, ErrUnauthorized)

	res, err = engine.Resubmit(ctx, srcKeeper, id)
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, res.Transfer.Status)
	require.Empty(t, res.Transfer.RejectionReason)
	require.Nil(t, res.Transfer.RejectedAt)
	require.Nil(t, res.Transfer.RejectedBy)
}

func TestResubmitNeedsPriorRejection(t *testing.T) {
	engine, _, _ := newTestEngine(Config{})
	res, err := engine.Create(context.Background(), srcKeeper, createInput(1, 2, false, line(100, "1")))
	require.NoError(t, err)

	_, err = engine.Resubmit(context.Background(), srcKeeper, res.Transfer.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCreatorCannotApproveOwnTransfer(t *testing.T) {
	engine, _, _ := newTestEngine(Config{})
	ctx := context.Background()

	res, err := engine.Create(ctx, srcManager, createInput(1, 2, true, line(100, "1")))
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, res.Transfer.Status)

	_, err = engine.Approve(ctx, srcManager, res.Transfer.ID)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = engine.Approve(ctx, otherManager, res.Transfer.ID)
	require.ErrorIs(t, err, ErrUnauthorized)

	res, err = engine.Approve(ctx, dstManager, res.Transfer.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, res.Transfer.Status)
}

func TestStatusCheckedBeforeGate(t *testing.T) {
	engine, _, _ := newTestEngine(Config{})
	res, err := engine.Create(context.Background(), srcKeeper, createInput(1, 2, false, line(100, "1")))
	require.NoError(t, err)

	_, err = engine.Approve(context.Background(), viewer, res.Transfer.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRepeatedStartAndReceiveAreIdempotent(t *testing.T) {
	engine, store, pub := newTestEngine(Config{})
	ctx := context.Background()
	store.seed(100, 1, "5")

	res, err := engine.Create(ctx, owner, createInput(1, 2, true, line(100, "5")))
	require.NoError(t, err)
	id := res.Transfer.ID

	_, err = engine.Start(ctx, owner, id)
	require.NoError(t, err)
	res, err = engine.Start(ctx, owner, id)
	require.NoError(t, err)
	require.True(t, res.AlreadyProcessed)
	require.Equal(t, StatusInTransit, res.Transfer.Status)
	require.Len(t, store.transferEntries(id, inventory.KindTransferOut), 1)

	_, err = engine.Start(ctx, viewer, id)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = engine.Receive(ctx, dstKeeper, id, nil)
	require.NoError(t, err)
	res, err = engine.Receive(ctx, dstKeeper, id, nil)
	require.NoError(t, err)
	require.True(t, res.AlreadyProcessed)
	require.Len(t, store.transferEntries(id, inventory.KindTransferIn), 1)
	assert.True(t, store.onHand(100, 2).Equal(qty("5")))

	assert.Equal(t, []Event{EventCreate, EventStart, EventReceive}, pub.events())
}

// startConcurrently creates two pending transfers of 5 units against 8 on hand
// and starts both at once.
func startConcurrently(t *testing.T, engine *Engine, store *memoryStore, hook func()) (ok, short int) {
	t.Helper()
	ctx := context.Background()
	store.seed(100, 1, "8")

	var ids []int64
	for range 2 {
		res, err := engine.Create(ctx, owner, createInput(1, 2, true, line(100, "5")))
		require.NoError(t, err)
		ids = append(ids, res.Transfer.ID)
	}

	store.onHandHook = hook
	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = engine.Start(ctx, owner, id)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected start error: %v", err)
		}
	}
	return ok, short
}

func TestConcurrentStartsNeverOversell(t *testing.T) {
	engine, store, _ := newTestEngine(Config{})

	// Hold each availability check open long enough for the other start to
	// reach it if nothing kept them apart.
	ok, short := startConcurrently(t, engine, store, func() { time.Sleep(20 * time.Millisecond) })

	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)
	assert.True(t, store.onHand(100, 1).Equal(qty("3")))
}

// unlockedLocker grants every key immediately.
type unlockedLocker struct{}

func (unlockedLocker) Acquire(context.Context, ...string) (func(), error) {
	return func() {}, nil
}

func TestConcurrentStartsOversellWithoutStockLocks(t *testing.T) {
	store := newMemoryStore()
	engine := NewEngine(store, newDirectory(), unlockedLocker{}, &recordingPublisher{}, nil, nil, Config{})
	engine.now = func() time.Time { return testNow }

	// Both starts read on-hand before either has written its shipment.
	var arrived sync.WaitGroup
	arrived.Add(2)
	ok, short := startConcurrently(t, engine, store, func() {
		arrived.Done()
		arrived.Wait()
	})

	assert.Equal(t, 2, ok)
	assert.Zero(t, short)
	assert.True(t, store.onHand(100, 1).Equal(qty("-2")))
}

func TestCancelReversesShipment(t *testing.T) {
	engine, store, _ := newTestEngine(Config{})
	ctx := context.Background()
	store.seed(100, 1, "6")

	res, err := engine.Create(ctx, owner, createInput(1, 2, true, line(100, "4")))
	require.NoError(t, err)
	id := res.Transfer.ID

	_, err = engine.Cancel(ctx, owner, id, "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = engine.Start(ctx, srcManager, id)
	require.NoError(t, err)
	require.True(t, store.onHand(100, 1).Equal(qty("2")))

	_, err = engine.Cancel(ctx, srcManager, id, "truck broke down")
	require.ErrorIs(t, err, ErrUnauthorized)

	res, err = engine.Cancel(ctx, owner, id, "truck broke down")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, res.Transfer.Status)
	reversal := store.transferEntries(id, inventory.KindTransferCancelled)
	require.Len(t, reversal, 1)
	assert.True(t, reversal[0].QtyChange.Equal(qty("4")))
	assert.EqualValues(t, 1, reversal[0].WarehouseID)
	assert.True(t, store.onHand(100, 1).Equal(qty("6")))
	assert.True(t, store.onHand(100, 2).IsZero())

	_, err = engine.Cancel(ctx, owner, id, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = engine.Receive(ctx, dstKeeper, id, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestReceiveAuthority(t *testing.T) {
	engine, store, _ := newTestEngine(Config{})
	ctx := context.Background()
	store.seed(100, 1, "5")

	res, err := engine.Create(ctx, owner, createInput(1, 2, true, line(100, "5")))
	require.NoError(t, err)
	id := res.Transfer.ID
	_, err = engine.Start(ctx, owner, id)
	require.NoError(t, err)

	for _, actor := range []struct {
		name string
		err  error
		call func() error
	}{
		{"source keeper", ErrUnauthorized, func() error { _, err := engine.Receive(ctx, srcKeeper, id, nil); return err }},
		{"viewer", ErrUnauthorized, func() error { _, err := engine.Receive(ctx, viewer, id, nil); return err }},
		{"owner without assignment", ErrUnauthorized, func() error { _, err := engine.Receive(ctx, owner, id, nil); return err }},
		{"other company", ErrNotFound, func() error { _, err := engine.Receive(ctx, outsider, id, nil); return err }},
	} {
		t.Run(actor.name, func(t *testing.T) {
			require.ErrorIs(t, actor.call(), actor.err)
		})
	}
	assert.Empty(t, store.transferEntries(id, inventory.KindTransferIn))
}

func TestReceiveQuantityOverride(t *testing.T) {
	engine, store, _ := newTestEngine(Config{})
	ctx := context.Background()
	store.seed(100, 1, "5")
	store.seed(200, 1, "2")

	res, err := engine.Create(ctx, owner, createInput(1, 2, true, line(100, "5"), line(200, "2")))
	require.NoError(t, err)
	id := res.Transfer.ID
	res, err = engine.Start(ctx, owner, id)
	require.NoError(t, err)
	first, second := res.Transfer.Lines[0].ID, res.Transfer.Lines[1].ID

	_, err = engine.Receive(ctx, dstKeeper, id, map[int64]decimal.Decimal{first: qty("3")})
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = engine.Receive(ctx, dstAdmin, id, map[int64]decimal.Decimal{first: qty("6")})
	require.ErrorIs(t, err, ErrValidation)

	_, err = engine.Receive(ctx, dstAdmin, id, map[int64]decimal.Decimal{999: qty("1")})
	require.ErrorIs(t, err, ErrValidation)

	_, err = engine.Receive(ctx, dstAdmin, id, map[int64]decimal.Decimal{first: qty("2.99999")})
	require.ErrorIs(t, err, ErrValidation)
	require.Empty(t, store.transferEntries(id, inventory.KindTransferIn))

	res, err = engine.Receive(ctx, dstAdmin, id, map[int64]decimal.Decimal{first: qty("3"), second: qty("0")})
	require.NoError(t, err)
	require.True(t, res.Transfer.Lines[0].Received().Equal(qty("3")))
	require.True(t, res.Transfer.Lines[1].Received().IsZero())
	in := store.transferEntries(id, inventory.KindTransferIn)
	require.Len(t, in, 1)
	assert.True(t, in[0].QtyChange.Equal(qty("3")))
	assert.True(t, store.onHand(100, 2).Equal(qty("3")))
}

func TestMissingBranchConfiguration(t *testing.T) {
	engine, store, _ := newTestEngine(Config{})
	ctx := context.Background()
	store.seed(100, 1, "5")

	res, err := engine.Create(ctx, owner, createInput(1, 3, true, line(100, "5")))
	require.NoError(t, err)
	id := res.Transfer.ID
	_, err = engine.Start(ctx, owner, id)
	require.NoError(t, err)

	_, err = engine.Receive(ctx, annexKeeper, id, nil)
	require.ErrorIs(t, err, ErrMissingBranchConfiguration)
	current, err := engine.Get(ctx, owner, id)
	require.NoError(t, err)
	assert.Equal(t, StatusInTransit, current.Status)
	assert.Empty(t, store.transferEntries(id, inventory.KindTransferIn))

	res, err = engine.Create(ctx, owner, createInput(3, 1, true, line(100, "1")))
	require.NoError(t, err)
	_, err = engine.Start(ctx, owner, res.Transfer.ID)
	require.ErrorIs(t, err, ErrMissingBranchConfiguration)
}

func inTransitWithoutShipment(store *memoryStore) Transfer {
	return store.put(Transfer{
		CompanyID:              1,
		Number:                 "TRF-20240305-0042",
		Status:                 StatusInTransit,
		SourceWarehouseID:      1,
		DestinationWarehouseID: 2,
		SourceBranchID:         10,
		DestinationBranchID:    20,
		CreatedBy:              owner.UserID,
		Lines:                  []Line{{ProductID: 100, QtyRequested: qty("2")}},
	})
}

func TestReceiveFallbackStart(t *testing.T) {
	engine, store, _ := newTestEngine(Config{ReceiveFallbackStart: true})
	store.seed(100, 1, "2")
	tr := inTransitWithoutShipment(store)

	res, err := engine.Receive(context.Background(), dstKeeper, tr.ID, nil)
	require.NoError(t, err)
	require.Equal(t, StatusReceived, res.Transfer.Status)
	require.Len(t, store.transferEntries(tr.ID, inventory.KindTransferOut), 1)
	require.Len(t, store.transferEntries(tr.ID, inventory.KindTransferIn), 1)
	assert.True(t, store.onHand(100, 1).IsZero())
	assert.True(t, store.onHand(100, 2).Equal(qty("2")))
}

func TestReceiveFallbackDisabled(t *testing.T) {
	engine, store, _ := newTestEngine(Config{})
	store.seed(100, 1, "2")
	tr := inTransitWithoutShipment(store)

	_, err := engine.Receive(context.Background(), dstKeeper, tr.ID, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, store.transferEntries(tr.ID, inventory.KindTransferIn))
}

func TestUnknownStatusIsRejected(t *testing.T) {
	engine, store, _ := newTestEngine(Config{})
	store.seed(100, 1, "2")
	tr := inTransitWithoutShipment(store)
	store.mu.Lock()
	stored := store.transfers[tr.ID]
	stored.Status = Status("lost")
	store.transfers[tr.ID] = stored
	store.mu.Unlock()

	for _, run := range []func() (Result, error){
		func() (Result, error) { return engine.Start(context.Background(), owner, tr.ID) },
		func() (Result, error) { return engine.Receive(context.Background(), dstKeeper, tr.ID, nil) },
		func() (Result, error) { return engine.Cancel(context.Background(), owner, tr.ID, "") },
	} {
		_, err := run()
		require.ErrorIs(t, err, ErrInvalidTransition)
	}
	assert.True(t, store.onHand(100, 1).Equal(qty("2")))
}

func TestDeleteBeforeShipment(t *testing.T) {
	engine, _, pub := newTestEngine(Config{})
	ctx := context.Background()

	draft, err := engine.Create(ctx, srcKeeper, createInput(1, 2, false, line(100, "1")))
	require.NoError(t, err)
	_, err = engine.Delete(ctx, owner, draft.Transfer.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	res, err := engine.Create(ctx, srcKeeper, createInput(1, 2, true, line(100, "1")))
	require.NoError(t, err)
	_, err = engine.Delete(ctx, srcKeeper, res.Transfer.ID)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = engine.Delete(ctx, srcManager, res.Transfer.ID)
	require.NoError(t, err)
	_, err = engine.Get(ctx, owner, res.Transfer.ID)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, EventDelete, pub.events()[len(pub.events())-1])
}

func TestStoreFailureRollsBack(t *testing.T) {
	engine, store, _ := newTestEngine(Config{})
	ctx := context.Background()
	store.seed(100, 1, "5")
	res, err := engine.Create(ctx, owner, createInput(1, 2, true, line(100, "5")))
	require.NoError(t, err)

	store.failUpdate = errors.New("disk full")
	_, err = engine.Start(ctx, owner, res.Transfer.ID)
	require.ErrorIs(t, err, ErrStoreFailure)
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "start", storeErr.Op)

	store.failUpdate = nil
	assert.Empty(t, store.transferEntries(res.Transfer.ID, inventory.KindTransferOut))
	assert.True(t, store.onHand(100, 1).Equal(qty("5")))
}

func TestPublishFailureDoesNotFailTransition(t *testing.T) {
	engine, _, pub := newTestEngine(Config{})
	pub.err = errors.New("broker down")

	res, err := engine.Create(context.Background(), srcKeeper, createInput(1, 2, false, line(100, "1")))
	require.NoError(t, err)
	res, err = engine.Submit(context.Background(), srcKeeper, res.Transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingApproval, res.Transfer.Status)
}

func TestCreateValidation(t *testing.T) {
	engine, _, _ := newTestEngine(Config{})
	ctx := context.Background()

	_, err := engine.Create(ctx, owner, createInput(1, 1, false, line(100, "1")))
	require.ErrorIs(t, err, ErrValidation)
	_, err = engine.Create(ctx, owner, createInput(1, 9, false, line(100, "1")))
	require.ErrorIs(t, err, ErrValidation)
	_, err = engine.Create(ctx, owner, createInput(1, 2, false))
	require.ErrorIs(t, err, ErrValidation)
	_, err = engine.Create(ctx, owner, createInput(1, 2, false, line(100, "0")))
	require.ErrorIs(t, err, ErrValidation)
	_, err = engine.Create(ctx, viewer, createInput(1, 2, false, line(100, "1")))
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = engine.Create(ctx, dstKeeper, createInput(1, 2, false, line(100, "1")))
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestNumbersAreSequentialPerDay(t *testing.T) {
	engine, _, _ := newTestEngine(Config{})
	ctx := context.Background()
	var numbers []string
	for range 3 {
		res, err := engine.Create(ctx, owner, createInput(1, 2, false, line(100, "1")))
		require.NoError(t, err)
		numbers = append(numbers, res.Transfer.Number)
	}
	assert.Equal(t, []string{"TRF-20240305-0001", "TRF-20240305-0002", "TRF-20240305-0003"}, numbers)
}

func TestListAndLedgerAreCompanyScoped(t *testing.T) {
	engine, store, _ := newTestEngine(Config{})
	ctx := context.Background()
	store.seed(100, 1, "5")

	res, err := engine.Create(ctx, owner, createInput(1, 2, true, line(100, "5")))
	require.NoError(t, err)
	_, err = engine.Create(ctx, owner, createInput(2, 1, false, line(100, "1")))
	require.NoError(t, err)
	_, err = engine.Start(ctx, owner, res.Transfer.ID)
	require.NoError(t, err)

	items, total, err := engine.List(ctx, owner, ListFilter{Status: StatusInTransit})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, res.Transfer.ID, items[0].ID)

	items, total, err = engine.List(ctx, outsider, ListFilter{})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, items)

	_, _, err = engine.List(ctx, owner, ListFilter{Status: "lost"})
	require.ErrorIs(t, err, ErrValidation)

	entries, err := engine.LedgerEntries(ctx, owner, res.Transfer.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, inventory.KindTransferOut, entries[0].Kind)

	_, err = engine.LedgerEntries(ctx, outsider, res.Transfer.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMetricsRecordOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	store := newMemoryStore()
	engine := NewEngine(store, newDirectory(), nil, nil, nil, metrics, Config{})
	ctx := context.Background()
	store.seed(100, 1, "1")

	res, err := engine.Create(ctx, owner, createInput(1, 2, true, line(100, "5")))
	require.NoError(t, err)
	_, err = engine.Start(ctx, owner, res.Transfer.ID)
	require.Error(t, err)
	_, err = engine.Approve(ctx, owner, res.Transfer.ID)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.transitions.WithLabelValues("create", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.transitions.WithLabelValues("start", "insufficient_stock")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.transitions.WithLabelValues("approve", "invalid_transition")))
}
