package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/odyssey-erp/stocktransfer/internal/identity"
	"github.com/odyssey-erp/stocktransfer/internal/inventory"
	"github.com/odyssey-erp/stocktransfer/internal/platform/lock"
)

var tracer = otel.Tracer("github.com/odyssey-erp/stocktransfer/internal/transfer")

// Repository abstracts transfer persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, companyID, id int64) (Transfer, error)
	List(ctx context.Context, filter ListFilter) ([]Transfer, int, error)
	LedgerEntries(ctx context.Context, transferID int64) ([]inventory.Entry, error)
}

// TxRepository exposes transactional operations used by the engine. Ledger
// writes through Ledger() commit or roll back with the transfer row.
type TxRepository interface {
	GetForUpdate(ctx context.Context, companyID, id int64) (Transfer, error)
	NextNumber(ctx context.Context, companyID int64, day time.Time) (string, error)
	Insert(ctx context.Context, t *Transfer) error
	Update(ctx context.Context, t *Transfer) error
	Delete(ctx context.Context, id int64) error
	Ledger() inventory.Ledger
}

// Directory resolves warehouses and branch defaults.
type Directory interface {
	Warehouse(ctx context.Context, companyID, id int64) (identity.Warehouse, error)
	DefaultCostCenter(ctx context.Context, branchID int64) (int64, error)
}

// Config toggles optional engine behaviour.
type Config struct {
	// ReceiveFallbackStart lets receive perform the start effect when a
	// transfer reached in_transit without a transfer_out entry.
	ReceiveFallbackStart bool
	// PublishTimeout bounds post-commit publishing.
	PublishTimeout time.Duration
}

// Engine orchestrates transfer transitions. It is the only writer of
// transfer ledger entries.
type Engine struct {
	repo      Repository
	directory Directory
	locker    lock.Locker
	publisher Publisher
	logger    *slog.Logger
	metrics   *Metrics
	cfg       Config
	now       func() time.Time
}

// NewEngine wires the engine. Nil locker, publisher and logger get in-process defaults.
func NewEngine(repo Repository, directory Directory, locker lock.Locker, publisher Publisher, logger *slog.Logger, metrics *Metrics, cfg Config) *Engine {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &Engine{
		repo:      repo,
		directory: directory,
		locker:    locker,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create opens a transfer in draft, or submits it immediately when requested.
func (e *Engine) Create(ctx context.Context, actor identity.Actor, input CreateInput) (res Result, err error) {
	ctx, finish := e.begin(ctx, EventCreate, 0, actor)
	defer func() { finish(res, err) }()

	if input.SourceWarehouseID == input.DestinationWarehouseID {
		return Result{}, fmt.Errorf("%w: source and destination warehouse must differ", ErrValidation)
	}
	source, err := e.warehouse(ctx, actor.CompanyID, input.SourceWarehouseID)
	if err != nil {
		return Result{}, err
	}
	destination, err := e.warehouse(ctx, actor.CompanyID, input.DestinationWarehouseID)
	if err != nil {
		return Result{}, err
	}
	if !CanCreate(actor, source, destination) {
		return Result{}, unauthorized(EventCreate)
	}

	now := e.now()
	t := Transfer{
		CompanyID:              actor.CompanyID,
		Status:                 StatusDraft,
		SourceWarehouseID:      source.ID,
		DestinationWarehouseID: destination.ID,
		SourceBranchID:         source.BranchID,
		DestinationBranchID:    destination.BranchID,
		TransferDate:           truncateDay(now),
		ExpectedArrivalDate:    input.ExpectedArrivalDate,
		Notes:                  strings.TrimSpace(input.Notes),
		CreatedBy:              actor.UserID,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if input.TransferDate != nil {
		t.TransferDate = truncateDay(*input.TransferDate)
	}
	for i, l := range input.Lines {
		t.Lines = append(t.Lines, Line{
			LineNo:       i + 1,
			ProductID:    l.ProductID,
			QtyRequested: l.QtyRequested,
			Note:         strings.TrimSpace(l.Note),
		})
	}
	if input.Submit {
		e.applySubmit(&t, actor)
	}
	if err := t.Validate(); err != nil {
		return Result{}, err
	}

	err = e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextNumber(ctx, t.CompanyID, t.TransferDate)
		if err != nil {
			return err
		}
		t.Number = number
		return tx.Insert(ctx, &t)
	})
	if err != nil {
		return Result{}, storeFailure("create", err)
	}
	e.publish(ctx, EventCreate, actor, "", t, "")
	return Result{Transfer: t}, nil
}

// Submit sends a draft for approval, or straight to pending for roles that
// self-approve.
func (e *Engine) Submit(ctx context.Context, actor identity.Actor, id int64) (Result, error) {
	return e.transition(ctx, actor, id, EventSubmit, "", func(ctx context.Context, tx TxRepository, t *Transfer, _ costCenters) error {
		e.applySubmit(t, actor)
		return nil
	})
}

// Approve moves a pending_approval transfer to pending.
func (e *Engine) Approve(ctx context.Context, actor identity.Actor, id int64) (Result, error) {
	return e.transition(ctx, actor, id, EventApprove, "", func(ctx context.Context, tx TxRepository, t *Transfer, _ costCenters) error {
		t.Status = StatusPending
		t.ApprovedBy = ptr(actor.UserID)
		return nil
	})
}

// Reject returns a pending_approval transfer to draft with a reason.
func (e *Engine) Reject(ctx context.Context, actor identity.Actor, id int64, reason string) (Result, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Result{}, fmt.Errorf("%w: rejection reason required", ErrValidation)
	}
	return e.transition(ctx, actor, id, EventReject, reason, func(ctx context.Context, tx TxRepository, t *Transfer, _ costCenters) error {
		now := e.now()
		t.Status = StatusDraft
		t.ApprovedBy = nil
		t.RejectionReason = reason
		t.RejectedBy = ptr(actor.UserID)
		t.RejectedAt = &now
		return nil
	})
}

// Resubmit sends a rejected draft back for approval.
func (e *Engine) Resubmit(ctx context.Context, actor identity.Actor, id int64) (Result, error) {
	return e.transition(ctx, actor, id, EventResubmit, "", func(ctx context.Context, tx TxRepository, t *Transfer, _ costCenters) error {
		t.clearRejection()
		t.Status = StatusPendingApproval
		return nil
	})
}

// Delete removes a transfer that has not touched the ledger.
func (e *Engine) Delete(ctx context.Context, actor identity.Actor, id int64) (Result, error) {
	return e.transition(ctx, actor, id, EventDelete, "", func(ctx context.Context, tx TxRepository, t *Transfer, _ costCenters) error {
		for _, kind := range []inventory.Kind{inventory.KindTransferOut, inventory.KindTransferIn, inventory.KindTransferCancelled} {
			exists, err := tx.Ledger().HasEntries(ctx, inventory.RefModuleTransfer, t.ID, kind)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("%w: transfer has ledger entries", ErrInvalidTransition)
			}
		}
		return errDeleted
	})
}

// Start ships a pending transfer: every line's requested quantity must be on
// hand at the source, and one transfer_out entry is written per line.
func (e *Engine) Start(ctx context.Context, actor identity.Actor, id int64) (Result, error) {
	return e.transition(ctx, actor, id, EventStart, "", func(ctx context.Context, tx TxRepository, t *Transfer, cc costCenters) error {
		if cc.sourceErr != nil {
			return cc.sourceErr
		}
		if err := e.ship(ctx, tx, t, actor, cc.source); err != nil {
			return err
		}
		t.Status = StatusInTransit
		return nil
	})
}

// Cancel reverses an in-transit transfer with one transfer_cancelled entry
// per line.
func (e *Engine) Cancel(ctx context.Context, actor identity.Actor, id int64, reason string) (Result, error) {
	reason = strings.TrimSpace(reason)
	return e.transition(ctx, actor, id, EventCancel, reason, func(ctx context.Context, tx TxRepository, t *Transfer, cc costCenters) error {
		if cc.sourceErr != nil {
			return cc.sourceErr
		}
		ledger := tx.Ledger()
		shipped, err := ledger.HasEntries(ctx, inventory.RefModuleTransfer, t.ID, inventory.KindTransferOut)
		if err != nil {
			return err
		}
		reversed, err := ledger.HasEntries(ctx, inventory.RefModuleTransfer, t.ID, inventory.KindTransferCancelled)
		if err != nil {
			return err
		}
		if shipped && !reversed {
			entries := make([]inventory.Entry, 0, len(t.Lines))
			for _, l := range t.Lines {
				if !l.Sent().IsPositive() {
					continue
				}
				entries = append(entries, e.entry(t, l, actor, inventory.KindTransferCancelled, t.SourceWarehouseID, t.SourceBranchID, cc.source, l.Sent()))
			}
			if _, err := ledger.Append(ctx, entries...); err != nil {
				return err
			}
		}
		t.Status = StatusCancelled
		return nil
	})
}

// Receive books the shipment into the destination warehouse. received maps
// line id to quantity; omitted lines receive what was sent.
func (e *Engine) Receive(ctx context.Context, actor identity.Actor, id int64, received map[int64]decimal.Decimal) (Result, error) {
	return e.transition(ctx, actor, id, EventReceive, "", func(ctx context.Context, tx TxRepository, t *Transfer, cc costCenters) error {
		ledger := tx.Ledger()
		shipped, err := ledger.HasEntries(ctx, inventory.RefModuleTransfer, t.ID, inventory.KindTransferOut)
		if err != nil {
			return err
		}
		if !shipped {
			if !e.cfg.ReceiveFallbackStart {
				return fmt.Errorf("%w: transfer was never started", ErrInvalidTransition)
			}
			if cc.sourceErr != nil {
				return cc.sourceErr
			}
		}
		if cc.destinationErr != nil {
			return cc.destinationErr
		}
		if !shipped {
			e.logger.Warn("receiving transfer without transfer_out, starting it first",
				slog.Int64("transfer_id", t.ID), slog.String("number", t.Number))
			if err := e.ship(ctx, tx, t, actor, cc.source); err != nil {
				return err
			}
		}
		quantities, err := receivedQuantities(actor, t, received)
		if err != nil {
			return err
		}
		booked, err := ledger.HasEntries(ctx, inventory.RefModuleTransfer, t.ID, inventory.KindTransferIn)
		if err != nil {
			return err
		}
		entries := make([]inventory.Entry, 0, len(t.Lines))
		for i := range t.Lines {
			q := quantities[t.Lines[i].ID]
			t.Lines[i].QtyReceived = ptr(q)
			if !booked && q.IsPositive() {
				entries = append(entries, e.entry(t, t.Lines[i], actor, inventory.KindTransferIn, t.DestinationWarehouseID, t.DestinationBranchID, cc.destination, q))
			}
		}
		if len(entries) > 0 {
			if _, err := ledger.Append(ctx, entries...); err != nil {
				return err
			}
		}
		now := e.now()
		t.Status = StatusReceived
		t.ReceivedBy = ptr(actor.UserID)
		t.ReceivedAt = &now
		return nil
	})
}

// Get returns a transfer visible to the actor.
func (e *Engine) Get(ctx context.Context, actor identity.Actor, id int64) (Transfer, error) {
	t, err := e.repo.Get(ctx, actor.CompanyID, id)
	if err != nil {
		return Transfer{}, storeFailure("get", err)
	}
	if !CanView(actor, &t) {
		return Transfer{}, ErrNotFound
	}
	return t, nil
}

// List returns transfers of the actor's company.
func (e *Engine) List(ctx context.Context, actor identity.Actor, filter ListFilter) ([]Transfer, int, error) {
	filter.CompanyID = actor.CompanyID
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, filter.Status)
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	items, total, err := e.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, storeFailure("list", err)
	}
	return items, total, nil
}

// LedgerEntries lists the ledger entries a transfer produced.
func (e *Engine) LedgerEntries(ctx context.Context, actor identity.Actor, id int64) ([]inventory.Entry, error) {
	t, err := e.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	entries, err := e.repo.LedgerEntries(ctx, t.ID)
	if err != nil {
		return nil, storeFailure("ledger entries", err)
	}
	return entries, nil
}

var errDeleted = errors.New("transfer: deleted")

type applyFunc func(ctx context.Context, tx TxRepository, t *Transfer, cc costCenters) error

// transition runs one event: locks the stock keys it may move, re-reads the
// transfer under the transaction, checks status and the gate, applies the
// effect and persists it. Publishing happens only after commit.
func (e *Engine) transition(ctx context.Context, actor identity.Actor, id int64, ev Event, reason string, apply applyFunc) (res Result, err error) {
	ctx, finish := e.begin(ctx, ev, id, actor)
	defer func() { finish(res, err) }()

	current, err := e.repo.Get(ctx, actor.CompanyID, id)
	if err != nil {
		return Result{}, storeFailure("load", err)
	}
	if !CanView(actor, &current) {
		return Result{}, ErrNotFound
	}

	var cc costCenters
	if movesStock(ev) {
		cc = e.costCenters(ctx, &current)
		release, err := e.locker.Acquire(ctx, stockKeys(&current)...)
		if err != nil {
			return Result{}, &StoreError{Op: "lock stock", Err: err}
		}
		defer release()
	}

	var (
		updated Transfer
		from    Status
		replay  bool
		deleted bool
	)
	err = e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.GetForUpdate(ctx, actor.CompanyID, id)
		if err != nil {
			return err
		}
		from = t.Status
		if alreadyProcessed(t.Status, ev) {
			if !CanTransition(actor, &t, ev) {
				return unauthorized(ev)
			}
			replay = true
			updated = t
			return nil
		}
		if !t.CanFire(ev) {
			return invalidTransition(t.Status, ev)
		}
		if !CanTransition(actor, &t, ev) {
			return unauthorized(ev)
		}
		if err := apply(ctx, tx, &t, cc); err != nil {
			if errors.Is(err, errDeleted) {
				deleted = true
				updated = t
				return tx.Delete(ctx, t.ID)
			}
			return err
		}
		if err := t.Validate(); err != nil {
			return err
		}
		t.UpdatedAt = e.now()
		if err := tx.Update(ctx, &t); err != nil {
			return err
		}
		updated = t
		return nil
	})
	if err != nil {
		return Result{}, storeFailure(string(ev), err)
	}
	if replay {
		e.logger.Info("transfer transition already processed",
			slog.Int64("transfer_id", id), slog.String("event", string(ev)), slog.Int64("actor_id", actor.UserID))
		return Result{Transfer: updated, AlreadyProcessed: true}, nil
	}
	if deleted {
		updated.UpdatedAt = e.now()
	}
	e.publish(ctx, ev, actor, from, updated, reason)
	return Result{Transfer: updated}, nil
}

// ship sets sent quantities and writes transfer_out entries unless they exist.
func (e *Engine) ship(ctx context.Context, tx TxRepository, t *Transfer, actor identity.Actor, costCenter int64) error {
	ledger := tx.Ledger()
	for i := range t.Lines {
		t.Lines[i].QtySent = ptr(t.Lines[i].QtyRequested)
	}
	exists, err := ledger.HasEntries(ctx, inventory.RefModuleTransfer, t.ID, inventory.KindTransferOut)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	reqs := make([]inventory.Requirement, 0, len(t.Lines))
	for _, l := range t.Lines {
		reqs = append(reqs, inventory.Requirement{ProductID: l.ProductID, Qty: l.QtyRequested})
	}
	shortfalls, err := inventory.CheckAll(ctx, ledger, t.SourceWarehouseID, reqs)
	if err != nil {
		return err
	}
	if len(shortfalls) > 0 {
		return &InsufficientStockError{WarehouseID: t.SourceWarehouseID, Shortfalls: shortfalls}
	}
	entries := make([]inventory.Entry, 0, len(t.Lines))
	for _, l := range t.Lines {
		entries = append(entries, e.entry(t, l, actor, inventory.KindTransferOut, t.SourceWarehouseID, t.SourceBranchID, costCenter, l.QtyRequested.Neg()))
	}
	_, err = ledger.Append(ctx, entries...)
	return err
}

func (e *Engine) entry(t *Transfer, l Line, actor identity.Actor, kind inventory.Kind, warehouseID, branchID, costCenter int64, qty decimal.Decimal) inventory.Entry {
	return inventory.Entry{
		ProductID:    l.ProductID,
		WarehouseID:  warehouseID,
		BranchID:     branchID,
		CostCenterID: costCenter,
		Kind:         kind,
		QtyChange:    qty,
		RefModule:    inventory.RefModuleTransfer,
		RefID:        t.ID,
		RefLineID:    l.ID,
		Note:         t.Number,
		PostedAt:     e.now(),
		CreatedBy:    actor.UserID,
	}
}

func (e *Engine) applySubmit(t *Transfer, actor identity.Actor) {
	t.clearRejection()
	if RequiresApproval(actor) {
		t.Status = StatusPendingApproval
		t.ApprovedBy = nil
		return
	}
	t.Status = StatusPending
	t.ApprovedBy = ptr(actor.UserID)
}

// receivedQuantities resolves the quantity booked per line. Only roles that
// may override receipts can record a quantity other than what was sent.
func receivedQuantities(actor identity.Actor, t *Transfer, received map[int64]decimal.Decimal) (map[int64]decimal.Decimal, error) {
	known := make(map[int64]Line, len(t.Lines))
	for _, l := range t.Lines {
		known[l.ID] = l
	}
	for lineID := range received {
		if _, ok := known[lineID]; !ok {
			return nil, fmt.Errorf("%w: line %d is not on transfer %s", ErrValidation, lineID, t.Number)
		}
	}
	out := make(map[int64]decimal.Decimal, len(t.Lines))
	for _, l := range t.Lines {
		sent := l.Sent()
		q, ok := received[l.ID]
		if !ok || q.Equal(sent) {
			out[l.ID] = sent
			continue
		}
		if !CanOverrideReceived(actor) {
			return nil, fmt.Errorf("%w: received quantity can only differ from sent for elevated roles", ErrUnauthorized)
		}
		if q.IsNegative() || q.GreaterThan(sent) {
			return nil, fmt.Errorf("%w: line %d: received %s outside 0..%s", ErrValidation, l.LineNo, q, sent)
		}
		if inventory.ExceedsScale(q) {
			return nil, fmt.Errorf("%w: line %d: received %s has more than %d decimal places", ErrValidation, l.LineNo, q, inventory.QtyScale)
		}
		out[l.ID] = q
	}
	return out, nil
}

func (e *Engine) warehouse(ctx context.Context, companyID, id int64) (identity.Warehouse, error) {
	wh, err := e.directory.Warehouse(ctx, companyID, id)
	if errors.Is(err, identity.ErrWarehouseNotFound) {
		return identity.Warehouse{}, fmt.Errorf("%w: unknown warehouse %d", ErrValidation, id)
	}
	if err != nil {
		return identity.Warehouse{}, &StoreError{Op: "resolve warehouse", Err: err}
	}
	return wh, nil
}

// costCenters holds the default cost centers of both branches of a transfer.
// They are read before the transaction opens; a lookup failure surfaces only
// when a movement needs that side.
type costCenters struct {
	source, destination       int64
	sourceErr, destinationErr error
}

func (e *Engine) costCenters(ctx context.Context, t *Transfer) costCenters {
	var cc costCenters
	cc.source, cc.sourceErr = e.costCenter(ctx, t.SourceBranchID)
	cc.destination, cc.destinationErr = e.costCenter(ctx, t.DestinationBranchID)
	return cc
}

func (e *Engine) costCenter(ctx context.Context, branchID int64) (int64, error) {
	id, err := e.directory.DefaultCostCenter(ctx, branchID)
	if errors.Is(err, identity.ErrNoDefaultCostCenter) {
		return 0, fmt.Errorf("%w: branch %d has no default cost center", ErrMissingBranchConfiguration, branchID)
	}
	if err != nil {
		return 0, &StoreError{Op: "branch defaults", Err: err}
	}
	return id, nil
}

func (e *Engine) publish(ctx context.Context, ev Event, actor identity.Actor, from Status, t Transfer, reason string) {
	msg := Message{
		ID:                     uuid.NewString(),
		Event:                  ev,
		TransferID:             t.ID,
		CompanyID:              t.CompanyID,
		Number:                 t.Number,
		ActorID:                actor.UserID,
		From:                   from,
		To:                     t.Status,
		CreatedBy:              t.CreatedBy,
		SourceWarehouseID:      t.SourceWarehouseID,
		DestinationWarehouseID: t.DestinationWarehouseID,
		Reason:                 reason,
		OccurredAt:             e.now(),
	}
	logger := e.logger.With(
		slog.Int64("transfer_id", t.ID),
		slog.String("event", string(ev)),
		slog.Int64("actor_id", actor.UserID),
	)
	logger.Info("transfer transition committed", slog.String("from", string(from)), slog.String("to", string(t.Status)))

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.PublishTimeout)
	defer cancel()
	if err := e.publisher.Publish(pubCtx, msg); err != nil {
		logger.Warn("publish transfer event", slog.Any("error", err))
	}
}

func (e *Engine) begin(ctx context.Context, ev Event, id int64, actor identity.Actor) (context.Context, func(Result, error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "transfer."+string(ev))
	span.SetAttributes(
		attribute.Int64("transfer.id", id),
		attribute.Int64("actor.id", actor.UserID),
		attribute.String("actor.role", string(actor.Role)),
	)
	return ctx, func(res Result, err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Bool("transfer.already_processed", res.AlreadyProcessed))
		}
		span.End()
		e.metrics.observe(ev, res, err, time.Since(start))
	}
}

// alreadyProcessed reports replays that succeed without effect.
func alreadyProcessed(status Status, ev Event) bool {
	return (ev == EventStart && status == StatusInTransit) || (ev == EventReceive && status == StatusReceived)
}

func movesStock(ev Event) bool {
	return ev == EventStart || ev == EventCancel || ev == EventReceive
}

// stockKeys lists every (product, warehouse) key a stock-moving event may touch.
func stockKeys(t *Transfer) []string {
	keys := make([]string, 0, 2*len(t.Lines))
	for _, l := range t.Lines {
		keys = append(keys,
			inventory.StockKey{ProductID: l.ProductID, WarehouseID: t.SourceWarehouseID}.String(),
			inventory.StockKey{ProductID: l.ProductID, WarehouseID: t.DestinationWarehouseID}.String(),
		)
	}
	return keys
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T {
	return &v
}
