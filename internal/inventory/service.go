package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stocktransfer/internal/identity"
	"github.com/odyssey-erp/stocktransfer/internal/platform/lock"
	"github.com/odyssey-erp/stocktransfer/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	Reader
	WithTx(ctx context.Context, fn func(context.Context, Ledger) error) error
	Entries(ctx context.Context, filter EntryFilter) ([]Entry, error)
}

// Directory resolves warehouse placement and branch defaults.
type Directory interface {
	Warehouse(ctx context.Context, companyID, id int64) (identity.Warehouse, error)
	DefaultCostCenter(ctx context.Context, branchID int64) (int64, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates stock queries and manual adjustments. Transfer
// movements are written by the transfer engine, not here.
type Service struct {
	repo      RepositoryPort
	locker    lock.Locker
	directory Directory
	audit     AuditPort
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, locker lock.Locker, directory Directory, audit AuditPort, logger *slog.Logger) *Service {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		locker:    locker,
		directory: directory,
		audit:     audit,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// PostAdjustment appends an adjustment or opening balance. Negative
// adjustments may not take on-hand below zero.
func (s *Service) PostAdjustment(ctx context.Context, input AdjustmentInput) (Entry, error) {
	if input.WarehouseID == 0 || input.ProductID == 0 {
		return Entry{}, ErrInvalidInput
	}
	if input.Qty.IsZero() {
		return Entry{}, ErrInvalidQuantity
	}
	if ExceedsScale(input.Qty) {
		return Entry{}, fmt.Errorf("%w: at most %d decimal places", ErrInvalidQuantity, QtyScale)
	}
	if input.Opening && input.Qty.IsNegative() {
		return Entry{}, fmt.Errorf("%w: opening balance must be positive", ErrInvalidQuantity)
	}
	wh, err := s.directory.Warehouse(ctx, input.CompanyID, input.WarehouseID)
	if err != nil {
		return Entry{}, err
	}
	costCenter, err := s.directory.DefaultCostCenter(ctx, wh.BranchID)
	if err != nil {
		return Entry{}, err
	}

	key := StockKey{ProductID: input.ProductID, WarehouseID: input.WarehouseID}
	release, err := s.locker.Acquire(ctx, key.String())
	if err != nil {
		return Entry{}, err
	}
	defer release()

	kind := KindAdjustment
	if input.Opening {
		kind = KindOpeningBalance
	}
	var posted Entry
	err = s.repo.WithTx(ctx, func(ctx context.Context, ledger Ledger) error {
		onHand, err := ledger.OnHand(ctx, input.ProductID, input.WarehouseID)
		if err != nil {
			return err
		}
		if onHand.Add(input.Qty).IsNegative() {
			return fmt.Errorf("%w: on hand %s, change %s", ErrNegativeStock, onHand, input.Qty)
		}
		entries, err := ledger.Append(ctx, Entry{
			ProductID:    input.ProductID,
			WarehouseID:  input.WarehouseID,
			BranchID:     wh.BranchID,
			CostCenterID: costCenter,
			Kind:         kind,
			QtyChange:    input.Qty,
			RefModule:    RefModuleAdjustment,
			Note:         input.Note,
			PostedAt:     s.now(),
			CreatedBy:    input.ActorID,
		})
		if err != nil {
			return err
		}
		posted = entries[0]
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "inventory:" + string(kind),
			Entity:   "inventory_ledger",
			EntityID: strconv.FormatInt(posted.ID, 10),
			Meta: map[string]any{
				"warehouse_id": input.WarehouseID,
				"product_id":   input.ProductID,
				"qty":          input.Qty.String(),
				"note":         input.Note,
			},
		}); err != nil {
			s.logger.Warn("audit adjustment", slog.Int64("entry_id", posted.ID), slog.Any("error", err))
		}
	}
	return posted, nil
}

// OnHand returns the balance of a product at a warehouse of the company.
func (s *Service) OnHand(ctx context.Context, companyID, productID, warehouseID int64) (Balance, error) {
	if productID == 0 || warehouseID == 0 {
		return Balance{}, ErrInvalidInput
	}
	if _, err := s.directory.Warehouse(ctx, companyID, warehouseID); err != nil {
		return Balance{}, err
	}
	onHand, err := s.repo.OnHand(ctx, productID, warehouseID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{ProductID: productID, WarehouseID: warehouseID, OnHand: onHand}, nil
}

// StockCard lists movements of a stock key with the running balance. When
// limit is positive only the most recent entries are returned.
func (s *Service) StockCard(ctx context.Context, companyID, productID, warehouseID int64, limit int) ([]StockCardEntry, error) {
	if productID == 0 || warehouseID == 0 {
		return nil, ErrInvalidInput
	}
	if _, err := s.directory.Warehouse(ctx, companyID, warehouseID); err != nil {
		return nil, err
	}
	entries, err := s.repo.Entries(ctx, EntryFilter{ProductID: productID, WarehouseID: warehouseID})
	if err != nil {
		return nil, err
	}
	card := BuildStockCard(entries)
	if limit > 0 && len(card) > limit {
		card = card[len(card)-limit:]
	}
	return card, nil
}

// BuildStockCard folds entries of a single stock key, ordered by id, into card rows.
func BuildStockCard(entries []Entry) []StockCardEntry {
	card := make([]StockCardEntry, 0, len(entries))
	balance := decimal.Zero
	for _, e := range entries {
		balance = balance.Add(e.QtyChange)
		row := StockCardEntry{
			EntryID:    e.ID,
			Kind:       e.Kind,
			PostedAt:   e.PostedAt,
			QtyIn:      decimal.Zero,
			QtyOut:     decimal.Zero,
			BalanceQty: balance,
			RefModule:  e.RefModule,
			RefID:      e.RefID,
			Note:       e.Note,
		}
		if e.QtyChange.IsPositive() {
			row.QtyIn = e.QtyChange
		} else {
			row.QtyOut = e.QtyChange.Neg()
		}
		card = append(card, row)
	}
	return card
}

// IsNotFound reports directory misses callers should surface as 404.
func IsNotFound(err error) bool {
	return errors.Is(err, identity.ErrWarehouseNotFound)
}
