package transfer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stocktransfer/internal/inventory"
	"github.com/odyssey-erp/stocktransfer/internal/platform/db"
)

// PGRepository persists transfers in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

// Get loads a transfer with its lines.
func (r *PGRepository) Get(ctx context.Context, companyID, id int64) (Transfer, error) {
	return getTransfer(ctx, r.pool, companyID, id, false)
}

// List returns a page of transfers and the total matching count.
func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Transfer, int, error) {
	where := []string{"company_id = $1"}
	args := []any{filter.CompanyID}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	if filter.WarehouseID > 0 {
		args = append(args, filter.WarehouseID)
		n := strconv.Itoa(len(args))
		where = append(where, "(source_warehouse_id = $"+n+" OR destination_warehouse_id = $"+n+")")
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transfers WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("transfer: count: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	query := `SELECT ` + headerColumns + ` FROM transfers WHERE ` + clause +
		` ORDER BY id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("transfer: list: %w", err)
	}
	defer rows.Close()
	var items []Transfer
	for rows.Next() {
		t, err := scanHeader(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range items {
		lines, err := loadLines(ctx, r.pool, items[i].ID)
		if err != nil {
			return nil, 0, err
		}
		items[i].Lines = lines
	}
	return items, total, nil
}

// LedgerEntries lists ledger entries referencing the transfer.
func (r *PGRepository) LedgerEntries(ctx context.Context, transferID int64) ([]inventory.Entry, error) {
	return inventory.NewRepository(r.pool).Entries(ctx, inventory.EntryFilter{
		RefModule: inventory.RefModuleTransfer,
		RefID:     transferID,
	})
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetForUpdate(ctx context.Context, companyID, id int64) (Transfer, error) {
	return getTransfer(ctx, t.tx, companyID, id, true)
}

// NextNumber allocates TRF-YYYYMMDD-NNNN from a per-company daily counter.
func (t *pgTx) NextNumber(ctx context.Context, companyID int64, day time.Time) (string, error) {
	const query = `INSERT INTO transfer_number_seq (company_id, day, last_value) VALUES ($1, $2, 1)
ON CONFLICT (company_id, day) DO UPDATE SET last_value = transfer_number_seq.last_value + 1
RETURNING last_value`
	var seq int
	if err := t.tx.QueryRow(ctx, query, companyID, day).Scan(&seq); err != nil {
		return "", fmt.Errorf("transfer: next number: %w", err)
	}
	return FormatNumber(day, seq), nil
}

func (t *pgTx) Insert(ctx context.Context, tr *Transfer) error {
	const header = `INSERT INTO transfers (company_id, number, status, source_warehouse_id, destination_warehouse_id,
source_branch_id, destination_branch_id, transfer_date, expected_arrival_date, notes, created_by, approved_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING id`
	err := t.tx.QueryRow(ctx, header,
		tr.CompanyID, tr.Number, string(tr.Status), tr.SourceWarehouseID, tr.DestinationWarehouseID,
		tr.SourceBranchID, tr.DestinationBranchID, tr.TransferDate, tr.ExpectedArrivalDate, tr.Notes,
		tr.CreatedBy, tr.ApprovedBy, tr.CreatedAt, tr.UpdatedAt,
	).Scan(&tr.ID)
	if err != nil {
		return fmt.Errorf("transfer: insert: %w", err)
	}
	const line = `INSERT INTO transfer_lines (transfer_id, line_no, product_id, qty_requested, note)
VALUES ($1, $2, $3, $4, $5) RETURNING id`
	for i := range tr.Lines {
		l := &tr.Lines[i]
		l.TransferID = tr.ID
		if err := t.tx.QueryRow(ctx, line, tr.ID, l.LineNo, l.ProductID, db.ToNumeric(l.QtyRequested), l.Note).Scan(&l.ID); err != nil {
			return fmt.Errorf("transfer: insert line %d: %w", l.LineNo, err)
		}
	}
	return nil
}

func (t *pgTx) Update(ctx context.Context, tr *Transfer) error {
	var reason *string
	if tr.RejectionReason != "" {
		reason = &tr.RejectionReason
	}
	const header = `UPDATE transfers SET status = $2, received_at = $3, rejection_reason = $4, approved_by = $5,
received_by = $6, rejected_by = $7, rejected_at = $8, updated_at = $9 WHERE id = $1`
	tag, err := t.tx.Exec(ctx, header, tr.ID, string(tr.Status), tr.ReceivedAt, reason, tr.ApprovedBy,
		tr.ReceivedBy, tr.RejectedBy, tr.RejectedAt, tr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("transfer: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	for _, l := range tr.Lines {
		_, err := t.tx.Exec(ctx, `UPDATE transfer_lines SET qty_sent = $2, qty_received = $3 WHERE id = $1`,
			l.ID, db.ToNullableNumeric(l.QtySent), db.ToNullableNumeric(l.QtyReceived))
		if err != nil {
			return fmt.Errorf("transfer: update line %d: %w", l.LineNo, err)
		}
	}
	return nil
}

func (t *pgTx) Delete(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM transfers WHERE id = $1`, id); err != nil {
		return fmt.Errorf("transfer: delete: %w", err)
	}
	return nil
}

func (t *pgTx) Ledger() inventory.Ledger {
	return inventory.NewLedger(t.tx)
}

// FormatNumber renders a transfer number for the day and sequence.
func FormatNumber(day time.Time, seq int) string {
	return fmt.Sprintf("TRF-%s-%04d", day.UTC().Format("20060102"), seq)
}

const headerColumns = `id, company_id, number, status, source_warehouse_id, destination_warehouse_id, source_branch_id,
destination_branch_id, transfer_date, expected_arrival_date, received_at, notes, rejection_reason, created_by,
approved_by, received_by, rejected_by, rejected_at, created_at, updated_at`

func getTransfer(ctx context.Context, q db.Querier, companyID, id int64, forUpdate bool) (Transfer, error) {
	query := `SELECT ` + headerColumns + ` FROM transfers WHERE company_id = $1 AND id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	t, err := scanHeader(q.QueryRow(ctx, query, companyID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transfer{}, ErrNotFound
	}
	if err != nil {
		return Transfer{}, err
	}
	if t.Lines, err = loadLines(ctx, q, t.ID); err != nil {
		return Transfer{}, err
	}
	return t, nil
}

func scanHeader(row pgx.Row) (Transfer, error) {
	var (
		t      Transfer
		status string
		reason *string
	)
	err := row.Scan(&t.ID, &t.CompanyID, &t.Number, &status, &t.SourceWarehouseID, &t.DestinationWarehouseID,
		&t.SourceBranchID, &t.DestinationBranchID, &t.TransferDate, &t.ExpectedArrivalDate, &t.ReceivedAt, &t.Notes,
		&reason, &t.CreatedBy, &t.ApprovedBy, &t.ReceivedBy, &t.RejectedBy, &t.RejectedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, err
		}
		return Transfer{}, fmt.Errorf("transfer: scan: %w", err)
	}
	if t.Status, err = ParseStatus(status); err != nil {
		return Transfer{}, err
	}
	if reason != nil {
		t.RejectionReason = *reason
	}
	return t, nil
}

func loadLines(ctx context.Context, q db.Querier, transferID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, transfer_id, line_no, product_id, qty_requested, qty_sent, qty_received, note
FROM transfer_lines WHERE transfer_id = $1 ORDER BY line_no`, transferID)
	if err != nil {
		return nil, fmt.Errorf("transfer: load lines: %w", err)
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var (
			l                         Line
			requested, sent, received pgtype.Numeric
		)
		if err := rows.Scan(&l.ID, &l.TransferID, &l.LineNo, &l.ProductID, &requested, &sent, &received, &l.Note); err != nil {
			return nil, fmt.Errorf("transfer: scan line: %w", err)
		}
		l.QtyRequested = db.FromNumeric(requested)
		l.QtySent = db.FromNullableNumeric(sent)
		l.QtyReceived = db.FromNullableNumeric(received)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
