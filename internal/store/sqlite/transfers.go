package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/stocktransfer/internal/inventory"
	"github.com/odyssey-erp/stocktransfer/internal/transfer"
)

// TransferRepository persists transfers in SQLite.
type TransferRepository struct {
	db *sql.DB
}

// NewTransferRepository constructs a TransferRepository.
func NewTransferRepository(db *sql.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

// WithTx runs fn inside a transaction. The single connection serialises
// writers, which stands in for row locks.
func (r *TransferRepository) WithTx(ctx context.Context, fn func(context.Context, transfer.TxRepository) error) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		return fn(ctx, &transferTx{tx: tx})
	})
}

// Get loads a transfer with its lines.
func (r *TransferRepository) Get(ctx context.Context, companyID, id int64) (transfer.Transfer, error) {
	return getTransfer(ctx, r.db, companyID, id)
}

// List returns a page of transfers, newest first, and the total match count.
func (r *TransferRepository) List(ctx context.Context, filter transfer.ListFilter) ([]transfer.Transfer, int, error) {
	where := []string{"company_id = ?"}
	args := []any{filter.CompanyID}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.WarehouseID > 0 {
		where = append(where, "(source_warehouse_id = ? OR destination_warehouse_id = ?)")
		args = append(args, filter.WarehouseID, filter.WarehouseID)
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transfers WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting transfers: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+headerColumns+` FROM transfers WHERE `+clause+` ORDER BY id DESC LIMIT ? OFFSET ?`,
		append(args, filter.Limit, filter.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing transfers: %w", err)
	}
	var items []transfer.Transfer
	for rows.Next() {
		t, err := scanHeader(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, 0, err
	}
	rows.Close()

	for i := range items {
		if items[i].Lines, err = loadLines(ctx, r.db, items[i].ID); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

// LedgerEntries lists ledger entries referencing the transfer.
func (r *TransferRepository) LedgerEntries(ctx context.Context, transferID int64) ([]inventory.Entry, error) {
	return listEntries(ctx, r.db, inventory.EntryFilter{RefModule: inventory.RefModuleTransfer, RefID: transferID})
}

type transferTx struct {
	tx *sql.Tx
}

func (t *transferTx) GetForUpdate(ctx context.Context, companyID, id int64) (transfer.Transfer, error) {
	return getTransfer(ctx, t.tx, companyID, id)
}

func (t *transferTx) NextNumber(ctx context.Context, companyID int64, day time.Time) (string, error) {
	var seq int
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO transfer_number_seq (company_id, day, last_value) VALUES (?, ?, 1)
		 ON CONFLICT (company_id, day) DO UPDATE SET last_value = last_value + 1
		 RETURNING last_value`,
		companyID, day.UTC().Format(dayLayout),
	).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("allocating transfer number: %w", err)
	}
	return transfer.FormatNumber(day, seq), nil
}

func (t *transferTx) Insert(ctx context.Context, tr *transfer.Transfer) error {
	var expected sql.NullString
	if tr.ExpectedArrivalDate != nil {
		expected = sql.NullString{String: tr.ExpectedArrivalDate.UTC().Format(dayLayout), Valid: true}
	}
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO transfers (company_id, number, status, source_warehouse_id, destination_warehouse_id, source_branch_id,
		 destination_branch_id, transfer_date, expected_arrival_date, notes, created_by, approved_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.CompanyID, tr.Number, string(tr.Status), tr.SourceWarehouseID, tr.DestinationWarehouseID, tr.SourceBranchID,
		tr.DestinationBranchID, tr.TransferDate.UTC().Format(dayLayout), expected, tr.Notes, tr.CreatedBy,
		nullInt(tr.ApprovedBy), formatTime(tr.CreatedAt), formatTime(tr.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting transfer: %w", err)
	}
	if tr.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("inserting transfer: %w", err)
	}
	for i := range tr.Lines {
		l := &tr.Lines[i]
		l.TransferID = tr.ID
		res, err := t.tx.ExecContext(ctx,
			`INSERT INTO transfer_lines (transfer_id, line_no, product_id, qty_requested, note) VALUES (?, ?, ?, ?, ?)`,
			tr.ID, l.LineNo, l.ProductID, l.QtyRequested.String(), l.Note,
		)
		if err != nil {
			return fmt.Errorf("inserting line %d: %w", l.LineNo, err)
		}
		if l.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("inserting line %d: %w", l.LineNo, err)
		}
	}
	return nil
}

func (t *transferTx) Update(ctx context.Context, tr *transfer.Transfer) error {
	var reason sql.NullString
	if tr.RejectionReason != "" {
		reason = sql.NullString{String: tr.RejectionReason, Valid: true}
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE transfers SET status = ?, received_at = ?, rejection_reason = ?, approved_by = ?, received_by = ?,
		 rejected_by = ?, rejected_at = ?, updated_at = ? WHERE id = ?`,
		string(tr.Status), formatNullTime(tr.ReceivedAt), reason, nullInt(tr.ApprovedBy), nullInt(tr.ReceivedBy),
		nullInt(tr.RejectedBy), formatNullTime(tr.RejectedAt), formatTime(tr.UpdatedAt), tr.ID,
	)
	if err != nil {
		return fmt.Errorf("updating transfer: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return transfer.ErrNotFound
	}
	for _, l := range tr.Lines {
		_, err := t.tx.ExecContext(ctx,
			`UPDATE transfer_lines SET qty_sent = ?, qty_received = ? WHERE id = ?`,
			formatNullDecimal(l.QtySent), formatNullDecimal(l.QtyReceived), l.ID,
		)
		if err != nil {
			return fmt.Errorf("updating line %d: %w", l.LineNo, err)
		}
	}
	return nil
}

func (t *transferTx) Delete(ctx context.Context, id int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM transfers WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting transfer: %w", err)
	}
	return nil
}

func (t *transferTx) Ledger() inventory.Ledger {
	return &ledger{q: t.tx}
}

const headerColumns = `id, company_id, number, status, source_warehouse_id, destination_warehouse_id, source_branch_id,
	destination_branch_id, transfer_date, expected_arrival_date, received_at, notes, rejection_reason, created_by,
	approved_by, received_by, rejected_by, rejected_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func getTransfer(ctx context.Context, q querier, companyID, id int64) (transfer.Transfer, error) {
	t, err := scanHeader(q.QueryRowContext(ctx,
		`SELECT `+headerColumns+` FROM transfers WHERE company_id = ? AND id = ?`, companyID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return transfer.Transfer{}, transfer.ErrNotFound
	}
	if err != nil {
		return transfer.Transfer{}, err
	}
	if t.Lines, err = loadLines(ctx, q, t.ID); err != nil {
		return transfer.Transfer{}, err
	}
	return t, nil
}

func scanHeader(row scanner) (transfer.Transfer, error) {
	var (
		t                                  transfer.Transfer
		status, day, createdAt, updatedAt  string
		expected, receivedAt, rejectedAt   sql.NullString
		reason                             sql.NullString
		approvedBy, receivedBy, rejectedBy sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.CompanyID, &t.Number, &status, &t.SourceWarehouseID, &t.DestinationWarehouseID,
		&t.SourceBranchID, &t.DestinationBranchID, &day, &expected, &receivedAt, &t.Notes, &reason, &t.CreatedBy,
		&approvedBy, &receivedBy, &rejectedBy, &rejectedAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return transfer.Transfer{}, err
	}
	if err != nil {
		return transfer.Transfer{}, fmt.Errorf("scanning transfer: %w", err)
	}
	if t.Status, err = transfer.ParseStatus(status); err != nil {
		return transfer.Transfer{}, err
	}
	if t.TransferDate, err = time.Parse(dayLayout, day); err != nil {
		return transfer.Transfer{}, fmt.Errorf("parsing transfer date: %w", err)
	}
	if t.ExpectedArrivalDate, err = parseNullTime(expected, dayLayout); err != nil {
		return transfer.Transfer{}, err
	}
	if t.ReceivedAt, err = parseNullTime(receivedAt, timeLayout); err != nil {
		return transfer.Transfer{}, err
	}
	if t.RejectedAt, err = parseNullTime(rejectedAt, timeLayout); err != nil {
		return transfer.Transfer{}, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return transfer.Transfer{}, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return transfer.Transfer{}, err
	}
	t.RejectionReason = reason.String
	t.ApprovedBy = intPtr(approvedBy)
	t.ReceivedBy = intPtr(receivedBy)
	t.RejectedBy = intPtr(rejectedBy)
	return t, nil
}

func loadLines(ctx context.Context, q querier, transferID int64) ([]transfer.Line, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, transfer_id, line_no, product_id, qty_requested, qty_sent, qty_received, note
		 FROM transfer_lines WHERE transfer_id = ? ORDER BY line_no`, transferID)
	if err != nil {
		return nil, fmt.Errorf("loading lines: %w", err)
	}
	defer rows.Close()

	var lines []transfer.Line
	for rows.Next() {
		var (
			l              transfer.Line
			requested      string
			sent, received sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.TransferID, &l.LineNo, &l.ProductID, &requested, &sent, &received, &l.Note); err != nil {
			return nil, fmt.Errorf("scanning line: %w", err)
		}
		if l.QtyRequested, err = parseDecimal(requested); err != nil {
			return nil, err
		}
		if l.QtySent, err = parseNullDecimal(sent); err != nil {
			return nil, err
		}
		if l.QtyReceived, err = parseNullDecimal(received); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
