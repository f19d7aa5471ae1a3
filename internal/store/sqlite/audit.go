package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/odyssey-erp/stocktransfer/internal/shared"
)

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	db *sql.DB
}

// NewAuditLogger constructs an AuditLogger.
func NewAuditLogger(db *sql.DB) *AuditLogger {
	return &AuditLogger{db: db}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log shared.AuditLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	meta, err := log.MetaJSON()
	if err != nil {
		return fmt.Errorf("encoding audit meta: %w", err)
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES (?, ?, ?, ?, ?, ?)`,
		log.ActorID, log.Action, log.Entity, log.EntityID, string(meta), formatTime(log.OccurredAt()),
	)
	if err != nil {
		return fmt.Errorf("recording audit log: %w", err)
	}
	return nil
}

// CountAudit returns how many audit records reference the entity.
func (l *AuditLogger) CountAudit(ctx context.Context, entity, entityID string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs WHERE entity = ? AND entity_id = ?`, entity, entityID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting audit logs: %w", err)
	}
	return n, nil
}
