package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// ErrIncompleteAuditLog rejects records missing action, entity or entity id.
var ErrIncompleteAuditLog = errors.New("audit log requires action/entity/entity_id")

// Validate checks required fields.
func (l AuditLog) Validate() error {
	if l.Action == "" || l.Entity == "" || l.EntityID == "" {
		return ErrIncompleteAuditLog
	}
	return nil
}

// MetaJSON encodes Meta for storage.
func (l AuditLog) MetaJSON() ([]byte, error) {
	if l.Meta == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(l.Meta)
}

// OccurredAt returns At, or now when unset.
func (l AuditLog) OccurredAt() time.Time {
	if l.At.IsZero() {
		return time.Now().UTC()
	}
	return l.At.UTC()
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if err := log.Validate(); err != nil {
		return err
	}
	meta, err := log.MetaJSON()
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		log.ActorID, log.Action, log.Entity, log.EntityID, meta, log.OccurredAt())
	return err
}
