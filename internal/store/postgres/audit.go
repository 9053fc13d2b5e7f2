package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/veritime/facegate/internal/store"
)

// AuditRepository provides PostgreSQL-backed audit event storage. Events
// are insert-only; there is no update or delete path.
type AuditRepository struct {
	pool *Pool
}

// NewAuditRepository creates a new PostgreSQL audit repository.
func NewAuditRepository(pool *Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

const auditInsert = `
	INSERT INTO audit_events (id, identity_id, device_id, location, kind, outcome, reason,
		score, confidence, threshold, margin, model_version, attendance_record_id, attempted_at, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAuditEvent(ctx context.Context, db execer, event *store.AuditEvent) error {
	_, err := db.ExecContext(ctx, auditInsert,
		event.ID,
		event.IdentityID,
		event.DeviceID,
		event.Location,
		event.Kind,
		event.Outcome,
		event.Reason,
		event.Score,
		event.Confidence,
		event.Threshold,
		event.Margin,
		event.ModelVersion,
		event.AttendanceRecordID,
		event.AttemptedAt,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Append stores an audit event.
func (r *AuditRepository) Append(ctx context.Context, event *store.AuditEvent) error {
	return insertAuditEvent(ctx, r.pool.DB(), event)
}

const auditColumns = `id, identity_id, device_id, location, kind, outcome, reason,
	score, confidence, threshold, margin, model_version, attendance_record_id, attempted_at, created_at`

// ListByIdentity returns the most recent events for an identity.
func (r *AuditRepository) ListByIdentity(ctx context.Context, identityID string, limit int) ([]store.AuditEvent, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM audit_events
		WHERE identity_id = $1
		ORDER BY attempted_at DESC
		LIMIT $2
	`, auditColumns)
	return r.list(ctx, query, identityID, limit)
}

// ListByDevice returns the most recent events for a capture device.
func (r *AuditRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]store.AuditEvent, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM audit_events
		WHERE device_id = $1
		ORDER BY attempted_at DESC
		LIMIT $2
	`, auditColumns)
	return r.list(ctx, query, deviceID, limit)
}

func (r *AuditRepository) list(ctx context.Context, query string, args ...any) ([]store.AuditEvent, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []store.AuditEvent
	for rows.Next() {
		var e store.AuditEvent
		if err := rows.Scan(
			&e.ID,
			&e.IdentityID,
			&e.DeviceID,
			&e.Location,
			&e.Kind,
			&e.Outcome,
			&e.Reason,
			&e.Score,
			&e.Confidence,
			&e.Threshold,
			&e.Margin,
			&e.ModelVersion,
			&e.AttendanceRecordID,
			&e.AttemptedAt,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
