package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/veritime/facegate/internal/store"
)

// AttendanceRepository provides PostgreSQL-backed attendance storage.
// The accepting mutations run the record change and the audit insert in
// one transaction so neither can land without the other.
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new PostgreSQL attendance repository.
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

const attendanceColumns = "id, identity_id, day, check_in, check_out, status, device_id, location, created_at, updated_at"

// GetForDay returns the record for (identity, day).
func (r *AttendanceRepository) GetForDay(ctx context.Context, identityID, day string) (*store.AttendanceRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM attendance_records
		WHERE identity_id = $1 AND day = $2
	`, attendanceColumns)

	record, err := scanAttendanceRecord(r.pool.QueryRow(ctx, query, identityID, day))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query attendance record: %w", err)
	}
	return record, nil
}

// CreateOpen inserts a pending-checkout record together with its audit
// event. The unique index on (identity_id, day) turns a concurrent
// creation race into ErrDuplicateDay.
func (r *AttendanceRepository) CreateOpen(ctx context.Context, record *store.AttendanceRecord, event *store.AuditEvent) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO attendance_records (id, identity_id, day, check_in, check_out, status, device_id, location, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULL, $5, $6, $7, $8, $9)
	`,
		record.ID, record.IdentityID, record.Day, record.CheckIn,
		record.Status, record.DeviceID, record.Location,
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateDay
		}
		return fmt.Errorf("insert attendance record: %w", err)
	}

	if err := insertAuditEvent(ctx, tx, event); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit attendance creation: %w", err)
	}
	return nil
}

// CloseOut completes a pending-checkout record together with its audit
// event. The update is conditional on the current status, so a concurrent
// close loses with ErrNotOpen instead of overwriting the checkout time.
func (r *AttendanceRepository) CloseOut(ctx context.Context, recordID string, checkOut time.Time, event *store.AuditEvent) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE attendance_records
		SET check_out = $1, status = $2, updated_at = $3
		WHERE id = $4 AND status = $5
	`, checkOut, store.StatusComplete, checkOut, recordID, store.StatusPendingCheckout)
	if err != nil {
		return fmt.Errorf("close attendance record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("close attendance rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrNotOpen
	}

	if err := insertAuditEvent(ctx, tx, event); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit attendance close: %w", err)
	}
	return nil
}

// ListRange returns records for an identity with day in [from, to].
func (r *AttendanceRepository) ListRange(ctx context.Context, identityID, from, to string) ([]store.AttendanceRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM attendance_records
		WHERE identity_id = $1 AND day >= $2 AND day <= $3
		ORDER BY day DESC
	`, attendanceColumns)

	rows, err := r.pool.Query(ctx, query, identityID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query attendance records: %w", err)
	}
	defer rows.Close()

	var records []store.AttendanceRecord
	for rows.Next() {
		record, err := scanAttendanceRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendance record: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance records: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttendanceRecord(row rowScanner) (*store.AttendanceRecord, error) {
	var record store.AttendanceRecord
	var checkOut sql.NullTime
	err := row.Scan(
		&record.ID,
		&record.IdentityID,
		&record.Day,
		&record.CheckIn,
		&checkOut,
		&record.Status,
		&record.DeviceID,
		&record.Location,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if checkOut.Valid {
		record.CheckOut = &checkOut.Time
	}
	return &record, nil
}
