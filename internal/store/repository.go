package store

import (
	"context"
	"time"
)

// IdentityStore manages enrolled identities.
type IdentityStore interface {
	// Upsert creates or updates an identity.
	Upsert(ctx context.Context, identity *Identity) error
	// Get retrieves an identity by ID, returns ErrNotFound if missing.
	Get(ctx context.Context, id string) (*Identity, error)
	// List returns all identities ordered by display name.
	List(ctx context.Context) ([]Identity, error)
	// Delete removes an identity. Returns ErrIdentityReferenced while
	// templates or attendance records still point at it.
	Delete(ctx context.Context, id string) error
}

// TemplateStore manages enrolled face templates. Concurrent adds for the
// same identity are serialized; reads may observe a snapshot.
type TemplateStore interface {
	// Add stores a new template for an identity.
	Add(ctx context.Context, template *Template) error
	// ListActive returns the active (non-retired) templates for an identity.
	ListActive(ctx context.Context, identityID string) ([]Template, error)
	// ListAll returns all templates for an identity, retired included.
	ListAll(ctx context.Context, identityID string) ([]Template, error)
	// Retire marks a template as retired. Retired templates are excluded
	// from matching but kept for audit.
	Retire(ctx context.Context, templateID string) error
	// AllActive returns every active template across the population,
	// for full 1:N scans and index builds.
	AllActive(ctx context.Context) ([]Template, error)
	// CountActive returns the number of active templates.
	CountActive(ctx context.Context) (int, error)
}

// AttendanceStore manages attendance records. The accepting mutations take
// the audit event for the attempt and apply both atomically: a record is
// never created or closed without its audit evidence, and vice versa.
type AttendanceStore interface {
	// GetForDay returns the record for (identity, day), or ErrNotFound.
	GetForDay(ctx context.Context, identityID, day string) (*AttendanceRecord, error)
	// CreateOpen creates a pending-checkout record and appends the audit
	// event in one atomic step. Returns ErrDuplicateDay if a record for
	// (identity, day) already exists.
	CreateOpen(ctx context.Context, record *AttendanceRecord, event *AuditEvent) error
	// CloseOut sets the check-out timestamp and moves the record to
	// complete, appending the audit event atomically. The update is
	// conditional on the record still being pending-checkout; ErrNotOpen
	// is returned when a concurrent caller already closed it.
	CloseOut(ctx context.Context, recordID string, checkOut time.Time, event *AuditEvent) error
	// ListRange returns records for an identity with day in [from, to],
	// most recent first.
	ListRange(ctx context.Context, identityID, from, to string) ([]AttendanceRecord, error)
}

// AuditStore is the append-only sink for verification evidence.
type AuditStore interface {
	// Append stores an audit event. Events are immutable once written.
	Append(ctx context.Context, event *AuditEvent) error
	// ListByIdentity returns the most recent events for an identity.
	ListByIdentity(ctx context.Context, identityID string, limit int) ([]AuditEvent, error)
	// ListByDevice returns the most recent events for a capture device.
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]AuditEvent, error)
}
