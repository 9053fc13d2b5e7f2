package memory

import (
	"context"

	"github.com/veritime/facegate/internal/store"
)

// Append stores an audit event.
func (s *Store) Append(ctx context.Context, event *store.AuditEvent) error {
	if s.AppendError != nil {
		return s.AppendError
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = append(s.audit, *event)
	return nil
}

// ListByIdentity returns the most recent events for an identity.
func (s *Store) ListByIdentity(ctx context.Context, identityID string, limit int) ([]store.AuditEvent, error) {
	return s.listFiltered(func(ev *store.AuditEvent) bool { return ev.IdentityID == identityID }, limit)
}

// ListByDevice returns the most recent events for a capture device.
func (s *Store) ListByDevice(ctx context.Context, deviceID string, limit int) ([]store.AuditEvent, error) {
	return s.listFiltered(func(ev *store.AuditEvent) bool { return ev.DeviceID == deviceID }, limit)
}

func (s *Store) listFiltered(match func(*store.AuditEvent) bool, limit int) ([]store.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.AuditEvent
	for i := len(s.audit) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if match(&s.audit[i]) {
			out = append(out, s.audit[i])
		}
	}
	return out, nil
}
