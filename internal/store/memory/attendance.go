package memory

import (
	"context"
	"sort"
	"time"

	"github.com/veritime/facegate/internal/store"
)

// GetForDay returns the attendance record for (identity, day).
func (s *Store) GetForDay(ctx context.Context, identityID, day string) (*store.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.attendance[dayKey(identityID, day)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// CreateOpen creates a pending-checkout record and appends the audit event
// under one lock, so neither can exist without the other.
func (s *Store) CreateOpen(ctx context.Context, record *store.AttendanceRecord, event *store.AuditEvent) error {
	if s.CreateError != nil {
		return s.CreateError
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := dayKey(record.IdentityID, record.Day)
	if _, exists := s.attendance[key]; exists {
		return store.ErrDuplicateDay
	}

	cp := *record
	s.attendance[key] = &cp
	s.byRecordID[record.ID] = &cp
	s.audit = append(s.audit, *event)
	return nil
}

// CloseOut closes a pending record and appends the audit event atomically.
func (s *Store) CloseOut(ctx context.Context, recordID string, checkOut time.Time, event *store.AuditEvent) error {
	if s.CloseError != nil {
		return s.CloseError
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byRecordID[recordID]
	if !ok {
		return store.ErrNotFound
	}
	if rec.Status != store.StatusPendingCheckout {
		return store.ErrNotOpen
	}

	out := checkOut
	rec.CheckOut = &out
	rec.Status = store.StatusComplete
	rec.UpdatedAt = checkOut
	s.audit = append(s.audit, *event)
	return nil
}

// ListRange returns records for an identity with day in [from, to].
func (s *Store) ListRange(ctx context.Context, identityID, from, to string) ([]store.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.AttendanceRecord
	for _, rec := range s.attendance {
		if rec.IdentityID != identityID {
			continue
		}
		if rec.Day < from || rec.Day > to {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day > out[j].Day })
	return out, nil
}
