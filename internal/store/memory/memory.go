// Package memory provides in-memory implementations of the store
// interfaces, used by tests and the storage-less dev mode.
package memory

import (
	"sync"

	"github.com/veritime/facegate/internal/store"
)

// Store holds all in-memory state behind a single lock so that the
// attendance mutations and their audit evidence stay atomic.
type Store struct {
	mu sync.RWMutex

	identities map[string]*store.Identity
	templates  map[string]*store.Template         // template ID -> template
	byIdentity map[string][]string                // identity ID -> template IDs
	attendance map[string]*store.AttendanceRecord // identity|day -> record
	byRecordID map[string]*store.AttendanceRecord
	audit      []store.AuditEvent

	// addLocks serializes template adds per identity.
	addLocks sync.Map // identity ID -> *sync.Mutex

	// Error injection for tests.
	AddError    error
	AppendError error
	CreateError error
	CloseError  error
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		identities: make(map[string]*store.Identity),
		templates:  make(map[string]*store.Template),
		byIdentity: make(map[string][]string),
		attendance: make(map[string]*store.AttendanceRecord),
		byRecordID: make(map[string]*store.AttendanceRecord),
	}
}

func dayKey(identityID, day string) string {
	return identityID + "|" + day
}

func (s *Store) identityLock(identityID string) *sync.Mutex {
	v, _ := s.addLocks.LoadOrStore(identityID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// AuditEvents returns a copy of all appended audit events, oldest first.
func (s *Store) AuditEvents() []store.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.AuditEvent, len(s.audit))
	copy(out, s.audit)
	return out
}
