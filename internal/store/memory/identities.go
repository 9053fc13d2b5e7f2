package memory

import (
	"context"
	"sort"

	"github.com/veritime/facegate/internal/store"
)

// Upsert creates or updates an identity.
func (s *Store) Upsert(ctx context.Context, identity *store.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *identity
	s.identities[identity.ID] = &cp
	return nil
}

// Get retrieves an identity by ID.
func (s *Store) Get(ctx context.Context, id string) (*store.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.identities[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *identity
	return &cp, nil
}

// List returns all identities ordered by display name.
func (s *Store) List(ctx context.Context) ([]store.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.Identity, 0, len(s.identities))
	for _, identity := range s.identities {
		out = append(out, *identity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}

// Delete removes an identity unless templates or attendance records still
// reference it.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.identities[id]; !ok {
		return store.ErrNotFound
	}
	if len(s.byIdentity[id]) > 0 {
		return store.ErrIdentityReferenced
	}
	for _, rec := range s.attendance {
		if rec.IdentityID == id {
			return store.ErrIdentityReferenced
		}
	}
	delete(s.identities, id)
	return nil
}
