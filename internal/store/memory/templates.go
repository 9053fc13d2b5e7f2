package memory

import (
	"context"
	"sort"

	"github.com/veritime/facegate/internal/store"
)

// Add stores a new template. Adds for the same identity are serialized.
func (s *Store) Add(ctx context.Context, template *store.Template) error {
	if s.AddError != nil {
		return s.AddError
	}

	lock := s.identityLock(template.IdentityID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *template
	cp.Embedding = append([]float32(nil), template.Embedding...)
	s.templates[template.ID] = &cp
	s.byIdentity[template.IdentityID] = append(s.byIdentity[template.IdentityID], template.ID)
	return nil
}

// ListActive returns the active templates for an identity.
func (s *Store) ListActive(ctx context.Context, identityID string) ([]store.Template, error) {
	return s.listTemplates(identityID, false)
}

// ListAll returns all templates for an identity, retired included.
func (s *Store) ListAll(ctx context.Context, identityID string) ([]store.Template, error) {
	return s.listTemplates(identityID, true)
}

func (s *Store) listTemplates(identityID string, includeRetired bool) ([]store.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Template
	for _, id := range s.byIdentity[identityID] {
		tpl := s.templates[id]
		if tpl == nil || (tpl.Retired && !includeRetired) {
			continue
		}
		out = append(out, *tpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Retire marks a template as retired.
func (s *Store) Retire(ctx context.Context, templateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tpl, ok := s.templates[templateID]
	if !ok {
		return store.ErrNotFound
	}
	tpl.Retired = true
	return nil
}

// AllActive returns every active template across the population.
func (s *Store) AllActive(ctx context.Context) ([]store.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Template
	for _, tpl := range s.templates {
		if tpl.Retired {
			continue
		}
		out = append(out, *tpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CountActive returns the number of active templates.
func (s *Store) CountActive(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, tpl := range s.templates {
		if !tpl.Retired {
			count++
		}
	}
	return count, nil
}
