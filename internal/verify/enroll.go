package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/veritime/facegate/internal/embedding"
	"github.com/veritime/facegate/internal/quality"
	"github.com/veritime/facegate/internal/store"
)

// Enroller turns captured images into stored templates. Enrollment runs
// the same gate and extraction stages as verification, so a template can
// only come from a capture that would also pass verification input checks.
type Enroller struct {
	gate      *quality.Gate
	provider  embedding.Provider
	templates store.TemplateStore
	index     *store.TemplateIndex // optional, kept in sync when present
}

// NewEnroller creates an enroller.
func NewEnroller(gate *quality.Gate, provider embedding.Provider, templates store.TemplateStore, index *store.TemplateIndex) *Enroller {
	return &Enroller{gate: gate, provider: provider, templates: templates, index: index}
}

// Enroll extracts an embedding from the image and stores it as a new
// active template for the identity.
func (e *Enroller) Enroll(ctx context.Context, identityID string, image []byte, capturedAt time.Time) (*store.Template, error) {
	accepted, err := e.gate.Evaluate(ctx, image)
	if err != nil {
		return nil, err
	}

	result, err := e.provider.Extract(ctx, accepted.Image)
	if err != nil {
		return nil, err
	}

	template := &store.Template{
		ID:           uuid.NewString(),
		IdentityID:   identityID,
		Embedding:    result.Embedding,
		Dim:          result.Dim,
		ModelVersion: result.ModelVersion,
		Quality:      accepted.DetScore,
		CapturedAt:   capturedAt,
		CreatedAt:    time.Now(),
	}

	if err := e.templates.Add(ctx, template); err != nil {
		return nil, fmt.Errorf("store template: %w", err)
	}

	if e.index != nil {
		if err := e.index.Add(template); err != nil {
			// The index is a cache over the store; a failed insert only
			// costs a rebuild, not correctness.
			return template, nil
		}
	}
	return template, nil
}

// Retire marks a template as retired and removes it from the index.
func (e *Enroller) Retire(ctx context.Context, templateID string) error {
	if err := e.templates.Retire(ctx, templateID); err != nil {
		return err
	}
	if e.index != nil {
		e.index.Remove(templateID)
	}
	return nil
}
