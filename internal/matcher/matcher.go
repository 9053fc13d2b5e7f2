// Package matcher ranks enrolled identities against a probe embedding and
// applies the acceptance threshold and ambiguity margin.
package matcher

import (
	"context"
	"fmt"
	"sort"

	"github.com/veritime/facegate/internal/config"
	"github.com/veritime/facegate/internal/store"
)

// Candidate is one ranked identity with its aggregated similarity score.
type Candidate struct {
	IdentityID     string
	Score          float64 // aggregated cosine similarity, higher is better
	BestTemplateID string
	TemplateCount  int
}

// Result is the immutable outcome of matching one probe.
type Result struct {
	Candidates []Candidate // ranked descending by score
	Threshold  float64
	Margin     float64
	Accepted   bool
	Reason     store.Reason // set when not accepted
}

// Top returns the best candidate, or nil for an empty ranking.
func (r *Result) Top() *Candidate {
	if len(r.Candidates) == 0 {
		return nil
	}
	return &r.Candidates[0]
}

// Matcher scores probes against active templates. Comparison uses cosine
// similarity throughout; templates from a different model version than the
// probe are excluded rather than silently compared.
type Matcher struct {
	cfg       config.MatchConfig
	templates store.TemplateStore
	index     *store.TemplateIndex // optional ANN prefilter, may be nil
}

// New creates a matcher. The index is optional; when present and populated
// it pre-filters candidates before exact scoring.
func New(cfg config.MatchConfig, templates store.TemplateStore, index *store.TemplateIndex) *Matcher {
	return &Matcher{cfg: cfg, templates: templates, index: index}
}

// Match ranks the whole enrolled population against the probe (1:N).
// The top candidate is accepted only when its score clears the threshold
// AND its lead over the runner-up exceeds the margin. A top-two gap inside
// the margin is rejected as ambiguous even above the threshold.
func (m *Matcher) Match(ctx context.Context, probe []float32, modelVersion string) (*Result, error) {
	templates, err := m.candidateTemplates(ctx, probe)
	if err != nil {
		return nil, err
	}

	candidates := m.rank(templates, probe, modelVersion)
	result := &Result{
		Candidates: candidates,
		Threshold:  m.cfg.Threshold,
		Margin:     m.cfg.Margin,
	}

	if len(candidates) == 0 {
		result.Reason = store.ReasonNoEnrolledIdentities
		return result, nil
	}

	top := candidates[0]
	if top.Score < m.cfg.Threshold {
		result.Reason = store.ReasonNoMatch
		return result, nil
	}

	// Ambiguity guard: a raw threshold pass is not enough when the
	// runner-up is close. This is the primary anti-false-accept device.
	if len(candidates) > 1 && top.Score-candidates[1].Score < m.cfg.Margin {
		result.Reason = store.ReasonAmbiguous
		return result, nil
	}

	result.Accepted = true
	return result, nil
}

// VerifyIdentity scores the probe against a single claimed identity (1:1).
// The ambiguity margin does not apply to a population of one; the
// threshold does.
func (m *Matcher) VerifyIdentity(ctx context.Context, identityID string, probe []float32, modelVersion string) (*Result, error) {
	templates, err := m.templates.ListActive(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("list active templates: %w", err)
	}

	candidates := m.rank(templates, probe, modelVersion)
	result := &Result{
		Candidates: candidates,
		Threshold:  m.cfg.Threshold,
		Margin:     m.cfg.Margin,
	}

	if len(candidates) == 0 {
		result.Reason = store.ReasonNoEnrolledIdentities
		return result, nil
	}
	if candidates[0].Score < m.cfg.Threshold {
		result.Reason = store.ReasonNoMatch
		return result, nil
	}

	result.Accepted = true
	return result, nil
}

// candidateTemplates returns the templates to score: the ANN prefilter
// result when the index is usable, the full active population otherwise.
func (m *Matcher) candidateTemplates(ctx context.Context, probe []float32) ([]store.Template, error) {
	if m.index != nil && m.cfg.CandidateLimit > 0 && m.index.Len() > 0 {
		nearest, _, err := m.index.Search(probe, m.cfg.CandidateLimit)
		if err == nil {
			templates := make([]store.Template, 0, len(nearest))
			for _, tpl := range nearest {
				templates = append(templates, *tpl)
			}
			return templates, nil
		}
		// Fall through to the exact scan when the index fails.
	}

	templates, err := m.templates.AllActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active templates: %w", err)
	}
	return templates, nil
}

// rank aggregates per-identity scores and sorts identities descending.
func (m *Matcher) rank(templates []store.Template, probe []float32, modelVersion string) []Candidate {
	type agg struct {
		best   float64
		bestID string
		sum    float64
		count  int
	}
	byIdentity := make(map[string]*agg)

	for i := range templates {
		tpl := &templates[i]
		if tpl.Retired || len(tpl.Embedding) == 0 {
			continue
		}
		// Embeddings from different model versions are not comparable.
		if modelVersion != "" && tpl.ModelVersion != modelVersion {
			continue
		}

		score := store.CosineSimilarity(probe, tpl.Embedding)
		a := byIdentity[tpl.IdentityID]
		if a == nil {
			a = &agg{best: -1}
			byIdentity[tpl.IdentityID] = a
		}
		if score > a.best {
			a.best = score
			a.bestID = tpl.ID
		}
		a.sum += score
		a.count++
	}

	candidates := make([]Candidate, 0, len(byIdentity))
	for identityID, a := range byIdentity {
		score := a.best
		if m.cfg.Aggregation == "mean" {
			score = a.sum / float64(a.count)
		}
		candidates = append(candidates, Candidate{
			IdentityID:     identityID,
			Score:          score,
			BestTemplateID: a.bestID,
			TemplateCount:  a.count,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		// Deterministic order for equal scores.
		return candidates[i].IdentityID < candidates[j].IdentityID
	})
	return candidates
}
