package store

import (
	"errors"
	"sync"

	"github.com/coder/hnsw"
)

// hnswMaxNeighbors is the M parameter of the HNSW graph.
const hnswMaxNeighbors = 16

// TemplateIndex is an in-memory HNSW index over active template embeddings.
// It is used by the matcher to pre-filter candidates before exact scoring
// when the enrolled population is large.
type TemplateIndex struct {
	graph        *hnsw.Graph[string]
	idToTemplate map[string]*Template
	mu           sync.RWMutex
}

// NewTemplateIndex creates a new empty template index.
func NewTemplateIndex() *TemplateIndex {
	return &TemplateIndex{
		idToTemplate: make(map[string]*Template),
	}
}

// Build replaces the index contents with the given active templates.
func (ix *TemplateIndex) Build(templates []Template) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if len(templates) == 0 {
		ix.graph = nil
		ix.idToTemplate = make(map[string]*Template)
		return nil
	}

	g := hnsw.NewGraph[string]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.CosineDistance

	ix.idToTemplate = make(map[string]*Template, len(templates))

	for i := range templates {
		tpl := &templates[i]
		if len(tpl.Embedding) == 0 || tpl.Retired {
			continue
		}
		g.Add(hnsw.MakeNode(tpl.ID, tpl.Embedding))
		ix.idToTemplate[tpl.ID] = tpl
	}

	ix.graph = g
	return nil
}

// Add inserts a single template into the index.
func (ix *TemplateIndex) Add(template *Template) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if len(template.Embedding) == 0 {
		return errors.New("template has no embedding")
	}
	if ix.graph == nil {
		g := hnsw.NewGraph[string]()
		g.M = hnswMaxNeighbors
		g.Ml = 1.0 / float64(hnswMaxNeighbors)
		g.Distance = hnsw.CosineDistance
		ix.graph = g
	}
	ix.graph.Add(hnsw.MakeNode(template.ID, template.Embedding))
	ix.idToTemplate[template.ID] = template
	return nil
}

// Remove deletes a template from the index (after retirement).
func (ix *TemplateIndex) Remove(templateID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.graph != nil {
		ix.graph.Delete(templateID)
	}
	delete(ix.idToTemplate, templateID)
}

// Search finds the k nearest templates to the probe embedding.
// Returns the matching templates and their cosine distances to the probe.
func (ix *TemplateIndex) Search(probe []float32, k int) ([]*Template, []float64, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.graph == nil {
		return nil, nil, errors.New("index not initialized")
	}

	neighbors := ix.graph.Search(probe, k)

	templates := make([]*Template, 0, len(neighbors))
	distances := make([]float64, 0, len(neighbors))
	for _, n := range neighbors {
		tpl := ix.idToTemplate[n.Key]
		if tpl == nil {
			continue
		}
		templates = append(templates, tpl)
		// Recompute the exact distance from the node value so scoring
		// stays deterministic regardless of graph internals.
		distances = append(distances, CosineDistance(probe, n.Value))
	}

	return templates, distances, nil
}

// Len returns the number of templates currently indexed.
func (ix *TemplateIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.idToTemplate)
}
