package handlers

import (
	"net/http"

	"github.com/veritime/facegate/internal/store"
)

// StatsHandler handles the service status endpoint.
type StatsHandler struct {
	identities   store.IdentityStore
	templates    store.TemplateStore
	modelVersion string
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(identities store.IdentityStore, templates store.TemplateStore, modelVersion string) *StatsHandler {
	return &StatsHandler{identities: identities, templates: templates, modelVersion: modelVersion}
}

// Get handles GET /stats with enrollment counts and the active model.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	identities, err := h.identities.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load identities")
		return
	}

	active, err := h.templates.CountActive(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count templates")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"identities":       len(identities),
		"active_templates": active,
		"model_version":    h.modelVersion,
	})
}
