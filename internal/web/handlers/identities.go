package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/veritime/facegate/internal/store"
)

// IdentitiesHandler handles enrollment roster endpoints.
type IdentitiesHandler struct {
	identities store.IdentityStore
	templates  store.TemplateStore
}

// NewIdentitiesHandler creates a new identities handler.
func NewIdentitiesHandler(identities store.IdentityStore, templates store.TemplateStore) *IdentitiesHandler {
	return &IdentitiesHandler{identities: identities, templates: templates}
}

type identityView struct {
	ID             string    `json:"id"`
	DisplayName    string    `json:"display_name"`
	NormalizedName string    `json:"normalized_name"`
	CreatedAt      time.Time `json:"created_at"`
}

func toIdentityView(i *store.Identity) identityView {
	return identityView{
		ID:             i.ID,
		DisplayName:    i.DisplayName,
		NormalizedName: i.NormalizedName,
		CreatedAt:      i.CreatedAt,
	}
}

// Create handles POST /identities. An omitted ID gets a generated one.
func (h *IdentitiesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.DisplayName == "" {
		respondError(w, http.StatusBadRequest, "display_name is required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	identity := &store.Identity{
		ID:             req.ID,
		DisplayName:    req.DisplayName,
		NormalizedName: store.NormalizeName(req.DisplayName),
		CreatedAt:      time.Now(),
	}
	if err := h.identities.Upsert(r.Context(), identity); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to save identity")
		return
	}

	respondJSON(w, http.StatusCreated, toIdentityView(identity))
}

// List handles GET /identities.
func (h *IdentitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	identities, err := h.identities.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list identities")
		return
	}

	views := make([]identityView, 0, len(identities))
	for i := range identities {
		views = append(views, toIdentityView(&identities[i]))
	}
	respondJSON(w, http.StatusOK, map[string]any{"identities": views})
}

// Get handles GET /identities/{id}.
func (h *IdentitiesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	identity, err := h.identities.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "identity not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load identity")
		return
	}

	respondJSON(w, http.StatusOK, toIdentityView(identity))
}

// Delete handles DELETE /identities/{id}. Identities with templates or
// attendance history cannot be removed; retire their templates instead.
func (h *IdentitiesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := h.identities.Delete(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "identity not found")
	case errors.Is(err, store.ErrIdentityReferenced):
		respondError(w, http.StatusConflict, "identity still has templates or attendance records")
	case err != nil:
		respondError(w, http.StatusInternalServerError, "failed to delete identity")
	default:
		respondJSON(w, http.StatusOK, map[string]string{"deleted": id})
	}
}
