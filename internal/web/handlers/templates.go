package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/veritime/facegate/internal/embedding"
	"github.com/veritime/facegate/internal/quality"
	"github.com/veritime/facegate/internal/store"
	"github.com/veritime/facegate/internal/verify"
)

// TemplatesHandler handles template enrollment and lifecycle endpoints.
type TemplatesHandler struct {
	enroller   *verify.Enroller
	identities store.IdentityStore
	templates  store.TemplateStore
}

// NewTemplatesHandler creates a new templates handler.
func NewTemplatesHandler(enroller *verify.Enroller, identities store.IdentityStore, templates store.TemplateStore) *TemplatesHandler {
	return &TemplatesHandler{enroller: enroller, identities: identities, templates: templates}
}

// templateView is the API shape of a template. The embedding itself
// never leaves the service.
type templateView struct {
	ID           string    `json:"id"`
	IdentityID   string    `json:"identity_id"`
	Dim          int       `json:"dim"`
	ModelVersion string    `json:"model_version"`
	Quality      float64   `json:"quality"`
	Retired      bool      `json:"retired"`
	CapturedAt   time.Time `json:"captured_at"`
	CreatedAt    time.Time `json:"created_at"`
}

func toTemplateView(t *store.Template) templateView {
	return templateView{
		ID:           t.ID,
		IdentityID:   t.IdentityID,
		Dim:          t.Dim,
		ModelVersion: t.ModelVersion,
		Quality:      t.Quality,
		Retired:      t.Retired,
		CapturedAt:   t.CapturedAt,
		CreatedAt:    t.CreatedAt,
	}
}

// Enroll handles POST /identities/{id}/templates. The enrollment image
// passes through the same quality gate as verification captures.
func (h *TemplatesHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	identityID := chi.URLParam(r, "id")

	if _, err := h.identities.Get(r.Context(), identityID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "identity not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load identity")
		return
	}

	image, errMsg := readCaptureImage(r)
	if errMsg != "" {
		respondError(w, http.StatusBadRequest, errMsg)
		return
	}

	template, err := h.enroller.Enroll(r.Context(), identityID, image, time.Now())
	if err != nil {
		var rejection *quality.Rejection
		if errors.As(err, &rejection) {
			respondJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error":  "image rejected",
				"reason": string(rejection.Reason),
			})
			return
		}
		var extraction *embedding.ExtractionError
		if errors.As(err, &extraction) && !extraction.Retryable() {
			respondError(w, http.StatusUnprocessableEntity, "embedding extraction rejected the image")
			return
		}
		log.Printf("enrollment failed for identity %s: %v", sanitizeForLog(identityID), err)
		respondError(w, http.StatusServiceUnavailable, "enrollment unavailable")
		return
	}

	respondJSON(w, http.StatusCreated, toTemplateView(template))
}

// List handles GET /identities/{id}/templates. Retired templates are
// included when ?all=true.
func (h *TemplatesHandler) List(w http.ResponseWriter, r *http.Request) {
	identityID := chi.URLParam(r, "id")

	var templates []store.Template
	var err error
	if r.URL.Query().Get("all") == "true" {
		templates, err = h.templates.ListAll(r.Context(), identityID)
	} else {
		templates, err = h.templates.ListActive(r.Context(), identityID)
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list templates")
		return
	}

	views := make([]templateView, 0, len(templates))
	for i := range templates {
		views = append(views, toTemplateView(&templates[i]))
	}
	respondJSON(w, http.StatusOK, map[string]any{"templates": views})
}

// Retire handles DELETE /templates/{id}. Templates are retired, never
// erased, so past audit events keep their reference.
func (h *TemplatesHandler) Retire(w http.ResponseWriter, r *http.Request) {
	templateID := chi.URLParam(r, "id")

	err := h.enroller.Retire(r.Context(), templateID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "template not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to retire template")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"retired": templateID})
}
