package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/veritime/facegate/internal/constants"
	"github.com/veritime/facegate/internal/store"
)

// AuditHandler handles audit trail listing endpoints.
type AuditHandler struct {
	audit store.AuditStore
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(audit store.AuditStore) *AuditHandler {
	return &AuditHandler{audit: audit}
}

type auditView struct {
	ID                 string    `json:"id"`
	IdentityID         string    `json:"identity_id,omitempty"`
	DeviceID           string    `json:"device_id"`
	Location           string    `json:"location,omitempty"`
	Kind               string    `json:"kind"`
	Outcome            string    `json:"outcome"`
	Reason             string    `json:"reason,omitempty"`
	Score              float64   `json:"score"`
	Confidence         float64   `json:"confidence"`
	Threshold          float64   `json:"threshold"`
	Margin             float64   `json:"margin"`
	ModelVersion       string    `json:"model_version,omitempty"`
	AttendanceRecordID string    `json:"attendance_record_id,omitempty"`
	AttemptedAt        time.Time `json:"attempted_at"`
}

func toAuditView(e *store.AuditEvent) auditView {
	return auditView{
		ID:                 e.ID,
		IdentityID:         e.IdentityID,
		DeviceID:           e.DeviceID,
		Location:           e.Location,
		Kind:               string(e.Kind),
		Outcome:            string(e.Outcome),
		Reason:             string(e.Reason),
		Score:              e.Score,
		Confidence:         e.Confidence,
		Threshold:          e.Threshold,
		Margin:             e.Margin,
		ModelVersion:       e.ModelVersion,
		AttendanceRecordID: e.AttendanceRecordID,
		AttemptedAt:        e.AttemptedAt,
	}
}

func auditLimit(r *http.Request) int {
	limit := queryInt(r, "limit", constants.DefaultAuditLimit)
	if limit < 1 {
		limit = constants.DefaultAuditLimit
	}
	if limit > constants.MaxAuditLimit {
		limit = constants.MaxAuditLimit
	}
	return limit
}

func (h *AuditHandler) respondEvents(w http.ResponseWriter, events []store.AuditEvent, err error) {
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list audit events")
		return
	}

	views := make([]auditView, 0, len(events))
	for i := range events {
		views = append(views, toAuditView(&events[i]))
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": views})
}

// ListByIdentity handles GET /identities/{id}/audit.
func (h *AuditHandler) ListByIdentity(w http.ResponseWriter, r *http.Request) {
	events, err := h.audit.ListByIdentity(r.Context(), chi.URLParam(r, "id"), auditLimit(r))
	h.respondEvents(w, events, err)
}

// ListByDevice handles GET /devices/{id}/audit.
func (h *AuditHandler) ListByDevice(w http.ResponseWriter, r *http.Request) {
	events, err := h.audit.ListByDevice(r.Context(), chi.URLParam(r, "id"), auditLimit(r))
	h.respondEvents(w, events, err)
}
