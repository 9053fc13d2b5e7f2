package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/veritime/facegate/internal/attendance"
	"github.com/veritime/facegate/internal/store"
)

// AttendanceHandler handles attendance record and report endpoints.
type AttendanceHandler struct {
	records store.AttendanceStore
	tracker *attendance.Tracker
}

// NewAttendanceHandler creates a new attendance handler.
func NewAttendanceHandler(records store.AttendanceStore, tracker *attendance.Tracker) *AttendanceHandler {
	return &AttendanceHandler{records: records, tracker: tracker}
}

type attendanceView struct {
	ID         string     `json:"id"`
	IdentityID string     `json:"identity_id"`
	Day        string     `json:"day"`
	CheckIn    time.Time  `json:"check_in"`
	CheckOut   *time.Time `json:"check_out,omitempty"`
	Status     string     `json:"status"`
	DeviceID   string     `json:"device_id,omitempty"`
	Location   string     `json:"location,omitempty"`
}

func toAttendanceView(rec *store.AttendanceRecord) attendanceView {
	return attendanceView{
		ID:         rec.ID,
		IdentityID: rec.IdentityID,
		Day:        rec.Day,
		CheckIn:    rec.CheckIn,
		CheckOut:   rec.CheckOut,
		Status:     string(rec.Status),
		DeviceID:   rec.DeviceID,
		Location:   rec.Location,
	}
}

// parseDayRange reads from/to query parameters, defaulting to the
// current calendar month in the tracker's timezone.
func (h *AttendanceHandler) parseDayRange(r *http.Request) (string, string, bool) {
	loc := h.tracker.Location()
	now := time.Now().In(loc)
	from := store.DayKey(time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc), loc)
	to := store.DayKey(now, loc)

	if s := r.URL.Query().Get("from"); s != "" {
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return "", "", false
		}
		from = s
	}
	if s := r.URL.Query().Get("to"); s != "" {
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return "", "", false
		}
		to = s
	}
	return from, to, true
}

// List handles GET /identities/{id}/attendance.
func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	identityID := chi.URLParam(r, "id")

	from, to, ok := h.parseDayRange(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "from/to must be formatted as YYYY-MM-DD")
		return
	}

	records, err := h.records.ListRange(r.Context(), identityID, from, to)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list attendance records")
		return
	}

	views := make([]attendanceView, 0, len(records))
	for i := range records {
		views = append(views, toAttendanceView(&records[i]))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"from":    from,
		"to":      to,
		"records": views,
	})
}

// Stats handles GET /identities/{id}/attendance/stats.
func (h *AttendanceHandler) Stats(w http.ResponseWriter, r *http.Request) {
	identityID := chi.URLParam(r, "id")

	now := time.Now().In(h.tracker.Location())
	year := queryInt(r, "year", now.Year())
	month := queryInt(r, "month", int(now.Month()))
	if month < 1 || month > 12 {
		respondError(w, http.StatusBadRequest, "month must be between 1 and 12")
		return
	}

	stats, err := h.tracker.MonthlyReport(r.Context(), identityID, year, month)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to compute attendance stats")
		return
	}

	respondJSON(w, http.StatusOK, stats)
}
