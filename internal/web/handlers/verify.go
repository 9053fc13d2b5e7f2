package handlers

import (
	"io"
	"log"
	"net/http"

	"github.com/veritime/facegate/internal/constants"
	"github.com/veritime/facegate/internal/store"
	"github.com/veritime/facegate/internal/verify"
)

// VerifyHandler handles the verification endpoint capture devices call.
type VerifyHandler struct {
	service *verify.Service
}

// NewVerifyHandler creates a new verify handler.
func NewVerifyHandler(service *verify.Service) *VerifyHandler {
	return &VerifyHandler{service: service}
}

// readCaptureImage extracts the uploaded frame from the multipart form.
func readCaptureImage(r *http.Request) ([]byte, string) {
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		return nil, "failed to parse multipart form"
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		return nil, "image file is required"
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, constants.MaxUploadSize))
	if err != nil {
		return nil, "failed to read image"
	}
	if len(data) == 0 {
		return nil, "image file is empty"
	}
	return data, ""
}

// Verify handles POST /verify. The request is a multipart form with the
// captured frame plus device metadata; the response always carries a
// status and, for anything but an acceptance, a reason code.
func (h *VerifyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	image, errMsg := readCaptureImage(r)
	if errMsg != "" {
		respondError(w, http.StatusBadRequest, errMsg)
		return
	}

	deviceID := r.FormValue("device_id")
	if deviceID == "" {
		respondError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	req := verify.Request{
		Image:        image,
		DeviceID:     deviceID,
		Location:     r.FormValue("location"),
		IdentityHint: r.FormValue("identity_hint"),
		Kind:         store.EventKind(r.FormValue("kind")),
	}

	outcome, err := h.service.Verify(r.Context(), req)
	if err != nil {
		// The attempt could not be decided and audited.
		log.Printf("verification failed for device %s: %v", sanitizeForLog(deviceID), err)
		respondError(w, http.StatusServiceUnavailable, "verification unavailable")
		return
	}

	status := http.StatusOK
	if outcome.Status == store.OutcomeFailed {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, outcome)
}
