package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/veritime/facegate/internal/attendance"
	"github.com/veritime/facegate/internal/audit"
	"github.com/veritime/facegate/internal/config"
	"github.com/veritime/facegate/internal/embedding"
	"github.com/veritime/facegate/internal/matcher"
	"github.com/veritime/facegate/internal/quality"
	"github.com/veritime/facegate/internal/store"
	"github.com/veritime/facegate/internal/store/memory"
	"github.com/veritime/facegate/internal/verify"
)

const modelVersion = "arcface-r100@1"

type fakeDetector struct {
	detection quality.Detection
}

func (f *fakeDetector) DetectFaces(ctx context.Context, imageData []byte) (*quality.Detection, error) {
	d := f.detection
	return &d, nil
}

type fakeProvider struct {
	embedding []float32
	err       error
}

func (f *fakeProvider) Extract(ctx context.Context, imageData []byte) (*embedding.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &embedding.Result{
		Embedding:    f.embedding,
		Dim:          len(f.embedding),
		ModelVersion: modelVersion,
	}, nil
}

func (f *fakeProvider) ModelVersion() string { return modelVersion }

func unitAt(sim float64) []float32 {
	return []float32{float32(sim), float32(math.Sqrt(1 - sim*sim))}
}

func faceJPEG(t *testing.T) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(3))
	img := image.NewGray(image.Rect(0, 0, 320, 240))
	for y := 0; y < 240; y++ {
		for x := 0; x < 320; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(rng.Intn(256))})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

func testConfig() *config.Config {
	return &config.Config{
		Match: config.MatchConfig{Threshold: 0.6, Margin: 0.05, Aggregation: "best"},
		Quality: config.QualityConfig{
			MinWidth:     160,
			MinHeight:    160,
			MinSharpness: 18.0,
			MinDetScore:  0.7,
			MinLiveness:  0.5,
			MaxEdge:      800,
		},
		Embedding: config.EmbeddingConfig{
			ModelVersion: modelVersion,
			Dim:          2,
			MaxRetries:   1,
			RetryBackoff: time.Millisecond,
		},
		Attendance: config.AttendanceConfig{
			DedupInterval: 5 * time.Minute,
			Timezone:      "UTC",
			Windows: []config.WindowConfig{
				{Name: "day-shift", Start: "08:00", End: "17:00", GraceMinutes: 10},
			},
		},
		Web: config.WebConfig{DeviceRate: 1000, DeviceBurst: 1000},
	}
}

type testServer struct {
	mem      *memory.Store
	detector *fakeDetector
	provider *fakeProvider
	server   *Server
}

// March 2nd, 2026 is a Monday, inside the test attendance window.
func monday(hour, minute int) time.Time {
	return time.Date(2026, 3, 2, hour, minute, 0, 0, time.UTC)
}

func newTestServer(t *testing.T, mutate func(cfg *config.Config)) *testServer {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	mem := memory.NewStore()
	detector := &fakeDetector{detection: quality.Detection{Count: 1, DetScore: 0.95, Liveness: 0.9}}
	provider := &fakeProvider{embedding: []float32{1, 0}}
	gate := quality.NewGate(cfg.Quality, detector)

	tracker, err := attendance.NewTracker(cfg.Attendance, mem)
	if err != nil {
		t.Fatalf("NewTracker() failed: %v", err)
	}

	recorder := audit.NewRecorder(mem)
	m := matcher.New(cfg.Match, mem, nil)
	service := verify.NewService(gate, provider, m, tracker, recorder, nil, cfg.Match, cfg.Embedding)
	service.SetClock(func() time.Time { return monday(9, 0) })
	enroller := verify.NewEnroller(gate, provider, mem, nil)

	server := NewServer(cfg, 8080, "127.0.0.1", Deps{
		Verifier:   service,
		Enroller:   enroller,
		Identities: mem,
		Templates:  mem,
		Attendance: mem,
		Audit:      mem,
		Tracker:    tracker,
	})

	return &testServer{mem: mem, detector: detector, provider: provider, server: server}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) seedIdentity(t *testing.T, id, name string) {
	t.Helper()
	err := ts.mem.Upsert(context.Background(), &store.Identity{
		ID:             id,
		DisplayName:    name,
		NormalizedName: store.NormalizeName(name),
		CreatedAt:      time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to seed identity: %v", err)
	}
}

func (ts *testServer) seedTemplate(t *testing.T, id, identityID string, emb []float32) {
	t.Helper()
	err := ts.mem.Add(context.Background(), &store.Template{
		ID:           id,
		IdentityID:   identityID,
		Embedding:    emb,
		Dim:          len(emb),
		ModelVersion: modelVersion,
		CapturedAt:   time.Now(),
		CreatedAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to seed template: %v", err)
	}
}

// multipartImage builds a multipart request body with the image and any
// extra form fields.
func multipartImage(t *testing.T, imageData []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if imageData != nil {
		part, err := writer.CreateFormFile("image", "capture.jpg")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(imageData); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	for k, v := range fields {
		writer.WriteField(k, v)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, rec.Body.String())
	}
	return body
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) { cfg.Web.APIKey = "secret" })

	// Health stays open without a key.
	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)); rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/identities", nil)
	if rec := ts.do(req); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/identities", nil)
	req.Header.Set("X-API-Key", "secret")
	if rec := ts.do(req); rec.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", rec.Code)
	}
}

func TestIdentitiesEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	// Create with a generated ID.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/identities",
		strings.NewReader(`{"display_name": "Renée Novak"}`))
	rec := ts.do(req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeJSON(t, rec)
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatal("created identity has no generated ID")
	}
	if body["normalized_name"] != "renee novak" {
		t.Errorf("normalized_name = %v, want renee novak", body["normalized_name"])
	}

	// Missing display name.
	rec = ts.do(httptest.NewRequest(http.MethodPost, "/api/v1/identities",
		strings.NewReader(`{"display_name": "  "}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank name status = %d, want 400", rec.Code)
	}

	// Get and list.
	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/identities/"+id, nil)); rec.Code != http.StatusOK {
		t.Errorf("get status = %d, want 200", rec.Code)
	}
	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/identities/missing", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("get missing status = %d, want 404", rec.Code)
	}

	// A templated identity cannot be deleted.
	ts.seedTemplate(t, "t1", id, unitAt(0.9))
	if rec := ts.do(httptest.NewRequest(http.MethodDelete, "/api/v1/identities/"+id, nil)); rec.Code != http.StatusConflict {
		t.Errorf("delete referenced status = %d, want 409", rec.Code)
	}
}

func TestEnrollEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedIdentity(t, "emp-1", "Alice")

	body, contentType := multipartImage(t, faceJPEG(t), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/identities/emp-1/templates", body)
	req.Header.Set("Content-Type", contentType)

	rec := ts.do(req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("enroll status = %d: %s", rec.Code, rec.Body.String())
	}
	view := decodeJSON(t, rec)
	if view["identity_id"] != "emp-1" {
		t.Errorf("identity_id = %v, want emp-1", view["identity_id"])
	}
	if _, ok := view["embedding"]; ok {
		t.Error("template response must not expose the embedding")
	}

	// Unknown identity.
	body, contentType = multipartImage(t, faceJPEG(t), nil)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/identities/ghost/templates", body)
	req.Header.Set("Content-Type", contentType)
	if rec := ts.do(req); rec.Code != http.StatusNotFound {
		t.Errorf("unknown identity status = %d, want 404", rec.Code)
	}

	// A rejected image reports the reason.
	ts.detector.detection = quality.Detection{Count: 0}
	body, contentType = multipartImage(t, faceJPEG(t), nil)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/identities/emp-1/templates", body)
	req.Header.Set("Content-Type", contentType)
	rec = ts.do(req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("rejected image status = %d, want 422", rec.Code)
	}
	if reason := decodeJSON(t, rec)["reason"]; reason != string(store.ReasonNoFace) {
		t.Errorf("reason = %v, want no-face", reason)
	}
}

func TestTemplateListAndRetire(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedIdentity(t, "emp-1", "Alice")
	ts.seedTemplate(t, "t1", "emp-1", unitAt(0.9))
	ts.seedTemplate(t, "t2", "emp-1", unitAt(0.8))

	if rec := ts.do(httptest.NewRequest(http.MethodDelete, "/api/v1/templates/t1", nil)); rec.Code != http.StatusOK {
		t.Fatalf("retire status = %d, want 200", rec.Code)
	}

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/identities/emp-1/templates", nil))
	templates, _ := decodeJSON(t, rec)["templates"].([]any)
	if len(templates) != 1 {
		t.Errorf("active templates = %d, want 1", len(templates))
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/identities/emp-1/templates?all=true", nil))
	templates, _ = decodeJSON(t, rec)["templates"].([]any)
	if len(templates) != 2 {
		t.Errorf("all templates = %d, want 2", len(templates))
	}

	if rec := ts.do(httptest.NewRequest(http.MethodDelete, "/api/v1/templates/missing", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("retire missing status = %d, want 404", rec.Code)
	}
}

func TestVerifyEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedIdentity(t, "emp-1", "Alice")
	ts.seedTemplate(t, "t1", "emp-1", unitAt(0.9))

	body, contentType := multipartImage(t, faceJPEG(t), map[string]string{
		"device_id": "gate-1",
		"location":  "hq-lobby",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/verify", body)
	req.Header.Set("Content-Type", contentType)

	rec := ts.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d: %s", rec.Code, rec.Body.String())
	}
	outcome := decodeJSON(t, rec)
	if outcome["status"] != string(store.OutcomeAccepted) {
		t.Errorf("outcome = %v, want accepted", outcome)
	}
	if outcome["identity"] != "emp-1" {
		t.Errorf("identity = %v, want emp-1", outcome["identity"])
	}
	if outcome["audit_event_id"] == "" {
		t.Error("outcome has no audit event ID")
	}
}

func TestVerifyEndpointValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	// Missing device_id.
	body, contentType := multipartImage(t, faceJPEG(t), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/verify", body)
	req.Header.Set("Content-Type", contentType)
	if rec := ts.do(req); rec.Code != http.StatusBadRequest {
		t.Errorf("missing device_id status = %d, want 400", rec.Code)
	}

	// Missing image.
	body, contentType = multipartImage(t, nil, map[string]string{"device_id": "gate-1"})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/verify", body)
	req.Header.Set("Content-Type", contentType)
	if rec := ts.do(req); rec.Code != http.StatusBadRequest {
		t.Errorf("missing image status = %d, want 400", rec.Code)
	}
}

func TestVerifyEndpointUnavailable(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.provider.err = &embedding.ExtractionError{Kind: embedding.FailureUnavailable, Err: errors.New("down")}

	body, contentType := multipartImage(t, faceJPEG(t), map[string]string{"device_id": "gate-1"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/verify", body)
	req.Header.Set("Content-Type", contentType)

	rec := ts.do(req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if outcome := decodeJSON(t, rec); outcome["status"] != string(store.OutcomeFailed) {
		t.Errorf("outcome = %v, want failed", outcome["status"])
	}
}

func TestVerifyRateLimited(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Web.DeviceRate = 1
		cfg.Web.DeviceBurst = 1
	})
	ts.seedTemplate(t, "t1", "emp-1", unitAt(0.9))

	send := func() int {
		body, contentType := multipartImage(t, faceJPEG(t), map[string]string{"device_id": "gate-1"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/verify", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("X-Device-ID", "gate-1")
		return ts.do(req).Code
	}

	if code := send(); code != http.StatusOK {
		t.Fatalf("first verify = %d, want 200", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Errorf("second verify = %d, want 429", code)
	}
}

func TestAttendanceEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	checkIn := monday(8, 0)
	checkOut := monday(16, 0)
	rec1 := &store.AttendanceRecord{
		ID:         "r1",
		IdentityID: "emp-1",
		Day:        "2026-03-02",
		CheckIn:    checkIn,
		Status:     store.StatusPendingCheckout,
		CreatedAt:  checkIn,
		UpdatedAt:  checkIn,
	}
	ctx := context.Background()
	if err := ts.mem.CreateOpen(ctx, rec1, &store.AuditEvent{ID: "e1", DeviceID: "gate-1", Kind: store.EventAuto, AttemptedAt: checkIn, CreatedAt: checkIn}); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	if err := ts.mem.CloseOut(ctx, "r1", checkOut, &store.AuditEvent{ID: "e2", DeviceID: "gate-1", Kind: store.EventAuto, AttemptedAt: checkOut, CreatedAt: checkOut}); err != nil {
		t.Fatalf("close record: %v", err)
	}

	rec := ts.do(httptest.NewRequest(http.MethodGet,
		"/api/v1/identities/emp-1/attendance?from=2026-03-01&to=2026-03-31", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d: %s", rec.Code, rec.Body.String())
	}
	records, _ := decodeJSON(t, rec)["records"].([]any)
	if len(records) != 1 {
		t.Errorf("records = %d, want 1", len(records))
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet,
		"/api/v1/identities/emp-1/attendance?from=March", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad range status = %d, want 400", rec.Code)
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet,
		"/api/v1/identities/emp-1/attendance/stats?year=2026&month=3", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet,
		"/api/v1/identities/emp-1/attendance/stats?year=2026&month=13", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid month status = %d, want 400", rec.Code)
	}
}

func TestAuditEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()
	for i, device := range []string{"gate-1", "gate-2", "gate-1"} {
		ev := &store.AuditEvent{
			ID:          "e" + string(rune('1'+i)),
			IdentityID:  "emp-1",
			DeviceID:    device,
			Kind:        store.EventAuto,
			Outcome:     store.OutcomeRejected,
			Reason:      store.ReasonNoMatch,
			AttemptedAt: time.Now(),
			CreatedAt:   time.Now(),
		}
		if err := ts.mem.Append(ctx, ev); err != nil {
			t.Fatalf("seed audit event: %v", err)
		}
	}

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/identities/emp-1/audit", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("identity audit status = %d", rec.Code)
	}
	events, _ := decodeJSON(t, rec)["events"].([]any)
	if len(events) != 3 {
		t.Errorf("identity events = %d, want 3", len(events))
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/devices/gate-2/audit", nil))
	events, _ = decodeJSON(t, rec)["events"].([]any)
	if len(events) != 1 {
		t.Errorf("device events = %d, want 1", len(events))
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/identities/emp-1/audit?limit=2", nil))
	events, _ = decodeJSON(t, rec)["events"].([]any)
	if len(events) != 2 {
		t.Errorf("limited events = %d, want 2", len(events))
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedIdentity(t, "emp-1", "Alice")
	ts.seedTemplate(t, "t1", "emp-1", unitAt(0.9))

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	body := decodeJSON(t, rec)
	if body["identities"] != float64(1) || body["active_templates"] != float64(1) {
		t.Errorf("stats = %v, want 1 identity and 1 template", body)
	}
	if body["model_version"] != modelVersion {
		t.Errorf("model_version = %v, want %q", body["model_version"], modelVersion)
	}
}
