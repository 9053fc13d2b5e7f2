package verify

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"math/rand"
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
)

const modelVersion = "arcface-r100@1"

type fakeDetector struct {
	detection quality.Detection
	err       error
}

func (f *fakeDetector) DetectFaces(ctx context.Context, imageData []byte) (*quality.Detection, error) {
	if f.err != nil {
		return nil, f.err
	}
	d := f.detection
	return &d, nil
}

type fakeProvider struct {
	embedding []float32
	err       error
	calls     int
}

func (f *fakeProvider) Extract(ctx context.Context, imageData []byte) (*embedding.Result, error) {
	f.calls++
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

// unitAt returns a 2D unit vector whose cosine similarity with [1, 0]
// equals sim.
func unitAt(sim float64) []float32 {
	return []float32{float32(sim), float32(math.Sqrt(1 - sim*sim))}
}

// faceJPEG encodes a sharp random image that clears the quality gate.
func faceJPEG(t *testing.T) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
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

type fixture struct {
	mem      *memory.Store
	detector *fakeDetector
	provider *fakeProvider
	service  *Service
}

// March 2nd, 2026 is a Monday, inside the 08:00-17:00 test window.
func monday(hour, minute int) time.Time {
	return time.Date(2026, 3, 2, hour, minute, 0, 0, time.UTC)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memory.NewStore()
	detector := &fakeDetector{detection: quality.Detection{Count: 1, DetScore: 0.95, Liveness: 0.9}}
	provider := &fakeProvider{embedding: []float32{1, 0}}

	gate := quality.NewGate(config.QualityConfig{
		MinWidth:     160,
		MinHeight:    160,
		MinSharpness: 18.0,
		MinDetScore:  0.7,
		MinLiveness:  0.5,
		MaxEdge:      800,
	}, detector)

	matchCfg := config.MatchConfig{Threshold: 0.6, Margin: 0.05, Aggregation: "best"}
	embedCfg := config.EmbeddingConfig{MaxRetries: 3, RetryBackoff: time.Millisecond}

	tracker, err := attendance.NewTracker(config.AttendanceConfig{
		DedupInterval: 5 * time.Minute,
		Timezone:      "UTC",
		Windows: []config.WindowConfig{
			{Name: "day-shift", Start: "08:00", End: "17:00", GraceMinutes: 10},
		},
	}, mem)
	if err != nil {
		t.Fatalf("NewTracker() failed: %v", err)
	}

	service := NewService(
		gate,
		provider,
		matcher.New(matchCfg, mem, nil),
		tracker,
		audit.NewRecorder(mem),
		nil,
		matchCfg,
		embedCfg,
	)
	service.SetClock(func() time.Time { return monday(9, 0) })

	return &fixture{mem: mem, detector: detector, provider: provider, service: service}
}

func (f *fixture) seedTemplate(t *testing.T, id, identityID string, emb []float32) {
	t.Helper()
	err := f.mem.Add(context.Background(), &store.Template{
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

func (f *fixture) verify(t *testing.T, req Request) *Outcome {
	t.Helper()
	outcome, err := f.service.Verify(context.Background(), req)
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	return outcome
}

func TestVerifyAccepted(t *testing.T) {
	f := newFixture(t)
	f.seedTemplate(t, "tA", "alice", unitAt(0.91))
	f.seedTemplate(t, "tB", "bob", unitAt(0.70))

	outcome := f.verify(t, Request{Image: faceJPEG(t), DeviceID: "gate-1", Location: "hq"})

	if outcome.Status != store.OutcomeAccepted {
		t.Fatalf("status = %q (%q), want accepted", outcome.Status, outcome.Reason)
	}
	if outcome.IdentityID != "alice" {
		t.Errorf("identity = %q, want alice", outcome.IdentityID)
	}
	if outcome.Action != attendance.ActionCheckedIn {
		t.Errorf("action = %q, want checked-in", outcome.Action)
	}
	if outcome.AttendanceRecordID == "" {
		t.Error("accepted outcome has no attendance record")
	}
	if outcome.AuditEventID == "" {
		t.Error("outcome has no audit event ID")
	}

	// Score 0.91 against threshold 0.6: confidence 100*(1-0.09/0.4).
	if math.Abs(outcome.Confidence-77.5) > 0.01 {
		t.Errorf("confidence = %v, want 77.5", outcome.Confidence)
	}

	events := f.mem.AuditEvents()
	if len(events) != 1 {
		t.Fatalf("audit events = %d, want exactly 1", len(events))
	}
	ev := events[0]
	if ev.ID != outcome.AuditEventID {
		t.Errorf("audit event ID = %s, want %s", ev.ID, outcome.AuditEventID)
	}
	if ev.Outcome != store.OutcomeAccepted || ev.IdentityID != "alice" {
		t.Errorf("audit event = %s/%s, want accepted/alice", ev.Outcome, ev.IdentityID)
	}
	if ev.ModelVersion != modelVersion {
		t.Errorf("audit model version = %q, want %q", ev.ModelVersion, modelVersion)
	}
	if ev.Threshold != 0.6 || ev.Margin != 0.05 {
		t.Errorf("audit thresholds = %v/%v, want 0.6/0.05", ev.Threshold, ev.Margin)
	}
	if ev.Kind != store.EventAuto {
		t.Errorf("audit kind = %q, want auto for an empty request kind", ev.Kind)
	}
}

func TestVerifyQualityRejection(t *testing.T) {
	f := newFixture(t)
	f.seedTemplate(t, "tA", "alice", unitAt(0.91))
	f.detector.detection = quality.Detection{Count: 0}

	outcome := f.verify(t, Request{Image: faceJPEG(t), DeviceID: "gate-1"})

	if outcome.Status != store.OutcomeRejected || outcome.Reason != store.ReasonNoFace {
		t.Fatalf("outcome = %s/%s, want rejected/no-face", outcome.Status, outcome.Reason)
	}
	if f.provider.calls != 0 {
		t.Error("extraction must not run on a gated-out image")
	}

	events := f.mem.AuditEvents()
	if len(events) != 1 || events[0].Outcome != store.OutcomeRejected {
		t.Errorf("audit trail = %+v, want one rejected event", events)
	}
}

func TestVerifyUndecodableImage(t *testing.T) {
	f := newFixture(t)

	outcome := f.verify(t, Request{Image: []byte("not an image"), DeviceID: "gate-1"})
	if outcome.Status != store.OutcomeRejected || outcome.Reason != store.ReasonLowQuality {
		t.Errorf("outcome = %s/%s, want rejected/low-quality", outcome.Status, outcome.Reason)
	}
	if len(f.mem.AuditEvents()) != 1 {
		t.Errorf("audit events = %d, want 1", len(f.mem.AuditEvents()))
	}
}

func TestVerifyNoMatch(t *testing.T) {
	f := newFixture(t)
	f.seedTemplate(t, "tA", "alice", unitAt(0.5))

	outcome := f.verify(t, Request{Image: faceJPEG(t), DeviceID: "gate-1"})
	if outcome.Status != store.OutcomeRejected || outcome.Reason != store.ReasonNoMatch {
		t.Fatalf("outcome = %s/%s, want rejected/no-match", outcome.Status, outcome.Reason)
	}
	if math.Abs(outcome.Score-0.5) > 1e-6 {
		t.Errorf("score = %v, want 0.5 recorded even on rejection", outcome.Score)
	}
	if outcome.Confidence != 0 {
		t.Errorf("confidence = %v, want 0 below threshold", outcome.Confidence)
	}
}

func TestVerifyExtractionUnavailable(t *testing.T) {
	f := newFixture(t)
	f.provider.err = &embedding.ExtractionError{Kind: embedding.FailureUnavailable, Err: errors.New("timeout")}

	outcome := f.verify(t, Request{Image: faceJPEG(t), DeviceID: "gate-1"})
	if outcome.Status != store.OutcomeFailed || outcome.Reason != store.ReasonUnavailable {
		t.Fatalf("outcome = %s/%s, want failed/unavailable", outcome.Status, outcome.Reason)
	}
	if f.provider.calls != 3 {
		t.Errorf("extraction attempts = %d, want 3 with retries", f.provider.calls)
	}
	events := f.mem.AuditEvents()
	if len(events) != 1 || events[0].Outcome != store.OutcomeFailed {
		t.Errorf("audit trail = %+v, want one failed event", events)
	}
}

func TestVerifyMalformedInputNotRetried(t *testing.T) {
	f := newFixture(t)
	f.provider.err = &embedding.ExtractionError{Kind: embedding.FailureMalformed, Err: errors.New("bad crop")}

	outcome := f.verify(t, Request{Image: faceJPEG(t), DeviceID: "gate-1"})
	if outcome.Status != store.OutcomeFailed {
		t.Fatalf("status = %q, want failed", outcome.Status)
	}
	if f.provider.calls != 1 {
		t.Errorf("extraction attempts = %d, want 1 for a non-retryable failure", f.provider.calls)
	}
}

func TestVerifyAuditFailureFailsAttempt(t *testing.T) {
	f := newFixture(t)
	f.detector.detection = quality.Detection{Count: 0}
	f.mem.AppendError = errors.New("sink down")

	if _, err := f.service.Verify(context.Background(), Request{Image: faceJPEG(t), DeviceID: "gate-1"}); err == nil {
		t.Error("Verify() succeeded without audit evidence")
	}
}

func TestVerifyDuplicateAttempt(t *testing.T) {
	f := newFixture(t)
	f.seedTemplate(t, "tA", "alice", unitAt(0.91))
	img := faceJPEG(t)

	first := f.verify(t, Request{Image: img, DeviceID: "gate-1"})
	if first.Action != attendance.ActionCheckedIn {
		t.Fatalf("first action = %q, want checked-in", first.Action)
	}

	second := f.verify(t, Request{Image: img, DeviceID: "gate-1"})
	if second.Status != store.OutcomeRejected || second.Reason != store.ReasonDuplicate {
		t.Fatalf("second outcome = %s/%s, want rejected/duplicate", second.Status, second.Reason)
	}

	// One event from the accepted transition, one from the rejection.
	if events := f.mem.AuditEvents(); len(events) != 2 {
		t.Errorf("audit events = %d, want 2", len(events))
	}
}

func TestVerifyIdentityHint(t *testing.T) {
	f := newFixture(t)
	f.seedTemplate(t, "tA", "alice", unitAt(0.82))
	f.seedTemplate(t, "tB", "bob", unitAt(0.80))

	// A 1:N search would reject this pair as ambiguous; the 1:1 hint
	// compares against alice alone.
	outcome := f.verify(t, Request{Image: faceJPEG(t), DeviceID: "gate-1", IdentityHint: "alice"})
	if outcome.Status != store.OutcomeAccepted || outcome.IdentityID != "alice" {
		t.Errorf("outcome = %s/%s (%s), want accepted alice", outcome.Status, outcome.IdentityID, outcome.Reason)
	}
}

func TestVerifyOutsideWindow(t *testing.T) {
	f := newFixture(t)
	f.seedTemplate(t, "tA", "alice", unitAt(0.91))
	f.service.SetClock(func() time.Time { return monday(6, 0) })

	outcome := f.verify(t, Request{Image: faceJPEG(t), DeviceID: "gate-1"})
	if outcome.Status != store.OutcomeRejected || outcome.Reason != store.ReasonOutsideWindow {
		t.Errorf("outcome = %s/%s, want rejected/outside-window", outcome.Status, outcome.Reason)
	}
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name      string
		score     float64
		threshold float64
		want      float64
	}{
		{"at threshold", 0.6, 0.6, 0},
		{"perfect", 1.0, 0.6, 100},
		{"midway", 0.8, 0.6, 50},
		{"below threshold", 0.5, 0.6, 0},
		{"degenerate threshold", 0.9, 1.0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := confidence(tt.score, tt.threshold); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("confidence(%v, %v) = %v, want %v", tt.score, tt.threshold, got, tt.want)
			}
		})
	}
}
