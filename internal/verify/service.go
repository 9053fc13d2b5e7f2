// Package verify orchestrates the attendance verification pipeline:
// quality gate, embedding extraction, matching, the attendance state
// machine, and the audit trail. Every attempt, whatever its outcome,
// produces exactly one audit event.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/veritime/facegate/internal/attendance"
	"github.com/veritime/facegate/internal/audit"
	"github.com/veritime/facegate/internal/config"
	"github.com/veritime/facegate/internal/embedding"
	"github.com/veritime/facegate/internal/matcher"
	"github.com/veritime/facegate/internal/metrics"
	"github.com/veritime/facegate/internal/quality"
	"github.com/veritime/facegate/internal/store"
)

// Request is one verification attempt from a capture device.
type Request struct {
	Image        []byte
	DeviceID     string
	Location     string
	IdentityHint string          // optional: 1:1 confirmation instead of 1:N search
	Kind         store.EventKind // auto, check-in, or check-out
}

// Outcome is the decision for one attempt. Reason is always set for
// non-accepted outcomes; no outcome is silent.
type Outcome struct {
	Status             store.Outcome     `json:"status"`
	Reason             store.Reason      `json:"reason,omitempty"`
	IdentityID         string            `json:"identity,omitempty"`
	Score              float64           `json:"score,omitempty"`
	Confidence         float64           `json:"confidence,omitempty"`
	Action             attendance.Action `json:"action,omitempty"`
	AttendanceRecordID string            `json:"attendance_record_id,omitempty"`
	AuditEventID       string            `json:"audit_event_id"`
}

// Service wires the pipeline stages together.
type Service struct {
	gate     *quality.Gate
	provider embedding.Provider
	matcher  *matcher.Matcher
	tracker  *attendance.Tracker
	recorder *audit.Recorder
	metrics  metrics.Recorder
	matchCfg config.MatchConfig
	embedCfg config.EmbeddingConfig
	now      func() time.Time
}

// NewService creates the verification service.
func NewService(
	gate *quality.Gate,
	provider embedding.Provider,
	m *matcher.Matcher,
	tracker *attendance.Tracker,
	recorder *audit.Recorder,
	collector metrics.Recorder,
	matchCfg config.MatchConfig,
	embedCfg config.EmbeddingConfig,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		gate:     gate,
		provider: provider,
		matcher:  m,
		tracker:  tracker,
		recorder: recorder,
		metrics:  collector,
		matchCfg: matchCfg,
		embedCfg: embedCfg,
		now:      time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.tracker.SetClock(now)
}

// Verify runs one attempt through the full pipeline. The returned error is
// non-nil only when the attempt could not be decided AND audited; callers
// should treat it as verification-unavailable.
func (s *Service) Verify(ctx context.Context, req Request) (*Outcome, error) {
	started := s.now()
	event := s.recorder.NewEvent(req.DeviceID, req.Location, normalizeKind(req.Kind), started)
	event.ModelVersion = s.provider.ModelVersion()
	event.Threshold = s.matchCfg.Threshold
	event.Margin = s.matchCfg.Margin

	outcome, err := s.run(ctx, req, event)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordOutcome(string(outcome.Status), string(outcome.Reason))
	s.metrics.RecordVerifyLatency(time.Since(started))
	return outcome, nil
}

func (s *Service) run(ctx context.Context, req Request, event *store.AuditEvent) (*Outcome, error) {
	// Stage 1: quality gate.
	accepted, err := withRetry(ctx, s, func(ctx context.Context) (*quality.Accepted, error) {
		return s.gate.Evaluate(ctx, req.Image)
	})
	if err != nil {
		var rejection *quality.Rejection
		if errors.As(err, &rejection) {
			return s.reject(ctx, event, rejection.Reason)
		}
		return s.unavailable(ctx, event, err)
	}

	// Stage 2: embedding extraction.
	probe, err := withRetry(ctx, s, func(ctx context.Context) (*embedding.Result, error) {
		return s.provider.Extract(ctx, accepted.Image)
	})
	if err != nil {
		s.metrics.RecordExtractionFailure()
		return s.unavailable(ctx, event, err)
	}

	// Stage 3: matching.
	var result *matcher.Result
	if req.IdentityHint != "" {
		result, err = s.matcher.VerifyIdentity(ctx, req.IdentityHint, probe.Embedding, probe.ModelVersion)
	} else {
		result, err = s.matcher.Match(ctx, probe.Embedding, probe.ModelVersion)
	}
	if err != nil {
		return s.unavailable(ctx, event, err)
	}

	if top := result.Top(); top != nil {
		event.Score = top.Score
		event.Confidence = confidence(top.Score, result.Threshold)
	}
	if !result.Accepted {
		return s.reject(ctx, event, result.Reason)
	}

	top := result.Top()
	event.IdentityID = top.IdentityID

	// Stage 4: attendance state machine. On an accepting transition the
	// event is persisted atomically with the record mutation.
	decision, err := s.tracker.Apply(ctx, top.IdentityID, req.DeviceID, req.Location, event.Kind, event)
	if err != nil {
		return s.unavailable(ctx, event, err)
	}
	if decision.Outcome != store.OutcomeAccepted {
		return s.reject(ctx, event, decision.Reason)
	}

	outcome := &Outcome{
		Status:       store.OutcomeAccepted,
		IdentityID:   top.IdentityID,
		Score:        top.Score,
		Confidence:   event.Confidence,
		Action:       decision.Action,
		AuditEventID: event.ID,
	}
	if decision.Record != nil {
		outcome.AttendanceRecordID = decision.Record.ID
	}
	return outcome, nil
}

// reject finalizes a definitive rejection: the audit event is appended and
// the machine-readable reason returned. An audit failure fails the attempt.
func (s *Service) reject(ctx context.Context, event *store.AuditEvent, reason store.Reason) (*Outcome, error) {
	event.Outcome = store.OutcomeRejected
	event.Reason = reason
	if err := s.recorder.Record(ctx, event); err != nil {
		return nil, fmt.Errorf("rejection for device %s could not be audited: %w", event.DeviceID, err)
	}
	return &Outcome{
		Status:       store.OutcomeRejected,
		Reason:       reason,
		IdentityID:   event.IdentityID,
		Score:        event.Score,
		Confidence:   event.Confidence,
		AuditEventID: event.ID,
	}, nil
}

// unavailable finalizes a transient failure that survived its retries.
func (s *Service) unavailable(ctx context.Context, event *store.AuditEvent, cause error) (*Outcome, error) {
	event.Outcome = store.OutcomeFailed
	event.Reason = store.ReasonUnavailable
	if err := s.recorder.Record(ctx, event); err != nil {
		return nil, fmt.Errorf("failed attempt could not be audited: %w (cause: %v)", err, cause)
	}
	return &Outcome{
		Status:       store.OutcomeFailed,
		Reason:       store.ReasonUnavailable,
		AuditEventID: event.ID,
	}, nil
}

// withRetry runs fn with bounded retries and doubling backoff. Only
// transient failures are retried; input rejections and malformed-input
// failures surface immediately.
func withRetry[T any](ctx context.Context, s *Service, fn func(context.Context) (*T, error)) (*T, error) {
	backoff := s.embedCfg.RetryBackoff
	attempts := s.embedCfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			s.metrics.RecordExtractionRetry()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// isRetryable reports whether an error is a transient failure.
func isRetryable(err error) bool {
	var rejection *quality.Rejection
	if errors.As(err, &rejection) {
		return false
	}
	var extraction *embedding.ExtractionError
	if errors.As(err, &extraction) {
		return extraction.Retryable()
	}
	// Unknown errors from remote calls are treated as transient.
	return true
}

// confidence converts a similarity score into a 0-100 confidence
// percentage relative to the acceptance threshold.
func confidence(score, threshold float64) float64 {
	if threshold >= 1 {
		return 0
	}
	distance := 1 - score
	maxDistance := 1 - threshold
	c := 100 * (1 - distance/maxDistance)
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

// normalizeKind defaults an empty kind to auto.
func normalizeKind(kind store.EventKind) store.EventKind {
	switch kind {
	case store.EventCheckIn, store.EventCheckOut:
		return kind
	default:
		return store.EventAuto
	}
}
