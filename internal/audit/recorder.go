// Package audit records the evidence for every verification attempt.
// The trail is append-only: events are never mutated or deleted, and a
// verification cannot succeed without its event reaching the sink.
package audit

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/veritime/facegate/internal/store"
)

// Recorder appends audit events to the durable sink. Event IDs are ULIDs,
// so the trail sorts lexicographically by creation time.
type Recorder struct {
	sink store.AuditStore

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// NewRecorder creates a recorder over the given sink.
func NewRecorder(sink store.AuditStore) *Recorder {
	return &Recorder{
		sink:    sink,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewEventID generates a ULID for an audit event at the given time.
func (r *Recorder) NewEventID(t time.Time) string {
	r.entropyMu.Lock()
	defer r.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), r.entropy).String()
}

// NewEvent starts an audit event for one verification attempt.
func (r *Recorder) NewEvent(deviceID, location string, kind store.EventKind, attemptedAt time.Time) *store.AuditEvent {
	return &store.AuditEvent{
		ID:          r.NewEventID(attemptedAt),
		DeviceID:    deviceID,
		Location:    location,
		Kind:        kind,
		AttemptedAt: attemptedAt,
		CreatedAt:   attemptedAt,
	}
}

// Record appends the event. A sink failure is surfaced to the caller: the
// verification attempt as a whole must fail rather than proceed without
// audit evidence.
func (r *Recorder) Record(ctx context.Context, event *store.AuditEvent) error {
	if err := r.sink.Append(ctx, event); err != nil {
		return fmt.Errorf("append audit event %s: %w", event.ID, err)
	}
	return nil
}
