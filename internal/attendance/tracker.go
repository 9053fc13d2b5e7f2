package attendance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/veritime/facegate/internal/config"
	"github.com/veritime/facegate/internal/store"
)

// Action describes what an accepted attempt did to the day's record.
type Action string

const (
	ActionCheckedIn  Action = "checked-in"
	ActionCheckedOut Action = "checked-out"
	ActionNone       Action = "none"
)

// Decision is the state machine's verdict for one accepted match.
type Decision struct {
	Outcome store.Outcome
	Reason  store.Reason
	Action  Action
	Record  *store.AttendanceRecord
	Window  *Window
	// AuditPersisted is true when the record mutation already wrote the
	// audit event atomically; the caller must append it otherwise.
	AuditPersisted bool
}

// Tracker drives the NoRecord -> CheckedIn -> Complete progression for
// each (identity, day) pair. Transitions for the same pair are serialized
// by a keyed lock; the storage layer enforces the same invariants again
// with a unique day index and conditional updates, so two processes racing
// still resolve to exactly one transition.
type Tracker struct {
	records  store.AttendanceStore
	schedule Schedule
	dedup    time.Duration
	loc      *time.Location
	now      func() time.Time

	// locks holds one mutex per (identity, day). Entries are small and
	// only accumulate for days the process actually served.
	locks sync.Map

	// checkIns remembers the in-process check-in instants by record ID.
	// time.Now() values carry a monotonic reading, so elapsed-time
	// comparison through time.Since survives wall-clock rewinds. After a
	// restart the tracker falls back to the stored wall-clock timestamp.
	checkInMu sync.Mutex
	checkIns  map[string]time.Time
}

// NewTracker creates an attendance tracker.
func NewTracker(cfg config.AttendanceConfig, records store.AttendanceStore) (*Tracker, error) {
	schedule, err := ParseSchedule(cfg.Windows)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	return &Tracker{
		records:  records,
		schedule: schedule,
		dedup:    cfg.DedupInterval,
		loc:      loc,
		now:      time.Now,
		checkIns: make(map[string]time.Time),
	}, nil
}

// SetClock overrides the time source, for tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Location returns the location used for day boundaries.
func (t *Tracker) Location() *time.Location {
	return t.loc
}

func (t *Tracker) lockFor(identityID, day string) *sync.Mutex {
	v, _ := t.locks.LoadOrStore(identityID+"|"+day, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (t *Tracker) rememberCheckIn(recordID string, at time.Time) {
	t.checkInMu.Lock()
	defer t.checkInMu.Unlock()
	t.checkIns[recordID] = at
}

// elapsedSince returns the time since check-in, preferring the in-process
// monotonic instant over the stored wall-clock timestamp.
func (t *Tracker) elapsedSince(record *store.AttendanceRecord, now time.Time) time.Duration {
	t.checkInMu.Lock()
	instant, ok := t.checkIns[record.ID]
	t.checkInMu.Unlock()

	var elapsed time.Duration
	if ok {
		elapsed = now.Sub(instant)
	} else {
		elapsed = now.Sub(record.CheckIn)
	}
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed
}

func rejected(reason store.Reason) *Decision {
	return &Decision{Outcome: store.OutcomeRejected, Reason: reason, Action: ActionNone}
}

// Apply processes one accepted match for an identity. The event is the
// audit evidence for the attempt; on an accepting transition it is written
// in the same atomic step as the record mutation. Rejection decisions do
// not touch any record and leave the event for the caller to append.
func (t *Tracker) Apply(ctx context.Context, identityID, deviceID, location string, kind store.EventKind, event *store.AuditEvent) (*Decision, error) {
	now := t.now()
	localNow := now.In(t.loc)
	day := store.DayKey(now, t.loc)

	lock := t.lockFor(identityID, day)
	lock.Lock()
	defer lock.Unlock()

	window := t.schedule.WindowFor(localNow)
	if window == nil {
		return rejected(store.ReasonOutsideWindow), nil
	}

	record, err := t.records.GetForDay(ctx, identityID, day)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return t.open(ctx, identityID, deviceID, location, kind, now, day, window, event)
	case err != nil:
		return nil, fmt.Errorf("load attendance record: %w", err)
	}

	switch record.Status {
	case store.StatusPendingCheckout:
		return t.close(ctx, record, kind, now, window, event)
	case store.StatusComplete:
		return rejected(store.ReasonDuplicate), nil
	default:
		return nil, fmt.Errorf("attendance record %s in unknown state %q", record.ID, record.Status)
	}
}

// open creates the day's record in pending-checkout state.
func (t *Tracker) open(ctx context.Context, identityID, deviceID, location string, kind store.EventKind, now time.Time, day string, window *Window, event *store.AuditEvent) (*Decision, error) {
	// A session must be opened before it can close; a bare check-out is
	// never synthesized into a record.
	if kind == store.EventCheckOut {
		return rejected(store.ReasonNoOpenSession), nil
	}

	record := &store.AttendanceRecord{
		ID:         uuid.NewString(),
		IdentityID: identityID,
		Day:        day,
		CheckIn:    now,
		Status:     store.StatusPendingCheckout,
		DeviceID:   deviceID,
		Location:   location,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	event.Outcome = store.OutcomeAccepted
	event.AttendanceRecordID = record.ID

	if err := t.records.CreateOpen(ctx, record, event); err != nil {
		if errors.Is(err, store.ErrDuplicateDay) {
			// Lost a cross-process race; the other caller owns the record.
			event.Outcome = ""
			event.AttendanceRecordID = ""
			return rejected(store.ReasonDuplicate), nil
		}
		return nil, fmt.Errorf("create attendance record: %w", err)
	}

	t.rememberCheckIn(record.ID, now)

	return &Decision{
		Outcome:        store.OutcomeAccepted,
		Action:         ActionCheckedIn,
		Record:         record,
		Window:         window,
		AuditPersisted: true,
	}, nil
}

// close transitions an open record to complete, or rejects the attempt.
func (t *Tracker) close(ctx context.Context, record *store.AttendanceRecord, kind store.EventKind, now time.Time, window *Window, event *store.AuditEvent) (*Decision, error) {
	// An explicit check-in against an already open day is a duplicate,
	// not a check-out.
	if kind == store.EventCheckIn {
		return rejected(store.ReasonDuplicate), nil
	}

	if t.elapsedSince(record, now) < t.dedup {
		// Rapid repeated triggers (camera retries) inside the dedup
		// interval must not close the session.
		return rejected(store.ReasonDuplicate), nil
	}

	event.Outcome = store.OutcomeAccepted
	event.AttendanceRecordID = record.ID

	if err := t.records.CloseOut(ctx, record.ID, now, event); err != nil {
		if errors.Is(err, store.ErrNotOpen) {
			// A concurrent caller already closed the record.
			event.Outcome = ""
			event.AttendanceRecordID = ""
			return rejected(store.ReasonDuplicate), nil
		}
		return nil, fmt.Errorf("close attendance record: %w", err)
	}

	out := now
	record.CheckOut = &out
	record.Status = store.StatusComplete
	record.UpdatedAt = now

	return &Decision{
		Outcome:        store.OutcomeAccepted,
		Action:         ActionCheckedOut,
		Record:         record,
		Window:         window,
		AuditPersisted: true,
	}, nil
}
