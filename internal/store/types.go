package store

import (
	"time"
)

// Identity represents an enrolled person that templates and attendance
// records reference.
type Identity struct {
	ID             string
	DisplayName    string
	NormalizedName string
	CreatedAt      time.Time
}

// Template is a stored face embedding for an identity. Retired templates
// are excluded from matching but kept for audit.
type Template struct {
	ID           string
	IdentityID   string
	Embedding    []float32
	Dim          int
	ModelVersion string
	Quality      float64
	Retired      bool
	CapturedAt   time.Time
	CreatedAt    time.Time
}

// AttendanceStatus is the lifecycle state of an attendance record.
type AttendanceStatus string

const (
	StatusPendingCheckout AttendanceStatus = "pending-checkout"
	StatusComplete        AttendanceStatus = "complete"
)

// AttendanceRecord is the durable outcome of accepted verifications.
// There is exactly one record per (identity, day); the day key is the
// calendar date in the configured location, formatted as 2006-01-02.
type AttendanceRecord struct {
	ID         string
	IdentityID string
	Day        string
	CheckIn    time.Time
	CheckOut   *time.Time
	Status     AttendanceStatus
	DeviceID   string
	Location   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Outcome classifies the overall result of a verification attempt.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
)

// Reason is the machine-readable reason code attached to every outcome.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonNoFace               Reason = "no-face"
	ReasonMultiFace            Reason = "multi-face"
	ReasonLowQuality           Reason = "low-quality"
	ReasonSpoofSuspect         Reason = "spoof-suspect"
	ReasonNoEnrolledIdentities Reason = "no-enrolled-identities"
	ReasonNoMatch              Reason = "rejected-no-match"
	ReasonAmbiguous            Reason = "rejected-ambiguous"
	ReasonDuplicate            Reason = "rejected-duplicate"
	ReasonOutsideWindow        Reason = "rejected-outside-window"
	ReasonNoOpenSession        Reason = "no-open-session"
	ReasonUnavailable          Reason = "verification-unavailable"
)

// EventKind is the optional intent hint supplied by the capture device.
type EventKind string

const (
	EventAuto     EventKind = "auto"
	EventCheckIn  EventKind = "check-in"
	EventCheckOut EventKind = "check-out"
)

// AuditEvent is the append-only evidence for a single verification
// attempt. Events are never mutated or deleted.
type AuditEvent struct {
	ID                 string
	IdentityID         string // empty when no identity was matched
	DeviceID           string
	Location           string
	Kind               EventKind
	Outcome            Outcome
	Reason             Reason
	Score              float64
	Confidence         float64
	Threshold          float64
	Margin             float64
	ModelVersion       string
	AttendanceRecordID string // set when a record was created or closed
	AttemptedAt        time.Time
	CreatedAt          time.Time
}

// DayKey formats a timestamp as the attendance day key in the given location.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}
