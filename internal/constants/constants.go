// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Upload constants
const (
	// MaxUploadSize is the maximum capture upload size in bytes (10MB)
	MaxUploadSize = 10 << 20
)

// Listing constants
const (
	// DefaultAuditLimit is the default number of audit events per listing
	DefaultAuditLimit = 50

	// MaxAuditLimit is the maximum number of audit events per listing
	MaxAuditLimit = 500
)

// Enrollment constants
const (
	// DefaultEnrollConcurrency is the default number of parallel workers
	// for bulk enrollment
	DefaultEnrollConcurrency = 4
)
