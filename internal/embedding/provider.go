// Package embedding defines the face embedding provider boundary and the
// HTTP client for the external face service. The neural model itself is a
// black box behind this interface.
package embedding

import (
	"context"
	"fmt"
)

// FailureKind classifies extraction failures.
type FailureKind string

const (
	// FailureUnavailable covers timeouts and service errors. Retryable a
	// bounded number of times at the calling boundary.
	FailureUnavailable FailureKind = "unavailable"
	// FailureMalformed covers inputs the model cannot process. Not retryable.
	FailureMalformed FailureKind = "malformed-input"
)

// ExtractionError is a classified failure from the embedding provider.
type ExtractionError struct {
	Kind FailureKind
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("embedding extraction failed (%s): %v", e.Kind, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Retryable reports whether the failure may succeed on retry.
func (e *ExtractionError) Retryable() bool { return e.Kind == FailureUnavailable }

// Result is an extracted probe embedding with its provenance.
type Result struct {
	Embedding    []float32
	Dim          int
	ModelVersion string
}

// Provider converts a normalized face image into a fixed-dimension
// embedding vector.
type Provider interface {
	// Extract computes the embedding for the single face in the image.
	// The gate guarantees exactly one face is present; failures here are
	// provider failures, not input rejections.
	Extract(ctx context.Context, imageData []byte) (*Result, error)
	// ModelVersion identifies the model producing the embeddings. Stored
	// with every template and audit event so cross-model comparisons are
	// detectable instead of silently mismatched.
	ModelVersion() string
}
