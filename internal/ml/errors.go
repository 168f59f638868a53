package ml

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrNonFinite is the cause of an InferenceError when the model produced NaN or Inf.
	ErrNonFinite = errors.New("model output is not finite")

	// ErrOutOfRange is the cause of an InferenceError when the output is outside [0, 1].
	ErrOutOfRange = errors.New("model output outside [0, 1]")

	// ErrNonFiniteInput is the cause of an InferenceError when the input vector holds NaN or Inf.
	ErrNonFiniteInput = errors.New("input vector is not finite")
)

// ModelLoadError reports a model artifact that is missing, unreadable,
// corrupt, or in an unsupported format. It is fatal at startup.
type ModelLoadError struct {
	Path   string
	Format Format
	Err    error
}

func (e *ModelLoadError) Error() string {
	if e.Format != "" {
		return fmt.Sprintf("failed to load %s model %s: %v", e.Format, e.Path, e.Err)
	}
	return fmt.Sprintf("failed to load model %s: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

// DimensionMismatchError reports an input vector whose length differs from the
// model's declared input dimension.
type DimensionMismatchError struct {
	Expected int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("feature vector has %d values, model expects %d", e.Got, e.Expected)
}

// InferenceError represents a detailed inference error.
type InferenceError struct {
	Op        string    // Operation that failed
	ModelName string    // Model name if applicable
	InputIdx  int       // Offending input index (-1 if N/A)
	Cause     error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *InferenceError) Error() string {
	if e.InputIdx >= 0 {
		return fmt.Sprintf("%s failed for input[%d] on model %s: %v", e.Op, e.InputIdx, e.ModelName, e.Cause)
	}
	return fmt.Sprintf("%s failed on model %s: %v", e.Op, e.ModelName, e.Cause)
}

func (e *InferenceError) Unwrap() error {
	return e.Cause
}

func newInferenceError(op, model string, idx int, cause error) *InferenceError {
	return &InferenceError{
		Op:        op,
		ModelName: model,
		InputIdx:  idx,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}
