package pipeline

import (
	"errors"
	"fmt"

	"github.com/upnorthmedia/content-pipeline/internal/pkg/httpx"
)

// StageError wraps a stage function's failure with the transient/permanent
// classification the runner needs for retry decisions (§4.F, §4.H).
type StageError struct {
	Transient bool
	Err       error
}

func (e *StageError) Error() string { return e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure (timeout, 5xx, 429, network).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Transient: true, Err: err}
}

// Permanent wraps err as a non-retryable failure (validation, auth, other 4xx).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Transient: false, Err: err}
}

// IsTransient classifies a stage function's returned error. An explicit
// *StageError is trusted as-is; anything else falls back to httpx's
// network/HTTP-status heuristics so a stage function that just returns a
// raw error from an HTTP client still gets a sensible classification.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Transient
	}
	return httpx.IsRetryableError(err)
}

func wrapStageErr(stage string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("stage %s: %w", stage, err)
}
