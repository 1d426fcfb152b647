package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable wraps any failure talking to the shared store.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrMalformedPayload is returned when a job or result cannot be decoded.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrEngineFailure is returned when the compute engine errors or yields no move.
	ErrEngineFailure = errors.New("engine failure")
	// ErrResultTimeout is returned when no result arrives before the wait deadline.
	ErrResultTimeout = errors.New("timed out waiting for result")
	// ErrJobFailed matches a JobFailedError.
	ErrJobFailed = errors.New("job failed")
)

// JobFailedError carries the reason a worker reported for a failed job.
type JobFailedError struct {
	JobID  string
	Reason string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Reason)
}

// Is lets errors.Is(err, ErrJobFailed) match.
func (e *JobFailedError) Is(target error) bool {
	return target == ErrJobFailed
}
