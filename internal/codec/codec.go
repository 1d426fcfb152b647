// Package codec translates jobs and results to and from the JSON records stored in
// the shared store.
package codec

import (
	"encoding/json"
	"fmt"

	"chess-dispatch/internal/domain"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// EncodeJob serializes a job for the queue. A job that DecodeJob would refuse is
// rejected here with domain.ErrMalformedPayload, so it never reaches a worker.
func EncodeJob(job *domain.Job) (string, error) {
	if err := job.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if err := validate.Struct(job); err != nil {
		return "", fmt.Errorf("%w: job %q: %v", domain.ErrMalformedPayload, job.ID, err)
	}
	b, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job %s to JSON: %w", job.ID, err)
	}
	return string(b), nil
}

// DecodeJob parses a queue entry. Any failure is wrapped with domain.ErrMalformedPayload.
func DecodeJob(raw string) (*domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("%w: job: %v", domain.ErrMalformedPayload, err)
	}
	if err := validate.Struct(job); err != nil {
		return nil, fmt.Errorf("%w: job %q: %v", domain.ErrMalformedPayload, job.ID, err)
	}
	return &job, nil
}

// PeekJobID extracts job_id from a payload that may otherwise be invalid, so the
// caller can still address an error result to it. It returns "" when no usable id
// is present.
func PeekJobID(raw string) string {
	var peek struct {
		ID string `json:"job_id"`
	}
	if err := json.Unmarshal([]byte(raw), &peek); err != nil {
		return ""
	}
	if err := validate.Var(peek.ID, "required,uuid"); err != nil {
		return ""
	}
	return peek.ID
}

// EncodeResult serializes a result for the result namespace.
func EncodeResult(result *domain.Result) (string, error) {
	if err := result.Validate(); err != nil {
		return "", err
	}
	b, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result for job %s to JSON: %w", result.JobID, err)
	}
	return string(b), nil
}

// DecodeResult parses a stored result. Any failure is wrapped with
// domain.ErrMalformedPayload.
func DecodeResult(raw string) (*domain.Result, error) {
	var result domain.Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("%w: result: %v", domain.ErrMalformedPayload, err)
	}
	// Older workers write only best_move.
	if result.Status == "" && result.BestMove != "" && result.Error == "" {
		result.Status = domain.ResultStatusOK
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	return &result, nil
}
