package domain

import (
	"fmt"
	"time"
)

const (
	// StartPosition is the sentinel clients send for the standard initial position.
	// Engines do not understand it and it must be translated before use.
	StartPosition = "startpos"

	// StartFEN is the standard initial position in Forsyth-Edwards Notation.
	StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
)

// Job is a unit of requested work: a position plus the move that produced it.
// A job is created by the dispatcher, is immutable afterwards, and is consumed by
// exactly one worker when it is popped from the queue.
type Job struct {
	ID         string            `json:"job_id" validate:"required,uuid"`
	GameID     string            `json:"game_id"`
	Move       string            `json:"move"`
	FEN        string            `json:"fen" validate:"required"`
	Trace      map[string]string `json:"trace,omitempty"`       // W3C trace context of the submitting request
	EnqueuedAt time.Time         `json:"enqueued_at,omitzero"` // Set by the dispatcher, informational only
}

// Validate checks the fields a worker needs to process the job.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID cannot be empty")
	}
	if j.FEN == "" {
		return fmt.Errorf("job %s has an empty position", j.ID)
	}
	return nil
}

// NormalizePosition translates the start-position sentinel into a full FEN.
// Any other position is returned unchanged.
func NormalizePosition(position string) string {
	if position == StartPosition {
		return StartFEN
	}
	return position
}

// ResultKey returns the store key a job's result is written under.
func ResultKey(prefix, jobID string) string {
	return prefix + jobID
}
