package domain

import "fmt"

// ResultStatus tells whether the engine produced a move for a job.
type ResultStatus string

const (
	ResultStatusOK    ResultStatus = "ok"
	ResultStatusError ResultStatus = "error"
)

// Result is the outcome of a single job. It lives in the store from the moment a
// worker writes it until the dispatcher reads and deletes it.
type Result struct {
	JobID    string       `json:"job_id,omitempty"`
	Status   ResultStatus `json:"status"`
	BestMove string       `json:"best_move,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// OK builds a successful result carrying the engine's reply.
func OK(jobID, bestMove string) *Result {
	return &Result{JobID: jobID, Status: ResultStatusOK, BestMove: bestMove}
}

// Failed builds an error result so a waiting dispatcher is told the job failed.
func Failed(jobID, reason string) *Result {
	return &Result{JobID: jobID, Status: ResultStatusError, Error: reason}
}

// Validate checks that the result is one of the two well-formed variants.
func (r *Result) Validate() error {
	switch r.Status {
	case ResultStatusOK:
		if r.BestMove == "" {
			return fmt.Errorf("ok result for job %q has no best move", r.JobID)
		}
	case ResultStatusError:
		if r.Error == "" {
			return fmt.Errorf("error result for job %q has no reason", r.JobID)
		}
	default:
		return fmt.Errorf("invalid result status: %q", r.Status)
	}
	return nil
}
