package http

// MoveRequest is the body of POST /move. FEN is the position after the player's
// move, or "startpos". It is forwarded to the engine as is: board front ends often
// send only the piece placement field, and a position the engine rejects comes
// back as a failed job.
type MoveRequest struct {
	GameID string `json:"game_id" validate:"required"`
	Move   string `json:"move" validate:"required,max=8"`
	FEN    string `json:"fen" validate:"required"`
}

// MoveResponse carries the engine's reply.
type MoveResponse struct {
	BestMove string `json:"best_move"`
}

// StartResponse carries a freshly issued game id.
type StartResponse struct {
	GameID string `json:"game_id"`
}

// HealthResponse is returned by /healthz. Workers and Leader are only reported
// when the backend coordinates through etcd.
type HealthResponse struct {
	Status      string   `json:"status"`
	Workers     *int     `json:"workers,omitempty"`
	WorkerAddrs []string `json:"worker_addrs,omitempty"`
	Leader      *bool    `json:"scheduler_leader,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}
