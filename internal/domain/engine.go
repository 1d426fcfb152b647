package domain

import "context"

// Engine computes a reply move for a position. Implementations are not safe for
// concurrent use: one call in flight per engine instance.
type Engine interface {
	SetPosition(ctx context.Context, fen string) error
	BestMove(ctx context.Context) (string, error)
	Close() error
}
