// Package builtin provides an in-process engine that plays a random legal move.
// It lets the stack run where no UCI binary is installed.
package builtin

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"chess-dispatch/internal/domain"

	"github.com/notnil/chess"
)

// Engine is a domain.Engine that picks uniformly among the legal moves.
type Engine struct {
	mu   sync.Mutex
	game *chess.Game
	pick func(n int) int
}

// New creates a builtin engine.
func New() *Engine {
	return &Engine{pick: rand.IntN}
}

// SetPosition parses fen and keeps it for the next BestMove.
func (e *Engine) SetPosition(_ context.Context, fen string) error {
	opt, err := chess.FEN(fen)
	if err != nil {
		return fmt.Errorf("%w: invalid fen %q: %w", domain.ErrEngineFailure, fen, err)
	}
	e.mu.Lock()
	e.game = chess.NewGame(opt)
	e.mu.Unlock()
	return nil
}

// BestMove returns a legal move for the side to move in UCI notation.
func (e *Engine) BestMove(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrEngineFailure, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.game == nil {
		return "", fmt.Errorf("%w: no position set", domain.ErrEngineFailure)
	}
	moves := e.game.ValidMoves()
	if len(moves) == 0 {
		return "", fmt.Errorf("%w: no legal move (%s)", domain.ErrEngineFailure, e.game.Position().Status())
	}
	m := moves[e.pick(len(moves))]
	return chess.UCINotation{}.Encode(e.game.Position(), m), nil
}

func (e *Engine) Close() error { return nil }
