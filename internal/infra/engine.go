package infra

import (
	"context"
	"fmt"
	"log/slog"

	"chess-dispatch/internal/config"
	"chess-dispatch/internal/domain"
	"chess-dispatch/internal/infra/builtin"
	"chess-dispatch/internal/infra/stockfish"
)

// OpenEngine starts the engine named by cfg.EngineKind.
func OpenEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.Engine, error) {
	switch cfg.EngineKind {
	case config.EngineStockfish:
		return stockfish.New(ctx, stockfish.Options{
			Path:       cfg.StockfishExecutable,
			Threads:    cfg.EngineThreads,
			SkillLevel: cfg.EngineSkillLevel,
			Depth:      cfg.EngineDepth,
			MoveTime:   cfg.EngineMoveTime,
		}, logger)
	case config.EngineBuiltin:
		return builtin.New(), nil
	default:
		return nil, fmt.Errorf("unknown engine kind %q", cfg.EngineKind)
	}
}
