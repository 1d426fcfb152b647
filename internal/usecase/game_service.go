package usecase

import (
	"context"
	"log/slog"
	"time"

	"chess-dispatch/internal/domain"
	"chess-dispatch/internal/metrics"
	"chess-dispatch/internal/tracing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MoveDispatcher hands a job to the worker pool and returns its result.
type MoveDispatcher interface {
	Dispatch(ctx context.Context, job *domain.Job) (*domain.Result, error)
}

// GameService implements the game-facing operations of the backend.
type GameService struct {
	dispatcher MoveDispatcher
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// NewGameService creates a new GameService instance.
func NewGameService(dispatcher MoveDispatcher, logger *slog.Logger) *GameService {
	return &GameService{
		dispatcher: dispatcher,
		logger:     logger.With("component", "game-service"),
		tracer:     otel.Tracer("chess-dispatch-usecase"),
		now:        time.Now,
	}
}

// StartGame returns a fresh opaque game identifier. Games are not tracked anywhere;
// the id only ties moves together in logs and traces.
func (s *GameService) StartGame(ctx context.Context) string {
	_, span := s.tracer.Start(ctx, "service.StartGame")
	defer span.End()

	metrics.APIRequestsTotal.Inc()
	gameID := uuid.NewString()
	span.SetAttributes(attribute.String("game.id", gameID))

	s.logger.Info("new game started", "game_id", gameID)
	return gameID
}

// SubmitMove enqueues the position reached after move and blocks until a worker
// replies with the engine's best move.
func (s *GameService) SubmitMove(ctx context.Context, gameID, move, fen string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "service.SubmitMove")
	defer span.End()

	metrics.APIRequestsTotal.Inc()

	job := &domain.Job{
		ID:         uuid.NewString(),
		GameID:     gameID,
		Move:       move,
		FEN:        fen,
		EnqueuedAt: s.now().UTC(),
	}
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("game.id", gameID),
		attribute.String("move", move),
	)
	// Inject after the span starts so the worker links to this request.
	job.Trace = tracing.Inject(ctx)

	s.logger.Info("move received", "game_id", gameID, "move", move, "fen", fen, "job_id", job.ID)

	result, err := s.dispatcher.Dispatch(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to dispatch move")
		s.logger.Error("move failed", "game_id", gameID, "job_id", job.ID, "error", err)
		return "", err
	}

	span.SetAttributes(attribute.String("best_move", result.BestMove))
	s.logger.Info("engine replied", "game_id", gameID, "job_id", job.ID, "best_move", result.BestMove)
	return result.BestMove, nil
}
