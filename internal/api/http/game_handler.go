// Package http exposes the game API over net/http.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"chess-dispatch/internal/domain"
	"chess-dispatch/internal/metrics"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 4 << 10

// Games is the use case behind the handler.
type Games interface {
	StartGame(ctx context.Context) string
	SubmitMove(ctx context.Context, gameID, move, fen string) (string, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// GameHandler serves /start, /move and /healthz.
type GameHandler struct {
	games    Games
	store    Pinger
	logger   *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer
	limiter  *rate.Limiter
	workers  func() []string
	leader   func() bool
}

// Option customizes a GameHandler.
type Option func(*GameHandler)

// WithRateLimit limits POST /move to limit requests per second with the given
// burst. A non-positive limit disables limiting.
func WithRateLimit(limit float64, burst int) Option {
	return func(h *GameHandler) {
		if limit > 0 {
			h.limiter = rate.NewLimiter(rate.Limit(limit), burst)
		}
	}
}

// WithWorkers makes /healthz report the addresses of the registered workers.
func WithWorkers(addrs func() []string) Option {
	return func(h *GameHandler) { h.workers = addrs }
}

// WithLeader makes /healthz report whether this node runs the scheduler.
func WithLeader(isLeader func() bool) Option {
	return func(h *GameHandler) { h.leader = isLeader }
}

// NewGameHandler creates a new GameHandler.
func NewGameHandler(games Games, store Pinger, logger *slog.Logger, opts ...Option) *GameHandler {
	h := &GameHandler{
		games:    games,
		store:    store,
		logger:   logger.With("component", "game-handler"),
		validate: validator.New(),
		tracer:   otel.Tracer("chess-dispatch-api"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// A helper struct to capture the status code
type instrumentedResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *instrumentedResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// RegisterRoutes registers the game routes on mux.
func (h *GameHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/start", h.instrument("/start", http.MethodGet, h.handleStart))
	mux.Handle("/move", h.instrument("/move", http.MethodPost, h.handleMove))
	mux.Handle("/healthz", h.instrument("/healthz", http.MethodGet, h.handleHealth))
}

// instrument wraps a route with a span, the request counter and a method check.
func (h *GameHandler) instrument(path, method string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "HTTP "+r.Method+" "+path, trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		))
		defer span.End()

		r = r.WithContext(ctx)

		iw := &instrumentedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		if r.Method != method {
			iw.Header().Set("Allow", method)
			writeError(iw, http.StatusMethodNotAllowed, "method not allowed")
		} else {
			next.ServeHTTP(iw, r)
		}

		metrics.HttpRequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(iw.statusCode)).Inc()

		span.SetAttributes(attribute.Int("http.status_code", iw.statusCode))
		if iw.statusCode >= 500 {
			span.SetStatus(codes.Error, "Server Error")
		}
	})
}

func (h *GameHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	gameID := h.games.StartGame(r.Context())
	writeJSON(w, http.StatusOK, StartResponse{GameID: gameID})
}

func (h *GameHandler) handleMove(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.SubmitMove")
	defer span.End()

	if h.limiter != nil && !h.limiter.Allow() {
		span.SetStatus(codes.Error, "rate limited")
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	var req MoveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		span.SetStatus(codes.Error, "Failed to decode request body")
		span.RecordError(err)
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.validate.Struct(req); err != nil {
		span.SetStatus(codes.Error, "Validation failed")
		span.RecordError(err)
		var details []string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				details = append(details, "Field '"+fe.Field()+"' failed on the '"+fe.Tag()+"' tag.")
			}
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Details: details})
		return
	}
	span.SetAttributes(attribute.String("game.id", req.GameID), attribute.String("move", req.Move))

	best, err := h.games.SubmitMove(ctx, req.GameID, req.Move, req.FEN)
	if err != nil {
		status := statusFor(err)
		span.SetStatus(codes.Error, "Failed to compute move")
		span.RecordError(err)
		h.logger.Error("error submitting move", "game_id", req.GameID, "move", req.Move, "status", status, "error", err)
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, MoveResponse{BestMove: best})
}

func (h *GameHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if h.workers != nil {
		resp.WorkerAddrs = h.workers()
		n := len(resp.WorkerAddrs)
		resp.Workers = &n
	}
	if h.leader != nil {
		leader := h.leader()
		resp.Leader = &leader
	}
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", "error", err)
		resp.Status = "unavailable"
		resp.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusFor maps dispatch errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrResultTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrJobFailed), errors.Is(err, domain.ErrMalformedPayload):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
