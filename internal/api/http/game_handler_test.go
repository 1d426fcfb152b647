package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chess-dispatch/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGames struct {
	gameID string
	best   string
	err    error
	calls  []MoveRequest
}

func (f *fakeGames) StartGame(context.Context) string { return f.gameID }

func (f *fakeGames) SubmitMove(_ context.Context, gameID, move, fen string) (string, error) {
	f.calls = append(f.calls, MoveRequest{GameID: gameID, Move: move, FEN: fen})
	return f.best, f.err
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newServer(games Games, store Pinger, opts ...Option) *http.ServeMux {
	mux := http.NewServeMux()
	NewGameHandler(games, store, slog.New(slog.DiscardHandler), opts...).RegisterRoutes(mux)
	return mux
}

func do(t *testing.T, mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestStart(t *testing.T) {
	mux := newServer(&fakeGames{gameID: "g-123"}, fakePinger{})

	rec := do(t, mux, http.MethodGet, "/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp StartResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "g-123", resp.GameID)
}

func TestMove(t *testing.T) {
	games := &fakeGames{best: "e7e5"}
	mux := newServer(games, fakePinger{})

	rec := do(t, mux, http.MethodPost, "/move", `{"game_id":"g1","move":"e2e4","fen":"startpos"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MoveResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "e7e5", resp.BestMove)
	assert.Equal(t, []MoveRequest{{GameID: "g1", Move: "e2e4", FEN: "startpos"}}, games.calls)
}

func TestMoveAcceptsFEN(t *testing.T) {
	games := &fakeGames{best: "c7c5"}
	mux := newServer(games, fakePinger{})

	body := `{"game_id":"g1","move":"e2e4","fen":"rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"}`
	rec := do(t, mux, http.MethodPost, "/move", body)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMovePassesPositionThrough(t *testing.T) {
	longGameID := strings.Repeat("g", 65)
	tests := []struct {
		name   string
		gameID string
		fen    string
	}{
		{"placement only", "g1", "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR"},
		{"four fields", "g1", "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq -"},
		{"long game id", longGameID, "startpos"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			games := &fakeGames{best: "e7e5"}
			body, err := json.Marshal(MoveRequest{GameID: tt.gameID, Move: "e2e4", FEN: tt.fen})
			require.NoError(t, err)

			rec := do(t, newServer(games, fakePinger{}), http.MethodPost, "/move", string(body))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, []MoveRequest{{GameID: tt.gameID, Move: "e2e4", FEN: tt.fen}}, games.calls)
		})
	}
}

func TestMoveRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing game", `{"move":"e2e4","fen":"startpos"}`},
		{"missing move", `{"game_id":"g1","fen":"startpos"}`},
		{"long move", `{"game_id":"g1","move":"e2e4e5e6e7","fen":"startpos"}`},
		{"missing fen", `{"game_id":"g1","move":"e2e4"}`},
		{"empty fen", `{"game_id":"g1","move":"e2e4","fen":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			games := &fakeGames{best: "e7e5"}
			rec := do(t, newServer(games, fakePinger{}), http.MethodPost, "/move", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, games.calls)

			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestMoveErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"timeout", domain.ErrResultTimeout, http.StatusGatewayTimeout},
		{"store down", errors.Join(domain.ErrStoreUnavailable, errors.New("connection refused")), http.StatusServiceUnavailable},
		{"job failed", &domain.JobFailedError{JobID: "j1", Reason: "engine exited"}, http.StatusBadGateway},
		{"malformed", domain.ErrMalformedPayload, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newServer(&fakeGames{err: tt.err}, fakePinger{})
			rec := do(t, mux, http.MethodPost, "/move", `{"game_id":"g1","move":"e2e4","fen":"startpos"}`)
			assert.Equal(t, tt.want, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.err.Error(), resp.Error)
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	mux := newServer(&fakeGames{}, fakePinger{})

	rec := do(t, mux, http.MethodGet, "/move", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))

	rec = do(t, mux, http.MethodPost, "/start", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMoveRateLimit(t *testing.T) {
	mux := newServer(&fakeGames{best: "e7e5"}, fakePinger{}, WithRateLimit(0.001, 1))
	body := `{"game_id":"g1","move":"e2e4","fen":"startpos"}`

	assert.Equal(t, http.StatusOK, do(t, mux, http.MethodPost, "/move", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, mux, http.MethodPost, "/move", body).Code)
}

func TestHealth(t *testing.T) {
	workers := func() []string { return []string{":50052", ":50053", ":50054"} }
	leader := func() bool { return true }
	rec := do(t, newServer(&fakeGames{}, fakePinger{}, WithWorkers(workers), WithLeader(leader)), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	require.NotNil(t, resp.Workers)
	assert.Equal(t, 3, *resp.Workers)
	assert.Equal(t, []string{":50052", ":50053", ":50054"}, resp.WorkerAddrs)
	require.NotNil(t, resp.Leader)
	assert.True(t, *resp.Leader)

	rec = do(t, newServer(&fakeGames{}, fakePinger{}), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = HealthResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Nil(t, resp.Workers)
	assert.Nil(t, resp.Leader)

	rec = do(t, newServer(&fakeGames{}, fakePinger{err: domain.ErrStoreUnavailable}), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
