package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"chess-dispatch/internal/codec"
	"chess-dispatch/internal/domain"
	"chess-dispatch/internal/infra/memory"
	"chess-dispatch/internal/metrics"

	"github.com/google/uuid"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	queueKey     = "jobs"
	resultPrefix = "result:"
)

func newTestDispatcher(store domain.Store, timeout time.Duration) *Dispatcher {
	return NewDispatcher(store, Options{
		QueueKey:        queueKey,
		ResultKeyPrefix: resultPrefix,
		PollInterval:    5 * time.Millisecond,
		Timeout:         timeout,
	}, slog.New(slog.DiscardHandler))
}

func newJob(gameID, move, fen string) *domain.Job {
	return &domain.Job{ID: uuid.NewString(), GameID: gameID, Move: move, FEN: fen}
}

// respond pops one job and writes the result produced by reply.
func respond(t *testing.T, store domain.Store, reply func(*domain.Job) *domain.Result) {
	t.Helper()

	ctx := context.Background()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		raw, ok, err := store.Pop(ctx, queueKey)
		require.NoError(t, err)
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		job, err := codec.DecodeJob(raw)
		require.NoError(t, err)

		payload, err := codec.EncodeResult(reply(job))
		require.NoError(t, err)
		require.NoError(t, store.Set(ctx, domain.ResultKey(resultPrefix, job.ID), payload, 0))
		return
	}
	t.Error("no job was enqueued")
}

// pollOnly hides the Notifier implementation of the wrapped store.
type pollOnly struct{ domain.Store }

func TestDispatchRendezvous(t *testing.T) {
	t.Parallel()

	for name, store := range map[string]func() domain.Store{
		"notifier":  func() domain.Store { return memory.NewStore() },
		"poll only": func() domain.Store { return pollOnly{memory.NewStore()} },
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := store()
			d := newTestDispatcher(s, 5*time.Second)
			job := newJob("g1", "e2e4", domain.StartPosition)

			go respond(t, s, func(j *domain.Job) *domain.Result { return domain.OK(j.ID, "e7e5") })

			result, err := d.Dispatch(context.Background(), job)
			require.NoError(t, err)
			assert.Equal(t, "e7e5", result.BestMove)
			assert.Equal(t, job.ID, result.JobID)

			// The read was destructive.
			_, found, err := s.Get(context.Background(), domain.ResultKey(resultPrefix, job.ID))
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestDispatchEnqueuesEncodedJob(t *testing.T) {
	t.Parallel()

	s := memory.NewStore()
	d := newTestDispatcher(s, 20*time.Millisecond)
	job := newJob("g1", "e2e4", domain.StartPosition)

	_, err := d.Dispatch(context.Background(), job)
	require.ErrorIs(t, err, domain.ErrResultTimeout)

	raw, ok, err := s.Pop(context.Background(), queueKey)
	require.NoError(t, err)
	require.True(t, ok)

	queued, err := codec.DecodeJob(raw)
	require.NoError(t, err)
	assert.Equal(t, job, queued)
}

func TestDispatchTimesOut(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(memory.NewStore(), 50*time.Millisecond)

	start := time.Now()
	_, err := d.Dispatch(context.Background(), newJob("g1", "e2e4", domain.StartPosition))
	assert.ErrorIs(t, err, domain.ErrResultTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDispatchHonorsCallerCancellation(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(memory.NewStore(), 0)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err := d.Dispatch(ctx, newJob("g1", "e2e4", domain.StartPosition))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrResultTimeout)
}

func TestDispatchReportsWorkerFailure(t *testing.T) {
	t.Parallel()

	s := memory.NewStore()
	d := newTestDispatcher(s, 5*time.Second)

	go respond(t, s, func(j *domain.Job) *domain.Result {
		return domain.Failed(j.ID, "engine failure: bestmove (none)")
	})

	_, err := d.Dispatch(context.Background(), newJob("g1", "e2e4", "8/8/8/8/8/8/8/K6k w - - 0 1"))
	require.ErrorIs(t, err, domain.ErrJobFailed)

	var jfe *domain.JobFailedError
	require.True(t, errors.As(err, &jfe))
	assert.Equal(t, "engine failure: bestmove (none)", jfe.Reason)
}

func TestDispatchRejectsForeignResult(t *testing.T) {
	t.Parallel()

	s := memory.NewStore()
	d := newTestDispatcher(s, 5*time.Second)

	go respond(t, s, func(*domain.Job) *domain.Result { return domain.OK(uuid.NewString(), "e7e5") })

	_, err := d.Dispatch(context.Background(), newJob("g1", "e2e4", domain.StartPosition))
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)
}

func TestDispatchMalformedResult(t *testing.T) {
	t.Parallel()

	s := memory.NewStore()
	d := newTestDispatcher(s, 5*time.Second)
	job := newJob("g1", "e2e4", domain.StartPosition)

	require.NoError(t, s.Set(context.Background(), domain.ResultKey(resultPrefix, job.ID), "not json", 0))

	_, err := d.Dispatch(context.Background(), job)
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)
}

// flakyStore fails every Get after the first one.
type flakyStore struct {
	domain.Store
	gets atomic.Int32
}

func (f *flakyStore) Get(ctx context.Context, key string) (string, bool, error) {
	if f.gets.Add(1) > 1 {
		return "", false, errors.Join(domain.ErrStoreUnavailable, errors.New("connection reset"))
	}
	return f.Store.Get(ctx, key)
}

func TestDispatchSurfacesMidWaitStoreFailure(t *testing.T) {
	t.Parallel()

	s := &flakyStore{Store: memory.NewStore()}
	d := newTestDispatcher(s, 0)

	_, err := d.Dispatch(context.Background(), newJob("g1", "e2e4", domain.StartPosition))
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, int32(2), s.gets.Load(), "a failed read must not be retried")
}

func TestDispatchSurfacesPushFailure(t *testing.T) {
	t.Parallel()

	s := memory.NewStore()
	require.NoError(t, s.Close())
	d := newTestDispatcher(s, time.Second)

	_, err := d.Dispatch(context.Background(), newJob("g1", "e2e4", domain.StartPosition))
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestIndependentGamesDoNotCrossContaminate(t *testing.T) {
	t.Parallel()

	s := memory.NewStore()
	d := newTestDispatcher(s, 5*time.Second)

	jobA := newJob("game-a", "e2e4", domain.StartPosition)
	jobB := newJob("game-b", "d2d4", domain.StartPosition)

	replies := map[string]string{"game-a": "e7e5", "game-b": "d7d5"}
	go func() {
		respond(t, s, func(j *domain.Job) *domain.Result { return domain.OK(j.ID, replies[j.GameID]) })
		respond(t, s, func(j *domain.Job) *domain.Result { return domain.OK(j.ID, replies[j.GameID]) })
	}()

	type outcome struct {
		result *domain.Result
		err    error
	}
	resA := make(chan outcome, 1)
	resB := make(chan outcome, 1)
	go func() { r, err := d.Dispatch(context.Background(), jobA); resA <- outcome{r, err} }()
	go func() { r, err := d.Dispatch(context.Background(), jobB); resB <- outcome{r, err} }()

	a := <-resA
	b := <-resB
	require.NoError(t, a.err)
	require.NoError(t, b.err)
	assert.Equal(t, "e7e5", a.result.BestMove)
	assert.Equal(t, "d7d5", b.result.BestMove)
	assert.Equal(t, jobA.ID, a.result.JobID)
	assert.Equal(t, jobB.ID, b.result.JobID)
}

func latencySamples(t *testing.T) uint64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.JobLatency.Write(&m))
	return m.GetHistogram().GetSampleCount()
}

// Not parallel: the latency histogram is process wide.
func TestJobLatencyCoversOnlyTheWait(t *testing.T) {
	store := memory.NewStore()
	d := newTestDispatcher(store, time.Second)

	before := latencySamples(t)
	_, err := d.Dispatch(context.Background(), &domain.Job{ID: "job-1", GameID: "g1", Move: "e2e4", FEN: domain.StartPosition})
	require.ErrorIs(t, err, domain.ErrMalformedPayload)
	assert.Equal(t, before, latencySamples(t), "a job rejected before the wait must not be timed")

	n, err := store.Len(context.Background(), queueKey)
	require.NoError(t, err)
	assert.Zero(t, n)

	go respond(t, store, func(j *domain.Job) *domain.Result { return domain.OK(j.ID, "e7e5") })
	_, err = d.Dispatch(context.Background(), newJob("g1", "e2e4", domain.StartPosition))
	require.NoError(t, err)
	assert.Equal(t, before+1, latencySamples(t))
}
