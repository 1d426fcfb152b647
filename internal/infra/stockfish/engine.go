// Package stockfish drives a UCI chess engine process over stdin/stdout.
package stockfish

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"chess-dispatch/internal/domain"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var errExited = errors.New("engine process exited")

// Options configure the engine process and its search.
type Options struct {
	Path       string
	Threads    int
	SkillLevel int
	// Depth limits the search when MoveTime is zero.
	Depth    int
	MoveTime time.Duration
	// StartTimeout bounds the uci/isready handshake of a fresh process.
	StartTimeout time.Duration
	// MaxRestarts caps consecutive start attempts before giving up on a call.
	MaxRestarts uint64
}

func (o Options) withDefaults() Options {
	if o.Threads <= 0 {
		o.Threads = 1
	}
	if o.Depth <= 0 && o.MoveTime <= 0 {
		o.Depth = 15
	}
	if o.StartTimeout <= 0 {
		o.StartTimeout = 10 * time.Second
	}
	if o.MaxRestarts == 0 {
		o.MaxRestarts = 3
	}
	return o
}

// Engine is a domain.Engine backed by a long-running UCI process. A dead process is
// replaced on the next call.
type Engine struct {
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer

	mu     sync.Mutex
	proc   *process
	fen    string
	synced bool
}

type process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string
	done  chan struct{}
}

// New starts the engine process and completes the UCI handshake.
func New(ctx context.Context, opts Options, logger *slog.Logger) (*Engine, error) {
	e := &Engine{
		opts:   opts.withDefaults(),
		logger: logger.With("component", "stockfish", "path", opts.Path),
		tracer: otel.Tracer("chess-dispatch-stockfish"),
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensure(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// SetPosition loads fen into the engine for the next BestMove call.
func (e *Engine) SetPosition(ctx context.Context, fen string) error {
	ctx, span := e.tracer.Start(ctx, "engine.stockfish.SetPosition", trace.WithAttributes(attribute.String("fen", fen)))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.fen = fen
	e.synced = false
	if err := e.ensure(ctx); err != nil {
		return e.spanErr(span, err)
	}
	if err := e.sync(ctx); err != nil {
		return e.spanErr(span, err)
	}
	return nil
}

// BestMove searches the current position and returns the engine's move in UCI
// notation.
func (e *Engine) BestMove(ctx context.Context) (string, error) {
	ctx, span := e.tracer.Start(ctx, "engine.stockfish.BestMove")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.fen == "" {
		return "", e.spanErr(span, fmt.Errorf("%w: no position set", domain.ErrEngineFailure))
	}
	if err := e.ensure(ctx); err != nil {
		return "", e.spanErr(span, err)
	}
	if !e.synced {
		if err := e.sync(ctx); err != nil {
			return "", e.spanErr(span, err)
		}
	}

	goCmd := fmt.Sprintf("go depth %d", e.opts.Depth)
	if e.opts.MoveTime > 0 {
		goCmd = fmt.Sprintf("go movetime %d", e.opts.MoveTime.Milliseconds())
	}
	if err := e.send(goCmd); err != nil {
		return "", e.spanErr(span, err)
	}
	line, err := e.readUntil(ctx, "bestmove")
	if err != nil {
		return "", e.spanErr(span, err)
	}

	fields := strings.Fields(line)
	if len(fields) < 2 || fields[1] == "(none)" {
		return "", e.spanErr(span, fmt.Errorf("%w: no move for position %q", domain.ErrEngineFailure, e.fen))
	}
	span.SetAttributes(attribute.String("best_move", fields[1]))
	return fields[1], nil
}

// Close asks the engine to quit and waits for the process to exit.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.proc == nil {
		return nil
	}
	p := e.proc
	_, _ = io.WriteString(p.stdin, "quit\n")
	_ = p.stdin.Close()
	go func() {
		for range p.lines {
		}
	}()
	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		_ = p.cmd.Process.Kill()
		<-p.done
	}
	e.proc = nil
	return nil
}

// ensure makes sure a live, handshaken process exists, starting one with
// exponential backoff if needed.
func (e *Engine) ensure(ctx context.Context) error {
	if e.proc != nil {
		select {
		case <-e.proc.done:
			e.logger.Warn("engine process died, restarting")
			e.proc = nil
			e.synced = false
		default:
			return nil
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), e.opts.MaxRestarts), ctx)
	err := backoff.RetryNotify(func() error {
		err := e.start(ctx)
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		e.logger.Warn("engine start failed, retrying", "error", err, "backoff", wait)
	})
	if err != nil {
		return fmt.Errorf("%w: start %s: %w", domain.ErrEngineFailure, e.opts.Path, err)
	}
	return nil
}

func (e *Engine) start(ctx context.Context) error {
	cmd := exec.Command(e.opts.Path)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	p := &process{cmd: cmd, stdin: stdin, lines: make(chan string, 64), done: make(chan struct{})}
	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			p.lines <- scanner.Text()
		}
		close(p.lines)
		_ = cmd.Wait()
		close(p.done)
	}()
	e.proc = p

	hctx, cancel := context.WithTimeout(ctx, e.opts.StartTimeout)
	defer cancel()
	steps := []func() error{
		func() error { return e.send("uci") },
		func() error { _, err := e.readUntil(hctx, "uciok"); return err },
		func() error { return e.send(fmt.Sprintf("setoption name Threads value %d", e.opts.Threads)) },
		func() error { return e.send(fmt.Sprintf("setoption name Skill Level value %d", e.opts.SkillLevel)) },
		func() error { return e.ready(hctx) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			e.kill()
			return err
		}
	}
	e.logger.Info("engine started", "pid", cmd.Process.Pid, "threads", e.opts.Threads, "skill_level", e.opts.SkillLevel)
	return nil
}

func (e *Engine) sync(ctx context.Context) error {
	if err := e.send("ucinewgame"); err != nil {
		return err
	}
	if err := e.send("position fen " + e.fen); err != nil {
		return err
	}
	if err := e.ready(ctx); err != nil {
		return err
	}
	e.synced = true
	return nil
}

func (e *Engine) ready(ctx context.Context) error {
	if err := e.send("isready"); err != nil {
		return err
	}
	_, err := e.readUntil(ctx, "readyok")
	return err
}

func (e *Engine) send(cmd string) error {
	if _, err := io.WriteString(e.proc.stdin, cmd+"\n"); err != nil {
		e.kill()
		return fmt.Errorf("%w: write %q: %w", domain.ErrEngineFailure, cmd, err)
	}
	return nil
}

// readUntil consumes output until a line starting with prefix. A cancelled ctx
// kills the process since its output can no longer be trusted.
func (e *Engine) readUntil(ctx context.Context, prefix string) (string, error) {
	p := e.proc
	for {
		select {
		case <-ctx.Done():
			e.kill()
			return "", fmt.Errorf("%w: waiting for %s: %w", domain.ErrEngineFailure, prefix, context.Cause(ctx))
		case line, ok := <-p.lines:
			if !ok {
				e.kill()
				return "", fmt.Errorf("%w: waiting for %s: %w", domain.ErrEngineFailure, prefix, errExited)
			}
			if strings.HasPrefix(line, prefix) {
				return line, nil
			}
		}
	}
}

func (e *Engine) kill() {
	if e.proc == nil {
		return
	}
	_ = e.proc.cmd.Process.Kill()
	// Drain so the reader goroutine can reach Wait.
	go func(p *process) {
		for range p.lines {
		}
	}(e.proc)
	<-e.proc.done
	e.proc = nil
	e.synced = false
}

func (e *Engine) spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "engine call failed")
	return err
}
