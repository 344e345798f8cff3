// Package agentd is the in-container supervisor (spec.md C2): it forwards
// the named-pipe command stream into a Claude Code CLI subprocess's stdin,
// relays stdout back out through the response pipe, mirrors stderr to its
// own log, and restarts the subprocess with backoff if it dies. It also
// exposes a gRPC health service so the host can probe liveness without
// shelling into the container.
package agentd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cc-bridge/cc-bridge/internal/bridgeerr"
	"github.com/cc-bridge/cc-bridge/internal/pipe"
)

// Config parameterizes one supervised Claude Code process.
type Config struct {
	InstanceName string
	PipeDir      string
	Command      string   // CLI binary, e.g. "claude"
	Args         []string
	HealthAddr   string // "" disables the gRPC probe
	MaxRestarts  int
}

// Supervisor owns one subprocess's lifecycle plus its pipe channel.
type Supervisor struct {
	cfg     Config
	channel *pipe.Channel
	logger  *slog.Logger

	mu           sync.Mutex
	restartCount int
	lastExit     error
}

// New builds a Supervisor and creates its FIFO pair.
func New(cfg Config) (*Supervisor, error) {
	ch := pipe.New(cfg.InstanceName, cfg.PipeDir)
	if err := ch.Create(); err != nil {
		return nil, err
	}
	return &Supervisor{
		cfg:     cfg,
		channel: ch,
		logger:  slog.Default().With("instance", cfg.InstanceName),
	}, nil
}

// Run drives the supervised process until ctx is cancelled or the restart
// budget is exhausted. It runs up to two long-lived tasks under one errgroup:
// the restart loop (which itself forwards stdin/stdout/stderr per attempt)
// and, when HealthAddr is set, the health probe server.
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.restartLoop(ctx)
	})

	if s.cfg.HealthAddr != "" {
		probe := NewHealthProbe(s)
		g.Go(func() error {
			return probe.Serve(ctx, s.cfg.HealthAddr)
		})
	}

	err := g.Wait()
	s.channel.Close()
	return err
}

func (s *Supervisor) restartLoop(ctx context.Context) error {
	backoff := NewBackoff()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		s.mu.Lock()
		attempt := s.restartCount
		s.mu.Unlock()

		if s.cfg.MaxRestarts > 0 && attempt >= s.cfg.MaxRestarts {
			return bridgeerr.New(bridgeerr.Internal, fmt.Sprintf("supervised process exceeded %d restarts", s.cfg.MaxRestarts))
		}

		runErr := s.runOnce(ctx)

		s.mu.Lock()
		s.restartCount++
		s.lastExit = runErr
		s.mu.Unlock()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Warn("claude process exited, restarting", "error", runErr, "attempt", attempt+1)

		wait := backoff.Next(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// runOnce starts the subprocess and forwards data until it exits or ctx is
// cancelled, via three concurrent tasks: command-in, response-out, stderr.
func (s *Supervisor) runOnce(ctx context.Context) error {
	procCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(procCtx, s.cfg.Command, s.cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.Internal, "open stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.Internal, "open stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.Internal, "open stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return bridgeerr.Wrap(bridgeerr.Internal, "start claude process", err)
	}

	g, gctx := errgroup.WithContext(procCtx)

	g.Go(func() error { return s.forwardCommands(gctx, stdin) })
	g.Go(func() error { return s.forwardResponses(gctx, stdout) })
	g.Go(func() error { return s.relayStderr(gctx, stderr) })

	waitErr := cmd.Wait()
	cancel()
	_ = g.Wait()

	return waitErr
}

// forwardCommands reads newline-terminated commands from the FIFO and
// writes each one to the subprocess's stdin.
func (s *Supervisor) forwardCommands(ctx context.Context, stdin io.WriteCloser) error {
	defer stdin.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		for line, err := range s.channel.ReadCommands(ctx, 24*time.Hour) {
			if err != nil {
				if bridgeerr.Is(err, bridgeerr.Timeout) {
					continue
				}
				return err
			}
			if _, writeErr := io.WriteString(stdin, line+"\n"); writeErr != nil {
				return bridgeerr.Wrap(bridgeerr.Internal, "write to claude stdin", writeErr)
			}
		}
	}
}

// forwardResponses streams subprocess stdout into the response FIFO.
func (s *Supervisor) forwardResponses(ctx context.Context, stdout io.Reader) error {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := s.channel.WriteResponse(ctx, scanner.Text(), 5*time.Second); err != nil {
			s.logger.Warn("failed to relay response line", "error", err)
		}
	}
	return scanner.Err()
}

// relayStderr mirrors the subprocess's stderr into the supervisor's own log.
func (s *Supervisor) relayStderr(ctx context.Context, stderr io.Reader) error {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		s.logger.Warn("claude stderr", "line", scanner.Text())
	}
	return scanner.Err()
}

// Stats returns the current restart count and last exit error, for the
// health probe.
func (s *Supervisor) Stats() (restarts int, lastExit error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartCount, s.lastExit
}
