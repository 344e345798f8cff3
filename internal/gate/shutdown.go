package gate

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ShutdownGate tracks in-flight webhook requests so the server can drain
// them before exiting, mirroring the original's GracefulShutdown.
type ShutdownGate struct {
	timeout time.Duration
	logger  *slog.Logger

	mu           sync.Mutex
	pending      int
	shuttingDown bool
}

// NewShutdownGate builds a ShutdownGate with the given drain timeout.
func NewShutdownGate(timeout time.Duration) *ShutdownGate {
	return &ShutdownGate{timeout: timeout, logger: slog.Default()}
}

// Signal marks the gate as shutting down, idempotently. Once set,
// IsShuttingDown reports true for the lifetime of the gate.
func (g *ShutdownGate) Signal() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.shuttingDown = true
}

// IsShuttingDown reports whether Signal has been called. Callers must check
// this before Enter, per the original's track_requests middleware, so new
// requests are refused with 503 rather than counted as in-flight.
func (g *ShutdownGate) IsShuttingDown() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.shuttingDown
}

// Enter marks one request as in-flight; the caller must call the returned
// func when the request completes.
func (g *ShutdownGate) Enter() func() {
	g.mu.Lock()
	g.pending++
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.pending--
			g.mu.Unlock()
		})
	}
}

// Pending returns the current in-flight request count.
func (g *ShutdownGate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

// Drain blocks until no requests are in flight, the timeout elapses, or ctx
// is cancelled, logging progress every 5 seconds as the original does.
func (g *ShutdownGate) Drain(ctx context.Context) {
	deadline := time.Now().Add(g.timeout)
	lastLog := time.Now()

	for {
		if g.Pending() == 0 {
			g.logger.Info("shutdown drain complete", "pending", 0)
			return
		}
		if time.Now().After(deadline) {
			g.logger.Warn("shutdown drain timed out", "pending", g.Pending())
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
		if time.Since(lastLog) >= 5*time.Second {
			g.logger.Info("waiting for pending requests", "pending", g.Pending())
			lastLog = time.Now()
		}
	}
}
