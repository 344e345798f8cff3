package gate

import (
	"context"
	"testing"
	"time"
)

func TestShutdownGateDrainsWhenPendingReachesZero(t *testing.T) {
	g := NewShutdownGate(time.Second)

	done := g.Enter()
	if got := g.Pending(); got != 1 {
		t.Fatalf("Pending() = %d, want 1", got)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		done()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	g.Drain(ctx)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("Drain took %v, want to return shortly after pending hits 0", elapsed)
	}
	if got := g.Pending(); got != 0 {
		t.Fatalf("Pending() = %d, want 0 after drain", got)
	}
}

func TestShutdownGateDrainTimesOut(t *testing.T) {
	g := NewShutdownGate(50 * time.Millisecond)
	g.Enter()

	start := time.Now()
	g.Drain(context.Background())
	elapsed := time.Since(start)

	if elapsed < 40*time.Millisecond {
		t.Fatalf("Drain returned too early (%v) while a request was still pending", elapsed)
	}
	if got := g.Pending(); got != 1 {
		t.Fatalf("Pending() = %d, want 1 (request never completed)", got)
	}
}

func TestShutdownGateSignalSetsIsShuttingDown(t *testing.T) {
	g := NewShutdownGate(time.Second)
	if g.IsShuttingDown() {
		t.Fatal("IsShuttingDown() = true before Signal")
	}
	g.Signal()
	if !g.IsShuttingDown() {
		t.Fatal("IsShuttingDown() = false after Signal")
	}
	g.Signal()
	if !g.IsShuttingDown() {
		t.Fatal("IsShuttingDown() = false after a second Signal (should stay true)")
	}
}

func TestShutdownGateEnterDoneIsIdempotent(t *testing.T) {
	g := NewShutdownGate(time.Second)
	done := g.Enter()
	done()
	done()

	if got := g.Pending(); got != 0 {
		t.Fatalf("Pending() = %d, want 0 after calling done twice", got)
	}
}
