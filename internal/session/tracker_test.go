package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cc-bridge/cc-bridge/internal/bridgeerr"
	"github.com/cc-bridge/cc-bridge/internal/domain"
)

func TestTrackerStartRequestRejectsConcurrentTurn(t *testing.T) {
	tr := New(Config{})

	if _, err := tr.StartRequest("claude-1", "r1", "hi"); err != nil {
		t.Fatalf("first StartRequest returned error: %v", err)
	}
	if _, err := tr.StartRequest("claude-1", "r2", "again"); !bridgeerr.Is(err, bridgeerr.Conflict) {
		t.Fatalf("second StartRequest error = %v, want a Conflict error", err)
	}
}

func TestTrackerCompleteRequestClearsActiveTurn(t *testing.T) {
	tr := New(Config{})
	tr.StartRequest("claude-1", "r1", "hi")

	if ok := tr.CompleteRequest("claude-1", "r1", "done", ""); !ok {
		t.Fatal("CompleteRequest returned false for a known active turn")
	}

	s := tr.GetSession("claude-1")
	if s.Status != domain.SessionActive {
		t.Fatalf("Status = %v, want SessionActive (completing a turn is activity, not idleness)", s.Status)
	}

	if _, err := tr.StartRequest("claude-1", "r2", "next"); err != nil {
		t.Fatalf("StartRequest after completion should succeed, got: %v", err)
	}
}

func TestTrackerCheckTimeoutsMarksIdleAfterIdleTimeout(t *testing.T) {
	tr := New(Config{IdleTimeout: 10 * time.Millisecond})
	tr.StartRequest("claude-1", "r1", "hi")
	tr.CompleteRequest("claude-1", "r1", "done", "")

	if s := tr.GetSession("claude-1"); s.Status != domain.SessionActive {
		t.Fatalf("Status right after completion = %v, want SessionActive", s.Status)
	}

	time.Sleep(20 * time.Millisecond)
	tr.checkTimeouts()

	if s := tr.GetSession("claude-1"); s.Status != domain.SessionIdle {
		t.Fatalf("Status after the idle sweep = %v, want SessionIdle", s.Status)
	}
}

func TestTrackerCompleteRequestUnknownInstance(t *testing.T) {
	tr := New(Config{})
	if ok := tr.CompleteRequest("missing", "r1", "x", ""); ok {
		t.Fatal("CompleteRequest should return false for an instance with no session")
	}
}

func TestTrackerCheckTimeoutsFailsStaleTurnAndInvokesCallback(t *testing.T) {
	var mu sync.Mutex
	var called []string

	tr := New(Config{
		RequestTimeout: 10 * time.Millisecond,
		OnTimeout: func(instanceName, requestID string) {
			mu.Lock()
			defer mu.Unlock()
			called = append(called, instanceName+":"+requestID)
		},
	})
	tr.StartRequest("claude-1", "r1", "hi")
	time.Sleep(20 * time.Millisecond)

	tr.checkTimeouts()

	s := tr.GetSession("claude-1")
	if s.ActiveTurn() != nil {
		t.Fatal("active turn should have been failed out by the timeout sweep")
	}
	if s.Status != domain.SessionActive {
		t.Fatalf("Status = %v, want SessionActive (the timeout sweep only completes the turn, it doesn't touch session status)", s.Status)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(called) != 1 || called[0] != "claude-1:r1" {
		t.Fatalf("onTimeout callbacks = %v, want one call for claude-1:r1", called)
	}
}

func TestTrackerCleanupInactiveSessions(t *testing.T) {
	tr := New(Config{})
	tr.CreateSession("idle-one")
	tr.StartRequest("busy-one", "r1", "hi")

	removed := tr.CleanupInactiveSessions(0)

	if len(removed) != 1 || removed[0] != "idle-one" {
		t.Fatalf("removed = %v, want only idle-one (busy-one has an active turn)", removed)
	}
	if tr.GetSession("idle-one") != nil {
		t.Fatal("idle-one should have been removed")
	}
	if tr.GetSession("busy-one") == nil {
		t.Fatal("busy-one should still be tracked since it has an active turn")
	}
}

func TestTrackerStartStopsOnContextCancel(t *testing.T) {
	tr := New(Config{MonitorTick: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		tr.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}
