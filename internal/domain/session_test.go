package domain

import (
	"testing"
	"time"
)

func TestSessionAddTurnEvictsOldest(t *testing.T) {
	s := &Session{MaxHistory: 2}
	s.AddTurn(&ConversationTurn{RequestID: "1"})
	s.AddTurn(&ConversationTurn{RequestID: "2"})
	s.AddTurn(&ConversationTurn{RequestID: "3"})

	if len(s.Turns) != 2 {
		t.Fatalf("len(Turns) = %d, want 2", len(s.Turns))
	}
	if s.Turns[0].RequestID != "2" || s.Turns[1].RequestID != "3" {
		t.Fatalf("unexpected turns after eviction: %+v", s.Turns)
	}
	if s.ActiveTurnID != "3" {
		t.Fatalf("ActiveTurnID = %q, want 3", s.ActiveTurnID)
	}
}

func TestSessionCompleteTurnClearsActivePointer(t *testing.T) {
	s := &Session{}
	s.AddTurn(&ConversationTurn{RequestID: "r1", Status: TurnActive})

	if ok := s.CompleteTurn(time.Now(), "r1", "done", ""); !ok {
		t.Fatal("CompleteTurn returned false for a known active turn")
	}
	if s.ActiveTurnID != "" {
		t.Fatalf("ActiveTurnID = %q, want empty after completion", s.ActiveTurnID)
	}
	if s.ActiveTurn() != nil {
		t.Fatal("ActiveTurn should be nil once the turn completes")
	}
	if s.CompletedRequests != 1 || s.FailedRequests != 0 {
		t.Fatalf("counters = %d/%d, want 1/0", s.CompletedRequests, s.FailedRequests)
	}
}

func TestSessionCompleteTurnIsIdempotent(t *testing.T) {
	s := &Session{}
	s.AddTurn(&ConversationTurn{RequestID: "r1", Status: TurnActive})

	if ok := s.CompleteTurn(time.Now(), "r1", "first", ""); !ok {
		t.Fatal("first CompleteTurn should succeed")
	}
	if ok := s.CompleteTurn(time.Now(), "r1", "second", ""); ok {
		t.Fatal("second CompleteTurn on an already-terminal turn should be a no-op")
	}
	if s.Turns[0].Response != "first" {
		t.Fatalf("Response = %q, want unchanged %q", s.Turns[0].Response, "first")
	}
}

func TestSessionCompleteTurnUnknownRequest(t *testing.T) {
	s := &Session{}
	if ok := s.CompleteTurn(time.Now(), "missing", "", ""); ok {
		t.Fatal("CompleteTurn should return false for an unknown request id")
	}
}

func TestSessionSuccessRate(t *testing.T) {
	s := &Session{TotalRequests: 4, CompletedRequests: 4, FailedRequests: 1}
	if got := s.SuccessRate(); got != 0.75 {
		t.Fatalf("SuccessRate() = %v, want 0.75", got)
	}

	empty := &Session{}
	if got := empty.SuccessRate(); got != 1.0 {
		t.Fatalf("SuccessRate() on empty session = %v, want 1.0", got)
	}
}

func TestSessionRecentHistory(t *testing.T) {
	s := &Session{}
	for _, id := range []string{"1", "2", "3", "4"} {
		s.AddTurn(&ConversationTurn{RequestID: id})
	}

	got := s.RecentHistory(2)
	if len(got) != 2 || got[0].RequestID != "3" || got[1].RequestID != "4" {
		t.Fatalf("RecentHistory(2) = %+v, want last 2 turns", got)
	}

	if all := s.RecentHistory(0); len(all) != 4 {
		t.Fatalf("RecentHistory(0) = %d entries, want all 4", len(all))
	}
}
