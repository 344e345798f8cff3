package domain

import (
	"testing"
	"time"
)

func TestConversationTurnCompleteSetsStatus(t *testing.T) {
	tests := []struct {
		name       string
		errMsg     string
		wantStatus TurnStatus
	}{
		{"success", "", TurnCompleted},
		{"failure", "boom", TurnFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turn := &ConversationTurn{Status: TurnActive}
			if ok := turn.Complete(time.Now(), "output", tt.errMsg); !ok {
				t.Fatal("Complete returned false for a non-terminal turn")
			}
			if turn.Status != tt.wantStatus {
				t.Fatalf("Status = %v, want %v", turn.Status, tt.wantStatus)
			}
			if !turn.IsTerminal() {
				t.Fatal("IsTerminal() should be true after Complete")
			}
		})
	}
}

func TestConversationTurnCompleteNoopWhenTerminal(t *testing.T) {
	turn := &ConversationTurn{Status: TurnCompleted}
	if ok := turn.Complete(time.Now(), "x", ""); ok {
		t.Fatal("Complete should return false for an already-terminal turn")
	}
}

func TestConversationTurnDuration(t *testing.T) {
	sent := time.Now()
	responseStart := sent.Add(time.Second)
	done := responseStart.Add(2 * time.Second)

	turn := &ConversationTurn{
		SentAt:       sent,
		ResponseSent: &responseStart,
		ResponseDone: &done,
	}
	if got := turn.Duration(); got != 2*time.Second {
		t.Fatalf("Duration() = %v, want 2s", got)
	}

	incomplete := &ConversationTurn{SentAt: sent}
	if got := incomplete.Duration(); got != 0 {
		t.Fatalf("Duration() on incomplete turn = %v, want 0", got)
	}
}
