package domain

import "time"

// TurnStatus is the lifecycle status of a single conversation turn.
type TurnStatus string

const (
	TurnPending   TurnStatus = "pending"
	TurnActive    TurnStatus = "active"
	TurnCompleted TurnStatus = "completed"
	TurnFailed    TurnStatus = "failed"
)

// ConversationTurn is one request/response pair within a session. It is
// immutable once Status is terminal (completed or failed).
type ConversationTurn struct {
	RequestID    string     `json:"request_id"`
	Request      string     `json:"request"`
	SentAt       time.Time  `json:"timestamp"`
	ResponseSent *time.Time `json:"response_start,omitempty"`
	ResponseDone *time.Time `json:"response_end,omitempty"`
	Response     string     `json:"response,omitempty"`
	Status       TurnStatus `json:"status"`
	Error        string     `json:"error,omitempty"`
}

// IsTerminal reports whether the turn has reached a final state.
func (t *ConversationTurn) IsTerminal() bool {
	return t.Status == TurnCompleted || t.Status == TurnFailed
}

// Duration returns the turn's response latency, or zero if incomplete.
func (t *ConversationTurn) Duration() time.Duration {
	if t.ResponseDone == nil {
		return 0
	}
	start := t.SentAt
	if t.ResponseSent != nil {
		start = *t.ResponseSent
	}
	return t.ResponseDone.Sub(start)
}

// Complete marks the turn terminal with a response or error. It is a no-op
// if the turn is already terminal, matching the round-trip property in
// spec.md §8 ("a second complete_request is a no-op").
func (t *ConversationTurn) Complete(now time.Time, response string, errMsg string) bool {
	if t.IsTerminal() {
		return false
	}
	t.Response = response
	t.ResponseDone = &now
	t.Error = errMsg
	if errMsg != "" {
		t.Status = TurnFailed
	} else {
		t.Status = TurnCompleted
	}
	return true
}
