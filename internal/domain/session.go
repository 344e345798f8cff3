package domain

import "time"

// SessionStatus is the coarse lifecycle state of a session, per spec.md's
// state machine: initializing -> active <-> idle, with an orthogonal error
// state and an externally-assigned inactive state prior to reaping.
type SessionStatus string

const (
	SessionInitializing SessionStatus = "initializing"
	SessionActive        SessionStatus = "active"
	SessionIdle          SessionStatus = "idle"
	SessionInactive       SessionStatus = "inactive"
	SessionError          SessionStatus = "error"
)

// Session is the per-instance conversation state tracked by the session
// tracker. Turns is bounded to MaxHistory, oldest evicted first; the active
// pointer (by request id) is never invalidated by eviction because the
// active turn is always the newest.
type Session struct {
	InstanceName string        `json:"instance_name"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
	Status       SessionStatus `json:"status"`

	Turns        []*ConversationTurn `json:"-"`
	ActiveTurnID string              `json:"-"`
	MaxHistory   int                 `json:"-"`

	TotalRequests     int `json:"total_requests"`
	CompletedRequests int `json:"completed_requests"`
	FailedRequests    int `json:"failed_requests"`
}

// SuccessRate returns the fraction of all requests that completed without
// failing.
func (s *Session) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 1.0
	}
	successful := s.CompletedRequests - s.FailedRequests
	return float64(successful) / float64(s.TotalRequests)
}

// ActiveTurn returns the session's active turn, or nil.
func (s *Session) ActiveTurn() *ConversationTurn {
	if s.ActiveTurnID == "" {
		return nil
	}
	for _, t := range s.Turns {
		if t.RequestID == s.ActiveTurnID {
			return t
		}
	}
	return nil
}

// FindTurn locates a turn by request id.
func (s *Session) FindTurn(requestID string) *ConversationTurn {
	for _, t := range s.Turns {
		if t.RequestID == requestID {
			return t
		}
	}
	return nil
}

// AddTurn appends a turn, evicting the oldest if MaxHistory is exceeded, and
// marks it active. Matches spec.md §4.4 "Bounded history".
func (s *Session) AddTurn(turn *ConversationTurn) {
	s.Turns = append(s.Turns, turn)
	if s.MaxHistory > 0 && len(s.Turns) > s.MaxHistory {
		s.Turns = s.Turns[1:]
	}
	s.ActiveTurnID = turn.RequestID
	s.TotalRequests++
}

// CompleteTurn completes the named turn and clears the active pointer if it
// referred to this turn. Returns false if the turn is unknown or already
// terminal (idempotent completion, spec.md §8).
func (s *Session) CompleteTurn(now time.Time, requestID, response, errMsg string) bool {
	turn := s.FindTurn(requestID)
	if turn == nil {
		return false
	}
	if !turn.Complete(now, response, errMsg) {
		return false
	}
	s.CompletedRequests++
	if errMsg != "" {
		s.FailedRequests++
	}
	if s.ActiveTurnID == requestID {
		s.ActiveTurnID = ""
	}
	s.LastActivity = now
	return true
}

// RecentHistory returns up to limit of the most recent turns (0 = all).
func (s *Session) RecentHistory(limit int) []*ConversationTurn {
	if limit <= 0 || limit >= len(s.Turns) {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-limit:]
}

// IdleFor returns how long the session has been without activity.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivity)
}
