// Package session implements the session tracker (spec.md C4): per-instance
// conversation state, turn lifecycle, idle/active transitions, and a
// background monitor that fails timed-out turns and marks quiet sessions
// idle. Removing long-idle sessions is left to CleanupInactiveSessions,
// which the monitor does not call. Grounded on the original's SessionTracker (asyncio.Lock-guarded
// dict of SessionState), translated to a single sync.Mutex.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cc-bridge/cc-bridge/internal/bridgeerr"
	"github.com/cc-bridge/cc-bridge/internal/domain"
)

// TimeoutCallback is invoked when a turn is failed out by the monitor loop.
type TimeoutCallback func(instanceName, requestID string)

// Tracker owns every instance's Session behind one mutex (spec.md §9 Open
// Question "turn-level atomicity": resolved by making all turn mutation go
// through this single lock rather than a per-session one, so a session's
// status transition and its active turn's completion can never race).
type Tracker struct {
	idleTimeout    time.Duration
	requestTimeout time.Duration
	maxHistory     int
	monitorTick    time.Duration

	onTimeout TimeoutCallback

	mu       sync.Mutex
	sessions map[string]*domain.Session

	logger *slog.Logger
}

// Config parameterizes a Tracker, mirroring the original's
// idle_timeout=300/request_timeout=120/max_history=100 defaults.
type Config struct {
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	MaxHistory     int
	MonitorTick    time.Duration
	OnTimeout      TimeoutCallback
}

// New builds a Tracker with the given configuration.
func New(cfg Config) *Tracker {
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 300 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	if cfg.MaxHistory == 0 {
		cfg.MaxHistory = 100
	}
	if cfg.MonitorTick == 0 {
		cfg.MonitorTick = 10 * time.Second
	}
	return &Tracker{
		idleTimeout:    cfg.IdleTimeout,
		requestTimeout: cfg.RequestTimeout,
		maxHistory:     cfg.MaxHistory,
		monitorTick:    cfg.MonitorTick,
		onTimeout:      cfg.OnTimeout,
		sessions:       make(map[string]*domain.Session),
		logger:         slog.Default(),
	}
}

// CreateSession creates (or returns the existing) session for instanceName.
func (t *Tracker) CreateSession(instanceName string) *domain.Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.createUnlocked(instanceName)
}

func (t *Tracker) createUnlocked(instanceName string) *domain.Session {
	if s, ok := t.sessions[instanceName]; ok {
		return s
	}
	now := time.Now()
	s := &domain.Session{
		InstanceName: instanceName,
		CreatedAt:    now,
		LastActivity: now,
		Status:       domain.SessionInitializing,
		MaxHistory:   t.maxHistory,
	}
	t.sessions[instanceName] = s
	return s
}

// GetSession returns the session for instanceName, or nil.
func (t *Tracker) GetSession(instanceName string) *domain.Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[instanceName]
}

// RemoveSession deletes the tracked session for instanceName.
func (t *Tracker) RemoveSession(instanceName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, instanceName)
}

// StartRequest begins a new turn on instanceName's session (creating the
// session if needed), returning the request id's turn and an error if a
// turn is already active (spec.md §4.4 "single active-turn invariant").
func (t *Tracker) StartRequest(instanceName, requestID, request string) (*domain.ConversationTurn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.createUnlocked(instanceName)
	if s.ActiveTurn() != nil {
		return nil, bridgeerr.New(bridgeerr.Conflict, "instance already has an active turn")
	}

	now := time.Now()
	turn := &domain.ConversationTurn{
		RequestID: requestID,
		Request:   request,
		SentAt:    now,
		Status:    domain.TurnActive,
	}
	s.AddTurn(turn)
	s.Status = domain.SessionActive
	s.LastActivity = now
	return turn, nil
}

// CompleteRequest completes requestID's turn with a response or error.
// Returns false if the session/turn is unknown or already terminal.
func (t *Tracker) CompleteRequest(instanceName, requestID, response, errMsg string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[instanceName]
	if !ok {
		return false
	}
	// Completing a turn is itself activity: the session stays active (per
	// spec.md §4.4's active -(idle_timeout)-> idle transition) and only the
	// timeout sweep in checkTimeouts moves it to idle once idleTimeout has
	// actually elapsed with nothing happening.
	return s.CompleteTurn(time.Now(), requestID, response, errMsg)
}

// GetStatus returns a snapshot of one session, or nil.
func (t *Tracker) GetStatus(instanceName string) *domain.Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[instanceName]
}

// GetAllStatuses returns a snapshot of every tracked session.
func (t *Tracker) GetAllStatuses() map[string]*domain.Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]*domain.Session, len(t.sessions))
	for k, v := range t.sessions {
		out[k] = v
	}
	return out
}

// GetHistory returns up to limit of the most recent turns for instanceName.
func (t *Tracker) GetHistory(instanceName string, limit int) []*domain.ConversationTurn {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[instanceName]
	if !ok {
		return nil
	}
	return s.RecentHistory(limit)
}

// Start runs the monitor loop until ctx is cancelled: every tick it fails
// any turn that has exceeded requestTimeout and marks idle any active
// session that has exceeded idleTimeout.
func (t *Tracker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.monitorTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.checkTimeouts()
		}
	}
}

func (t *Tracker) checkTimeouts() {
	t.mu.Lock()
	now := time.Now()
	type timedOut struct{ instance, request string }
	var callbacks []timedOut

	for name, s := range t.sessions {
		if active := s.ActiveTurn(); active != nil {
			if now.Sub(active.SentAt) > t.requestTimeout {
				s.CompleteTurn(now, active.RequestID, "", "Request timeout")
				callbacks = append(callbacks, timedOut{name, active.RequestID})
				continue
			}
		}
		switch {
		case s.Status == domain.SessionActive && s.IdleFor(now) > t.idleTimeout:
			s.Status = domain.SessionIdle
		}
	}
	t.mu.Unlock()

	for _, c := range callbacks {
		t.logger.Warn("turn timed out", "instance", c.instance, "request_id", c.request)
		if t.onTimeout != nil {
			t.onTimeout(c.instance, c.request)
		}
	}
}

// CleanupInactiveSessions removes sessions idle for longer than after.
func (t *Tracker) CleanupInactiveSessions(after time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	var removed []string
	for name, s := range t.sessions {
		if s.ActiveTurn() == nil && s.IdleFor(now) > after {
			delete(t.sessions, name)
			removed = append(removed, name)
		}
	}
	return removed
}
