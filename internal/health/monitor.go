// Package health implements the health monitor and recovery loop (spec.md
// C5): periodic per-instance liveness checks (container running, pipes
// present, agent responsive) and recovery callbacks once an instance has
// failed enough consecutive checks. Grounded on the original's
// HealthMonitor (asyncio.Lock-guarded dict, check_interval=30 /
// recovery_delay=5 / max_consecutive_failures=3 defaults).
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cc-bridge/cc-bridge/internal/containerengine"
	"github.com/cc-bridge/cc-bridge/internal/domain"
	"github.com/cc-bridge/cc-bridge/internal/metrics"
	"github.com/cc-bridge/cc-bridge/internal/pipe"
)

// InstanceSource provides the set of instances to check.
type InstanceSource interface {
	List() []*domain.Instance
}

// SessionSource is the narrow view of session.Tracker the health package
// needs: reading a session's status for the SessionHealthy check, and
// force-completing an orphaned turn once an instance is recovered.
type SessionSource interface {
	GetSession(instanceName string) *domain.Session
	CompleteRequest(instanceName, requestID, response, errMsg string) bool
}

// RecoveryCallback is invoked once an instance crosses MaxConsecutiveFailures.
type RecoveryCallback func(ctx context.Context, inst *domain.Instance, rec *domain.HealthRecord)

// Config parameterizes a Monitor.
type Config struct {
	CheckInterval          time.Duration
	RecoveryDelay          time.Duration
	MaxConsecutiveFailures int
	PipeDir                string
}

// Monitor periodically checks every known instance and aggregates a
// domain.HealthRecord per instance, keyed by instance name under a single
// mutex (mirrors the original's asyncio.Lock-guarded _health_status dict).
type Monitor struct {
	cfg     Config
	source  InstanceSource
	engine  containerengine.Engine
	tracker SessionSource
	logger  *slog.Logger

	mu       sync.Mutex
	statuses map[string]*domain.HealthRecord

	recoveryMu sync.Mutex
	recovery   []RecoveryCallback
}

// New builds a Monitor. tracker may be nil, in which case SessionHealthy is
// always reported false (mirroring a missing session in the original's
// _check_instance).
func New(cfg Config, source InstanceSource, engine containerengine.Engine, tracker SessionSource) *Monitor {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.RecoveryDelay == 0 {
		cfg.RecoveryDelay = 5 * time.Second
	}
	if cfg.MaxConsecutiveFailures == 0 {
		cfg.MaxConsecutiveFailures = 3
	}
	return &Monitor{
		cfg:      cfg,
		source:   source,
		engine:   engine,
		tracker:  tracker,
		logger:   slog.Default(),
		statuses: make(map[string]*domain.HealthRecord),
	}
}

// AddRecoveryCallback registers a callback invoked when an instance trips
// the failure threshold.
func (m *Monitor) AddRecoveryCallback(cb RecoveryCallback) {
	m.recoveryMu.Lock()
	defer m.recoveryMu.Unlock()
	m.recovery = append(m.recovery, cb)
}

// Start runs the monitor loop until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

// GetStatus returns the last-known health record for instanceName, or nil.
func (m *Monitor) GetStatus(instanceName string) *domain.HealthRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statuses[instanceName]
}

// GetAllStatuses returns a snapshot of every tracked health record.
func (m *Monitor) GetAllStatuses() map[string]*domain.HealthRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*domain.HealthRecord, len(m.statuses))
	for k, v := range m.statuses {
		out[k] = v
	}
	return out
}

func (m *Monitor) checkAll(ctx context.Context) {
	instances := m.source.List()

	g, gctx := errgroup.WithContext(ctx)
	for _, inst := range instances {
		inst := inst
		g.Go(func() error {
			m.checkInstance(gctx, inst)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Monitor) checkInstance(ctx context.Context, inst *domain.Instance) {
	rec := &domain.HealthRecord{
		InstanceName: inst.Name,
		LastCheck:    time.Now(),
	}

	switch inst.Variant {
	case domain.VariantContainer:
		running, err := m.engine.IsRunning(ctx, inst.ContainerID)
		if err != nil {
			rec.LastError = err.Error()
		}
		rec.ContainerRunning = running

		if inst.CommMode == domain.CommFIFO {
			ch := pipe.New(inst.Name, m.cfg.PipeDir)
			rec.PipesExist = ch.Exist()
		} else {
			rec.PipesExist = true // exec-mode has no pipes to check
		}

		// The container can be up with its agent process dead inside it
		// (e.g. the claude CLI crashed but the container's PID 1 is still
		// alive); check for the process directly rather than inferring it
		// from ContainerRunning.
		if running {
			agentRunning, err := m.engine.ProcessRunning(ctx, inst.ContainerID, "claude")
			if err != nil {
				rec.LastError = err.Error()
			}
			rec.AgentRunning = agentRunning
		}

	case domain.VariantTerminal:
		// Terminal instances have no container/pipe dimension, and no
		// separate daemon-agent process to probe inside a tmux pane: the
		// session's existence is the only signal available for either.
		rec.ContainerRunning = true
		rec.PipesExist = true
		rec.AgentRunning = true
	}

	if m.tracker != nil {
		if sess := m.tracker.GetSession(inst.Name); sess != nil {
			rec.SessionHealthy = sess.Status == domain.SessionActive || sess.Status == domain.SessionIdle
		}
	}
	rec.Aggregate()

	if rec.Healthy {
		metrics.HealthChecksTotal.WithLabelValues("healthy").Inc()
	} else {
		metrics.HealthChecksTotal.WithLabelValues("unhealthy").Inc()
	}

	m.mu.Lock()
	prev, existed := m.statuses[inst.Name]
	if !rec.Healthy {
		if existed {
			rec.ConsecutiveFailures = prev.ConsecutiveFailures + 1
		} else {
			rec.ConsecutiveFailures = 1
		}
	}
	// Carry the last attempt timestamp forward so the rate-limit check
	// below survives across cycles where recovery doesn't re-fire.
	if existed {
		rec.LastRecoveryAttempt = prev.LastRecoveryAttempt
	}
	rateLimited := rec.LastRecoveryAttempt != nil && time.Since(*rec.LastRecoveryAttempt) < 2*m.cfg.RecoveryDelay
	shouldRecover := !rec.Healthy && rec.ConsecutiveFailures >= m.cfg.MaxConsecutiveFailures && !rateLimited
	m.statuses[inst.Name] = rec
	m.mu.Unlock()

	if shouldRecover {
		now := time.Now()
		rec.LastRecoveryAttempt = &now
		m.logger.Warn("instance unhealthy, triggering recovery", "instance", inst.Name, "failures", rec.ConsecutiveFailures)
		metrics.RecoveryAttemptsTotal.Inc()
		time.Sleep(m.cfg.RecoveryDelay)
		m.runRecovery(ctx, inst, rec)
	}
}

func (m *Monitor) runRecovery(ctx context.Context, inst *domain.Instance, rec *domain.HealthRecord) {
	m.recoveryMu.Lock()
	callbacks := append([]RecoveryCallback(nil), m.recovery...)
	m.recoveryMu.Unlock()

	for _, cb := range callbacks {
		cb(ctx, inst, rec)
	}
}
