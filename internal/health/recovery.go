package health

import (
	"context"
	"log/slog"

	"github.com/cc-bridge/cc-bridge/internal/adapter"
	"github.com/cc-bridge/cc-bridge/internal/domain"
	"github.com/cc-bridge/cc-bridge/internal/pipe"
)

const recoveredMessage = "Instance recovered from crash"

// AdapterRecovery is the default recovery strategy, run once an instance
// crosses MaxConsecutiveFailures: recreate the FIFO pair for daemon-mode
// container instances, verify the in-container agent process, restart the
// instance through its adapter, and force-complete any turn left orphaned
// by the crash. Registered via Monitor.AddRecoveryCallback.
type AdapterRecovery struct {
	Factory *adapter.Factory
	Tracker SessionSource
	PipeDir string
	Logger  *slog.Logger
}

// NewAdapterRecovery builds an AdapterRecovery bound to factory. tracker may
// be nil, in which case orphaned turns are never force-completed (there is
// nothing to complete them in).
func NewAdapterRecovery(factory *adapter.Factory, tracker SessionSource, pipeDir string) *AdapterRecovery {
	return &AdapterRecovery{Factory: factory, Tracker: tracker, PipeDir: pipeDir, Logger: slog.Default()}
}

// Recover implements RecoveryCallback.
func (r *AdapterRecovery) Recover(ctx context.Context, inst *domain.Instance, rec *domain.HealthRecord) {
	if inst.Variant == domain.VariantContainer && inst.CommMode == domain.CommFIFO {
		ch := pipe.New(inst.Name, r.PipeDir)
		if err := ch.Create(); err != nil {
			r.Logger.Error("recovery: failed to recreate FIFO pair", "instance", inst.Name, "error", err)
		} else {
			r.Logger.Info("recovery: FIFO pair recreated", "instance", inst.Name)
		}
	}

	ad, err := r.Factory.For(inst)
	if err != nil {
		r.Logger.Error("recovery: no adapter for instance", "instance", inst.Name, "error", err)
		return
	}

	if err := ad.Start(ctx); err != nil {
		r.Logger.Error("recovery: failed to restart instance", "instance", inst.Name, "error", err)
		return
	}
	r.Logger.Info("recovery: instance restarted", "instance", inst.Name)

	if inst.Variant == domain.VariantContainer {
		if engine := r.Factory.Engine(); engine != nil {
			agentRunning, procErr := engine.ProcessRunning(ctx, inst.ContainerID, "claude")
			if procErr != nil {
				r.Logger.Warn("recovery: could not verify agent process", "instance", inst.Name, "error", procErr)
			} else if !agentRunning {
				r.Logger.Error("recovery: container restarted but agent process not found", "instance", inst.Name)
			}
		}
	}

	r.completeOrphanedTurn(inst.Name)
}

// completeOrphanedTurn force-completes a turn that was active when the
// instance crashed: its response will never arrive, so it must not be left
// to time out naturally (spec.md §4.5 Failure Semantics / end-to-end
// scenario 5).
func (r *AdapterRecovery) completeOrphanedTurn(instanceName string) {
	if r.Tracker == nil {
		return
	}
	sess := r.Tracker.GetSession(instanceName)
	if sess == nil {
		return
	}
	active := sess.ActiveTurn()
	if active == nil {
		return
	}
	r.Tracker.CompleteRequest(instanceName, active.RequestID, "", recoveredMessage)
	r.Logger.Warn("recovery: force-completed orphaned turn", "instance", instanceName, "request_id", active.RequestID)
}
