// Package registry implements the instance registry (spec.md C6): a
// JSON-file-backed map of instance name -> domain.Instance, persisted via
// whole-file atomic replace. Grounded on the original's InstanceManager
// (load-on-start, save-on-every-mutation dict-of-models persisted to
// ~/.claude/bridge/instances.json).
package registry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/moby/sys/atomicwriter"

	"github.com/cc-bridge/cc-bridge/internal/bridgeerr"
	"github.com/cc-bridge/cc-bridge/internal/containerengine"
	"github.com/cc-bridge/cc-bridge/internal/domain"
	"github.com/cc-bridge/cc-bridge/internal/metrics"
)

const filePerm = 0o640

// Registry is the single source of truth for known instances, guarded by
// one mutex and persisted as a whole file on every mutation.
type Registry struct {
	path string

	mu        sync.RWMutex
	instances map[string]*domain.Instance
}

type fileFormat struct {
	Instances map[string]*domain.Instance `json:"instances"`
}

// Open loads the registry from path, creating an empty one if the file does
// not yet exist.
func Open(path string) (*Registry, error) {
	path = expandHome(path)
	r := &Registry{path: path, instances: make(map[string]*domain.Instance)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(filepath.Dir(path), 0o750); mkErr != nil {
				return nil, bridgeerr.Wrap(bridgeerr.Transport, "create registry directory", mkErr)
			}
			return r, nil
		}
		return nil, bridgeerr.Wrap(bridgeerr.Transport, "read registry file", err)
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Internal, "parse registry file", err)
	}
	if ff.Instances != nil {
		r.instances = ff.Instances
	}
	return r, nil
}

func (r *Registry) save() error {
	ff := fileFormat{Instances: r.instances}
	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.Internal, "marshal registry", err)
	}
	if err := atomicwriter.WriteFile(r.path, data, filePerm); err != nil {
		return bridgeerr.Wrap(bridgeerr.Transport, "write registry file", err)
	}
	r.updateGaugesLocked()
	return nil
}

func (r *Registry) updateGaugesLocked() {
	running := 0
	for _, inst := range r.instances {
		if inst.Status == domain.StatusRunning {
			running++
		}
	}
	metrics.InstancesTotal.Set(float64(len(r.instances)))
	metrics.InstancesRunning.Set(float64(running))
}

// Create registers a new instance and persists the registry.
func (r *Registry) Create(inst *domain.Instance) error {
	if !inst.Valid() {
		return bridgeerr.New(bridgeerr.Validation, "instance fields inconsistent with its variant")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.Name] = inst
	return r.save()
}

// Get returns the instance named name, or nil.
func (r *Registry) Get(name string) *domain.Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instances[name]
}

// List returns every registered instance. Implements health.InstanceSource.
func (r *Registry) List() []*domain.Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	return out
}

// Update applies fn to the named instance under the write lock and
// persists the result. Returns false if the instance is not registered.
func (r *Registry) Update(name string, fn func(*domain.Instance)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[name]
	if !ok {
		return false, nil
	}
	fn(inst)
	return true, r.save()
}

// Delete removes name from the registry and persists the result.
func (r *Registry) Delete(name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[name]; !ok {
		return false, nil
	}
	delete(r.instances, name)
	return true, r.save()
}

// GetStatus reports name's live status without mutating the stored record
// (spec.md §4.6): a terminal instance's PID is signalled with 0, and a
// container instance is asked of engine directly, so a crashed instance
// whose registry entry still reads "running" is reported as "stopped" to
// every caller rather than trusted at face value. engine may be nil, in
// which case container instances fall back to the stored status.
func (r *Registry) GetStatus(ctx context.Context, name string, engine containerengine.Engine) (domain.Status, bool) {
	r.mu.RLock()
	inst, ok := r.instances[name]
	if !ok {
		r.mu.RUnlock()
		return "", false
	}
	status, variant, pid, containerID := inst.Status, inst.Variant, inst.PID, inst.ContainerID
	r.mu.RUnlock()

	if status != domain.StatusRunning {
		return status, true
	}

	switch variant {
	case domain.VariantTerminal:
		if !processAlive(pid) {
			return domain.StatusStopped, true
		}
	case domain.VariantContainer:
		if engine == nil {
			return status, true
		}
		running, err := engine.IsRunning(ctx, containerID)
		if err != nil || !running {
			return domain.StatusStopped, true
		}
	}
	return domain.StatusRunning, true
}

// processAlive reports whether pid is a live process, by sending it the
// null signal (no actual signal delivered, per kill(2)).
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// Merge adds any discovered instances not already registered, without
// overwriting existing entries (used after docker-discovery sweeps).
func (r *Registry) Merge(discovered []*domain.Instance) (added int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inst := range discovered {
		if _, exists := r.instances[inst.Name]; !exists {
			r.instances[inst.Name] = inst
			added++
		}
	}
	if added > 0 {
		err = r.save()
	}
	return added, err
}

func expandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
