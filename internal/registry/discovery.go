package registry

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cc-bridge/cc-bridge/internal/containerengine"
	"github.com/cc-bridge/cc-bridge/internal/domain"
)

// Discoverer finds Docker containers running Claude Code that are not yet
// in the registry, using three strategies in order of preference: label,
// image-name pattern, and process inspection. Grounded on the original's
// DockerDiscoverer.
type Discoverer struct {
	engine        containerengine.Engine
	label         string
	imagePatterns []string
	logger        *slog.Logger
}

// NewDiscoverer builds a Discoverer.
func NewDiscoverer(engine containerengine.Engine, label string, imagePatterns []string) *Discoverer {
	if len(imagePatterns) == 0 {
		imagePatterns = []string{"cc-bridge", "claude-code"}
	}
	return &Discoverer{engine: engine, label: label, imagePatterns: imagePatterns, logger: slog.Default()}
}

// DiscoverAll runs all three strategies and returns deduplicated instances,
// first-seen-wins across label -> image -> process order.
func (d *Discoverer) DiscoverAll(ctx context.Context) []*domain.Instance {
	found := make(map[string]*domain.Instance)

	for _, inst := range d.byLabel(ctx) {
		if _, ok := found[inst.Name]; !ok {
			found[inst.Name] = inst
			d.logger.Info("discovered instance by label", "name", inst.Name)
		}
	}
	for _, inst := range d.byImage(ctx) {
		if _, ok := found[inst.Name]; !ok {
			found[inst.Name] = inst
			d.logger.Info("discovered instance by image", "name", inst.Name)
		}
	}
	for _, inst := range d.byProcess(ctx) {
		if _, ok := found[inst.Name]; !ok {
			found[inst.Name] = inst
			d.logger.Info("discovered instance by process", "name", inst.Name)
		}
	}

	out := make([]*domain.Instance, 0, len(found))
	for _, inst := range found {
		out = append(out, inst)
	}
	return out
}

func (d *Discoverer) byLabel(ctx context.Context) []*domain.Instance {
	summaries, err := d.engine.ListByLabel(ctx, d.label)
	if err != nil {
		d.logger.Warn("label-based discovery failed", "error", err)
		return nil
	}
	out := make([]*domain.Instance, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, d.toInstance(ctx, s))
	}
	return out
}

func (d *Discoverer) byImage(ctx context.Context) []*domain.Instance {
	summaries, err := d.engine.ListAll(ctx)
	if err != nil {
		d.logger.Warn("image-based discovery failed", "error", err)
		return nil
	}
	var out []*domain.Instance
	for _, s := range summaries {
		for _, pattern := range d.imagePatterns {
			if strings.Contains(s.Image, pattern) {
				out = append(out, d.toInstance(ctx, s))
				break
			}
		}
	}
	return out
}

func (d *Discoverer) byProcess(ctx context.Context) []*domain.Instance {
	summaries, err := d.engine.ListAll(ctx)
	if err != nil {
		d.logger.Warn("process-based discovery failed", "error", err)
		return nil
	}
	var out []*domain.Instance
	for _, s := range summaries {
		running, err := d.engine.ProcessRunning(ctx, s.ID, "claude")
		if err != nil || !running {
			continue
		}
		out = append(out, d.toInstance(ctx, s))
	}
	return out
}

func (d *Discoverer) toInstance(ctx context.Context, s containerengine.ContainerSummary) *domain.Instance {
	name := s.Labels[d.label]
	if name == "" {
		name = strings.TrimPrefix(s.Name, "/")
	}

	running, _ := d.engine.IsRunning(ctx, s.ID)
	status := domain.StatusStopped
	if running {
		status = domain.StatusRunning
	}

	now := time.Now()
	return &domain.Instance{
		Name:          name,
		Variant:       domain.VariantContainer,
		Status:        status,
		CreatedAt:     now,
		ContainerID:   s.ID,
		ContainerName: s.Name,
		ImageName:     s.Image,
		CommMode:      domain.CommExec,
	}
}
