package bootstrap

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"taskstream/internal/shared/logging"
)

// BootstrapStage is one startup step. A failing required stage aborts
// startup; a failing optional stage runs its Fallback and is reported as
// degraded.
type BootstrapStage struct {
	Name     string
	Required bool
	Init     func(ctx context.Context) error
	Fallback func()
}

// DegradedComponents tracks optional stages that failed.
type DegradedComponents struct {
	mu         sync.RWMutex
	components map[string]string
}

func NewDegradedComponents() *DegradedComponents {
	return &DegradedComponents{components: make(map[string]string)}
}

// Record marks a component as degraded.
func (d *DegradedComponents) Record(name, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.components[name] = reason
}

// Map returns a snapshot of degraded components.
func (d *DegradedComponents) Map() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(d.components))
	for k, v := range d.components {
		out[k] = v
	}
	return out
}

func (d *DegradedComponents) IsEmpty() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.components) == 0
}

// String lists the degraded components as name=reason pairs.
func (d *DegradedComponents) String() string {
	snapshot := d.Map()
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+snapshot[name])
	}
	return strings.Join(parts, ", ")
}

// RunStages executes stages in order.
func RunStages(ctx context.Context, stages []BootstrapStage, degraded *DegradedComponents, logger logging.Logger) error {
	logger = logging.OrNop(logger)
	for _, stage := range stages {
		started := time.Now()
		err := stage.Init(ctx)
		if err == nil {
			logger.Info("[Bootstrap] Stage %s ready in %s", stage.Name, time.Since(started).Round(time.Millisecond))
			continue
		}
		if stage.Required {
			return fmt.Errorf("required stage %q failed: %w", stage.Name, err)
		}
		logger.Warn("[Bootstrap] Optional stage %q failed: %v (continuing in degraded mode)", stage.Name, err)
		if stage.Fallback != nil {
			stage.Fallback()
		}
		if degraded != nil {
			degraded.Record(stage.Name, err.Error())
		}
	}
	return nil
}
