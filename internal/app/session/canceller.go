package session

import (
	"context"

	"taskstream/internal/domain/task"
	"taskstream/internal/shared/logging"
)

// CancelResult reports a stop request. Success is always true; Found tells
// whether a live session was flagged.
type CancelResult struct {
	Success bool `json:"success"`
	Found   bool `json:"-"`
}

// Canceller flags live sessions for cooperative stop.
type Canceller struct {
	registry *task.Registry
	logger   logging.Logger
	metrics  Metrics
}

// NewCanceller returns a canceller over registry. metrics may be nil.
func NewCanceller(registry *task.Registry, logger logging.Logger, metrics Metrics) *Canceller {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Canceller{
		registry: registry,
		logger:   logging.OrNop(logger),
		metrics:  metrics,
	}
}

// Cancel flips the token of the session running under key. A miss is not an
// error: the session may already have finished.
func (c *Canceller) Cancel(ctx context.Context, key string) CancelResult {
	found := c.registry.Cancel(key)
	c.metrics.CancelRequested(ctx, found)
	logger := logging.FromContext(ctx, c.logger)
	if found {
		logger.Info("cancel requested: key=%s", key)
	} else {
		logger.Info("cancel requested for idle key=%s", key)
	}
	return CancelResult{Success: true, Found: found}
}

// Status returns the caller's own live session, if any.
func (c *Canceller) Status(key string) []task.Info {
	info, ok := c.registry.Lookup(key)
	if !ok {
		return []task.Info{}
	}
	return []task.Info{info}
}

// Active lists the live sessions.
func (c *Canceller) Active() []task.Info {
	return c.registry.Snapshot()
}
