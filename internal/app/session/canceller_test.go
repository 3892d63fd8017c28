package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"taskstream/internal/domain/task"
	"taskstream/internal/shared/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingMetrics struct {
	nopMetrics
	mu      sync.Mutex
	found   int
	missing int
}

func (m *countingMetrics) CancelRequested(_ context.Context, found bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if found {
		m.found++
	} else {
		m.missing++
	}
}

func TestCancelUnknownKeyStillSucceeds(t *testing.T) {
	reg := task.NewRegistry()
	metrics := &countingMetrics{}
	canceller := NewCanceller(reg, logging.Nop(), metrics)

	res := canceller.Cancel(context.Background(), "nobody")
	assert.Equal(t, CancelResult{Success: true, Found: false}, res)
	assert.Equal(t, 1, metrics.missing)
	assert.Zero(t, reg.Len())
}

func TestCancelIsIdempotent(t *testing.T) {
	reg := task.NewRegistry()
	metrics := &countingMetrics{}
	canceller := NewCanceller(reg, nil, metrics)
	tok, err := reg.Register("u1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res := canceller.Cancel(context.Background(), "u1")
		assert.True(t, res.Success)
		assert.True(t, res.Found)
	}
	assert.True(t, tok.Cancelled())
	assert.Equal(t, 3, metrics.found)
}

func TestActiveListsLiveSessions(t *testing.T) {
	fixed := time.Unix(1700000000, 0).UTC()
	reg := task.NewRegistry(task.WithClock(func() time.Time { return fixed }))
	canceller := NewCanceller(reg, logging.Nop(), nil)
	_, err := reg.Register("u2")
	require.NoError(t, err)
	_, err = reg.Register("u1")
	require.NoError(t, err)

	active := canceller.Active()
	require.Len(t, active, 2)
	assert.Equal(t, "u1", active[0].Key)
	assert.Equal(t, fixed, active[1].StartedAt)
}

func TestStatusOnlyDescribesOwnKey(t *testing.T) {
	reg := task.NewRegistry()
	canceller := NewCanceller(reg, nil, nil)
	_, err := reg.Register("alice@corp")
	require.NoError(t, err)

	assert.Empty(t, canceller.Status("mallory"))
	own := canceller.Status("alice@corp")
	require.Len(t, own, 1)
	assert.Equal(t, "alice@corp", own[0].Key)
}
