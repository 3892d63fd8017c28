package scripted

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchReloadsScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte("steps:\n  - content: one\n"), 0o600))
	script, err := Load(path)
	require.NoError(t, err)
	eng := New(script)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, err := Watch(ctx, path, eng, nil)
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("steps:\n  - content: two\n  - content: three\n"), 0o600))
	assert.Eventually(t, func() bool {
		return len(eng.Script().Steps) == 2
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "two", eng.Script().Steps[0].Content)
}

func TestWatchKeepsScriptOnParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte("steps:\n  - content: one\n"), 0o600))
	script, err := Load(path)
	require.NoError(t, err)
	eng := New(script)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, err := Watch(ctx, path, eng, nil)
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("steps: []\n"), 0o600))
	time.Sleep(defaultWatchDebounce + 200*time.Millisecond)
	assert.Equal(t, "one", eng.Script().Steps[0].Content)
}

func TestWatchStopsWithContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte("steps:\n  - content: one\n"), 0o600))
	eng := New(DefaultScript())

	ctx, cancel := context.WithCancel(context.Background())
	w, err := Watch(ctx, path, eng, nil)
	require.NoError(t, err)
	cancel()

	assert.Eventually(t, func() bool {
		select {
		case <-w.stopCh:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}
