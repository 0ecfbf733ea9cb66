package hook

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentexec/agentexec/internal/event"
)

func writeHookConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWatcher_ReloadsConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hooks.yaml")
	writeHookConfig(t, path, "before:\n  - match: shell\n")

	bus := event.NewBus()
	defer bus.Close()

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	pipeline := NewPipeline(bus, WithConfig(cfg))
	require.True(t, pipeline.shouldFire(StageBefore, "shell"))
	require.False(t, pipeline.shouldFire(StageBefore, "edit"))

	watcher, err := NewWatcher(pipeline, path)
	require.NoError(t, err)
	watcher.Start()
	defer watcher.Stop()

	writeHookConfig(t, path, "before:\n  - match: edit\n")

	require.Eventually(t, func() bool {
		return pipeline.shouldFire(StageBefore, "edit")
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, pipeline.shouldFire(StageBefore, "shell"))
}

func TestWatcher_KeepsConfigOnParseError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hooks.yaml")
	writeHookConfig(t, path, "before:\n  - match: shell\n")

	bus := event.NewBus()
	defer bus.Close()

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	pipeline := NewPipeline(bus, WithConfig(cfg))

	watcher, err := NewWatcher(pipeline, path)
	require.NoError(t, err)
	watcher.Start()
	defer watcher.Stop()

	writeHookConfig(t, path, "before: [not valid\n")

	// The bad file must not clear the matchers.
	time.Sleep(200 * time.Millisecond)
	assert.True(t, pipeline.shouldFire(StageBefore, "shell"))
	assert.False(t, pipeline.shouldFire(StageBefore, "edit"))
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hooks.yaml")
	writeHookConfig(t, path, "before:\n  - match: shell\n")

	bus := event.NewBus()
	defer bus.Close()

	pipeline := NewPipeline(bus)
	watcher, err := NewWatcher(pipeline, path)
	require.NoError(t, err)
	watcher.Start()

	require.NoError(t, watcher.Stop())
	assert.NotPanics(t, func() { watcher.Stop() })
}
