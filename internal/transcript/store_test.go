package transcript

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentexec/agentexec/internal/scheduler"
)

func sampleRecord(runID string) RunRecord {
	started := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	return RunRecord{
		RunID:      runID,
		WorkDir:    "/tmp/project",
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
		Calls: []CallRecord{
			{
				CallID:        "c1",
				ToolName:      "shell",
				Args:          map[string]any{"command": "ls"},
				Status:        scheduler.StatusSuccess,
				ResultDisplay: "ok",
				OutputLength:  2,
			},
			{
				CallID:   "c2",
				ToolName: "shell",
				Status:   scheduler.StatusError,
				Error: &scheduler.CallError{
					Kind:    scheduler.ErrorKindExecutionFailure,
					Message: "exit status 1",
				},
			},
		},
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	store := NewStore(t.TempDir())
	ctx := context.Background()

	rec := sampleRecord("01J0000000000000000000RUN1")
	require.NoError(t, store.Save(ctx, rec))

	loaded, err := store.Load(ctx, rec.RunID)
	require.NoError(t, err)
	assert.Equal(t, rec.RunID, loaded.RunID)
	assert.Equal(t, rec.WorkDir, loaded.WorkDir)
	require.Len(t, loaded.Calls, 2)
	assert.Equal(t, scheduler.StatusSuccess, loaded.Calls[0].Status)
	require.NotNil(t, loaded.Calls[1].Error)
	assert.Equal(t, scheduler.ErrorKindExecutionFailure, loaded.Calls[1].Error.Kind)
}

func TestStore_LoadNotFound(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SaveRequiresRunID(t *testing.T) {
	store := NewStore(t.TempDir())

	err := store.Save(context.Background(), RunRecord{})
	assert.Error(t, err)
}

func TestStore_ListSorted(t *testing.T) {
	store := NewStore(t.TempDir())
	ctx := context.Background()

	for _, id := range []string{"run-c", "run-a", "run-b"} {
		require.NoError(t, store.Save(ctx, sampleRecord(id)))
	}

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-a", "run-b", "run-c"}, ids)
}

func TestStore_ListEmptyDir(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "does-not-exist"))

	ids, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStore_Prune(t *testing.T) {
	store := NewStore(t.TempDir())
	ctx := context.Background()

	for _, id := range []string{"run-a", "run-b", "run-c", "run-d"} {
		require.NoError(t, store.Save(ctx, sampleRecord(id)))
	}

	removed, err := store.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-c", "run-d"}, ids)

	// Pruning again is a no-op.
	removed, err = store.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestStore_SaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	ctx := context.Background()

	rec := sampleRecord("run-a")
	require.NoError(t, store.Save(ctx, rec))

	// No temp or lock files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "run-a.json", entries[0].Name())
}

func TestNewRunRecord(t *testing.T) {
	calls := []*scheduler.ToolCall{
		{
			Request: scheduler.ToolCallRequest{CallID: "c1", ToolName: "shell", Args: map[string]any{"command": "ls"}},
			Status:  scheduler.StatusSuccess,
			Response: &scheduler.Response{
				ResultDisplay: "ok",
				ContentLength: 2,
			},
		},
		{
			Request: scheduler.ToolCallRequest{CallID: "c2", ToolName: "shell"},
			Status:  scheduler.StatusCancelled,
			Response: &scheduler.Response{
				Error: &scheduler.CallError{Kind: scheduler.ErrorKindCancellation, Message: "interrupted"},
			},
		},
	}

	started := time.Now().Add(-time.Second)
	rec := NewRunRecord("run-1", "/work", started, time.Now(), calls)

	assert.Equal(t, "run-1", rec.RunID)
	require.Len(t, rec.Calls, 2)
	assert.Equal(t, "ok", rec.Calls[0].ResultDisplay)
	assert.Equal(t, 2, rec.Calls[0].OutputLength)
	require.NotNil(t, rec.Calls[1].Error)
	assert.Equal(t, "interrupted", rec.Calls[1].Error.Message)
}
