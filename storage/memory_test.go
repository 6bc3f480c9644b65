package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uridolan77/Aigent-sub001/types"
)

func sampleStatus(workflowID string, instanceID uint64, state types.WorkflowState) types.WorkflowStatus {
	return types.WorkflowStatus{
		WorkflowID:   workflowID,
		InstanceID:   instanceID,
		State:        state,
		TotalSteps:   3,
		StartTime:    time.Now().UTC().Truncate(time.Millisecond),
		StepStatuses: map[string]types.StepStatus{
			"s1": {StepID: "s1", StepName: "step one", State: types.StepCompleted},
		},
	}
}

func TestMemoryStorageStatus(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	status := sampleStatus("wf-1", 42, types.WorkflowRunning)
	require.NoError(t, store.SaveStatus(ctx, status))

	got, err := store.GetStatus(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, status, got)

	// Saving again under the same workflow ID overwrites.
	status.State = types.WorkflowCompleted
	require.NoError(t, store.SaveStatus(ctx, status))
	got, err = store.GetStatus(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowCompleted, got.State)
}

func TestMemoryStorageStatusNotFound(t *testing.T) {
	store := NewMemoryStorage()

	_, err := store.GetStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrStatusNotFound)
}

func TestMemoryStorageResult(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	result := types.WorkflowResult{
		Success: true,
		Message: "workflow completed",
		StepResults: map[string]types.ActionResult{
			"s1": {Success: true, Message: "done"},
		},
	}
	require.NoError(t, store.SaveResult(ctx, 42, result))

	got, err := store.GetResult(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, result, got)

	_, err = store.GetResult(ctx, 99)
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func TestMemoryStorageListStatuses(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	list, err := store.ListStatuses(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, store.SaveStatus(ctx, sampleStatus("wf-1", 1, types.WorkflowRunning)))
	require.NoError(t, store.SaveStatus(ctx, sampleStatus("wf-2", 2, types.WorkflowCompleted)))

	list, err = store.ListStatuses(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	ids := make([]string, 0, len(list))
	for _, st := range list {
		ids = append(ids, st.WorkflowID)
	}
	assert.ElementsMatch(t, []string{"wf-1", "wf-2"}, ids)
}

func TestMemoryStoragePurgeTerminal(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, store.SaveStatus(ctx, sampleStatus("wf-running", 1, types.WorkflowRunning)))
	require.NoError(t, store.SaveStatus(ctx, sampleStatus("wf-done", 2, types.WorkflowCompleted)))
	require.NoError(t, store.SaveStatus(ctx, sampleStatus("wf-failed", 3, types.WorkflowFailed)))
	require.NoError(t, store.SaveStatus(ctx, sampleStatus("wf-cancelled", 4, types.WorkflowCancelled)))
	require.NoError(t, store.SaveStatus(ctx, sampleStatus("wf-timed-out", 5, types.WorkflowTimedOut)))

	require.NoError(t, store.PurgeTerminal(ctx))

	list, err := store.ListStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "wf-running", list[0].WorkflowID)
}

func TestMemoryStorageContextCancelled(t *testing.T) {
	store := NewMemoryStorage()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.SaveStatus(ctx, sampleStatus("wf-1", 1, types.WorkflowRunning)), context.Canceled)
	_, err := store.GetStatus(ctx, "wf-1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.SaveResult(ctx, 1, types.WorkflowResult{}), context.Canceled)
	_, err = store.GetResult(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = store.ListStatuses(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.PurgeTerminal(ctx), context.Canceled)
}

func TestMemoryStorageConcurrentAccess(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n uint64) {
			defer wg.Done()
			id := sampleStatus("wf-shared", n, types.WorkflowRunning)
			assert.NoError(t, store.SaveStatus(ctx, id))
			assert.NoError(t, store.SaveResult(ctx, n, types.WorkflowResult{Success: true}))
			_, _ = store.GetStatus(ctx, "wf-shared")
			_, _ = store.ListStatuses(ctx)
		}(uint64(i))
	}
	wg.Wait()

	got, err := store.GetStatus(ctx, "wf-shared")
	require.NoError(t, err)
	assert.Equal(t, "wf-shared", got.WorkflowID)
}
