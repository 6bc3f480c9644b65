package storage

import (
	"context"

	"github.com/uridolan77/Aigent-sub001/types"
)

// Storage persists workflow run statuses and results. The engine writes the
// initial running status, the terminal status, and the final result; reads
// serve callers querying runs the engine has already retired.
type Storage interface {
	// SaveStatus persists a status snapshot keyed by its workflow ID.
	SaveStatus(ctx context.Context, status types.WorkflowStatus) error

	// GetStatus retrieves the latest persisted status for a workflow ID.
	GetStatus(ctx context.Context, workflowID string) (types.WorkflowStatus, error)

	// SaveResult persists a run result keyed by its instance ID.
	SaveResult(ctx context.Context, instanceID uint64, result types.WorkflowResult) error

	// GetResult retrieves a persisted run result by instance ID.
	GetResult(ctx context.Context, instanceID uint64) (types.WorkflowResult, error)

	// ListStatuses returns all persisted statuses.
	ListStatuses(ctx context.Context) ([]types.WorkflowStatus, error)

	// PurgeTerminal removes statuses in a terminal state.
	PurgeTerminal(ctx context.Context) error
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}
