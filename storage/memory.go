package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/uridolan77/Aigent-sub001/types"
)

// Errors
var (
	ErrStatusNotFound = errors.New("workflow status not found")
	ErrResultNotFound = errors.New("workflow result not found")
)

// MemoryStorage is an in-memory implementation of the Storage interface.
type MemoryStorage struct {
	statuses map[string]types.WorkflowStatus
	results  map[uint64]types.WorkflowResult
	mu       sync.RWMutex
}

// NewMemoryStorage creates a new MemoryStorage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		statuses: make(map[string]types.WorkflowStatus),
		results:  make(map[uint64]types.WorkflowResult),
	}
}

// getItem is a standalone generic helper function.
func getItem[K comparable, T any](ctx context.Context, m map[K]T, id K, errNotFound error) (T, error) {
	return withContext(ctx, func() (T, error) {
		item, ok := m[id]
		if !ok {
			var zero T
			return zero, fmt.Errorf("%w: id=%v", errNotFound, id)
		}
		return item, nil
	})
}

// SaveStatus saves a status snapshot to memory.
func (s *MemoryStorage) SaveStatus(ctx context.Context, status types.WorkflowStatus) error {
	_, err := withContext(ctx, func() (struct{}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.statuses[status.WorkflowID] = status
		return struct{}{}, nil
	})
	return err
}

// GetStatus retrieves a status snapshot from memory.
func (s *MemoryStorage) GetStatus(ctx context.Context, workflowID string) (types.WorkflowStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getItem(ctx, s.statuses, workflowID, ErrStatusNotFound)
}

// SaveResult saves a run result to memory.
func (s *MemoryStorage) SaveResult(ctx context.Context, instanceID uint64, result types.WorkflowResult) error {
	_, err := withContext(ctx, func() (struct{}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.results[instanceID] = result
		return struct{}{}, nil
	})
	return err
}

// GetResult retrieves a run result from memory.
func (s *MemoryStorage) GetResult(ctx context.Context, instanceID uint64) (types.WorkflowResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getItem(ctx, s.results, instanceID, ErrResultNotFound)
}

// ListStatuses returns all stored status snapshots.
func (s *MemoryStorage) ListStatuses(ctx context.Context) ([]types.WorkflowStatus, error) {
	return withContext(ctx, func() ([]types.WorkflowStatus, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		out := make([]types.WorkflowStatus, 0, len(s.statuses))
		for _, st := range s.statuses {
			out = append(out, st)
		}
		return out, nil
	})
}

// PurgeTerminal removes statuses that reached a terminal state.
func (s *MemoryStorage) PurgeTerminal(ctx context.Context) error {
	_, err := withContext(ctx, func() (struct{}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		for id, st := range s.statuses {
			if st.State.Terminal() {
				delete(s.statuses, id)
			}
		}
		return struct{}{}, nil
	})
	return err
}
