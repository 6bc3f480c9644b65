package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/uridolan77/Aigent-sub001/types"
)

const (
	statusPrefix = "wf:status:"
	resultPrefix = "wf:result:"
)

// RedisStorage is a Redis-backed implementation of the Storage interface.
// Values are stored as JSON under prefixed keys.
type RedisStorage struct {
	client *redis.Client
}

// RedisOptions extends redis.Options with the subset of knobs this store uses.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
}

// NewRedisStorage creates a RedisStorage and verifies connectivity.
func NewRedisStorage(opts RedisOptions) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return &RedisStorage{client: client}, nil
}

// withContextError handles context cancellation for operations that only return an error.
func withContextError(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}

func (s *RedisStorage) setJSON(ctx context.Context, key string, value interface{}) error {
	return withContextError(ctx, func() error {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %v", key, err)
		}
		if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
			return fmt.Errorf("failed to set %s in Redis: %v", key, err)
		}
		return nil
	})
}

func getJSON[T any](ctx context.Context, client *redis.Client, key string, errNotFound error) (T, error) {
	return withContext(ctx, func() (T, error) {
		var zero T
		data, err := client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return zero, fmt.Errorf("%w: key=%s", errNotFound, key)
		} else if err != nil {
			return zero, fmt.Errorf("failed to get %s from Redis: %v", key, err)
		}

		var result T
		if err := json.Unmarshal(data, &result); err != nil {
			return zero, fmt.Errorf("failed to unmarshal %s: %v", key, err)
		}
		return result, nil
	})
}

// SaveStatus saves a status snapshot to Redis.
func (s *RedisStorage) SaveStatus(ctx context.Context, status types.WorkflowStatus) error {
	return s.setJSON(ctx, statusPrefix+status.WorkflowID, status)
}

// GetStatus retrieves a status snapshot from Redis.
func (s *RedisStorage) GetStatus(ctx context.Context, workflowID string) (types.WorkflowStatus, error) {
	return getJSON[types.WorkflowStatus](ctx, s.client, statusPrefix+workflowID, ErrStatusNotFound)
}

// SaveResult saves a run result to Redis.
func (s *RedisStorage) SaveResult(ctx context.Context, instanceID uint64, result types.WorkflowResult) error {
	return s.setJSON(ctx, fmt.Sprintf("%s%d", resultPrefix, instanceID), result)
}

// GetResult retrieves a run result from Redis.
func (s *RedisStorage) GetResult(ctx context.Context, instanceID uint64) (types.WorkflowResult, error) {
	return getJSON[types.WorkflowResult](ctx, s.client, fmt.Sprintf("%s%d", resultPrefix, instanceID), ErrResultNotFound)
}

// ListStatuses returns all status snapshots stored in Redis.
func (s *RedisStorage) ListStatuses(ctx context.Context) ([]types.WorkflowStatus, error) {
	return withContext(ctx, func() ([]types.WorkflowStatus, error) {
		keys, err := s.client.Keys(ctx, statusPrefix+"*").Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan status keys: %v", err)
		}

		out := make([]types.WorkflowStatus, 0, len(keys))
		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			} else if err != nil {
				return nil, fmt.Errorf("failed to get %s: %v", key, err)
			}

			var st types.WorkflowStatus
			if err := json.Unmarshal(data, &st); err != nil {
				return nil, fmt.Errorf("failed to unmarshal %s: %v", key, err)
			}
			out = append(out, st)
		}
		return out, nil
	})
}

// PurgeTerminal removes statuses in a terminal state from Redis.
func (s *RedisStorage) PurgeTerminal(ctx context.Context) error {
	return withContextError(ctx, func() error {
		keys, err := s.client.Keys(ctx, statusPrefix+"*").Result()
		if err != nil {
			return fmt.Errorf("failed to scan status keys: %v", err)
		}

		if len(keys) == 0 {
			return nil
		}

		pipe := s.client.Pipeline()
		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			} else if err != nil {
				return fmt.Errorf("failed to get %s: %v", key, err)
			}

			var st types.WorkflowStatus
			if err := json.Unmarshal(data, &st); err != nil {
				return fmt.Errorf("failed to unmarshal %s: %v", key, err)
			}

			if st.State.Terminal() {
				pipe.Del(ctx, key)
			}
		}

		_, err = pipe.Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to execute pipeline for deletion: %v", err)
		}
		return nil
	})
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
