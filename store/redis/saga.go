package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/floodgate"
	"github.com/xraph/floodgate/id"
	"github.com/xraph/floodgate/saga"
)

// CreateSaga persists a new execution.
func (s *Store) CreateSaga(ctx context.Context, exec *saga.Execution) error {
	raw, err := encode(exec)
	if err != nil {
		return fmt.Errorf("floodgate/redis: encode saga: %w", err)
	}

	sID := exec.ID.String()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sagaKey(sID), raw, 0)
	pipe.ZAdd(ctx, sagaIndexKey, goredis.Z{
		Score:  float64(exec.StartedAt.UnixMilli()),
		Member: sID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("floodgate/redis: create saga: %w", err)
	}
	return nil
}

// GetSaga retrieves an execution by ID.
func (s *Store) GetSaga(ctx context.Context, sagaID id.SagaID) (*saga.Execution, error) {
	raw, err := s.client.Get(ctx, sagaKey(sagaID.String())).Bytes()
	if err == goredis.Nil {
		return nil, floodgate.ErrSagaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("floodgate/redis: get saga: %w", err)
	}
	var exec saga.Execution
	if err := decode(raw, &exec); err != nil {
		return nil, fmt.Errorf("floodgate/redis: decode saga: %w", err)
	}
	return &exec, nil
}

// UpdateSaga persists changes to an existing execution.
func (s *Store) UpdateSaga(ctx context.Context, exec *saga.Execution) error {
	key := sagaKey(exec.ID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("floodgate/redis: update saga exists: %w", err)
	}
	if exists == 0 {
		return floodgate.ErrSagaNotFound
	}

	raw, err := encode(exec)
	if err != nil {
		return fmt.Errorf("floodgate/redis: encode saga: %w", err)
	}
	if err := s.client.Set(ctx, key, raw, 0).Err(); err != nil {
		return fmt.Errorf("floodgate/redis: update saga: %w", err)
	}
	return nil
}

// ListSagas returns executions matching the given options, newest first.
func (s *Store) ListSagas(ctx context.Context, opts saga.ListOpts) ([]*saga.Execution, error) {
	ids, err := s.client.ZRevRange(ctx, sagaIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("floodgate/redis: list sagas: %w", err)
	}

	execs := make([]*saga.Execution, 0, len(ids))
	for _, sID := range ids {
		raw, getErr := s.client.Get(ctx, sagaKey(sID)).Bytes()
		if getErr != nil {
			continue
		}
		var exec saga.Execution
		if decode(raw, &exec) != nil {
			continue
		}
		if opts.Status != "" && exec.Status != opts.Status {
			continue
		}
		if opts.TenantID != "" && exec.TenantID != opts.TenantID {
			continue
		}
		execs = append(execs, &exec)
	}
	return paginate(execs, opts.Offset, opts.Limit), nil
}

// PurgeSagas removes terminal executions started before the given time.
func (s *Store) PurgeSagas(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.ZRangeByScore(ctx, sagaIndexKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(before.UnixMilli()-1, 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("floodgate/redis: purge sagas range: %w", err)
	}

	var removed int64
	for _, sID := range ids {
		raw, getErr := s.client.Get(ctx, sagaKey(sID)).Bytes()
		if getErr == goredis.Nil {
			s.client.ZRem(ctx, sagaIndexKey, sID)
			continue
		}
		if getErr != nil {
			continue
		}
		var exec saga.Execution
		if decode(raw, &exec) != nil || !exec.Status.Terminal() {
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.Del(ctx, sagaKey(sID))
		pipe.ZRem(ctx, sagaIndexKey, sID)
		if _, err := pipe.Exec(ctx); err != nil {
			return removed, fmt.Errorf("floodgate/redis: purge sagas: %w", err)
		}
		removed++
	}
	return removed, nil
}
