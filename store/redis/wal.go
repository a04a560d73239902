package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/floodgate"
	"github.com/xraph/floodgate/id"
	"github.com/xraph/floodgate/wal"
)

// AppendWAL persists a new entry in requested status.
func (s *Store) AppendWAL(ctx context.Context, entry *wal.Entry) error {
	eID := entry.ID.String()
	raw, err := encode(entry)
	if err != nil {
		return fmt.Errorf("floodgate/redis: encode wal entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, walKey(eID), raw, 0)
	pipe.ZAdd(ctx, walIndexKey, goredis.Z{
		Score:  float64(entry.RequestedAt.UnixMilli()),
		Member: eID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("floodgate/redis: append wal: %w", err)
	}
	return nil
}

// CompleteWAL moves an entry to a terminal status.
func (s *Store) CompleteWAL(ctx context.Context, entryID id.EntryID, status wal.Status, result json.RawMessage, errMsg string) error {
	entry, err := s.GetWAL(ctx, entryID)
	if err != nil {
		return err
	}
	if !wal.CanTransition(entry.Status, status) {
		return floodgate.ErrInvalidState
	}

	now := time.Now().UTC()
	entry.Status = status
	entry.Result = result
	entry.Error = errMsg
	entry.CompletedAt = &now

	raw, err := encode(entry)
	if err != nil {
		return fmt.Errorf("floodgate/redis: encode wal entry: %w", err)
	}
	if err := s.client.Set(ctx, walKey(entryID.String()), raw, 0).Err(); err != nil {
		return fmt.Errorf("floodgate/redis: complete wal: %w", err)
	}
	return nil
}

// GetWAL retrieves an entry by ID.
func (s *Store) GetWAL(ctx context.Context, entryID id.EntryID) (*wal.Entry, error) {
	raw, err := s.client.Get(ctx, walKey(entryID.String())).Bytes()
	if err == goredis.Nil {
		return nil, floodgate.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("floodgate/redis: get wal: %w", err)
	}
	var entry wal.Entry
	if err := decode(raw, &entry); err != nil {
		return nil, fmt.Errorf("floodgate/redis: decode wal entry: %w", err)
	}
	return &entry, nil
}

// ListWAL returns entries matching the given options, newest first.
func (s *Store) ListWAL(ctx context.Context, opts wal.ListOpts) ([]*wal.Entry, error) {
	ids, err := s.client.ZRevRange(ctx, walIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("floodgate/redis: list wal: %w", err)
	}

	entries := make([]*wal.Entry, 0, len(ids))
	for _, eID := range ids {
		raw, getErr := s.client.Get(ctx, walKey(eID)).Bytes()
		if getErr != nil {
			continue
		}
		var entry wal.Entry
		if decode(raw, &entry) != nil {
			continue
		}
		if opts.Tool != "" && entry.Tool != opts.Tool {
			continue
		}
		if opts.Status != "" && entry.Status != opts.Status {
			continue
		}
		entries = append(entries, &entry)
	}
	return paginate(entries, opts.Offset, opts.Limit), nil
}

// ListPendingWAL returns requested entries older than the threshold.
func (s *Store) ListPendingWAL(ctx context.Context, olderThan time.Time) ([]*wal.Entry, error) {
	ids, err := s.client.ZRangeByScore(ctx, walIndexKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(olderThan.UnixMilli()-1, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("floodgate/redis: list pending wal: %w", err)
	}

	var entries []*wal.Entry
	for _, eID := range ids {
		raw, getErr := s.client.Get(ctx, walKey(eID)).Bytes()
		if getErr != nil {
			continue
		}
		var entry wal.Entry
		if decode(raw, &entry) != nil {
			continue
		}
		if entry.Status != wal.StatusRequested {
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// PruneWAL removes terminal entries with RequestedAt before the given time.
func (s *Store) PruneWAL(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.ZRangeByScore(ctx, walIndexKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(before.UnixMilli()-1, 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("floodgate/redis: prune wal range: %w", err)
	}

	var removed int64
	for _, eID := range ids {
		raw, getErr := s.client.Get(ctx, walKey(eID)).Bytes()
		if getErr == goredis.Nil {
			// Orphan index member. Clean it up.
			s.client.ZRem(ctx, walIndexKey, eID)
			continue
		}
		if getErr != nil {
			continue
		}
		var entry wal.Entry
		if decode(raw, &entry) != nil || !entry.Terminal() {
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.Del(ctx, walKey(eID))
		pipe.ZRem(ctx, walIndexKey, eID)
		if _, err := pipe.Exec(ctx); err != nil {
			return removed, fmt.Errorf("floodgate/redis: prune wal: %w", err)
		}
		removed++
	}
	return removed, nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
