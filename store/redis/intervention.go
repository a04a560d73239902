package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/floodgate"
	"github.com/xraph/floodgate/id"
	"github.com/xraph/floodgate/intervention"
)

// PushIntervention adds an entry to the queue.
func (s *Store) PushIntervention(ctx context.Context, entry *intervention.Entry) error {
	raw, err := encode(entry)
	if err != nil {
		return fmt.Errorf("floodgate/redis: encode intervention: %w", err)
	}

	eID := entry.ID.String()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, interventionKey(eID), raw, 0)
	pipe.ZAdd(ctx, interventionIndexKey, goredis.Z{
		Score:  float64(entry.QueuedAt.UnixMilli()),
		Member: eID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("floodgate/redis: push intervention: %w", err)
	}
	return nil
}

// GetIntervention retrieves an entry by ID.
func (s *Store) GetIntervention(ctx context.Context, entryID id.InterventionID) (*intervention.Entry, error) {
	raw, err := s.client.Get(ctx, interventionKey(entryID.String())).Bytes()
	if err == goredis.Nil {
		return nil, floodgate.ErrInterventionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("floodgate/redis: get intervention: %w", err)
	}
	var entry intervention.Entry
	if err := decode(raw, &entry); err != nil {
		return nil, fmt.Errorf("floodgate/redis: decode intervention: %w", err)
	}
	return &entry, nil
}

// ListInterventions returns entries matching the given options, newest first.
func (s *Store) ListInterventions(ctx context.Context, opts intervention.ListOpts) ([]*intervention.Entry, error) {
	ids, err := s.client.ZRevRange(ctx, interventionIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("floodgate/redis: list interventions: %w", err)
	}

	entries := make([]*intervention.Entry, 0, len(ids))
	for _, eID := range ids {
		raw, getErr := s.client.Get(ctx, interventionKey(eID)).Bytes()
		if getErr != nil {
			continue
		}
		var entry intervention.Entry
		if decode(raw, &entry) != nil {
			continue
		}
		if !opts.IncludeResolved && !entry.Open() {
			continue
		}
		if opts.TenantID != "" && entry.TenantID != opts.TenantID {
			continue
		}
		entries = append(entries, &entry)
	}
	return paginate(entries, opts.Offset, opts.Limit), nil
}

// ResolveIntervention marks an entry closed.
func (s *Store) ResolveIntervention(ctx context.Context, entryID id.InterventionID, res intervention.Resolution, note string) error {
	entry, err := s.GetIntervention(ctx, entryID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	entry.Resolution = res
	entry.Note = note
	entry.ResolvedAt = &now

	raw, err := encode(entry)
	if err != nil {
		return fmt.Errorf("floodgate/redis: encode intervention: %w", err)
	}
	if err := s.client.Set(ctx, interventionKey(entryID.String()), raw, 0).Err(); err != nil {
		return fmt.Errorf("floodgate/redis: resolve intervention: %w", err)
	}
	return nil
}

// CountInterventions returns the number of open entries.
func (s *Store) CountInterventions(ctx context.Context) (int64, error) {
	entries, err := s.ListInterventions(ctx, intervention.ListOpts{})
	if err != nil {
		return 0, err
	}
	return int64(len(entries)), nil
}
