package bunstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/floodgate"
	"github.com/xraph/floodgate/id"
	"github.com/xraph/floodgate/wal"
)

// AppendWAL persists a new entry in requested status.
func (s *Store) AppendWAL(ctx context.Context, entry *wal.Entry) error {
	m := toWALModel(entry)
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("floodgate/bun: append wal: %w", err)
	}
	return nil
}

// CompleteWAL moves an entry to a terminal status. The guard on the
// current status makes completion forward-only even under concurrent
// completers.
func (s *Store) CompleteWAL(ctx context.Context, entryID id.EntryID, status wal.Status, result json.RawMessage, errMsg string) error {
	entry, err := s.GetWAL(ctx, entryID)
	if err != nil {
		return err
	}
	if !wal.CanTransition(entry.Status, status) {
		return floodgate.ErrInvalidState
	}

	now := time.Now().UTC()
	res, err := s.db.NewUpdate().
		Model((*walEntryModel)(nil)).
		Set("status = ?", string(status)).
		Set("result = ?", result).
		Set("error = ?", errMsg).
		Set("completed_at = ?", now).
		Where("id = ?", entryID.String()).
		Where("status = ?", string(wal.StatusRequested)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("floodgate/bun: complete wal: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("floodgate/bun: complete wal rows: %w", err)
	}
	if affected == 0 {
		return floodgate.ErrInvalidState
	}
	return nil
}

// GetWAL retrieves an entry by ID.
func (s *Store) GetWAL(ctx context.Context, entryID id.EntryID) (*wal.Entry, error) {
	m := new(walEntryModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", entryID.String()).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, floodgate.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("floodgate/bun: get wal: %w", err)
	}
	return fromWALModel(m)
}

// ListWAL returns entries matching the given options, newest first.
func (s *Store) ListWAL(ctx context.Context, opts wal.ListOpts) ([]*wal.Entry, error) {
	var models []walEntryModel
	q := s.db.NewSelect().Model(&models)

	if opts.Tool != "" {
		q = q.Where("tool = ?", opts.Tool)
	}
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}

	q = q.Order("requested_at DESC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("floodgate/bun: list wal: %w", err)
	}

	entries := make([]*wal.Entry, 0, len(models))
	for i := range models {
		e, convErr := fromWALModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("floodgate/bun: list wal convert: %w", convErr)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ListPendingWAL returns requested entries older than the threshold.
func (s *Store) ListPendingWAL(ctx context.Context, olderThan time.Time) ([]*wal.Entry, error) {
	var models []walEntryModel
	err := s.db.NewSelect().Model(&models).
		Where("status = ?", string(wal.StatusRequested)).
		Where("requested_at < ?", olderThan).
		Order("requested_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("floodgate/bun: list pending wal: %w", err)
	}

	entries := make([]*wal.Entry, 0, len(models))
	for i := range models {
		e, convErr := fromWALModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("floodgate/bun: list pending wal convert: %w", convErr)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// PruneWAL removes terminal entries with RequestedAt before the given time.
func (s *Store) PruneWAL(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*walEntryModel)(nil)).
		Where("status IN (?, ?)", string(wal.StatusSucceeded), string(wal.StatusFailed)).
		Where("requested_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("floodgate/bun: prune wal: %w", err)
	}
	return res.RowsAffected()
}
