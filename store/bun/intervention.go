package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/floodgate"
	"github.com/xraph/floodgate/id"
	"github.com/xraph/floodgate/intervention"
)

// PushIntervention adds an entry to the queue.
func (s *Store) PushIntervention(ctx context.Context, entry *intervention.Entry) error {
	m := toInterventionModel(entry)
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("floodgate/bun: push intervention: %w", err)
	}
	return nil
}

// GetIntervention retrieves an entry by ID.
func (s *Store) GetIntervention(ctx context.Context, entryID id.InterventionID) (*intervention.Entry, error) {
	m := new(interventionModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", entryID.String()).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, floodgate.ErrInterventionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("floodgate/bun: get intervention: %w", err)
	}
	return fromInterventionModel(m)
}

// ListInterventions returns entries matching the given options, newest first.
func (s *Store) ListInterventions(ctx context.Context, opts intervention.ListOpts) ([]*intervention.Entry, error) {
	var models []interventionModel
	q := s.db.NewSelect().Model(&models)

	if !opts.IncludeResolved {
		q = q.Where("resolved_at IS NULL")
	}
	if opts.TenantID != "" {
		q = q.Where("tenant_id = ?", opts.TenantID)
	}

	q = q.Order("queued_at DESC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("floodgate/bun: list interventions: %w", err)
	}

	entries := make([]*intervention.Entry, 0, len(models))
	for i := range models {
		e, convErr := fromInterventionModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("floodgate/bun: list interventions convert: %w", convErr)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ResolveIntervention marks an entry closed.
func (s *Store) ResolveIntervention(ctx context.Context, entryID id.InterventionID, res intervention.Resolution, note string) error {
	now := time.Now().UTC()
	result, err := s.db.NewUpdate().
		Model((*interventionModel)(nil)).
		Set("resolution = ?", string(res)).
		Set("note = ?", note).
		Set("resolved_at = ?", now).
		Where("id = ?", entryID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("floodgate/bun: resolve intervention: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("floodgate/bun: resolve intervention rows: %w", err)
	}
	if affected == 0 {
		return floodgate.ErrInterventionNotFound
	}
	return nil
}

// CountInterventions returns the number of open entries.
func (s *Store) CountInterventions(ctx context.Context) (int64, error) {
	n, err := s.db.NewSelect().
		Model((*interventionModel)(nil)).
		Where("resolved_at IS NULL").
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("floodgate/bun: count interventions: %w", err)
	}
	return int64(n), nil
}
