package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/floodgate"
	"github.com/xraph/floodgate/id"
	"github.com/xraph/floodgate/saga"
)

// CreateSaga persists a new execution.
func (s *Store) CreateSaga(ctx context.Context, exec *saga.Execution) error {
	m, err := toSagaModel(exec)
	if err != nil {
		return err
	}
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("floodgate/bun: create saga: %w", err)
	}
	return nil
}

// GetSaga retrieves an execution by ID.
func (s *Store) GetSaga(ctx context.Context, sagaID id.SagaID) (*saga.Execution, error) {
	m := new(sagaModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", sagaID.String()).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, floodgate.ErrSagaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("floodgate/bun: get saga: %w", err)
	}
	return fromSagaModel(m)
}

// UpdateSaga persists changes to an existing execution.
func (s *Store) UpdateSaga(ctx context.Context, exec *saga.Execution) error {
	m, err := toSagaModel(exec)
	if err != nil {
		return err
	}
	m.UpdatedAt = time.Now().UTC()

	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("floodgate/bun: update saga: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("floodgate/bun: update saga rows: %w", err)
	}
	if affected == 0 {
		return floodgate.ErrSagaNotFound
	}
	return nil
}

// ListSagas returns executions matching the given options, newest first.
func (s *Store) ListSagas(ctx context.Context, opts saga.ListOpts) ([]*saga.Execution, error) {
	var models []sagaModel
	q := s.db.NewSelect().Model(&models)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.TenantID != "" {
		q = q.Where("tenant_id = ?", opts.TenantID)
	}

	q = q.Order("started_at DESC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("floodgate/bun: list sagas: %w", err)
	}

	execs := make([]*saga.Execution, 0, len(models))
	for i := range models {
		exec, convErr := fromSagaModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("floodgate/bun: list sagas convert: %w", convErr)
		}
		execs = append(execs, exec)
	}
	return execs, nil
}

// PurgeSagas removes terminal executions started before the given time.
func (s *Store) PurgeSagas(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*sagaModel)(nil)).
		Where("status IN (?, ?, ?)",
			string(saga.StatusCompleted),
			string(saga.StatusCompensated),
			string(saga.StatusFailed)).
		Where("started_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("floodgate/bun: purge sagas: %w", err)
	}
	return res.RowsAffected()
}
