package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/floodgate"
	"github.com/xraph/floodgate/id"
	"github.com/xraph/floodgate/intervention"
	"github.com/xraph/floodgate/saga"
	"github.com/xraph/floodgate/wal"
)

// ── WAL entry model ───────────────────────────────────────────────

type walEntryModel struct {
	bun.BaseModel `bun:"table:floodgate_wal"`

	ID          string          `bun:"id,pk"`
	TenantID    string          `bun:"tenant_id"`
	SagaID      string          `bun:"saga_id"`
	Tool        string          `bun:"tool,notnull"`
	Operation   string          `bun:"operation,notnull"`
	Parameters  json.RawMessage `bun:"parameters,type:jsonb"`
	Status      string          `bun:"status,notnull,default:'requested'"`
	Result      json.RawMessage `bun:"result,type:jsonb"`
	Error       string          `bun:"error"`
	RequestedAt time.Time       `bun:"requested_at,notnull,default:current_timestamp"`
	CompletedAt *time.Time      `bun:"completed_at"`
}

func toWALModel(e *wal.Entry) *walEntryModel {
	m := &walEntryModel{
		ID:          e.ID.String(),
		TenantID:    e.TenantID,
		Tool:        e.Tool,
		Operation:   e.Operation,
		Parameters:  e.Parameters,
		Status:      string(e.Status),
		Result:      e.Result,
		Error:       e.Error,
		RequestedAt: e.RequestedAt,
		CompletedAt: e.CompletedAt,
	}
	if !e.SagaID.IsNil() {
		m.SagaID = e.SagaID.String()
	}
	return m
}

func fromWALModel(m *walEntryModel) (*wal.Entry, error) {
	parsedID, err := id.ParseEntryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("floodgate/bun: parse wal id %q: %w", m.ID, err)
	}

	e := &wal.Entry{
		ID:          parsedID,
		TenantID:    m.TenantID,
		Tool:        m.Tool,
		Operation:   m.Operation,
		Parameters:  m.Parameters,
		Status:      wal.Status(m.Status),
		Result:      m.Result,
		Error:       m.Error,
		RequestedAt: m.RequestedAt,
		CompletedAt: m.CompletedAt,
	}

	if m.SagaID != "" {
		if parsedSaga, sErr := id.ParseSagaID(m.SagaID); sErr == nil {
			e.SagaID = parsedSaga
		}
	}
	return e, nil
}

// ── Saga execution model ──────────────────────────────────────────

type sagaModel struct {
	bun.BaseModel `bun:"table:floodgate_sagas"`

	ID           string          `bun:"id,pk"`
	Name         string          `bun:"name,notnull"`
	TenantID     string          `bun:"tenant_id"`
	Status       string          `bun:"status,notnull,default:'running'"`
	Steps        json.RawMessage `bun:"steps,type:jsonb"`
	Error        string          `bun:"error"`
	CancelReason string          `bun:"cancel_reason"`
	StartedAt    time.Time       `bun:"started_at,notnull,default:current_timestamp"`
	CompletedAt  *time.Time      `bun:"completed_at"`
	CreatedAt    time.Time       `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt    time.Time       `bun:"updated_at,notnull,default:current_timestamp"`
}

func toSagaModel(exec *saga.Execution) (*sagaModel, error) {
	steps, err := json.Marshal(exec.Steps)
	if err != nil {
		return nil, fmt.Errorf("floodgate/bun: encode saga steps: %w", err)
	}
	return &sagaModel{
		ID:           exec.ID.String(),
		Name:         exec.Name,
		TenantID:     exec.TenantID,
		Status:       string(exec.Status),
		Steps:        steps,
		Error:        exec.Error,
		CancelReason: exec.CancelReason,
		StartedAt:    exec.StartedAt,
		CompletedAt:  exec.CompletedAt,
		CreatedAt:    exec.CreatedAt,
		UpdatedAt:    exec.UpdatedAt,
	}, nil
}

func fromSagaModel(m *sagaModel) (*saga.Execution, error) {
	parsedID, err := id.ParseSagaID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("floodgate/bun: parse saga id %q: %w", m.ID, err)
	}

	var steps []*saga.Step
	if len(m.Steps) > 0 {
		if err := json.Unmarshal(m.Steps, &steps); err != nil {
			return nil, fmt.Errorf("floodgate/bun: decode saga steps: %w", err)
		}
	}

	return &saga.Execution{
		Entity: floodgate.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:           parsedID,
		Name:         m.Name,
		TenantID:     m.TenantID,
		Status:       saga.Status(m.Status),
		Steps:        steps,
		Error:        m.Error,
		CancelReason: m.CancelReason,
		StartedAt:    m.StartedAt,
		CompletedAt:  m.CompletedAt,
	}, nil
}

// ── Intervention entry model ──────────────────────────────────────

type interventionModel struct {
	bun.BaseModel `bun:"table:floodgate_interventions"`

	ID         string     `bun:"id,pk"`
	SagaID     string     `bun:"saga_id,notnull"`
	SagaName   string     `bun:"saga_name"`
	TenantID   string     `bun:"tenant_id"`
	StepName   string     `bun:"step_name,notnull"`
	Error      string     `bun:"error"`
	Attempts   int        `bun:"attempts,notnull,default:0"`
	Note       string     `bun:"note"`
	Resolution string     `bun:"resolution"`
	QueuedAt   time.Time  `bun:"queued_at,notnull,default:current_timestamp"`
	ResolvedAt *time.Time `bun:"resolved_at"`
}

func toInterventionModel(e *intervention.Entry) *interventionModel {
	return &interventionModel{
		ID:         e.ID.String(),
		SagaID:     e.SagaID.String(),
		SagaName:   e.SagaName,
		TenantID:   e.TenantID,
		StepName:   e.StepName,
		Error:      e.Error,
		Attempts:   e.Attempts,
		Note:       e.Note,
		Resolution: string(e.Resolution),
		QueuedAt:   e.QueuedAt,
		ResolvedAt: e.ResolvedAt,
	}
}

func fromInterventionModel(m *interventionModel) (*intervention.Entry, error) {
	parsedID, err := id.ParseInterventionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("floodgate/bun: parse intervention id %q: %w", m.ID, err)
	}
	parsedSaga, err := id.ParseSagaID(m.SagaID)
	if err != nil {
		return nil, fmt.Errorf("floodgate/bun: parse saga id %q: %w", m.SagaID, err)
	}

	return &intervention.Entry{
		ID:         parsedID,
		SagaID:     parsedSaga,
		SagaName:   m.SagaName,
		TenantID:   m.TenantID,
		StepName:   m.StepName,
		Error:      m.Error,
		Attempts:   m.Attempts,
		Note:       m.Note,
		Resolution: intervention.Resolution(m.Resolution),
		QueuedAt:   m.QueuedAt,
		ResolvedAt: m.ResolvedAt,
	}, nil
}
