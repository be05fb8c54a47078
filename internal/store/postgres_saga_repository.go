/**
 * @description
 * PostgreSQL implementation of the SagaRepository interface, covering the
 * saga_instances, saga_steps and saga_events tables.
 */

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/ledger-service/internal/domain"
)

// PostgresSagaRepository is the pgx-backed SagaRepository.
type PostgresSagaRepository struct {
	db *pgxpool.Pool
}

// NewPostgresSagaRepository creates a new instance of PostgresSagaRepository.
func NewPostgresSagaRepository(db *pgxpool.Pool) *PostgresSagaRepository {
	return &PostgresSagaRepository{db: db}
}

// CreateSaga inserts a new saga instance row.
func (r *PostgresSagaRepository) CreateSaga(ctx context.Context, saga *domain.SagaInstance) error {
	payload, err := json.Marshal(saga.Payload)
	if err != nil {
		return fmt.Errorf("marshal saga payload: %w", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO saga_instances (
			saga_id, saga_type, status, correlation_id, payload, current_step,
			total_steps, started_at, timeout_at, retry_count, created_by
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		saga.SagaID, saga.SagaType, saga.Status, saga.CorrelationID, payload,
		saga.CurrentStep, saga.TotalSteps, saga.StartedAt, saga.TimeoutAt,
		saga.RetryCount, saga.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("insert saga instance: %w", err)
	}
	return nil
}

// GetSaga loads a saga instance by id.
func (r *PostgresSagaRepository) GetSaga(ctx context.Context, sagaID uuid.UUID) (*domain.SagaInstance, error) {
	return r.querySaga(ctx,
		`SELECT saga_id, saga_type, status, correlation_id, payload, current_step,
			total_steps, started_at, completed_at, timeout_at, error_message, retry_count, created_by
		 FROM saga_instances WHERE saga_id = $1`, sagaID)
}

// GetSagaByCorrelationID loads a saga instance by its correlation id.
func (r *PostgresSagaRepository) GetSagaByCorrelationID(ctx context.Context, correlationID string) (*domain.SagaInstance, error) {
	return r.querySaga(ctx,
		`SELECT saga_id, saga_type, status, correlation_id, payload, current_step,
			total_steps, started_at, completed_at, timeout_at, error_message, retry_count, created_by
		 FROM saga_instances WHERE correlation_id = $1`, correlationID)
}

func (r *PostgresSagaRepository) querySaga(ctx context.Context, query string, arg any) (*domain.SagaInstance, error) {
	var (
		saga    domain.SagaInstance
		payload []byte
	)
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&saga.SagaID, &saga.SagaType, &saga.Status, &saga.CorrelationID, &payload,
		&saga.CurrentStep, &saga.TotalSteps, &saga.StartedAt, &saga.CompletedAt,
		&saga.TimeoutAt, &saga.ErrorMessage, &saga.RetryCount, &saga.CreatedBy,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSagaNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(payload, &saga.Payload); err != nil {
		return nil, fmt.Errorf("decode saga payload: %w", err)
	}
	return &saga, nil
}

// UpdateSagaStatus transitions a saga's status, optionally bumping the
// current step and recording an error message. Terminal statuses stamp
// completed_at.
func (r *PostgresSagaRepository) UpdateSagaStatus(ctx context.Context, sagaID uuid.UUID, status domain.SagaStatus, currentStep *int, errorMessage *string) error {
	var completedAt *time.Time
	switch status {
	case domain.SagaCompleted, domain.SagaCompensated, domain.SagaFailed:
		now := time.Now().UTC()
		completedAt = &now
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE saga_instances
		 SET status = $2,
		     current_step = COALESCE($3, current_step),
		     error_message = COALESCE($4, error_message),
		     completed_at = COALESCE($5, completed_at)
		 WHERE saga_id = $1`,
		sagaID, status, currentStep, errorMessage, completedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSagaNotFound
	}
	return nil
}

// IncrementSagaRetryCount bumps the saga-level retry counter.
func (r *PostgresSagaRepository) IncrementSagaRetryCount(ctx context.Context, sagaID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE saga_instances SET retry_count = retry_count + 1 WHERE saga_id = $1`, sagaID)
	return err
}

// CreateStep inserts a saga step row.
func (r *PostgresSagaRepository) CreateStep(ctx context.Context, step *domain.SagaStep) error {
	eventIDs, err := json.Marshal(step.EventIDs)
	if err != nil {
		return fmt.Errorf("marshal step event ids: %w", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO saga_steps (
			step_id, saga_id, step_number, step_name, step_type, status,
			input_data, output_data, event_ids, retry_count, compensation_step_id
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		step.StepID, step.SagaID, step.StepNumber, step.StepName, step.StepType,
		step.Status, nullableJSON(step.InputData), nullableJSON(step.OutputData),
		eventIDs, step.RetryCount, step.CompensationStepID,
	)
	if err != nil {
		return fmt.Errorf("insert saga step: %w", err)
	}
	return nil
}

// GetSteps returns a saga's steps of one type in step-number order.
func (r *PostgresSagaRepository) GetSteps(ctx context.Context, sagaID uuid.UUID, stepType domain.SagaStepType) ([]domain.SagaStep, error) {
	rows, err := r.db.Query(ctx,
		`SELECT step_id, saga_id, step_number, step_name, step_type, status,
			input_data, output_data, event_ids, started_at, completed_at,
			error_message, retry_count, compensation_step_id
		 FROM saga_steps WHERE saga_id = $1 AND step_type = $2
		 ORDER BY step_number ASC`,
		sagaID, stepType,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []domain.SagaStep
	for rows.Next() {
		var (
			step     domain.SagaStep
			eventIDs []byte
		)
		err := rows.Scan(
			&step.StepID, &step.SagaID, &step.StepNumber, &step.StepName, &step.StepType,
			&step.Status, &step.InputData, &step.OutputData, &eventIDs,
			&step.StartedAt, &step.CompletedAt, &step.ErrorMessage, &step.RetryCount,
			&step.CompensationStepID,
		)
		if err != nil {
			return nil, err
		}
		if len(eventIDs) > 0 {
			if err := json.Unmarshal(eventIDs, &step.EventIDs); err != nil {
				return nil, fmt.Errorf("decode step event ids: %w", err)
			}
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// UpdateStepStatus transitions a step, stamping started_at on EXECUTING and
// completed_at on the terminal step statuses.
func (r *PostgresSagaRepository) UpdateStepStatus(ctx context.Context, stepID uuid.UUID, status domain.SagaStepStatus, update StepUpdate) error {
	now := time.Now().UTC()
	var startedAt, completedAt *time.Time
	switch status {
	case domain.StepExecuting:
		startedAt = &now
	case domain.StepCompleted, domain.StepFailed, domain.StepCompensated:
		completedAt = &now
	}

	var eventIDs []byte
	if update.EventIDs != nil {
		var err error
		eventIDs, err = json.Marshal(update.EventIDs)
		if err != nil {
			return fmt.Errorf("marshal step event ids: %w", err)
		}
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE saga_steps
		 SET status = $2,
		     output_data = COALESCE($3, output_data),
		     event_ids = COALESCE($4, event_ids),
		     error_message = COALESCE($5, error_message),
		     started_at = COALESCE($6, started_at),
		     completed_at = COALESCE($7, completed_at)
		 WHERE step_id = $1`,
		stepID, status, nullableJSON(update.OutputData), nullableJSON(eventIDs),
		update.ErrorMessage, startedAt, completedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStepNotFound
	}
	return nil
}

// AppendSagaEvent journals a saga lifecycle event.
func (r *PostgresSagaRepository) AppendSagaEvent(ctx context.Context, sagaID uuid.UUID, eventType string, eventData []byte) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO saga_events (event_id, saga_id, event_type, event_data, created_at)
		 VALUES ($1, $2, $3, $4, NOW())`,
		uuid.New(), sagaID, eventType, nullableJSON(eventData),
	)
	return err
}

// ListTimedOutSagas returns non-terminal sagas whose timeout has passed.
func (r *PostgresSagaRepository) ListTimedOutSagas(ctx context.Context, now time.Time) ([]domain.SagaInstance, error) {
	rows, err := r.db.Query(ctx,
		`SELECT saga_id, saga_type, status, correlation_id, payload, current_step,
			total_steps, started_at, completed_at, timeout_at, error_message, retry_count, created_by
		 FROM saga_instances
		 WHERE status IN ($1, $2) AND timeout_at < $3
		 ORDER BY timeout_at ASC`,
		domain.SagaStarted, domain.SagaCompensating, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sagas []domain.SagaInstance
	for rows.Next() {
		var (
			saga    domain.SagaInstance
			payload []byte
		)
		err := rows.Scan(
			&saga.SagaID, &saga.SagaType, &saga.Status, &saga.CorrelationID, &payload,
			&saga.CurrentStep, &saga.TotalSteps, &saga.StartedAt, &saga.CompletedAt,
			&saga.TimeoutAt, &saga.ErrorMessage, &saga.RetryCount, &saga.CreatedBy,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &saga.Payload); err != nil {
			return nil, fmt.Errorf("decode saga payload: %w", err)
		}
		sagas = append(sagas, saga)
	}
	return sagas, rows.Err()
}

// nullableJSON maps empty blobs to NULL so COALESCE keeps existing values.
func nullableJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return data
}
