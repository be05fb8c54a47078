/**
 * @description
 * This file defines the data access contracts for the ledger-service: the
 * append-only event store, the saga bookkeeping tables, and the projector's
 * read-model tables. Interfaces keep the business logic independent of the
 * PostgreSQL implementations and make the application layer testable with
 * in-memory stubs.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
)

// EventStore is the append-only per-stream event log with optimistic
// concurrency control. Append is the system's sole mutual-exclusion
// primitive; there is no other locking.
type EventStore interface {
	// Append atomically verifies that the stream's current version equals
	// expectedVersion and inserts the events with the following versions.
	// On mismatch it returns a *ConcurrencyConflictError and writes nothing.
	Append(ctx context.Context, streamID string, events []domain.Event, expectedVersion int64) error
	// Read returns events for a stream in ascending version order, starting
	// after fromVersion (0 means the whole stream).
	Read(ctx context.Context, streamID string, fromVersion int64) ([]domain.Event, error)
	// ReadAll pages through every committed event ordered by commit time.
	ReadAll(ctx context.Context, limit, offset int) ([]domain.Event, error)
	// ReadByType pages through events of one type ordered by commit time.
	ReadByType(ctx context.Context, eventType string, limit, offset int) ([]domain.Event, error)
	// CurrentVersion returns the stream's latest version, 0 for an empty stream.
	CurrentVersion(ctx context.Context, streamID string) (int64, error)

	SaveSnapshot(ctx context.Context, streamID string, data []byte, version int64) error
	// GetSnapshot returns ErrSnapshotNotFound when no snapshot exists.
	GetSnapshot(ctx context.Context, streamID string) (*domain.Snapshot, error)

	// Operational tooling.
	ListStreams(ctx context.Context) ([]string, error)
	CountEvents(ctx context.Context) (int64, error)
	CountStreamEvents(ctx context.Context, streamID string) (int64, error)
}

// StepUpdate carries the optional fields of a saga step status change.
type StepUpdate struct {
	OutputData   []byte
	EventIDs     []string
	ErrorMessage *string
}

// SagaRepository persists saga instances, their steps, and the saga event
// journal.
type SagaRepository interface {
	CreateSaga(ctx context.Context, saga *domain.SagaInstance) error
	GetSaga(ctx context.Context, sagaID uuid.UUID) (*domain.SagaInstance, error)
	// GetSagaByCorrelationID returns ErrSagaNotFound when no saga exists for
	// the correlation id; it backs trigger idempotency.
	GetSagaByCorrelationID(ctx context.Context, correlationID string) (*domain.SagaInstance, error)
	UpdateSagaStatus(ctx context.Context, sagaID uuid.UUID, status domain.SagaStatus, currentStep *int, errorMessage *string) error
	IncrementSagaRetryCount(ctx context.Context, sagaID uuid.UUID) error

	CreateStep(ctx context.Context, step *domain.SagaStep) error
	// GetSteps returns a saga's steps of one type ordered by step number.
	GetSteps(ctx context.Context, sagaID uuid.UUID, stepType domain.SagaStepType) ([]domain.SagaStep, error)
	UpdateStepStatus(ctx context.Context, stepID uuid.UUID, status domain.SagaStepStatus, update StepUpdate) error

	AppendSagaEvent(ctx context.Context, sagaID uuid.UUID, eventType string, eventData []byte) error

	// ListTimedOutSagas returns non-terminal sagas whose timeout has passed.
	ListTimedOutSagas(ctx context.Context, now time.Time) ([]domain.SagaInstance, error)
}

// ReadModelRepository maintains the projector's derived tables. All writes
// must be idempotent under at-least-once delivery: the balance row is guarded
// by the event version, history rows are keyed by fresh ids.
type ReadModelRepository interface {
	UpsertAccountView(ctx context.Context, view domain.AccountView) error
	// ApplyBalanceDelta adjusts the balance only when version is newer than
	// the row's; a redelivered event is a no-op.
	ApplyBalanceDelta(ctx context.Context, accountID string, delta int64, version int64) error
	SetAccountStatus(ctx context.Context, accountID, status string, version int64) error
	GetAccountView(ctx context.Context, accountID string) (*domain.AccountView, error)
	InsertTransactionRecord(ctx context.Context, rec domain.TransactionRecord) error
}
