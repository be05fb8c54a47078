/**
 * @description
 * Saga domain model for the money transfer workflow: instance and step
 * records, their status machines, the closed step definition table, and the
 * lifecycle events the orchestrator publishes on the bus.
 *
 * @notes
 * - Step definitions are a fixed in-code table. There is exactly one saga
 *   type, so a database-driven definition registry would only add a moving
 *   part that cannot vary at runtime.
 */

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SagaStatus transitions: STARTED -> COMPLETED, STARTED -> COMPENSATING ->
// COMPENSATED, STARTED -> FAILED, COMPENSATING -> FAILED. Terminal states are
// never reopened.
type SagaStatus string

const (
	SagaStarted      SagaStatus = "STARTED"
	SagaCompensating SagaStatus = "COMPENSATING"
	SagaCompleted    SagaStatus = "COMPLETED"
	SagaFailed       SagaStatus = "FAILED"
	SagaCompensated  SagaStatus = "COMPENSATED"
)

// SagaStepStatus is the per-step lifecycle.
type SagaStepStatus string

const (
	StepPending     SagaStepStatus = "PENDING"
	StepExecuting   SagaStepStatus = "EXECUTING"
	StepCompleted   SagaStepStatus = "COMPLETED"
	StepFailed      SagaStepStatus = "FAILED"
	StepCompensated SagaStepStatus = "COMPENSATED"
)

// SagaStepType distinguishes forward steps from lazily created compensations.
type SagaStepType string

const (
	StepForward      SagaStepType = "FORWARD"
	StepCompensation SagaStepType = "COMPENSATION"
)

// SagaTypeMoneyTransfer is the only saga type this service runs.
const SagaTypeMoneyTransfer = "MONEY_TRANSFER"

// Forward step names, executed strictly in this order.
const (
	StepValidateTransfer   = "VALIDATE_TRANSFER"
	StepWithdrawFromSource = "WITHDRAW_FROM_SOURCE"
	StepDepositToTarget    = "DEPOSIT_TO_TARGET"
	StepFinalizeTransfer   = "FINALIZE_TRANSFER"
)

// Compensation step names.
const (
	StepCompensateWithdraw  = "COMPENSATE_WITHDRAW"
	StepCompensateDeposit   = "COMPENSATE_DEPOSIT"
	StepReverseFinalization = "REVERSE_FINALIZATION"
)

// Compensation step numbers start here, assigned in reverse completion order
// of the forward steps they undo.
const CompensationStepBase = 100

// StepDefinition describes one forward step of a saga type.
type StepDefinition struct {
	Number           int
	Name             string
	Compensatable    bool
	CompensationName string
}

// MoneyTransferSteps is the definition table for the money transfer saga.
func MoneyTransferSteps() []StepDefinition {
	return []StepDefinition{
		{Number: 1, Name: StepValidateTransfer},
		{Number: 2, Name: StepWithdrawFromSource, Compensatable: true, CompensationName: StepCompensateWithdraw},
		{Number: 3, Name: StepDepositToTarget, Compensatable: true, CompensationName: StepCompensateDeposit},
		{Number: 4, Name: StepFinalizeTransfer, Compensatable: true, CompensationName: StepReverseFinalization},
	}
}

// MoneyTransferPayload is the saga's input, taken verbatim from the
// TransferRequested trigger event.
type MoneyTransferPayload struct {
	TransferRequestID string    `json:"transferRequestId"`
	FromAccountID     string    `json:"fromAccountId"`
	ToAccountID       string    `json:"toAccountId"`
	Amount            int64     `json:"amount"`
	Description       string    `json:"description,omitempty"`
	RequestedAt       time.Time `json:"requestedAt"`
}

// SagaInstance is one running (or finished) transfer workflow. CorrelationID
// is the originating transfer request id and doubles as the idempotency key.
type SagaInstance struct {
	SagaID        uuid.UUID            `json:"sagaId"`
	SagaType      string               `json:"sagaType"`
	Status        SagaStatus           `json:"status"`
	CorrelationID string               `json:"correlationId"`
	Payload       MoneyTransferPayload `json:"payload"`
	CurrentStep   int                  `json:"currentStep"`
	TotalSteps    int                  `json:"totalSteps"`
	StartedAt     time.Time            `json:"startedAt"`
	CompletedAt   *time.Time           `json:"completedAt,omitempty"`
	TimeoutAt     time.Time            `json:"timeoutAt"`
	ErrorMessage  *string              `json:"errorMessage,omitempty"`
	RetryCount    int                  `json:"retryCount"`
	CreatedBy     string               `json:"createdBy,omitempty"`
}

// SagaStep is one unit of work inside a saga. Forward steps are created with
// the instance; compensation steps are created only when compensation starts.
type SagaStep struct {
	StepID             uuid.UUID       `json:"stepId"`
	SagaID             uuid.UUID       `json:"sagaId"`
	StepNumber         int             `json:"stepNumber"`
	StepName           string          `json:"stepName"`
	StepType           SagaStepType    `json:"stepType"`
	Status             SagaStepStatus  `json:"status"`
	InputData          json.RawMessage `json:"inputData,omitempty"`
	OutputData         json.RawMessage `json:"outputData,omitempty"`
	EventIDs           []string        `json:"eventIds,omitempty"`
	StartedAt          *time.Time      `json:"startedAt,omitempty"`
	CompletedAt        *time.Time      `json:"completedAt,omitempty"`
	ErrorMessage       *string         `json:"errorMessage,omitempty"`
	RetryCount         int             `json:"retryCount"`
	CompensationStepID *uuid.UUID      `json:"compensationStepId,omitempty"`
}

// WithdrawOutput is recorded by WITHDRAW_FROM_SOURCE and consumed by
// COMPENSATE_WITHDRAW.
type WithdrawOutput struct {
	TransactionID   string `json:"transactionId"`
	WithdrawnAmount int64  `json:"withdrawnAmount"`
	FromAccountID   string `json:"fromAccountId"`
	NewBalance      int64  `json:"newBalance"`
}

// DepositOutput is recorded by DEPOSIT_TO_TARGET and consumed by
// COMPENSATE_DEPOSIT.
type DepositOutput struct {
	TransactionID   string `json:"transactionId"`
	DepositedAmount int64  `json:"depositedAmount"`
	ToAccountID     string `json:"toAccountId"`
	NewBalance      int64  `json:"newBalance"`
}

// ValidateOutput is recorded by VALIDATE_TRANSFER.
type ValidateOutput struct {
	FromBalance int64     `json:"fromBalance"`
	ToBalance   int64     `json:"toBalance"`
	ValidatedAt time.Time `json:"validatedAt"`
}

// FinalizeOutput is recorded by FINALIZE_TRANSFER.
type FinalizeOutput struct {
	TransferRequestID string    `json:"transferRequestId"`
	SagaID            string    `json:"sagaId"`
	FinalizedAt       time.Time `json:"finalizedAt"`
	Status            string    `json:"status"`
}

// Saga lifecycle event types, published with routing key saga.<EventType>.
const (
	EventSagaStarted           = "SagaStarted"
	EventSagaStepCompleted     = "SagaStepCompleted"
	EventSagaCompleted         = "SagaCompleted"
	EventSagaFailed            = "SagaFailed"
	EventCompensationStarted   = "CompensationStarted"
	EventCompensationCompleted = "CompensationCompleted"
)

// SagaStartedEvent announces a new saga instance.
type SagaStartedEvent struct {
	EventID       string               `json:"eventId"`
	EventType     string               `json:"eventType"`
	SagaID        string               `json:"sagaId"`
	SagaType      string               `json:"sagaType"`
	CorrelationID string               `json:"correlationId"`
	Payload       MoneyTransferPayload `json:"payload"`
	OccurredOn    time.Time            `json:"occurredOn"`
}

// SagaStepCompletedEvent announces a finished forward step.
type SagaStepCompletedEvent struct {
	EventID    string          `json:"eventId"`
	EventType  string          `json:"eventType"`
	SagaID     string          `json:"sagaId"`
	StepNumber int             `json:"stepNumber"`
	StepName   string          `json:"stepName"`
	OutputData json.RawMessage `json:"outputData,omitempty"`
	OccurredOn time.Time       `json:"occurredOn"`
}

// SagaCompletedEvent announces a successful saga.
type SagaCompletedEvent struct {
	EventID       string               `json:"eventId"`
	EventType     string               `json:"eventType"`
	SagaID        string               `json:"sagaId"`
	CorrelationID string               `json:"correlationId"`
	FinalResult   MoneyTransferPayload `json:"finalResult"`
	OccurredOn    time.Time            `json:"occurredOn"`
}

// SagaFailedEvent announces a terminal failure.
type SagaFailedEvent struct {
	EventID       string    `json:"eventId"`
	EventType     string    `json:"eventType"`
	SagaID        string    `json:"sagaId"`
	CorrelationID string    `json:"correlationId"`
	ErrorMessage  string    `json:"errorMessage"`
	FailedStep    string    `json:"failedStep"`
	OccurredOn    time.Time `json:"occurredOn"`
}

// CompensationStartedEvent announces the beginning of rollback.
type CompensationStartedEvent struct {
	EventID           string    `json:"eventId"`
	EventType         string    `json:"eventType"`
	SagaID            string    `json:"sagaId"`
	Reason            string    `json:"reason"`
	CompensationSteps []string  `json:"compensationSteps"`
	OccurredOn        time.Time `json:"occurredOn"`
}

// CompensationCompletedEvent announces a fully compensated saga.
type CompensationCompletedEvent struct {
	EventID          string    `json:"eventId"`
	EventType        string    `json:"eventType"`
	SagaID           string    `json:"sagaId"`
	CompensatedSteps []string  `json:"compensatedSteps"`
	OccurredOn       time.Time `json:"occurredOn"`
}
