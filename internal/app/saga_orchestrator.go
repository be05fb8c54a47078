/**
 * @description
 * Orchestration-style saga for money transfers. One orchestrator instance
 * drives every transfer through four forward steps; when a step fails after
 * money has moved, completed steps are compensated in reverse order with new
 * ledger events. History is never edited, only appended to.
 *
 * Key features:
 * - Idempotent start: the transfer request id is the correlation id, and a
 *   second trigger with the same id returns the existing saga untouched.
 * - Step bookkeeping: every step execution and compensation is persisted
 *   before and after it runs, so the instance's state survives a crash.
 * - Lifecycle events: each transition is journaled in the saga event table
 *   and published on the bus under saga.<EventType> routing keys.
 *
 * @dependencies
 * - context, encoding/json, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For saga and step ids.
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

// SagaOrchestrator runs money transfer sagas to completion or compensation.
type SagaOrchestrator struct {
	commands  *CommandService
	sagas     store.SagaRepository
	publisher EventPublisher
	timeout   time.Duration
}

// NewSagaOrchestrator creates a new SagaOrchestrator.
func NewSagaOrchestrator(commands *CommandService, sagas store.SagaRepository, publisher EventPublisher, timeout time.Duration) *SagaOrchestrator {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &SagaOrchestrator{
		commands:  commands,
		sagas:     sagas,
		publisher: publisher,
		timeout:   timeout,
	}
}

// stepResult is the outcome of one forward step execution.
type stepResult struct {
	output   any
	eventIDs []string
	err      error
	// compensate reports whether a failure of this step leaves earlier
	// money movement that must be undone.
	compensate bool
}

// StartTransferSaga creates and runs a transfer saga for the given payload.
// A payload whose transfer request id already has a saga returns that
// existing instance without side effects.
func (o *SagaOrchestrator) StartTransferSaga(ctx context.Context, payload domain.MoneyTransferPayload, createdBy string) (*domain.SagaInstance, error) {
	existing, err := o.sagas.GetSagaByCorrelationID(ctx, payload.TransferRequestID)
	if err != nil && !errors.Is(err, store.ErrSagaNotFound) {
		return nil, fmt.Errorf("check saga idempotency: %w", err)
	}
	if existing != nil {
		log.Printf("level=info component=saga_orchestrator msg=\"duplicate trigger; returning existing saga\" correlation_id=%s saga_id=%s status=%s", payload.TransferRequestID, existing.SagaID, existing.Status)
		if err := o.sagas.IncrementSagaRetryCount(ctx, existing.SagaID); err != nil {
			log.Printf("level=warn component=saga_orchestrator msg=\"failed to count duplicate trigger\" saga_id=%s err=%v", existing.SagaID, err)
		}
		return existing, nil
	}

	definitions := domain.MoneyTransferSteps()
	now := time.Now().UTC()
	saga := &domain.SagaInstance{
		SagaID:        uuid.New(),
		SagaType:      domain.SagaTypeMoneyTransfer,
		Status:        domain.SagaStarted,
		CorrelationID: payload.TransferRequestID,
		Payload:       payload,
		CurrentStep:   0,
		TotalSteps:    len(definitions),
		StartedAt:     now,
		TimeoutAt:     now.Add(o.timeout),
		CreatedBy:     createdBy,
	}
	if err := o.sagas.CreateSaga(ctx, saga); err != nil {
		return nil, fmt.Errorf("create saga: %w", err)
	}

	inputData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal saga payload: %w", err)
	}
	steps := make([]domain.SagaStep, 0, len(definitions))
	for _, def := range definitions {
		step := domain.SagaStep{
			StepID:     uuid.New(),
			SagaID:     saga.SagaID,
			StepNumber: def.Number,
			StepName:   def.Name,
			StepType:   domain.StepForward,
			Status:     domain.StepPending,
			InputData:  inputData,
		}
		if err := o.sagas.CreateStep(ctx, &step); err != nil {
			return nil, fmt.Errorf("create step %s: %w", def.Name, err)
		}
		steps = append(steps, step)
	}

	o.journalAndPublish(ctx, saga.SagaID, domain.EventSagaStarted, domain.SagaStartedEvent{
		EventID:       uuid.NewString(),
		EventType:     domain.EventSagaStarted,
		SagaID:        saga.SagaID.String(),
		SagaType:      saga.SagaType,
		CorrelationID: saga.CorrelationID,
		Payload:       payload,
		OccurredOn:    now,
	})
	log.Printf("level=info component=saga_orchestrator msg=\"saga started\" saga_id=%s correlation_id=%s from=%s to=%s amount=%d", saga.SagaID, saga.CorrelationID, payload.FromAccountID, payload.ToAccountID, payload.Amount)

	return saga, o.run(ctx, saga, steps)
}

// run executes the forward steps in order, stopping at the first failure.
func (o *SagaOrchestrator) run(ctx context.Context, saga *domain.SagaInstance, steps []domain.SagaStep) error {
	shared := sharedStepState{}

	for i := range steps {
		step := &steps[i]
		if err := o.sagas.UpdateStepStatus(ctx, step.StepID, domain.StepExecuting, store.StepUpdate{}); err != nil {
			return fmt.Errorf("mark step %s executing: %w", step.StepName, err)
		}

		result := o.executeStep(ctx, saga, step, &shared)
		if result.err != nil {
			msg := result.err.Error()
			if err := o.sagas.UpdateStepStatus(ctx, step.StepID, domain.StepFailed, store.StepUpdate{ErrorMessage: &msg}); err != nil {
				log.Printf("level=error component=saga_orchestrator msg=\"failed to persist step failure\" saga_id=%s step=%s err=%v", saga.SagaID, step.StepName, err)
			}
			log.Printf("level=warn component=saga_orchestrator msg=\"step failed\" saga_id=%s step=%s err=%v", saga.SagaID, step.StepName, result.err)

			if result.compensate {
				return o.compensate(ctx, saga, fmt.Sprintf("step %s failed: %s", step.StepName, msg))
			}
			return o.failSaga(ctx, saga, step.StepName, msg)
		}

		outputData, err := json.Marshal(result.output)
		if err != nil {
			return fmt.Errorf("marshal step output: %w", err)
		}
		if err := o.sagas.UpdateStepStatus(ctx, step.StepID, domain.StepCompleted, store.StepUpdate{
			OutputData: outputData,
			EventIDs:   result.eventIDs,
		}); err != nil {
			return fmt.Errorf("mark step %s completed: %w", step.StepName, err)
		}
		step.Status = domain.StepCompleted
		step.OutputData = outputData

		current := step.StepNumber
		if err := o.sagas.UpdateSagaStatus(ctx, saga.SagaID, domain.SagaStarted, &current, nil); err != nil {
			return fmt.Errorf("advance saga cursor: %w", err)
		}
		saga.CurrentStep = current

		o.journalAndPublish(ctx, saga.SagaID, domain.EventSagaStepCompleted, domain.SagaStepCompletedEvent{
			EventID:    uuid.NewString(),
			EventType:  domain.EventSagaStepCompleted,
			SagaID:     saga.SagaID.String(),
			StepNumber: step.StepNumber,
			StepName:   step.StepName,
			OutputData: outputData,
			OccurredOn: time.Now().UTC(),
		})
	}

	if err := o.sagas.UpdateSagaStatus(ctx, saga.SagaID, domain.SagaCompleted, nil, nil); err != nil {
		return fmt.Errorf("mark saga completed: %w", err)
	}
	saga.Status = domain.SagaCompleted
	o.journalAndPublish(ctx, saga.SagaID, domain.EventSagaCompleted, domain.SagaCompletedEvent{
		EventID:       uuid.NewString(),
		EventType:     domain.EventSagaCompleted,
		SagaID:        saga.SagaID.String(),
		CorrelationID: saga.CorrelationID,
		FinalResult:   saga.Payload,
		OccurredOn:    time.Now().UTC(),
	})
	log.Printf("level=info component=saga_orchestrator msg=\"saga completed\" saga_id=%s correlation_id=%s", saga.SagaID, saga.CorrelationID)
	return nil
}

// sharedStepState carries values produced by one step and consumed by a
// later one within a single run.
type sharedStepState struct {
	transactionID string
}

func (o *SagaOrchestrator) executeStep(ctx context.Context, saga *domain.SagaInstance, step *domain.SagaStep, shared *sharedStepState) stepResult {
	payload := saga.Payload
	switch step.StepName {
	case domain.StepValidateTransfer:
		return o.validateTransfer(ctx, payload)
	case domain.StepWithdrawFromSource:
		return o.withdrawFromSource(ctx, saga, shared)
	case domain.StepDepositToTarget:
		return o.depositToTarget(ctx, saga, shared)
	case domain.StepFinalizeTransfer:
		return stepResult{output: domain.FinalizeOutput{
			TransferRequestID: payload.TransferRequestID,
			SagaID:            saga.SagaID.String(),
			FinalizedAt:       time.Now().UTC(),
			Status:            string(domain.SagaCompleted),
		}}
	default:
		return stepResult{err: fmt.Errorf("unknown step %q", step.StepName)}
	}
}

// validateTransfer checks both accounts before any money moves. A validation
// failure never compensates: nothing has happened yet.
func (o *SagaOrchestrator) validateTransfer(ctx context.Context, payload domain.MoneyTransferPayload) stepResult {
	if payload.Amount <= 0 {
		return stepResult{err: domain.Validationf("transfer amount must be positive")}
	}
	if payload.FromAccountID == payload.ToAccountID {
		return stepResult{err: domain.Validationf("cannot transfer to the same account")}
	}
	if max := o.commands.maxTransferAmount; max > 0 && payload.Amount > max {
		return stepResult{err: domain.Validationf("transfer amount %d exceeds maximum %d", payload.Amount, max)}
	}

	source, err := o.commands.GetAccount(ctx, payload.FromAccountID)
	if err != nil {
		return stepResult{err: fmt.Errorf("load source account: %w", err)}
	}
	if source.Status != domain.AccountActive {
		return stepResult{err: domain.Validationf("source account is %s", source.Status)}
	}
	if source.Balance < payload.Amount {
		return stepResult{err: domain.Validationf("insufficient funds: available %d, required %d", source.Balance, payload.Amount)}
	}

	target, err := o.commands.GetAccount(ctx, payload.ToAccountID)
	if err != nil {
		return stepResult{err: fmt.Errorf("load target account: %w", err)}
	}
	// Only a blocked destination fails validation. A closed destination is
	// caught by the deposit step, which then compensates the withdrawal.
	if target.Status == domain.AccountBlocked {
		return stepResult{err: domain.Validationf("target account is %s", target.Status)}
	}

	return stepResult{output: domain.ValidateOutput{
		FromBalance: source.Balance,
		ToBalance:   target.Balance,
		ValidatedAt: time.Now().UTC(),
	}}
}

// withdrawFromSource appends MoneyTransferred to the source stream. A failure
// here has moved nothing, so it does not trigger compensation.
func (o *SagaOrchestrator) withdrawFromSource(ctx context.Context, saga *domain.SagaInstance, shared *sharedStepState) stepResult {
	payload := saga.Payload
	shared.transactionID = domain.NewTransactionID("TXN")
	metadata := sagaMetadata(saga)

	account, err := o.commands.execute(ctx, payload.FromAccountID, func(a *domain.Account) error {
		return a.Transfer(payload.Amount, payload.ToAccountID, payload.Description, shared.transactionID, metadata)
	})
	if err != nil {
		return stepResult{err: err}
	}

	return stepResult{
		output: domain.WithdrawOutput{
			TransactionID:   shared.transactionID,
			WithdrawnAmount: payload.Amount,
			FromAccountID:   payload.FromAccountID,
			NewBalance:      account.Balance,
		},
		eventIDs: eventIDs(account.UncommittedEvents()),
	}
}

// depositToTarget appends MoneyReceived to the target stream with the same
// transaction id the withdrawal used. A failure here strands the withdrawn
// amount and must compensate.
func (o *SagaOrchestrator) depositToTarget(ctx context.Context, saga *domain.SagaInstance, shared *sharedStepState) stepResult {
	payload := saga.Payload
	metadata := sagaMetadata(saga)

	account, err := o.commands.execute(ctx, payload.ToAccountID, func(a *domain.Account) error {
		return a.Receive(payload.Amount, payload.FromAccountID, shared.transactionID, payload.Description, metadata)
	})
	if err != nil {
		return stepResult{err: err, compensate: true}
	}

	return stepResult{
		output: domain.DepositOutput{
			TransactionID:   shared.transactionID,
			DepositedAmount: payload.Amount,
			ToAccountID:     payload.ToAccountID,
			NewBalance:      account.Balance,
		},
		eventIDs: eventIDs(account.UncommittedEvents()),
	}
}

// compensate undoes completed forward steps in reverse completion order and
// finishes the saga as COMPENSATED, or FAILED if an undo itself fails.
func (o *SagaOrchestrator) compensate(ctx context.Context, saga *domain.SagaInstance, reason string) error {
	if err := o.sagas.UpdateSagaStatus(ctx, saga.SagaID, domain.SagaCompensating, nil, nil); err != nil {
		return fmt.Errorf("mark saga compensating: %w", err)
	}
	saga.Status = domain.SagaCompensating

	forward, err := o.sagas.GetSteps(ctx, saga.SagaID, domain.StepForward)
	if err != nil {
		return fmt.Errorf("load forward steps: %w", err)
	}

	definitions := make(map[string]domain.StepDefinition)
	for _, def := range domain.MoneyTransferSteps() {
		definitions[def.Name] = def
	}

	// Undo in reverse of the order the steps completed in.
	var toCompensate []domain.SagaStep
	for i := len(forward) - 1; i >= 0; i-- {
		step := forward[i]
		if step.Status != domain.StepCompleted {
			continue
		}
		if def, ok := definitions[step.StepName]; ok && def.Compensatable {
			toCompensate = append(toCompensate, step)
		}
	}

	planned := make([]string, 0, len(toCompensate))
	for _, step := range toCompensate {
		planned = append(planned, definitions[step.StepName].CompensationName)
	}
	o.journalAndPublish(ctx, saga.SagaID, domain.EventCompensationStarted, domain.CompensationStartedEvent{
		EventID:           uuid.NewString(),
		EventType:         domain.EventCompensationStarted,
		SagaID:            saga.SagaID.String(),
		Reason:            reason,
		CompensationSteps: planned,
		OccurredOn:        time.Now().UTC(),
	})
	log.Printf("level=warn component=saga_orchestrator msg=\"compensation started\" saga_id=%s reason=%q steps=%d", saga.SagaID, reason, len(toCompensate))

	compensated := make([]string, 0, len(toCompensate))
	for i, step := range toCompensate {
		compName := definitions[step.StepName].CompensationName
		compStep := domain.SagaStep{
			StepID:     uuid.New(),
			SagaID:     saga.SagaID,
			StepNumber: domain.CompensationStepBase + i + 1,
			StepName:   compName,
			StepType:   domain.StepCompensation,
			Status:     domain.StepExecuting,
			InputData:  step.OutputData,
		}
		if err := o.sagas.CreateStep(ctx, &compStep); err != nil {
			return fmt.Errorf("create compensation step %s: %w", compName, err)
		}

		result := o.executeCompensation(ctx, saga, step, compName)
		if result.err != nil {
			msg := result.err.Error()
			if err := o.sagas.UpdateStepStatus(ctx, compStep.StepID, domain.StepFailed, store.StepUpdate{ErrorMessage: &msg}); err != nil {
				log.Printf("level=error component=saga_orchestrator msg=\"failed to persist compensation failure\" saga_id=%s step=%s err=%v", saga.SagaID, compName, err)
			}
			// A failed compensation leaves the ledger inconsistent; the
			// saga is parked as FAILED for operator intervention.
			return o.failSaga(ctx, saga, compName, fmt.Sprintf("compensation failed: %s", msg))
		}

		outputData, err := json.Marshal(result.output)
		if err != nil {
			return fmt.Errorf("marshal compensation output: %w", err)
		}
		if err := o.sagas.UpdateStepStatus(ctx, compStep.StepID, domain.StepCompleted, store.StepUpdate{
			OutputData: outputData,
			EventIDs:   result.eventIDs,
		}); err != nil {
			return fmt.Errorf("mark compensation step completed: %w", err)
		}
		if err := o.sagas.UpdateStepStatus(ctx, step.StepID, domain.StepCompensated, store.StepUpdate{}); err != nil {
			return fmt.Errorf("mark forward step compensated: %w", err)
		}
		compensated = append(compensated, compName)
	}

	if err := o.sagas.UpdateSagaStatus(ctx, saga.SagaID, domain.SagaCompensated, nil, &reason); err != nil {
		return fmt.Errorf("mark saga compensated: %w", err)
	}
	saga.Status = domain.SagaCompensated
	o.journalAndPublish(ctx, saga.SagaID, domain.EventCompensationCompleted, domain.CompensationCompletedEvent{
		EventID:          uuid.NewString(),
		EventType:        domain.EventCompensationCompleted,
		SagaID:           saga.SagaID.String(),
		CompensatedSteps: compensated,
		OccurredOn:       time.Now().UTC(),
	})
	log.Printf("level=info component=saga_orchestrator msg=\"compensation completed\" saga_id=%s steps=%d", saga.SagaID, len(compensated))
	return nil
}

func (o *SagaOrchestrator) executeCompensation(ctx context.Context, saga *domain.SagaInstance, forward domain.SagaStep, compName string) stepResult {
	payload := saga.Payload
	metadata := sagaMetadata(saga)
	metadata["compensation"] = "true"

	switch compName {
	case domain.StepCompensateWithdraw:
		var out domain.WithdrawOutput
		if err := json.Unmarshal(forward.OutputData, &out); err != nil {
			return stepResult{err: fmt.Errorf("decode withdraw output: %w", err)}
		}
		compTxnID := domain.NewTransactionID("CMP")
		account, err := o.commands.execute(ctx, payload.FromAccountID, func(a *domain.Account) error {
			return a.Receive(out.WithdrawnAmount, payload.ToAccountID, compTxnID, "compensation: return withdrawn funds", metadata)
		})
		if err != nil {
			return stepResult{err: err}
		}
		return stepResult{
			output: domain.WithdrawOutput{
				TransactionID:   compTxnID,
				WithdrawnAmount: out.WithdrawnAmount,
				FromAccountID:   payload.FromAccountID,
				NewBalance:      account.Balance,
			},
			eventIDs: eventIDs(account.UncommittedEvents()),
		}

	case domain.StepCompensateDeposit:
		var out domain.DepositOutput
		if err := json.Unmarshal(forward.OutputData, &out); err != nil {
			return stepResult{err: fmt.Errorf("decode deposit output: %w", err)}
		}
		compTxnID := domain.NewTransactionID("CMP")
		account, err := o.commands.execute(ctx, payload.ToAccountID, func(a *domain.Account) error {
			return a.Transfer(out.DepositedAmount, payload.FromAccountID, "compensation: return deposited funds", compTxnID, metadata)
		})
		if err != nil {
			return stepResult{err: err}
		}
		return stepResult{
			output: domain.DepositOutput{
				TransactionID:   compTxnID,
				DepositedAmount: out.DepositedAmount,
				ToAccountID:     payload.ToAccountID,
				NewBalance:      account.Balance,
			},
			eventIDs: eventIDs(account.UncommittedEvents()),
		}

	case domain.StepReverseFinalization:
		// Finalization wrote no ledger events; reversal is bookkeeping only.
		return stepResult{output: domain.FinalizeOutput{
			TransferRequestID: payload.TransferRequestID,
			SagaID:            saga.SagaID.String(),
			FinalizedAt:       time.Now().UTC(),
			Status:            string(domain.SagaCompensated),
		}}

	default:
		return stepResult{err: fmt.Errorf("unknown compensation step %q", compName)}
	}
}

// failSaga parks the saga in the terminal FAILED state.
func (o *SagaOrchestrator) failSaga(ctx context.Context, saga *domain.SagaInstance, stepName, errMsg string) error {
	if err := o.sagas.UpdateSagaStatus(ctx, saga.SagaID, domain.SagaFailed, nil, &errMsg); err != nil {
		return fmt.Errorf("mark saga failed: %w", err)
	}
	saga.Status = domain.SagaFailed
	saga.ErrorMessage = &errMsg
	o.journalAndPublish(ctx, saga.SagaID, domain.EventSagaFailed, domain.SagaFailedEvent{
		EventID:       uuid.NewString(),
		EventType:     domain.EventSagaFailed,
		SagaID:        saga.SagaID.String(),
		CorrelationID: saga.CorrelationID,
		ErrorMessage:  errMsg,
		FailedStep:    stepName,
		OccurredOn:    time.Now().UTC(),
	})
	log.Printf("level=error component=saga_orchestrator msg=\"saga failed\" saga_id=%s step=%s err=%q", saga.SagaID, stepName, errMsg)
	return nil
}

// HandleTimedOutSaga resolves a saga whose deadline has passed. A STARTED
// saga is compensated; a saga already stuck in COMPENSATING is parked as
// FAILED for operator intervention.
func (o *SagaOrchestrator) HandleTimedOutSaga(ctx context.Context, saga *domain.SagaInstance) error {
	switch saga.Status {
	case domain.SagaStarted:
		return o.compensate(ctx, saga, "saga timed out")
	case domain.SagaCompensating:
		return o.failSaga(ctx, saga, "", "saga timed out during compensation")
	default:
		return nil
	}
}

// GetSaga returns one saga instance with its steps.
func (o *SagaOrchestrator) GetSaga(ctx context.Context, sagaID uuid.UUID) (*domain.SagaInstance, []domain.SagaStep, error) {
	saga, err := o.sagas.GetSaga(ctx, sagaID)
	if err != nil {
		return nil, nil, err
	}
	forward, err := o.sagas.GetSteps(ctx, sagaID, domain.StepForward)
	if err != nil {
		return nil, nil, err
	}
	compensation, err := o.sagas.GetSteps(ctx, sagaID, domain.StepCompensation)
	if err != nil {
		return nil, nil, err
	}
	return saga, append(forward, compensation...), nil
}

// ListTimedOutSagas returns non-terminal sagas past their deadline.
func (o *SagaOrchestrator) ListTimedOutSagas(ctx context.Context, now time.Time) ([]domain.SagaInstance, error) {
	return o.sagas.ListTimedOutSagas(ctx, now)
}

// journalAndPublish writes the lifecycle event to the saga event journal and
// broadcasts it on the bus. Neither write is allowed to fail the saga: the
// journal and the bus are observability surfaces, the instance tables are
// the source of truth.
func (o *SagaOrchestrator) journalAndPublish(ctx context.Context, sagaID uuid.UUID, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("level=error component=saga_orchestrator msg=\"lifecycle event marshal failed\" saga_id=%s event_type=%s err=%v", sagaID, eventType, err)
		return
	}
	if err := o.sagas.AppendSagaEvent(ctx, sagaID, eventType, data); err != nil {
		log.Printf("level=error component=saga_orchestrator msg=\"saga event journal write failed\" saga_id=%s event_type=%s err=%v", sagaID, eventType, err)
	}
	if err := o.publisher.PublishSagaEvent(ctx, eventType, uuid.NewString(), json.RawMessage(data)); err != nil {
		log.Printf("level=error component=saga_orchestrator msg=\"saga event publish failed\" saga_id=%s event_type=%s err=%v", sagaID, eventType, err)
	}
}

func sagaMetadata(saga *domain.SagaInstance) map[string]string {
	return map[string]string{
		"sagaId":            saga.SagaID.String(),
		"transferRequestId": saga.CorrelationID,
	}
}

func eventIDs(events []domain.Event) []string {
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.EventID.String())
	}
	return ids
}
