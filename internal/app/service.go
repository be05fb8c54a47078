/**
 * @description
 * This file contains the command side of the ledger-service. The
 * `CommandService` struct handles every account command: it replays the
 * aggregate from the event store, executes the command, appends the emitted
 * events with optimistic concurrency, and publishes them to RabbitMQ.
 *
 * Key features:
 * - Append-then-publish: events are durable in PostgreSQL before any
 *   consumer can observe them on the bus.
 * - Automatic conflict retry: a concurrency conflict reloads the aggregate
 *   and re-runs the command, up to a small ceiling.
 * - Snapshot maintenance: a snapshot is stored whenever a stream crosses a
 *   multiple of the configured interval.
 *
 * @dependencies
 * - context, errors, fmt, log: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

// CommandResult is returned by every successful command.
type CommandResult struct {
	AccountID     string `json:"accountId"`
	Version       int64  `json:"version"`
	Balance       int64  `json:"balance"`
	TransactionID string `json:"transactionId,omitempty"`
	EventCount    int    `json:"eventCount"`
}

// CommandService executes account commands against the event store.
type CommandService struct {
	eventStore        store.EventStore
	publisher         EventPublisher
	snapshotInterval  int64
	maxTransferAmount int64
	conflictRetries   int
}

// NewCommandService creates a new CommandService.
func NewCommandService(es store.EventStore, publisher EventPublisher, snapshotInterval, maxTransferAmount int64, conflictRetries int) *CommandService {
	if snapshotInterval <= 0 {
		snapshotInterval = 50
	}
	if conflictRetries <= 0 {
		conflictRetries = 3
	}
	return &CommandService{
		eventStore:        es,
		publisher:         publisher,
		snapshotInterval:  snapshotInterval,
		maxTransferAmount: maxTransferAmount,
		conflictRetries:   conflictRetries,
	}
}

// CreateAccount opens a new account stream. Creation hits expectedVersion 0,
// so a duplicate id surfaces as a concurrency conflict rather than a retry.
func (s *CommandService) CreateAccount(ctx context.Context, accountNumber, ownerName string, initialBalance int64) (*CommandResult, error) {
	id := uuid.NewString()
	account, err := domain.CreateAccount(id, accountNumber, ownerName, initialBalance)
	if err != nil {
		return nil, err
	}

	if err := s.commit(ctx, account); err != nil {
		return nil, err
	}
	log.Printf("level=info component=command_service msg=\"account created\" account_id=%s owner=%q", id, ownerName)
	return resultFor(account, ""), nil
}

// Deposit credits an account.
func (s *CommandService) Deposit(ctx context.Context, accountID string, amount int64, description string) (*CommandResult, error) {
	var txnID string
	account, err := s.execute(ctx, accountID, func(a *domain.Account) error {
		id, cmdErr := a.Deposit(amount, description)
		txnID = id
		return cmdErr
	})
	if err != nil {
		return nil, err
	}
	return resultFor(account, txnID), nil
}

// Withdraw debits an account.
func (s *CommandService) Withdraw(ctx context.Context, accountID string, amount int64, description string) (*CommandResult, error) {
	var txnID string
	account, err := s.execute(ctx, accountID, func(a *domain.Account) error {
		id, cmdErr := a.Withdraw(amount, description)
		txnID = id
		return cmdErr
	})
	if err != nil {
		return nil, err
	}
	return resultFor(account, txnID), nil
}

// RequestTransfer records transfer intent on the source stream. The published
// TransferRequested event is the trigger the saga orchestrator consumes; no
// money moves until the saga runs.
func (s *CommandService) RequestTransfer(ctx context.Context, fromAccountID, toAccountID string, amount int64, description string) (*CommandResult, string, error) {
	if amount > s.maxTransferAmount {
		return nil, "", domain.Validationf("transfer amount %d exceeds the per-transfer limit %d", amount, s.maxTransferAmount)
	}
	if _, err := loadAccount(ctx, s.eventStore, toAccountID); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, "", domain.Validationf("target account %s does not exist", toAccountID)
		}
		return nil, "", err
	}

	transferRequestID := domain.NewTransactionID("TRF")
	account, err := s.execute(ctx, fromAccountID, func(a *domain.Account) error {
		return a.RequestTransfer(transferRequestID, toAccountID, amount, description)
	})
	if err != nil {
		return nil, "", err
	}
	log.Printf("level=info component=command_service msg=\"transfer requested\" transfer_request_id=%s from=%s to=%s amount=%d", transferRequestID, fromAccountID, toAccountID, amount)
	return resultFor(account, ""), transferRequestID, nil
}

// RollbackTransaction reverses a prior transaction with a compensating event.
func (s *CommandService) RollbackTransaction(ctx context.Context, accountID, originalTransactionID, reason string, amount int64, transactionType string) (*CommandResult, error) {
	account, err := s.execute(ctx, accountID, func(a *domain.Account) error {
		return a.RollbackTransaction(originalTransactionID, reason, amount, transactionType)
	})
	if err != nil {
		return nil, err
	}
	return resultFor(account, originalTransactionID), nil
}

// BlockAccount freezes an account.
func (s *CommandService) BlockAccount(ctx context.Context, accountID, reason string) (*CommandResult, error) {
	account, err := s.execute(ctx, accountID, func(a *domain.Account) error {
		return a.Block(reason)
	})
	if err != nil {
		return nil, err
	}
	return resultFor(account, ""), nil
}

// GetAccount replays and returns the current aggregate state.
func (s *CommandService) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	return loadAccount(ctx, s.eventStore, accountID)
}

// execute runs one command against a freshly replayed aggregate and commits
// the emitted events. A version conflict means another writer landed between
// our replay and append; the aggregate is reloaded and the command re-run
// against the new state, up to the retry ceiling.
func (s *CommandService) execute(ctx context.Context, accountID string, command func(*domain.Account) error) (*domain.Account, error) {
	var lastErr error
	for attempt := 0; attempt <= s.conflictRetries; attempt++ {
		account, err := loadAccount(ctx, s.eventStore, accountID)
		if err != nil {
			return nil, err
		}

		if err := command(account); err != nil {
			return nil, err
		}

		err = s.commit(ctx, account)
		if err == nil {
			return account, nil
		}
		if !store.IsConcurrencyConflict(err) {
			return nil, err
		}

		lastErr = err
		log.Printf("level=warn component=command_service msg=\"version conflict; retrying command\" account_id=%s attempt=%d", accountID, attempt+1)
	}
	return nil, fmt.Errorf("command on %s failed after %d conflict retries: %w", accountID, s.conflictRetries, lastErr)
}

// commit appends the aggregate's uncommitted events, publishes them, and
// maintains the stream's snapshot.
func (s *CommandService) commit(ctx context.Context, account *domain.Account) error {
	events := account.UncommittedEvents()
	if len(events) == 0 {
		return nil
	}

	expectedVersion := events[0].Version - 1
	if err := s.eventStore.Append(ctx, account.ID, events, expectedVersion); err != nil {
		return err
	}

	for _, ev := range events {
		// Events are already durable; a broker hiccup must not fail the
		// command. Projections catch up from the store if needed.
		if err := s.publisher.PublishAccountEvent(ctx, ev); err != nil {
			log.Printf("level=error component=command_service msg=\"event publish failed after commit\" account_id=%s event_type=%s event_id=%s err=%v", account.ID, ev.EventType, ev.EventID, err)
		}
	}

	s.maybeSnapshot(ctx, account, expectedVersion)
	return nil
}

// maybeSnapshot stores a snapshot whenever the commit crossed a multiple of
// the snapshot interval. Failures are logged and ignored; snapshots are an
// optimization, the stream remains authoritative.
func (s *CommandService) maybeSnapshot(ctx context.Context, account *domain.Account, previousVersion int64) {
	if previousVersion/s.snapshotInterval == account.Version/s.snapshotInterval {
		return
	}

	data, err := json.Marshal(account.Snapshot())
	if err != nil {
		log.Printf("level=error component=command_service msg=\"snapshot marshal failed\" account_id=%s err=%v", account.ID, err)
		return
	}
	if err := s.eventStore.SaveSnapshot(ctx, account.ID, data, account.Version); err != nil {
		log.Printf("level=error component=command_service msg=\"snapshot save failed\" account_id=%s version=%d err=%v", account.ID, account.Version, err)
		return
	}
	log.Printf("level=info component=command_service msg=\"snapshot stored\" account_id=%s version=%d", account.ID, account.Version)
}

func resultFor(account *domain.Account, txnID string) *CommandResult {
	return &CommandResult{
		AccountID:     account.ID,
		Version:       account.Version,
		Balance:       account.Balance,
		TransactionID: txnID,
		EventCount:    len(account.UncommittedEvents()),
	}
}
