/**
 * @description
 * This file defines the immutable domain event envelope and the closed set of
 * account event payloads. Every change to an account is recorded as one of
 * these events; account state is only ever derived by replaying them.
 *
 * @notes
 * - Payloads are typed structs rather than free-form maps so that replay and
 *   projection switch exhaustively over known kinds. An event type outside
 *   the closed set surfaces as a CorruptStreamError instead of being skipped.
 * - Amounts are `int64` in the smallest currency unit to avoid floating-point
 *   inaccuracies with financial data, matching the rest of the platform.
 */

package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Account event types. This set is closed: adding a new type requires a new
// payload struct and a new case in DecodePayload and Account.apply.
const (
	EventAccountCreated        = "AccountCreated"
	EventMoneyDeposited        = "MoneyDeposited"
	EventMoneyWithdrawn        = "MoneyWithdrawn"
	EventMoneyTransferred      = "MoneyTransferred"
	EventMoneyReceived         = "MoneyReceived"
	EventTransferRequested     = "TransferRequested"
	EventTransactionRolledBack = "TransactionRolledBack"
	EventAccountBlocked        = "AccountBlocked"
)

// Event is the immutable envelope persisted in the event store and published
// on the bus. Versions are contiguous and start at 1 within a stream.
type Event struct {
	EventID    uuid.UUID         `json:"eventId"`
	StreamID   string            `json:"aggregateId"`
	EventType  string            `json:"eventType"`
	EventData  json.RawMessage   `json:"eventData"`
	Version    int64             `json:"version"`
	OccurredOn time.Time         `json:"occurredOn"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// AccountCreatedData opens a new account stream at version 1.
type AccountCreatedData struct {
	AccountNumber  string `json:"accountNumber"`
	OwnerName      string `json:"ownerName"`
	InitialBalance int64  `json:"initialBalance"`
}

// MoneyDepositedData credits the account.
type MoneyDepositedData struct {
	Amount        int64  `json:"amount"`
	Description   string `json:"description,omitempty"`
	TransactionID string `json:"transactionId"`
}

// MoneyWithdrawnData debits the account.
type MoneyWithdrawnData struct {
	Amount        int64  `json:"amount"`
	Description   string `json:"description,omitempty"`
	TransactionID string `json:"transactionId"`
}

// MoneyTransferredData debits the source side of a transfer. The matching
// credit is a separate MoneyReceived event on the destination stream.
type MoneyTransferredData struct {
	Amount            int64  `json:"amount"`
	ToAccountID       string `json:"toAccountId"`
	Description       string `json:"description,omitempty"`
	TransactionID     string `json:"transactionId"`
	SagaID            string `json:"sagaId,omitempty"`
	TransferRequestID string `json:"transferRequestId,omitempty"`
}

// MoneyReceivedData credits the destination side of a transfer.
type MoneyReceivedData struct {
	Amount            int64  `json:"amount"`
	FromAccountID     string `json:"fromAccountId"`
	Description       string `json:"description,omitempty"`
	TransactionID     string `json:"transactionId"`
	SagaID            string `json:"sagaId,omitempty"`
	TransferRequestID string `json:"transferRequestId,omitempty"`
}

// TransferRequestedData is the saga trigger. It is appended to the source
// stream so the trigger itself is a committed fact, but it is balance-neutral
// during replay; the actual debit and credit are the saga's events.
type TransferRequestedData struct {
	TransferRequestID string    `json:"transferRequestId"`
	FromAccountID     string    `json:"fromAccountId"`
	ToAccountID       string    `json:"toAccountId"`
	Amount            int64     `json:"amount"`
	Description       string    `json:"description,omitempty"`
	RequestedAt       time.Time `json:"requestedAt"`
}

// TransactionRolledBackData reverses the effect of a named prior transaction.
type TransactionRolledBackData struct {
	OriginalTransactionID string `json:"originalTransactionId"`
	RollbackReason        string `json:"rollbackReason"`
	Amount                int64  `json:"amount"`
	TransactionType       string `json:"transactionType"`
}

// AccountBlockedData freezes the account.
type AccountBlockedData struct {
	Reason string `json:"reason"`
}

// Rollback transaction types accepted by TransactionRolledBack.
const (
	TxnTypeDeposit     = "DEPOSIT"
	TxnTypeWithdrawal  = "WITHDRAWAL"
	TxnTypeTransferOut = "TRANSFER_OUT"
	TxnTypeTransferIn  = "TRANSFER_IN"
)

// NewEvent builds an envelope around a typed payload. The payload must be one
// of the *Data structs above.
func NewEvent(streamID, eventType string, version int64, payload any, metadata map[string]string) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		EventID:    uuid.New(),
		StreamID:   streamID,
		EventType:  eventType,
		EventData:  data,
		Version:    version,
		OccurredOn: time.Now().UTC(),
		Metadata:   metadata,
	}, nil
}

// DecodePayload maps an envelope back to its typed payload. Unknown event
// types are a CorruptStreamError: replay must never silently skip.
func DecodePayload(e Event) (any, error) {
	var (
		payload any
		err     error
	)
	switch e.EventType {
	case EventAccountCreated:
		payload, err = decodeAs[AccountCreatedData](e)
	case EventMoneyDeposited:
		payload, err = decodeAs[MoneyDepositedData](e)
	case EventMoneyWithdrawn:
		payload, err = decodeAs[MoneyWithdrawnData](e)
	case EventMoneyTransferred:
		payload, err = decodeAs[MoneyTransferredData](e)
	case EventMoneyReceived:
		payload, err = decodeAs[MoneyReceivedData](e)
	case EventTransferRequested:
		payload, err = decodeAs[TransferRequestedData](e)
	case EventTransactionRolledBack:
		payload, err = decodeAs[TransactionRolledBackData](e)
	case EventAccountBlocked:
		payload, err = decodeAs[AccountBlockedData](e)
	default:
		return nil, &CorruptStreamError{StreamID: e.StreamID, Version: e.Version, EventType: e.EventType}
	}
	return payload, err
}

func decodeAs[T any](e Event) (T, error) {
	var v T
	if err := json.Unmarshal(e.EventData, &v); err != nil {
		return v, fmt.Errorf("decode %s payload at %s v%d: %w", e.EventType, e.StreamID, e.Version, err)
	}
	return v, nil
}
