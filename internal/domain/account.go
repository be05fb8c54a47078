/**
 * @description
 * The account aggregate. State is reconstructed exclusively by folding the
 * account's event stream in version order; command methods validate against
 * that state and emit exactly one new event each.
 *
 * @notes
 * - An Account is owned transiently by whichever caller replayed it. It is
 *   never shared across goroutines or processes; two writers racing on the
 *   same stream are serialized by the event store's expected-version check.
 */

package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	AccountActive  AccountStatus = "ACTIVE"
	AccountBlocked AccountStatus = "BLOCKED"
	AccountClosed  AccountStatus = "CLOSED"
)

// Account is the in-memory aggregate derived from an event stream.
type Account struct {
	ID            string
	AccountNumber string
	OwnerName     string
	Balance       int64
	Status        AccountStatus
	CreatedAt     time.Time
	Version       int64

	pending []Event
}

// AccountSnapshot is the serialized form stored in the snapshots table. It
// only bounds replay cost; events past its version remain authoritative.
type AccountSnapshot struct {
	ID            string        `json:"id"`
	AccountNumber string        `json:"accountNumber"`
	OwnerName     string        `json:"ownerName"`
	Balance       int64         `json:"balance"`
	Status        AccountStatus `json:"status"`
	CreatedAt     time.Time     `json:"createdAt"`
	Version       int64         `json:"version"`
}

// Snapshot is the stored snapshot row for a stream.
type Snapshot struct {
	StreamID  string          `json:"streamId"`
	Data      json.RawMessage `json:"data"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"createdAt"`
}

// CreateAccount validates and opens a new account, emitting AccountCreated
// at version 1.
func CreateAccount(id, accountNumber, ownerName string, initialBalance int64) (*Account, error) {
	if id == "" || accountNumber == "" || ownerName == "" {
		return nil, Validationf("account id, number and owner name are required")
	}
	if initialBalance < 0 {
		return nil, Validationf("initial balance cannot be negative")
	}

	a := &Account{ID: id}
	ev, err := NewEvent(id, EventAccountCreated, 1, AccountCreatedData{
		AccountNumber:  accountNumber,
		OwnerName:      ownerName,
		InitialBalance: initialBalance,
	}, nil)
	if err != nil {
		return nil, err
	}
	return a, a.record(ev)
}

// ReplayAccount folds a full stream from version 1.
func ReplayAccount(streamID string, events []Event) (*Account, error) {
	a := &Account{ID: streamID}
	for _, ev := range events {
		if err := a.apply(ev); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// ReplayAccountFromSnapshot restores state from a snapshot and folds only the
// events with a version greater than the snapshot's.
func ReplayAccountFromSnapshot(snap AccountSnapshot, events []Event) (*Account, error) {
	a := &Account{
		ID:            snap.ID,
		AccountNumber: snap.AccountNumber,
		OwnerName:     snap.OwnerName,
		Balance:       snap.Balance,
		Status:        snap.Status,
		CreatedAt:     snap.CreatedAt,
		Version:       snap.Version,
	}
	for _, ev := range events {
		if ev.Version <= snap.Version {
			continue
		}
		if err := a.apply(ev); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Snapshot captures the current state for the snapshots table.
func (a *Account) Snapshot() AccountSnapshot {
	return AccountSnapshot{
		ID:            a.ID,
		AccountNumber: a.AccountNumber,
		OwnerName:     a.OwnerName,
		Balance:       a.Balance,
		Status:        a.Status,
		CreatedAt:     a.CreatedAt,
		Version:       a.Version,
	}
}

// UncommittedEvents returns the events emitted by commands since the account
// was replayed, in version order.
func (a *Account) UncommittedEvents() []Event {
	return a.pending
}

// Deposit credits the account and returns the generated transaction id.
func (a *Account) Deposit(amount int64, description string) (string, error) {
	if a.Status != AccountActive {
		return "", Validationf("cannot deposit to %s account", a.Status)
	}
	if amount <= 0 {
		return "", Validationf("deposit amount must be positive")
	}

	txnID := NewTransactionID("TXN")
	ev, err := NewEvent(a.ID, EventMoneyDeposited, a.Version+1, MoneyDepositedData{
		Amount:        amount,
		Description:   description,
		TransactionID: txnID,
	}, nil)
	if err != nil {
		return "", err
	}
	return txnID, a.record(ev)
}

// Withdraw debits the account and returns the generated transaction id.
func (a *Account) Withdraw(amount int64, description string) (string, error) {
	if a.Status != AccountActive {
		return "", Validationf("cannot withdraw from %s account", a.Status)
	}
	if amount <= 0 {
		return "", Validationf("withdrawal amount must be positive")
	}
	if a.Balance < amount {
		return "", Validationf("insufficient funds: available %d, required %d", a.Balance, amount)
	}

	txnID := NewTransactionID("TXN")
	ev, err := NewEvent(a.ID, EventMoneyWithdrawn, a.Version+1, MoneyWithdrawnData{
		Amount:        amount,
		Description:   description,
		TransactionID: txnID,
	}, nil)
	if err != nil {
		return "", err
	}
	return txnID, a.record(ev)
}

// Transfer debits the account for the source side of a transfer. The
// destination credit is a separate Receive on the other stream.
func (a *Account) Transfer(amount int64, toAccountID, description, transactionID string, metadata map[string]string) error {
	if a.Status != AccountActive {
		return Validationf("cannot transfer from %s account", a.Status)
	}
	if amount <= 0 {
		return Validationf("transfer amount must be positive")
	}
	if a.Balance < amount {
		return Validationf("insufficient funds for transfer: available %d, required %d", a.Balance, amount)
	}
	if toAccountID == a.ID {
		return Validationf("cannot transfer to the same account")
	}

	ev, err := NewEvent(a.ID, EventMoneyTransferred, a.Version+1, MoneyTransferredData{
		Amount:        amount,
		ToAccountID:   toAccountID,
		Description:   description,
		TransactionID: transactionID,
	}, metadata)
	if err != nil {
		return err
	}
	return a.record(ev)
}

// Receive credits the destination side of a transfer, reusing the source
// side's transaction id.
func (a *Account) Receive(amount int64, fromAccountID, transactionID, description string, metadata map[string]string) error {
	if a.Status == AccountBlocked {
		return Validationf("cannot receive transfer to blocked account")
	}
	if a.Status == AccountClosed {
		return Validationf("cannot receive transfer to closed account")
	}
	if amount <= 0 {
		return Validationf("received amount must be positive")
	}

	ev, err := NewEvent(a.ID, EventMoneyReceived, a.Version+1, MoneyReceivedData{
		Amount:        amount,
		FromAccountID: fromAccountID,
		Description:   description,
		TransactionID: transactionID,
	}, metadata)
	if err != nil {
		return err
	}
	return a.record(ev)
}

// RequestTransfer records the intent to move money to another account. The
// event is balance-neutral; the transfer saga performs the actual debit and
// credit once it picks the request up from the bus.
func (a *Account) RequestTransfer(transferRequestID, toAccountID string, amount int64, description string) error {
	if a.Status != AccountActive {
		return Validationf("cannot transfer from %s account", a.Status)
	}
	if amount <= 0 {
		return Validationf("transfer amount must be positive")
	}
	if a.Balance < amount {
		return Validationf("insufficient funds for transfer: available %d, required %d", a.Balance, amount)
	}
	if toAccountID == a.ID {
		return Validationf("cannot transfer to the same account")
	}
	if transferRequestID == "" {
		return Validationf("transfer request id is required")
	}

	ev, err := NewEvent(a.ID, EventTransferRequested, a.Version+1, TransferRequestedData{
		TransferRequestID: transferRequestID,
		FromAccountID:     a.ID,
		ToAccountID:       toAccountID,
		Amount:            amount,
		Description:       description,
		RequestedAt:       time.Now().UTC(),
	}, nil)
	if err != nil {
		return err
	}
	return a.record(ev)
}

// RollbackTransaction reverses a prior transaction's balance effect. The
// rollback is a new event, never an edit of history.
func (a *Account) RollbackTransaction(originalTransactionID, reason string, amount int64, transactionType string) error {
	switch transactionType {
	case TxnTypeDeposit, TxnTypeWithdrawal, TxnTypeTransferOut, TxnTypeTransferIn:
	default:
		return Validationf("unknown transaction type %q", transactionType)
	}
	if amount <= 0 {
		return Validationf("rollback amount must be positive")
	}

	ev, err := NewEvent(a.ID, EventTransactionRolledBack, a.Version+1, TransactionRolledBackData{
		OriginalTransactionID: originalTransactionID,
		RollbackReason:        reason,
		Amount:                amount,
		TransactionType:       transactionType,
	}, nil)
	if err != nil {
		return err
	}
	return a.record(ev)
}

// Block freezes the account.
func (a *Account) Block(reason string) error {
	if a.Status == AccountBlocked {
		return Validationf("account is already blocked")
	}

	ev, err := NewEvent(a.ID, EventAccountBlocked, a.Version+1, AccountBlockedData{Reason: reason}, nil)
	if err != nil {
		return err
	}
	return a.record(ev)
}

func (a *Account) record(ev Event) error {
	if err := a.apply(ev); err != nil {
		return err
	}
	a.pending = append(a.pending, ev)
	return nil
}

func (a *Account) apply(ev Event) error {
	payload, err := DecodePayload(ev)
	if err != nil {
		return err
	}

	switch data := payload.(type) {
	case AccountCreatedData:
		a.AccountNumber = data.AccountNumber
		a.OwnerName = data.OwnerName
		a.Balance = data.InitialBalance
		a.Status = AccountActive
		a.CreatedAt = ev.OccurredOn
	case MoneyDepositedData:
		a.Balance += data.Amount
	case MoneyWithdrawnData:
		a.Balance -= data.Amount
	case MoneyTransferredData:
		a.Balance -= data.Amount
	case MoneyReceivedData:
		a.Balance += data.Amount
	case TransferRequestedData:
		// Intent only; balance moves when the saga's debit/credit land.
	case TransactionRolledBackData:
		switch data.TransactionType {
		case TxnTypeDeposit:
			a.Balance -= data.Amount
		case TxnTypeWithdrawal:
			a.Balance += data.Amount
		case TxnTypeTransferOut:
			a.Balance += data.Amount
		case TxnTypeTransferIn:
			a.Balance -= data.Amount
		default:
			return &CorruptStreamError{StreamID: ev.StreamID, Version: ev.Version, EventType: fmt.Sprintf("%s(%s)", ev.EventType, data.TransactionType)}
		}
	case AccountBlockedData:
		a.Status = AccountBlocked
	default:
		return &CorruptStreamError{StreamID: ev.StreamID, Version: ev.Version, EventType: ev.EventType}
	}

	a.Version = ev.Version
	return nil
}

// NewTransactionID generates a prefixed, human-scannable transaction id.
func NewTransactionID(prefix string) string {
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixMilli(), uuid.NewString()[:8])
}
