package domain

import (
	"time"

	"github.com/google/uuid"
)

// AccountView is the denormalized balance row the projector maintains. It is
// keyed by the stream id and carries the version of the last applied event so
// redelivered events cannot double-apply.
type AccountView struct {
	ID            string    `json:"id"`
	AccountNumber string    `json:"account_number"`
	OwnerName     string    `json:"owner_name"`
	Balance       int64     `json:"balance"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Version       int64     `json:"version"`
}

// TransactionRecord is one row of derived transaction history, keyed by a
// fresh id per inserted record.
type TransactionRecord struct {
	ID              uuid.UUID         `json:"id"`
	AccountID       string            `json:"account_id"`
	TransactionType string            `json:"transaction_type"` // e.g. 'DEPOSIT', 'TRANSFER_OUT'
	Amount          int64             `json:"amount"`
	Description     string            `json:"description"`
	FromAccountID   *string           `json:"from_account_id,omitempty"`
	ToAccountID     *string           `json:"to_account_id,omitempty"`
	TransactionID   string            `json:"transaction_id"`
	Status          string            `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}
