/**
 * @description
 * PostgreSQL implementation of the ReadModelRepository interface: the
 * projector-maintained `accounts` balance view and `transactions` history.
 * Balance writes carry the source event's version and only apply when that
 * version is newer than the row's, so redelivery of an already-applied event
 * has no financial effect.
 */

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/ledger-service/internal/domain"
)

// PostgresReadModelRepository is the pgx-backed ReadModelRepository.
type PostgresReadModelRepository struct {
	db *pgxpool.Pool
}

// NewPostgresReadModelRepository creates a new instance of PostgresReadModelRepository.
func NewPostgresReadModelRepository(db *pgxpool.Pool) *PostgresReadModelRepository {
	return &PostgresReadModelRepository{db: db}
}

// UpsertAccountView inserts or refreshes the balance row, ignoring stale
// versions on conflict.
func (r *PostgresReadModelRepository) UpsertAccountView(ctx context.Context, view domain.AccountView) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO accounts (id, account_number, owner_name, balance, status, created_at, updated_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW(), $7)
		 ON CONFLICT (id) DO UPDATE SET
			account_number = EXCLUDED.account_number,
			owner_name = EXCLUDED.owner_name,
			balance = EXCLUDED.balance,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at,
			version = EXCLUDED.version
		 WHERE accounts.version < EXCLUDED.version`,
		view.ID, view.AccountNumber, view.OwnerName, view.Balance, view.Status,
		view.CreatedAt, view.Version,
	)
	return err
}

// ApplyBalanceDelta adjusts the balance only when the event version is newer
// than the row's last applied version.
func (r *PostgresReadModelRepository) ApplyBalanceDelta(ctx context.Context, accountID string, delta int64, version int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE accounts
		 SET balance = balance + $2, version = $3, updated_at = NOW()
		 WHERE id = $1 AND version < $3`,
		accountID, delta, version,
	)
	return err
}

// SetAccountStatus updates the derived status, guarded by version.
func (r *PostgresReadModelRepository) SetAccountStatus(ctx context.Context, accountID, status string, version int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE accounts
		 SET status = $2, version = $3, updated_at = NOW()
		 WHERE id = $1 AND version < $3`,
		accountID, status, version,
	)
	return err
}

// GetAccountView reads the derived balance row for one account.
func (r *PostgresReadModelRepository) GetAccountView(ctx context.Context, accountID string) (*domain.AccountView, error) {
	var view domain.AccountView
	err := r.db.QueryRow(ctx,
		`SELECT id, account_number, owner_name, balance, status, created_at, updated_at, version
		 FROM accounts WHERE id = $1`,
		accountID,
	).Scan(&view.ID, &view.AccountNumber, &view.OwnerName, &view.Balance, &view.Status,
		&view.CreatedAt, &view.UpdatedAt, &view.Version)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &view, nil
}

// InsertTransactionRecord appends one derived history row.
func (r *PostgresReadModelRepository) InsertTransactionRecord(ctx context.Context, rec domain.TransactionRecord) error {
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal transaction metadata: %w", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO transactions (
			id, account_id, transaction_type, amount, description,
			from_account_id, to_account_id, transaction_id, status, created_at, metadata
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.AccountID, rec.TransactionType, rec.Amount, rec.Description,
		rec.FromAccountID, rec.ToAccountID, rec.TransactionID, rec.Status, rec.CreatedAt, metadata,
	)
	return err
}
