/**
 * @description
 * The projector folds committed account events into the read-model tables:
 * one balance row per account plus an append-only transaction history. It
 * consumes the same bus the command side publishes to, so it must survive
 * redelivery: balance writes are guarded by the event version and history
 * rows are keyed by fresh ids.
 */

package app

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
	"github.com/transfa/ledger-service/pkg/rabbitmq"
)

// Projector maintains the account read models from the event stream.
type Projector struct {
	readModels store.ReadModelRepository
}

func NewProjector(readModels store.ReadModelRepository) *Projector {
	return &Projector{readModels: readModels}
}

// HandleMessage projects one account event. Dispatch is driven by the event
// body, not the routing key, so redeliveries keep projecting no matter which
// key they arrive under. Unknown account event types are rejected rather
// than retried: a type the projector does not know is a deploy-ordering
// problem, not a transient fault.
func (p *Projector) HandleMessage(routingKey string, body []byte) rabbitmq.HandleResult {
	var event domain.Event
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=projector msg=\"malformed message body\" routing_key=%s err=%v", routingKey, err)
		return rabbitmq.Reject
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := p.project(ctx, event); err != nil {
		if _, corrupt := err.(*domain.CorruptStreamError); corrupt {
			log.Printf("level=warn component=projector msg=\"unknown event type; rejecting\" event_type=%s event_id=%s", event.EventType, event.EventID)
			return rabbitmq.Reject
		}
		log.Printf("level=error component=projector msg=\"projection failed; scheduling retry\" event_type=%s event_id=%s err=%v", event.EventType, event.EventID, err)
		return rabbitmq.Retry
	}
	return rabbitmq.Ack
}

func (p *Projector) project(ctx context.Context, event domain.Event) error {
	payload, err := domain.DecodePayload(event)
	if err != nil {
		return err
	}

	switch data := payload.(type) {
	case domain.AccountCreatedData:
		return p.readModels.UpsertAccountView(ctx, domain.AccountView{
			ID:            event.StreamID,
			AccountNumber: data.AccountNumber,
			OwnerName:     data.OwnerName,
			Balance:       data.InitialBalance,
			Status:        string(domain.AccountActive),
			CreatedAt:     event.OccurredOn,
			UpdatedAt:     event.OccurredOn,
			Version:       event.Version,
		})

	case domain.MoneyDepositedData:
		if err := p.readModels.ApplyBalanceDelta(ctx, event.StreamID, data.Amount, event.Version); err != nil {
			return err
		}
		return p.insertHistory(ctx, event, domain.TxnTypeDeposit, data.Amount, data.Description, data.TransactionID, nil, nil)

	case domain.MoneyWithdrawnData:
		if err := p.readModels.ApplyBalanceDelta(ctx, event.StreamID, -data.Amount, event.Version); err != nil {
			return err
		}
		return p.insertHistory(ctx, event, domain.TxnTypeWithdrawal, data.Amount, data.Description, data.TransactionID, nil, nil)

	case domain.MoneyTransferredData:
		if err := p.readModels.ApplyBalanceDelta(ctx, event.StreamID, -data.Amount, event.Version); err != nil {
			return err
		}
		to := data.ToAccountID
		return p.insertHistory(ctx, event, domain.TxnTypeTransferOut, data.Amount, data.Description, data.TransactionID, nil, &to)

	case domain.MoneyReceivedData:
		if err := p.readModels.ApplyBalanceDelta(ctx, event.StreamID, data.Amount, event.Version); err != nil {
			return err
		}
		from := data.FromAccountID
		return p.insertHistory(ctx, event, domain.TxnTypeTransferIn, data.Amount, data.Description, data.TransactionID, &from, nil)

	case domain.TransferRequestedData:
		// Intent only; balances move when the saga's debit and credit land.
		return nil

	case domain.TransactionRolledBackData:
		delta := rollbackDelta(data)
		if err := p.readModels.ApplyBalanceDelta(ctx, event.StreamID, delta, event.Version); err != nil {
			return err
		}
		return p.insertHistory(ctx, event, "ROLLBACK", data.Amount, data.RollbackReason, data.OriginalTransactionID, nil, nil)

	case domain.AccountBlockedData:
		return p.readModels.SetAccountStatus(ctx, event.StreamID, string(domain.AccountBlocked), event.Version)

	default:
		return &domain.CorruptStreamError{StreamID: event.StreamID, Version: event.Version, EventType: event.EventType}
	}
}

// rollbackDelta reverses the original transaction's balance effect.
func rollbackDelta(data domain.TransactionRolledBackData) int64 {
	switch data.TransactionType {
	case domain.TxnTypeDeposit, domain.TxnTypeTransferIn:
		return -data.Amount
	default:
		return data.Amount
	}
}

func (p *Projector) insertHistory(ctx context.Context, event domain.Event, txnType string, amount int64, description, transactionID string, fromAccountID, toAccountID *string) error {
	return p.readModels.InsertTransactionRecord(ctx, domain.TransactionRecord{
		ID:              uuid.New(),
		AccountID:       event.StreamID,
		TransactionType: txnType,
		Amount:          amount,
		Description:     description,
		FromAccountID:   fromAccountID,
		ToAccountID:     toAccountID,
		TransactionID:   transactionID,
		Status:          "COMPLETED",
		CreatedAt:       event.OccurredOn,
		Metadata:        event.Metadata,
	})
}
