package app

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/pkg/rabbitmq"
)

// TransferTriggerConsumer turns TransferRequested events from the bus into
// saga runs.
type TransferTriggerConsumer struct {
	orchestrator *SagaOrchestrator
}

func NewTransferTriggerConsumer(orchestrator *SagaOrchestrator) *TransferTriggerConsumer {
	return &TransferTriggerConsumer{orchestrator: orchestrator}
}

// HandleMessage processes one delivery. Malformed payloads are rejected
// straight to the dead-letter queue: they can never succeed, so retrying
// them only burns attempts. Processing errors are retried. A duplicate
// trigger is acknowledged because StartTransferSaga is idempotent on the
// transfer request id.
func (c *TransferTriggerConsumer) HandleMessage(routingKey string, body []byte) rabbitmq.HandleResult {
	var event domain.Event
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=transfer_trigger_consumer msg=\"malformed message body\" routing_key=%s err=%v", routingKey, err)
		return rabbitmq.Reject
	}
	if event.EventType != domain.EventTransferRequested {
		log.Printf("level=warn component=transfer_trigger_consumer msg=\"unexpected event type\" routing_key=%s event_type=%s", routingKey, event.EventType)
		return rabbitmq.Reject
	}

	var data domain.TransferRequestedData
	if err := json.Unmarshal(event.EventData, &data); err != nil {
		log.Printf("level=warn component=transfer_trigger_consumer msg=\"malformed event payload\" event_id=%s err=%v", event.EventID, err)
		return rabbitmq.Reject
	}
	if data.TransferRequestID == "" || data.FromAccountID == "" || data.ToAccountID == "" || data.Amount <= 0 {
		log.Printf("level=warn component=transfer_trigger_consumer msg=\"incomplete transfer request\" event_id=%s transfer_request_id=%q", event.EventID, data.TransferRequestID)
		return rabbitmq.Reject
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	payload := domain.MoneyTransferPayload{
		TransferRequestID: data.TransferRequestID,
		FromAccountID:     data.FromAccountID,
		ToAccountID:       data.ToAccountID,
		Amount:            data.Amount,
		Description:       data.Description,
		RequestedAt:       data.RequestedAt,
	}

	if _, err := c.orchestrator.StartTransferSaga(ctx, payload, "event-consumer"); err != nil {
		log.Printf("level=error component=transfer_trigger_consumer msg=\"saga start failed; scheduling retry\" transfer_request_id=%s err=%v", data.TransferRequestID, err)
		return rabbitmq.Retry
	}
	return rabbitmq.Ack
}
