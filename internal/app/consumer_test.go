package app

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/pkg/rabbitmq"
)

func triggerBody(t *testing.T, data domain.TransferRequestedData) []byte {
	t.Helper()
	ev, err := domain.NewEvent(data.FromAccountID, domain.EventTransferRequested, 2, data, nil)
	if err != nil {
		t.Fatalf("NewEvent returned error: %v", err)
	}
	body, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func TestTriggerConsumer_MalformedBodyIsRejected(t *testing.T) {
	consumer := NewTransferTriggerConsumer(newTestOrchestrator(newFakeEventStore(), newFakeSagaRepo(), &recordingPublisher{}))

	if got := consumer.HandleMessage("account.TransferRequested", []byte("{not json")); got != rabbitmq.Reject {
		t.Fatalf("expected Reject for malformed body, got %v", got)
	}
}

func TestTriggerConsumer_WrongEventTypeIsRejected(t *testing.T) {
	consumer := NewTransferTriggerConsumer(newTestOrchestrator(newFakeEventStore(), newFakeSagaRepo(), &recordingPublisher{}))

	ev, err := domain.NewEvent("acc-1", domain.EventMoneyDeposited, 2, domain.MoneyDepositedData{Amount: 1}, nil)
	if err != nil {
		t.Fatalf("NewEvent returned error: %v", err)
	}
	body, _ := json.Marshal(ev)

	if got := consumer.HandleMessage("account.MoneyDeposited", body); got != rabbitmq.Reject {
		t.Fatalf("expected Reject for wrong event type, got %v", got)
	}
}

func TestTriggerConsumer_IncompletePayloadIsRejected(t *testing.T) {
	consumer := NewTransferTriggerConsumer(newTestOrchestrator(newFakeEventStore(), newFakeSagaRepo(), &recordingPublisher{}))

	body := triggerBody(t, domain.TransferRequestedData{
		TransferRequestID: "",
		FromAccountID:     "acc-x",
		ToAccountID:       "acc-y",
		Amount:            100,
	})
	if got := consumer.HandleMessage("account.TransferRequested", body); got != rabbitmq.Reject {
		t.Fatalf("expected Reject for missing transfer request id, got %v", got)
	}
}

func TestTriggerConsumer_InfrastructureErrorIsRetried(t *testing.T) {
	es := newFakeEventStore()
	sagas := newFakeSagaRepo()
	sagas.failCreate = errBrokenStorage
	consumer := NewTransferTriggerConsumer(newTestOrchestrator(es, sagas, &recordingPublisher{}))

	if err := es.seedAccount("acc-x", 10000); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := es.seedAccount("acc-y", 500); err != nil {
		t.Fatalf("seed: %v", err)
	}

	body := triggerBody(t, domain.TransferRequestedData{
		TransferRequestID: "TRF-retry-1",
		FromAccountID:     "acc-x",
		ToAccountID:       "acc-y",
		Amount:            100,
		RequestedAt:       time.Now().UTC(),
	})
	if got := consumer.HandleMessage("account.TransferRequested", body); got != rabbitmq.Retry {
		t.Fatalf("expected Retry when saga persistence fails, got %v", got)
	}
}

func TestTriggerConsumer_ValidTriggerAndRedeliveryAreAcked(t *testing.T) {
	es := newFakeEventStore()
	sagas := newFakeSagaRepo()
	consumer := NewTransferTriggerConsumer(newTestOrchestrator(es, sagas, &recordingPublisher{}))

	if err := es.seedAccount("acc-x", 10000); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := es.seedAccount("acc-y", 500); err != nil {
		t.Fatalf("seed: %v", err)
	}

	body := triggerBody(t, domain.TransferRequestedData{
		TransferRequestID: "TRF-ack-1",
		FromAccountID:     "acc-x",
		ToAccountID:       "acc-y",
		Amount:            1000,
		RequestedAt:       time.Now().UTC(),
	})

	if got := consumer.HandleMessage("account.TransferRequested", body); got != rabbitmq.Ack {
		t.Fatalf("expected Ack for valid trigger, got %v", got)
	}
	// Redelivery of the same trigger is acknowledged without a second transfer.
	if got := consumer.HandleMessage("account.TransferRequested", body); got != rabbitmq.Ack {
		t.Fatalf("expected Ack for redelivered trigger, got %v", got)
	}

	balance, err := es.balanceOf("acc-x")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if balance != 9000 {
		t.Fatalf("expected exactly one debit, balance is %d", balance)
	}
}
