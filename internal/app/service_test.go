package app

import (
	"context"
	"testing"

	"github.com/transfa/ledger-service/internal/store"
)

func newTestService(es *fakeEventStore, pub *recordingPublisher, snapshotInterval int64) *CommandService {
	return NewCommandService(es, pub, snapshotInterval, 1_000_000, 3)
}

func TestCreateAccount_AppendsAndPublishes(t *testing.T) {
	es := newFakeEventStore()
	pub := &recordingPublisher{}
	svc := newTestService(es, pub, 50)

	result, err := svc.CreateAccount(context.Background(), "0001", "Ada Obi", 5000)
	if err != nil {
		t.Fatalf("CreateAccount returned error: %v", err)
	}
	if result.Version != 1 || result.Balance != 5000 {
		t.Fatalf("unexpected result: %+v", result)
	}

	events, _ := es.Read(context.Background(), result.AccountID, 0)
	if len(events) != 1 {
		t.Fatalf("expected 1 stored event, got %d", len(events))
	}
	if err := assertContains(pub.publishedAccountTypes(), "AccountCreated"); err != nil {
		t.Fatal(err)
	}
}

func TestDeposit_RetriesThroughVersionConflicts(t *testing.T) {
	es := newFakeEventStore()
	pub := &recordingPublisher{}
	svc := newTestService(es, pub, 50)
	if err := es.seedAccount("acc-1", 1000); err != nil {
		t.Fatalf("seed: %v", err)
	}

	es.forcedConflicts["acc-1"] = 2

	result, err := svc.Deposit(context.Background(), "acc-1", 250, "top up")
	if err != nil {
		t.Fatalf("Deposit returned error after conflicts: %v", err)
	}
	if result.Balance != 1250 {
		t.Fatalf("expected balance 1250, got %d", result.Balance)
	}
	if result.TransactionID == "" {
		t.Fatal("expected a transaction id")
	}
}

func TestDeposit_GivesUpAfterRetryCeiling(t *testing.T) {
	es := newFakeEventStore()
	pub := &recordingPublisher{}
	svc := newTestService(es, pub, 50)
	if err := es.seedAccount("acc-1", 1000); err != nil {
		t.Fatalf("seed: %v", err)
	}

	es.forcedConflicts["acc-1"] = 10

	_, err := svc.Deposit(context.Background(), "acc-1", 250, "")
	if err == nil {
		t.Fatal("expected error once retries are exhausted")
	}
	if !store.IsConcurrencyConflict(err) {
		t.Fatalf("expected wrapped concurrency conflict, got %v", err)
	}
}

func TestCommandOnMissingAccountIsNotFound(t *testing.T) {
	es := newFakeEventStore()
	svc := newTestService(es, &recordingPublisher{}, 50)

	_, err := svc.Withdraw(context.Background(), "ghost", 1, "")
	if err != store.ErrAccountNotFound {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestCommit_SavesSnapshotAtInterval(t *testing.T) {
	es := newFakeEventStore()
	pub := &recordingPublisher{}
	svc := newTestService(es, pub, 3)
	if err := es.seedAccount("acc-1", 1000); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Versions 2 and 3; crossing the interval at 3 stores a snapshot.
	if _, err := svc.Deposit(context.Background(), "acc-1", 10, ""); err != nil {
		t.Fatalf("Deposit returned error: %v", err)
	}
	if _, err := svc.Deposit(context.Background(), "acc-1", 10, ""); err != nil {
		t.Fatalf("Deposit returned error: %v", err)
	}

	snap, err := es.GetSnapshot(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("expected a snapshot, got %v", err)
	}
	if snap.Version != 3 {
		t.Fatalf("expected snapshot at version 3, got %d", snap.Version)
	}

	// Subsequent commands replay from the snapshot and still see fresh state.
	result, err := svc.Deposit(context.Background(), "acc-1", 5, "")
	if err != nil {
		t.Fatalf("Deposit after snapshot returned error: %v", err)
	}
	if result.Balance != 1025 || result.Version != 4 {
		t.Fatalf("unexpected post-snapshot state: %+v", result)
	}
}

func TestPublishFailureDoesNotFailCommand(t *testing.T) {
	es := newFakeEventStore()
	pub := &recordingPublisher{failAccount: errBrokenStorage}
	svc := newTestService(es, pub, 50)
	if err := es.seedAccount("acc-1", 1000); err != nil {
		t.Fatalf("seed: %v", err)
	}

	result, err := svc.Deposit(context.Background(), "acc-1", 100, "")
	if err != nil {
		t.Fatalf("Deposit should succeed despite publish failure, got %v", err)
	}
	if result.Balance != 1100 {
		t.Fatalf("expected balance 1100, got %d", result.Balance)
	}
}

func TestRequestTransfer_ValidatesTargetAndLimit(t *testing.T) {
	es := newFakeEventStore()
	pub := &recordingPublisher{}
	svc := newTestService(es, pub, 50)
	if err := es.seedAccount("acc-1", 10000); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := es.seedAccount("acc-2", 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, _, err := svc.RequestTransfer(context.Background(), "acc-1", "missing", 100, ""); err == nil {
		t.Fatal("expected error for missing target account")
	}
	if _, _, err := svc.RequestTransfer(context.Background(), "acc-1", "acc-2", 2_000_000, ""); err == nil {
		t.Fatal("expected error above the per-transfer limit")
	}

	result, transferRequestID, err := svc.RequestTransfer(context.Background(), "acc-1", "acc-2", 100, "rent")
	if err != nil {
		t.Fatalf("RequestTransfer returned error: %v", err)
	}
	if transferRequestID == "" {
		t.Fatal("expected a transfer request id")
	}
	if result.Balance != 10000 {
		t.Fatalf("request must be balance-neutral, got %d", result.Balance)
	}
	if err := assertContains(pub.publishedAccountTypes(), "TransferRequested"); err != nil {
		t.Fatal(err)
	}
}
