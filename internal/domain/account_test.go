package domain

import (
	"errors"
	"testing"
)

func mustCreate(t *testing.T, balance int64) *Account {
	t.Helper()
	account, err := CreateAccount("acc-1", "0001112223", "Ada Obi", balance)
	if err != nil {
		t.Fatalf("CreateAccount returned error: %v", err)
	}
	return account
}

func TestCreateAccount_EmitsCreatedEventAtVersionOne(t *testing.T) {
	account := mustCreate(t, 5000)

	if account.Balance != 5000 {
		t.Fatalf("expected balance 5000, got %d", account.Balance)
	}
	if account.Status != AccountActive {
		t.Fatalf("expected ACTIVE status, got %s", account.Status)
	}
	events := account.UncommittedEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 uncommitted event, got %d", len(events))
	}
	if events[0].EventType != EventAccountCreated || events[0].Version != 1 {
		t.Fatalf("unexpected first event: type=%s version=%d", events[0].EventType, events[0].Version)
	}
}

func TestCreateAccount_RejectsNegativeInitialBalance(t *testing.T) {
	_, err := CreateAccount("acc-1", "0001112223", "Ada Obi", -1)
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestReplayAccount_IsDeterministic(t *testing.T) {
	account := mustCreate(t, 10000)
	if _, err := account.Deposit(2500, "salary"); err != nil {
		t.Fatalf("Deposit returned error: %v", err)
	}
	if _, err := account.Withdraw(1000, "groceries"); err != nil {
		t.Fatalf("Withdraw returned error: %v", err)
	}
	events := account.UncommittedEvents()

	first, err := ReplayAccount("acc-1", events)
	if err != nil {
		t.Fatalf("first replay returned error: %v", err)
	}
	second, err := ReplayAccount("acc-1", events)
	if err != nil {
		t.Fatalf("second replay returned error: %v", err)
	}

	if first.Balance != 11500 || second.Balance != 11500 {
		t.Fatalf("expected both replays to yield 11500, got %d and %d", first.Balance, second.Balance)
	}
	if first.Version != 3 || second.Version != 3 {
		t.Fatalf("expected both replays at version 3, got %d and %d", first.Version, second.Version)
	}
}

func TestReplayAccountFromSnapshot_SkipsCoveredEvents(t *testing.T) {
	account := mustCreate(t, 10000)
	if _, err := account.Deposit(500, ""); err != nil {
		t.Fatalf("Deposit returned error: %v", err)
	}
	events := account.UncommittedEvents()
	snap := AccountSnapshot{
		ID:            "acc-1",
		AccountNumber: "0001112223",
		OwnerName:     "Ada Obi",
		Balance:       10000,
		Status:        AccountActive,
		Version:       1,
	}

	restored, err := ReplayAccountFromSnapshot(snap, events)
	if err != nil {
		t.Fatalf("ReplayAccountFromSnapshot returned error: %v", err)
	}
	if restored.Balance != 10500 {
		t.Fatalf("expected balance 10500, got %d", restored.Balance)
	}
	if restored.Version != 2 {
		t.Fatalf("expected version 2, got %d", restored.Version)
	}
}

func TestReplayAccount_UnknownEventTypeIsCorruptStream(t *testing.T) {
	account := mustCreate(t, 1000)
	events := account.UncommittedEvents()
	bogus := events[0]
	bogus.EventType = "AccountRenamed"
	bogus.Version = 2

	_, err := ReplayAccount("acc-1", append(events, bogus))
	var corrupt *CorruptStreamError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptStreamError, got %v", err)
	}
	if corrupt.Version != 2 {
		t.Fatalf("expected corrupt version 2, got %d", corrupt.Version)
	}
}

func TestWithdraw_RejectsInsufficientFunds(t *testing.T) {
	account := mustCreate(t, 100)
	_, err := account.Withdraw(500, "")
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(account.UncommittedEvents()) != 1 {
		t.Fatalf("failed command must not emit events, have %d", len(account.UncommittedEvents()))
	}
}

func TestDeposit_RejectsNonPositiveAmount(t *testing.T) {
	account := mustCreate(t, 100)
	for _, amount := range []int64{0, -50} {
		if _, err := account.Deposit(amount, ""); err == nil {
			t.Fatalf("expected error for amount %d", amount)
		}
	}
}

func TestTransfer_RejectsSelfTransfer(t *testing.T) {
	account := mustCreate(t, 1000)
	err := account.Transfer(100, account.ID, "", "TXN-1", nil)
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestReceive_RejectsBlockedAccount(t *testing.T) {
	account := mustCreate(t, 1000)
	if err := account.Block("fraud review"); err != nil {
		t.Fatalf("Block returned error: %v", err)
	}
	if err := account.Receive(100, "acc-2", "TXN-1", "", nil); err == nil {
		t.Fatal("expected error receiving into a blocked account")
	}
}

func TestBlockedAccount_RejectsAllMutations(t *testing.T) {
	account := mustCreate(t, 1000)
	if err := account.Block("fraud review"); err != nil {
		t.Fatalf("Block returned error: %v", err)
	}

	if _, err := account.Deposit(100, ""); err == nil {
		t.Fatal("expected deposit to fail on blocked account")
	}
	if _, err := account.Withdraw(100, ""); err == nil {
		t.Fatal("expected withdrawal to fail on blocked account")
	}
	if err := account.Transfer(100, "acc-2", "", "TXN-1", nil); err == nil {
		t.Fatal("expected transfer to fail on blocked account")
	}
}

func TestRequestTransfer_IsBalanceNeutral(t *testing.T) {
	account := mustCreate(t, 1000)
	if err := account.RequestTransfer("TRF-1", "acc-2", 400, "rent"); err != nil {
		t.Fatalf("RequestTransfer returned error: %v", err)
	}

	if account.Balance != 1000 {
		t.Fatalf("transfer request must not move money, balance is %d", account.Balance)
	}
	events := account.UncommittedEvents()
	last := events[len(events)-1]
	if last.EventType != EventTransferRequested {
		t.Fatalf("expected TransferRequested, got %s", last.EventType)
	}
}

func TestRequestTransfer_RejectsInsufficientFunds(t *testing.T) {
	account := mustCreate(t, 100)
	if err := account.RequestTransfer("TRF-1", "acc-2", 400, ""); err == nil {
		t.Fatal("expected error for insufficient funds")
	}
}

func TestRollbackTransaction_ReversesBalanceEffect(t *testing.T) {
	cases := []struct {
		txnType string
		want    int64
	}{
		{TxnTypeDeposit, 900},
		{TxnTypeWithdrawal, 1100},
		{TxnTypeTransferOut, 1100},
		{TxnTypeTransferIn, 900},
	}
	for _, tc := range cases {
		t.Run(tc.txnType, func(t *testing.T) {
			account := mustCreate(t, 1000)
			if err := account.RollbackTransaction("TXN-1", "operator request", 100, tc.txnType); err != nil {
				t.Fatalf("RollbackTransaction returned error: %v", err)
			}
			if account.Balance != tc.want {
				t.Fatalf("expected balance %d after rolling back %s, got %d", tc.want, tc.txnType, account.Balance)
			}
		})
	}
}

func TestRollbackTransaction_RejectsUnknownType(t *testing.T) {
	account := mustCreate(t, 1000)
	if err := account.RollbackTransaction("TXN-1", "", 100, "FEE"); err == nil {
		t.Fatal("expected error for unknown transaction type")
	}
}

func TestVersionsAreContiguous(t *testing.T) {
	account := mustCreate(t, 10000)
	if _, err := account.Deposit(1, ""); err != nil {
		t.Fatalf("Deposit returned error: %v", err)
	}
	if _, err := account.Withdraw(1, ""); err != nil {
		t.Fatalf("Withdraw returned error: %v", err)
	}
	if err := account.RequestTransfer("TRF-1", "acc-2", 1, ""); err != nil {
		t.Fatalf("RequestTransfer returned error: %v", err)
	}

	for i, ev := range account.UncommittedEvents() {
		if ev.Version != int64(i+1) {
			t.Fatalf("expected version %d at index %d, got %d", i+1, i, ev.Version)
		}
	}
}
