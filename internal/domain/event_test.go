package domain

import (
	"errors"
	"testing"
)

func TestNewEvent_RoundTripsPayload(t *testing.T) {
	ev, err := NewEvent("acc-1", EventMoneyDeposited, 2, MoneyDepositedData{
		Amount:        1500,
		Description:   "salary",
		TransactionID: "TXN-9",
	}, map[string]string{"source": "api"})
	if err != nil {
		t.Fatalf("NewEvent returned error: %v", err)
	}
	if ev.StreamID != "acc-1" || ev.Version != 2 {
		t.Fatalf("unexpected envelope: stream=%s version=%d", ev.StreamID, ev.Version)
	}
	if ev.Metadata["source"] != "api" {
		t.Fatalf("metadata not carried: %v", ev.Metadata)
	}

	payload, err := DecodePayload(ev)
	if err != nil {
		t.Fatalf("DecodePayload returned error: %v", err)
	}
	data, ok := payload.(MoneyDepositedData)
	if !ok {
		t.Fatalf("expected MoneyDepositedData, got %T", payload)
	}
	if data.Amount != 1500 || data.TransactionID != "TXN-9" {
		t.Fatalf("payload mismatch: %+v", data)
	}
}

func TestDecodePayload_UnknownTypeIsCorruptStream(t *testing.T) {
	ev, err := NewEvent("acc-1", EventAccountCreated, 1, AccountCreatedData{
		AccountNumber:  "0001",
		OwnerName:      "Ada Obi",
		InitialBalance: 100,
	}, nil)
	if err != nil {
		t.Fatalf("NewEvent returned error: %v", err)
	}
	ev.EventType = "SomethingNew"

	_, err = DecodePayload(ev)
	var corrupt *CorruptStreamError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptStreamError, got %v", err)
	}
}

func TestNewTransactionID_CarriesPrefix(t *testing.T) {
	id := NewTransactionID("TRF")
	if len(id) < 5 || id[:4] != "TRF-" {
		t.Fatalf("unexpected transaction id %q", id)
	}
}
