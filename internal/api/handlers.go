/**
 * @description
 * This file contains the HTTP handlers for the ledger-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application services, and writing the HTTP response. They act as
 * the bridge between the web layer and the business logic layer.
 *
 * Every response uses the same envelope: {"success": bool, "message": string,
 * "data": ...}. Domain validation failures map to 400, missing resources to
 * 404, version conflicts that survived retrying to 409, everything else to 500.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/app"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

// LedgerHandlers holds the application services that handlers will use.
type LedgerHandlers struct {
	commands     *app.CommandService
	orchestrator *app.SagaOrchestrator
	eventStore   store.EventStore
	readModels   store.ReadModelRepository
}

// NewLedgerHandlers creates a new instance of LedgerHandlers.
func NewLedgerHandlers(commands *app.CommandService, orchestrator *app.SagaOrchestrator, eventStore store.EventStore, readModels store.ReadModelRepository) *LedgerHandlers {
	return &LedgerHandlers{
		commands:     commands,
		orchestrator: orchestrator,
		eventStore:   eventStore,
		readModels:   readModels,
	}
}

type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type createAccountRequest struct {
	AccountNumber  string `json:"accountNumber"`
	OwnerName      string `json:"ownerName"`
	InitialBalance int64  `json:"initialBalance"`
}

type amountRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

type transferRequest struct {
	ToAccountID string `json:"toAccountId"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

type rollbackRequest struct {
	TransactionID   string `json:"transactionId"`
	Reason          string `json:"reason"`
	Amount          int64  `json:"amount"`
	TransactionType string `json:"transactionType"`
}

type blockRequest struct {
	Reason string `json:"reason"`
}

// CreateAccountHandler opens a new account.
func (h *LedgerHandlers) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.commands.CreateAccount(r.Context(), req.AccountNumber, req.OwnerName, req.InitialBalance)
	if err != nil {
		h.writeCommandError(w, "create_account", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "Account created", Data: result})
}

// DepositHandler credits an account.
func (h *LedgerHandlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.commands.Deposit(r.Context(), accountID, req.Amount, req.Description)
	if err != nil {
		h.writeCommandError(w, "deposit", err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Deposit completed", Data: result})
}

// WithdrawHandler debits an account.
func (h *LedgerHandlers) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.commands.Withdraw(r.Context(), accountID, req.Amount, req.Description)
	if err != nil {
		h.writeCommandError(w, "withdraw", err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Withdrawal completed", Data: result})
}

// TransferHandler records transfer intent. The response is 202: the debit and
// credit happen asynchronously once the saga picks the request up.
func (h *LedgerHandlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, transferRequestID, err := h.commands.RequestTransfer(r.Context(), accountID, req.ToAccountID, req.Amount, req.Description)
	if err != nil {
		h.writeCommandError(w, "transfer", err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, envelope{
		Success: true,
		Message: "Transfer accepted for processing",
		Data: map[string]interface{}{
			"transferRequestId": transferRequestID,
			"account":           result,
		},
	})
}

// RollbackHandler reverses a prior transaction.
func (h *LedgerHandlers) RollbackHandler(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.commands.RollbackTransaction(r.Context(), accountID, req.TransactionID, req.Reason, req.Amount, req.TransactionType)
	if err != nil {
		h.writeCommandError(w, "rollback", err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Transaction rolled back", Data: result})
}

// BlockAccountHandler freezes an account.
func (h *LedgerHandlers) BlockAccountHandler(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.commands.BlockAccount(r.Context(), accountID, req.Reason)
	if err != nil {
		h.writeCommandError(w, "block", err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Account blocked", Data: result})
}

// GetAccountHandler replays the aggregate and returns its current state.
func (h *LedgerHandlers) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	account, err := h.commands.GetAccount(r.Context(), accountID)
	if err != nil {
		h.writeCommandError(w, "get_account", err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Account state", Data: map[string]interface{}{
		"id":            account.ID,
		"accountNumber": account.AccountNumber,
		"ownerName":     account.OwnerName,
		"balance":       account.Balance,
		"status":        account.Status,
		"createdAt":     account.CreatedAt,
		"version":       account.Version,
	}})
}

// GetAccountViewHandler returns the projector-maintained balance row.
func (h *LedgerHandlers) GetAccountViewHandler(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	view, err := h.readModels.GetAccountView(r.Context(), accountID)
	if err != nil {
		h.writeCommandError(w, "get_account_view", err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Account view", Data: view})
}

// ListStreamsHandler lists every stream id in the event store.
func (h *LedgerHandlers) ListStreamsHandler(w http.ResponseWriter, r *http.Request) {
	streams, err := h.eventStore.ListStreams(r.Context())
	if err != nil {
		h.writeCommandError(w, "list_streams", err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Streams", Data: streams})
}

// StreamEventsHandler returns one stream's events in version order.
func (h *LedgerHandlers) StreamEventsHandler(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")
	fromVersion := parseInt64Query(r, "fromVersion", 0)

	events, err := h.eventStore.Read(r.Context(), streamID, fromVersion)
	if err != nil {
		h.writeCommandError(w, "stream_events", err)
		return
	}
	if len(events) == 0 {
		h.writeError(w, http.StatusNotFound, "Stream not found or empty")
		return
	}
	total, err := h.eventStore.CountStreamEvents(r.Context(), streamID)
	if err != nil {
		h.writeCommandError(w, "stream_events", err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Stream events", Data: map[string]interface{}{
		"streamId":    streamID,
		"totalEvents": total,
		"events":      events,
	}})
}

// AllEventsHandler pages through the global event log, optionally filtered by
// event type.
func (h *LedgerHandlers) AllEventsHandler(w http.ResponseWriter, r *http.Request) {
	limit := int(parseInt64Query(r, "limit", 100))
	offset := int(parseInt64Query(r, "offset", 0))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var events []domain.Event
	var err error
	if eventType := r.URL.Query().Get("type"); eventType != "" {
		events, err = h.eventStore.ReadByType(r.Context(), eventType, limit, offset)
	} else {
		events, err = h.eventStore.ReadAll(r.Context(), limit, offset)
	}
	if err != nil {
		h.writeCommandError(w, "all_events", err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Events", Data: events})
}

// StreamSnapshotHandler returns the latest snapshot of a stream.
func (h *LedgerHandlers) StreamSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")

	snap, err := h.eventStore.GetSnapshot(r.Context(), streamID)
	if err != nil {
		h.writeCommandError(w, "stream_snapshot", err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Snapshot", Data: snap})
}

// StatisticsHandler reports event store totals.
func (h *LedgerHandlers) StatisticsHandler(w http.ResponseWriter, r *http.Request) {
	total, err := h.eventStore.CountEvents(r.Context())
	if err != nil {
		h.writeCommandError(w, "statistics", err)
		return
	}
	streams, err := h.eventStore.ListStreams(r.Context())
	if err != nil {
		h.writeCommandError(w, "statistics", err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Event store statistics", Data: map[string]interface{}{
		"totalEvents":  total,
		"totalStreams": len(streams),
		"generatedAt":  time.Now().UTC(),
	}})
}

// GetSagaHandler returns one saga instance with its steps.
func (h *LedgerHandlers) GetSagaHandler(w http.ResponseWriter, r *http.Request) {
	sagaID, err := uuid.Parse(chi.URLParam(r, "sagaID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid saga id")
		return
	}

	saga, steps, err := h.orchestrator.GetSaga(r.Context(), sagaID)
	if err != nil {
		h.writeCommandError(w, "get_saga", err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Saga", Data: map[string]interface{}{
		"saga":  saga,
		"steps": steps,
	}})
}

// TimedOutSagasHandler lists non-terminal sagas past their deadline.
func (h *LedgerHandlers) TimedOutSagasHandler(w http.ResponseWriter, r *http.Request) {
	stuck, err := h.orchestrator.ListTimedOutSagas(r.Context(), time.Now().UTC())
	if err != nil {
		h.writeCommandError(w, "timed_out_sagas", err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Timed-out sagas", Data: stuck})
}

// writeCommandError maps service errors to HTTP statuses.
func (h *LedgerHandlers) writeCommandError(w http.ResponseWriter, endpoint string, err error) {
	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		h.writeError(w, http.StatusBadRequest, validation.Error())
		return
	}
	if errors.Is(err, store.ErrAccountNotFound) {
		h.writeError(w, http.StatusNotFound, "Account not found")
		return
	}
	if errors.Is(err, store.ErrSagaNotFound) {
		h.writeError(w, http.StatusNotFound, "Saga not found")
		return
	}
	if errors.Is(err, store.ErrSnapshotNotFound) {
		h.writeError(w, http.StatusNotFound, "No snapshot for stream")
		return
	}
	if store.IsConcurrencyConflict(err) {
		h.writeError(w, http.StatusConflict, "Concurrent modification detected. Please retry.")
		return
	}

	log.Printf("level=error component=api endpoint=%s msg=\"request failed\" err=%v", endpoint, err)
	h.writeError(w, http.StatusInternalServerError, "Internal server error")
}

func parseInt64Query(r *http.Request, key string, fallback int64) int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return value
}

// writeJSON is a helper for writing JSON responses.
func (h *LedgerHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *LedgerHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, envelope{Success: false, Message: message})
}
