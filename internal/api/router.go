/**
 * @description
 * This file sets up the HTTP router for the ledger-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as rate limiting on the write path.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// LedgerRoutes creates and returns a new router for the ledger service.
func LedgerRoutes(h *LedgerHandlers, limiter RateLimiter, commandLimitPerMinute int) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Command endpoints, throttled per client.
	r.Group(func(r chi.Router) {
		r.Use(CommandRateLimitMiddleware(limiter, commandLimitPerMinute))

		r.Post("/accounts", h.CreateAccountHandler)
		r.Post("/accounts/{accountID}/deposit", h.DepositHandler)
		r.Post("/accounts/{accountID}/withdraw", h.WithdrawHandler)
		r.Post("/accounts/{accountID}/transfer", h.TransferHandler)
		r.Post("/accounts/{accountID}/rollback", h.RollbackHandler)
		r.Post("/accounts/{accountID}/block", h.BlockAccountHandler)
	})

	// Query endpoints.
	r.Get("/accounts/{accountID}", h.GetAccountHandler)
	r.Get("/accounts/{accountID}/view", h.GetAccountViewHandler)

	// Event store operational endpoints.
	r.Route("/event-store", func(r chi.Router) {
		r.Get("/streams", h.ListStreamsHandler)
		r.Get("/streams/{streamID}/events", h.StreamEventsHandler)
		r.Get("/streams/{streamID}/snapshot", h.StreamSnapshotHandler)
		r.Get("/events", h.AllEventsHandler)
		r.Get("/statistics", h.StatisticsHandler)
	})

	// Saga status endpoints.
	r.Get("/sagas/timed-out", h.TimedOutSagasHandler)
	r.Get("/sagas/{sagaID}", h.GetSagaHandler)

	return r
}
