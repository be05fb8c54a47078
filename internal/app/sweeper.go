/**
 * @description
 * Background sweep for sagas that passed their deadline without reaching a
 * terminal state, typically because the process crashed mid-run. The sweep
 * runs on a cron schedule and hands each stuck instance back to the
 * orchestrator for compensation or final failure.
 *
 * @dependencies
 * - github.com/robfig/cron/v3: For the recurring schedule.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// SagaSweeper periodically resolves timed-out sagas.
type SagaSweeper struct {
	orchestrator *SagaOrchestrator
	schedule     string
	cron         *cron.Cron
}

// NewSagaSweeper creates a sweeper with a cron schedule like "@every 1m".
func NewSagaSweeper(orchestrator *SagaOrchestrator, schedule string) *SagaSweeper {
	return &SagaSweeper{
		orchestrator: orchestrator,
		schedule:     schedule,
		cron:         cron.New(),
	}
}

// Start registers the sweep job and starts the scheduler.
func (s *SagaSweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.Sweep); err != nil {
		return fmt.Errorf("register saga sweep job: %w", err)
	}
	s.cron.Start()
	log.Printf("level=info component=saga_sweeper msg=\"sweeper started\" schedule=%q", s.schedule)
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *SagaSweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep resolves every saga currently past its deadline. It is safe to run
// concurrently with normal saga traffic: only non-terminal instances are
// returned, and resolving one is idempotent.
func (s *SagaSweeper) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	stuck, err := s.orchestrator.ListTimedOutSagas(ctx, time.Now().UTC())
	if err != nil {
		log.Printf("level=error component=saga_sweeper msg=\"failed to list timed-out sagas\" err=%v", err)
		return
	}
	if len(stuck) == 0 {
		return
	}
	log.Printf("level=warn component=saga_sweeper msg=\"resolving timed-out sagas\" count=%d", len(stuck))

	for i := range stuck {
		saga := stuck[i]
		if err := s.orchestrator.HandleTimedOutSaga(ctx, &saga); err != nil {
			log.Printf("level=error component=saga_sweeper msg=\"failed to resolve saga\" saga_id=%s err=%v", saga.SagaID, err)
		}
	}
}
