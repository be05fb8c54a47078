package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

// fakeEventStore is an in-memory event store with real optimistic concurrency
// semantics, plus hooks to inject conflicts and append failures.
type fakeEventStore struct {
	mu        sync.Mutex
	streams   map[string][]domain.Event
	snapshots map[string]*domain.Snapshot

	// forcedConflicts makes the next N appends on a stream fail with a
	// version conflict even though none exists.
	forcedConflicts map[string]int
	// failAppend makes every append on a stream fail with the given error.
	failAppend map[string]error
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{
		streams:         make(map[string][]domain.Event),
		snapshots:       make(map[string]*domain.Snapshot),
		forcedConflicts: make(map[string]int),
		failAppend:      make(map[string]error),
	}
}

func (f *fakeEventStore) Append(ctx context.Context, streamID string, events []domain.Event, expectedVersion int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failAppend[streamID]; err != nil {
		return err
	}
	current := int64(len(f.streams[streamID]))
	if f.forcedConflicts[streamID] > 0 {
		f.forcedConflicts[streamID]--
		return &store.ConcurrencyConflictError{StreamID: streamID, ExpectedVersion: expectedVersion, ActualVersion: current + 1}
	}
	if current != expectedVersion {
		return &store.ConcurrencyConflictError{StreamID: streamID, ExpectedVersion: expectedVersion, ActualVersion: current}
	}
	f.streams[streamID] = append(f.streams[streamID], events...)
	return nil
}

func (f *fakeEventStore) Read(ctx context.Context, streamID string, fromVersion int64) ([]domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Event
	for _, ev := range f.streams[streamID] {
		if ev.Version > fromVersion {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeEventStore) ReadAll(ctx context.Context, limit, offset int) ([]domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []domain.Event
	for _, events := range f.streams {
		all = append(all, events...)
	}
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (f *fakeEventStore) ReadByType(ctx context.Context, eventType string, limit, offset int) ([]domain.Event, error) {
	all, err := f.ReadAll(ctx, 1<<30, 0)
	if err != nil {
		return nil, err
	}
	var filtered []domain.Event
	for _, ev := range all {
		if ev.EventType == eventType {
			filtered = append(filtered, ev)
		}
	}
	if offset >= len(filtered) {
		return nil, nil
	}
	end := offset + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[offset:end], nil
}

func (f *fakeEventStore) CurrentVersion(ctx context.Context, streamID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.streams[streamID])), nil
}

func (f *fakeEventStore) SaveSnapshot(ctx context.Context, streamID string, data []byte, version int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[streamID] = &domain.Snapshot{StreamID: streamID, Data: data, Version: version, CreatedAt: time.Now().UTC()}
	return nil
}

func (f *fakeEventStore) GetSnapshot(ctx context.Context, streamID string) (*domain.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snapshots[streamID]
	if !ok {
		return nil, store.ErrSnapshotNotFound
	}
	return snap, nil
}

func (f *fakeEventStore) ListStreams(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id := range f.streams {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeEventStore) CountEvents(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for _, events := range f.streams {
		total += int64(len(events))
	}
	return total, nil
}

func (f *fakeEventStore) CountStreamEvents(ctx context.Context, streamID string) (int64, error) {
	return f.CurrentVersion(ctx, streamID)
}

// seedAccount commits a created account with the given balance directly into
// the store and returns its stream id.
func (f *fakeEventStore) seedAccount(id string, balance int64) error {
	account, err := domain.CreateAccount(id, "000"+id, "Owner "+id, balance)
	if err != nil {
		return err
	}
	return f.Append(context.Background(), id, account.UncommittedEvents(), 0)
}

func (f *fakeEventStore) balanceOf(id string) (int64, error) {
	events, err := f.Read(context.Background(), id, 0)
	if err != nil {
		return 0, err
	}
	account, err := domain.ReplayAccount(id, events)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// recordingPublisher captures everything published instead of touching a broker.
type recordingPublisher struct {
	mu            sync.Mutex
	accountEvents []domain.Event
	sagaEvents    []string
	failAccount   error
}

func (p *recordingPublisher) PublishAccountEvent(ctx context.Context, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAccount != nil {
		return p.failAccount
	}
	p.accountEvents = append(p.accountEvents, event)
	return nil
}

func (p *recordingPublisher) PublishSagaEvent(ctx context.Context, eventType, messageID string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sagaEvents = append(p.sagaEvents, eventType)
	return nil
}

func (p *recordingPublisher) publishedAccountTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var types []string
	for _, ev := range p.accountEvents {
		types = append(types, ev.EventType)
	}
	return types
}

// fakeSagaRepo is an in-memory store.SagaRepository.
type fakeSagaRepo struct {
	mu         sync.Mutex
	sagas      map[uuid.UUID]*domain.SagaInstance
	steps      map[uuid.UUID][]*domain.SagaStep
	journal    map[uuid.UUID][]string
	failCreate error
}

func newFakeSagaRepo() *fakeSagaRepo {
	return &fakeSagaRepo{
		sagas:   make(map[uuid.UUID]*domain.SagaInstance),
		steps:   make(map[uuid.UUID][]*domain.SagaStep),
		journal: make(map[uuid.UUID][]string),
	}
}

func (f *fakeSagaRepo) CreateSaga(ctx context.Context, saga *domain.SagaInstance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		return f.failCreate
	}
	copied := *saga
	f.sagas[saga.SagaID] = &copied
	return nil
}

func (f *fakeSagaRepo) GetSaga(ctx context.Context, sagaID uuid.UUID) (*domain.SagaInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	saga, ok := f.sagas[sagaID]
	if !ok {
		return nil, store.ErrSagaNotFound
	}
	copied := *saga
	return &copied, nil
}

func (f *fakeSagaRepo) GetSagaByCorrelationID(ctx context.Context, correlationID string) (*domain.SagaInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, saga := range f.sagas {
		if saga.CorrelationID == correlationID {
			copied := *saga
			return &copied, nil
		}
	}
	return nil, store.ErrSagaNotFound
}

func (f *fakeSagaRepo) UpdateSagaStatus(ctx context.Context, sagaID uuid.UUID, status domain.SagaStatus, currentStep *int, errorMessage *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	saga, ok := f.sagas[sagaID]
	if !ok {
		return store.ErrSagaNotFound
	}
	saga.Status = status
	if currentStep != nil {
		saga.CurrentStep = *currentStep
	}
	if errorMessage != nil {
		saga.ErrorMessage = errorMessage
	}
	switch status {
	case domain.SagaCompleted, domain.SagaFailed, domain.SagaCompensated:
		now := time.Now().UTC()
		saga.CompletedAt = &now
	}
	return nil
}

func (f *fakeSagaRepo) IncrementSagaRetryCount(ctx context.Context, sagaID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	saga, ok := f.sagas[sagaID]
	if !ok {
		return store.ErrSagaNotFound
	}
	saga.RetryCount++
	return nil
}

func (f *fakeSagaRepo) CreateStep(ctx context.Context, step *domain.SagaStep) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *step
	f.steps[step.SagaID] = append(f.steps[step.SagaID], &copied)
	return nil
}

func (f *fakeSagaRepo) GetSteps(ctx context.Context, sagaID uuid.UUID, stepType domain.SagaStepType) ([]domain.SagaStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.SagaStep
	for _, step := range f.steps[sagaID] {
		if step.StepType == stepType {
			out = append(out, *step)
		}
	}
	return out, nil
}

func (f *fakeSagaRepo) UpdateStepStatus(ctx context.Context, stepID uuid.UUID, status domain.SagaStepStatus, update store.StepUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, steps := range f.steps {
		for _, step := range steps {
			if step.StepID != stepID {
				continue
			}
			step.Status = status
			if update.OutputData != nil {
				step.OutputData = update.OutputData
			}
			if update.EventIDs != nil {
				step.EventIDs = update.EventIDs
			}
			if update.ErrorMessage != nil {
				step.ErrorMessage = update.ErrorMessage
			}
			return nil
		}
	}
	return store.ErrStepNotFound
}

func (f *fakeSagaRepo) AppendSagaEvent(ctx context.Context, sagaID uuid.UUID, eventType string, eventData []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.journal[sagaID] = append(f.journal[sagaID], eventType)
	return nil
}

func (f *fakeSagaRepo) ListTimedOutSagas(ctx context.Context, now time.Time) ([]domain.SagaInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.SagaInstance
	for _, saga := range f.sagas {
		if (saga.Status == domain.SagaStarted || saga.Status == domain.SagaCompensating) && saga.TimeoutAt.Before(now) {
			out = append(out, *saga)
		}
	}
	return out, nil
}

func (f *fakeSagaRepo) stepByName(sagaID uuid.UUID, name string) *domain.SagaStep {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, step := range f.steps[sagaID] {
		if step.StepName == name {
			copied := *step
			return &copied
		}
	}
	return nil
}

// fakeReadModels is an in-memory store.ReadModelRepository with the same
// version-guard semantics as the PostgreSQL implementation.
type fakeReadModels struct {
	mu       sync.Mutex
	accounts map[string]*domain.AccountView
	history  []domain.TransactionRecord
}

func newFakeReadModels() *fakeReadModels {
	return &fakeReadModels{accounts: make(map[string]*domain.AccountView)}
}

func (f *fakeReadModels) UpsertAccountView(ctx context.Context, view domain.AccountView) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.accounts[view.ID]
	if ok && existing.Version >= view.Version {
		return nil
	}
	copied := view
	f.accounts[view.ID] = &copied
	return nil
}

func (f *fakeReadModels) ApplyBalanceDelta(ctx context.Context, accountID string, delta int64, version int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	view, ok := f.accounts[accountID]
	if !ok || view.Version >= version {
		return nil
	}
	view.Balance += delta
	view.Version = version
	return nil
}

func (f *fakeReadModels) SetAccountStatus(ctx context.Context, accountID, status string, version int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	view, ok := f.accounts[accountID]
	if !ok || view.Version >= version {
		return nil
	}
	view.Status = status
	view.Version = version
	return nil
}

func (f *fakeReadModels) GetAccountView(ctx context.Context, accountID string) (*domain.AccountView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	view, ok := f.accounts[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	copied := *view
	return &copied, nil
}

func (f *fakeReadModels) InsertTransactionRecord(ctx context.Context, rec domain.TransactionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, rec)
	return nil
}

func (f *fakeReadModels) historyFor(accountID string) []domain.TransactionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.TransactionRecord
	for _, rec := range f.history {
		if rec.AccountID == accountID {
			out = append(out, rec)
		}
	}
	return out
}

var errBrokenStorage = errors.New("storage unavailable")

func assertContains(list []string, want string) error {
	for _, item := range list {
		if item == want {
			return nil
		}
	}
	return fmt.Errorf("%q not found in [%s]", want, strings.Join(list, ", "))
}
