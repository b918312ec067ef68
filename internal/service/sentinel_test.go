package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/churnguard/intervention-engine/internal/domain"
	"github.com/churnguard/intervention-engine/internal/events"
	"github.com/churnguard/intervention-engine/internal/notifier"
	"github.com/churnguard/intervention-engine/internal/repository"
)

type sentinelFixture struct {
	sentinel *Sentinel
	store    *ConfigStore
	ledger   *fakeLedger
	source   *fakeRiskSource
	notify   *fakeNotifier
	counter  *fakeCounter
	sink     *fakeSink
}

func newSentinelFixture(t *testing.T, cfg domain.SentinelConfig) *sentinelFixture {
	t.Helper()

	ledger := &fakeLedger{}
	source := &fakeRiskSource{}
	notify := &fakeNotifier{}
	counter := &fakeCounter{}
	sink := &fakeSink{}

	store, err := NewConfigStore(cfg, events.NopSink{}, nil)
	if err != nil {
		t.Fatalf("NewConfigStore() error = %v", err)
	}

	sentinel, err := NewSentinel(ledger, source, notify, nil, counter, store, sink, nil, nil)
	if err != nil {
		t.Fatalf("NewSentinel() error = %v", err)
	}
	sentinel.newID = sequentialIDs()

	return &sentinelFixture{
		sentinel: sentinel,
		store:    store,
		ledger:   ledger,
		source:   source,
		notify:   notify,
		counter:  counter,
		sink:     sink,
	}
}

func TestSentinelDisabledIsNoOp(t *testing.T) {
	t.Parallel()

	cfg := testSentinelConfig()
	cfg.Enabled = false
	fx := newSentinelFixture(t, cfg)

	result, err := fx.sentinel.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if result.Enabled {
		t.Error("result.Enabled = true, want false")
	}
	if fx.source.batchCalls != 0 {
		t.Errorf("risk source called %d times, want 0", fx.source.batchCalls)
	}
	if len(fx.sink.events) != 0 {
		t.Errorf("emitted %d events while disabled, want 0", len(fx.sink.events))
	}
}

func TestSentinelExecutesIntervention(t *testing.T) {
	t.Parallel()

	fx := newSentinelFixture(t, testSentinelConfig())
	fx.source.batch = []domain.UserRiskSnapshot{
		{UserID: "user-42", ChurnProbability: 0.93},
	}

	result, err := fx.sentinel.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	if result.Actions != 1 {
		t.Fatalf("result.Actions = %d, want 1", result.Actions)
	}
	if len(fx.ledger.created) != 1 {
		t.Fatalf("persisted %d interventions, want 1", len(fx.ledger.created))
	}

	record := fx.ledger.created[0]
	if record.UserID != "user-42" {
		t.Errorf("record.UserID = %s, want user-42", record.UserID)
	}
	if record.ActionType != domain.ActionSupport {
		t.Errorf("record.ActionType = %s, want support", record.ActionType)
	}
	if record.Source != domain.SourceSentinel {
		t.Errorf("record.Source = %s, want sentinel", record.Source)
	}
	if record.Status != domain.StatusCompleted {
		t.Errorf("record.Status = %s, want completed", record.Status)
	}
	if record.Outcome != domain.OutcomePending {
		t.Errorf("record.Outcome = %s, want pending", record.Outcome)
	}
	if record.RiskAtIntervention == nil || *record.RiskAtIntervention != 0.93 {
		t.Errorf("record.RiskAtIntervention = %v, want 0.93", record.RiskAtIntervention)
	}
	if record.CompletedAt == nil {
		t.Error("record.CompletedAt is nil")
	}

	if len(fx.notify.sent) != 1 {
		t.Errorf("delivered %d notifications, want 1", len(fx.notify.sent))
	}
	if fx.counter.increments != 1 {
		t.Errorf("day counter incremented %d times, want 1", fx.counter.increments)
	}
	if got := fx.store.Get().Stats.ActionsToday; got != 1 {
		t.Errorf("Stats.ActionsToday = %d, want 1", got)
	}

	actionEvents := fx.sink.ofKind(events.TypeAction)
	if len(actionEvents) != 1 {
		t.Fatalf("emitted %d action events, want 1", len(actionEvents))
	}
	if got := actionEvents[0].Action.Action; got != "AUTO_SUPPORT" {
		t.Errorf("action event label = %s, want AUTO_SUPPORT", got)
	}
	if actionEvents[0].Action.DryRun {
		t.Error("action event dryRun = true, want false")
	}
	if len(fx.sink.ofKind(events.TypeCycleStatus)) != 1 {
		t.Error("cycle status event not emitted")
	}

	stats := fx.store.Get().Stats
	if stats.LastRun == nil || stats.NextRun == nil {
		t.Error("run stats not recorded")
	}
}

func TestSentinelSkipsBelowThreshold(t *testing.T) {
	t.Parallel()

	fx := newSentinelFixture(t, testSentinelConfig())
	fx.source.batch = []domain.UserRiskSnapshot{
		{UserID: "user-1", ChurnProbability: 0.84},
	}

	result, err := fx.sentinel.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if result.Actions != 0 || result.Skips != 1 {
		t.Errorf("actions=%d skips=%d, want 0 and 1", result.Actions, result.Skips)
	}
	if len(fx.ledger.created) != 0 {
		t.Errorf("persisted %d interventions, want 0", len(fx.ledger.created))
	}
}

func TestSentinelCooldownBlocksRepeatContact(t *testing.T) {
	t.Parallel()

	fx := newSentinelFixture(t, testSentinelConfig())
	fx.source.batch = []domain.UserRiskSnapshot{
		{UserID: "user-1", ChurnProbability: 0.96},
	}
	fx.ledger.listByUserFn = func(ctx context.Context, userID string, since time.Time, source *domain.Source) ([]domain.Intervention, error) {
		if source == nil {
			// Ten hours old, well inside the 24h cooldown.
			return []domain.Intervention{{ID: "prev", UserID: userID, CreatedAt: time.Now().UTC().Add(-10 * time.Hour)}}, nil
		}
		return nil, nil
	}

	result, err := fx.sentinel.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if result.Actions != 0 || result.Skips != 1 {
		t.Errorf("actions=%d skips=%d, want 0 and 1", result.Actions, result.Skips)
	}
	if len(fx.ledger.created) != 0 {
		t.Error("intervention persisted despite cooldown")
	}
}

func TestSentinelDefersToRecentHumanContact(t *testing.T) {
	t.Parallel()

	fx := newSentinelFixture(t, testSentinelConfig())
	fx.source.batch = []domain.UserRiskSnapshot{
		{UserID: "user-1", ChurnProbability: 0.96},
	}
	fx.ledger.listByUserFn = func(ctx context.Context, userID string, since time.Time, source *domain.Source) ([]domain.Intervention, error) {
		// A manual touch 30h back: outside the 24h cooldown, inside the
		// 48h human priority window.
		if source != nil && *source == domain.SourceManual {
			return []domain.Intervention{{ID: "manual", UserID: userID, Source: domain.SourceManual,
				CreatedAt: time.Now().UTC().Add(-30 * time.Hour)}}, nil
		}
		return nil, nil
	}

	result, err := fx.sentinel.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if result.Actions != 0 || result.Skips != 1 {
		t.Errorf("actions=%d skips=%d, want 0 and 1", result.Actions, result.Skips)
	}
}

func TestSentinelRespectsActionBudget(t *testing.T) {
	t.Parallel()

	cfg := testSentinelConfig()
	cfg.MaxActionsPerRun = 2
	fx := newSentinelFixture(t, cfg)
	fx.source.batch = []domain.UserRiskSnapshot{
		{UserID: "user-1", ChurnProbability: 0.97},
		{UserID: "user-2", ChurnProbability: 0.96},
		{UserID: "user-3", ChurnProbability: 0.95},
		{UserID: "user-4", ChurnProbability: 0.94},
	}

	result, err := fx.sentinel.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if result.Actions != 2 {
		t.Errorf("result.Actions = %d, want 2", result.Actions)
	}
	if result.Skips != 2 {
		t.Errorf("result.Skips = %d, want 2", result.Skips)
	}
	if len(fx.ledger.created) != 2 {
		t.Errorf("persisted %d interventions, want 2", len(fx.ledger.created))
	}
}

func TestSentinelPrefersHighestRiskUnderBudget(t *testing.T) {
	t.Parallel()

	cfg := testSentinelConfig()
	cfg.MaxActionsPerRun = 1
	fx := newSentinelFixture(t, cfg)
	// Deliberately not sorted: the riskiest user arrives last.
	fx.source.batch = []domain.UserRiskSnapshot{
		{UserID: "user-low", ChurnProbability: 0.91},
		{UserID: "user-mid", ChurnProbability: 0.94},
		{UserID: "user-high", ChurnProbability: 0.99},
	}

	if _, err := fx.sentinel.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if len(fx.ledger.created) != 1 {
		t.Fatalf("persisted %d interventions, want 1", len(fx.ledger.created))
	}
	if got := fx.ledger.created[0].UserID; got != "user-high" {
		t.Errorf("budget went to %s, want user-high", got)
	}
}

func TestSentinelDryRunWritesNothing(t *testing.T) {
	t.Parallel()

	cfg := testSentinelConfig()
	cfg.DryRun = true
	fx := newSentinelFixture(t, cfg)
	fx.source.batch = []domain.UserRiskSnapshot{
		{UserID: "user-1", ChurnProbability: 0.96},
	}

	result, err := fx.sentinel.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	if result.Actions != 1 {
		t.Errorf("result.Actions = %d, want 1", result.Actions)
	}
	if !result.DryRun {
		t.Error("result.DryRun = false, want true")
	}
	if len(fx.ledger.created) != 0 {
		t.Errorf("persisted %d interventions in dry run, want 0", len(fx.ledger.created))
	}
	if len(fx.notify.sent) != 0 {
		t.Errorf("delivered %d notifications in dry run, want 0", len(fx.notify.sent))
	}
	if fx.counter.increments != 0 {
		t.Errorf("day counter incremented %d times in dry run, want 0", fx.counter.increments)
	}
	if got := fx.store.Get().Stats.ActionsToday; got != 0 {
		t.Errorf("Stats.ActionsToday = %d in dry run, want 0", got)
	}

	actionEvents := fx.sink.ofKind(events.TypeAction)
	if len(actionEvents) != 1 || !actionEvents[0].Action.DryRun {
		t.Error("dry run action event missing or not flagged")
	}
}

func TestSentinelFetchFailureAbortsCycle(t *testing.T) {
	t.Parallel()

	fx := newSentinelFixture(t, testSentinelConfig())
	fx.source.batchErr = errors.New("scoring service down")

	_, err := fx.sentinel.RunCycle(context.Background())
	if err == nil {
		t.Fatal("RunCycle() error = nil, want fetch failure")
	}
	if got := fx.store.Get().Stats.LastRun; got != nil {
		t.Error("run stats recorded for an aborted cycle")
	}
	if len(fx.sink.events) != 0 {
		t.Errorf("emitted %d events for an aborted cycle, want 0", len(fx.sink.events))
	}
}

func TestSentinelPersistFailureIsIsolated(t *testing.T) {
	t.Parallel()

	fx := newSentinelFixture(t, testSentinelConfig())
	fx.source.batch = []domain.UserRiskSnapshot{
		{UserID: "user-bad", ChurnProbability: 0.97},
		{UserID: "user-ok", ChurnProbability: 0.96},
	}
	fx.ledger.createFn = func(ctx context.Context, i *domain.Intervention) error {
		if i.UserID == "user-bad" {
			return errors.New("insert failed")
		}
		return nil
	}

	result, err := fx.sentinel.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if result.Actions != 1 {
		t.Errorf("result.Actions = %d, want 1", result.Actions)
	}
	if result.PersistFailures != 1 {
		t.Errorf("result.PersistFailures = %d, want 1", result.PersistFailures)
	}
	if len(fx.ledger.created) != 1 || fx.ledger.created[0].UserID != "user-ok" {
		t.Error("surviving intervention not persisted for user-ok")
	}

	cycleEvents := fx.sink.ofKind(events.TypeCycleStatus)
	if len(cycleEvents) != 1 || cycleEvents[0].Cycle.PersistFailures != 1 {
		t.Error("cycle event does not carry the persist failure count")
	}
}

func TestSentinelNotifyFailureDoesNotUndoAction(t *testing.T) {
	t.Parallel()

	fx := newSentinelFixture(t, testSentinelConfig())
	fx.source.batch = []domain.UserRiskSnapshot{
		{UserID: "user-1", ChurnProbability: 0.96},
	}
	fx.notify.sendErr = errors.New("webhook 503")

	result, err := fx.sentinel.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if result.Actions != 1 {
		t.Errorf("result.Actions = %d, want 1", result.Actions)
	}
	if result.NotifyFailures != 1 {
		t.Errorf("result.NotifyFailures = %d, want 1", result.NotifyFailures)
	}
	if len(fx.ledger.created) != 1 {
		t.Error("intervention row missing after notify failure")
	}
}

func TestSentinelRejectsConcurrentCycle(t *testing.T) {
	t.Parallel()

	fx := newSentinelFixture(t, testSentinelConfig())

	fx.sentinel.running.Lock()
	defer fx.sentinel.running.Unlock()

	_, err := fx.sentinel.RunCycle(context.Background())
	if !errors.Is(err, ErrCycleInFlight) {
		t.Fatalf("RunCycle() error = %v, want ErrCycleInFlight", err)
	}
}

// --- fakes shared across the service tests ---

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return string(rune('a'+n-1)) + "-id"
	}
}

type fakeLedger struct {
	mu      sync.Mutex
	created []domain.Intervention

	createFn          func(ctx context.Context, i *domain.Intervention) error
	listByUserFn      func(ctx context.Context, userID string, since time.Time, source *domain.Source) ([]domain.Intervention, error)
	listPendingFn     func(ctx context.Context, start, end time.Time, limit int) ([]domain.Intervention, error)
	finalizeOutcomeFn func(ctx context.Context, id string, outcome domain.Outcome, riskDelta, currentRisk float64, attributedAt time.Time) error
	finalized         []finalizedOutcome
}

type finalizedOutcome struct {
	id           string
	outcome      domain.Outcome
	riskDelta    float64
	currentRisk  float64
	attributedAt time.Time
}

func (f *fakeLedger) Create(ctx context.Context, i *domain.Intervention) error {
	if f.createFn != nil {
		if err := f.createFn(ctx, i); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, *i)
	return nil
}

func (f *fakeLedger) GetByID(ctx context.Context, id string) (*domain.Intervention, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.created {
		if f.created[i].ID == id {
			record := f.created[i]
			return &record, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeLedger) ListByUser(ctx context.Context, userID string, since time.Time, source *domain.Source) ([]domain.Intervention, error) {
	if f.listByUserFn != nil {
		return f.listByUserFn(ctx, userID, since, source)
	}
	return nil, nil
}

func (f *fakeLedger) ListPendingInWindow(ctx context.Context, start, end time.Time, limit int) ([]domain.Intervention, error) {
	if f.listPendingFn != nil {
		return f.listPendingFn(ctx, start, end, limit)
	}
	return nil, nil
}

func (f *fakeLedger) FinalizeOutcome(ctx context.Context, id string, outcome domain.Outcome, riskDelta, currentRisk float64, attributedAt time.Time) error {
	if f.finalizeOutcomeFn != nil {
		if err := f.finalizeOutcomeFn(ctx, id, outcome, riskDelta, currentRisk, attributedAt); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized = append(f.finalized, finalizedOutcome{
		id: id, outcome: outcome, riskDelta: riskDelta, currentRisk: currentRisk, attributedAt: attributedAt,
	})
	return nil
}

func (f *fakeLedger) List(ctx context.Context, params repository.ListParams) ([]domain.Intervention, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Intervention, len(f.created))
	copy(out, f.created)
	return out, int64(len(out)), nil
}

type fakeRiskSource struct {
	mu         sync.Mutex
	batch      []domain.UserRiskSnapshot
	batchErr   error
	batchCalls int

	userFn func(ctx context.Context, userID string) (*domain.UserRiskSnapshot, error)
}

func (f *fakeRiskSource) FetchBatch(ctx context.Context, limit int) ([]domain.UserRiskSnapshot, error) {
	f.mu.Lock()
	f.batchCalls++
	f.mu.Unlock()
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	if len(f.batch) > limit {
		return f.batch[:limit], nil
	}
	return f.batch, nil
}

func (f *fakeRiskSource) FetchUser(ctx context.Context, userID string) (*domain.UserRiskSnapshot, error) {
	if f.userFn != nil {
		return f.userFn(ctx, userID)
	}
	return nil, domain.ErrNotFound
}

type fakeNotifier struct {
	mu      sync.Mutex
	sent    []domain.Intervention
	sendErr error
}

func (f *fakeNotifier) Send(ctx context.Context, i domain.Intervention) (*notifier.Delivery, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, i)
	return &notifier.Delivery{StatusCode: 200}, nil
}

type fakeCounter struct {
	mu         sync.Mutex
	increments int
}

func (f *fakeCounter) Increment(ctx context.Context, day string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.increments++
	return int64(f.increments), nil
}

func (f *fakeCounter) Get(ctx context.Context, day string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(f.increments), nil
}

type fakeSink struct {
	mu      sync.Mutex
	events  []events.Event
	emitErr error
}

func (f *fakeSink) Emit(ctx context.Context, event events.Event) error {
	if f.emitErr != nil {
		return f.emitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeSink) Close() error { return nil }

func (f *fakeSink) ofKind(kind events.Type) []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []events.Event
	for _, e := range f.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
