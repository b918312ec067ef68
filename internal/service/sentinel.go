package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/churnguard/intervention-engine/internal/domain"
	"github.com/churnguard/intervention-engine/internal/events"
	"github.com/churnguard/intervention-engine/internal/notifier"
	"github.com/churnguard/intervention-engine/internal/observability"
	"github.com/churnguard/intervention-engine/internal/ratelimit"
	"github.com/churnguard/intervention-engine/internal/repository"
	"github.com/churnguard/intervention-engine/internal/risk"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	loopSentinel = "sentinel"

	// notifyLimitKey is the rate limit bucket for outbound deliveries.
	notifyLimitKey = "notify"
)

// ErrCycleInFlight is returned when a cycle is requested while the previous
// one is still running. The tick (or manual trigger) is skipped, not queued.
var ErrCycleInFlight = errors.New("cycle already in flight")

// CycleResult summarizes one sentinel cycle.
type CycleResult struct {
	Enabled         bool
	DryRun          bool
	Actions         int
	Skips           int
	PersistFailures int
	NotifyFailures  int
}

// Sentinel is the periodic decision engine: it scans the at-risk population,
// applies the safety gates, and executes or simulates interventions. All
// gating state is re-derived from the ledger each cycle, so the loop is
// stateless and restart-safe.
type Sentinel struct {
	ledger     repository.InterventionRepository
	riskSource risk.Source
	notify     notifier.Notifier
	limiter    ratelimit.RateLimiter
	dayCounter ratelimit.DailyCounter
	cfgStore   *ConfigStore
	sink       events.Sink
	logger     *zap.Logger
	metrics    *observability.Metrics

	running sync.Mutex
	now     func() time.Time
	newID   func() string
}

func NewSentinel(
	ledger repository.InterventionRepository,
	riskSource risk.Source,
	notify notifier.Notifier,
	limiter ratelimit.RateLimiter,
	dayCounter ratelimit.DailyCounter,
	cfgStore *ConfigStore,
	sink events.Sink,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*Sentinel, error) {
	if ledger == nil {
		return nil, fmt.Errorf("intervention repository is required")
	}
	if riskSource == nil {
		return nil, fmt.Errorf("risk source is required")
	}
	if cfgStore == nil {
		return nil, fmt.Errorf("config store is required")
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sentinel{
		ledger:     ledger,
		riskSource: riskSource,
		notify:     notify,
		limiter:    limiter,
		dayCounter: dayCounter,
		cfgStore:   cfgStore,
		sink:       sink,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
		newID:      uuid.NewString,
	}, nil
}

// Start runs scheduled cycles until context cancellation. The interval is
// re-read from configuration before every wait, so updates take effect on
// the next tick.
func (s *Sentinel) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		timer := time.NewTimer(s.cfgStore.Get().Interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			if _, err := s.RunCycle(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if !errors.Is(err, ErrCycleInFlight) {
					s.logger.Error("sentinel cycle failed", zap.Error(err))
				}
			}
		}
	}
}

// RunCycle executes one full decision cycle. Manual triggers call it
// directly; a trigger racing a scheduled tick gets ErrCycleInFlight instead
// of a second concurrent cycle.
func (s *Sentinel) RunCycle(ctx context.Context) (CycleResult, error) {
	if !s.running.TryLock() {
		return CycleResult{}, ErrCycleInFlight
	}
	defer s.running.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx = observability.WithCycleID(ctx, s.newID())
	log := observability.WithContextLogger(s.logger, ctx)

	start := s.now()
	defer func() {
		s.metrics.ObserveCycleDuration(loopSentinel, s.now().Sub(start))
	}()

	cfg := s.cfgStore.Get()
	result := CycleResult{Enabled: cfg.Enabled, DryRun: cfg.DryRun}

	if !cfg.Enabled {
		log.Debug("sentinel disabled, skipping cycle")
		return result, nil
	}

	batch, err := s.riskSource.FetchBatch(ctx, cfg.ChunkSize)
	if err != nil {
		s.metrics.IncFailure(observability.FailureRiskFetch)
		return result, fmt.Errorf("failed to fetch risk batch: %w", err)
	}

	// The riskiest users win the limited action budget, regardless of the
	// order the scoring service returned them in.
	candidates := make([]domain.UserRiskSnapshot, len(batch))
	copy(candidates, batch)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].ChurnProbability > candidates[j].ChurnProbability
	})

	for i := range candidates {
		if result.Actions >= cfg.MaxActionsPerRun {
			remaining := len(candidates) - i
			result.Skips += remaining
			for n := 0; n < remaining; n++ {
				s.metrics.IncSkip(observability.SkipRateLimit)
			}
			log.Info("action budget exhausted",
				zap.Int("budget", cfg.MaxActionsPerRun),
				zap.Int("remainingCandidates", remaining),
			)
			break
		}

		s.evaluateCandidate(ctx, log, cfg, candidates[i], &result)
	}

	finished := s.now().UTC()
	nextRun := finished.Add(cfg.Interval())
	s.cfgStore.RecordStats(StatsUpdate{LastRun: &finished, NextRun: &nextRun})

	event := events.Event{
		Kind:      events.TypeCycleStatus,
		Timestamp: finished,
		Cycle: &events.CyclePayload{
			LastRun:          finished,
			ActionsThisCycle: result.Actions,
			Skips:            result.Skips,
			PersistFailures:  result.PersistFailures,
			NotifyFailures:   result.NotifyFailures,
			DryRun:           cfg.DryRun,
		},
	}
	if err := s.sink.Emit(ctx, event); err != nil {
		s.metrics.IncFailure(observability.FailureEmit)
		log.Warn("failed to emit cycle status event", zap.Error(err))
	}

	log.Info("sentinel cycle finished",
		zap.Int("candidates", len(candidates)),
		zap.Int("actions", result.Actions),
		zap.Int("skips", result.Skips),
		zap.Int("persistFailures", result.PersistFailures),
		zap.Int("notifyFailures", result.NotifyFailures),
		zap.Bool("dryRun", cfg.DryRun),
	)

	return result, nil
}

func (s *Sentinel) evaluateCandidate(
	ctx context.Context,
	log *zap.Logger,
	cfg domain.SentinelConfig,
	candidate domain.UserRiskSnapshot,
	result *CycleResult,
) {
	tier, hit := cfg.Thresholds.Classify(candidate.ChurnProbability)
	if !hit {
		result.Skips++
		s.metrics.IncSkip(observability.SkipBelowThreshold)
		return
	}

	now := s.now().UTC()

	// Cooldown: any prior contact, regardless of who triggered it, blocks
	// repeated automated contact.
	if cfg.CooldownHours > 0 {
		recent, err := s.ledger.ListByUser(ctx, candidate.UserID, now.Add(-cfg.Cooldown()), nil)
		if err != nil {
			result.PersistFailures++
			s.metrics.IncFailure(observability.FailurePersist)
			log.Error("cooldown lookup failed",
				zap.String("userId", candidate.UserID),
				zap.Error(err),
			)
			return
		}
		if len(recent) > 0 {
			result.Skips++
			s.metrics.IncSkip(observability.SkipCooldown)
			return
		}
	}

	// Human priority: automation stands down when a person already engaged.
	if cfg.HumanPriorityHours > 0 {
		manual := domain.SourceManual
		recent, err := s.ledger.ListByUser(ctx, candidate.UserID, now.Add(-cfg.HumanPriority()), &manual)
		if err != nil {
			result.PersistFailures++
			s.metrics.IncFailure(observability.FailurePersist)
			log.Error("human priority lookup failed",
				zap.String("userId", candidate.UserID),
				zap.Error(err),
			)
			return
		}
		if len(recent) > 0 {
			result.Skips++
			s.metrics.IncSkip(observability.SkipHumanPriority)
			return
		}
	}

	if cfg.DryRun {
		log.Info("simulated intervention",
			zap.String("userId", candidate.UserID),
			zap.String("action", tier.AutoLabel()),
			zap.Int("riskPercent", candidate.RiskPercent()),
		)
		s.metrics.IncAction(tier.String(), true)
		s.emitAction(ctx, log, candidate, tier, true)
		result.Actions++
		return
	}

	riskSnapshot := candidate.ChurnProbability
	record := domain.Intervention{
		ID:                 s.newID(),
		UserID:             candidate.UserID,
		ActionType:         tier,
		Source:             domain.SourceSentinel,
		Status:             domain.StatusCompleted,
		Outcome:            domain.OutcomePending,
		RiskAtIntervention: &riskSnapshot,
		CompletedAt:        &now,
		CreatedAt:          now,
	}

	if err := s.ledger.Create(ctx, &record); err != nil {
		result.PersistFailures++
		s.metrics.IncFailure(observability.FailurePersist)
		log.Error("failed to persist intervention",
			zap.String("userId", candidate.UserID),
			zap.String("action", tier.String()),
			zap.Error(err),
		)
		return
	}

	s.deliver(ctx, log, record, result)

	s.cfgStore.IncrementActionsToday()
	if s.dayCounter != nil {
		if _, err := s.dayCounter.Increment(ctx, now.Format(domain.DateLayout)); err != nil {
			log.Warn("failed to increment shared day counter", zap.Error(err))
		}
	}

	s.metrics.IncAction(tier.String(), false)
	s.emitAction(ctx, log, candidate, tier, false)
	result.Actions++

	log.Info("intervention executed",
		zap.String("userId", candidate.UserID),
		zap.String("action", tier.AutoLabel()),
		zap.Int("riskPercent", candidate.RiskPercent()),
		zap.String("interventionId", record.ID),
	)
}

func (s *Sentinel) deliver(ctx context.Context, log *zap.Logger, record domain.Intervention, result *CycleResult) {
	if s.notify == nil {
		return
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, notifyLimitKey); err != nil {
			result.NotifyFailures++
			s.metrics.IncFailure(observability.FailureNotify)
			log.Warn("rate limit wait failed, delivery skipped",
				zap.String("interventionId", record.ID),
				zap.Error(err),
			)
			return
		}
	}

	sendStart := s.now()
	_, err := s.notify.Send(ctx, record)
	s.metrics.ObserveNotifySendDuration(s.now().Sub(sendStart))
	if err != nil {
		result.NotifyFailures++
		s.metrics.IncFailure(observability.FailureNotify)
		log.Warn("failed to deliver intervention notification",
			zap.String("interventionId", record.ID),
			zap.Bool("transient", notifier.IsTransient(err)),
			zap.Error(err),
		)
	}
}

func (s *Sentinel) emitAction(
	ctx context.Context,
	log *zap.Logger,
	candidate domain.UserRiskSnapshot,
	tier domain.ActionType,
	dryRun bool,
) {
	event := events.Event{
		Kind:      events.TypeAction,
		Timestamp: s.now().UTC(),
		Action: &events.ActionPayload{
			UserID:      candidate.UserID,
			Action:      tier.AutoLabel(),
			RiskPercent: candidate.RiskPercent(),
			DryRun:      dryRun,
		},
	}
	if err := s.sink.Emit(ctx, event); err != nil {
		s.metrics.IncFailure(observability.FailureEmit)
		log.Warn("failed to emit action event", zap.Error(err))
	}
}
