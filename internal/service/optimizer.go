package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/churnguard/intervention-engine/internal/domain"
	"github.com/churnguard/intervention-engine/internal/events"
	"github.com/churnguard/intervention-engine/internal/observability"
	"github.com/churnguard/intervention-engine/internal/repository"
	"github.com/churnguard/intervention-engine/internal/risk"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	loopOptimizer = "optimizer"

	// Attribution waits two full days after an intervention so the risk
	// score has time to react, and gives up on rows older than three days.
	attributionWindowStart = 72 * time.Hour
	attributionWindowEnd   = 48 * time.Hour

	// successDeltaThreshold is the minimum risk drop that counts as a win.
	successDeltaThreshold = -0.20

	// defaultRiskAtIntervention backfills rows recorded before the risk
	// snapshot column existed.
	defaultRiskAtIntervention = 0.5

	defaultOptimizerBatchSize = 200
)

// AttributionResult summarizes one optimizer cycle.
type AttributionResult struct {
	Processed int
	Successes int
	Failures  int
	Pending   int
	Skipped   int
}

// Optimizer closes the loop on past interventions: once the attribution
// window has elapsed it compares the user's current risk against the risk at
// intervention time and finalizes the outcome. Rows it cannot judge yet stay
// pending and are retried on later cycles while they remain in the window.
type Optimizer struct {
	ledger     repository.InterventionRepository
	riskSource risk.Source
	sink       events.Sink
	logger     *zap.Logger
	metrics    *observability.Metrics

	interval  time.Duration
	batchSize int

	running sync.Mutex
	now     func() time.Time
	newID   func() string
}

func NewOptimizer(
	ledger repository.InterventionRepository,
	riskSource risk.Source,
	sink events.Sink,
	logger *zap.Logger,
	metrics *observability.Metrics,
	interval time.Duration,
	batchSize int,
) (*Optimizer, error) {
	if ledger == nil {
		return nil, fmt.Errorf("intervention repository is required")
	}
	if riskSource == nil {
		return nil, fmt.Errorf("risk source is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("optimizer interval must be positive, got %s", interval)
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = defaultOptimizerBatchSize
	}

	return &Optimizer{
		ledger:     ledger,
		riskSource: riskSource,
		sink:       sink,
		logger:     logger,
		metrics:    metrics,
		interval:   interval,
		batchSize:  batchSize,
		now:        time.Now,
		newID:      uuid.NewString,
	}, nil
}

// Start runs attribution cycles on a fixed interval until context
// cancellation.
func (o *Optimizer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := o.RunCycle(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if !errors.Is(err, ErrCycleInFlight) {
					o.logger.Error("optimizer cycle failed", zap.Error(err))
				}
			}
		}
	}
}

// RunCycle executes one attribution pass over the eligible pending rows.
func (o *Optimizer) RunCycle(ctx context.Context) (AttributionResult, error) {
	if !o.running.TryLock() {
		return AttributionResult{}, ErrCycleInFlight
	}
	defer o.running.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx = observability.WithCycleID(ctx, o.newID())
	log := observability.WithContextLogger(o.logger, ctx)

	start := o.now()
	defer func() {
		o.metrics.ObserveCycleDuration(loopOptimizer, o.now().Sub(start))
	}()

	now := o.now().UTC()
	windowStart := now.Add(-attributionWindowStart)
	windowEnd := now.Add(-attributionWindowEnd)

	pending, err := o.ledger.ListPendingInWindow(ctx, windowStart, windowEnd, o.batchSize)
	if err != nil {
		o.metrics.IncFailure(observability.FailureAttribute)
		return AttributionResult{}, fmt.Errorf("failed to list pending interventions: %w", err)
	}

	var result AttributionResult
	for i := range pending {
		o.attribute(ctx, log, &pending[i], &result)
	}

	event := events.Event{
		Kind:      events.TypeAttributionSummary,
		Timestamp: o.now().UTC(),
		Attribution: &events.AttributionPayload{
			Processed: result.Processed,
			Successes: result.Successes,
			Failures:  result.Failures,
		},
	}
	if err := o.sink.Emit(ctx, event); err != nil {
		o.metrics.IncFailure(observability.FailureEmit)
		log.Warn("failed to emit attribution summary event", zap.Error(err))
	}

	log.Info("optimizer cycle finished",
		zap.Int("candidates", len(pending)),
		zap.Int("successes", result.Successes),
		zap.Int("failures", result.Failures),
		zap.Int("stillPending", result.Pending),
		zap.Int("skipped", result.Skipped),
	)

	return result, nil
}

func (o *Optimizer) attribute(
	ctx context.Context,
	log *zap.Logger,
	record *domain.Intervention,
	result *AttributionResult,
) {
	result.Processed++

	snapshot, err := o.riskSource.FetchUser(ctx, record.UserID)
	if err != nil {
		// A user the scoring service no longer knows cannot be judged;
		// the row ages out of the window on its own.
		if errors.Is(err, domain.ErrNotFound) {
			result.Skipped++
			log.Debug("user absent from risk source, attribution skipped",
				zap.String("interventionId", record.ID),
				zap.String("userId", record.UserID),
			)
			return
		}
		result.Skipped++
		o.metrics.IncFailure(observability.FailureRiskFetch)
		log.Warn("risk lookup failed, attribution deferred",
			zap.String("interventionId", record.ID),
			zap.String("userId", record.UserID),
			zap.Error(err),
		)
		return
	}

	baseline := defaultRiskAtIntervention
	if record.RiskAtIntervention != nil {
		baseline = *record.RiskAtIntervention
	}
	delta := snapshot.ChurnProbability - baseline

	var outcome domain.Outcome
	switch {
	case snapshot.IsChurned:
		// A churned user is a failure no matter what the score did.
		outcome = domain.OutcomeFailure
	case delta <= successDeltaThreshold:
		outcome = domain.OutcomeSuccess
	default:
		result.Pending++
		return
	}

	attributedAt := o.now().UTC()
	err = o.ledger.FinalizeOutcome(ctx, record.ID, outcome, delta, snapshot.ChurnProbability, attributedAt)
	if errors.Is(err, domain.ErrConflict) {
		// Someone else finalized the row between select and update.
		result.Skipped++
		return
	}
	if err != nil {
		result.Skipped++
		o.metrics.IncFailure(observability.FailureAttribute)
		log.Error("failed to finalize intervention outcome",
			zap.String("interventionId", record.ID),
			zap.String("outcome", outcome.String()),
			zap.Error(err),
		)
		return
	}

	switch outcome {
	case domain.OutcomeSuccess:
		result.Successes++
	case domain.OutcomeFailure:
		result.Failures++
	}
	o.metrics.IncAttributionOutcome(outcome.String())

	log.Info("intervention outcome attributed",
		zap.String("interventionId", record.ID),
		zap.String("userId", record.UserID),
		zap.String("outcome", outcome.String()),
		zap.Float64("riskDelta", delta),
		zap.Float64("currentRisk", snapshot.ChurnProbability),
		zap.Bool("churned", snapshot.IsChurned),
	)
}
