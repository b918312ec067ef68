package service

import (
	"context"
	"sync"
	"time"

	"github.com/churnguard/intervention-engine/internal/domain"
	"github.com/churnguard/intervention-engine/internal/events"
	"go.uber.org/zap"
)

// ConfigUpdate is a partial configuration edit. Nil fields are left
// untouched; threshold updates merge per key. These are the only
// externally editable fields.
type ConfigUpdate struct {
	Enabled         *bool
	DryRun          *bool
	IntervalMinutes *int
	Thresholds      *ThresholdsUpdate
}

type ThresholdsUpdate struct {
	Nudge   *float64
	Support *float64
	Offer   *float64
}

// StatsUpdate is a partial edit of the run bookkeeping.
type StatsUpdate struct {
	LastRun *time.Time
	NextRun *time.Time
}

// ConfigStore owns the engine's mutable runtime configuration. All access
// goes through it; the loops and the HTTP surface share one instance.
type ConfigStore struct {
	mu     sync.Mutex
	cfg    domain.SentinelConfig
	sink   events.Sink
	logger *zap.Logger
	now    func() time.Time
}

func NewConfigStore(initial domain.SentinelConfig, sink events.Sink, logger *zap.Logger) (*ConfigStore, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	store := &ConfigStore{
		cfg:    initial,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
	store.cfg.Stats.LastResetDate = store.now().UTC().Format(domain.DateLayout)

	return store, nil
}

// Get returns a snapshot of the current configuration. Reading on a new
// calendar day resets the daily action counter as a side effect.
func (s *ConfigStore) Get() domain.SentinelConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rollOverDayLocked()
	return s.cfg
}

// Update merges a partial edit, validates the merged result, and commits it
// atomically. A change that would corrupt gating (broken threshold ordering,
// non-positive interval) is rejected with ErrValidation and nothing changes.
func (s *ConfigStore) Update(ctx context.Context, update ConfigUpdate) (domain.SentinelConfig, error) {
	s.mu.Lock()

	merged := s.cfg
	if update.Enabled != nil {
		merged.Enabled = *update.Enabled
	}
	if update.DryRun != nil {
		merged.DryRun = *update.DryRun
	}
	if update.IntervalMinutes != nil {
		merged.IntervalMinutes = *update.IntervalMinutes
	}
	if update.Thresholds != nil {
		if update.Thresholds.Nudge != nil {
			merged.Thresholds.Nudge = *update.Thresholds.Nudge
		}
		if update.Thresholds.Support != nil {
			merged.Thresholds.Support = *update.Thresholds.Support
		}
		if update.Thresholds.Offer != nil {
			merged.Thresholds.Offer = *update.Thresholds.Offer
		}
	}

	if err := merged.Validate(); err != nil {
		s.mu.Unlock()
		return domain.SentinelConfig{}, err
	}

	s.cfg = merged
	snapshot := s.cfg
	s.mu.Unlock()

	event := events.Event{
		Kind:      events.TypeConfigChanged,
		Timestamp: s.now().UTC(),
		Config:    &snapshot,
	}
	if err := s.sink.Emit(ctx, event); err != nil {
		s.logger.Warn("failed to emit config changed event", zap.Error(err))
	}

	return snapshot, nil
}

// RecordStats merges run bookkeeping without touching configuration fields.
func (s *ConfigStore) RecordStats(update StatsUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if update.LastRun != nil {
		s.cfg.Stats.LastRun = update.LastRun
	}
	if update.NextRun != nil {
		s.cfg.Stats.NextRun = update.NextRun
	}
}

// IncrementActionsToday bumps the daily counter and returns the new value.
func (s *ConfigStore) IncrementActionsToday() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rollOverDayLocked()
	s.cfg.Stats.ActionsToday++
	return s.cfg.Stats.ActionsToday
}

func (s *ConfigStore) rollOverDayLocked() {
	today := s.now().UTC().Format(domain.DateLayout)
	if s.cfg.Stats.LastResetDate != today {
		s.cfg.Stats.ActionsToday = 0
		s.cfg.Stats.LastResetDate = today
	}
}
