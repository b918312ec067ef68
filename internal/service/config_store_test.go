package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/churnguard/intervention-engine/internal/domain"
	"github.com/churnguard/intervention-engine/internal/events"
)

func testSentinelConfig() domain.SentinelConfig {
	return domain.SentinelConfig{
		Enabled:            true,
		DryRun:             false,
		Thresholds:         domain.Thresholds{Nudge: 0.85, Support: 0.90, Offer: 0.95},
		IntervalMinutes:    15,
		ChunkSize:          50,
		MaxActionsPerRun:   10,
		CooldownHours:      24,
		HumanPriorityHours: 48,
	}
}

func TestNewConfigStoreRejectsInvalidInitial(t *testing.T) {
	t.Parallel()

	cfg := testSentinelConfig()
	cfg.Thresholds.Support = 0.80

	_, err := NewConfigStore(cfg, nil, nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("NewConfigStore() error = %v, want ErrValidation", err)
	}
}

func TestConfigStorePartialUpdate(t *testing.T) {
	t.Parallel()

	store, err := NewConfigStore(testSentinelConfig(), nil, nil)
	if err != nil {
		t.Fatalf("NewConfigStore() error = %v", err)
	}

	enabled := false
	support := 0.92
	got, err := store.Update(context.Background(), ConfigUpdate{
		Enabled:    &enabled,
		Thresholds: &ThresholdsUpdate{Support: &support},
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if got.Enabled {
		t.Error("Enabled = true, want false")
	}
	if got.Thresholds.Support != 0.92 {
		t.Errorf("Thresholds.Support = %v, want 0.92", got.Thresholds.Support)
	}
	if got.Thresholds.Nudge != 0.85 || got.Thresholds.Offer != 0.95 {
		t.Errorf("untouched thresholds changed: nudge=%v offer=%v", got.Thresholds.Nudge, got.Thresholds.Offer)
	}
	if got.IntervalMinutes != 15 {
		t.Errorf("IntervalMinutes = %d, want 15", got.IntervalMinutes)
	}
}

func TestConfigStoreRejectedUpdateLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	store, err := NewConfigStore(testSentinelConfig(), nil, nil)
	if err != nil {
		t.Fatalf("NewConfigStore() error = %v", err)
	}

	interval := -5
	nudge := 0.99
	_, err = store.Update(context.Background(), ConfigUpdate{
		IntervalMinutes: &interval,
		Thresholds:      &ThresholdsUpdate{Nudge: &nudge},
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Update() error = %v, want ErrValidation", err)
	}

	got := store.Get()
	if got.IntervalMinutes != 15 {
		t.Errorf("IntervalMinutes = %d, want 15 after rejected update", got.IntervalMinutes)
	}
	if got.Thresholds.Nudge != 0.85 {
		t.Errorf("Thresholds.Nudge = %v, want 0.85 after rejected update", got.Thresholds.Nudge)
	}
}

func TestConfigStoreUpdateEmitsEvent(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	store, err := NewConfigStore(testSentinelConfig(), sink, nil)
	if err != nil {
		t.Fatalf("NewConfigStore() error = %v", err)
	}

	dryRun := true
	if _, err := store.Update(context.Background(), ConfigUpdate{DryRun: &dryRun}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if len(sink.events) != 1 {
		t.Fatalf("emitted %d events, want 1", len(sink.events))
	}
	event := sink.events[0]
	if event.Kind != events.TypeConfigChanged {
		t.Errorf("event.Kind = %s, want %s", event.Kind, events.TypeConfigChanged)
	}
	if event.Config == nil || !event.Config.DryRun {
		t.Error("event.Config missing the applied change")
	}
}

func TestConfigStoreDayRollover(t *testing.T) {
	t.Parallel()

	store, err := NewConfigStore(testSentinelConfig(), nil, nil)
	if err != nil {
		t.Fatalf("NewConfigStore() error = %v", err)
	}

	day1 := time.Date(2026, 3, 1, 23, 50, 0, 0, time.UTC)
	store.now = func() time.Time { return day1 }
	store.cfg.Stats.LastResetDate = day1.Format(domain.DateLayout)

	if got := store.IncrementActionsToday(); got != 1 {
		t.Fatalf("IncrementActionsToday() = %d, want 1", got)
	}
	if got := store.IncrementActionsToday(); got != 2 {
		t.Fatalf("IncrementActionsToday() = %d, want 2", got)
	}

	// Crossing midnight UTC resets the counter on the next read.
	store.now = func() time.Time { return day1.Add(20 * time.Minute) }

	got := store.Get()
	if got.Stats.ActionsToday != 0 {
		t.Errorf("Stats.ActionsToday = %d, want 0 after rollover", got.Stats.ActionsToday)
	}
	if got.Stats.LastResetDate != "2026-03-02" {
		t.Errorf("Stats.LastResetDate = %s, want 2026-03-02", got.Stats.LastResetDate)
	}
	if n := store.IncrementActionsToday(); n != 1 {
		t.Errorf("IncrementActionsToday() = %d, want 1 on new day", n)
	}
}

func TestConfigStoreRecordStats(t *testing.T) {
	t.Parallel()

	store, err := NewConfigStore(testSentinelConfig(), nil, nil)
	if err != nil {
		t.Fatalf("NewConfigStore() error = %v", err)
	}

	last := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	next := last.Add(15 * time.Minute)
	store.RecordStats(StatsUpdate{LastRun: &last, NextRun: &next})

	got := store.Get()
	if got.Stats.LastRun == nil || !got.Stats.LastRun.Equal(last) {
		t.Errorf("Stats.LastRun = %v, want %v", got.Stats.LastRun, last)
	}
	if got.Stats.NextRun == nil || !got.Stats.NextRun.Equal(next) {
		t.Errorf("Stats.NextRun = %v, want %v", got.Stats.NextRun, next)
	}
}
