package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/churnguard/intervention-engine/internal/domain"
)

// Type names the engine event kinds carried on the events queue.
type Type string

const (
	TypeAction             Type = "intervention.action"
	TypeCycleStatus        Type = "sentinel.cycle"
	TypeAttributionSummary Type = "optimizer.cycle"
	TypeConfigChanged      Type = "config.changed"
)

func (t Type) String() string { return string(t) }

func (t Type) IsValid() bool {
	switch t {
	case TypeAction, TypeCycleStatus, TypeAttributionSummary, TypeConfigChanged:
		return true
	}
	return false
}

// Event is one fire-and-forget broadcast. Exactly one payload field is set,
// matching Kind.
type Event struct {
	Kind        Type                   `json:"kind"`
	Timestamp   time.Time              `json:"timestamp"`
	Action      *ActionPayload         `json:"action,omitempty"`
	Cycle       *CyclePayload          `json:"cycle,omitempty"`
	Attribution *AttributionPayload    `json:"attribution,omitempty"`
	Config      *domain.SentinelConfig `json:"config,omitempty"`
}

// ActionPayload describes one intervention taken or simulated.
type ActionPayload struct {
	UserID      string `json:"userId"`
	Action      string `json:"action"`
	RiskPercent int    `json:"riskPercent"`
	DryRun      bool   `json:"dryRun"`
}

// CyclePayload summarizes one sentinel cycle.
type CyclePayload struct {
	LastRun          time.Time `json:"lastRun"`
	ActionsThisCycle int       `json:"actionsThisCycle"`
	Skips            int       `json:"skips"`
	PersistFailures  int       `json:"persistFailures"`
	NotifyFailures   int       `json:"notifyFailures"`
	DryRun           bool      `json:"dryRun"`
}

// AttributionPayload summarizes one optimizer cycle.
type AttributionPayload struct {
	Processed int `json:"processed"`
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
}

func (e Event) Validate() error {
	if !e.Kind.IsValid() {
		return fmt.Errorf("invalid event kind %q", e.Kind)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event timestamp is required")
	}

	switch e.Kind {
	case TypeAction:
		if e.Action == nil {
			return fmt.Errorf("action payload is required for %s", e.Kind)
		}
		if strings.TrimSpace(e.Action.UserID) == "" {
			return fmt.Errorf("action payload requires a user id")
		}
	case TypeCycleStatus:
		if e.Cycle == nil {
			return fmt.Errorf("cycle payload is required for %s", e.Kind)
		}
	case TypeAttributionSummary:
		if e.Attribution == nil {
			return fmt.Errorf("attribution payload is required for %s", e.Kind)
		}
	case TypeConfigChanged:
		if e.Config == nil {
			return fmt.Errorf("config payload is required for %s", e.Kind)
		}
	}

	return nil
}

// Sink broadcasts engine events, at most once per occurrence, with no
// delivery guarantee. Emit failures are for the caller to log and ignore:
// a lost event must never fail a cycle.
type Sink interface {
	Emit(ctx context.Context, event Event) error
	Close() error
}

// NopSink discards all events. Used in tests and when no broker is wired.
type NopSink struct{}

func (NopSink) Emit(ctx context.Context, event Event) error { return nil }
func (NopSink) Close() error                                { return nil }
