package domain

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-day format used for the daily action counter reset.
const DateLayout = "2006-01-02"

// Thresholds maps each tier to the minimum churn risk that triggers it.
// Valid thresholds are strictly increasing in (0, 1].
type Thresholds struct {
	Nudge   float64 `json:"nudge"`
	Support float64 `json:"support"`
	Offer   float64 `json:"offer"`
}

func (t Thresholds) Validate() error {
	if t.Nudge <= 0 || t.Offer > 1 {
		return fmt.Errorf("%w: thresholds must lie in (0, 1]", ErrValidation)
	}
	if !(t.Nudge < t.Support && t.Support < t.Offer) {
		return fmt.Errorf("%w: thresholds must satisfy nudge < support < offer (got %.3f, %.3f, %.3f)",
			ErrValidation, t.Nudge, t.Support, t.Offer)
	}
	return nil
}

// Classify returns the highest tier whose threshold the risk meets.
// The second return is false when the risk is below every threshold.
func (t Thresholds) Classify(risk float64) (ActionType, bool) {
	switch {
	case risk >= t.Offer:
		return ActionOffer, true
	case risk >= t.Support:
		return ActionSupport, true
	case risk >= t.Nudge:
		return ActionNudge, true
	}
	return "", false
}

// SentinelStats is the run bookkeeping carried inside the sentinel config.
type SentinelStats struct {
	LastRun       *time.Time `json:"lastRun"`
	NextRun       *time.Time `json:"nextRun"`
	ActionsToday  int        `json:"actionsToday"`
	LastResetDate string     `json:"lastResetDate"`
}

// SentinelConfig is the mutable runtime configuration of the intervention
// engine. It lives for the process lifetime and is edited only through the
// config store's update calls.
type SentinelConfig struct {
	Enabled            bool          `json:"enabled"`
	DryRun             bool          `json:"dryRun"`
	Thresholds         Thresholds    `json:"thresholds"`
	IntervalMinutes    int           `json:"intervalMinutes"`
	ChunkSize          int           `json:"chunkSize"`
	MaxActionsPerRun   int           `json:"maxActionsPerRun"`
	CooldownHours      int           `json:"cooldownHours"`
	HumanPriorityHours int           `json:"humanPriorityHours"`
	Stats              SentinelStats `json:"stats"`
}

func (c SentinelConfig) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if c.IntervalMinutes <= 0 {
		return fmt.Errorf("%w: interval minutes must be positive (got %d)", ErrValidation, c.IntervalMinutes)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive (got %d)", ErrValidation, c.ChunkSize)
	}
	if c.MaxActionsPerRun < 0 {
		return fmt.Errorf("%w: max actions per run must not be negative (got %d)", ErrValidation, c.MaxActionsPerRun)
	}
	if c.CooldownHours < 0 {
		return fmt.Errorf("%w: cooldown hours must not be negative (got %d)", ErrValidation, c.CooldownHours)
	}
	if c.HumanPriorityHours < 0 {
		return fmt.Errorf("%w: human priority hours must not be negative (got %d)", ErrValidation, c.HumanPriorityHours)
	}
	return nil
}

// Interval returns the sentinel scheduling period as a duration.
func (c SentinelConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// Cooldown returns the per-user contact cooldown as a duration.
func (c SentinelConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownHours) * time.Hour
}

// HumanPriority returns the human-deference window as a duration.
func (c SentinelConfig) HumanPriority() time.Duration {
	return time.Duration(c.HumanPriorityHours) * time.Hour
}
