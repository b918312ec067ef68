package domain

import (
	"fmt"
	"strings"
	"time"
)

// ActionType is the intervention tier, ordered by severity: nudge < support < offer.
type ActionType string

const (
	ActionNudge   ActionType = "nudge"
	ActionSupport ActionType = "support"
	ActionOffer   ActionType = "offer"
)

func (a ActionType) String() string { return string(a) }

func (a ActionType) IsValid() bool {
	switch a {
	case ActionNudge, ActionSupport, ActionOffer:
		return true
	}
	return false
}

// Severity orders tiers for comparison (nudge=1 < support=2 < offer=3).
func (a ActionType) Severity() int {
	switch a {
	case ActionNudge:
		return 1
	case ActionSupport:
		return 2
	case ActionOffer:
		return 3
	}
	return 0
}

// AutoLabel returns the automation-facing name used in events and logs,
// e.g. AUTO_SUPPORT. The persisted column stays the bare tier name.
func (a ActionType) AutoLabel() string {
	return "AUTO_" + strings.ToUpper(a.String())
}

func ParseActionTypeFromString(s string) (ActionType, error) {
	a := ActionType(strings.ToLower(strings.TrimSpace(s)))
	if !a.IsValid() {
		return "", fmt.Errorf("%w: invalid action type %q", ErrValidation, s)
	}
	return a, nil
}

// Source identifies who initiated an intervention.
type Source string

const (
	SourceManual   Source = "manual"
	SourceSentinel Source = "sentinel"
	SourceAPI      Source = "api"
)

func (s Source) String() string { return string(s) }

func (s Source) IsValid() bool {
	switch s {
	case SourceManual, SourceSentinel, SourceAPI:
		return true
	}
	return false
}

func ParseSourceFromString(s string) (Source, error) {
	src := Source(strings.ToLower(strings.TrimSpace(s)))
	if !src.IsValid() {
		return "", fmt.Errorf("%w: invalid source %q", ErrValidation, s)
	}
	return src, nil
}

// Status is the execution state of an intervention.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Outcome is the attribution verdict. It transitions pending -> success or
// pending -> failure exactly once and never reverses.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

func (o Outcome) String() string { return string(o) }

func (o Outcome) IsValid() bool {
	switch o {
	case OutcomePending, OutcomeSuccess, OutcomeFailure:
		return true
	}
	return false
}

func (o Outcome) IsTerminal() bool {
	return o == OutcomeSuccess || o == OutcomeFailure
}

func ParseOutcomeFromString(s string) (Outcome, error) {
	o := Outcome(strings.ToLower(strings.TrimSpace(s)))
	if !o.IsValid() {
		return "", fmt.Errorf("%w: invalid outcome %q", ErrValidation, s)
	}
	return o, nil
}

// Intervention is one action taken (or simulated) against a user.
// RiskDelta, CurrentRisk and AttributedAt are written together, exactly
// once, when the outcome is finalized; all three stay nil until then.
type Intervention struct {
	ID                 string     `gorm:"type:uuid;primaryKey"`
	UserID             string     `gorm:"type:varchar(64);not null"`
	ActionType         ActionType `gorm:"column:action_type;type:varchar(10);not null"`
	Source             Source     `gorm:"type:varchar(10);not null"`
	Status             Status     `gorm:"type:varchar(10);not null"`
	RiskAtIntervention *float64   `gorm:"type:double precision"`
	Outcome            Outcome    `gorm:"type:varchar(10);not null"`
	RiskDelta          *float64   `gorm:"type:double precision"`
	CurrentRisk        *float64   `gorm:"type:double precision"`
	AttributedAt       *time.Time `gorm:"type:timestamptz"`
	CompletedAt        *time.Time `gorm:"type:timestamptz"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (i *Intervention) Validate() error {
	if strings.TrimSpace(i.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if !i.ActionType.IsValid() {
		return fmt.Errorf("%w: invalid action type %q", ErrValidation, i.ActionType)
	}
	if !i.Source.IsValid() {
		return fmt.Errorf("%w: invalid source %q", ErrValidation, i.Source)
	}
	if !i.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, i.Status)
	}
	if !i.Outcome.IsValid() {
		return fmt.Errorf("%w: invalid outcome %q", ErrValidation, i.Outcome)
	}
	if i.RiskAtIntervention != nil && (*i.RiskAtIntervention < 0 || *i.RiskAtIntervention > 1) {
		return fmt.Errorf("%w: risk at intervention %f outside [0,1]", ErrValidation, *i.RiskAtIntervention)
	}
	return nil
}
