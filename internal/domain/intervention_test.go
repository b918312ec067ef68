package domain

import (
	"errors"
	"testing"
)

func TestParseActionTypeFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    ActionType
		wantErr bool
	}{
		{name: "valid lowercase", input: "offer", want: ActionOffer},
		{name: "valid uppercase with spaces", input: " NUDGE ", want: ActionNudge},
		{name: "invalid", input: "escalate", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseActionTypeFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseActionTypeFromString() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseActionTypeFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseActionTypeFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestActionTypeSeverityOrdering(t *testing.T) {
	t.Parallel()

	if !(ActionNudge.Severity() < ActionSupport.Severity() && ActionSupport.Severity() < ActionOffer.Severity()) {
		t.Fatal("severity must order nudge < support < offer")
	}
}

func TestActionTypeAutoLabel(t *testing.T) {
	t.Parallel()

	if got := ActionSupport.AutoLabel(); got != "AUTO_SUPPORT" {
		t.Fatalf("AutoLabel() = %s, want AUTO_SUPPORT", got)
	}
}

func TestParseSourceFromString(t *testing.T) {
	t.Parallel()

	got, err := ParseSourceFromString(" Sentinel ")
	if err != nil {
		t.Fatalf("ParseSourceFromString() unexpected error = %v", err)
	}
	if got != SourceSentinel {
		t.Fatalf("ParseSourceFromString() = %s, want sentinel", got)
	}

	if _, err := ParseSourceFromString("robot"); !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseSourceFromString() error = %v, want ErrValidation", err)
	}
}

func TestOutcomeIsTerminal(t *testing.T) {
	t.Parallel()

	if OutcomePending.IsTerminal() {
		t.Fatal("pending must not be terminal")
	}
	if !OutcomeSuccess.IsTerminal() || !OutcomeFailure.IsTerminal() {
		t.Fatal("success and failure must be terminal")
	}
}

func TestInterventionValidate(t *testing.T) {
	t.Parallel()

	risk := 0.93
	valid := Intervention{
		UserID:             "user-1",
		ActionType:         ActionSupport,
		Source:             SourceSentinel,
		Status:             StatusCompleted,
		Outcome:            OutcomePending,
		RiskAtIntervention: &risk,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Intervention)
	}{
		{name: "missing user", mutate: func(i *Intervention) { i.UserID = " " }},
		{name: "bad action type", mutate: func(i *Intervention) { i.ActionType = "poke" }},
		{name: "bad source", mutate: func(i *Intervention) { i.Source = "cron" }},
		{name: "bad outcome", mutate: func(i *Intervention) { i.Outcome = "maybe" }},
		{name: "risk above one", mutate: func(i *Intervention) { r := 1.2; i.RiskAtIntervention = &r }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			record := valid
			tt.mutate(&record)
			if err := record.Validate(); !errors.Is(err, ErrValidation) {
				t.Fatalf("Validate() error = %v, want ErrValidation", err)
			}
		})
	}
}
