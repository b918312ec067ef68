package repository

import (
	"time"

	"github.com/churnguard/intervention-engine/internal/domain"
)

// InterventionModel is the persistence model for the interventions table.
type InterventionModel struct {
	ID                 string            `gorm:"type:uuid;primaryKey"`
	UserID             string            `gorm:"type:varchar(64);not null"`
	ActionType         domain.ActionType `gorm:"type:varchar(10);not null"`
	Source             domain.Source     `gorm:"type:varchar(10);not null"`
	Status             domain.Status     `gorm:"type:varchar(10);not null"`
	RiskAtIntervention *float64          `gorm:"type:double precision"`
	Outcome            domain.Outcome    `gorm:"type:varchar(10);not null"`
	RiskDelta          *float64          `gorm:"type:double precision"`
	CurrentRisk        *float64          `gorm:"type:double precision"`
	AttributedAt       *time.Time        `gorm:"type:timestamptz"`
	CompletedAt        *time.Time        `gorm:"type:timestamptz"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (InterventionModel) TableName() string {
	return "interventions"
}

func interventionModelFromDomain(i *domain.Intervention) *InterventionModel {
	if i == nil {
		return nil
	}

	return &InterventionModel{
		ID:                 i.ID,
		UserID:             i.UserID,
		ActionType:         i.ActionType,
		Source:             i.Source,
		Status:             i.Status,
		RiskAtIntervention: i.RiskAtIntervention,
		Outcome:            i.Outcome,
		RiskDelta:          i.RiskDelta,
		CurrentRisk:        i.CurrentRisk,
		AttributedAt:       i.AttributedAt,
		CompletedAt:        i.CompletedAt,
		CreatedAt:          i.CreatedAt,
		UpdatedAt:          i.UpdatedAt,
	}
}

func interventionModelToDomain(m *InterventionModel) *domain.Intervention {
	if m == nil {
		return nil
	}

	return &domain.Intervention{
		ID:                 m.ID,
		UserID:             m.UserID,
		ActionType:         m.ActionType,
		Source:             m.Source,
		Status:             m.Status,
		RiskAtIntervention: m.RiskAtIntervention,
		Outcome:            m.Outcome,
		RiskDelta:          m.RiskDelta,
		CurrentRisk:        m.CurrentRisk,
		AttributedAt:       m.AttributedAt,
		CompletedAt:        m.CompletedAt,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}
