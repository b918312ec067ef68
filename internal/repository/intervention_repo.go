package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/churnguard/intervention-engine/internal/domain"
	"gorm.io/gorm"
)

type ListParams struct {
	UserID   *string
	Source   *domain.Source
	Outcome  *domain.Outcome
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// InterventionRepository is the ledger of past interventions. The sentinel
// only inserts rows; the optimizer only finalizes outcome fields of rows it
// selected, so the two loops never contend on the same write.
type InterventionRepository interface {
	Create(ctx context.Context, i *domain.Intervention) error
	GetByID(ctx context.Context, id string) (*domain.Intervention, error)
	ListByUser(ctx context.Context, userID string, since time.Time, source *domain.Source) ([]domain.Intervention, error)
	ListPendingInWindow(ctx context.Context, start, end time.Time, limit int) ([]domain.Intervention, error)
	FinalizeOutcome(ctx context.Context, id string, outcome domain.Outcome, riskDelta, currentRisk float64, attributedAt time.Time) error
	List(ctx context.Context, params ListParams) ([]domain.Intervention, int64, error)
}

type GormInterventionRepo struct {
	db *gorm.DB
}

func NewGormInterventionRepo(db *gorm.DB) *GormInterventionRepo {
	return &GormInterventionRepo{db: db}
}

func (r *GormInterventionRepo) Create(ctx context.Context, i *domain.Intervention) error {
	model := interventionModelFromDomain(i)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if i != nil {
		*i = *interventionModelToDomain(model)
	}
	return nil
}

func (r *GormInterventionRepo) GetByID(ctx context.Context, id string) (*domain.Intervention, error) {
	var model InterventionModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return interventionModelToDomain(&model), nil
}

func (r *GormInterventionRepo) ListByUser(ctx context.Context, userID string, since time.Time, source *domain.Source) ([]domain.Intervention, error) {
	query := r.db.WithContext(ctx).
		Where("user_id = ? AND created_at >= ?", userID, since)
	if source != nil {
		query = query.Where("source = ?", *source)
	}

	var models []InterventionModel
	err := query.Order("created_at DESC").Find(&models).Error
	if err != nil {
		return nil, err
	}

	interventions := make([]domain.Intervention, 0, len(models))
	for i := range models {
		interventions = append(interventions, *interventionModelToDomain(&models[i]))
	}

	return interventions, nil
}

func (r *GormInterventionRepo) ListPendingInWindow(ctx context.Context, start, end time.Time, limit int) ([]domain.Intervention, error) {
	var models []InterventionModel
	err := r.db.WithContext(ctx).
		Where("outcome = ? AND created_at >= ? AND created_at < ?", domain.OutcomePending, start, end).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	interventions := make([]domain.Intervention, 0, len(models))
	for i := range models {
		interventions = append(interventions, *interventionModelToDomain(&models[i]))
	}

	return interventions, nil
}

// FinalizeOutcome writes the attribution trio in one guarded update. The
// outcome = pending predicate makes re-attribution a no-op: a row that was
// already finalized is not matched and the caller gets ErrConflict.
func (r *GormInterventionRepo) FinalizeOutcome(ctx context.Context, id string, outcome domain.Outcome, riskDelta, currentRisk float64, attributedAt time.Time) error {
	if !outcome.IsTerminal() {
		return fmt.Errorf("%w: outcome must be terminal, got %q", domain.ErrValidation, outcome)
	}

	result := r.db.WithContext(ctx).
		Model(&InterventionModel{}).
		Where("id = ? AND outcome = ?", id, domain.OutcomePending).
		Updates(map[string]any{
			"outcome":       outcome,
			"risk_delta":    riskDelta,
			"current_risk":  currentRisk,
			"attributed_at": attributedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormInterventionRepo) List(ctx context.Context, params ListParams) ([]domain.Intervention, int64, error) {
	query := r.db.WithContext(ctx).Model(&InterventionModel{})

	if params.UserID != nil {
		query = query.Where("user_id = ?", *params.UserID)
	}
	if params.Source != nil {
		query = query.Where("source = ?", *params.Source)
	}
	if params.Outcome != nil {
		query = query.Where("outcome = ?", *params.Outcome)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []InterventionModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	interventions := make([]domain.Intervention, 0, len(models))
	for i := range models {
		interventions = append(interventions, *interventionModelToDomain(&models[i]))
	}

	return interventions, total, nil
}
