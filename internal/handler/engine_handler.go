package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/churnguard/intervention-engine/internal/domain"
	"github.com/churnguard/intervention-engine/internal/repository"
	"github.com/churnguard/intervention-engine/internal/service"
	"github.com/gofiber/fiber/v2"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type SentinelRunner interface {
	RunCycle(ctx context.Context) (service.CycleResult, error)
}

type OptimizerRunner interface {
	RunCycle(ctx context.Context) (service.AttributionResult, error)
}

type ConfigAPI interface {
	Get() domain.SentinelConfig
	Update(ctx context.Context, update service.ConfigUpdate) (domain.SentinelConfig, error)
}

type InterventionLister interface {
	List(ctx context.Context, params repository.ListParams) ([]domain.Intervention, int64, error)
}

type EngineHandler struct {
	sentinel  SentinelRunner
	optimizer OptimizerRunner
	config    ConfigAPI
	ledger    InterventionLister
}

func NewEngineHandler(sentinel SentinelRunner, optimizer OptimizerRunner, config ConfigAPI, ledger InterventionLister) (*EngineHandler, error) {
	if sentinel == nil {
		return nil, fmt.Errorf("sentinel runner is required")
	}
	if optimizer == nil {
		return nil, fmt.Errorf("optimizer runner is required")
	}
	if config == nil {
		return nil, fmt.Errorf("config api is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("intervention lister is required")
	}
	return &EngineHandler{sentinel: sentinel, optimizer: optimizer, config: config, ledger: ledger}, nil
}

func RegisterEngineRoutes(router fiber.Router, sentinel SentinelRunner, optimizer OptimizerRunner, config ConfigAPI, ledger InterventionLister) error {
	h, err := NewEngineHandler(sentinel, optimizer, config, ledger)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/sentinel/run", h.RunSentinel)
	v1.Post("/optimizer/run", h.RunOptimizer)
	v1.Get("/sentinel/config", h.GetConfig)
	v1.Patch("/sentinel/config", h.UpdateConfig)
	v1.Get("/interventions", h.ListInterventions)

	return nil
}

type updateConfigRequest struct {
	Enabled         *bool                    `json:"enabled"`
	DryRun          *bool                    `json:"dryRun"`
	IntervalMinutes *int                     `json:"intervalMinutes"`
	Thresholds      *updateThresholdsRequest `json:"thresholds"`
}

type updateThresholdsRequest struct {
	Nudge   *float64 `json:"nudge"`
	Support *float64 `json:"support"`
	Offer   *float64 `json:"offer"`
}

type cycleResponse struct {
	Enabled         bool `json:"enabled"`
	DryRun          bool `json:"dryRun"`
	Actions         int  `json:"actions"`
	Skips           int  `json:"skips"`
	PersistFailures int  `json:"persistFailures"`
	NotifyFailures  int  `json:"notifyFailures"`
}

type attributionResponse struct {
	Processed int `json:"processed"`
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
	Pending   int `json:"pending"`
	Skipped   int `json:"skipped"`
}

type interventionResponse struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"userId"`
	ActionType         string     `json:"actionType"`
	Source             string     `json:"source"`
	Status             string     `json:"status"`
	Outcome            string     `json:"outcome"`
	RiskAtIntervention *float64   `json:"riskAtIntervention,omitempty"`
	RiskDelta          *float64   `json:"riskDelta,omitempty"`
	CurrentRisk        *float64   `json:"currentRisk,omitempty"`
	AttributedAt       *time.Time `json:"attributedAt,omitempty"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

type listInterventionsResponse struct {
	Data []interventionResponse `json:"data"`
	Meta listMeta               `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

func (h *EngineHandler) RunSentinel(c *fiber.Ctx) error {
	result, err := h.sentinel.RunCycle(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(cycleResponse{
		Enabled:         result.Enabled,
		DryRun:          result.DryRun,
		Actions:         result.Actions,
		Skips:           result.Skips,
		PersistFailures: result.PersistFailures,
		NotifyFailures:  result.NotifyFailures,
	})
}

func (h *EngineHandler) RunOptimizer(c *fiber.Ctx) error {
	result, err := h.optimizer.RunCycle(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(attributionResponse{
		Processed: result.Processed,
		Successes: result.Successes,
		Failures:  result.Failures,
		Pending:   result.Pending,
		Skipped:   result.Skipped,
	})
}

func (h *EngineHandler) GetConfig(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(h.config.Get())
}

func (h *EngineHandler) UpdateConfig(c *fiber.Ctx) error {
	var req updateConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	update := service.ConfigUpdate{
		Enabled:         req.Enabled,
		DryRun:          req.DryRun,
		IntervalMinutes: req.IntervalMinutes,
	}
	if req.Thresholds != nil {
		update.Thresholds = &service.ThresholdsUpdate{
			Nudge:   req.Thresholds.Nudge,
			Support: req.Thresholds.Support,
			Offer:   req.Thresholds.Offer,
		}
	}

	cfg, err := h.config.Update(c.Context(), update)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(cfg)
}

func (h *EngineHandler) ListInterventions(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	interventions, total, err := h.ledger.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(listInterventionsResponse{
		Data: toInterventionResponses(interventions),
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawUserID := strings.TrimSpace(c.Query("userId")); rawUserID != "" {
		params.UserID = &rawUserID
	}

	if rawSource := strings.TrimSpace(c.Query("source")); rawSource != "" {
		source, err := domain.ParseSourceFromString(rawSource)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Source = &source
	}

	if rawOutcome := strings.TrimSpace(c.Query("outcome")); rawOutcome != "" {
		outcome, err := domain.ParseOutcomeFromString(rawOutcome)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Outcome = &outcome
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.ListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.ListParams{}, err
	}
	params.From = from
	params.To = to

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func toInterventionResponses(interventions []domain.Intervention) []interventionResponse {
	responses := make([]interventionResponse, 0, len(interventions))
	for i := range interventions {
		responses = append(responses, toInterventionResponse(&interventions[i]))
	}
	return responses
}

func toInterventionResponse(i *domain.Intervention) interventionResponse {
	if i == nil {
		return interventionResponse{}
	}

	return interventionResponse{
		ID:                 i.ID,
		UserID:             i.UserID,
		ActionType:         i.ActionType.String(),
		Source:             i.Source.String(),
		Status:             i.Status.String(),
		Outcome:            i.Outcome.String(),
		RiskAtIntervention: i.RiskAtIntervention,
		RiskDelta:          i.RiskDelta,
		CurrentRisk:        i.CurrentRisk,
		AttributedAt:       i.AttributedAt,
		CompletedAt:        i.CompletedAt,
		CreatedAt:          i.CreatedAt,
		UpdatedAt:          i.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, service.ErrCycleInFlight):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
