package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/colemanlowe/fibhedge/internal/domain"
)

// PlanService manages trading plan configuration.
type PlanService struct {
	plans  domain.PlanStore
	logger *slog.Logger
}

func NewPlanService(plans domain.PlanStore, logger *slog.Logger) *PlanService {
	return &PlanService{
		plans:  plans,
		logger: logger.With(slog.String("component", "plan_service")),
	}
}

// Create validates and persists a new plan. Unset threshold fields are
// filled from the defaults before validation.
func (s *PlanService) Create(ctx context.Context, plan domain.TradingPlan) (domain.TradingPlan, error) {
	defaults := domain.DefaultPlan(plan.Coin)
	if plan.Retracement23.IsZero() {
		plan.Retracement23 = defaults.Retracement23
	}
	if plan.Retracement38.IsZero() {
		plan.Retracement38 = defaults.Retracement38
	}
	if plan.Retracement50.IsZero() {
		plan.Retracement50 = defaults.Retracement50
	}
	if plan.MaxDrawdownPct.IsZero() {
		plan.MaxDrawdownPct = defaults.MaxDrawdownPct
	}
	if plan.StopLossPct.IsZero() {
		plan.StopLossPct = defaults.StopLossPct
	}
	if plan.HedgeRatio.IsZero() {
		plan.HedgeRatio = defaults.HedgeRatio
	}
	if plan.MaxPositionCount == 0 {
		plan.MaxPositionCount = defaults.MaxPositionCount
	}
	if plan.Strategy == "" {
		plan.Strategy = defaults.Strategy
	}

	if err := plan.Validate(); err != nil {
		return domain.TradingPlan{}, err
	}

	now := time.Now().UTC()
	plan.ID = uuid.NewString()
	plan.IsActive = true
	plan.CreatedAt = now
	plan.UpdatedAt = now

	if err := s.plans.Create(ctx, plan); err != nil {
		return domain.TradingPlan{}, fmt.Errorf("plan_service: create: %w", err)
	}
	s.logger.InfoContext(ctx, "plan created",
		slog.String("plan_id", plan.ID),
		slog.String("coin", plan.Coin),
	)
	return plan, nil
}

// Update validates and persists changes to an existing plan. The plan must
// already exist; identity and creation fields are preserved.
func (s *PlanService) Update(ctx context.Context, plan domain.TradingPlan) (domain.TradingPlan, error) {
	existing, err := s.plans.GetByID(ctx, plan.ID)
	if err != nil {
		return domain.TradingPlan{}, err
	}
	plan.Coin = existing.Coin
	plan.CreatedAt = existing.CreatedAt
	plan.UpdatedAt = time.Now().UTC()

	if err := plan.Validate(); err != nil {
		return domain.TradingPlan{}, err
	}
	if err := s.plans.Update(ctx, plan); err != nil {
		return domain.TradingPlan{}, fmt.Errorf("plan_service: update: %w", err)
	}
	return plan, nil
}

// Deactivate marks a plan inactive. Open positions under it keep running;
// new positions can no longer be opened against it.
func (s *PlanService) Deactivate(ctx context.Context, planID string) error {
	if err := s.plans.Deactivate(ctx, planID); err != nil {
		return fmt.Errorf("plan_service: deactivate %q: %w", planID, err)
	}
	s.logger.InfoContext(ctx, "plan deactivated", slog.String("plan_id", planID))
	return nil
}

func (s *PlanService) Get(ctx context.Context, planID string) (domain.TradingPlan, error) {
	return s.plans.GetByID(ctx, planID)
}

func (s *PlanService) List(ctx context.Context, activeOnly bool, opts domain.ListOpts) ([]domain.TradingPlan, error) {
	return s.plans.List(ctx, activeOnly, opts)
}

// Stats aggregates per-plan performance counters from closed and open
// positions.
func (s *PlanService) Stats(ctx context.Context, planID string) (domain.PlanStats, error) {
	return s.plans.Stats(ctx, planID)
}
