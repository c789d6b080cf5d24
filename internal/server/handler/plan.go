package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/colemanlowe/fibhedge/internal/domain"
)

// PlanService defines the methods the plan handler requires.
type PlanService interface {
	Create(ctx context.Context, plan domain.TradingPlan) (domain.TradingPlan, error)
	Update(ctx context.Context, plan domain.TradingPlan) (domain.TradingPlan, error)
	Deactivate(ctx context.Context, planID string) error
	Get(ctx context.Context, planID string) (domain.TradingPlan, error)
	List(ctx context.Context, activeOnly bool, opts domain.ListOpts) ([]domain.TradingPlan, error)
	Stats(ctx context.Context, planID string) (domain.PlanStats, error)
}

// PlanHandler serves trading plan endpoints.
type PlanHandler struct {
	plans  PlanService
	logger *slog.Logger
}

// NewPlanHandler creates a PlanHandler.
func NewPlanHandler(plans PlanService, logger *slog.Logger) *PlanHandler {
	return &PlanHandler{plans: plans, logger: logger}
}

// planRequest is the JSON body for creating or updating a plan. Unset
// threshold fields fall back to the strategy defaults on create.
type planRequest struct {
	Coin             string           `json:"coin"`
	Retracement23    decimal.Decimal  `json:"retracement_23"`
	Retracement38    decimal.Decimal  `json:"retracement_38"`
	Retracement50    decimal.Decimal  `json:"retracement_50"`
	MaxDrawdownPct   decimal.Decimal  `json:"max_drawdown_pct"`
	StopLossPct      decimal.Decimal  `json:"stop_loss_pct"`
	TakeProfitPct    *decimal.Decimal `json:"take_profit_pct"`
	PositionSizeUSD  decimal.Decimal  `json:"position_size_usd"`
	MaxPositionCount int              `json:"max_position_count"`
	HedgeRatio       decimal.Decimal  `json:"hedge_ratio"`
	ScalingEnabled   *bool            `json:"scaling_enabled"`
	IsActive         *bool            `json:"is_active"`
}

func (req planRequest) toPlan() domain.TradingPlan {
	plan := domain.TradingPlan{
		Coin:             req.Coin,
		Retracement23:    req.Retracement23,
		Retracement38:    req.Retracement38,
		Retracement50:    req.Retracement50,
		MaxDrawdownPct:   req.MaxDrawdownPct,
		StopLossPct:      req.StopLossPct,
		TakeProfitPct:    req.TakeProfitPct,
		PositionSizeUSD:  req.PositionSizeUSD,
		MaxPositionCount: req.MaxPositionCount,
		HedgeRatio:       req.HedgeRatio,
		ScalingEnabled:   true,
		IsActive:         true,
	}
	if req.ScalingEnabled != nil {
		plan.ScalingEnabled = *req.ScalingEnabled
	}
	if req.IsActive != nil {
		plan.IsActive = *req.IsActive
	}
	return plan
}

type listPlansResponse struct {
	Plans []domain.TradingPlan
}

// ListPlans returns trading plans, active ones only unless ?all=true.
// GET /api/plans
func (h *PlanHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") != "true"

	plans, err := h.plans.List(r.Context(), activeOnly, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list plans failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	if plans == nil {
		plans = []domain.TradingPlan{}
	}
	writeJSON(w, http.StatusOK, listPlansResponse{Plans: plans})
}

// GetPlan returns a single plan by ID.
// GET /api/plans/{id}
func (h *PlanHandler) GetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.plans.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// CreatePlan creates a new trading plan.
// POST /api/plans
func (h *PlanHandler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	plan, err := h.plans.Create(r.Context(), req.toPlan())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create plan failed",
			slog.String("coin", req.Coin),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

// UpdatePlan replaces the mutable fields of an existing plan.
// PUT /api/plans/{id}
func (h *PlanHandler) UpdatePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	plan := req.toPlan()
	plan.ID = pathParam(r, "id")

	updated, err := h.plans.Update(r.Context(), plan)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeactivatePlan soft-deletes a plan.
// DELETE /api/plans/{id}
func (h *PlanHandler) DeactivatePlan(w http.ResponseWriter, r *http.Request) {
	if err := h.plans.Deactivate(r.Context(), pathParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PlanStats returns aggregated performance counters for one plan.
// GET /api/plans/{id}/stats
func (h *PlanHandler) PlanStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.plans.Stats(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
