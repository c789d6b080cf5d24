package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/colemanlowe/fibhedge/internal/domain"
)

// PortfolioService defines the methods the portfolio handler requires.
type PortfolioService interface {
	CreateAllocation(ctx context.Context, alloc domain.PortfolioAllocation) (domain.PortfolioAllocation, error)
	UpdateAllocation(ctx context.Context, coin string, alloc domain.PortfolioAllocation) (domain.PortfolioAllocation, error)
	ListAllocations(ctx context.Context, activeOnly bool) ([]domain.PortfolioAllocation, error)
	Summary(ctx context.Context) (domain.PortfolioSummary, error)
}

// PortfolioHandler serves allocation and portfolio summary endpoints.
type PortfolioHandler struct {
	portfolio PortfolioService
	logger    *slog.Logger
}

// NewPortfolioHandler creates a PortfolioHandler.
func NewPortfolioHandler(portfolio PortfolioService, logger *slog.Logger) *PortfolioHandler {
	return &PortfolioHandler{portfolio: portfolio, logger: logger}
}

// allocationRequest is the JSON body for creating or updating an allocation.
type allocationRequest struct {
	Coin               string          `json:"coin"`
	TargetAllocation   decimal.Decimal `json:"target_allocation"`
	MaxAllocation      decimal.Decimal `json:"max_allocation"`
	MinAllocation      decimal.Decimal `json:"min_allocation"`
	CashReserve        decimal.Decimal `json:"cash_reserve"`
	SpotSavingsEnabled bool            `json:"spot_savings_enabled"`
	SpotSavingsPct     decimal.Decimal `json:"spot_savings_pct"`
	IsActive           *bool           `json:"is_active"`
}

func (req allocationRequest) toAllocation() domain.PortfolioAllocation {
	alloc := domain.PortfolioAllocation{
		Coin:                req.Coin,
		TargetAllocationPct: req.TargetAllocation,
		MaxAllocationPct:    req.MaxAllocation,
		MinAllocationPct:    req.MinAllocation,
		CashReservePct:      req.CashReserve,
		SpotSavingsEnabled:  req.SpotSavingsEnabled,
		SpotSavingsPct:      req.SpotSavingsPct,
		IsActive:            true,
	}
	if req.IsActive != nil {
		alloc.IsActive = *req.IsActive
	}
	return alloc
}

type listAllocationsResponse struct {
	Allocations []domain.PortfolioAllocation
}

// ListAllocations returns allocation targets, active ones only unless
// ?all=true.
// GET /api/portfolio/allocations
func (h *PortfolioHandler) ListAllocations(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") != "true"

	allocs, err := h.portfolio.ListAllocations(r.Context(), activeOnly)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list allocations failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	if allocs == nil {
		allocs = []domain.PortfolioAllocation{}
	}
	writeJSON(w, http.StatusOK, listAllocationsResponse{Allocations: allocs})
}

// CreateAllocation creates a new allocation target for a coin.
// POST /api/portfolio/allocations
func (h *PortfolioHandler) CreateAllocation(w http.ResponseWriter, r *http.Request) {
	var req allocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	alloc, err := h.portfolio.CreateAllocation(r.Context(), req.toAllocation())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, alloc)
}

// UpdateAllocation replaces the allocation targets for a coin.
// PUT /api/portfolio/allocations/{coin}
func (h *PortfolioHandler) UpdateAllocation(w http.ResponseWriter, r *http.Request) {
	var req allocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	alloc, err := h.portfolio.UpdateAllocation(r.Context(), pathParam(r, "coin"), req.toAllocation())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alloc)
}

// Summary returns aggregate exposure and P&L across all positions.
// GET /api/portfolio/summary
func (h *PortfolioHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.portfolio.Summary(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: portfolio summary failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
