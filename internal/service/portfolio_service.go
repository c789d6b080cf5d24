package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/colemanlowe/fibhedge/internal/domain"
)

// PortfolioService manages allocation targets and aggregates live exposure
// across every position.
type PortfolioService struct {
	allocations domain.AllocationStore
	positions   domain.PositionStore
	prices      domain.PriceCache
	logger      *slog.Logger
}

func NewPortfolioService(
	allocations domain.AllocationStore,
	positions domain.PositionStore,
	prices domain.PriceCache,
	logger *slog.Logger,
) *PortfolioService {
	return &PortfolioService{
		allocations: allocations,
		positions:   positions,
		prices:      prices,
		logger:      logger.With(slog.String("component", "portfolio_service")),
	}
}

// CreateAllocation validates and persists a new allocation target.
func (s *PortfolioService) CreateAllocation(ctx context.Context, alloc domain.PortfolioAllocation) (domain.PortfolioAllocation, error) {
	if err := alloc.Validate(); err != nil {
		return domain.PortfolioAllocation{}, err
	}
	now := time.Now().UTC()
	alloc.ID = uuid.NewString()
	alloc.IsActive = true
	alloc.CreatedAt = now
	alloc.UpdatedAt = now

	if err := s.allocations.Create(ctx, alloc); err != nil {
		return domain.PortfolioAllocation{}, fmt.Errorf("portfolio_service: create allocation: %w", err)
	}
	s.logger.InfoContext(ctx, "allocation created",
		slog.String("allocation_id", alloc.ID),
		slog.String("coin", alloc.Coin),
	)
	return alloc, nil
}

// UpdateAllocation replaces the allocation for a coin.
func (s *PortfolioService) UpdateAllocation(ctx context.Context, coin string, alloc domain.PortfolioAllocation) (domain.PortfolioAllocation, error) {
	alloc.Coin = coin
	if err := alloc.Validate(); err != nil {
		return domain.PortfolioAllocation{}, err
	}
	alloc.UpdatedAt = time.Now().UTC()
	if err := s.allocations.UpdateByCoin(ctx, coin, alloc); err != nil {
		return domain.PortfolioAllocation{}, fmt.Errorf("portfolio_service: update allocation for %q: %w", coin, err)
	}
	return alloc, nil
}

func (s *PortfolioService) ListAllocations(ctx context.Context, activeOnly bool) ([]domain.PortfolioAllocation, error) {
	return s.allocations.List(ctx, activeOnly)
}

// Summary aggregates exposure and P&L over every non-closed position,
// revaluing unrealized P&L at the latest cached price where one exists.
func (s *PortfolioService) Summary(ctx context.Context) (domain.PortfolioSummary, error) {
	positions, err := s.positions.ListActive(ctx)
	if err != nil {
		return domain.PortfolioSummary{}, fmt.Errorf("portfolio_service: list positions: %w", err)
	}

	summary := domain.PortfolioSummary{
		ByCoin: make(map[string]domain.CoinExposure),
		AsOf:   time.Now().UTC(),
	}

	for _, pos := range positions {
		unrealized := pos.UnrealizedPnLUSD
		if price, _, err := s.prices.GetPrice(ctx, pos.Coin); err == nil && price.IsPositive() {
			unrealized = pos.UnrealizedPnL(price)
		}

		summary.TotalPositions++
		summary.ActivePositions++
		summary.TotalExposureUSD = summary.TotalExposureUSD.Add(pos.EntryValueUSD)
		summary.TotalUnrealizedPnLUSD = summary.TotalUnrealizedPnLUSD.Add(unrealized)
		summary.TotalRealizedPnLUSD = summary.TotalRealizedPnLUSD.Add(pos.RealizedPnLUSD)

		exp := summary.ByCoin[pos.Coin]
		exp.Coin = pos.Coin
		exp.Positions++
		exp.ExposureUSD = exp.ExposureUSD.Add(pos.EntryValueUSD)
		exp.UnrealizedPnLUSD = exp.UnrealizedPnLUSD.Add(unrealized)
		exp.RealizedPnLUSD = exp.RealizedPnLUSD.Add(pos.RealizedPnLUSD)
		summary.ByCoin[pos.Coin] = exp
	}
	return summary, nil
}
