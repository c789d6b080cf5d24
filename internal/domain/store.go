package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PlanStore persists trading plans.
type PlanStore interface {
	Create(ctx context.Context, plan TradingPlan) error
	Update(ctx context.Context, plan TradingPlan) error
	// Deactivate soft-deletes a plan; its positions remain queryable.
	Deactivate(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (TradingPlan, error)
	List(ctx context.Context, activeOnly bool, opts ListOpts) ([]TradingPlan, error)
	Stats(ctx context.Context, id string) (PlanStats, error)
}

// PositionStore persists positions. It is the engine's persistence gateway:
// ListActive feeds the registry warm start and Update is called after every
// state-affecting tick.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Update(ctx context.Context, pos Position) error
	// Patch applies a partial update and returns the resulting position.
	Patch(ctx context.Context, id string, patch PositionPatch) (Position, error)
	GetByID(ctx context.Context, id string) (Position, error)
	// ListActive returns every non-closed position.
	ListActive(ctx context.Context) ([]Position, error)
	List(ctx context.Context, coin string, status PositionStatus, opts ListOpts) ([]Position, error)
	ListByPlan(ctx context.Context, planID string, opts ListOpts) ([]Position, error)
}

// TriggerStore persists emitted trigger events (append-only).
type TriggerStore interface {
	Insert(ctx context.Context, evt TriggerEvent) error
	ListByPosition(ctx context.Context, positionID string) ([]TriggerEvent, error)
	ListRecent(ctx context.Context, limit int) ([]TriggerEvent, error)
	ListSince(ctx context.Context, since time.Time) ([]TriggerEvent, error)
}

// AllocationStore persists portfolio allocations.
type AllocationStore interface {
	Create(ctx context.Context, alloc PortfolioAllocation) error
	UpdateByCoin(ctx context.Context, coin string, alloc PortfolioAllocation) error
	List(ctx context.Context, activeOnly bool) ([]PortfolioAllocation, error)
}
