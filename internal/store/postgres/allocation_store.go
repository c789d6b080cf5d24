package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/colemanlowe/fibhedge/internal/domain"
)

// AllocationStore implements domain.AllocationStore using PostgreSQL.
type AllocationStore struct {
	pool *pgxpool.Pool
}

// NewAllocationStore creates an AllocationStore backed by the given pool.
func NewAllocationStore(pool *pgxpool.Pool) *AllocationStore {
	return &AllocationStore{pool: pool}
}

const allocationSelectCols = `id, coin,
	target_allocation, max_allocation, min_allocation, cash_reserve,
	spot_savings_enabled, spot_savings_pct,
	is_active, created_at, updated_at`

func scanAllocationRows(rows pgx.Rows) ([]domain.PortfolioAllocation, error) {
	var allocs []domain.PortfolioAllocation
	for rows.Next() {
		var a domain.PortfolioAllocation
		if err := rows.Scan(
			&a.ID, &a.Coin,
			&a.TargetAllocationPct, &a.MaxAllocationPct, &a.MinAllocationPct, &a.CashReservePct,
			&a.SpotSavingsEnabled, &a.SpotSavingsPct,
			&a.IsActive, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		allocs = append(allocs, a)
	}
	return allocs, rows.Err()
}

// Create inserts a new allocation. The coin is unique; a duplicate maps to
// domain.ErrAlreadyExists for the handler layer.
func (s *AllocationStore) Create(ctx context.Context, a domain.PortfolioAllocation) error {
	const query = `
		INSERT INTO portfolio_allocations (
			id, coin,
			target_allocation, max_allocation, min_allocation, cash_reserve,
			spot_savings_enabled, spot_savings_pct,
			is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (coin) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		a.ID, a.Coin,
		a.TargetAllocationPct, a.MaxAllocationPct, a.MinAllocationPct, a.CashReservePct,
		a.SpotSavingsEnabled, a.SpotSavingsPct,
		a.IsActive, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create allocation for %s: %w", a.Coin, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// UpdateByCoin replaces the allocation targets for one coin.
func (s *AllocationStore) UpdateByCoin(ctx context.Context, coin string, a domain.PortfolioAllocation) error {
	const query = `
		UPDATE portfolio_allocations SET
			target_allocation    = $2,
			max_allocation       = $3,
			min_allocation       = $4,
			cash_reserve         = $5,
			spot_savings_enabled = $6,
			spot_savings_pct     = $7,
			is_active            = $8,
			updated_at           = NOW()
		WHERE coin = $1`

	tag, err := s.pool.Exec(ctx, query,
		coin,
		a.TargetAllocationPct, a.MaxAllocationPct, a.MinAllocationPct, a.CashReservePct,
		a.SpotSavingsEnabled, a.SpotSavingsPct,
		a.IsActive,
	)
	if err != nil {
		return fmt.Errorf("postgres: update allocation for %s: %w", coin, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns allocations, optionally filtered to active ones.
func (s *AllocationStore) List(ctx context.Context, activeOnly bool) ([]domain.PortfolioAllocation, error) {
	query := `SELECT ` + allocationSelectCols + ` FROM portfolio_allocations`
	if activeOnly {
		query += " WHERE is_active"
	}
	query += " ORDER BY coin ASC"

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list allocations: %w", err)
	}
	defer rows.Close()

	allocs, err := scanAllocationRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan allocations: %w", err)
	}
	return allocs, nil
}
