package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/colemanlowe/fibhedge/internal/domain"
)

// PlanStore implements domain.PlanStore using PostgreSQL.
type PlanStore struct {
	pool *pgxpool.Pool
}

// NewPlanStore creates a PlanStore backed by the given connection pool.
func NewPlanStore(pool *pgxpool.Pool) *PlanStore {
	return &PlanStore{pool: pool}
}

const planSelectCols = `id, coin, strategy,
	retracement_23, retracement_38, retracement_50,
	max_drawdown_pct, stop_loss_pct, take_profit_pct,
	position_size_usd, max_position_count, hedge_ratio,
	scaling_enabled, is_active, created_at, updated_at`

func scanPlanRow(row pgx.Row) (domain.TradingPlan, error) {
	var p domain.TradingPlan
	var takeProfit decimal.NullDecimal

	err := row.Scan(
		&p.ID, &p.Coin, &p.Strategy,
		&p.Retracement23, &p.Retracement38, &p.Retracement50,
		&p.MaxDrawdownPct, &p.StopLossPct, &takeProfit,
		&p.PositionSizeUSD, &p.MaxPositionCount, &p.HedgeRatio,
		&p.ScalingEnabled, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.TradingPlan{}, err
	}
	if takeProfit.Valid {
		p.TakeProfitPct = &takeProfit.Decimal
	}
	return p, nil
}

func scanPlanRows(rows pgx.Rows) ([]domain.TradingPlan, error) {
	var plans []domain.TradingPlan
	for rows.Next() {
		p, err := scanPlanRow(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// Create inserts a new trading plan.
func (s *PlanStore) Create(ctx context.Context, p domain.TradingPlan) error {
	const query = `
		INSERT INTO trading_plans (
			id, coin, strategy,
			retracement_23, retracement_38, retracement_50,
			max_drawdown_pct, stop_loss_pct, take_profit_pct,
			position_size_usd, max_position_count, hedge_ratio,
			scaling_enabled, is_active, created_at, updated_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8, $9,
			$10, $11, $12,
			$13, $14, $15, $16
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Coin, p.Strategy,
		p.Retracement23, p.Retracement38, p.Retracement50,
		p.MaxDrawdownPct, p.StopLossPct, p.TakeProfitPct,
		p.PositionSizeUSD, p.MaxPositionCount, p.HedgeRatio,
		p.ScalingEnabled, p.IsActive, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create plan %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a plan.
func (s *PlanStore) Update(ctx context.Context, p domain.TradingPlan) error {
	const query = `
		UPDATE trading_plans SET
			retracement_23     = $2,
			retracement_38     = $3,
			retracement_50     = $4,
			max_drawdown_pct   = $5,
			stop_loss_pct      = $6,
			take_profit_pct    = $7,
			position_size_usd  = $8,
			max_position_count = $9,
			hedge_ratio        = $10,
			scaling_enabled    = $11,
			is_active          = $12,
			updated_at         = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID,
		p.Retracement23, p.Retracement38, p.Retracement50,
		p.MaxDrawdownPct, p.StopLossPct, p.TakeProfitPct,
		p.PositionSizeUSD, p.MaxPositionCount, p.HedgeRatio,
		p.ScalingEnabled, p.IsActive,
	)
	if err != nil {
		return fmt.Errorf("postgres: update plan %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Deactivate soft-deletes a plan. Its positions remain queryable.
func (s *PlanStore) Deactivate(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE trading_plans SET is_active = FALSE, updated_at = NOW() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: deactivate plan %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single plan by its ID.
func (s *PlanStore) GetByID(ctx context.Context, id string) (domain.TradingPlan, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+planSelectCols+` FROM trading_plans WHERE id = $1`, id)

	p, err := scanPlanRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradingPlan{}, domain.ErrNotFound
		}
		return domain.TradingPlan{}, fmt.Errorf("postgres: get plan %s: %w", id, err)
	}
	return p, nil
}

// List returns plans, optionally filtered to active ones, newest first.
func (s *PlanStore) List(ctx context.Context, activeOnly bool, opts domain.ListOpts) ([]domain.TradingPlan, error) {
	query := `SELECT ` + planSelectCols + ` FROM trading_plans`
	var args []any
	if activeOnly {
		query += " WHERE is_active"
	}
	query += " ORDER BY created_at DESC"

	argIdx := 1
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list plans: %w", err)
	}
	defer rows.Close()

	plans, err := scanPlanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan plans: %w", err)
	}
	return plans, nil
}

// Stats aggregates position counters and P&L for one plan.
func (s *PlanStore) Stats(ctx context.Context, id string) (domain.PlanStats, error) {
	const query = `
		SELECT
			p.coin,
			COUNT(pos.id),
			COUNT(pos.id) FILTER (WHERE pos.status <> 'closed'),
			COUNT(pos.id) FILTER (WHERE pos.status = 'closed'),
			COALESCE(SUM(pos.realized_pnl_usd), 0),
			COALESCE(SUM(pos.unrealized_pnl_usd) FILTER (WHERE pos.status <> 'closed'), 0),
			COALESCE(SUM(pos.entry_value_usd) FILTER (WHERE pos.status <> 'closed'), 0),
			COUNT(pos.id) FILTER (WHERE pos.status = 'closed' AND pos.realized_pnl_usd > 0)
		FROM trading_plans p
		LEFT JOIN positions pos ON pos.plan_id = p.id
		WHERE p.id = $1
		GROUP BY p.id, p.coin`

	var st domain.PlanStats
	var wins int
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&st.Coin,
		&st.TotalPositions, &st.ActivePositions, &st.ClosedPositions,
		&st.TotalRealizedPnLUSD, &st.TotalUnrealizedPnLUSD,
		&st.CurrentExposureUSD, &wins,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PlanStats{}, domain.ErrNotFound
		}
		return domain.PlanStats{}, fmt.Errorf("postgres: plan stats %s: %w", id, err)
	}

	st.PlanID = id
	st.LastUpdated = time.Now().UTC()
	st.TotalPnLUSD = st.TotalRealizedPnLUSD.Add(st.TotalUnrealizedPnLUSD)
	if st.ClosedPositions > 0 {
		st.WinRatePct = decimal.NewFromInt(int64(wins)).
			Div(decimal.NewFromInt(int64(st.ClosedPositions)))
	}
	return st, nil
}
