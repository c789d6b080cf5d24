package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/colemanlowe/fibhedge/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, plan_id, coin, side,
	entry_price, entry_quantity, entry_value_usd, entry_time, status,
	highest_price, lowest_price, current_price,
	fib_23_price, fib_38_price, fib_50_price,
	triggered_23, triggered_38, triggered_50,
	unrealized_pnl_usd, realized_pnl_usd,
	exit_price, exit_quantity, exit_time, last_tick_time,
	created_at, updated_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var side, status string

	err := row.Scan(
		&p.ID, &p.PlanID, &p.Coin, &side,
		&p.EntryPrice, &p.EntryQuantity, &p.EntryValueUSD, &p.EntryTime, &status,
		&p.HighestPrice, &p.LowestPrice, &p.CurrentPrice,
		&p.Fib23Price, &p.Fib38Price, &p.Fib50Price,
		&p.Triggered23, &p.Triggered38, &p.Triggered50,
		&p.UnrealizedPnLUSD, &p.RealizedPnLUSD,
		&p.ExitPrice, &p.ExitQuantity, &p.ExitTime, &p.LastTickTime,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, plan_id, coin, side,
			entry_price, entry_quantity, entry_value_usd, entry_time, status,
			highest_price, lowest_price, current_price,
			fib_23_price, fib_38_price, fib_50_price,
			triggered_23, triggered_38, triggered_50,
			unrealized_pnl_usd, realized_pnl_usd,
			exit_price, exit_quantity, exit_time, last_tick_time,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12,
			$13, $14, $15,
			$16, $17, $18,
			$19, $20,
			$21, $22, $23, $24,
			$25, $26
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.PlanID, p.Coin, string(p.Side),
		p.EntryPrice, p.EntryQuantity, p.EntryValueUSD, p.EntryTime, string(p.Status),
		p.HighestPrice, p.LowestPrice, p.CurrentPrice,
		p.Fib23Price, p.Fib38Price, p.Fib50Price,
		p.Triggered23, p.Triggered38, p.Triggered50,
		p.UnrealizedPnLUSD, p.RealizedPnLUSD,
		p.ExitPrice, p.ExitQuantity, p.ExitTime, p.LastTickTime,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			status             = $2,
			highest_price      = $3,
			lowest_price       = $4,
			current_price      = $5,
			fib_23_price       = $6,
			fib_38_price       = $7,
			fib_50_price       = $8,
			triggered_23       = $9,
			triggered_38       = $10,
			triggered_50       = $11,
			unrealized_pnl_usd = $12,
			realized_pnl_usd   = $13,
			exit_price         = $14,
			exit_quantity      = $15,
			exit_time          = $16,
			last_tick_time     = $17,
			updated_at         = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, string(p.Status),
		p.HighestPrice, p.LowestPrice, p.CurrentPrice,
		p.Fib23Price, p.Fib38Price, p.Fib50Price,
		p.Triggered23, p.Triggered38, p.Triggered50,
		p.UnrealizedPnLUSD, p.RealizedPnLUSD,
		p.ExitPrice, p.ExitQuantity, p.ExitTime, p.LastTickTime,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Patch applies a partial update inside a transaction: the row is locked,
// merged with the patch, and written back.
func (s *PositionStore) Patch(ctx context.Context, id string, patch domain.PositionPatch) (domain.Position, error) {
	if patch.IsZero() {
		return s.GetByID(ctx, id)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: begin patch tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1 FOR UPDATE`, id)
	p, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: patch position %s: %w", id, err)
	}

	p = patch.Apply(p)

	const query = `
		UPDATE positions SET
			status             = $2,
			highest_price      = $3,
			lowest_price       = $4,
			current_price      = $5,
			fib_23_price       = $6,
			fib_38_price       = $7,
			fib_50_price       = $8,
			triggered_23       = $9,
			triggered_38       = $10,
			triggered_50       = $11,
			unrealized_pnl_usd = $12,
			realized_pnl_usd   = $13,
			exit_price         = $14,
			exit_quantity      = $15,
			exit_time          = $16,
			updated_at         = NOW()
		WHERE id = $1`

	if _, err := tx.Exec(ctx, query,
		p.ID, string(p.Status),
		p.HighestPrice, p.LowestPrice, p.CurrentPrice,
		p.Fib23Price, p.Fib38Price, p.Fib50Price,
		p.Triggered23, p.Triggered38, p.Triggered50,
		p.UnrealizedPnLUSD, p.RealizedPnLUSD,
		p.ExitPrice, p.ExitQuantity, p.ExitTime,
	); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: patch position %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: commit patch %s: %w", id, err)
	}
	return p, nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListActive returns every non-closed position, oldest first so the registry
// warm start replays in open order.
func (s *PositionStore) ListActive(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status <> 'closed'
		 ORDER BY entry_time ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active positions: %w", err)
	}
	return positions, nil
}

// List returns positions with optional coin and status filters, newest first.
func (s *PositionStore) List(ctx context.Context, coin string, status domain.PositionStatus, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE TRUE`
	var args []any
	argIdx := 1

	if coin != "" {
		query += fmt.Sprintf(" AND coin = $%d", argIdx)
		args = append(args, coin)
		argIdx++
	}
	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(status))
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND entry_time >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND entry_time <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY entry_time DESC"

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
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

// ListClosedBefore returns closed positions whose exit time is strictly
// before the cutoff. The archiver uses this for export.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'closed' AND exit_time < $1
		 ORDER BY exit_time ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions before %s: %w", before, err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}

// ListByPlan returns every position belonging to one plan, newest first.
func (s *PositionStore) ListByPlan(ctx context.Context, planID string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE plan_id = $1 ORDER BY entry_time DESC`
	args := []any{planID}
	argIdx := 2

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
		return nil, fmt.Errorf("postgres: list plan positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan plan positions: %w", err)
	}
	return positions, nil
}
