package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/colemanlowe/fibhedge/internal/domain"
)

// TriggerStore implements domain.TriggerStore using PostgreSQL. The table is
// append-only.
type TriggerStore struct {
	pool *pgxpool.Pool
}

// NewTriggerStore creates a TriggerStore backed by the given connection pool.
func NewTriggerStore(pool *pgxpool.Pool) *TriggerStore {
	return &TriggerStore{pool: pool}
}

const triggerSelectCols = `id, position_id, coin, side, level, action,
	price, retracement, hedge_amount_usd, triggered_at`

func scanTriggerRows(rows pgx.Rows) ([]domain.TriggerEvent, error) {
	var events []domain.TriggerEvent
	for rows.Next() {
		var e domain.TriggerEvent
		var side, action string
		var level int

		if err := rows.Scan(
			&e.ID, &e.PositionID, &e.Coin, &side, &level, &action,
			&e.Price, &e.Retracement, &e.HedgeAmountUSD, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.Side = domain.Side(side)
		e.Level = domain.FibLevel(level)
		e.Action = domain.Action(action)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Insert records one trigger event.
func (s *TriggerStore) Insert(ctx context.Context, e domain.TriggerEvent) error {
	const query = `
		INSERT INTO trigger_events (
			id, position_id, coin, side, level, action,
			price, retracement, hedge_amount_usd, triggered_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		e.ID, e.PositionID, e.Coin, string(e.Side), int(e.Level), string(e.Action),
		e.Price, e.Retracement, e.HedgeAmountUSD, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trigger %s: %w", e.ID, err)
	}
	return nil
}

// ListByPosition returns a position's trigger history, oldest first.
func (s *TriggerStore) ListByPosition(ctx context.Context, positionID string) ([]domain.TriggerEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+triggerSelectCols+` FROM trigger_events
		 WHERE position_id = $1
		 ORDER BY triggered_at ASC`, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list triggers for position %s: %w", positionID, err)
	}
	defer rows.Close()

	events, err := scanTriggerRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan triggers: %w", err)
	}
	return events, nil
}

// ListRecent returns the latest trigger events across all positions.
func (s *TriggerStore) ListRecent(ctx context.Context, limit int) ([]domain.TriggerEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+triggerSelectCols+` FROM trigger_events
		 ORDER BY triggered_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent triggers: %w", err)
	}
	defer rows.Close()

	events, err := scanTriggerRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent triggers: %w", err)
	}
	return events, nil
}

// ListBefore returns trigger events fired strictly before the cutoff, oldest
// first. The archiver uses this for export.
func (s *TriggerStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TriggerEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+triggerSelectCols+` FROM trigger_events
		 WHERE triggered_at < $1
		 ORDER BY triggered_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list triggers before %s: %w", before, err)
	}
	defer rows.Close()

	events, err := scanTriggerRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan triggers before: %w", err)
	}
	return events, nil
}

// ListSince returns every trigger event at or after the given time, oldest
// first. The archiver uses this for incremental export.
func (s *TriggerStore) ListSince(ctx context.Context, since time.Time) ([]domain.TriggerEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+triggerSelectCols+` FROM trigger_events
		 WHERE triggered_at >= $1
		 ORDER BY triggered_at ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list triggers since %s: %w", since, err)
	}
	defer rows.Close()

	events, err := scanTriggerRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan triggers since: %w", err)
	}
	return events, nil
}
