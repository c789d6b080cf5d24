// Package service orchestrates the hedging engine against its collaborators:
// persistence, the price cache, the signal bus, and notification channels.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"

	"github.com/colemanlowe/fibhedge/internal/domain"
	"github.com/colemanlowe/fibhedge/internal/engine"
	"github.com/colemanlowe/fibhedge/internal/fib"
	"github.com/colemanlowe/fibhedge/internal/metrics"
	"github.com/colemanlowe/fibhedge/internal/notify"
)

// Bus channels published by the hedge service.
const (
	ChannelTicks     = "ticks"
	ChannelTriggers  = "triggers"
	ChannelPositions = "positions"
)

// saveAttempts bounds the retry budget for persisting a position after a
// state-affecting tick.
const saveAttempts = 3

// HedgeService drives the position registry: it ingests ticks, persists
// mutated positions, records and publishes trigger events, and exposes the
// position lifecycle commands.
type HedgeService struct {
	registry  *engine.Registry
	positions domain.PositionStore
	plans     domain.PlanStore
	triggers  domain.TriggerStore
	prices    domain.PriceCache
	bus       domain.SignalBus
	notifier  *notify.Notifier
	logger    *slog.Logger
}

// NewHedgeService creates a HedgeService. The notifier may be nil when no
// channels are configured.
func NewHedgeService(
	registry *engine.Registry,
	positions domain.PositionStore,
	plans domain.PlanStore,
	triggers domain.TriggerStore,
	prices domain.PriceCache,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *HedgeService {
	return &HedgeService{
		registry:  registry,
		positions: positions,
		plans:     plans,
		triggers:  triggers,
		prices:    prices,
		bus:       bus,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "hedge_service")),
	}
}

// WarmStart loads every non-closed position and its plan from the store and
// rebuilds the live registry. Machines resume from their persisted extrema
// and trigger flags.
func (s *HedgeService) WarmStart(ctx context.Context) error {
	positions, err := s.positions.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("hedge_service: load active positions: %w", err)
	}

	planCache := make(map[string]domain.TradingPlan)
	registered := 0
	for _, pos := range positions {
		plan, ok := planCache[pos.PlanID]
		if !ok {
			plan, err = s.plans.GetByID(ctx, pos.PlanID)
			if err != nil {
				s.logger.ErrorContext(ctx, "skipping position with unknown plan",
					slog.String("position_id", pos.ID),
					slog.String("plan_id", pos.PlanID),
					slog.String("error", err.Error()),
				)
				continue
			}
			planCache[pos.PlanID] = plan
		}
		if _, err := s.registry.Register(pos, plan); err != nil {
			s.logger.ErrorContext(ctx, "failed to register position",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		registered++
	}

	metrics.ActivePositions.Set(float64(s.registry.ActiveCount()))
	s.logger.InfoContext(ctx, "registry warm start complete",
		slog.Int("loaded", len(positions)),
		slog.Int("registered", registered),
	)
	return nil
}

// HandleTick is the tick ingestion entry point. It caches the latest price,
// publishes the tick, fans it out to every position on the coin, persists
// the mutated positions, and records any trigger events. Per-position
// failures are isolated.
func (s *HedgeService) HandleTick(ctx context.Context, tick domain.Tick) error {
	if err := tick.Validate(); err != nil {
		metrics.TicksDropped.WithLabelValues("invalid").Inc()
		return err
	}

	if err := s.prices.SetPrice(ctx, tick.Coin, tick.Price, tick.Timestamp); err != nil {
		s.logger.WarnContext(ctx, "price cache update failed",
			slog.String("coin", tick.Coin),
			slog.String("error", err.Error()),
		)
	}
	s.publish(ctx, ChannelTicks, map[string]any{
		"event":     "tick",
		"coin":      tick.Coin,
		"price":     tick.Price,
		"timestamp": tick.Timestamp.Format(time.RFC3339Nano),
	})

	for _, outcome := range s.registry.RouteTick(tick) {
		if outcome.Err != nil {
			switch {
			case errors.Is(outcome.Err, domain.ErrStaleTick):
				metrics.TicksDropped.WithLabelValues("stale").Inc()
			case errors.Is(outcome.Err, domain.ErrInvalidTick):
				metrics.TicksDropped.WithLabelValues("invalid").Inc()
			case errors.Is(outcome.Err, domain.ErrAlreadyClosed):
				// Closed between index read and application; drop it from
				// the fan-out index for good.
				s.registry.Unregister(outcome.PositionID)
			}
			continue
		}

		metrics.TicksProcessed.WithLabelValues(tick.Coin).Inc()
		s.persistPosition(ctx, outcome.PositionID, outcome.Result.Position)

		if evt := outcome.Result.Trigger; evt != nil {
			s.recordTrigger(ctx, *evt)
		}
	}

	metrics.ActivePositions.Set(float64(s.registry.ActiveCount()))
	return nil
}

// persistPosition saves a position snapshot with bounded retries. If every
// attempt fails the in-memory state stays authoritative: the machine is
// marked dirty and a degraded-health signal is raised, never a rollback.
func (s *HedgeService) persistPosition(ctx context.Context, positionID string, pos domain.Position) {
	b := &backoff.Backoff{Min: 100 * time.Millisecond, Max: 2 * time.Second, Factor: 2}

	var err error
	for attempt := 1; attempt <= saveAttempts; attempt++ {
		if err = s.positions.Update(ctx, pos); err == nil {
			s.setDirty(positionID, false)
			return
		}
		if attempt < saveAttempts {
			select {
			case <-ctx.Done():
				err = ctx.Err()
				attempt = saveAttempts
			case <-time.After(b.Duration()):
			}
		}
	}

	metrics.PersistenceFailures.Inc()
	s.setDirty(positionID, true)
	s.logger.ErrorContext(ctx, "position save failed after retries, in-memory state kept authoritative",
		slog.String("position_id", positionID),
		slog.Int("attempts", saveAttempts),
		slog.String("error", err.Error()),
	)
	if s.notifier != nil {
		_ = s.notifier.Notify(ctx, notify.EventDegraded,
			"persistence degraded",
			fmt.Sprintf("position %s could not be saved after %d attempts: %v", positionID, saveAttempts, err),
		)
	}
}

func (s *HedgeService) setDirty(positionID string, dirty bool) {
	if m, err := s.registry.Get(positionID); err == nil {
		m.SetDirty(dirty)
	}
	metrics.DirtyPositions.Set(float64(s.DirtyCount()))
}

// recordTrigger persists, publishes, and notifies one trigger event.
func (s *HedgeService) recordTrigger(ctx context.Context, evt domain.TriggerEvent) {
	metrics.TriggersFired.WithLabelValues(strconv.Itoa(int(evt.Level)), string(evt.Action)).Inc()

	if err := s.triggers.Insert(ctx, evt); err != nil {
		s.logger.ErrorContext(ctx, "trigger event insert failed",
			slog.String("trigger_id", evt.ID),
			slog.String("position_id", evt.PositionID),
			slog.String("error", err.Error()),
		)
	}
	s.publish(ctx, ChannelTriggers, map[string]any{
		"event":            "trigger",
		"trigger_id":       evt.ID,
		"position_id":      evt.PositionID,
		"coin":             evt.Coin,
		"level":            int(evt.Level),
		"action":           string(evt.Action),
		"price":            evt.Price,
		"retracement":      evt.Retracement,
		"hedge_amount_usd": evt.HedgeAmountUSD,
		"timestamp":        evt.Timestamp.Format(time.RFC3339Nano),
	})
	if s.notifier != nil {
		if err := s.notifier.TriggerFired(ctx, evt); err != nil {
			s.logger.WarnContext(ctx, "trigger notification failed",
				slog.String("trigger_id", evt.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// OpenPositionRequest carries the inputs for opening a position under a plan.
type OpenPositionRequest struct {
	PlanID        string
	Side          domain.Side
	EntryPrice    decimal.Decimal
	EntryQuantity decimal.Decimal
	EntryTime     time.Time
}

// OpenPosition creates a position under an active plan, persists it, and
// registers it with the live registry.
func (s *HedgeService) OpenPosition(ctx context.Context, req OpenPositionRequest) (domain.Position, error) {
	plan, err := s.plans.GetByID(ctx, req.PlanID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("hedge_service: load plan %q: %w", req.PlanID, err)
	}
	if !plan.IsActive {
		return domain.Position{}, fmt.Errorf("hedge_service: plan %q: %w: plan is inactive", req.PlanID, domain.ErrPlanConfig)
	}
	if !req.Side.Valid() {
		return domain.Position{}, fmt.Errorf("hedge_service: unknown side %q", req.Side)
	}
	if !req.EntryPrice.IsPositive() || !req.EntryQuantity.IsPositive() {
		return domain.Position{}, fmt.Errorf("hedge_service: entry price and quantity must be positive")
	}

	open, err := s.countOpenForPlan(ctx, plan.ID)
	if err != nil {
		return domain.Position{}, err
	}
	if open >= plan.MaxPositionCount {
		return domain.Position{}, fmt.Errorf("hedge_service: plan %q already has %d open position(s), max %d",
			plan.ID, open, plan.MaxPositionCount)
	}

	now := time.Now().UTC()
	entryTime := req.EntryTime
	if entryTime.IsZero() {
		entryTime = now
	}

	pos := domain.Position{
		ID:            uuid.NewString(),
		PlanID:        plan.ID,
		Coin:          plan.Coin,
		Side:          req.Side,
		EntryPrice:    req.EntryPrice,
		EntryQuantity: req.EntryQuantity,
		EntryValueUSD: req.EntryPrice.Mul(req.EntryQuantity),
		EntryTime:     entryTime,
		Status:        domain.StatusActive,
		HighestPrice:  req.EntryPrice,
		LowestPrice:   req.EntryPrice,
		CurrentPrice:  req.EntryPrice,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.positions.Create(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("hedge_service: create position: %w", err)
	}
	if _, err := s.registry.Register(pos, plan); err != nil {
		return domain.Position{}, fmt.Errorf("hedge_service: register position: %w", err)
	}
	metrics.ActivePositions.Set(float64(s.registry.ActiveCount()))

	s.publish(ctx, ChannelPositions, map[string]any{
		"event":       "position_opened",
		"position_id": pos.ID,
		"coin":        pos.Coin,
		"side":        string(pos.Side),
		"entry_price": pos.EntryPrice,
		"quantity":    pos.EntryQuantity,
	})
	s.logger.InfoContext(ctx, "position opened",
		slog.String("position_id", pos.ID),
		slog.String("coin", pos.Coin),
		slog.String("side", string(pos.Side)),
		slog.String("entry_price", pos.EntryPrice.String()),
	)
	return pos, nil
}

func (s *HedgeService) countOpenForPlan(ctx context.Context, planID string) (int, error) {
	existing, err := s.positions.ListByPlan(ctx, planID, domain.ListOpts{})
	if err != nil {
		return 0, fmt.Errorf("hedge_service: list plan positions: %w", err)
	}
	open := 0
	for _, p := range existing {
		if !p.IsClosed() {
			open++
		}
	}
	return open, nil
}

// ClosePosition terminates a position. The close is linearized against ticks
// by the machine's own mutex; a repeat close surfaces ErrAlreadyClosed to the
// caller. Positions not currently registered (e.g. API-only mode) are
// rehydrated from the store first.
func (s *HedgeService) ClosePosition(ctx context.Context, positionID string, exitPrice, exitQuantity decimal.Decimal, exitTime time.Time) (domain.Position, error) {
	m, err := s.registry.Get(positionID)
	if errors.Is(err, domain.ErrNotFound) {
		m, err = s.rehydrate(ctx, positionID)
	}
	if err != nil {
		return domain.Position{}, err
	}

	if exitQuantity.IsZero() {
		exitQuantity = m.Snapshot().EntryQuantity
	}

	pos, err := m.Close(exitPrice, exitQuantity, exitTime)
	if err != nil {
		return pos, err
	}

	s.persistPosition(ctx, positionID, pos)
	s.registry.Unregister(positionID)
	metrics.ActivePositions.Set(float64(s.registry.ActiveCount()))

	s.publish(ctx, ChannelPositions, map[string]any{
		"event":            "position_closed",
		"position_id":      pos.ID,
		"coin":             pos.Coin,
		"exit_price":       pos.ExitPrice,
		"realized_pnl_usd": pos.RealizedPnLUSD,
	})
	if s.notifier != nil {
		if nerr := s.notifier.PositionClosed(ctx, pos); nerr != nil {
			s.logger.WarnContext(ctx, "close notification failed",
				slog.String("position_id", pos.ID),
				slog.String("error", nerr.Error()),
			)
		}
	}
	return pos, nil
}

// rehydrate loads a position from the store and registers it on demand.
func (s *HedgeService) rehydrate(ctx context.Context, positionID string) (*engine.Machine, error) {
	pos, err := s.positions.GetByID(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("hedge_service: load position %q: %w", positionID, err)
	}
	if pos.IsClosed() {
		return nil, domain.ErrAlreadyClosed
	}
	plan, err := s.plans.GetByID(ctx, pos.PlanID)
	if err != nil {
		return nil, fmt.Errorf("hedge_service: load plan %q: %w", pos.PlanID, err)
	}
	return s.registry.Register(pos, plan)
}

// GetPosition returns the live snapshot when the position is registered, the
// stored row otherwise.
func (s *HedgeService) GetPosition(ctx context.Context, positionID string) (domain.Position, error) {
	if m, err := s.registry.Get(positionID); err == nil {
		return m.Snapshot(), nil
	}
	return s.positions.GetByID(ctx, positionID)
}

// Analysis builds the Fibonacci read model for a position: levels,
// retracement, gain fractions, trigger flags, and the policy's current
// recommendation. The evaluation is read-only; no level is consumed.
func (s *HedgeService) Analysis(ctx context.Context, positionID string) (domain.FibAnalysis, error) {
	pos, err := s.GetPosition(ctx, positionID)
	if err != nil {
		return domain.FibAnalysis{}, err
	}
	plan, err := s.plans.GetByID(ctx, pos.PlanID)
	if err != nil {
		return domain.FibAnalysis{}, fmt.Errorf("hedge_service: load plan %q: %w", pos.PlanID, err)
	}

	a := domain.FibAnalysis{
		PositionID:   pos.ID,
		Coin:         pos.Coin,
		Side:         pos.Side,
		Status:       pos.Status,
		EntryPrice:   pos.EntryPrice,
		CurrentPrice: pos.CurrentPrice,
		HighestPrice: pos.HighestPrice,
		LowestPrice:  pos.LowestPrice,
		Level23Price: pos.Fib23Price,
		Level38Price: pos.Fib38Price,
		Level50Price: pos.Fib50Price,
		Triggered23:  pos.Triggered23,
		Triggered38:  pos.Triggered38,
		Triggered50:  pos.Triggered50,
		AsOf:         time.Now().UTC(),
	}

	if pos.CurrentPrice.IsPositive() {
		gain := fib.Gain(pos.Side, pos.EntryPrice, pos.CurrentPrice)
		a.CurrentGainPct = gain.Div(pos.EntryPrice)
	}
	extremum := pos.Extremum()
	if peak := fib.Gain(pos.Side, pos.EntryPrice, extremum); peak.IsPositive() {
		a.PeakGainPct = peak.Div(pos.EntryPrice)
	}

	a.RecommendedAction = domain.ActionHold
	if pos.CurrentPrice.IsPositive() && !pos.IsClosed() {
		ret, err := fib.Retracement(pos.Side, pos.EntryPrice, extremum, pos.CurrentPrice)
		if err == nil {
			a.CurrentRetracementPct = ret
			decision := fib.Evaluate(&pos, &plan, ret)
			if !decision.Advisory {
				a.RecommendedAction = decision.Action
			}
			a.HedgeSuggested = decision.Action == domain.ActionHedge
			a.ScaleSuggested = decision.Action == domain.ActionScale
		}
	}
	return a, nil
}

// DirtyCount returns the number of live positions whose in-memory state is
// ahead of the store.
func (s *HedgeService) DirtyCount() int {
	n := 0
	for _, m := range s.registry.Machines() {
		if m.Snapshot().Dirty {
			n++
		}
	}
	return n
}

// publish marshals and publishes a bus event; failures are logged, never
// surfaced, so a degraded bus cannot stall tick processing.
func (s *HedgeService) publish(ctx context.Context, channel string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, channel, data); err != nil {
		s.logger.WarnContext(ctx, "bus publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}
