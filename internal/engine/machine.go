// Package engine owns the live position lifecycle: one Machine per open
// position applies price ticks in order and emits trigger events; the
// Registry fans incoming ticks out to the machines on the tick's coin.
package engine

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/colemanlowe/fibhedge/internal/domain"
	"github.com/colemanlowe/fibhedge/internal/fib"
)

// Machine drives a single position through active -> hedged -> scaled ->
// closed. All access is serialized by an internal mutex, so a close command
// either fully precedes or fully follows any in-flight tick for the same
// position.
type Machine struct {
	mu      sync.Mutex
	pos     domain.Position
	plan    domain.TradingPlan
	tracker *fib.Tracker
	logger  *slog.Logger
}

// TickResult is the outcome of applying one tick.
type TickResult struct {
	// Position is a snapshot taken after the tick was applied.
	Position domain.Position
	// Trigger is non-nil when this tick crossed an untriggered level.
	Trigger *domain.TriggerEvent
	// NewExtremum reports whether the tick moved the favorable extremum.
	NewExtremum bool
}

// NewMachine builds a machine for a position governed by the given plan. The
// extrema tracker is restored from the position's persisted state, so a
// machine rebuilt at warm start resumes exactly where it left off.
func NewMachine(pos domain.Position, plan domain.TradingPlan, logger *slog.Logger) (*Machine, error) {
	if !pos.EntryPrice.IsPositive() {
		return nil, fmt.Errorf("engine: position %s: entry price must be positive", pos.ID)
	}
	if !pos.EntryQuantity.IsPositive() {
		return nil, fmt.Errorf("engine: position %s: entry quantity must be positive", pos.ID)
	}
	if !pos.Side.Valid() {
		return nil, fmt.Errorf("engine: position %s: unknown side %q", pos.ID, pos.Side)
	}
	if pos.Status == "" {
		pos.Status = domain.StatusActive
	}

	tracker := fib.RestoreTracker(pos.EntryPrice, pos.HighestPrice, pos.LowestPrice)
	pos.HighestPrice = tracker.Highest()
	pos.LowestPrice = tracker.Lowest()

	return &Machine{
		pos:     pos,
		plan:    plan,
		tracker: tracker,
		logger: logger.With(
			slog.String("component", "position_machine"),
			slog.String("position_id", pos.ID),
			slog.String("coin", pos.Coin),
		),
	}, nil
}

// ID returns the position id.
func (m *Machine) ID() string { return m.pos.ID }

// Coin returns the position's coin symbol.
func (m *Machine) Coin() string { return m.pos.Coin }

// Snapshot returns a copy of the position's current state.
func (m *Machine) Snapshot() domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos
}

// SetDirty flags or clears the position's dirty bit after a persistence
// attempt. In-memory state is authoritative either way.
func (m *Machine) SetDirty(dirty bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos.Dirty = dirty
}

// ApplyTick runs the per-tick protocol: validate, update extrema, recompute
// levels on a new favorable extremum, refresh price and unrealized P&L, and
// ask the decision policy whether an untriggered level has been crossed. At
// most one trigger fires per tick (the deepest untriggered level) and every
// shallower level is marked triggered with it.
func (m *Machine) ApplyTick(tick domain.Tick) (TickResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pos.IsClosed() {
		return TickResult{Position: m.pos}, domain.ErrAlreadyClosed
	}
	if err := tick.Validate(); err != nil {
		return TickResult{Position: m.pos}, err
	}
	if !strings.EqualFold(tick.Coin, m.pos.Coin) {
		return TickResult{Position: m.pos}, fmt.Errorf("%w: tick coin %q does not match position coin %q",
			domain.ErrInvalidTick, tick.Coin, m.pos.Coin)
	}
	if !m.pos.LastTickTime.IsZero() && tick.Timestamp.Before(m.pos.LastTickTime) {
		return TickResult{Position: m.pos}, fmt.Errorf("%w: tick at %s is older than last applied %s",
			domain.ErrStaleTick, tick.Timestamp.Format(time.RFC3339Nano), m.pos.LastTickTime.Format(time.RFC3339Nano))
	}

	newHigh, newLow, err := m.tracker.Update(tick.Price)
	if err != nil {
		return TickResult{Position: m.pos}, err
	}
	m.pos.HighestPrice = m.tracker.Highest()
	m.pos.LowestPrice = m.tracker.Lowest()

	newExtremum := (m.pos.Side == domain.SideLong && newHigh) || (m.pos.Side == domain.SideShort && newLow)
	if newExtremum {
		m.recomputeLevels()
	}

	m.pos.CurrentPrice = tick.Price
	m.pos.LastTickTime = tick.Timestamp
	m.pos.UnrealizedPnLUSD = m.pos.UnrealizedPnL(tick.Price)

	trigger := m.evaluate(tick)

	return TickResult{Position: m.pos, Trigger: trigger, NewExtremum: newExtremum}, nil
}

// recomputeLevels refreshes the cached level prices from the current
// extremum. A non-positive gain leaves the levels unset.
func (m *Machine) recomputeLevels() {
	levels, err := fib.Levels(
		m.pos.Side, m.pos.EntryPrice, m.tracker.Extremum(m.pos.Side),
		m.plan.Retracement23, m.plan.Retracement38, m.plan.Retracement50,
	)
	if err != nil {
		return
	}
	m.pos.Fib23Price = levels.Price23
	m.pos.Fib38Price = levels.Price38
	m.pos.Fib50Price = levels.Price50
}

// evaluate asks the policy for a decision and applies it: marks the level
// (and all shallower ones) triggered, advances the status one step, and
// builds the trigger event. The caller holds m.mu.
func (m *Machine) evaluate(tick domain.Tick) *domain.TriggerEvent {
	retracement, err := fib.Retracement(m.pos.Side, m.pos.EntryPrice, m.tracker.Extremum(m.pos.Side), tick.Price)
	if err != nil {
		return nil // no favorable gain yet, nothing can be triggered
	}

	decision := fib.Evaluate(&m.pos, &m.plan, retracement)
	if decision.Level == domain.LevelNone {
		return nil
	}

	m.pos.MarkTriggered(decision.Level)

	if decision.Advisory {
		m.logger.Info("retracement level crossed, scaling disabled on plan, holding",
			slog.Int("level", int(decision.Level)),
			slog.String("retracement", retracement.String()),
		)
		return nil
	}

	m.advanceStatus(decision.Action)

	evt := &domain.TriggerEvent{
		ID:             uuid.NewString(),
		PositionID:     m.pos.ID,
		Coin:           m.pos.Coin,
		Side:           m.pos.Side,
		Level:          decision.Level,
		Action:         decision.Action,
		Price:          tick.Price,
		Retracement:    retracement,
		HedgeAmountUSD: decision.HedgeAmountUSD,
		Timestamp:      tick.Timestamp,
	}

	m.logger.Info("fibonacci level triggered",
		slog.Int("level", int(decision.Level)),
		slog.String("action", string(decision.Action)),
		slog.String("price", tick.Price.String()),
		slog.String("retracement", retracement.String()),
		slog.String("status", string(m.pos.Status)),
	)
	return evt
}

// advanceStatus moves the lifecycle forward one step per trigger: active
// positions become hedged on their first trigger; hedged positions become
// scaled when a deeper level recommends scaling. There is no backward
// transition.
func (m *Machine) advanceStatus(action domain.Action) {
	switch m.pos.Status {
	case domain.StatusActive:
		m.pos.Status = domain.StatusHedged
	case domain.StatusHedged:
		if action == domain.ActionScale {
			m.pos.Status = domain.StatusScaled
		}
	}
}

// Close terminates the position: sets the exit fields, computes realized
// P&L, and transitions to closed. A second close is rejected with
// ErrAlreadyClosed so callers observe the conflict.
func (m *Machine) Close(exitPrice, exitQuantity decimal.Decimal, exitTime time.Time) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pos.IsClosed() {
		return m.pos, domain.ErrAlreadyClosed
	}
	if !exitPrice.IsPositive() {
		return m.pos, fmt.Errorf("engine: close position %s: exit price must be positive", m.pos.ID)
	}
	if !exitQuantity.IsPositive() {
		return m.pos, fmt.Errorf("engine: close position %s: exit quantity must be positive", m.pos.ID)
	}
	if exitTime.IsZero() {
		exitTime = time.Now().UTC()
	}

	var realized decimal.Decimal
	if m.pos.Side == domain.SideShort {
		realized = m.pos.EntryPrice.Sub(exitPrice).Mul(exitQuantity)
	} else {
		realized = exitPrice.Sub(m.pos.EntryPrice).Mul(exitQuantity)
	}

	m.pos.ExitPrice = exitPrice
	m.pos.ExitQuantity = exitQuantity
	m.pos.ExitTime = &exitTime
	m.pos.RealizedPnLUSD = m.pos.RealizedPnLUSD.Add(realized)
	m.pos.CurrentPrice = exitPrice
	m.pos.UnrealizedPnLUSD = decimal.Zero
	m.pos.Status = domain.StatusClosed

	m.logger.Info("position closed",
		slog.String("exit_price", exitPrice.String()),
		slog.String("realized_pnl_usd", m.pos.RealizedPnLUSD.String()),
	)
	return m.pos, nil
}
