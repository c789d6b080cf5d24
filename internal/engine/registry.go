package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/colemanlowe/fibhedge/internal/domain"
)

// Registry owns all live position machines, keyed by position id, with a
// secondary coin index for tick fan-out. Closed positions stay queryable but
// leave the fan-out index. The registry locks only its own maps; per-position
// computation runs under each machine's own mutex so one coin's positions
// never block another's.
type Registry struct {
	mu       sync.RWMutex
	machines map[string]*Machine
	byCoin   map[string]map[string]struct{}
	logger   *slog.Logger
}

// TickOutcome pairs one position's result of a routed tick with its error,
// so a failure on one position never hides the siblings' results.
type TickOutcome struct {
	PositionID string
	Result     TickResult
	Err        error
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		machines: make(map[string]*Machine),
		byCoin:   make(map[string]map[string]struct{}),
		logger:   logger.With(slog.String("component", "position_registry")),
	}
}

// Register builds a machine for the position and adds it to the fan-out
// index. Registering an id twice is rejected.
func (r *Registry) Register(pos domain.Position, plan domain.TradingPlan) (*Machine, error) {
	m, err := NewMachine(pos, plan, r.logger)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.machines[pos.ID]; ok {
		return nil, fmt.Errorf("engine: position %s: %w", pos.ID, domain.ErrAlreadyExists)
	}
	r.machines[pos.ID] = m

	coin := coinKey(pos.Coin)
	if !pos.IsClosed() {
		if r.byCoin[coin] == nil {
			r.byCoin[coin] = make(map[string]struct{})
		}
		r.byCoin[coin][pos.ID] = struct{}{}
	}

	r.logger.Info("position registered",
		slog.String("position_id", pos.ID),
		slog.String("coin", pos.Coin),
		slog.String("status", string(pos.Status)),
	)
	return m, nil
}

// Unregister removes a position from the tick fan-out index. The machine
// stays in the registry so the position remains queryable after close.
func (r *Registry) Unregister(positionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.machines[positionID]
	if !ok {
		return
	}
	coin := coinKey(m.Coin())
	if ids, ok := r.byCoin[coin]; ok {
		delete(ids, positionID)
		if len(ids) == 0 {
			delete(r.byCoin, coin)
		}
	}
}

// Get returns the machine for a position id.
func (r *Registry) Get(positionID string) (*Machine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.machines[positionID]
	if !ok {
		return nil, fmt.Errorf("engine: position %s: %w", positionID, domain.ErrNotFound)
	}
	return m, nil
}

// Machines returns all registered machines in position-id order.
func (r *Registry) Machines() []*Machine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Machine, 0, len(r.machines))
	for _, m := range r.machines {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ActiveCount returns the number of positions in the fan-out index.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, ids := range r.byCoin {
		n += len(ids)
	}
	return n
}

// RouteTick dispatches a tick to every indexed position on the tick's coin.
// The index is only read under the lock; each machine applies the tick under
// its own mutex. Failures are isolated per position: stale and invalid ticks
// are dropped with a log entry, and one position's error never blocks
// delivery to its siblings.
func (r *Registry) RouteTick(tick domain.Tick) []TickOutcome {
	if err := tick.Validate(); err != nil {
		r.logger.Warn("dropping invalid tick",
			slog.String("coin", tick.Coin),
			slog.String("error", err.Error()),
		)
		return nil
	}

	r.mu.RLock()
	ids := make([]string, 0, len(r.byCoin[coinKey(tick.Coin)]))
	for id := range r.byCoin[coinKey(tick.Coin)] {
		ids = append(ids, id)
	}
	machines := make([]*Machine, 0, len(ids))
	sort.Strings(ids)
	for _, id := range ids {
		if m, ok := r.machines[id]; ok {
			machines = append(machines, m)
		}
	}
	r.mu.RUnlock()

	outcomes := make([]TickOutcome, 0, len(machines))
	for _, m := range machines {
		res, err := m.ApplyTick(tick)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrStaleTick):
				r.logger.Debug("stale tick dropped",
					slog.String("position_id", m.ID()),
					slog.String("error", err.Error()),
				)
			case errors.Is(err, domain.ErrInvalidTick):
				r.logger.Warn("invalid tick dropped",
					slog.String("position_id", m.ID()),
					slog.String("error", err.Error()),
				)
			default:
				r.logger.Error("tick application failed",
					slog.String("position_id", m.ID()),
					slog.String("error", err.Error()),
				)
			}
		}
		outcomes = append(outcomes, TickOutcome{PositionID: m.ID(), Result: res, Err: err})
	}
	return outcomes
}

func coinKey(coin string) string {
	return strings.ToUpper(strings.TrimSpace(coin))
}
