package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colemanlowe/fibhedge/internal/domain"
	"github.com/colemanlowe/fibhedge/internal/engine"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	updateErr error
	updates   int
}

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{positions: make(map[string]domain.Position)}
}

func (f *fakePositionStore) Create(_ context.Context, pos domain.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.positions[pos.ID]; ok {
		return domain.ErrAlreadyExists
	}
	f.positions[pos.ID] = pos
	return nil
}

func (f *fakePositionStore) Update(_ context.Context, pos domain.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.updateErr != nil {
		return f.updateErr
	}
	f.positions[pos.ID] = pos
	return nil
}

func (f *fakePositionStore) Patch(_ context.Context, id string, patch domain.PositionPatch) (domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pos, ok := f.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	pos = patch.Apply(pos)
	f.positions[id] = pos
	return pos, nil
}

func (f *fakePositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pos, ok := f.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (f *fakePositionStore) ListActive(_ context.Context) ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Position
	for _, pos := range f.positions {
		if !pos.IsClosed() {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (f *fakePositionStore) List(_ context.Context, coin string, status domain.PositionStatus, _ domain.ListOpts) ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Position
	for _, pos := range f.positions {
		if coin != "" && pos.Coin != coin {
			continue
		}
		if status != "" && pos.Status != status {
			continue
		}
		out = append(out, pos)
	}
	return out, nil
}

func (f *fakePositionStore) ListByPlan(_ context.Context, planID string, _ domain.ListOpts) ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Position
	for _, pos := range f.positions {
		if pos.PlanID == planID {
			out = append(out, pos)
		}
	}
	return out, nil
}

type fakePlanStore struct {
	plans map[string]domain.TradingPlan
}

func newFakePlanStore(plans ...domain.TradingPlan) *fakePlanStore {
	f := &fakePlanStore{plans: make(map[string]domain.TradingPlan)}
	for _, p := range plans {
		f.plans[p.ID] = p
	}
	return f
}

func (f *fakePlanStore) Create(_ context.Context, plan domain.TradingPlan) error {
	f.plans[plan.ID] = plan
	return nil
}

func (f *fakePlanStore) Update(_ context.Context, plan domain.TradingPlan) error {
	f.plans[plan.ID] = plan
	return nil
}

func (f *fakePlanStore) Deactivate(_ context.Context, id string) error {
	plan, ok := f.plans[id]
	if !ok {
		return domain.ErrNotFound
	}
	plan.IsActive = false
	f.plans[id] = plan
	return nil
}

func (f *fakePlanStore) GetByID(_ context.Context, id string) (domain.TradingPlan, error) {
	plan, ok := f.plans[id]
	if !ok {
		return domain.TradingPlan{}, domain.ErrNotFound
	}
	return plan, nil
}

func (f *fakePlanStore) List(_ context.Context, activeOnly bool, _ domain.ListOpts) ([]domain.TradingPlan, error) {
	var out []domain.TradingPlan
	for _, p := range f.plans {
		if activeOnly && !p.IsActive {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *fakePlanStore) Stats(_ context.Context, id string) (domain.PlanStats, error) {
	if _, ok := f.plans[id]; !ok {
		return domain.PlanStats{}, domain.ErrNotFound
	}
	return domain.PlanStats{PlanID: id}, nil
}

type fakeTriggerStore struct {
	mu     sync.Mutex
	events []domain.TriggerEvent
}

func (f *fakeTriggerStore) Insert(_ context.Context, evt domain.TriggerEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeTriggerStore) ListByPosition(_ context.Context, positionID string) ([]domain.TriggerEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.TriggerEvent
	for _, e := range f.events {
		if e.PositionID == positionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeTriggerStore) ListRecent(_ context.Context, _ int) ([]domain.TriggerEvent, error) {
	return f.events, nil
}

func (f *fakeTriggerStore) ListSince(_ context.Context, _ time.Time) ([]domain.TriggerEvent, error) {
	return f.events, nil
}

type fakePriceCache struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
}

func newFakePriceCache() *fakePriceCache {
	return &fakePriceCache{prices: make(map[string]decimal.Decimal)}
}

func (f *fakePriceCache) SetPrice(_ context.Context, coin string, price decimal.Decimal, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[coin] = price
	return nil
}

func (f *fakePriceCache) GetPrice(_ context.Context, coin string) (decimal.Decimal, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	price, ok := f.prices[coin]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	return price, time.Now(), nil
}

func (f *fakePriceCache) GetPrices(_ context.Context, coins []string) (map[string]decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(coins))
	for _, c := range coins {
		if p, ok := f.prices[c]; ok {
			out[c] = p
		}
	}
	return out, nil
}

type fakeBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{messages: make(map[string][][]byte)}
}

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[channel] = append(f.messages[channel], payload)
	return nil
}

func (f *fakeBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (f *fakeBus) count(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages[channel])
}

type serviceEnv struct {
	svc       *HedgeService
	positions *fakePositionStore
	plans     *fakePlanStore
	triggers  *fakeTriggerStore
	prices    *fakePriceCache
	bus       *fakeBus
	registry  *engine.Registry
}

func newServiceEnv(t *testing.T, plans ...domain.TradingPlan) *serviceEnv {
	t.Helper()
	env := &serviceEnv{
		positions: newFakePositionStore(),
		plans:     newFakePlanStore(plans...),
		triggers:  &fakeTriggerStore{},
		prices:    newFakePriceCache(),
		bus:       newFakeBus(),
		registry:  engine.NewRegistry(discardLogger()),
	}
	env.svc = NewHedgeService(
		env.registry, env.positions, env.plans, env.triggers,
		env.prices, env.bus, nil, discardLogger(),
	)
	return env
}

func testPlan(id string) domain.TradingPlan {
	plan := domain.DefaultPlan("BTC")
	plan.ID = id
	plan.PositionSizeUSD = d("1000")
	plan.MaxPositionCount = 2
	return plan
}

func openTestPosition(t *testing.T, env *serviceEnv, price string) domain.Position {
	t.Helper()
	pos, err := env.svc.OpenPosition(context.Background(), OpenPositionRequest{
		PlanID:        "plan-1",
		Side:          domain.SideLong,
		EntryPrice:    d(price),
		EntryQuantity: d("10"),
	})
	require.NoError(t, err)
	return pos
}

func TestOpenPositionRegistersAndPersists(t *testing.T) {
	env := newServiceEnv(t, testPlan("plan-1"))

	pos := openTestPosition(t, env, "100")

	assert.Equal(t, "BTC", pos.Coin)
	assert.True(t, pos.EntryValueUSD.Equal(d("1000")))
	assert.Equal(t, domain.StatusActive, pos.Status)

	stored, err := env.positions.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.ID, stored.ID)

	_, err = env.registry.Get(pos.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, env.bus.count(ChannelPositions))
}

func TestOpenPositionEnforcesMaxCount(t *testing.T) {
	plan := testPlan("plan-1")
	plan.MaxPositionCount = 1
	env := newServiceEnv(t, plan)

	openTestPosition(t, env, "100")

	_, err := env.svc.OpenPosition(context.Background(), OpenPositionRequest{
		PlanID:        "plan-1",
		Side:          domain.SideLong,
		EntryPrice:    d("100"),
		EntryQuantity: d("10"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max")
}

func TestOpenPositionRejectsInactivePlan(t *testing.T) {
	plan := testPlan("plan-1")
	plan.IsActive = false
	env := newServiceEnv(t, plan)

	_, err := env.svc.OpenPosition(context.Background(), OpenPositionRequest{
		PlanID:        "plan-1",
		Side:          domain.SideLong,
		EntryPrice:    d("100"),
		EntryQuantity: d("10"),
	})
	require.ErrorIs(t, err, domain.ErrPlanConfig)
}

func TestHandleTickPersistsAndRecordsTrigger(t *testing.T) {
	env := newServiceEnv(t, testPlan("plan-1"))
	pos := openTestPosition(t, env, "100")
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, env.svc.HandleTick(ctx, domain.Tick{Coin: "BTC", Price: d("150"), Timestamp: base}))
	require.NoError(t, env.svc.HandleTick(ctx, domain.Tick{Coin: "BTC", Price: d("130"), Timestamp: base.Add(time.Second)}))

	stored, err := env.positions.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusHedged, stored.Status)
	assert.True(t, stored.Triggered23)
	assert.True(t, stored.Triggered38)
	assert.False(t, stored.Dirty)

	events, err := env.triggers.ListByPosition(ctx, pos.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.Level38, events[0].Level)
	assert.Equal(t, domain.ActionScale, events[0].Action)

	assert.Equal(t, 2, env.bus.count(ChannelTicks))
	assert.Equal(t, 1, env.bus.count(ChannelTriggers))

	price, _, err := env.prices.GetPrice(ctx, "BTC")
	require.NoError(t, err)
	assert.True(t, price.Equal(d("130")))
}

func TestHandleTickRejectsInvalid(t *testing.T) {
	env := newServiceEnv(t, testPlan("plan-1"))

	err := env.svc.HandleTick(context.Background(), domain.Tick{Coin: "", Price: d("1"), Timestamp: time.Now()})
	require.ErrorIs(t, err, domain.ErrInvalidTick)
}

func TestPersistFailureMarksDirtyKeepsMemoryState(t *testing.T) {
	env := newServiceEnv(t, testPlan("plan-1"))
	pos := openTestPosition(t, env, "100")
	ctx := context.Background()

	env.positions.updateErr = errors.New("connection refused")

	base := time.Now().UTC()
	require.NoError(t, env.svc.HandleTick(ctx, domain.Tick{Coin: "BTC", Price: d("150"), Timestamp: base}))

	// In-memory state moved on even though every save attempt failed.
	m, err := env.registry.Get(pos.ID)
	require.NoError(t, err)
	snap := m.Snapshot()
	assert.True(t, snap.HighestPrice.Equal(d("150")))
	assert.True(t, snap.Dirty)
	assert.Equal(t, 1, env.svc.DirtyCount())
	assert.GreaterOrEqual(t, env.positions.updates, 3)

	// Stored row still at entry state.
	stored, err := env.positions.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.True(t, stored.HighestPrice.Equal(d("100")))

	// Recovery: next successful save clears the dirty flag.
	env.positions.updateErr = nil
	require.NoError(t, env.svc.HandleTick(ctx, domain.Tick{Coin: "BTC", Price: d("151"), Timestamp: base.Add(time.Second)}))
	assert.Equal(t, 0, env.svc.DirtyCount())
}

func TestClosePositionTerminalAndUnregisters(t *testing.T) {
	env := newServiceEnv(t, testPlan("plan-1"))
	pos := openTestPosition(t, env, "100")
	ctx := context.Background()

	closed, err := env.svc.ClosePosition(ctx, pos.ID, d("102"), decimal.Zero, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, closed.Status)
	assert.True(t, closed.RealizedPnLUSD.Equal(d("20")))

	// Closed position no longer receives ticks.
	err = env.svc.HandleTick(ctx, domain.Tick{Coin: "BTC", Price: d("110"), Timestamp: time.Now().UTC()})
	require.NoError(t, err)

	_, err = env.svc.ClosePosition(ctx, pos.ID, d("103"), decimal.Zero, time.Now().UTC())
	require.ErrorIs(t, err, domain.ErrAlreadyClosed)
}

func TestClosePositionRehydratesFromStore(t *testing.T) {
	env := newServiceEnv(t, testPlan("plan-1"))
	pos := openTestPosition(t, env, "100")
	env.registry.Unregister(pos.ID)

	// Force a registry miss so the close path loads from the store.
	env2 := newServiceEnv(t)
	env2.plans = env.plans
	env2.positions = env.positions
	env2.svc = NewHedgeService(
		env2.registry, env2.positions, env2.plans, env2.triggers,
		env2.prices, env2.bus, nil, discardLogger(),
	)

	closed, err := env2.svc.ClosePosition(context.Background(), pos.ID, d("105"), decimal.Zero, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, closed.Status)
}

func TestWarmStartRebuildsRegistry(t *testing.T) {
	env := newServiceEnv(t, testPlan("plan-1"))
	pos := openTestPosition(t, env, "100")
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, env.svc.HandleTick(ctx, domain.Tick{Coin: "BTC", Price: d("150"), Timestamp: base}))

	// Fresh process over the same store.
	restarted := newServiceEnv(t)
	restarted.svc = NewHedgeService(
		restarted.registry, env.positions, env.plans, restarted.triggers,
		restarted.prices, restarted.bus, nil, discardLogger(),
	)
	require.NoError(t, restarted.svc.WarmStart(ctx))

	m, err := restarted.registry.Get(pos.ID)
	require.NoError(t, err)
	snap := m.Snapshot()
	assert.True(t, snap.HighestPrice.Equal(d("150")))
	assert.True(t, snap.HasLevels())

	// A retracement tick after restart fires from the restored extremum.
	require.NoError(t, restarted.svc.HandleTick(ctx, domain.Tick{Coin: "BTC", Price: d("130"), Timestamp: base.Add(time.Second)}))
	events, err := restarted.triggers.ListByPosition(ctx, pos.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.Level38, events[0].Level)
}

func TestAnalysisReadOnly(t *testing.T) {
	env := newServiceEnv(t, testPlan("plan-1"))
	pos := openTestPosition(t, env, "100")
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, env.svc.HandleTick(ctx, domain.Tick{Coin: "BTC", Price: d("150"), Timestamp: base}))

	a, err := env.svc.Analysis(ctx, pos.ID)
	require.NoError(t, err)
	assert.True(t, a.Level38Price.Equal(d("131")))
	assert.True(t, a.CurrentRetracementPct.IsZero())
	assert.True(t, a.PeakGainPct.Equal(d("0.5")))
	assert.Equal(t, domain.ActionHold, a.RecommendedAction)

	// Evaluating analysis does not consume levels.
	m, err := env.registry.Get(pos.ID)
	require.NoError(t, err)
	assert.False(t, m.Snapshot().Triggered23)
}

func TestPlanServiceCreateAppliesDefaults(t *testing.T) {
	svc := NewPlanService(newFakePlanStore(), discardLogger())

	plan, err := svc.Create(context.Background(), domain.TradingPlan{
		Coin:            "ETH",
		PositionSizeUSD: d("500"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, plan.ID)
	assert.True(t, plan.IsActive)
	assert.True(t, plan.Retracement23.Equal(d("0.23")))
	assert.True(t, plan.Retracement50.Equal(d("0.5")))
	assert.True(t, plan.HedgeRatio.Equal(d("0.5")))
}

func TestPlanServiceCreateRejectsBadThresholds(t *testing.T) {
	svc := NewPlanService(newFakePlanStore(), discardLogger())

	plan := domain.DefaultPlan("ETH")
	plan.PositionSizeUSD = d("500")
	plan.Retracement38 = d("0.2")
	_, err := svc.Create(context.Background(), plan)
	require.ErrorIs(t, err, domain.ErrPlanConfig)
}

func TestPortfolioSummaryAggregatesByCoin(t *testing.T) {
	env := newServiceEnv(t, testPlan("plan-1"))
	openTestPosition(t, env, "100")
	openTestPosition(t, env, "200")
	ctx := context.Background()

	require.NoError(t, env.prices.SetPrice(ctx, "BTC", d("110"), time.Now()))

	portfolio := NewPortfolioService(nil, env.positions, env.prices, discardLogger())
	summary, err := portfolio.Summary(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.TotalPositions)
	assert.True(t, summary.TotalExposureUSD.Equal(d("3000")))
	// (110-100)*10 + (110-200)*10
	assert.True(t, summary.TotalUnrealizedPnLUSD.Equal(d("-800")))
	require.Contains(t, summary.ByCoin, "BTC")
	assert.Equal(t, 2, summary.ByCoin["BTC"].Positions)
}
