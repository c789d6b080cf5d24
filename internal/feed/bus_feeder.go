package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/colemanlowe/fibhedge/internal/domain"
	"github.com/colemanlowe/fibhedge/internal/service"
)

// InboundTicksChannel is the Redis channel external producers publish raw
// ticks to. It is distinct from the outbound "ticks" channel the hedge
// service publishes processed ticks on.
const InboundTicksChannel = "venue_ticks"

// busTickEvent is the JSON shape published to the inbound ticks channel.
type busTickEvent struct {
	Coin      string          `json:"coin"`
	Price     decimal.Decimal `json:"price"`
	Timestamp string          `json:"timestamp"`
}

// TickFeeder subscribes to the inbound ticks channel and feeds each tick into
// the hedge service. It lets a separate producer process own the venue
// connection.
type TickFeeder struct {
	bus    domain.SignalBus
	hedge  *service.HedgeService
	logger *slog.Logger
}

// NewTickFeeder creates a TickFeeder.
func NewTickFeeder(bus domain.SignalBus, hedge *service.HedgeService, logger *slog.Logger) *TickFeeder {
	return &TickFeeder{
		bus:    bus,
		hedge:  hedge,
		logger: logger.With(slog.String("component", "tick_feeder")),
	}
}

// Run subscribes and processes ticks until ctx is cancelled.
func (f *TickFeeder) Run(ctx context.Context) error {
	ch, err := f.bus.Subscribe(ctx, InboundTicksChannel)
	if err != nil {
		return err
	}
	f.logger.Info("tick feeder started")
	defer f.logger.Info("tick feeder stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			if err := f.handleMessage(ctx, data); err != nil {
				f.logger.Debug("tick feeder handle message failed",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
			}
		}
	}
}

func (f *TickFeeder) handleMessage(ctx context.Context, data []byte) error {
	var ev busTickEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	coin := strings.TrimSpace(ev.Coin)
	if coin == "" {
		return nil
	}

	ts := time.Now().UTC()
	if ev.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, ev.Timestamp); err == nil {
			ts = t
		}
	}

	return f.hedge.HandleTick(ctx, domain.Tick{Coin: coin, Price: ev.Price, Timestamp: ts})
}
