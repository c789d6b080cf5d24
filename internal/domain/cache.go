package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceCache provides fast access to the latest price per coin.
type PriceCache interface {
	SetPrice(ctx context.Context, coin string, price decimal.Decimal, ts time.Time) error
	GetPrice(ctx context.Context, coin string) (decimal.Decimal, time.Time, error)
	GetPrices(ctx context.Context, coins []string) (map[string]decimal.Decimal, error)
}

// SignalBus provides pub/sub fan-out for tick, trigger, and position events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
