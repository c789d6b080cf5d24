package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Tick is a single price observation pushed by the market data feed.
type Tick struct {
	Coin      string
	Price     decimal.Decimal
	Timestamp time.Time
}

// Validate rejects malformed ticks: empty coin, non-positive price, or a
// missing timestamp.
func (t Tick) Validate() error {
	if strings.TrimSpace(t.Coin) == "" {
		return fmt.Errorf("%w: coin is empty", ErrInvalidTick)
	}
	if !t.Price.IsPositive() {
		return fmt.Errorf("%w: price %s is not positive", ErrInvalidTick, t.Price)
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is zero", ErrInvalidTick)
	}
	return nil
}
