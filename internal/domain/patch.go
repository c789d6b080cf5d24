package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionPatch lists the optional mutable fields of a position for partial
// updates. Nil fields are left untouched by Apply. This replaces dynamic
// set-only-fields update mapping with an explicit value type.
type PositionPatch struct {
	Status           *PositionStatus
	HighestPrice     *decimal.Decimal
	LowestPrice      *decimal.Decimal
	CurrentPrice     *decimal.Decimal
	Fib23Price       *decimal.Decimal
	Fib38Price       *decimal.Decimal
	Fib50Price       *decimal.Decimal
	Triggered23      *bool
	Triggered38      *bool
	Triggered50      *bool
	UnrealizedPnLUSD *decimal.Decimal
	RealizedPnLUSD   *decimal.Decimal
	ExitPrice        *decimal.Decimal
	ExitQuantity     *decimal.Decimal
	ExitTime         *time.Time
}

// IsZero reports whether the patch carries no changes.
func (pp PositionPatch) IsZero() bool {
	return pp == PositionPatch{}
}

// Apply merges the set fields of the patch onto a copy of pos and returns it.
// The receiver position is not mutated.
func (pp PositionPatch) Apply(pos Position) Position {
	if pp.Status != nil {
		pos.Status = *pp.Status
	}
	if pp.HighestPrice != nil {
		pos.HighestPrice = *pp.HighestPrice
	}
	if pp.LowestPrice != nil {
		pos.LowestPrice = *pp.LowestPrice
	}
	if pp.CurrentPrice != nil {
		pos.CurrentPrice = *pp.CurrentPrice
	}
	if pp.Fib23Price != nil {
		pos.Fib23Price = *pp.Fib23Price
	}
	if pp.Fib38Price != nil {
		pos.Fib38Price = *pp.Fib38Price
	}
	if pp.Fib50Price != nil {
		pos.Fib50Price = *pp.Fib50Price
	}
	if pp.Triggered23 != nil {
		pos.Triggered23 = *pp.Triggered23
	}
	if pp.Triggered38 != nil {
		pos.Triggered38 = *pp.Triggered38
	}
	if pp.Triggered50 != nil {
		pos.Triggered50 = *pp.Triggered50
	}
	if pp.UnrealizedPnLUSD != nil {
		pos.UnrealizedPnLUSD = *pp.UnrealizedPnLUSD
	}
	if pp.RealizedPnLUSD != nil {
		pos.RealizedPnLUSD = *pp.RealizedPnLUSD
	}
	if pp.ExitPrice != nil {
		pos.ExitPrice = *pp.ExitPrice
	}
	if pp.ExitQuantity != nil {
		pos.ExitQuantity = *pp.ExitQuantity
	}
	if pp.ExitTime != nil {
		pos.ExitTime = pp.ExitTime
	}
	return pos
}
