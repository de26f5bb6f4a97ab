package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is a value snapshot of the inventory held in one instrument.
// Quantity is signed, in base token units.
type Position struct {
	Instrument string
	Quantity   decimal.Decimal
	Notional   decimal.Decimal // cumulative signed quote spent (+) / received (-)
	Fills      int
	UpdatedAt  time.Time
}

// ExposureRange is the signed delta still allowed before breaching the limit.
// Min is <= 0 (room to sell), Max is >= 0 (room to buy) while within limits.
type ExposureRange struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// Room returns the absolute quantity that may still be traded on side.
func (r ExposureRange) Room(side Side) decimal.Decimal {
	if side == SideSell {
		return decimal.Max(r.Min.Neg(), decimal.Zero)
	}
	return decimal.Max(r.Max, decimal.Zero)
}

// Headroom computes the range for a position under limit.
func Headroom(pos Position, limit decimal.Decimal) ExposureRange {
	return ExposureRange{
		Min: limit.Neg().Sub(pos.Quantity),
		Max: limit.Sub(pos.Quantity),
	}
}

// Fill is an accepted execution against one of our orders or quotes.
// ID is unique per execution event; applying the same ID twice is a no-op.
type Fill struct {
	ID         string
	Instrument string
	OrderRef   string
	Delta      decimal.Decimal // signed base units
	Price      decimal.Decimal
	Timestamp  time.Time
}
