package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderState is the lifecycle of a resting order slot.
type OrderState string

const (
	StateIdle            OrderState = "IDLE"
	StateDesiredComputed OrderState = "DESIRED_COMPUTED"
	StatePlacing         OrderState = "PLACING"
	StateResting         OrderState = "RESTING"
	StatePartiallyFilled OrderState = "PARTIALLY_FILLED"
	StateFilled          OrderState = "FILLED"
	StateCancelling      OrderState = "CANCELLING"
	StateUnknown         OrderState = "UNKNOWN" // venue outcome not known; query before acting
)

// Live reports whether an order in this state may still be working on the venue.
func (s OrderState) Live() bool {
	switch s {
	case StatePlacing, StateResting, StatePartiallyFilled, StateCancelling, StateUnknown:
		return true
	}
	return false
}

// Order is a resting order owned by the order lifecycle manager.
type Order struct {
	LocalID         string // assigned before placement (uuid)
	VenueID         string // assigned by the venue once accepted
	Instrument      string
	Side            Side
	Price           decimal.Decimal
	Size            decimal.Decimal // base units
	Filled          decimal.Decimal // base units
	State           OrderState
	SnapshotVersion uint64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Remaining returns the unfilled size.
func (o Order) Remaining() decimal.Decimal {
	r := o.Size.Sub(o.Filled)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// Ref returns the identifier the venue knows the order by, falling back to the local id.
func (o Order) Ref() string {
	if o.VenueID != "" {
		return o.VenueID
	}
	return o.LocalID
}

// DesiredOrder is the target resting order for a slot.
type DesiredOrder struct {
	Instrument      string
	Side            Side
	Price           decimal.Decimal
	Size            decimal.Decimal
	SnapshotVersion uint64
}

// Drifted reports whether a resting order differs from the desired one beyond
// the instrument's thresholds (price in bps of the desired price, size as a fraction).
func (d DesiredOrder) Drifted(o Order, inst Instrument) bool {
	if d.Price.Sign() <= 0 {
		return true
	}
	priceMove := d.Price.Sub(o.Price).Abs().Div(d.Price).Mul(bpsDenominator)
	if priceMove.GreaterThan(inst.PriceDriftBps) {
		return true
	}
	remaining := o.Remaining()
	if d.Size.Sign() == 0 {
		return remaining.Sign() != 0
	}
	sizeMove := d.Size.Sub(remaining).Abs().Div(d.Size)
	return sizeMove.GreaterThan(inst.SizeDriftPct)
}

// PlaceOrderRequest is sent to the venue order-entry API.
type PlaceOrderRequest struct {
	ClientID   string // our local id, lets the venue dedupe and lets us query after a timeout
	Instrument Instrument
	Side       Side
	Price      decimal.Decimal
	Size       decimal.Decimal
}

// PlacedOrder is the venue's answer to an accepted placement.
type PlacedOrder struct {
	VenueID string
	Status  string
}

// CancelResult is the venue's answer to a cancel.
type CancelResult string

const (
	CancelAck             CancelResult = "ACK"
	CancelAlreadyTerminal CancelResult = "ALREADY_TERMINAL"
)

// VenueOrderStatus is the venue's view of an order, as returned by a query.
type VenueOrderStatus string

const (
	VenueOrderOpen      VenueOrderStatus = "OPEN"
	VenueOrderFilled    VenueOrderStatus = "FILLED"
	VenueOrderCancelled VenueOrderStatus = "CANCELLED"
	VenueOrderNotFound  VenueOrderStatus = "NOT_FOUND"
)

// VenueOrder is the queried state of an order on the venue.
type VenueOrder struct {
	VenueID string
	Status  VenueOrderStatus
	Filled  decimal.Decimal // raw base-unit integer, as reported by the venue
	Price   decimal.Decimal
	Size    decimal.Decimal
}

// OrderAction is a decision taken by the order manager, kept for the audit trail.
type OrderAction string

const (
	ActionPlace  OrderAction = "PLACE"
	ActionCancel OrderAction = "CANCEL"
	ActionQuery  OrderAction = "QUERY"
	ActionFill   OrderAction = "FILL"
)

// OrderEvent is one audited place/cancel/query/fill decision.
type OrderEvent struct {
	At         time.Time
	Instrument string
	Side       Side
	Action     OrderAction
	LocalID    string
	VenueID    string
	Price      decimal.Decimal
	Size       decimal.Decimal
	Result     string
	Detail     string
}
