package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FillStatus is the kind of a trade notification.
type FillStatus string

const (
	FillPartial   FillStatus = "PARTIAL"
	FillComplete  FillStatus = "FILLED"
	FillCancelled FillStatus = "CANCELLED" // cancel acknowledgement
)

// TradeNotification is a venue event about one of our orders.
// FilledAmount is the incremental size of this event as a base-unit integer
// of the instrument's base token; the order manager scales it.
type TradeNotification struct {
	EventID      string
	OrderID      string
	Status       FillStatus
	FilledAmount decimal.Decimal
	Price        decimal.Decimal
	Sequence     uint64 // 0 = unsequenced, applied on arrival
	Timestamp    time.Time
}

// Outcome is the result of handling a notification.
type Outcome string

const (
	OutcomeAck     Outcome = "ACK"
	OutcomeIgnored Outcome = "IGNORED"
)
