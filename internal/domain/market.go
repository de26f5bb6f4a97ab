package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is the latest top of book for an instrument.
// It is replaced wholesale on every feed update, never patched.
type Snapshot struct {
	Instrument string
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	Timestamp  time.Time
	Source     string
	Version    uint64 // assigned by the cache on acceptance
}

// Mid returns (bid+ask)/2.
func (s Snapshot) Mid() decimal.Decimal {
	return s.Bid.Add(s.Ask).Div(decimal.NewFromInt(2))
}

// Validate rejects crossed, empty or undated snapshots.
func (s Snapshot) Validate() error {
	if s.Instrument == "" {
		return fmt.Errorf("snapshot: empty instrument")
	}
	if s.Bid.Sign() <= 0 || s.Ask.Sign() <= 0 {
		return fmt.Errorf("snapshot %s: non-positive bid/ask", s.Instrument)
	}
	if s.Ask.LessThan(s.Bid) {
		return fmt.Errorf("snapshot %s: crossed book bid=%s ask=%s", s.Instrument, s.Bid, s.Ask)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("snapshot %s: missing timestamp", s.Instrument)
	}
	return nil
}

// Freshness tags a snapshot lookup so callers must decide what to do with old data.
type Freshness int

const (
	Missing Freshness = iota
	Fresh
	Stale
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "missing"
	}
}
