package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade from the market maker's point of view.
type Side string

const (
	SideBuy  Side = "BUY"  // we receive base, pay quote
	SideSell Side = "SELL" // we pay base, receive quote
)

// Sign returns +1 for BUY and -1 for SELL: the sign of the position delta.
func (s Side) Sign() decimal.Decimal {
	if s == SideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Token is an ERC-20 style asset identified by its address.
type Token struct {
	Address  string
	Decimals int32
}

// ToUnits converts a base-unit integer amount (wei-like) into token units.
func (t Token) ToUnits(raw decimal.Decimal) decimal.Decimal {
	return raw.Shift(-t.Decimals)
}

// FromUnits converts token units into a base-unit integer, rounding down.
func (t Token) FromUnits(units decimal.Decimal) decimal.Decimal {
	return units.Shift(t.Decimals).Floor()
}

// Matches reports whether addr refers to this token (case-insensitive hex).
func (t Token) Matches(addr string) bool {
	return strings.EqualFold(strings.TrimSpace(addr), t.Address)
}

// Instrument is a tradable base/quote pair with its risk and refresh parameters.
// Quantities (limits, sizes) are expressed in base token units; prices in quote per base.
type Instrument struct {
	Symbol string
	Base   Token
	Quote  Token

	ExposureLimit decimal.Decimal // max |position| in base units
	OrderSize     decimal.Decimal // resting order size per side, base units
	EdgeBps       decimal.Decimal // extra distance from touch, both sides
	MaxSkewBps    decimal.Decimal // reservation shift when position == limit

	PriceDriftBps decimal.Decimal // cancel-replace when resting price drifts more than this
	SizeDriftPct  decimal.Decimal // cancel-replace when resting size drifts more than this fraction
}

// Validate checks the instrument parameters are usable for quoting.
func (i Instrument) Validate() error {
	if i.Symbol == "" {
		return fmt.Errorf("instrument: empty symbol")
	}
	if i.Base.Address == "" || i.Quote.Address == "" {
		return fmt.Errorf("instrument %s: missing token address", i.Symbol)
	}
	if i.Base.Matches(i.Quote.Address) {
		return fmt.Errorf("instrument %s: base and quote are the same token", i.Symbol)
	}
	if i.ExposureLimit.Sign() <= 0 {
		return fmt.Errorf("instrument %s: exposure limit must be positive", i.Symbol)
	}
	if i.OrderSize.IsNegative() {
		return fmt.Errorf("instrument %s: negative order size", i.Symbol)
	}
	if i.EdgeBps.IsNegative() || i.MaxSkewBps.IsNegative() {
		return fmt.Errorf("instrument %s: negative bps parameter", i.Symbol)
	}
	if i.EdgeBps.Add(i.MaxSkewBps).GreaterThanOrEqual(bpsDenominator) {
		return fmt.Errorf("instrument %s: edge+skew must stay below 10000 bps", i.Symbol)
	}
	return nil
}

// Universe is the configured set of instruments.
type Universe struct {
	order    []string
	bySymbol map[string]Instrument
}

// NewUniverse builds a Universe, rejecting duplicate symbols or invalid instruments.
func NewUniverse(instruments ...Instrument) (*Universe, error) {
	u := &Universe{bySymbol: make(map[string]Instrument, len(instruments))}
	for _, inst := range instruments {
		if err := inst.Validate(); err != nil {
			return nil, err
		}
		if _, dup := u.bySymbol[inst.Symbol]; dup {
			return nil, fmt.Errorf("instrument %s: duplicate symbol", inst.Symbol)
		}
		u.bySymbol[inst.Symbol] = inst
		u.order = append(u.order, inst.Symbol)
	}
	return u, nil
}

// Get returns the instrument for symbol.
func (u *Universe) Get(symbol string) (Instrument, error) {
	inst, ok := u.bySymbol[symbol]
	if !ok {
		return Instrument{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, symbol)
	}
	return inst, nil
}

// Symbols returns the instrument symbols in configuration order.
func (u *Universe) Symbols() []string {
	out := make([]string, len(u.order))
	copy(out, u.order)
	return out
}

// Resolve maps an auction's token pair onto an instrument and our side of the trade.
// token_in is what the counterparty gives us: base in means we BUY.
func (u *Universe) Resolve(tokenIn, tokenOut string) (Instrument, Side, error) {
	for _, sym := range u.order {
		inst := u.bySymbol[sym]
		switch {
		case inst.Base.Matches(tokenIn) && inst.Quote.Matches(tokenOut):
			return inst, SideBuy, nil
		case inst.Quote.Matches(tokenIn) && inst.Base.Matches(tokenOut):
			return inst, SideSell, nil
		}
	}
	return Instrument{}, "", fmt.Errorf("%w: %s -> %s", ErrUnknownPair, tokenIn, tokenOut)
}
