package domain

import "github.com/shopspring/decimal"

// AuctionRequest is a validated JIT auction solicitation.
// Amounts are base-unit integers of the respective tokens.
type AuctionRequest struct {
	ID           string
	TokenIn      string
	TokenOut     string
	AmountIn     decimal.Decimal
	MinAmountOut decimal.Decimal
	IsMarket     bool
}

// QuoteStatus is the outcome class of a quote.
type QuoteStatus string

const (
	QuoteAccepted QuoteStatus = "accepted"
	QuoteDeclined QuoteStatus = "declined"
)

// DeclineReason is a machine-readable decline code.
type DeclineReason string

const (
	ReasonStaleMarket      DeclineReason = "STALE_MARKET"
	ReasonSlippageExceeded DeclineReason = "SLIPPAGE_EXCEEDED"
	ReasonExposureLimit    DeclineReason = "EXPOSURE_LIMIT_EXCEEDED"
)

// QuoteBasis records what a quote was computed from, for later consistency checks.
type QuoteBasis struct {
	Instrument      string
	Side            Side
	SnapshotVersion uint64
	Price           decimal.Decimal
	Skew            decimal.Decimal
	Mid             decimal.Decimal
	PositionBefore  decimal.Decimal
	Delta           decimal.Decimal // position change if the quote is filled
}

// QuoteResult is Accepted(amountOut) or Declined(reason). Immutable once produced.
type QuoteResult struct {
	RequestID string
	Status    QuoteStatus
	AmountOut decimal.Decimal // base units of token_out; zero when declined
	Reason    DeclineReason
	Basis     QuoteBasis
}

// Accepted reports whether the quote was accepted.
func (q QuoteResult) Accepted() bool { return q.Status == QuoteAccepted }

func declined(req AuctionRequest, reason DeclineReason, basis QuoteBasis) QuoteResult {
	return QuoteResult{RequestID: req.ID, Status: QuoteDeclined, AmountOut: decimal.Zero, Reason: reason, Basis: basis}
}

// PriceAuction decides a quote. It is a pure function of its inputs: the same
// (instrument, side, request, snapshot, freshness, position) always yields the
// same result. It never mutates inventory.
func PriceAuction(inst Instrument, side Side, req AuctionRequest, snap Snapshot, fresh Freshness, pos Position) QuoteResult {
	basis := QuoteBasis{
		Instrument:      inst.Symbol,
		Side:            side,
		SnapshotVersion: snap.Version,
		PositionBefore:  pos.Quantity,
	}
	if fresh != Fresh {
		return declined(req, ReasonStaleMarket, basis)
	}

	prices := SkewedPrices(inst, snap, pos)
	price := prices.For(side)
	basis.Price = price
	basis.Skew = prices.Skew
	basis.Mid = prices.Mid
	if price.Sign() <= 0 {
		return declined(req, ReasonSlippageExceeded, basis)
	}

	var amountOut, delta decimal.Decimal
	switch side {
	case SideBuy:
		baseQty := inst.Base.ToUnits(req.AmountIn)
		amountOut = inst.Quote.FromUnits(baseQty.Mul(price))
		delta = baseQty
	default:
		// base out = quote in / price, truncated to whole base units
		num := req.AmountIn.Shift(inst.Base.Decimals - inst.Quote.Decimals)
		amountOut, _ = num.QuoRem(price, 0)
		delta = inst.Base.ToUnits(amountOut).Neg()
	}
	basis.Delta = delta

	after := pos.Quantity.Add(delta)
	if after.Abs().GreaterThan(inst.ExposureLimit) && after.Abs().GreaterThan(pos.Quantity.Abs()) {
		return declined(req, ReasonExposureLimit, basis)
	}

	if amountOut.Sign() <= 0 {
		return declined(req, ReasonSlippageExceeded, basis)
	}
	if !req.IsMarket && amountOut.LessThan(req.MinAmountOut) {
		return declined(req, ReasonSlippageExceeded, basis)
	}

	return QuoteResult{
		RequestID: req.ID,
		Status:    QuoteAccepted,
		AmountOut: amountOut,
		Basis:     basis,
	}
}
