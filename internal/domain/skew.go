package domain

import "github.com/shopspring/decimal"

var bpsDenominator = decimal.NewFromInt(10_000)

// Skew returns the inventory reservation shift in quote units.
//
// shift = mid × maxSkewBps/1e4 × clamp(position/limit, -1, 1)
//
// A long position yields a positive shift, which is subtracted from both sides:
// we bid lower (buying more is less attractive to us) and offer lower (selling
// is easier). The function is monotonic in position and zero when flat.
func Skew(mid, position, limit, maxSkewBps decimal.Decimal) decimal.Decimal {
	if limit.Sign() <= 0 || mid.Sign() <= 0 || maxSkewBps.Sign() <= 0 {
		return decimal.Zero
	}
	ratio := position.Div(limit)
	one := decimal.NewFromInt(1)
	if ratio.GreaterThan(one) {
		ratio = one
	} else if ratio.LessThan(one.Neg()) {
		ratio = one.Neg()
	}
	return mid.Mul(maxSkewBps).Div(bpsDenominator).Mul(ratio)
}

// QuotePrices are the two-sided prices we are willing to trade at.
type QuotePrices struct {
	Bid  decimal.Decimal // price we pay when buying base
	Ask  decimal.Decimal // price we charge when selling base
	Mid  decimal.Decimal
	Skew decimal.Decimal
}

// For returns the price applicable to our side of a trade.
func (q QuotePrices) For(side Side) decimal.Decimal {
	if side == SideSell {
		return q.Ask
	}
	return q.Bid
}

// SkewedPrices is the single pricing function shared by auction quotes and
// resting orders, so the two never diverge.
func SkewedPrices(inst Instrument, snap Snapshot, pos Position) QuotePrices {
	mid := snap.Mid()
	skew := Skew(mid, pos.Quantity, inst.ExposureLimit, inst.MaxSkewBps)
	edge := mid.Mul(inst.EdgeBps).Div(bpsDenominator)
	return QuotePrices{
		Bid:  snap.Bid.Sub(edge).Sub(skew),
		Ask:  snap.Ask.Add(edge).Sub(skew),
		Mid:  mid,
		Skew: skew,
	}
}
