package domain_test

import (
	"time"

	"github.com/alejandrodnm/jitmaker/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	wethAddr = "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1"
	usdcAddr = "0xFF970A61A04b1cA14834A43f5dE4533eBDDB5CC8"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func wethUSDC() domain.Instrument {
	return domain.Instrument{
		Symbol:        "WETH-USDC",
		Base:          domain.Token{Address: wethAddr, Decimals: 18},
		Quote:         domain.Token{Address: usdcAddr, Decimals: 6},
		ExposureLimit: dec("10"),
		OrderSize:     dec("1"),
		EdgeBps:       decimal.Zero,
		MaxSkewBps:    dec("50"),
		PriceDriftBps: dec("20"),
		SizeDriftPct:  dec("0.1"),
	}
}

func snapshot(bid, ask string) domain.Snapshot {
	return domain.Snapshot{
		Instrument: "WETH-USDC",
		Bid:        dec(bid),
		Ask:        dec(ask),
		Timestamp:  time.Unix(1_700_000_000, 0),
		Source:     "test",
		Version:    7,
	}
}

func position(qty string) domain.Position {
	return domain.Position{Instrument: "WETH-USDC", Quantity: dec(qty)}
}
