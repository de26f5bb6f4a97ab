package litlayer

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/jitmaker/internal/domain"
	"github.com/alejandrodnm/jitmaker/internal/ports"
)

type tickerResponse struct {
	Timestamp int64  `json:"timestamp"` // unix segundos
	BestBid   string `json:"best_bid"`  // entero en unidades base del quote token por 1 base
	BestAsk   string `json:"best_ask"`
	LastPrice string `json:"last_price"`
}

// Ticker devuelve el top of book de un instrumento como Snapshot.
func (c *Client) Ticker(ctx context.Context, inst domain.Instrument) (domain.Snapshot, error) {
	q := url.Values{}
	q.Set("token_in", inst.Base.Address)
	q.Set("token_out", inst.Quote.Address)

	var resp tickerResponse
	if err := c.get(ctx, "/v1/market/ticker?"+q.Encode(), &resp); err != nil {
		return domain.Snapshot{}, fmt.Errorf("litlayer.Ticker: %s: %w", inst.Symbol, err)
	}

	bid, err := decimal.NewFromString(resp.BestBid)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("litlayer.Ticker: %s best_bid %q: %w", inst.Symbol, resp.BestBid, err)
	}
	ask, err := decimal.NewFromString(resp.BestAsk)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("litlayer.Ticker: %s best_ask %q: %w", inst.Symbol, resp.BestAsk, err)
	}
	return domain.Snapshot{
		Instrument: inst.Symbol,
		Bid:        inst.Quote.ToUnits(bid),
		Ask:        inst.Quote.ToUnits(ask),
		Timestamp:  time.Unix(resp.Timestamp, 0).UTC(),
		Source:     "litlayer-rest",
	}, nil
}

// TickerFeed hace polling del ticker de cada instrumento y publica los
// snapshots en el sink. Un fallo solo deja envejecer el snapshot.
type TickerFeed struct {
	c           *Client
	instruments []domain.Instrument
	sink        ports.SnapshotSink
	interval    time.Duration
}

// NewTickerFeed crea el poller.
func NewTickerFeed(c *Client, instruments []domain.Instrument, sink ports.SnapshotSink, interval time.Duration) *TickerFeed {
	return &TickerFeed{c: c, instruments: instruments, sink: sink, interval: interval}
}

// Run hace polling hasta que ctx termina.
func (f *TickerFeed) Run(ctx context.Context) error {
	slog.Info("litlayer: ticker feed starting", "instruments", len(f.instruments), "interval", f.interval)
	f.PollOnce(ctx)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			f.PollOnce(ctx)
		}
	}
}

// PollOnce consulta todos los instrumentos una vez y devuelve cuántos
// snapshots aceptó el sink.
func (f *TickerFeed) PollOnce(ctx context.Context) int {
	accepted := 0
	for _, inst := range f.instruments {
		snap, err := f.c.Ticker(ctx, inst)
		if err != nil {
			slog.Warn("litlayer: ticker poll failed", "instrument", inst.Symbol, "err", err)
			continue
		}
		if f.sink.Update(snap) {
			accepted++
		}
	}
	slog.Debug("litlayer: ticker polled", "accepted", accepted, "instruments", len(f.instruments))
	return accepted
}
