package quoter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/jitmaker/internal/domain"
)

// PositionReader is the read side of the inventory tracker.
type PositionReader interface {
	Position(instrument string) (domain.Position, error)
}

// SnapshotReader is the read side of the market snapshot cache.
type SnapshotReader interface {
	Latest(instrument string) (domain.Snapshot, domain.Freshness)
}

// Quoter answers JIT auction requests. It only reads shared state, so any
// number of quotes may run concurrently.
type Quoter struct {
	universe  *domain.Universe
	inventory PositionReader
	market    SnapshotReader
}

// New creates a Quoter.
func New(universe *domain.Universe, inventory PositionReader, market SnapshotReader) *Quoter {
	return &Quoter{universe: universe, inventory: inventory, market: market}
}

// Quote prices an auction request against the current snapshot and position.
// Declines (stale market, slippage, exposure) are normal results, not errors;
// an error means the request itself is unsupported (ErrUnknownPair).
func (q *Quoter) Quote(_ context.Context, req domain.AuctionRequest) (domain.QuoteResult, error) {
	inst, side, err := q.universe.Resolve(req.TokenIn, req.TokenOut)
	if err != nil {
		return domain.QuoteResult{}, fmt.Errorf("quoter.Quote: %w", err)
	}

	pos, err := q.inventory.Position(inst.Symbol)
	if err != nil {
		return domain.QuoteResult{}, fmt.Errorf("quoter.Quote: position: %w", err)
	}
	snap, fresh := q.market.Latest(inst.Symbol)

	res := domain.PriceAuction(inst, side, req, snap, fresh, pos)

	slog.Debug("quoter: quote computed",
		"request_id", req.ID,
		"instrument", inst.Symbol,
		"side", side,
		"status", res.Status,
		"reason", res.Reason,
		"amount_out", res.AmountOut.String(),
		"price", res.Basis.Price.String(),
		"skew", res.Basis.Skew.String(),
		"snapshot_version", res.Basis.SnapshotVersion,
		"freshness", fresh.String(),
	)
	return res, nil
}
