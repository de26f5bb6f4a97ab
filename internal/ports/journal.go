package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/jitmaker/internal/domain"
)

// FillJournal records every applied fill together with the resulting position.
type FillJournal interface {
	SaveFill(ctx context.Context, fill domain.Fill, pos domain.Position) error
}

// OrderJournal records place/cancel/query decisions.
type OrderJournal interface {
	SaveOrderEvent(ctx context.Context, ev domain.OrderEvent) error
}

// QuoteJournal records issued quotes with their basis.
type QuoteJournal interface {
	SaveQuote(ctx context.Context, req domain.AuctionRequest, res domain.QuoteResult, at time.Time) error
}

// Checkpoint loads the persisted inventory baseline at startup.
type Checkpoint interface {
	LoadPositions(ctx context.Context) ([]domain.Position, error)
	LoadFillIDs(ctx context.Context) (map[string][]string, error)
}

// Journal is the full audit store.
type Journal interface {
	FillJournal
	OrderJournal
	QuoteJournal
	Checkpoint
	Close() error
}
