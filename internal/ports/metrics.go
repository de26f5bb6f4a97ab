package ports

import (
	"context"

	"github.com/alejandrodnm/jitmaker/internal/domain"
)

// Metrics receives counters from the core. Implementations must be cheap and
// safe for concurrent use.
type Metrics interface {
	QuoteIssued(ctx context.Context, instrument string, status domain.QuoteStatus, reason domain.DeclineReason)
	FillApplied(ctx context.Context, instrument string, side domain.Side)
	VenueAction(ctx context.Context, instrument string, action domain.OrderAction, result string)
	NotificationHandled(ctx context.Context, outcome domain.Outcome)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) QuoteIssued(context.Context, string, domain.QuoteStatus, domain.DeclineReason) {}
func (NopMetrics) FillApplied(context.Context, string, domain.Side)                              {}
func (NopMetrics) VenueAction(context.Context, string, domain.OrderAction, string)              {}
func (NopMetrics) NotificationHandled(context.Context, domain.Outcome)                          {}
