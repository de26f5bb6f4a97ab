package ports

import (
	"context"

	"github.com/alejandrodnm/jitmaker/internal/domain"
)

// Venue is the order-entry API of the trading venue.
type Venue interface {
	// PlaceOrder submits a resting limit order. A refusal is reported as an
	// error wrapping domain.ErrVenueRejected.
	PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.PlacedOrder, error)

	// CancelOrder cancels by venue id. An order that already filled or was
	// cancelled venue-side answers CancelAlreadyTerminal, not an error.
	CancelOrder(ctx context.Context, venueID string) (domain.CancelResult, error)

	// QueryOrder looks an order up by venue id or, if empty, by our client id.
	// Used to resolve orders whose placement or cancel timed out.
	QueryOrder(ctx context.Context, venueID, clientID string) (domain.VenueOrder, error)
}
