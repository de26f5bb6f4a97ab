package litlayer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/jitmaker/internal/domain"
)

// Venue implementa ports.Venue sobre la API REST.
type Venue struct {
	c *Client
}

// NewVenue crea el adapter de order entry.
func NewVenue(c *Client) *Venue {
	return &Venue{c: c}
}

type createOrderRequest struct {
	ClientID     string `json:"client_id"`
	TokenIn      string `json:"token_in"`
	TokenOut     string `json:"token_out"`
	AmountIn     string `json:"amount_in"`
	MinAmountOut string `json:"min_amount_out"`
	IsMarket     bool   `json:"is_market"`
}

type createOrderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type cancelOrderRequest struct {
	OrderID string `json:"order_id"`
}

type cancelOrderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"` // cancelled | filled | already_cancelled
}

type orderStatusResponse struct {
	OrderID      string `json:"order_id"`
	ClientID     string `json:"client_id"`
	Status       string `json:"status"` // open | partially_filled | filled | cancelled
	FilledAmount string `json:"filled_amount"`
	AmountIn     string `json:"amount_in"`
	MinAmountOut string `json:"min_amount_out"`
}

// PlaceOrder envía una orden límite. Se expresa como swap: un BUY entrega
// quote y pide como mínimo size de base; un SELL entrega size de base y pide
// como mínimo size*price de quote. Importes en enteros de unidades base.
func (v *Venue) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.PlacedOrder, error) {
	inst := req.Instrument
	notional := req.Size.Mul(req.Price)

	body := createOrderRequest{ClientID: req.ClientID}
	switch req.Side {
	case domain.SideBuy:
		body.TokenIn = inst.Quote.Address
		body.TokenOut = inst.Base.Address
		body.AmountIn = inst.Quote.FromUnits(notional).String()
		body.MinAmountOut = inst.Base.FromUnits(req.Size).String()
	case domain.SideSell:
		body.TokenIn = inst.Base.Address
		body.TokenOut = inst.Quote.Address
		body.AmountIn = inst.Base.FromUnits(req.Size).String()
		body.MinAmountOut = inst.Quote.FromUnits(notional).String()
	default:
		return domain.PlacedOrder{}, domain.NewValidationError("side", "unknown side %q", req.Side)
	}

	var resp createOrderResponse
	if err := v.c.post(ctx, "/v1/order/create", body, &resp, false); err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("litlayer.PlaceOrder: %w", rejected(err))
	}
	if resp.OrderID == "" {
		return domain.PlacedOrder{}, fmt.Errorf("litlayer.PlaceOrder: %w: empty order id (status %q)", domain.ErrVenueRejected, resp.Status)
	}
	return domain.PlacedOrder{VenueID: resp.OrderID, Status: resp.Status}, nil
}

// CancelOrder cancela por venue id. Cancel es idempotente en el venue, así
// que se reintenta.
func (v *Venue) CancelOrder(ctx context.Context, venueID string) (domain.CancelResult, error) {
	var resp cancelOrderResponse
	err := v.c.post(ctx, "/v1/order/cancel", cancelOrderRequest{OrderID: venueID}, &resp, true)

	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr) && (apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusConflict):
		return domain.CancelAlreadyTerminal, nil
	case err != nil:
		return "", fmt.Errorf("litlayer.CancelOrder: %w", rejected(err))
	}

	switch strings.ToLower(resp.Status) {
	case "filled", "already_filled", "already_cancelled", "expired":
		return domain.CancelAlreadyTerminal, nil
	default:
		return domain.CancelAck, nil
	}
}

// QueryOrder consulta una orden por venue id o, si está vacío, por client id.
func (v *Venue) QueryOrder(ctx context.Context, venueID, clientID string) (domain.VenueOrder, error) {
	q := url.Values{}
	if venueID != "" {
		q.Set("order_id", venueID)
	} else {
		q.Set("client_id", clientID)
	}

	var resp orderStatusResponse
	err := v.c.get(ctx, "/v1/order/status?"+q.Encode(), &resp)

	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound:
		return domain.VenueOrder{VenueID: venueID, Status: domain.VenueOrderNotFound}, nil
	case err != nil:
		return domain.VenueOrder{}, fmt.Errorf("litlayer.QueryOrder: %w", err)
	}

	out := domain.VenueOrder{VenueID: resp.OrderID, Filled: decimal.Zero}
	if resp.FilledAmount != "" {
		filled, err := decimal.NewFromString(resp.FilledAmount)
		if err != nil {
			return domain.VenueOrder{}, fmt.Errorf("litlayer.QueryOrder: filled_amount %q: %w", resp.FilledAmount, err)
		}
		out.Filled = filled
	}
	switch strings.ToLower(resp.Status) {
	case "open", "partially_filled", "pending":
		out.Status = domain.VenueOrderOpen
	case "filled":
		out.Status = domain.VenueOrderFilled
	case "cancelled", "canceled", "expired":
		out.Status = domain.VenueOrderCancelled
	default:
		return domain.VenueOrder{}, fmt.Errorf("litlayer.QueryOrder: unknown status %q", resp.Status)
	}
	return out, nil
}

// rejected marca las respuestas 4xx como rechazo del venue.
func rejected(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %w", domain.ErrVenueRejected, err)
	}
	return err
}
