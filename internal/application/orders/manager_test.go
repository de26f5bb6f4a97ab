package orders_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/jitmaker/internal/application/inventory"
	"github.com/alejandrodnm/jitmaker/internal/application/market"
	"github.com/alejandrodnm/jitmaker/internal/application/orders"
	"github.com/alejandrodnm/jitmaker/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sym  = "WETH-USDC"
	weth = "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1"
	usdc = "0xFF970A61A04b1cA14834A43f5dE4533eBDDB5CC8"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeVenue records every call as a short string and answers through
// overridable hooks.
type fakeVenue struct {
	mu     sync.Mutex
	calls  []string
	placed int

	place  func(req domain.PlaceOrderRequest) (domain.PlacedOrder, error)
	cancel func(venueID string) (domain.CancelResult, error)
	query  func(venueID, clientID string) (domain.VenueOrder, error)

	lastClientID string
}

func (v *fakeVenue) PlaceOrder(_ context.Context, req domain.PlaceOrderRequest) (domain.PlacedOrder, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, fmt.Sprintf("place %s %s", req.Side, req.Price.String()))
	v.lastClientID = req.ClientID
	if v.place != nil {
		return v.place(req)
	}
	v.placed++
	return domain.PlacedOrder{VenueID: fmt.Sprintf("v-%d", v.placed), Status: "OPEN"}, nil
}

func (v *fakeVenue) CancelOrder(_ context.Context, venueID string) (domain.CancelResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, "cancel "+venueID)
	if v.cancel != nil {
		return v.cancel(venueID)
	}
	return domain.CancelAck, nil
}

func (v *fakeVenue) QueryOrder(_ context.Context, venueID, clientID string) (domain.VenueOrder, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, "query "+venueID+"/"+clientID)
	if v.query != nil {
		return v.query(venueID, clientID)
	}
	return domain.VenueOrder{Status: domain.VenueOrderNotFound}, nil
}

func (v *fakeVenue) takeCalls() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := v.calls
	v.calls = nil
	return out
}

type fixture struct {
	m     *orders.Manager
	inv   *inventory.Tracker
	cache *market.Cache
	venue *fakeVenue
	at    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	u, err := domain.NewUniverse(domain.Instrument{
		Symbol:        sym,
		Base:          domain.Token{Address: weth, Decimals: 18},
		Quote:         domain.Token{Address: usdc, Decimals: 6},
		ExposureLimit: decimal.NewFromInt(10),
		OrderSize:     decimal.NewFromInt(1),
		MaxSkewBps:    decimal.NewFromInt(50),
		PriceDriftBps: decimal.NewFromInt(20),
		SizeDriftPct:  decimal.RequireFromString("0.1"),
	})
	require.NoError(t, err)

	f := &fixture{venue: &fakeVenue{}, at: now}
	f.inv = inventory.NewTracker(u, nil)
	f.cache = market.NewCache(3 * time.Second).WithClock(func() time.Time { return f.at })
	f.m = orders.New(orders.Config{VenueTimeout: time.Second}, u, f.inv, f.cache, f.venue, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	f.m.Start(ctx)
	return f
}

// feed publishes a snapshot one second after the previous one and moves the clock.
func (f *fixture) feed(t *testing.T, bid, ask string) {
	t.Helper()
	f.at = f.at.Add(time.Second)
	require.True(t, f.cache.Update(domain.Snapshot{
		Instrument: sym,
		Bid:        decimal.RequireFromString(bid),
		Ask:        decimal.RequireFromString(ask),
		Timestamp:  f.at,
		Source:     "test",
	}))
}

func (f *fixture) reconcile(t *testing.T) orders.Report {
	t.Helper()
	rep, err := f.m.Reconcile(context.Background(), sym)
	require.NoError(t, err)
	return rep
}

func (f *fixture) slot(t *testing.T, side domain.Side) orders.SlotView {
	t.Helper()
	views, err := f.m.Slots(context.Background())
	require.NoError(t, err)
	for _, v := range views {
		if v.Instrument == sym && v.Side == side {
			return v
		}
	}
	t.Fatalf("slot %s not found", side)
	return orders.SlotView{}
}

func notification(eventID, orderID string, status domain.FillStatus, raw string) domain.TradeNotification {
	return domain.TradeNotification{
		EventID:      eventID,
		OrderID:      orderID,
		Status:       status,
		FilledAmount: decimal.RequireFromString(raw),
		Price:        decimal.NewFromInt(1999),
		Timestamp:    now,
	}
}

func indexOf(calls []string, prefix string) int {
	for i, c := range calls {
		if strings.HasPrefix(c, prefix) {
			return i
		}
	}
	return -1
}

func TestReconcile_PlacesBothSidesWhenIdle(t *testing.T) {
	f := newFixture(t)
	f.feed(t, "1999", "2001")

	rep := f.reconcile(t)

	assert.Equal(t, []string{"place BUY 1999", "place SELL 2001"}, f.venue.takeCalls())
	assert.Equal(t, 2, rep.Placed)
	assert.Empty(t, rep.Errors)
	assert.Len(t, rep.Orders, 2)
	assert.Equal(t, domain.StateResting, f.slot(t, domain.SideBuy).State)
	assert.Equal(t, domain.StateResting, f.slot(t, domain.SideSell).State)
}

func TestReconcile_StaleMarketPlacesNothing(t *testing.T) {
	f := newFixture(t)

	rep := f.reconcile(t)

	assert.Empty(t, f.venue.takeCalls())
	assert.Zero(t, rep.Placed)
	assert.Equal(t, domain.StateIdle, f.slot(t, domain.SideBuy).State)
}

func TestReconcile_KeepsOrdersWithinDrift(t *testing.T) {
	f := newFixture(t)
	f.feed(t, "1999", "2001")
	f.reconcile(t)
	f.venue.takeCalls()

	// 1999 -> 1999.5 is 2.5 bps, below the 20 bps threshold.
	f.feed(t, "1999.5", "2001")
	rep := f.reconcile(t)

	assert.Empty(t, f.venue.takeCalls())
	assert.Zero(t, rep.Placed)
	assert.Zero(t, rep.Cancelled)
}

func TestReconcile_CancelsBeforeReplacing(t *testing.T) {
	f := newFixture(t)
	f.feed(t, "1999", "2001")
	f.reconcile(t)
	f.venue.takeCalls()

	f.feed(t, "2099", "2101")
	rep := f.reconcile(t)

	calls := f.venue.takeCalls()
	assert.Equal(t, []string{"cancel v-1", "place BUY 2099", "cancel v-2", "place SELL 2101"}, calls)
	assert.Less(t, indexOf(calls, "cancel v-1"), indexOf(calls, "place BUY"))
	assert.Equal(t, 2, rep.Cancelled)
	assert.Equal(t, 2, rep.Placed)

	buy := f.slot(t, domain.SideBuy)
	require.NotNil(t, buy.Order)
	assert.Equal(t, "v-3", buy.Order.VenueID)
	assert.True(t, buy.Order.Price.Equal(decimal.NewFromInt(2099)))
}

func TestReconcile_NoPlaceWhileCancelUnacknowledged(t *testing.T) {
	f := newFixture(t)
	f.feed(t, "1999", "2001")
	f.reconcile(t)
	f.venue.takeCalls()

	f.venue.cancel = func(string) (domain.CancelResult, error) {
		return "", fmt.Errorf("litlayer: %w", domain.ErrVenueTimeout)
	}
	f.feed(t, "2099", "2101")
	rep := f.reconcile(t)

	calls := f.venue.takeCalls()
	assert.Equal(t, []string{"cancel v-1", "cancel v-2"}, calls)
	assert.Equal(t, -1, indexOf(calls, "place"))
	assert.Len(t, rep.Errors, 2)
	assert.Equal(t, domain.StateUnknown, f.slot(t, domain.SideBuy).State)

	// Next tick resolves the unknown order before anything else.
	f.venue.cancel = nil
	f.venue.query = func(venueID, _ string) (domain.VenueOrder, error) {
		return domain.VenueOrder{VenueID: venueID, Status: domain.VenueOrderCancelled}, nil
	}
	f.reconcile(t)
	calls = f.venue.takeCalls()
	require.NotEmpty(t, calls)
	assert.True(t, strings.HasPrefix(calls[0], "query v-1"))
	assert.Less(t, indexOf(calls, "query v-1"), indexOf(calls, "place BUY 2099"))
}

func TestReconcile_AlreadyTerminalCancelMarksFilled(t *testing.T) {
	f := newFixture(t)
	f.feed(t, "1999", "2001")
	f.reconcile(t)
	f.venue.takeCalls()

	f.venue.cancel = func(string) (domain.CancelResult, error) { return domain.CancelAlreadyTerminal, nil }
	f.feed(t, "2099", "2101")
	rep := f.reconcile(t)

	assert.Equal(t, []string{"cancel v-1", "cancel v-2"}, f.venue.takeCalls())
	assert.Zero(t, rep.Placed)
	assert.Equal(t, domain.StateFilled, f.slot(t, domain.SideBuy).State)

	// The fill for the terminal order still reaches inventory.
	out, err := f.m.OnFillEvent(context.Background(), notification("e-1", "v-1", domain.FillComplete, "1000000000000000000"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAck, out)
	pos, err := f.inv.Position(sym)
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(1)))

	f.venue.cancel = nil
	f.reconcile(t)
	calls := f.venue.takeCalls()
	assert.NotEqual(t, -1, indexOf(calls, "place BUY"))
}

func TestReconcile_RejectedPlacementGoesIdle(t *testing.T) {
	f := newFixture(t)
	f.feed(t, "1999", "2001")
	f.venue.place = func(domain.PlaceOrderRequest) (domain.PlacedOrder, error) {
		return domain.PlacedOrder{}, fmt.Errorf("litlayer: %w: post only would cross", domain.ErrVenueRejected)
	}

	rep := f.reconcile(t)

	assert.Equal(t, []string{"place BUY 1999", "place SELL 2001"}, f.venue.takeCalls())
	assert.Zero(t, rep.Placed)
	require.Len(t, rep.Errors, 2)
	assert.Contains(t, rep.Errors[0], "rejected")
	assert.Equal(t, domain.StateIdle, f.slot(t, domain.SideBuy).State)
	assert.Nil(t, f.slot(t, domain.SideBuy).Order)
}

func TestReconcile_PlacementTimeoutResolvedByQuery(t *testing.T) {
	f := newFixture(t)
	f.feed(t, "1999", "2001")
	f.venue.place = func(req domain.PlaceOrderRequest) (domain.PlacedOrder, error) {
		if req.Side == domain.SideBuy {
			return domain.PlacedOrder{}, context.DeadlineExceeded
		}
		return domain.PlacedOrder{VenueID: "v-sell"}, nil
	}

	f.reconcile(t)
	f.venue.takeCalls()
	buy := f.slot(t, domain.SideBuy)
	assert.Equal(t, domain.StateUnknown, buy.State)
	require.NotNil(t, buy.Order)
	clientID := buy.Order.LocalID

	f.venue.query = func(venueID, cid string) (domain.VenueOrder, error) {
		assert.Empty(t, venueID)
		assert.Equal(t, clientID, cid)
		return domain.VenueOrder{VenueID: "v-9", Status: domain.VenueOrderOpen}, nil
	}
	rep := f.reconcile(t)

	calls := f.venue.takeCalls()
	assert.Equal(t, []string{"query /" + clientID}, calls)
	assert.Equal(t, 1, rep.Queried)
	buy = f.slot(t, domain.SideBuy)
	assert.Equal(t, domain.StateResting, buy.State)
	assert.Equal(t, "v-9", buy.Order.VenueID)
}

func TestOnFillEvent_PartialThenComplete(t *testing.T) {
	f := newFixture(t)
	f.feed(t, "1999", "2001")
	f.reconcile(t)
	ctx := context.Background()

	out, err := f.m.OnFillEvent(ctx, notification("e-1", "v-1", domain.FillPartial, "400000000000000000"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAck, out)
	buy := f.slot(t, domain.SideBuy)
	assert.Equal(t, domain.StatePartiallyFilled, buy.State)
	assert.True(t, buy.Order.Filled.Equal(decimal.RequireFromString("0.4")))

	out, err = f.m.OnFillEvent(ctx, notification("e-2", "v-1", domain.FillComplete, "600000000000000000"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAck, out)
	assert.Equal(t, domain.StateIdle, f.slot(t, domain.SideBuy).State)

	pos, err := f.inv.Position(sym)
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(1)), "got %s", pos.Quantity)
}

func TestOnFillEvent_SellReducesPosition(t *testing.T) {
	f := newFixture(t)
	f.feed(t, "1999", "2001")
	f.reconcile(t)

	_, err := f.m.OnFillEvent(context.Background(), notification("e-1", "v-2", domain.FillComplete, "1000000000000000000"))
	require.NoError(t, err)

	pos, err := f.inv.Position(sym)
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(-1)))
}

func TestOnFillEvent_DuplicateIgnored(t *testing.T) {
	f := newFixture(t)
	f.feed(t, "1999", "2001")
	f.reconcile(t)
	ctx := context.Background()
	n := notification("e-1", "v-1", domain.FillPartial, "500000000000000000")

	_, err := f.m.OnFillEvent(ctx, n)
	require.NoError(t, err)
	out, err := f.m.OnFillEvent(ctx, n)
	assert.ErrorIs(t, err, domain.ErrDuplicateEvent)
	assert.Equal(t, domain.OutcomeIgnored, out)

	pos, err := f.inv.Position(sym)
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(decimal.RequireFromString("0.5")))
}

func TestOnFillEvent_UnknownOrderIgnored(t *testing.T) {
	f := newFixture(t)

	out, err := f.m.OnFillEvent(context.Background(), notification("e-1", "nope", domain.FillComplete, "1"))

	assert.ErrorIs(t, err, domain.ErrUnknownOrder)
	assert.Equal(t, domain.OutcomeIgnored, out)
}

func TestOnFillEvent_LateFillAfterCancelAck(t *testing.T) {
	f := newFixture(t)
	f.feed(t, "1999", "2001")
	f.reconcile(t)
	f.feed(t, "2099", "2101")
	f.reconcile(t)

	// v-1 was cancelled and replaced, a fill that raced the cancel still counts.
	out, err := f.m.OnFillEvent(context.Background(), notification("e-1", "v-1", domain.FillPartial, "250000000000000000"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAck, out)

	pos, err := f.inv.Position(sym)
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(decimal.RequireFromString("0.25")))
	assert.Equal(t, "v-3", f.slot(t, domain.SideBuy).Order.VenueID)
}

func TestOnFillEvent_ParkedUntilOrderResolved(t *testing.T) {
	f := newFixture(t)
	f.feed(t, "1999", "2001")
	f.venue.place = func(req domain.PlaceOrderRequest) (domain.PlacedOrder, error) {
		if req.Side == domain.SideBuy {
			return domain.PlacedOrder{}, domain.ErrVenueTimeout
		}
		return domain.PlacedOrder{VenueID: "v-sell"}, nil
	}
	f.reconcile(t)

	out, err := f.m.OnFillEvent(context.Background(), notification("e-1", "v-9", domain.FillPartial, "300000000000000000"))
	assert.ErrorIs(t, err, domain.ErrUnknownOrder)
	assert.Equal(t, domain.OutcomeIgnored, out)

	f.venue.takeCalls()
	f.venue.query = func(string, string) (domain.VenueOrder, error) {
		return domain.VenueOrder{VenueID: "v-9", Status: domain.VenueOrderOpen}, nil
	}
	f.reconcile(t)

	pos, err := f.inv.Position(sym)
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(decimal.RequireFromString("0.3")))

	// The replayed fill left 0.7 resting against a desired 1.0, past the size
	// threshold, so the order is replaced after the query.
	calls := f.venue.takeCalls()
	require.NotEmpty(t, calls)
	assert.True(t, strings.HasPrefix(calls[0], "query "))
	assert.Less(t, indexOf(calls, "cancel v-9"), indexOf(calls, "place BUY"))
}

func TestOnFillEvent_FillDuringPlacementReachesInventory(t *testing.T) {
	f := newFixture(t)
	f.feed(t, "1999", "2001")
	var during error
	f.venue.place = func(req domain.PlaceOrderRequest) (domain.PlacedOrder, error) {
		if req.Side == domain.SideBuy {
			// The venue reports the fill before PlaceOrder returns the id.
			_, during = f.m.OnFillEvent(context.Background(),
				notification("e-1", "v-buy", domain.FillPartial, "300000000000000000"))
			return domain.PlacedOrder{VenueID: "v-buy"}, nil
		}
		return domain.PlacedOrder{VenueID: "v-sell"}, nil
	}

	f.reconcile(t)

	assert.ErrorIs(t, during, domain.ErrUnknownOrder)
	pos, err := f.inv.Position(sym)
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(decimal.RequireFromString("0.3")), "got %s", pos.Quantity)
	buy := f.slot(t, domain.SideBuy)
	assert.Equal(t, domain.StatePartiallyFilled, buy.State)
	assert.True(t, buy.Order.Filled.Equal(decimal.RequireFromString("0.3")))
}

func TestOnFillEvent_ConcurrentWithPlacementNeverLost(t *testing.T) {
	for i := range 25 {
		f := newFixture(t)
		f.feed(t, "1999", "2001")
		done := make(chan struct{})
		venueID := fmt.Sprintf("v-race-%d", i)
		f.venue.place = func(req domain.PlaceOrderRequest) (domain.PlacedOrder, error) {
			if req.Side == domain.SideBuy {
				go func() {
					defer close(done)
					_, _ = f.m.OnFillEvent(context.Background(),
						notification("e-1", venueID, domain.FillPartial, "300000000000000000"))
				}()
				return domain.PlacedOrder{VenueID: venueID}, nil
			}
			return domain.PlacedOrder{VenueID: "v-sell"}, nil
		}

		f.reconcile(t)
		<-done

		pos, err := f.inv.Position(sym)
		require.NoError(t, err)
		require.True(t, pos.Quantity.Equal(decimal.RequireFromString("0.3")), "iteration %d: got %s", i, pos.Quantity)
	}
}

func TestOnFillEvent_VenueCancelFreesSlot(t *testing.T) {
	f := newFixture(t)
	f.feed(t, "1999", "2001")
	f.reconcile(t)

	out, err := f.m.OnFillEvent(context.Background(), notification("e-1", "v-1", domain.FillCancelled, "0"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAck, out)
	assert.Equal(t, domain.StateIdle, f.slot(t, domain.SideBuy).State)
}

func TestComputeDesired_RespectsHeadroom(t *testing.T) {
	f := newFixture(t)
	f.feed(t, "1999", "2001")
	_, _, err := f.inv.ApplyFill(context.Background(), domain.Fill{
		ID: "seed", Instrument: sym, Delta: decimal.RequireFromString("9.5"), Price: decimal.NewFromInt(2000),
	})
	require.NoError(t, err)

	buy, err := f.m.ComputeDesired(sym, domain.SideBuy)
	require.NoError(t, err)
	require.NotNil(t, buy)
	assert.True(t, buy.Size.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, buy.Price.LessThan(decimal.NewFromInt(1999)), "long inventory lowers the bid")

	sell, err := f.m.ComputeDesired(sym, domain.SideSell)
	require.NoError(t, err)
	require.NotNil(t, sell)
	assert.True(t, sell.Size.Equal(decimal.NewFromInt(1)))

	_, _, err = f.inv.ApplyFill(context.Background(), domain.Fill{
		ID: "seed-2", Instrument: sym, Delta: decimal.RequireFromString("0.5"), Price: decimal.NewFromInt(2000),
	})
	require.NoError(t, err)
	buy, err = f.m.ComputeDesired(sym, domain.SideBuy)
	require.NoError(t, err)
	assert.Nil(t, buy)
}

func TestShutdown_CancelsLiveOrders(t *testing.T) {
	f := newFixture(t)
	f.feed(t, "1999", "2001")
	f.reconcile(t)
	f.venue.takeCalls()

	f.m.Shutdown(context.Background())

	assert.ElementsMatch(t, []string{"cancel v-1", "cancel v-2"}, f.venue.takeCalls())
	assert.Equal(t, domain.StateIdle, f.slot(t, domain.SideBuy).State)
}

func TestReconcile_UnknownInstrument(t *testing.T) {
	f := newFixture(t)

	_, err := f.m.Reconcile(context.Background(), "BTC-USDC")

	assert.ErrorIs(t, err, domain.ErrUnknownInstrument)
}
