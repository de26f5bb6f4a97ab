package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alejandrodnm/jitmaker/internal/domain"
)

var errStopped = errors.New("instrument actor stopped")

type command struct {
	ctx  context.Context
	fn   func(ctx context.Context)
	done chan struct{}
}

// slot is the resting order state of one side of one instrument.
type slot struct {
	side    domain.Side
	state   domain.OrderState
	order   *domain.Order
	desired *domain.DesiredOrder
}

// actor serialises everything that touches the slots of one instrument.
type actor struct {
	m       *Manager
	inst    domain.Instrument
	inbox   chan command
	stopped chan struct{}
	slots   []*slot

	retired      map[string]*domain.Order // by venue id and local id
	retiredOrder []*domain.Order
}

func newActor(m *Manager, inst domain.Instrument) *actor {
	return &actor{
		m:       m,
		inst:    inst,
		inbox:   make(chan command, m.cfg.InboxSize),
		stopped: make(chan struct{}),
		slots: []*slot{
			{side: domain.SideBuy, state: domain.StateIdle},
			{side: domain.SideSell, state: domain.StateIdle},
		},
		retired: make(map[string]*domain.Order),
	}
}

func (a *actor) run(ctx context.Context) {
	defer close(a.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-a.inbox:
			a.exec(cmd)
		}
	}
}

func (a *actor) exec(cmd command) {
	defer close(cmd.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("orders: actor panic, dumping slots",
				"instrument", a.inst.Symbol, "panic", r, "slots", fmt.Sprintf("%+v", a.views()))
			panic(r)
		}
	}()
	cmd.fn(cmd.ctx)
}

// do runs fn on the actor and waits for it to finish.
func (a *actor) do(ctx context.Context, fn func(ctx context.Context)) error {
	cmd := command{ctx: ctx, fn: fn, done: make(chan struct{})}
	select {
	case a.inbox <- cmd:
	case <-a.stopped:
		return fmt.Errorf("%s: %w", a.inst.Symbol, errStopped)
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cmd.done:
		return nil
	case <-a.stopped:
		return fmt.Errorf("%s: %w", a.inst.Symbol, errStopped)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *actor) reconcile(ctx context.Context) Report {
	rep := Report{Instrument: a.inst.Symbol}
	for _, s := range a.slots {
		a.reconcileSlot(ctx, s, &rep)
	}
	for _, s := range a.slots {
		if s.order != nil && s.order.State.Live() {
			rep.Orders = append(rep.Orders, *s.order)
		}
	}
	return rep
}

func (a *actor) reconcileSlot(ctx context.Context, s *slot, rep *Report) {
	if err := ctx.Err(); err != nil {
		rep.Errors = append(rep.Errors, fmt.Sprintf("%s %s: %v", a.inst.Symbol, s.side, err))
		return
	}

	// A terminal state from the previous tick frees the slot.
	if s.state == domain.StateFilled {
		s.state = domain.StateIdle
		s.order = nil
	}

	if s.state == domain.StateUnknown {
		rep.Queried++
		if !a.resolveUnknown(ctx, s, rep) {
			return
		}
		if s.state == domain.StateFilled {
			return
		}
	}

	desired, err := a.m.ComputeDesired(a.inst.Symbol, s.side)
	if err != nil {
		rep.Errors = append(rep.Errors, err.Error())
		return
	}
	s.desired = desired

	if s.order != nil && (s.state == domain.StateResting || s.state == domain.StatePartiallyFilled) {
		if desired != nil && !desired.Drifted(*s.order, a.inst) {
			s.state = domain.StateResting
			s.order.State = domain.StateResting
			return
		}
		// Cancel first; a replacement only goes out once the venue acked the cancel.
		if !a.cancel(ctx, s, rep) {
			return
		}
	}

	if desired == nil {
		return
	}
	s.state = domain.StateDesiredComputed
	a.place(ctx, s, *desired, rep)
}

func (a *actor) place(ctx context.Context, s *slot, d domain.DesiredOrder, rep *Report) {
	now := a.m.now().UTC()
	o := &domain.Order{
		LocalID:         uuid.NewString(),
		Instrument:      a.inst.Symbol,
		Side:            s.side,
		Price:           d.Price,
		Size:            d.Size,
		State:           domain.StatePlacing,
		SnapshotVersion: d.SnapshotVersion,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.order = o
	s.state = domain.StatePlacing
	a.m.reg.add(o.LocalID, a.inst.Symbol)

	vctx, cancel := context.WithTimeout(ctx, a.m.cfg.VenueTimeout)
	placed, err := a.m.venue.PlaceOrder(vctx, domain.PlaceOrderRequest{
		ClientID:   o.LocalID,
		Instrument: a.inst,
		Side:       s.side,
		Price:      d.Price,
		Size:       d.Size,
	})
	cancel()

	var parked []domain.TradeNotification
	ev := a.event(domain.ActionPlace, o)
	switch {
	case uncertain(err):
		o.State = domain.StateUnknown
		s.state = domain.StateUnknown
		ev.Result, ev.Detail = "TIMEOUT", err.Error()
		rep.Errors = append(rep.Errors, fmt.Sprintf("%s %s place: outcome unknown: %v", a.inst.Symbol, s.side, err))
		slog.Warn("orders: placement outcome unknown", "instrument", a.inst.Symbol, "side", s.side, "local_id", o.LocalID, "err", err)
	case err != nil:
		a.m.reg.remove(o.LocalID)
		s.order = nil
		s.state = domain.StateIdle
		ev.Result, ev.Detail = "REJECTED", err.Error()
		rep.Errors = append(rep.Errors, fmt.Sprintf("%s %s place rejected: %v", a.inst.Symbol, s.side, err))
		slog.Warn("orders: placement rejected", "instrument", a.inst.Symbol, "side", s.side, "price", d.Price, "size", d.Size, "err", err)
	default:
		o.VenueID = placed.VenueID
		o.State = domain.StateResting
		s.state = domain.StateResting
		parked = a.m.reg.addAndClaim(o.VenueID, a.inst.Symbol)
		ev.VenueID, ev.Result = o.VenueID, "RESTING"
		rep.Placed++
		slog.Info("orders: placed",
			"instrument", a.inst.Symbol, "side", s.side, "price", d.Price, "size", d.Size, "venue_id", o.VenueID)
	}
	a.m.record(ctx, ev)
	a.replay(ctx, o.VenueID, parked)
}

// cancel cancels the slot's order and reports whether the slot is free for a
// new placement.
func (a *actor) cancel(ctx context.Context, s *slot, rep *Report) bool {
	o := s.order
	prev := s.state
	s.state = domain.StateCancelling
	o.State = domain.StateCancelling

	vctx, cancel := context.WithTimeout(ctx, a.m.cfg.VenueTimeout)
	res, err := a.m.venue.CancelOrder(vctx, o.VenueID)
	cancel()

	ev := a.event(domain.ActionCancel, o)
	defer func() { a.m.record(ctx, ev) }()

	switch {
	case uncertain(err):
		o.State = domain.StateUnknown
		s.state = domain.StateUnknown
		ev.Result, ev.Detail = "TIMEOUT", err.Error()
		rep.Errors = append(rep.Errors, fmt.Sprintf("%s %s cancel: outcome unknown: %v", a.inst.Symbol, s.side, err))
		return false
	case err != nil:
		o.State = prev
		s.state = prev
		ev.Result, ev.Detail = "REJECTED", err.Error()
		rep.Errors = append(rep.Errors, fmt.Sprintf("%s %s cancel rejected: %v", a.inst.Symbol, s.side, err))
		return false
	}

	rep.Cancelled++
	o.UpdatedAt = a.m.now().UTC()
	ev.Result = string(res)
	if res == domain.CancelAlreadyTerminal {
		o.State = domain.StateFilled
		s.state = domain.StateFilled
		a.retire(o)
		slog.Info("orders: cancel found order already terminal", "instrument", a.inst.Symbol, "side", s.side, "venue_id", o.VenueID)
		return false
	}
	o.State = domain.StateIdle
	a.retire(o)
	s.order = nil
	s.state = domain.StateIdle
	return true
}

// resolveUnknown queries the venue for an order whose last call timed out and
// reports whether the slot state is known again.
func (a *actor) resolveUnknown(ctx context.Context, s *slot, rep *Report) bool {
	o := s.order
	if o == nil {
		s.state = domain.StateIdle
		return true
	}

	vctx, cancel := context.WithTimeout(ctx, a.m.cfg.VenueTimeout)
	vo, err := a.m.venue.QueryOrder(vctx, o.VenueID, o.LocalID)
	cancel()

	ev := a.event(domain.ActionQuery, o)
	if err != nil {
		ev.Result, ev.Detail = "ERROR", err.Error()
		a.m.record(ctx, ev)
		rep.Errors = append(rep.Errors, fmt.Sprintf("%s %s query: %v", a.inst.Symbol, s.side, err))
		return false
	}
	ev.Result = string(vo.Status)

	var parked []domain.TradeNotification
	if o.VenueID == "" && vo.VenueID != "" {
		o.VenueID = vo.VenueID
		parked = a.m.reg.addAndClaim(o.VenueID, a.inst.Symbol)
	}
	ev.VenueID = o.VenueID
	a.m.record(ctx, ev)
	o.UpdatedAt = a.m.now().UTC()

	switch vo.Status {
	case domain.VenueOrderOpen:
		o.State = domain.StateResting
		if o.Filled.Sign() > 0 {
			o.State = domain.StatePartiallyFilled
		}
		s.state = o.State
	case domain.VenueOrderFilled:
		o.State = domain.StateFilled
		s.state = domain.StateFilled
		a.retire(o)
	case domain.VenueOrderCancelled:
		o.State = domain.StateIdle
		a.retire(o)
		s.order = nil
		s.state = domain.StateIdle
	default:
		a.m.reg.remove(o.LocalID)
		s.order = nil
		s.state = domain.StateIdle
	}
	slog.Info("orders: resolved unknown order",
		"instrument", a.inst.Symbol, "side", s.side, "local_id", o.LocalID, "venue_status", vo.Status)

	a.replay(ctx, o.VenueID, parked)
	return true
}

// onFill applies a notification for an order owned by this actor.
func (a *actor) onFill(ctx context.Context, n domain.TradeNotification) (domain.Outcome, error) {
	o, s := a.find(n.OrderID)
	if o == nil {
		return domain.OutcomeIgnored, fmt.Errorf("%w: %s", domain.ErrUnknownOrder, n.OrderID)
	}

	switch n.Status {
	case domain.FillCancelled:
		if s != nil && o.State.Live() {
			o.State = domain.StateIdle
			o.UpdatedAt = a.m.now().UTC()
			a.retire(o)
			s.order = nil
			s.state = domain.StateIdle
			ev := a.event(domain.ActionCancel, o)
			ev.Result = "CANCELLED_BY_VENUE"
			a.m.record(ctx, ev)
		}
		return domain.OutcomeAck, nil
	case domain.FillPartial, domain.FillComplete:
	default:
		return domain.OutcomeIgnored, domain.NewValidationError("status", "unsupported status %q", n.Status)
	}

	qty := a.inst.Base.ToUnits(n.FilledAmount)
	if qty.Sign() > 0 {
		ts := n.Timestamp
		if ts.IsZero() {
			ts = a.m.now().UTC()
		}
		fill := domain.Fill{
			ID:         n.EventID,
			Instrument: a.inst.Symbol,
			OrderRef:   o.Ref(),
			Delta:      qty.Mul(o.Side.Sign()),
			Price:      n.Price,
			Timestamp:  ts,
		}
		_, applied, err := a.m.inventory.ApplyFill(ctx, fill)
		if err != nil {
			return domain.OutcomeIgnored, err
		}
		if !applied {
			return domain.OutcomeIgnored, fmt.Errorf("%w: %s", domain.ErrDuplicateEvent, n.EventID)
		}
		o.Filled = o.Filled.Add(qty)
		a.m.metrics.FillApplied(ctx, a.inst.Symbol, o.Side)
	}
	o.UpdatedAt = a.m.now().UTC()

	if s != nil {
		switch {
		case n.Status == domain.FillComplete || o.Remaining().Sign() <= 0:
			o.State = domain.StateFilled
			a.retire(o)
			s.order = nil
			s.state = domain.StateIdle
		case s.state != domain.StateUnknown:
			o.State = domain.StatePartiallyFilled
			s.state = domain.StatePartiallyFilled
		}
	}

	ev := a.event(domain.ActionFill, o)
	ev.Size = qty
	ev.Price = n.Price
	ev.Result = string(n.Status)
	ev.Detail = n.EventID
	a.m.record(ctx, ev)
	return domain.OutcomeAck, nil
}

// replay feeds notifications that arrived before ref was known.
func (a *actor) replay(ctx context.Context, ref string, parked []domain.TradeNotification) {
	for _, n := range parked {
		out, err := a.onFill(ctx, n)
		slog.Info("orders: replayed parked notification",
			"instrument", a.inst.Symbol, "event_id", n.EventID, "order_id", ref, "outcome", out, "err", err)
	}
}

// find returns the order with the given venue or local id. The slot is nil
// when the order is already retired.
func (a *actor) find(ref string) (*domain.Order, *slot) {
	for _, s := range a.slots {
		if s.order != nil && (s.order.VenueID == ref || s.order.LocalID == ref) {
			if s.state == domain.StateFilled {
				return s.order, nil
			}
			return s.order, s
		}
	}
	if o, ok := a.retired[ref]; ok {
		return o, nil
	}
	return nil, nil
}

// retire remembers a finished order so late fills still reach inventory.
func (a *actor) retire(o *domain.Order) {
	if _, ok := a.retired[o.LocalID]; ok {
		return
	}
	if len(a.retiredOrder) >= a.m.cfg.RetiredWindow {
		old := a.retiredOrder[0]
		a.retiredOrder = a.retiredOrder[1:]
		delete(a.retired, old.LocalID)
		delete(a.retired, old.VenueID)
		a.m.reg.remove(old.LocalID, old.VenueID)
	}
	a.retiredOrder = append(a.retiredOrder, o)
	a.retired[o.LocalID] = o
	if o.VenueID != "" {
		a.retired[o.VenueID] = o
	}
}

func (a *actor) cancelAll(ctx context.Context) {
	for _, s := range a.slots {
		if s.order == nil || !s.order.State.Live() {
			continue
		}
		if s.order.VenueID == "" {
			slog.Warn("orders: cannot cancel order without venue id", "instrument", a.inst.Symbol, "local_id", s.order.LocalID)
			continue
		}
		var rep Report
		a.cancel(ctx, s, &rep)
		for _, e := range rep.Errors {
			slog.Warn("orders: shutdown cancel", "err", e)
		}
	}
}

func (a *actor) views() []SlotView {
	out := make([]SlotView, 0, len(a.slots))
	for _, s := range a.slots {
		v := SlotView{Instrument: a.inst.Symbol, Side: s.side, State: s.state}
		if s.order != nil {
			o := *s.order
			v.Order = &o
		}
		out = append(out, v)
	}
	return out
}

func (a *actor) event(action domain.OrderAction, o *domain.Order) domain.OrderEvent {
	return domain.OrderEvent{
		Instrument: a.inst.Symbol,
		Side:       o.Side,
		Action:     action,
		LocalID:    o.LocalID,
		VenueID:    o.VenueID,
		Price:      o.Price,
		Size:       o.Size,
	}
}

// uncertain reports whether a venue error leaves the outcome of the call unknown.
func uncertain(err error) bool {
	return errors.Is(err, domain.ErrVenueTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
