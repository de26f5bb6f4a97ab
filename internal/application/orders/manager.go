// Package orders owns the resting order of every (instrument, side) slot and
// keeps it in sync with the venue.
//
// Each instrument is driven by a single actor goroutine: reconciles and fill
// notifications for that instrument are executed one at a time on it, so a fill
// can never interleave with a placement decision derived from pre-fill
// inventory. Different instruments run in parallel.
package orders

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/jitmaker/internal/domain"
	"github.com/alejandrodnm/jitmaker/internal/ports"
)

const (
	defaultVenueTimeout  = 5 * time.Second
	defaultInboxSize     = 64
	defaultRetiredWindow = 256
	defaultOrphanWindow  = 512
)

// Inventory is what the manager needs from the inventory tracker.
type Inventory interface {
	Position(instrument string) (domain.Position, error)
	Headroom(instrument string) (domain.ExposureRange, error)
	ApplyFill(ctx context.Context, f domain.Fill) (domain.Position, bool, error)
}

// SnapshotReader is the read side of the market snapshot cache.
type SnapshotReader interface {
	Latest(instrument string) (domain.Snapshot, domain.Freshness)
}

// Config tunes the manager.
type Config struct {
	VenueTimeout  time.Duration // per place/cancel/query call
	InboxSize     int
	RetiredWindow int // finished orders remembered per instrument for late fills
	OrphanWindow  int // notifications for not-yet-known order ids kept for replay
}

// Report summarises one reconcile of one instrument.
type Report struct {
	Instrument string
	Placed     int
	Cancelled  int
	Queried    int
	Errors     []string
	Orders     []domain.Order
}

// SlotView is a read-only view of a slot for reporting.
type SlotView struct {
	Instrument string
	Side       domain.Side
	State      domain.OrderState
	Order      *domain.Order
}

// Manager is the order lifecycle manager.
type Manager struct {
	cfg       Config
	universe  *domain.Universe
	inventory Inventory
	market    SnapshotReader
	venue     ports.Venue
	journal   ports.OrderJournal
	metrics   ports.Metrics
	now       func() time.Time

	actors map[string]*actor // fixed at construction
	reg    *registry

	startOnce sync.Once
}

// New creates a manager. journal and metrics may be nil.
func New(
	cfg Config,
	universe *domain.Universe,
	inventory Inventory,
	market SnapshotReader,
	venue ports.Venue,
	journal ports.OrderJournal,
	metrics ports.Metrics,
) *Manager {
	if cfg.VenueTimeout <= 0 {
		cfg.VenueTimeout = defaultVenueTimeout
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = defaultInboxSize
	}
	if cfg.RetiredWindow <= 0 {
		cfg.RetiredWindow = defaultRetiredWindow
	}
	if cfg.OrphanWindow <= 0 {
		cfg.OrphanWindow = defaultOrphanWindow
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}

	m := &Manager{
		cfg:       cfg,
		universe:  universe,
		inventory: inventory,
		market:    market,
		venue:     venue,
		journal:   journal,
		metrics:   metrics,
		now:       time.Now,
		actors:    make(map[string]*actor),
		reg:       newRegistry(cfg.OrphanWindow),
	}
	for _, sym := range universe.Symbols() {
		inst, _ := universe.Get(sym)
		m.actors[sym] = newActor(m, inst)
	}
	return m
}

// Start launches one actor goroutine per instrument. They stop when ctx is done.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		for _, a := range m.actors {
			go a.run(ctx)
		}
		slog.Info("orders: manager started", "instruments", len(m.actors), "venue_timeout", m.cfg.VenueTimeout)
	})
}

// Instruments returns the managed instrument symbols.
func (m *Manager) Instruments() []string { return m.universe.Symbols() }

// ComputeDesired derives the target resting order for a slot from inventory and
// the latest snapshot, using the same skew as auction quotes. Returns nil when
// no order should rest (stale market, no headroom, zero size).
func (m *Manager) ComputeDesired(instrument string, side domain.Side) (*domain.DesiredOrder, error) {
	inst, err := m.universe.Get(instrument)
	if err != nil {
		return nil, fmt.Errorf("orders.ComputeDesired: %w", err)
	}
	snap, fresh := m.market.Latest(instrument)
	if fresh != domain.Fresh {
		return nil, nil
	}
	pos, err := m.inventory.Position(instrument)
	if err != nil {
		return nil, fmt.Errorf("orders.ComputeDesired: position: %w", err)
	}

	room := domain.Headroom(pos, inst.ExposureLimit).Room(side)
	size := inst.OrderSize
	if room.LessThan(size) {
		size = room
	}
	if size.Sign() <= 0 {
		return nil, nil
	}
	price := domain.SkewedPrices(inst, snap, pos).For(side)
	if price.Sign() <= 0 {
		return nil, nil
	}
	return &domain.DesiredOrder{
		Instrument:      instrument,
		Side:            side,
		Price:           price,
		Size:            size,
		SnapshotVersion: snap.Version,
	}, nil
}

// Reconcile brings both slots of an instrument in line with their desired
// orders. Runs on the instrument's actor.
func (m *Manager) Reconcile(ctx context.Context, instrument string) (Report, error) {
	a, ok := m.actors[instrument]
	if !ok {
		return Report{}, fmt.Errorf("orders.Reconcile: %w: %s", domain.ErrUnknownInstrument, instrument)
	}
	var rep Report
	err := a.do(ctx, func(ctx context.Context) {
		rep = a.reconcile(ctx)
	})
	if err != nil {
		return Report{}, fmt.Errorf("orders.Reconcile: %w", err)
	}
	return rep, nil
}

// OnFillEvent applies a trade notification to the order it references and
// forwards the fill delta to inventory. Notifications for untracked orders
// return OutcomeIgnored with ErrUnknownOrder; they are kept briefly in case
// the order id is learned later (placement that timed out).
func (m *Manager) OnFillEvent(ctx context.Context, n domain.TradeNotification) (domain.Outcome, error) {
	instrument, ok := m.reg.lookupOrPark(n)
	if !ok {
		return domain.OutcomeIgnored, fmt.Errorf("orders.OnFillEvent: %w: %s", domain.ErrUnknownOrder, n.OrderID)
	}
	a := m.actors[instrument]

	var (
		out    domain.Outcome
		applyErr error
	)
	err := a.do(ctx, func(ctx context.Context) {
		out, applyErr = a.onFill(ctx, n)
	})
	if err != nil {
		return domain.OutcomeIgnored, fmt.Errorf("orders.OnFillEvent: %w", err)
	}
	return out, applyErr
}

// Slots returns a view of every slot.
func (m *Manager) Slots(ctx context.Context) ([]SlotView, error) {
	var out []SlotView
	for _, sym := range m.universe.Symbols() {
		a := m.actors[sym]
		err := a.do(ctx, func(context.Context) {
			out = append(out, a.views()...)
		})
		if err != nil {
			return nil, fmt.Errorf("orders.Slots: %w", err)
		}
	}
	return out, nil
}

// Shutdown cancels every live resting order. Used on process stop.
func (m *Manager) Shutdown(ctx context.Context) {
	for _, sym := range m.universe.Symbols() {
		a := m.actors[sym]
		err := a.do(ctx, func(ctx context.Context) {
			a.cancelAll(ctx)
		})
		if err != nil {
			slog.Warn("orders: shutdown cancel incomplete", "instrument", sym, "err", err)
		}
	}
}

func (m *Manager) record(ctx context.Context, ev domain.OrderEvent) {
	ev.At = m.now().UTC()
	m.metrics.VenueAction(ctx, ev.Instrument, ev.Action, ev.Result)
	if m.journal == nil {
		return
	}
	if err := m.journal.SaveOrderEvent(ctx, ev); err != nil {
		slog.Warn("orders: error journaling order event", "action", ev.Action, "order", ev.LocalID, "err", err)
	}
}
