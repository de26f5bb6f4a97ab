// Package paper implementa un venue en memoria para dry runs: las órdenes
// se llenan cuando el mercado las cruza y los fills llegan como trade
// notifications, igual que en producción.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/jitmaker/internal/domain"
)

// FillSink recibe las notificaciones simuladas. Lo implementa el reconciler.
type FillSink interface {
	Enqueue(n domain.TradeNotification) error
}

// Quotes es la fuente de precios contra la que se cruzan las órdenes.
type Quotes interface {
	Latest(instrument string) (domain.Snapshot, domain.Freshness)
}

type status string

const (
	statusOpen      status = "open"
	statusFilled    status = "filled"
	statusCancelled status = "cancelled"
)

type order struct {
	n        int
	venueID  string
	clientID string
	inst     domain.Instrument
	side     domain.Side
	price    decimal.Decimal
	size     decimal.Decimal // unidades de base
	filled   decimal.Decimal
	status   status
	placedAt time.Time
}

// Venue es el exchange simulado.
type Venue struct {
	quotes Quotes
	sink   FillSink
	now    func() time.Time

	mu       sync.Mutex
	orders   map[string]*order
	byClient map[string]string
	nextID   int
	seq      uint64
}

// NewVenue crea un venue vacío. sink puede ser nil hasta SetSink.
func NewVenue(quotes Quotes, sink FillSink) *Venue {
	return &Venue{
		quotes:   quotes,
		sink:     sink,
		now:      time.Now,
		orders:   make(map[string]*order),
		byClient: make(map[string]string),
	}
}

// SetSink conecta el destino de los fills. El reconciler se construye
// después del order manager, que a su vez necesita el venue.
func (v *Venue) SetSink(sink FillSink) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sink = sink
}

// PlaceOrder acepta cualquier orden con precio y tamaño positivos.
func (v *Venue) PlaceOrder(_ context.Context, req domain.PlaceOrderRequest) (domain.PlacedOrder, error) {
	if req.Price.Sign() <= 0 || req.Size.Sign() <= 0 {
		return domain.PlacedOrder{}, fmt.Errorf("paper.PlaceOrder: %w: price and size must be positive", domain.ErrVenueRejected)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if req.ClientID != "" {
		if id, dup := v.byClient[req.ClientID]; dup {
			return domain.PlacedOrder{VenueID: id, Status: string(v.orders[id].status)}, nil
		}
	}
	v.nextID++
	o := &order{
		n:        v.nextID,
		venueID:  fmt.Sprintf("paper-%d", v.nextID),
		clientID: req.ClientID,
		inst:     req.Instrument,
		side:     req.Side,
		price:    req.Price,
		size:     req.Size,
		filled:   decimal.Zero,
		status:   statusOpen,
		placedAt: v.now(),
	}
	v.orders[o.venueID] = o
	if o.clientID != "" {
		v.byClient[o.clientID] = o.venueID
	}
	slog.Debug("paper: order placed",
		"venue_id", o.venueID,
		"instrument", o.inst.Symbol,
		"side", o.side,
		"price", o.price.String(),
		"size", o.size.String(),
	)
	return domain.PlacedOrder{VenueID: o.venueID, Status: string(statusOpen)}, nil
}

// CancelOrder cancela una orden abierta.
func (v *Venue) CancelOrder(_ context.Context, venueID string) (domain.CancelResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	o, ok := v.orders[venueID]
	if !ok || o.status != statusOpen {
		return domain.CancelAlreadyTerminal, nil
	}
	o.status = statusCancelled
	return domain.CancelAck, nil
}

// QueryOrder devuelve el estado de una orden. Filled va en enteros de
// unidades base, como lo reporta el venue real.
func (v *Venue) QueryOrder(_ context.Context, venueID, clientID string) (domain.VenueOrder, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if venueID == "" {
		venueID = v.byClient[clientID]
	}
	o, ok := v.orders[venueID]
	if !ok {
		return domain.VenueOrder{VenueID: venueID, Status: domain.VenueOrderNotFound}, nil
	}

	out := domain.VenueOrder{
		VenueID: o.venueID,
		Filled:  o.inst.Base.FromUnits(o.filled),
		Price:   o.price,
		Size:    o.size,
	}
	switch o.status {
	case statusFilled:
		out.Status = domain.VenueOrderFilled
	case statusCancelled:
		out.Status = domain.VenueOrderCancelled
	default:
		out.Status = domain.VenueOrderOpen
	}
	return out, nil
}

// Match cruza las órdenes abiertas contra el último snapshot fresco: un BUY
// se llena si ask <= precio, un SELL si bid >= precio. Devuelve cuántos
// fills emitió.
func (v *Venue) Match(ctx context.Context) int {
	v.mu.Lock()
	var fills []domain.TradeNotification
	for _, o := range v.openOrders() {
		snap, fresh := v.quotes.Latest(o.inst.Symbol)
		if fresh != domain.Fresh || !crosses(o, snap) {
			continue
		}
		remaining := o.size.Sub(o.filled)
		o.filled = o.size
		o.status = statusFilled
		v.seq++
		fills = append(fills, domain.TradeNotification{
			EventID:      uuid.New().String(),
			OrderID:      o.venueID,
			Status:       domain.FillComplete,
			FilledAmount: o.inst.Base.FromUnits(remaining),
			Price:        o.price,
			Sequence:     v.seq,
			Timestamp:    v.now(),
		})
	}
	sink := v.sink
	v.mu.Unlock()

	for _, n := range fills {
		slog.Info("paper: order filled", "venue_id", n.OrderID, "price", n.Price.String())
		if sink == nil {
			continue
		}
		if err := sink.Enqueue(n); err != nil {
			slog.Warn("paper: fill notification dropped", "venue_id", n.OrderID, "err", err)
		}
	}
	return len(fills)
}

// Run llama a Match cada interval hasta que ctx termina.
func (v *Venue) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			v.Match(ctx)
		}
	}
}

// Open devuelve cuántas órdenes siguen abiertas.
func (v *Venue) Open() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.openOrders())
}

// openOrders devuelve las órdenes abiertas en orden de llegada. Requiere mu.
func (v *Venue) openOrders() []*order {
	var out []*order
	for _, o := range v.orders {
		if o.status == statusOpen {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].n < out[j].n })
	return out
}

func crosses(o *order, snap domain.Snapshot) bool {
	if o.side == domain.SideBuy {
		return snap.Ask.LessThanOrEqual(o.price)
	}
	return snap.Bid.GreaterThanOrEqual(o.price)
}
