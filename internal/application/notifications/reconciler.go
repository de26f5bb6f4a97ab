// Package notifications recibe las notificaciones de trades del venue, las
// deduplica y reordena por secuencia, y las entrega al order manager.
//
// El venue puede entregar eventos duplicados, fuera de orden o tarde. La
// inventory solo debe ver cada event id una vez.
package notifications

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/jitmaker/internal/domain"
	"github.com/alejandrodnm/jitmaker/internal/ports"
)

const (
	defaultDedupeWindow  = 4096
	defaultReorderWindow = 64
	defaultMaxHold       = 2 * time.Second
	defaultInboxSize     = 1024

	// firstSequence es la primera secuencia que emite el venue.
	firstSequence = 1
)

// FillHandler aplica una notificación ya ordenada. Lo implementa orders.Manager.
type FillHandler interface {
	OnFillEvent(ctx context.Context, n domain.TradeNotification) (domain.Outcome, error)
}

// Config controla las ventanas de dedupe y reordenamiento.
type Config struct {
	DedupeWindow  int           // event ids recordados
	ReorderWindow int           // eventos retenidos esperando un hueco de secuencia
	MaxHold       time.Duration // tiempo máximo que un evento espera un hueco
	InboxSize     int
}

// Reconciler implementa el pipeline de notificaciones.
type Reconciler struct {
	cfg     Config
	handler FillHandler
	metrics ports.Metrics
	now     func() time.Time
	inbox   chan domain.TradeNotification

	// mu serializa Handle completo, incluida la entrega, para que dos llamadas
	// concurrentes no entreguen eventos fuera de secuencia.
	mu      sync.Mutex
	seen    map[string]struct{}
	ring    []string
	ringPos int
	pending pendingHeap
	cursor  uint64 // próxima secuencia esperada
}

// New crea el reconciler. metrics puede ser nil.
func New(cfg Config, handler FillHandler, metrics ports.Metrics) *Reconciler {
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = defaultDedupeWindow
	}
	if cfg.ReorderWindow <= 0 {
		cfg.ReorderWindow = defaultReorderWindow
	}
	if cfg.MaxHold <= 0 {
		cfg.MaxHold = defaultMaxHold
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = defaultInboxSize
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Reconciler{
		cfg:     cfg,
		handler: handler,
		metrics: metrics,
		now:     time.Now,
		inbox:   make(chan domain.TradeNotification, cfg.InboxSize),
		seen:    make(map[string]struct{}, cfg.DedupeWindow),
		ring:    make([]string, cfg.DedupeWindow),
		cursor:  firstSequence,
	}
}

// WithClock reemplaza el reloj (tests).
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Validate comprueba los campos obligatorios de una notificación.
func Validate(n domain.TradeNotification) error {
	switch {
	case n.EventID == "":
		return domain.NewValidationError("event_id", "required")
	case n.OrderID == "":
		return domain.NewValidationError("order_id", "required")
	case n.FilledAmount.IsNegative():
		return domain.NewValidationError("filled_amount", "must not be negative")
	case n.Price.IsNegative():
		return domain.NewValidationError("price", "must not be negative")
	}
	switch n.Status {
	case domain.FillPartial, domain.FillComplete, domain.FillCancelled:
	default:
		return domain.NewValidationError("status", "unknown status %q", n.Status)
	}
	return nil
}

// Enqueue encola una notificación para Run. Devuelve error si la cola está llena.
func (r *Reconciler) Enqueue(n domain.TradeNotification) error {
	if err := Validate(n); err != nil {
		return fmt.Errorf("notifications.Enqueue: %w", err)
	}
	select {
	case r.inbox <- n:
		return nil
	default:
		return fmt.Errorf("notifications.Enqueue: inbox full (%d)", cap(r.inbox))
	}
}

// Run consume la cola hasta que ctx termina. Periódicamente libera eventos que
// excedieron MaxHold aunque no lleguen nuevos.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.MaxHold / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.drain(context.WithoutCancel(ctx))
			return nil
		case n := <-r.inbox:
			if _, err := r.Handle(ctx, n); err != nil {
				slog.Warn("notifications: error handling notification",
					"event_id", n.EventID, "order_id", n.OrderID, "err", err)
			}
		case <-ticker.C:
			r.Flush(ctx)
		}
	}
}

// drain entrega lo que quede en la cola y en la ventana de reorden al parar.
func (r *Reconciler) drain(ctx context.Context) {
	for {
		select {
		case n := <-r.inbox:
			if _, err := r.Handle(ctx, n); err != nil {
				slog.Warn("notifications: error handling notification on drain", "event_id", n.EventID, "err", err)
			}
		default:
			r.mu.Lock()
			r.dispatch(ctx, r.releaseAll())
			r.mu.Unlock()
			return
		}
	}
}

// Handle procesa una notificación: dedupe, reorden y entrega. Un evento
// retenido esperando su secuencia devuelve OutcomeAck; se entregará después.
func (r *Reconciler) Handle(ctx context.Context, n domain.TradeNotification) (domain.Outcome, error) {
	if err := Validate(n); err != nil {
		return domain.OutcomeIgnored, fmt.Errorf("notifications.Handle: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.seen[n.EventID]; dup {
		slog.Debug("notifications: duplicate event ignored", "event_id", n.EventID, "order_id", n.OrderID)
		r.metrics.NotificationHandled(ctx, domain.OutcomeIgnored)
		return domain.OutcomeIgnored, nil
	}
	r.remember(n.EventID)

	var released []domain.TradeNotification
	switch {
	case n.Sequence == 0:
		released = []domain.TradeNotification{n}
	case n.Sequence < r.cursor:
		slog.Info("notifications: late event applied out of sequence",
			"event_id", n.EventID, "sequence", n.Sequence, "cursor", r.cursor)
		released = []domain.TradeNotification{n}
	default:
		// Aunque sea el primer evento, espera a sus predecesores: si la
		// secuencia no empieza en firstSequence, MaxHold o la ventana llena
		// terminan saltando el hueco.
		heap.Push(&r.pending, pending{n: n, arrived: r.now()})
		released = r.release()
	}

	outcome := domain.OutcomeAck
	for _, res := range r.dispatch(ctx, released) {
		if res.eventID == n.EventID {
			outcome = res.outcome
		}
	}
	return outcome, nil
}

// Flush fuerza la entrega de eventos retenidos más de MaxHold.
func (r *Reconciler) Flush(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatch(ctx, r.release())
}

// Pending devuelve cuántos eventos esperan un hueco de secuencia.
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending.Len()
}

func (r *Reconciler) remember(id string) {
	if old := r.ring[r.ringPos]; old != "" {
		delete(r.seen, old)
	}
	r.ring[r.ringPos] = id
	r.ringPos = (r.ringPos + 1) % len(r.ring)
	r.seen[id] = struct{}{}
}

// release saca del heap los eventos contiguos al cursor. Si la ventana está
// llena o algún evento superó MaxHold, salta el hueco liberando el menor.
func (r *Reconciler) release() []domain.TradeNotification {
	var out []domain.TradeNotification
	for r.pending.Len() > 0 {
		head := r.pending[0]
		switch {
		case head.n.Sequence <= r.cursor:
			// Contiguo, o duplicado de secuencia con otro event id.
		case r.pending.Len() > r.cfg.ReorderWindow || r.overdue():
			slog.Warn("notifications: sequence gap skipped",
				"expected", r.cursor, "released", head.n.Sequence, "pending", r.pending.Len())
		default:
			return out
		}
		heap.Pop(&r.pending)
		out = append(out, head.n)
		if head.n.Sequence >= r.cursor {
			r.cursor = head.n.Sequence + 1
		}
	}
	return out
}

func (r *Reconciler) releaseAll() []domain.TradeNotification {
	var out []domain.TradeNotification
	for r.pending.Len() > 0 {
		p := heap.Pop(&r.pending).(pending)
		out = append(out, p.n)
		if p.n.Sequence >= r.cursor {
			r.cursor = p.n.Sequence + 1
		}
	}
	return out
}

func (r *Reconciler) overdue() bool {
	limit := r.now().Add(-r.cfg.MaxHold)
	for _, p := range r.pending {
		if p.arrived.Before(limit) {
			return true
		}
	}
	return false
}

type result struct {
	eventID string
	outcome domain.Outcome
}

func (r *Reconciler) dispatch(ctx context.Context, events []domain.TradeNotification) []result {
	out := make([]result, 0, len(events))
	for _, n := range events {
		outcome, err := r.handler.OnFillEvent(ctx, n)
		switch {
		case errors.Is(err, domain.ErrUnknownOrder):
			slog.Warn("notifications: event for unknown order ignored",
				"event_id", n.EventID, "order_id", n.OrderID, "status", n.Status)
		case errors.Is(err, domain.ErrDuplicateEvent):
			slog.Debug("notifications: fill already applied", "event_id", n.EventID)
		case err != nil:
			slog.Error("notifications: error applying event",
				"event_id", n.EventID, "order_id", n.OrderID, "err", err)
		}
		r.metrics.NotificationHandled(ctx, outcome)
		out = append(out, result{eventID: n.EventID, outcome: outcome})
	}
	return out
}

type pending struct {
	n       domain.TradeNotification
	arrived time.Time
}

// pendingHeap es un min-heap por secuencia.
type pendingHeap []pending

func (h pendingHeap) Len() int           { return len(h) }
func (h pendingHeap) Less(i, j int) bool { return h[i].n.Sequence < h[j].n.Sequence }
func (h pendingHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *pendingHeap) Push(x any)        { *h = append(*h, x.(pending)) }
func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
