package orders

import (
	"sync"

	"github.com/alejandrodnm/jitmaker/internal/domain"
)

// registry routes order ids (venue or local) to their instrument actor and
// parks notifications for ids nobody knows yet.
type registry struct {
	mu      sync.Mutex
	byRef   map[string]string
	orphans map[string][]domain.TradeNotification
	order   []string // orphan ids, oldest first
	window  int
}

func newRegistry(window int) *registry {
	return &registry{
		byRef:   make(map[string]string),
		orphans: make(map[string][]domain.TradeNotification),
		window:  window,
	}
}

func (r *registry) add(ref, instrument string) {
	if ref == "" {
		return
	}
	r.mu.Lock()
	r.byRef[ref] = instrument
	r.mu.Unlock()
}

func (r *registry) remove(refs ...string) {
	r.mu.Lock()
	for _, ref := range refs {
		delete(r.byRef, ref)
	}
	r.mu.Unlock()
}

// lookupOrPark returns the actor owning n.OrderID, or parks n when the id is
// unknown. Both happen under one lock so a concurrent addAndClaim either
// routes n or hands it back, never neither.
func (r *registry) lookupOrPark(n domain.TradeNotification) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if instrument, ok := r.byRef[n.OrderID]; ok {
		return instrument, true
	}
	r.park(n)
	return "", false
}

// addAndClaim registers ref and returns whatever was parked for it.
func (r *registry) addAndClaim(ref, instrument string) []domain.TradeNotification {
	if ref == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byRef[ref] = instrument
	return r.claim(ref)
}

// park keeps a notification for an unknown order id, evicting the oldest id
// once the window is full. Callers hold r.mu.
func (r *registry) park(n domain.TradeNotification) {
	if n.OrderID == "" {
		return
	}
	if _, ok := r.orphans[n.OrderID]; !ok {
		if len(r.order) >= r.window {
			oldest := r.order[0]
			r.order = r.order[1:]
			delete(r.orphans, oldest)
		}
		r.order = append(r.order, n.OrderID)
	}
	r.orphans[n.OrderID] = append(r.orphans[n.OrderID], n)
}

// claim removes and returns the parked notifications for ref. Callers hold r.mu.
func (r *registry) claim(ref string) []domain.TradeNotification {
	parked, ok := r.orphans[ref]
	if !ok {
		return nil
	}
	delete(r.orphans, ref)
	for i, id := range r.order {
		if id == ref {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return parked
}
