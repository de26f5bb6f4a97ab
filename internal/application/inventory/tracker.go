// Package inventory holds the single source of truth for positions.
//
// Positions change only through ApplyFill, which is idempotent per fill id.
// Every reader gets a copy, never a live handle.
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/jitmaker/internal/domain"
	"github.com/alejandrodnm/jitmaker/internal/ports"
	"github.com/shopspring/decimal"
)

// book is the per-instrument state. Each one has its own lock so quoting on one
// instrument never waits on fills for another.
type book struct {
	mu      sync.RWMutex
	limit   decimal.Decimal
	pos     domain.Position
	applied map[string]struct{}
}

// Tracker implements the inventory position store.
type Tracker struct {
	books   map[string]*book // fixed at construction, read without locking
	journal ports.FillJournal
	now     func() time.Time
}

// NewTracker creates a tracker with a zero position for every instrument in u.
// journal may be nil.
func NewTracker(u *domain.Universe, journal ports.FillJournal) *Tracker {
	t := &Tracker{
		books:   make(map[string]*book),
		journal: journal,
		now:     time.Now,
	}
	for _, sym := range u.Symbols() {
		inst, _ := u.Get(sym)
		t.books[sym] = &book{
			limit:   inst.ExposureLimit,
			pos:     domain.Position{Instrument: sym, Quantity: decimal.Zero, Notional: decimal.Zero},
			applied: make(map[string]struct{}),
		}
	}
	return t
}

// WithClock overrides the clock used to stamp positions (tests).
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Restore loads a persisted baseline. Positions for instruments no longer
// configured are skipped with a warning.
func (t *Tracker) Restore(positions []domain.Position, fillIDs map[string][]string) {
	for _, p := range positions {
		b, ok := t.books[p.Instrument]
		if !ok {
			slog.Warn("inventory: checkpoint for unconfigured instrument ignored", "instrument", p.Instrument)
			continue
		}
		b.mu.Lock()
		b.pos = p
		b.mu.Unlock()
	}
	for sym, ids := range fillIDs {
		b, ok := t.books[sym]
		if !ok {
			continue
		}
		b.mu.Lock()
		for _, id := range ids {
			b.applied[id] = struct{}{}
		}
		b.mu.Unlock()
	}
}

// Position returns a copy of the current position.
func (t *Tracker) Position(instrument string) (domain.Position, error) {
	b, ok := t.books[instrument]
	if !ok {
		return domain.Position{}, fmt.Errorf("inventory.Position: %w: %s", domain.ErrUnknownInstrument, instrument)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.pos, nil
}

// Positions returns copies of every position, in no particular order.
func (t *Tracker) Positions() []domain.Position {
	out := make([]domain.Position, 0, len(t.books))
	for _, b := range t.books {
		b.mu.RLock()
		out = append(out, b.pos)
		b.mu.RUnlock()
	}
	return out
}

// Headroom returns the signed quantity range still within the exposure limit.
func (t *Tracker) Headroom(instrument string) (domain.ExposureRange, error) {
	b, ok := t.books[instrument]
	if !ok {
		return domain.ExposureRange{}, fmt.Errorf("inventory.Headroom: %w: %s", domain.ErrUnknownInstrument, instrument)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return domain.Headroom(b.pos, b.limit), nil
}

// ApplyFill adds a fill's signed delta to the position. Applying a fill id a
// second time is a no-op that returns the unchanged position and applied=false.
// An instrument outside the universe fails with ErrUnknownInstrument and
// mutates nothing.
func (t *Tracker) ApplyFill(ctx context.Context, f domain.Fill) (pos domain.Position, applied bool, err error) {
	b, ok := t.books[f.Instrument]
	if !ok {
		return domain.Position{}, false, fmt.Errorf("inventory.ApplyFill: %w: %s", domain.ErrUnknownInstrument, f.Instrument)
	}
	if f.ID == "" {
		return domain.Position{}, false, fmt.Errorf("inventory.ApplyFill: empty fill id")
	}

	b.mu.Lock()
	if _, dup := b.applied[f.ID]; dup {
		pos = b.pos
		b.mu.Unlock()
		slog.Debug("inventory: duplicate fill ignored", "fill_id", f.ID, "instrument", f.Instrument)
		return pos, false, nil
	}
	b.applied[f.ID] = struct{}{}
	b.pos.Quantity = b.pos.Quantity.Add(f.Delta)
	b.pos.Notional = b.pos.Notional.Add(f.Delta.Mul(f.Price))
	b.pos.Fills++
	b.pos.UpdatedAt = t.now().UTC()
	pos = b.pos
	b.mu.Unlock()

	slog.Info("inventory: fill applied",
		"fill_id", f.ID,
		"instrument", f.Instrument,
		"order", f.OrderRef,
		"delta", f.Delta.String(),
		"price", f.Price.String(),
		"position", pos.Quantity.String(),
	)

	if t.journal != nil {
		if err := t.journal.SaveFill(ctx, f, pos); err != nil {
			slog.Warn("inventory: error journaling fill", "fill_id", f.ID, "err", err)
		}
	}
	return pos, true, nil
}
