package market

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/jitmaker/internal/domain"
)

// Cache holds the latest snapshot per instrument.
// Lookups are tagged with a Freshness so callers decide their own fallback.
type Cache struct {
	maxAge time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	latest  map[string]domain.Snapshot
	version uint64
}

// NewCache creates a cache where snapshots older than maxAge are stale.
func NewCache(maxAge time.Duration) *Cache {
	return &Cache{
		maxAge: maxAge,
		now:    time.Now,
		latest: make(map[string]domain.Snapshot),
	}
}

// WithClock overrides the clock (tests).
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Update replaces the snapshot for its instrument if it is strictly newer than
// the current one. Out-of-order or invalid deliveries are dropped. Returns true
// when the snapshot was accepted.
func (c *Cache) Update(snap domain.Snapshot) bool {
	if err := snap.Validate(); err != nil {
		slog.Warn("market: invalid snapshot dropped", "err", err, "source", snap.Source)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.latest[snap.Instrument]; ok && !snap.Timestamp.After(cur.Timestamp) {
		slog.Debug("market: out-of-order snapshot dropped",
			"instrument", snap.Instrument,
			"have", cur.Timestamp,
			"got", snap.Timestamp,
		)
		return false
	}
	c.version++
	snap.Version = c.version
	c.latest[snap.Instrument] = snap
	return true
}

// Latest returns the newest snapshot and whether it is usable. A stale lookup
// still returns the snapshot for diagnostics, tagged Stale.
func (c *Cache) Latest(instrument string) (domain.Snapshot, domain.Freshness) {
	c.mu.RLock()
	snap, ok := c.latest[instrument]
	c.mu.RUnlock()

	if !ok {
		return domain.Snapshot{}, domain.Missing
	}
	if c.now().Sub(snap.Timestamp) > c.maxAge {
		return snap, domain.Stale
	}
	return snap, domain.Fresh
}

// MaxAge returns the staleness threshold.
func (c *Cache) MaxAge() time.Duration { return c.maxAge }
