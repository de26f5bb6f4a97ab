package ports

import "github.com/alejandrodnm/jitmaker/internal/domain"

// SnapshotSink recibe market data de un feed. Lo implementa el snapshot cache.
type SnapshotSink interface {
	// Update devuelve false si el snapshot es más viejo que el que ya hay.
	Update(snap domain.Snapshot) bool
}
