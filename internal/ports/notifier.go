package ports

import (
	"context"

	"github.com/alejandrodnm/jitmaker/internal/domain"
)

// CycleReport resume lo que hizo un tick de refresh.
type CycleReport struct {
	Positions []domain.Position
	Orders    []domain.Order
	Placed    int
	Cancelled int
	Errors    []string
}

// Notifier presenta cada ciclo de refresh al operador.
type Notifier interface {
	// NotifyCycle muestra posiciones y órdenes vivas.
	// En la implementación de consola, imprime una tabla formateada.
	NotifyCycle(ctx context.Context, report CycleReport) error
}
