// Package scheduler dispara la reconciliación periódica de órdenes.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/jitmaker/internal/application/orders"
	"github.com/alejandrodnm/jitmaker/internal/domain"
	"github.com/alejandrodnm/jitmaker/internal/ports"
)

// Reconciler es lo que el scheduler necesita del order manager.
type Reconciler interface {
	Instruments() []string
	Reconcile(ctx context.Context, instrument string) (orders.Report, error)
}

// PositionLister expone las posiciones para el reporte de ciclo.
type PositionLister interface {
	Positions() []domain.Position
}

// Scheduler ejecuta un tick cada Interval. En cada tick reconcilia todos los
// instrumentos en paralelo; si la reconciliación anterior de un instrumento
// sigue en curso, ese instrumento se salta en este tick.
type Scheduler struct {
	interval  time.Duration
	rec       Reconciler
	positions PositionLister
	notifier  ports.Notifier

	inFlight map[string]*atomic.Bool // fijo tras New
	skipped  atomic.Int64
}

// New crea el scheduler. positions y notifier pueden ser nil.
func New(interval time.Duration, rec Reconciler, positions PositionLister, notifier ports.Notifier) *Scheduler {
	s := &Scheduler{
		interval:  interval,
		rec:       rec,
		positions: positions,
		notifier:  notifier,
		inFlight:  make(map[string]*atomic.Bool),
	}
	for _, sym := range rec.Instruments() {
		s.inFlight[sym] = &atomic.Bool{}
	}
	return s
}

// Run ejecuta un tick inmediato y luego uno por intervalo hasta que ctx termina.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("scheduler: starting", "interval", s.interval, "instruments", len(s.inFlight))

	s.tickAsync(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler: stopped", "skipped_ticks", s.skipped.Load())
			return nil
		case <-ticker.C:
			s.tickAsync(ctx)
		}
	}
}

// tickAsync no bloquea el loop: un venue lento no debe retrasar el ticker, y
// el flag in-flight evita solapar ciclos del mismo instrumento.
func (s *Scheduler) tickAsync(ctx context.Context) {
	go func() {
		if _, err := s.Tick(ctx); err != nil {
			slog.Warn("scheduler: tick failed", "err", err)
		}
	}()
}

// Tick reconcilia todos los instrumentos que no tengan una reconciliación en
// curso y devuelve el reporte agregado.
func (s *Scheduler) Tick(ctx context.Context) (ports.CycleReport, error) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		report  ports.CycleReport
		reports = make(map[string]orders.Report)
	)

	for sym, flag := range s.inFlight {
		if !flag.CompareAndSwap(false, true) {
			s.skipped.Add(1)
			slog.Debug("scheduler: reconcile still in flight, skipping", "instrument", sym)
			continue
		}
		wg.Add(1)
		go func(sym string, flag *atomic.Bool) {
			defer wg.Done()
			defer flag.Store(false)

			rep, err := s.rec.Reconcile(ctx, sym)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", sym, err))
				return
			}
			reports[sym] = rep
		}(sym, flag)
	}
	wg.Wait()

	for _, rep := range reports {
		report.Placed += rep.Placed
		report.Cancelled += rep.Cancelled
		report.Orders = append(report.Orders, rep.Orders...)
		report.Errors = append(report.Errors, rep.Errors...)
	}
	if s.positions != nil {
		report.Positions = s.positions.Positions()
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyCycle(ctx, report); err != nil {
			return report, fmt.Errorf("scheduler.Tick: notify: %w", err)
		}
	}
	return report, nil
}

// Skipped devuelve cuántas veces se saltó un instrumento por tener un ciclo en curso.
func (s *Scheduler) Skipped() int64 { return s.skipped.Load() }
