package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/alejandrodnm/jitmaker/config"
	"github.com/alejandrodnm/jitmaker/internal/adapters/httpapi"
	"github.com/alejandrodnm/jitmaker/internal/adapters/litlayer"
	"github.com/alejandrodnm/jitmaker/internal/adapters/marketdata"
	"github.com/alejandrodnm/jitmaker/internal/adapters/notify"
	"github.com/alejandrodnm/jitmaker/internal/adapters/paper"
	"github.com/alejandrodnm/jitmaker/internal/adapters/storage"
	"github.com/alejandrodnm/jitmaker/internal/adapters/telemetry"
	"github.com/alejandrodnm/jitmaker/internal/application/inventory"
	"github.com/alejandrodnm/jitmaker/internal/application/market"
	"github.com/alejandrodnm/jitmaker/internal/application/notifications"
	"github.com/alejandrodnm/jitmaker/internal/application/orders"
	"github.com/alejandrodnm/jitmaker/internal/application/quoter"
	"github.com/alejandrodnm/jitmaker/internal/application/scheduler"
	"github.com/alejandrodnm/jitmaker/internal/domain"
	"github.com/alejandrodnm/jitmaker/internal/ports"
)

const (
	shutdownTimeout    = 10 * time.Second
	paperMatchInterval = time.Second
)

// app agrupa los componentes cableados.
type app struct {
	cfg *config.Config

	universe   *domain.Universe
	client     *litlayer.Client
	session    *litlayer.Session
	cache      *market.Cache
	metrics    *telemetry.Metrics
	manager    *orders.Manager
	reconciler *notifications.Reconciler
	scheduler  *scheduler.Scheduler
	api        *httpapi.Server
	paperVenue *paper.Venue
	ticker     *litlayer.TickerFeed
	wsFeed     *marketdata.Feed
}

func newApp(cfg *config.Config, journal *storage.Journal, console *notify.Console) (*app, error) {
	u, err := cfg.Universe()
	if err != nil {
		return nil, err
	}
	bg := context.Background()

	tracker := inventory.NewTracker(u, journal)
	positions, err := journal.LoadPositions(bg)
	if err != nil {
		return nil, fmt.Errorf("restore positions: %w", err)
	}
	fillIDs, err := journal.LoadFillIDs(bg)
	if err != nil {
		return nil, fmt.Errorf("restore fill ids: %w", err)
	}
	tracker.Restore(positions, fillIDs)

	a := &app{cfg: cfg, universe: u, cache: market.NewCache(cfg.MaxSnapshotAge())}

	if a.metrics, err = telemetry.New(tracker); err != nil {
		return nil, err
	}

	a.client = litlayer.NewClient(litlayer.Config{
		BaseURL:    cfg.Venue.BaseURL,
		APIKey:     cfg.Venue.APIKey,
		RatePerSec: cfg.Venue.RatePerSec,
		Burst:      cfg.Venue.Burst,
		Timeout:    time.Duration(cfg.Venue.TimeoutMs) * time.Millisecond,
	})
	if cfg.Venue.SigningKey != "" && cfg.Venue.AgentAddress != "" {
		a.session, err = litlayer.NewSession(litlayer.SessionConfig{
			TradingKeyHex: cfg.Venue.SigningKey,
			AgentAddress:  cfg.Venue.AgentAddress,
			Platform:      cfg.Venue.Platform,
			Environment:   cfg.Venue.Environment,
		}, time.Now())
		if err != nil {
			return nil, err
		}
		a.client.WithSession(a.session)
		slog.Info("litlayer session ready", "signer", a.session.Signer().Hex(), "expires", a.session.Expiry())
	}

	var venue ports.Venue
	if cfg.Venue.Mode == "paper" {
		a.paperVenue = paper.NewVenue(a.cache, nil)
		venue = a.paperVenue
	} else {
		venue = litlayer.NewVenue(a.client)
	}

	a.manager = orders.New(orders.Config{
		VenueTimeout:  cfg.VenueTimeout(),
		InboxSize:     cfg.Orders.InboxSize,
		RetiredWindow: cfg.Orders.RetiredWindow,
		OrphanWindow:  cfg.Orders.OrphanWindow,
	}, u, tracker, a.cache, venue, journal, a.metrics)

	a.reconciler = notifications.New(notifications.Config{
		DedupeWindow:  cfg.Notifications.DedupeWindow,
		ReorderWindow: cfg.Notifications.ReorderWindow,
		MaxHold:       cfg.MaxHold(),
		InboxSize:     cfg.Notifications.InboxSize,
	}, a.manager, a.metrics)
	if a.paperVenue != nil {
		a.paperVenue.SetSink(a.reconciler)
	}

	a.scheduler = scheduler.New(cfg.RefreshInterval(), a.manager, tracker, console)

	a.api = httpapi.NewServer(httpapi.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		QuoteTimeout:   cfg.QuoteTimeout(),
	}, httpapi.Deps{
		Universe:      u,
		Quoter:        quoter.New(u, tracker, a.cache),
		Notifications: a.reconciler,
		Positions:     tracker,
		Slots:         a.manager,
		Journal:       journal,
		Metrics:       a.metrics,
		Telemetry:     a.metrics,
	})

	instruments := make([]domain.Instrument, 0, len(u.Symbols()))
	for _, sym := range u.Symbols() {
		inst, _ := u.Get(sym)
		instruments = append(instruments, inst)
	}
	if cfg.Market.Mode == "rest" || cfg.Market.Mode == "both" {
		a.ticker = litlayer.NewTickerFeed(a.client, instruments, a.cache, cfg.PollInterval())
	}
	if cfg.Market.Mode == "ws" || cfg.Market.Mode == "both" {
		a.wsFeed = marketdata.NewFeed(cfg.Market.WSURL, u.Symbols(), a.cache)
		if cfg.Venue.APIKey != "" {
			a.wsFeed.WithHeader("X-API-Key", cfg.Venue.APIKey)
		}
	}
	return a, nil
}

// run arranca todo y bloquea hasta que ctx termina. Al parar, el scheduler
// deja de disparar ticks, se cancelan las órdenes vivas con los actores aún
// en marcha y solo después se cancela runCtx.
func (a *app) run(ctx context.Context) error {
	runCtx, stopRun := context.WithCancel(context.WithoutCancel(ctx))
	defer stopRun()

	a.manager.Start(runCtx)

	var wg sync.WaitGroup
	spawn := func(name string, c context.Context, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(c); err != nil {
				slog.Error("component exited with error", "component", name, "err", err)
			}
		}()
	}

	if a.ticker != nil {
		spawn("ticker", runCtx, a.ticker.Run)
	}
	if a.wsFeed != nil {
		spawn("ws-feed", runCtx, a.wsFeed.Run)
	}
	if a.paperVenue != nil {
		spawn("paper", runCtx, func(c context.Context) error { return a.paperVenue.Run(c, paperMatchInterval) })
	}
	spawn("notifications", runCtx, a.reconciler.Run)
	spawn("scheduler", ctx, a.scheduler.Run)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(a.cfg.Server.Port)),
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	a.register(ctx)

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown", "err", err)
	}
	a.manager.Shutdown(shutdownCtx)
	stopRun()
	wg.Wait()

	if err := a.metrics.Shutdown(shutdownCtx); err != nil {
		slog.Warn("metrics shutdown", "err", err)
	}
	return runErr
}

// runOnce hace un ciclo de refresh con market data REST y cancela todo.
func (a *app) runOnce(ctx context.Context) error {
	if a.ticker == nil {
		return errors.New("-once needs market.mode rest or both")
	}
	runCtx, stopRun := context.WithCancel(context.WithoutCancel(ctx))
	defer stopRun()
	a.manager.Start(runCtx)

	if n := a.ticker.PollOnce(ctx); n == 0 {
		slog.Warn("no fresh market data, nothing will be placed")
	}
	_, tickErr := a.scheduler.Tick(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.manager.Shutdown(shutdownCtx)
	return tickErr
}

// register autoriza la sesión y registra el endpoint del maker en el venue.
// Un fallo no detiene el proceso: el venue puede tenerlo registrado de antes.
func (a *app) register(ctx context.Context) {
	if a.session == nil || a.cfg.Server.PublicEndpoint == "" {
		return
	}
	if err := a.client.SubmitExchange(ctx, a.session); err != nil {
		slog.Warn("litlayer session submit failed", "err", err)
		return
	}
	if err := a.client.RegisterEndpoint(ctx, a.cfg.Venue.AgentAddress, a.cfg.Server.PublicEndpoint); err != nil {
		slog.Warn("litlayer endpoint registration failed", "err", err)
		return
	}
	slog.Info("maker endpoint registered", "endpoint", a.cfg.Server.PublicEndpoint, "agent", a.cfg.Venue.AgentAddress)
}
