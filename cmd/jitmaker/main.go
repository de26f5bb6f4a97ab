package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/alejandrodnm/jitmaker/config"
	"github.com/alejandrodnm/jitmaker/internal/adapters/litlayer"
	"github.com/alejandrodnm/jitmaker/internal/adapters/notify"
	"github.com/alejandrodnm/jitmaker/internal/adapters/storage"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print full position/order tables each cycle (default: compact 1-line)")
	once := flag.Bool("once", false, "run one refresh cycle, cancel everything and exit")
	paperMode := flag.Bool("paper", false, "force the in-memory paper venue")
	status := flag.Bool("status", false, "print persisted positions, quote stats and recent order events, then exit")
	genKey := flag.Bool("gen-key", false, "generate a new trading key and exit")
	flag.Parse()

	if *genKey {
		key, addr, err := litlayer.GenerateTradingKey()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("address:     %s\ntrading key: %s\n", addr, key)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *paperMode {
		cfg.Venue.Mode = "paper"
	}
	closeLog := setupLogger(cfg.Log)
	defer closeLog()

	journal, err := storage.NewJournal(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer journal.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *status {
		if err := printStatus(ctx, journal, notify.NewConsole(true)); err != nil {
			slog.Error("status failed", "err", err)
			os.Exit(1)
		}
		return
	}

	slog.Info("jitmaker starting",
		"config", *configPath,
		"venue", cfg.Venue.Mode,
		"market", cfg.Market.Mode,
		"port", cfg.Server.Port,
		"refresh", cfg.RefreshInterval(),
		"instruments", len(cfg.Instruments),
		"once", *once,
	)

	app, err := newApp(cfg, journal, notify.NewConsole(*table || *once))
	if err != nil {
		slog.Error("failed to build app", "err", err)
		os.Exit(1)
	}

	if *once {
		err = app.runOnce(ctx)
	} else {
		err = app.run(ctx)
	}
	if err != nil {
		slog.Error("jitmaker exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("jitmaker stopped cleanly")
}

// setupLogger configura slog; si cfg.File está definido también escribe a un
// archivo rotado. Devuelve la función que cierra el archivo.
func setupLogger(cfg config.LogConfig) func() error {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	closeFn := func() error { return nil }
	if cfg.File != "" {
		fileLogger := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, fileLogger)
		closeFn = fileLogger.Close
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))
	return closeFn
}
