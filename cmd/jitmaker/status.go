package main

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/jitmaker/internal/adapters/notify"
	"github.com/alejandrodnm/jitmaker/internal/adapters/storage"
)

const (
	statusWindow = 24 * time.Hour
	statusEvents = 20
)

func printStatus(ctx context.Context, journal *storage.Journal, console *notify.Console) error {
	positions, err := journal.LoadPositions(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	events, err := journal.RecentOrderEvents(ctx, statusEvents)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	stats, err := journal.QuoteStats(ctx, time.Now().Add(-statusWindow))
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	console.PrintStatus(notify.StatusInput{
		Positions:  positions,
		Events:     events,
		QuoteStats: stats,
		Since:      "24h",
	})
	return nil
}
