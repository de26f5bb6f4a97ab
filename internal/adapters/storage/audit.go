package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/jitmaker/internal/domain"
)

// SaveQuote registra la respuesta a una subasta junto con su base.
func (j *Journal) SaveQuote(ctx context.Context, req domain.AuctionRequest, res domain.QuoteResult, at time.Time) error {
	b := res.Basis
	if _, err := j.db.ExecContext(ctx, `
		INSERT INTO quotes
			(request_id, instrument, side, status, reason, amount_in, amount_out,
			 price, mid, skew, position_before, snapshot_version, quoted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, b.Instrument, string(b.Side), string(res.Status), string(res.Reason),
		req.AmountIn.String(), res.AmountOut.String(),
		b.Price.String(), b.Mid.String(), b.Skew.String(), b.PositionBefore.String(),
		b.SnapshotVersion, at.UTC(),
	); err != nil {
		return fmt.Errorf("storage.SaveQuote: insert %s: %w", req.ID, err)
	}
	return nil
}

// SaveOrderEvent registra una decisión del order manager.
func (j *Journal) SaveOrderEvent(ctx context.Context, ev domain.OrderEvent) error {
	if _, err := j.db.ExecContext(ctx, `
		INSERT INTO order_events
			(at, instrument, side, action, local_id, venue_id, price, size, result, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.At.UTC(), ev.Instrument, string(ev.Side), string(ev.Action), ev.LocalID, ev.VenueID,
		ev.Price.String(), ev.Size.String(), ev.Result, ev.Detail,
	); err != nil {
		return fmt.Errorf("storage.SaveOrderEvent: insert %s %s: %w", ev.Action, ev.LocalID, err)
	}
	return nil
}

// RecentOrderEvents devuelve los últimos eventos de órdenes, más recientes primero.
func (j *Journal) RecentOrderEvents(ctx context.Context, limit int) ([]domain.OrderEvent, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT at, instrument, side, action, local_id, venue_id, price, size, result, detail
		FROM order_events
		ORDER BY at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.RecentOrderEvents: query: %w", err)
	}
	defer rows.Close()

	var out []domain.OrderEvent
	for rows.Next() {
		var (
			ev           domain.OrderEvent
			side, action string
			price, size  string
		)
		if err := rows.Scan(&ev.At, &ev.Instrument, &side, &action, &ev.LocalID, &ev.VenueID,
			&price, &size, &ev.Result, &ev.Detail); err != nil {
			return nil, fmt.Errorf("storage.RecentOrderEvents: scan row: %w", err)
		}
		ev.Side = domain.Side(side)
		ev.Action = domain.OrderAction(action)
		ev.Price, _ = decimal.NewFromString(price)
		ev.Size, _ = decimal.NewFromString(size)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// QuoteStats cuenta las quotes por estado y motivo desde since.
func (j *Journal) QuoteStats(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT status, reason, COUNT(*) FROM quotes
		WHERE quoted_at >= ?
		GROUP BY status, reason`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("storage.QuoteStats: query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status, reason string
		var n int
		if err := rows.Scan(&status, &reason, &n); err != nil {
			return nil, fmt.Errorf("storage.QuoteStats: scan row: %w", err)
		}
		key := status
		if reason != "" {
			key = status + ":" + reason
		}
		out[key] = n
	}
	return out, rows.Err()
}
