package telemetry

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/jitmaker/internal/domain"
	"github.com/alejandrodnm/jitmaker/internal/ports"
)

var _ ports.Metrics = (*Metrics)(nil)

type staticPositions []domain.Position

func (s staticPositions) Positions() []domain.Position { return s }

func find(points []Point, name string, attrs map[string]string) (Point, bool) {
	for _, p := range points {
		if p.Name != name {
			continue
		}
		match := true
		for k, v := range attrs {
			if p.Attributes[k] != v {
				match = false
				break
			}
		}
		if match {
			return p, true
		}
	}
	return Point{}, false
}

func TestMetrics_CountersAccumulate(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	ctx := context.Background()

	m.QuoteIssued(ctx, "WETH-USDC", domain.QuoteAccepted, "")
	m.QuoteIssued(ctx, "WETH-USDC", domain.QuoteAccepted, "")
	m.QuoteIssued(ctx, "WETH-USDC", domain.QuoteDeclined, domain.ReasonStaleMarket)
	m.FillApplied(ctx, "WETH-USDC", domain.SideBuy)
	m.VenueAction(ctx, "WETH-USDC", domain.ActionPlace, "ok")
	m.NotificationHandled(ctx, domain.OutcomeAck)
	m.NotificationHandled(ctx, domain.OutcomeIgnored)

	points, err := m.Snapshot(ctx)
	require.NoError(t, err)

	p, ok := find(points, "jitmaker.quotes", map[string]string{"status": "accepted"})
	require.True(t, ok)
	assert.Equal(t, 2.0, p.Value)

	p, ok = find(points, "jitmaker.quotes", map[string]string{"reason": "STALE_MARKET"})
	require.True(t, ok)
	assert.Equal(t, 1.0, p.Value)

	p, ok = find(points, "jitmaker.fills", map[string]string{"side": "BUY"})
	require.True(t, ok)
	assert.Equal(t, 1.0, p.Value)

	p, ok = find(points, "jitmaker.venue_actions", map[string]string{"action": "PLACE", "result": "ok"})
	require.True(t, ok)
	assert.Equal(t, 1.0, p.Value)

	p, ok = find(points, "jitmaker.notifications", map[string]string{"outcome": "IGNORED"})
	require.True(t, ok)
	assert.Equal(t, 1.0, p.Value)

	require.NoError(t, m.Shutdown(ctx))
}

func TestMetrics_PositionGauge(t *testing.T) {
	m, err := New(staticPositions{
		{Instrument: "WETH-USDC", Quantity: decimal.RequireFromString("-2.5")},
		{Instrument: "WBTC-USDC", Quantity: decimal.RequireFromString("0.1")},
	})
	require.NoError(t, err)

	points, err := m.Snapshot(context.Background())
	require.NoError(t, err)

	p, ok := find(points, "jitmaker.position", map[string]string{"instrument": "WETH-USDC"})
	require.True(t, ok)
	assert.Equal(t, -2.5, p.Value)

	p, ok = find(points, "jitmaker.position", map[string]string{"instrument": "WBTC-USDC"})
	require.True(t, ok)
	assert.InDelta(t, 0.1, p.Value, 1e-9)
}

func TestSnapshot_SortedByName(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	ctx := context.Background()
	m.NotificationHandled(ctx, domain.OutcomeAck)
	m.FillApplied(ctx, "X", domain.SideSell)

	points, err := m.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "jitmaker.fills", points[0].Name)
	assert.Equal(t, "jitmaker.notifications", points[1].Name)
}
