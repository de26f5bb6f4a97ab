// Package telemetry implements ports.Metrics on OpenTelemetry counters and
// exposes a point-in-time read of them for the HTTP API.
package telemetry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/alejandrodnm/jitmaker/internal/domain"
)

const scope = "github.com/alejandrodnm/jitmaker"

// PositionLister feeds the position gauge.
type PositionLister interface {
	Positions() []domain.Position
}

// Metrics records quote, fill, venue and notification counters.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	reader   *sdkmetric.ManualReader

	quotes        metric.Int64Counter
	fills         metric.Int64Counter
	venueActions  metric.Int64Counter
	notifications metric.Int64Counter
}

// New builds a meter provider backed by a manual reader. positions may be nil.
func New(positions PositionLister) (*Metrics, error) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter(scope)

	m := &Metrics{provider: provider, reader: reader}
	var err error
	if m.quotes, err = meter.Int64Counter("jitmaker.quotes",
		metric.WithDescription("Auction quotes issued, by status and decline reason")); err != nil {
		return nil, fmt.Errorf("telemetry.New: quotes counter: %w", err)
	}
	if m.fills, err = meter.Int64Counter("jitmaker.fills",
		metric.WithDescription("Fills applied to inventory")); err != nil {
		return nil, fmt.Errorf("telemetry.New: fills counter: %w", err)
	}
	if m.venueActions, err = meter.Int64Counter("jitmaker.venue_actions",
		metric.WithDescription("Place/cancel/query calls to the venue, by result")); err != nil {
		return nil, fmt.Errorf("telemetry.New: venue counter: %w", err)
	}
	if m.notifications, err = meter.Int64Counter("jitmaker.notifications",
		metric.WithDescription("Trade notifications handled, by outcome")); err != nil {
		return nil, fmt.Errorf("telemetry.New: notifications counter: %w", err)
	}

	if positions != nil {
		_, err = meter.Float64ObservableGauge("jitmaker.position",
			metric.WithDescription("Signed inventory in base units"),
			metric.WithFloat64Callback(func(_ context.Context, obs metric.Float64Observer) error {
				for _, p := range positions.Positions() {
					q, _ := p.Quantity.Float64()
					obs.Observe(q, metric.WithAttributes(attribute.String("instrument", p.Instrument)))
				}
				return nil
			}))
		if err != nil {
			return nil, fmt.Errorf("telemetry.New: position gauge: %w", err)
		}
	}
	return m, nil
}

// QuoteIssued counts one auction response.
func (m *Metrics) QuoteIssued(ctx context.Context, instrument string, status domain.QuoteStatus, reason domain.DeclineReason) {
	m.quotes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("instrument", instrument),
		attribute.String("status", string(status)),
		attribute.String("reason", string(reason)),
	))
}

// FillApplied counts one fill.
func (m *Metrics) FillApplied(ctx context.Context, instrument string, side domain.Side) {
	m.fills.Add(ctx, 1, metric.WithAttributes(
		attribute.String("instrument", instrument),
		attribute.String("side", string(side)),
	))
}

// VenueAction counts one venue call.
func (m *Metrics) VenueAction(ctx context.Context, instrument string, action domain.OrderAction, result string) {
	m.venueActions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("instrument", instrument),
		attribute.String("action", string(action)),
		attribute.String("result", result),
	))
}

// NotificationHandled counts one processed notification.
func (m *Metrics) NotificationHandled(ctx context.Context, outcome domain.Outcome) {
	m.notifications.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}

// Point is one metric stream value.
type Point struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      float64           `json:"value"`
}

// Snapshot collects the current value of every stream, sorted by name and
// attributes.
func (m *Metrics) Snapshot(ctx context.Context) ([]Point, error) {
	var rm metricdata.ResourceMetrics
	if err := m.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("telemetry.Snapshot: %w", err)
	}

	var out []Point
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch data := md.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out = append(out, Point{Name: md.Name, Attributes: attrs(dp.Attributes), Value: float64(dp.Value)})
				}
			case metricdata.Gauge[float64]:
				for _, dp := range data.DataPoints {
					out = append(out, Point{Name: md.Name, Attributes: attrs(dp.Attributes), Value: dp.Value})
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return key(out[i].Attributes) < key(out[j].Attributes)
	})
	return out, nil
}

// Shutdown flushes and stops the provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

func attrs(set attribute.Set) map[string]string {
	if set.Len() == 0 {
		return nil
	}
	out := make(map[string]string, set.Len())
	for _, kv := range set.ToSlice() {
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}

func key(a map[string]string) string {
	parts := make([]string, 0, len(a))
	for k, v := range a {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
