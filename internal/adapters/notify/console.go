package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/jitmaker/internal/domain"
	"github.com/alejandrodnm/jitmaker/internal/ports"
)

// Console implementa ports.Notifier.
type Console struct {
	out   io.Writer
	table bool
	now   func() time.Time
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table, now: time.Now}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table, now: time.Now}
}

// NotifyCycle imprime el resultado de un ciclo de refresh en el modo configurado.
func (c *Console) NotifyCycle(_ context.Context, r ports.CycleReport) error {
	if c.table {
		c.printFull(r)
	} else {
		c.printCompact(r)
	}
	return nil
}

// printCompact imprime el ciclo en una línea.
func (c *Console) printCompact(r ports.CycleReport) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] orders:%d placed:%d cancelled:%d",
		c.now().Format("15:04:05"), len(r.Orders), r.Placed, r.Cancelled)

	for _, p := range sortedPositions(r.Positions) {
		fmt.Fprintf(&sb, " | %s %s", p.Instrument, signed(p.Quantity.StringFixed(4)))
	}
	if len(r.Errors) > 0 {
		fmt.Fprintf(&sb, " | errors:%d (%s)", len(r.Errors), compact(r.Errors[0], 60))
	}
	fmt.Fprintln(c.out, sb.String())
}

// printFull imprime posiciones y órdenes en tablas.
func (c *Console) printFull(r ports.CycleReport) {
	fmt.Fprintf(c.out, "\n[%s] refresh · placed:%d cancelled:%d errors:%d\n",
		c.now().Format("15:04:05"), r.Placed, r.Cancelled, len(r.Errors))

	c.printPositions(r.Positions)
	c.printOrders(r.Orders)

	for _, e := range r.Errors {
		fmt.Fprintf(c.out, "  ! %s\n", e)
	}
}

func (c *Console) printPositions(positions []domain.Position) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Instrument", "Position", "Notional", "Fills", "Updated")
	for _, p := range sortedPositions(positions) {
		updated := "-"
		if !p.UpdatedAt.IsZero() {
			updated = p.UpdatedAt.Format("15:04:05")
		}
		table.Append(
			p.Instrument,
			signed(p.Quantity.StringFixed(6)),
			p.Notional.StringFixed(2),
			fmt.Sprintf("%d", p.Fills),
			updated,
		)
	}
	table.Render()
}

func (c *Console) printOrders(orders []domain.Order) {
	if len(orders) == 0 {
		fmt.Fprintln(c.out, "  (no resting orders)")
		return
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].Instrument != orders[j].Instrument {
			return orders[i].Instrument < orders[j].Instrument
		}
		return orders[i].Side < orders[j].Side
	})

	table := tablewriter.NewWriter(c.out)
	table.Header("Instrument", "Side", "Price", "Size", "Filled", "State", "Venue ID", "Age")
	for _, o := range orders {
		table.Append(
			o.Instrument,
			string(o.Side),
			o.Price.String(),
			o.Size.String(),
			o.Filled.String(),
			string(o.State),
			compact(o.VenueID, 14),
			c.now().Sub(o.CreatedAt).Truncate(time.Second).String(),
		)
	}
	table.Render()
}

func sortedPositions(in []domain.Position) []domain.Position {
	out := append([]domain.Position(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

// signed antepone '+' a cantidades positivas para leer la dirección de un vistazo.
func signed(s string) string {
	if s != "" && s[0] != '-' && strings.Trim(s, "0.") != "" {
		return "+" + s
	}
	return s
}

// compact trunca s a maxLen caracteres añadiendo "..." si es necesario.
func compact(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
