package notify

import (
	"fmt"
	"sort"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/jitmaker/internal/domain"
)

// StatusInput agrupa los datos del journal para el reporte -status.
type StatusInput struct {
	Positions  []domain.Position
	Events     []domain.OrderEvent
	QuoteStats map[string]int // "accepted", "declined:REASON" → count
	Since      string
}

// PrintStatus imprime el estado persistido: posiciones, quotes y últimas decisiones.
func (c *Console) PrintStatus(in StatusInput) {
	fmt.Fprintf(c.out, "\n╔══════════════════════════════════════════════════════════════╗\n")
	fmt.Fprintf(c.out, "║                    JIT MAKER STATUS                          ║\n")
	fmt.Fprintf(c.out, "╚══════════════════════════════════════════════════════════════╝\n\n")

	fmt.Fprintf(c.out, "── POSITIONS (%d) ──\n", len(in.Positions))
	if len(in.Positions) > 0 {
		c.printPositions(in.Positions)
	} else {
		fmt.Fprintln(c.out, "  (none)")
	}

	fmt.Fprintf(c.out, "\n── QUOTES since %s ──\n", in.Since)
	if len(in.QuoteStats) > 0 {
		keys := make([]string, 0, len(in.QuoteStats))
		total := 0
		for k, n := range in.QuoteStats {
			keys = append(keys, k)
			total += n
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(c.out, "  %-36s %6d (%.0f%%)\n", k, in.QuoteStats[k], 100*float64(in.QuoteStats[k])/float64(total))
		}
	} else {
		fmt.Fprintln(c.out, "  (none)")
	}

	fmt.Fprintf(c.out, "\n── RECENT ORDER EVENTS (%d) ──\n", len(in.Events))
	if len(in.Events) > 0 {
		table := tablewriter.NewWriter(c.out)
		table.Header("Time", "Instrument", "Side", "Action", "Price", "Size", "Result", "Venue ID")
		for _, ev := range in.Events {
			table.Append(
				ev.At.Format("01-02 15:04:05"),
				ev.Instrument,
				string(ev.Side),
				string(ev.Action),
				ev.Price.String(),
				ev.Size.String(),
				ev.Result,
				compact(ev.VenueID, 14),
			)
		}
		table.Render()
	} else {
		fmt.Fprintln(c.out, "  (none)")
	}
	fmt.Fprintln(c.out)
}
