package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/alejandrodnm/lighterexec/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console implementa ports.Notifier.
type Console struct {
	out      io.Writer
	tickSize float64
	table    bool
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(tickSize float64, table bool) *Console {
	return &Console{out: os.Stdout, tickSize: tickSize, table: table}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, tickSize float64, table bool) *Console {
	return &Console{out: w, tickSize: tickSize, table: table}
}

// Notify imprime el informe en el modo configurado.
func (c *Console) Notify(_ context.Context, report domain.ExecutionReport) error {
	if report.Stats.RunID == "" {
		fmt.Fprintf(c.out, "[%s] no runs recorded\n", time.Now().Format("15:04:05"))
		return nil
	}
	if c.table {
		c.PrintExecutionReport(report)
	} else {
		c.printCompact(report)
	}
	return nil
}

// printCompact imprime lo esencial en una línea.
func (c *Console) printCompact(r domain.ExecutionReport) {
	s := r.Stats
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] run %s market %d → dir:%d retry:%d trips:%d live:%d",
		s.LastActivity.Format("15:04:05"), shortID(s.RunID), s.MarketID,
		s.Directives, s.Retries, s.BreakerTrips, s.LiveOrders)
	for _, o := range outcomeOrder(s.Outcomes) {
		fmt.Fprintf(&sb, " %s:%d", strings.ToLower(string(o)), s.Outcomes[o])
	}
	if s.DryRun {
		sb.WriteString(" [DRY-RUN]")
	}
	fmt.Fprintln(c.out, sb.String())
}

// PrintExecutionReport imprime el informe completo de una run: resumen,
// resultados por tipo, últimos resultados, disparos del breaker y órdenes en reposo.
func (c *Console) PrintExecutionReport(r domain.ExecutionReport) {
	s := r.Stats
	fmt.Fprintf(c.out, "\n╔══════════════════════════════════════════════════════════════╗\n")
	fmt.Fprintf(c.out, "║                    EXECUTION REPORT                          ║\n")
	fmt.Fprintf(c.out, "╚══════════════════════════════════════════════════════════════╝\n\n")

	mode := "LIVE"
	if s.DryRun {
		mode = "DRY-RUN"
	}
	fmt.Fprintf(c.out, "  Run:           %s (%s)\n", s.RunID, mode)
	fmt.Fprintf(c.out, "  Market:        %d\n", s.MarketID)
	fmt.Fprintf(c.out, "  Started:       %s\n", s.StartedAt.Format("2006-01-02 15:04:05"))
	if !s.LastActivity.IsZero() {
		fmt.Fprintf(c.out, "  Last activity: %s (%v after start)\n",
			s.LastActivity.Format("2006-01-02 15:04:05"), s.LastActivity.Sub(s.StartedAt).Truncate(time.Second))
	}
	fmt.Fprintf(c.out, "  Directives:    %d (%d retries)\n", s.Directives, s.Retries)
	fmt.Fprintf(c.out, "  Breaker trips: %d\n", s.BreakerTrips)

	fmt.Fprintf(c.out, "\n── OUTCOMES ──\n")
	if len(s.Outcomes) == 0 {
		fmt.Fprintln(c.out, "  (none)")
	} else {
		table := tablewriter.NewWriter(c.out)
		table.Header("Outcome", "Count")
		for _, o := range outcomeOrder(s.Outcomes) {
			table.Append(string(o), fmt.Sprintf("%d", s.Outcomes[o]))
		}
		table.Render()
	}

	fmt.Fprintf(c.out, "\n── RECENT OPERATIONS (%d) ──\n", len(r.Outcomes))
	if len(r.Outcomes) == 0 {
		fmt.Fprintln(c.out, "  (none)")
	} else {
		table := tablewriter.NewWriter(c.out)
		table.Header("Time", "Dir", "Client", "Side", "Action", "Price", "Outcome", "Try", "Detail")
		for _, o := range r.Outcomes {
			price := "-"
			if o.Action == domain.ActionCreate {
				price = c.price(o.PriceTicks)
			} else if o.OrderIndex != 0 {
				price = fmt.Sprintf("#%d", o.OrderIndex)
			}
			table.Append(
				o.At.Format("15:04:05.000"),
				fmt.Sprintf("%d", o.DirectiveID),
				fmt.Sprintf("%d", o.ClientOrderID),
				o.Side.String(),
				o.Action.String(),
				price,
				string(o.Outcome),
				fmt.Sprintf("%d", o.Attempt),
				truncate(o.Detail, 40),
			)
		}
		table.Render()
	}

	fmt.Fprintf(c.out, "\n── BREAKER TRIPS (%d) ──\n", len(r.Trips))
	for _, t := range r.Trips {
		fmt.Fprintf(c.out, "  %s  live=%d  cooldown=%v\n", t.At.Format("15:04:05"), t.LiveCount, t.Cooldown)
	}
	if len(r.Trips) == 0 {
		fmt.Fprintln(c.out, "  (none)")
	}

	fmt.Fprintf(c.out, "\n── LIVE ORDERS (%d) ──\n", len(r.Live))
	if len(r.Live) == 0 {
		fmt.Fprintln(c.out, "  (none)")
	} else {
		table := tablewriter.NewWriter(c.out)
		table.Header("Side", "Order", "Client", "Ticks", "Price")
		for _, o := range r.Live {
			table.Append(
				o.Side.String(),
				fmt.Sprintf("%d", o.OrderIndex),
				fmt.Sprintf("%d", o.ClientOrderID),
				fmt.Sprintf("%d", o.PriceTicks),
				c.price(o.PriceTicks),
			)
		}
		table.Render()
	}
	fmt.Fprintln(c.out)
}

// --- helpers ---

func (c *Console) price(ticks int64) string {
	if c.tickSize <= 0 {
		return fmt.Sprintf("%d", ticks)
	}
	return fmt.Sprintf("%.4f", float64(ticks)*c.tickSize)
}

// outcomeOrder devuelve los tipos de resultado presentes en el orden del ciclo de vida.
func outcomeOrder(counts map[domain.Outcome]int) []domain.Outcome {
	rank := map[domain.Outcome]int{
		domain.OutcomeSubmitted: 0,
		domain.OutcomeDryRun:    1,
		domain.OutcomeAccepted:  2,
		domain.OutcomeConfirmed: 3,
		domain.OutcomeClosed:    4,
		domain.OutcomeFailed:    5,
		domain.OutcomeRejected:  6,
		domain.OutcomeExhausted: 7,
		domain.OutcomeDropped:   8,
	}
	out := make([]domain.Outcome, 0, len(counts))
	for o := range counts {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, iok := rank[out[i]]
		rj, jok := rank[out[j]]
		if iok != jok {
			return iok
		}
		if ri != rj {
			return ri < rj
		}
		return out[i] < out[j]
	})
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
