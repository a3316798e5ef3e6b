package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/muesli/termenv"

	"tlifarm/internal/catalog"
	"tlifarm/internal/history"
	"tlifarm/internal/pricecache"
	"tlifarm/internal/session"
)

type printer struct {
	w     io.Writer
	o     *termenv.Output
	pal   palette
	width int
}

func newPrinter(w io.Writer) *printer {
	o, info := newOutput(w)
	return &printer{w: w, o: o, pal: newPalette(o, info), width: info.Width}
}

func (p *printer) bold(s string) string { return p.o.String(s).Bold().String() }

func (p *printer) color(s string, c termenv.Color) string {
	return p.o.String(s).Foreground(c).String()
}

func formatSeconds(sec int64) string {
	return (time.Duration(sec) * time.Second).String()
}

// statsLine is the one-line progress report printed after each map.
func (p *printer) statsLine(st session.SessionStats) {
	fmt.Fprintf(p.w, "%s maps %d  items %d  value %s  %s/h  avg map %s\n",
		p.color("●", p.pal.good),
		st.MapsCompleted, st.TotalItems,
		p.bold(fmt.Sprintf("%.2f", st.TotalValue)),
		fmt.Sprintf("%.2f", st.HourlyProfit),
		formatSeconds(st.AvgMapDurationSec))
}

func (p *printer) stats(st session.SessionStats) {
	fmt.Fprintf(p.w, "%s\n", p.bold("Session:"))
	fmt.Fprintf(p.w, "  Duration:        %s\n", formatSeconds(st.DurationSec))
	fmt.Fprintf(p.w, "  Maps completed:  %d (avg %s)\n", st.MapsCompleted, formatSeconds(st.AvgMapDurationSec))
	fmt.Fprintf(p.w, "  Items:           %d (%d unique)\n", st.TotalItems, st.UniqueItems)
	fmt.Fprintf(p.w, "  Total value:     %.2f\n", st.TotalValue)
	fmt.Fprintf(p.w, "  Profit per hour: %s\n", p.color(fmt.Sprintf("%.2f", st.HourlyProfit), p.pal.good))
	if st.StalePriceLines > 0 {
		fmt.Fprintf(p.w, "  %s\n", p.color(fmt.Sprintf("%d drop lines priced with stale prices", st.StalePriceLines), p.pal.warn))
	}
}

// drops prints the drop table, fitting item names to the terminal width.
func (p *printer) drops(drops []session.AggregatedDrop) {
	if len(drops) == 0 {
		fmt.Fprintln(p.w, "No drops.")
		return
	}
	const numbers = 40
	nameWidth := p.width - numbers
	if nameWidth < 12 {
		nameWidth = 12
	}

	fmt.Fprintf(p.w, "%s\n", p.bold(fmt.Sprintf("%-*s %8s %12s %14s", nameWidth, "ITEM", "QTY", "UNIT", "VALUE")))
	for _, d := range drops {
		name := itemLabel(d.ItemID, d.Item)
		unit := p.color(fmt.Sprintf("%12s", "-"), p.pal.muted)
		if d.PriceUpdatedAt != nil {
			unit = fmt.Sprintf("%12.2f", d.UnitPrice)
			if d.PriceIsStale {
				unit = p.color(unit, p.pal.warn)
			}
		}
		fmt.Fprintf(p.w, "%-*s %8d %s %14.2f\n", nameWidth, truncate(name, nameWidth), d.Quantity, unit, d.TotalValue)
	}
}

func (p *printer) prices(entries map[int64]pricecache.Entry, items *catalog.Catalog, now time.Time) {
	if len(entries) == 0 {
		fmt.Fprintln(p.w, "No cached prices.")
		return
	}
	ids := make([]int64, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		e := entries[id]
		age := now.Sub(e.UpdatedAt).Truncate(time.Second)
		line := fmt.Sprintf("  %-10d %-32s %12.4f  %s ago", id, truncate(items.Name(id), 32), e.Price, age)
		if e.Stale(now) {
			line = p.color(line+" (stale)", p.pal.warn)
		}
		fmt.Fprintln(p.w, line)
	}
}

func (p *printer) history(recs []history.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(p.w, "No sessions recorded.")
		return
	}
	for _, r := range recs {
		fmt.Fprintf(p.w, "%s %s  %s  maps %d  items %d  value %.2f  %.2f/h\n",
			p.color("●", p.pal.good),
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			p.color(formatSeconds(r.Stats.DurationSec), p.pal.muted),
			r.Stats.MapsCompleted, r.Stats.TotalItems, r.Stats.TotalValue, r.Stats.HourlyProfit)
	}
}

func itemLabel(id int64, info *catalog.ItemInfo) string {
	if info != nil && info.Name != "" {
		return info.Name
	}
	return fmt.Sprintf("#%d", id)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

// center is used for the banner between watch output and the final report.
func center(s string, width int) string {
	if len(s) >= width {
		return s
	}
	pad := (width - len(s)) / 2
	return strings.Repeat("─", pad) + s + strings.Repeat("─", width-len(s)-pad)
}
