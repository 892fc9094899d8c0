// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package report renders the aggregate output for terminals and exports it
// as YAML. It consumes plain structured data only; no aggregation happens
// here.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"grimm.is/longview/internal/ftl"
	"grimm.is/longview/internal/pipeline"
	"grimm.is/longview/internal/unbound"
)

var (
	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("231")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)
	StyleSubtitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	StyleSubtle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	StyleStatusOk  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	StyleStatusErr = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	StyleBox       = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 2)
)

// Renderer turns a pipeline result into a terminal summary.
type Renderer struct {
	header   lipgloss.Style
	subtitle lipgloss.Style
	subtle   lipgloss.Style
	ok       lipgloss.Style
	bad      lipgloss.Style
	box      lipgloss.Style
}

// NewRenderer builds a Renderer. With color disabled every style collapses
// to plain text, which keeps the output pipeable.
func NewRenderer(color bool) *Renderer {
	if !color {
		plain := lipgloss.NewStyle()
		return &Renderer{header: plain, subtitle: plain, subtle: plain, ok: plain, bad: plain, box: plain}
	}
	return &Renderer{
		header:   StyleHeader,
		subtitle: StyleSubtitle,
		subtle:   StyleSubtle,
		ok:       StyleStatusOk,
		bad:      StyleStatusErr,
		box:      StyleBox,
	}
}

// Render produces the full text report. stats may be nil when the resolver
// was unreachable or disabled.
func (r *Renderer) Render(res *pipeline.Result, stats *unbound.Stats) string {
	agg := res.Aggregates

	sections := []string{
		r.header.Render("LONGVIEW QUERY LOG SUMMARY"),
		r.overview(res),
		r.distribution("Status", agg.StatusTotals, agg.TotalRecords),
		r.distribution("DNS Server", agg.ServerTotals, agg.TotalRecords),
		r.distribution("Query Type", agg.TypeTotals, agg.TotalRecords),
		r.topClients(agg),
		r.topDomains("Top Allowed Domains", agg.TopAllowedDomains),
		r.topDomains("Top Blocked Domains", agg.TopBlockedDomains),
	}
	if len(res.Devices) > 0 {
		sections = append(sections, r.devices(res.Devices))
	}
	if stats != nil {
		sections = append(sections, r.unbound(stats))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

func (r *Renderer) overview(res *pipeline.Result) string {
	agg := res.Aggregates
	lines := []string{
		fmt.Sprintf("%-16s %d", "Total queries", agg.TotalRecords),
		fmt.Sprintf("%-16s %d days", "Span", agg.SpanDays),
	}
	if !agg.FirstBucket.IsZero() {
		lines = append(lines,
			fmt.Sprintf("%-16s %s", "First bucket", agg.FirstBucket.Format(time.RFC3339)),
			fmt.Sprintf("%-16s %s", "Last bucket", agg.LastBucket.Format(time.RFC3339)))
	}
	lines = append(lines, fmt.Sprintf("%-16s %s", "Timezone", res.Window.Location.String()))
	return r.box.Render(lipgloss.JoinVertical(lipgloss.Left,
		append([]string{r.subtitle.Render("Overview")}, lines...)...))
}

func (r *Renderer) distribution(title string, totals map[string]int, total int64) string {
	if len(totals) == 0 {
		return r.subtle.Render("No " + strings.ToLower(title) + " data.")
	}
	type row struct {
		label string
		count int
	}
	rows := make([]row, 0, len(totals))
	for label, count := range totals {
		rows = append(rows, row{label, count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count != rows[j].count {
			return rows[i].count > rows[j].count
		}
		return rows[i].label < rows[j].label
	})

	lines := []string{r.subtitle.Render(title + " Distribution")}
	for _, row := range rows {
		pct := 0.0
		if total > 0 {
			pct = float64(row.count) / float64(total) * 100
		}
		line := fmt.Sprintf("%-24s %8d  %5.1f%%", row.label, row.count, pct)
		if row.label == pipeline.StatusBlocked {
			line = r.bad.Render(line)
		}
		lines = append(lines, line)
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (r *Renderer) topClients(agg *pipeline.Aggregates) string {
	if len(agg.TopClients) == 0 {
		return r.subtle.Render("No client data.")
	}
	lines := []string{r.subtitle.Render("Top Clients")}
	for i, c := range agg.TopClients {
		lines = append(lines, fmt.Sprintf("%2d. %-32s %8d", i+1, c.Client, c.Count))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (r *Renderer) topDomains(title string, domains []pipeline.DomainCount) string {
	if len(domains) == 0 {
		return r.subtle.Render("No data for " + strings.ToLower(title) + ".")
	}
	lines := []string{r.subtitle.Render(title)}
	for i, d := range domains {
		lines = append(lines, fmt.Sprintf("%2d. %-48s %8d", i+1, d.Domain, d.Count))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (r *Renderer) devices(devices map[string]ftl.DeviceActivity) string {
	macs := make([]string, 0, len(devices))
	for mac := range devices {
		macs = append(macs, mac)
	}
	sort.Strings(macs)

	lines := []string{r.subtitle.Render("Known Devices")}
	for _, mac := range macs {
		d := devices[mac]
		last := "never"
		if !d.LastQuery.IsZero() {
			last = d.LastQuery.Format("2006-01-02 15:04")
		}
		lines = append(lines, fmt.Sprintf("%-18s %-24s %10d queries  last %s", mac, d.Vendor, d.LifetimeQueries, last))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (r *Renderer) unbound(stats *unbound.Stats) string {
	hitRate := fmt.Sprintf("%.1f%%", stats.CacheHitRate)
	styled := r.ok.Render(hitRate)
	if stats.CacheHitRate < 50 {
		styled = r.bad.Render(hitRate)
	}
	lines := []string{
		r.subtitle.Render("Unbound Resolver"),
		fmt.Sprintf("%-16s %d", "Total queries", stats.Int("total.num.queries")),
		fmt.Sprintf("%-16s %s", "Cache hit rate", styled),
		fmt.Sprintf("%-16s %s", "Uptime", stats.UptimeString),
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
