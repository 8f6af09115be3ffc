// Package termview renders the console pages as styled terminal text.
package termview

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/tphummel/smartmine/internal/derive"
	"github.com/tphummel/smartmine/internal/maintenance"
	"github.com/tphummel/smartmine/internal/models"
)

// barCells is the width of a usage bar.
const barCells = 20

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#334155")).
			Padding(0, 1)

	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#94A3B8"))

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#F59E0B")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#EF4444")).
			Padding(0, 1)

	statusStyles = map[models.Status]lipgloss.Style{
		models.StatusGood:     lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")),
		models.StatusWarning:  lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")),
		models.StatusCritical: lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true),
	}

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#475569")).
			Padding(0, 1)
)

func status(s models.Status) string {
	return statusStyles[s].Render(string(s))
}

// Options adjusts a page.
type Options struct {
	// Fallback marks data served from the bundled snapshot.
	Fallback bool
}

func page(title string, opts Options, body string) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n\n")
	if opts.Fallback {
		b.WriteString(noticeStyle.Render("Backend unavailable: showing sample data"))
		b.WriteString("\n\n")
	}
	b.WriteString(body)
	return docStyle.Render(b.String())
}

// Bar draws a usage bar for a unit, filled to its capped percentage.
func Bar(u derive.Unit) string {
	filled := u.Health.BarWidth() * barCells / 100
	if filled < 0 {
		filled = 0
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barCells-filled)
	return statusStyles[u.Health.Status].Render(bar)
}

// Dashboard renders the summary counts and the most urgent alerts.
func Dashboard(sum models.DashboardSummary, recent []models.Equipment, opts Options) string {
	counts := lipgloss.JoinHorizontal(lipgloss.Top,
		cardStyle.Render(fmt.Sprintf("Total\n%d", sum.Total)),
		cardStyle.Render(fmt.Sprintf("%s\n%d", status(models.StatusGood), sum.Good)),
		cardStyle.Render(fmt.Sprintf("%s\n%d", status(models.StatusWarning), sum.Warning)),
		cardStyle.Render(fmt.Sprintf("%s\n%d", status(models.StatusCritical), sum.Critical)),
	)

	var b strings.Builder
	b.WriteString(counts)
	b.WriteString("\n\nRecent alerts\n")
	if len(recent) == 0 {
		b.WriteString(mutedStyle.Render("No alerts. All equipment is in good condition."))
	}
	for _, e := range recent {
		fmt.Fprintf(&b, "  %-8s %s (%s)\n", status(e.Status), e.Name, e.Code)
	}
	return page("SmartMine Dashboard", opts, b.String())
}

// Equipment renders one card per unit. The list is expected to be already
// filtered.
func Equipment(list []models.Equipment, f models.FilterState, opts Options) string {
	var b strings.Builder
	if f.Query != "" || f.Status != models.FilterAll {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("query %q, status %s", f.Query, f.Status)))
		b.WriteString("\n\n")
	}
	if len(list) == 0 {
		b.WriteString(mutedStyle.Render("No equipment found"))
	}
	for _, u := range derive.Units(list) {
		b.WriteString(Card(u))
		b.WriteString("\n")
	}
	return page("Equipment", opts, b.String())
}

// Card renders a single unit.
func Card(u derive.Unit) string {
	lines := []string{
		fmt.Sprintf("%s  %s", lipgloss.NewStyle().Bold(true).Render(u.Name), mutedStyle.Render(u.Code)),
		fmt.Sprintf("%s · %s", u.Type, status(u.Health.Status)),
	}
	if u.Invalid {
		lines = append(lines, errorStyle.Render("Invalid maintenance limit"))
	} else {
		lines = append(lines,
			fmt.Sprintf("%s %d%%", Bar(u), u.Health.Percent),
			mutedStyle.Render(fmt.Sprintf("%d / %d hours", u.UsageHours, u.MaintenanceLimit)),
		)
	}
	return cardStyle.Render(strings.Join(lines, "\n"))
}

// Alerts renders Warning and Critical units, Critical first.
func Alerts(alerts []models.Equipment, opts Options) string {
	var b strings.Builder
	if len(alerts) == 0 {
		b.WriteString(mutedStyle.Render("No alerts. All equipment is in good condition."))
	}
	for _, u := range derive.Units(alerts) {
		advice := "Schedule maintenance soon"
		if u.Health.Status == models.StatusCritical {
			advice = "Immediate maintenance required"
		}
		fmt.Fprintf(&b, "%-8s %s (%s)  %d/%d hours  %s\n",
			status(u.Health.Status), u.Name, u.Code, u.UsageHours, u.MaintenanceLimit, mutedStyle.Render(advice))
	}
	return page("Alerts", opts, b.String())
}

// Maintenance renders service records in the order given.
func Maintenance(recs []models.MaintenanceRecord) string {
	var b strings.Builder
	if len(recs) == 0 {
		b.WriteString(mutedStyle.Render("No maintenance records"))
	}
	for _, r := range recs {
		fmt.Fprintf(&b, "%s  %s  %s\n", r.ServiceDate, lipgloss.NewStyle().Bold(true).Render(maintenance.DisplayName(r)), r.MaintenanceType)
		fmt.Fprintf(&b, "            %s · %d hours · %s\n", r.Technician, r.UsageAtService, mutedStyle.Render(r.Description))
	}
	return page("Maintenance", Options{}, b.String())
}

// Error renders a failure panel.
func Error(title string, err error) string {
	return page(title, Options{}, errorStyle.Render("Cannot load: "+err.Error()))
}
