package watch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/jcarver/tower/internal/agent"
	"github.com/jcarver/tower/internal/observe"
)

// HealthState tracks control-plane health from /healthz polling.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	AgentsReady   int
	AgentsTotal   int
	RulesLoaded   int
	Connected     bool
	LastCheck     time.Time
}

func renderHeader(health HealthState, theme Theme, width int) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("HEALTHY")
	statusIcon := "✅"
	if !health.Connected {
		statusText = theme.StatusFailed.Render("CONNECTING")
		statusIcon = "🔌"
	} else if health.AgentsReady < health.AgentsTotal {
		statusText = theme.StatusBlocked.Render("DEGRADED")
		statusIcon = "⚠️"
	}

	uptime := time.Duration(health.UptimeSeconds) * time.Second
	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	titleText := " TOWER WATCH"

	titleWidth := lipgloss.Width(titleText)
	clockWidth := lipgloss.Width(clock)
	pad := innerWidth - titleWidth - clockWidth - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s %s  ⏱ %s  Agents: %d/%d  Rules: %d",
		statusIcon, statusText,
		formatDuration(uptime),
		health.AgentsReady, health.AgentsTotal,
		health.RulesLoaded,
	)

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine)
	return theme.Border.Width(innerWidth).Render(content)
}

// newAgentsTable builds the agents panel widget.
func newAgentsTable() table.Model {
	columns := []table.Column{
		{Title: "AGENT", Width: 18},
		{Title: "HEALTH", Width: 12},
		{Title: "PID", Width: 8},
		{Title: "RESTARTS", Width: 9},
		{Title: "TOOLS", Width: 30},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithHeight(6),
		table.WithFocused(true),
	)

	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(lipgloss.Color("#61AFEF"))
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("#E5C07B"))
	t.SetStyles(styles)
	return t
}

func agentRows(agents []agent.Descriptor) []table.Row {
	rows := make([]table.Row, 0, len(agents))
	for _, a := range agents {
		pid := "-"
		if a.PID > 0 {
			pid = fmt.Sprintf("%d", a.PID)
		}
		rows = append(rows, table.Row{
			a.Name,
			a.Health,
			pid,
			fmt.Sprintf("%d", a.Restarts),
			strings.Join(a.Tools, ", "),
		})
	}
	return rows
}

func renderAgents(t table.Model, theme Theme, width int) string {
	innerWidth := width - 4
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("AGENTS"),
		t.View(),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func renderBudget(b budgetMsg, theme Theme, width int) string {
	innerWidth := width - 4

	gaugeStyle := theme.GaugeOK
	switch b.Budget.Tier {
	case "warning":
		gaugeStyle = theme.GaugeWarning
	case "critical":
		gaugeStyle = theme.GaugeCritical
	}

	barWidth := innerWidth - 30
	if barWidth < 10 {
		barWidth = 10
	}
	filled := int(b.Budget.Percent / 100 * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}
	if filled < 0 {
		filled = 0
	}
	bar := gaugeStyle.Render(strings.Repeat("█", filled)) +
		theme.Dim.Render(strings.Repeat("░", barWidth-filled))

	gaugeLine := fmt.Sprintf(" %s $%.2f / $%.2f (%.1f%%)",
		bar, b.Budget.Total, b.Budget.Limit, b.Budget.Percent)

	var modelLines []string
	for model, usage := range b.ByModel {
		modelLines = append(modelLines,
			theme.Dim.Render(fmt.Sprintf("  %-16s %8d tok  $%.4f", model, usage.Tokens, usage.Cost)))
	}

	parts := []string{theme.Title.Render("BUDGET"), gaugeLine}
	parts = append(parts, modelLines...)
	content := lipgloss.JoinVertical(lipgloss.Left, parts...)
	return theme.Border.Width(innerWidth).Render(content)
}

func renderEventStream(eventLog []observe.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e observe.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch {
	case e.Type == observe.EventInvocationFinished:
		typeStyle = theme.StatusOK
	case e.Type == observe.EventBudgetAlert, e.Type == observe.EventAgentRestart:
		typeStyle = theme.StatusFailed
	case e.Type == observe.EventGuardrailEvaluated, e.Type == observe.EventApprovalPending:
		typeStyle = theme.StatusBlocked
	case strings.HasPrefix(e.Type, "invocation"):
		typeStyle = theme.StatusStarting
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-22s", e.Type))
	desc := extractEventDesc(e)

	return fmt.Sprintf("%s %s %s", ts, typeName, desc)
}

func extractEventDesc(e observe.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string

	if id, ok := data["invocation_id"].(string); ok {
		if len(id) > 8 {
			id = id[:8]
		}
		parts = append(parts, fmt.Sprintf("[%s]", id))
	}
	if agentName, ok := data["agent"].(string); ok {
		parts = append(parts, agentName)
	}
	if tool, ok := data["tool"].(string); ok && tool != "" {
		parts = append(parts, tool)
	}
	if status, ok := data["status"].(string); ok {
		parts = append(parts, status)
	}
	if disp, ok := data["disposition"].(string); ok {
		parts = append(parts, disp)
	}
	if tier, ok := data["tier"].(string); ok {
		parts = append(parts, "tier="+tier)
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	return strings.Join(parts, " ")
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
