package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jcarver/tower/internal/observe"
)

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	// State
	health   HealthState
	agents   table.Model
	budget   budgetMsg
	eventLog []observe.Event

	// UI state
	theme Theme

	// Communication
	hubEvents chan observe.Event

	// Error display
	lastError string
}

// New creates a new watch TUI model.
func New(apiURL, apiKey string) *Model {
	return &Model{
		apiURL:    apiURL,
		apiKey:    apiKey,
		agents:    newAgentsTable(),
		eventLog:  make([]observe.Event, 0),
		hubEvents: make(chan observe.Event, 100),
		theme:     NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.apiKey, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL, m.apiKey) },
		func() tea.Msg { return fetchAgents(m.apiURL, m.apiKey) },
		func() tea.Msg { return fetchBudget(m.apiURL, m.apiKey) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		default:
			var cmd tea.Cmd
			m.agents, cmd = m.agents.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := observe.Event(msg)

		// Update event log (newest first)
		m.eventLog = append([]observe.Event{e}, m.eventLog...)
		if len(m.eventLog) > 50 {
			m.eventLog = m.eventLog[:50]
		}

		m.health.Connected = true
		m.lastError = ""

		// Agent and budget panels refresh eagerly on relevant events.
		var cmds []tea.Cmd
		cmds = append(cmds, receiveNextEvent(m.hubEvents))
		switch e.Type {
		case observe.EventAgentHealth, observe.EventAgentRestart:
			cmds = append(cmds, func() tea.Msg { return fetchAgents(m.apiURL, m.apiKey) })
		case observe.EventUsageRecorded, observe.EventBudgetAlert:
			cmds = append(cmds, func() tea.Msg { return fetchBudget(m.apiURL, m.apiKey) })
		}
		return m, tea.Batch(cmds...)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.AgentsReady = msg.AgentsReady
		m.health.AgentsTotal = msg.AgentsTotal
		m.health.RulesLoaded = msg.RulesLoaded
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""

		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL, m.apiKey)
		})

	case agentsMsg:
		m.agents.SetRows(agentRows(msg.Agents))

	case budgetMsg:
		m.budget = msg
		return m, tea.Tick(10*time.Second, func(t time.Time) tea.Msg {
			return fetchBudget(m.apiURL, m.apiKey)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "SSE disconnected, reconnecting..."
		// Reconnect after a short delay; the existing receiveNextEvent
		// goroutine is still waiting on the channel and will pick up
		// events from the new subscription.
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.apiKey, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		// Retry health in 5s
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL, m.apiKey)
		})
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing tower watch..."
	}

	header := renderHeader(m.health, m.theme, m.width)
	agents := renderAgents(m.agents, m.theme, m.width)
	budget := renderBudget(m.budget, m.theme, m.width)
	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	var errBar string
	if m.lastError != "" {
		errBar = m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError))
	}

	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Navigate Agents")

	parts := []string{header, agents, budget, eventStream}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
