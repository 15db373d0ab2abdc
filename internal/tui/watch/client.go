package watch

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jcarver/tower/internal/agent"
	"github.com/jcarver/tower/internal/ledger"
	"github.com/jcarver/tower/internal/observe"
)

// --- Message types ---

type eventMsg observe.Event

type healthMsg struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	AgentsReady   int    `json:"agents_ready"`
	AgentsTotal   int    `json:"agents_total"`
	RulesLoaded   int    `json:"rules_loaded"`
}

type agentsMsg struct {
	Agents []agent.Descriptor `json:"agents"`
}

type budgetMsg struct {
	Budget  ledger.BudgetState           `json:"budget"`
	ByModel map[string]ledger.ModelUsage `json:"by_model"`
}

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// --- Commands ---

// subscribeToEvents connects to the SSE /v1/events endpoint and feeds events
// into the provided channel. Returns sseDisconnectedMsg when the connection drops.
func subscribeToEvents(apiURL, apiKey string, ch chan<- observe.Event) tea.Cmd {
	return func() tea.Msg {
		client := &http.Client{}
		req, err := http.NewRequest("GET", apiURL+"/v1/events", nil)
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Authorization", "Bearer "+apiKey)

		resp, err := client.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		var current struct {
			id   int64
			typ  string
			data string
		}

		for scanner.Scan() {
			line := scanner.Text()

			if line == "" {
				if current.data != "" {
					ch <- observe.Event{
						ID:   current.id,
						Type: current.typ,
						At:   time.Now(),
						Data: []byte(current.data),
					}
					current = struct {
						id   int64
						typ  string
						data string
					}{}
				}
				continue
			}

			if strings.HasPrefix(line, "id: ") {
				if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
					current.id = id
				}
			} else if strings.HasPrefix(line, "event: ") {
				current.typ = line[7:]
			} else if strings.HasPrefix(line, "data: ") {
				current.data = line[6:]
			}
		}

		return sseDisconnectedMsg{}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan observe.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// fetchHealth queries the /healthz endpoint.
func fetchHealth(apiURL, apiKey string) tea.Msg {
	var h healthMsg
	if err := getJSON(apiURL+"/healthz", apiKey, &h); err != nil {
		return errMsg(err)
	}
	return h
}

// fetchAgents queries /v1/agents.
func fetchAgents(apiURL, apiKey string) tea.Msg {
	var a agentsMsg
	if err := getJSON(apiURL+"/v1/agents", apiKey, &a); err != nil {
		return errMsg(err)
	}
	return a
}

// fetchBudget queries /v1/budget.
func fetchBudget(apiURL, apiKey string) tea.Msg {
	var b budgetMsg
	if err := getJSON(apiURL+"/v1/budget", apiKey, &b); err != nil {
		return errMsg(err)
	}
	return b
}

func getJSON(url, apiKey string, v any) error {
	client := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return json.NewDecoder(resp.Body).Decode(v)
}
