// Package tui is the interactive terminal monitor behind `castellan system
// watch`. It polls the HTTP API for plugin state and the event feed and
// renders them live.
package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/castellanhq/castellan/internal/events"
)

// --- Styles ---

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	statusOK       = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusDegraded = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	statusFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	statusUnknown  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// --- Types ---

type pluginRow struct {
	Name         string   `json:"name"`
	Keywords     []string `json:"keywords"`
	Isolated     bool     `json:"isolated"`
	Network      string   `json:"network"`
	HealthStatus string   `json:"health_status"`
	HealthDetail string   `json:"health_detail"`
}

type healthMsg struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	PluginsLoaded int    `json:"plugins_loaded"`
}

type pluginsMsg []pluginRow
type eventsMsg []events.Event
type restartedMsg string
type pollMsg time.Time
type errMsg error

// Model is the BubbleTea model for the monitor.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	health    healthMsg
	connected bool
	plugins   []pluginRow
	eventLog  []events.Event
	lastEvent int64
	lastError string

	pluginTable table.Model
	eventView   viewport.Model
}

// NewMonitor creates the monitor model for the given API endpoint.
func NewMonitor(apiURL, apiKey string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Plugin", Width: 20},
			{Title: "Isolation", Width: 10},
			{Title: "Network", Width: 9},
			{Title: "Health", Width: 10},
			{Title: "Keywords", Width: 30},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	vp := viewport.New(80, 8)

	return &Model{
		apiURL:      apiURL,
		apiKey:      apiKey,
		pluginTable: t,
		eventView:   vp,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchHealth(),
		m.fetchPlugins(),
		m.fetchEvents(),
		tea.Tick(2*time.Second, func(t time.Time) tea.Msg { return pollMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			if row := m.pluginTable.SelectedRow(); row != nil {
				return m, m.restartPlugin(row[1])
			}
		}
		m.pluginTable, cmd = m.pluginTable.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.eventView.Width = msg.Width - 6
		return m, nil

	case pollMsg:
		return m, tea.Batch(
			m.fetchHealth(),
			m.fetchPlugins(),
			m.fetchEvents(),
			tea.Tick(2*time.Second, func(t time.Time) tea.Msg { return pollMsg(t) }),
		)

	case healthMsg:
		m.health = msg
		m.connected = true
		m.lastError = ""
		return m, nil

	case pluginsMsg:
		m.plugins = msg
		m.refreshTable()
		return m, nil

	case eventsMsg:
		for _, ev := range msg {
			m.eventLog = append([]events.Event{ev}, m.eventLog...)
			if ev.ID > m.lastEvent {
				m.lastEvent = ev.ID
			}
		}
		if len(m.eventLog) > 50 {
			m.eventLog = m.eventLog[:50]
		}
		m.eventView.SetContent(m.renderEventLog())
		return m, nil

	case restartedMsg:
		m.lastError = ""
		return m, m.fetchPlugins()

	case errMsg:
		m.connected = false
		m.lastError = msg.Error()
		return m, nil
	}

	m.pluginTable, cmd = m.pluginTable.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to castellan..."
	}

	header := m.renderHeader()
	plugins := borderStyle.Render(m.pluginTable.View())
	eventPane := borderStyle.Render(titleStyle.Render("Events") + "\n" + m.eventView.View())

	var errBar string
	if m.lastError != "" {
		errBar = statusFailed.Render(" ! " + m.lastError)
	}

	help := helpStyle.Render(" [q] Quit  [up/down] Select plugin  [r] Restart selected")

	parts := []string{header, plugins, eventPane}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return docStyle.Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (m Model) renderHeader() string {
	state := statusFailed.Render("disconnected")
	if m.connected {
		state = statusOK.Render(m.health.Status)
	}
	uptime := time.Duration(m.health.UptimeSeconds) * time.Second
	return titleStyle.Render("castellan") + fmt.Sprintf("  %s  plugins: %d  uptime: %s", state, m.health.PluginsLoaded, uptime)
}

func (m *Model) refreshTable() {
	rows := make([]table.Row, 0, len(m.plugins))
	for _, p := range m.plugins {
		isolation := "native"
		if p.Isolated {
			isolation = "process"
		}
		rows = append(rows, table.Row{
			healthGlyph(p.HealthStatus),
			p.Name,
			isolation,
			p.Network,
			p.HealthStatus,
			strings.Join(p.Keywords, ", "),
		})
	}
	m.pluginTable.SetRows(rows)
}

func (m Model) renderEventLog() string {
	var b strings.Builder
	for _, ev := range m.eventLog {
		line := fmt.Sprintf("%s  %-22s %s", ev.At.Format("15:04:05"), ev.Type, ev.Plugin)
		switch ev.Type {
		case events.TypeCriticalAlert, events.TypePluginRemoved:
			line = statusFailed.Render(line)
		case events.TypePluginRestarted, events.TypePluginLoadFailed:
			line = statusDegraded.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func healthGlyph(status string) string {
	switch status {
	case "ok":
		return statusOK.Render("*")
	case "degraded":
		return statusDegraded.Render("*")
	case "error", "unhealthy", "down":
		return statusFailed.Render("*")
	default:
		return statusUnknown.Render("?")
	}
}

// --- Commands ---

func (m Model) fetchHealth() tea.Cmd {
	return func() tea.Msg {
		var h healthMsg
		if err := m.getJSON("/healthz", &h); err != nil {
			return errMsg(err)
		}
		return h
	}
}

func (m Model) fetchPlugins() tea.Cmd {
	return func() tea.Msg {
		var plugins []pluginRow
		if err := m.getJSON("/plugins", &plugins); err != nil {
			return errMsg(err)
		}
		return pluginsMsg(plugins)
	}
}

func (m Model) fetchEvents() tea.Cmd {
	since := m.lastEvent
	return func() tea.Msg {
		var evs []events.Event
		if err := m.getJSON(fmt.Sprintf("/events?since=%d", since), &evs); err != nil {
			return errMsg(err)
		}
		return eventsMsg(evs)
	}
}

func (m Model) restartPlugin(name string) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequest(http.MethodPost, m.apiURL+"/plugins/"+name+"/restart", bytes.NewReader(nil))
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Authorization", "Bearer "+m.apiKey)

		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			return errMsg(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("restart %s: status %d", name, resp.StatusCode))
		}
		return restartedMsg(name)
	}
}

func (m Model) getJSON(path string, v any) error {
	req, err := http.NewRequest(http.MethodGet, m.apiURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
