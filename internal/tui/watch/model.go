package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/galeshell/gale/internal/api"
	"github.com/galeshell/gale/internal/job"
)

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	status    api.StatusResponse
	jobs      []job.Info
	connected bool
	lastError string

	jobTable table.Model
	spinner  spinner.Model
	theme    Theme
}

// New creates a new watch TUI model.
func New(apiURL, apiKey string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "ID", Width: 5},
			{Title: "PID", Width: 7},
			{Title: "Exit", Width: 5},
			{Title: "Duration", Width: 10},
			{Title: "Command", Width: 40},
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

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &Model{
		apiURL:   apiURL,
		apiKey:   apiKey,
		jobTable: t,
		spinner:  sp,
		theme:    NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		fetchStatus(m.apiURL, m.apiKey),
		fetchJobs(m.apiURL, m.apiKey),
		m.spinner.Tick,
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
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
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.jobTable.SetWidth(m.width - 6)

	case tickMsg:
		return m, tea.Batch(
			fetchStatus(m.apiURL, m.apiKey),
			fetchJobs(m.apiURL, m.apiKey),
			tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		)

	case statusMsg:
		m.status = api.StatusResponse(msg)
		m.connected = true
		m.lastError = ""

	case jobsMsg:
		m.jobs = msg.Jobs
		m.updateTable()
		m.connected = true
		m.lastError = ""

	case errMsg:
		m.connected = false
		m.lastError = msg.Error()

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	m.jobTable, cmd = m.jobTable.Update(msg)
	return m, cmd
}

func (m *Model) updateTable() {
	rows := make([]table.Row, 0, len(m.jobs))
	for _, info := range m.jobs {
		st := m.theme.StatusRunning.Render("◉")
		exit := "-"
		end := time.Now()
		if info.Completed {
			end = info.CompletedAt
			exit = fmt.Sprintf("%d", info.ExitCode)
			if info.ExitCode == 0 {
				st = m.theme.StatusOK.Render("●")
			} else {
				st = m.theme.StatusFailed.Render("∅")
			}
		}

		duration := "-"
		if !info.StartedAt.IsZero() {
			duration = end.Sub(info.StartedAt).Round(time.Millisecond).String()
		}

		rows = append(rows, table.Row{
			st,
			fmt.Sprintf("%d", info.ID),
			fmt.Sprintf("%d", info.Pid),
			exit,
			duration,
			info.Command,
		})
	}
	m.jobTable.SetRows(rows)
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	header := m.renderHeader()
	jobsView := m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("Jobs"),
			m.jobTable.View(),
		),
	)

	parts := []string{header, jobsView}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, m.theme.Help.Render(" [q] Quit • [↑/↓] Scroll Jobs"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

func (m Model) renderHeader() string {
	status := m.theme.StatusFailed.Render("DISCONNECTED " + m.spinner.View())
	if m.connected {
		status = m.theme.StatusOK.Render("CONNECTED")
	}

	uptime := time.Duration(m.status.UptimeSeconds) * time.Second
	session := m.status.SessionID
	if len(session) > 8 {
		session = session[:8]
	}

	items := []string{
		fmt.Sprintf("Session: %s", session),
		fmt.Sprintf("Status: %s", status),
		fmt.Sprintf("Uptime: %s", uptime.String()),
		fmt.Sprintf("Jobs: %d  Builtins: %d  Modules: %d", m.status.Jobs, m.status.Builtins, m.status.Modules),
	}

	cell := (m.width - 4) / len(items)
	rendered := make([]string, len(items))
	for i, item := range items {
		rendered[i] = lipgloss.NewStyle().Width(cell).Render(item)
	}

	return m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinHorizontal(lipgloss.Top, rendered...),
	)
}
