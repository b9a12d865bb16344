package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	maxRows         = 12
)

// Model represents the BubbleTea session dashboard
type Model struct {
	client     *Client
	interval   time.Duration
	started    time.Time
	lastUpdate time.Time
	snapshot   Snapshot
	err        error
	quitting   bool
	cursor     int

	activeHistory []float64
	doneHistory   []float64

	completion progress.Model
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("45"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard polling c every interval.
func NewModel(c *Client, interval time.Duration) Model {
	return Model{
		client:   c,
		interval: interval,
		started:  time.Now(),
		completion: progress.New(
			progress.WithGradient("#00ffff", "#00ff00"),
			progress.WithWidth(40),
		),
		activeHistory: make([]float64, 0, historySize),
		doneHistory:   make([]float64, 0, historySize),
	}
}

// phaseBadge renders a session phase with its color.
func phaseBadge(p Phase) string {
	switch p {
	case PhaseDone:
		return healthyStyle.Render("[✓] done")
	case PhasePaused:
		return warningStyle.Render("[‖] paused")
	case PhaseAborted:
		return errorStyle.Render("[✗] aborted")
	default:
		return valueStyle.Render("[●] active")
	}
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time
type snapshotMsg Snapshot
type errMsg error

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchSnapshot(m.client),
	)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchSnapshot polls the server once.
func fetchSnapshot(c *Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		snap, err := Poll(ctx, c)
		if err != nil {
			return errMsg(err)
		}
		return snapshotMsg(snap)
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchSnapshot(m.client)
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.snapshot.Sessions)-1 {
				m.cursor++
			}
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchSnapshot(m.client),
		)

	case snapshotMsg:
		snap := Snapshot(msg)
		m.snapshot = snap
		m.activeHistory = appendToHistory(m.activeHistory, float64(snap.Phases[PhaseActive]+snap.Phases[PhasePaused]))
		m.doneHistory = appendToHistory(m.doneHistory, float64(snap.Phases[PhaseDone]))
		if m.cursor >= len(snap.Sessions) {
			m.cursor = max(len(snap.Sessions)-1, 0)
		}
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render("ClinicPulse Sessions")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Cannot reach ClinicPulse server") + "\n"
	content += "\n"
	content += dimStyle.Render("URL: ") + valueStyle.Render(m.client.BaseURL()) + "\n"
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += dimStyle.Render("Start it with: clinicpulse serve") + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"

	return containerStyle.Render(header + "\n" + content)
}

func (m Model) renderDashboard() string {
	var content string
	snap := m.snapshot

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}
	version := snap.Version
	if version == "" {
		version = "unknown"
	}
	content += headerStyle.Render(" ClinicPulse Sessions ") + "\n"
	content += fmt.Sprintf("%s %s   %s %s   %s\n",
		dimStyle.Render("Server:"), valueStyle.Render(version),
		dimStyle.Render("Watching:"), valueStyle.Render(FormatDuration(int64(time.Since(m.started).Seconds()))),
		dimStyle.Render(lastUpdateStr))

	// Totals
	total := len(snap.Sessions)
	content += "\n" + sectionStyle.Render("┃ Pipeline") + "\n"
	content += labelStyle.Render("  Sessions: ") + valueStyle.Render(fmt.Sprintf("%d", total)) +
		dimStyle.Render(fmt.Sprintf("  active=%d paused=%d done=%d aborted=%d",
			snap.Phases[PhaseActive], snap.Phases[PhasePaused], snap.Phases[PhaseDone], snap.Phases[PhaseAborted])) + "\n"

	done := 0.0
	if total > 0 {
		done = float64(snap.Phases[PhaseDone]) / float64(total)
	}
	content += labelStyle.Render("  Completed: ") + m.completion.ViewAs(done) +
		" " + dimStyle.Render(FormatPercentage(done)) + "\n"
	content += labelStyle.Render("  In flight: ") + createSparkline(m.activeHistory) + "\n"
	content += labelStyle.Render("  Finished:  ") + createSparkline(m.doneHistory) + "\n"

	// Session table
	content += "\n" + sectionStyle.Render("┃ Sessions") + "\n"
	if total == 0 {
		content += dimStyle.Render("  No sessions yet") + "\n"
	}
	content += dimStyle.Render(fmt.Sprintf("  %-20s %-14s %-12s %-14s %-6s %s", "SESSION", "PHASE", "STAGE", "STATUS", "ITER", "TURNS")) + "\n"
	for i, s := range snap.Sessions {
		if i >= maxRows {
			content += dimStyle.Render(fmt.Sprintf("  … %d more", total-maxRows)) + "\n"
			break
		}
		id := fmt.Sprintf("%-20s", truncate(s.ID, 20))
		if i == m.cursor {
			id = selectedStyle.Render(id)
		}
		content += fmt.Sprintf("  %s %-14s %-12s %-14s %-6s %d\n",
			id, string(s.Phase), s.Stage, FormatStatus(s.Status), FormatIterations(s.Iterations, s.Max), s.Turns)
	}

	if m.cursor < total {
		sel := snap.Sessions[m.cursor]
		content += "\n" + sectionStyle.Render("┃ Selected") + "\n"
		content += labelStyle.Render("  Session: ") + valueStyle.Render(sel.ID) + "  " + phaseBadge(sel.Phase) + "\n"
		content += labelStyle.Render("  Exhausted: ") + valueStyle.Render(FormatStages(sel.Exhausted)) + "\n"
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerKeyStyle.Render("[↑/↓]") + footerStyle.Render(" select  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
	content += "\n" + footer

	return containerStyle.Render(content)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
