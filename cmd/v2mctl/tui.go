package main

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zarvent/v2m/internal/ipc"
)

var (
	bannerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#61E3FA")).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9ECE6A")).
			MarginTop(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F7768E"))

	frameStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7AA2F7")).
			Padding(1, 2)
)

// statusModel is the bubbletea model behind `v2mctl tui` (also `watch`,
// `--watch`, or no arguments): it
// renders the daemon's live event stream (heartbeats, partial and final
// transcriptions) rather than owning any capture state itself — all of that
// lives in the daemon, this is a thin renderer.
type statusModel struct {
	spin       spinner.Model
	recording  bool
	lastFinal  string
	partial    string
	err        string
	socketPath string
	width      int
}

// eventMsg wraps one decoded daemon event for the bubbletea Update loop.
type eventMsg ipc.Response

// streamClosedMsg signals the subscribe connection ended.
type streamClosedMsg struct{}

func newStatusModel(socketPath string) statusModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ECE6A"))
	return statusModel{spin: s, socketPath: socketPath}
}

func (m statusModel) Init() tea.Cmd {
	return tea.Batch(spinner.Tick, tea.EnterAltScreen)
}

func (m statusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case eventMsg:
		switch parseEventKind(msg) {
		case "partial":
			m.partial = eventText(msg)
			m.recording = true
		case "final":
			m.lastFinal = eventText(msg)
			m.partial = ""
		case "heartbeat":
			m.recording = true
		}
		return m, nil

	case streamClosedMsg:
		m.err = "disconnected from v2m daemon"
		return m, nil
	}
	return m, nil
}

func (m statusModel) View() string {
	var b strings.Builder
	b.WriteString(bannerStyle.Render("v2m — live status"))

	indicator := ""
	state := "idle"
	if m.recording {
		indicator = m.spin.View() + " "
		state = "recording"
	}
	b.WriteString("\n" + statusStyle.Render(indicator+"state: "+state))
	b.WriteString("\n" + lipgloss.NewStyle().Foreground(lipgloss.Color("#A9B1D6")).Render("socket: "+m.socketPath+" | q to quit"))

	text := m.lastFinal
	if m.partial != "" {
		text = m.partial + " …"
	}
	if text == "" {
		text = "(waiting for speech)"
	}
	width := m.width - 4
	if width < 10 {
		width = 40
	}
	b.WriteString("\n\n" + frameStyle.Width(width).Render(text))

	if m.err != "" {
		b.WriteString("\n\n" + errorStyle.Render("error: "+m.err))
	}
	return b.String()
}

func parseEventKind(r ipc.Response) string {
	var payload struct {
		Type string `json:"type"`
	}
	_ = decodeData(r, &payload)
	return payload.Type
}

func eventText(r ipc.Response) string {
	var payload struct {
		Text string `json:"text"`
	}
	_ = decodeData(r, &payload)
	return payload.Text
}

// runTUI subscribes to the daemon's event stream and renders it until the
// user quits.
func runTUI(c *client) error {
	events, closeConn, err := c.subscribe()
	if err != nil {
		return err
	}
	defer closeConn()

	m := newStatusModel(c.socketPath)
	p := tea.NewProgram(m)

	go func() {
		for ev := range events {
			p.Send(eventMsg(ev))
		}
		p.Send(streamClosedMsg{})
	}()

	_, err = p.Run()
	return err
}

// logLine formats the --watch-hotkey mode's timestamped status lines, kept
// separate from the TUI so hotkey mode can run headless (no terminal needed,
// e.g. under a systemd user unit).
func logLine(prefix, msg string) string {
	return time.Now().Format("15:04:05") + " " + prefix + ": " + msg
}
