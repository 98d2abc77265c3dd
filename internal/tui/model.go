package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	orchestration "github.com/auriter/voicecore/core"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/reflow/wordwrap"
)

const maxLogLines = 200

// Controller is the part of a session the UI drives.
type Controller interface {
	StartSession(ctx context.Context) error
	StopSession(ctx context.Context) error
	State() orchestration.ControllerState
}

// Model displays session status and the live transcript. It never changes
// pipeline state itself beyond starting and stopping the session.
type Model struct {
	ctx        context.Context
	controller Controller
	feed       *Feed

	status   orchestration.SessionStatus
	log      []string
	busy     bool
	lastErr  error
	spinner  spinner.Model
	viewport viewport.Model
	styles   styles
	width    int
	height   int
	quitting bool
}

func NewModel(ctx context.Context, controller Controller, feed *Feed) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return Model{
		ctx:        ctx,
		controller: controller,
		feed:       feed,
		spinner:    s,
		viewport:   viewport.New(80, 10),
		styles:     newStyles(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.feed.listen(), m.spinner.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quitting = true
			return m, m.stop(true)
		case " ", "space", "enter":
			if m.busy {
				return m, nil
			}
			m.busy = true
			if m.controller.State() == orchestration.StateActive {
				return m, m.stop(false)
			}
			m.log = nil
			m.lastErr = nil
			m.refreshLog()
			return m, m.start()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = max(msg.Width-4, 10)
		m.viewport.Height = max(msg.Height-8, 3)
		m.refreshLog()

	case StatusMsg:
		m.status = orchestration.SessionStatus(msg)
		cmds = append(cmds, m.feed.listen())

	case TranscriptMsg:
		m.appendLog(m.styles.user.Render("You:") + " " + string(msg))
		cmds = append(cmds, m.feed.listen())

	case TurnMsg:
		m.appendLog(m.styles.assistant.Render("AI:") + " " + msg.Assistant)
		cmds = append(cmds, m.feed.listen())

	case sessionResultMsg:
		m.busy = false
		m.lastErr = msg.err
		if m.quitting {
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) start() tea.Cmd {
	return func() tea.Msg {
		return sessionResultMsg{err: m.controller.StartSession(m.ctx)}
	}
}

func (m Model) stop(quit bool) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(m.ctx), 5*time.Second)
		defer cancel()
		err := m.controller.StopSession(ctx)
		if quit {
			return tea.Quit()
		}
		return sessionResultMsg{err: err}
	}
}

func (m *Model) appendLog(line string) {
	m.log = append(m.log, line)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
	m.refreshLog()
	m.viewport.GotoBottom()
}

func (m *Model) refreshLog() {
	width := m.viewport.Width
	lines := make([]string, 0, len(m.log))
	for _, line := range m.log {
		lines = append(lines, wordwrap.String(line, width))
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
}

func (m Model) statusLine() string {
	switch m.status.Phase {
	case orchestration.PhaseError:
		return m.styles.error.Render("Error: " + m.status.Message)
	case orchestration.PhaseProcessing:
		return m.spinner.View() + " " + m.styles.status.Render("Thinking...")
	case orchestration.PhaseSpeaking:
		return m.styles.status.Render("Speaking")
	case orchestration.PhaseRecording:
		return m.styles.status.Render("Listening")
	}
	if m.busy {
		return m.spinner.View() + " " + m.styles.status.Render("Connecting...")
	}
	return m.styles.status.Render("Idle")
}

func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	var b strings.Builder
	b.WriteString(m.styles.title.Render("voicecore"))
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(m.styles.border.Render(m.viewport.View()))
	b.WriteString("\n")
	if m.lastErr != nil && m.status.Phase != orchestration.PhaseError {
		b.WriteString(m.styles.error.Render(fmt.Sprintf("last action failed: %v", m.lastErr)))
		b.WriteString("\n")
	}
	b.WriteString(m.styles.help.Render("space: start/stop • ↑/↓: scroll • q: quit"))
	return b.String()
}
