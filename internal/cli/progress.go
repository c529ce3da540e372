package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/medresearch/internal/client"
)

// Theme holds the color scheme for the turn display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// statusMsg carries a progress label from the server.
type statusMsg string

// replyMsg carries the outcome of the turn.
type replyMsg struct {
	event *client.StreamEvent
	err   error
}

// turnModel is the bubbletea model shown while a turn runs.
type turnModel struct {
	spinner  spinner.Model
	theme    Theme
	status   string
	started  time.Time
	event    *client.StreamEvent
	done     bool
	quitting bool
	err      error
}

func newTurnModel(now time.Time) turnModel {
	return turnModel{
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		theme:   defaultTheme,
		status:  "Sending...",
		started: now,
	}
}

// Init starts the spinner.
func (m turnModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages and returns the updated model.
func (m turnModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			m.done = true
			return m, tea.Quit
		}

	case statusMsg:
		m.status = string(msg)
		return m, nil

	case replyMsg:
		m.done = true
		m.event = msg.event
		m.err = msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the turn display.
func (m turnModel) View() tea.View {
	return tea.NewView(m.renderContent(time.Now()))
}

func (m turnModel) renderContent(now time.Time) string {
	if m.done {
		return m.finalView(now)
	}
	elapsed := now.Sub(m.started).Round(time.Second)
	status := m.theme.statusStyle().Render(m.status)
	hint := m.theme.hintStyle().Render("Press Ctrl+C to stop waiting")
	return fmt.Sprintf("%s %s %s\n%s\n", m.spinner.View(), status, elapsed, hint)
}

func (m turnModel) finalView(now time.Time) string {
	if m.quitting {
		return m.theme.hintStyle().Render("\nStopped waiting. The server still saves the turn to the dialog.\n")
	}
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("✗ %s\n", m.err))
	}
	elapsed := now.Sub(m.started).Round(100 * time.Millisecond)
	if m.event != nil && !m.event.Succeeded {
		return m.theme.errorStyle().Render(fmt.Sprintf("✗ Research failed after %s\n", elapsed))
	}
	return m.theme.completedStyle().Render(fmt.Sprintf("✓ Answered in %s\n", elapsed))
}

// errStoppedWaiting is returned when the user leaves the turn view early.
var errStoppedWaiting = errors.New("stopped waiting for reply")

// RunTurnProgress sends one message over the stream and shows live status
// until the reply arrives.
func RunTurnProgress(ctx context.Context, s *client.Stream, message string) (*client.StreamEvent, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newTurnModel(time.Now()), tea.WithContext(ctx))
	go func() {
		ev, err := s.Send(ctx, message, func(status string) { p.Send(statusMsg(status)) })
		p.Send(replyMsg{event: ev, err: err})
	}()

	finalModel, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("progress UI error: %w", err)
	}

	m, ok := finalModel.(turnModel)
	if !ok {
		return nil, fmt.Errorf("progress UI returned %T", finalModel)
	}
	if m.quitting {
		return nil, errStoppedWaiting
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.event, nil
}
