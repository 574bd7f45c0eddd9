package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/petems/recstream/internal/meter"
	"github.com/petems/recstream/internal/stream"
)

const (
	tickInterval  = 100 * time.Millisecond
	actionTimeout = 5 * time.Second

	// Bottom of the level bar in dBFS.
	barFloor = -60.0
	barWidth = 40
)

var (
	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			PaddingLeft(2).
			PaddingRight(2).
			MarginBottom(1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#CCCCCC"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F5F"))

	lowStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	midStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	highStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
)

// Controls is the part of the app the monitor drives.
type Controls interface {
	Toggle(ctx context.Context) error
	TogglePause(ctx context.Context) error
	Cancel(ctx context.Context) error
	IsRecording() bool
	IsPaused() bool
	Amplitude() meter.Amplitude
	ResetAmplitude()
}

// TickMsg represents a timer tick
type TickMsg time.Time

// StateMsg carries a recorder state event into the UI.
type StateMsg stream.StateEvent

// ChunkMsg reports a delivered audio chunk.
type ChunkMsg struct {
	Bytes int
}

type actionDoneMsg struct {
	action string
	err    error
}

// Model represents the UI state
type Model struct {
	ctl      Controls
	status   string
	amp      meter.Amplitude
	chunks   int
	bytes    int64
	warnings []string
	lastErr  string
	width    int
}

func NewModel(ctl Controls) Model {
	return Model{
		ctl:    ctl,
		status: "idle",
		amp:    meter.Amplitude{Current: meter.Floor, Max: meter.Floor},
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) run(action string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return actionDoneMsg{action: action, err: fn(ctx)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "s":
			return m, m.run("start/stop", m.ctl.Toggle)
		case " ", "p":
			return m, m.run("pause", m.ctl.TogglePause)
		case "c":
			return m, m.run("cancel", m.ctl.Cancel)
		case "r":
			m.ctl.ResetAmplitude()
			m.amp = m.ctl.Amplitude()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case TickMsg:
		m.amp = m.ctl.Amplitude()
		return m, tick()

	case StateMsg:
		m.status = msg.Status.String()
		switch msg.Status {
		case stream.StatusRecording:
			m.warnings = msg.Warnings
			m.lastErr = ""
		case stream.StatusError:
			m.lastErr = msg.Message
		case stream.StatusStopped:
			if msg.Canceled {
				m.status = "canceled"
			}
		}

	case ChunkMsg:
		m.chunks++
		m.bytes += int64(msg.Bytes)

	case actionDoneMsg:
		if msg.err != nil {
			m.lastErr = fmt.Sprintf("%s: %v", msg.action, msg.err)
		}
	}

	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("recstream monitor"))
	b.WriteString("\n")

	fmt.Fprintf(&b, "Status: %s\n\n", m.status)
	fmt.Fprintf(&b, "%s\n", levelBar(m.amp.Current, barWidth))
	b.WriteString(infoStyle.Render(fmt.Sprintf("current %6.1f dBFS   max %6.1f dBFS", m.amp.Current, m.amp.Max)))
	b.WriteString("\n")
	b.WriteString(infoStyle.Render(fmt.Sprintf("%d chunks, %d bytes", m.chunks, m.bytes)))
	b.WriteString("\n")

	for _, w := range m.warnings {
		b.WriteString(infoStyle.Render("warning: " + w))
		b.WriteString("\n")
	}
	if m.lastErr != "" {
		b.WriteString(errorStyle.Render("error: " + m.lastErr))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(infoStyle.Render("s start/stop • space pause/resume • c cancel • r reset max • q quit"))
	b.WriteString("\n")
	return b.String()
}

// levelBar renders db on a barFloor..0 dBFS scale.
func levelBar(db float64, width int) string {
	filled := litCells(db, width)

	var b strings.Builder
	for i := 0; i < width; i++ {
		if i >= filled {
			b.WriteString(infoStyle.Render("·"))
			continue
		}
		switch pos := float64(i) / float64(width); {
		case pos >= 0.9:
			b.WriteString(highStyle.Render("█"))
		case pos >= 0.7:
			b.WriteString(midStyle.Render("█"))
		default:
			b.WriteString(lowStyle.Render("█"))
		}
	}
	return b.String()
}

func litCells(db float64, width int) int {
	if db <= barFloor {
		return 0
	}
	if db >= 0 {
		return width
	}
	return int(float64(width) * (db - barFloor) / -barFloor)
}
