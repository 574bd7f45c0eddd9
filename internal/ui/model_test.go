package ui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/petems/recstream/internal/meter"
	"github.com/petems/recstream/internal/stream"
)

type mockControls struct {
	toggles int
	pauses  int
	cancels int
	resets  int
	err     error
}

func (m *mockControls) Toggle(ctx context.Context) error      { m.toggles++; return m.err }
func (m *mockControls) TogglePause(ctx context.Context) error { m.pauses++; return m.err }
func (m *mockControls) Cancel(ctx context.Context) error      { m.cancels++; return m.err }
func (m *mockControls) IsRecording() bool                     { return false }
func (m *mockControls) IsPaused() bool                        { return false }
func (m *mockControls) Amplitude() meter.Amplitude {
	if m.resets > 0 {
		return meter.Amplitude{Current: meter.Floor, Max: meter.Floor}
	}
	return meter.Amplitude{Current: -6, Max: -3}
}

func (m *mockControls) ResetAmplitude() { m.resets++ }

func press(m tea.Model, key string) (tea.Model, tea.Cmd) {
	if key == " " {
		return m.Update(tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")})
	}
	return m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)})
}

func TestKeysDriveControls(t *testing.T) {
	ctl := &mockControls{}
	var m tea.Model = NewModel(ctl)

	for _, key := range []string{"s", " ", "c"} {
		next, cmd := press(m, key)
		if cmd == nil {
			t.Fatalf("expected a command for key %q", key)
		}
		next, _ = next.Update(cmd())
		m = next
	}

	if ctl.toggles != 1 || ctl.pauses != 1 || ctl.cancels != 1 {
		t.Errorf("unexpected calls %+v", ctl)
	}
}

func TestActionErrorShown(t *testing.T) {
	ctl := &mockControls{err: errors.New("recorder is not recording")}
	var m tea.Model = NewModel(ctl)

	m, cmd := press(m, " ")
	m, _ = m.Update(cmd())

	if !strings.Contains(m.View(), "recorder is not recording") {
		t.Errorf("expected error in view, got:\n%s", m.View())
	}
}

func TestQuit(t *testing.T) {
	_, cmd := press(NewModel(&mockControls{}), "q")
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestResetKeyClearsMeter(t *testing.T) {
	ctl := &mockControls{}
	m, _ := NewModel(ctl).Update(TickMsg(time.Now()))

	m, _ = press(m, "r")
	if ctl.resets != 1 {
		t.Fatalf("expected one reset, got %d", ctl.resets)
	}
	if got := m.(Model).amp; got.Max != meter.Floor {
		t.Errorf("expected max back at floor, got %+v", got)
	}
}

func TestTickReadsAmplitude(t *testing.T) {
	m, cmd := NewModel(&mockControls{}).Update(TickMsg(time.Now()))
	if cmd == nil {
		t.Fatal("expected next tick to be scheduled")
	}
	if got := m.(Model).amp; got.Current != -6 || got.Max != -3 {
		t.Errorf("unexpected amplitude %+v", got)
	}
}

func TestStateMessages(t *testing.T) {
	var m tea.Model = NewModel(&mockControls{})

	m, _ = m.Update(StateMsg{Status: stream.StatusRecording, Warnings: []string{"echo cancellation unavailable"}})
	if view := m.View(); !strings.Contains(view, "recording") || !strings.Contains(view, "echo cancellation") {
		t.Errorf("expected recording status and warning, got:\n%s", view)
	}

	m, _ = m.Update(StateMsg{Status: stream.StatusStopped, Canceled: true})
	if m.(Model).status != "canceled" {
		t.Errorf("expected canceled status, got %s", m.(Model).status)
	}

	m, _ = m.Update(StateMsg{Status: stream.StatusError, Message: "device lost"})
	if !strings.Contains(m.View(), "device lost") {
		t.Error("expected error message in view")
	}
}

func TestChunkMessagesCounted(t *testing.T) {
	var m tea.Model = NewModel(&mockControls{})
	m, _ = m.Update(ChunkMsg{Bytes: 320})
	m, _ = m.Update(ChunkMsg{Bytes: 320})

	if got := m.(Model); got.chunks != 2 || got.bytes != 640 {
		t.Errorf("expected 2 chunks and 640 bytes, got %d and %d", got.chunks, got.bytes)
	}
}

func TestLitCells(t *testing.T) {
	tests := []struct {
		db   float64
		want int
	}{
		{db: meter.Floor, want: 0},
		{db: -60, want: 0},
		{db: -30, want: 20},
		{db: 0, want: 40},
		{db: 3, want: 40},
	}

	for _, tt := range tests {
		if got := litCells(tt.db, 40); got != tt.want {
			t.Errorf("litCells(%v): expected %d, got %d", tt.db, tt.want, got)
		}
	}
}
