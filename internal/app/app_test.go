package app

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/petems/recstream/internal/audio"
	"github.com/petems/recstream/internal/config"
	"github.com/petems/recstream/internal/convert"
	"github.com/petems/recstream/internal/meter"
	"github.com/petems/recstream/internal/recorder"
	"github.com/petems/recstream/internal/stream"
	"github.com/rs/zerolog"
)

// Mock implementations for testing
type mockRecorder struct {
	mu        sync.Mutex
	recording bool
	paused    bool
	startErr  error
	started   []recorder.Config
	calls     []string
}

func (m *mockRecorder) record(call string) {
	m.calls = append(m.calls, call)
}

func (m *mockRecorder) Start(ctx context.Context, cfg recorder.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("start")
	if m.startErr != nil {
		return m.startErr
	}
	if m.recording {
		return recorder.ErrAlreadyRecording
	}
	m.started = append(m.started, cfg)
	m.recording = true
	return nil
}

func (m *mockRecorder) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("stop")
	m.recording, m.paused = false, false
	return nil
}

func (m *mockRecorder) Pause(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("pause")
	if !m.recording {
		return recorder.ErrNotRecording
	}
	m.paused = true
	return nil
}

func (m *mockRecorder) Resume(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("resume")
	if !m.recording {
		return recorder.ErrNotRecording
	}
	m.paused = false
	return nil
}

func (m *mockRecorder) Cancel(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("cancel")
	m.recording, m.paused = false, false
	return nil
}

func (m *mockRecorder) Decline(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("decline")
	m.recording, m.paused = false, false
	return nil
}

func (m *mockRecorder) IsRecording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recording
}

func (m *mockRecorder) IsPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

func (m *mockRecorder) Amplitude() meter.Amplitude {
	return meter.Amplitude{Current: -12, Max: -3}
}

func (m *mockRecorder) ResetAmplitude() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("reset")
}

func (m *mockRecorder) Devices(ctx context.Context) ([]audio.Device, error) {
	return []audio.Device{{ID: "default", Name: "Default", Default: true, MaxInputChannels: 1}}, nil
}

func (m *mockRecorder) lastCall() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return ""
	}
	return m.calls[len(m.calls)-1]
}

type mockPresenter struct {
	status  string
	shown   int
	hidden  int
	showErr error
}

func (p *mockPresenter) SetIdle()      { p.status = "idle" }
func (p *mockPresenter) SetRecording() { p.status = "recording" }
func (p *mockPresenter) SetPaused()    { p.status = "paused" }
func (p *mockPresenter) SetError()     { p.status = "error" }

func (p *mockPresenter) ShowForeground() error {
	if p.showErr != nil {
		return p.showErr
	}
	p.shown++
	return nil
}

func (p *mockPresenter) HideForeground() { p.hidden++ }

func newTestApp(t *testing.T) (*App, *mockRecorder, *mockPresenter, *config.Config) {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	rec := &mockRecorder{}
	p := &mockPresenter{}
	a := New(Config{
		Recorder:  rec,
		Config:    cfg,
		Logger:    zerolog.Nop(),
		Presenter: p,
	})
	return a, rec, p, cfg
}

func TestStartShowsForegroundAndStopHides(t *testing.T) {
	a, rec, p, _ := newTestApp(t)
	ctx := context.Background()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if p.shown != 1 || p.status != "recording" {
		t.Errorf("expected foreground shown and recording, got shown=%d status=%s", p.shown, p.status)
	}
	if got := rec.started[0]; got.SampleRate != 16000 || got.Channels != 1 || got.Encoding != convert.PCM16 {
		t.Errorf("unexpected capture config %+v", got)
	}

	if err := a.Stop(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if p.hidden != 1 || p.status != "idle" {
		t.Errorf("expected foreground hidden and idle, got hidden=%d status=%s", p.hidden, p.status)
	}
}

func TestFailedStartNeverShowsForeground(t *testing.T) {
	a, rec, p, _ := newTestApp(t)
	rec.startErr = &recorder.StartError{Stage: "device", Err: audio.ErrDeviceBusy}

	err := a.Start(context.Background())
	if !errors.Is(err, audio.ErrDeviceBusy) {
		t.Fatalf("expected device busy, got %v", err)
	}
	if p.shown != 0 {
		t.Error("foreground shown for a failed start")
	}
	if p.status != "error" {
		t.Errorf("expected error status, got %s", p.status)
	}
}

func TestToggle(t *testing.T) {
	a, rec, _, _ := newTestApp(t)
	ctx := context.Background()

	if err := a.Toggle(ctx); err != nil {
		t.Fatalf("first toggle failed: %v", err)
	}
	if !a.IsRecording() {
		t.Error("App should be recording after first toggle")
	}

	if err := a.Toggle(ctx); err != nil {
		t.Fatalf("second toggle failed: %v", err)
	}
	if a.IsRecording() {
		t.Error("App should have stopped after second toggle")
	}
	if rec.lastCall() != "stop" {
		t.Errorf("expected stop, got %s", rec.lastCall())
	}
}

func TestTogglePause(t *testing.T) {
	a, _, p, _ := newTestApp(t)
	ctx := context.Background()

	if err := a.TogglePause(ctx); !errors.Is(err, recorder.ErrNotRecording) {
		t.Fatalf("expected ErrNotRecording when idle, got %v", err)
	}

	a.Start(ctx)
	if err := a.TogglePause(ctx); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if !a.IsPaused() || p.status != "paused" {
		t.Errorf("expected paused, got status=%s", p.status)
	}
	if err := a.TogglePause(ctx); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if a.IsPaused() || p.status != "recording" {
		t.Errorf("expected recording, got status=%s", p.status)
	}
}

func TestDeclineRoutesToRecorder(t *testing.T) {
	a, rec, p, _ := newTestApp(t)
	ctx := context.Background()

	a.Start(ctx)
	if err := a.Decline(ctx); err != nil {
		t.Fatalf("decline failed: %v", err)
	}
	if rec.lastCall() != "decline" {
		t.Errorf("expected decline, got %s", rec.lastCall())
	}
	if p.hidden != 1 {
		t.Errorf("expected foreground hidden once, got %d", p.hidden)
	}
}

func TestHandleStateError(t *testing.T) {
	a, _, p, _ := newTestApp(t)

	a.Start(context.Background())
	a.HandleState(stream.StateEvent{Status: stream.StatusError, Message: "device lost"})

	if p.status != "error" {
		t.Errorf("expected error status, got %s", p.status)
	}
	if p.hidden != 1 {
		t.Errorf("expected foreground hidden, got %d", p.hidden)
	}

	// A later stopped event must not hide twice.
	a.HandleState(stream.StateEvent{Status: stream.StatusStopped})
	if p.hidden != 1 {
		t.Errorf("expected a single hide, got %d", p.hidden)
	}
}

func TestHandleStateWithoutPresenter(t *testing.T) {
	a := New(Config{Recorder: &mockRecorder{}, Config: &config.Config{}, Logger: zerolog.Nop()})

	// Must not panic without a presenter.
	a.HandleState(stream.StateEvent{Status: stream.StatusRecording, Warnings: []string{"echo cancellation unavailable"}})
	a.HandleState(stream.StateEvent{Status: stream.StatusPaused})
	a.HandleState(stream.StateEvent{Status: stream.StatusDeclined})
}

func TestShowForegroundFailureKeepsRecording(t *testing.T) {
	a, _, p, _ := newTestApp(t)
	p.showErr = errors.New("no notification area")

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if !a.IsRecording() {
		t.Error("expected recording to continue")
	}
	a.Stop(context.Background())
	if p.hidden != 0 {
		t.Errorf("expected no hide for a foreground never shown, got %d", p.hidden)
	}
}

func TestSetDevice(t *testing.T) {
	a, _, _, cfg := newTestApp(t)

	if err := a.SetDevice("USB Microphone"); err != nil {
		t.Fatalf("set device failed: %v", err)
	}
	if a.DeviceID() != "USB Microphone" {
		t.Errorf("expected device to be set, got %q", a.DeviceID())
	}

	reloaded, err := config.Load(cfg.Path())
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Audio.DeviceID != "USB Microphone" {
		t.Errorf("expected device to be persisted, got %q", reloaded.Audio.DeviceID)
	}

	a.Start(context.Background())
	if err := a.SetDevice("other"); err == nil {
		t.Error("expected error changing device while recording")
	}
}

func TestResetAmplitudeRoutesToRecorder(t *testing.T) {
	a, rec, _, _ := newTestApp(t)

	a.ResetAmplitude()
	if rec.lastCall() != "reset" {
		t.Errorf("expected reset, got %s", rec.lastCall())
	}
}

func TestCaptureConfig(t *testing.T) {
	got, err := CaptureConfig(config.AudioConfig{
		DeviceID:      "mic",
		SampleRate:    44100,
		Channels:      2,
		Encoding:      "pcm16",
		AutoGain:      true,
		UseLegacyPath: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := recorder.Config{SampleRate: 44100, Channels: 2, Encoding: convert.PCM16, DeviceID: "mic", AutoGain: true, UseLegacyPath: true}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}

	if _, err := CaptureConfig(config.AudioConfig{Encoding: "flac"}); err == nil {
		t.Error("expected error for unknown encoding")
	}
}
