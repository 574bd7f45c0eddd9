package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/petems/recstream/internal/audio"
	"github.com/petems/recstream/internal/config"
	"github.com/petems/recstream/internal/convert"
	"github.com/petems/recstream/internal/meter"
	"github.com/petems/recstream/internal/recorder"
	"github.com/petems/recstream/internal/stream"
	"github.com/rs/zerolog"
)

// Presenter is the foreground presentation (e.g., tray icon) shown while
// a capture is live.
type Presenter interface {
	SetIdle()
	SetRecording()
	SetPaused()
	SetError()
	ShowForeground() error
	HideForeground()
}

// Recorder is the control surface of a capture controller.
type Recorder interface {
	Start(ctx context.Context, cfg recorder.Config) error
	Stop(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Cancel(ctx context.Context) error
	Decline(ctx context.Context) error
	IsRecording() bool
	IsPaused() bool
	Amplitude() meter.Amplitude
	ResetAmplitude()
	Devices(ctx context.Context) ([]audio.Device, error)
}

type Config struct {
	Recorder  Recorder
	Config    *config.Config
	Logger    zerolog.Logger
	Presenter Presenter // Optional - can be nil
}

// App wraps a recorder with the host-side hooks: the foreground
// presentation around a live capture and the persisted device choice.
type App struct {
	rec       Recorder
	cfg       *config.Config
	log       zerolog.Logger
	presenter Presenter

	mu         sync.Mutex
	foreground bool
}

func New(cfg Config) *App {
	return &App{
		rec:       cfg.Recorder,
		cfg:       cfg.Config,
		log:       cfg.Logger.With().Str("component", "app").Logger(),
		presenter: cfg.Presenter,
	}
}

// SetPresenter sets the presenter (for circular dependency resolution)
func (a *App) SetPresenter(p Presenter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.presenter = p
}

// CaptureConfig turns the persisted audio settings into a capture request.
func CaptureConfig(ac config.AudioConfig) (recorder.Config, error) {
	enc, err := convert.ParseEncoding(ac.Encoding)
	if err != nil {
		return recorder.Config{}, err
	}
	return recorder.Config{
		SampleRate:    ac.SampleRate,
		Channels:      ac.Channels,
		Encoding:      enc,
		DeviceID:      ac.DeviceID,
		AutoGain:      ac.AutoGain,
		EchoCancel:    ac.EchoCancel,
		UseLegacyPath: ac.UseLegacyPath,
	}, nil
}

// Start begins a capture with the configured settings. The foreground
// presentation is only shown once the recorder is running.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startLocked(ctx)
}

func (a *App) startLocked(ctx context.Context) error {
	capture, err := CaptureConfig(a.cfg.Audio)
	if err != nil {
		return err
	}

	if err := a.rec.Start(ctx, capture); err != nil {
		a.log.Error().Err(err).Msg("Failed to start recording")
		if a.presenter != nil {
			a.presenter.SetError()
		}
		return err
	}

	a.log.Info().Msg("Recording")
	if a.presenter != nil {
		if err := a.presenter.ShowForeground(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to show foreground presentation")
		} else {
			a.foreground = true
		}
		a.presenter.SetRecording()
	}
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopLocked(ctx)
}

func (a *App) stopLocked(ctx context.Context) error {
	if err := a.rec.Stop(ctx); err != nil {
		a.log.Error().Err(err).Msg("Failed to stop recording")
		return err
	}
	a.hideLocked()
	if a.presenter != nil {
		a.presenter.SetIdle()
	}
	return nil
}

// Toggle starts a capture when idle and stops the live one otherwise.
func (a *App) Toggle(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.rec.IsRecording() {
		return a.stopLocked(ctx)
	}
	return a.startLocked(ctx)
}

func (a *App) Pause(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.rec.Pause(ctx); err != nil {
		return err
	}
	if a.presenter != nil {
		a.presenter.SetPaused()
	}
	return nil
}

func (a *App) Resume(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.rec.Resume(ctx); err != nil {
		return err
	}
	if a.presenter != nil {
		a.presenter.SetRecording()
	}
	return nil
}

// TogglePause flips between paused and recording.
func (a *App) TogglePause(ctx context.Context) error {
	if a.rec.IsPaused() {
		return a.Resume(ctx)
	}
	return a.Pause(ctx)
}

// Cancel abandons the capture without delivering pending audio.
func (a *App) Cancel(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.rec.Cancel(ctx); err != nil {
		return err
	}
	a.hideLocked()
	if a.presenter != nil {
		a.presenter.SetIdle()
	}
	return nil
}

// Decline is wired to the user refusing the capture from the foreground
// presentation.
func (a *App) Decline(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.rec.Decline(ctx); err != nil {
		return err
	}
	a.log.Info().Msg("Recording declined")
	a.hideLocked()
	if a.presenter != nil {
		a.presenter.SetIdle()
	}
	return nil
}

// HandleState mirrors recorder state events into the presenter. Attach it
// to the sink with ListenState.
func (a *App) HandleState(ev stream.StateEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch ev.Status {
	case stream.StatusRecording:
		for _, w := range ev.Warnings {
			a.log.Warn().Str("session", ev.SessionID).Msg(w)
		}
		if a.presenter != nil {
			a.presenter.SetRecording()
		}
	case stream.StatusPaused:
		if a.presenter != nil {
			a.presenter.SetPaused()
		}
	case stream.StatusStopped, stream.StatusDeclined:
		a.hideLocked()
		if a.presenter != nil {
			a.presenter.SetIdle()
		}
	case stream.StatusError:
		a.log.Error().Str("session", ev.SessionID).Msg(ev.Message)
		a.hideLocked()
		if a.presenter != nil {
			a.presenter.SetError()
		}
	}
}

func (a *App) hideLocked() {
	if !a.foreground {
		return
	}
	a.foreground = false
	if a.presenter != nil {
		a.presenter.HideForeground()
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.rec.IsRecording() {
		return a.stopLocked(ctx)
	}
	return nil
}

// Tray actions

func (a *App) SetDevice(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.rec.IsRecording() {
		return fmt.Errorf("cannot change device while recording")
	}

	return a.cfg.Update(func(cfg *config.Config) {
		cfg.Audio.DeviceID = id
	})
}

func (a *App) DeviceID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.Audio.DeviceID
}

func (a *App) IsRecording() bool {
	return a.rec.IsRecording()
}

func (a *App) IsPaused() bool {
	return a.rec.IsPaused()
}

func (a *App) Amplitude() meter.Amplitude {
	return a.rec.Amplitude()
}

// ResetAmplitude clears the running maximum of the level meter.
func (a *App) ResetAmplitude() {
	a.rec.ResetAmplitude()
}

func (a *App) ListDevices(ctx context.Context) ([]audio.Device, error) {
	return a.rec.Devices(ctx)
}
