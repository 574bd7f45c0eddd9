package tray

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/getlantern/systray"
	"github.com/petems/recstream/internal/app"
	"github.com/petems/recstream/internal/logging"
	"github.com/pkg/browser"
	"github.com/rs/zerolog"
)

const actionTimeout = 5 * time.Second

var errNotReady = errors.New("tray is not ready")

// UI is the systray foreground presentation. It implements app.Presenter.
type UI struct {
	app     *app.App
	version string
	log     zerolog.Logger
	ready   atomic.Bool

	// Menu items
	mStartStop *systray.MenuItem
	mPause     *systray.MenuItem
	mDecline   *systray.MenuItem
	mDevices   *systray.MenuItem
}

func New(application *app.App, version string, log zerolog.Logger) *UI {
	return &UI{
		app:     application,
		version: version,
		log:     log.With().Str("component", "tray").Logger(),
	}
}

// SetApp sets the app reference (for circular dependency resolution)
func (u *UI) SetApp(application *app.App) {
	u.app = application
}

// Status update methods for the app to call
func (u *UI) SetIdle() {
	u.updateStatus("idle")
	u.setControls(false, false)
}

func (u *UI) SetRecording() {
	u.updateStatus("recording")
	u.setControls(true, false)
}

func (u *UI) SetPaused() {
	u.updateStatus("paused")
	u.setControls(true, true)
}

func (u *UI) SetError() {
	u.updateStatus("error")
	u.setControls(false, false)
}

// ShowForeground surfaces the live-capture controls.
func (u *UI) ShowForeground() error {
	if !u.ready.Load() {
		return errNotReady
	}
	systray.SetTooltip("Recording from microphone")
	u.mPause.Show()
	u.mDecline.Show()
	return nil
}

func (u *UI) HideForeground() {
	if !u.ready.Load() {
		return
	}
	systray.SetTooltip("Microphone capture")
	u.mPause.Hide()
	u.mDecline.Hide()
}

// Run blocks until Quit is selected.
func (u *UI) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		systray.Quit()
	}()
	systray.Run(u.onReady, u.onExit)
	return nil
}

func (u *UI) onReady() {
	systray.SetTitle(fmt.Sprintf("🎤 %s", emojiForStatus("idle")))
	systray.SetTooltip("Microphone capture")

	// Build menu
	u.mStartStop = systray.AddMenuItem(startStopTitle(false), "Start or stop recording")
	u.mPause = systray.AddMenuItem(pauseTitle(false), "Pause or resume recording")
	u.mDecline = systray.AddMenuItem("Decline", "Discard this recording")
	u.mPause.Hide()
	u.mDecline.Hide()
	systray.AddSeparator()

	u.mDevices = systray.AddMenuItem("Microphone", "Select audio device")
	u.buildDeviceMenu()

	systray.AddSeparator()
	mLogs := systray.AddMenuItem("Open Logs", "View application logs")
	mAbout := systray.AddMenuItem("About", "About recstream")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	u.ready.Store(true)

	// Event loop
	go u.handleEvents(mLogs, mAbout, mQuit)
}

func (u *UI) handleEvents(mLogs, mAbout, mQuit *systray.MenuItem) {
	for {
		select {
		case <-u.mStartStop.ClickedCh:
			u.do("toggle", u.app.Toggle)
		case <-u.mPause.ClickedCh:
			u.do("pause", u.app.TogglePause)
		case <-u.mDecline.ClickedCh:
			u.do("decline", u.app.Decline)
		case <-mLogs.ClickedCh:
			u.openLogs()
		case <-mAbout.ClickedCh:
			u.showAbout()
		case <-mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

func (u *UI) do(action string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		u.log.Error().Err(err).Str("action", action).Msg("Tray action failed")
	}
}

func (u *UI) buildDeviceMenu() {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	// Get devices from app
	devices, err := u.app.ListDevices(ctx)
	if err != nil {
		u.log.Error().Err(err).Msg("Failed to list audio devices")
		return
	}

	selected := u.app.DeviceID()
	deviceItems := make(map[string]*systray.MenuItem)

	for _, dev := range devices {
		item := u.mDevices.AddSubMenuItem(dev.Name, "")
		if dev.ID == selected || dev.Name == selected || (selected == "" && dev.Default) {
			item.Check()
		}
		deviceItems[dev.ID] = item

		go func(deviceID, deviceName string, menuItem *systray.MenuItem) {
			for {
				<-menuItem.ClickedCh
				if err := u.app.SetDevice(deviceID); err != nil {
					u.log.Warn().Err(err).Str("device", deviceName).Msg("Device not changed")
					continue
				}
				// Uncheck all other items
				for id, itm := range deviceItems {
					if id != deviceID {
						itm.Uncheck()
					}
				}
				menuItem.Check()
				u.log.Info().Str("device", deviceName).Msg("Changed audio device")
			}
		}(dev.ID, dev.Name, item)
	}
}

func (u *UI) openLogs() {
	if err := browser.OpenFile(logging.Path()); err != nil {
		u.log.Error().Err(err).Msg("Failed to open logs")
	}
}

func (u *UI) showAbout() {
	u.log.Info().Str("version", u.version).Msg("recstream: microphone capture and streaming")
}

func (u *UI) onExit() {
	u.ready.Store(false)
}

func (u *UI) setControls(live, paused bool) {
	if !u.ready.Load() {
		return
	}
	u.mStartStop.SetTitle(startStopTitle(live))
	u.mPause.SetTitle(pauseTitle(paused))
}

// updateStatus sets the tray title with microphone emoji and status indicator
func (u *UI) updateStatus(status string) {
	if !u.ready.Load() {
		return
	}
	emoji := emojiForStatus(status)
	systray.SetTitle(fmt.Sprintf("🎤 %s", emoji))
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(status string) string {
	switch status {
	case "recording":
		return "🔴" // Red - recording
	case "paused":
		return "🟡" // Yellow - paused
	case "idle":
		return "🟢" // Green - ready/idle
	case "error":
		return "⚪️" // White - error
	default:
		return "🟢" // Green - default to ready
	}
}

func startStopTitle(live bool) string {
	if live {
		return "Stop Recording"
	}
	return "Start Recording"
}

func pauseTitle(paused bool) string {
	if paused {
		return "Resume"
	}
	return "Pause"
}
