package audio

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceNotFound   = errors.New("audio device not found")
	ErrDeviceBusy       = errors.New("audio device busy")
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrDeviceLost       = errors.New("audio device stopped unexpectedly")
	ErrNotInitialized   = errors.New("audio backend not initialized")
)

// DeviceError reports a failure to acquire, bind or keep running an input device.
type DeviceError struct {
	Op     string
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	dev := e.Device
	if dev == "" {
		dev = "default"
	}
	return fmt.Sprintf("audio device %q: %s: %v", dev, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// EffectWarning reports an effect the graph could not apply. Capture still
// proceeds without it.
type EffectWarning struct {
	Effect string
	Reason string
}

func (w *EffectWarning) Error() string {
	return fmt.Sprintf("%s unavailable: %s", w.Effect, w.Reason)
}
