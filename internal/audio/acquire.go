package audio

import (
	"context"
	"fmt"
)

// PermissionFunc checks that the process may use the microphone.
type PermissionFunc func() error

// ListDevices returns the input-capable devices of b.
func ListDevices(b Backend) ([]Device, error) {
	devices, err := b.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]Device, 0, len(devices))
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, d)
		}
	}
	return result, nil
}

// Acquire resolves deviceID against the backend's inputs and opens a capture
// graph bound to it. An empty deviceID selects the platform default.
//
// All failures are returned as *DeviceError. On success the caller owns the
// graph and must Close it exactly once.
func Acquire(ctx context.Context, b Backend, deviceID string, opts OpenOptions, perm PermissionFunc) (Graph, error) {
	if perm != nil {
		if err := perm(); err != nil {
			return nil, &DeviceError{Op: "permission", Device: deviceID, Err: fmt.Errorf("%w: %v", ErrPermissionDenied, err)}
		}
	}

	dev, err := resolveDevice(b, deviceID)
	if err != nil {
		return nil, &DeviceError{Op: "resolve", Device: deviceID, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return nil, &DeviceError{Op: "open", Device: dev.Name, Err: err}
	}

	g, err := b.Open(ctx, dev, opts)
	if err != nil {
		return nil, &DeviceError{Op: "open", Device: dev.Name, Err: err}
	}
	return g, nil
}

func resolveDevice(b Backend, deviceID string) (Device, error) {
	devices, err := ListDevices(b)
	if err != nil {
		return Device{}, err
	}

	if deviceID == "" {
		for _, d := range devices {
			if d.Default {
				return d, nil
			}
		}
		if len(devices) > 0 {
			return devices[0], nil
		}
		return Device{}, fmt.Errorf("%w: no input devices", ErrDeviceNotFound)
	}

	for _, d := range devices {
		if d.ID == deviceID || d.Name == deviceID {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
}
