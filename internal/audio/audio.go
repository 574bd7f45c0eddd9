package audio

import "context"

// Format describes the native stream a capture graph produces.
// Samples are float32, interleaved, in the range [-1, 1].
type Format struct {
	SampleRate float64
	Channels   int
}

// Device represents an audio input device
type Device struct {
	ID                string
	Name              string
	Default           bool
	MaxInputChannels  int
	DefaultSampleRate float64
}

// OpenOptions tunes how a backend builds its capture graph.
type OpenOptions struct {
	FramesPerBuffer int
	// Legacy selects the backend's older capture path when it has one.
	Legacy bool
}

// Backend is a platform capture implementation. The controller is written
// once against this interface; portaudio, malgo and the synthetic generator
// are the variants.
type Backend interface {
	Name() string
	// Init performs the one-time binding to the platform audio system.
	Init() error
	Devices() ([]Device, error)
	// Open binds dev to a new capture graph. No frames flow until Start.
	Open(ctx context.Context, dev Device, opts OpenOptions) (Graph, error)
	Close() error
}

// Graph is a live capture pipeline bound to one input device. It owns an
// exclusive OS resource until Close.
type Graph interface {
	Format() Format
	// SetEffects applies optional effects before Start. Effects the graph
	// cannot honour come back as warnings.
	SetEffects(e Effects) []*EffectWarning
	// Start installs the tap and starts the graph.
	Start(tap Tap) error
	Pause() error
	Resume() error
	// Close removes the tap, stops the graph and releases the device.
	// Calling it more than once is safe.
	Close() error
}

// Tap receives frames from a running graph.
type Tap struct {
	// Frames runs on the capture thread. buf is only valid for the duration
	// of the call and must not block.
	Frames func(buf []float32)
	// Error reports an involuntary stop (device lost, stream failure). It is
	// called at most once, never from the capture thread.
	Error func(err error)
}
