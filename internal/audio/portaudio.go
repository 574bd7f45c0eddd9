package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

// DefaultFramesPerBuffer is the hardware buffer cadence requested from backends.
const DefaultFramesPerBuffer = 320

const (
	stallCheckInterval = 500 * time.Millisecond
	stallTimeout       = 2 * time.Second
)

type portAudioBackend struct {
	log zerolog.Logger

	mu          sync.Mutex
	initialized bool
}

// NewPortAudio creates a PortAudio-based capture backend
func NewPortAudio(log zerolog.Logger) Backend {
	return &portAudioBackend{
		log: log.With().Str("backend", "portaudio").Logger(),
	}
}

func (p *portAudioBackend) Name() string {
	return "portaudio"
}

func (p *portAudioBackend) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	p.initialized = true
	p.log.Debug().Str("version", portaudio.VersionText()).Msg("PortAudio initialized")
	return nil
}

func (p *portAudioBackend) Devices() ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	defaultDevice, _ := portaudio.DefaultInputDevice()

	result := make([]Device, 0, len(devices))
	for _, d := range devices {
		result = append(result, Device{
			ID:                d.Name,
			Name:              d.Name,
			Default:           d == defaultDevice,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
		})
	}
	return result, nil
}

func (p *portAudioBackend) lookup(id string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == id {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
}

func (p *portAudioBackend) Open(_ context.Context, dev Device, opts OpenOptions) (Graph, error) {
	info, err := p.lookup(dev.ID)
	if err != nil {
		return nil, err
	}

	channels := info.MaxInputChannels
	if channels > 2 {
		channels = 2
	}
	frames := opts.FramesPerBuffer
	if frames <= 0 {
		frames = DefaultFramesPerBuffer
	}

	g := &portAudioGraph{
		log:    p.log.With().Str("device", info.Name).Logger(),
		device: info.Name,
		format: Format{SampleRate: info.DefaultSampleRate, Channels: channels},
		legacy: opts.Legacy,
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: channels,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate:      info.DefaultSampleRate,
		FramesPerBuffer: frames,
	}

	// The legacy path is a blocking read loop; the default path is driven by
	// PortAudio's realtime callback.
	var stream *portaudio.Stream
	if opts.Legacy {
		g.buffer = make([]float32, frames*channels)
		stream, err = portaudio.OpenStream(params, g.buffer)
	} else {
		stream, err = portaudio.OpenStream(params, g.callback)
	}
	if err != nil {
		return nil, classifyPortAudioError(err)
	}
	g.stream = stream

	g.log.Debug().
		Float64("sample_rate", g.format.SampleRate).
		Int("channels", channels).
		Int("frames_per_buffer", frames).
		Bool("legacy", opts.Legacy).
		Msg("Opened capture stream")
	return g, nil
}

func (p *portAudioBackend) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil
	}
	p.initialized = false
	return portaudio.Terminate()
}

func classifyPortAudioError(err error) error {
	switch {
	case errors.Is(err, portaudio.DeviceUnavailable):
		return fmt.Errorf("%w: %v", ErrDeviceBusy, err)
	case errors.Is(err, portaudio.InvalidDevice):
		return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	}
	return fmt.Errorf("failed to open audio stream: %w", err)
}

type portAudioGraph struct {
	effectState

	log    zerolog.Logger
	device string
	format Format
	legacy bool
	stream *portaudio.Stream
	buffer []float32

	tap       atomic.Pointer[Tap]
	lastFrame atomic.Int64

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	exited  chan struct{}

	failOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

func (g *portAudioGraph) Format() Format {
	return g.format
}

func (g *portAudioGraph) SetEffects(e Effects) []*EffectWarning {
	return g.configure(e, capabilities{})
}

func (g *portAudioGraph) Start(tap Tap) error {
	g.tap.Store(&tap)
	return g.run()
}

func (g *portAudioGraph) Pause() error {
	return g.suspend()
}

func (g *portAudioGraph) Resume() error {
	return g.run()
}

func (g *portAudioGraph) Close() error {
	g.closeOnce.Do(func() {
		g.tap.Store(nil)
		if err := g.suspend(); err != nil {
			g.log.Debug().Err(err).Msg("Stop before close failed")
		}
		g.closeErr = g.stream.Close()
		g.log.Debug().Msg("Closed capture stream")
	})
	return g.closeErr
}

func (g *portAudioGraph) run() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return nil
	}
	if err := g.stream.Start(); err != nil {
		return fmt.Errorf("failed to start audio stream: %w", err)
	}

	g.running = true
	g.stop = make(chan struct{})
	g.exited = make(chan struct{})
	g.lastFrame.Store(time.Now().UnixNano())

	if g.legacy {
		go g.readLoop(g.stop, g.exited)
	} else {
		go g.watchdog(g.stop, g.exited)
	}
	return nil
}

func (g *portAudioGraph) suspend() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.running {
		return nil
	}
	g.running = false
	close(g.stop)
	err := g.stream.Stop()
	<-g.exited
	return err
}

func (g *portAudioGraph) callback(in []float32) {
	g.lastFrame.Store(time.Now().UnixNano())
	g.deliver(in)
}

func (g *portAudioGraph) deliver(buf []float32) {
	tap := g.tap.Load()
	if tap == nil || tap.Frames == nil {
		return
	}
	g.process(buf)
	tap.Frames(buf)
}

func (g *portAudioGraph) readLoop(stop <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)
	for {
		select {
		case <-stop:
			return
		default:
			if err := g.stream.Read(); err != nil {
				select {
				case <-stop:
					return
				default:
				}
				if errors.Is(err, portaudio.InputOverflowed) {
					g.log.Debug().Msg("Input overflowed, frames dropped")
					continue
				}
				g.fail(err)
				return
			}
			g.deliver(g.buffer)
		}
	}
}

// watchdog turns a callback stream that silently stopped delivering frames
// into a device error.
func (g *portAudioGraph) watchdog(stop <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)

	ticker := time.NewTicker(stallCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			since := time.Since(time.Unix(0, g.lastFrame.Load()))
			if since > stallTimeout {
				g.fail(fmt.Errorf("%w: no frames for %s", ErrDeviceLost, since.Round(time.Millisecond)))
				return
			}
		}
	}
}

func (g *portAudioGraph) fail(err error) {
	g.failOnce.Do(func() {
		tap := g.tap.Load()
		if tap == nil || tap.Error == nil {
			return
		}
		g.log.Error().Err(err).Msg("Capture stream failed")
		go tap.Error(&DeviceError{Op: "capture", Device: g.device, Err: err})
	})
}
