package audio

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// SynthOptions configures the synthetic tone backend.
type SynthOptions struct {
	SampleRate float64
	Channels   int
	Frequency  float64
	Amplitude  float64
}

const synthDeviceID = "synth"

type synthBackend struct {
	log  zerolog.Logger
	opts SynthOptions
}

// NewSynth creates a backend whose single input device plays a sine tone at
// hardware-like cadence. It needs no audio hardware.
func NewSynth(log zerolog.Logger, opts SynthOptions) Backend {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 48000
	}
	if opts.Channels <= 0 {
		opts.Channels = 1
	}
	if opts.Frequency <= 0 {
		opts.Frequency = 440
	}
	if opts.Amplitude <= 0 {
		opts.Amplitude = 0.5
	}
	return &synthBackend{
		log:  log.With().Str("backend", "synth").Logger(),
		opts: opts,
	}
}

func (s *synthBackend) Name() string {
	return "synth"
}

func (s *synthBackend) Init() error {
	return nil
}

func (s *synthBackend) Devices() ([]Device, error) {
	return []Device{{
		ID:                synthDeviceID,
		Name:              "Synthetic tone",
		Default:           true,
		MaxInputChannels:  s.opts.Channels,
		DefaultSampleRate: s.opts.SampleRate,
	}}, nil
}

func (s *synthBackend) Open(_ context.Context, _ Device, opts OpenOptions) (Graph, error) {
	frames := opts.FramesPerBuffer
	if frames <= 0 {
		frames = DefaultFramesPerBuffer
	}
	return &synthGraph{
		log:    s.log,
		opts:   s.opts,
		frames: frames,
	}, nil
}

func (s *synthBackend) Close() error {
	return nil
}

type synthGraph struct {
	effectState

	log    zerolog.Logger
	opts   SynthOptions
	frames int

	tap   atomic.Pointer[Tap]
	phase float64

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	exited  chan struct{}

	closeOnce sync.Once
}

func (g *synthGraph) Format() Format {
	return Format{SampleRate: g.opts.SampleRate, Channels: g.opts.Channels}
}

func (g *synthGraph) SetEffects(e Effects) []*EffectWarning {
	return g.configure(e, capabilities{echoCancel: true})
}

func (g *synthGraph) Start(tap Tap) error {
	g.tap.Store(&tap)
	return g.Resume()
}

func (g *synthGraph) Pause() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.running {
		return nil
	}
	g.running = false
	close(g.stop)
	<-g.exited
	return nil
}

func (g *synthGraph) Resume() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return nil
	}
	g.running = true
	g.stop = make(chan struct{})
	g.exited = make(chan struct{})
	go g.generate(g.stop, g.exited)
	return nil
}

func (g *synthGraph) Close() error {
	g.closeOnce.Do(func() {
		g.tap.Store(nil)
		_ = g.Pause()
	})
	return nil
}

func (g *synthGraph) generate(stop <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)

	period := time.Duration(float64(g.frames) / g.opts.SampleRate * float64(time.Second))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	buf := make([]float32, g.frames*g.opts.Channels)
	step := 2 * math.Pi * g.opts.Frequency / g.opts.SampleRate

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for i := 0; i < g.frames; i++ {
				v := float32(g.opts.Amplitude * math.Sin(g.phase))
				for ch := 0; ch < g.opts.Channels; ch++ {
					buf[i*g.opts.Channels+ch] = v
				}
				g.phase += step
			}
			g.phase = math.Mod(g.phase, 2*math.Pi)

			tap := g.tap.Load()
			if tap == nil || tap.Frames == nil {
				continue
			}
			g.process(buf)
			tap.Frames(buf)
		}
	}
}
