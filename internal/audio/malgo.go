package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
)

// miniaudio converts to whatever channel count is requested, so every
// capture device is reported as stereo-capable.
const malgoMaxChannels = 2

type malgoBackend struct {
	log      zerolog.Logger
	backends []malgo.Backend

	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// NewMalgo creates a miniaudio-based capture backend. With no backends the
// platform default order is used.
func NewMalgo(log zerolog.Logger, backends ...malgo.Backend) Backend {
	return &malgoBackend{
		log:      log.With().Str("backend", "malgo").Logger(),
		backends: backends,
	}
}

func (b *malgoBackend) Name() string {
	return "malgo"
}

func (b *malgoBackend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx != nil {
		return nil
	}
	ctx, err := malgo.InitContext(b.backends, malgo.ContextConfig{}, func(message string) {
		b.log.Debug().Msg(strings.TrimSpace(message))
	})
	if err != nil {
		return fmt.Errorf("init malgo context: %w", err)
	}
	b.ctx = ctx
	return nil
}

func (b *malgoBackend) context() (*malgo.AllocatedContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return nil, ErrNotInitialized
	}
	return b.ctx, nil
}

func (b *malgoBackend) Devices() ([]Device, error) {
	ctx, err := b.context()
	if err != nil {
		return nil, err
	}
	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	result := make([]Device, 0, len(infos))
	for i := range infos {
		info := &infos[i]
		result = append(result, Device{
			ID:               info.ID.String(),
			Name:             info.Name(),
			Default:          info.IsDefault != 0,
			MaxInputChannels: malgoMaxChannels,
		})
	}
	return result, nil
}

func (b *malgoBackend) Open(_ context.Context, dev Device, opts OpenOptions) (Graph, error) {
	ctx, err := b.context()
	if err != nil {
		return nil, err
	}
	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	var info *malgo.DeviceInfo
	for i := range infos {
		if infos[i].ID.String() == dev.ID {
			info = &infos[i]
			break
		}
	}
	if info == nil {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, dev.ID)
	}

	if opts.Legacy {
		b.log.Debug().Msg("No legacy capture path, using the default one")
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.DeviceID = info.ID.Pointer()
	if opts.FramesPerBuffer > 0 {
		cfg.PeriodSizeInFrames = uint32(opts.FramesPerBuffer)
	}

	g := &malgoGraph{
		log:  b.log.With().Str("device", dev.Name).Logger(),
		name: dev.Name,
	}
	g.halted.Store(true)

	device, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: g.onData,
		Stop: g.onStop,
	})
	if err != nil {
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	g.device = device
	g.format = Format{
		SampleRate: float64(device.SampleRate()),
		Channels:   int(device.CaptureChannels()),
	}

	g.log.Debug().
		Float64("sample_rate", g.format.SampleRate).
		Int("channels", g.format.Channels).
		Msg("Initialized capture device")
	return g, nil
}

func (b *malgoBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx == nil {
		return nil
	}
	err := b.ctx.Uninit()
	b.ctx.Free()
	b.ctx = nil
	return err
}

type malgoGraph struct {
	effectState

	log    zerolog.Logger
	name   string
	device *malgo.Device
	format Format

	tap     atomic.Pointer[Tap]
	halted  atomic.Bool
	scratch []float32

	mu      sync.Mutex
	running bool

	failOnce  sync.Once
	closeOnce sync.Once
}

func (g *malgoGraph) Format() Format {
	return g.format
}

func (g *malgoGraph) SetEffects(e Effects) []*EffectWarning {
	return g.configure(e, capabilities{})
}

func (g *malgoGraph) Start(tap Tap) error {
	g.tap.Store(&tap)
	return g.Resume()
}

func (g *malgoGraph) Pause() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.running {
		return nil
	}
	g.running = false
	g.halted.Store(true)
	return g.device.Stop()
}

func (g *malgoGraph) Resume() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return nil
	}
	g.halted.Store(false)
	if err := g.device.Start(); err != nil {
		g.halted.Store(true)
		return fmt.Errorf("start capture device: %w", err)
	}
	g.running = true
	return nil
}

func (g *malgoGraph) Close() error {
	var err error
	g.closeOnce.Do(func() {
		g.tap.Store(nil)
		err = g.Pause()
		g.device.Uninit()
		g.log.Debug().Msg("Released capture device")
	})
	return err
}

func (g *malgoGraph) onData(_, in []byte, frameCount uint32) {
	tap := g.tap.Load()
	if tap == nil || tap.Frames == nil {
		return
	}

	n := int(frameCount) * g.format.Channels
	if len(in) < n*4 {
		n = len(in) / 4
	}
	if cap(g.scratch) < n {
		g.scratch = make([]float32, n)
	}
	buf := g.scratch[:n]
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(in[i*4:]))
	}

	g.process(buf)
	tap.Frames(buf)
}

func (g *malgoGraph) onStop() {
	if g.halted.Load() {
		return
	}
	g.failOnce.Do(func() {
		tap := g.tap.Load()
		if tap == nil || tap.Error == nil {
			return
		}
		g.log.Error().Msg("Capture device stopped unexpectedly")
		go tap.Error(&DeviceError{Op: "capture", Device: g.name, Err: ErrDeviceLost})
	})
}
