// Package recorder owns the capture lifecycle: it binds to the platform
// audio system, acquires a device, converts native buffers and reports
// progress through a stream.Sink.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/petems/recstream/internal/audio"
	"github.com/petems/recstream/internal/convert"
	"github.com/petems/recstream/internal/meter"
	"github.com/petems/recstream/internal/stream"
	"github.com/rs/zerolog"
)

type Options struct {
	// ID tags every chunk and event. Generated when empty.
	ID      string
	Backend audio.Backend
	Logger  zerolog.Logger
	// Sink receives audio and state. A private sink is created when nil.
	Sink            *stream.Sink
	Permission      audio.PermissionFunc
	FramesPerBuffer int
	Quality         convert.Quality
}

// Stats counts native buffers seen by the capture callback.
type Stats struct {
	Converted uint64
	Failed    uint64
	Stream    stream.Stats
}

type Controller struct {
	id              string
	backend         audio.Backend
	log             zerolog.Logger
	sink            *stream.Sink
	ownSink         bool
	perm            audio.PermissionFunc
	framesPerBuffer int
	quality         convert.Quality
	meter           *meter.Meter

	bindOnce sync.Once

	mu       sync.Mutex
	binding  *Binding
	state    State
	session  *session
	retiring *session
	// settled is closed when the current transitional state ends.
	settled chan struct{}
	closed  bool

	converted atomic.Uint64
	failed    atomic.Uint64
}

func New(opts Options) *Controller {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	log := opts.Logger.With().Str("component", "recorder").Str("recorder", id).Logger()

	sink := opts.Sink
	ownSink := false
	if sink == nil {
		sink = stream.New(opts.Logger)
		ownSink = true
	}

	return &Controller{
		id:              id,
		backend:         opts.Backend,
		log:             log,
		sink:            sink,
		ownSink:         ownSink,
		perm:            opts.Permission,
		framesPerBuffer: opts.FramesPerBuffer,
		quality:         opts.Quality,
		meter:           meter.New(),
	}
}

func (c *Controller) ID() string {
	return c.id
}

// Bind starts the one-time backend binding in the background. Calling it
// again returns the same binding.
func (c *Controller) Bind() *Binding {
	c.bindOnce.Do(func() {
		b := &Binding{done: make(chan struct{})}
		c.mu.Lock()
		c.binding = b
		c.mu.Unlock()
		go func() {
			defer close(b.done)
			if err := c.backend.Init(); err != nil {
				b.err = fmt.Errorf("failed to bind %s backend: %w", c.backend.Name(), err)
				c.log.Error().Err(b.err).Msg("Audio binding failed")
				return
			}
			c.log.Debug().Str("backend", c.backend.Name()).Msg("Audio backend bound")
		}()
	})
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.binding
}

// Start acquires the configured device and begins streaming. It returns
// once the graph is running, or with the reason it is not.
func (c *Controller) Start(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return &StartError{Stage: "format", Err: err}
	}
	if err := c.Bind().Wait(ctx); err != nil {
		return &StartError{Stage: "bind", Err: err}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != Idle {
		c.mu.Unlock()
		return ErrAlreadyRecording
	}
	s := newSession(cfg, c.log)
	prev := c.retiring
	c.session = s
	c.enterLocked(Starting)
	c.mu.Unlock()

	s.log.Info().
		Uint32("sample_rate", cfg.SampleRate).
		Uint32("channels", cfg.Channels).
		Str("device", cfg.DeviceID).
		Msg("Starting capture")

	err := c.startSession(ctx, s, prev)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case s.ctx.Err() != nil:
		err = ErrCanceled
	case err == nil && s.failure != nil:
		err = s.failure
	}

	if err != nil {
		s.release()
		if c.session == s {
			c.session = nil
			c.retiring = s
			c.settleLocked(Idle)
		}
		if errors.Is(err, ErrCanceled) {
			s.log.Info().Msg("Capture start canceled")
		} else {
			s.log.Error().Err(err).Msg("Failed to start capture")
		}
		return err
	}

	s.active.Store(true)
	c.settleLocked(Recording)
	c.publishLocked(s, stream.StateEvent{Status: stream.StatusRecording, Warnings: s.warnings})
	s.log.Info().Msg("Capture started")
	return nil
}

func (c *Controller) startSession(ctx context.Context, s *session, prev *session) error {
	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	// The previous graph must be gone before the device is opened again.
	if prev != nil {
		select {
		case <-prev.released:
		case <-actx.Done():
			return &StartError{Stage: "device", Err: actx.Err()}
		}
	}

	g, err := audio.Acquire(actx, c.backend, s.cfg.DeviceID, audio.OpenOptions{
		FramesPerBuffer: c.framesPerBuffer,
		Legacy:          s.cfg.UseLegacyPath,
	}, c.perm)
	if err != nil {
		return &StartError{Stage: "device", Err: err}
	}
	s.graph = g
	// Canceled while the device was opening: Start releases it.
	if err := s.canceled(actx); err != nil {
		return &StartError{Stage: "device", Err: err}
	}

	for _, w := range audio.ConfigureEffects(g, s.cfg.effects()) {
		s.log.Warn().Str("effect", w.Effect).Msg(w.Reason)
		s.warnings = append(s.warnings, w.Error())
	}

	native := g.Format()
	conv, err := convert.New(native, s.cfg.Destination(), c.quality)
	if err != nil {
		return &StartError{Stage: "converter", Err: err}
	}
	s.conv = conv
	s.log.Debug().
		Float64("native_rate", native.SampleRate).
		Int("native_channels", native.Channels).
		Msg("Converter ready")

	c.meter.Reset()

	if err := s.canceled(actx); err != nil {
		return &StartError{Stage: "graph", Err: err}
	}
	err = g.Start(audio.Tap{
		Frames: func(buf []float32) { c.process(s, buf) },
		Error:  func(err error) { c.abort(s, err) },
	})
	if err != nil {
		return &StartError{Stage: "graph", Err: err}
	}
	return nil
}

// process runs on the capture thread for every native buffer.
func (c *Controller) process(s *session, buf []float32) {
	if !s.active.Load() {
		return
	}

	pcm, err := s.conv.Convert(buf)
	if err != nil {
		c.failed.Add(1)
		s.log.Debug().Err(err).Msg("Dropped native buffer")
		c.sink.PublishDiagnostic(err)
		return
	}
	c.converted.Add(1)

	c.meter.ObservePCM(pcm)
	c.sink.PushAudio(stream.Chunk{
		RecorderID: c.id,
		SessionID:  s.id,
		Seq:        s.seq.Add(1),
		Data:       pcm,
	})
}

// abort handles an involuntary graph stop.
func (c *Controller) abort(s *session, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != s || s.ctx.Err() != nil || c.state == Stopping {
		s.log.Debug().Err(err).Msg("Ignoring error from retired session")
		return
	}
	if c.state == Starting {
		if s.failure == nil {
			s.failure = &StartError{Stage: "graph", Err: err}
		}
		return
	}
	c.abortLocked(s, err)
}

func (c *Controller) abortLocked(s *session, err error) {
	s.log.Error().Err(err).Msg("Capture failed")
	s.cancel()
	s.release()
	c.session = nil
	c.retiring = s
	c.settleLocked(Idle)
	c.publishLocked(s, stream.StateEvent{Status: stream.StatusError, Message: err.Error()})
}

// Stop ends the session, delivers audio already handed to the sink and
// reports Stopped. It is a no-op when idle.
func (c *Controller) Stop(ctx context.Context) error {
	s, err := c.claim(ctx, Stopping)
	if err != nil || s == nil {
		if errors.Is(err, ErrNotRecording) {
			return nil
		}
		return err
	}

	s.log.Info().Msg("Stopping capture")
	s.release()

	if err := c.sink.Flush(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Pending audio was not delivered")
	}

	c.mu.Lock()
	if c.session == s {
		c.session = nil
		c.retiring = s
		c.settleLocked(Idle)
		c.publishLocked(s, stream.StateEvent{Status: stream.StatusStopped})
	}
	c.mu.Unlock()

	s.log.Info().Uint64("chunks", s.seq.Load()).Msg("Capture stopped")
	return nil
}

// claim waits out transitional states, then moves an active session to
// next and cancels it, so late device errors for it are ignored. It
// returns ErrNotRecording when idle.
func (c *Controller) claim(ctx context.Context, next State) (*session, error) {
	if err := c.lockWhen(ctx, State.transitional); err != nil {
		return nil, err
	}
	defer c.mu.Unlock()

	if c.state == Idle {
		return nil, ErrNotRecording
	}
	s := c.session
	s.active.Store(false)
	s.cancel()
	c.enterLocked(next)
	return s, nil
}

// lockWhen acquires mu once busy no longer holds for the current state.
func (c *Controller) lockWhen(ctx context.Context, busy func(State) bool) error {
	for {
		c.mu.Lock()
		if !busy(c.state) {
			return nil
		}
		settled := c.settled
		c.mu.Unlock()
		if err := wait(ctx, settled); err != nil {
			return err
		}
	}
}

func (c *Controller) Pause(ctx context.Context) error {
	return c.toggle(ctx, Paused)
}

func (c *Controller) Resume(ctx context.Context) error {
	return c.toggle(ctx, Recording)
}

// toggle moves a live session between Recording and Paused. A graph that
// fails to pause or resume ends the session.
func (c *Controller) toggle(ctx context.Context, target State) error {
	if err := c.lockWhen(ctx, State.transitional); err != nil {
		return err
	}
	defer c.mu.Unlock()

	switch c.state {
	case Idle:
		return ErrNotRecording
	case target:
		return nil
	}

	s := c.session
	if target == Paused {
		s.active.Store(false)
		if err := s.graph.Pause(); err != nil {
			err = fmt.Errorf("failed to pause capture: %w", err)
			c.abortLocked(s, err)
			return err
		}
		c.state = Paused
		c.publishLocked(s, stream.StateEvent{Status: stream.StatusPaused})
		s.log.Info().Msg("Capture paused")
		return nil
	}

	if err := s.graph.Resume(); err != nil {
		err = fmt.Errorf("failed to resume capture: %w", err)
		c.abortLocked(s, err)
		return err
	}
	s.active.Store(true)
	c.state = Recording
	c.publishLocked(s, stream.StateEvent{Status: stream.StatusRecording, Warnings: s.warnings})
	s.log.Info().Msg("Capture resumed")
	return nil
}

// Cancel abandons the session, dropping audio not yet delivered. During
// Starting the pending Start returns ErrCanceled. No-op when idle.
func (c *Controller) Cancel(ctx context.Context) error {
	return c.abandon(ctx, stream.StateEvent{Status: stream.StatusStopped, Canceled: true})
}

// Decline is the cancel path taken when the user refuses the capture. It
// always reports Declined, even when nothing was running.
func (c *Controller) Decline(ctx context.Context) error {
	return c.abandon(ctx, stream.StateEvent{Status: stream.StatusDeclined})
}

func (c *Controller) abandon(ctx context.Context, ev stream.StateEvent) error {
	stopping := func(st State) bool { return st == Stopping }
	if err := c.lockWhen(ctx, stopping); err != nil {
		return err
	}
	defer c.mu.Unlock()

	s := c.session
	switch c.state {
	case Idle:
		if ev.Status == stream.StatusDeclined {
			c.publishLocked(nil, ev)
		}
		return nil
	case Starting:
		// The starting goroutine owns the graph and releases it.
		s.cancel()
	default:
		s.cancel()
		s.release()
		c.sink.Discard()
	}

	c.session = nil
	c.retiring = s
	c.settleLocked(Idle)
	c.publishLocked(s, ev)
	s.log.Info().Stringer("status", ev.Status).Msg("Capture abandoned")
	return nil
}

// enterLocked moves to a transitional state.
func (c *Controller) enterLocked(st State) {
	c.state = st
	c.settled = make(chan struct{})
}

// settleLocked leaves a transitional state and wakes its waiters.
func (c *Controller) settleLocked(st State) {
	c.state = st
	if c.settled != nil {
		close(c.settled)
		c.settled = nil
	}
}

func (c *Controller) publishLocked(s *session, ev stream.StateEvent) {
	ev.RecorderID = c.id
	if s != nil {
		ev.SessionID = s.id
	}
	c.sink.PublishState(ev)
}

func (c *Controller) Amplitude() meter.Amplitude {
	return c.meter.Amplitude()
}

func (c *Controller) ResetAmplitude() {
	c.meter.Reset()
}

// IsRecording reports whether a session is live. A paused session counts.
func (c *Controller) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Recording || c.state == Paused
}

func (c *Controller) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Paused
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Stats() Stats {
	return Stats{
		Converted: c.converted.Load(),
		Failed:    c.failed.Load(),
		Stream:    c.sink.Stats(),
	}
}

// Devices lists the backend's inputs once the binding has resolved.
func (c *Controller) Devices(ctx context.Context) ([]audio.Device, error) {
	if err := c.Bind().Wait(ctx); err != nil {
		return nil, err
	}
	return audio.ListDevices(c.backend)
}

// Close stops any session and releases the backend. The controller cannot
// be started again.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.Stop(context.Background()); err != nil {
		c.log.Warn().Err(err).Msg("Stop during close failed")
	}

	c.mu.Lock()
	retiring, binding := c.retiring, c.binding
	c.mu.Unlock()
	if retiring != nil {
		<-retiring.released
	}

	var err error
	if binding != nil && binding.Wait(context.Background()) == nil {
		err = c.backend.Close()
	}
	if c.ownSink {
		c.sink.Close()
	}
	return err
}

func wait(ctx context.Context, ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
