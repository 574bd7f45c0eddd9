package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const (
	stateQueueSize      = 64
	diagnosticQueueSize = 8
)

type listener[T any] struct {
	fn func(T)
}

// attach installs fn and returns a cancel func that detaches it, unless a
// newer listener has replaced it in the meantime.
func attach[T any](slot *atomic.Pointer[listener[T]], fn func(T)) func() {
	l := &listener[T]{fn: fn}
	slot.Store(l)
	return func() {
		slot.CompareAndSwap(l, nil)
	}
}

type audioItem struct {
	chunk   Chunk
	flushed chan struct{}
}

// Sink hands audio from the capture goroutine to the consumer through a
// single slot: when the consumer falls behind, new chunks are dropped rather
// than queued. State events are queued and delivered in order.
type Sink struct {
	log zerolog.Logger

	audio  chan audioItem
	states chan StateEvent
	diags  chan error

	audioListener atomic.Pointer[listener[Chunk]]
	stateListener atomic.Pointer[listener[StateEvent]]
	diagListener  atomic.Pointer[listener[error]]

	delivered atomic.Uint64
	dropped   atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func New(log zerolog.Logger) *Sink {
	s := &Sink{
		log:    log.With().Str("component", "stream").Logger(),
		audio:  make(chan audioItem, 1),
		states: make(chan StateEvent, stateQueueSize),
		diags:  make(chan error, diagnosticQueueSize),
		done:   make(chan struct{}),
	}

	s.wg.Add(3)
	go s.deliverAudio()
	go s.deliverStates()
	go s.deliverDiagnostics()
	return s
}

// ListenAudio attaches the audio consumer, replacing any previous one.
func (s *Sink) ListenAudio(fn func(Chunk)) (cancel func()) {
	return attach(&s.audioListener, fn)
}

// ListenState attaches the state consumer, replacing any previous one.
func (s *Sink) ListenState(fn func(StateEvent)) (cancel func()) {
	return attach(&s.stateListener, fn)
}

// ListenDiagnostics attaches a consumer for per-buffer conversion failures.
func (s *Sink) ListenDiagnostics(fn func(error)) (cancel func()) {
	return attach(&s.diagListener, fn)
}

// PushAudio offers c to the consumer without blocking. It reports whether
// the chunk was accepted.
func (s *Sink) PushAudio(c Chunk) bool {
	if s.audioListener.Load() == nil {
		s.dropped.Add(1)
		return false
	}

	select {
	case <-s.done:
		s.dropped.Add(1)
		return false
	default:
	}

	select {
	case s.audio <- audioItem{chunk: c}:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// PublishState queues ev for ordered delivery. It only blocks when the
// queue is full, and returns immediately once the sink is closed.
func (s *Sink) PublishState(ev StateEvent) {
	select {
	case s.states <- ev:
	case <-s.done:
	}
}

// PublishDiagnostic forwards err to the diagnostics consumer, if any. It
// never blocks.
func (s *Sink) PublishDiagnostic(err error) {
	if s.diagListener.Load() == nil {
		return
	}
	select {
	case s.diags <- err:
	default:
	}
}

// Flush waits until every chunk accepted before the call has been handed to
// the consumer.
func (s *Sink) Flush(ctx context.Context) error {
	marker := make(chan struct{})
	select {
	case s.audio <- audioItem{flushed: marker}:
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-marker:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Discard drops a chunk still waiting in the slot. A chunk already being
// handed to the consumer is not recalled.
func (s *Sink) Discard() {
	select {
	case item := <-s.audio:
		if item.flushed != nil {
			close(item.flushed)
			return
		}
		s.dropped.Add(1)
	default:
	}
}

func (s *Sink) Stats() Stats {
	return Stats{
		Delivered: s.delivered.Load(),
		Dropped:   s.dropped.Load(),
	}
}

// Close stops the delivery goroutines. Queued state events that were not yet
// delivered are lost.
func (s *Sink) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

func (s *Sink) deliverAudio() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case item := <-s.audio:
			if item.flushed != nil {
				close(item.flushed)
				continue
			}
			l := s.audioListener.Load()
			if l == nil {
				s.dropped.Add(1)
				continue
			}
			l.fn(item.chunk)
			s.delivered.Add(1)
		}
	}
}

func (s *Sink) deliverStates() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.states:
			l := s.stateListener.Load()
			if l == nil {
				s.log.Debug().Stringer("status", ev.Status).Msg("No state listener, event dropped")
				continue
			}
			l.fn(ev)
		}
	}
}

func (s *Sink) deliverDiagnostics() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case err := <-s.diags:
			if l := s.diagListener.Load(); l != nil {
				l.fn(err)
			}
		}
	}
}
