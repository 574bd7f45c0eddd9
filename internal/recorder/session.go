package recorder

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/petems/recstream/internal/audio"
	"github.com/petems/recstream/internal/convert"
	"github.com/rs/zerolog"
)

// session is one Start..Stop lifetime. Until the controller leaves Starting
// only the starting goroutine touches graph and conv.
type session struct {
	id  string
	cfg Config
	log zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	graph    audio.Graph
	conv     *convert.Converter
	warnings []string

	// active gates the capture callback.
	active atomic.Bool
	seq    atomic.Uint64

	// failure is a fatal graph error raised while still Starting. Guarded
	// by Controller.mu.
	failure error

	released    chan struct{}
	releaseOnce sync.Once
}

func newSession(cfg Config, log zerolog.Logger) *session {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		id:       id,
		cfg:      cfg,
		log:      log.With().Str("session", id).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		released: make(chan struct{}),
	}
}

// canceled reports whether the session or the start call was canceled.
func (s *session) canceled(ctx context.Context) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

// release closes the graph and resolves the released future. Safe to call
// more than once.
func (s *session) release() {
	s.releaseOnce.Do(func() {
		s.active.Store(false)
		if s.graph != nil {
			if err := s.graph.Close(); err != nil {
				s.log.Warn().Err(err).Msg("Failed to close capture graph")
			}
		}
		close(s.released)
	})
}
