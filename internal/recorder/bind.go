package recorder

import "context"

// Binding is the one-time attachment to the platform audio system. It
// resolves once; Start waits for it.
type Binding struct {
	done chan struct{}
	err  error
}

func (b *Binding) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return b.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
