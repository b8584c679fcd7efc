// Package dedupe coalesces concurrent requests of the same kind and rejects stale results.
package dedupe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Do after Close.
var ErrClosed = errors.New("dedupe: group closed")

// Group runs at most one call per kind at a time. Callers that arrive while a
// call is in flight join it and receive its result. A forced call aborts the
// in-flight one first; the aborted call's waiters receive context.Canceled.
type Group[T any] struct {
	mu     sync.Mutex
	calls  map[string]*call[T]
	closed bool
	onJoin func(kind string)
}

type call[T any] struct {
	done    chan struct{}
	val     T
	err     error
	cancel  context.CancelFunc
	aborted atomic.Bool
}

// NewGroup returns an empty group.
func NewGroup[T any](opts ...Option) *Group[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Group[T]{calls: make(map[string]*call[T]), onJoin: o.onJoin}
}

// Do runs fn for kind, or joins the call already running for kind. The call
// context keeps ctx values but not its cancellation; it ends when the call is
// aborted by a forced Do, Abort or Close. ctx only bounds how long this
// caller waits.
func (g *Group[T]) Do(ctx context.Context, kind string, force bool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return zero, ErrClosed
	}
	if c, ok := g.calls[kind]; ok {
		if !force {
			g.mu.Unlock()
			if g.onJoin != nil {
				g.onJoin(kind)
			}
			return wait(ctx, c)
		}
		c.abort()
	}

	cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &call[T]{done: make(chan struct{}), cancel: cancel}
	g.calls[kind] = c
	g.mu.Unlock()

	go g.run(cctx, kind, c, fn)
	return wait(ctx, c)
}

func (g *Group[T]) run(ctx context.Context, kind string, c *call[T], fn func(context.Context) (T, error)) {
	val, err := fn(ctx)
	if c.aborted.Load() {
		var zero T
		val, err = zero, context.Canceled
	}
	c.val, c.err = val, err
	c.cancel()

	g.mu.Lock()
	if g.calls[kind] == c {
		delete(g.calls, kind)
	}
	g.mu.Unlock()
	close(c.done)
}

func (c *call[T]) abort() {
	c.aborted.Store(true)
	c.cancel()
}

func wait[T any](ctx context.Context, c *call[T]) (T, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// InFlight reports whether a call for kind is running.
func (g *Group[T]) InFlight(kind string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.calls[kind]
	return ok
}

// Abort cancels the in-flight call for kind, if any.
func (g *Group[T]) Abort(kind string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.calls[kind]; ok {
		c.abort()
		delete(g.calls, kind)
	}
}

// Close aborts every in-flight call and rejects new ones.
func (g *Group[T]) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	for kind, c := range g.calls {
		c.abort()
		delete(g.calls, kind)
	}
}

// Generation hands out monotonic tickets. Only the latest ticket is current,
// so results produced under an older ticket can be discarded.
type Generation struct {
	n atomic.Uint64
}

// Next starts a new generation and returns its ticket.
func (g *Generation) Next() uint64 { return g.n.Add(1) }

// Current returns the latest ticket.
func (g *Generation) Current() uint64 { return g.n.Load() }

// IsCurrent reports whether ticket is still the latest.
func (g *Generation) IsCurrent(ticket uint64) bool { return g.n.Load() == ticket }
