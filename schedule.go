package corun

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

var logger atomic.Pointer[slog.Logger]

// SetLogger sets the logger used by loops created afterwards. A nil
// logger restores slog.Default.
func SetLogger(l *slog.Logger) {
	logger.Store(l)
}

type options struct {
	poller Poller
	logger *slog.Logger
}

// Option configures a Loop created by Run. Options passed to a nested
// Run are ignored, since it shares the enclosing Loop.
type Option func(*options)

// WithPoller sets the readiness mechanism of the loop.
func WithPoller(p Poller) Option {
	return func(o *options) { o.poller = p }
}

// WithLogger sets the logger of the loop.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Run executes fn as the root coroutine of a new scope and returns
// its result once the scope has drained, that is once fn and every
// coroutine started with Go inside the scope have finished.
//
// When ctx belongs to a coroutine of a running Loop the scope is
// created on that Loop and the calling coroutine is suspended until
// the scope drains, so its siblings keep running. Otherwise a new Loop
// is created and driven on the calling goroutine.
//
// The error is fn's failure, or the failure of a coroutine of the
// scope that nobody awaited, even when fn returned normally. Several
// failures are joined in the order they happened.
func Run[T any](ctx context.Context, fn func(context.Context) (T, error), opts ...Option) (T, error) {
	var out T
	body := func(ctx context.Context) (any, error) {
		v, err := fn(ctx)
		out = v
		return v, err
	}

	var s *scope
	if l, ok := LoopFromContext(ctx); ok && l.current != nil {
		var err error
		if s, err = l.nest(ctx, body); err != nil {
			return out, err
		}
	} else {
		o := options{poller: NewPoller(), logger: logger.Load()}
		for _, opt := range opts {
			opt(&o)
		}
		if o.logger == nil {
			o.logger = slog.Default()
		}
		s = newLoop(&o).main(ctx, body)
	}

	if err := s.err(); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Go starts fn in a new coroutine of the current scope. fn runs right
// away until it first suspends or returns; Go then returns without
// waiting for it to complete. A failure of fn that is never awaited is
// returned by the enclosing Run.
//
// Go panics with a UsageError when called outside a coroutine.
func Go(ctx context.Context, fn func(context.Context) error) *Coroutine {
	l := MustCoroutineFromContext(ctx).loop
	cur := l.current
	if cur == nil {
		panic(usage("Go", ErrNotInCoroutine))
	}
	co := l.spawn(ctx, cur.scope, cur, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	l.start(co, cur)
	return co
}

// Sleep suspends the running coroutine for at least d.
func Sleep(ctx context.Context, d time.Duration) error {
	co, err := running(ctx, "Sleep")
	if err != nil {
		return err
	}
	return co.loop.sleep(co, d)
}

// Yield moves the running coroutine to the back of the run queue.
func Yield(ctx context.Context) error {
	co, err := running(ctx, "Yield")
	if err != nil {
		return err
	}
	co.loop.yield(co)
	return nil
}

// Readable suspends the running coroutine until fd is readable, in an
// error state, or hung up. It returns ErrDisconnected when fd is
// invalidated meanwhile.
func Readable(ctx context.Context, fd int) error {
	co, err := running(ctx, "Readable")
	if err != nil {
		return err
	}
	return co.loop.await(co, fd, Read)
}

// Writable is like Readable for the write direction.
func Writable(ctx context.Context, fd int) error {
	co, err := running(ctx, "Writable")
	if err != nil {
		return err
	}
	return co.loop.await(co, fd, Write)
}

// Invalidate wakes the coroutines waiting on fd in the loop found in
// ctx with ErrDisconnected. It does nothing outside a coroutine.
func Invalidate(ctx context.Context, fd int) {
	if l, ok := LoopFromContext(ctx); ok {
		l.Invalidate(fd)
	}
}
