package corun

import (
	"context"
)

// coroutineContextKey is a unique type used as a key for storing
// Coroutine values in a context.
type coroutineContextKey struct{}

// withCoroutine creates a new context with the coroutine stored in
// it. Nested calls to Run find the enclosing Loop through it.
func withCoroutine(ctx context.Context, co *Coroutine) context.Context {
	return context.WithValue(ctx, coroutineContextKey{}, co)
}

// CoroutineFromContext retrieves the Coroutine whose body received
// ctx. Returns the coroutine and a boolean indicating whether one was
// found.
func CoroutineFromContext(ctx context.Context) (*Coroutine, bool) {
	val, ok := ctx.Value(coroutineContextKey{}).(*Coroutine)
	return val, ok
}

// MustCoroutineFromContext retrieves the Coroutine from a context,
// panicking if not found.
func MustCoroutineFromContext(ctx context.Context) *Coroutine {
	val, ok := ctx.Value(coroutineContextKey{}).(*Coroutine)
	if !ok {
		panic(usage("MustCoroutineFromContext", ErrNotInCoroutine))
	}
	return val
}

// LoopFromContext returns the Loop driving the coroutine stored in
// ctx.
func LoopFromContext(ctx context.Context) (*Loop, bool) {
	co, ok := CoroutineFromContext(ctx)
	if !ok {
		return nil, false
	}
	return co.loop, true
}

// running returns the coroutine currently executing on the loop found
// in ctx. It ignores the coroutine stored in ctx, which
// may be stale when a body captured its parent's context.
func running(ctx context.Context, op string) (*Coroutine, error) {
	l, ok := LoopFromContext(ctx)
	if !ok || l.current == nil {
		return nil, usage(op, ErrNotInCoroutine)
	}
	return l.current, nil
}
