package corun

import "context"

// Group manages a group of coroutines and collects the first error
// that occurs. Errors returned inside a Group are observed by it and
// are not returned again by the enclosing Run.
type Group struct {
	ctx    context.Context // Context shared by all coroutines in the group
	cancel func(error)     // Function to cancel the context with an error
	wg     WaitGroup       // WaitGroup to track when all coroutines are done
	err    error           // The first error encountered by any coroutine
}

// WithGroup returns a new Group and a context derived from ctx that
// is canceled the first time a function of the group fails or Wait
// returns.
func WithGroup(ctx context.Context) (*Group, context.Context) {
	ctx, cancel := context.WithCancelCause(ctx)
	return &Group{ctx: ctx, cancel: cancel}, ctx
}

// Go starts f in a new coroutine with the group's context. If f
// returns an error, the group's context is canceled.
func (g *Group) Go(f func(context.Context) error) {
	g.GoWithContext(g.ctx, f)
}

// GoWithContext starts f in a new coroutine with the specified
// context, which must belong to a coroutine of the same loop.
func (g *Group) GoWithContext(ctx context.Context, f func(context.Context) error) {
	_ = g.wg.Add(1)
	Go(ctx, func(ctx context.Context) error {
		defer func() { _ = g.wg.Done() }()
		if err := f(ctx); err != nil && g.err == nil {
			g.err = err
			if g.cancel != nil {
				g.cancel(g.err)
			}
		}
		return nil
	})
}

// Wait suspends until all coroutines in the group have completed. It
// returns the first error encountered by any of them, or nil.
func (g *Group) Wait(ctx context.Context) error {
	if err := g.wg.Await(ctx); err != nil {
		return err
	}
	if g.cancel != nil {
		g.cancel(g.err)
	}
	return g.err
}
