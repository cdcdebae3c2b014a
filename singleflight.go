package corun

import "context"

// flightCall represents an in-flight function call that may be
// shared among multiple callers. It tracks the result of the call and
// the number of duplicated requests.
type flightCall struct {
	wg   WaitGroup // Wait group for callers waiting on this call
	val  any       // The result value of the call
	err  error     // Any error from the call
	dups int       // Number of duplicate calls
}

// Flight deduplicates concurrent calls with the same key, so that
// only one execution happens while it is in flight. The zero value is
// ready to use.
type Flight struct {
	m map[any]*flightCall // Map of in-flight calls by key
}

// Do executes fn for key, deduplicating concurrent calls. It returns
// the result, any error, and whether the result was shared with other
// callers.
func (g *Flight) Do(ctx context.Context, key any, fn func(context.Context) (any, error)) (v any, err error, shared bool) {
	if g.m == nil {
		g.m = make(map[any]*flightCall)
	}

	if c, ok := g.m[key]; ok {
		c.dups++
		if err := c.wg.Await(ctx); err != nil {
			return nil, err, true
		}
		return c.val, c.err, true
	}

	c := new(flightCall)
	_ = c.wg.Add(1)
	g.m[key] = c

	g.doCall(ctx, c, key, fn)
	return c.val, c.err, c.dups > 0
}

// doCall executes fn and stores the result in c. It also cleans up
// the map entry when the call is complete.
func (g *Flight) doCall(ctx context.Context, c *flightCall, key any, fn func(context.Context) (any, error)) {
	defer func() {
		_ = c.wg.Done()
		if g.m[key] == c {
			delete(g.m, key)
		}
	}()

	c.val, c.err = fn(ctx)
}
