package corun

import "context"

// WaitGroup is used to wait for a collection of coroutines to finish.
// Coroutines call Add(1) when they start and Done() when they finish.
// Other coroutines can call Await() to suspend until all of them have
// finished. A WaitGroup is Selectable: it stops blocking when the
// counter is zero.
type WaitGroup struct {
	noCopy noCopy        // Prevents copying of the WaitGroup
	n      int           // Counter for the number of coroutines
	gen    uint64        // Bumped each time the counter drops to zero
	m      SelectManager // Coroutines awaiting zero
}

// Add adds delta to the WaitGroup counter. If the counter becomes
// zero, every awaiting coroutine is resumed. If the counter would go
// negative, Add leaves it unchanged and returns a UsageError wrapping
// ErrNegativeCounter.
func (wg *WaitGroup) Add(delta int) error {
	return wg.add("WaitGroup.Add", delta)
}

// Done decrements the WaitGroup counter by one.
func (wg *WaitGroup) Done() error {
	return wg.add("WaitGroup.Done", -1)
}

func (wg *WaitGroup) add(op string, delta int) error {
	if wg.n+delta < 0 {
		return usage(op, ErrNegativeCounter)
	}

	wg.n += delta

	if wg.n == 0 && delta != 0 {
		wg.gen++
		wg.m.Notify()
	}
	return nil
}

// Count returns the current counter.
func (wg *WaitGroup) Count() int {
	return wg.n
}

// Await suspends the running coroutine until the counter is zero. If
// the counter is already zero, it returns immediately. All awaiting
// coroutines are released together, even if the counter is raised
// again before they get to run.
func (wg *WaitGroup) Await(ctx context.Context) error {
	if wg.n == 0 {
		return nil
	}

	co, err := running(ctx, "WaitGroup.Await")
	if err != nil {
		return err
	}

	for gen := wg.gen; wg.n > 0 && wg.gen == gen; {
		if err := co.waitOn(wg); err != nil {
			return err
		}
	}
	return nil
}

// SelectWillBlock implements Selectable.
func (wg *WaitGroup) SelectWillBlock() bool {
	return wg.n > 0
}

// SelectManager implements Selectable.
func (wg *WaitGroup) SelectManager() *SelectManager {
	return &wg.m
}
