package corun

import (
	"context"

	"github.com/gammazero/deque"
	"golang.org/x/sys/unix"
)

// Selectable is implemented by anything that can be waited on with
// Select. SelectWillBlock reports whether consuming the source would
// currently suspend; a closed or failed source must report false.
// Whenever the source may have stopped blocking it must call Notify
// on its SelectManager.
type Selectable interface {
	SelectWillBlock() bool
	SelectManager() *SelectManager
}

// SelectManager keeps the coroutines waiting on a Selectable, in
// registration order. The zero value is ready to use. A Selectable
// exclusively owns its SelectManager.
//
// A registration is dropped as soon as its coroutine wakes up for any
// reason, so a Notify never resumes a coroutine that stopped waiting
// or finished.
type SelectManager struct {
	noCopy  noCopy
	waiters deque.Deque[*Coroutine]
}

// Notify wakes every waiting coroutine, first registered first.
func (m *SelectManager) Notify() {
	m.notify(nil)
}

// Len returns the number of waiting coroutines.
func (m *SelectManager) Len() int {
	return m.waiters.Len()
}

func (m *SelectManager) notify(err error) {
	for m.waiters.Len() > 0 {
		co := m.waiters.PopFront()
		co.loop.ready(co, err)
	}
}

func (m *SelectManager) add(co *Coroutine) {
	m.waiters.PushBack(co)
	co.waits = append(co.waits, m)
}

func (m *SelectManager) remove(co *Coroutine) {
	if i := m.waiters.Index(func(w *Coroutine) bool { return w == co }); i >= 0 {
		m.waiters.Remove(i)
	}
}

// Select suspends the running coroutine until at least one source
// stops blocking. It returns every source that does not block at
// wake-up time, in argument order. When some source is ready already
// Select returns without suspending.
func Select(ctx context.Context, sources ...Selectable) ([]Selectable, error) {
	if len(sources) == 0 {
		return nil, usage("Select", ErrNoSources)
	}

	if ready := readySources(sources); len(ready) > 0 {
		return ready, nil
	}

	co, err := running(ctx, "Select")
	if err != nil {
		return nil, err
	}

	for {
		for _, src := range sources {
			src.SelectManager().add(co)
		}
		if err := co.park(Reason{Kind: ReasonSelectable, Sources: sources}); err != nil {
			return nil, err
		}
		// Another coroutine may have consumed the readiness first.
		if ready := readySources(sources); len(ready) > 0 {
			return ready, nil
		}
	}
}

func readySources(sources []Selectable) []Selectable {
	var ready []Selectable
	for _, src := range sources {
		if !src.SelectWillBlock() {
			ready = append(ready, src)
		}
	}
	return ready
}

// Signal is a level-triggered event. Set wakes every coroutine
// selecting on it; it stays set until Reset.
type Signal struct {
	set bool
	m   SelectManager
}

// Set marks the signal and wakes its waiters.
func (s *Signal) Set() {
	s.set = true
	s.m.Notify()
}

// Reset clears the signal.
func (s *Signal) Reset() {
	s.set = false
}

// IsSet reports whether the signal is set.
func (s *Signal) IsSet() bool {
	return s.set
}

// Await suspends until the signal is set.
func (s *Signal) Await(ctx context.Context) error {
	_, err := Select(ctx, s)
	return err
}

// SelectWillBlock implements Selectable.
func (s *Signal) SelectWillBlock() bool {
	return !s.set
}

// SelectManager implements Selectable.
func (s *Signal) SelectManager() *SelectManager {
	return &s.m
}

// fdSource is a descriptor direction seen as a Selectable. Its
// manager is the loop's readiness entry for (fd, dir).
type fdSource struct {
	loop *Loop
	fd   int
	dir  Direction
}

// FD returns the Selectable for a descriptor direction on the loop
// found in ctx.
func FD(ctx context.Context, fd int, dir Direction) (Selectable, error) {
	l, ok := LoopFromContext(ctx)
	if !ok {
		return nil, usage("FD", ErrNotInCoroutine)
	}
	return l.FD(fd, dir), nil
}

func (s fdSource) SelectWillBlock() bool {
	pfd := []unix.PollFd{{Fd: int32(s.fd), Events: s.dir.events()}}
	n, err := unix.Poll(pfd, 0)
	if err != nil {
		return err == unix.EINTR
	}
	return n == 0
}

func (s fdSource) SelectManager() *SelectManager {
	return s.loop.manager(s.fd, s.dir)
}
