package corun

import "context"

// Semaphore is a counting semaphore for coroutines. It manages a
// count of available permits and the coroutines waiting for one.
type Semaphore struct {
	noCopy noCopy        // Prevents copying of the semaphore
	v      int           // Available permits
	m      SelectManager // Waiting coroutines
}

// NewSemaphore returns a semaphore holding n permits.
func NewSemaphore(n int) *Semaphore {
	return &Semaphore{v: n}
}

// Acquire takes a permit, suspending the running coroutine until one
// is available.
func (s *Semaphore) Acquire(ctx context.Context) error {
	if s.v > 0 {
		s.v--
		return nil
	}

	co, err := running(ctx, "Semaphore.Acquire")
	if err != nil {
		return err
	}

	for s.v == 0 {
		if err := co.waitOn(s); err != nil {
			return err
		}
	}
	s.v--
	return nil
}

// TryAcquire takes a permit if one is available without suspending.
func (s *Semaphore) TryAcquire() bool {
	if s.v == 0 {
		return false
	}
	s.v--
	return true
}

// Release returns a permit and wakes the waiting coroutines; the
// first of them to run takes it.
func (s *Semaphore) Release() {
	s.v++
	s.m.Notify()
}

// Available returns the number of free permits.
func (s *Semaphore) Available() int {
	return s.v
}

// SelectWillBlock implements Selectable.
func (s *Semaphore) SelectWillBlock() bool {
	return s.v == 0
}

// SelectManager implements Selectable.
func (s *Semaphore) SelectManager() *SelectManager {
	return &s.m
}
