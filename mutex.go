package corun

import "context"

// Mutex provides mutual exclusion for coroutines. It allows only one
// coroutine to hold the lock at a time, suspending other coroutines
// that attempt to acquire the lock until it's released.
type Mutex struct {
	noCopy noCopy        // Prevents copying of the mutex
	r      *Coroutine    // Coroutine that holds the lock
	locked bool          // Whether the lock is held
	m      SelectManager // Waiting coroutines
}

// Lock acquires the mutex for the running coroutine. If the mutex is
// already locked, the coroutine is suspended until it is available.
func (mu *Mutex) Lock(ctx context.Context) error {
	co, err := running(ctx, "Mutex.Lock")
	if err != nil {
		return err
	}

	for mu.locked {
		if err := co.waitOn(mu); err != nil {
			return err
		}
	}

	mu.locked = true
	mu.r = co
	return nil
}

// Unlock releases the mutex. If there are coroutines waiting to
// acquire it, they are resumed and the first to run takes it.
func (mu *Mutex) Unlock() error {
	if !mu.locked {
		return usage("Mutex.Unlock", ErrUnlocked)
	}
	mu.locked = false
	mu.r = nil
	mu.m.Notify()
	return nil
}

// Holder returns the coroutine holding the lock, or nil.
func (mu *Mutex) Holder() *Coroutine {
	return mu.r
}

// WaitCount returns the number of coroutines waiting to acquire the
// mutex.
func (mu *Mutex) WaitCount() int {
	return mu.m.Len()
}

// SelectWillBlock implements Selectable.
func (mu *Mutex) SelectWillBlock() bool {
	return mu.locked
}

// SelectManager implements Selectable.
func (mu *Mutex) SelectManager() *SelectManager {
	return &mu.m
}
