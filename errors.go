package corun

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInCoroutine is returned by suspend points called outside a
	// running coroutine.
	ErrNotInCoroutine = errors.New("not running in a coroutine")

	// ErrNegativeCounter is returned when a WaitGroup counter would go
	// below zero.
	ErrNegativeCounter = errors.New("negative WaitGroup counter")

	// ErrDeadlock is returned by Run when live coroutines remain but
	// nothing can ever wake them.
	ErrDeadlock = errors.New("all coroutines are asleep")

	// ErrAlreadyOpen is returned when opening a resource twice.
	ErrAlreadyOpen = errors.New("already open")

	// ErrUnlocked is returned by Mutex.Unlock on an unlocked mutex.
	ErrUnlocked = errors.New("unlock of unlocked mutex")

	// ErrNoSources is returned by Select without sources.
	ErrNoSources = errors.New("select without sources")

	// ErrDisconnected is returned by operations on a closed resource,
	// and by suspend points whose descriptor was invalidated.
	ErrDisconnected = errors.New("corun: disconnected")

	// ErrTimeout is returned when a deadline passes before a resource
	// became ready.
	ErrTimeout = errors.New("corun: i/o timeout")
)

// UsageError reports a misuse of the runtime, such as a WaitGroup
// underflow or opening a server twice.
type UsageError struct {
	// Op is the operation that was misused.
	Op string

	// Err is one of the sentinel errors of this package.
	Err error
}

func usage(op string, err error) *UsageError {
	return &UsageError{Op: op, Err: err}
}

// Error implements the error interface.
func (e *UsageError) Error() string {
	return "corun: " + e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying sentinel.
func (e *UsageError) Unwrap() error {
	return e.Err
}

// IOError reports a transport level failure. Err usually holds a
// syscall.Errno.
type IOError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *IOError) Error() string {
	return "corun: " + e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *IOError) Unwrap() error {
	return e.Err
}

// PanicError carries a value recovered from a panicking coroutine
// together with the stack of the panic.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("corun: panic: %v\n\n%s", e.Value, e.Stack)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// IsUsage reports whether err is a UsageError.
// Uses errors.As to handle wrapped errors.
func IsUsage(err error) bool {
	var ue *UsageError
	return errors.As(err, &ue)
}

// IsDisconnected reports whether err was caused by a closed resource.
func IsDisconnected(err error) bool {
	return errors.Is(err, ErrDisconnected)
}
