package corun

import (
	"math"
	"time"

	"golang.org/x/sys/unix"
)

// Direction selects which readiness of a descriptor is awaited.
type Direction int8

const (
	Read Direction = iota
	Write
)

func (d Direction) String() string {
	if d == Write {
		return "write"
	}
	return "read"
}

func (d Direction) events() int16 {
	if d == Write {
		return unix.POLLOUT
	}
	return unix.POLLIN
}

// PollFD is one entry of a poll request. The Poller sets Ready when
// the descriptor is ready for Dir, or in an error or hang-up state.
type PollFD struct {
	FD    int
	Dir   Direction
	Ready bool
}

// Poller is the readiness mechanism behind a Loop. Poll blocks until
// at least one descriptor is ready or the timeout elapses; a negative
// timeout blocks indefinitely. An interrupted wait may return
// unix.EINTR, which the loop retries.
type Poller interface {
	Poll(fds []PollFD, timeout time.Duration) error
}

// unixPoller implements Poller with poll(2).
type unixPoller struct {
	buf []unix.PollFd
}

// NewPoller returns the default Poller, backed by poll(2).
func NewPoller() Poller {
	return new(unixPoller)
}

func (p *unixPoller) Poll(fds []PollFD, timeout time.Duration) error {
	p.buf = p.buf[:0]
	for _, fd := range fds {
		p.buf = append(p.buf, unix.PollFd{Fd: int32(fd.FD), Events: fd.Dir.events()})
	}

	if _, err := unix.Poll(p.buf, pollTimeout(timeout)); err != nil {
		return err
	}

	for i := range p.buf {
		fds[i].Ready = p.buf[i].Revents != 0
	}
	return nil
}

// pollTimeout converts a timeout to milliseconds, rounding up so the
// loop never wakes before a timer deadline.
func pollTimeout(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}
