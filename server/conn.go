package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/webriots/corun"
	"golang.org/x/sys/unix"
)

// Connection is an accepted TCP connection. Reads and writes suspend
// the calling coroutine while the socket is not ready. A Connection is
// Selectable: it stops blocking once data can be read or it is closed.
type Connection struct {
	fd        int
	loop      *corun.Loop
	local     net.Addr
	peer      net.Addr
	opts      ConnectionOptions
	closed    bool
	observers []func()
}

func newConnection(loop *corun.Loop, fd int, local, peer net.Addr, opts ConnectionOptions) *Connection {
	return &Connection{
		fd:    fd,
		loop:  loop,
		local: local,
		peer:  peer,
		opts:  opts,
	}
}

// Read reads up to len(p) bytes. It returns io.EOF once the peer has
// shut down its side and ErrTimeout when ReadTimeout elapses first.
func (c *Connection) Read(ctx context.Context, p []byte) (int, error) {
	for {
		if c.closed {
			return 0, fmt.Errorf("read: %w", corun.ErrDisconnected)
		}

		n, err := unix.Read(c.fd, p)
		switch {
		case err == nil:
			if n == 0 && len(p) > 0 {
				return 0, io.EOF
			}
			return max(n, 0), nil
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		default:
			return 0, &corun.IOError{Op: "read", Err: err}
		}

		if err := c.wait(ctx, corun.Read, c.opts.ReadTimeout); err != nil {
			return 0, err
		}
	}
}

// Write writes all of p unless an error occurs first.
func (c *Connection) Write(ctx context.Context, p []byte) (int, error) {
	var written int
	for written < len(p) {
		if c.closed {
			return written, fmt.Errorf("write: %w", corun.ErrDisconnected)
		}

		n, err := unix.Write(c.fd, p[written:])
		switch {
		case err == nil:
			written += max(n, 0)
			continue
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		default:
			return written, &corun.IOError{Op: "write", Err: err}
		}

		if err := c.wait(ctx, corun.Write, c.opts.WriteTimeout); err != nil {
			return written, err
		}
	}
	return written, nil
}

func (c *Connection) wait(ctx context.Context, dir corun.Direction, timeout time.Duration) error {
	if timeout <= 0 {
		if dir == corun.Read {
			return corun.Readable(ctx, c.fd)
		}
		return corun.Writable(ctx, c.fd)
	}

	src, err := corun.FD(ctx, c.fd, dir)
	if err != nil {
		return err
	}
	tm, err := corun.After(ctx, timeout)
	if err != nil {
		return err
	}
	defer tm.Stop()

	ready, err := corun.Select(ctx, src, tm)
	if err != nil {
		return err
	}
	if ready[0] == corun.Selectable(tm) {
		return fmt.Errorf("%v: %w", dir, corun.ErrTimeout)
	}
	return nil
}

// Close closes the socket and runs the close observers. Coroutines
// suspended on the connection wake up with ErrDisconnected. Closing
// twice is a no-op.
func (c *Connection) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	if c.loop != nil {
		c.loop.Invalidate(c.fd)
	}
	err := unix.Close(c.fd)

	observers := c.observers
	c.observers = nil
	for _, fn := range observers {
		fn()
	}

	if err != nil {
		return &corun.IOError{Op: "close", Err: err}
	}
	return nil
}

// OnClose registers fn to run once when the connection closes. fn runs
// immediately when the connection is closed already.
func (c *Connection) OnClose(fn func()) {
	if c.closed {
		fn()
		return
	}
	c.observers = append(c.observers, fn)
}

// IsOpen reports whether the connection has not been closed.
func (c *Connection) IsOpen() bool {
	return !c.closed
}

// LocalAddr returns the listening address the connection came in on.
func (c *Connection) LocalAddr() net.Addr {
	return c.local
}

// RemoteAddr returns the address of the peer.
func (c *Connection) RemoteAddr() net.Addr {
	return c.peer
}

// SelectWillBlock implements corun.Selectable.
func (c *Connection) SelectWillBlock() bool {
	if c.closed {
		return false
	}
	return c.loop.FD(c.fd, corun.Read).SelectWillBlock()
}

// SelectManager implements corun.Selectable.
func (c *Connection) SelectManager() *corun.SelectManager {
	return c.loop.FD(c.fd, corun.Read).SelectManager()
}
