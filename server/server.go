// Package server is a TCP server for corun loops. Accepting, reading
// and writing suspend the calling coroutine instead of blocking the
// thread, and the number of connections open at once is bounded.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"

	"github.com/webriots/corun"
	"golang.org/x/sys/unix"
)

// admissionSpin is the number of times Accept yields while the server
// is full before it parks until a connection closes.
const admissionSpin = 8

// Handler serves one accepted connection. The connection is closed
// when the handler returns.
type Handler func(ctx context.Context, conn *Connection) error

// Server listens on a TCP address and hands accepted connections to
// coroutines. A Server belongs to a single corun loop; its methods must
// be called from that loop's coroutines.
type Server struct {
	addr   string
	sopts  ServerOptions
	copts  ConnectionOptions
	log    *slog.Logger
	fd     int
	local  net.Addr
	loop   *corun.Loop
	count  int
	admit  capacity
	opened bool
}

// capacity is Selectable that blocks while the server is full.
type capacity struct {
	s *Server
	m corun.SelectManager
}

func (c *capacity) SelectWillBlock() bool {
	return c.s.opened && c.s.count >= c.s.limit()
}

func (c *capacity) SelectManager() *corun.SelectManager {
	return &c.m
}

// New creates a server for addr. Nil options select the defaults. The
// server starts listening right away when sopts.Connect is set.
func New(addr string, sopts *ServerOptions, copts *ConnectionOptions) (*Server, error) {
	s := &Server{
		addr:  addr,
		sopts: DefaultServerOptions(),
		copts: DefaultConnectionOptions(),
		log:   slog.Default().With(slog.String("component", "server")),
		fd:    -1,
	}
	if sopts != nil {
		s.sopts = *sopts
	}
	if copts != nil {
		s.copts = *copts
	}
	s.admit.s = s

	if s.sopts.Connect {
		if err := s.Open(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SetLogger replaces the logger of the server.
func (s *Server) SetLogger(l *slog.Logger) {
	s.log = l
}

// Open binds and listens. It fails with ErrAlreadyOpen when the server
// is open. A closed server may be opened again.
func (s *Server) Open() error {
	if s.opened {
		return &corun.UsageError{Op: "Open", Err: corun.ErrAlreadyOpen}
	}

	fd, local, err := listen(s.addr, &s.sopts)
	if err != nil {
		return err
	}
	s.fd, s.local, s.opened = fd, local, true

	s.log.Info("listening", slog.String("addr", local.String()))
	return nil
}

// Close stops listening. Coroutines suspended in Accept wake up with
// ErrDisconnected. Connections already accepted stay open. Closing a
// server that is not open fails with ErrDisconnected.
func (s *Server) Close() error {
	if !s.opened {
		return fmt.Errorf("close %s: %w", s.addr, corun.ErrDisconnected)
	}

	fd := s.fd
	s.fd, s.opened = -1, false
	if s.loop != nil {
		s.loop.Invalidate(fd)
	}
	s.admit.m.Notify()

	s.log.Info("closed", slog.String("addr", s.local.String()))
	if err := unix.Close(fd); err != nil {
		return &corun.IOError{Op: "close", Err: err}
	}
	return nil
}

// Shutdown closes the server if it is open.
func (s *Server) Shutdown() error {
	if !s.opened {
		return nil
	}
	return s.Close()
}

// IsOpen reports whether the server is listening.
func (s *Server) IsOpen() bool {
	return s.opened
}

// Addr returns the bound address, which carries the actual port when
// the server was created for port 0. It is nil until the first Open.
func (s *Server) Addr() net.Addr {
	return s.local
}

// ConnectionCount returns the number of accepted connections that have
// not been closed.
func (s *Server) ConnectionCount() int {
	return s.count
}

func (s *Server) limit() int {
	if s.sopts.MaxConnections <= 0 {
		return math.MaxInt
	}
	return s.sopts.MaxConnections
}

// Accept suspends the running coroutine until a connection arrives and
// there is room for it under MaxConnections. It fails with
// ErrDisconnected when the server is or becomes closed.
//
// The caller owns the returned connection and must Close it; the
// connection counts against MaxConnections until then. Run does this
// for its handlers.
func (s *Server) Accept(ctx context.Context) (*Connection, error) {
	loop, ok := corun.LoopFromContext(ctx)
	if !ok {
		return nil, &corun.UsageError{Op: "Accept", Err: corun.ErrNotInCoroutine}
	}
	s.loop = loop

	for {
		// Other acceptors may have taken the free slots while this one
		// was suspended, so the limit is checked before every attempt.
		if err := s.admission(ctx); err != nil {
			return nil, err
		}
		if !s.opened {
			return nil, fmt.Errorf("accept %s: %w", s.addr, corun.ErrDisconnected)
		}

		fd, peer, err := accept(s.fd)
		switch err {
		case nil:
			return s.track(loop, fd, peer), nil
		case unix.EAGAIN, unix.ECONNABORTED, unix.EINTR:
		default:
			return nil, &corun.IOError{Op: "accept", Err: err}
		}

		if err := corun.Readable(ctx, s.fd); err != nil {
			return nil, err
		}
	}
}

// admission waits until the server has room for one more connection,
// yielding admissionSpin times before parking on the capacity
// selectable.
func (s *Server) admission(ctx context.Context) error {
	for i := 0; s.admit.SelectWillBlock(); i++ {
		if i < admissionSpin {
			if err := corun.Yield(ctx); err != nil {
				return err
			}
			continue
		}
		if _, err := corun.Select(ctx, &s.admit); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) track(loop *corun.Loop, fd int, peer net.Addr) *Connection {
	conn := newConnection(loop, fd, s.local, peer, s.copts)
	s.count++
	conn.OnClose(func() {
		s.count--
		s.admit.m.Notify()
	})
	s.log.Debug("accepted",
		slog.String("peer", fmt.Sprint(peer)),
		slog.Int("connections", s.count))
	return conn
}

// Run starts a coroutine that accepts connections until the server is
// closed, serving each in its own coroutine. The accept coroutine
// finishes without error once the server is closed. A failing handler
// is returned by the enclosing corun.Run unless someone awaits it.
func (s *Server) Run(ctx context.Context, handler Handler) *corun.Coroutine {
	return corun.Go(ctx, func(ctx context.Context) error {
		for s.opened {
			conn, err := s.Accept(ctx)
			if err != nil {
				if corun.IsDisconnected(err) && !s.opened {
					return nil
				}
				return err
			}
			corun.Go(ctx, func(ctx context.Context) error {
				defer conn.Close()
				return handler(ctx, conn)
			})
		}
		return nil
	})
}
