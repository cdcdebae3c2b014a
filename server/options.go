package server

import (
	"time"

	"golang.org/x/sys/unix"
)

// ServerOptions configures the listening socket and admission
// control of a Server. Values are read, never modified.
type ServerOptions struct {
	// Backlog is the listen(2) backlog. Zero means SOMAXCONN.
	Backlog int

	// IPv6Only restricts an IPv6 listener to IPv6 peers.
	IPv6Only bool

	// ReuseAddr sets SO_REUSEADDR.
	ReuseAddr bool

	// ReusePort sets SO_REUSEPORT.
	ReusePort bool

	// Broadcast sets SO_BROADCAST.
	Broadcast bool

	// MaxConnections bounds the number of accepted connections open at
	// the same time. Zero means unbounded.
	MaxConnections int

	// Connect opens the server in New.
	Connect bool
}

// ConnectionOptions configures accepted connections.
type ConnectionOptions struct {
	// ReadBufferSize is a hint for handlers allocating read buffers.
	ReadBufferSize int

	// ReadTimeout bounds how long a Read waits for data. Zero waits
	// forever.
	ReadTimeout time.Duration

	// WriteTimeout bounds how long a Write waits for buffer space.
	// Zero waits forever.
	WriteTimeout time.Duration
}

// DefaultServerOptions returns the options used when New gets nil.
func DefaultServerOptions() ServerOptions {
	return ServerOptions{
		Backlog:        unix.SOMAXCONN,
		ReuseAddr:      true,
		MaxConnections: 1024,
		Connect:        true,
	}
}

// DefaultConnectionOptions returns the options used when New gets
// nil.
func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		ReadBufferSize: 4096,
	}
}

func (o *ServerOptions) backlog() int {
	if o.Backlog <= 0 {
		return unix.SOMAXCONN
	}
	return o.Backlog
}
