// Package app wires the echo server together.
package app

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/samber/do"
	"github.com/webriots/corun"
	"github.com/webriots/corun/internal/config"
	"github.com/webriots/corun/server"
	"golang.org/x/sys/unix"
)

// New returns an injector providing the configuration, a logger
// writing text records to out, and the server.
func New(cfg *config.Config, out io.Writer) *do.Injector {
	i := do.New()

	do.ProvideValue(i, cfg)

	do.Provide(i, func(i *do.Injector) (*slog.Logger, error) {
		cfg := do.MustInvoke[*config.Config](i)
		h := slog.NewTextHandler(out, &slog.HandlerOptions{Level: cfg.LogLevel})
		return slog.New(h), nil
	})

	do.Provide(i, func(i *do.Injector) (*server.Server, error) {
		cfg := do.MustInvoke[*config.Config](i)
		log := do.MustInvoke[*slog.Logger](i)

		sopts := cfg.Server
		sopts.Connect = false
		srv, err := server.New(cfg.Listen, &sopts, &cfg.Connection)
		if err != nil {
			return nil, err
		}
		srv.SetLogger(log.With(slog.String("component", "server")))

		if cfg.Server.Connect {
			if err := srv.Open(); err != nil {
				return nil, err
			}
		}
		return srv, nil
	})

	return i
}

// Echo returns a handler writing back everything it reads, using
// buffers of bufSize bytes. It ends quietly when the peer hangs up or
// the connection is closed under it.
func Echo(bufSize int) server.Handler {
	return func(ctx context.Context, conn *server.Connection) error {
		buf := make([]byte, bufSize)
		for {
			n, err := conn.Read(ctx, buf)
			if errors.Is(err, io.EOF) || corun.IsDisconnected(err) {
				return nil
			}
			if err != nil {
				return err
			}
			if _, err := conn.Write(ctx, buf[:n]); err != nil {
				if corun.IsDisconnected(err) {
					return nil
				}
				return err
			}
		}
	}
}

// Serve runs the echo server of i until stop is closed, then closes
// the server and every open connection and waits for the handlers to
// finish.
func Serve(ctx context.Context, i *do.Injector, stop <-chan struct{}) error {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	srv, err := do.Invoke[*server.Server](i)
	if err != nil {
		return err
	}
	if !srv.IsOpen() {
		if err := srv.Open(); err != nil {
			return err
		}
	}

	// stop is a channel, which a loop cannot wait on. A goroutine
	// turns it into a readable pipe.
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return &corun.IOError{Op: "pipe", Err: err}
	}
	defer unix.Close(p[0])
	defer unix.Close(p[1])
	if err := unix.SetNonblock(p[0], true); err != nil {
		return &corun.IOError{Op: "setnonblock", Err: err}
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-stop:
			_, _ = unix.Write(p[1], []byte{0})
		case <-done:
		}
	}()

	conns := make(map[*server.Connection]struct{})
	echo := Echo(cfg.Connection.ReadBufferSize)

	_, err = corun.Run(ctx, func(ctx context.Context) (struct{}, error) {
		srv.Run(ctx, func(ctx context.Context, conn *server.Connection) error {
			if !srv.IsOpen() {
				return conn.Close()
			}
			conns[conn] = struct{}{}
			conn.OnClose(func() { delete(conns, conn) })
			return echo(ctx, conn)
		})

		if err := corun.Readable(ctx, p[0]); err != nil {
			return struct{}{}, err
		}

		log.Info("stopping", slog.Int("connections", len(conns)))
		if err := srv.Close(); err != nil {
			return struct{}{}, err
		}
		for conn := range conns {
			_ = conn.Close()
		}
		return struct{}{}, nil
	}, corun.WithLogger(log))

	return err
}
