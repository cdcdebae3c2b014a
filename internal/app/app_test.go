package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"

	"github.com/samber/do"
	"github.com/stretchr/testify/require"
	"github.com/webriots/corun/internal/config"
	"github.com/webriots/corun/server"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Listen = "127.0.0.1:0"
	cfg.LogLevel = slog.LevelDebug
	return cfg
}

func TestInjector(t *testing.T) {
	r := require.New(t)

	var logs bytes.Buffer
	i := New(testConfig(), &logs)

	srv := do.MustInvoke[*server.Server](i)
	r.True(srv.IsOpen())
	r.Same(srv, do.MustInvoke[*server.Server](i))

	r.NoError(i.Shutdown())
	r.False(srv.IsOpen())
	r.Contains(logs.String(), "listening")
	r.Contains(logs.String(), "component=server")
}

func TestInjectorDeferredOpen(t *testing.T) {
	r := require.New(t)

	cfg := testConfig()
	cfg.Server.Connect = false
	i := New(cfg, io.Discard)

	srv := do.MustInvoke[*server.Server](i)
	r.False(srv.IsOpen())
	r.NoError(i.Shutdown())
}

func TestServe(t *testing.T) {
	r := require.New(t)

	var logs bytes.Buffer
	i := New(testConfig(), &logs)
	addr := do.MustInvoke[*server.Server](i).Addr().String()

	stop := make(chan struct{})
	var once sync.Once
	halt := func() { once.Do(func() { close(stop) }) }

	type result struct {
		echoed string
		tail   []byte
		err    error
	}
	client := make(chan result, 1)
	go func() {
		var res result
		defer func() { client <- res }()
		defer halt()

		conn, err := net.Dial("tcp", addr)
		if err != nil {
			res.err = err
			return
		}
		defer conn.Close()

		if _, res.err = conn.Write([]byte("ping")); res.err != nil {
			return
		}
		buf := make([]byte, 4)
		if _, res.err = io.ReadFull(conn, buf); res.err != nil {
			return
		}
		res.echoed = string(buf)

		// The connection stays open; stopping closes it server side.
		halt()
		res.tail, res.err = io.ReadAll(conn)
	}()

	r.NoError(Serve(context.Background(), i, stop))

	res := <-client
	r.NoError(res.err)
	r.Equal("ping", res.echoed)
	r.Empty(res.tail)
	r.Contains(logs.String(), "stopping")
	r.NoError(i.Shutdown())
}

func TestServeStopBeforeStart(t *testing.T) {
	r := require.New(t)

	i := New(testConfig(), io.Discard)
	stop := make(chan struct{})
	close(stop)

	r.NoError(Serve(context.Background(), i, stop))
	r.False(do.MustInvoke[*server.Server](i).IsOpen())
}
