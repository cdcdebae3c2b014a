package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webriots/corun/internal/config"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "corun-echo", cmd.Use)

	for _, name := range []string{"serve", "config"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
	assert.Equal(t, "false", verbose.DefValue)

	cfg := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, cfg)
	assert.Equal(t, "", cfg.DefValue)
}

func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestConfigCommand(t *testing.T) {
	out, err := execute(t, context.Background(), "config")
	require.NoError(t, err)
	assert.Equal(t, config.Default().Describe(), out)
}

func TestConfigCommandVerbose(t *testing.T) {
	out, err := execute(t, context.Background(), "config", "--verbose")
	require.NoError(t, err)
	assert.Contains(t, out, "log_level = DEBUG\n")
}

func TestConfigCommandFile(t *testing.T) {
	out, err := execute(t, context.Background(), "config", "--config", "../config/testdata/server.toml")
	require.NoError(t, err)
	assert.Contains(t, out, "listen = 0.0.0.0:9000\n")
	assert.Contains(t, out, "server.max_connections = 8\n")
}

func TestConfigCommandMissingFile(t *testing.T) {
	_, err := execute(t, context.Background(), "config", "--config", "missing.yaml")
	require.Error(t, err)
}

func TestServeCommandStopped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := execute(t, ctx, "serve", "--listen", "127.0.0.1:0", "--max-connections", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "listening")
	assert.Contains(t, out, "stopping")
}

func TestServeCommandBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("connection:\n  read_buffer_size: 0\n"), 0o644))

	_, err := execute(t, context.Background(), "serve", "--config", path)
	require.ErrorIs(t, err, config.ErrInvalid)
}
