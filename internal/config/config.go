// Package config loads the settings of the echo server from YAML or
// TOML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/webriots/corun/server"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of a configuration file.
type Format string

const (
	YAML Format = "yaml"
	TOML Format = "toml"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the resolved configuration of the echo server.
type Config struct {
	Listen     string
	LogLevel   slog.Level
	Server     server.ServerOptions
	Connection server.ConnectionOptions
}

// File is the on-disk form of Config. Durations are Go duration
// strings such as "30s".
type File struct {
	Listen     string         `yaml:"listen" toml:"listen"`
	LogLevel   string         `yaml:"log_level" toml:"log_level"`
	Server     ServerFile     `yaml:"server" toml:"server"`
	Connection ConnectionFile `yaml:"connection" toml:"connection"`
}

type ServerFile struct {
	Backlog        int  `yaml:"backlog" toml:"backlog"`
	IPv6Only       bool `yaml:"ipv6_only" toml:"ipv6_only"`
	ReuseAddr      bool `yaml:"reuse_addr" toml:"reuse_addr"`
	ReusePort      bool `yaml:"reuse_port" toml:"reuse_port"`
	Broadcast      bool `yaml:"broadcast" toml:"broadcast"`
	MaxConnections int  `yaml:"max_connections" toml:"max_connections"`
	Connect        bool `yaml:"connect" toml:"connect"`
}

type ConnectionFile struct {
	ReadBufferSize int    `yaml:"read_buffer_size" toml:"read_buffer_size"`
	ReadTimeout    string `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout   string `yaml:"write_timeout" toml:"write_timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	sopts := server.DefaultServerOptions()
	sopts.Backlog = 511
	return &Config{
		Listen:     "127.0.0.1:7000",
		LogLevel:   slog.LevelInfo,
		Server:     sopts,
		Connection: server.DefaultConnectionOptions(),
	}
}

// Load reads the file at path, picking the format from its extension.
// Keys missing from the file keep their default values; unknown keys
// are rejected.
func Load(path string) (*Config, error) {
	var format Format
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = YAML
	case ".toml":
		format = TOML
	default:
		return nil, fmt.Errorf("config %s: unsupported file extension", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data in the given format on top of Default and
// validates the result.
func Parse(data []byte, format Format) (*Config, error) {
	f := toFile(Default())

	switch format {
	case YAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case TOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}

	cfg, err := f.resolve()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func toFile(c *Config) File {
	return File{
		Listen:   c.Listen,
		LogLevel: c.LogLevel.String(),
		Server: ServerFile{
			Backlog:        c.Server.Backlog,
			IPv6Only:       c.Server.IPv6Only,
			ReuseAddr:      c.Server.ReuseAddr,
			ReusePort:      c.Server.ReusePort,
			Broadcast:      c.Server.Broadcast,
			MaxConnections: c.Server.MaxConnections,
			Connect:        c.Server.Connect,
		},
		Connection: ConnectionFile{
			ReadBufferSize: c.Connection.ReadBufferSize,
			ReadTimeout:    durationString(c.Connection.ReadTimeout),
			WriteTimeout:   durationString(c.Connection.WriteTimeout),
		},
	}
}

func (f *File) resolve() (*Config, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(f.LogLevel)); err != nil {
		return nil, fmt.Errorf("%w: log_level: %v", ErrInvalid, err)
	}
	readTimeout, err := parseDuration("connection.read_timeout", f.Connection.ReadTimeout)
	if err != nil {
		return nil, err
	}
	writeTimeout, err := parseDuration("connection.write_timeout", f.Connection.WriteTimeout)
	if err != nil {
		return nil, err
	}

	return &Config{
		Listen:   f.Listen,
		LogLevel: level,
		Server: server.ServerOptions{
			Backlog:        f.Server.Backlog,
			IPv6Only:       f.Server.IPv6Only,
			ReuseAddr:      f.Server.ReuseAddr,
			ReusePort:      f.Server.ReusePort,
			Broadcast:      f.Server.Broadcast,
			MaxConnections: f.Server.MaxConnections,
			Connect:        f.Server.Connect,
		},
		Connection: server.ConnectionOptions{
			ReadBufferSize: f.Connection.ReadBufferSize,
			ReadTimeout:    readTimeout,
			WriteTimeout:   writeTimeout,
		},
	}, nil
}

func durationString(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}

func parseDuration(key, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
	}
	return d, nil
}

// Validate checks the ranges of every setting.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, key, msg string) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s %s", ErrInvalid, key, msg))
		}
	}

	check(c.Listen != "", "listen", "must not be empty")
	check(c.Server.Backlog >= 0, "server.backlog", "must not be negative")
	check(c.Server.MaxConnections >= 0, "server.max_connections", "must not be negative")
	check(c.Connection.ReadBufferSize > 0, "connection.read_buffer_size", "must be positive")
	check(c.Connection.ReadTimeout >= 0, "connection.read_timeout", "must not be negative")
	check(c.Connection.WriteTimeout >= 0, "connection.write_timeout", "must not be negative")

	return errors.Join(errs...)
}

// Describe renders the configuration as one "key = value" line per
// setting, in a fixed order.
func (c *Config) Describe() string {
	var b strings.Builder
	line := func(key string, value any) {
		fmt.Fprintf(&b, "%s = %v\n", key, value)
	}

	line("listen", c.Listen)
	line("log_level", c.LogLevel)
	line("server.backlog", c.Server.Backlog)
	line("server.ipv6_only", c.Server.IPv6Only)
	line("server.reuse_addr", c.Server.ReuseAddr)
	line("server.reuse_port", c.Server.ReusePort)
	line("server.broadcast", c.Server.Broadcast)
	line("server.max_connections", c.Server.MaxConnections)
	line("server.connect", c.Server.Connect)
	line("connection.read_buffer_size", c.Connection.ReadBufferSize)
	line("connection.read_timeout", c.Connection.ReadTimeout)
	line("connection.write_timeout", c.Connection.WriteTimeout)

	return b.String()
}
