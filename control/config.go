// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Transport configuration snapshot and TOML loading.

package control

import (
	"fmt"
	"net"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/pool"
)

// SocketOptions are applied to sockets before bind/connect.
// Zero buffer sizes keep the OS defaults.
type SocketOptions struct {
	SendBuffer int
	RecvBuffer int
	KeepAlive  bool
	ReuseAddr  bool
	NoDelay    bool
}

// Config is the transport configuration. Server and client copy it at
// construction and never modify it afterwards.
type Config struct {
	Host       string
	Port       int
	Workers    int  // completion workers; servers raise 1 to 2
	PinWorkers bool // pin owned workers to CPUs
	Backlog    int  // listen backlog, 0 = OS default

	Socket SocketOptions

	ReadChunkSize      int // read lease size per session
	WriteChunkSize     int // minimum write pipeline chunk
	WriteQueueCapacity int // sealed chunks queued before writers block

	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration // 0 = no read deadline
	WriteTimeout    time.Duration // 0 = no write deadline
	ShutdownTimeout time.Duration

	Pool pool.Config
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:    "127.0.0.1",
		Port:    8888,
		Workers: runtime.NumCPU() + 1,
		Backlog: 1000,
		Socket: SocketOptions{
			KeepAlive: true,
			ReuseAddr: true,
			NoDelay:   true,
		},
		ReadChunkSize:      4096,
		WriteChunkSize:     4096,
		WriteQueueCapacity: 16,
		ConnectTimeout:     5 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		Pool:               pool.DefaultConfig(),
	}
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.Workers <= 0:
		return fmt.Errorf("workers %d: %w", c.Workers, api.ErrInvalidConfig)
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("port %d: %w", c.Port, api.ErrInvalidConfig)
	case c.Backlog < 0:
		return fmt.Errorf("backlog %d: %w", c.Backlog, api.ErrInvalidConfig)
	case c.ReadChunkSize <= 0:
		return fmt.Errorf("read chunk size %d: %w", c.ReadChunkSize, api.ErrInvalidConfig)
	case c.WriteChunkSize <= 0:
		return fmt.Errorf("write chunk size %d: %w", c.WriteChunkSize, api.ErrInvalidConfig)
	case c.WriteQueueCapacity <= 0:
		return fmt.Errorf("write queue capacity %d: %w", c.WriteQueueCapacity, api.ErrInvalidConfig)
	case c.Socket.SendBuffer < 0 || c.Socket.RecvBuffer < 0:
		return fmt.Errorf("socket buffer sizes %d/%d: %w", c.Socket.SendBuffer, c.Socket.RecvBuffer, api.ErrInvalidConfig)
	}
	return nil
}

type fileSocket struct {
	SendBuffer int  `toml:"send_buffer"`
	RecvBuffer int  `toml:"recv_buffer"`
	KeepAlive  bool `toml:"keep_alive"`
	ReuseAddr  bool `toml:"reuse_addr"`
	NoDelay    bool `toml:"no_delay"`
}

type filePool struct {
	PageSize  int    `toml:"page_size"`
	PageCount int    `toml:"page_count"`
	Alignment int    `toml:"alignment"`
	Policy    string `toml:"policy"`
	Disabled  bool   `toml:"disabled"`
}

type fileConfig struct {
	Host               string     `toml:"host"`
	Port               int        `toml:"port"`
	Workers            int        `toml:"workers"`
	PinWorkers         bool       `toml:"pin_workers"`
	Backlog            int        `toml:"backlog"`
	ReadChunkSize      int        `toml:"read_chunk_size"`
	WriteChunkSize     int        `toml:"write_chunk_size"`
	WriteQueueCapacity int        `toml:"write_queue_capacity"`
	ConnectTimeout     string     `toml:"connect_timeout"`
	ReadTimeout        string     `toml:"read_timeout"`
	WriteTimeout       string     `toml:"write_timeout"`
	ShutdownTimeout    string     `toml:"shutdown_timeout"`
	Socket             fileSocket `toml:"socket"`
	Pool               filePool   `toml:"pool"`
}

// LoadConfig reads a TOML file over DefaultConfig. Only keys present in the
// file override defaults.
func LoadConfig(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return fromFile(raw, meta)
}

// ParseConfig is LoadConfig for in-memory TOML.
func ParseConfig(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return fromFile(raw, meta)
}

func fromFile(raw fileConfig, meta toml.MetaData) (Config, error) {
	cfg := DefaultConfig()

	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("workers") {
		cfg.Workers = raw.Workers
	}
	if meta.IsDefined("pin_workers") {
		cfg.PinWorkers = raw.PinWorkers
	}
	if meta.IsDefined("backlog") {
		cfg.Backlog = raw.Backlog
	}
	if meta.IsDefined("read_chunk_size") {
		cfg.ReadChunkSize = raw.ReadChunkSize
	}
	if meta.IsDefined("write_chunk_size") {
		cfg.WriteChunkSize = raw.WriteChunkSize
	}
	if meta.IsDefined("write_queue_capacity") {
		cfg.WriteQueueCapacity = raw.WriteQueueCapacity
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.ConnectTimeout},
		{"read_timeout", raw.ReadTimeout, &cfg.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.WriteTimeout},
		{"shutdown_timeout", raw.ShutdownTimeout, &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("socket", "send_buffer") {
		cfg.Socket.SendBuffer = raw.Socket.SendBuffer
	}
	if meta.IsDefined("socket", "recv_buffer") {
		cfg.Socket.RecvBuffer = raw.Socket.RecvBuffer
	}
	if meta.IsDefined("socket", "keep_alive") {
		cfg.Socket.KeepAlive = raw.Socket.KeepAlive
	}
	if meta.IsDefined("socket", "reuse_addr") {
		cfg.Socket.ReuseAddr = raw.Socket.ReuseAddr
	}
	if meta.IsDefined("socket", "no_delay") {
		cfg.Socket.NoDelay = raw.Socket.NoDelay
	}

	if meta.IsDefined("pool", "page_size") {
		cfg.Pool.PageSize = raw.Pool.PageSize
	}
	if meta.IsDefined("pool", "page_count") {
		cfg.Pool.PageCount = raw.Pool.PageCount
	}
	if meta.IsDefined("pool", "alignment") {
		cfg.Pool.Alignment = raw.Pool.Alignment
	}
	if meta.IsDefined("pool", "disabled") {
		cfg.Pool.Disabled = raw.Pool.Disabled
	}
	if meta.IsDefined("pool", "policy") {
		switch strings.ToLower(strings.TrimSpace(raw.Pool.Policy)) {
		case "grow":
			cfg.Pool.Policy = pool.PolicyGrow
		case "fail":
			cfg.Pool.Policy = pool.PolicyFail
		default:
			return Config{}, fmt.Errorf("pool policy %q: %w", raw.Pool.Policy, api.ErrInvalidConfig)
		}
	}

	return cfg, cfg.Validate()
}
