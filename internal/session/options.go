// File: internal/session/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/control"
	"github.com/momentics/hioload-tcp/pipeline"
	"github.com/momentics/hioload-tcp/pool"
)

// Options carries everything a session needs besides its connection.
type Options struct {
	Pool     *pool.Pool
	Executor api.Executor
	Codec    api.Codec
	Handler  api.Processor

	ReadChunkSize int
	Write         pipeline.Config
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	// WriteBatch bounds the chunks gathered into one writev.
	WriteBatch int

	Logger  *zap.Logger
	Metrics *control.Metrics

	// OnClosed runs after EventSessionClosed was delivered.
	OnClosed func(*Session)
}

// OptionsFromConfig fills the sizing and timeout fields from cfg.
func OptionsFromConfig(cfg control.Config) Options {
	return Options{
		ReadChunkSize: cfg.ReadChunkSize,
		Write: pipeline.Config{
			ChunkSize: cfg.WriteChunkSize,
			Capacity:  cfg.WriteQueueCapacity,
		},
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

func (o *Options) normalize() {
	if o.ReadChunkSize <= 0 {
		o.ReadChunkSize = 4096
	}
	if o.WriteBatch <= 0 {
		o.WriteBatch = 16
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}
