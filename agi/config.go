// Package agi implements the Gateway Interface command/response engine
// (spec.md §4.4): header-ingest -> ready -> awaiting-reply -> closed,
// a single in-flight command at a time, and the status-line reply
// grammar including 100-series continuations, 510/511/520 failures.
package agi

import (
	"github.com/surycat/obelus"
	"go.uber.org/zap"
)

// Config is the AGI engine's configuration bundle (spec.md §6).
type Config struct {
	obelus.BaseConfig
}

// Option configures an agi.Config.
type Option func(*Config)

func base(opt obelus.Option) Option {
	return func(c *Config) { opt(&c.BaseConfig) }
}

// WithEncoding overrides the default UTF8 codec.
func WithEncoding(enc obelus.Encoding) Option { return base(obelus.WithEncoding(enc)) }

// WithStrictHeaders fails the session on a malformed environment line.
func WithStrictHeaders(strict bool) Option { return base(obelus.WithStrictHeaders(strict)) }

// WithFaultSink overrides the default fault sink.
func WithFaultSink(sink obelus.FaultSink) Option { return base(obelus.WithFaultSink(sink)) }

// WithLogger overrides the base zap logger.
func WithLogger(logger *zap.Logger) Option { return base(obelus.WithLogger(logger)) }

func newConfig(opts ...Option) Config {
	cfg := Config{BaseConfig: obelus.BaseConfig{Encoding: obelus.UTF8}}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.FaultSink == nil {
		cfg.FaultSink = obelus.DefaultFaultSink(cfg.Logger)
	}
	return cfg
}
