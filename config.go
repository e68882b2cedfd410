package obelus

import "go.uber.org/zap"

// BaseConfig holds the configuration knobs common to both engines
// (spec.md §6): the text codec, strict-vs-lenient header handling, the
// fault sink, and the logger every engine embeds. ami.Config and
// agi.Config each embed BaseConfig and add their own engine-specific
// options (list-action terminators, for AMI).
type BaseConfig struct {
	Encoding      Encoding
	StrictHeaders bool
	FaultSink     FaultSink
	Logger        *zap.Logger
}

// Option configures a BaseConfig. ami and agi each define their own
// Option type wrapping this one so WithEncoding et al. read naturally
// as ami.WithEncoding / agi.WithEncoding while sharing one
// implementation.
type Option func(*BaseConfig)

// WithEncoding overrides the default UTF8 codec.
func WithEncoding(enc Encoding) Option {
	return func(c *BaseConfig) { c.Encoding = enc }
}

// WithStrictHeaders fails the connection on a malformed header line
// instead of skipping it and reporting to the fault sink.
func WithStrictHeaders(strict bool) Option {
	return func(c *BaseConfig) { c.StrictHeaders = strict }
}

// WithFaultSink overrides the default (log-and-discard) fault sink.
func WithFaultSink(sink FaultSink) Option {
	return func(c *BaseConfig) { c.FaultSink = sink }
}

// WithLogger overrides the base *zap.Logger engines derive their
// per-instance logger from (see NewInstanceLogger).
func WithLogger(logger *zap.Logger) Option {
	return func(c *BaseConfig) { c.Logger = logger }
}

// NewBaseConfig applies opts over the UTF8/lenient/nop-logger
// defaults.
func NewBaseConfig(opts ...Option) BaseConfig {
	c := BaseConfig{Encoding: UTF8, Logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&c)
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.FaultSink == nil {
		c.FaultSink = DefaultFaultSink(c.Logger)
	}
	return c
}
