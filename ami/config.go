// Package ami implements the Manager Interface protocol engine: the
// connect/login/connected/closed state machine, action/response/event
// correlation, list-action accumulation, and the thin call tracker
// built atop it (spec.md §4.3).
package ami

import (
	"github.com/surycat/obelus"
	"go.uber.org/zap"
)

// Config is the AMI engine's configuration bundle (spec.md §6). It
// embeds the knobs shared with the AGI engine and adds the list-action
// terminator map and the inside-vs-standalone policy flag for
// list-complete events (spec.md §9 Open Question).
type Config struct {
	obelus.BaseConfig

	// ListActionTerminators seeds the list-style classifier: an action
	// name maps to the event name that terminates its list. Also
	// selectable per call via SendListAction.
	ListActionTerminators map[string]string

	// ListTerminatorIncluded controls whether the terminating event is
	// included in the accumulated event slice delivered to the
	// caller, or excluded. Whether it is also dispatched as a
	// standalone event is controlled separately by
	// AlsoDispatchTerminator. Default true ("inside only"), matching
	// spec.md §9's stated default.
	ListTerminatorIncluded bool

	// AlsoDispatchTerminator, when true, dispatches the terminating
	// event through the normal event registry after the list outcome
	// is delivered, whether or not ListTerminatorIncluded put it in
	// that outcome. Default false.
	AlsoDispatchTerminator bool
}

// Option configures an ami.Config.
type Option func(*Config)

func base(opt obelus.Option) Option {
	return func(c *Config) { opt(&c.BaseConfig) }
}

// WithEncoding overrides the default UTF8 codec.
func WithEncoding(enc obelus.Encoding) Option { return base(obelus.WithEncoding(enc)) }

// WithStrictHeaders fails the connection on a malformed header line.
func WithStrictHeaders(strict bool) Option { return base(obelus.WithStrictHeaders(strict)) }

// WithFaultSink overrides the default fault sink.
func WithFaultSink(sink obelus.FaultSink) Option { return base(obelus.WithFaultSink(sink)) }

// WithLogger overrides the base zap logger engines derive their
// per-instance logger from.
func WithLogger(logger *zap.Logger) Option { return base(obelus.WithLogger(logger)) }

// WithListActionTerminator seeds the list-style classifier for a
// single action name.
func WithListActionTerminator(actionName, terminatorEvent string) Option {
	return func(c *Config) {
		if c.ListActionTerminators == nil {
			c.ListActionTerminators = make(map[string]string)
		}
		c.ListActionTerminators[actionName] = terminatorEvent
	}
}

// WithListTerminatorIncluded sets the §9 policy flag.
func WithListTerminatorIncluded(included bool) Option {
	return func(c *Config) { c.ListTerminatorIncluded = included }
}

// WithAlsoDispatchTerminator sets whether the terminator is also
// dispatched through the event registry.
func WithAlsoDispatchTerminator(also bool) Option {
	return func(c *Config) { c.AlsoDispatchTerminator = also }
}

func newConfig(opts ...Option) Config {
	cfg := Config{
		BaseConfig:             obelus.BaseConfig{Encoding: obelus.UTF8},
		ListActionTerminators:  make(map[string]string),
		ListTerminatorIncluded: true,
	}
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
