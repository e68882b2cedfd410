package obelus

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NewInstanceLogger tags base (which may be zap.NewNop()) with a
// random instance id for log correlation across concurrent sessions.
// The id never appears on the wire and never feeds ActionID generation
// (spec.md §4.3 requires a monotonic counter for that).
func NewInstanceLogger(base *zap.Logger) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return base.With(zap.String("instance_id", uuid.NewString()))
}

// DefaultFaultSink logs err at Warn and otherwise discards it, the
// "discard after logging" default spec.md §4.2 and §6 describe for an
// unconfigured fault sink.
func DefaultFaultSink(logger *zap.Logger) FaultSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(err error) {
		logger.Warn("obelus: non-fatal protocol anomaly", zap.Error(err))
	}
}
