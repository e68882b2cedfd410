// Package asyncagi bridges an agi.Engine onto an ami.Engine carrier, so
// the same command/reply engine that drives a stdin/stdout or FastAGI
// session can drive a channel tunnelled through AMI's AsyncAGI events
// (spec.md §4.4.1).
package asyncagi

import (
	"strconv"
	"strings"

	"github.com/surycat/obelus"
	"github.com/surycat/obelus/agi"
	"github.com/surycat/obelus/ami"
	"go.uber.org/zap"
)

// Adapter is an obelus.Transport backed by an ami.Engine. It is handed
// to an agi.Engine's ConnectionMade so the AGI engine believes it owns
// an ordinary byte-stream transport, while every outbound line becomes
// an `AGI` AMI action and every inbound line is synthesized from
// `AsyncAGI` events carrying the bound channel (spec.md §4.4.1).
type Adapter struct {
	logger  *zap.Logger
	carrier *ami.Engine
	engine  *agi.Engine
	channel string

	asyncToken  ami.HandlerToken
	hangupToken ami.HandlerToken
	cmdCounter  uint64
	closed      bool
}

// New binds agiEngine to channel over carrier. It registers the event
// handlers immediately and calls agiEngine.ConnectionMade, so the AGI
// engine enters header-ingest right away — callers feed the channel's
// Start event (carrying the environment block) the same way any other
// AsyncAGI event is delivered, via the carrier's own DataReceived.
func New(carrier *ami.Engine, agiEngine *agi.Engine, channel string, logger *zap.Logger) *Adapter {
	a := &Adapter{
		logger:  obelus.NewInstanceLogger(logger).Named("asyncagi").With(zap.String("channel", channel)),
		carrier: carrier,
		engine:  agiEngine,
		channel: channel,
	}
	a.asyncToken = carrier.Registry().Register("AsyncAGI", a.onAsyncAGI)
	a.hangupToken = carrier.Registry().Register("Hangup", a.onHangup)
	agiEngine.ConnectionMade(a)
	return a
}

// Write translates one AGI command line into an `AGI` AMI action
// addressed at the bound channel (spec.md §4.4.1). The trailing
// newline the AGI engine appends is stripped; Asterisk replies
// asynchronously via a later AsyncAGI Exec event, not via this
// action's own response, so a failed SendAction here only means the
// carrier rejected the request outright (e.g. not connected).
func (a *Adapter) Write(p []byte) error {
	if a.closed {
		return &obelus.NotConnected{Op: "asyncagi_write"}
	}
	command := strings.TrimRight(string(p), "\r\n")
	a.cmdCounter++
	commandID := strconv.FormatUint(a.cmdCounter, 10)

	headers := []obelus.Header{
		{Name: "Channel", Value: a.channel},
		{Name: "Command", Value: command},
		{Name: "CommandID", Value: commandID},
	}
	_, result := a.carrier.SendAction("AGI", headers, nil)
	result.OnException(func(err error) {
		a.logger.Warn("AGI action rejected", zap.Error(err))
	})
	return nil
}

// Close unregisters the adapter's event handlers. It does not hang up
// the channel: an AsyncAGI session ends when Asterisk sends Hangup or
// the carrier itself disconnects, not by adapter request.
func (a *Adapter) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	a.carrier.Registry().Unregister(a.asyncToken)
	a.carrier.Registry().Unregister(a.hangupToken)
	return nil
}

// onAsyncAGI handles one `AsyncAGI` event. Only SubEvent Start and Exec
// carry data the AGI engine needs; Start's Env header reconstitutes
// the environment block, Exec's Result header reconstitutes one reply
// (spec.md §4.4.1). Events for other channels are ignored.
func (a *Adapter) onAsyncAGI(ev ami.Event) {
	if ch, _ := ev.Get("Channel"); ch != a.channel {
		return
	}
	sub, _ := ev.Get("SubEvent")
	switch sub {
	case "Start":
		env, _ := ev.Get("Env")
		a.engine.DataReceived([]byte(decodeAsyncAGIBlock(env)))
	case "Exec":
		result, _ := ev.Get("Result")
		a.engine.DataReceived([]byte(decodeAsyncAGILines(result)))
	default:
		a.logger.Debug("ignoring AsyncAGI sub-event", zap.String("sub_event", sub))
	}
}

// onHangup translates a Hangup event on the bound channel into the
// synthetic 511 the AGI engine already knows how to interpret as a
// dead channel, so the adapter needs no dead-channel logic of its own
// (spec.md §4.4.1).
func (a *Adapter) onHangup(ev ami.Event) {
	if ch, _ := ev.Get("Channel"); ch != a.channel {
		return
	}
	a.engine.DataReceived([]byte("511 result=-1\n"))
}

// decodeAsyncAGIBlock reverses the escaping Asterisk applies so a
// multi-line AGI environment block can travel inside a single AMI
// header value (literal "\n" two-character sequences stand in for
// real line breaks), and restores the blank-line terminator the
// header-ingest state requires.
func decodeAsyncAGIBlock(s string) string {
	unescaped := strings.ReplaceAll(s, `\n`, "\n")
	return strings.TrimRight(unescaped, "\n") + "\n\n"
}

// decodeAsyncAGILines reverses the same escaping for a reply's status
// line (and, for a 520 usage error, its continuation lines), without
// adding the blank-line block terminator a reply never has.
func decodeAsyncAGILines(s string) string {
	unescaped := strings.ReplaceAll(s, `\n`, "\n")
	return strings.TrimRight(unescaped, "\n") + "\n"
}
