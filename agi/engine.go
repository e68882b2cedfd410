package agi

import (
	"github.com/surycat/obelus"
	"go.uber.org/zap"
)

// State is the AGI engine's lifecycle (spec.md §4.4).
type State int

const (
	StateHeaderIngest State = iota
	StateReady
	StateAwaitingReply
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHeaderIngest:
		return "header-ingest"
	case StateReady:
		return "ready"
	case StateAwaitingReply:
		return "awaiting-reply"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const usageEndLine = "520 End of proper usage"

// pendingCommand is a queued or in-flight AGI command (spec.md §3
// "AGI command" / §4.4 command FIFO).
type pendingCommand struct {
	text      string
	deferred  *obelus.Deferred[Reply]
	infoLines []string
	cancelled bool
}

// Engine is the AGI protocol state machine described in spec.md §4.4.
// It owns no socket and no process: it is driven by
// ConnectionMade/DataReceived/ConnectionLost and emits command lines
// through the Transport it was given.
type Engine struct {
	cfg    Config
	logger *zap.Logger

	transport obelus.Transport
	state     State
	dead      bool // 511 seen: subsequent commands rejected immediately

	environment obelus.HeaderBlock
	envPending  []obelus.Header

	framer *obelus.Framer
	queue  []*pendingCommand

	inUsageBody bool
	usageBody   []string // collected while parsing a 520 multi-line body
}

// NewEngine constructs an Engine. The engine does nothing until
// ConnectionMade is called.
func NewEngine(opts ...Option) *Engine {
	cfg := newConfig(opts...)
	logger := obelus.NewInstanceLogger(cfg.Logger).Named("agi")
	return &Engine{
		cfg:    cfg,
		logger: logger,
		state:  StateHeaderIngest,
		framer: obelus.NewFramerWithEncoding(cfg.Encoding),
	}
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State { return e.state }

// Dead reports whether a 511 dead-channel reply has been seen; every
// subsequent SendCommand fails immediately with AGIChannelDead.
func (e *Engine) Dead() bool { return e.dead }

// Environment returns the ordered agi_* headers received before the
// command loop began (spec.md §3/§4.4 "environment block").
func (e *Engine) Environment() obelus.HeaderBlock { return e.environment }

// ConnectionMade records transport and enters header-ingest.
func (e *Engine) ConnectionMade(transport obelus.Transport) {
	e.transport = transport
	e.state = StateHeaderIngest
}

// DataReceived feeds newly received bytes through the framer and
// drives the state machine forward, one line at a time.
func (e *Engine) DataReceived(p []byte) {
	if e.state == StateClosed {
		return
	}
	e.framer.Feed(p)

	for {
		line, ok, err := e.framer.NextLine()
		if err != nil {
			e.fail(err)
			return
		}
		if !ok {
			return
		}

		switch e.state {
		case StateHeaderIngest:
			e.handleEnvironmentLine(line)
		case StateReady:
			e.handleReadyLine(line)
		case StateAwaitingReply:
			e.handleReplyLine(line)
		}

		if e.state == StateClosed {
			return
		}
	}
}

// handleReadyLine handles a line arriving with no command in flight.
// A carrier that reports a channel hangup between commands (e.g. the
// async-AGI adapter) synthesizes a bare 511 regardless of engine
// state, so that must still drive completeDead rather than being
// treated as a protocol violation; anything else with nothing queued
// is a shape the command loop never produces on its own.
func (e *Engine) handleReadyLine(line string) {
	if code, _, _, extra, ok := parseStatusLine(line); ok && code == StatusDeadChan {
		e.completeDead(extra)
		return
	}
	e.fail(obelus.NewProtocolErrorLine("reply with no command in flight", line))
}

func (e *Engine) handleEnvironmentLine(line string) {
	if line == "" {
		e.environment = obelus.HeaderBlock{Headers: e.envPending}
		e.envPending = nil
		e.state = StateReady
		e.maybeWriteHead()
		return
	}
	h, err := obelus.ParseHeaderLine(line)
	if err != nil {
		if e.cfg.StrictHeaders {
			e.fail(err)
			return
		}
		e.cfg.FaultSink(err)
		return
	}
	e.envPending = append(e.envPending, h)
}

// SendCommand queues text for delivery. If no command is currently in
// flight it is written immediately; otherwise it waits in FIFO order
// (spec.md §4.4, §5 "AGI commands complete in FIFO submission order").
func (e *Engine) SendCommand(text string) *obelus.Deferred[Reply] {
	d := obelus.NewDeferred[Reply](e.cfg.FaultSink)

	if e.state == StateClosed {
		d.SetException(&obelus.NotConnected{Op: "send_command"})
		return d
	}
	if e.dead {
		d.SetException(&AGIChannelDead{Extra: "channel already dead"})
		return d
	}

	e.queue = append(e.queue, &pendingCommand{text: text, deferred: d})
	if e.state == StateReady {
		e.maybeWriteHead()
	}
	return d
}

func (e *Engine) maybeWriteHead() {
	if e.state != StateReady || len(e.queue) == 0 {
		return
	}
	head := e.queue[0]
	frame := e.encode(head.text + "\n")
	e.state = StateAwaitingReply
	if err := e.transport.Write(frame); err != nil {
		e.queue = e.queue[1:]
		e.state = StateReady
		if !head.cancelled {
			head.deferred.SetException(err)
		}
		e.maybeWriteHead()
	}
}

func (e *Engine) encode(s string) []byte {
	return e.cfg.Encoding.Encode(s)
}

func (e *Engine) handleReplyLine(line string) {
	if e.inUsageBody {
		if line == usageEndLine {
			e.completeUsageError()
			return
		}
		e.usageBody = append(e.usageBody, line)
		return
	}

	code, result, value, extra, ok := parseStatusLine(line)
	if !ok {
		e.cfg.FaultSink(obelus.NewProtocolErrorLine("malformed AGI status line", line))
		return
	}

	head := e.currentCommand()
	if head == nil {
		e.cfg.FaultSink(obelus.NewProtocolErrorLine("status line with no command in flight", line))
		return
	}

	if isInformational(code) {
		head.infoLines = append(head.infoLines, line)
		return
	}

	switch code {
	case StatusInvalid:
		e.completeCommand(head, Reply{}, &AGICommandError{Code: code, Extra: extra})
	case StatusDeadChan:
		e.completeDead(extra)
	case StatusUsageInfo:
		e.inUsageBody = true
		e.usageBody = nil
	default:
		reply := Reply{Code: code, Result: result, Value: value, Extra: extra, InfoLines: head.infoLines}
		e.completeCommand(head, reply, nil)
	}
}

func (e *Engine) completeUsageError() {
	head := e.currentCommand()
	e.inUsageBody = false
	body := e.usageBody
	e.usageBody = nil
	if head == nil {
		return
	}
	e.completeCommand(head, Reply{}, &AGIUsageError{BodyLines: body})
}

func (e *Engine) currentCommand() *pendingCommand {
	if len(e.queue) == 0 {
		return nil
	}
	return e.queue[0]
}

func (e *Engine) completeCommand(head *pendingCommand, reply Reply, err error) {
	e.queue = e.queue[1:]
	if !head.cancelled {
		if err != nil {
			head.deferred.SetException(err)
		} else {
			head.deferred.SetResult(reply)
		}
	}
	if len(e.queue) == 0 {
		e.state = StateReady
		return
	}
	if e.dead {
		// stay awaiting-reply: dead per spec.md §4.4 until the
		// transport closes; do not write the next queued command.
		return
	}
	e.state = StateReady
	e.maybeWriteHead()
}

// completeDead handles status 511: the in-flight command and every
// other already-queued command fail with AGIChannelDead, and Dead()
// stays true until the transport closes. The state is left as it was:
// awaiting-reply when a command was in flight (it never returns to
// ready), ready when the 511 arrived with nothing in flight.
func (e *Engine) completeDead(extra string) {
	e.dead = true
	err := &AGIChannelDead{Extra: extra}
	rest := e.queue
	e.queue = nil
	for _, cmd := range rest {
		if !cmd.cancelled {
			cmd.deferred.SetException(err)
		}
	}
}

// Close flips the engine to closed and asks the transport to close.
func (e *Engine) Close() {
	if e.state == StateClosed {
		return
	}
	if e.transport != nil {
		_ = e.transport.Close()
	}
	e.fail(obelus.NewConnectionLost(nil))
}

// ConnectionLost fails every queued and in-flight command with
// ConnectionLost and transitions to closed (spec.md §4.4).
func (e *Engine) ConnectionLost(cause error) {
	if e.state == StateClosed {
		return
	}
	e.fail(obelus.NewConnectionLost(cause))
}

func (e *Engine) fail(err error) {
	if e.state == StateClosed {
		return
	}
	e.state = StateClosed
	for _, cmd := range e.queue {
		if !cmd.cancelled {
			cmd.deferred.SetException(err)
		}
	}
	e.queue = nil
}
