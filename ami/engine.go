package ami

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/surycat/obelus"
	"go.uber.org/zap"
)

// State is the AMI engine's lifecycle (spec.md §4.3).
type State int

const (
	StateDisconnected State = iota
	StateAwaitingBanner
	StateUnauthenticated
	StateAuthenticated
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAwaitingBanner:
		return "awaiting-banner"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var bannerPattern = regexp.MustCompile(`^Asterisk Call Manager/(.+)$`)

const endCommandSentinel = "--END COMMAND--"

// parseMode is which of the two parsing disciplines described in
// spec.md §4.1 the engine is currently pulling lines for.
type parseMode int

const (
	modeHeaderBlock parseMode = iota
	modeFollowsBody
)

// followsBody tracks an in-flight Follows response's accumulated body
// lines while the framer is in line-mode (spec.md §4.1, §4.3 item 1).
type followsBody struct {
	actionID string
	lines    []string
}

// Engine is the AMI protocol state machine described in spec.md §4.3.
// It owns no socket: it is driven by ConnectionMade/DataReceived/
// ConnectionLost and emits frames through the Transport it was given.
type Engine struct {
	cfg    Config
	logger *zap.Logger

	transport obelus.Transport
	state     State
	version   string

	framer  *obelus.Framer
	mode    parseMode
	pending []obelus.Header // header lines accumulated for the in-progress block
	follows *followsBody

	counter       uint64
	pendingAction map[string]*pendingAction
	registry      *EventRegistry

	closeListeners []func(error)
}

// NewEngine constructs an Engine. The engine does nothing until
// ConnectionMade is called.
func NewEngine(opts ...Option) *Engine {
	cfg := newConfig(opts...)
	logger := obelus.NewInstanceLogger(cfg.Logger).Named("ami")
	return &Engine{
		cfg:           cfg,
		logger:        logger,
		state:         StateDisconnected,
		framer:        obelus.NewFramerWithEncoding(cfg.Encoding),
		pendingAction: make(map[string]*pendingAction),
		registry:      NewEventRegistry(logger),
	}
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State { return e.state }

// Banner returns the Asterisk version string captured from the banner
// line, or "" before the banner has been seen.
func (e *Engine) Banner() string { return e.version }

// Registry exposes the event dispatch registry for
// RegisterEventHandler-style use (spec.md §4.3.1).
func (e *Engine) Registry() *EventRegistry { return e.registry }

// OnClose registers fn to run after every pending action has been
// failed and the state has become closed (spec.md §4.3 Termination).
// Used by CallTracker to fail in-flight originate handles.
func (e *Engine) OnClose(fn func(error)) {
	e.closeListeners = append(e.closeListeners, fn)
}

// ConnectionMade records transport and enters awaiting-banner.
func (e *Engine) ConnectionMade(transport obelus.Transport) {
	e.transport = transport
	e.state = StateAwaitingBanner
}

// DataReceived feeds newly received bytes through the framer and
// drives the state machine forward, one line at a time so a mode
// switch (header-block <-> Follows line-mode) always lands on the
// correct line regardless of how the caller chunked the bytes.
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

		if e.state == StateAwaitingBanner {
			e.handleBanner(line)
		} else if e.mode == modeFollowsBody {
			e.handleFollowsLine(line)
		} else {
			e.handleBlockLine(line)
		}

		if e.state == StateClosed {
			return
		}
	}
}

func (e *Engine) handleBanner(line string) {
	m := bannerPattern.FindStringSubmatch(line)
	if m == nil {
		e.fail(obelus.NewProtocolErrorLine("missing or malformed banner", line))
		return
	}
	e.version = m[1]
	e.state = StateUnauthenticated
}

func (e *Engine) handleFollowsLine(line string) {
	if line == endCommandSentinel {
		e.completeFollows()
		e.mode = modeHeaderBlock
		return
	}
	e.follows.lines = append(e.follows.lines, line)
}

func (e *Engine) handleBlockLine(line string) {
	if line == "" {
		if len(e.pending) == 0 {
			return
		}
		block := obelus.HeaderBlock{Headers: e.pending}
		e.pending = nil
		e.handleBlock(block)
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
	e.pending = append(e.pending, h)
}

func (e *Engine) completeFollows() {
	fb := e.follows
	e.follows = nil
	pa, ok := e.pendingAction[fb.actionID]
	if !ok {
		e.cfg.FaultSink(obelus.NewProtocolErrorLine("Follows body for unknown action id", fb.actionID))
		return
	}
	resp := *pa.response
	resp.Body = strings.Join(fb.lines, "\n")
	delete(e.pendingAction, fb.actionID)
	e.fulfilNonList(pa, resp)
}

func (e *Engine) handleBlock(block obelus.HeaderBlock) {
	if status, ok := block.Get("Response"); ok {
		e.handleResponse(status, block)
		return
	}
	if name, ok := block.Get("Event"); ok {
		e.handleEvent(name, block)
		return
	}
	e.cfg.FaultSink(obelus.NewProtocolError("header block is neither Response nor Event"))
}

func (e *Engine) handleResponse(status string, block obelus.HeaderBlock) {
	actionID, _ := block.Get("ActionID")
	pa, ok := e.pendingAction[actionID]
	if !ok {
		e.cfg.FaultSink(obelus.NewProtocolErrorLine("response for unknown ActionID", actionID))
		return
	}

	resp := Response{Status: status, ActionID: actionID, Headers: block}

	if status == "Error" {
		delete(e.pendingAction, actionID)
		if pa.name == "Login" {
			// A failed login never reaches the authenticated steady
			// state; the whole connection closes (spec.md §4.3).
			if !pa.cancelled {
				pa.deferred.SetException(&AMIActionError{ActionID: actionID, Message: resp.Message(), Response: resp})
			}
			e.fail(&AMIActionError{ActionID: actionID, Message: resp.Message(), Response: resp})
			return
		}
		if pa.cancelled {
			return
		}
		pa.deferred.SetException(&AMIActionError{ActionID: actionID, Message: resp.Message(), Response: resp})
		return
	}

	if status == "Follows" {
		e.mode = modeFollowsBody
		e.follows = &followsBody{actionID: actionID}
		pa.response = &resp
		return
	}

	if pa.isList {
		pa.response = &resp
		return
	}

	delete(e.pendingAction, actionID)
	if pa.name == "Login" && status == "Success" {
		e.state = StateAuthenticated
	}
	e.fulfilNonList(pa, resp)
}

func (e *Engine) fulfilNonList(pa *pendingAction, resp Response) {
	if pa.cancelled {
		return
	}
	pa.deferred.SetResult(ActionResult{Response: resp})
}

func (e *Engine) handleEvent(name string, block obelus.HeaderBlock) {
	actionID, hasID := block.Get("ActionID")
	ev := Event{Name: name, ActionID: actionID, Headers: block}

	if hasID {
		if pa, ok := e.pendingAction[actionID]; ok && pa.isList {
			e.accumulateListEvent(pa, ev)
			return
		}
	}

	e.registry.Dispatch(ev, e.cfg.FaultSink)
}

func (e *Engine) accumulateListEvent(pa *pendingAction, ev Event) {
	isTerminator := ev.Name == pa.terminator
	if isTerminator {
		if e.cfg.ListTerminatorIncluded {
			pa.events = append(pa.events, ev)
		}
		delete(e.pendingAction, pa.actionID)
		if !pa.cancelled {
			resp := Response{}
			if pa.response != nil {
				resp = *pa.response
			}
			pa.deferred.SetResult(ActionResult{Response: resp, Events: pa.events})
		}
		if e.cfg.AlsoDispatchTerminator {
			e.registry.Dispatch(ev, e.cfg.FaultSink)
		}
		return
	}
	pa.events = append(pa.events, ev)
}

// SendAction emits a plain (non-list) action and returns the engine-
// assigned ActionID together with a Deferred that resolves with its
// Response.
func (e *Engine) SendAction(name string, headers []obelus.Header, variables []VariableBinding) (string, *obelus.Deferred[ActionResult]) {
	return e.sendAction(name, headers, variables, "")
}

// SendListAction emits an action whose reply is a short response
// followed by a stream of events terminated by terminatorEvent
// (spec.md §3/§4.3). If name also appears in Config.ListActionTerminators
// this explicit terminatorEvent takes precedence.
func (e *Engine) SendListAction(name string, headers []obelus.Header, variables []VariableBinding, terminatorEvent string) (string, *obelus.Deferred[ActionResult]) {
	return e.sendAction(name, headers, variables, terminatorEvent)
}

func (e *Engine) sendAction(name string, headers []obelus.Header, variables []VariableBinding, terminatorEvent string) (string, *obelus.Deferred[ActionResult]) {
	d := obelus.NewDeferred[ActionResult](e.cfg.FaultSink)

	allowed := e.state == StateAuthenticated || (e.state == StateUnauthenticated && name == "Login")
	if !allowed {
		d.SetException(&obelus.NotConnected{Op: "send_action"})
		return "", d
	}

	e.counter++
	actionID := strconv.FormatUint(e.counter, 10)

	if terminatorEvent == "" {
		terminatorEvent = e.cfg.ListActionTerminators[name]
	}

	pa := &pendingAction{
		actionID:   actionID,
		name:       name,
		deferred:   d,
		isList:     terminatorEvent != "",
		terminator: terminatorEvent,
	}
	e.pendingAction[actionID] = pa

	frame := buildAction(name, actionID, headers, variables)
	if err := e.transport.Write(frame); err != nil {
		delete(e.pendingAction, actionID)
		d.SetException(err)
	}
	return actionID, d
}

func buildAction(name, actionID string, headers []obelus.Header, variables []VariableBinding) []byte {
	all := make([]obelus.Header, 0, len(headers)+2+len(variables))
	all = append(all, obelus.Header{Name: "Action", Value: name})
	all = append(all, obelus.Header{Name: "ActionID", Value: actionID})
	all = append(all, headers...)
	for _, v := range variables {
		all = append(all, obelus.Header{Name: "Variable", Value: fmt.Sprintf("%s=%s", v.Key, v.Value)})
	}
	return obelus.EmitHeaderBlock(all)
}

// Close begins an orderly shutdown: state becomes closing, the
// transport is asked to close, and the caller should call
// ConnectionLost once the underlying transport confirms closure.
func (e *Engine) Close() {
	if e.state == StateClosed || e.state == StateClosing {
		return
	}
	e.state = StateClosing
	if e.transport != nil {
		_ = e.transport.Close()
	}
}

// ConnectionLost fails every pending action with ConnectionLost,
// invokes every OnClose listener, and transitions to closed (spec.md
// §4.3 Termination).
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
	if e.transport != nil {
		_ = e.transport.Close()
	}
	for _, pa := range e.pendingAction {
		if !pa.cancelled {
			pa.deferred.SetException(err)
		}
	}
	e.pendingAction = make(map[string]*pendingAction)
	for _, fn := range e.closeListeners {
		fn(err)
	}
}
