package ami

import (
	"fmt"

	"github.com/surycat/obelus"
)

// CallStatus is a call tracker record's lifecycle (spec.md §4.3.2).
type CallStatus int

const (
	CallDialing CallStatus = iota
	CallUp
	CallHungUp
	CallFailed
)

func (s CallStatus) String() string {
	switch s {
	case CallDialing:
		return "dialing"
	case CallUp:
		return "up"
	case CallHungUp:
		return "hung-up"
	case CallFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// OriginateParams carries the headers of an Originate action. Channel
// is required; the rest are emitted only when non-empty. Variables are
// emitted as `Variable: key=value` lines.
type OriginateParams struct {
	Channel   string
	Context   string
	Exten     string
	Priority  string
	Timeout   string
	CallerID  string
	Variables map[string]string
}

func (p OriginateParams) headers() []obelus.Header {
	var h []obelus.Header
	add := func(name, value string) {
		if value != "" {
			h = append(h, obelus.Header{Name: name, Value: value})
		}
	}
	add("Channel", p.Channel)
	add("Context", p.Context)
	add("Exten", p.Exten)
	add("Priority", p.Priority)
	add("Timeout", p.Timeout)
	add("CallerID", p.CallerID)
	return h
}

func (p OriginateParams) variables() []VariableBinding {
	var vars []VariableBinding
	for k, v := range p.Variables {
		vars = append(vars, VariableBinding{Key: k, Value: v})
	}
	return vars
}

// OriginateOutcome is what an OriginateCall Deferred resolves with
// once the switch has confirmed the channel is up (or it hung up
// before reaching up). A failed originate fails the Deferred with an
// error instead.
type OriginateOutcome struct {
	UniqueID string
	Status   CallStatus
}

// callRecord is spec.md §3's "Call tracker record".
type callRecord struct {
	actionID string
	channel  string
	uniqueID string
	deferred *obelus.Deferred[OriginateOutcome]
	onStatus func(CallStatus)
	status   CallStatus
	settled  bool
}

// CallTracker correlates an Originate action with the unique-id-bearing
// events that follow it (spec.md §4.3.2), the one opinionated
// telephony model the core carries.
type CallTracker struct {
	engine *Engine
	// byActionID holds calls whose unique id hasn't arrived yet.
	byActionID map[string]*callRecord
	// byChannel holds the same calls, keyed by the dialed channel name,
	// so an early Newchannel (which in normal Asterisk ordering
	// precedes OriginateResponse and carries no ActionID) can still
	// find its record.
	byChannel  map[string]*callRecord
	byUniqueID map[string]*callRecord
}

// NewCallTracker layers a CallTracker atop engine, subscribing to the
// OriginateResponse/Newchannel/Hangup events it needs and failing
// every in-flight originate when the connection closes.
func NewCallTracker(engine *Engine) *CallTracker {
	t := &CallTracker{
		engine:     engine,
		byActionID: make(map[string]*callRecord),
		byChannel:  make(map[string]*callRecord),
		byUniqueID: make(map[string]*callRecord),
	}
	engine.Registry().Register("OriginateResponse", t.onOriginateResponse)
	engine.Registry().Register("Newchannel", t.onNewchannel)
	engine.Registry().Register("Hangup", t.onHangup)
	engine.OnClose(t.onConnectionLost)
	return t
}

// OriginateCall issues an Originate action and returns a Deferred that
// resolves once the matching unique-id-bearing event settles the call.
// onStatus, if non-nil, is invoked on every intermediate transition
// (dialing -> up -> hung-up, or -> failed).
func (t *CallTracker) OriginateCall(params OriginateParams, onStatus func(CallStatus)) *obelus.Deferred[OriginateOutcome] {
	d := obelus.NewDeferred[OriginateOutcome](t.engine.cfg.FaultSink)
	rec := &callRecord{deferred: d, onStatus: onStatus, status: CallDialing, channel: params.Channel}

	actionID, result := t.engine.SendAction("Originate", params.headers(), params.variables())
	// The action was pre-failed synchronously (not connected / write
	// error): propagate immediately and never register the record.
	if result.Done() {
		if _, err := result.Outcome(); err != nil {
			d.SetException(err)
			return d
		}
	}

	rec.actionID = actionID
	if rec.actionID != "" {
		t.byActionID[rec.actionID] = rec
	}
	if rec.channel != "" {
		t.byChannel[rec.channel] = rec
	}

	result.OnResult(func(ar ActionResult) {
		if ar.Response.Status == "Error" {
			t.settleFailed(rec)
			return
		}
		if uid, ok := ar.Response.Get("Uniqueid"); ok && uid != "" {
			t.bindUniqueID(rec, uid)
		}
	})
	result.OnException(func(err error) {
		// A connection lost while the Originate action is still pending
		// fails the call with that ConnectionLost, as onConnectionLost
		// does for calls whose action already completed.
		if lost, ok := err.(*obelus.ConnectionLost); ok && !rec.settled {
			rec.settled = true
			rec.deferred.SetException(lost)
		}
		t.settleFailed(rec)
	})

	return d
}

func (t *CallTracker) bindUniqueID(rec *callRecord, uid string) {
	if rec.uniqueID != "" {
		return
	}
	rec.uniqueID = uid
	t.byUniqueID[uid] = rec
	if rec.actionID != "" {
		delete(t.byActionID, rec.actionID)
	}
	if rec.channel != "" {
		delete(t.byChannel, rec.channel)
	}
}

// untrack removes rec from every lookup map once it has reached a
// terminal status (hung-up or failed); a settled-but-up record stays
// tracked so the Hangup that eventually follows can still find it.
func (t *CallTracker) untrack(rec *callRecord) {
	if rec.uniqueID != "" {
		delete(t.byUniqueID, rec.uniqueID)
	}
	if rec.actionID != "" {
		delete(t.byActionID, rec.actionID)
	}
	if rec.channel != "" {
		delete(t.byChannel, rec.channel)
	}
}

// onOriginateResponse handles the `OriginateResponse` event, which
// Asterisk tags with both the Originate action's own ActionID and the
// switch-assigned Uniqueid. If no earlier Newchannel has bound the
// Uniqueid, this is where a record moves from byActionID to
// byUniqueID, so Hangup (which carries no ActionID) can find it
// afterwards.
func (t *CallTracker) onOriginateResponse(ev Event) {
	var rec *callRecord
	if id, ok := ev.Get("ActionID"); ok {
		rec = t.byActionID[id]
	}
	if rec == nil {
		if uid, ok := ev.Get("Uniqueid"); ok {
			rec = t.byUniqueID[uid]
		}
	}
	if rec == nil {
		return
	}
	if uid, ok := ev.Get("Uniqueid"); ok && uid != "" && rec.uniqueID == "" {
		t.bindUniqueID(rec, uid)
	}

	success, _ := ev.Get("Response")
	if success == "Failure" {
		t.settleFailed(rec)
		return
	}
	t.transition(rec, CallUp)
	t.settle(rec, OriginateOutcome{UniqueID: rec.uniqueID, Status: CallUp})
}

// onNewchannel handles the `Newchannel` event. In normal Asterisk
// ordering this arrives before OriginateResponse, so byUniqueID is
// usually still empty; fall back to the channel name the Originate
// dialed, and bind the Uniqueid from here when that's how the record
// was found.
func (t *CallTracker) onNewchannel(ev Event) {
	uid, _ := ev.Get("Uniqueid")
	rec := t.byUniqueID[uid]
	if rec == nil {
		channel, _ := ev.Get("Channel")
		rec = t.byChannel[channel]
		if rec == nil {
			return
		}
		if uid != "" {
			t.bindUniqueID(rec, uid)
		}
	}
	t.transition(rec, CallDialing)
}

func (t *CallTracker) onHangup(ev Event) {
	uid, _ := ev.Get("Uniqueid")
	rec := t.byUniqueID[uid]
	if rec == nil {
		channel, _ := ev.Get("Channel")
		rec = t.byChannel[channel]
		if rec == nil {
			return
		}
	}
	t.transition(rec, CallHungUp)
	t.settle(rec, OriginateOutcome{UniqueID: rec.uniqueID, Status: CallHungUp})
	t.untrack(rec)
}

func (t *CallTracker) transition(rec *callRecord, status CallStatus) {
	rec.status = status
	if rec.onStatus != nil {
		rec.onStatus(status)
	}
}

// settle fulfils rec's Deferred exactly once. It does not untrack rec:
// a call settles (the Deferred resolves) once it reaches up, but the
// record must stay correlatable so the Hangup that eventually follows
// can still find it and report the terminal transition.
func (t *CallTracker) settle(rec *callRecord, outcome OriginateOutcome) {
	if rec.settled {
		return
	}
	rec.settled = true
	rec.deferred.SetResult(outcome)
}

func (t *CallTracker) settleFailed(rec *callRecord) {
	t.transition(rec, CallFailed)
	if !rec.settled {
		rec.settled = true
		rec.deferred.SetException(fmt.Errorf("ami: originate failed"))
	}
	t.untrack(rec)
}

// onConnectionLost fails every in-flight originate with
// ConnectionLost, per spec.md §4.3.2.
func (t *CallTracker) onConnectionLost(cause error) {
	lost := obelus.NewConnectionLost(cause)
	for _, rec := range t.byActionID {
		if !rec.settled {
			rec.settled = true
			rec.deferred.SetException(lost)
		}
	}
	for _, rec := range t.byUniqueID {
		if !rec.settled {
			rec.settled = true
			rec.deferred.SetException(lost)
		}
	}
	t.byActionID = make(map[string]*callRecord)
	t.byChannel = make(map[string]*callRecord)
	t.byUniqueID = make(map[string]*callRecord)
}
