package ami

import "github.com/surycat/obelus"

// Response is an AMI inbound response header block (spec.md §3): the
// echoed ActionID, the Response status, every other header, and (for
// a Follows response) the joined body.
type Response struct {
	Status   string // Success | Error | Follows | Goodbye | ...
	ActionID string
	Headers  obelus.HeaderBlock
	// Body holds the joined lines of a Follows response, newline
	// separated, with the --END COMMAND-- sentinel excluded.
	Body string
}

// Get returns the first value of the named header (case-insensitive).
func (r Response) Get(name string) (string, bool) { return r.Headers.Get(name) }

// Message is a convenience accessor for the common "Message" header.
func (r Response) Message() string {
	v, _ := r.Get("Message")
	return v
}

// Event is an AMI inbound asynchronous notification (spec.md §3). Name
// is the value of the Event header; ActionID is the value of the
// event's ActionID header, empty when the switch did not tag it (list
// action events and OriginateResponse carry one).
type Event struct {
	Name     string
	ActionID string
	Headers  obelus.HeaderBlock
}

// Get returns the first value of the named header (case-insensitive).
func (e Event) Get(name string) (string, bool) { return e.Headers.Get(name) }

// VariableBinding is one `Variable: key=value` line (spec.md §3).
type VariableBinding struct {
	Key   string
	Value string
}

// ActionResult is what a SendAction Deferred resolves with: the
// Response alone for a plain action, or the Response plus every
// accumulated Event for a list action (spec.md §4.3).
type ActionResult struct {
	Response Response
	// Events is nil for non-list actions, and holds the accumulated
	// sequence (terminator included per policy, see Config) for list
	// actions.
	Events []Event
}

// pendingAction is the record described in spec.md §3 "Pending action
// record". It lives from SendAction until a terminal response/list
// completion is observed, or the connection closes.
type pendingAction struct {
	actionID   string
	name       string
	deferred   *obelus.Deferred[ActionResult]
	cancelled  bool
	isList     bool
	terminator string
	response   *Response
	events     []Event
}
