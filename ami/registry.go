package ami

import (
	"github.com/surycat/obelus"
	"go.uber.org/zap"
)

// Wildcard is the event name that receives every event after specific
// handlers have run (spec.md §4.3.1).
const Wildcard = "*"

// HandlerToken identifies a registered event handler for later
// unregistration.
type HandlerToken int

type handlerEntry struct {
	token   HandlerToken
	handler func(Event)
}

// EventRegistry dispatches AMI events to registered handlers in
// registration order, specific handlers before the wildcard. It is
// owned exclusively by one Engine (spec.md §5 "Shared resources").
type EventRegistry struct {
	handlers  map[string][]handlerEntry
	wildcard  []handlerEntry
	nextToken HandlerToken
	logger    *zap.Logger
}

// NewEventRegistry returns an empty registry. logger may be nil.
func NewEventRegistry(logger *zap.Logger) *EventRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventRegistry{handlers: make(map[string][]handlerEntry), logger: logger}
}

// Register attaches handler to eventName ("*" for the wildcard) and
// returns a token for Unregister.
func (r *EventRegistry) Register(eventName string, handler func(Event)) HandlerToken {
	r.nextToken++
	entry := handlerEntry{token: r.nextToken, handler: handler}
	if eventName == Wildcard {
		r.wildcard = append(r.wildcard, entry)
	} else {
		r.handlers[eventName] = append(r.handlers[eventName], entry)
	}
	return r.nextToken
}

// Unregister removes the handler registered under token, if any.
func (r *EventRegistry) Unregister(token HandlerToken) {
	for name, entries := range r.handlers {
		for i, e := range entries {
			if e.token == token {
				r.handlers[name] = append(entries[:i], entries[i+1:]...)
				return
			}
		}
	}
	for i, e := range r.wildcard {
		if e.token == token {
			r.wildcard = append(r.wildcard[:i], r.wildcard[i+1:]...)
			return
		}
	}
}

// Dispatch fires every handler registered for ev.Name, then every
// wildcard handler, in registration order. A handler panic is
// recovered, reported to fault, and does not stop the remaining
// handlers from running (spec.md §4.3.1).
func (r *EventRegistry) Dispatch(ev Event, fault obelus.FaultSink) {
	fired := false
	for _, entry := range r.handlers[ev.Name] {
		r.invoke(entry.handler, ev, fault)
		fired = true
	}
	for _, entry := range r.wildcard {
		r.invoke(entry.handler, ev, fault)
		fired = true
	}
	if !fired {
		fault(obelus.NewProtocolErrorLine("unhandled event", ev.Name))
	}
}

func (r *EventRegistry) invoke(handler func(Event), ev Event, fault obelus.FaultSink) {
	defer func() {
		if rec := recover(); rec != nil {
			if err, ok := rec.(error); ok {
				fault(err)
			} else {
				fault(obelus.NewProtocolErrorLine("event handler panic", ev.Name))
			}
		}
	}()
	handler(ev)
}
