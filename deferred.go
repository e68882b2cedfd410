package obelus

// FaultSink receives non-fatal anomalies: unknown action ids, handler
// panics recovered from, unknown events with no registered handler.
// The default discards after logging (see WithFaultSink / engine
// loggers); it is never nil inside an engine.
type FaultSink func(error)

// Deferred is a single-shot result slot: exactly one of SetResult or
// SetException may be called, ever. Sinks attached before fulfilment
// are stored and invoked at fulfilment time; sinks attached after
// fulfilment run synchronously and immediately with the stored
// outcome. Sink panics are recovered and reported to the owning
// engine's fault sink rather than propagating into the caller.
//
// Deferred is not safe for concurrent use from multiple goroutines:
// per spec.md §5 every engine is single-threaded cooperative, and a
// Deferred is only ever touched from the thread driving that engine.
type Deferred[T any] struct {
	fault FaultSink

	done      bool
	cancelled bool
	value     T
	err       error

	onResult    func(T)
	onException func(error)
}

// NewDeferred creates an unfulfilled handle. fault may be nil, in
// which case sink panics are silently discarded (matching §4.2's
// "discard after logging" default when no sink was configured).
func NewDeferred[T any](fault FaultSink) *Deferred[T] {
	return &Deferred[T]{fault: fault}
}

// SetResult fulfils the handle with v. Calling it (or SetException) a
// second time returns InvalidState and has no other effect.
func (d *Deferred[T]) SetResult(v T) error {
	if d.done {
		return &InvalidState{Reason: "Deferred already fulfilled"}
	}
	d.done = true
	d.value = v
	if d.cancelled {
		return nil
	}
	if d.onResult != nil {
		d.invoke(func() { d.onResult(v) })
	}
	return nil
}

// SetException fails the handle with err. Calling it (or SetResult) a
// second time returns InvalidState and has no other effect.
func (d *Deferred[T]) SetException(err error) error {
	if d.done {
		return &InvalidState{Reason: "Deferred already fulfilled"}
	}
	d.done = true
	d.err = err
	if d.cancelled {
		return nil
	}
	if d.onException != nil {
		d.invoke(func() { d.onException(err) })
	}
	return nil
}

// Cancel suppresses delivery of the eventual outcome to any sink
// without changing the underlying protocol behavior: the engine still
// consumes and discards the reply that was in flight (§5
// Cancellation). A cancelled Deferred reports itself fulfilled once
// the suppressed outcome arrives, but attached sinks are never called.
func (d *Deferred[T]) Cancel() {
	d.cancelled = true
}

// OnResult attaches a success sink. If the handle is already fulfilled
// with a result (and not cancelled), fn runs synchronously now.
func (d *Deferred[T]) OnResult(fn func(T)) {
	d.onResult = fn
	if d.done && d.err == nil && !d.cancelled {
		d.invoke(func() { fn(d.value) })
	}
}

// OnException attaches a failure sink. If the handle is already
// fulfilled with an error (and not cancelled), fn runs synchronously
// now.
func (d *Deferred[T]) OnException(fn func(error)) {
	d.onException = fn
	if d.done && d.err != nil && !d.cancelled {
		d.invoke(func() { fn(d.err) })
	}
}

// Done reports whether the handle has been fulfilled.
func (d *Deferred[T]) Done() bool { return d.done }

// Outcome returns the stored result and error once Done; both are
// zero-valued before fulfilment.
func (d *Deferred[T]) Outcome() (T, error) { return d.value, d.err }

func (d *Deferred[T]) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if d.fault != nil {
				if err, ok := r.(error); ok {
					d.fault(err)
				} else {
					d.fault(NewProtocolError("sink panic"))
				}
			}
		}
	}()
	fn()
}
