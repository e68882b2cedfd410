// Package obelus provides the shared primitives used by the AMI and
// AGI protocol engines: the opaque transport contract, the line
// framer, the single-shot deferred result handle, and the error kinds
// both engines raise.
//
// Nothing in this package performs I/O. Every engine is driven by an
// embedder that owns a socket, pipe, or process and feeds received
// bytes through DataReceived; the engine emits frames by calling Write
// on the Transport it was handed in ConnectionMade.
package obelus
