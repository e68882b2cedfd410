package obelus

import (
	"bytes"
	"strings"
)

// Header is a single name/value pair from a header block. Name
// preserves the original case as written on the wire.
type Header struct {
	Name  string
	Value string
}

// HeaderBlock is an ordered sequence of headers terminated by a blank
// line. Lookup is case-insensitive and returns the first occurrence;
// use All for every occurrence of a repeated name.
type HeaderBlock struct {
	Headers []Header
}

// Get returns the value of the first header named name
// (case-insensitive) and whether it was present.
func (b HeaderBlock) Get(name string) (string, bool) {
	for _, h := range b.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// All returns every value for headers named name (case-insensitive),
// in wire order.
func (b HeaderBlock) All(name string) []string {
	var out []string
	for _, h := range b.Headers {
		if strings.EqualFold(h.Name, name) {
			out = append(out, h.Value)
		}
	}
	return out
}

// Framer accumulates a received byte stream and yields complete lines,
// one at a time. It is a pure function of (buffer, next-line): feeding
// the same bytes through any chunking, down to one byte per call,
// produces the same sequence of lines, satisfying the split-delivery
// property of spec.md §8.
//
// Framer does not decide protocol policy — it has no notion of AMI or
// AGI semantics, and no notion of a "header block": that grouping is
// built by each engine on top of NextLine, since only the engine knows
// where a mode switch (e.g. AMI's Follows body) falls relative to a
// line boundary.
type Framer struct {
	buf      []byte
	encoding Encoding
}

// NewFramer returns an empty framer using the UTF8 encoding. Use
// NewFramerWithEncoding for a non-default codec.
func NewFramer() *Framer { return &Framer{encoding: UTF8} }

// NewFramerWithEncoding returns an empty framer using the given
// encoding for decoding incoming bytes.
func NewFramerWithEncoding(enc Encoding) *Framer {
	if enc.Decode == nil {
		enc = UTF8
	}
	return &Framer{encoding: enc}
}

// Feed appends newly received bytes to the internal buffer. It does
// not itself produce lines; call NextLine to drain what is now
// complete.
func (f *Framer) Feed(p []byte) {
	f.buf = append(f.buf, p...)
}

// NextLine pops one complete CRLF- or LF-terminated line off the
// front of the buffer, trimming the terminator. ok is false when no
// complete line is currently buffered (the caller should wait for
// more Feed calls); the partial line, if any, stays buffered. An empty
// line (bare terminator) is returned as "", letting callers detect
// block boundaries explicitly.
func (f *Framer) NextLine() (line string, ok bool, err error) {
	idx := bytes.IndexByte(f.buf, '\n')
	if idx < 0 {
		return "", false, nil
	}
	raw := bytes.TrimSuffix(f.buf[:idx], []byte{'\r'})
	f.buf = f.buf[idx+1:]
	decoded, decErr := f.encoding.Decode(raw)
	if decErr != nil {
		return "", true, decErr
	}
	return decoded, true, nil
}

// ParseHeaderLine splits a single non-empty line at the first ':' and
// trims exactly one leading space from the value, per spec.md §3/§4.1.
// A line with no colon is malformed and reported as a ProtocolError
// carrying the offending text; policy (fail vs. skip) is the engine's.
func ParseHeaderLine(line string) (Header, error) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return Header{}, NewProtocolErrorLine("malformed header line", line)
	}
	name := line[:idx]
	value := line[idx+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return Header{Name: name, Value: value}, nil
}

// EmitHeaderBlock encodes headers as CRLF-terminated `Key: Value`
// lines followed by a blank line, ready for Transport.Write.
func EmitHeaderBlock(headers []Header) []byte {
	var buf bytes.Buffer
	for _, h := range headers {
		buf.WriteString(h.Name)
		buf.WriteString(": ")
		buf.WriteString(h.Value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	return buf.Bytes()
}
