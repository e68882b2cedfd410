package obelus

import "unicode/utf8"

// Encoding is the text codec a Framer decodes incoming bytes with and
// encodes outgoing text with. The default, UTF8, covers the common
// case; an embedder may supply another (e.g. Latin-1) for switches
// configured with a legacy locale.
type Encoding struct {
	Name   string
	Decode func([]byte) (string, error)
	Encode func(string) []byte
}

// UTF8 is the default Encoding (spec.md §6 "encoding (default UTF-8)").
var UTF8 = Encoding{
	Name: "utf-8",
	Decode: func(b []byte) (string, error) {
		if !utf8.Valid(b) {
			return "", NewProtocolErrorLine("invalid utf-8", string(b))
		}
		return string(b), nil
	},
	Encode: func(s string) []byte { return []byte(s) },
}
