package agi

import "fmt"

// AGICommandError is raised for status 510 ("invalid or unknown
// command"); it fails that command's handle only (spec.md §7).
type AGICommandError struct {
	Code  int
	Extra string
}

func (e *AGICommandError) Error() string {
	return fmt.Sprintf("agi: invalid or unknown command (%d): %s", e.Code, e.Extra)
}

// AGIChannelDead is raised for status 511; it fails that command and
// every subsequent send until the transport closes (spec.md §4.4,
// §7).
type AGIChannelDead struct {
	Extra string
}

func (e *AGIChannelDead) Error() string {
	return fmt.Sprintf("agi: dead channel: %s", e.Extra)
}

// AGIUsageError is raised for a 520 multi-line usage body; it fails
// that command only, the engine remains usable (spec.md §4.4, §7).
type AGIUsageError struct {
	BodyLines []string
}

func (e *AGIUsageError) Error() string {
	return "agi: usage error"
}
