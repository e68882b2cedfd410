package ami

import "fmt"

// AMIActionError is raised when a Response: Error header block arrives
// for a pending action; it fails that action's Deferred only (spec.md
// §7).
type AMIActionError struct {
	ActionID string
	Message  string
	Response Response
}

func (e *AMIActionError) Error() string {
	return fmt.Sprintf("ami: action %s failed: %s", e.ActionID, e.Message)
}
