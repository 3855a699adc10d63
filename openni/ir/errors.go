package ir

import (
	"fmt"

	"github.com/hcitlab/irgen/openni"
)

// StatusError is returned when a node call fails or the node is in an error
// state.  The two causes are kept apart so callers can tell a stale error
// from a fresh one.
type StatusError struct {
	// Op is the adapter operation, e.g. "start generating"
	Op string

	// Prior is the node's persistent error state, sampled after the call
	Prior openni.Status

	// Call is the status returned by the call itself
	Call openni.Status
}

// Aggregate returns Prior | Call, the single code older callers compare against
func (e *StatusError) Aggregate() openni.Status {
	return e.Prior | e.Call
}

// Stale reports if the call itself succeeded and only a prior error is active
func (e *StatusError) Stale() bool {
	return e.Call == openni.StatusOK && e.Prior != openni.StatusOK
}

func (e *StatusError) Error() string {
	switch {
	case e.Call != openni.StatusOK && e.Prior != openni.StatusOK:
		return fmt.Sprintf("ir: %s: %v (node error state %v)", e.Op, e.Call, e.Prior)
	case e.Call != openni.StatusOK:
		return fmt.Sprintf("ir: %s: %v", e.Op, e.Call)
	default:
		return fmt.Sprintf("ir: %s: node in error state %v", e.Op, e.Prior)
	}
}

// Unwrap returns the call status if it failed, else the prior error state
func (e *StatusError) Unwrap() error {
	if e.Call != openni.StatusOK {
		return e.Call
	}
	return e.Prior
}

// result returns nil when both statuses are OK
func result(op string, prior, call openni.Status) error {
	if prior == openni.StatusOK && call == openni.StatusOK {
		return nil
	}
	return &StatusError{Op: op, Prior: prior, Call: call}
}
