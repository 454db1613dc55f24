package node

import "fmt"

// ValidationError reports an argument the action's schema rejects.
type ValidationError struct {
	Node   string
	Param  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("node %s: invalid value for %s: %v (%s)", e.Node, e.Param, e.Value, e.Reason)
}

// ActionError wraps an error returned by an action's compute function.
type ActionError struct {
	Node   string
	Module string
	Action string
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("node %s (%s.%s): %v", e.Node, e.Module, e.Action, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }
