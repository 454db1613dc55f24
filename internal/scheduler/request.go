package scheduler

import "context"

// ParamValue is one parameter of a node inside a graph request. Either
// Value holds a literal, or SourceID/SourceKey point at an output of
// another node.
type ParamValue struct {
	Value     any    `json:"value,omitempty"`
	SourceID  string `json:"sourceId,omitempty"`
	SourceKey string `json:"sourceKey,omitempty"`
	Display   string `json:"display,omitempty"`
	Type      string `json:"type,omitempty"`
}

// NodeSpec names the action a graph node runs and its parameters.
type NodeSpec struct {
	Module string                 `json:"module"`
	Action string                 `json:"action"`
	Params map[string]*ParamValue `json:"params"`
}

// GraphRequest asks for a whole graph to be walked along Paths.
type GraphRequest struct {
	SessionID string               `json:"sid"`
	Nodes     map[string]*NodeSpec `json:"nodes"`
	Paths     [][]string           `json:"paths"`
}

// SingleRequest runs one action once on an unmemoized node.
type SingleRequest struct {
	SessionID string         `json:"sid"`
	NodeID    string         `json:"node,omitempty"`
	Module    string         `json:"module"`
	Action    string         `json:"action"`
	Kwargs    map[string]any `json:"kwargs"`
}

// Event types sent to sessions.
const (
	EventProgress       = "progress"
	EventExecuted       = "executed"
	EventUpdateValues   = "updateValues"
	EventSingleExecuted = "single_executed"
	EventError          = "error"
)

// Event is one outbound message for a session.
type Event struct {
	Type     string `json:"type"`
	NodeID   string `json:"nodeId,omitempty"`
	Progress *int   `json:"progress,omitempty"`
	Time     string `json:"time,omitempty"`
	Key      string `json:"key,omitempty"`
	Value    any    `json:"value,omitempty"`
	Data     any    `json:"data,omitempty"`
	Error    string `json:"error,omitempty"`
	Module   string `json:"module,omitempty"`
	Action   string `json:"action,omitempty"`
	Result   any    `json:"result,omitempty"`
}

// Notifier delivers events to a session. Implementations must not block
// for long: Notify is called from the control loop and from workers.
type Notifier interface {
	Notify(ctx context.Context, sessionID string, ev Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, sessionID string, ev Event)

func (f NotifierFunc) Notify(ctx context.Context, sessionID string, ev Event) {
	f(ctx, sessionID, ev)
}

func progressEvent(nodeID string, percent int) Event {
	return Event{Type: EventProgress, NodeID: nodeID, Progress: &percent}
}
