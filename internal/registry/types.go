package registry

import "context"

// ExecutionType tells the scheduler how to treat an action's output.
type ExecutionType string

const (
	// Workflow actions are regular graph steps.
	Workflow ExecutionType = "workflow"
	// Continuous actions may return identical output across runs, e.g. a
	// live-updating source. Unchanged output suppresses UI emission.
	Continuous ExecutionType = "continuous"
	// Button actions are triggered on demand from the editor.
	Button ExecutionType = "button"
)

// Display values with special meaning to the node and the scheduler. Any
// other display (slider, number, select...) is a plain compute input.
const (
	DisplayOutput     = "output"
	DisplayUI         = "ui"
	DisplayRandom     = "random"
	DisplayNumber     = "number"
	DisplayIconToggle = "iconToggle"
)

// RandomPrefix marks the synthesized toggle that asks the scheduler to
// randomize the named parameter once per run.
const RandomPrefix = "__random__"

// InternalPrefix marks parameters that are never passed to compute functions.
const InternalPrefix = "__"

// Parameter types the node coerces incoming values to.
const (
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeBool   = "boolean"
	TypeString = "string"
	TypeImage  = "image"
	Type3D     = "3d"
	TypeText   = "text"
	TypeModel  = "model"
	TypeTensor = "tensor"
	TypeAny    = "any"
)

// PostProcessFunc rewrites a validated value. It receives every validated
// argument so it can apply cross-parameter rules.
type PostProcessFunc func(value any, params map[string]any) (any, error)

// Param declares one entry of an action's schema: an input, an output
// slot, or a UI display field.
type Param struct {
	Name        string `json:"-"`
	Label       string `json:"label,omitempty"`
	Type        string `json:"type,omitempty"`
	Display     string `json:"display,omitempty"`
	Default     any    `json:"default,omitempty"`
	Options     []any  `json:"options,omitempty"`
	Description string `json:"description,omitempty"`
	Group       string `json:"group,omitempty"`
	Icon        string `json:"icon,omitempty"`

	// NoValidation skips the option membership check.
	NoValidation bool `json:"no_validation,omitempty"`
	// Source names the output slot a UI field displays.
	Source      string          `json:"source,omitempty"`
	PostProcess PostProcessFunc `json:"-"`
}

// Allows reports whether v is one of the declared options. Params without
// options, or with validation disabled, allow anything.
func (p *Param) Allows(v any) bool {
	if len(p.Options) == 0 || p.NoValidation {
		return true
	}
	return containsOption(p.Options, v)
}

// IsOutput reports whether the param is an output slot.
func (p *Param) IsOutput() bool { return p.Display == DisplayOutput }

// IsUI reports whether the param is a pass-through UI display field.
func (p *Param) IsUI() bool { return p.Display == DisplayUI }

// IsInput reports whether the param is fed to the compute function.
func (p *Param) IsInput() bool { return !p.IsOutput() && !p.IsUI() }

// Ownership records that a node registered a resource with the device
// cache. The node's owned set is the list of these records.
type Ownership struct {
	ResourceID string
	NodeID     string
}

// Runtime is what a compute function sees of its node: resource helpers
// scoped to the node and a progress reporter.
type Runtime interface {
	// NodeID is empty for direct, unmemoized calls.
	NodeID() string
	// Device is the device resources should be placed on by default.
	Device() string

	// Register hands obj to the device cache and records the ownership.
	// An empty id is replaced by a generated, node-scoped one. If id is
	// already cached the existing entry is updated with obj instead. For
	// direct calls the object is not cached and the returned id is empty.
	Register(ctx context.Context, obj any, id, device string, priority int) (Ownership, error)
	// Resource returns the object registered under id, or nil.
	Resource(id string) any
	Load(ctx context.Context, id, device string) (any, error)
	Unload(ctx context.Context, id string) (any, error)
	// Update swaps the object and/or priority tracked under id. A nil obj or
	// zero priority leaves that attribute unchanged.
	Update(ctx context.Context, id string, obj any, priority int) error
	// Infer runs fn and, whenever it fails because device is full, evicts
	// one resource not named in exclude and retries.
	Infer(ctx context.Context, device string, fn func() (any, error), exclude ...string) (any, error)
	// FlashLoad places obj on device without leaving it cached.
	FlashLoad(ctx context.Context, obj any, id, device string, priority int) (any, error)

	// Progress reports completion in percent.
	Progress(percent int)
}

// ComputeFunc is the body of an action. It returns either a map of output
// name to value, which replaces the node's whole output, or a single value
// assigned to the first declared output.
type ComputeFunc func(ctx context.Context, rt Runtime, params map[string]any) (any, error)

// Action is the strongly typed descriptor of one (module, action) pair.
type Action struct {
	Module        string
	Name          string
	Label         string
	Category      string
	Description   string
	ExecutionType ExecutionType
	// Params is ordered; the first output param receives bare results.
	Params []*Param
	Fn     ComputeFunc
}

// Param looks up a param by name.
func (a *Action) Param(name string) (*Param, bool) {
	for _, p := range a.Params {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// Outputs returns the declared output slot names in order.
func (a *Action) Outputs() []string {
	var out []string
	for _, p := range a.Params {
		if p.IsOutput() {
			out = append(out, p.Name)
		}
	}
	return out
}

// Defaults returns a fresh map of every input param's default value.
func (a *Action) Defaults() map[string]any {
	defaults := make(map[string]any)
	for _, p := range a.Params {
		if p.IsInput() {
			defaults[p.Name] = p.Default
		}
	}
	return defaults
}

// Kind returns the execution type, defaulting to Workflow.
func (a *Action) Kind() ExecutionType {
	if a.ExecutionType == "" {
		return Workflow
	}
	return a.ExecutionType
}
