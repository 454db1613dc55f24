package node

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vk/mellongo/internal/registry"
)

// ResourceCache is the subset of the device cache a node uses.
type ResourceCache interface {
	Register(object any, id, device string, priority int) string
	Get(id string) (any, bool)
	IsCached(id string) bool
	Load(ctx context.Context, id, device string) (any, error)
	Unload(ctx context.Context, id string) (any, error)
	Update(ctx context.Context, id string, object any, priority int, unloadFirst bool) error
	Delete(ctx context.Context, ids []string, alsoUnload bool) error
	EvictNext(ctx context.Context, device string, exclude ...string) (bool, error)
	FlashLoad(ctx context.Context, object any, id, device string, priority int) (any, error)
	Flush(collect bool)
}

// Output maps output names to values. A snapshot returned by an Instance
// must be treated as read-only.
type Output map[string]any

// State is the node's position in its execution cycle.
type State int32

const (
	Idle State = iota
	Validating
	Executing
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Validating:
		return "validating"
	case Executing:
		return "executing"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Instance is one memoizing graph node.
type Instance struct {
	id     string
	action *registry.Action
	cache  ResourceCache
	device string
	logger *slog.Logger
	// forceUnload moves owned resources to the host before deleting them.
	forceUnload bool

	// mu serializes calls.
	mu     sync.Mutex
	params map[string]any

	output   atomic.Pointer[Output]
	state    atomic.Int32
	duration atomic.Int64

	ownMu sync.Mutex
	owned []registry.Ownership
}

// Option configures an Instance.
type Option func(*Instance)

// WithDevice sets the device resources are placed on by default.
func WithDevice(device string) Option {
	return func(i *Instance) { i.device = device }
}

// WithLogger sets the node's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Instance) { i.logger = logger }
}

// WithForceUnload controls whether owned resources are moved to the host
// before they are deleted. It defaults to true.
func WithForceUnload(force bool) Option {
	return func(i *Instance) { i.forceUnload = force }
}

// New creates a node bound to action. An empty id creates a direct node
// that runs its action on every call without validation or memoization.
func New(id string, action *registry.Action, cache ResourceCache, opts ...Option) *Instance {
	i := &Instance{
		id:          id,
		action:      action,
		cache:       cache,
		device:      "cpu",
		logger:      slog.Default(),
		forceUnload: true,
		params:      make(map[string]any),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With("node", id, "module", action.Module, "action", action.Name)
	i.resetOutput()
	return i
}

func (i *Instance) ID() string { return i.id }
func (i *Instance) Action() *registry.Action { return i.action }
func (i *Instance) State() State { return State(i.state.Load()) }

// Output returns the current output snapshot.
func (i *Instance) Output() Output {
	return *i.output.Load()
}

// Params returns a copy of the last accepted parameters.
func (i *Instance) Params() map[string]any {
	i.mu.Lock()
	defer i.mu.Unlock()
	return maps.Clone(i.params)
}

// LastDuration is the time the compute function took on the last call.
// It is zero when the last call was served from the memoized output.
func (i *Instance) LastDuration() time.Duration {
	return time.Duration(i.duration.Load())
}

// Owned returns the resources the node has registered.
func (i *Instance) Owned() []registry.Ownership {
	i.ownMu.Lock()
	defer i.ownMu.Unlock()
	return append([]registry.Ownership(nil), i.owned...)
}

// OutputEmpty reports whether every output slot is absent.
func (i *Instance) OutputEmpty() bool {
	for _, v := range i.Output() {
		if v != nil {
			return false
		}
	}
	return true
}

// Release deletes every resource the node owns from the device cache.
func (i *Instance) Release(ctx context.Context) error {
	i.ownMu.Lock()
	ids := make([]string, 0, len(i.owned))
	for _, o := range i.owned {
		ids = append(ids, o.ResourceID)
	}
	i.owned = nil
	i.ownMu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	i.logger.Debug("Releasing node resources.", "resources", ids)
	return i.cache.Delete(ctx, ids, i.forceUnload)
}

func (i *Instance) resetOutput() {
	out := make(Output)
	for _, name := range i.action.Outputs() {
		out[name] = nil
	}
	i.output.Store(&out)
}

func (i *Instance) own(o registry.Ownership) {
	i.ownMu.Lock()
	defer i.ownMu.Unlock()
	for _, existing := range i.owned {
		if existing.ResourceID == o.ResourceID {
			return
		}
	}
	i.owned = append(i.owned, o)
}
