package node

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/vk/mellongo/internal/compare"
	"github.com/vk/mellongo/internal/ctxlog"
	"github.com/vk/mellongo/internal/registry"
)

// Call runs the node with args and returns its output. On a memoized node
// the compute function only runs when the validated arguments differ from
// the last accepted ones or when the node has no output yet; otherwise the
// cached output is returned untouched. A compute function that fails or
// panics leaves the node rolled back.
func (i *Instance) Call(ctx context.Context, args map[string]any) (Output, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.id == "" {
		return i.direct(ctx, args)
	}

	logger := ctxlog.FromContext(ctx).With("node", i.id)
	i.state.Store(int32(Validating))
	values, err := i.validate(args)
	if err != nil {
		i.rollback()
		return nil, err
	}

	if !i.changed(values) && !i.OutputEmpty() {
		logger.Debug("Node parameters unchanged, serving cached output.")
		i.duration.Store(0)
		i.state.Store(int32(Idle))
		return i.Output(), nil
	}

	maps.Copy(i.params, values)
	if err := i.Release(ctx); err != nil {
		logger.Warn("Failed to release node resources.", "error", err)
	}

	i.state.Store(int32(Executing))
	result, err := i.run(ctx, public(i.params))
	if err != nil {
		i.rollback()
		return nil, &ActionError{Node: i.id, Module: i.action.Module, Action: i.action.Name, Err: err}
	}

	i.output.Store(i.normalize(result))
	i.state.Store(int32(Idle))
	i.cache.Flush(false)
	logger.Debug("Node executed.", "duration", i.LastDuration())
	return i.Output(), nil
}

// run calls the compute function, turning a panic into an error.
func (i *Instance) run(ctx context.Context, params map[string]any) (result any, err error) {
	rt := &runtime{inst: i, progress: progressFrom(ctx)}
	start := time.Now()
	defer func() {
		i.duration.Store(int64(time.Since(start)))
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("action panicked: %v", r)
		}
	}()
	return i.action.Fn(ctx, rt, params)
}

// direct runs the action for a node without an id. Arguments are coerced
// and merged onto the defaults like any other call, but nothing is
// memoized and no cache entries are registered.
func (i *Instance) direct(ctx context.Context, args map[string]any) (Output, error) {
	values, err := i.validate(args)
	if err != nil {
		return nil, err
	}
	result, err := i.run(ctx, public(values))
	if err != nil {
		return nil, &ActionError{Module: i.action.Module, Action: i.action.Name, Err: err}
	}
	out := i.normalize(result)
	i.output.Store(out)
	return *out, nil
}

func (i *Instance) changed(values map[string]any) bool {
	for key, v := range values {
		prev, ok := i.params[key]
		if !ok || compare.Different(prev, v) {
			return true
		}
	}
	return false
}

// rollback leaves the node as if it had never executed.
func (i *Instance) rollback() {
	i.params = make(map[string]any)
	i.resetOutput()
	i.cache.Flush(true)
	i.state.Store(int32(Failed))
}

// normalize turns a compute result into the node's next output. A map
// replaces the whole output; any other value fills the first declared
// output slot.
func (i *Instance) normalize(result any) *Output {
	switch m := result.(type) {
	case Output:
		out := maps.Clone(m)
		return &out
	case map[string]any:
		out := Output(maps.Clone(m))
		return &out
	}
	out := maps.Clone(i.Output())
	if out == nil {
		out = make(Output)
	}
	if outputs := i.action.Outputs(); len(outputs) > 0 {
		out[outputs[0]] = result
	} else if result != nil {
		i.logger.Warn("Action returned a value but declares no outputs; value dropped.")
	}
	return &out
}

// public drops internal "__" keys.
func public(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		if !strings.HasPrefix(k, registry.InternalPrefix) {
			out[k] = v
		}
	}
	return out
}

type progressKey struct{}

// ProgressFunc receives completion percentages from a running action.
type ProgressFunc func(percent int)

// WithProgress attaches a progress reporter for the actions run under ctx.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

func progressFrom(ctx context.Context) ProgressFunc {
	fn, _ := ctx.Value(progressKey{}).(ProgressFunc)
	return fn
}
