package scheduler

import (
	"context"
	"fmt"
	"regexp"
	goruntime "runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/vk/mellongo/internal/compare"
	"github.com/vk/mellongo/internal/ctxlog"
	"github.com/vk/mellongo/internal/dag"
	"github.com/vk/mellongo/internal/node"
	"github.com/vk/mellongo/internal/registry"
)

// spawnIndex matches parameters that collect several sources into a list,
// e.g. "images[0]", "images[1]".
var spawnIndex = regexp.MustCompile(`\[(\d+)\]$`)

// uiField is a UI display parameter waiting for its node to execute.
type uiField struct {
	key    string
	source string
	kind   string
}

func (s *Scheduler) runGraph(ctx context.Context, req *GraphRequest) error {
	logger := ctxlog.FromContext(ctx).With("sid", req.SessionID)
	if err := s.check(req); err != nil {
		return &RunError{SessionID: req.SessionID, Err: err}
	}

	logger.Info("🚀 Graph run started.", "nodes", len(req.Nodes), "paths", len(req.Paths))
	// node id -> random keys already drawn during this run
	randomized := make(map[string]map[string]bool)
	for _, path := range req.Paths {
		for _, id := range path {
			if err := ctx.Err(); err != nil {
				return &RunError{SessionID: req.SessionID, NodeID: id, Err: err}
			}
			if err := s.step(ctx, req, id, randomized); err != nil {
				return &RunError{SessionID: req.SessionID, NodeID: id, Err: err}
			}
			goruntime.Gosched()
		}
	}
	logger.Info("🏁 Graph run finished.")
	return nil
}

// check rejects requests that cannot be walked: unknown actions, sources
// outside the request, cycles, and paths that visit a node before one of
// its sources.
func (s *Scheduler) check(req *GraphRequest) error {
	g := dag.New()
	ids := make([]string, 0, len(req.Nodes))
	for id, spec := range req.Nodes {
		if spec == nil {
			return fmt.Errorf("node '%s' has no definition", id)
		}
		if _, ok := s.registry.Lookup(spec.Module, spec.Action); !ok {
			return fmt.Errorf("node '%s' uses unknown action '%s.%s'", id, spec.Module, spec.Action)
		}
		ids = append(ids, id)
		g.AddNode(id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		for name, p := range req.Nodes[id].Params {
			if p == nil || p.SourceID == "" || p.Display == registry.DisplayUI {
				continue
			}
			if !g.Has(p.SourceID) {
				return fmt.Errorf("param '%s' of node '%s' reads from node '%s' which is not part of the graph", name, id, p.SourceID)
			}
			if err := g.AddEdge(p.SourceID, id); err != nil {
				return err
			}
		}
	}
	if err := g.DetectCycles(); err != nil {
		return err
	}
	return g.CheckWalk(req.Paths)
}

func (s *Scheduler) step(ctx context.Context, req *GraphRequest, id string, randomized map[string]map[string]bool) error {
	spec := req.Nodes[id]
	action, _ := s.registry.Lookup(spec.Module, spec.Action)
	logger := ctxlog.FromContext(ctx).With("node", id, "module", spec.Module, "action", spec.Action)
	logger.Debug("Executing node.")

	args, fields, err := s.resolve(action, spec)
	if err != nil {
		return err
	}
	s.randomize(ctx, req.SessionID, id, spec, args, randomized)

	inst, existed := s.instance(ctx, id, action)
	var previous any
	if existed {
		previous = inst.Output()
	}

	s.notify(ctx, req.SessionID, progressEvent(id, -1))
	callCtx := node.WithProgress(ctx, func(percent int) {
		s.notify(ctx, req.SessionID, progressEvent(id, percent))
	})
	var out node.Output
	err = s.pool.run(ctx, func() error {
		var callErr error
		out, callErr = inst.Call(callCtx, args)
		return callErr
	})
	if err != nil {
		logger.Error("Node execution failed.", "error", err)
		return err
	}

	executed := Event{Type: EventExecuted, NodeID: id, Time: seconds(inst)}
	if action.Kind() == registry.Continuous && !compare.Different(previous, out) {
		logger.Debug("Continuous node output unchanged, skipping UI updates.")
		s.notify(ctx, req.SessionID, executed)
		return nil
	}
	s.notify(ctx, req.SessionID, executed)
	logger.Debug("Node executed.", "duration", inst.LastDuration())

	for _, f := range fields {
		ev, err := s.uiEvent(id, f, out)
		if err != nil {
			return err
		}
		s.notify(ctx, req.SessionID, ev)
	}
	return nil
}

// resolve builds the compute arguments of a node and collects its UI
// fields.
func (s *Scheduler) resolve(action *registry.Action, spec *NodeSpec) (map[string]any, []uiField, error) {
	args := make(map[string]any)
	var fields []uiField

	for _, name := range paramOrder(spec.Params) {
		p := spec.Params[name]
		if p == nil {
			continue
		}
		if p.Display == registry.DisplayUI {
			switch p.Type {
			case registry.TypeImage, registry.Type3D, registry.TypeText:
				source := p.SourceKey
				if source == "" {
					if declared, ok := action.Param(name); ok {
						source = declared.Source
					}
				}
				fields = append(fields, uiField{key: name, source: source, kind: p.Type})
			}
			continue
		}
		if p.SourceID == "" {
			args[name] = p.Value
			continue
		}

		v, err := s.sourceValue(p.SourceID, p.SourceKey)
		if err != nil {
			return nil, nil, err
		}
		if !spawnIndex.MatchString(name) {
			args[name] = v
			continue
		}
		key := spawnIndex.ReplaceAllString(name, "")
		switch cur := args[key].(type) {
		case nil:
			args[key] = []any{v}
		case []any:
			args[key] = append(cur, v)
		default:
			args[key] = []any{cur, v}
		}
	}
	return args, fields, nil
}

func (s *Scheduler) sourceValue(id, key string) (any, error) {
	src, ok := s.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("source node '%s' has not been executed", id)
	}
	v, ok := src.Output()[key]
	if !ok {
		return nil, fmt.Errorf("source node '%s' has no output '%s'", id, key)
	}
	return v, nil
}

// randomize draws a value for every parameter whose random toggle is on,
// at most once per node and key during a run. The value is written back
// into the request so later visits reuse it.
func (s *Scheduler) randomize(ctx context.Context, sid, id string, spec *NodeSpec, args map[string]any, randomized map[string]map[string]bool) {
	keys := make([]string, 0)
	for key, v := range args {
		if on, ok := v.(bool); ok && on && strings.HasPrefix(key, registry.RandomPrefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		if randomized[id] == nil {
			randomized[id] = make(map[string]bool)
		}
		if randomized[id][key] {
			continue
		}
		randomized[id][key] = true

		field := strings.TrimPrefix(key, registry.RandomPrefix)
		value := s.rand.Int64N(1 << 53)
		args[field] = value
		if spec.Params[field] == nil {
			spec.Params[field] = &ParamValue{}
		}
		spec.Params[field].Value = value

		s.notify(ctx, sid, Event{Type: EventUpdateValues, NodeID: id, Key: field, Value: value})
	}
}

// instance returns the memoized node for id, creating it on first use.
// A node id reused for a different action gets a fresh instance.
func (s *Scheduler) instance(ctx context.Context, id string, action *registry.Action) (*node.Instance, bool) {
	logger := ctxlog.FromContext(ctx)
	if inst, ok := s.store.Get(id); ok {
		current := inst.Action()
		if current.Module == action.Module && current.Name == action.Name {
			return inst, true
		}
		logger.Info("Node id reused for a different action, replacing instance.",
			"node", id, "was", current.Module+"."+current.Name, "now", action.Module+"."+action.Name)
		if err := inst.Release(ctx); err != nil {
			logger.Warn("Failed to release replaced node.", "node", id, "error", err)
		}
	}
	inst := node.New(id, action, s.cache, node.WithDevice(s.device), node.WithLogger(logger))
	s.store.Put(id, inst)
	return inst, false
}

func (s *Scheduler) runSingle(ctx context.Context, req *SingleRequest) error {
	action, ok := s.registry.Lookup(req.Module, req.Action)
	if !ok {
		return &RunError{SessionID: req.SessionID, NodeID: req.NodeID,
			Err: fmt.Errorf("unknown action '%s.%s'", req.Module, req.Action)}
	}
	logger := ctxlog.FromContext(ctx)
	inst := node.New("", action, s.cache, node.WithDevice(s.device), node.WithLogger(logger))

	callCtx := node.WithProgress(ctx, func(percent int) {
		s.notify(ctx, req.SessionID, progressEvent(req.NodeID, percent))
	})
	var out node.Output
	err := s.pool.run(ctx, func() error {
		var callErr error
		out, callErr = inst.Call(callCtx, req.Kwargs)
		return callErr
	})
	if err != nil {
		return &RunError{SessionID: req.SessionID, NodeID: req.NodeID, Err: err}
	}

	logger.Debug("Single node executed.", "module", req.Module, "action", req.Action, "duration", inst.LastDuration())
	s.notify(ctx, req.SessionID, Event{
		Type:   EventSingleExecuted,
		NodeID: req.NodeID,
		Module: req.Module,
		Action: req.Action,
		Result: out,
	})
	return nil
}

func seconds(inst *node.Instance) string {
	return strconv.FormatFloat(inst.LastDuration().Seconds(), 'f', 2, 64)
}

// paramOrder sorts parameter names so that indexed names keep numeric
// order: "x[2]" comes before "x[10]".
func paramOrder(params map[string]*ParamValue) []string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		bi, ii := splitIndex(names[i])
		bj, ij := splitIndex(names[j])
		if bi != bj {
			return bi < bj
		}
		return ii < ij
	})
	return names
}

func splitIndex(name string) (string, int) {
	m := spawnIndex.FindStringSubmatchIndex(name)
	if m == nil {
		return name, -1
	}
	idx, _ := strconv.Atoi(name[m[2]:m[3]])
	return name[:m[0]], idx
}
