package registry

import (
	"sort"
)

// Module is the interface that all core modules must implement to be registered.
type Module interface {
	Register(r *Registry)
}

// Registry holds the registered actions of a single application instance,
// keyed by module then action name.
type Registry struct {
	actions map[string]map[string]*Action
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{
		actions: make(map[string]map[string]*Action),
	}
}

// Lookup returns the action registered as module.action.
func (r *Registry) Lookup(module, action string) (*Action, bool) {
	actions, ok := r.actions[module]
	if !ok {
		return nil, false
	}
	a, ok := actions[action]
	return a, ok
}

// Modules returns the registered module names in sorted order.
func (r *Registry) Modules() []string {
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Actions returns every registered action sorted by module then name.
func (r *Registry) Actions() []*Action {
	var out []*Action
	for _, module := range r.Modules() {
		for _, a := range r.actions[module] {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].Name < out[j].Name
	})
	return out
}
