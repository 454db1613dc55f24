package registry

import (
	"fmt"
	"log/slog"
)

// RegisterAction adds a to the registry. Params displayed as "random" get a
// companion "__random__<name>" toggle and are shown as plain numbers. It
// panics if module.action is already registered.
func (r *Registry) RegisterAction(a *Action) {
	if a.Module == "" || a.Name == "" {
		panic(fmt.Sprintf("action must have a module and a name, got %q.%q", a.Module, a.Name))
	}
	if _, exists := r.Lookup(a.Module, a.Name); exists {
		panic(fmt.Sprintf("action '%s.%s' already registered", a.Module, a.Name))
	}
	if a.Label == "" {
		a.Label = fmt.Sprintf("%s: %s", a.Module, a.Name)
	}
	a.ExecutionType = a.Kind()
	a.Params = expandRandomParams(a.Params)

	slog.Debug("Registering action.", "module", a.Module, "action", a.Name, "execution_type", a.ExecutionType)
	if r.actions[a.Module] == nil {
		r.actions[a.Module] = make(map[string]*Action)
	}
	r.actions[a.Module][a.Name] = a
}

func expandRandomParams(params []*Param) []*Param {
	out := make([]*Param, 0, len(params))
	for _, p := range params {
		out = append(out, p)
		if p.Display != DisplayRandom {
			continue
		}
		group := "random-" + p.Name
		p.Display = DisplayNumber
		p.Group = group
		out = append(out, &Param{
			Name:    RandomPrefix + p.Name,
			Label:   "Enable Random Seed",
			Type:    TypeBool,
			Display: DisplayIconToggle,
			Default: false,
			Group:   group,
			Icon:    "random",
		})
	}
	return out
}
