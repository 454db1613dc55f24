package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/mellongo/internal/ctxlog"
)

// ValidateRegistry checks that every registered action is internally
// consistent: it has a compute function, its UI fields display declared
// outputs, and its defaults belong to their declared option sets.
func (r *Registry) ValidateRegistry(ctx context.Context) error {
	var errs []string
	logger := ctxlog.FromContext(ctx)

	for _, a := range r.Actions() {
		key := a.Module + "." + a.Name
		if a.Fn == nil {
			errs = append(errs, fmt.Sprintf("action '%s': no compute function", key))
		}
		switch a.Kind() {
		case Workflow, Continuous, Button:
		default:
			errs = append(errs, fmt.Sprintf("action '%s': unknown execution type '%s'", key, a.ExecutionType))
		}

		seen := make(map[string]struct{}, len(a.Params))
		for _, p := range a.Params {
			if p.Name == "" {
				errs = append(errs, fmt.Sprintf("action '%s': param without a name", key))
				continue
			}
			if _, dup := seen[p.Name]; dup {
				errs = append(errs, fmt.Sprintf("action '%s': param '%s' declared twice", key, p.Name))
			}
			seen[p.Name] = struct{}{}

			if p.IsUI() {
				src, ok := a.Param(p.Source)
				if !ok || !src.IsOutput() {
					errs = append(errs, fmt.Sprintf("action '%s', ui field '%s': source '%s' is not a declared output", key, p.Name, p.Source))
				}
				switch p.Type {
				case TypeImage, Type3D, TypeText:
				default:
					errs = append(errs, fmt.Sprintf("action '%s', ui field '%s': unsupported type '%s'", key, p.Name, p.Type))
				}
				continue
			}

			if len(p.Options) > 0 && p.Default != nil && !p.Allows(p.Default) {
				errs = append(errs, fmt.Sprintf("action '%s', param '%s': default %v is not one of the declared options", key, p.Name, p.Default))
			}
			if p.NoValidation && len(p.Options) == 0 {
				logger.Warn("Param disables option validation but declares no options.", "action", key, "param", p.Name)
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func containsOption(options []any, v any) bool {
	for _, o := range options {
		if fmt.Sprint(o) == fmt.Sprint(v) {
			return true
		}
	}
	return false
}
