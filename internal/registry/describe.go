package registry

import (
	"regexp"
	"strings"
)

// Descriptor is the client-facing description of an action, served by the
// node listing endpoint.
type Descriptor struct {
	Label         string            `json:"label"`
	Module        string            `json:"module"`
	Action        string            `json:"action"`
	Category      string            `json:"category"`
	Description   string            `json:"description,omitempty"`
	ExecutionType ExecutionType     `json:"execution_type"`
	Params        map[string]*Param `json:"params"`
	ParamOrder    []string          `json:"param_order"`
}

var slugStrip = regexp.MustCompile(`[^\w\s-]`)

func slugify(text string) string {
	return strings.ReplaceAll(strings.TrimSpace(slugStrip.ReplaceAllString(text, "")), " ", "-")
}

// Describe returns every action keyed by "module-action".
func (r *Registry) Describe() map[string]*Descriptor {
	out := make(map[string]*Descriptor)
	for _, a := range r.Actions() {
		category := a.Category
		if category == "" {
			category = "default"
		}
		d := &Descriptor{
			Label:         a.Label,
			Module:        a.Module,
			Action:        a.Name,
			Category:      slugify(category),
			Description:   a.Description,
			ExecutionType: a.Kind(),
			Params:        make(map[string]*Param, len(a.Params)),
		}
		for _, p := range a.Params {
			d.Params[p.Name] = p
			d.ParamOrder = append(d.ParamOrder, p.Name)
		}
		out[a.Module+"-"+a.Name] = d
	}
	return out
}
