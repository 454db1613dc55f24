// Package text provides plain text actions: sources, a display node and
// environment lookups.
package text

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/vk/mellongo/internal/ctxlog"
	"github.com/vk/mellongo/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the text actions.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterAction(&registry.Action{
		Module:        "text",
		Name:          "Text",
		Label:         "Text",
		Category:      "primitive",
		Description:   "A text source. Downstream nodes only refresh when the text changes.",
		ExecutionType: registry.Continuous,
		Params: []*registry.Param{
			{Name: "text", Label: "Text", Type: registry.TypeString, Display: "textarea", Default: ""},
			{Name: "out", Label: "Text", Type: registry.TypeString, Display: registry.DisplayOutput},
		},
		Fn: OnRunText,
	})
	r.RegisterAction(&registry.Action{
		Module:        "text",
		Name:          "Text2",
		Label:         "Send Text",
		Category:      "primitive",
		Description:   "A text source that is sent on demand.",
		ExecutionType: registry.Button,
		Params: []*registry.Param{
			{Name: "text", Label: "Text", Type: registry.TypeString, Display: "textarea", Default: ""},
			{Name: "out", Label: "Text", Type: registry.TypeString, Display: registry.DisplayOutput},
		},
		Fn: OnRunText,
	})
	r.RegisterAction(&registry.Action{
		Module:      "text",
		Name:        "DisplayText",
		Label:       "Display Text",
		Category:    "primitive",
		Description: "Shows its input in the editor.",
		Params: []*registry.Param{
			{Name: "text", Label: "Text", Type: registry.TypeString, Default: ""},
			{Name: "case", Label: "Case", Type: registry.TypeString, Display: "select", Default: "none", Options: []any{"none", "upper", "lower"}},
			{Name: "out", Label: "Text", Type: registry.TypeString, Display: registry.DisplayOutput},
			{Name: "preview", Label: "Preview", Type: registry.TypeText, Display: registry.DisplayUI, Source: "out"},
		},
		Fn: OnRunDisplayText,
	})
	r.RegisterAction(&registry.Action{
		Module:      "text",
		Name:        "EnvVar",
		Label:       "Environment Variable",
		Category:    "primitive",
		Description: "Reads a variable from the server's environment.",
		Params: []*registry.Param{
			{Name: "name", Label: "Name", Type: registry.TypeString, Default: ""},
			{Name: "fallback", Label: "Fallback", Type: registry.TypeString, Default: ""},
			{Name: "value", Label: "Value", Type: registry.TypeString, Display: registry.DisplayOutput},
			{Name: "found", Label: "Found", Type: registry.TypeBool, Display: registry.DisplayOutput},
		},
		Fn: OnRunEnvVar,
	})
}

// OnRunText returns its text unchanged.
func OnRunText(_ context.Context, _ registry.Runtime, params map[string]any) (any, error) {
	return params["text"], nil
}

// OnRunDisplayText applies the requested case and hands the text to the
// preview field.
func OnRunDisplayText(ctx context.Context, _ registry.Runtime, params map[string]any) (any, error) {
	text, _ := params["text"].(string)
	switch params["case"] {
	case "upper":
		text = strings.ToUpper(text)
	case "lower":
		text = strings.ToLower(text)
	}
	ctxlog.FromContext(ctx).Debug("Displaying text.", "length", len(text))
	return text, nil
}

// OnRunEnvVar looks the variable up, using the fallback when it is unset.
func OnRunEnvVar(_ context.Context, _ registry.Runtime, params map[string]any) (any, error) {
	name, _ := params["name"].(string)
	if name == "" {
		return nil, fmt.Errorf("variable name is required")
	}
	value, found := os.LookupEnv(name)
	if !found {
		value, _ = params["fallback"].(string)
	}
	return map[string]any{"value": value, "found": found}, nil
}
