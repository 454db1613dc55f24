package hcl

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/mellongo/internal/config"
	"github.com/vk/mellongo/internal/ctxlog"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct{}

var _ config.Loader = (*Loader)(nil)

// NewLoader creates a new HCL settings loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses the settings file at path and overlays it onto s. Declared
// devices replace the devices already in s.
func (l *Loader) Load(ctx context.Context, path string, s *config.Settings) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path", path)

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("error accessing settings file %s: %w", path, err)
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
	}
	return l.decode(ctx, path, file.Body, s)
}

// LoadBytes is Load for in-memory content; filename is only used in
// diagnostics.
func (l *Loader) LoadBytes(ctx context.Context, src []byte, filename string, s *config.Settings) error {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	return l.decode(ctx, filename, file.Body, s)
}

func (l *Loader) decode(ctx context.Context, filename string, body hcl.Body, s *config.Settings) error {
	logger := ctxlog.FromContext(ctx)

	var root fileRoot
	if diags := gohcl.DecodeBody(body, nil, &root); diags.HasErrors() {
		return fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}
	if attrs, _ := root.Remain.JustAttributes(); len(attrs) > 0 {
		for name := range attrs {
			logger.Warn("Ignoring unknown settings attribute.", "file", filename, "attribute", name)
		}
	}

	if b := root.Server; b != nil {
		set(&s.Server.Host, b.Host)
		set(&s.Server.Port, b.Port)
		set(&s.Server.CORS, b.CORS)
		set(&s.Server.CORSRoute, b.CORSRoute)
	}
	if b := root.Log; b != nil {
		set(&s.Log.Level, b.Level)
		set(&s.Log.Format, b.Format)
	}
	if b := root.App; b != nil {
		set(&s.App.Workers, b.Workers)
		set(&s.App.QueueSize, b.QueueSize)
		set(&s.App.HealthcheckPort, b.HealthcheckPort)
		if b.GlobalSeed != nil {
			if *b.GlobalSeed < 0 {
				return fmt.Errorf("%s: global_seed cannot be negative", filename)
			}
			s.App.GlobalSeed = uint64(*b.GlobalSeed)
		}
	}

	if len(root.Devices) > 0 {
		devices := make([]config.Device, 0, len(root.Devices))
		for _, b := range root.Devices {
			d := config.Device{Name: b.Name}
			if b.Memory != nil {
				memory, err := humanize.ParseBytes(*b.Memory)
				if err != nil {
					return fmt.Errorf("%s: device '%s' has invalid memory %q: %w", filename, b.Name, *b.Memory, err)
				}
				d.Memory = memory
			}
			if b.Default != nil {
				d.Default = *b.Default
			}
			devices = append(devices, d)
			logger.Debug("Device declared.", "device", d.Name, "memory", humanize.IBytes(d.Memory), "default", d.Default)
		}
		s.Devices = devices
	}

	logger.Debug("HCL settings loaded.", "file", filename, "devices", len(s.Devices))
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
