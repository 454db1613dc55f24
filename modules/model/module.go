// Package model provides actions that keep model weights on a device
// through the node resource cache. Weights and activations are simulated
// with device memory blocks, so the eviction and retry paths run without
// an accelerator.
package model

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math/rand/v2"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/vk/mellongo/internal/ctxlog"
	"github.com/vk/mellongo/internal/device"
	"github.com/vk/mellongo/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct {
	// Pool is the device memory weights and activations are taken from.
	Pool *device.Pool
}

// Ref is what a model node outputs: a handle to weights tracked by the
// cache. Downstream nodes load the weights by ResourceID.
type Ref struct {
	ResourceID string
	Name       string
	Size       uint64

	// weights is set when the model was created outside the cache.
	weights *device.Block
}

// Register registers the model actions.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterAction(&registry.Action{
		Module:      "model",
		Name:        "LoadModel",
		Label:       "Load Model",
		Category:    "model",
		Description: "Allocates model weights and places them on a device.",
		Params: []*registry.Param{
			{Name: "name", Label: "Model", Type: registry.TypeString, Default: "base"},
			{Name: "size", Label: "Weights", Type: registry.TypeString, Default: "512MiB"},
			{Name: "device", Label: "Device", Type: registry.TypeString, Default: ""},
			{Name: "priority", Label: "Priority", Type: registry.TypeInt, Display: "slider", Default: 1},
			{Name: "model", Label: "Model", Type: registry.TypeModel, Display: registry.DisplayOutput},
		},
		Fn: m.OnRunLoadModel,
	})
	r.RegisterAction(&registry.Action{
		Module:      "model",
		Name:        "Compile",
		Label:       "Compile",
		Category:    "model",
		Description: "Builds an optimized copy of a model next to the original.",
		Params: []*registry.Param{
			{Name: "model", Label: "Model", Type: registry.TypeModel},
			{Name: "mode", Label: "Mode", Type: registry.TypeString, Display: "select", Default: "default",
				Options: []any{"default", "reduce-overhead", "max-autotune"}},
			{Name: "compiled", Label: "Compiled", Type: registry.TypeModel, Display: registry.DisplayOutput},
		},
		Fn: m.OnRunCompile,
	})
	r.RegisterAction(&registry.Action{
		Module:      "model",
		Name:        "Generate",
		Label:       "Generate",
		Category:    "model",
		Description: "Runs the model to produce images.",
		Params: []*registry.Param{
			{Name: "model", Label: "Model", Type: registry.TypeModel},
			{Name: "prompt", Label: "Prompt", Type: registry.TypeString, Display: "textarea", Default: ""},
			{Name: "seed", Label: "Seed", Type: registry.TypeInt, Display: registry.DisplayRandom, Default: 0},
			{Name: "steps", Label: "Steps", Type: registry.TypeInt, Display: "slider", Default: 4},
			{Name: "count", Label: "Images", Type: registry.TypeInt, Default: 1},
			{Name: "width", Label: "Width", Type: registry.TypeInt, Default: 64},
			{Name: "height", Label: "Height", Type: registry.TypeInt, Default: 64},
			{Name: "activations", Label: "Activation memory", Type: registry.TypeString, Default: "64MiB"},
			{Name: "images", Label: "Images", Type: registry.TypeImage, Display: registry.DisplayOutput},
			{Name: "preview", Label: "Preview", Type: registry.TypeImage, Display: registry.DisplayUI, Source: "images"},
		},
		Fn: m.OnRunGenerate,
	})
}

// OnRunLoadModel allocates the weights, hands them to the cache and loads
// them on the target device, evicting colder resources when it is full.
func (m *Module) OnRunLoadModel(ctx context.Context, rt registry.Runtime, params map[string]any) (any, error) {
	name, _ := params["name"].(string)
	size, err := humanize.ParseBytes(fmt.Sprint(params["size"]))
	if err != nil {
		return nil, fmt.Errorf("invalid weights size: %w", err)
	}
	target, _ := params["device"].(string)
	if target == "" {
		target = rt.Device()
	}

	weights := m.Pool.NewBlock(name, size)
	own, err := rt.Register(ctx, weights, "weights", "", params["priority"].(int))
	if err != nil {
		return nil, err
	}
	ref := &Ref{ResourceID: own.ResourceID, Name: name, Size: size}
	if own.ResourceID == "" {
		ref.weights = weights
		return ref, nil
	}
	if _, err := rt.Load(ctx, own.ResourceID, target); err != nil {
		return nil, fmt.Errorf("failed to place %s on %s: %w", name, target, err)
	}
	ctxlog.FromContext(ctx).Info("Model loaded.", "model", name, "size", humanize.IBytes(size), "device", target)
	return ref, nil
}

// OnRunCompile registers a half-size optimized copy with a higher priority
// than its source and loads it, retrying after evictions when the device
// is full.
func (m *Module) OnRunCompile(ctx context.Context, rt registry.Runtime, params map[string]any) (any, error) {
	src, err := refOf(params["model"])
	if err != nil {
		return nil, err
	}
	mode, _ := params["mode"].(string)
	name := src.Name + "+" + mode
	compiled := m.Pool.NewBlock(name, src.Size/2)

	// Probe that the compiled graph fits without keeping it resident.
	probe := m.Pool.NewBlock(name+"/probe", compiled.Size())
	if _, err := rt.FlashLoad(ctx, probe, "probe", "", 0); err != nil {
		return nil, fmt.Errorf("compiled model does not fit on %s: %w", rt.Device(), err)
	}
	if err := probe.MoveTo(ctx, device.Host); err != nil {
		return nil, err
	}
	rt.Progress(50)

	own, err := rt.Register(ctx, compiled, "compiled", "", 2)
	if err != nil {
		return nil, err
	}
	ref := &Ref{ResourceID: own.ResourceID, Name: name, Size: compiled.Size()}
	if own.ResourceID == "" {
		ref.weights = compiled
		return ref, nil
	}
	exclude := []string{own.ResourceID}
	if src.ResourceID != "" {
		exclude = append(exclude, src.ResourceID)
	}
	if _, err := rt.Infer(ctx, rt.Device(), func() (any, error) {
		return rt.Load(ctx, own.ResourceID, rt.Device())
	}, exclude...); err != nil {
		return nil, err
	}
	return ref, nil
}

// OnRunGenerate loads the weights, reserves activation memory for the
// duration of the run and renders one image per requested sample. Running
// out of device memory evicts other resources and retries.
func (m *Module) OnRunGenerate(ctx context.Context, rt registry.Runtime, params map[string]any) (any, error) {
	ref, err := refOf(params["model"])
	if err != nil {
		return nil, err
	}
	activations, err := humanize.ParseBytes(fmt.Sprint(params["activations"]))
	if err != nil {
		return nil, fmt.Errorf("invalid activation size: %w", err)
	}
	steps, count := max(params["steps"].(int), 1), max(params["count"].(int), 1)
	w, h := params["width"].(int), params["height"].(int)
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("image must be at least 1x1, got %dx%d", w, h)
	}
	seed := uint64(params["seed"].(int))
	prompt, _ := params["prompt"].(string)
	dev := rt.Device()

	var exclude []string
	if ref.ResourceID != "" {
		exclude = append(exclude, ref.ResourceID)
	}
	out, err := rt.Infer(ctx, dev, func() (any, error) {
		if ref.ResourceID != "" {
			if _, err := rt.Load(ctx, ref.ResourceID, dev); err != nil {
				return nil, err
			}
		}
		if err := m.Pool.Reserve(dev, activations); err != nil {
			return nil, err
		}
		defer m.Pool.Release(dev, activations)

		images := make([]image.Image, count)
		for i := range images {
			for step := 1; step <= steps; step++ {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				rt.Progress((i*steps + step) * 100 / (count * steps))
			}
			images[i] = render(w, h, seed+uint64(i), prompt)
		}
		return images, nil
	}, exclude...)
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("Generation finished.", "model", ref.Name, "images", count, "seed", seed)
	return out, nil
}

// render paints a deterministic gradient for seed and prompt.
func render(w, h int, seed uint64, prompt string) image.Image {
	var salt uint64
	for _, r := range prompt {
		salt = salt*31 + uint64(r)
	}
	rng := rand.New(rand.NewPCG(seed, salt))
	from := color.NRGBA{R: uint8(rng.IntN(256)), G: uint8(rng.IntN(256)), B: uint8(rng.IntN(256)), A: 0xff}
	to := color.NRGBA{R: uint8(rng.IntN(256)), G: uint8(rng.IntN(256)), B: uint8(rng.IntN(256)), A: 0xff}

	img := imaging.New(w, h, from)
	for y := 0; y < h; y++ {
		t := float64(y) / float64(max(h-1, 1))
		c := color.NRGBA{
			R: lerp(from.R, to.R, t),
			G: lerp(from.G, to.G, t),
			B: lerp(from.B, to.B, t),
			A: 0xff,
		}
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t)
}

func refOf(v any) (*Ref, error) {
	ref, ok := v.(*Ref)
	if !ok || ref == nil {
		return nil, fmt.Errorf("expected a model, got %T", v)
	}
	return ref, nil
}
