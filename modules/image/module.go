// Package image provides image sources and transforms built on imaging.
package image

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/vk/mellongo/internal/ctxlog"
	"github.com/vk/mellongo/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

var filters = map[string]imaging.ResampleFilter{
	"nearest":    imaging.NearestNeighbor,
	"linear":     imaging.Linear,
	"catmullrom": imaging.CatmullRom,
	"lanczos":    imaging.Lanczos,
}

// Register registers the image actions.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterAction(&registry.Action{
		Module:      "image",
		Name:        "LoadImage",
		Label:       "Load Image",
		Category:    "image",
		Description: "Reads an image file from the server's disk.",
		Params: []*registry.Param{
			{Name: "path", Label: "Path", Type: registry.TypeString, Default: ""},
			{Name: "image", Label: "Image", Type: registry.TypeImage, Display: registry.DisplayOutput},
			{Name: "preview", Label: "Preview", Type: registry.TypeImage, Display: registry.DisplayUI, Source: "image"},
		},
		Fn: OnRunLoadImage,
	})
	r.RegisterAction(&registry.Action{
		Module:      "image",
		Name:        "Blank",
		Label:       "Blank Image",
		Category:    "image",
		Description: "A solid color canvas.",
		Params: []*registry.Param{
			{Name: "width", Label: "Width", Type: registry.TypeInt, Display: "slider", Default: 512},
			{Name: "height", Label: "Height", Type: registry.TypeInt, Display: "slider", Default: 512},
			{Name: "color", Label: "Color", Type: registry.TypeString, Display: "color", Default: "#000000"},
			{Name: "image", Label: "Image", Type: registry.TypeImage, Display: registry.DisplayOutput},
		},
		Fn: OnRunBlank,
	})
	r.RegisterAction(&registry.Action{
		Module:      "image",
		Name:        "Resize",
		Label:       "Resize",
		Category:    "image",
		Description: "Resizes every input image. A zero side keeps the aspect ratio.",
		Params: []*registry.Param{
			{Name: "images", Label: "Images", Type: registry.TypeImage},
			{Name: "width", Label: "Width", Type: registry.TypeInt, Default: 512},
			{Name: "height", Label: "Height", Type: registry.TypeInt, Default: 0},
			{Name: "filter", Label: "Filter", Type: registry.TypeString, Display: "select", Default: "lanczos",
				Options: []any{"nearest", "linear", "catmullrom", "lanczos"}},
			{Name: "images_out", Label: "Images", Type: registry.TypeImage, Display: registry.DisplayOutput},
		},
		Fn: OnRunResize,
	})
	r.RegisterAction(&registry.Action{
		Module:      "image",
		Name:        "Preview",
		Label:       "Preview Image",
		Category:    "image",
		Description: "Shows its input images in the editor.",
		Params: []*registry.Param{
			{Name: "images", Label: "Images", Type: registry.TypeImage},
			{Name: "images_out", Label: "Images", Type: registry.TypeImage, Display: registry.DisplayOutput},
			{Name: "preview", Label: "Preview", Type: registry.TypeImage, Display: registry.DisplayUI, Source: "images_out"},
		},
		Fn: OnRunPreview,
	})
}

// OnRunLoadImage decodes the file at path, honoring EXIF orientation.
func OnRunLoadImage(ctx context.Context, _ registry.Runtime, params map[string]any) (any, error) {
	path, _ := params["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("image path is required")
	}
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	ctxlog.FromContext(ctx).Debug("Image loaded.", "path", path, "bounds", img.Bounds())
	return img, nil
}

// OnRunBlank fills a new canvas with a hex color.
func OnRunBlank(_ context.Context, _ registry.Runtime, params map[string]any) (any, error) {
	w, h := params["width"].(int), params["height"].(int)
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("canvas must be at least 1x1, got %dx%d", w, h)
	}
	c, err := parseHex(fmt.Sprint(params["color"]))
	if err != nil {
		return nil, err
	}
	return imaging.New(w, h, c), nil
}

// OnRunResize resizes each image with the chosen filter.
func OnRunResize(ctx context.Context, rt registry.Runtime, params map[string]any) (any, error) {
	images, err := imagesOf(params["images"])
	if err != nil {
		return nil, err
	}
	w, h := params["width"].(int), params["height"].(int)
	if w <= 0 && h <= 0 {
		return nil, fmt.Errorf("width or height must be positive")
	}
	filter := filters[params["filter"].(string)]

	out := make([]image.Image, len(images))
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = imaging.Resize(img, max(w, 0), max(h, 0), filter)
		rt.Progress((i + 1) * 100 / len(images))
	}
	return out, nil
}

// OnRunPreview passes its images through to the preview field.
func OnRunPreview(_ context.Context, _ registry.Runtime, params map[string]any) (any, error) {
	return imagesOf(params["images"])
}

// imagesOf accepts one image or a list of them.
func imagesOf(v any) ([]image.Image, error) {
	switch t := v.(type) {
	case nil:
		return nil, fmt.Errorf("no input images")
	case image.Image:
		return []image.Image{t}, nil
	case []image.Image:
		return t, nil
	case []any:
		out := make([]image.Image, 0, len(t))
		for i, item := range t {
			img, ok := item.(image.Image)
			if !ok {
				return nil, fmt.Errorf("item %d is %T, not an image", i, item)
			}
			out = append(out, img)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected images, got %T", v)
}

func parseHex(s string) (color.NRGBA, error) {
	var c color.NRGBA
	c.A = 0xff
	if _, err := fmt.Sscanf(s, "#%02x%02x%02x", &c.R, &c.G, &c.B); err != nil {
		return c, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return c, nil
}
