package scheduler

import (
	"fmt"
	"image"
	"reflect"
	"strconv"

	"github.com/vk/mellongo/internal/node"
	"github.com/vk/mellongo/internal/registry"
)

// Images wider or taller than these are previewed at half scale.
const (
	maxPreviewSide      = 2048
	maxGridPreviewSide  = 1024
	reducedPreviewScale = 0.5
)

// uiEvent formats one UI field of nodeID. Text is inlined; images and
// meshes are referenced by a /view locator.
func (s *Scheduler) uiEvent(nodeID string, f uiField, out node.Output) (Event, error) {
	value := out[f.source]
	stamp := s.now().UnixMilli()
	ev := Event{Type: f.kind, Key: f.key, NodeID: nodeID}

	if f.kind == registry.TypeText {
		ev.Data = map[string]any{
			"url":   fmt.Sprintf("/view/text/%s/%s/0?t=%d", nodeID, f.source, stamp),
			"value": value,
		}
		return ev, nil
	}

	items := listOf(value)
	data := make([]map[string]any, 0, len(items))
	for i, item := range items {
		if f.kind == registry.Type3D {
			data = append(data, map[string]any{
				"url": fmt.Sprintf("/view/glb/%s/%s/%d?t=%d", nodeID, f.source, i, stamp),
			})
			continue
		}

		img, ok := item.(image.Image)
		if !ok {
			return Event{}, fmt.Errorf("output '%s' of node '%s' is %T, not an image", f.source, nodeID, item)
		}
		limit := maxPreviewSide
		if len(items) > 1 {
			limit = maxGridPreviewSide
		}
		b := img.Bounds()
		scale := 1.0
		if b.Dx() > limit || b.Dy() > limit {
			scale = reducedPreviewScale
		}
		data = append(data, map[string]any{
			"url": fmt.Sprintf("/view/png/%s/%s/%d?scale=%s&t=%d",
				nodeID, f.source, i, strconv.FormatFloat(scale, 'f', -1, 64), stamp),
			"width":  b.Dx(),
			"height": b.Dy(),
		})
	}
	ev.Data = data
	return ev, nil
}

// listOf spreads a list-valued output into its items. Byte slices are one
// item: a mesh payload is a single blob.
func listOf(value any) []any {
	switch v := value.(type) {
	case nil:
		return nil
	case []any:
		return v
	case []byte:
		return []any{v}
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice {
		return []any{value}
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items
}
