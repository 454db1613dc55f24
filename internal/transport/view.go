package transport

import (
	"bytes"
	"fmt"
	"image"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
)

var viewFormats = map[string]imaging.Format{
	"png":  imaging.PNG,
	"jpeg": imaging.JPEG,
}

// view serves one item of a node output: images re-encoded as PNG or JPEG,
// meshes as raw GLB bytes, anything else as JSON under "data".
func (a *API) view(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.PathValue("format"))
	nodeID, key := r.PathValue("node"), r.PathValue("key")

	inst, ok := a.sched.Node(nodeID)
	if !ok {
		http.Error(w, fmt.Sprintf("Node %s not found", nodeID), http.StatusNotFound)
		return
	}
	value, ok := inst.Output()[key]
	if !ok {
		http.Error(w, fmt.Sprintf("Key %s not found in node %s", key, nodeID), http.StatusNotFound)
		return
	}
	if value == nil {
		http.Error(w, fmt.Sprintf("No data found for %s", key), http.StatusNotFound)
		return
	}

	items := itemsOf(value)
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 || index >= len(items) {
		http.Error(w, fmt.Sprintf("Index %s out of bounds for %s", r.PathValue("index"), key), http.StatusNotFound)
		return
	}
	item := items[index]

	query := r.URL.Query()
	quality := clampInt(query.Get("quality"), 100, 0, 100)
	scale := clampFloat(query.Get("scale"), 1, 0.01, 2)
	filename := query.Get("filename")
	if filename == "" {
		filename = fmt.Sprintf("%s_%d.%s", key, index, format)
	}

	switch format {
	case "png", "jpeg":
		img, ok := item.(image.Image)
		if !ok {
			http.Error(w, fmt.Sprintf("%s is not an image", key), http.StatusUnsupportedMediaType)
			return
		}
		if scale != 1 {
			b := img.Bounds()
			img = imaging.Resize(img, max(int(float64(b.Dx())*scale), 1), max(int(float64(b.Dy())*scale), 1), imaging.CatmullRom)
		}
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, viewFormats[format], imaging.JPEGQuality(max(quality, 1))); err != nil {
			a.logger.Error("Failed to encode image.", "node", nodeID, "key", key, "error", err)
			http.Error(w, "failed to encode image", http.StatusInternalServerError)
			return
		}
		a.sendBytes(w, "image/"+format, filename, buf.Bytes())
	case "glb":
		payload, ok := item.([]byte)
		if !ok {
			http.Error(w, fmt.Sprintf("%s is not a mesh payload", key), http.StatusUnsupportedMediaType)
			return
		}
		a.sendBytes(w, "model/glb", key+".glb", payload)
	case "text":
		a.respond(w, http.StatusOK, map[string]any{"data": item})
	default:
		http.Error(w, fmt.Sprintf("Invalid format: %s", format), http.StatusNotFound)
	}
}

func (a *API) sendBytes(w http.ResponseWriter, contentType, filename string, body []byte) {
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Disposition", "inline; filename="+filename)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("Cache-Control", "max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// itemsOf spreads a list output into its items; byte slices are a single
// item.
func itemsOf(value any) []any {
	switch v := value.(type) {
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

func clampInt(raw string, def, lo, hi int) int {
	v, err := strconv.Atoi(raw)
	if err != nil {
		v = def
	}
	return min(max(v, lo), hi)
}

func clampFloat(raw string, def, lo, hi float64) float64 {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		v = def
	}
	return min(max(v, lo), hi)
}
