package compare

import (
	"image"
	"reflect"
)

// Fingerprinter exposes a content hash. When both values carry one, the
// hashes decide and contents are never inspected. ok is false when the
// value has no hash.
type Fingerprinter interface {
	Fingerprint() (hash string, ok bool)
}

// Shaped describes a tensor-like value.
type Shaped interface {
	Shape() []int
	DType() string
}

// Array is a Shaped value whose flat element storage can be read back as a
// Go slice.
type Array interface {
	Shaped
	Data() any
}

// Mesh exposes vertex and face arrays.
type Mesh interface {
	Vertices() any
	Faces() any
}

// Textured is implemented by meshes carrying a material image.
type Textured interface {
	Texture() image.Image
}

// Projectable exposes a plain-data view of a custom object.
type Projectable interface {
	ToMap() map[string]any
}

// Different reports whether a and b should be treated as distinct values.
func Different(a, b any) bool {
	if a == nil || b == nil {
		return !(a == nil && b == nil)
	}
	if identical(a, b) {
		return false
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return true
	}

	if fa, ok := a.(Fingerprinter); ok {
		fb := b.(Fingerprinter)
		ha, okA := fa.Fingerprint()
		hb, okB := fb.Fingerprint()
		if okA || okB {
			return okA != okB || ha != hb
		}
	}

	if sa, ok := a.(Shaped); ok {
		sb := b.(Shaped)
		if sa.DType() != sb.DType() || !equalInts(sa.Shape(), sb.Shape()) {
			return true
		}
	}

	if ia, ok := a.(image.Image); ok {
		return imagesDiffer(ia, b.(image.Image))
	}

	if ma, ok := a.(Mesh); ok {
		return meshesDiffer(ma, b.(Mesh))
	}

	if aa, ok := a.(Array); ok {
		return Different(aa.Data(), b.(Array).Data())
	}

	if differ, handled := numericDiffer(a, b); handled {
		return differ
	}

	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch va.Kind() {
	case reflect.Slice, reflect.Array:
		if va.Len() != vb.Len() {
			return true
		}
		for i := 0; i < va.Len(); i++ {
			if Different(elem(va.Index(i)), elem(vb.Index(i))) {
				return true
			}
		}
		return false
	case reflect.Map:
		if va.Len() != vb.Len() {
			return true
		}
		iter := va.MapRange()
		for iter.Next() {
			other := vb.MapIndex(iter.Key())
			if !other.IsValid() {
				return true
			}
			if Different(elem(iter.Value()), elem(other)) {
				return true
			}
		}
		return false
	}

	if pa, ok := a.(Projectable); ok {
		return Different(pa.ToMap(), b.(Projectable).ToMap())
	}

	return !reflect.DeepEqual(a, b)
}

// identical reports reference identity for pointer-like values. Value
// types never count as identical here; they are compared by content.
func identical(a, b any) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	}
	return false
}

// elem unwraps a reflected element into an interface value, keeping nil
// interface elements as untyped nil.
func elem(v reflect.Value) any {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if !v.CanInterface() {
		return nil
	}
	return v.Interface()
}

func meshesDiffer(a, b Mesh) bool {
	if Different(a.Vertices(), b.Vertices()) {
		return true
	}
	ta, okA := a.(Textured)
	tb, okB := b.(Textured)
	if okA && okB && Different(ta.Texture(), tb.Texture()) {
		return true
	}
	if Different(a.Faces(), b.Faces()) {
		return true
	}
	// Matching vertices, faces and texture are treated as the same mesh;
	// connectivity beyond that is not checked.
	return false
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
