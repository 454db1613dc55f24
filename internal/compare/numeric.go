package compare

import "github.com/x448/float16"

// numericDiffer compares the common flat numeric buffers element-wise
// without going through reflection. handled is false for any other type.
// Both arguments have the same dynamic type.
func numericDiffer(a, b any) (differ, handled bool) {
	switch x := a.(type) {
	case []float32:
		return !equalSlices(x, b.([]float32)), true
	case []float64:
		return !equalSlices(x, b.([]float64)), true
	case []int:
		return !equalSlices(x, b.([]int)), true
	case []int8:
		return !equalSlices(x, b.([]int8)), true
	case []int16:
		return !equalSlices(x, b.([]int16)), true
	case []int32:
		return !equalSlices(x, b.([]int32)), true
	case []int64:
		return !equalSlices(x, b.([]int64)), true
	case []uint8:
		return !equalSlices(x, b.([]uint8)), true
	case []uint16:
		return !equalSlices(x, b.([]uint16)), true
	case []uint32:
		return !equalSlices(x, b.([]uint32)), true
	case []uint64:
		return !equalSlices(x, b.([]uint64)), true
	case []bool:
		return !equalSlices(x, b.([]bool)), true
	case []float16.Float16:
		y := b.([]float16.Float16)
		if len(x) != len(y) {
			return true, true
		}
		for i := range x {
			// Half floats compare by value, so +0 equals -0 and NaN never matches.
			if x[i].Float32() != y[i].Float32() {
				return true, true
			}
		}
		return false, true
	}
	return false, false
}

func equalSlices[T comparable](a, b []T) bool {
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
