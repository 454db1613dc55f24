package node

import (
	"fmt"
	"maps"
	"math"
	"math/big"
	"reflect"
	"strings"

	"github.com/vk/mellongo/internal/registry"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// validate filters args to the action's inputs, coerces them to their
// declared types, checks option membership, runs post-process hooks and
// merges the result onto a fresh copy of the declared defaults.
func (i *Instance) validate(args map[string]any) (map[string]any, error) {
	values := make(map[string]any, len(args))
	for key, raw := range args {
		if strings.HasPrefix(key, registry.InternalPrefix) {
			continue
		}
		p, ok := i.action.Param(key)
		if !ok || !p.IsInput() {
			continue
		}
		v, err := coerce(p.Type, raw)
		if err != nil {
			return nil, &ValidationError{Node: i.id, Param: key, Value: raw, Reason: err.Error()}
		}
		values[key] = v
	}

	// Second pass in declared order so post-process hooks see every
	// coerced value.
	for _, p := range i.action.Params {
		v, ok := values[p.Name]
		if !ok {
			continue
		}
		for _, item := range asList(v) {
			if !p.Allows(item) {
				return nil, &ValidationError{Node: i.id, Param: p.Name, Value: v, Reason: "not one of the declared options"}
			}
		}
		if p.PostProcess != nil {
			nv, err := p.PostProcess(v, values)
			if err != nil {
				return nil, &ValidationError{Node: i.id, Param: p.Name, Value: v, Reason: err.Error()}
			}
			values[p.Name] = nv
		}
	}

	merged := i.action.Defaults()
	maps.Copy(merged, values)
	return merged, nil
}

// coerce converts v to the primitive type named by typ. A type may list
// alternatives separated by "|"; the first one is the main type. Slices
// are coerced element-wise. Non-primitive types pass through unchanged.
func coerce(typ string, v any) (any, error) {
	main := strings.ToLower(strings.TrimSpace(strings.SplitN(typ, "|", 2)[0]))

	var conv func(any) (any, error)
	switch {
	case strings.HasPrefix(main, "int"):
		conv = toInt
	case main == "float":
		conv = toFloat
	case strings.HasPrefix(main, "bool"):
		conv = toBool
	case strings.HasPrefix(main, "str"):
		conv = toString
	default:
		return v, nil
	}

	if !isList(v) {
		return conv(v)
	}
	items := asList(v)
	out := make([]any, len(items))
	for idx, item := range items {
		c, err := conv(item)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", idx, err)
		}
		out[idx] = c
	}
	return out, nil
}

func isList(v any) bool {
	if v == nil {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

func asList(v any) []any {
	if !isList(v) {
		return []any{v}
	}
	rv := reflect.ValueOf(v)
	out := make([]any, rv.Len())
	for idx := range out {
		out[idx] = rv.Index(idx).Interface()
	}
	return out
}

func toCty(v any) (cty.Value, error) {
	if v == nil {
		return cty.NullVal(cty.DynamicPseudoType), nil
	}
	if cv, ok := v.(cty.Value); ok {
		return cv, nil
	}
	if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return cty.NilVal, fmt.Errorf("%v is not a finite number", f)
	}
	ty, err := gocty.ImpliedType(v)
	if err != nil {
		return cty.NilVal, err
	}
	return gocty.ToCtyValue(v, ty)
}

func toNumber(v any) (*big.Float, error) {
	cv, err := toCty(v)
	if err != nil {
		return nil, err
	}
	if cv.IsNull() {
		return nil, fmt.Errorf("a number is required")
	}
	num, err := convert.Convert(cv, cty.Number)
	if err != nil {
		return nil, err
	}
	return num.AsBigFloat(), nil
}

func toInt(v any) (any, error) {
	f, err := toNumber(v)
	if err != nil {
		return nil, err
	}
	// Fractions truncate toward zero.
	n, _ := f.Int64()
	return int(n), nil
}

func toFloat(v any) (any, error) {
	f, err := toNumber(v)
	if err != nil {
		return nil, err
	}
	out, _ := f.Float64()
	return out, nil
}

func toBool(v any) (any, error) {
	cv, err := toCty(v)
	if err != nil {
		return nil, err
	}
	if cv.IsNull() {
		return false, nil
	}
	if cv.Type() == cty.Number {
		return cv.AsBigFloat().Sign() != 0, nil
	}
	b, err := convert.Convert(cv, cty.Bool)
	if err != nil {
		return nil, err
	}
	return b.True(), nil
}

func toString(v any) (any, error) {
	cv, err := toCty(v)
	if err != nil {
		return fmt.Sprint(v), nil
	}
	if cv.IsNull() {
		return "", nil
	}
	s, err := convert.Convert(cv, cty.String)
	if err != nil {
		return fmt.Sprint(v), nil
	}
	return s.AsString(), nil
}
