package node

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/mellongo/internal/device"
	"github.com/vk/mellongo/internal/devicecache"
	"github.com/vk/mellongo/internal/registry"
)

type fixture struct {
	cache *devicecache.Cache
	pool  *device.Pool
	runs  atomic.Int32
}

func newFixture(t *testing.T, capacity uint64) *fixture {
	t.Helper()
	pool, err := device.NewPool("", device.Spec{Name: "gpu", Capacity: capacity})
	require.NoError(t, err)
	return &fixture{cache: devicecache.New(devicecache.WithFlush(func(bool) {})), pool: pool}
}

func (f *fixture) action(fn registry.ComputeFunc) *registry.Action {
	r := registry.New()
	r.RegisterAction(&registry.Action{
		Module: "test",
		Name:   "Act",
		Params: []*registry.Param{
			{Name: "steps", Type: registry.TypeInt, Default: 1},
			{Name: "mode", Type: registry.TypeString, Default: "fast", Options: []any{"fast", "slow"}},
			{Name: "free", Type: registry.TypeString, Default: "x", Options: []any{"x"}, NoValidation: true},
			{Name: "seed", Type: registry.TypeInt, Display: registry.DisplayRandom, Default: 0},
			{Name: "image", Type: registry.TypeImage, Display: registry.DisplayOutput},
			{Name: "extra", Display: registry.DisplayOutput},
			{Name: "preview", Type: registry.TypeImage, Display: registry.DisplayUI, Source: "image"},
		},
		Fn: func(ctx context.Context, rt registry.Runtime, params map[string]any) (any, error) {
			f.runs.Add(1)
			return fn(ctx, rt, params)
		},
	})
	a, _ := r.Lookup("test", "Act")
	return a
}

func echo(_ context.Context, _ registry.Runtime, params map[string]any) (any, error) {
	return map[string]any{"image": params["steps"], "extra": params["mode"]}, nil
}

func TestCall_Memoization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	n := New("n1", f.action(echo), f.cache)

	out, err := n.Call(ctx, map[string]any{"steps": 3})
	require.NoError(t, err)
	assert.Equal(t, Output{"image": 3, "extra": "fast"}, out)

	again, err := n.Call(ctx, map[string]any{"steps": "3"})
	require.NoError(t, err)
	assert.Equal(t, out, again)
	assert.EqualValues(t, 1, f.runs.Load(), "identical arguments after coercion do not rerun")
	assert.Zero(t, n.LastDuration())

	_, err = n.Call(ctx, map[string]any{"steps": 4})
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.runs.Load())
	assert.Equal(t, Idle, n.State())
}

func TestCall_FiltersArguments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	var seen map[string]any
	n := New("n1", f.action(func(_ context.Context, _ registry.Runtime, params map[string]any) (any, error) {
		seen = params
		return "ok", nil
	}), f.cache)

	_, err := n.Call(ctx, map[string]any{
		"steps":          "7",
		"unknown":        true,
		"__random__seed": true,
		"image":          "outputs are not inputs",
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"steps": 7, "mode": "fast", "free": "x", "seed": 0}, seen)
	assert.Equal(t, false, n.Params()["__random__seed"], "internal defaults are kept but never passed on")
}

func TestCall_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	n := New("n1", f.action(echo), f.cache)

	_, err := n.Call(ctx, map[string]any{"mode": "medium"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "mode", verr.Param)
	assert.Equal(t, Failed, n.State())
	assert.Zero(t, f.runs.Load())

	_, err = n.Call(ctx, map[string]any{"steps": "many"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "steps", verr.Param)

	_, err = n.Call(ctx, map[string]any{"free": "anything"})
	assert.NoError(t, err, "option checks can be disabled per param")
}

func TestCall_PostProcess(t *testing.T) {
	ctx := context.Background()
	r := registry.New()
	r.RegisterAction(&registry.Action{
		Module: "test",
		Name:   "Clamp",
		Params: []*registry.Param{
			{Name: "max", Type: registry.TypeInt, Default: 10},
			{Name: "value", Type: registry.TypeInt, Default: 0, PostProcess: func(v any, params map[string]any) (any, error) {
				if max, ok := params["max"].(int); ok && v.(int) > max {
					return max, nil
				}
				return v, nil
			}},
			{Name: "out", Display: registry.DisplayOutput},
		},
		Fn: func(_ context.Context, _ registry.Runtime, params map[string]any) (any, error) {
			return params["value"], nil
		},
	})
	a, _ := r.Lookup("test", "Clamp")
	n := New("c", a, devicecache.New())

	out, err := n.Call(ctx, map[string]any{"max": 5, "value": 9})
	require.NoError(t, err)
	assert.Equal(t, 5, out["out"])
}

func TestCall_RollbackOnFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	fail := true
	n := New("n1", f.action(func(ctx context.Context, rt registry.Runtime, params map[string]any) (any, error) {
		if fail {
			return map[string]any{"image": "partial"}, errors.New("boom")
		}
		return echo(ctx, rt, params)
	}), f.cache)

	_, err := n.Call(ctx, map[string]any{"steps": 2})
	var aerr *ActionError
	require.ErrorAs(t, err, &aerr)
	assert.EqualError(t, aerr.Err, "boom")
	assert.True(t, n.OutputEmpty())
	assert.Empty(t, n.Params())

	fail = false
	out, err := n.Call(ctx, map[string]any{"steps": 2})
	require.NoError(t, err)
	assert.Equal(t, 2, out["image"])
	assert.EqualValues(t, 2, f.runs.Load(), "same arguments re-execute after a failure")
}

func TestCall_OutputReplacement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	first := true
	n := New("n1", f.action(func(_ context.Context, _ registry.Runtime, params map[string]any) (any, error) {
		if first {
			first = false
			return map[string]any{"image": "a", "extra": "b"}, nil
		}
		return map[string]any{"image": "c"}, nil
	}), f.cache)

	_, err := n.Call(ctx, map[string]any{"steps": 1})
	require.NoError(t, err)
	out, err := n.Call(ctx, map[string]any{"steps": 2})
	require.NoError(t, err)

	assert.Equal(t, Output{"image": "c"}, out)
	assert.Nil(t, n.Output()["extra"])
}

func TestCall_BareValueFillsFirstOutput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	n := New("n1", f.action(func(context.Context, registry.Runtime, map[string]any) (any, error) {
		return 42, nil
	}), f.cache)

	out, err := n.Call(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, Output{"image": 42, "extra": nil}, out)
}

func TestCall_ReleasesResourcesBeforeRecompute(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	var ids []string
	n := New("n1", f.action(func(ctx context.Context, rt registry.Runtime, params map[string]any) (any, error) {
		blk := f.pool.NewBlock(fmt.Sprintf("weights-%d", params["steps"]), 1)
		o, err := rt.Register(ctx, blk, "", "", 2)
		if err != nil {
			return nil, err
		}
		ids = append(ids, o.ResourceID)
		if _, err := rt.Load(ctx, o.ResourceID, "gpu"); err != nil {
			return nil, err
		}
		return blk, nil
	}), f.cache)

	_, err := n.Call(ctx, map[string]any{"steps": 1})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Regexp(t, `^n1\.[0-9a-f-]{8}$`, ids[0])
	assert.Equal(t, []registry.Ownership{{ResourceID: ids[0], NodeID: "n1"}}, n.Owned())
	before, _ := f.cache.Info(ids[0])

	_, err = n.Call(ctx, map[string]any{"steps": 1})
	require.NoError(t, err)
	after, _ := f.cache.Info(ids[0])
	assert.Equal(t, before, after, "a cache hit touches no resources")

	_, err = n.Call(ctx, map[string]any{"steps": 2})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.False(t, f.cache.IsCached(ids[0]))
	assert.True(t, f.cache.IsCached(ids[1]))

	used, _, err := f.pool.Usage("gpu")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), used, "released resources were unloaded first")

	require.NoError(t, n.Release(ctx))
	assert.Zero(t, f.cache.Len())
}

func TestRuntime_Infer(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*fixture, *Instance) {
		f := newFixture(t, 2)
		for i, name := range []string{"X", "Y"} {
			f.cache.Register(f.pool.NewBlock(name, 1), name, "", i+1)
			_, err := f.cache.Load(ctx, name, "gpu")
			require.NoError(t, err)
		}
		return f, New("n1", f.action(echo), f.cache, WithDevice("gpu"))
	}

	t.Run("evicts until the call fits", func(t *testing.T) {
		f, n := setup(t)
		rt := &runtime{inst: n}
		attempts := 0
		out, err := rt.Infer(ctx, "", func() (any, error) {
			attempts++
			if err := f.pool.Reserve("gpu", 1); err != nil {
				return nil, err
			}
			return "done", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "done", out)
		assert.Equal(t, 2, attempts)

		x, _ := f.cache.Info("X")
		y, _ := f.cache.Info("Y")
		assert.Equal(t, device.Host, x.Device)
		assert.Equal(t, "gpu", y.Device)
	})

	t.Run("gives up when nothing is left to evict", func(t *testing.T) {
		f, n := setup(t)
		rt := &runtime{inst: n}
		_, err := rt.Infer(ctx, "gpu", func() (any, error) {
			return nil, f.pool.Reserve("gpu", 1)
		}, "X", "Y")
		assert.True(t, devicecache.IsResourceExhausted(err))
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		_, n := setup(t)
		rt := &runtime{inst: n}
		attempts := 0
		_, err := rt.Infer(ctx, "gpu", func() (any, error) {
			attempts++
			return nil, errors.New("bad input")
		})
		assert.EqualError(t, err, "bad input")
		assert.Equal(t, 1, attempts)
	})
}

func TestRuntime_FlashLoad(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	n := New("n1", f.action(func(ctx context.Context, rt registry.Runtime, _ map[string]any) (any, error) {
		return rt.FlashLoad(ctx, f.pool.NewBlock("tmp", 1), "", "gpu", 3)
	}), f.cache)

	out, err := n.Call(ctx, nil)
	require.NoError(t, err)
	blk, ok := out["image"].(*device.Block)
	require.True(t, ok)
	assert.Equal(t, "gpu", blk.Device())
	assert.Zero(t, f.cache.Len())
	assert.Empty(t, n.Owned())
}

func TestDirectNode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	var seen map[string]any
	n := New("", f.action(func(ctx context.Context, rt registry.Runtime, params map[string]any) (any, error) {
		seen = params
		o, err := rt.Register(ctx, "obj", "", "", 1)
		assert.Empty(t, o.ResourceID)
		return nil, err
	}), f.cache)

	for range 2 {
		_, err := n.Call(ctx, map[string]any{"steps": 3.0, "__hidden": 1})
		require.NoError(t, err)
	}
	assert.EqualValues(t, 2, f.runs.Load(), "direct nodes never memoize")
	assert.Equal(t, map[string]any{"steps": 3, "mode": "fast", "free": "x", "seed": 0}, seen)
	assert.Zero(t, f.cache.Len())

	_, err := n.Call(ctx, map[string]any{"mode": "medium"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "mode", verr.Param)
	assert.EqualValues(t, 2, f.runs.Load())
}

func TestDirectNode_DecodedArguments(t *testing.T) {
	f := newFixture(t, 10)
	var kwargs map[string]any
	require.NoError(t, sonic.UnmarshalString(`{"steps": 5, "seed": 42}`, &kwargs))
	require.IsType(t, float64(0), kwargs["steps"])

	n := New("", f.action(func(_ context.Context, _ registry.Runtime, params map[string]any) (any, error) {
		return map[string]any{"image": params["steps"].(int) + params["seed"].(int)}, nil
	}), f.cache)

	out, err := n.Call(context.Background(), kwargs)
	require.NoError(t, err)
	assert.Equal(t, 47, out["image"])
}

func TestCall_RollbackOnPanic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	explode := false
	n := New("n1", f.action(func(ctx context.Context, rt registry.Runtime, params map[string]any) (any, error) {
		if explode {
			panic("kaboom")
		}
		return echo(ctx, rt, params)
	}), f.cache)

	_, err := n.Call(ctx, map[string]any{"steps": 1})
	require.NoError(t, err)

	explode = true
	_, err = n.Call(ctx, map[string]any{"steps": 2})
	var aerr *ActionError
	require.ErrorAs(t, err, &aerr)
	assert.ErrorContains(t, aerr.Err, "kaboom")
	assert.Equal(t, Failed, n.State())
	assert.True(t, n.OutputEmpty())
	assert.Empty(t, n.Params())

	explode = false
	out, err := n.Call(ctx, map[string]any{"steps": 2})
	require.NoError(t, err)
	assert.Equal(t, 2, out["image"])
	assert.EqualValues(t, 3, f.runs.Load(), "the same arguments re-execute after a panic")
}

func TestRuntime_RegisterSameIDUpdates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	n := New("n1", f.action(func(ctx context.Context, rt registry.Runtime, _ map[string]any) (any, error) {
		first, err := rt.Register(ctx, "old", "weights", "", 1)
		require.NoError(t, err)
		second, err := rt.Register(ctx, "new", "weights", "", 3)
		require.NoError(t, err)
		assert.Equal(t, first.ResourceID, second.ResourceID)
		return nil, nil
	}), f.cache)

	_, err := n.Call(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, f.cache.Len())
	obj, ok := f.cache.Get("n1.weights")
	require.True(t, ok)
	assert.Equal(t, "new", obj)
	info, _ := f.cache.Info("n1.weights")
	assert.Equal(t, 3, info.Priority)
	assert.Len(t, n.Owned(), 1)
}

func TestProgress(t *testing.T) {
	f := newFixture(t, 10)
	var got []int
	ctx := WithProgress(context.Background(), func(p int) { got = append(got, p) })
	n := New("n1", f.action(func(_ context.Context, rt registry.Runtime, _ map[string]any) (any, error) {
		for _, p := range []int{25, 50, 100} {
			rt.Progress(p)
		}
		return nil, nil
	}), f.cache)

	_, err := n.Call(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{25, 50, 100}, got)
}

func TestCoerce(t *testing.T) {
	testCases := []struct {
		typ  string
		in   any
		want any
	}{
		{"int", "12", 12},
		{"int", 3.9, 3},
		{"integer", true, nil},
		{"float", 2, 2.0},
		{"float", "0.5", 0.5},
		{"boolean", "true", true},
		{"bool", 0, false},
		{"bool", 2.5, true},
		{"boolean", nil, false},
		{"bool", "false", false},
		{"bool", "", nil},
		{"string", nil, ""},
		{"string", 1.5, "1.5"},
		{"str", true, "true"},
		{"int|float", "3", 3},
		{"int", []any{"1", 2.0}, []any{1, 2}},
		{"image", "anything", "anything"},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%s/%v", tc.typ, tc.in), func(t *testing.T) {
			got, err := coerce(tc.typ, tc.in)
			if tc.want == nil {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := coerce("int", "abc")
	assert.Error(t, err)
	_, err = coerce("int", nil)
	assert.Error(t, err)
}
