package model

import (
	"context"
	"image"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/mellongo/internal/device"
	"github.com/vk/mellongo/internal/devicecache"
	"github.com/vk/mellongo/internal/node"
	"github.com/vk/mellongo/internal/registry"
)

const mib = 1 << 20

type fixture struct {
	pool  *device.Pool
	cache *devicecache.Cache
	reg   *registry.Registry
}

func newFixture(t *testing.T, gpuMemory uint64) *fixture {
	t.Helper()
	pool, err := device.NewPool("gpu", device.Spec{Name: "gpu", Capacity: gpuMemory})
	require.NoError(t, err)
	reg := registry.New()
	(&Module{Pool: pool}).Register(reg)
	require.NoError(t, reg.ValidateRegistry(context.Background()))
	return &fixture{
		pool:  pool,
		cache: devicecache.New(devicecache.WithHost(device.Host), devicecache.WithFlush(func(bool) {})),
		reg:   reg,
	}
}

func (f *fixture) node(t *testing.T, id, action string) *node.Instance {
	t.Helper()
	a, ok := f.reg.Lookup("model", action)
	require.True(t, ok)
	return node.New(id, a, f.cache, node.WithDevice("gpu"))
}

func (f *fixture) used(t *testing.T) uint64 {
	t.Helper()
	used, _, err := f.pool.Usage("gpu")
	require.NoError(t, err)
	return used
}

func (f *fixture) load(t *testing.T, id, size string) *Ref {
	t.Helper()
	out, err := f.node(t, id, "LoadModel").Call(context.Background(), map[string]any{"name": id, "size": size})
	require.NoError(t, err)
	return out["model"].(*Ref)
}

func TestLoadModel(t *testing.T) {
	f := newFixture(t, 1024*mib)

	ref := f.load(t, "a", "512MiB")
	assert.Equal(t, "a.weights", ref.ResourceID)
	assert.Equal(t, uint64(512*mib), ref.Size)
	assert.Equal(t, uint64(512*mib), f.used(t))

	t.Run("a full device evicts the coldest model", func(t *testing.T) {
		f.load(t, "b", "600MiB")
		assert.Equal(t, uint64(600*mib), f.used(t))
		weights, ok := f.cache.Get("a.weights")
		require.True(t, ok)
		assert.Equal(t, device.Host, weights.(*device.Block).Device())
	})

	t.Run("invalid size", func(t *testing.T) {
		_, err := f.node(t, "c", "LoadModel").Call(context.Background(), map[string]any{"size": "lots"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid weights size")
	})

	t.Run("larger than the device", func(t *testing.T) {
		_, err := f.node(t, "d", "LoadModel").Call(context.Background(), map[string]any{"size": "2GiB"})
		require.Error(t, err)
		assert.True(t, devicecache.IsResourceExhausted(err))
	})
}

func TestGenerate(t *testing.T) {
	args := func(ref *Ref, extra map[string]any) map[string]any {
		m := map[string]any{"model": ref, "seed": 7, "count": 2, "width": 8, "height": 4, "activations": "300MiB"}
		for k, v := range extra {
			m[k] = v
		}
		return m
	}

	t.Run("evicts other resources to fit activations", func(t *testing.T) {
		f := newFixture(t, 1024*mib)
		f.load(t, "a", "512MiB")
		b := f.load(t, "b", "400MiB")

		out, err := f.node(t, "gen", "Generate").Call(context.Background(), args(b, nil))
		require.NoError(t, err)
		images := out["images"].([]image.Image)
		require.Len(t, images, 2)
		assert.Equal(t, image.Pt(8, 4), images[0].Bounds().Size())

		weights, _ := f.cache.Get("a.weights")
		assert.Equal(t, device.Host, weights.(*device.Block).Device())
		weights, _ = f.cache.Get("b.weights")
		assert.Equal(t, "gpu", weights.(*device.Block).Device())
		assert.Equal(t, uint64(400*mib), f.used(t), "activations are released after the run")
	})

	t.Run("is deterministic for a seed", func(t *testing.T) {
		f := newFixture(t, 1024*mib)
		ref := f.load(t, "a", "100MiB")
		first, err := f.node(t, "g1", "Generate").Call(context.Background(), args(ref, nil))
		require.NoError(t, err)
		second, err := f.node(t, "g2", "Generate").Call(context.Background(), args(ref, nil))
		require.NoError(t, err)
		other, err := f.node(t, "g3", "Generate").Call(context.Background(), args(ref, map[string]any{"seed": 8}))
		require.NoError(t, err)

		assert.Equal(t, first["images"], second["images"])
		assert.NotEqual(t, first["images"], other["images"])
	})

	t.Run("reports progress", func(t *testing.T) {
		f := newFixture(t, 1024*mib)
		ref := f.load(t, "a", "100MiB")
		var seen []int
		ctx := node.WithProgress(context.Background(), func(p int) { seen = append(seen, p) })
		_, err := f.node(t, "g", "Generate").Call(ctx, args(ref, map[string]any{"steps": 2}))
		require.NoError(t, err)
		assert.Equal(t, []int{25, 50, 75, 100}, seen)
	})

	t.Run("fails when nothing can be evicted", func(t *testing.T) {
		f := newFixture(t, 1024*mib)
		ref := f.load(t, "a", "900MiB")
		_, err := f.node(t, "g", "Generate").Call(context.Background(), args(ref, nil))
		require.Error(t, err)
		assert.True(t, devicecache.IsResourceExhausted(err))
	})

	t.Run("rejects a missing model", func(t *testing.T) {
		f := newFixture(t, 1024*mib)
		_, err := f.node(t, "g", "Generate").Call(context.Background(), map[string]any{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expected a model")
	})
}

func TestCompile(t *testing.T) {
	f := newFixture(t, 1024*mib)
	src := f.load(t, "a", "512MiB")

	out, err := f.node(t, "c", "Compile").Call(context.Background(), map[string]any{"model": src, "mode": "max-autotune"})
	require.NoError(t, err)
	compiled := out["compiled"].(*Ref)
	assert.Equal(t, "c.compiled", compiled.ResourceID)
	assert.Equal(t, "a+max-autotune", compiled.Name)
	assert.Equal(t, uint64(256*mib), compiled.Size)
	assert.Equal(t, uint64(768*mib), f.used(t), "the fit check leaves nothing on the device")
}

func TestDirectCall(t *testing.T) {
	f := newFixture(t, 1024*mib)
	load, _ := f.reg.Lookup("model", "LoadModel")
	gen, _ := f.reg.Lookup("model", "Generate")

	out, err := node.New("", load, f.cache).Call(context.Background(), map[string]any{"name": "x", "size": "1MiB", "priority": 1})
	require.NoError(t, err)
	ref := out["model"].(*Ref)
	assert.Empty(t, ref.ResourceID)
	assert.Zero(t, f.cache.Len())

	out, err = node.New("", gen, f.cache).Call(context.Background(), map[string]any{
		"model": ref, "seed": 1, "steps": 1, "count": 1, "width": 2, "height": 2, "activations": "1MiB",
	})
	require.NoError(t, err)
	assert.Len(t, out["images"], 1)
}

func TestDirectCall_DecodedKwargs(t *testing.T) {
	f := newFixture(t, 1024*mib)
	load, _ := f.reg.Lookup("model", "LoadModel")
	gen, _ := f.reg.Lookup("model", "Generate")

	var kwargs map[string]any
	require.NoError(t, sonic.UnmarshalString(`{"name":"x","size":"1MiB","priority":1}`, &kwargs))
	out, err := node.New("", load, f.cache).Call(context.Background(), kwargs)
	require.NoError(t, err)
	ref := out["model"].(*Ref)
	assert.Equal(t, "x", ref.Name)

	var genArgs map[string]any
	require.NoError(t, sonic.UnmarshalString(`{"seed":7,"steps":2,"width":3,"height":2,"activations":"1MiB"}`, &genArgs))
	genArgs["model"] = ref
	out, err = node.New("", gen, f.cache).Call(context.Background(), genArgs)
	require.NoError(t, err)
	images, ok := out["images"].([]image.Image)
	require.True(t, ok)
	require.Len(t, images, 1, "count falls back to its default")
	assert.Equal(t, 3, images[0].Bounds().Dx())
}
