package device

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool(t *testing.T) {
	t.Run("host only", func(t *testing.T) {
		p, err := NewPool("")
		require.NoError(t, err)
		assert.Equal(t, Host, p.Default())
		assert.Equal(t, []string{Host}, p.Devices())
	})

	t.Run("first accelerator becomes default", func(t *testing.T) {
		p, err := NewPool("", Spec{Name: "cuda:0", Capacity: 10}, Spec{Name: "cuda:1", Capacity: 10})
		require.NoError(t, err)
		assert.Equal(t, "cuda:0", p.Default())
		assert.Equal(t, []string{Host, "cuda:0", "cuda:1"}, p.Devices())
	})

	t.Run("errors", func(t *testing.T) {
		_, err := NewPool("", Spec{Name: "gpu"}, Spec{Name: "gpu"})
		assert.ErrorContains(t, err, "declared twice")

		_, err = NewPool("tpu", Spec{Name: "gpu"})
		assert.ErrorContains(t, err, "not declared")

		_, err = NewPool("", Spec{})
		assert.ErrorContains(t, err, "cannot be empty")
	})
}

func TestReserveRelease(t *testing.T) {
	p, err := NewPool("", Spec{Name: "gpu", Capacity: 100})
	require.NoError(t, err)

	require.NoError(t, p.Reserve("gpu", 60))
	err = p.Reserve("gpu", 50)
	var oom *OutOfMemoryError
	require.True(t, errors.As(err, &oom))
	assert.True(t, oom.ResourceExhausted())
	assert.Equal(t, uint64(40), oom.Free)
	assert.Contains(t, oom.Error(), "gpu out of memory")

	p.Release("gpu", 60)
	require.NoError(t, p.Reserve("gpu", 100))

	used, capacity, err := p.Usage("gpu")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), used)
	assert.Equal(t, uint64(100), capacity)

	p.Release("gpu", 500)
	used, _, _ = p.Usage("gpu")
	assert.Zero(t, used)

	assert.Error(t, p.Reserve("nope", 1))
	require.NoError(t, p.Reserve(Host, 1<<40), "host is unbounded")
}

func TestBlockMoveTo(t *testing.T) {
	ctx := context.Background()
	p, err := NewPool("", Spec{Name: "gpu", Capacity: 2})
	require.NoError(t, err)

	a := p.NewBlock("a", 1)
	b := p.NewBlock("b", 1)
	c := p.NewBlock("c", 1)
	assert.Equal(t, Host, a.Device())

	require.NoError(t, a.MoveTo(ctx, "gpu"))
	require.NoError(t, b.MoveTo(ctx, "gpu"))
	require.NoError(t, a.MoveTo(ctx, "gpu"), "moving to the current device is a no-op")

	err = c.MoveTo(ctx, "gpu")
	var oom *OutOfMemoryError
	require.ErrorAs(t, err, &oom)
	assert.Equal(t, Host, c.Device())

	require.NoError(t, a.MoveTo(ctx, Host))
	require.NoError(t, c.MoveTo(ctx, "gpu"))
	assert.Equal(t, "gpu", c.Device())

	fp, ok := c.Fingerprint()
	assert.True(t, ok)
	assert.Equal(t, "c:1", fp)
}
