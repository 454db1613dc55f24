package hcl

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/mellongo/internal/config"
)

const sample = `
server {
  host       = "0.0.0.0"
  cors       = true
}

log {
  level = "debug"
}

app {
  workers     = 4
  global_seed = 7
  queue_size  = 16
}

device "cuda:0" {
  memory  = "8GiB"
  default = true
}

device "cuda:1" {
  memory = "512 MB"
}
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mellon.hcl")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	s := config.Default()
	require.NoError(t, NewLoader().Load(context.Background(), path, s))

	assert.Equal(t, "0.0.0.0", s.Server.Host)
	assert.Equal(t, 8080, s.Server.Port, "unset attributes keep their value")
	assert.True(t, s.Server.CORS)
	assert.Equal(t, "*", s.Server.CORSRoute)
	assert.Equal(t, "debug", s.Log.Level)
	assert.Equal(t, "text", s.Log.Format)
	assert.Equal(t, 4, s.App.Workers)
	assert.Equal(t, uint64(7), s.App.GlobalSeed)
	assert.Equal(t, 16, s.App.QueueSize)

	require.Len(t, s.Devices, 2)
	assert.Equal(t, config.Device{Name: "cuda:0", Memory: 8 << 30, Default: true}, s.Devices[0])
	assert.Equal(t, config.Device{Name: "cuda:1", Memory: 512_000_000}, s.Devices[1])
	assert.NoError(t, s.Validate())
}

func TestLoad_Errors(t *testing.T) {
	ctx := context.Background()
	l := NewLoader()

	t.Run("missing file", func(t *testing.T) {
		err := l.Load(ctx, filepath.Join(t.TempDir(), "nope.hcl"), config.Default())
		assert.ErrorContains(t, err, "error accessing settings file")
	})

	t.Run("syntax error", func(t *testing.T) {
		err := l.LoadBytes(ctx, []byte("server {\n  host = \n"), "broken.hcl", config.Default())
		assert.ErrorContains(t, err, "failed to parse HCL file broken.hcl")
	})

	t.Run("wrong attribute type", func(t *testing.T) {
		err := l.LoadBytes(ctx, []byte(`server { port = "eighty" }`), "typed.hcl", config.Default())
		assert.ErrorContains(t, err, "failed to decode HCL file typed.hcl")
	})

	t.Run("bad memory size", func(t *testing.T) {
		err := l.LoadBytes(ctx, []byte(`device "gpu" { memory = "lots" }`), "mem.hcl", config.Default())
		assert.ErrorContains(t, err, "device 'gpu' has invalid memory")
	})

	t.Run("negative seed", func(t *testing.T) {
		err := l.LoadBytes(ctx, []byte(`app { global_seed = -1 }`), "seed.hcl", config.Default())
		assert.ErrorContains(t, err, "global_seed cannot be negative")
	})
}
