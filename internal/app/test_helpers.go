package app

import (
	"bytes"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/mellongo/internal/config"
	"github.com/vk/mellongo/internal/registry"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// SetupAppTest creates a new app instance for system testing. A nil
// settings uses the defaults on a random local port.
func SetupAppTest(t *testing.T, settings *config.Settings, modules ...registry.Module) (*App, *SafeBuffer) {
	t.Helper()

	if settings == nil {
		settings = config.Default()
		settings.Server.Port = 0
	}
	settings.Log.Level = "debug"

	logBuffer := &SafeBuffer{}
	testApp, err := NewApp(logBuffer, settings, modules...)
	require.NoError(t, err)

	t.Cleanup(func() {
		if os.Getenv("MELLON_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	return testApp, logBuffer
}
