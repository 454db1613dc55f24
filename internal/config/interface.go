package config

import "context"

// Loader is the interface for a format-specific settings loader.
type Loader interface {
	// Load reads the settings file at path and overlays every value it
	// declares onto s. Values the file does not mention are left alone.
	Load(ctx context.Context, path string, s *Settings) error
}
