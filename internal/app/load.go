package app

import (
	"context"
	"fmt"

	"github.com/vk/mellongo/internal/config"
	"github.com/vk/mellongo/internal/ctxlog"
)

// LoadSettings builds the effective settings: built-in defaults, then the
// settings file, then the environment, then the command-line flags. The
// result is validated before it is returned.
func LoadSettings(ctx context.Context, cfg *Config, loader config.Loader) (*config.Settings, error) {
	logger := ctxlog.FromContext(ctx)
	s := config.Default()

	if cfg.SettingsPath != "" {
		logger.Debug("Loading settings file...", "path", cfg.SettingsPath)
		if err := loader.Load(ctx, cfg.SettingsPath, s); err != nil {
			return nil, fmt.Errorf("failed to load settings: %w", err)
		}
	}

	var envFiles []string
	if cfg.EnvFile != "" {
		envFiles = append(envFiles, cfg.EnvFile)
	}
	if err := config.ApplyEnv(ctx, s, envFiles...); err != nil {
		return nil, err
	}

	cfg.apply(s)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	logger.Debug("Settings loaded.", "settings", s)
	return s, nil
}
