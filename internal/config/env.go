package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/vk/mellongo/internal/ctxlog"
)

// EnvPrefix is the prefix of every environment variable the server reads.
const EnvPrefix = "MELLON"

// envOverlay lists the settings that can come from the environment. A nil
// field means the variable was not set.
type envOverlay struct {
	Host       *string `envconfig:"HOST"`
	Port       *int    `envconfig:"PORT"`
	CORS       *bool   `envconfig:"CORS"`
	LogLevel   *string `envconfig:"LOG_LEVEL"`
	LogFormat  *string `envconfig:"LOG_FORMAT"`
	Workers    *int    `envconfig:"WORKERS"`
	GlobalSeed *uint64 `envconfig:"GLOBAL_SEED"`
	QueueSize  *int    `envconfig:"QUEUE_SIZE"`
}

// ApplyEnv loads the given .env files, skipping those that do not exist,
// and then overlays MELLON_* environment variables onto s. Variables that
// are already set win over .env entries.
func ApplyEnv(ctx context.Context, s *Settings, envFiles ...string) error {
	logger := ctxlog.FromContext(ctx)
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				logger.Debug("No env file found, skipping.", "file", file)
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", file, err)
		}
		logger.Debug("Env file loaded.", "file", file)
	}

	var env envOverlay
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	set(&s.Server.Host, env.Host)
	set(&s.Server.Port, env.Port)
	set(&s.Server.CORS, env.CORS)
	set(&s.Log.Level, env.LogLevel)
	set(&s.Log.Format, env.LogFormat)
	set(&s.App.Workers, env.Workers)
	set(&s.App.GlobalSeed, env.GlobalSeed)
	set(&s.App.QueueSize, env.QueueSize)
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
