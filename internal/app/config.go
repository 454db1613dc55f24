package app

import "github.com/vk/mellongo/internal/config"

// Config holds what the entrypoint knows before any settings are loaded:
// where to find them and the flag overrides. A nil override means the flag
// was not given.
type Config struct {
	SettingsPath string
	EnvFile      string

	Host            *string
	Port            *int
	LogLevel        *string
	LogFormat       *string
	Workers         *int
	HealthcheckPort *int
}

// apply overlays the flag overrides onto s.
func (c *Config) apply(s *config.Settings) {
	set(&s.Server.Host, c.Host)
	set(&s.Server.Port, c.Port)
	set(&s.Log.Level, c.LogLevel)
	set(&s.Log.Format, c.LogFormat)
	set(&s.App.Workers, c.Workers)
	set(&s.App.HealthcheckPort, c.HealthcheckPort)
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
