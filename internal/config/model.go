package config

import (
	"errors"
	"fmt"
	"strings"
)

// Settings is the complete runtime configuration.
type Settings struct {
	Server  Server
	Log     Log
	App     App
	Devices []Device
}

// Server configures the HTTP and socket.io listener.
type Server struct {
	Host      string
	Port      int
	CORS      bool
	CORSRoute string
}

// Log configures the process logger.
type Log struct {
	Level  string
	Format string
}

// App configures the execution lane.
type App struct {
	Workers         int
	GlobalSeed      uint64
	QueueSize       int
	HealthcheckPort int
}

// Device declares an accelerator and its memory capacity in bytes. The host
// device is always available and never needs declaring.
type Device struct {
	Name    string
	Memory  uint64
	Default bool
}

// Default returns the built-in settings.
func Default() *Settings {
	return &Settings{
		Server: Server{Host: "127.0.0.1", Port: 8080, CORSRoute: "*"},
		Log:    Log{Level: "info", Format: "text"},
		App:    App{Workers: 2, GlobalSeed: 42},
	}
}

// DefaultDevice returns the name of the device marked as default, or an
// empty string when none is.
func (s *Settings) DefaultDevice() string {
	for _, d := range s.Devices {
		if d.Default {
			return d.Name
		}
	}
	return ""
}

// Validate reports every problem with s at once.
func (s *Settings) Validate() error {
	var errs []string
	if strings.TrimSpace(s.Server.Host) == "" {
		errs = append(errs, "server host cannot be empty")
	}
	if s.Server.Port < 1 || s.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server port %d is outside 1..65535", s.Server.Port))
	}
	if s.App.Workers < 1 {
		errs = append(errs, fmt.Sprintf("workers must be at least 1, got %d", s.App.Workers))
	}
	if s.App.QueueSize < 0 {
		errs = append(errs, fmt.Sprintf("queue size cannot be negative, got %d", s.App.QueueSize))
	}
	if s.App.HealthcheckPort < 0 || s.App.HealthcheckPort > 65535 {
		errs = append(errs, fmt.Sprintf("healthcheck port %d is outside 0..65535", s.App.HealthcheckPort))
	}

	seen := make(map[string]bool)
	defaults := 0
	for _, d := range s.Devices {
		if d.Name == "" {
			errs = append(errs, "device name cannot be empty")
			continue
		}
		if seen[d.Name] {
			errs = append(errs, fmt.Sprintf("device '%s' declared more than once", d.Name))
		}
		seen[d.Name] = true
		if d.Default {
			defaults++
		}
	}
	if len(s.Devices) > 0 && defaults == 0 {
		errs = append(errs, "one declared device must be marked as default")
	}
	if defaults > 1 {
		errs = append(errs, "only one device can be marked as default")
	}

	if len(errs) > 0 {
		return errors.New("invalid settings:\n- " + strings.Join(errs, "\n- "))
	}
	return nil
}
