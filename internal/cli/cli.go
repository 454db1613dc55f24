package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/mellongo/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
// Only flags given on the command line override lower settings layers.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("mellon", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
Mellon - a node graph server for memory-constrained compute devices.

Usage:
  mellon [options] [SETTINGS_PATH]

Arguments:
  SETTINGS_PATH
    Path to an .hcl settings file. Optional.

Options:
`)
		flagSet.PrintDefaults()
	}

	configFlag := flagSet.String("config", "", "Path to the settings file.")
	cFlag := flagSet.String("c", "", "Path to the settings file (shorthand).")
	envFileFlag := flagSet.String("env-file", ".env", "Path to a .env file. Skipped when missing.")
	hostFlag := flagSet.String("host", "", "Address the server listens on.")
	portFlag := flagSet.Int("port", 0, "Port the server listens on.")
	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	workersFlag := flagSet.Int("workers", 2, "Number of workers running node compute.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	given := make(map[string]bool)
	flagSet.Visit(func(f *flag.Flag) { given[f.Name] = true })

	cfg := &app.Config{EnvFile: *envFileFlag}
	switch {
	case *configFlag != "":
		cfg.SettingsPath = *configFlag
	case *cFlag != "":
		cfg.SettingsPath = *cFlag
	case flagSet.NArg() > 0:
		cfg.SettingsPath = flagSet.Arg(0)
	}
	slog.Debug("Settings path determined.", "path", cfg.SettingsPath)

	if given["log-format"] {
		logFormat := strings.ToLower(*logFormatFlag)
		if logFormat != "text" && logFormat != "json" {
			return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
		}
		cfg.LogFormat = &logFormat
	}

	if given["log-level"] {
		logLevel := strings.ToLower(*logLevelFlag)
		switch logLevel {
		case "debug", "info", "warn", "error":
			// valid
		default:
			return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
		}
		cfg.LogLevel = &logLevel
	}

	if given["host"] {
		cfg.Host = hostFlag
	}
	if given["port"] {
		cfg.Port = portFlag
	}
	if given["workers"] {
		cfg.Workers = workersFlag
	}
	if given["healthcheck-port"] {
		cfg.HealthcheckPort = healthPortFlag
	}
	slog.Debug("CLI parameter validation complete.")

	slog.Debug("CLI parser finished successfully.", "config", cfg)
	return cfg, false, nil
}
