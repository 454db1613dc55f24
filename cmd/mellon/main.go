package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/vk/mellongo/internal/app"
	"github.com/vk/mellongo/internal/cli"
	"github.com/vk/mellongo/internal/config"
	"github.com/vk/mellongo/internal/ctxlog"
	"github.com/vk/mellongo/internal/hcl"
)

var bannerStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	Padding(0, 1).
	Bold(true)

// main is the entrypoint for the mellon server.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The real main function handles errors and exit codes.
	if err := run(ctx, os.Stdout, os.Args[1:]); err != nil {
		stop()
		if exitErr, ok := err.(*cli.ExitError); ok {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the main application logic for easier testing and error handling.
func run(ctx context.Context, outW io.Writer, args []string) (err error) {
	appConfig, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	// The app panics on broken action declarations, so we recover here to
	// provide a clean exit message to the user.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("application startup panicked: %v", r)
		}
	}()

	ctx = ctxlog.WithLogger(ctx, slog.Default())
	settings, err := app.LoadSettings(ctx, appConfig, hcl.NewLoader())
	if err != nil {
		return err
	}

	mellon, err := app.NewApp(outW, settings)
	if err != nil {
		return err
	}
	fmt.Fprintln(outW, banner(settings))

	return mellon.Run(ctx)
}

func banner(s *config.Settings) string {
	device := s.DefaultDevice()
	if device == "" {
		device = "cpu"
	}
	return bannerStyle.Render(fmt.Sprintf("Mellon\nhttp://%s:%d  workers=%d  device=%s",
		s.Server.Host, s.Server.Port, s.App.Workers, device))
}
