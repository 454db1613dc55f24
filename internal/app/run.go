package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vk/mellongo/internal/ctxlog"
)

// shutdownTimeout bounds how long Run waits for in-flight work on exit.
const shutdownTimeout = 10 * time.Second

// Run serves until ctx is canceled, then shuts every component down.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	a.startHealthcheckServer(ctx)

	addr, err := a.server.Start()
	if err != nil {
		return err
	}
	a.logger.Info("Listening.", "address", addr, "devices", a.pool.Devices(), "default_device", a.pool.Default())

	schedErr := make(chan error, 1)
	go func() { schedErr <- a.scheduler.Run(ctx) }()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutdown requested.")
	case err := <-schedErr:
		if err != nil {
			runErr = fmt.Errorf("scheduler stopped: %w", err)
		}
	}

	// The run context is done; give shutdown a fresh one.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	errs := []error{runErr}
	errs = append(errs, a.server.Shutdown(shutdownCtx))
	errs = append(errs, a.scheduler.Shutdown(shutdownCtx))
	errs = append(errs, a.closeHealthcheckServer(shutdownCtx))

	a.logger.Debug("App.Run method finished.")
	return errors.Join(errs...)
}
