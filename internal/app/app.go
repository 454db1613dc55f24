package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/vk/mellongo/internal/config"
	"github.com/vk/mellongo/internal/ctxlog"
	"github.com/vk/mellongo/internal/device"
	"github.com/vk/mellongo/internal/devicecache"
	"github.com/vk/mellongo/internal/inmemorystore"
	"github.com/vk/mellongo/internal/registry"
	"github.com/vk/mellongo/internal/scheduler"
	"github.com/vk/mellongo/internal/transport"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	settings *config.Settings

	registry  *registry.Registry
	pool      *device.Pool
	cache     *devicecache.Cache
	scheduler *scheduler.Scheduler
	hub       *transport.Hub
	server    *transport.Server

	healthServer *http.Server
}

// NewApp is the constructor for the main application. It returns a fully
// wired App with its own isolated logger and registry. When no modules are
// given the core modules are registered.
func NewApp(outW io.Writer, settings *config.Settings, modules ...registry.Module) (*App, error) {
	logger := newLogger(settings.Log.Level, settings.Log.Format, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	specs := make([]device.Spec, 0, len(settings.Devices))
	for _, d := range settings.Devices {
		specs = append(specs, device.Spec{Name: d.Name, Capacity: d.Memory})
		logger.Debug("Device declared.", "device", d.Name, "memory", humanize.IBytes(d.Memory), "default", d.Default)
	}
	pool, err := device.NewPool(settings.DefaultDevice(), specs...)
	if err != nil {
		return nil, fmt.Errorf("failed to set up devices: %w", err)
	}

	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules(pool)
	}
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("All Go modules registered.", "count", len(modules))

	// A broken action declaration is a programmer error, so we panic.
	if err := reg.ValidateRegistry(ctx); err != nil {
		panic(err)
	}
	logger.Debug("Registry validation passed.")

	cache := devicecache.New(devicecache.WithHost(device.Host), devicecache.WithLogger(logger))

	var cors *transport.CORS
	if settings.Server.CORS {
		cors = &transport.CORS{Origin: settings.Server.CORSRoute}
	}
	hub := transport.NewHub(logger, cors)

	sched := scheduler.New(reg, cache, inmemorystore.New(), hub,
		scheduler.WithWorkers(settings.App.Workers),
		scheduler.WithQueueSize(settings.App.QueueSize),
		scheduler.WithSeed(settings.App.GlobalSeed),
		scheduler.WithDevice(pool.Default()),
		scheduler.WithLogger(logger),
	)

	addr := net.JoinHostPort(settings.Server.Host, strconv.Itoa(settings.Server.Port))
	server := transport.NewServer(addr, hub, sched, reg, cors, logger)

	return &App{
		outW:      outW,
		logger:    logger,
		settings:  settings,
		registry:  reg,
		pool:      pool,
		cache:     cache,
		scheduler: sched,
		hub:       hub,
		server:    server,
	}, nil
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Scheduler returns the application's scheduler. This is primarily for testing.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

// Handler returns the HTTP and socket.io routes without binding a port.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}
