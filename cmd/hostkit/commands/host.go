package commands

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ncobase/hostkit/config"
	"github.com/ncobase/hostkit/extension/builtin/heartbeat"
	"github.com/ncobase/hostkit/extension/command"
	"github.com/ncobase/hostkit/extension/event"
	"github.com/ncobase/hostkit/extension/loader"
	"github.com/ncobase/hostkit/extension/manager"
	"github.com/ncobase/hostkit/extension/messaging"
	"github.com/ncobase/hostkit/extension/metrics"
	"github.com/ncobase/hostkit/extension/scheduler"
	"github.com/ncobase/hostkit/extension/service"
	"github.com/ncobase/hostkit/logging/logger"
)

// host wires the extension runtime with the in-process collaborators
type host struct {
	mu      sync.Mutex
	conf    *config.Config
	manager *manager.Manager

	storage   metrics.Storage
	collector *metrics.Collector
	bus       *event.Bus
	scheduler *scheduler.Scheduler
	services  *service.Registry
	messenger *messaging.Messenger
	commands  *command.Map
	loader    *loader.ManifestLoader
}

func newHost(ctx context.Context, conf *config.Config) (*host, error) {
	storage, err := metrics.NewStorage(ctx, conf.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics storage: %w", err)
	}

	h := &host{
		conf:      conf,
		storage:   storage,
		collector: metrics.NewCollector(storage, conf.Metrics.Enabled),
		scheduler: scheduler.New(scheduler.FromConfig(conf.Scheduler)),
		messenger: messaging.New(),
		commands:  command.NewMap(),
	}
	h.bus = event.NewBus(event.WithRecorder(h.collector))
	h.services = service.NewRegistry(service.WithBus(h.bus))

	factories := loader.NewFactories()
	builtin := loader.BuiltinFactories()
	for _, key := range builtin.Keys() {
		if f, ok := builtin.Get(key); ok {
			_ = factories.Register(key, f)
		}
	}
	if err := heartbeat.Register(factories, &heartbeat.Host{
		Bus:       h.bus,
		Scheduler: h.scheduler,
		Services:  h.services,
		Messenger: h.messenger,
	}); err != nil {
		return nil, err
	}
	h.loader = loader.New(loader.WithFactories(factories))
	h.manager = h.newManager(conf.Extension)
	return h, nil
}

func (h *host) newManager(conf *config.Extension) *manager.Manager {
	return manager.NewManager(conf,
		manager.WithBus(h.bus),
		manager.WithMetrics(h.collector),
		manager.WithCommands(h.commands),
		manager.WithScheduler(h.scheduler),
		manager.WithServices(h.services),
		manager.WithMessenger(h.messenger),
		manager.WithLoaders(h.loader),
	)
}

// Start loads and enables the configured extension directory
func (h *host) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.start(ctx)
}

func (h *host) start(ctx context.Context) error {
	h.scheduler.Start()

	result, err := h.manager.LoadDirectory(ctx, h.conf.Extension.Path)
	if err != nil {
		return err
	}
	h.manager.EnableAll(ctx)
	logger.Infof(ctx, "Enabled %d extension(s): %v", len(result.Loaded), result.Names())
	return nil
}

// Reload unloads every extension and starts again from conf
func (h *host) Reload(ctx context.Context, conf *config.Config) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	logger.Infof(ctx, "Configuration changed, reloading extensions")
	h.manager.UnloadAll(ctx)
	h.conf = conf
	h.manager = h.newManager(conf.Extension)
	return h.start(ctx)
}

// Dispatch runs a console command line
func (h *host) Dispatch(ctx context.Context, line string) error {
	h.mu.Lock()
	m := h.manager
	h.mu.Unlock()

	console := command.NewConsoleSender(m.Permissions())
	defer console.Close()

	handled, err := h.commands.Dispatch(ctx, console, line)
	if !handled {
		return fmt.Errorf("unknown command: %s", line)
	}
	return err
}

// Close disables every extension and stops the collaborators
func (h *host) Close(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.manager.DisableAll(ctx, h.conf.Extension.ReleaseOnDisable)
	h.scheduler.Stop(ctx)
	h.collector.Stop()
	if closer, ok := h.storage.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logger.Warnf(ctx, "Failed to close metrics storage: %v", err)
		}
	}
}
