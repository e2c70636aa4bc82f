// Package app wires the service layer together for the CLI and the daemon.
package app

import (
	"context"
	"fmt"
	"log"

	"inkpost/app/services"
	"inkpost/internal/adapters/api"
	"inkpost/internal/core"
)

// App holds the wired services. Both the daemon and one-shot CLI commands
// build an App, run what they need, and Close it.
type App struct {
	ctx    context.Context
	logger *log.Logger

	Config *services.ConfigService
	Jobs   *core.JobManager
	Events *services.LogService
	Device *services.DeviceService
	Queue  *services.QueueService
	Delete *services.DeleteService
}

// New wires the full service graph. The context bounds every background
// loop (monitor, drain loop, jobs); cancelling it is the shutdown path.
func New(ctx context.Context, logger *log.Logger) (*App, error) {
	config, err := services.NewConfigService(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config: %w", err)
	}

	events := services.NewLogService(logger)
	jobs := core.NewJobManager(nil)

	device := services.NewDeviceService(ctx, logger, config.GetConfig().Device, events)

	queue, err := services.NewQueueService(ctx, logger, config.QueueDBPath(), config.BlobDir(), device.Session(), jobs, events)
	if err != nil {
		return nil, err
	}

	deleteSvc := services.NewDeleteService(ctx, logger, device.Session(), jobs, events)

	logger.Printf("[App] Services initialized")
	return &App{
		ctx:    ctx,
		logger: logger,
		Config: config,
		Jobs:   jobs,
		Events: events,
		Device: device,
		Queue:  queue,
		Delete: deleteSvc,
	}, nil
}

// Close cancels any running job and releases the queue database.
func (a *App) Close() {
	if err := a.Jobs.CancelActiveJob(); err == nil {
		a.logger.Printf("[App] Close: Cancelled active job")
	}
	if err := a.Queue.Close(); err != nil {
		a.logger.Printf("[App] Close: Failed to close queue: %v", err)
	}
}

// APIServer builds the local HTTP API bound to the services and registers
// it as a job event emitter so SSE clients see every update.
func (a *App) APIServer(port int) *api.Server {
	server := api.NewServer(port, a.logger, a.Jobs,
		api.WithDeviceProvider(func() interface{} {
			return a.Device.Status()
		}),
		api.WithConfigProvider(func() interface{} {
			return a.Config.GetConfig()
		}),
		api.WithLogsProvider(func(limit int, category string) interface{} {
			return a.Events.Recent(limit, category)
		}),
		api.WithDeviceOps(
			func(ctx context.Context) (interface{}, error) { return a.Device.Discover(ctx) },
			a.Device.Disconnect,
			func(ctx context.Context) (interface{}, error) { return a.Device.FetchDeviceStatus(ctx) },
			func(ctx context.Context, path string) (interface{}, error) { return a.Device.ListFiles(ctx, path) },
		),
		api.WithQueueOps(
			func() (interface{}, error) { return a.Queue.Items() },
			func() (interface{}, error) { return a.Queue.EstimateAll() },
			a.Queue.SendAll,
			a.Queue.SendOne,
			a.Queue.Remove,
			a.Queue.Clear,
		),
		api.WithDeleteOps(
			a.Delete.CountItems,
			a.Delete.DeleteTree,
		),
	)
	a.Jobs.AddEmitter(server)
	return server
}
