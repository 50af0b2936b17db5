package controller

import (
	"context"
	"fmt"
	"sync"

	"github.com/araucaria-project/tcsd/internal/bus"
	"github.com/araucaria-project/tcsd/internal/monitor"
	"github.com/araucaria-project/tcsd/internal/status"
	"github.com/rs/zerolog"
)

// Runtime is what a Service's Attach receives: its controller-provided
// collaborators.
type Runtime struct {
	Config  any
	Logger  zerolog.Logger
	Monitor *monitor.Object
}

// Controller is the in-process owner of one service instance (spec §4.7).
type Controller struct {
	ModuleName string
	InstanceID string
	ServiceID  string
	RunnerID   string

	log     zerolog.Logger
	bus     *monitor.BusMonitor
	factory Factory

	mu          sync.Mutex
	initialized bool
	running     bool
	cfg         any
	svc         Service
	runCtx      context.Context
	runCancel   context.CancelFunc
}

// New constructs a Controller for moduleName/instanceID. serviceID is the
// spec §3.1 "{type}.{variant}" identifier used for monitoring/logging.
func New(moduleName, instanceID, serviceID, runnerID string, log zerolog.Logger) *Controller {
	return &Controller{
		ModuleName: moduleName,
		InstanceID: instanceID,
		ServiceID:  serviceID,
		RunnerID:   runnerID,
		log:        log.With().Str("controller", serviceID).Logger(),
	}
}

// Initialize performs spec §4.7's initialize() sequence: class discovery,
// configuration resolution/binding, monitor construction, registration
// publish. conn may be nil, yielding a no-op BusMonitor.
func (c *Controller) Initialize(ctx context.Context, rawConfig map[string]any, conn bus.Conn, subjectPrefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}

	factory, ok := Lookup(c.ModuleName)
	if !ok {
		return errNotRegistered(c.ModuleName)
	}
	c.factory = factory

	var cfg any
	if factory.NewConfig != nil {
		cfg = factory.NewConfig()
		if err := DecodeConfig(rawConfig, cfg, func(key string) {
			c.log.Debug().Str("field", key).Msg("dropping unknown config field")
		}); err != nil {
			return fmt.Errorf("controller: binding config for %s: %w", c.ServiceID, err)
		}
	} else {
		cfg = map[string]any{}
	}
	c.cfg = cfg

	c.bus = monitor.NewBusMonitor(c.ServiceID, conn, subjectPrefix, c.log).
		WithRunnerID(c.RunnerID)
	c.bus.StartMonitoring(ctx)

	c.bus.SetStatus(status.Startup, "initializing controller")
	c.initialized = true
	return nil
}

// StartService creates the service instance and calls its internal start
// hook (spec §4.7's start_service()).
func (c *Controller) StartService(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return fmt.Errorf("controller: %s not initialized", c.ServiceID)
	}
	if c.running {
		return nil
	}

	svc := c.factory.NewService()
	svc.Attach(Runtime{Config: c.cfg, Logger: c.log, Monitor: c.bus.Object})
	c.svc = svc

	runCtx, cancel := context.WithCancel(context.Background())
	c.runCtx = runCtx
	c.runCancel = cancel

	if err := c.startHook(runCtx, svc); err != nil {
		cancel()
		c.bus.SetStatus(status.Failed, err.Error())
		return fmt.Errorf("controller: starting %s: %w", c.ServiceID, err)
	}

	c.running = true
	c.bus.SetStatus(status.OK, "")
	return nil
}

// startHook dispatches on the service's lifecycle shape, matching the
// three-shape contract of spec §4.7. runCtx is cancelled by StopService,
// which is how a BlockingService's RunService is signalled to return.
func (c *Controller) startHook(runCtx context.Context, svc Service) error {
	switch s := svc.(type) {
	case BlockingService:
		return s.OnStart(runCtx)
	case NonBlockingService:
		return s.StartService(runCtx)
	case OneShotService:
		return nil // Execute is driven by the runner, not here.
	default:
		return fmt.Errorf("service does not implement any recognized lifecycle shape")
	}
}

// RunBlocking drives a BlockingService's RunService loop; the runner calls
// this for services it discovers are BlockingService after StartService.
// It runs with the controller's own run context (cancelled by
// StopService/Shutdown), not the ctx passed in here, since the caller's
// ctx is typically scoped to a single watch-loop iteration rather than the
// service's full run.
func (c *Controller) RunBlocking(ctx context.Context) error {
	c.mu.Lock()
	s, ok := c.svc.(BlockingService)
	runCtx := c.runCtx
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("controller: %s is not a blocking service", c.ServiceID)
	}
	return s.RunService(runCtx)
}

// RunOneShot drives a OneShotService's Execute; the runner calls this
// after StartService for one-shot services.
func (c *Controller) RunOneShot(ctx context.Context) error {
	s, ok := c.svc.(OneShotService)
	if !ok {
		return fmt.Errorf("controller: %s is not a one-shot service", c.ServiceID)
	}
	return s.Execute(ctx)
}

// StopService calls the internal stop hook; idempotent.
func (c *Controller) StopService(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}

	if c.runCancel != nil {
		c.runCancel()
	}

	var err error
	switch s := c.svc.(type) {
	case BlockingService:
		err = s.OnStop(ctx)
	case NonBlockingService:
		err = s.StopService(ctx)
	}

	c.running = false
	if err != nil {
		c.bus.SetStatus(status.Error, err.Error())
		return err
	}
	c.bus.SetStatus(status.OK, "")
	c.bus.SetStatus(status.Shutdown, "")
	return nil
}

// Shutdown stops the service if still running, publishes shutdown
// registration, and stops monitoring.
func (c *Controller) Shutdown(ctx context.Context) error {
	if err := c.StopService(ctx); err != nil {
		c.log.Warn().Err(err).Msg("stop_service failed during shutdown")
	}

	c.mu.Lock()
	bm := c.bus
	c.mu.Unlock()
	if bm != nil {
		bm.StopMonitoring(ctx)
	}
	return nil
}

// Monitor exposes the controller's BusMonitor for registration with
// ProcessContext's controller registry and for Runner's status queries.
func (c *Controller) Monitor() *monitor.BusMonitor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bus
}

// IsRunning reports whether the service is currently started.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Shape reports which of spec §4.7's three lifecycle shapes the attached
// service implements, so a runner can decide whether there is a run loop
// to watch for exit at all.
func (c *Controller) Shape() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.svc.(type) {
	case BlockingService:
		return "blocking"
	case OneShotService:
		return "oneshot"
	case NonBlockingService:
		return "nonblocking"
	default:
		return "unknown"
	}
}
