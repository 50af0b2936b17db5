// Package launcher implements ServicesLauncher (spec §4.9): reads the
// declared service list, builds one Runner per declaration, and drives
// the start-all/declare/signal-driven-shutdown sequence shared by the
// process and in-process flavors, grounded on original_source's
// BaseLauncher/ProcessLauncher.
package launcher

import (
	"context"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/araucaria-project/tcsd/internal/config"
	"github.com/araucaria-project/tcsd/internal/identity"
	"github.com/araucaria-project/tcsd/internal/kernel"
	"github.com/araucaria-project/tcsd/internal/monitor"
	"github.com/araucaria-project/tcsd/internal/pcontext"
	"github.com/araucaria-project/tcsd/internal/registry"
	"github.com/araucaria-project/tcsd/internal/runner"
	"github.com/araucaria-project/tcsd/internal/status"
	"github.com/rs/zerolog"
)

// Flavor distinguishes how a Launcher's runners host their services, used
// only for the launcher_id suffix and banner text.
type Flavor string

const (
	FlavorProcess   Flavor = "process"
	FlavorInProcess Flavor = "inproc"
)

// RunnerFactory builds the Runner for one service declaration; the process
// and in-process launcher flavors each supply a different one.
type RunnerFactory func(decl config.ServiceDeclaration, launcherID identity.LauncherID, subjectPrefix string) runner.Runner

// Options configures a Launcher.
type Options struct {
	Flavor     Flavor
	ConfigFile string
	WorkDir    string
	Factory    RunnerFactory
	Log        zerolog.Logger
}

// Launcher owns a collection of Runners built from one deployment's
// declared services, plus its own self-monitoring BusMonitor.
type Launcher struct {
	opts       Options
	log        zerolog.Logger
	launcherID identity.LauncherID

	ctx *pcontext.Context
	mon *monitor.BusMonitor

	mu      sync.Mutex
	runners map[string]runner.Runner

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New constructs a Launcher; call Initialize before StartAll.
func New(opts Options) *Launcher {
	hostname, _ := os.Hostname()
	workDir := opts.WorkDir
	if workDir == "" {
		workDir, _ = os.Getwd()
	}
	launcherID := identity.BuildLauncherID(opts.ConfigFile, workDir, hostname, string(opts.Flavor))

	return &Launcher{
		opts:       opts,
		log:        opts.Log.With().Str("launcher", string(launcherID)).Logger(),
		launcherID: launcherID,
		runners:    make(map[string]runner.Runner),
		shutdownCh: make(chan struct{}),
	}
}

// LauncherID returns the deterministic launcher_id (spec §3.1).
func (l *Launcher) LauncherID() identity.LauncherID { return l.launcherID }

// Initialize performs spec §4.9's startup sequence through "declare": it
// opens the process-wide ProcessContext, reads the declared services list,
// builds one Runner per declaration via opts.Factory, and publishes each
// runner's declared event. StartAll must be called afterward to actually
// launch the services.
func (l *Launcher) Initialize(ctx context.Context) error {
	pc, err := pcontext.Initialize(ctx, pcontext.Options{
		ConfigFile: l.opts.ConfigFile,
		Log:        l.opts.Log,
	})
	if err != nil {
		return fmt.Errorf("launcher: initializing process context: %w", err)
	}
	l.ctx = pc

	subjectPrefix := pc.SubjectPrefix()

	raw, err := pc.ConfigManager.GetRawConfig()
	if err != nil {
		return fmt.Errorf("launcher: reading config: %w", err)
	}
	decoded, err := config.DecodeRawConfig(raw)
	if err != nil {
		return fmt.Errorf("launcher: decoding config: %w", err)
	}
	reg := registry.New(decoded.Registry)

	if len(decoded.Services) == 0 {
		l.log.Warn().Msg("no services found in configuration")
	}

	l.mu.Lock()
	for _, decl := range decoded.Services {
		decl = decl.WithDefaults()
		if decl.Module == "" {
			decl.Module = reg.Resolve(decl.Type)
		}
		r := l.opts.Factory(decl, l.launcherID, subjectPrefix)
		l.runners[r.ServiceID()] = r
		l.log.Debug().Str("service_id", r.ServiceID()).
			Str("restart", string(decl.Restart)).
			Float64("restart_sec", decl.RestartSec).
			Int("restart_max", decl.RestartMax).
			Msg("registered runner")
	}
	l.mu.Unlock()

	l.mon = monitor.NewBusMonitor("launcher."+string(l.launcherID), pc.Conn(), subjectPrefix, l.log).
		WithRunnerID(string(l.launcherID))

	l.declareAll(ctx)
	return nil
}

// declareAll publishes registry.declared for every runner that supports it
// (spec §4.9's "declare_services").
func (l *Launcher) declareAll(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.runners {
		if d, ok := r.(interface{ Declare(context.Context) }); ok {
			d.Declare(ctx)
		}
	}
}

// StartAll starts every runner sequentially, then brings up the launcher's
// own self-monitoring (spec §4.9: "start_all", then "start_monitoring").
func (l *Launcher) StartAll(ctx context.Context) error {
	l.mu.Lock()
	runners := make([]runner.Runner, 0, len(l.runners))
	for _, r := range l.runners {
		runners = append(runners, r)
	}
	l.mu.Unlock()

	for _, r := range runners {
		l.log.Info().Str("service_id", r.ServiceID()).Msg("starting service")
		if err := r.Start(ctx); err != nil {
			return fmt.Errorf("launcher: starting %s: %w", r.ServiceID(), err)
		}
	}

	l.mon.StartMonitoring(ctx)
	l.mon.SetStatus(status.OK, "launcher running")
	return nil
}

// StopAll stops every runner in parallel, bounding each by terminateDelay.
func (l *Launcher) StopAll(ctx context.Context, terminateDelay time.Duration) error {
	l.mu.Lock()
	runners := make([]runner.Runner, 0, len(l.runners))
	for _, r := range l.runners {
		runners = append(runners, r)
	}
	l.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(runners))
	for i, r := range runners {
		wg.Add(1)
		go func(i int, r runner.Runner) {
			defer wg.Done()
			if err := r.Stop(ctx, terminateDelay); err != nil {
				errs[i] = fmt.Errorf("stopping %s: %w", r.ServiceID(), err)
			}
		}(i, r)
	}
	wg.Wait()

	var firstErr error
	for _, err := range errs {
		if err != nil {
			l.log.Error().Err(err).Msg("service stop failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Shutdown performs spec §4.9's teardown order: stop launcher monitoring,
// stop every runner in parallel, then tear down the shared ProcessContext.
// Idempotent.
func (l *Launcher) Shutdown(ctx context.Context, terminateDelay time.Duration) error {
	var retErr error
	l.shutdownOnce.Do(func() {
		l.log.Info().Msg("shutting down launcher")
		if l.mon != nil {
			l.mon.SetStatus(status.Shutdown, "launcher shutting down")
			l.mon.StopMonitoring(ctx)
		}

		if err := l.StopAll(ctx, terminateDelay); err != nil {
			retErr = err
		}

		if l.ctx != nil {
			if err := l.ctx.Shutdown(ctx); err != nil && retErr == nil {
				retErr = err
			}
		}
		close(l.shutdownCh)
	})
	return retErr
}

// Done returns a channel closed once Shutdown has run to completion, for
// callers blocking in a signal-driven run loop.
func (l *Launcher) Done() <-chan struct{} { return l.shutdownCh }

// Run blocks until SIGINT/SIGTERM, then performs Shutdown and returns —
// the Go analogue of spec §4.9's signal-driven run()/_shutdown() pair.
func (l *Launcher) Run(ctx context.Context, terminateDelay time.Duration) error {
	sigCh := kernel.Default.Signals.Notify(os.Interrupt, syscall.SIGTERM)
	defer kernel.Default.Signals.Stop(sigCh)

	l.log.Info().Msg("services started, waiting for shutdown signal")
	select {
	case sig := <-sigCh:
		l.log.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
	case <-ctx.Done():
		l.log.Info().Msg("context cancelled, shutting down")
	}

	return l.Shutdown(context.Background(), terminateDelay)
}
