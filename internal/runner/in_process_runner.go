package runner

import (
	"context"
	"sync"
	"time"

	"github.com/araucaria-project/tcsd/internal/bus"
	"github.com/araucaria-project/tcsd/internal/clock"
	"github.com/araucaria-project/tcsd/internal/config"
	"github.com/araucaria-project/tcsd/internal/controller"
	"github.com/rs/zerolog"
)

// InProcessRunnerSpec is everything an InProcessRunner needs to own one
// Controller in the launcher's own process (spec's InProcessRunner).
type InProcessRunnerSpec struct {
	ModuleName string
	InstanceID string
	ServiceID  string
	RunnerID   string

	RawConfig map[string]any

	Restart       config.RestartPolicy
	RestartSec    float64
	RestartMax    int
	RestartWindow float64

	Conn          bus.Conn
	SubjectPrefix string
	Log           zerolog.Logger
}

// exitCrashCode is the synthetic "exit code" an InProcessRunner reports to
// the shouldRestart policy table when a run loop returns a non-nil error:
// there is no real process exit status in-process, and spec §4.8's policy
// table only distinguishes zero/non-zero/abnormal, so one fixed value of 1
// is used. on-failure and always restart on it; on-abnormal, which only
// restarts for codes above 128 or below 0, does not.
const exitCrashCode = 1

// InProcessRunner is the Runner that supervises a service hosted as a
// Controller inside the launcher's own process, instead of a subprocess.
type InProcessRunner struct {
	spec    InProcessRunnerSpec
	events  eventPublisher
	clock   clock.Clock
	restart *restartWindow

	mu     sync.Mutex
	state  State
	ctrl   *controller.Controller
	stopCh chan struct{}

	watchDone chan struct{}
}

// NewInProcessRunner constructs an InProcessRunner from spec.
func NewInProcessRunner(spec InProcessRunnerSpec) *InProcessRunner {
	return &InProcessRunner{
		spec:    spec,
		events:  newEventPublisher(spec.Conn, spec.SubjectPrefix, spec.ServiceID, spec.RunnerID, "", spec.Log),
		clock:   clock.Default,
		restart: newRestartWindow(time.Duration(spec.RestartWindow*float64(time.Second)), spec.RestartMax),
		state:   StateCreated,
	}
}

// ServiceID implements Runner.
func (r *InProcessRunner) ServiceID() string { return r.spec.ServiceID }

// State implements Runner.
func (r *InProcessRunner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Declare publishes the registry.declared event, mirroring ProcessRunner.
func (r *InProcessRunner) Declare(ctx context.Context) {
	r.events.declared(ctx, r.spec.Restart)
}

// Start initializes the Controller, starts the service, and — for
// blocking/one-shot shapes — launches the crash-watcher over its run loop.
// A non-blocking service has no loop to watch: it is considered running
// for as long as StartService succeeded, until Stop is called.
func (r *InProcessRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state == StateRunning {
		r.mu.Unlock()
		return nil
	}
	r.stopCh = make(chan struct{})
	r.watchDone = make(chan struct{})
	r.mu.Unlock()

	if err := r.spawn(ctx); err != nil {
		r.mu.Lock()
		r.state = StateFailed
		r.mu.Unlock()
		return err
	}

	r.mu.Lock()
	r.state = StateRunning
	r.mu.Unlock()

	r.events.start(ctx)
	go r.watch(context.Background())
	return nil
}

func (r *InProcessRunner) spawn(ctx context.Context) error {
	ctrl := controller.New(r.spec.ModuleName, r.spec.InstanceID, r.spec.ServiceID, r.spec.RunnerID, r.spec.Log)
	if err := ctrl.Initialize(ctx, r.spec.RawConfig, r.spec.Conn, r.spec.SubjectPrefix); err != nil {
		return err
	}
	if err := ctrl.StartService(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	r.ctrl = ctrl
	r.mu.Unlock()
	return nil
}

// runDone carries the outcome of a blocking/one-shot service's run loop,
// this runner's analogue of process.ExitResult.
type runDone struct {
	err error
}

// runLoop drives the attached controller's run loop to completion and
// reports the outcome on done. For a non-blocking service there is no
// loop: runLoop returns immediately without ever sending, and the caller
// must treat the service as running indefinitely.
func runLoop(ctx context.Context, ctrl *controller.Controller, done chan<- runDone) {
	switch ctrl.Shape() {
	case "blocking":
		done <- runDone{err: ctrl.RunBlocking(ctx)}
	case "oneshot":
		done <- runDone{err: ctrl.RunOneShot(ctx)}
	default:
		// nonblocking: StartService already launched its own background
		// work; there is nothing further to block on here.
	}
}

// watch is the crash-watcher loop for in-process services: blocks on the
// attached controller's run loop returning, evaluates the restart policy,
// and restarts (re-initializing a fresh Controller) in place.
func (r *InProcessRunner) watch(ctx context.Context) {
	defer close(r.watchDone)

	for {
		r.mu.Lock()
		ctrl := r.ctrl
		stopCh := r.stopCh
		r.mu.Unlock()
		if ctrl == nil {
			return
		}

		if ctrl.Shape() == "nonblocking" {
			// No run loop to watch: treat as running until explicitly stopped.
			<-stopCh
			return
		}

		done := make(chan runDone, 1)
		go runLoop(ctx, ctrl, done)

		var result runDone
		select {
		case <-stopCh:
			return
		case result = <-done:
		}

		if result.err == nil {
			r.events.stop(ctx, "completed", intPtr(0))
			r.mu.Lock()
			r.state = StateStopped
			r.mu.Unlock()
			return
		}

		now := r.clock.Now()
		willRestart := shouldRestart(r.spec.Restart, exitCrashCode) && !r.restart.limitReached(now)
		healthStatus := "error"
		if !willRestart {
			healthStatus = "failed"
		}
		r.events.crashed(ctx, healthStatus, exitCrashCode, r.spec.Restart, willRestart)

		if !willRestart {
			reason := "policy"
			if r.restart.limitReached(now) {
				reason = "restart_limit_reached"
			}
			r.events.failed(ctx, reason, r.restart.count(now))
			r.mu.Lock()
			r.state = StateFailed
			r.mu.Unlock()
			return
		}

		if !r.restartOnce(ctx, now, stopCh) {
			return
		}
	}
}

// restartOnce waits restart_sec (cancellable by stop), re-initializes and
// re-starts a fresh Controller, and records the attempt.
func (r *InProcessRunner) restartOnce(ctx context.Context, now time.Time, stopCh chan struct{}) bool {
	r.mu.Lock()
	r.state = StateRestarting
	r.mu.Unlock()

	attempt := r.restart.count(now) + 1
	r.events.restarting(ctx, attempt, r.spec.RestartMax)

	select {
	case <-stopCh:
		return false
	case <-time.After(time.Duration(r.spec.RestartSec * float64(time.Second))):
	}

	if err := r.spawn(ctx); err != nil {
		r.events.failed(ctx, "restart_failed", r.restart.count(now))
		r.mu.Lock()
		r.state = StateFailed
		r.mu.Unlock()
		return false
	}
	r.restart.record(r.clock.Now())

	r.mu.Lock()
	r.state = StateRunning
	r.mu.Unlock()

	r.events.start(ctx)
	return true
}

// Stop shuts down the attached controller, force-killing nothing (there
// is no OS process to kill in-process): terminateDelay bounds how long
// Shutdown's stop hook is allowed to block before this returns anyway.
func (r *InProcessRunner) Stop(ctx context.Context, terminateDelay time.Duration) error {
	r.mu.Lock()
	if r.state != StateRunning && r.state != StateRestarting {
		r.mu.Unlock()
		return nil
	}
	ctrl := r.ctrl
	stopCh := r.stopCh
	watchDone := r.watchDone
	r.state = StateStopped
	r.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	if ctrl == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, terminateDelay)
	defer cancel()

	err := ctrl.Shutdown(shutdownCtx)
	if watchDone != nil {
		<-watchDone
	}

	reason := "stopped"
	if err != nil {
		reason = "shutdown_error"
	}
	r.events.stop(ctx, reason, intPtr(0))
	return err
}
