package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/araucaria-project/tcsd/internal/bus"
	"github.com/araucaria-project/tcsd/internal/clock"
	"github.com/araucaria-project/tcsd/internal/config"
	"github.com/araucaria-project/tcsd/internal/logging"
	"github.com/araucaria-project/tcsd/internal/process"
	"github.com/rs/zerolog"
)

// ProcessRunnerSpec is everything a ProcessRunner needs to spawn
// cmd/tcsd-service for one declared instance (spec §6.3's CLI contract).
type ProcessRunnerSpec struct {
	ServiceBinary string // path to the cmd/tcsd-service executable
	ConfigFile    string
	Variant       string
	ParentName    string

	ServiceID string
	RunnerID  string

	Restart       config.RestartPolicy
	RestartSec    float64
	RestartMax    int
	RestartWindow float64

	LogConfig      config.LoggingConfig
	ServiceLogging config.ServiceLogging

	Conn          bus.Conn
	SubjectPrefix string
	Log           zerolog.Logger
}

// ProcessRunner is the Runner that supervises a service hosted in its own
// OS subprocess (spec's ProcessRunner).
type ProcessRunner struct {
	spec    ProcessRunnerSpec
	events  eventPublisher
	clock   clock.Clock
	restart *restartWindow

	mu      sync.Mutex
	state   State
	proc    *process.Process
	capture *logging.Capture

	stopCh    chan struct{}
	watchDone chan struct{}
}

// NewProcessRunner constructs a ProcessRunner from spec.
func NewProcessRunner(spec ProcessRunnerSpec) *ProcessRunner {
	return &ProcessRunner{
		spec:    spec,
		events:  newEventPublisher(spec.Conn, spec.SubjectPrefix, spec.ServiceID, spec.RunnerID, "", spec.Log),
		clock:   clock.Default,
		restart: newRestartWindow(time.Duration(spec.RestartWindow*float64(time.Second)), spec.RestartMax),
		state:   StateCreated,
	}
}

// ServiceID implements Runner.
func (r *ProcessRunner) ServiceID() string { return r.spec.ServiceID }

// State implements Runner.
func (r *ProcessRunner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Declare publishes the registry.declared event (spec §4.8's "declared"
// row). Separate from Start because a runner with a runner_id is declared
// once up front, before any of the launcher's runners are started.
func (r *ProcessRunner) Declare(ctx context.Context) {
	r.events.declared(ctx, r.spec.Restart)
}

// Start spawns the child process and launches its crash-watcher.
func (r *ProcessRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state == StateRunning {
		r.mu.Unlock()
		return nil
	}
	r.stopCh = make(chan struct{})
	r.watchDone = make(chan struct{})
	r.mu.Unlock()

	capture, err := logging.NewCapture(r.spec.ServiceID, r.spec.LogConfig, r.spec.ServiceLogging)
	if err != nil {
		r.mu.Lock()
		r.state = StateFailed
		r.mu.Unlock()
		return fmt.Errorf("runner: opening log capture for %s: %w", r.spec.ServiceID, err)
	}
	r.mu.Lock()
	r.capture = capture
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

func (r *ProcessRunner) spawn(ctx context.Context) error {
	args := []string{r.spec.ConfigFile, r.spec.Variant}
	if r.spec.RunnerID != "" {
		args = append(args, "--runner-id", r.spec.RunnerID)
	}
	if r.spec.ParentName != "" {
		args = append(args, "--parent-name", r.spec.ParentName)
	}

	r.mu.Lock()
	capture := r.capture
	r.mu.Unlock()

	pr, pw := io.Pipe()
	go logForwarder(pr, r.spec.Log, r.spec.ServiceID, capture)

	proc := process.New(process.Spec{
		Path:   r.spec.ServiceBinary,
		Args:   args,
		Stdout: pw,
		Stderr: pw,
	})
	if err := proc.Start(ctx); err != nil {
		pw.Close()
		return fmt.Errorf("runner: spawning %s: %w", r.spec.ServiceID, err)
	}

	r.mu.Lock()
	r.proc = proc
	r.mu.Unlock()
	return nil
}

// watch is the crash-watcher loop: blocks on child exit, never polls (spec
// §5), evaluating the restart policy and respawning in place until the
// service exits cleanly, exhausts its restart budget, or is stopped.
func (r *ProcessRunner) watch(ctx context.Context) {
	defer close(r.watchDone)

	for {
		r.mu.Lock()
		proc := r.proc
		stopCh := r.stopCh
		r.mu.Unlock()
		if proc == nil {
			return
		}

		var exitCode int
		select {
		case <-stopCh:
			return
		case res := <-proc.Wait():
			exitCode = res.ExitCode
		}

		if exitCode == 0 {
			r.events.stop(ctx, "completed", intPtr(0))
			r.mu.Lock()
			r.state = StateStopped
			r.mu.Unlock()
			return
		}

		now := r.clock.Now()
		willRestart := shouldRestart(r.spec.Restart, exitCode) && !r.restart.limitReached(now)
		healthStatus := "error"
		if !willRestart {
			healthStatus = "failed"
		}
		r.events.crashed(ctx, healthStatus, exitCode, r.spec.Restart, willRestart)

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

// restartOnce waits restart_sec (cancellable by stop), respawns, and
// records the attempt. Returns false if the runner was stopped meanwhile
// or the respawn itself failed.
func (r *ProcessRunner) restartOnce(ctx context.Context, now time.Time, stopCh chan struct{}) bool {
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

// Stop gracefully stops the service, force-killing past terminateDelay.
func (r *ProcessRunner) Stop(ctx context.Context, terminateDelay time.Duration) error {
	r.mu.Lock()
	if r.state != StateRunning && r.state != StateRestarting {
		r.mu.Unlock()
		return nil
	}
	proc := r.proc
	stopCh := r.stopCh
	watchDone := r.watchDone
	capture := r.capture
	r.state = StateStopped
	r.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	if proc == nil {
		if capture != nil {
			_ = capture.Close()
		}
		return nil
	}

	forced, err := proc.Stop(terminateDelay)
	if watchDone != nil {
		<-watchDone
	}
	if capture != nil {
		_ = capture.Close()
	}

	reason := "stopped"
	if forced {
		reason = "force_killed"
	}
	exitCode := proc.ExitResult().ExitCode
	r.events.stop(ctx, reason, &exitCode)
	return err
}

func intPtr(v int) *int { return &v }

// logForwarder reads r line-by-line off the main scheduling goroutine,
// re-emits each line at the runner's log level prefixed with service_id
// (spec §4.8's "Log forwarder"), and tees it into capture's stdout stream
// (the teacher's rotating per-service log file, or a no-op if the service
// declared no file). Child stdout and stderr are merged into one pipe
// upstream, so both land in capture's stdout stream.
func logForwarder(r io.Reader, log zerolog.Logger, serviceID string, capture *logging.Capture) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		log.Info().Str("service_id", serviceID).Msg(line)
		if capture != nil {
			_, _ = capture.Stdout().Write([]byte(line + "\n"))
		}
	}
}
