// Package runner supervises one declared service's out-of-process or
// in-process lifecycle: spawn/stop, crash detection, restart policy, and
// lifecycle-event publication (spec §4.8).
package runner

import (
	"context"
	"os"
	"time"

	"github.com/araucaria-project/tcsd/internal/bus"
	"github.com/araucaria-project/tcsd/internal/clock"
	"github.com/araucaria-project/tcsd/internal/config"
	"github.com/rs/zerolog"
)

// State is the runner's own lifecycle state, distinct from the service's
// health status (spec §4.8's state diagram).
type State int

const (
	StateCreated State = iota
	StateRunning
	StateRestarting
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateRestarting:
		return "restarting"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Runner is the authority on one service's lifecycle events and the sole
// publisher on {prefix}.registry.*.{service_id} for that service.
type Runner interface {
	// ServiceID is the spec §3.1 "{type}.{variant}" identifier this runner
	// supervises.
	ServiceID() string

	// Start spawns/initializes the service and begins the crash-watcher.
	Start(ctx context.Context) error

	// Stop gracefully terminates the service, force-killing past
	// terminateDelay, and stops the crash-watcher.
	Stop(ctx context.Context, terminateDelay time.Duration) error

	// State reports the runner's current lifecycle state.
	State() State
}

// eventPublisher is the shared registry-event publication path used by both
// ProcessRunner and InProcessRunner, independent of monitor.BusMonitor:
// spec §4.8 makes the Runner — not the service's own MonitoredObject — the
// publisher of declared/crashed/restarting/failed. A nil conn makes every
// publish a no-op (spec §4.7's "no bus → no-op").
type eventPublisher struct {
	conn      bus.Conn
	subjects  bus.Subjects
	serviceID string
	runnerID  string
	parent    string
	clock     clock.Clock
	log       zerolog.Logger
}

func newEventPublisher(conn bus.Conn, prefix, serviceID, runnerID, parent string, log zerolog.Logger) eventPublisher {
	return eventPublisher{
		conn:      conn,
		subjects:  bus.NewSubjects(prefix),
		serviceID: serviceID,
		runnerID:  runnerID,
		parent:    parent,
		clock:     clock.Default,
		log:       log.With().Str("runner", serviceID).Logger(),
	}
}

func (p eventPublisher) publish(ctx context.Context, event string, evt bus.RegistryEvent) {
	if p.conn == nil {
		return
	}
	evt.ServiceID = p.serviceID
	evt.Timestamp = bus.Now()
	evt.RunnerID = p.runnerID
	evt.Parent = p.parent
	if err := p.conn.Publish(ctx, p.subjects.Registry(event, p.serviceID), evt); err != nil {
		p.log.Warn().Err(err).Str("event", event).Msg("registry publish failed")
	}
}

func (p eventPublisher) declared(ctx context.Context, policy config.RestartPolicy) {
	p.publish(ctx, "declared", bus.RegistryEvent{RestartPolicy: string(policy)})
}

func (p eventPublisher) start(ctx context.Context) {
	hostname, _ := os.Hostname()
	p.publish(ctx, "start", bus.RegistryEvent{
		Status:   "startup",
		Hostname: hostname,
		PID:      os.Getpid(),
	})
}

func (p eventPublisher) stop(ctx context.Context, reason string, exitCode *int) {
	p.publish(ctx, "stop", bus.RegistryEvent{
		Status:   "shutdown",
		Reason:   reason,
		ExitCode: exitCode,
	})
}

func (p eventPublisher) crashed(ctx context.Context, healthStatus string, exitCode int, policy config.RestartPolicy, willRestart bool) {
	code := exitCode
	restart := willRestart
	p.publish(ctx, "crashed", bus.RegistryEvent{
		Status:        healthStatus,
		ExitCode:      &code,
		RestartPolicy: string(policy),
		WillRestart:   &restart,
	})
}

func (p eventPublisher) restarting(ctx context.Context, attempt, maxRestarts int) {
	p.publish(ctx, "restarting", bus.RegistryEvent{
		Status:         "startup",
		RestartAttempt: attempt,
		MaxRestarts:    maxRestarts,
	})
}

func (p eventPublisher) failed(ctx context.Context, reason string, restartCount int) {
	p.publish(ctx, "failed", bus.RegistryEvent{
		Status:       "failed",
		Reason:       reason,
		RestartCount: restartCount,
	})
}
