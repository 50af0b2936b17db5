package monitor

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/araucaria-project/tcsd/internal/bus"
	"github.com/araucaria-project/tcsd/internal/clock"
	"github.com/araucaria-project/tcsd/internal/status"
	"github.com/rs/zerolog"
)

// Default heartbeat and healthcheck intervals (spec §4.3).
const (
	DefaultHeartbeatInterval  = 10 * time.Second
	DefaultHealthcheckInterval = 30 * time.Second
)

// BusMonitor is the MonitoredObject specialization that publishes status,
// heartbeat and registry-lifecycle messages over a bus.Publisher (spec
// §4.3). A nil Conn makes every publish a no-op, satisfying "no bus
// available → no-op monitor" (spec §4.7).
type BusMonitor struct {
	*Object

	conn     bus.Conn
	subjects bus.Subjects
	clock    clock.Clock
	log      zerolog.Logger

	parent   string
	runnerID string

	heartbeatInterval   time.Duration
	healthcheckInterval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewBusMonitor wraps name in an Object and attaches bus publishing. conn
// may be nil, in which case StartMonitoring/publishes are no-ops.
func NewBusMonitor(name string, conn bus.Conn, prefix string, log zerolog.Logger) *BusMonitor {
	scoped := log.With().Str("monitor", name).Logger()
	obj := New(name, nil)
	obj.SetLogger(scoped)
	return &BusMonitor{
		Object:              obj,
		conn:                conn,
		subjects:            bus.NewSubjects(prefix),
		clock:               clock.Default,
		log:                 scoped,
		heartbeatInterval:   DefaultHeartbeatInterval,
		healthcheckInterval: DefaultHealthcheckInterval,
	}
}

// WithParent records the parent field included in registry/status payloads.
func (b *BusMonitor) WithParent(parent string) *BusMonitor {
	b.parent = parent
	return b
}

// WithRunnerID records the runner_id field included in registry payloads.
func (b *BusMonitor) WithRunnerID(runnerID string) *BusMonitor {
	b.runnerID = runnerID
	return b
}

// StartMonitoring publishes registry.start and launches the heartbeat and
// healthcheck background loops. It is idempotent.
func (b *BusMonitor) StartMonitoring(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.mu.Unlock()

	b.publishRegistry(ctx, "start", nil)

	b.wg.Add(2)
	go b.heartbeatLoop(loopCtx)
	go b.healthcheckLoop(loopCtx)
}

// StopMonitoring publishes registry.stop, cancels the background loops and
// waits for them to exit. Publication failures are logged and swallowed —
// monitoring never blocks the host process (spec §4.3).
func (b *BusMonitor) StopMonitoring(ctx context.Context) {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.started = false
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
	b.publishRegistry(ctx, "stop", nil)
}

// heartbeatLoop publishes a heartbeat every heartbeatInterval until ctx is
// cancelled. An individual publish failure is logged and the loop
// continues (spec §4.3: "must survive individual-iteration exceptions").
func (b *BusMonitor) heartbeatLoop(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.publishHeartbeat(ctx)
		}
	}
}

// healthcheckLoop runs Healthcheck every healthcheckInterval and records an
// updated status if the entity is unhealthy.
func (b *BusMonitor) healthcheckLoop(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.healthcheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := b.Object.Healthcheck()
			if !s.IsHealthy() {
				b.Object.SetStatus(s, "healthcheck")
			}
			b.publishStatus(ctx)
		}
	}
}

func (b *BusMonitor) publishHeartbeat(ctx context.Context) {
	if b.conn == nil {
		return
	}
	body := bus.Heartbeat{
		ServiceID: b.Name(),
		Timestamp: bus.Now(),
		Status:    b.ownStatus().String(),
	}
	if err := b.conn.Publish(ctx, b.subjects.Heartbeat(b.Name()), body); err != nil {
		b.log.Warn().Err(err).Msg("heartbeat publish failed")
	}
}

func (b *BusMonitor) publishStatus(ctx context.Context) {
	if b.conn == nil {
		return
	}
	report := b.Object.GetFullReport()
	body := bus.StatusReport{
		Name:      report.Name,
		Status:    report.Status.String(),
		Timestamp: bus.Now(),
		Message:   report.Message,
		Details:   report.Details,
		Parent:    b.parent,
	}
	if err := b.conn.Publish(ctx, b.subjects.Status(b.Name()), body); err != nil {
		b.log.Warn().Err(err).Msg("status publish failed")
	}
}

// publishRegistry publishes a lifecycle event on
// {prefix}.registry.{event}.{name}; extra fields are merged over the base
// envelope (hostname/pid for "start", nothing extra for "stop" beyond
// status/reason which callers can pass via extra).
func (b *BusMonitor) publishRegistry(ctx context.Context, event string, extra map[string]any) {
	if b.conn == nil {
		return
	}

	evt := bus.RegistryEvent{
		ServiceID: b.Name(),
		Timestamp: bus.Now(),
		Parent:    b.parent,
		RunnerID:  b.runnerID,
	}
	switch event {
	case "start":
		evt.Status = status.Startup.String()
		evt.Hostname, _ = os.Hostname()
		evt.PID = os.Getpid()
	case "stop":
		evt.Status = status.Shutdown.String()
	}

	payload := mergeRegistryEvent(evt, extra)
	if err := b.conn.Publish(ctx, b.subjects.Registry(event, b.Name()), payload); err != nil {
		b.log.Warn().Err(err).Str("event", event).Msg("registry publish failed")
	}
}

// PublishRegistryEvent exposes publishRegistry to callers outside this
// package (internal/runner publishes declared/crashed/restarting/failed
// events using the same envelope).
func (b *BusMonitor) PublishRegistryEvent(ctx context.Context, event string, extra map[string]any) {
	b.publishRegistry(ctx, event, extra)
}

func mergeRegistryEvent(evt bus.RegistryEvent, extra map[string]any) map[string]any {
	out := map[string]any{
		"service_id": evt.ServiceID,
		"timestamp":  evt.Timestamp,
	}
	if evt.Parent != "" {
		out["parent"] = evt.Parent
	}
	if evt.RunnerID != "" {
		out["runner_id"] = evt.RunnerID
	}
	if evt.Status != "" {
		out["status"] = evt.Status
	}
	if evt.Hostname != "" {
		out["hostname"] = evt.Hostname
	}
	if evt.PID != 0 {
		out["pid"] = evt.PID
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Enter starts monitoring and returns a function that stops it, matching
// the scoped-lifecycle pattern of spec §4.3 ("entering the monitor context
// starts tasks ... exiting publishes registry.stop and stops tasks").
func (b *BusMonitor) Enter(ctx context.Context) func() {
	b.StartMonitoring(ctx)
	return func() {
		b.StopMonitoring(context.Background())
	}
}
