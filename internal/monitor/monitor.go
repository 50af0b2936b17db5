// Package monitor implements MonitoredObject (spec §4.2): a status/health
// aggregation node that can own children and track scoped busy/idle work,
// plus BusMonitor (spec §4.3), its bus-publishing specialization.
package monitor

import (
	"sync"
	"time"

	"github.com/araucaria-project/tcsd/internal/clock"
	"github.com/araucaria-project/tcsd/internal/status"
	"github.com/rs/zerolog"
)

// idleDebounce is the delay after the last active task exits before status
// transitions back to Idle (spec §4.2 step 3: "≈1 s").
const idleDebounce = 1 * time.Second

// HealthcheckFunc is a callback consulted by Healthcheck; returning
// ok=false means "no opinion", deferring to the entity's own status.
type HealthcheckFunc func() (status.Status, bool)

// MetricFunc returns an arbitrary metric payload folded into Report.Details.
type MetricFunc func() any

// Object is a single node in the monitoring tree: spec §4.2's
// MonitoredObject, collapsed from the original's three-class inheritance
// chain (MonitoredObject/ReportingMonitoredObject/MessengerMonitoredObject)
// into composition — BusMonitor embeds an *Object and adds publishing.
type Object struct {
	mu       sync.Mutex
	name     string
	clock    clock.Clock
	log      zerolog.Logger
	st       status.Status
	message  string
	parent   *Object
	children map[string]*Object

	healthchecks []HealthcheckFunc
	metrics      []MetricFunc

	activeTasks int
	idleTimer   *time.Timer

	onStatusChange func(status.Status)
}

// New constructs a root or child Object. If parent is non-nil, the new
// Object is immediately registered as one of parent's submonitors. Logging
// defaults to a no-op logger; BusMonitor replaces it via SetLogger.
func New(name string, parent *Object) *Object {
	o := &Object{
		name:     name,
		clock:    clock.Default,
		log:      zerolog.Nop(),
		st:       status.Unknown,
		children: make(map[string]*Object),
	}
	if parent != nil {
		parent.AddSubmonitor(o)
	}
	return o
}

// SetLogger replaces the logger used to report panicking healthcheck
// callbacks.
func (o *Object) SetLogger(log zerolog.Logger) {
	o.mu.Lock()
	o.log = log
	o.mu.Unlock()
}

// Name returns the object's name.
func (o *Object) Name() string {
	return o.name
}

// OnStatusChange registers a hook invoked, out-of-band, every time
// SetStatus changes the recorded status. BusMonitor does not register one;
// it publishes status on its own healthcheck tick.
func (o *Object) OnStatusChange(fn func(status.Status)) {
	o.mu.Lock()
	o.onStatusChange = fn
	o.mu.Unlock()
}

// SetStatus directly sets the object's status and optional message.
func (o *Object) SetStatus(s status.Status, message string) {
	o.mu.Lock()
	changed := o.st != s
	o.st = s
	o.message = message
	hook := o.onStatusChange
	o.mu.Unlock()

	if changed && hook != nil {
		hook(s)
	}
}

// AddHealthcheckCB registers a healthcheck callback.
func (o *Object) AddHealthcheckCB(fn HealthcheckFunc) {
	o.mu.Lock()
	o.healthchecks = append(o.healthchecks, fn)
	o.mu.Unlock()
}

// AddMetricCB registers a metric callback whose payload is included in
// GetFullReport's Details under the key metric_a, metric_b, ... in
// registration order (callbacks past the 26th share the key "metric").
func (o *Object) AddMetricCB(fn MetricFunc) {
	o.mu.Lock()
	o.metrics = append(o.metrics, fn)
	o.mu.Unlock()
}

// AddSubmonitor registers child as one of o's children, reparenting it.
func (o *Object) AddSubmonitor(child *Object) {
	o.mu.Lock()
	child.mu.Lock()
	child.parent = o
	child.mu.Unlock()
	o.children[child.name] = child
	o.mu.Unlock()
}

// RemoveSubmonitor detaches the named child, if present.
func (o *Object) RemoveSubmonitor(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if child, ok := o.children[name]; ok {
		child.mu.Lock()
		child.parent = nil
		child.mu.Unlock()
		delete(o.children, name)
	}
}

// ownStatus returns the status currently recorded, without running
// healthcheck callbacks.
func (o *Object) ownStatus() status.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.st
}

// Healthcheck runs every registered healthcheck callback; the first one
// that opts in (returns ok=true) with an unhealthy status short-circuits
// and is returned immediately. If every callback is silent or healthy, the
// object's own recorded status is returned. A callback that panics is
// treated as returning (status.Error, true) (spec §4.2/§7): the panic is
// logged and, Error being unhealthy, Healthcheck returns status.Error
// without running the remaining callbacks.
func (o *Object) Healthcheck() status.Status {
	o.mu.Lock()
	callbacks := append([]HealthcheckFunc(nil), o.healthchecks...)
	o.mu.Unlock()

	for _, cb := range callbacks {
		s, ok := o.runHealthcheckCB(cb)
		if ok && !s.IsHealthy() {
			return s
		}
	}
	return o.ownStatus()
}

// runHealthcheckCB invokes cb with a recover guard so a panicking callback
// degrades only its own result instead of crashing the monitoring goroutine.
func (o *Object) runHealthcheckCB(cb HealthcheckFunc) (s status.Status, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			o.mu.Lock()
			log := o.log
			o.mu.Unlock()
			log.Error().Interface("panic", r).Str("monitor", o.name).Msg("healthcheck callback panicked")
			s, ok = status.Error, true
		}
	}()
	return cb()
}

// Report is the recursive status snapshot returned by GetFullReport.
type Report struct {
	Name     string
	Status   status.Status
	Message  string
	Details  map[string]any
	Children []Report
}

// GetFullReport recursively builds a report: the object's own status is
// aggregated with every descendant's status per spec §4.1, Details
// carries each metric callback's payload, and Children holds each child's
// full report.
func (o *Object) GetFullReport() Report {
	own := o.Healthcheck()

	o.mu.Lock()
	message := o.message
	metricFns := append([]MetricFunc(nil), o.metrics...)
	childObjs := make([]*Object, 0, len(o.children))
	for _, c := range o.children {
		childObjs = append(childObjs, c)
	}
	o.mu.Unlock()

	childReports := make([]Report, 0, len(childObjs))
	for _, c := range childObjs {
		childReports = append(childReports, c.GetFullReport())
	}

	aggregated := own
	if len(childReports) > 0 {
		reports := make([]status.Report, 0, len(childReports)+1)
		reports = append(reports, status.Report{Name: o.name, Status: own})
		for _, cr := range childReports {
			reports = append(reports, status.Report{Name: cr.Name, Status: cr.Status})
		}
		aggregated = status.Aggregate(reports)
	}

	details := map[string]any{}
	for i, fn := range metricFns {
		details[metricKey(i)] = fn()
	}
	if len(details) == 0 {
		details = nil
	}

	return Report{
		Name:     o.name,
		Status:   aggregated,
		Message:  message,
		Details:  details,
		Children: childReports,
	}
}

func metricKey(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	if i < len(letters) {
		return "metric_" + string(letters[i])
	}
	return "metric"
}

// taskToken is returned by TrackTask; the caller must call Release (most
// naturally via defer) when the tracked task completes.
type taskToken struct {
	o *Object
}

// Release decrements the active-task count and, if it reaches zero,
// arms the debounced idle transition.
func (t taskToken) Release() {
	t.o.releaseTask()
}

// TrackTask is the scoped acquisition of spec §4.2's track_task: it
// immediately transitions status to Busy and returns a token whose Release
// must be called on scope exit. The prior status is not stored, so it is
// not restored when the task ends.
func (o *Object) TrackTask(label string) taskToken {
	o.mu.Lock()
	if o.activeTasks == 0 && o.idleTimer != nil {
		o.idleTimer.Stop()
		o.idleTimer = nil
	}
	o.activeTasks++
	o.mu.Unlock()

	o.SetStatus(status.Busy, label)
	return taskToken{o: o}
}

func (o *Object) releaseTask() {
	o.mu.Lock()
	if o.activeTasks > 0 {
		o.activeTasks--
	}
	shouldArm := o.activeTasks == 0
	if shouldArm {
		if o.idleTimer != nil {
			o.idleTimer.Stop()
		}
		o.idleTimer = time.AfterFunc(idleDebounce, o.onIdleTimeout)
	}
	o.mu.Unlock()
}

// onIdleTimeout fires idleDebounce after the last active task released,
// unless a new task arrived first (TrackTask cancels the pending timer).
// Status becomes Idle unless the object was explicitly set to a
// non-healthy status while the task ran, in which case that status is
// preserved (spec §4.2 step 4).
func (o *Object) onIdleTimeout() {
	o.mu.Lock()
	stillIdle := o.activeTasks == 0
	current := o.st
	o.idleTimer = nil
	o.mu.Unlock()

	if !stillIdle {
		return
	}
	if !current.IsHealthy() {
		return
	}
	o.SetStatus(status.Idle, "")
}
