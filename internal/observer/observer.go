// Package observer implements FleetObserver (spec §4.10): a read-only
// client that reconstructs fleet state from the three retained event
// streams — registry, status and heartbeat — without ever touching a
// runner or service directly. It supports a one-shot Snapshot and a
// continuously-updated Follow, mirroring the original's
// collect_services_info() and ServiceControlClient.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/araucaria-project/tcsd/internal/bus"
	"github.com/araucaria-project/tcsd/internal/identity"
	"github.com/araucaria-project/tcsd/internal/status"
	"github.com/rs/zerolog"
)

// Heartbeat-age thresholds for heartbeatStatus (spec §4.10).
const (
	heartbeatAlive = 30 * time.Second
	heartbeatStale = 120 * time.Second
)

// FleetEntry is the reconstructed state of one service, derived from the
// most recent registry/status/heartbeat messages seen for its service_id.
type FleetEntry struct {
	ServiceID identity.ServiceID
	Parent    string
	RunnerID  string

	Status        status.Status
	StatusMessage string

	StartTime     time.Time
	StopTime      time.Time
	LastHeartbeat time.Time

	IsRunning       bool
	HeartbeatStatus string
}

// UptimeSeconds returns seconds since StartTime for a still-running entry,
// or zero otherwise.
func (e *FleetEntry) UptimeSeconds() float64 {
	if !e.IsRunning || e.StartTime.IsZero() {
		return 0
	}
	return time.Since(e.StartTime).Seconds()
}

// UptimeString renders UptimeSeconds the way tcsctl's table view does:
// "N/A" when not running, otherwise the coarsest unit that fits.
func (e *FleetEntry) UptimeString() string {
	seconds := e.UptimeSeconds()
	if seconds <= 0 {
		return "N/A"
	}
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", int(seconds))
	case seconds < 3600:
		return fmt.Sprintf("%dm", int(seconds/60))
	case seconds < 86400:
		hours := int(seconds / 3600)
		mins := int(seconds) % 3600 / 60
		return fmt.Sprintf("%dh %dm", hours, mins)
	default:
		days := int(seconds / 86400)
		hours := int(seconds) % 86400 / 3600
		return fmt.Sprintf("%dd %dh", days, hours)
	}
}

// Snapshot maps service_id to its reconstructed fleet entry.
type Snapshot map[identity.ServiceID]*FleetEntry

// Callbacks are invoked by Follow as new information about the fleet
// arrives. Any of them may be nil.
type Callbacks struct {
	// OnUpdate fires whenever an entry's derived state changes.
	OnUpdate func(*FleetEntry)
	// OnStart fires when a service transitions into a running state.
	OnStart func(*FleetEntry)
	// OnStop fires when a running service stops.
	OnStop func(*FleetEntry)
}

// FleetObserver reconstructs fleet state by reading registry, status and
// heartbeat streams through bus.Conn (spec §4.10). It never publishes.
type FleetObserver struct {
	conn     bus.Conn
	subjects bus.Subjects
	log      zerolog.Logger
}

// New builds a FleetObserver bound to conn's registry/status/heartbeat
// streams under prefix.
func New(conn bus.Conn, prefix string, log zerolog.Logger) *FleetObserver {
	return &FleetObserver{
		conn:     conn,
		subjects: bus.NewSubjects(prefix),
		log:      log.With().Str("component", "observer").Logger(),
	}
}

// Snapshot reads the full retained history of the registry stream plus a
// recent window of status and heartbeat messages (24h / 10m, matching the
// original's collect_services_info), each with nowait semantics: read
// exactly what is currently retained and return, never block for more.
func (o *FleetObserver) Snapshot(ctx context.Context) (Snapshot, error) {
	var (
		registryMsgs, statusMsgs, heartbeatMsgs []bus.Message
		registryErr, statusErr, heartbeatErr    error
	)

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		registryMsgs, registryErr = o.drain(ctx, o.subjects.RegistryWildcard(), bus.StartPolicy{Kind: bus.StartAll})
	}()
	go func() {
		defer wg.Done()
		statusMsgs, statusErr = o.drain(ctx, o.subjects.StatusWildcard(), bus.FromNow(24*time.Hour))
	}()
	go func() {
		defer wg.Done()
		heartbeatMsgs, heartbeatErr = o.drain(ctx, o.subjects.HeartbeatWildcard(), bus.FromNow(10*time.Minute))
	}()
	wg.Wait()

	if registryErr != nil {
		return nil, registryErr
	}
	if statusErr != nil {
		return nil, statusErr
	}
	if heartbeatErr != nil {
		return nil, heartbeatErr
	}

	snap := make(Snapshot)
	applyRegistry(snap, registryMsgs)
	applyStatus(snap, statusMsgs)
	applyHeartbeat(snap, heartbeatMsgs)
	for _, entry := range snap {
		deriveFields(entry)
	}
	return snap, nil
}

// drain opens a Reader on subject with policy and reads exactly its
// current backlog (spec's nowait=true snapshot read).
func (o *FleetObserver) drain(ctx context.Context, subject string, policy bus.StartPolicy) ([]bus.Message, error) {
	reader, err := o.conn.NewReader(subject, policy)
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Stop() }()
	return reader.Drain(ctx)
}

// follower is one of Follow's three continuous readers, each restarted
// from last_per_subject so a newly-started observer sees every service's
// most recent message before continuing live.
type follower struct {
	subject string
	handle  func(bus.Message)
}

// Follow starts a snapshot, then keeps three continuous last_per_subject
// readers open, invoking cb on every subsequent change. The returned
// cancel function stops all three readers; calling it is equivalent to
// the original's stop_following.
func (o *FleetObserver) Follow(ctx context.Context, cb Callbacks) (Snapshot, func(), error) {
	snap, err := o.Snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}

	followCtx, cancel := context.WithCancel(ctx)

	var mu sync.Mutex
	readers := make([]bus.Reader, 0, 3)
	stop := func() {
		cancel()
		mu.Lock()
		defer mu.Unlock()
		for _, r := range readers {
			_ = r.Stop()
		}
	}

	followers := []follower{
		{subject: o.subjects.RegistryWildcard(), handle: func(m bus.Message) { o.onRegistry(&mu, snap, m, cb) }},
		{subject: o.subjects.StatusWildcard(), handle: func(m bus.Message) { o.onStatus(&mu, snap, m, cb) }},
		{subject: o.subjects.HeartbeatWildcard(), handle: func(m bus.Message) { o.onHeartbeat(&mu, snap, m, cb) }},
	}

	for _, f := range followers {
		reader, err := o.conn.NewReader(f.subject, bus.StartPolicy{Kind: bus.StartLastPerSubject})
		if err != nil {
			stop()
			return nil, nil, err
		}
		mu.Lock()
		readers = append(readers, reader)
		mu.Unlock()

		go func(r bus.Reader, handle func(bus.Message)) {
			if err := r.Follow(followCtx, handle); err != nil && followCtx.Err() == nil {
				o.log.Warn().Err(err).Msg("follow reader exited")
			}
		}(reader, f.handle)
	}

	return snap, stop, nil
}

func (o *FleetObserver) onRegistry(mu *sync.Mutex, snap Snapshot, m bus.Message, cb Callbacks) {
	var evt bus.RegistryEvent
	if err := json.Unmarshal(m.Data, &evt); err != nil {
		o.log.Warn().Err(err).Str("subject", m.Subject).Msg("malformed registry message")
		return
	}
	mu.Lock()
	entry := ensureEntry(snap, identity.ServiceID(evt.ServiceID))
	wasRunning := entry.IsRunning
	applyRegistryEvent(entry, evt)
	deriveFields(entry)
	isRunning := entry.IsRunning
	mu.Unlock()

	fireTransition(cb, entry, wasRunning, isRunning)
}

func (o *FleetObserver) onStatus(mu *sync.Mutex, snap Snapshot, m bus.Message, cb Callbacks) {
	var rep bus.StatusReport
	if err := json.Unmarshal(m.Data, &rep); err != nil {
		o.log.Warn().Err(err).Str("subject", m.Subject).Msg("malformed status message")
		return
	}
	mu.Lock()
	entry := ensureEntry(snap, identity.ServiceID(rep.Name))
	wasRunning := entry.IsRunning
	applyStatusReport(entry, rep)
	deriveFields(entry)
	isRunning := entry.IsRunning
	mu.Unlock()

	fireTransition(cb, entry, wasRunning, isRunning)
	if cb.OnUpdate != nil {
		cb.OnUpdate(entry)
	}
}

func (o *FleetObserver) onHeartbeat(mu *sync.Mutex, snap Snapshot, m bus.Message, cb Callbacks) {
	var hb bus.Heartbeat
	if err := json.Unmarshal(m.Data, &hb); err != nil {
		o.log.Warn().Err(err).Str("subject", m.Subject).Msg("malformed heartbeat message")
		return
	}
	mu.Lock()
	entry := ensureEntry(snap, identity.ServiceID(hb.ServiceID))
	applyHeartbeatMsg(entry, hb)
	deriveFields(entry)
	mu.Unlock()

	if cb.OnUpdate != nil {
		cb.OnUpdate(entry)
	}
}

func fireTransition(cb Callbacks, entry *FleetEntry, wasRunning, isRunning bool) {
	if !wasRunning && isRunning && cb.OnStart != nil {
		cb.OnStart(entry)
	}
	if wasRunning && !isRunning && cb.OnStop != nil {
		cb.OnStop(entry)
	}
	if cb.OnUpdate != nil {
		cb.OnUpdate(entry)
	}
}
