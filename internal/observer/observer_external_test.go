package observer_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/araucaria-project/tcsd/internal/bus"
	"github.com/araucaria-project/tcsd/internal/identity"
	"github.com/araucaria-project/tcsd/internal/observer"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeReader is a bus.Reader test double: Drain returns a fixed backlog,
// Follow relays whatever is pushed onto ch until stopped or cancelled.
type fakeReader struct {
	backlog []bus.Message
	ch      chan bus.Message
}

func newFakeReader(backlog ...bus.Message) *fakeReader {
	return &fakeReader{backlog: backlog, ch: make(chan bus.Message, 32)}
}

func (r *fakeReader) Drain(ctx context.Context) ([]bus.Message, error) {
	return r.backlog, nil
}

func (r *fakeReader) Follow(ctx context.Context, handler func(bus.Message)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-r.ch:
			if !ok {
				return nil
			}
			handler(m)
		}
	}
}

func (r *fakeReader) Stop() error { return nil }

// fakeConn is a bus.Conn test double keyed by exact subject string (the
// wildcard strings FleetObserver asks for: "svc.registry.>" etc).
type fakeConn struct {
	mu      sync.Mutex
	readers map[string]*fakeReader
}

func newFakeConn() *fakeConn {
	return &fakeConn{readers: make(map[string]*fakeReader)}
}

func (c *fakeConn) seed(subject string, msgs ...bus.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readers[subject] = newFakeReader(msgs...)
}

func (c *fakeConn) push(subject string, m bus.Message) {
	c.mu.Lock()
	r, ok := c.readers[subject]
	if !ok {
		r = newFakeReader()
		c.readers[subject] = r
	}
	c.mu.Unlock()
	r.ch <- m
}

func (c *fakeConn) Publish(ctx context.Context, subject string, payload any) error { return nil }

func (c *fakeConn) NewReader(subject string, policy bus.StartPolicy) (bus.Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.readers[subject]
	if !ok {
		r = newFakeReader()
		c.readers[subject] = r
	}
	return r, nil
}

func (c *fakeConn) Close() error { return nil }

func marshalMsg(t *testing.T, subject string, v any) bus.Message {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bus.Message{Subject: subject, Data: data}
}

func TestSnapshot_RunningHeartbeatingService(t *testing.T) {
	conn := newFakeConn()
	now := time.Now().UTC()

	conn.seed("svc.registry.>", marshalMsg(t, "svc.registry.start.a.x", bus.RegistryEvent{
		ServiceID: "a.x",
		Timestamp: bus.Timestamp(now.Add(-time.Hour)),
		Hostname:  "host1",
		PID:       123,
		Status:    "startup",
	}))
	conn.seed("svc.status.>", marshalMsg(t, "svc.status.a.x", bus.StatusReport{
		Name:      "a.x",
		Status:    "ok",
		Timestamp: bus.Timestamp(now),
	}))
	conn.seed("svc.heartbeat.>", marshalMsg(t, "svc.heartbeat.a.x", bus.Heartbeat{
		ServiceID: "a.x",
		Timestamp: bus.Timestamp(now.Add(-5 * time.Second)),
		Status:    "ok",
	}))

	obs := observer.New(conn, "", zerolog.Nop())
	snap, err := obs.Snapshot(context.Background())
	require.NoError(t, err)

	entry, ok := snap[identity.ServiceID("a.x")]
	require.True(t, ok)
	require.True(t, entry.IsRunning)
	require.Equal(t, "alive", entry.HeartbeatStatus)
}

func TestSnapshot_StoppedServiceHasNoHeartbeatStatus(t *testing.T) {
	conn := newFakeConn()
	now := time.Now().UTC()

	conn.seed("svc.registry.>",
		marshalMsg(t, "svc.registry.start.b.y", bus.RegistryEvent{
			ServiceID: "b.y",
			Timestamp: bus.Timestamp(now.Add(-2 * time.Hour)),
			Status:    "startup",
		}),
		marshalMsg(t, "svc.registry.stop.b.y", bus.RegistryEvent{
			ServiceID: "b.y",
			Timestamp: bus.Timestamp(now.Add(-time.Hour)),
			Status:    "shutdown",
			Reason:    "stopped",
		}),
	)
	conn.seed("svc.status.>", marshalMsg(t, "svc.status.b.y", bus.StatusReport{
		Name:      "b.y",
		Status:    "shutdown",
		Timestamp: bus.Timestamp(now.Add(-time.Hour)),
	}))

	obs := observer.New(conn, "", zerolog.Nop())
	snap, err := obs.Snapshot(context.Background())
	require.NoError(t, err)

	entry, ok := snap[identity.ServiceID("b.y")]
	require.True(t, ok)
	require.False(t, entry.IsRunning)
	require.Equal(t, "none", entry.HeartbeatStatus)
	require.Equal(t, "N/A", entry.UptimeString())
}

func TestSnapshot_CrashedNoRestartIsFailed(t *testing.T) {
	conn := newFakeConn()
	now := time.Now().UTC()
	willRestart := false

	conn.seed("svc.registry.>",
		marshalMsg(t, "svc.registry.start.c.z", bus.RegistryEvent{
			ServiceID: "c.z",
			Timestamp: bus.Timestamp(now.Add(-time.Hour)),
			Status:    "startup",
		}),
		marshalMsg(t, "svc.registry.crashed.c.z", bus.RegistryEvent{
			ServiceID:   "c.z",
			Timestamp:   bus.Timestamp(now.Add(-30 * time.Minute)),
			Status:      "failed",
			ExitCode:    intPtr(1),
			WillRestart: &willRestart,
		}),
		marshalMsg(t, "svc.registry.failed.c.z", bus.RegistryEvent{
			ServiceID: "c.z",
			Timestamp: bus.Timestamp(now.Add(-29 * time.Minute)),
			Status:    "failed",
			Reason:    "policy",
		}),
	)
	conn.seed("svc.status.>", marshalMsg(t, "svc.status.c.z", bus.StatusReport{
		Name:      "c.z",
		Status:    "failed",
		Timestamp: bus.Timestamp(now.Add(-29 * time.Minute)),
	}))

	obs := observer.New(conn, "", zerolog.Nop())
	snap, err := obs.Snapshot(context.Background())
	require.NoError(t, err)

	entry, ok := snap[identity.ServiceID("c.z")]
	require.True(t, ok)
	require.False(t, entry.IsRunning)
	require.Equal(t, "failed", entry.Status.String())
}

func TestSnapshot_ThreeServiceFleet(t *testing.T) {
	conn := newFakeConn()
	now := time.Now().UTC()
	willRestart := false

	conn.seed("svc.registry.>",
		marshalMsg(t, "svc.registry.start.a.x", bus.RegistryEvent{
			ServiceID: "a.x", Timestamp: bus.Timestamp(now.Add(-time.Hour)), Status: "startup",
		}),
		marshalMsg(t, "svc.registry.start.b.y", bus.RegistryEvent{
			ServiceID: "b.y", Timestamp: bus.Timestamp(now.Add(-2 * time.Hour)), Status: "startup",
		}),
		marshalMsg(t, "svc.registry.stop.b.y", bus.RegistryEvent{
			ServiceID: "b.y", Timestamp: bus.Timestamp(now.Add(-time.Hour)), Status: "shutdown",
		}),
		marshalMsg(t, "svc.registry.start.c.z", bus.RegistryEvent{
			ServiceID: "c.z", Timestamp: bus.Timestamp(now.Add(-time.Hour)), Status: "startup",
		}),
		marshalMsg(t, "svc.registry.crashed.c.z", bus.RegistryEvent{
			ServiceID: "c.z", Timestamp: bus.Timestamp(now.Add(-30 * time.Minute)),
			Status: "failed", WillRestart: &willRestart,
		}),
	)
	conn.seed("svc.status.>",
		marshalMsg(t, "svc.status.a.x", bus.StatusReport{Name: "a.x", Status: "ok", Timestamp: bus.Timestamp(now)}),
		marshalMsg(t, "svc.status.b.y", bus.StatusReport{Name: "b.y", Status: "shutdown", Timestamp: bus.Timestamp(now.Add(-time.Hour))}),
		marshalMsg(t, "svc.status.c.z", bus.StatusReport{Name: "c.z", Status: "failed", Timestamp: bus.Timestamp(now.Add(-30 * time.Minute))}),
	)
	conn.seed("svc.heartbeat.>",
		marshalMsg(t, "svc.heartbeat.a.x", bus.Heartbeat{ServiceID: "a.x", Timestamp: bus.Timestamp(now.Add(-2 * time.Second)), Status: "ok"}),
	)

	obs := observer.New(conn, "", zerolog.Nop())
	snap, err := obs.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap, 3)

	require.True(t, snap["a.x"].IsRunning)
	require.Equal(t, "alive", snap["a.x"].HeartbeatStatus)

	require.False(t, snap["b.y"].IsRunning)
	require.Equal(t, "none", snap["b.y"].HeartbeatStatus)

	require.False(t, snap["c.z"].IsRunning)
	require.Equal(t, "failed", snap["c.z"].Status.String())
}

func TestFollow_FiresStartAndStopCallbacks(t *testing.T) {
	conn := newFakeConn()
	now := time.Now().UTC()

	conn.seed("svc.registry.>")
	conn.seed("svc.status.>")
	conn.seed("svc.heartbeat.>")

	var mu sync.Mutex
	started := make(chan struct{}, 1)
	stopped := make(chan struct{}, 1)

	cb := observer.Callbacks{
		OnStart: func(e *observer.FleetEntry) {
			mu.Lock()
			defer mu.Unlock()
			select {
			case started <- struct{}{}:
			default:
			}
		},
		OnStop: func(e *observer.FleetEntry) {
			mu.Lock()
			defer mu.Unlock()
			select {
			case stopped <- struct{}{}:
			default:
			}
		},
	}

	obs := observer.New(conn, "", zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snap, stop, err := obs.Follow(ctx, cb)
	require.NoError(t, err)
	require.Empty(t, snap)
	defer stop()

	conn.push("svc.registry.>", marshalMsg(t, "svc.registry.start.d.w", bus.RegistryEvent{
		ServiceID: "d.w",
		Timestamp: bus.Timestamp(now),
		Hostname:  "host1",
		PID:       42,
		Status:    "startup",
	}))

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("OnStart never fired")
	}

	conn.push("svc.registry.>", marshalMsg(t, "svc.registry.stop.d.w", bus.RegistryEvent{
		ServiceID: "d.w",
		Timestamp: bus.Timestamp(now.Add(time.Minute)),
		Status:    "shutdown",
		Reason:    "completed",
	}))

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("OnStop never fired")
	}
}

func intPtr(v int) *int { return &v }
