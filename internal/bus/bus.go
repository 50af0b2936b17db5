// Package bus defines the transport-agnostic ports used throughout tcsd to
// publish and read retained/journaled streams (spec §6.1): registry,
// status and heartbeat subjects under a configurable prefix. Concrete
// transports (internal/bus/jetstream) implement Conn.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// DefaultSubjectPrefix is used when a deployment does not override it.
const DefaultSubjectPrefix = "svc"

// Timestamp is the wire representation of a point in time: a UTC
// seven-element array [year, month, day, hour, minute, second,
// microsecond], per spec §6.1.
type Timestamp time.Time

// Now returns the current instant as a Timestamp.
func Now() Timestamp {
	return Timestamp(time.Now().UTC())
}

// Time returns the underlying time.Time.
func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

// MarshalJSON renders the timestamp as its seven-element wire array.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	u := time.Time(t).UTC()
	arr := [7]int{
		u.Year(), int(u.Month()), u.Day(),
		u.Hour(), u.Minute(), u.Second(),
		u.Nanosecond() / 1000,
	}
	return json.Marshal(arr)
}

// UnmarshalJSON parses a seven-element wire array back into a Timestamp.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var arr [7]int
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("bus: invalid timestamp array: %w", err)
	}
	*t = Timestamp(time.Date(
		arr[0], time.Month(arr[1]), arr[2],
		arr[3], arr[4], arr[5], arr[6]*1000,
		time.UTC,
	))
	return nil
}

// StatusReport is the serialized form of a status observation (spec §3.2),
// published on {prefix}.status.{name}.
type StatusReport struct {
	Name      string         `json:"name"`
	Status    string         `json:"status"`
	Timestamp Timestamp      `json:"timestamp"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Parent    string         `json:"parent,omitempty"`
}

// Heartbeat is the body published on {prefix}.heartbeat.{name}.
type Heartbeat struct {
	ServiceID string    `json:"service_id"`
	Timestamp Timestamp `json:"timestamp"`
	Status    string    `json:"status"`
}

// RegistryEvent is the body published on
// {prefix}.registry.{event}.{service_id} (spec §4.8's event table).
type RegistryEvent struct {
	ServiceID     string    `json:"service_id"`
	Timestamp     Timestamp `json:"timestamp"`
	Parent        string    `json:"parent,omitempty"`
	RunnerID      string    `json:"runner_id,omitempty"`
	Status        string    `json:"status,omitempty"`
	Hostname      string    `json:"hostname,omitempty"`
	PID           int       `json:"pid,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	ExitCode      *int      `json:"exit_code,omitempty"`
	RestartPolicy string    `json:"restart_policy,omitempty"`
	WillRestart   *bool     `json:"will_restart,omitempty"`
	RestartAttempt int      `json:"restart_attempt,omitempty"`
	MaxRestarts   int       `json:"max_restarts,omitempty"`
	RestartCount  int       `json:"restart_count,omitempty"`
}

// Subjects builds the three subject families under a given prefix.
type Subjects struct {
	Prefix string
}

// NewSubjects returns a Subjects helper; an empty prefix falls back to
// DefaultSubjectPrefix.
func NewSubjects(prefix string) Subjects {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return Subjects{Prefix: prefix}
}

// Status returns "{prefix}.status.{name}".
func (s Subjects) Status(name string) string {
	return s.Prefix + ".status." + name
}

// StatusWildcard returns "{prefix}.status.>".
func (s Subjects) StatusWildcard() string {
	return s.Prefix + ".status.>"
}

// Heartbeat returns "{prefix}.heartbeat.{name}".
func (s Subjects) Heartbeat(name string) string {
	return s.Prefix + ".heartbeat." + name
}

// HeartbeatWildcard returns "{prefix}.heartbeat.>".
func (s Subjects) HeartbeatWildcard() string {
	return s.Prefix + ".heartbeat.>"
}

// Registry returns "{prefix}.registry.{event}.{serviceID}".
func (s Subjects) Registry(event, serviceID string) string {
	return s.Prefix + ".registry." + event + "." + serviceID
}

// RegistryWildcard returns "{prefix}.registry.>".
func (s Subjects) RegistryWildcard() string {
	return s.Prefix + ".registry.>"
}

// StartPolicyKind selects where a Reader begins consuming a stream.
type StartPolicyKind int

const (
	// StartAll delivers the stream's full retained history.
	StartAll StartPolicyKind = iota
	// StartByTime delivers messages at or after StartPolicy.At.
	StartByTime
	// StartLastPerSubject delivers only the most recent message for each
	// distinct subject, then continues with new messages.
	StartLastPerSubject
)

// StartPolicy parametrizes where a Reader begins on its stream.
type StartPolicy struct {
	Kind StartPolicyKind
	At   time.Time
}

// FromNow returns a by-time StartPolicy anchored "since" before now.
func FromNow(since time.Duration) StartPolicy {
	return StartPolicy{Kind: StartByTime, At: time.Now().Add(-since)}
}

// Publisher publishes JSON-encodable payloads on a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// Message is a single delivered bus message handed to a Reader callback.
type Message struct {
	Subject string
	Data    []byte
}

// Reader consumes messages from one subject (which may be a wildcard).
type Reader interface {
	// Drain reads exactly the backlog currently available (spec's
	// nowait=true snapshot semantics) and returns once exhausted.
	Drain(ctx context.Context) ([]Message, error)
	// Follow starts a continuous read, invoking handler for every
	// message until ctx is cancelled or Stop is called.
	Follow(ctx context.Context, handler func(Message)) error
	// Stop cancels an in-progress Follow and releases resources.
	Stop() error
}

// Conn is a live bus connection: it can publish and create Readers.
type Conn interface {
	Publisher
	NewReader(subject string, policy StartPolicy) (Reader, error)
	Close() error
}

// registry tracks the most recently opened Conn in the process so that
// ProcessContext instances in the same runtime can discover and share a
// singleton connection instead of opening a second one (spec §4.4 step 3's
// "discover an already-open singleton" path — the Go analogue of the
// original's process-wide messenger lookup).
var (
	registryMu sync.Mutex
	current    Conn
)

// Register marks conn as the process's discoverable bus singleton.
func Register(conn Conn) {
	registryMu.Lock()
	defer registryMu.Unlock()
	current = conn
}

// Discover returns the most recently Registered Conn, if any.
func Discover() (Conn, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	return current, current != nil
}

// Unregister clears the discoverable singleton if it is conn. It is a
// no-op if a different Conn has since been registered.
func Unregister(conn Conn) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if current == conn {
		current = nil
	}
}
