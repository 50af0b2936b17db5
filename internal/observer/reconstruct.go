package observer

import (
	"encoding/json"
	"time"

	"github.com/araucaria-project/tcsd/internal/bus"
	"github.com/araucaria-project/tcsd/internal/identity"
	"github.com/araucaria-project/tcsd/internal/status"
)

// ensureEntry returns snap's entry for id, creating it on first reference.
func ensureEntry(snap Snapshot, id identity.ServiceID) *FleetEntry {
	entry, ok := snap[id]
	if !ok {
		entry = &FleetEntry{ServiceID: id}
		snap[id] = entry
	}
	return entry
}

// applyRegistry replays the registry stream's full retained history in
// order, folding each event into its service's entry. Messages arrive
// oldest-first from Drain, so later events in the loop win.
func applyRegistry(snap Snapshot, msgs []bus.Message) {
	for _, m := range msgs {
		var evt bus.RegistryEvent
		if err := json.Unmarshal(m.Data, &evt); err != nil {
			continue
		}
		entry := ensureEntry(snap, identity.ServiceID(evt.ServiceID))
		applyRegistryEvent(entry, evt)
	}
}

// applyRegistryEvent folds one registry.{event}.{service_id} message into
// entry: start/restarting set StartTime and clear StopTime, stop/failed
// set StopTime, every event records parent/runner_id/status when present.
func applyRegistryEvent(entry *FleetEntry, evt bus.RegistryEvent) {
	if evt.Parent != "" {
		entry.Parent = evt.Parent
	}
	if evt.RunnerID != "" {
		entry.RunnerID = evt.RunnerID
	}

	event := registryEventKind(evt)
	switch event {
	case "start", "restarting":
		entry.StartTime = evt.Timestamp.Time()
		entry.StopTime = time.Time{}
	case "stop", "failed":
		if entry.StopTime.IsZero() || evt.Timestamp.Time().After(entry.StopTime) {
			entry.StopTime = evt.Timestamp.Time()
		}
	}

	if evt.Status != "" {
		if s, ok := status.Parse(evt.Status); ok {
			entry.Status = s
		}
	}
}

// registryEventKind recovers which lifecycle event a RegistryEvent came
// from. The wire envelope doesn't carry the event name itself (only the
// subject's third token does, and the observer does not read it), so the
// kind is inferred from the fields actually populated.
func registryEventKind(evt bus.RegistryEvent) string {
	switch {
	case evt.WillRestart != nil:
		return "crashed"
	case evt.RestartAttempt > 0:
		return "restarting"
	case evt.Hostname != "" || evt.PID != 0:
		return "start"
	case evt.Reason == "restart_limit_reached" || evt.Reason == "policy" || evt.Reason == "restart_failed":
		return "failed"
	case evt.Reason != "" || evt.ExitCode != nil:
		return "stop"
	case evt.RestartPolicy != "" && evt.Status == "":
		return "declared"
	default:
		return ""
	}
}

// applyStatus replays the status stream's recent window, folding each
// report into its service's entry.
func applyStatus(snap Snapshot, msgs []bus.Message) {
	for _, m := range msgs {
		var rep bus.StatusReport
		if err := json.Unmarshal(m.Data, &rep); err != nil {
			continue
		}
		entry := ensureEntry(snap, identity.ServiceID(rep.Name))
		applyStatusReport(entry, rep)
	}
}

func applyStatusReport(entry *FleetEntry, rep bus.StatusReport) {
	if s, ok := status.Parse(rep.Status); ok {
		entry.Status = s
	}
	entry.StatusMessage = rep.Message
	if rep.Parent != "" {
		entry.Parent = rep.Parent
	}
}

// applyHeartbeat replays the heartbeat stream's recent window, recording
// each service's most recent heartbeat timestamp.
func applyHeartbeat(snap Snapshot, msgs []bus.Message) {
	for _, m := range msgs {
		var hb bus.Heartbeat
		if err := json.Unmarshal(m.Data, &hb); err != nil {
			continue
		}
		entry := ensureEntry(snap, identity.ServiceID(hb.ServiceID))
		applyHeartbeatMsg(entry, hb)
	}
}

func applyHeartbeatMsg(entry *FleetEntry, hb bus.Heartbeat) {
	t := hb.Timestamp.Time()
	if t.After(entry.LastHeartbeat) {
		entry.LastHeartbeat = t
	}
}

// deriveFields recomputes entry's IsRunning and HeartbeatStatus from its
// raw fields (spec §4.10):
//
//	is_running       = status.is_operational ∧ stop_time is null
//	heartbeat_status = alive  if heartbeat age < 30s
//	                   stale  if heartbeat age < 120s
//	                   dead   otherwise
//	                   none   if no heartbeat was ever seen and the
//	                          service is not running
func deriveFields(entry *FleetEntry) {
	entry.IsRunning = entry.Status.IsOperational() && entry.StopTime.IsZero()

	if entry.LastHeartbeat.IsZero() {
		if entry.IsRunning {
			entry.HeartbeatStatus = "dead"
		} else {
			entry.HeartbeatStatus = "none"
		}
		return
	}

	age := time.Since(entry.LastHeartbeat)
	switch {
	case age < heartbeatAlive:
		entry.HeartbeatStatus = "alive"
	case age < heartbeatStale:
		entry.HeartbeatStatus = "stale"
	default:
		entry.HeartbeatStatus = "dead"
	}
}
