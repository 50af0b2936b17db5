package runner

import (
	"time"

	"github.com/araucaria-project/tcsd/internal/config"
)

// restartWindow tracks restart-attempt timestamps in a pruned sliding
// window. Unlike the teacher's exponential-backoff RestartTracker, this
// never grows a delay across attempts: spec §4.8 calls for a *fixed*
// restart_sec delay and a count limit over a fixed-size window instead.
type restartWindow struct {
	history []time.Time
	window  time.Duration
	max     int
}

func newRestartWindow(window time.Duration, max int) *restartWindow {
	return &restartWindow{window: window, max: max}
}

// prune drops entries older than now-window (spec §4.8 step 1).
func (w *restartWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.history) && w.history[i].Before(cutoff) {
		i++
	}
	w.history = w.history[i:]
}

// limitReached prunes, then reports whether restart_max has been hit
// (spec §4.8 step 2). max <= 0 means unlimited.
func (w *restartWindow) limitReached(now time.Time) bool {
	w.prune(now)
	return w.max > 0 && len(w.history) >= w.max
}

// record appends a restart attempt at now.
func (w *restartWindow) record(now time.Time) {
	w.history = append(w.history, now)
}

// count prunes, then returns the number of restarts currently in the window.
func (w *restartWindow) count(now time.Time) int {
	w.prune(now)
	return len(w.history)
}

// shouldRestart applies the restart policy decision table from spec §4.8.
func shouldRestart(policy config.RestartPolicy, exitCode int) bool {
	switch policy {
	case config.RestartAlways:
		return true
	case config.RestartOnFailure:
		return exitCode != 0
	case config.RestartOnAbnormal:
		return exitCode > 128 || exitCode < 0
	case config.RestartNo:
		return false
	default:
		return false
	}
}
