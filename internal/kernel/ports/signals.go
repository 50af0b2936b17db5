// Package ports defines the interfaces for OS abstraction.
package ports

import (
	"os"
	"syscall"
)

// SignalManager handles OS signal registration, forwarding, and
// classification for the supervisor's process lifecycle.
type SignalManager interface {
	// Notify registers for signal notifications. The returned channel is
	// bidirectional so it can be passed back to Stop.
	Notify(signals ...os.Signal) chan os.Signal

	// Stop stops signal notifications on the channel, which must be the
	// same channel value returned by Notify.
	Stop(ch chan os.Signal)

	// Forward sends a signal to a single process.
	Forward(pid int, sig os.Signal) error

	// ForwardToGroup sends a signal to an entire process group.
	ForwardToGroup(pgid int, sig syscall.Signal) error

	// IsTermSignal reports whether sig requests termination.
	IsTermSignal(sig os.Signal) bool

	// IsReloadSignal reports whether sig requests a config reload.
	IsReloadSignal(sig os.Signal) bool

	// SignalByName resolves a signal name (e.g. "SIGTERM") to an os.Signal.
	SignalByName(name string) (os.Signal, bool)

	// SetSubreaper marks the calling process as a child subreaper, so
	// orphaned grandchildren are re-parented to it instead of PID 1.
	SetSubreaper() error

	// ClearSubreaper undoes SetSubreaper.
	ClearSubreaper() error

	// IsSubreaper reports whether the calling process is currently a
	// child subreaper.
	IsSubreaper() (bool, error)
}
