// Package ports defines the interfaces for OS abstraction.
package ports

import "os/exec"

// ProcessControl manages OS process-group membership for spawned
// services, so the runner can forward signals to an entire subtree.
type ProcessControl interface {
	// SetProcessGroup configures cmd to start its own process group.
	SetProcessGroup(cmd *exec.Cmd)

	// GetProcessGroup returns the process group ID for pid.
	GetProcessGroup(pid int) (int, error)
}
