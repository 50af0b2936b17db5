//go:build darwin

package adapters

import (
	"os"

	"github.com/araucaria-project/tcsd/internal/kernel/ports"
)

// platformSignals returns no additional signals on Darwin: it has no
// analogue of SIGPWR/SIGSTKFLT.
func platformSignals() map[string]os.Signal {
	return nil
}

// SetSubreaper is a no-op on Darwin.
// macOS does not support the PR_SET_CHILD_SUBREAPER functionality.
func (m *UnixSignalManager) SetSubreaper() error {
	return ports.ErrNotSupported
}

// ClearSubreaper is a no-op on Darwin.
func (m *UnixSignalManager) ClearSubreaper() error {
	return nil
}

// IsSubreaper always returns false on Darwin.
func (m *UnixSignalManager) IsSubreaper() (bool, error) {
	return false, nil
}
