//go:build unix && !linux && !darwin

package adapters

import (
	"os"

	"github.com/araucaria-project/tcsd/internal/kernel/ports"
)

// platformSignals returns no additional signals on unix variants other
// than Linux and Darwin.
func platformSignals() map[string]os.Signal {
	return nil
}

// SetSubreaper is unsupported outside Linux's PR_SET_CHILD_SUBREAPER.
func (m *UnixSignalManager) SetSubreaper() error {
	return ports.ErrNotSupported
}

// ClearSubreaper is a no-op where SetSubreaper is unsupported.
func (m *UnixSignalManager) ClearSubreaper() error {
	return nil
}

// IsSubreaper always returns false where subreaper semantics are unsupported.
func (m *UnixSignalManager) IsSubreaper() (bool, error) {
	return false, nil
}
