//go:build linux

// Package adapters_test provides black-box tests for the adapters package.
// It tests Linux-specific signal functionality.
package adapters_test

import (
	"testing"

	"github.com/araucaria-project/tcsd/internal/kernel/adapters"
)

// TestUnixSignalManager_SetSubreaper tests the SetSubreaper method.
//
// Params:
//   - t: the testing context
//
// Returns:
//   - (none, test function)
func TestUnixSignalManager_SetSubreaper(t *testing.T) {
	// Define test cases for SetSubreaper.
	tests := []struct {
		name string
	}{
		{name: "set subreaper does not error"},
	}

	// Iterate over test cases.
	for _, tt := range tests {
		// Run each test case as a subtest.
		t.Run(tt.name, func(t *testing.T) {
			sm := adapters.NewUnixSignalManager()
			err := sm.SetSubreaper()
			// Check if no error occurred.
			if err != nil {
				t.Errorf("SetSubreaper returned error: %v", err)
			}
		})
	}
}

// TestUnixSignalManager_ClearSubreaper tests the ClearSubreaper method.
//
// Params:
//   - t: the testing context
//
// Returns:
//   - (none, test function)
func TestUnixSignalManager_ClearSubreaper(t *testing.T) {
	// Define test cases for ClearSubreaper.
	tests := []struct {
		name string
	}{
		{name: "clear subreaper does not error"},
	}

	// Iterate over test cases.
	for _, tt := range tests {
		// Run each test case as a subtest.
		t.Run(tt.name, func(t *testing.T) {
			sm := adapters.NewUnixSignalManager()
			err := sm.ClearSubreaper()
			// Check if no error occurred.
			if err != nil {
				t.Errorf("ClearSubreaper returned error: %v", err)
			}
		})
	}
}

// TestUnixSignalManager_IsSubreaper tests the IsSubreaper method.
//
// Params:
//   - t: the testing context
//
// Returns:
//   - (none, test function)
func TestUnixSignalManager_IsSubreaper(t *testing.T) {
	// Define test cases for IsSubreaper.
	tests := []struct {
		name string
	}{
		{name: "is subreaper returns without error"},
	}

	// Iterate over test cases.
	for _, tt := range tests {
		// Run each test case as a subtest.
		t.Run(tt.name, func(t *testing.T) {
			sm := adapters.NewUnixSignalManager()
			_, err := sm.IsSubreaper()
			// Check if no error occurred.
			if err != nil {
				t.Errorf("IsSubreaper returned error: %v", err)
			}
		})
	}
}

// TestSubreaperRoundtrip tests setting and checking subreaper status.
//
// Params:
//   - t: the testing context
//
// Returns:
//   - (none, test function)
func TestSubreaperRoundtrip(t *testing.T) {
	// Define test cases for subreaper roundtrip.
	tests := []struct {
		name string
	}{
		{name: "set and verify subreaper status"},
	}

	// Iterate over test cases.
	for _, tt := range tests {
		// Run each test case as a subtest.
		t.Run(tt.name, func(t *testing.T) {
			sm := adapters.NewUnixSignalManager()

			// Set subreaper.
			err := sm.SetSubreaper()
			if err != nil {
				t.Fatalf("SetSubreaper failed: %v", err)
			}

			// Verify subreaper is set.
			isSubreaper, err := sm.IsSubreaper()
			if err != nil {
				t.Fatalf("IsSubreaper failed: %v", err)
			}
			if !isSubreaper {
				t.Error("expected IsSubreaper to return true after SetSubreaper")
			}

			// Clear subreaper.
			err = sm.ClearSubreaper()
			if err != nil {
				t.Fatalf("ClearSubreaper failed: %v", err)
			}

			// Verify subreaper is cleared.
			isSubreaper, err = sm.IsSubreaper()
			if err != nil {
				t.Fatalf("IsSubreaper failed: %v", err)
			}
			if isSubreaper {
				t.Error("expected IsSubreaper to return false after ClearSubreaper")
			}
		})
	}
}
