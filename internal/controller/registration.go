package controller

import (
	"fmt"
	"strings"
	"sync"
)

// Factory produces a fresh Service instance and, optionally, a fresh
// pointer to the config struct it accepts. NewConfig may be nil, in which
// case the controller falls back to a minimal base config (spec §4.7 step
// 1: "If no config class is found → use a minimal base").
type Factory struct {
	NewService func() Service
	NewConfig  func() any
}

var (
	registryMu sync.RWMutex
	factories  = map[string]Factory{}
)

// Register associates serviceType with a Factory. Service implementations
// call this from an init() func, the Go analogue of spec §4.7's
// decorator-style class registry.
func Register(serviceType string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[serviceType] = f
}

// Lookup resolves serviceType to its registered Factory. If none was
// explicitly registered, it falls back to the convention named in spec
// §4.7 step 1 (PascalCase(service_type) + "Service"/"Config") — since Go
// has no reflective module import, the convention fallback here means
// "no factory": ok is false and initialization fails with a clear error,
// exactly as the spec requires when no service class is found.
func Lookup(serviceType string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := factories[serviceType]
	return f, ok
}

// ConventionName renders the PascalCase(service_type)+suffix name spec
// §4.7 names as the fallback discovery convention, for use in error
// messages and logs pointing at what registration was expected.
func ConventionName(serviceType, suffix string) string {
	parts := strings.Split(serviceType, ".")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		if len(p) > 1 {
			b.WriteString(p[1:])
		}
	}
	b.WriteString(suffix)
	return b.String()
}

// errNotRegistered is returned by Initialize when Lookup fails.
func errNotRegistered(serviceType string) error {
	return fmt.Errorf("controller: no service class registered for %q (expected a Register(%q, ...) call, convention name %s)",
		serviceType, serviceType, ConventionName(serviceType, "Service"))
}
