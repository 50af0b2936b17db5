// Package registry implements ServiceRegistry (spec §4.6): a pure mapping
// from service_type to the path identifying its implementation, with a
// default-prefix fallback for unmapped or null entries.
package registry

import (
	"fmt"
	"strings"
)

// DefaultPrefix is prepended to service_type when the registry has no
// explicit non-empty mapping for it.
const DefaultPrefix = "services"

// Registry is a pure mapping from service_type to module path.
type Registry struct {
	mapping map[string]string
}

// New wraps a config-supplied mapping (e.g. config.RegistrySection) as a
// Registry. A nil mapping behaves as an empty one.
func New(mapping map[string]string) *Registry {
	return &Registry{mapping: mapping}
}

// Resolve returns the module path for serviceType per spec §4.6's rules:
//   - a non-empty mapped value is used as-is
//   - an empty/absent mapping falls back to "{DefaultPrefix}.{serviceType}"
func (r *Registry) Resolve(serviceType string) string {
	if r.mapping != nil {
		if path, ok := r.mapping[serviceType]; ok && path != "" {
			return path
		}
	}
	return DefaultPrefix + "." + serviceType
}

// ParseServiceID splits id on its last dot: the right side is the variant
// (construction elsewhere rejects a variant containing a dot), the left
// side is the service_type.
func ParseServiceID(id string) (serviceType, variant string, err error) {
	idx := strings.LastIndex(id, ".")
	if idx < 0 {
		return "", "", fmt.Errorf("registry: service_id %q has no dot separator", id)
	}
	return id[:idx], id[idx+1:], nil
}
