// Package identity implements the dotted identifiers described in spec §3.1:
// service_type, variant, service_id, runner_id and launcher_id.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// DefaultVariant is used when a service declaration omits variant.
const DefaultVariant = "dev"

// ServiceID identifies a single service instance within a deployment:
// "{service_type}.{variant}".
type ServiceID string

// Build constructs a ServiceID from a service_type and variant. variant must
// not contain a dot; the empty variant defaults to DefaultVariant.
//
// Params:
//   - serviceType: dotted string naming a service implementation
//   - variant: short instance discriminator, must be dotless
//
// Returns:
//   - ServiceID: the composed identifier
//   - error: non-nil if serviceType is empty or variant contains a dot
func Build(serviceType, variant string) (ServiceID, error) {
	if serviceType == "" {
		return "", fmt.Errorf("identity: service_type must not be empty")
	}
	if variant == "" {
		variant = DefaultVariant
	}
	if strings.Contains(variant, ".") {
		return "", fmt.Errorf("identity: variant %q must not contain a dot", variant)
	}
	return ServiceID(serviceType + "." + variant), nil
}

// Parse splits a ServiceID on its last dot, returning (service_type, variant).
// The variant is always the last dot-separated segment.
//
// Returns:
//   - string: service_type
//   - string: variant
//   - error: non-nil if id contains no dot
func Parse(id ServiceID) (serviceType, variant string, err error) {
	s := string(id)
	idx := strings.LastIndex(s, ".")
	if idx < 0 {
		return "", "", fmt.Errorf("identity: service_id %q has no dot separator", s)
	}
	return s[:idx], s[idx+1:], nil
}

// String returns the raw identifier string.
func (id ServiceID) String() string {
	return string(id)
}

// RunnerID identifies a runner within a launcher: "{launcher_id}.{service_type}".
type RunnerID string

// BuildRunnerID composes a runner_id for a service hosted by a launcher.
func BuildRunnerID(launcherID LauncherID, serviceType string) RunnerID {
	return RunnerID(string(launcherID) + "." + serviceType)
}

// String returns the raw identifier string.
func (id RunnerID) String() string {
	return string(id)
}

// LauncherID identifies a launcher process:
// "launcher.{6-char-hash}.{hostname}-{launcher-type}".
// It is deterministic across restarts given the same (configPath, workDir,
// hostname) triple, per spec §3.1.
type LauncherID string

// BuildLauncherID derives a launcher_id from the launcher's identifying
// inputs. The hash is stable across process restarts as long as configPath,
// workDir and hostname are unchanged.
//
// Params:
//   - configPath: absolute or relative path to the launcher's config file
//   - workDir: the launcher's working directory
//   - hostname: the machine's hostname
//   - launcherType: "process" or "inproc", appended after the hostname
//
// Returns:
//   - LauncherID: the composed, deterministic identifier
func BuildLauncherID(configPath, workDir, hostname, launcherType string) LauncherID {
	sum := sha256.Sum256([]byte(configPath + "\x00" + workDir + "\x00" + hostname))
	hash := hex.EncodeToString(sum[:])[:6]
	return LauncherID(fmt.Sprintf("launcher.%s.%s-%s", hash, hostname, launcherType))
}

// String returns the raw identifier string.
func (id LauncherID) String() string {
	return string(id)
}

// RegistryPrefix is the fixed prefix for the module-path lookup convention
// used by ServiceRegistry (spec §4.6): "services.{service_type}".
func RegistryPrefix(serviceType string) string {
	return "services." + serviceType
}
