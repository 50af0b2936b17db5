// Package config implements the layered ConfigManager of spec §4.5:
// Defaults/File/Bus/Args sources merged by priority into service
// declarations, the NATS connection section and the registry mapping.
package config

import (
	"path/filepath"
	"time"
)

// NATSConfig is the "nats" top-level section (spec §6.2).
type NATSConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	SubjectPrefix string `yaml:"subject_prefix,omitempty"`
	Required      bool   `yaml:"required"`
	ConfigSubject string `yaml:"config_subject,omitempty"`
}

// DefaultNATSConfig returns the built-in defaults used when no File/Bus/Args
// source overrides the nats section: localhost:4222, required.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Host:     "localhost",
		Port:     4222,
		Required: true,
	}
}

// RestartPolicy selects when a crashed service is restarted (spec §4.8).
type RestartPolicy string

// Restart policy values recognized by the Runner state machine.
const (
	RestartNo         RestartPolicy = "no"
	RestartAlways     RestartPolicy = "always"
	RestartOnFailure  RestartPolicy = "on-failure"
	RestartOnAbnormal RestartPolicy = "on-abnormal"
)

// Restart policy defaults (spec §6.2).
const (
	DefaultRestartPolicy = RestartNo
	DefaultRestartSec    = 5.0
	DefaultRestartMax    = 0
	DefaultRestartWindow = 60.0
)

// ServiceDeclaration is a single entry of the "services" list (spec §3.2 /
// §6.2): immutable for the lifetime of a launcher run. Extra carries any
// service-specific fields the declaration's YAML block isn't aware of;
// ServiceController filters them down by the target config struct's tags.
type ServiceDeclaration struct {
	Type          string
	Variant       string
	Module        string
	Restart       RestartPolicy
	RestartSec    float64
	RestartMax    int
	RestartWindow float64
	Logging       ServiceLogging
	Extra         map[string]any
}

// WithDefaults returns a copy of d with restart fields filled in from the
// spec §6.2 defaults wherever the declaration left them at the zero value.
func (d ServiceDeclaration) WithDefaults() ServiceDeclaration {
	if d.Restart == "" {
		d.Restart = DefaultRestartPolicy
	}
	if d.RestartSec == 0 {
		d.RestartSec = DefaultRestartSec
	}
	if d.RestartWindow == 0 {
		d.RestartWindow = DefaultRestartWindow
	}
	return d
}

// RegistrySection is the "registry" top-level section: service_type to
// module path, where an empty/null value falls back to the default prefix
// (internal/registry resolves the fallback; this type is a passive map).
type RegistrySection map[string]string

// RawConfig is the fully-merged configuration, decoded from Manager's
// generic merge result (Manager.GetRawConfig).
type RawConfig struct {
	NATS     NATSConfig
	Registry RegistrySection
	Services []ServiceDeclaration
	Logging  LoggingConfig
}

// LoggingConfig carries the per-service captured-output rotation defaults
// consumed by internal/logging. It is not part of spec.md's data model but
// is the ambient logging concern the teacher's own config layer carries.
type LoggingConfig struct {
	BaseDir  string         `yaml:"base_dir"`
	Defaults LogDefaults    `yaml:"defaults"`
}

// LogDefaults defines default logging settings shared by every service
// unless overridden.
type LogDefaults struct {
	TimestampFormat string         `yaml:"timestamp_format"`
	Rotation        RotationConfig `yaml:"rotation"`
}

// RotationConfig defines log rotation settings for captured stdout/stderr.
type RotationConfig struct {
	MaxSize  string `yaml:"max_size"`
	MaxAge   string `yaml:"max_age"`
	MaxFiles int    `yaml:"max_files"`
	Compress bool   `yaml:"compress"`
}

// DefaultLoggingConfig mirrors the teacher's own logging defaults.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		BaseDir: "/var/log/tcsd",
		Defaults: LogDefaults{
			TimestampFormat: "iso8601",
			Rotation: RotationConfig{
				MaxSize:  "100MB",
				MaxFiles: 10,
			},
		},
	}
}

// GetServiceLogPath joins the logging base directory, service name, and
// captured file name into the path a Writer opens.
func (c LoggingConfig) GetServiceLogPath(serviceName, filename string) string {
	return filepath.Join(c.BaseDir, serviceName, filename)
}

// ServiceLogging is a per-service override of the base logging defaults,
// one entry per captured stream.
type ServiceLogging struct {
	Stdout LogStreamConfig `yaml:"stdout"`
	Stderr LogStreamConfig `yaml:"stderr"`
}

// LogStreamConfig configures capture of a single stdout/stderr stream: the
// file name to write it to (relative to LoggingConfig.BaseDir/serviceName;
// empty leaves the stream passed through to the supervisor's own stdout or
// stderr), the timestamp prefix format, and the rotation policy. Resolve
// fills unset fields from defaults, so declarations only override what they
// need to.
type LogStreamConfig struct {
	Filename     string         `yaml:"file"`
	TimestampFmt string         `yaml:"timestamp_format"`
	RotationCfg  RotationConfig `yaml:"rotation"`
}

// File returns the configured capture file name, or "" to pass the stream
// through unchanged.
func (c LogStreamConfig) File() string { return c.Filename }

// TimestampFormat returns the configured per-line timestamp format.
func (c LogStreamConfig) TimestampFormat() string { return c.TimestampFmt }

// Rotation returns the configured rotation policy.
func (c LogStreamConfig) Rotation() RotationConfig { return c.RotationCfg }

// Resolve fills any zero-valued field of c from defaults, the way a
// service's logging override inherits the top-level logging.defaults
// section for anything it doesn't set itself.
func (c LogStreamConfig) Resolve(defaults LogDefaults) LogStreamConfig {
	if c.TimestampFmt == "" {
		c.TimestampFmt = defaults.TimestampFormat
	}
	if c.RotationCfg.MaxSize == "" {
		c.RotationCfg.MaxSize = defaults.Rotation.MaxSize
	}
	if c.RotationCfg.MaxFiles == 0 {
		c.RotationCfg.MaxFiles = defaults.Rotation.MaxFiles
	}
	if !c.RotationCfg.Compress {
		c.RotationCfg.Compress = defaults.Rotation.Compress
	}
	return c
}

// Duration is a wrapper around time.Duration that supports YAML
// unmarshaling from Go duration strings ("5s", "1h30m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
