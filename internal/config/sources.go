package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/araucaria-project/tcsd/internal/bus"
	"gopkg.in/yaml.v3"
)

// Priorities for the four recognized source kinds (spec §4.5's table).
const (
	PriorityDefaults = 0
	PriorityFile     = 10
	PriorityBus      = 20
	PriorityArgs     = 30
)

// DefaultsSource supplies the static built-in defaults: the NATS connection
// defaults and an empty registry/services set.
type DefaultsSource struct{}

// Priority returns PriorityDefaults.
func (DefaultsSource) Priority() int { return PriorityDefaults }

// Load returns the built-in defaults as a generic map.
func (DefaultsSource) Load() (map[string]any, error) {
	nats := DefaultNATSConfig()
	return map[string]any{
		"nats": map[string]any{
			"host":     nats.Host,
			"port":     nats.Port,
			"required": nats.Required,
		},
	}, nil
}

// FileSource loads a YAML configuration file, expanding ${VAR}/${VAR:-default}
// references recursively across every string value before it is merged
// (spec §4.5's File source notes).
type FileSource struct {
	Path string
	// Getenv defaults to os.LookupEnv; overridable for tests.
	Getenv func(string) (string, bool)
}

// Priority returns PriorityFile.
func (FileSource) Priority() int { return PriorityFile }

// Load reads and parses the YAML file, then applies environment expansion.
func (f FileSource) Load() (map[string]any, error) {
	data, err := readFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("config: reading file %s: %w", f.Path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parsing yaml %s: %w", f.Path, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	getenv := f.Getenv
	if getenv == nil {
		getenv = os.LookupEnv
	}
	expanded, _ := expandValue(raw, getenv).(map[string]any)
	return expanded, nil
}

// BusSource reads a remote configuration subject, per spec §4.4 step 4: the
// bus itself is registered as a low-priority (Bus=20) configuration source
// when the deployment declares a config_subject. A read timeout is treated
// as "no override", never fatal — Load returns an empty map instead of an
// error so ResolveConfig proceeds with whatever the lower layers provided.
type BusSource struct {
	Conn    bus.Conn
	Subject string
	Timeout time.Duration
}

// Priority returns PriorityBus.
func (BusSource) Priority() int { return PriorityBus }

// Load drains the config subject's retained backlog and decodes the most
// recent message as a JSON object; a missing subject or timeout yields an
// empty map rather than an error.
func (b BusSource) Load() (map[string]any, error) {
	if b.Conn == nil || b.Subject == "" {
		return map[string]any{}, nil
	}

	timeout := b.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	reader, err := b.Conn.NewReader(b.Subject, bus.StartPolicy{Kind: bus.StartLastPerSubject})
	if err != nil {
		return map[string]any{}, nil
	}
	msgs, err := reader.Drain(ctx)
	if err != nil || len(msgs) == 0 {
		return map[string]any{}, nil
	}

	var out map[string]any
	if err := json.Unmarshal(msgs[len(msgs)-1].Data, &out); err != nil {
		return map[string]any{}, nil
	}
	return out, nil
}

// ArgsSource overlays command-line/API argument overrides (spec §4.4's
// "optional argument-overlay mapping").
type ArgsSource struct {
	Overlay map[string]any
}

// Priority returns PriorityArgs.
func (ArgsSource) Priority() int { return PriorityArgs }

// Load returns the overlay map verbatim.
func (a ArgsSource) Load() (map[string]any, error) {
	if a.Overlay == nil {
		return map[string]any{}, nil
	}
	return a.Overlay, nil
}

// coercedInt reports whether s is entirely a base-10 integer, returning the
// parsed value. Used by expandString to preserve numeric types after
// env-var substitution (spec §4.5: "the bus port" is the named example).
func coercedInt(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
