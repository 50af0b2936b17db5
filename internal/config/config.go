package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source is one layer of configuration, carrying a fixed priority (spec
// §4.5's table: Defaults=0, File=10, Bus=20, Args=30). Higher priority
// overlays override lower ones.
type Source interface {
	Priority() int
	Load() (map[string]any, error)
}

// Manager is the layered ConfigManager of spec §4.5.
type Manager struct {
	sources []Source
}

// NewManager returns an empty Manager; sources are added with AddSource.
func NewManager() *Manager {
	return &Manager{}
}

// AddSource inserts src and re-sorts all sources by ascending priority.
func (m *Manager) AddSource(src Source) {
	m.sources = append(m.sources, src)
	sort.SliceStable(m.sources, func(i, j int) bool {
		return m.sources[i].Priority() < m.sources[j].Priority()
	})
}

// GetRawConfig merges every source from lowest to highest priority with no
// service filter, used by launchers to read the top-level services list.
func (m *Manager) GetRawConfig() (map[string]any, error) {
	merged := map[string]any{}
	for _, src := range m.sources {
		layer, err := src.Load()
		if err != nil {
			return nil, fmt.Errorf("config: loading source (priority %d): %w", src.Priority(), err)
		}
		merged = deepMerge(merged, layer)
	}
	return merged, nil
}

// ResolveConfig merges every source, then extracts the subtree scoped to
// one declared service, matched by {type, variant} within the "services"
// list, or (if module is empty) returns only the global sections.
func (m *Manager) ResolveConfig(serviceType, variant string) (map[string]any, error) {
	merged, err := m.GetRawConfig()
	if err != nil {
		return nil, err
	}
	if serviceType == "" {
		delete(merged, "services")
		return merged, nil
	}

	out := map[string]any{}
	for k, v := range merged {
		if k != "services" {
			out[k] = v
		}
	}

	rawServices, _ := merged["services"].([]any)
	for _, entry := range rawServices {
		decl, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		t, _ := decl["type"].(string)
		v, _ := decl["variant"].(string)
		if v == "" {
			v = DefaultVariantPlaceholder
		}
		wantVariant := variant
		if wantVariant == "" {
			wantVariant = DefaultVariantPlaceholder
		}
		if t == serviceType && v == wantVariant {
			for k, val := range decl {
				out[k] = val
			}
			break
		}
	}
	return out, nil
}

// DefaultVariantPlaceholder is used internally when matching declarations
// that omit variant; identity.DefaultVariant is the canonical value but
// config must not import identity to avoid a cycle.
const DefaultVariantPlaceholder = "dev"

// DecodeRawConfig converts a merged generic map into RawConfig by round
// tripping it through YAML, reusing the same struct tags the File source
// parses against.
func DecodeRawConfig(merged map[string]any) (RawConfig, error) {
	data, err := yaml.Marshal(merged)
	if err != nil {
		return RawConfig{}, fmt.Errorf("config: remarshal merged config: %w", err)
	}

	var doc struct {
		NATS     NATSConfig        `yaml:"nats"`
		Registry RegistrySection   `yaml:"registry"`
		Services []map[string]any `yaml:"services"`
		Logging  LoggingConfig     `yaml:"logging"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return RawConfig{}, fmt.Errorf("config: decode merged config: %w", err)
	}

	nats := doc.NATS
	if nats.Host == "" {
		nats = DefaultNATSConfig()
	}

	logging := doc.Logging
	if logging.BaseDir == "" {
		logging = DefaultLoggingConfig()
	}

	raw := RawConfig{NATS: nats, Registry: doc.Registry, Logging: logging}
	for _, svcMap := range doc.Services {
		decl, err := decodeServiceDeclaration(svcMap)
		if err != nil {
			return RawConfig{}, err
		}
		raw.Services = append(raw.Services, decl.WithDefaults())
	}
	return raw, nil
}

func decodeServiceDeclaration(m map[string]any) (ServiceDeclaration, error) {
	decl := ServiceDeclaration{Extra: map[string]any{}}
	for k, v := range m {
		switch k {
		case "type":
			decl.Type, _ = v.(string)
		case "variant":
			decl.Variant, _ = v.(string)
		case "module":
			decl.Module, _ = v.(string)
		case "restart":
			decl.Restart = RestartPolicy(fmt.Sprint(v))
		case "restart_sec":
			decl.RestartSec = toFloat(v)
		case "restart_max":
			decl.RestartMax = int(toFloat(v))
		case "restart_window":
			decl.RestartWindow = toFloat(v)
		case "logging":
			logging, err := decodeServiceLogging(v)
			if err != nil {
				return ServiceDeclaration{}, err
			}
			decl.Logging = logging
		default:
			decl.Extra[k] = v
		}
	}
	if decl.Type == "" {
		return ServiceDeclaration{}, fmt.Errorf("config: service declaration missing required field \"type\"")
	}
	return decl, nil
}

// decodeServiceLogging round-trips a service declaration's "logging" block
// through YAML to populate a ServiceLogging, the same pattern
// DecodeRawConfig uses for the document as a whole.
func decodeServiceLogging(v any) (ServiceLogging, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return ServiceLogging{}, fmt.Errorf("config: remarshal service logging block: %w", err)
	}
	var logging ServiceLogging
	if err := yaml.Unmarshal(data, &logging); err != nil {
		return ServiceLogging{}, fmt.Errorf("config: decode service logging block: %w", err)
	}
	return logging, nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	default:
		return 0
	}
}

// deepMerge recursively merges src over dst: maps merge key-by-key,
// scalars and lists replace wholesale (spec §4.5). dst is not mutated;
// a new map is returned.
func deepMerge(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		if existing, ok := out[k]; ok {
			if em, eok := existing.(map[string]any); eok {
				if vm, vok := v.(map[string]any); vok {
					out[k] = deepMerge(em, vm)
					continue
				}
			}
		}
		out[k] = v
	}
	return out
}

// ParseSize parses a size string like "100MB" into bytes, used by
// internal/logging's rotation policy.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, fmt.Errorf("config: empty size string")
	}

	suffixes := []struct {
		suffix string
		mult   int64
	}{
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"G", 1024 * 1024 * 1024},
		{"M", 1024 * 1024},
		{"K", 1024},
		{"B", 1},
	}

	for _, sf := range suffixes {
		if strings.HasSuffix(s, sf.suffix) {
			numStr := strings.TrimSuffix(s, sf.suffix)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("config: invalid size: %s", s)
			}
			return num * sf.mult, nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid size: %s", s)
	}
	return num, nil
}

// readFile is a small seam kept separate from FileSource.Load for testing.
func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
