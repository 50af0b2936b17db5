package controller

import (
	"reflect"

	"gopkg.in/yaml.v3"
)

// acceptedFields returns the set of map keys cfg's struct type will bind
// from a yaml tag (falling back to the lowercased field name), used to
// filter an arbitrary resolved-config map down to what the config class
// actually accepts (spec §4.7 step 2: "unknown fields are dropped with a
// debug log, never an error").
func acceptedFields(cfg any) map[string]bool {
	fields := map[string]bool{}
	t := reflect.TypeOf(cfg)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return fields
	}

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, ok := f.Tag.Lookup("yaml")
		name := f.Name
		if ok {
			if idx := indexComma(tag); idx >= 0 {
				tag = tag[:idx]
			}
			if tag != "" && tag != "-" {
				name = tag
			}
		}
		fields[name] = true
		fields[lower(name)] = true
	}
	return fields
}

func indexComma(s string) int {
	for i, c := range s {
		if c == ',' {
			return i
		}
	}
	return -1
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// FilterConfig drops every key in raw that newCfg's struct type does not
// declare, logging each dropped key via the supplied onDropped callback
// (nil means "don't log"). It returns a new map safe to decode into newCfg.
func FilterConfig(raw map[string]any, newCfg any, onDropped func(key string)) map[string]any {
	accepted := acceptedFields(newCfg)
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		if accepted[k] {
			out[k] = v
			continue
		}
		if onDropped != nil {
			onDropped(k)
		}
	}
	return out
}

// DecodeConfig filters raw down to newCfg's accepted fields, then decodes
// it into newCfg via a YAML round trip (consistent with every other layer
// of configuration decoding in this repo).
func DecodeConfig(raw map[string]any, newCfg any, onDropped func(key string)) error {
	filtered := FilterConfig(raw, newCfg, onDropped)
	data, err := yaml.Marshal(filtered)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, newCfg)
}
