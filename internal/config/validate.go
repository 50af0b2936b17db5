package config

import (
	"errors"
	"fmt"
)

// ValidationError names the offending field and what is wrong with it.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateRawConfig checks a decoded RawConfig for the handful of
// invariants spec §4.4/§4.5/§4.8 treat as fatal: a malformed NATS port, an
// unrecognized restart policy, and duplicate {type, variant} declarations.
func ValidateRawConfig(cfg RawConfig) error {
	var errs []error

	if cfg.NATS.Port <= 0 || cfg.NATS.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "nats.port",
			Message: fmt.Sprintf("must be between 1 and 65535, got %d", cfg.NATS.Port),
		})
	}

	seen := make(map[string]bool, len(cfg.Services))
	for i, svc := range cfg.Services {
		prefix := fmt.Sprintf("services[%d]", i)
		if svc.Type == "" {
			errs = append(errs, ValidationError{Field: prefix + ".type", Message: "type is required"})
			continue
		}

		variant := svc.Variant
		if variant == "" {
			variant = DefaultVariantPlaceholder
		}
		key := svc.Type + "." + variant
		if seen[key] {
			errs = append(errs, ValidationError{
				Field:   prefix,
				Message: fmt.Sprintf("duplicate service declaration %q", key),
			})
		}
		seen[key] = true

		if err := validateRestartPolicy(svc.Restart, prefix+".restart"); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateRestartPolicy(policy RestartPolicy, field string) error {
	switch policy {
	case RestartNo, RestartAlways, RestartOnFailure, RestartOnAbnormal, "":
		return nil
	default:
		return ValidationError{
			Field:   field,
			Message: fmt.Sprintf("invalid restart policy %q (must be no, always, on-failure, or on-abnormal)", policy),
		}
	}
}
