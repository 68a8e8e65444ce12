package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults; validation accepts
// both cases.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs validation that struct tags cannot express.
func validateCustomRules(cfg *Config) error {
	if len(cfg.Storages) == 0 {
		return fmt.Errorf("storages: at least one storage must be configured")
	}

	names := make(map[string]bool)
	for i, s := range cfg.Storages {
		if names[s.Name] {
			return fmt.Errorf("storages[%d]: duplicate storage name %q", i, s.Name)
		}
		names[s.Name] = true

		if s.StripPrefix != "" && !strings.HasPrefix(s.KeyExpr, s.StripPrefix) {
			return fmt.Errorf("storages[%d]: strip_prefix %q is not a prefix of key_expr %q",
				i, s.StripPrefix, s.KeyExpr)
		}

		dir, _ := s.Options["dir"].(string)
		if dir == "" {
			return fmt.Errorf("storages[%d]: options.dir is required", i)
		}
	}

	if !cfg.Adapters.NATS.Enabled {
		return fmt.Errorf("adapters: at least one adapter must be enabled")
	}

	if cfg.Server.Metrics.Enabled && cfg.Server.Metrics.Port == 0 {
		return fmt.Errorf("server.metrics: port is required when metrics are enabled")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
