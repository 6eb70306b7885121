package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ResolverTuning overrides the resolver's default DNS retry ceiling. Loaded
// from an optional static file at boot; operators who never ship one keep
// the domain's built-in defaults.
type ResolverTuning struct {
	MaxAttempts int `yaml:"max_attempts"`
	WindowHours int `yaml:"window_hours"`
}

// Window renders WindowHours as a time.Duration.
func (t ResolverTuning) Window() time.Duration {
	return time.Duration(t.WindowHours) * time.Hour
}

// LoadResolverTuning reads and parses a resolver tuning file. A missing
// file is not an error: it means the operator hasn't opted into overriding
// the defaults, and the caller should keep them.
func LoadResolverTuning(path string) (*ResolverTuning, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read resolver tuning %s: %w", path, err)
	}

	var tuning ResolverTuning
	if err := yaml.Unmarshal(raw, &tuning); err != nil {
		return nil, fmt.Errorf("parse resolver tuning %s: %w", path, err)
	}
	return &tuning, nil
}
