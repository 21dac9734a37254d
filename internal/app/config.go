package app

import "errors"

// Config holds everything the CLI hands to an App instance.
type Config struct {
	// ConfigPath is the HCL configuration file path.
	ConfigPath string

	LogFormat string
	LogLevel  string

	// ResolveProjectID selects one-shot mode when non-zero: resolve that
	// project's timeline, print the summary, and exit. Zero means serve.
	ResolveProjectID int64

	// DryRun and ValidateOnly apply to one-shot mode only.
	DryRun       bool
	ValidateOnly bool
}

// NewConfig validates a Config.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.ConfigPath == "" {
		return nil, errors.New("ConfigPath is a required configuration field and cannot be empty")
	}
	if cfg.ResolveProjectID < 0 {
		return nil, errors.New("project id must be positive")
	}
	if (cfg.DryRun || cfg.ValidateOnly) && cfg.ResolveProjectID == 0 {
		return nil, errors.New("-dry-run and -validate-only require -resolve")
	}
	return &cfg, nil
}
