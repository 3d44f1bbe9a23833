// Package config provides configuration loading for sessiond.
//
// Configuration comes from ~/.sessiond.yaml overridden by SESSIOND_*
// environment variables, with defaults for everything else.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete sessiond configuration.
type Config struct {
	Storage   StorageConfig   `koanf:"storage"`
	Gates     GatesConfig     `koanf:"gates"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Events    EventsConfig    `koanf:"events"`
	Dashboard DashboardConfig `koanf:"dashboard"`
	Scrub     ScrubConfig     `koanf:"scrub"`
}

// StorageConfig holds session store configuration.
type StorageConfig struct {
	// BasePath is the root directory for session state. A leading ~ is
	// expanded to the user's home directory.
	BasePath string `koanf:"base_path"`

	// HistoryMax caps retained versions per artifact type (default: 50).
	HistoryMax int `koanf:"history_max"`
}

// GatesConfig holds gate evaluation configuration.
type GatesConfig struct {
	TypecheckCommand string   `koanf:"typecheck_command"`
	TypecheckTimeout Duration `koanf:"typecheck_timeout"`
	TestsCommand     string   `koanf:"tests_command"`
	TestsTimeout     Duration `koanf:"tests_timeout"`

	// EnforceCooldown throttles repeat gate checks per phase; zero disables.
	EnforceCooldown Duration `koanf:"enforce_cooldown"`

	// CacheTTL enables cross-evaluation reuse of command-check results;
	// zero disables.
	CacheTTL        Duration `koanf:"cache_ttl"`
	CacheMaxEntries int      `koanf:"cache_max_entries"`

	// WorkDir is where gate commands run. Empty means the process cwd.
	WorkDir string `koanf:"work_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string          `koanf:"level"`
	Format    string          `koanf:"format"`
	Outputs   OutputsConfig   `koanf:"outputs"`
	Redaction RedactionConfig `koanf:"redaction"`
}

// OutputsConfig controls where logs are written. Stdout is not an option:
// it carries the MCP protocol in daemon mode.
type OutputsConfig struct {
	Stderr bool `koanf:"stderr"`
	OTEL   bool `koanf:"otel"`
}

// RedactionConfig controls sensitive data redaction in log output.
type RedactionConfig struct {
	Enabled bool `koanf:"enabled"`
}

// TelemetryConfig holds OpenTelemetry export configuration.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
	Endpoint    string `koanf:"endpoint"`
	Protocol    string `koanf:"protocol"`
	Insecure    bool   `koanf:"insecure"`

	// TLSSkipVerify skips certificate verification for endpoints behind
	// internal CAs. Ignored when Insecure is set.
	TLSSkipVerify bool `koanf:"tls_skip_verify"`

	Sampling SamplingConfig `koanf:"sampling"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

// SamplingConfig controls trace sampling.
type SamplingConfig struct {
	Rate float64 `koanf:"rate"`
}

// MetricsConfig controls metric export.
type MetricsConfig struct {
	Enabled        bool     `koanf:"enabled"`
	ExportInterval Duration `koanf:"export_interval"`
}

// EventsConfig controls the in-process stage event bus.
type EventsConfig struct {
	Enabled bool `koanf:"enabled"`
}

// DashboardConfig holds terminal dashboard configuration.
type DashboardConfig struct {
	Refresh Duration `koanf:"refresh"`
}

// ScrubConfig holds secret scrubbing configuration.
type ScrubConfig struct {
	Enabled       bool   `koanf:"enabled"`
	AllowlistPath string `koanf:"allowlist_path"`
	ProjectPath   string `koanf:"project_path"`
}

// Default returns the full default configuration. The loader unmarshals
// file and environment values over it, so absent keys keep these values.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			BasePath:   "~/.sessiond/sessions",
			HistoryMax: 50,
		},
		Gates: GatesConfig{
			TypecheckCommand: "npm run typecheck",
			TypecheckTimeout: Duration(60 * time.Second),
			TestsCommand:     "npm test",
			TestsTimeout:     Duration(120 * time.Second),
			EnforceCooldown:  0,
			CacheTTL:         0,
			CacheMaxEntries:  64,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "json",
			Outputs:   OutputsConfig{Stderr: true, OTEL: false},
			Redaction: RedactionConfig{Enabled: true},
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "sessiond",
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
			Sampling:    SamplingConfig{Rate: 1.0},
			Metrics:     MetricsConfig{Enabled: true, ExportInterval: Duration(60 * time.Second)},
		},
		Events:    EventsConfig{Enabled: true},
		Dashboard: DashboardConfig{Refresh: Duration(2 * time.Second)},
		Scrub:     ScrubConfig{Enabled: true},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Storage.BasePath == "" {
		return errors.New("storage.base_path is required")
	}
	if c.Storage.HistoryMax < 1 {
		return fmt.Errorf("storage.history_max must be >= 1, got %d", c.Storage.HistoryMax)
	}

	if c.Gates.TypecheckCommand == "" {
		return errors.New("gates.typecheck_command is required")
	}
	if c.Gates.TestsCommand == "" {
		return errors.New("gates.tests_command is required")
	}
	if c.Gates.TypecheckTimeout.Duration() <= 0 {
		return errors.New("gates.typecheck_timeout must be positive")
	}
	if c.Gates.TestsTimeout.Duration() <= 0 {
		return errors.New("gates.tests_timeout must be positive")
	}
	if c.Gates.CacheMaxEntries < 1 {
		return fmt.Errorf("gates.cache_max_entries must be >= 1, got %d", c.Gates.CacheMaxEntries)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	if !c.Logging.Outputs.Stderr && !c.Logging.Outputs.OTEL {
		return errors.New("at least one logging output must be enabled (stderr or otel)")
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.ServiceName == "" {
			return errors.New("telemetry.service_name required when telemetry is enabled")
		}
		if c.Telemetry.Endpoint == "" {
			return errors.New("telemetry.endpoint required when telemetry is enabled")
		}
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http/protobuf" {
			return fmt.Errorf("telemetry.protocol must be 'grpc' or 'http/protobuf', got %q", c.Telemetry.Protocol)
		}
		if c.Telemetry.Sampling.Rate < 0 || c.Telemetry.Sampling.Rate > 1 {
			return fmt.Errorf("telemetry.sampling.rate must be in [0, 1], got %v", c.Telemetry.Sampling.Rate)
		}
		if c.Telemetry.Metrics.Enabled && c.Telemetry.Metrics.ExportInterval.Duration() <= 0 {
			return errors.New("telemetry.metrics.export_interval must be positive")
		}
	}

	if c.Dashboard.Refresh.Duration() <= 0 {
		return errors.New("dashboard.refresh must be positive")
	}

	return nil
}
