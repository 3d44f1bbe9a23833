package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	envPrefix = "SESSIOND_"
)

// nestedKeys are the second-level section heads the env transformer must
// recognize, so SESSIOND_LOGGING_OUTPUTS_STDERR maps to
// logging.outputs.stderr rather than logging.outputs_stderr.
var nestedKeys = []string{"outputs", "redaction", "sampling", "metrics"}

// LoadWithFile loads configuration from a YAML file, then overrides with
// SESSIOND_* environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (SESSIOND_GATES_TESTS_COMMAND, ...)
//  2. YAML config file (~/.sessiond.yaml by default)
//  3. Defaults from Default()
//
// # Security
//
// The config file must be owner-only (0600 or 0400), at most 1MB, and live
// in an allowed location: ~/.sessiond.yaml, ~/.config/sessiond/, or
// /etc/sessiond/. The file is opened once and validated through the open
// descriptor, so the checked file is the file that is read.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".sessiond.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", transformEnvVar), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Unmarshal over the defaults: keys absent from file and environment
	// keep their default values, including booleans that default to true.
	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := expandPaths(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// transformEnvVar maps SESSIOND_SECTION_FIELD_NAME to section.field_name,
// promoting known nested heads to their own path segment:
//
//	SESSIOND_GATES_TESTS_COMMAND      -> gates.tests_command
//	SESSIOND_LOGGING_OUTPUTS_STDERR   -> logging.outputs.stderr
//	SESSIOND_TELEMETRY_SAMPLING_RATE  -> telemetry.sampling.rate
func transformEnvVar(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}

	section, field := parts[0], parts[1]
	for _, nested := range nestedKeys {
		if strings.HasPrefix(field, nested+"_") {
			field = nested + "." + strings.TrimPrefix(field, nested+"_")
			break
		}
	}
	return section + "." + field
}

// validateConfigPath checks the path is in an allowed location. This runs
// even when the file does not exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Follow symlinks so a link cannot point validation at one file and
	// reading at another. A path that does not exist yet validates as-is.
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowed := []string{
		filepath.Join(home, ".sessiond.yaml"),
		filepath.Join(home, ".config", "sessiond") + string(filepath.Separator),
		"/etc/sessiond" + string(filepath.Separator),
	}
	for _, prefix := range allowed {
		if resolvedPath == strings.TrimSuffix(prefix, string(filepath.Separator)) ||
			strings.HasPrefix(resolvedPath, prefix) {
			return nil
		}
	}

	return fmt.Errorf("config file must be ~/.sessiond.yaml or live in ~/.config/sessiond/ or /etc/sessiond/")
}

// validateConfigFileProperties checks permissions and size using FileInfo
// from an already-opened descriptor.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}

// expandPaths resolves ~ prefixes in configured paths.
func expandPaths(cfg *Config) error {
	expanded, err := ExpandHome(cfg.Storage.BasePath)
	if err != nil {
		return fmt.Errorf("failed to expand storage.base_path: %w", err)
	}
	cfg.Storage.BasePath = expanded

	if cfg.Scrub.AllowlistPath != "" {
		expanded, err := ExpandHome(cfg.Scrub.AllowlistPath)
		if err != nil {
			return fmt.Errorf("failed to expand scrub.allowlist_path: %w", err)
		}
		cfg.Scrub.AllowlistPath = expanded
	}

	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
