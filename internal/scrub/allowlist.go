package scrub

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

var (
	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)

// Allowlist contains path and content regex patterns excluded from
// secret detection.
type Allowlist struct {
	Paths   []string
	Regexes []string
}

// LoadAllowlists merges the project .gitleaks.toml and the user allowlist
// file. Missing files are silently skipped; invalid TOML or regex patterns
// are errors.
func LoadAllowlists(projectPath, userPath string) (*Allowlist, error) {
	merged := &Allowlist{}

	if projectPath != "" {
		project, err := loadTOML(filepath.Join(projectPath, ".gitleaks.toml"))
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if project != nil {
			merged.Paths = append(merged.Paths, project.Paths...)
			merged.Regexes = append(merged.Regexes, project.Regexes...)
		}
	}

	if userPath != "" {
		user, err := loadTOML(userPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if user != nil {
			merged.Paths = append(merged.Paths, user.Paths...)
			merged.Regexes = append(merged.Regexes, user.Regexes...)
		}
	}

	return merged, nil
}

// loadTOML parses one allowlist file and validates every pattern, so a
// broken pattern fails at startup rather than silently skipping entries.
func loadTOML(path string) (*Allowlist, error) {
	var config struct {
		Allowlist struct {
			Paths   []string
			Regexes []string
		}
	}

	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	for _, pattern := range config.Allowlist.Paths {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: path pattern %q in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}
	for _, pattern := range config.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: content pattern %q in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}

	return &Allowlist{
		Paths:   config.Allowlist.Paths,
		Regexes: config.Allowlist.Regexes,
	}, nil
}

// applyAllowlist merges patterns into the gitleaks detector config.
// Patterns were validated in loadTOML, so compilation cannot fail here.
func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) {
	if allowlist == nil || (len(allowlist.Paths) == 0 && len(allowlist.Regexes) == 0) {
		return
	}

	global := &gitleaksConfig.Allowlist{
		Description: "sessiond user/project allowlist",
	}
	for _, pattern := range allowlist.Paths {
		global.Paths = append(global.Paths, (*gitleaksRegexp.Regexp)(regexp.MustCompile(pattern)))
	}
	for _, pattern := range allowlist.Regexes {
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(regexp.MustCompile(pattern)))
	}

	cfg.Allowlists = append(cfg.Allowlists, global)
}
