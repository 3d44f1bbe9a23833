// Package scrub provides secret detection and redaction using the
// Gitleaks SDK. Prompt, plan, handoff, and state content passes through a
// Scrubber before it is persisted, so a session archive never stores live
// credentials. Allowlists keep documented placeholders intact.
package scrub

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Config configures the scrubber.
type Config struct {
	// Enabled controls whether scrubbing is active (default: true).
	Enabled bool `koanf:"enabled"`

	// ProjectPath is a directory whose .gitleaks.toml allowlist applies,
	// empty to skip.
	ProjectPath string `koanf:"project_path"`

	// AllowlistPath is a user allowlist.toml, empty to skip.
	AllowlistPath string `koanf:"allowlist_path"`
}

// DefaultConfig returns a configuration with scrubbing enabled and no
// allowlist sources.
func DefaultConfig() *Config {
	return &Config{Enabled: true}
}

// Finding describes one detected secret. The secret value itself is not
// retained beyond a short preview.
type Finding struct {
	// RuleID identifies the gitleaks rule that matched (e.g. "github-pat").
	RuleID string `json:"rule_id"`

	// Description explains what was found.
	Description string `json:"description"`

	// Line is the 1-indexed line number of the match.
	Line int `json:"line,omitempty"`

	// Preview holds the first few characters of the match.
	Preview string `json:"preview,omitempty"`
}

// Result contains the scrubbing outcome.
type Result struct {
	// Scrubbed is the content with secrets replaced by markers.
	Scrubbed string `json:"scrubbed"`

	// Findings lists the detected secrets.
	Findings []Finding `json:"findings,omitempty"`

	// TotalFindings is the count of secrets found.
	TotalFindings int `json:"total_findings"`

	// ByRule maps rule IDs to finding counts.
	ByRule map[string]int `json:"by_rule,omitempty"`

	// Duration is how long scrubbing took.
	Duration time.Duration `json:"duration"`
}

// HasFindings returns true if any secrets were found.
func (r *Result) HasFindings() bool {
	return r.TotalFindings > 0
}

// Summary returns a one-line description of the outcome.
func (r *Result) Summary() string {
	if !r.HasFindings() {
		return "no secrets detected"
	}
	return fmt.Sprintf("%d secrets redacted across %d rules", r.TotalFindings, len(r.ByRule))
}

// Scrubber detects and redacts secrets from content.
type Scrubber interface {
	// Scrub replaces detected secrets with [REDACTED:rule-id] markers.
	Scrub(content string) (*Result, error)

	// IsEnabled returns whether scrubbing is active.
	IsEnabled() bool
}

// scrubber runs the gitleaks default ruleset. The detector is built once;
// compiling the several hundred bundled rules per call is too slow for a
// per-artifact code path.
type scrubber struct {
	config   *Config
	detector *detect.Detector

	mu sync.Mutex
}

// New creates a Scrubber with the gitleaks default rules plus any
// allowlists named in cfg. If cfg is nil, DefaultConfig() is used.
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !cfg.Enabled {
		return &NoopScrubber{}, nil
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to build gitleaks detector: %w", err)
	}

	allowlist, err := LoadAllowlists(cfg.ProjectPath, cfg.AllowlistPath)
	if err != nil {
		return nil, err
	}
	applyAllowlist(&detector.Config, allowlist)

	return &scrubber{config: cfg, detector: detector}, nil
}

// Scrub replaces detected secrets with [REDACTED:rule-id] markers.
func (s *scrubber) Scrub(content string) (*Result, error) {
	start := time.Now()

	s.mu.Lock()
	findings := s.detector.DetectString(content)
	s.mu.Unlock()

	result := &Result{
		Scrubbed: content,
		Findings: make([]Finding, 0, len(findings)),
		ByRule:   make(map[string]int),
	}

	// Replace by secret value rather than by reported position: the same
	// token redacts everywhere it appears, and marker insertion cannot
	// corrupt the offsets of later findings.
	markers := make(map[string]string, len(findings))
	for _, f := range findings {
		result.Findings = append(result.Findings, Finding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Line:        f.StartLine,
			Preview:     preview(f.Secret, 4),
		})
		result.ByRule[f.RuleID]++
		if f.Secret != "" {
			markers[f.Secret] = fmt.Sprintf("[REDACTED:%s]", f.RuleID)
		}
	}
	result.TotalFindings = len(result.Findings)

	// Longest secrets first, so a secret containing another is replaced
	// whole instead of being split by the shorter match.
	secrets := make([]string, 0, len(markers))
	for secret := range markers {
		secrets = append(secrets, secret)
	}
	sort.Slice(secrets, func(i, j int) bool { return len(secrets[i]) > len(secrets[j]) })

	for _, secret := range secrets {
		result.Scrubbed = strings.ReplaceAll(result.Scrubbed, secret, markers[secret])
	}

	result.Duration = time.Since(start)
	return result, nil
}

// IsEnabled returns whether scrubbing is active.
func (s *scrubber) IsEnabled() bool {
	return s.config.Enabled
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// NoopScrubber passes content through unchanged, for tests and disabled mode.
type NoopScrubber struct{}

// Scrub returns content unchanged.
func (n *NoopScrubber) Scrub(content string) (*Result, error) {
	return &Result{Scrubbed: content, Findings: []Finding{}, ByRule: map[string]int{}}, nil
}

// IsEnabled returns false.
func (n *NoopScrubber) IsEnabled() bool { return false }

var (
	_ Scrubber = (*scrubber)(nil)
	_ Scrubber = (*NoopScrubber)(nil)
)
