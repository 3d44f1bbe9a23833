// Package template instantiates pre-built session skeletons. Templates are
// TOML files embedded in the binary: each names the workflow phases, their
// gate conditions, and the starting plan outline for a session kind.
package template

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/fyrsmithlabs/sessiond/internal/config"
)

// ErrTemplateNotFound indicates an unknown template name.
var ErrTemplateNotFound = errors.New("template not found")

// Phase is one workflow phase with its gate condition.
type Phase struct {
	// ID names the phase (analysis, implementation, validation, ...).
	ID string `toml:"id"`

	// Condition is the gate condition string that must pass before the
	// workflow advances beyond this phase. Empty means always-pass.
	Condition string `toml:"condition"`

	// RunTypecheck / RunTests enable the command checks for this phase's
	// gate.
	RunTypecheck bool `toml:"run_typecheck"`
	RunTests     bool `toml:"run_tests"`
}

// Gates carries per-template gate evaluation overrides.
type Gates struct {
	// EnforceCooldown throttles repeat gate checks per phase; zero keeps
	// the configured default.
	EnforceCooldown config.Duration `toml:"enforce_cooldown"`
}

// Plan is the starting plan skeleton.
type Plan struct {
	Outline []string `toml:"outline"`
}

// Template is one embedded session skeleton.
type Template struct {
	Name        string  `toml:"name"`
	Description string  `toml:"description"`
	Prompt      string  `toml:"prompt"`
	Gates       Gates   `toml:"gates"`
	Phases      []Phase `toml:"phases"`
	Plan        Plan    `toml:"plan"`
}

// Validate checks the template for structural problems.
func (t *Template) Validate() error {
	if t.Name == "" {
		return errors.New("template name is required")
	}
	if len(t.Phases) == 0 {
		return fmt.Errorf("template %s declares no phases", t.Name)
	}
	seen := make(map[string]bool, len(t.Phases))
	for i, phase := range t.Phases {
		if phase.ID == "" {
			return fmt.Errorf("template %s: phase %d has no id", t.Name, i)
		}
		if seen[phase.ID] {
			return fmt.Errorf("template %s: duplicate phase %q", t.Name, phase.ID)
		}
		seen[phase.ID] = true
	}
	return nil
}

// Phase returns the named phase, or nil.
func (t *Template) Phase(id string) *Phase {
	for i := range t.Phases {
		if t.Phases[i].ID == id {
			return &t.Phases[i]
		}
	}
	return nil
}

// PlanContent renders the plan outline as a markdown document.
func (t *Template) PlanContent() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Plan: %s session\n", t.Name)
	for _, item := range t.Plan.Outline {
		fmt.Fprintf(&b, "- [ ] %s\n", item)
	}
	return b.String()
}

// Load parses one embedded template by name.
func Load(name string) (*Template, error) {
	data, err := templateFS.ReadFile("templates/" + name + ".toml")
	if err != nil {
		return nil, fmt.Errorf("%w: %s (have: %s)", ErrTemplateNotFound, name, strings.Join(Names(), ", "))
	}
	var tmpl Template
	if err := toml.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// Names lists the embedded template names, sorted.
func Names() []string {
	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, strings.TrimSuffix(entry.Name(), ".toml"))
	}
	sort.Strings(names)
	return names
}
