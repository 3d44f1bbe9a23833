// Package gate evaluates phase-gate conditions: parsed condition trees are
// walked depth-first, leaf checks run sequentially (blocker order matters,
// and subprocess checks must not contend for build artifacts), and every
// evaluation produces a verdict even when individual checks fail to
// execute.
package gate

import "time"

// CheckResult is the outcome of one leaf check.
type CheckResult struct {
	// Name is the leaf's signature as written in the condition, e.g.
	// "typecheck" or "evidence[coverage] >= 80".
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
	// Skipped marks a check that passed vacuously because its switch was
	// off. Skipped checks never contribute blockers.
	Skipped bool `json:"skipped,omitempty"`
}

// GateResult is the verdict for one phase gate.
type GateResult struct {
	PhaseID    string        `json:"phase_id"`
	Passed     bool          `json:"passed"`
	CheckedAt  time.Time     `json:"checked_at"`
	Results    []CheckResult `json:"results"`
	Blockers   []string      `json:"blockers,omitempty"`
	DurationMS int64         `json:"duration_ms"`
	// RateLimited marks a result replayed from history because the phase
	// was re-checked within its enforcement cooldown.
	RateLimited bool   `json:"rate_limited,omitempty"`
	Note        string `json:"note,omitempty"`
}
