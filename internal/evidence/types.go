// Package evidence models analysis → implementation → validation chains and
// the coverage metric derived from how many acceptance criteria are
// verifiably linked end to end.
package evidence

import "time"

// Stage names carried by stage-completion events.
const (
	StageAnalysis       = "analysis"
	StageImplementation = "implementation"
	StageValidation     = "validation"
)

// Requirement is the authoritative list of criteria a chain must eventually
// verify. Immutable once a chain's requirement is set.
type Requirement struct {
	TaskID             string   `json:"task_id"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
}

// LinksTo is a one-directional reference to the preceding stage. There is
// no back-pointer from upstream to downstream, so reference cycles cannot
// form. Only the validation stage carries a verification map.
type LinksTo struct {
	Upstream     string          `json:"upstream,omitempty"`
	Verification map[string]bool `json:"verification,omitempty"`
}

// Analysis records the analysis stage of a chain.
type Analysis struct {
	AgentID         string   `json:"agent_id"`
	TaskID          string   `json:"task_id"`
	AnalyzedSymbols []string `json:"analyzed_symbols,omitempty"`
	EntryPoints     []string `json:"entry_points,omitempty"`
	Findings        string   `json:"findings,omitempty"`
	LinksTo         *LinksTo `json:"links_to,omitempty"`
}

// Implementation records the implementation stage of a chain.
type Implementation struct {
	AgentID        string   `json:"agent_id"`
	TaskID         string   `json:"task_id"`
	ChangedSymbols []string `json:"changed_symbols,omitempty"`
	FilesModified  []string `json:"files_modified,omitempty"`
	Summary        string   `json:"summary,omitempty"`
	LinksTo        *LinksTo `json:"links_to,omitempty"`
}

// Validation records the validation stage of a chain.
type Validation struct {
	AgentID     string   `json:"agent_id"`
	TaskID      string   `json:"task_id"`
	TestsPassed int      `json:"tests_passed"`
	TestsFailed int      `json:"tests_failed"`
	Summary     string   `json:"summary,omitempty"`
	LinksTo     *LinksTo `json:"links_to,omitempty"`
}

// ChainStatus is derived from the three stage records plus the requirement.
// It is recomputed on every mutation and never persisted as independent
// truth, so it cannot silently go stale.
type ChainStatus struct {
	AnalysisLinked       bool `json:"analysis_linked"`
	ImplementationLinked bool `json:"implementation_linked"`
	ValidationLinked     bool `json:"validation_linked"`
	CoveragePercent      int  `json:"coverage_percent"`
	CriteriaVerified     int  `json:"criteria_verified"`
	CriteriaTotal        int  `json:"criteria_total"`
}

// Chain is the aggregate root. A stage record, once attached, is never
// replaced; re-analysis starts a new chain.
type Chain struct {
	ID             string          `json:"id"`
	SessionID      string          `json:"session_id"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Requirement    Requirement     `json:"requirement"`
	Analysis       *Analysis       `json:"analysis,omitempty"`
	Implementation *Implementation `json:"implementation,omitempty"`
	Validation     *Validation     `json:"validation,omitempty"`
	Status         ChainStatus     `json:"chain_status"`
}
