package evidence

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ValidationReport is the outcome of ValidateChainLinks. Mismatched upstream
// references are errors; missing optional stages and unreferenced symbols
// are warnings, because partial chains are a normal state mid-workflow.
type ValidationReport struct {
	Valid           bool     `json:"valid"`
	Errors          []string `json:"errors,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
	CoveragePercent int      `json:"coverage_percent"`
}

// Builder assembles an evidence chain stage by stage. All setters return the
// builder; Build reports any error accumulated along the way.
type Builder struct {
	chain          Chain
	hasRequirement bool
	err            error
}

// NewBuilder starts an empty chain owned by sessionID. The chain id defaults
// to the requirement's task id once SetRequirement is called.
func NewBuilder(sessionID string) *Builder {
	return &Builder{chain: Chain{SessionID: sessionID}}
}

// FromChain resumes building on an existing chain, e.g. to attach a later
// stage delivered by a stage-completion event.
func FromChain(c *Chain) *Builder {
	return &Builder{
		chain:          *c,
		hasRequirement: c.Requirement.TaskID != "",
	}
}

// SetRequirement sets the authoritative requirement. Mandatory before Build.
func (b *Builder) SetRequirement(req Requirement) *Builder {
	if b.hasRequirement {
		b.fail(errors.New("requirement is immutable once set"))
		return b
	}
	if req.TaskID == "" {
		b.fail(errors.New("requirement task_id is required"))
		return b
	}
	b.chain.Requirement = req
	b.hasRequirement = true
	if b.chain.ID == "" {
		b.chain.ID = req.TaskID
	}
	return b
}

// SetAnalysis attaches the analysis stage.
func (b *Builder) SetAnalysis(a Analysis) *Builder {
	if b.chain.Analysis != nil {
		b.fail(errors.New("analysis stage already attached; re-analysis starts a new chain"))
		return b
	}
	b.chain.Analysis = &a
	return b
}

// SetImplementation attaches the implementation stage.
func (b *Builder) SetImplementation(impl Implementation) *Builder {
	if b.chain.Implementation != nil {
		b.fail(errors.New("implementation stage already attached; re-implementation starts a new chain"))
		return b
	}
	b.chain.Implementation = &impl
	return b
}

// SetValidation attaches the validation stage.
func (b *Builder) SetValidation(v Validation) *Builder {
	if b.chain.Validation != nil {
		b.fail(errors.New("validation stage already attached; re-validation starts a new chain"))
		return b
	}
	b.chain.Validation = &v
	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// ValidateChainLinks checks cross-stage link integrity on the chain as
// currently assembled.
func (b *Builder) ValidateChainLinks() ValidationReport {
	return validateLinks(&b.chain)
}

// Build finalizes the chain: timestamps, derived status, and the mandatory
// requirement check.
func (b *Builder) Build() (*Chain, error) {
	if b.err != nil {
		return nil, b.err
	}
	if !b.hasRequirement {
		return nil, errors.New("requirement must be set before build")
	}
	now := time.Now().UTC()
	if b.chain.CreatedAt.IsZero() {
		b.chain.CreatedAt = now
	}
	b.chain.UpdatedAt = now
	b.chain.Status = ComputeStatus(&b.chain)

	chain := b.chain
	return &chain, nil
}

// ComputeStatus derives ChainStatus from the stage records plus the
// requirement. Exposed so stores can recompute after deserialization.
func ComputeStatus(c *Chain) ChainStatus {
	status := ChainStatus{
		AnalysisLinked:       c.Analysis != nil,
		ImplementationLinked: c.Implementation != nil,
		ValidationLinked:     c.Validation != nil,
		CriteriaTotal:        len(c.Requirement.AcceptanceCriteria),
	}
	status.CriteriaVerified = countVerified(c)

	report := validateLinks(c)
	status.CoveragePercent = report.CoveragePercent
	return status
}

func validateLinks(c *Chain) ValidationReport {
	var report ValidationReport

	if c.Analysis == nil {
		report.Warnings = append(report.Warnings, "analysis stage not attached")
	}
	if c.Implementation == nil {
		report.Warnings = append(report.Warnings, "implementation stage not attached")
	}
	if c.Validation == nil {
		report.Warnings = append(report.Warnings, "validation stage not attached")
	}

	// Entry points vs changed symbols is a substring heuristic. Exact
	// symbol correlation is not always possible, so misses stay warnings.
	if c.Analysis != nil && c.Implementation != nil {
		for _, entry := range c.Analysis.EntryPoints {
			if !referencesSymbol(entry, c.Implementation.ChangedSymbols) {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("analysis entry point %q is not referenced by any changed symbol", entry))
			}
		}
	}

	// An upstream id that points at the wrong stage means the chain was
	// assembled from the wrong evidence. That is a hard error. A missing
	// link is only a warning.
	if c.Implementation != nil {
		if c.Implementation.LinksTo == nil || c.Implementation.LinksTo.Upstream == "" {
			report.Warnings = append(report.Warnings, "implementation does not declare an upstream analysis link")
		} else if c.Analysis != nil && c.Implementation.LinksTo.Upstream != c.Analysis.TaskID {
			report.Errors = append(report.Errors,
				fmt.Sprintf("implementation upstream %q does not match analysis task %q",
					c.Implementation.LinksTo.Upstream, c.Analysis.TaskID))
		}
	}
	if c.Validation != nil {
		if c.Validation.LinksTo == nil || c.Validation.LinksTo.Upstream == "" {
			report.Warnings = append(report.Warnings, "validation does not declare an upstream implementation link")
		} else if c.Implementation != nil && c.Validation.LinksTo.Upstream != c.Implementation.TaskID {
			report.Errors = append(report.Errors,
				fmt.Sprintf("validation upstream %q does not match implementation task %q",
					c.Validation.LinksTo.Upstream, c.Implementation.TaskID))
		}
	}

	report.CoveragePercent = coveragePercent(c, len(report.Errors) > 0)
	report.Valid = len(report.Errors) == 0
	return report
}

// countVerified counts requirement criteria marked verified in validation's
// verification map. Criteria absent from the map count as unverified.
func countVerified(c *Chain) int {
	if c.Validation == nil || c.Validation.LinksTo == nil {
		return 0
	}
	verified := 0
	for _, criterion := range c.Requirement.AcceptanceCriteria {
		if c.Validation.LinksTo.Verification[criterion] {
			verified++
		}
	}
	return verified
}

// coveragePercent implements the coverage ladder: criteria ratio when
// criteria are declared; otherwise the validation test outcome; otherwise,
// when nothing failed hard, a stage-count baseline so a partially assembled
// chain is distinguishable from an empty one.
func coveragePercent(c *Chain, hasErrors bool) int {
	total := len(c.Requirement.AcceptanceCriteria)
	if total > 0 {
		return int(math.Round(float64(countVerified(c)) / float64(total) * 100))
	}

	coverage := 0
	if c.Validation != nil && c.Validation.TestsFailed == 0 && c.Validation.TestsPassed > 0 {
		coverage = 100
	}
	failingValidation := c.Validation != nil && c.Validation.TestsFailed > 0
	if coverage == 0 && !hasErrors && !failingValidation {
		stages := 0
		if c.Analysis != nil {
			stages++
		}
		if c.Implementation != nil {
			stages++
		}
		if c.Validation != nil {
			stages++
		}
		coverage = int(math.Round(float64(stages) / 3 * 100))
	}
	return coverage
}

// referencesSymbol reports whether entry is textually related to any changed
// symbol, by containment in either direction.
func referencesSymbol(entry string, changed []string) bool {
	for _, sym := range changed {
		if sym == "" {
			continue
		}
		if strings.Contains(sym, entry) || strings.Contains(entry, sym) {
			return true
		}
	}
	return false
}
