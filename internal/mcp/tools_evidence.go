package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/sessiond/internal/evidence"
)

// ===== EVIDENCE TOOLS =====

type recordAnalysisInput struct {
	SessionID          string   `json:"session_id" jsonschema:"required,Session identifier"`
	TaskID             string   `json:"task_id" jsonschema:"required,Task the analysis belongs to"`
	AgentID            string   `json:"agent_id" jsonschema:"required,Agent that produced the analysis"`
	Description        string   `json:"description,omitempty" jsonschema:"Requirement description (seeds the chain)"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty" jsonschema:"Acceptance criteria the chain must verify"`
	AnalyzedSymbols    []string `json:"analyzed_symbols,omitempty" jsonschema:"Symbols examined during analysis"`
	EntryPoints        []string `json:"entry_points,omitempty" jsonschema:"Entry points identified"`
	Findings           string   `json:"findings,omitempty" jsonschema:"Analysis findings"`
}

type recordImplementationInput struct {
	SessionID      string   `json:"session_id" jsonschema:"required,Session identifier"`
	TaskID         string   `json:"task_id" jsonschema:"required,Task the implementation belongs to"`
	AgentID        string   `json:"agent_id" jsonschema:"required,Agent that produced the implementation"`
	ChangedSymbols []string `json:"changed_symbols,omitempty" jsonschema:"Symbols changed"`
	FilesModified  []string `json:"files_modified,omitempty" jsonschema:"Files modified"`
	Summary        string   `json:"summary,omitempty" jsonschema:"Implementation summary"`
	Upstream       string   `json:"upstream,omitempty" jsonschema:"Task id of the analysis this implements"`
}

type recordValidationInput struct {
	SessionID   string          `json:"session_id" jsonschema:"required,Session identifier"`
	TaskID      string          `json:"task_id" jsonschema:"required,Task the validation belongs to"`
	AgentID     string          `json:"agent_id" jsonschema:"required,Agent that produced the validation"`
	TestsPassed int             `json:"tests_passed" jsonschema:"Passing test count"`
	TestsFailed int             `json:"tests_failed" jsonschema:"Failing test count"`
	Summary     string          `json:"summary,omitempty" jsonschema:"Validation summary"`
	Upstream    string          `json:"upstream,omitempty" jsonschema:"Task id of the implementation this validates"`
	Verified    map[string]bool `json:"verified,omitempty" jsonschema:"Per-criterion verification results"`
}

type chainOutput struct {
	ChainID        string `json:"chain_id" jsonschema:"Chain identifier"`
	TaskID         string `json:"task_id" jsonschema:"Task identifier"`
	Coverage       int    `json:"coverage_percent" jsonschema:"Coverage percentage 0-100"`
	Analysis       bool   `json:"analysis_linked" jsonschema:"Analysis stage attached"`
	Implementation bool   `json:"implementation_linked" jsonschema:"Implementation stage attached"`
	Validation     bool   `json:"validation_linked" jsonschema:"Validation stage attached"`
}

type evidenceStatusInput struct {
	SessionID string `json:"session_id" jsonschema:"required,Session identifier"`
	ChainID   string `json:"chain_id" jsonschema:"required,Chain identifier"`
}

type validateEvidenceInput struct {
	SessionID string `json:"session_id" jsonschema:"required,Session identifier"`
	ChainID   string `json:"chain_id" jsonschema:"required,Chain identifier"`
}

type validateEvidenceOutput struct {
	Valid    bool     `json:"valid" jsonschema:"Whether the chain has no hard link errors"`
	Errors   []string `json:"errors,omitempty" jsonschema:"Hard link errors"`
	Warnings []string `json:"warnings,omitempty" jsonschema:"Soft link warnings"`
}

func (s *Server) registerEvidenceTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "record_analysis",
		Description: "Record the analysis stage of an evidence chain",
	}, instrumented(s, "record_analysis", s.handleRecordAnalysis))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "record_implementation",
		Description: "Record the implementation stage of an evidence chain",
	}, instrumented(s, "record_implementation", s.handleRecordImplementation))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "record_validation",
		Description: "Record the validation stage of an evidence chain",
	}, instrumented(s, "record_validation", s.handleRecordValidation))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "evidence_status",
		Description: "Return one chain with its derived status recomputed",
	}, instrumented(s, "evidence_status", s.handleEvidenceStatus))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "validate_evidence",
		Description: "Run link validation on one evidence chain",
	}, instrumented(s, "validate_evidence", s.handleValidateEvidence))
}

func chainToOutput(chain *evidence.Chain) chainOutput {
	return chainOutput{
		ChainID:        chain.ID,
		TaskID:         chain.Requirement.TaskID,
		Coverage:       chain.Status.CoveragePercent,
		Analysis:       chain.Status.AnalysisLinked,
		Implementation: chain.Status.ImplementationLinked,
		Validation:     chain.Status.ValidationLinked,
	}
}

func (s *Server) handleRecordAnalysis(ctx context.Context, args recordAnalysisInput) (*mcp.CallToolResult, chainOutput, error) {
	req := &evidence.RecordAnalysisRequest{
		SessionID: args.SessionID,
		Analysis: evidence.Analysis{
			AgentID:         args.AgentID,
			TaskID:          args.TaskID,
			AnalyzedSymbols: args.AnalyzedSymbols,
			EntryPoints:     args.EntryPoints,
			Findings:        args.Findings,
		},
	}
	if args.Description != "" || len(args.AcceptanceCriteria) > 0 {
		req.Requirement = &evidence.Requirement{
			TaskID:             args.TaskID,
			Description:        args.Description,
			AcceptanceCriteria: args.AcceptanceCriteria,
		}
	}

	chain, err := s.evidenceSvc.RecordAnalysis(ctx, req)
	if err != nil {
		return nil, chainOutput{}, err
	}
	out := chainToOutput(chain)
	return textResult(fmt.Sprintf("Analysis recorded on chain %s", chain.ID)), out, nil
}

func (s *Server) handleRecordImplementation(ctx context.Context, args recordImplementationInput) (*mcp.CallToolResult, chainOutput, error) {
	impl := evidence.Implementation{
		AgentID:        args.AgentID,
		TaskID:         args.TaskID,
		ChangedSymbols: args.ChangedSymbols,
		FilesModified:  args.FilesModified,
		Summary:        args.Summary,
	}
	if args.Upstream != "" {
		impl.LinksTo = &evidence.LinksTo{Upstream: args.Upstream}
	}

	chain, err := s.evidenceSvc.RecordImplementation(ctx, &evidence.RecordImplementationRequest{
		SessionID:      args.SessionID,
		Implementation: impl,
	})
	if err != nil {
		return nil, chainOutput{}, err
	}
	out := chainToOutput(chain)
	return textResult(fmt.Sprintf("Implementation recorded on chain %s (%d%% coverage)", chain.ID, out.Coverage)), out, nil
}

func (s *Server) handleRecordValidation(ctx context.Context, args recordValidationInput) (*mcp.CallToolResult, chainOutput, error) {
	valid := evidence.Validation{
		AgentID:     args.AgentID,
		TaskID:      args.TaskID,
		TestsPassed: args.TestsPassed,
		TestsFailed: args.TestsFailed,
		Summary:     args.Summary,
	}
	if args.Upstream != "" || len(args.Verified) > 0 {
		valid.LinksTo = &evidence.LinksTo{
			Upstream:     args.Upstream,
			Verification: args.Verified,
		}
	}

	chain, err := s.evidenceSvc.RecordValidation(ctx, &evidence.RecordValidationRequest{
		SessionID:  args.SessionID,
		Validation: valid,
	})
	if err != nil {
		return nil, chainOutput{}, err
	}
	out := chainToOutput(chain)
	return textResult(fmt.Sprintf("Validation recorded on chain %s (%d%% coverage)", chain.ID, out.Coverage)), out, nil
}

func (s *Server) handleEvidenceStatus(ctx context.Context, args evidenceStatusInput) (*mcp.CallToolResult, chainOutput, error) {
	chain, err := s.evidenceSvc.Status(ctx, args.SessionID, args.ChainID)
	if err != nil {
		return nil, chainOutput{}, err
	}
	out := chainToOutput(chain)
	return textResult(fmt.Sprintf("Chain %s: %d%% coverage", chain.ID, out.Coverage)), out, nil
}

func (s *Server) handleValidateEvidence(ctx context.Context, args validateEvidenceInput) (*mcp.CallToolResult, validateEvidenceOutput, error) {
	report, err := s.evidenceSvc.Validate(ctx, args.SessionID, args.ChainID)
	if err != nil {
		return nil, validateEvidenceOutput{}, err
	}

	out := validateEvidenceOutput{
		Valid:    report.Valid,
		Errors:   report.Errors,
		Warnings: report.Warnings,
	}
	summary := "chain links valid"
	if !out.Valid {
		summary = fmt.Sprintf("%d link error(s)", len(out.Errors))
	}
	return textResult(fmt.Sprintf("Chain %s: %s", args.ChainID, summary)), out, nil
}
