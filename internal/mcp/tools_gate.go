package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/sessiond/internal/gate"
)

// ===== GATE TOOLS =====

type gateCheckInput struct {
	SessionID    string `json:"session_id" jsonschema:"required,Session identifier"`
	PhaseID      string `json:"phase_id" jsonschema:"required,Phase whose gate to evaluate"`
	Condition    string `json:"condition" jsonschema:"Gate condition (empty always passes)"`
	RunTypecheck bool   `json:"run_typecheck,omitempty" jsonschema:"Enable the typecheck command check"`
	RunTests     bool   `json:"run_tests,omitempty" jsonschema:"Enable the tests command check"`
}

type gateCheckOutput struct {
	Passed      bool               `json:"passed" jsonschema:"Gate verdict"`
	CheckedAt   time.Time          `json:"checked_at" jsonschema:"Evaluation timestamp"`
	Results     []gate.CheckResult `json:"results" jsonschema:"Per-check results in evaluation order"`
	Blockers    []string           `json:"blockers,omitempty" jsonschema:"Reasons the gate failed"`
	RateLimited bool               `json:"rate_limited,omitempty" jsonschema:"Result was replayed from history due to cooldown"`
	Report      string             `json:"report" jsonschema:"Rendered text report"`
}

func (s *Server) registerGateTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "gate_check",
		Description: "Evaluate a phase-gate condition and persist the verdict",
	}, instrumented(s, "gate_check", s.handleGateCheck))
}

func (s *Server) handleGateCheck(ctx context.Context, args gateCheckInput) (*mcp.CallToolResult, gateCheckOutput, error) {
	result, err := s.gateSvc.Evaluate(ctx, &gate.EvaluateRequest{
		SessionID:    args.SessionID,
		PhaseID:      args.PhaseID,
		Condition:    args.Condition,
		RunTypecheck: args.RunTypecheck,
		RunTests:     args.RunTests,
	})
	if err != nil {
		return nil, gateCheckOutput{}, fmt.Errorf("gate check failed: %w", err)
	}

	out := gateCheckOutput{
		Passed:      result.Passed,
		CheckedAt:   result.CheckedAt,
		Results:     result.Results,
		Blockers:    result.Blockers,
		RateLimited: result.RateLimited,
		Report:      gate.RenderReport(result),
	}
	return textResult(out.Report), out, nil
}
