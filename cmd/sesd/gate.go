package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sessiond/internal/gate"
	"github.com/fyrsmithlabs/sessiond/internal/runner"
)

var (
	gatePhase     string
	gateTypecheck bool
	gateTests     bool
	gateJSON      bool
)

func init() {
	gateCmd.AddCommand(gateCheckCmd)
	gateCheckCmd.Flags().StringVar(&gatePhase, "phase", "", "phase identifier the gate belongs to")
	gateCheckCmd.Flags().BoolVar(&gateTypecheck, "typecheck", false, "run the typecheck command check")
	gateCheckCmd.Flags().BoolVar(&gateTests, "tests", false, "run the test command check")
	gateCheckCmd.Flags().BoolVar(&gateJSON, "json", false, "emit the raw gate result as JSON")
	_ = gateCheckCmd.MarkFlagRequired("phase")
}

// gateCmd groups gate operations
var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Evaluate phase-gate conditions",
}

// gateCheckCmd evaluates one gate condition
var gateCheckCmd = &cobra.Command{
	Use:   "check [condition]",
	Short: "Check a gate condition for a phase",
	Long: `Check a gate condition for a phase and persist the verdict to the
session history. Exits non-zero when the gate fails.

Examples:
  # Evaluate a condition with command checks enabled
  sesd gate check "typecheck AND tests" --phase validation --typecheck --tests -s add-login

  # An empty condition always passes
  sesd gate check "" --phase work -s add-login

  # Machine-readable verdict
  sesd gate check "evidence:coverage >= 80" --phase review --json -s add-login`,
	Args: cobra.ExactArgs(1),
	RunE: runGateCheck,
}

func runGateCheck(cmd *cobra.Command, args []string) error {
	sid, err := requireSession()
	if err != nil {
		return err
	}
	cfg, store, err := openStore()
	if err != nil {
		return err
	}

	gateCfg := gate.DefaultConfig()
	if cfg.Gates.TypecheckCommand != "" {
		gateCfg.TypecheckCommand = cfg.Gates.TypecheckCommand
	}
	if d := cfg.Gates.TypecheckTimeout.Duration(); d > 0 {
		gateCfg.TypecheckTimeout = d
	}
	if cfg.Gates.TestsCommand != "" {
		gateCfg.TestsCommand = cfg.Gates.TestsCommand
	}
	if d := cfg.Gates.TestsTimeout.Duration(); d > 0 {
		gateCfg.TestsTimeout = d
	}
	gateCfg.EnforceCooldown = cfg.Gates.EnforceCooldown.Duration()

	svc, err := gate.NewService(gateCfg, store, runner.New(cfg.Gates.WorkDir), zap.NewNop())
	if err != nil {
		return fmt.Errorf("failed to create gate service: %w", err)
	}
	defer func() { _ = svc.Close() }()

	result, err := svc.Evaluate(cmd.Context(), &gate.EvaluateRequest{
		SessionID:    sid,
		PhaseID:      gatePhase,
		Condition:    args[0],
		RunTypecheck: gateTypecheck,
		RunTests:     gateTests,
	})
	if err != nil {
		return fmt.Errorf("gate evaluation failed: %w", err)
	}

	if gateJSON {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		cmd.Println(string(out))
	} else {
		cmd.Print(gate.RenderReport(result))
	}

	if !result.Passed {
		cmd.SilenceUsage = true
		return fmt.Errorf("gate %s failed with %d blocker(s)", gatePhase, len(result.Blockers))
	}
	return nil
}
