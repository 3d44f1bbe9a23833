package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sessiond/internal/evidence"
)

var evidenceJSON bool

func init() {
	evidenceCmd.AddCommand(evidenceShowCmd)
	evidenceCmd.AddCommand(evidenceValidateCmd)
	evidenceCmd.PersistentFlags().BoolVar(&evidenceJSON, "json", false, "emit machine-readable JSON")
}

// evidenceCmd groups evidence chain operations
var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Inspect and validate evidence chains",
}

// evidenceShowCmd prints one chain or lists all chains
var evidenceShowCmd = &cobra.Command{
	Use:   "show [chain]",
	Short: "Show evidence chains for a session",
	Long: `Show one evidence chain, or list every chain in the session when
no chain identifier is given.

Examples:
  # List all chains
  sesd evidence show -s add-login

  # Show one chain in detail
  sesd evidence show add-login-export -s add-login --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEvidenceShow,
}

// evidenceValidateCmd checks a chain's link integrity
var evidenceValidateCmd = &cobra.Command{
	Use:   "validate <chain>",
	Short: "Validate an evidence chain's links",
	Long: `Validate an evidence chain: stage-to-stage references must agree
and every stage should be present. Exits non-zero when the chain has hard
link errors.

Examples:
  sesd evidence validate add-login-export -s add-login`,
	Args: cobra.ExactArgs(1),
	RunE: runEvidenceValidate,
}

func runEvidenceShow(cmd *cobra.Command, args []string) error {
	sid, err := requireSession()
	if err != nil {
		return err
	}
	_, store, err := openStore()
	if err != nil {
		return err
	}
	svc, err := evidence.NewService(store, nil, zap.NewNop())
	if err != nil {
		return fmt.Errorf("failed to create evidence service: %w", err)
	}
	defer func() { _ = svc.Close() }()

	if len(args) == 1 {
		chain, err := svc.Status(cmd.Context(), sid, args[0])
		if err != nil {
			return fmt.Errorf("failed to load chain: %w", err)
		}
		return printChain(cmd, chain)
	}

	chains, err := svc.List(cmd.Context(), sid)
	if err != nil {
		return fmt.Errorf("failed to list chains: %w", err)
	}
	if evidenceJSON {
		out, err := json.MarshalIndent(chains, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal chains: %w", err)
		}
		cmd.Println(string(out))
		return nil
	}
	if len(chains) == 0 {
		cmd.Println("No evidence chains recorded.")
		return nil
	}
	for _, chain := range chains {
		cmd.Printf("%-24s %3d%%  %s\n",
			chain.ID, chain.Status.CoveragePercent, stageMarks(chain))
	}
	return nil
}

func runEvidenceValidate(cmd *cobra.Command, args []string) error {
	sid, err := requireSession()
	if err != nil {
		return err
	}
	_, store, err := openStore()
	if err != nil {
		return err
	}
	svc, err := evidence.NewService(store, nil, zap.NewNop())
	if err != nil {
		return fmt.Errorf("failed to create evidence service: %w", err)
	}
	defer func() { _ = svc.Close() }()

	report, err := svc.Validate(cmd.Context(), sid, args[0])
	if err != nil {
		return fmt.Errorf("failed to validate chain: %w", err)
	}

	if evidenceJSON {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		cmd.Println(string(out))
	} else {
		if report.Valid {
			cmd.Printf("Chain %s is valid (coverage %d%%)\n", args[0], report.CoveragePercent)
		} else {
			cmd.Printf("Chain %s is INVALID (coverage %d%%)\n", args[0], report.CoveragePercent)
		}
		for _, e := range report.Errors {
			cmd.Printf("  error:   %s\n", e)
		}
		for _, w := range report.Warnings {
			cmd.Printf("  warning: %s\n", w)
		}
	}

	if !report.Valid {
		cmd.SilenceUsage = true
		return fmt.Errorf("chain %s has %d link error(s)", args[0], len(report.Errors))
	}
	return nil
}

// printChain renders one chain in detail.
func printChain(cmd *cobra.Command, chain *evidence.Chain) error {
	if evidenceJSON {
		out, err := json.MarshalIndent(chain, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal chain: %w", err)
		}
		cmd.Println(string(out))
		return nil
	}

	cmd.Printf("Chain:    %s\n", chain.ID)
	cmd.Printf("Task:     %s\n", chain.Requirement.TaskID)
	if chain.Requirement.Description != "" {
		cmd.Printf("About:    %s\n", truncate(chain.Requirement.Description, 72))
	}
	cmd.Printf("Coverage: %d%% (%d/%d criteria verified)\n",
		chain.Status.CoveragePercent, chain.Status.CriteriaVerified, chain.Status.CriteriaTotal)
	cmd.Printf("Stages:   %s\n", stageMarks(chain))
	if chain.Analysis != nil {
		cmd.Printf("  analysis        by %s\n", chain.Analysis.AgentID)
	}
	if chain.Implementation != nil {
		cmd.Printf("  implementation  by %s (%d files)\n",
			chain.Implementation.AgentID, len(chain.Implementation.FilesModified))
	}
	if chain.Validation != nil {
		cmd.Printf("  validation      by %s (%d passed, %d failed)\n",
			chain.Validation.AgentID, chain.Validation.TestsPassed, chain.Validation.TestsFailed)
	}
	return nil
}

// stageMarks renders the three-stage progress as a compact marker string.
func stageMarks(chain *evidence.Chain) string {
	mark := func(linked bool, label string) string {
		if linked {
			return "[" + label + "]"
		}
		return "[ ]"
	}
	return mark(chain.Status.AnalysisLinked, "A") +
		mark(chain.Status.ImplementationLinked, "I") +
		mark(chain.Status.ValidationLinked, "V")
}
