package gate

import (
	"fmt"
	"strings"
	"time"
)

// RenderReport formats a gate result for terminals. Every blocker is
// listed, not just the first, so one fix-and-retry cycle can address
// several problems.
func RenderReport(result *GateResult) string {
	if result == nil {
		return ""
	}

	var b strings.Builder

	verdict := "PASS"
	if !result.Passed {
		verdict = "FAIL"
	}
	fmt.Fprintf(&b, "Gate %s: %s (%dms)\n", result.PhaseID, verdict, result.DurationMS)
	fmt.Fprintf(&b, "Checked at %s\n", result.CheckedAt.UTC().Format(time.RFC3339))
	if result.Note != "" {
		fmt.Fprintf(&b, "Note: %s\n", result.Note)
	}

	if len(result.Results) > 0 {
		b.WriteString("\nChecks:\n")
		for _, check := range result.Results {
			glyph := "✗"
			switch {
			case check.Skipped:
				glyph = "○"
			case check.Passed:
				glyph = "✓"
			}
			fmt.Fprintf(&b, "  %s %s: %s\n", glyph, check.Name, check.Message)
		}
	}

	if len(result.Blockers) > 0 {
		b.WriteString("\nBlockers:\n")
		for i, blocker := range result.Blockers {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, blocker)
		}
	}

	return b.String()
}
