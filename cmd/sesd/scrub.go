package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/sessiond/internal/scrub"
)

// scrubCmd scrubs secrets from files or stdin
var scrubCmd = &cobra.Command{
	Use:   "scrub [file]",
	Short: "Scrub secrets from a file or stdin",
	Long: `Scrub secrets from a file or stdin. Redacted content goes to
stdout; a findings count, if any, goes to stderr.

Examples:
  # Scrub a file
  sesd scrub .env

  # Scrub from stdin
  cat output.log | sesd scrub -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScrub,
}

func runScrub(cmd *cobra.Command, args []string) error {
	content, err := readInput(args, cmd.InOrStdin())
	if err != nil {
		return err
	}
	if len(content) == 0 {
		return fmt.Errorf("no content to scrub")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	scrubber, err := scrub.New(&scrub.Config{
		Enabled:       true,
		ProjectPath:   cfg.Scrub.ProjectPath,
		AllowlistPath: cfg.Scrub.AllowlistPath,
	})
	if err != nil {
		return fmt.Errorf("failed to create scrubber: %w", err)
	}

	result, err := scrubber.Scrub(string(content))
	if err != nil {
		return fmt.Errorf("failed to scrub content: %w", err)
	}

	// Redacted content to stdout
	fmt.Fprint(cmd.OutOrStdout(), result.Scrubbed)

	// If findings were made, log to stderr
	if result.TotalFindings > 0 {
		fmt.Fprintf(os.Stderr, "\n[sesd] Scrubbed %d secret(s)\n", result.TotalFindings)
	}
	return nil
}

// readInput reads the scrub input from a file argument or stdin. The
// argument "-" selects stdin, as does no argument at all.
func readInput(args []string, stdin io.Reader) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		content, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		return content, nil
	}
	content, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", args[0], err)
	}
	return content, nil
}
