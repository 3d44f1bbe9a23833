package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sessiond/internal/template"
)

var (
	initTemplate string
	initProject  string
)

func init() {
	initCmd.Flags().StringVarP(&initTemplate, "template", "t", "basic", "session template to instantiate")
	initCmd.Flags().StringVarP(&initProject, "project", "p", "", "project path to associate with the session")
}

// initCmd starts a new session from a template
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Start a new session from a template",
	Long: `Start a new session from a template, seeding its prompt, plan,
and phase state.

Examples:
  # Start a basic session with a generated identifier
  sesd init

  # Start a feature session for a project
  sesd init --template feature --session add-login --project ~/code/app

Available templates: ` + fmt.Sprint(template.Names()),
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	_, store, err := openStore()
	if err != nil {
		return err
	}

	id := sessionID
	if id == "" {
		id = "session-" + time.Now().UTC().Format("20060102-150405")
	}

	svc := template.NewService(store, zap.NewNop())
	sess, tmpl, err := svc.Instantiate(cmd.Context(), initTemplate, id, initProject)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	cmd.Printf("Started session %s from template %s\n", sess.ID, tmpl.Name)
	if sess.Git != nil {
		cmd.Printf("Git: %s @ %s\n", sess.Git.Branch, shortCommit(sess.Git.Commit))
	}
	cmd.Println("Phases:")
	for _, phase := range tmpl.Phases {
		condition := phase.Condition
		if condition == "" {
			condition = "(always passes)"
		}
		cmd.Printf("  %-16s %s\n", phase.ID, condition)
	}
	return nil
}

// shortCommit abbreviates a commit hash for display.
func shortCommit(commit string) string {
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}
