package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sessiond/internal/session"
	"github.com/fyrsmithlabs/sessiond/internal/template"
)

var statusJSON bool

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit the raw status as JSON")
}

// statusCmd summarizes a session
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a session summary",
	Long: `Show a session summary: artifact counts, current phase, linked
memories, and evidence chains. Lists all sessions when none is selected.

Examples:
  sesd status -s add-login
  sesd status`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, store, err := openStore()
	if err != nil {
		return err
	}

	sid := sessionID
	if sid == "" {
		sessions, err := store.ListSessions(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		if len(sessions) == 0 {
			cmd.Println("No sessions found.")
			return nil
		}
		for _, sess := range sessions {
			tmpl := sess.Template
			if tmpl == "" {
				tmpl = "-"
			}
			cmd.Printf("%-28s %-10s %s\n", sess.ID, tmpl,
				sess.CreatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	}

	status, err := store.Status(cmd.Context(), sid)
	if err != nil {
		return fmt.Errorf("failed to load session status: %w", err)
	}

	if statusJSON {
		out, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		cmd.Println(string(out))
		return nil
	}

	cmd.Printf("Session:  %s\n", status.Session.ID)
	if status.Session.Template != "" {
		cmd.Printf("Template: %s\n", status.Session.Template)
	}
	if status.Session.Git != nil {
		cmd.Printf("Git:      %s @ %s\n",
			status.Session.Git.Branch, shortCommit(status.Session.Git.Commit))
	}

	svc := template.NewService(store, zap.NewNop())
	if state, err := svc.CurrentState(cmd.Context(), sid); err == nil && state != nil {
		cmd.Printf("Phase:    %s\n", state.CurrentPhase)
	}

	types := make([]string, 0, len(status.ArtifactCounts))
	for typ := range status.ArtifactCounts {
		types = append(types, string(typ))
	}
	sort.Strings(types)
	cmd.Println("Artifacts:")
	for _, typ := range types {
		cmd.Printf("  %-12s %d\n", typ, status.ArtifactCounts[session.ArtifactType(typ)])
	}

	cmd.Printf("Memories: %d\n", status.Memories)
	cmd.Printf("Chains:   %d\n", status.Chains)
	cmd.Printf("History:  %d entries\n", status.HistoryLen)
	return nil
}
