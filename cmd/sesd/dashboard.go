package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/sessiond/internal/dashboard"
)

var dashboardRefresh time.Duration

func init() {
	dashboardCmd.Flags().DurationVar(&dashboardRefresh, "refresh", 0, "refresh interval (default from config)")
}

// dashboardCmd runs the terminal dashboard
var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Live terminal dashboard for a session",
	Long: `Run a live terminal dashboard showing the session's evidence
chains, coverage, and gate verdicts. The view refreshes on a timer and
whenever the session's files change on disk.

Keys: q quit, r refresh.

Examples:
  sesd dashboard -s add-login
  sesd dashboard -s add-login --refresh 1s`,
	RunE: runDashboard,
}

func runDashboard(cmd *cobra.Command, args []string) error {
	sid, err := requireSession()
	if err != nil {
		return err
	}
	cfg, store, err := openStore()
	if err != nil {
		return err
	}
	if _, err := store.GetSession(cmd.Context(), sid); err != nil {
		return fmt.Errorf("cannot open dashboard: %w", err)
	}

	interval := dashboardRefresh
	if interval <= 0 {
		interval = cfg.Dashboard.Refresh.Duration()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}

	// File watching is best-effort; the timer still drives refreshes.
	watcher, err := dashboard.NewWatcher(store, sid)
	if err != nil {
		watcher = nil
	}

	model := dashboard.NewModel(store, sid, interval, watcher)
	program := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("dashboard error: %w", err)
	}
	return nil
}
