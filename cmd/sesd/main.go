// Package main implements the sesd CLI for manual operations against the
// sessiond session store.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sessiond/internal/config"
	"github.com/fyrsmithlabs/sessiond/internal/session"
)

var (
	// configPath overrides the config file search path
	configPath string
	// sessionID selects the session commands operate on
	sessionID string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sesd",
	Short: "CLI for sessiond session operations",
	Long: `sesd is a command-line interface for working with sessiond sessions.
It provides commands for starting sessions from templates, checking phase
gates, inspecting evidence chains, linking memories, and scrubbing secrets.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVarP(&sessionID, "session", "s", "", "session identifier")
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(gateCmd)
	rootCmd.AddCommand(evidenceCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(scrubCmd)
	rootCmd.AddCommand(versionCmd)
}

// versionCmd prints version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("sesd %s\n", version)
	},
}

// loadConfig loads the effective configuration, honoring --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// openStore opens the session store from configuration.
func openStore() (*config.Config, *session.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := session.NewStore(session.Config{
		BasePath:   cfg.Storage.BasePath,
		HistoryMax: cfg.Storage.HistoryMax,
	}, zap.NewNop())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return cfg, store, nil
}

// requireSession resolves the target session from --session or the
// SESSIOND_SESSION environment variable.
func requireSession() (string, error) {
	if sessionID != "" {
		return sessionID, nil
	}
	if env := os.Getenv("SESSIOND_SESSION"); env != "" {
		return env, nil
	}
	return "", fmt.Errorf("no session selected: pass --session or set SESSIOND_SESSION")
}

// splitList parses a comma-separated flag value into trimmed, non-empty
// elements.
func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// truncate shortens s to maxLen runes, appending "..." when trimmed.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
