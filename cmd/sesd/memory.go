package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/sessiond/internal/session"
)

var (
	memorySource  string
	memorySummary string
	memoryAgents  string
)

func init() {
	memoryCmd.AddCommand(memoryLinkCmd)
	memoryCmd.AddCommand(memoryListCmd)
	memoryLinkCmd.Flags().StringVar(&memorySource, "source", "", "path to the memory source file")
	memoryLinkCmd.Flags().StringVar(&memorySummary, "summary", "", "summary of the memory (lifted from the source when omitted)")
	memoryLinkCmd.Flags().StringVar(&memoryAgents, "agents", "", "comma-separated agent identifiers the memory is for")
	_ = memoryLinkCmd.MarkFlagRequired("source")
}

// memoryCmd groups linked-memory operations
var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Link and list session memories",
}

// memoryLinkCmd links one memory into the session
var memoryLinkCmd = &cobra.Command{
	Use:   "link <name>",
	Short: "Link a memory artifact into a session",
	Long: `Link an external memory artifact into the session by name. The
source file stays where it is; only a reference and summary are stored.

Examples:
  sesd memory link subagent_analysis --source ./out/analysis.json -s add-login
  sesd memory link REPRO_STEPS --source ./repro.json --summary "repro of #42" -s fix-42`,
	Args: cobra.ExactArgs(1),
	RunE: runMemoryLink,
}

// memoryListCmd lists the session's linked memories
var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a session's linked memories",
	RunE:  runMemoryList,
}

func runMemoryLink(cmd *cobra.Command, args []string) error {
	sid, err := requireSession()
	if err != nil {
		return err
	}
	_, store, err := openStore()
	if err != nil {
		return err
	}

	mem, err := store.LinkMemory(cmd.Context(), sid, session.LinkedMemory{
		MemoryName: args[0],
		SourcePath: memorySource,
		Summary:    memorySummary,
		ForAgents:  splitList(memoryAgents),
	})
	if err != nil {
		return fmt.Errorf("failed to link memory: %w", err)
	}

	cmd.Printf("Linked %s -> %s\n", mem.MemoryName, mem.SourcePath)
	if mem.Summary != "" {
		cmd.Printf("Summary: %s\n", truncate(mem.Summary, 72))
	}
	return nil
}

func runMemoryList(cmd *cobra.Command, args []string) error {
	sid, err := requireSession()
	if err != nil {
		return err
	}
	_, store, err := openStore()
	if err != nil {
		return err
	}

	memories, err := store.ListMemories(cmd.Context(), sid)
	if err != nil {
		return fmt.Errorf("failed to list memories: %w", err)
	}
	if len(memories) == 0 {
		cmd.Println("No memories linked.")
		return nil
	}
	for _, mem := range memories {
		cmd.Printf("%-28s %s\n", mem.MemoryName, truncate(mem.Summary, 60))
	}
	return nil
}
