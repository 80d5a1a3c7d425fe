package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "flotilla",
	Short: "Dependency-aware agent orchestrator",
	Long: `Flotilla decomposes a high-level request into a dependency graph of
subtasks, schedules them in parallel waves, and drives Claude workers
through execution, review, and tier escalation.

Core capabilities:
- Decomposes requests into dependency-ordered subtasks
- Executes independent subtasks concurrently in isolated directories
- Escalates failed subtasks across worker tiers
- Reworks upstream defects via bounded flow corrections
- Persists every state change so interrupted sessions resume cleanly`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(versionCmd)
}
