package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpaulson/flotilla/internal/state"
)

var (
	sessionsState string
	sessionsLimit int
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := state.OpenDefault()
		if err != nil {
			return fmt.Errorf("open session index: %w", err)
		}
		defer db.Close()

		rows, err := db.ListSessions(sessionsState, sessionsLimit)
		if err != nil {
			return err
		}
		renderSessionRows(rows)
		return nil
	},
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsState, "state", "", "Filter by state (executing, completed, failed)")
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum sessions to list")
}
