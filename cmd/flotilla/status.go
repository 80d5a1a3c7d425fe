package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jpaulson/flotilla/internal/state"
)

var statusConfigPath string

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show a session's current state",
	Long: `Display a session's status summary from its journal. With no
argument, shows the most recently updated session.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusConfigPath, "config", "", "Path to a config file")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(statusConfigPath)
	if err != nil {
		return err
	}

	sessionID := ""
	if len(args) == 1 {
		sessionID = args[0]
	} else {
		db, err := state.OpenDefault()
		if err != nil {
			return fmt.Errorf("open session index: %w", err)
		}
		defer db.Close()
		rows, err := db.ListSessions("", 1)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println("No sessions recorded. Run 'flotilla run <request>' to start.")
			return nil
		}
		sessionID = rows[0].ID
	}

	statusPath := filepath.Join(cfg.Session.Dir, sessionID, "STATUS.md")
	content, err := os.ReadFile(statusPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no status found for session %s", sessionID)
		}
		return err
	}
	fmt.Print(string(content))
	return nil
}
