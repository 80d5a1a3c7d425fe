package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jpaulson/flotilla/internal/session"
)

var cancelConfigPath string

var cancelCmd = &cobra.Command{
	Use:   "cancel <session-id>",
	Short: "Cancel a running session",
	Long: `Write a cancel signal into the session's journal directory. The
running process observes it and stops at the next safe point: subtasks
already executing finish their current attempt, everything else is
recorded as cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cancelConfigPath)
		if err != nil {
			return err
		}
		sessionDir := filepath.Join(cfg.Session.Dir, args[0])
		if err := session.SendCancel(sessionDir); err != nil {
			return fmt.Errorf("send cancel: %w", err)
		}
		fmt.Printf("cancel signal sent to session %s\n", args[0])
		return nil
	},
}

func init() {
	cancelCmd.Flags().StringVar(&cancelConfigPath, "config", "", "Path to a config file")
}
