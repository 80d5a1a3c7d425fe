package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	resumeWorkDir    string
	resumeConfigPath string
)

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume an interrupted session",
	Long: `Reload a session's journal from disk and continue execution.
Completed subtasks keep their results and are never re-executed;
subtasks that were mid-flight when the session died start over with a
fresh attempt budget.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeWorkDir, "workdir", "", "Working directory for subtasks (default: current directory)")
	resumeCmd.Flags().StringVar(&resumeConfigPath, "config", "", "Path to a config file")
}

func runResume(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	cfg, err := loadConfig(resumeConfigPath)
	if err != nil {
		return err
	}

	bc, err := buildOrchestrator(cfg, sessionID, resumeWorkDir)
	if err != nil {
		return err
	}
	defer bc.cleanup()

	rs, err := bc.store.ReadForResume()
	if err != nil {
		return fmt.Errorf("read session %s: %w", sessionID, err)
	}
	bc.watcher.Clear()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-bc.watcher.Cancelled:
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Printf("resuming session %s (%d completed, %d reset)\n", sessionID, len(rs.Completed), len(rs.Reset))

	rep, runErr := bc.orch.Resume(ctx, rs)
	if rep != nil {
		renderReport(rep)
		renderUsage(bc.tokens.Total())
		bc.updateIndex(rs.Session.Request, rep)
	}
	if runErr != nil {
		return fmt.Errorf("session %s: %w", sessionID, runErr)
	}
	return nil
}
