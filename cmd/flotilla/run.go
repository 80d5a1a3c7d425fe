package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jpaulson/flotilla/internal/config"
)

var (
	runWorkDir    string
	runConfigPath string
)

var runCmd = &cobra.Command{
	Use:   "run <request...>",
	Short: "Plan and execute a request",
	Long: `Decompose the request into a dependency graph of subtasks and execute
it to completion. Progress is printed as subtasks start, complete,
escalate, and fail; the full journal is persisted under the session
directory so an interrupted session can be resumed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runWorkDir, "workdir", "", "Working directory for subtasks (default: current directory)")
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "Path to a config file")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func runRun(cmd *cobra.Command, args []string) error {
	request := strings.Join(args, " ")

	cfg, err := loadConfig(runConfigPath)
	if err != nil {
		return err
	}

	bc, err := buildOrchestrator(cfg, "", runWorkDir)
	if err != nil {
		return err
	}
	defer bc.cleanup()

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

	fmt.Printf("session %s\n", bc.orch.SessionID())
	bc.updateIndex(request, nil)

	rep, runErr := bc.orch.Run(ctx, request)
	if rep != nil {
		renderReport(rep)
		renderUsage(bc.tokens.Total())
		bc.updateIndex(request, rep)
	}
	if runErr != nil {
		return fmt.Errorf("session %s: %w", bc.orch.SessionID(), runErr)
	}
	return nil
}
