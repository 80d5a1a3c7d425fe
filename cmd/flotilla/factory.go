package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"

	"github.com/jpaulson/flotilla/internal/claude"
	"github.com/jpaulson/flotilla/internal/config"
	"github.com/jpaulson/flotilla/internal/isolation"
	"github.com/jpaulson/flotilla/internal/orchestrator"
	"github.com/jpaulson/flotilla/internal/orchestrator/policy"
	"github.com/jpaulson/flotilla/internal/session"
	"github.com/jpaulson/flotilla/internal/state"
	"github.com/jpaulson/flotilla/internal/worker"
)

// buildContext bundles everything a run or resume command needs.
type buildContext struct {
	orch    *orchestrator.Orchestrator
	store   *session.Store
	watcher *session.SignalWatcher
	index   *state.DB
	tokens  *claude.TokenTracker
	cleanup func()
}

// buildOrchestrator wires one session's collaborators from configuration.
// sessionID may be empty for a new session.
func buildOrchestrator(cfg *config.Config, sessionID, workDir string) (*buildContext, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	if workDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
		workDir = cwd
	}

	client, err := claude.NewClient(claude.ClientConfig{
		APIKey:        cfg.Anthropic.APIKey,
		UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return nil, err
	}

	roster := worker.DefaultRoster()
	if cfg.Workers.RosterPath != "" {
		roster, err = worker.LoadRoster(cfg.Workers.RosterPath)
		if err != nil {
			return nil, fmt.Errorf("load roster: %w", err)
		}
	}

	store, err := session.NewStore(filepath.Join(cfg.Session.Dir, sessionID))
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	watcher, err := session.NewSignalWatcher(store.Dir())
	if err != nil {
		return nil, fmt.Errorf("create signal watcher: %w", err)
	}

	isolator, err := isolation.NewManager(workDir, "")
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("create isolation manager: %w", err)
	}
	if removed, err := isolator.CleanupOrphans(); err == nil && removed > 0 {
		fmt.Printf("cleaned up %d orphaned isolates\n", removed)
	}

	logger := orchestrator.NewDebugLoggerForSession(store.Dir())

	orch, err := orchestrator.New(orchestrator.Config{
		SessionID: sessionID,
		WorkDir:   workDir,
		Planner:   claude.NewAPIPlanner(client, anthropic.Model(cfg.Anthropic.PlannerModel)),
		Executor:  claude.NewAPIExecutor(client),
		Reviewer:  claude.NewAPIReviewer(client, anthropic.Model(cfg.Anthropic.ReviewerModel)),
		Selector:  worker.NewSelector(roster),
		Sink:      newConsoleSink(),
		Isolator:  &isolatorAdapter{mgr: isolator},
		Store:     store,
		Policy:    policyFromConfig(cfg),
		Logger:    logger,
	})
	if err != nil {
		watcher.Close()
		logger.Close()
		return nil, err
	}

	// The index is advisory; a broken index never blocks a session.
	index, ierr := state.OpenDefault()
	if ierr != nil {
		fmt.Fprintf(os.Stderr, "warning: session index unavailable: %v\n", ierr)
	}

	return &buildContext{
		orch:    orch,
		store:   store,
		watcher: watcher,
		index:   index,
		tokens:  client.Tracker(),
		cleanup: func() {
			watcher.Close()
			logger.Close()
			if index != nil {
				index.Close()
			}
		},
	}, nil
}

func policyFromConfig(cfg *config.Config) *policy.Config {
	p := policy.Default()
	if cfg.Delegation.Mode != "" {
		p.Delegation.Mode = policy.DelegationMode(cfg.Delegation.Mode)
	}
	if cfg.Delegation.MaxParallel > 0 {
		p.Delegation.MaxParallel = cfg.Delegation.MaxParallel
	}
	if cfg.Delegation.MaxDepth > 0 {
		p.Delegation.MaxDepth = cfg.Delegation.MaxDepth
	}
	if cfg.Delegation.RunawayThreshold > 0 {
		p.Delegation.RunawayThreshold = cfg.Delegation.RunawayThreshold
	}
	if cfg.Correction.MaxCycles > 0 {
		p.Correction.MaxCycles = cfg.Correction.MaxCycles
	}
	if cfg.Escalation.MaxAttempts > 0 {
		p.Escalation.DefaultMaxAttempts = cfg.Escalation.MaxAttempts
	}
	return p
}

// updateIndex records the session's latest state in the cross-session
// index. Failures are reported but never fatal.
func (b *buildContext) updateIndex(request string, rep *orchestrator.Report) {
	if b.index == nil {
		return
	}
	row := state.SessionRow{
		ID:         b.orch.SessionID(),
		Request:    request,
		State:      "executing",
		SessionDir: b.store.Dir(),
		StartedAt:  time.Now(),
	}
	if rep != nil {
		row.State = string(rep.State)
		row.SubtasksTotal = len(rep.Subtasks)
		row.SubtasksCompleted = rep.Completed
	}
	if err := b.index.UpsertSession(row); err != nil {
		fmt.Fprintf(os.Stderr, "warning: update session index: %v\n", err)
	}
}

// isolatorAdapter exposes the isolation manager through the
// orchestrator's Isolator interface.
type isolatorAdapter struct {
	mgr *isolation.Manager
}

func (a *isolatorAdapter) CreateIsolatedCopy(id string) (string, error) {
	return a.mgr.CreateIsolatedCopy(id)
}

func (a *isolatorAdapter) MergeSequentially(ids []string) []orchestrator.MergeOutcome {
	results := a.mgr.MergeSequentially(ids)
	out := make([]orchestrator.MergeOutcome, len(results))
	for i, r := range results {
		out[i] = orchestrator.MergeOutcome{
			SubtaskID:        r.SubtaskID,
			Err:              r.Err,
			ConflictingPaths: r.ConflictingPaths,
		}
	}
	return out
}
