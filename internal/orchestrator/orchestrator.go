package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpaulson/flotilla/internal/graph"
	"github.com/jpaulson/flotilla/internal/ledger"
	"github.com/jpaulson/flotilla/internal/orchestrator/policy"
	"github.com/jpaulson/flotilla/internal/session"
	"github.com/jpaulson/flotilla/pkg/models"
)

// SessionState is the orchestrator's top-level state machine.
type SessionState string

const (
	// StatePlanning indicates the request is being decomposed.
	StatePlanning SessionState = "planning"
	// StateExecuting indicates waves are being executed.
	StateExecuting SessionState = "executing"
	// StateReviewing indicates subtask outputs are being merged.
	StateReviewing SessionState = "reviewing"
	// StateCompleted indicates the session finished.
	StateCompleted SessionState = "completed"
	// StateFailed indicates a fatal error ended the session.
	StateFailed SessionState = "failed"
)

// Config wires an Orchestrator's collaborators. Planner, Executor,
// Reviewer, and Selector are required; Sink and Isolator are optional and
// their absence degrades silently. Instances are scoped to one session and
// injected explicitly, never shared process-wide.
type Config struct {
	// SessionID identifies the session. Generated when empty.
	SessionID string
	// WorkDir is the directory subtasks operate on.
	WorkDir string
	// Planner decomposes the request.
	Planner Planner
	// Executor runs subtasks on workers.
	Executor Executor
	// Reviewer judges subtask outputs.
	Reviewer Reviewer
	// Selector chooses workers and escalation candidates.
	Selector WorkerSelector
	// Sink receives progress events. Optional.
	Sink ProgressSink
	// Isolator provides isolated working directories. Optional.
	Isolator Isolator
	// Store persists the session journal. Optional; without it the
	// session cannot be resumed.
	Store *session.Store
	// Ledger is the session's execution ledger. Created unpersisted
	// when nil.
	Ledger *ledger.Ledger
	// Policy holds tunable behavior parameters. Defaults apply when nil.
	Policy *policy.Config
	// Logger is the debug logger. A no-op logger is used when nil.
	Logger *DebugLogger
}

// Orchestrator drives one session from request to merged result.
type Orchestrator struct {
	sessionID string
	workDir   string

	planner  Planner
	executor Executor
	reviewer Reviewer
	selector WorkerSelector
	sink     ProgressSink
	isolator Isolator

	store  *session.Store
	ledger *ledger.Ledger
	policy *policy.Config
	logger *DebugLogger

	guard       *DelegationGuard
	corrections *CorrectionManager

	// mu protects the session state below. Fan-out goroutines take it
	// only for their own subtask's records; the control loop is the
	// sole writer of plan-level state.
	mu          sync.RWMutex
	state       SessionState
	plan        *models.Plan
	graph       *graph.DependencyGraph
	results     map[string]*models.SubtaskResult
	completed   map[string]bool
	blocked     map[string]bool
	escalations map[string]*models.EscalationRecord
}

// New creates an orchestrator for one session.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Planner == nil || cfg.Executor == nil || cfg.Reviewer == nil || cfg.Selector == nil {
		return nil, fmt.Errorf("planner, executor, reviewer, and selector are required")
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.New().String()
	}
	if cfg.Policy == nil {
		cfg.Policy = policy.Default()
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = NopLogger()
	}
	if cfg.Ledger == nil {
		path := ""
		if cfg.Store != nil {
			path = cfg.Store.LedgerPath()
		}
		cfg.Ledger = ledger.New(cfg.SessionID, path)
	}

	return &Orchestrator{
		sessionID:   cfg.SessionID,
		workDir:     cfg.WorkDir,
		planner:     cfg.Planner,
		executor:    cfg.Executor,
		reviewer:    cfg.Reviewer,
		selector:    cfg.Selector,
		sink:        cfg.Sink,
		isolator:    cfg.Isolator,
		store:       cfg.Store,
		ledger:      cfg.Ledger,
		policy:      cfg.Policy,
		logger:      cfg.Logger,
		guard:       NewDelegationGuard(cfg.Policy.Delegation),
		corrections: NewCorrectionManager(),
		state:       StatePlanning,
		results:     make(map[string]*models.SubtaskResult),
		completed:   make(map[string]bool),
		blocked:     make(map[string]bool),
		escalations: make(map[string]*models.EscalationRecord),
	}, nil
}

// SessionID returns the session identifier.
func (o *Orchestrator) SessionID() string {
	return o.sessionID
}

// State returns the current session state.
func (o *Orchestrator) State() SessionState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Guard returns the session's delegation guard.
func (o *Orchestrator) Guard() *DelegationGuard {
	return o.guard
}

// setState transitions the session state machine.
func (o *Orchestrator) setState(s SessionState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.logger.Log("[session] state -> %s", s)
}

// Run executes a session end to end: decompose, validate, persist the plan
// write-ahead, execute waves, and merge the outputs into one report.
func (o *Orchestrator) Run(ctx context.Context, request string) (*Report, error) {
	o.emitEvent(Event{Type: EventSessionStarted, Message: request})

	plan, err := o.planner.Decompose(ctx, request, "")
	if err != nil {
		o.setState(StateFailed)
		return nil, fmt.Errorf("decompose request: %w", err)
	}
	o.preparePlan(plan)

	// Write-ahead: the plan is on disk before any execution begins, so
	// planning cost is paid at most once.
	o.persistPlan(request)
	o.emitEvent(Event{Type: EventPlanReady, Message: fmt.Sprintf("%d subtasks", len(plan.Subtasks))})

	if err := o.validateGraph(); err != nil {
		o.setState(StateFailed)
		o.emitEvent(Event{Type: EventSessionDone, Err: err})
		return nil, err
	}

	return o.execute(ctx)
}

// Resume continues a previously interrupted session from its persisted
// state. Subtasks already completed on disk are never re-executed;
// mid-flight subtasks were reset to pending by the store.
func (o *Orchestrator) Resume(ctx context.Context, rs *session.ResumeState) (*Report, error) {
	o.emitEvent(Event{Type: EventSessionStarted, Message: "resume: " + rs.Session.Request})

	o.preparePlan(rs.Session.Plan)
	o.mu.Lock()
	for id, result := range rs.Completed {
		o.completed[id] = true
		o.results[id] = result
	}
	o.mu.Unlock()

	if o.store != nil {
		if records, err := o.store.ReadEscalations(); err == nil {
			o.mu.Lock()
			o.escalations = records
			o.mu.Unlock()
		}
	}

	if err := o.validateGraph(); err != nil {
		o.setState(StateFailed)
		return nil, err
	}

	o.logger.Log("[session] resumed with %d completed, %d reset", len(rs.Completed), len(rs.Reset))
	return o.execute(ctx)
}

// execute runs the executing and reviewing phases and assembles the report.
func (o *Orchestrator) execute(ctx context.Context) (*Report, error) {
	o.setState(StateExecuting)

	execErr := o.executeAll(ctx)

	o.setState(StateReviewing)
	report := o.buildReport()

	if execErr != nil {
		o.setState(StateFailed)
		report.State = StateFailed
		o.emitEvent(Event{Type: EventSessionDone, Err: execErr})
		o.writeStatus()
		return report, execErr
	}

	o.setState(StateCompleted)
	report.State = StateCompleted
	o.emitEvent(Event{Type: EventSessionDone, Message: report.Headline()})
	o.writeStatus()
	return report, nil
}

// preparePlan installs the plan and applies policy defaults to subtasks.
func (o *Orchestrator) preparePlan(plan *models.Plan) {
	for _, st := range plan.Subtasks {
		if st.MaxAttempts <= 0 {
			st.MaxAttempts = o.policy.Escalation.DefaultMaxAttempts
		}
		if st.Status == "" {
			st.Status = models.StatusPending
		}
		if !st.Complexity.Valid() {
			st.Complexity = models.ComplexityMedium
		}
	}
	if !plan.Strategy.Valid() {
		plan.Strategy = models.StrategyMixed
	}
	o.mu.Lock()
	o.plan = plan
	o.graph = graph.Build(plan.Subtasks)
	o.mu.Unlock()
}

// validateGraph runs full validation before any execution; graph errors
// are fatal to the session.
func (o *Orchestrator) validateGraph() error {
	result := o.graph.Validate()
	if !result.Valid {
		return fmt.Errorf("invalid dependency graph: %s", result.Summary())
	}
	return nil
}

// persistPlan writes the session header and every subtask file.
func (o *Orchestrator) persistPlan(request string) {
	if o.store == nil {
		return
	}
	ps := &session.PersistedSession{
		ID:        o.sessionID,
		Request:   request,
		Plan:      o.plan,
		CreatedAt: time.Now(),
	}
	if err := o.store.WriteSession(ps); err != nil {
		o.logger.Log("[persist] session write failed: %v", err)
	}
	for _, st := range o.plan.Subtasks {
		o.persistSubtask(st)
	}
}

// persistSubtask writes one subtask's current state and result. Losing a
// status write must not abort orchestration, only degrade resumability.
func (o *Orchestrator) persistSubtask(st *models.Subtask) {
	if o.store == nil {
		return
	}
	o.mu.RLock()
	result := o.results[st.ID]
	o.mu.RUnlock()
	if err := o.store.WriteSubtask(st, result); err != nil {
		o.logger.Log("[persist] subtask %s write failed: %v", st.ID, err)
	}
}

// persistEscalations writes the escalation records file.
func (o *Orchestrator) persistEscalations() {
	if o.store == nil {
		return
	}
	o.mu.RLock()
	records := o.escalations
	o.mu.RUnlock()
	if err := o.store.WriteEscalations(records); err != nil {
		o.logger.Log("[persist] escalations write failed: %v", err)
	}
}

// writeStatus regenerates the human-readable status summary.
func (o *Orchestrator) writeStatus() {
	if o.store == nil {
		return
	}
	o.mu.RLock()
	plan, results := o.plan, o.results
	o.mu.RUnlock()
	if err := o.store.WriteStatusSummary(plan, results); err != nil {
		o.logger.Log("[persist] status summary failed: %v", err)
	}
}

// Results returns a copy of the recorded results so far.
func (o *Orchestrator) Results() map[string]*models.SubtaskResult {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]*models.SubtaskResult, len(o.results))
	for id, r := range o.results {
		out[id] = r
	}
	return out
}
