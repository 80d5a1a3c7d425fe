package orchestrator

import (
	"context"

	"github.com/jpaulson/flotilla/pkg/models"
)

// Planner decomposes a high-level request into a plan. The returned plan's
// DependsOn graph must form a DAG over the returned subtask IDs; the
// orchestrator validates this and never trusts it blindly.
type Planner interface {
	// Decompose produces a plan for the request. sessionContext carries
	// prior session knowledge relevant to planning.
	Decompose(ctx context.Context, request, sessionContext string) (*models.Plan, error)
}

// Executor runs a single subtask on a worker and returns its result. The
// contract: on an execution error the executor either returns a non-nil
// error (classified by ErrorClassOf) or a result with Success=false and
// non-empty ReviewNotes; it must never block past the context deadline.
type Executor interface {
	// Execute runs the subtask. dependencyResults maps each DependsOn ID
	// to its recorded result; briefing is the ledger's situational context.
	Execute(ctx context.Context, st *models.Subtask, w *models.Worker, dependencyResults map[string]*models.SubtaskResult, briefing string) (*models.SubtaskResult, error)
}

// ReviewJudgment is the reviewer's verdict on a subtask result.
type ReviewJudgment struct {
	// Success indicates the output satisfies the subtask's criteria.
	Success bool
	// Reason is the reviewer's explanation, fed back verbatim into
	// escalation records and correction-signal parsing.
	Reason string
	// Correction, when non-nil, reports that an upstream subtask's
	// output was discovered to be defective during this review.
	Correction *CorrectionSignal
}

// Reviewer judges a subtask result against its success criteria. Pure
// judgment, no side effects.
type Reviewer interface {
	Review(ctx context.Context, st *models.Subtask, result *models.SubtaskResult) (*ReviewJudgment, error)
}

// WorkerSelector chooses workers for subtasks. A nil return means
// "exhausted", which the orchestrator treats as terminal subtask failure.
type WorkerSelector interface {
	// SelectForTask picks a worker for a first attempt.
	SelectForTask(taskType string, complexity models.Complexity, exclude []string) *models.Worker
	// Escalate picks the next candidate after a failure, never returning
	// a worker whose ID appears in tried.
	Escalate(complexity models.Complexity, tried []string, lastFailureReason string) *models.Worker
}

// ProgressSink receives orchestrator events. Fire-and-forget; the
// orchestrator functions identically with no sink attached.
type ProgressSink interface {
	Emit(event Event)
}

// MergeOutcome reports the result of merging one isolated directory back.
type MergeOutcome struct {
	// SubtaskID is the isolate that was merged.
	SubtaskID string
	// Err is non-nil when the merge failed.
	Err error
	// ConflictingPaths lists the relative paths that conflicted, if any.
	ConflictingPaths []string
}

// Isolator provides isolated working-directory copies for concurrent
// subtasks. Absence of an isolator degrades silently to non-isolated
// shared-directory execution.
type Isolator interface {
	// CreateIsolatedCopy creates a private copy of the session working
	// directory for the given subtask and returns its path.
	CreateIsolatedCopy(id string) (string, error)
	// MergeSequentially merges the named isolates back one at a time, in
	// order, and reports a per-ID outcome.
	MergeSequentially(ids []string) []MergeOutcome
}
