// Package models defines the shared data model for flotilla sessions:
// plans, subtasks, results, waves, workers, and escalation records.
package models

import "time"

// SubtaskStatus represents the current state of a subtask.
type SubtaskStatus string

const (
	// StatusPending indicates the subtask has not started.
	StatusPending SubtaskStatus = "pending"
	// StatusInProgress indicates a worker is executing the subtask.
	StatusInProgress SubtaskStatus = "in_progress"
	// StatusReviewing indicates execution finished and review is underway.
	StatusReviewing SubtaskStatus = "reviewing"
	// StatusCompleted indicates the subtask finished and passed review.
	StatusCompleted SubtaskStatus = "completed"
	// StatusFailed indicates the subtask failed or was blocked upstream.
	StatusFailed SubtaskStatus = "failed"
	// StatusEscalated indicates the subtask is being retried on a more
	// capable worker.
	StatusEscalated SubtaskStatus = "escalated"
	// StatusCancelled indicates the session was cancelled while the
	// subtask was pending or in flight.
	StatusCancelled SubtaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s SubtaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusReviewing,
		StatusCompleted, StatusFailed, StatusEscalated, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status will not change again without a
// flow correction.
func (s SubtaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Subtask is one unit of work within a plan.
type Subtask struct {
	// ID is the unique identifier within the plan.
	ID string `json:"id"`
	// Title is the short description of the subtask.
	Title string `json:"title"`
	// Description provides detailed instructions for the worker.
	Description string `json:"description,omitempty"`
	// Complexity rates how demanding this subtask is.
	Complexity Complexity `json:"complexity"`
	// TaskType hints at the kind of work (code, docs, test, setup).
	TaskType string `json:"task_type,omitempty"`
	// DependsOn lists subtask IDs that must complete before this one.
	DependsOn []string `json:"depends_on,omitempty"`
	// SuccessCriteria defines what the reviewer judges the output against.
	SuccessCriteria []string `json:"success_criteria,omitempty"`
	// Status is the current state of the subtask.
	Status SubtaskStatus `json:"status"`
	// Attempts is the number of attempts that consumed budget so far.
	Attempts int `json:"attempts"`
	// MaxAttempts is the attempt budget before the subtask fails for good.
	MaxAttempts int `json:"max_attempts"`
	// Worker is the ID of the worker currently or last assigned.
	Worker string `json:"worker,omitempty"`
	// WorkDir is the isolated working directory, when isolation is active.
	WorkDir string `json:"work_dir,omitempty"`
	// BlockedBy is the upstream subtask ID that caused a synthetic failure.
	BlockedBy string `json:"blocked_by,omitempty"`
}

// DependsDirectlyOn returns true if id appears in the DependsOn list.
func (st *Subtask) DependsDirectlyOn(id string) bool {
	for _, dep := range st.DependsOn {
		if dep == id {
			return true
		}
	}
	return false
}

// SubtaskResult is the outcome of one subtask, produced once per attempt.
// On final failure the most substantial output across attempts is retained.
type SubtaskResult struct {
	// SubtaskID is the subtask this result belongs to.
	SubtaskID string `json:"subtask_id,omitempty"`
	// Success indicates the subtask completed and passed review.
	Success bool `json:"success"`
	// ModelUsed is the worker ID that produced the output.
	ModelUsed string `json:"model_used,omitempty"`
	// Output is the worker's text output.
	Output string `json:"output,omitempty"`
	// Summary is the worker's one-line description of what was done.
	Summary string `json:"summary,omitempty"`
	// ReviewNotes contains the reviewer's judgment, verbatim.
	ReviewNotes string `json:"review_notes,omitempty"`
	// Files is the manifest of files the worker reported touching.
	Files []string `json:"files,omitempty"`
	// Commands lists key commands the worker reported running.
	Commands []string `json:"commands,omitempty"`
	// Cancelled distinguishes user-initiated stop from worker failure.
	Cancelled bool `json:"cancelled,omitempty"`
	// DurationMs is the wall-clock execution time in milliseconds.
	DurationMs int64 `json:"duration_ms"`
	// Timestamp is when the result was recorded.
	Timestamp time.Time `json:"timestamp"`
}
