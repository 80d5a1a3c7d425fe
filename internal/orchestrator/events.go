// Package orchestrator drives a session from plan to merged result: it
// validates the dependency graph, executes waves of ready subtasks,
// escalates failures across workers, applies flow corrections, and keeps
// the ledger and session journal current.
package orchestrator

import (
	"time"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventSessionStarted indicates a session has begun planning.
	EventSessionStarted EventType = "session_started"
	// EventPlanReady indicates planning completed and the plan was persisted.
	EventPlanReady EventType = "plan_ready"
	// EventWaveStarted indicates a wave's subtasks are being dispatched.
	EventWaveStarted EventType = "wave_started"
	// EventSubtaskStarted indicates a subtask began execution.
	EventSubtaskStarted EventType = "subtask_started"
	// EventSubtaskCompleted indicates a subtask completed and passed review.
	EventSubtaskCompleted EventType = "subtask_completed"
	// EventSubtaskFailed indicates a subtask failed for good.
	EventSubtaskFailed EventType = "subtask_failed"
	// EventSubtaskBlocked indicates a subtask was force-failed because an
	// upstream dependency failed.
	EventSubtaskBlocked EventType = "subtask_blocked"
	// EventSubtaskCancelled indicates a subtask was abandoned on session
	// cancellation.
	EventSubtaskCancelled EventType = "subtask_cancelled"
	// EventEscalation indicates a subtask is being retried on another worker.
	EventEscalation EventType = "escalation"
	// EventCorrectionAccepted indicates a flow correction invalidated
	// completed work.
	EventCorrectionAccepted EventType = "correction_accepted"
	// EventCorrectionRejected indicates a flow correction was declined.
	EventCorrectionRejected EventType = "correction_rejected"
	// EventMergeConflict indicates an isolated directory failed to merge.
	EventMergeConflict EventType = "merge_conflict"
	// EventSessionDone indicates the session reached a terminal state.
	EventSessionDone EventType = "session_done"
)

// Event is emitted by the orchestrator for progress rendering and the
// session's append-only execution log.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// SubtaskID is the ID of the related subtask, if applicable.
	SubtaskID string
	// Worker is the ID of the related worker, if applicable.
	Worker string
	// Message provides additional context about the event.
	Message string
	// Err contains error details for failure events.
	Err error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// emitEvent delivers an event to the sink (if any), the debug logger, and
// the session execution log. Persistence failures are logged, never fatal.
func (o *Orchestrator) emitEvent(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	if o.sink != nil {
		o.sink.Emit(ev)
	}

	line := string(ev.Type)
	if ev.SubtaskID != "" {
		line += " " + ev.SubtaskID
	}
	if ev.Worker != "" {
		line += " worker=" + ev.Worker
	}
	if ev.Message != "" {
		line += ": " + ev.Message
	}
	if ev.Err != nil {
		line += " error=" + ev.Err.Error()
	}

	o.logger.Log("[event] %s", line)
	if o.store != nil {
		if err := o.store.AppendLog(line); err != nil {
			o.logger.Log("[event] append log failed: %v", err)
		}
	}
}
