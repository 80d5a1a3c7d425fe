package models

import "time"

// EscalationAttempt records one attempt at a subtask on a specific worker.
type EscalationAttempt struct {
	// WorkerID is the worker that handled the attempt.
	WorkerID string `json:"worker_id"`
	// Tier is the worker's capability class at the time of the attempt.
	Tier Tier `json:"tier"`
	// Success indicates the attempt completed and passed review.
	Success bool `json:"success"`
	// Reason explains why the attempt failed or was rejected.
	Reason string `json:"reason,omitempty"`
	// Timestamp is when the attempt finished.
	Timestamp time.Time `json:"timestamp"`
}

// EscalationRecord is the append-only attempt history for one subtask.
// It drives the choice of the next escalation candidate and is kept for
// post-hoc learning capture.
type EscalationRecord struct {
	// SubtaskID is the subtask these attempts belong to.
	SubtaskID string `json:"subtask_id"`
	// Attempts lists every attempt in order.
	Attempts []EscalationAttempt `json:"attempts"`
}

// TriedWorkers returns the IDs of every worker that has been attempted.
func (r *EscalationRecord) TriedWorkers() []string {
	ids := make([]string, 0, len(r.Attempts))
	for _, a := range r.Attempts {
		ids = append(ids, a.WorkerID)
	}
	return ids
}

// LastFailureReason returns the reason of the most recent failed attempt,
// or an empty string if there is none.
func (r *EscalationRecord) LastFailureReason() string {
	for i := len(r.Attempts) - 1; i >= 0; i-- {
		if !r.Attempts[i].Success {
			return r.Attempts[i].Reason
		}
	}
	return ""
}
