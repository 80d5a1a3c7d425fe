package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/jpaulson/flotilla/pkg/models"
)

// Report is the final summary of a session: per-subtask outcomes in plan
// order plus aggregate counts.
type Report struct {
	// SessionID identifies the session.
	SessionID string `json:"session_id"`
	// State is the session's terminal state.
	State SessionState `json:"state"`
	// Completed counts subtasks that finished and passed review.
	Completed int `json:"completed"`
	// Failed counts subtasks that failed on their own merits.
	Failed int `json:"failed"`
	// Blocked counts subtasks force-failed by an upstream failure.
	Blocked int `json:"blocked"`
	// Cancelled counts subtasks abandoned on session cancellation.
	Cancelled int `json:"cancelled"`
	// CorrectionCycles is how many flow corrections were applied.
	CorrectionCycles int `json:"correction_cycles"`
	// Guard is the delegation guard's final accounting.
	Guard GuardStats `json:"guard"`
	// Subtasks lists each subtask's final outcome in plan order.
	Subtasks []SubtaskReport `json:"subtasks"`
	// Output is the merged output of all completed subtasks, in plan order.
	Output string `json:"output"`
	// GeneratedAt is when the report was assembled.
	GeneratedAt time.Time `json:"generated_at"`
}

// SubtaskReport is one subtask's line in the final report.
type SubtaskReport struct {
	// ID is the subtask ID.
	ID string `json:"id"`
	// Title is the subtask title.
	Title string `json:"title"`
	// Status is the subtask's final status.
	Status models.SubtaskStatus `json:"status"`
	// Worker is the worker that produced the final result, if any.
	Worker string `json:"worker,omitempty"`
	// Attempts is how many attempts the subtask consumed.
	Attempts int `json:"attempts"`
	// Notes carries the review verdict or failure reason.
	Notes string `json:"notes,omitempty"`
	// BlockedBy names the upstream failure, for blocked subtasks.
	BlockedBy string `json:"blocked_by,omitempty"`
}

// Headline returns the one-line session summary.
func (r *Report) Headline() string {
	parts := []string{fmt.Sprintf("%d completed", r.Completed)}
	if r.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", r.Failed))
	}
	if r.Blocked > 0 {
		parts = append(parts, fmt.Sprintf("%d blocked", r.Blocked))
	}
	if r.Cancelled > 0 {
		parts = append(parts, fmt.Sprintf("%d cancelled", r.Cancelled))
	}
	if r.CorrectionCycles > 0 {
		parts = append(parts, fmt.Sprintf("%d correction cycles", r.CorrectionCycles))
	}
	return strings.Join(parts, ", ")
}

// buildReport assembles the final report from the recorded results. Plan
// order, not completion order, so the merged output reads like the plan.
func (o *Orchestrator) buildReport() *Report {
	o.mu.RLock()
	defer o.mu.RUnlock()

	rep := &Report{
		SessionID:        o.sessionID,
		CorrectionCycles: o.corrections.Cycles(),
		Guard:            o.guard.Stats(),
		GeneratedAt:      time.Now(),
	}

	var output strings.Builder
	for _, st := range o.plan.Subtasks {
		sr := SubtaskReport{
			ID:        st.ID,
			Title:     st.Title,
			Status:    st.Status,
			Worker:    st.Worker,
			Attempts:  st.Attempts,
			BlockedBy: st.BlockedBy,
		}
		if res := o.results[st.ID]; res != nil {
			sr.Notes = res.ReviewNotes
			if res.ModelUsed != "" {
				sr.Worker = res.ModelUsed
			}
		}

		switch {
		case st.Status == models.StatusCompleted:
			rep.Completed++
			if res := o.results[st.ID]; res != nil && res.Output != "" {
				fmt.Fprintf(&output, "## %s: %s\n\n%s\n\n", st.ID, st.Title, res.Output)
			}
		case st.Status == models.StatusCancelled:
			rep.Cancelled++
		case st.BlockedBy != "":
			rep.Blocked++
		case st.Status == models.StatusFailed:
			rep.Failed++
		}
		rep.Subtasks = append(rep.Subtasks, sr)
	}
	rep.Output = strings.TrimSpace(output.String())
	return rep
}
