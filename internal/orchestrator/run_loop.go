package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jpaulson/flotilla/internal/graph"
	"github.com/jpaulson/flotilla/internal/ledger"
	"github.com/jpaulson/flotilla/internal/orchestrator/policy"
	"github.com/jpaulson/flotilla/pkg/models"
)

// outcome is what one subtask execution hands back to the control loop.
type outcome struct {
	result     *models.SubtaskResult
	correction *CorrectionSignal
	isolated   bool
}

// executeAll is the correction-aware outer loop: compute waves, run them,
// and recompute whenever an accepted flow correction invalidates completed
// work, up to the policy's cycle cap.
func (o *Orchestrator) executeAll(ctx context.Context) error {
	for {
		o.mu.Lock()
		o.graph = graph.Build(o.plan.Subtasks)
		g := o.graph
		o.mu.Unlock()

		waves, err := g.ComputeWaves()
		if err != nil {
			return fmt.Errorf("compute waves: %w", err)
		}

		recompute := false
		for _, wave := range waves {
			if ctx.Err() != nil {
				o.cancelRemaining()
				return ctx.Err()
			}

			ready := o.filterRunnable(wave.TaskIDs)
			if len(ready) == 0 {
				continue
			}
			o.emitEvent(Event{Type: EventWaveStarted, Message: fmt.Sprintf("wave %d: %d ready", wave.Level, len(ready))})

			for len(ready) > 0 && !recompute {
				if ctx.Err() != nil {
					o.cancelRemaining()
					return ctx.Err()
				}

				batch, remainder, delegated := o.admitBatch(ready)
				if len(batch) == 0 {
					// The guard denied every candidate and nothing is
					// running that could free capacity.
					return fmt.Errorf("delegation guard denied all %d ready subtasks: %v", len(ready), o.guard.Stats())
				}

				outcomes := o.executeBatch(ctx, batch, delegated)
				for _, id := range batch {
					out, ok := outcomes[id]
					if !ok {
						continue
					}
					o.handleOutcome(ctx, id, out, &recompute)
				}
				o.persistEscalations()
				o.writeStatus()

				ready = o.filterRunnable(remainder)
			}
			if recompute {
				break
			}
		}

		if !recompute {
			return nil
		}
	}
}

// filterRunnable drops IDs that are already completed, blocked, or in a
// terminal state.
func (o *Orchestrator) filterRunnable(ids []string) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []string
	for _, id := range ids {
		if o.completed[id] || o.blocked[id] {
			continue
		}
		st := o.plan.Subtask(id)
		if st == nil || st.Status.Terminal() {
			continue
		}
		out = append(out, id)
	}
	return out
}

// admitBatch selects the subtasks to run next. Serial strategies and the
// no-delegation mode yield one subtask at a time; otherwise the Delegation
// Guard caps the batch, and overflow rolls into the remainder to be
// retried as normal pending work, never dropped.
func (o *Orchestrator) admitBatch(ready []string) (batch, remainder []string, delegated bool) {
	o.mu.RLock()
	strategy := o.plan.Strategy
	o.mu.RUnlock()

	if o.guard.Policy().Mode == policy.ModeNoDelegation {
		// The guard denies all concurrent admission outright; the
		// control loop runs the work itself, serially.
		return ready[:1], ready[1:], false
	}

	if !strategy.AllowsParallel() || len(ready) == 1 {
		if ok, reason := o.guard.RequestDelegation(1); !ok {
			o.logger.Log("[guard] denied %s: %s", ready[0], reason)
			return nil, ready, true
		}
		return ready[:1], ready[1:], true
	}

	for i, id := range ready {
		ok, reason := o.guard.RequestDelegation(1)
		if !ok {
			o.logger.Log("[guard] denied %s: %s", id, reason)
			remainder = append(remainder, ready[i:]...)
			break
		}
		batch = append(batch, id)
	}
	return batch, remainder, true
}

// executeBatch fans out the batch, awaits all of it, then merges isolated
// directories strictly sequentially. No unbounded fan-out: the batch was
// already capped by the guard.
func (o *Orchestrator) executeBatch(ctx context.Context, batch []string, delegated bool) map[string]*outcome {
	outcomes := make(map[string]*outcome, len(batch))

	if len(batch) == 1 {
		outcomes[batch[0]] = o.executeOne(ctx, batch[0])
	} else {
		var wg sync.WaitGroup
		var outMu sync.Mutex
		for _, id := range batch {
			wg.Add(1)
			go func(taskID string) {
				defer wg.Done()
				out := o.executeOne(ctx, taskID)
				outMu.Lock()
				outcomes[taskID] = out
				outMu.Unlock()
			}(id)
		}
		wg.Wait()
	}

	if delegated {
		for range batch {
			o.guard.ReleaseDelegation()
		}
	}

	o.mergeIsolated(batch, outcomes)
	return outcomes
}

// executeOne prepares one subtask (isolation, fresh snapshot, briefing)
// and runs its escalation loop.
func (o *Orchestrator) executeOne(ctx context.Context, id string) *outcome {
	o.mu.RLock()
	st := o.plan.Subtask(id)
	o.mu.RUnlock()

	isolated := false
	if o.isolator != nil {
		path, err := o.isolator.CreateIsolatedCopy(id)
		if err != nil {
			// Degrade to shared-directory execution.
			o.logger.Log("[isolate] %s: %v, running in shared directory", id, err)
		} else {
			isolated = true
			st.WorkDir = path
			if lerr := o.ledger.RegisterWorktree(id, path); lerr != nil {
				o.logger.Log("[ledger] register worktree %s: %v", id, lerr)
			}
		}
	}
	if st.WorkDir == "" {
		st.WorkDir = o.workDir
	}

	// The snapshot is captured immediately before the subtask starts and
	// never cached: it must reflect work just completed by siblings.
	snapshot := ""
	if o.workDir != "" {
		snap, err := ledger.SnapshotDirectory(o.workDir, ledger.SnapshotOptions{})
		if err != nil {
			o.logger.Log("[snapshot] %s: %v", id, err)
		} else {
			snapshot = snap
		}
	}

	briefing := o.ledger.BuildSubagentContext(id, snapshot)
	if guidance := o.corrections.GuidanceFor(id); guidance != "" {
		briefing = "## Correction guidance\n" + guidance + "\n\n" + briefing
	}

	result, sig := o.executeSubtaskWithEscalation(ctx, st, briefing)
	return &outcome{result: result, correction: sig, isolated: isolated}
}

// mergeIsolated merges successful isolates back sequentially after the
// wave's fan-out completes, so conflict resolution never needs to be
// concurrency-safe. A merge conflict degrades that one subtask to failed,
// never the wave.
func (o *Orchestrator) mergeIsolated(batch []string, outcomes map[string]*outcome) {
	if o.isolator == nil {
		return
	}

	var toMerge []string
	for _, id := range batch {
		out := outcomes[id]
		if out != nil && out.isolated && out.result.Success {
			toMerge = append(toMerge, id)
		}
	}

	if len(toMerge) > 0 {
		for _, m := range o.isolator.MergeSequentially(toMerge) {
			if m.Err == nil {
				continue
			}
			out := outcomes[m.SubtaskID]
			out.result.Success = false
			out.result.ReviewNotes = fmt.Sprintf("isolated directory merge failed: %v (conflicts: %v)", m.Err, m.ConflictingPaths)
			out.correction = nil
			o.noteGlobal("merge conflict: %s collided on %v", m.SubtaskID, m.ConflictingPaths)
			o.emitEvent(Event{Type: EventMergeConflict, SubtaskID: m.SubtaskID, Err: m.Err,
				Message: fmt.Sprintf("conflicting paths: %v", m.ConflictingPaths)})
		}
	}

	for _, id := range batch {
		if out := outcomes[id]; out != nil && out.isolated {
			if err := o.ledger.ReleaseWorktree(id); err != nil {
				o.logger.Log("[ledger] release worktree %s: %v", id, err)
			}
		}
	}
}

// handleOutcome records one subtask's result, cascades failures
// downstream, and offers correction signals to the correction manager.
func (o *Orchestrator) handleOutcome(ctx context.Context, id string, out *outcome, recompute *bool) {
	o.mu.RLock()
	st := o.plan.Subtask(id)
	o.mu.RUnlock()

	res := out.result

	if res.Cancelled {
		st.Status = models.StatusCancelled
		o.recordResult(id, res)
		o.persistSubtask(st)
		o.emitEvent(Event{Type: EventSubtaskCancelled, SubtaskID: id})
		// A lone cancellation (worker stopped, session still live) leaves
		// downstream subtasks without their dependency's output, so they
		// are blocked like an upstream failure. When the whole session is
		// being cancelled, cancelRemaining marks them cancelled instead.
		if ctx.Err() == nil {
			o.cascadeBlock(id, fmt.Sprintf("Blocked by upstream cancellation: %s", id))
		}
		return
	}

	if res.Success {
		st.Status = models.StatusCompleted
		o.mu.Lock()
		o.completed[id] = true
		o.mu.Unlock()
		o.recordResult(id, res)
		o.corrections.MarkReworked(id)
		o.persistSubtask(st)
		if err := o.ledger.RecordCompletion(id, summarize(res), res.Files, res.Commands); err != nil {
			o.logger.Log("[ledger] completion %s: %v", id, err)
		}
		o.emitEvent(Event{Type: EventSubtaskCompleted, SubtaskID: id, Worker: res.ModelUsed})

		if out.correction != nil {
			o.offerCorrection(out.correction, recompute)
		}
		return
	}

	st.Status = models.StatusFailed
	o.recordResult(id, res)
	o.persistSubtask(st)
	if err := o.ledger.RecordFailure(id, res.ReviewNotes); err != nil {
		o.logger.Log("[ledger] failure %s: %v", id, err)
	}
	o.emitEvent(Event{Type: EventSubtaskFailed, SubtaskID: id, Worker: res.ModelUsed, Message: res.ReviewNotes})

	o.cascadeBlock(id, fmt.Sprintf("Blocked by upstream failure: %s", id))
}

// cascadeBlock force-fails every transitive downstream subtask with a
// synthetic result. Blocked subtasks are never handed to the executor;
// the distinct reason string keeps them separable from real failures in
// reporting.
func (o *Orchestrator) cascadeBlock(blockerID, reason string) {
	o.mu.RLock()
	downstream := o.graph.DownstreamOf(blockerID)
	o.mu.RUnlock()

	for _, depID := range downstream {
		o.mu.Lock()
		if o.completed[depID] || o.blocked[depID] {
			o.mu.Unlock()
			continue
		}
		st := o.plan.Subtask(depID)
		if st == nil || st.Status.Terminal() {
			o.mu.Unlock()
			continue
		}
		st.Status = models.StatusFailed
		st.BlockedBy = blockerID
		o.blocked[depID] = true
		o.mu.Unlock()

		synthetic := &models.SubtaskResult{
			SubtaskID:   depID,
			Success:     false,
			ReviewNotes: reason,
			Timestamp:   time.Now(),
		}
		o.recordResult(depID, synthetic)
		o.persistSubtask(st)
		if err := o.ledger.RecordFailure(depID, synthetic.ReviewNotes); err != nil {
			o.logger.Log("[ledger] blocked %s: %v", depID, err)
		}
		o.emitEvent(Event{Type: EventSubtaskBlocked, SubtaskID: depID, Message: synthetic.ReviewNotes})
	}
}

// offerCorrection asks the correction manager to accept a signal found in
// a successful review. Past the cycle cap, signals are logged and ignored
// to guarantee termination.
func (o *Orchestrator) offerCorrection(sig *CorrectionSignal, recompute *bool) {
	if o.corrections.Cycles() >= o.policy.Correction.MaxCycles {
		o.emitEvent(Event{Type: EventCorrectionRejected, SubtaskID: sig.TargetTaskID,
			Message: fmt.Sprintf("correction cycle cap (%d) reached, signal ignored", o.policy.Correction.MaxCycles)})
		return
	}

	o.mu.RLock()
	completedCopy := make(map[string]bool, len(o.completed))
	for id := range o.completed {
		completedCopy[id] = true
	}
	plan, g := o.plan, o.graph
	o.mu.RUnlock()

	invalidated, err := o.corrections.RequestCorrection(sig, plan, g, completedCopy)
	if err != nil {
		o.emitEvent(Event{Type: EventCorrectionRejected, SubtaskID: sig.TargetTaskID, Message: err.Error()})
		return
	}

	o.mu.Lock()
	for _, id := range invalidated {
		delete(o.completed, id)
		delete(o.blocked, id)
		delete(o.results, id)
		st := o.plan.Subtask(id)
		if st != nil {
			st.Status = models.StatusPending
			st.Attempts = 0
			st.BlockedBy = ""
		}
	}
	o.mu.Unlock()

	for _, id := range invalidated {
		if st := plan.Subtask(id); st != nil {
			o.persistSubtask(st)
		}
	}

	*recompute = true
	o.noteGlobal("flow correction against %s invalidated %d subtasks: %s", sig.TargetTaskID, len(invalidated), sig.Reason)
	o.emitEvent(Event{Type: EventCorrectionAccepted, SubtaskID: sig.TargetTaskID,
		Message: fmt.Sprintf("invalidated %v: %s", invalidated, sig.Reason)})
}

// cancelRemaining records every non-terminal subtask as cancelled, which
// distinguishes user-initiated stop from worker failure.
func (o *Orchestrator) cancelRemaining() {
	o.mu.RLock()
	subtasks := o.plan.Subtasks
	o.mu.RUnlock()

	for _, st := range subtasks {
		o.mu.RLock()
		done := o.completed[st.ID] || st.Status.Terminal()
		o.mu.RUnlock()
		if done {
			continue
		}
		st.Status = models.StatusCancelled
		o.recordResult(st.ID, &models.SubtaskResult{Cancelled: true, Timestamp: time.Now()})
		o.persistSubtask(st)
		o.emitEvent(Event{Type: EventSubtaskCancelled, SubtaskID: st.ID})
	}
}

// recordResult stores a subtask result in the shared result map.
func (o *Orchestrator) recordResult(id string, res *models.SubtaskResult) {
	o.mu.Lock()
	o.results[id] = res
	o.mu.Unlock()
}

// noteGlobal appends a session-wide note to the ledger, where later
// subtask briefings pick it up.
func (o *Orchestrator) noteGlobal(format string, args ...any) {
	if err := o.ledger.AddGlobalNote(fmt.Sprintf(format, args...)); err != nil {
		o.logger.Log("[ledger] note: %v", err)
	}
}

// summarize produces the ledger's one-line summary of a result.
func summarize(res *models.SubtaskResult) string {
	if res.Summary != "" {
		return res.Summary
	}
	s := res.Output
	if idx := indexNewline(s); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 160 {
		s = s[:160] + "..."
	}
	return s
}

func indexNewline(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return i
		}
	}
	return -1
}
