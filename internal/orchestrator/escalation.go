package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/jpaulson/flotilla/pkg/models"
)

// executeSubtaskWithEscalation runs one subtask through its attempt
// budget, escalating across worker tiers after each failure. It returns
// the final result plus any correction signal surfaced by a passing
// review. Attempt accounting: every real attempt consumes budget, but an
// API-compatibility rejection refunds it, since the worker never actually
// ran the task.
func (o *Orchestrator) executeSubtaskWithEscalation(ctx context.Context, st *models.Subtask, briefing string) (*models.SubtaskResult, *CorrectionSignal) {
	rec := o.escalationRecord(st.ID)
	depResults := o.dependencyResults(st)

	// The best failed result is kept so exhaustion still reports the
	// most substantial partial output instead of the last error.
	var best *models.SubtaskResult

	began := time.Now()

	for st.Attempts < st.MaxAttempts {
		if ctx.Err() != nil {
			return cancelledResult(), nil
		}

		var w *models.Worker
		tried := rec.TriedWorkers()
		if len(tried) == 0 {
			w = o.selector.SelectForTask(st.TaskType, st.Complexity, nil)
		} else {
			w = o.selector.Escalate(st.Complexity, tried, rec.LastFailureReason())
		}
		if w == nil {
			return failedResult(best, "no workers available for escalation"), nil
		}

		// Retries see what siblings finished or started while the earlier
		// attempts ran, without re-sending the full briefing.
		attemptBriefing := briefing
		if len(tried) > 0 {
			if delta := o.ledger.BuildMidRoundRefresh(st.ID, began); delta != "" {
				attemptBriefing = briefing + "\n" + delta
			}
		}

		st.Attempts++
		st.Status = models.StatusInProgress
		st.Worker = w.ID
		o.persistSubtask(st)
		if err := o.ledger.RecordStart(st.ID, w.ID, st.WorkDir); err != nil {
			o.logger.Log("[ledger] start %s: %v", st.ID, err)
		}
		o.emitEvent(Event{Type: EventSubtaskStarted, SubtaskID: st.ID, Worker: w.ID,
			Message: fmt.Sprintf("attempt %d/%d", st.Attempts, st.MaxAttempts)})

		result, err := o.executor.Execute(ctx, st, w, depResults, attemptBriefing)
		if err != nil {
			switch ErrorClassOf(err) {
			case ClassCancelled:
				return cancelledResult(), nil
			case ClassAPICompat:
				// The worker's API rejected the request shape before any
				// work happened. Refund the attempt and exclude the worker.
				st.Attempts--
				o.appendAttempt(rec, w, false, fmt.Sprintf("api compatibility: %v", err))
				o.logger.Log("[escalate] %s: worker %s incompatible, attempt refunded", st.ID, w.ID)
				continue
			default:
				o.appendAttempt(rec, w, false, err.Error())
				o.emitEvent(Event{Type: EventEscalation, SubtaskID: st.ID, Worker: w.ID, Err: err})
				continue
			}
		}

		if result == nil {
			o.appendAttempt(rec, w, false, "executor returned no result")
			continue
		}
		result.ModelUsed = w.ID
		if result.Cancelled {
			return result, nil
		}
		if !result.Success {
			best = betterResult(best, result)
			o.appendAttempt(rec, w, false, result.ReviewNotes)
			o.emitEvent(Event{Type: EventEscalation, SubtaskID: st.ID, Worker: w.ID, Message: result.ReviewNotes})
			continue
		}

		st.Status = models.StatusReviewing
		o.persistSubtask(st)
		judgment, err := o.reviewer.Review(ctx, st, result)
		if err != nil {
			if ErrorClassOf(err) == ClassCancelled {
				return cancelledResult(), nil
			}
			// A broken reviewer must not fail work that executed fine.
			o.logger.Log("[review] %s: %v, accepting unreviewed", st.ID, err)
			o.appendAttempt(rec, w, true, "")
			return result, nil
		}

		if judgment.Success {
			o.appendAttempt(rec, w, true, "")
			result.ReviewNotes = judgment.Reason
			sig := judgment.Correction
			if sig == nil {
				sig = ParseCorrectionSignal(judgment.Reason)
			}
			return result, sig
		}

		result.Success = false
		result.ReviewNotes = judgment.Reason
		best = betterResult(best, result)
		o.appendAttempt(rec, w, false, judgment.Reason)
		st.Status = models.StatusEscalated
		o.persistSubtask(st)
		o.emitEvent(Event{Type: EventEscalation, SubtaskID: st.ID, Worker: w.ID, Message: judgment.Reason})
	}

	return failedResult(best, fmt.Sprintf("exhausted %d attempts: %s", st.MaxAttempts, rec.LastFailureReason())), nil
}

// escalationRecord returns the subtask's attempt history, creating it on
// first use.
func (o *Orchestrator) escalationRecord(id string) *models.EscalationRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.escalations[id]
	if !ok {
		rec = &models.EscalationRecord{SubtaskID: id}
		o.escalations[id] = rec
	}
	return rec
}

// appendAttempt records one attempt under the write lock; records are
// shared with the persistence path.
func (o *Orchestrator) appendAttempt(rec *models.EscalationRecord, w *models.Worker, success bool, reason string) {
	o.mu.Lock()
	rec.Attempts = append(rec.Attempts, models.EscalationAttempt{
		WorkerID:  w.ID,
		Tier:      w.Tier,
		Success:   success,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	o.mu.Unlock()
}

// dependencyResults gathers the recorded results of the subtask's
// dependencies so the executor can feed upstream output downstream.
func (o *Orchestrator) dependencyResults(st *models.Subtask) map[string]*models.SubtaskResult {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]*models.SubtaskResult, len(st.DependsOn))
	for _, dep := range st.DependsOn {
		if res, ok := o.results[dep]; ok {
			out[dep] = res
		}
	}
	return out
}

func cancelledResult() *models.SubtaskResult {
	return &models.SubtaskResult{Cancelled: true, Timestamp: time.Now()}
}

// failedResult reuses the best partial result if one exists, otherwise
// synthesizes a terminal failure.
func failedResult(best *models.SubtaskResult, reason string) *models.SubtaskResult {
	if best != nil {
		best.Success = false
		best.ReviewNotes = reason
		return best
	}
	return &models.SubtaskResult{Success: false, ReviewNotes: reason, Timestamp: time.Now()}
}

// betterResult prefers the result with more substantial output.
func betterResult(a, b *models.SubtaskResult) *models.SubtaskResult {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if len(b.Output) > len(a.Output) {
		return b
	}
	return a
}
