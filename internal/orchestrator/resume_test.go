package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jpaulson/flotilla/internal/session"
	"github.com/jpaulson/flotilla/pkg/models"
)

// seedSession persists a three-subtask chain where a completed, b was
// interrupted mid-flight, and c never started.
func seedSession(t *testing.T) (*session.Store, *session.ResumeState) {
	t.Helper()
	store, err := session.NewStore(filepath.Join(t.TempDir(), "sess-resume"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	plan := testPlan(models.StrategyParallel, map[string][]string{
		"b": {"a"},
		"c": {"b"},
	}, "a", "b", "c")
	if err := store.WriteSession(&session.PersistedSession{
		ID:        "sess-resume",
		Request:   "finish the feature",
		Plan:      plan,
		CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("WriteSession: %v", err)
	}

	done := *plan.Subtasks[0]
	done.Status = models.StatusCompleted
	done.Attempts = 1
	done.Worker = "standard"
	if err := store.WriteSubtask(&done, &models.SubtaskResult{
		SubtaskID: "a",
		Success:   true,
		Output:    "out-a",
		Summary:   "finished a",
		Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("WriteSubtask: %v", err)
	}

	interrupted := *plan.Subtasks[1]
	interrupted.Status = models.StatusInProgress
	interrupted.Attempts = 2
	interrupted.Worker = "advanced"
	if err := store.WriteSubtask(&interrupted, nil); err != nil {
		t.Fatalf("WriteSubtask: %v", err)
	}

	rs, err := store.ReadForResume()
	if err != nil {
		t.Fatalf("ReadForResume: %v", err)
	}
	return store, rs
}

func TestResumeSkipsCompletedAndReexecutesReset(t *testing.T) {
	store, rs := seedSession(t)
	exec := &fakeExecutor{}

	o, err := New(Config{
		SessionID: "sess-resume",
		Planner:   &fakePlanner{},
		Executor:  exec,
		Reviewer:  &fakeReviewer{},
		Selector:  tieredSelector("fast", "standard", "advanced"),
		Store:     store,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rep, err := o.Resume(context.Background(), rs)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}

	if exec.callsFor("a") != 0 {
		t.Error("completed subtask was re-executed")
	}
	if exec.callsFor("b") != 1 || exec.callsFor("c") != 1 {
		t.Errorf("calls: b=%d c=%d, want 1 each", exec.callsFor("b"), exec.callsFor("c"))
	}
	if rep.Completed != 3 {
		t.Errorf("Completed = %d, want 3", rep.Completed)
	}
	if rep.State != StateCompleted {
		t.Errorf("State = %q", rep.State)
	}
}

func TestCancelledSessionResumesAndCompletes(t *testing.T) {
	store, err := session.NewStore(filepath.Join(t.TempDir(), "sess-cancel"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	plan := testPlan(models.StrategySerial, map[string][]string{
		"b": {"a"},
	}, "a", "b")

	ctx, cancel := context.WithCancel(context.Background())
	exec1 := &fakeExecutor{fn: func(st *models.Subtask, w *models.Worker) (*models.SubtaskResult, error) {
		// Interrupt the session while the first subtask is in flight.
		cancel()
		return nil, ctx.Err()
	}}
	o1, err := New(Config{
		SessionID: "sess-cancel",
		Planner:   &fakePlanner{plan: plan},
		Executor:  exec1,
		Reviewer:  &fakeReviewer{},
		Selector:  tieredSelector("fast", "standard", "advanced"),
		Store:     store,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := o1.Run(ctx, "do the work"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v, want context.Canceled", err)
	}

	rs, err := store.ReadForResume()
	if err != nil {
		t.Fatalf("ReadForResume: %v", err)
	}
	if len(rs.Reset) != 2 {
		t.Fatalf("Reset = %v, want both subtasks back to pending", rs.Reset)
	}

	exec2 := &fakeExecutor{}
	o2, err := New(Config{
		SessionID: "sess-cancel",
		Planner:   &fakePlanner{},
		Executor:  exec2,
		Reviewer:  &fakeReviewer{},
		Selector:  tieredSelector("fast", "standard", "advanced"),
		Store:     store,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rep, err := o2.Resume(context.Background(), rs)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if exec2.callsFor("a") != 1 || exec2.callsFor("b") != 1 {
		t.Errorf("calls: a=%d b=%d, want 1 each", exec2.callsFor("a"), exec2.callsFor("b"))
	}
	if rep.Completed != 2 || rep.State != StateCompleted {
		t.Errorf("report = %s state=%s, want 2 completed", rep.Headline(), rep.State)
	}
}

func TestResumePassesPersistedResultsDownstream(t *testing.T) {
	store, rs := seedSession(t)

	var got map[string]*models.SubtaskResult
	exec := executorFunc(func(ctx context.Context, st *models.Subtask, w *models.Worker, deps map[string]*models.SubtaskResult, briefing string) (*models.SubtaskResult, error) {
		if st.ID == "b" {
			got = deps
		}
		return &models.SubtaskResult{Success: true, Output: "done " + st.ID, Timestamp: time.Now()}, nil
	})

	o, err := New(Config{
		SessionID: "sess-resume",
		Planner:   &fakePlanner{},
		Executor:  exec,
		Reviewer:  &fakeReviewer{},
		Selector:  tieredSelector("fast", "standard", "advanced"),
		Store:     store,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := o.Resume(context.Background(), rs); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	res, ok := got["a"]
	if !ok {
		t.Fatal("upstream result for a not passed to b")
	}
	if res.Output != "out-a" {
		t.Errorf("upstream output = %q, want out-a", res.Output)
	}
}
