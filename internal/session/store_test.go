package session

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jpaulson/flotilla/pkg/models"
)

func testPlan() *models.Plan {
	return &models.Plan{
		ID:       "plan-1",
		Summary:  "build the thing",
		Strategy: models.StrategyMixed,
		Subtasks: []*models.Subtask{
			{ID: "task-1", Title: "first", Status: models.StatusPending, MaxAttempts: 3},
			{ID: "task-2", Title: "second", Status: models.StatusPending, MaxAttempts: 3, DependsOn: []string{"task-1"}},
			{ID: "task-3", Title: "third", Status: models.StatusPending, MaxAttempts: 3, DependsOn: []string{"task-1"}},
			{ID: "task-4", Title: "fourth", Status: models.StatusPending, MaxAttempts: 3},
		},
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "sess-1"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestReadForResumeSeedsCompletedAndResetsInFlight(t *testing.T) {
	store := newTestStore(t)
	plan := testPlan()
	if err := store.WriteSession(&PersistedSession{ID: "sess-1", Request: "build the thing", Plan: plan, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("WriteSession: %v", err)
	}

	done := *plan.Subtasks[0]
	done.Status = models.StatusCompleted
	done.Attempts = 1
	done.Worker = "standard"
	if err := store.WriteSubtask(&done, &models.SubtaskResult{SubtaskID: "task-1", Success: true, Output: "out-1", Summary: "did the first"}); err != nil {
		t.Fatalf("WriteSubtask: %v", err)
	}

	inflight := *plan.Subtasks[1]
	inflight.Status = models.StatusInProgress
	inflight.Attempts = 2
	inflight.Worker = "advanced"
	inflight.WorkDir = "/tmp/iso-task-2"
	if err := store.WriteSubtask(&inflight, nil); err != nil {
		t.Fatalf("WriteSubtask: %v", err)
	}

	escalated := *plan.Subtasks[2]
	escalated.Status = models.StatusEscalated
	escalated.Attempts = 1
	escalated.Worker = "fast"
	if err := store.WriteSubtask(&escalated, nil); err != nil {
		t.Fatalf("WriteSubtask: %v", err)
	}

	// task-4 has no persisted record at all.

	rs, err := store.ReadForResume()
	if err != nil {
		t.Fatalf("ReadForResume: %v", err)
	}
	if rs.Session.Request != "build the thing" {
		t.Errorf("request = %q", rs.Session.Request)
	}

	res, ok := rs.Completed["task-1"]
	if !ok {
		t.Fatal("task-1 missing from Completed")
	}
	if res.Output != "out-1" {
		t.Errorf("completed result output = %q", res.Output)
	}
	if got := rs.Session.Plan.Subtasks[0].Status; got != models.StatusCompleted {
		t.Errorf("task-1 status = %q", got)
	}

	for _, id := range []string{"task-2", "task-3"} {
		st := findSubtask(t, rs.Session.Plan, id)
		if st.Status != models.StatusPending {
			t.Errorf("%s status = %q, want pending", id, st.Status)
		}
		if st.Attempts != 0 {
			t.Errorf("%s attempts = %d, want 0", id, st.Attempts)
		}
		if st.Worker != "" || st.WorkDir != "" {
			t.Errorf("%s worker/workdir not cleared: %q %q", id, st.Worker, st.WorkDir)
		}
	}
	if want := []string{"task-2", "task-3"}; !reflect.DeepEqual(rs.Reset, want) {
		t.Errorf("Reset = %v, want %v", rs.Reset, want)
	}

	// No persisted record means the subtask never started.
	st := findSubtask(t, rs.Session.Plan, "task-4")
	if st.Status != models.StatusPending || st.Attempts != 0 {
		t.Errorf("task-4 = %q attempts=%d, want fresh pending", st.Status, st.Attempts)
	}
}

func TestReadForResumeResetsCancelled(t *testing.T) {
	store := newTestStore(t)
	plan := testPlan()
	if err := store.WriteSession(&PersistedSession{ID: "sess-1", Request: "interrupted run", Plan: plan, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("WriteSession: %v", err)
	}

	// An interrupted session persists never-started subtasks as
	// cancelled; they must run again on resume.
	cancelled := *plan.Subtasks[0]
	cancelled.Status = models.StatusCancelled
	if err := store.WriteSubtask(&cancelled, &models.SubtaskResult{SubtaskID: "task-1", Cancelled: true}); err != nil {
		t.Fatalf("WriteSubtask: %v", err)
	}

	rs, err := store.ReadForResume()
	if err != nil {
		t.Fatalf("ReadForResume: %v", err)
	}
	if _, ok := rs.Completed["task-1"]; ok {
		t.Error("cancelled subtask must not seed the completed set")
	}
	st := findSubtask(t, rs.Session.Plan, "task-1")
	if st.Status != models.StatusPending || st.Attempts != 0 {
		t.Errorf("task-1 = %q attempts=%d, want fresh pending", st.Status, st.Attempts)
	}
	if !reflect.DeepEqual(rs.Reset, []string{"task-1"}) {
		t.Errorf("Reset = %v, want [task-1]", rs.Reset)
	}
}

func TestReadForResumeRequiresPlan(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.ReadForResume(); err == nil {
		t.Fatal("expected error for session with no persisted plan")
	}
}

func TestEscalationsRoundtrip(t *testing.T) {
	store := newTestStore(t)

	empty, err := store.ReadEscalations()
	if err != nil {
		t.Fatalf("ReadEscalations on fresh store: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty map, got %d entries", len(empty))
	}

	recs := map[string]*models.EscalationRecord{
		"task-1": {
			SubtaskID: "task-1",
			Attempts: []models.EscalationAttempt{
				{WorkerID: "fast", Tier: models.TierFast, Success: false, Reason: "review rejected"},
				{WorkerID: "standard", Tier: models.TierStandard, Success: true},
			},
		},
	}
	if err := store.WriteEscalations(recs); err != nil {
		t.Fatalf("WriteEscalations: %v", err)
	}
	got, err := store.ReadEscalations()
	if err != nil {
		t.Fatalf("ReadEscalations: %v", err)
	}
	rec, ok := got["task-1"]
	if !ok {
		t.Fatal("task-1 record missing after roundtrip")
	}
	if len(rec.Attempts) != 2 || rec.Attempts[1].WorkerID != "standard" {
		t.Errorf("attempts = %+v", rec.Attempts)
	}
}

func TestWriteStatusSummary(t *testing.T) {
	store := newTestStore(t)
	plan := testPlan()
	plan.Subtasks[0].Status = models.StatusCompleted
	plan.Subtasks[1].Status = models.StatusFailed

	results := map[string]*models.SubtaskResult{
		"task-1": {SubtaskID: "task-1", Success: true, ReviewNotes: "looks solid"},
	}
	if err := store.WriteStatusSummary(plan, results); err != nil {
		t.Fatalf("WriteStatusSummary: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(store.Dir(), "STATUS.md"))
	if err != nil {
		t.Fatalf("read STATUS.md: %v", err)
	}
	body := string(raw)
	for _, want := range []string{
		"# Session status",
		"Progress: 1/4 completed, 1 failed",
		"[completed] task-1",
		"looks solid",
		"[failed] task-2",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("STATUS.md missing %q\n%s", want, body)
		}
	}
}

func TestAppendLog(t *testing.T) {
	store := newTestStore(t)
	if err := store.AppendLog("wave 1 started"); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}
	if err := store.AppendLog("task-1 completed"); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(store.Dir(), "execution.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d log lines", len(lines))
	}
	if !strings.Contains(lines[0], "wave 1 started") || !strings.HasPrefix(lines[0], "[") {
		t.Errorf("unexpected log line %q", lines[0])
	}
}

func findSubtask(t *testing.T, plan *models.Plan, id string) *models.Subtask {
	t.Helper()
	for _, st := range plan.Subtasks {
		if st.ID == id {
			return st
		}
	}
	t.Fatalf("subtask %s not in plan", id)
	return nil
}
