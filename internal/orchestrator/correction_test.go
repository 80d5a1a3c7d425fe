package orchestrator

import (
	"reflect"
	"strings"
	"testing"

	"github.com/jpaulson/flotilla/internal/graph"
	"github.com/jpaulson/flotilla/pkg/models"
)

func TestParseCorrectionSignal(t *testing.T) {
	cases := []struct {
		text   string
		target string
		reason string
	}{
		{"looks good overall, but [flow-correction: task-2] the schema is missing the index column", "task-2", "the schema is missing the index column"},
		{"[flow-correction:task-7]wrong endpoint", "task-7", "wrong endpoint"},
		{"everything checks out", "", ""},
		{"mentions flow-correction without the marker form", "", ""},
	}
	for _, tc := range cases {
		sig := ParseCorrectionSignal(tc.text)
		if tc.target == "" {
			if sig != nil {
				t.Errorf("ParseCorrectionSignal(%q) = %+v, want nil", tc.text, sig)
			}
			continue
		}
		if sig == nil {
			t.Errorf("ParseCorrectionSignal(%q) = nil", tc.text)
			continue
		}
		if sig.TargetTaskID != tc.target || sig.Reason != tc.reason {
			t.Errorf("ParseCorrectionSignal(%q) = %+v", tc.text, sig)
		}
	}
}

func correctionFixture() (*models.Plan, *graph.DependencyGraph) {
	plan := &models.Plan{
		Subtasks: []*models.Subtask{
			{ID: "task-1"},
			{ID: "task-2", DependsOn: []string{"task-1"}},
			{ID: "task-3", DependsOn: []string{"task-2"}},
			{ID: "task-4"},
		},
	}
	return plan, graph.Build(plan.Subtasks)
}

func TestRequestCorrectionInvalidatesDownstream(t *testing.T) {
	plan, g := correctionFixture()
	m := NewCorrectionManager()
	completed := map[string]bool{"task-1": true, "task-2": true, "task-3": true}

	invalidated, err := m.RequestCorrection(
		&CorrectionSignal{TargetTaskID: "task-1", Reason: "wrong base type"}, plan, g, completed)
	if err != nil {
		t.Fatalf("RequestCorrection: %v", err)
	}
	if !reflect.DeepEqual(invalidated, []string{"task-1", "task-2", "task-3"}) {
		t.Errorf("invalidated = %v", invalidated)
	}
	if m.Cycles() != 1 {
		t.Errorf("cycles = %d, want 1", m.Cycles())
	}

	if g := m.GuidanceFor("task-1"); !strings.Contains(g, "wrong base type") {
		t.Errorf("target guidance = %q", g)
	}
	if g := m.GuidanceFor("task-3"); !strings.Contains(g, "task-1") {
		t.Errorf("downstream guidance = %q", g)
	}
	if m.GuidanceFor("task-4") != "" {
		t.Error("untouched subtask received guidance")
	}
}

func TestRequestCorrectionRejections(t *testing.T) {
	plan, g := correctionFixture()
	m := NewCorrectionManager()
	completed := map[string]bool{"task-1": true}

	if _, err := m.RequestCorrection(&CorrectionSignal{TargetTaskID: "ghost"}, plan, g, completed); err == nil {
		t.Error("correction against unknown target accepted")
	}
	if _, err := m.RequestCorrection(&CorrectionSignal{TargetTaskID: "task-2"}, plan, g, completed); err == nil {
		t.Error("correction against non-completed target accepted")
	}
	if m.Cycles() != 0 {
		t.Errorf("rejections counted as cycles: %d", m.Cycles())
	}

	if _, err := m.RequestCorrection(&CorrectionSignal{TargetTaskID: "task-1", Reason: "r"}, plan, g, completed); err != nil {
		t.Fatalf("first correction rejected: %v", err)
	}
	if _, err := m.RequestCorrection(&CorrectionSignal{TargetTaskID: "task-1", Reason: "r2"}, plan, g, completed); err == nil {
		t.Error("duplicate pending correction accepted")
	}

	// Once the target completes its rework a fresh correction is allowed.
	m.MarkReworked("task-1")
	if m.GuidanceFor("task-1") != "" {
		t.Error("guidance survived MarkReworked")
	}
	if _, err := m.RequestCorrection(&CorrectionSignal{TargetTaskID: "task-1", Reason: "r3"}, plan, g, completed); err != nil {
		t.Errorf("post-rework correction rejected: %v", err)
	}
	if m.Cycles() != 2 {
		t.Errorf("cycles = %d, want 2", m.Cycles())
	}
}
