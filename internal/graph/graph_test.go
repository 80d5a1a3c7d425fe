package graph

import (
	"errors"
	"reflect"
	"testing"

	"github.com/jpaulson/flotilla/pkg/models"
)

func subtasks(specs map[string][]string, order ...string) []*models.Subtask {
	out := make([]*models.Subtask, 0, len(order))
	for _, id := range order {
		out = append(out, &models.Subtask{ID: id, DependsOn: specs[id]})
	}
	return out
}

func TestComputeWavesDiamond(t *testing.T) {
	g := Build(subtasks(map[string][]string{
		"b": {"a"},
		"c": {"a"},
		"d": {"b", "c"},
	}, "a", "b", "c", "d"))

	waves, err := g.ComputeWaves()
	if err != nil {
		t.Fatalf("ComputeWaves: %v", err)
	}

	want := [][]string{{"a"}, {"b", "c"}, {"d"}}
	if len(waves) != len(want) {
		t.Fatalf("got %d waves, want %d", len(waves), len(want))
	}
	for i, w := range waves {
		if w.Level != i {
			t.Errorf("wave %d has level %d", i, w.Level)
		}
		if !reflect.DeepEqual(w.TaskIDs, want[i]) {
			t.Errorf("wave %d = %v, want %v", i, w.TaskIDs, want[i])
		}
	}
}

func TestComputeWavesTopologicalProperty(t *testing.T) {
	g := Build(subtasks(map[string][]string{
		"b": {"a"},
		"c": {"b"},
		"d": {"a"},
		"e": {"c", "d"},
		"f": nil,
	}, "a", "b", "c", "d", "e", "f"))

	waves, err := g.ComputeWaves()
	if err != nil {
		t.Fatalf("ComputeWaves: %v", err)
	}

	level := make(map[string]int)
	for _, w := range waves {
		for _, id := range w.TaskIDs {
			level[id] = w.Level
		}
	}
	if len(level) != g.Size() {
		t.Fatalf("waves cover %d nodes, graph has %d", len(level), g.Size())
	}
	for id, deps := range map[string][]string{"b": {"a"}, "c": {"b"}, "d": {"a"}, "e": {"c", "d"}} {
		for _, dep := range deps {
			if level[dep] >= level[id] {
				t.Errorf("%s (level %d) not strictly after its dependency %s (level %d)", id, level[id], dep, level[dep])
			}
		}
	}
}

func TestComputeWavesCycle(t *testing.T) {
	g := Build(subtasks(map[string][]string{
		"a": {"c"},
		"b": {"a"},
		"c": {"b"},
		"d": nil,
	}, "a", "b", "c", "d"))

	_, err := g.ComputeWaves()
	if err == nil {
		t.Fatal("expected cycle error")
	}
	var ce *CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("error is %T, want *CycleError", err)
	}
	if !reflect.DeepEqual(ce.StuckIDs, []string{"a", "b", "c"}) {
		t.Errorf("stuck = %v, want [a b c]", ce.StuckIDs)
	}
}

func TestValidateReportsCyclePath(t *testing.T) {
	g := Build(subtasks(map[string][]string{
		"a": {"c"},
		"b": {"a"},
		"c": {"b"},
	}, "a", "b", "c"))

	result := g.Validate()
	if result.Valid {
		t.Fatal("cyclic graph reported valid")
	}
	if len(result.Cycles) != 1 {
		t.Fatalf("got %d cycles, want 1: %v", len(result.Cycles), result.Cycles)
	}
	cycle := result.Cycles[0]
	if cycle[0] != cycle[len(cycle)-1] {
		t.Errorf("cycle path %v does not start and end at the same node", cycle)
	}
	if len(cycle) != 4 {
		t.Errorf("cycle path %v has length %d, want 4", cycle, len(cycle))
	}
}

func TestValidateMissingDeps(t *testing.T) {
	g := Build(subtasks(map[string][]string{
		"a": {"ghost"},
		"b": {"a"},
	}, "a", "b"))

	result := g.Validate()
	if result.Valid {
		t.Fatal("graph with missing reference reported valid")
	}
	if got := result.MissingDeps["a"]; !reflect.DeepEqual(got, []string{"ghost"}) {
		t.Errorf("MissingDeps[a] = %v, want [ghost]", got)
	}

	// The dangling edge must not block scheduling of the rest.
	waves, err := g.ComputeWaves()
	if err != nil {
		t.Fatalf("ComputeWaves after dropped edge: %v", err)
	}
	if len(waves) != 2 {
		t.Errorf("got %d waves, want 2", len(waves))
	}
}

func TestValidateOrphans(t *testing.T) {
	// a<->b form a cycle that is also the only "root" path to c.
	g := Build(subtasks(map[string][]string{
		"a": {"b"},
		"b": {"a"},
		"c": {"a"},
	}, "a", "b", "c"))

	result := g.Validate()
	if result.Valid {
		t.Fatal("expected invalid graph")
	}
	if !reflect.DeepEqual(result.Orphans, []string{"a", "b", "c"}) {
		t.Errorf("orphans = %v, want [a b c]", result.Orphans)
	}
}

func TestValidateIdempotent(t *testing.T) {
	g := Build(subtasks(map[string][]string{
		"a": {"c"},
		"b": {"a", "ghost"},
		"c": {"b"},
	}, "a", "b", "c"))

	first := g.Validate()
	second := g.Validate()
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated Validate differs:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestDownstreamOf(t *testing.T) {
	g := Build(subtasks(map[string][]string{
		"b": {"a"},
		"c": {"a"},
		"d": {"b"},
		"e": {"d", "c"},
		"f": nil,
	}, "a", "b", "c", "d", "e", "f"))

	cases := []struct {
		id   string
		want []string
	}{
		{"a", []string{"b", "c", "d", "e"}},
		{"b", []string{"d", "e"}},
		{"e", nil},
		{"f", nil},
	}
	for _, tc := range cases {
		got := g.DownstreamOf(tc.id)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("DownstreamOf(%s) = %v, want %v", tc.id, got, tc.want)
		}
	}
}

func TestValidateValidGraph(t *testing.T) {
	g := Build(subtasks(map[string][]string{
		"b": {"a"},
		"c": {"b"},
	}, "a", "b", "c"))

	result := g.Validate()
	if !result.Valid {
		t.Fatalf("valid graph reported invalid: %s", result.Summary())
	}
	if result.Summary() != "graph is valid" {
		t.Errorf("summary = %q", result.Summary())
	}
}
