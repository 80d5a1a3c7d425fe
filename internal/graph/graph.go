// Package graph builds and validates the subtask dependency graph and
// computes topologically ordered execution waves. All algorithms are pure
// functions of the subtask list handed to Build; nothing here mutates
// subtasks or keeps execution state, so the graph can be rebuilt cheaply
// whenever a flow correction changes the schedule.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jpaulson/flotilla/pkg/models"
)

// CycleError indicates ComputeWaves could not make progress because the
// remaining nodes form at least one cycle.
type CycleError struct {
	// StuckIDs are the node IDs left unprocessed when the frontier emptied.
	StuckIDs []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected, stuck nodes: %s", strings.Join(e.StuckIDs, ", "))
}

// ValidationResult reports everything Validate found wrong with a graph.
type ValidationResult struct {
	// Valid is true when no cycles, missing references, or orphans exist.
	Valid bool
	// Cycles holds one exact cyclic path per detected cycle. Each path
	// starts and ends at the same node ID.
	Cycles [][]string
	// MissingDeps maps a subtask ID to the DependsOn IDs it references
	// that are absent from the plan.
	MissingDeps map[string][]string
	// Orphans are node IDs unreachable from any zero-dependency root.
	// This is only possible when every "root" is itself inside a cycle.
	Orphans []string
}

// Summary returns a one-line human-readable description of the problems.
func (r *ValidationResult) Summary() string {
	if r.Valid {
		return "graph is valid"
	}
	var parts []string
	for _, cycle := range r.Cycles {
		parts = append(parts, "cycle: "+strings.Join(cycle, " -> "))
	}
	for id, missing := range r.MissingDeps {
		parts = append(parts, fmt.Sprintf("%s references unknown dependencies %v", id, missing))
	}
	if len(r.Orphans) > 0 {
		parts = append(parts, "unreachable: "+strings.Join(r.Orphans, ", "))
	}
	return strings.Join(parts, "; ")
}

// DependencyGraph is the directed dependency graph of a plan's subtasks.
// Edges point from a subtask to the subtasks it depends on; the reverse
// adjacency (successors) is kept alongside for downstream traversal.
type DependencyGraph struct {
	// nodes maps subtask ID to the subtask itself.
	nodes map[string]*models.Subtask
	// order preserves plan order for deterministic output.
	order []string
	// deps maps subtask ID to the IDs it depends on.
	deps map[string][]string
	// successors maps subtask ID to the IDs that depend on it.
	successors map[string][]string
}

// Build constructs a dependency graph from a plan's subtasks. Edges to
// unknown IDs are dropped here and reported by Validate; Build itself never
// fails so that a broken plan can still be diagnosed in full.
func Build(subtasks []*models.Subtask) *DependencyGraph {
	g := &DependencyGraph{
		nodes:      make(map[string]*models.Subtask, len(subtasks)),
		deps:       make(map[string][]string, len(subtasks)),
		successors: make(map[string][]string, len(subtasks)),
	}

	for _, st := range subtasks {
		g.nodes[st.ID] = st
		g.order = append(g.order, st.ID)
	}

	for _, st := range subtasks {
		for _, depID := range st.DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				continue
			}
			g.deps[st.ID] = append(g.deps[st.ID], depID)
			g.successors[depID] = append(g.successors[depID], st.ID)
		}
	}

	return g
}

// Size returns the number of nodes in the graph.
func (g *DependencyGraph) Size() int {
	return len(g.nodes)
}

// Subtask returns the subtask for the given ID, or nil if not present.
func (g *DependencyGraph) Subtask(id string) *models.Subtask {
	return g.nodes[id]
}

// Dependencies returns the IDs the given subtask depends on.
func (g *DependencyGraph) Dependencies(id string) []string {
	return g.deps[id]
}

// Validate checks the graph for cycles, missing dependency references, and
// unreachable nodes. It is idempotent: repeated calls on an unmodified
// graph return identical results.
func (g *DependencyGraph) Validate() *ValidationResult {
	result := &ValidationResult{
		Valid:       true,
		MissingDeps: make(map[string][]string),
	}

	// Missing references come from the raw DependsOn lists, since Build
	// drops edges to unknown IDs.
	for _, id := range g.order {
		st := g.nodes[id]
		for _, depID := range st.DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				result.MissingDeps[id] = append(result.MissingDeps[id], depID)
			}
		}
	}

	result.Cycles = g.findCycles()
	result.Orphans = g.findOrphans()

	if len(result.Cycles) > 0 || len(result.MissingDeps) > 0 || len(result.Orphans) > 0 {
		result.Valid = false
	}
	if len(result.MissingDeps) == 0 {
		result.MissingDeps = nil
	}
	return result
}

// findCycles runs DFS 3-coloring over the dependency edges and returns the
// exact path of each back edge found.
// Color states: 0 = white (unvisited), 1 = gray (on stack), 2 = black (done).
func (g *DependencyGraph) findCycles() [][]string {
	colors := make(map[string]int, len(g.nodes))
	var cycles [][]string
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		colors[id] = 1
		stack = append(stack, id)

		for _, depID := range g.deps[id] {
			switch colors[depID] {
			case 1:
				// Back edge: reconstruct the path from depID to id.
				start := 0
				for i, sid := range stack {
					if sid == depID {
						start = i
						break
					}
				}
				cycle := make([]string, 0, len(stack)-start+1)
				cycle = append(cycle, stack[start:]...)
				cycle = append(cycle, depID)
				cycles = append(cycles, cycle)
			case 0:
				visit(depID)
			}
		}

		stack = stack[:len(stack)-1]
		colors[id] = 2
	}

	for _, id := range g.order {
		if colors[id] == 0 {
			visit(id)
		}
	}
	return cycles
}

// findOrphans returns nodes unreachable by BFS from the set of
// zero-dependency roots, following successor edges.
func (g *DependencyGraph) findOrphans() []string {
	var roots []string
	for _, id := range g.order {
		if len(g.deps[id]) == 0 {
			roots = append(roots, id)
		}
	}

	reached := make(map[string]bool, len(g.nodes))
	queue := append([]string(nil), roots...)
	for _, id := range roots {
		reached[id] = true
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, succ := range g.successors[id] {
			if !reached[succ] {
				reached[succ] = true
				queue = append(queue, succ)
			}
		}
	}

	var orphans []string
	for _, id := range g.order {
		if !reached[id] {
			orphans = append(orphans, id)
		}
	}
	return orphans
}

// ComputeWaves computes topologically ordered execution waves using Kahn's
// algorithm: each wave collects every node whose dependencies are all in
// earlier waves. If nodes remain after the frontier is exhausted the graph
// contains a cycle and a *CycleError naming the stuck nodes is returned;
// a partial schedule is never returned silently.
func (g *DependencyGraph) ComputeWaves() ([]models.Wave, error) {
	indegree := make(map[string]int, len(g.nodes))
	for _, id := range g.order {
		indegree[id] = len(g.deps[id])
	}

	processed := 0
	var waves []models.Wave
	frontier := make([]string, 0, len(g.nodes))
	for _, id := range g.order {
		if indegree[id] == 0 {
			frontier = append(frontier, id)
		}
	}

	for level := 0; len(frontier) > 0; level++ {
		wave := models.Wave{Level: level, TaskIDs: frontier}
		waves = append(waves, wave)
		processed += len(frontier)

		var next []string
		for _, id := range frontier {
			for _, succ := range g.successors[id] {
				indegree[succ]--
				if indegree[succ] == 0 {
					next = append(next, succ)
				}
			}
		}
		frontier = next
	}

	if processed < len(g.nodes) {
		var stuck []string
		for _, id := range g.order {
			if indegree[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, &CycleError{StuckIDs: stuck}
	}

	return waves, nil
}

// DownstreamOf returns every subtask ID transitively dependent on the given
// ID, found by BFS over successor edges. The starting ID itself is never
// included. Used for failure-cascade blocking and correction invalidation.
func (g *DependencyGraph) DownstreamOf(id string) []string {
	visited := make(map[string]bool)
	var queue []string
	queue = append(queue, g.successors[id]...)
	for _, succ := range g.successors[id] {
		visited[succ] = true
	}

	var downstream []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		downstream = append(downstream, cur)
		for _, succ := range g.successors[cur] {
			if !visited[succ] && succ != id {
				visited[succ] = true
				queue = append(queue, succ)
			}
		}
	}
	sort.Strings(downstream)
	return downstream
}
