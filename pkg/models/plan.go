package models

import "time"

// ExecutionStrategy describes how a plan's subtasks may be scheduled.
type ExecutionStrategy string

const (
	// StrategySerial executes subtasks one at a time in wave order.
	StrategySerial ExecutionStrategy = "serial"
	// StrategyParallel executes each wave's subtasks concurrently.
	StrategyParallel ExecutionStrategy = "parallel"
	// StrategyMixed lets the orchestrator choose per wave.
	StrategyMixed ExecutionStrategy = "mixed"
)

// Valid returns true if the strategy is a known value.
func (s ExecutionStrategy) Valid() bool {
	switch s {
	case StrategySerial, StrategyParallel, StrategyMixed:
		return true
	default:
		return false
	}
}

// AllowsParallel returns true if the strategy permits concurrent execution
// within a wave.
func (s ExecutionStrategy) AllowsParallel() bool {
	return s == StrategyParallel || s == StrategyMixed
}

// Complexity rates how demanding a task or subtask is expected to be.
type Complexity string

const (
	// ComplexityLow marks trivial, mechanical work.
	ComplexityLow Complexity = "low"
	// ComplexityMedium marks typical implementation work.
	ComplexityMedium Complexity = "medium"
	// ComplexityHigh marks work requiring deep reasoning or broad context.
	ComplexityHigh Complexity = "high"
)

// Valid returns true if the complexity is a known value.
func (c Complexity) Valid() bool {
	switch c {
	case ComplexityLow, ComplexityMedium, ComplexityHigh:
		return true
	default:
		return false
	}
}

// Plan is the decomposition of a single high-level request into subtasks.
// It is immutable after creation except for the subtasks themselves, which
// the orchestrator mutates in place as execution proceeds.
type Plan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id"`
	// Summary is a short restatement of the overall request.
	Summary string `json:"summary"`
	// Strategy describes how subtasks may be scheduled.
	Strategy ExecutionStrategy `json:"strategy"`
	// Complexity is the overall complexity rating of the request.
	Complexity Complexity `json:"complexity"`
	// SuccessCriteria defines what a successful session must achieve.
	SuccessCriteria []string `json:"success_criteria,omitempty"`
	// Subtasks is the ordered collection of subtasks in this plan.
	Subtasks []*Subtask `json:"subtasks"`
	// CreatedAt is when the plan was produced.
	CreatedAt time.Time `json:"created_at"`
}

// Subtask returns the subtask with the given ID, or nil if not present.
func (p *Plan) Subtask(id string) *Subtask {
	for _, st := range p.Subtasks {
		if st.ID == id {
			return st
		}
	}
	return nil
}

// SubtaskIDs returns the IDs of all subtasks in plan order.
func (p *Plan) SubtaskIDs() []string {
	ids := make([]string, 0, len(p.Subtasks))
	for _, st := range p.Subtasks {
		ids = append(ids, st.ID)
	}
	return ids
}
