package orchestrator

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/jpaulson/flotilla/internal/graph"
	"github.com/jpaulson/flotilla/pkg/models"
)

// CorrectionSignal reports, post hoc, that an already-completed upstream
// subtask's output was defective. Reviewers should emit it as structured
// output; ParseCorrectionSignal remains for reviewers that only return
// prose.
type CorrectionSignal struct {
	// TargetTaskID is the upstream subtask whose output is wrong.
	TargetTaskID string
	// Reason explains what was found to be defective.
	Reason string
}

// correctionMarker matches the prose form of a correction signal:
// [flow-correction: task-id] reason text
var correctionMarker = regexp.MustCompile(`\[flow-correction:\s*([^\]\s]+)\]\s*(.*)`)

// ParseCorrectionSignal scans review prose for a correction marker and
// returns the structured signal, or nil when none is present.
func ParseCorrectionSignal(reviewText string) *CorrectionSignal {
	m := correctionMarker.FindStringSubmatch(reviewText)
	if m == nil {
		return nil
	}
	return &CorrectionSignal{
		TargetTaskID: m[1],
		Reason:       strings.TrimSpace(m[2]),
	}
}

// CorrectionManager decides whether to accept flow corrections and tracks
// the guidance injected into re-executed subtasks. It never mutates
// anything on rejection; applying an accepted correction is the control
// loop's job.
type CorrectionManager struct {
	mu sync.Mutex
	// pending marks targets with an accepted correction whose rework has
	// not completed yet. No duplicate corrections per target.
	pending map[string]bool
	// guidance maps an invalidated subtask ID to the correction text
	// prepended to its context on re-execution.
	guidance map[string]string
	// cycles counts accepted corrections this session.
	cycles int
}

// NewCorrectionManager creates an empty correction manager.
func NewCorrectionManager() *CorrectionManager {
	return &CorrectionManager{
		pending:  make(map[string]bool),
		guidance: make(map[string]string),
	}
}

// Cycles returns how many corrections have been accepted this session.
func (m *CorrectionManager) Cycles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cycles
}

// RequestCorrection evaluates a signal against the plan and the completed
// set. On acceptance it returns the invalidated subtask IDs: the target
// plus everything transitively downstream of it. The control loop removes
// those from its completed and blocked sets and re-executes them with the
// correction guidance prepended to their context. On rejection it returns
// a reason and mutates nothing.
func (m *CorrectionManager) RequestCorrection(sig *CorrectionSignal, plan *models.Plan, g *graph.DependencyGraph, completed map[string]bool) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := plan.Subtask(sig.TargetTaskID)
	if target == nil {
		return nil, fmt.Errorf("correction target %s does not exist in the plan", sig.TargetTaskID)
	}
	if !completed[sig.TargetTaskID] {
		return nil, fmt.Errorf("correction target %s is not completed", sig.TargetTaskID)
	}
	if m.pending[sig.TargetTaskID] {
		return nil, fmt.Errorf("correction for %s is already pending", sig.TargetTaskID)
	}

	invalidated := append([]string{sig.TargetTaskID}, g.DownstreamOf(sig.TargetTaskID)...)

	m.pending[sig.TargetTaskID] = true
	m.cycles++
	m.guidance[sig.TargetTaskID] = fmt.Sprintf(
		"A later review found your previous output defective: %s. Redo this subtask with that in mind.", sig.Reason)
	for _, id := range invalidated[1:] {
		m.guidance[id] = fmt.Sprintf(
			"Upstream subtask %s was corrected (%s); its previous output must not be trusted.", sig.TargetTaskID, sig.Reason)
	}

	return invalidated, nil
}

// GuidanceFor returns the correction guidance for a subtask, or an empty
// string when none applies.
func (m *CorrectionManager) GuidanceFor(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.guidance[id]
}

// MarkReworked clears the pending flag and guidance once a corrected
// subtask completes again, so a fresh defect can be corrected later.
func (m *CorrectionManager) MarkReworked(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
	delete(m.guidance, id)
}
