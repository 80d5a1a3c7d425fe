package worker

import (
	"strings"

	"github.com/jpaulson/flotilla/pkg/models"
)

// fastKeywords are task-type signals that lightweight workers handle well.
var fastKeywords = []string{
	"docs",
	"readme",
	"documentation",
	"typo",
	"formatting",
	"comment",
	"rename",
}

// advancedKeywords are task-type signals that demand the most capable tier.
var advancedKeywords = []string{
	"migration",
	"auth",
	"authentication",
	"security",
	"architecture",
	"schema",
	"database",
	"concurrency",
}

// Selector chooses workers for subtasks and escalation candidates after
// failures. Selection is stateless; attempt history is carried by the
// caller in the exclude/tried lists.
type Selector struct {
	roster *Roster
}

// NewSelector creates a selector over the given roster.
func NewSelector(roster *Roster) *Selector {
	return &Selector{roster: roster}
}

// SelectForTask returns the worker for a first attempt at a subtask, based
// on its type and complexity, skipping excluded worker IDs. Returns nil
// when no eligible worker exists.
func (s *Selector) SelectForTask(taskType string, complexity models.Complexity, exclude []string) *models.Worker {
	tier := s.tierFor(taskType, complexity)
	return s.firstAvailable(tier, exclude)
}

// Escalate returns the next escalation candidate: a worker not yet tried,
// preferring the tier above the last one when the failure reason suggests
// the work was beyond the worker's capability. Returns nil when every
// eligible worker has been tried.
func (s *Selector) Escalate(complexity models.Complexity, tried []string, lastFailureReason string) *models.Worker {
	baseTier := s.tierFor("", complexity)
	startRank := baseTier.Rank()
	if capabilityFailure(lastFailureReason) {
		startRank++
	}
	if startRank > models.TierAdvanced.Rank() {
		startRank = models.TierAdvanced.Rank()
	}

	// Walk upward from the starting tier, then fall back to anything
	// untried at lower tiers before giving up.
	for rank := startRank; rank <= models.TierAdvanced.Rank(); rank++ {
		if w := s.firstAvailable(tierAtRank(rank), tried); w != nil {
			return w
		}
	}
	for rank := startRank - 1; rank >= models.TierFast.Rank(); rank-- {
		if w := s.firstAvailable(tierAtRank(rank), tried); w != nil {
			return w
		}
	}
	return nil
}

// tierFor maps task-type keywords and complexity to a starting tier.
func (s *Selector) tierFor(taskType string, complexity models.Complexity) models.Tier {
	lower := strings.ToLower(taskType)
	for _, kw := range advancedKeywords {
		if strings.Contains(lower, kw) {
			return models.TierAdvanced
		}
	}
	if complexity == models.ComplexityHigh {
		return models.TierAdvanced
	}
	for _, kw := range fastKeywords {
		if strings.Contains(lower, kw) {
			return models.TierFast
		}
	}
	if complexity == models.ComplexityLow {
		return models.TierFast
	}
	return models.TierStandard
}

// firstAvailable returns the first worker at or above the given tier not in
// the exclude list, or nil.
func (s *Selector) firstAvailable(tier models.Tier, exclude []string) *models.Worker {
	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}
	for rank := tier.Rank(); rank <= models.TierAdvanced.Rank(); rank++ {
		for _, w := range s.roster.AtTier(tierAtRank(rank)) {
			if !excluded[w.ID] {
				candidate := w
				return &candidate
			}
		}
	}
	return nil
}

// capabilityFailure returns true when a failure reason suggests the worker
// was out of its depth rather than unlucky.
func capabilityFailure(reason string) bool {
	lower := strings.ToLower(reason)
	for _, marker := range []string{"incomplete", "incorrect", "too complex", "missed", "wrong", "failed criteria"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// tierAtRank is the inverse of Tier.Rank.
func tierAtRank(rank int) models.Tier {
	switch rank {
	case 0:
		return models.TierFast
	case 1:
		return models.TierStandard
	default:
		return models.TierAdvanced
	}
}
