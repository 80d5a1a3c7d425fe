package models

import "time"

// Tier represents a worker capability class. Escalation moves a subtask
// from cheaper tiers toward more capable ones.
type Tier string

const (
	// TierFast is the cheapest tier, for low-complexity mechanical work.
	TierFast Tier = "fast"
	// TierStandard is the default tier for typical implementation work.
	TierStandard Tier = "standard"
	// TierAdvanced is the most capable tier, used for high-complexity
	// work and as the last escalation step.
	TierAdvanced Tier = "advanced"
)

// Valid returns true if the tier is a known value.
func (t Tier) Valid() bool {
	switch t {
	case TierFast, TierStandard, TierAdvanced:
		return true
	default:
		return false
	}
}

// Rank returns the escalation order of the tier, higher means more capable.
func (t Tier) Rank() int {
	switch t {
	case TierFast:
		return 0
	case TierStandard:
		return 1
	case TierAdvanced:
		return 2
	default:
		return -1
	}
}

// Worker describes one interchangeable worker agent.
type Worker struct {
	// ID is the unique worker identifier, typically a model name.
	ID string `json:"id" yaml:"id"`
	// Tier is the capability class of this worker.
	Tier Tier `json:"tier" yaml:"tier"`
	// MaxTokens caps the output size per invocation. Zero means the
	// executor's default.
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	// Timeout bounds a single invocation. Zero means the executor's default.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}
