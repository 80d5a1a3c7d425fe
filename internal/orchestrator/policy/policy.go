// Package policy defines configurable policy parameters for orchestrator
// behavior. This centralizes threshold values so they can be configured and
// tested rather than scattered across implementation files.
package policy

// Config contains all configurable policy parameters for the orchestrator.
type Config struct {
	// Delegation controls concurrent admission and runaway protection.
	Delegation DelegationPolicy

	// Correction controls flow-correction acceptance.
	Correction CorrectionPolicy

	// Escalation controls per-subtask retry behavior.
	Escalation EscalationPolicy
}

// DelegationMode describes how the guard treats concurrent delegation.
type DelegationMode string

const (
	// ModeParallel admits concurrent subtasks up to MaxParallel.
	ModeParallel DelegationMode = "parallel"
	// ModeSerial admits one subtask at a time.
	ModeSerial DelegationMode = "serial"
	// ModeNoDelegation forces serial execution and denies all concurrent
	// admission outright.
	ModeNoDelegation DelegationMode = "no-delegation"
)

// DelegationPolicy controls the Delegation Guard.
type DelegationPolicy struct {
	// Mode is the admission mode.
	Mode DelegationMode

	// MaxParallel is the maximum number of concurrently running subtasks.
	MaxParallel int

	// MaxDepth is the maximum delegation depth.
	MaxDepth int

	// RunawayThreshold is the number of runaway signals before the guard
	// freezes. Tunable, not a protocol invariant.
	RunawayThreshold int
}

// CorrectionPolicy controls the Flow Correction Manager.
type CorrectionPolicy struct {
	// MaxCycles bounds how many accepted corrections may force a wave
	// recompute in one session. Beyond the cap further signals are
	// logged and ignored to guarantee termination.
	MaxCycles int
}

// EscalationPolicy controls per-subtask escalation.
type EscalationPolicy struct {
	// DefaultMaxAttempts is the attempt budget for subtasks that do not
	// specify their own.
	DefaultMaxAttempts int
}

// Default returns the default policy configuration.
func Default() *Config {
	return &Config{
		Delegation: DelegationPolicy{
			Mode:             ModeParallel,
			MaxParallel:      4,
			MaxDepth:         2,
			RunawayThreshold: 25,
		},
		Correction: CorrectionPolicy{
			MaxCycles: 3,
		},
		Escalation: EscalationPolicy{
			DefaultMaxAttempts: 3,
		},
	}
}

// Validate clamps policy values to acceptable ranges.
func (c *Config) Validate() error {
	if c.Delegation.Mode == "" {
		c.Delegation.Mode = ModeParallel
	}
	if c.Delegation.MaxParallel < 1 {
		c.Delegation.MaxParallel = 4
	}
	if c.Delegation.MaxDepth < 1 {
		c.Delegation.MaxDepth = 2
	}
	if c.Delegation.RunawayThreshold < 1 {
		c.Delegation.RunawayThreshold = 25
	}
	if c.Correction.MaxCycles < 0 {
		c.Correction.MaxCycles = 3
	}
	if c.Escalation.DefaultMaxAttempts < 1 {
		c.Escalation.DefaultMaxAttempts = 3
	}
	return nil
}
