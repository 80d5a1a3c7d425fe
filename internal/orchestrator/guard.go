package orchestrator

import (
	"fmt"
	"sync"

	"github.com/jpaulson/flotilla/internal/orchestrator/policy"
)

// GuardStats is a point-in-time snapshot of the guard's counters.
type GuardStats struct {
	// Active is the number of currently admitted delegations.
	Active int
	// TotalSpawned counts every admitted delegation over the session.
	TotalSpawned int
	// DelegationsBlocked counts denied admission requests.
	DelegationsBlocked int
	// MaxDepthReached is the deepest delegation level seen.
	MaxDepthReached int
	// RunawaySignals counts suspicious admission patterns observed.
	RunawaySignals int
	// Frozen reports whether the circuit breaker is open.
	Frozen bool
}

// DelegationGuard is a stateful admission controller bounding how many
// subtasks may run concurrently and how deep delegation may go. Once the
// runaway threshold is crossed the guard freezes and denies everything
// until explicitly reset: a circuit breaker against pathological
// self-replicating delegation.
type DelegationGuard struct {
	policy policy.DelegationPolicy

	mu                 sync.Mutex
	active             int
	totalSpawned       int
	delegationsBlocked int
	maxDepthReached    int
	runawaySignals     int
	frozen             bool
}

// NewDelegationGuard creates a guard with the given policy. Guards are
// constructed per session and injected, never process-wide.
func NewDelegationGuard(p policy.DelegationPolicy) *DelegationGuard {
	return &DelegationGuard{policy: p}
}

// Policy returns the guard's policy.
func (g *DelegationGuard) Policy() policy.DelegationPolicy {
	return g.policy
}

// RequestDelegation asks to admit one delegation at the given depth.
// It returns whether the delegation is allowed and, when denied, a reason.
func (g *DelegationGuard) RequestDelegation(depth int) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frozen {
		g.delegationsBlocked++
		return false, "delegation guard frozen: runaway threshold crossed, reset required"
	}

	if g.policy.Mode == policy.ModeNoDelegation {
		g.delegationsBlocked++
		return false, "delegation disabled by policy"
	}

	if depth > g.policy.MaxDepth {
		g.delegationsBlocked++
		g.runawaySignalLocked()
		return false, fmt.Sprintf("delegation depth %d exceeds maximum %d", depth, g.policy.MaxDepth)
	}

	maxParallel := g.policy.MaxParallel
	if g.policy.Mode == policy.ModeSerial {
		maxParallel = 1
	}
	if g.active >= maxParallel {
		g.delegationsBlocked++
		return false, fmt.Sprintf("at capacity: %d of %d delegations running", g.active, maxParallel)
	}

	g.active++
	g.totalSpawned++
	if depth > g.maxDepthReached {
		g.maxDepthReached = depth
	}
	if g.totalSpawned > g.policy.RunawayThreshold*g.policy.MaxParallel {
		g.runawaySignalLocked()
	}
	return true, ""
}

// ReleaseDelegation frees one admitted slot. Called on every subtask
// terminal outcome, success or exhausted escalation alike.
func (g *DelegationGuard) ReleaseDelegation() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active > 0 {
		g.active--
	}
}

// Reset clears the circuit breaker and runaway counter. Admission counters
// are preserved for reporting.
func (g *DelegationGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.frozen = false
	g.runawaySignals = 0
}

// Frozen reports whether the circuit breaker is open.
func (g *DelegationGuard) Frozen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.frozen
}

// Stats returns a snapshot of the guard's counters.
func (g *DelegationGuard) Stats() GuardStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GuardStats{
		Active:             g.active,
		TotalSpawned:       g.totalSpawned,
		DelegationsBlocked: g.delegationsBlocked,
		MaxDepthReached:    g.maxDepthReached,
		RunawaySignals:     g.runawaySignals,
		Frozen:             g.frozen,
	}
}

// runawaySignalLocked records one runaway signal and freezes the guard
// when the threshold is crossed. Caller must hold g.mu.
func (g *DelegationGuard) runawaySignalLocked() {
	g.runawaySignals++
	if g.runawaySignals >= g.policy.RunawayThreshold {
		g.frozen = true
	}
}
