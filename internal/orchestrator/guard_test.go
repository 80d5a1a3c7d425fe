package orchestrator

import (
	"strings"
	"testing"

	"github.com/jpaulson/flotilla/internal/orchestrator/policy"
)

func TestGuardParallelCapacity(t *testing.T) {
	g := NewDelegationGuard(policy.DelegationPolicy{
		Mode: policy.ModeParallel, MaxParallel: 2, MaxDepth: 2, RunawayThreshold: 25,
	})

	for i := 0; i < 2; i++ {
		if ok, reason := g.RequestDelegation(1); !ok {
			t.Fatalf("admission %d denied: %s", i, reason)
		}
	}
	ok, reason := g.RequestDelegation(1)
	if ok {
		t.Fatal("third admission allowed past MaxParallel=2")
	}
	if !strings.Contains(reason, "at capacity") {
		t.Errorf("reason = %q", reason)
	}

	g.ReleaseDelegation()
	if ok, _ := g.RequestDelegation(1); !ok {
		t.Error("admission denied after release freed a slot")
	}

	stats := g.Stats()
	if stats.TotalSpawned != 3 || stats.DelegationsBlocked != 1 || stats.Active != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestGuardSerialMode(t *testing.T) {
	g := NewDelegationGuard(policy.DelegationPolicy{
		Mode: policy.ModeSerial, MaxParallel: 4, MaxDepth: 2, RunawayThreshold: 25,
	})

	if ok, _ := g.RequestDelegation(1); !ok {
		t.Fatal("first serial admission denied")
	}
	if ok, _ := g.RequestDelegation(1); ok {
		t.Error("serial mode admitted a second concurrent delegation")
	}
}

func TestGuardNoDelegationMode(t *testing.T) {
	g := NewDelegationGuard(policy.DelegationPolicy{
		Mode: policy.ModeNoDelegation, MaxParallel: 4, MaxDepth: 2, RunawayThreshold: 25,
	})

	ok, reason := g.RequestDelegation(1)
	if ok {
		t.Fatal("no-delegation mode admitted a delegation")
	}
	if !strings.Contains(reason, "disabled") {
		t.Errorf("reason = %q", reason)
	}
}

func TestGuardDepthLimit(t *testing.T) {
	g := NewDelegationGuard(policy.DelegationPolicy{
		Mode: policy.ModeParallel, MaxParallel: 4, MaxDepth: 2, RunawayThreshold: 25,
	})

	if ok, _ := g.RequestDelegation(2); !ok {
		t.Fatal("admission at max depth denied")
	}
	ok, reason := g.RequestDelegation(3)
	if ok {
		t.Fatal("admission past MaxDepth allowed")
	}
	if !strings.Contains(reason, "depth") {
		t.Errorf("reason = %q", reason)
	}
	if g.Stats().RunawaySignals != 1 {
		t.Errorf("depth violation did not register a runaway signal: %+v", g.Stats())
	}
}

func TestGuardFreezeAndReset(t *testing.T) {
	g := NewDelegationGuard(policy.DelegationPolicy{
		Mode: policy.ModeParallel, MaxParallel: 4, MaxDepth: 1, RunawayThreshold: 2,
	})

	// Two depth violations cross the runaway threshold and open the breaker.
	g.RequestDelegation(5)
	g.RequestDelegation(5)
	if !g.Frozen() {
		t.Fatal("guard not frozen after crossing the runaway threshold")
	}

	ok, reason := g.RequestDelegation(1)
	if ok {
		t.Fatal("frozen guard admitted a delegation")
	}
	if !strings.Contains(reason, "frozen") {
		t.Errorf("reason = %q", reason)
	}

	blockedBefore := g.Stats().DelegationsBlocked
	g.Reset()
	if g.Frozen() {
		t.Fatal("guard still frozen after Reset")
	}
	if g.Stats().RunawaySignals != 0 {
		t.Error("Reset did not clear runaway signals")
	}
	if g.Stats().DelegationsBlocked != blockedBefore {
		t.Error("Reset cleared admission counters; they must survive for reporting")
	}
	if ok, _ := g.RequestDelegation(1); !ok {
		t.Error("admission denied after Reset")
	}
}
