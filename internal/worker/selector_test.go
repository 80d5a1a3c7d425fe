package worker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jpaulson/flotilla/pkg/models"
)

func threeTierRoster() *Roster {
	return NewRoster([]models.Worker{
		{ID: "advanced-1", Tier: models.TierAdvanced},
		{ID: "fast-1", Tier: models.TierFast},
		{ID: "standard-1", Tier: models.TierStandard},
	})
}

func TestSelectForTaskTierMapping(t *testing.T) {
	sel := NewSelector(threeTierRoster())

	cases := []struct {
		name       string
		taskType   string
		complexity models.Complexity
		wantID     string
	}{
		{"docs go to fast tier", "docs", models.ComplexityMedium, "fast-1"},
		{"low complexity goes to fast tier", "feature", models.ComplexityLow, "fast-1"},
		{"default is standard tier", "feature", models.ComplexityMedium, "standard-1"},
		{"high complexity goes to advanced tier", "feature", models.ComplexityHigh, "advanced-1"},
		{"security keyword overrides complexity", "security-fix", models.ComplexityLow, "advanced-1"},
		{"migration keyword goes to advanced tier", "db migration", models.ComplexityMedium, "advanced-1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := sel.SelectForTask(tc.taskType, tc.complexity, nil)
			if w == nil {
				t.Fatal("got nil worker")
			}
			if w.ID != tc.wantID {
				t.Errorf("got %s, want %s", w.ID, tc.wantID)
			}
		})
	}
}

func TestSelectForTaskSkipsExcluded(t *testing.T) {
	sel := NewSelector(threeTierRoster())
	w := sel.SelectForTask("feature", models.ComplexityLow, []string{"fast-1"})
	if w == nil || w.ID != "standard-1" {
		t.Fatalf("got %v, want standard-1", w)
	}
}

func TestEscalateMovesUpward(t *testing.T) {
	sel := NewSelector(threeTierRoster())

	w := sel.Escalate(models.ComplexityMedium, []string{"standard-1"}, "timed out")
	if w == nil || w.ID != "advanced-1" {
		t.Fatalf("got %v, want advanced-1", w)
	}
}

func TestEscalateCapabilityFailureSkipsTier(t *testing.T) {
	sel := NewSelector(threeTierRoster())

	// A capability failure at the fast tier should jump past standard.
	w := sel.Escalate(models.ComplexityLow, []string{"fast-1"}, "output was incorrect and incomplete")
	if w == nil || w.ID != "standard-1" {
		t.Fatalf("got %v, want standard-1", w)
	}

	// From standard, the same signal lands on advanced.
	w = sel.Escalate(models.ComplexityMedium, []string{"standard-1"}, "missed the acceptance criteria")
	if w == nil || w.ID != "advanced-1" {
		t.Fatalf("got %v, want advanced-1", w)
	}
}

func TestEscalateFallsBackToLowerTier(t *testing.T) {
	sel := NewSelector(threeTierRoster())

	// Advanced already tried; an untried lower-tier worker still serves.
	w := sel.Escalate(models.ComplexityHigh, []string{"advanced-1"}, "timed out")
	if w == nil || w.ID != "standard-1" {
		t.Fatalf("got %v, want standard-1", w)
	}
}

func TestEscalateExhaustion(t *testing.T) {
	sel := NewSelector(threeTierRoster())
	tried := []string{"fast-1", "standard-1", "advanced-1"}
	if w := sel.Escalate(models.ComplexityMedium, tried, "still broken"); w != nil {
		t.Fatalf("expected nil after exhausting roster, got %s", w.ID)
	}
}

func TestRosterOrderingAndLookup(t *testing.T) {
	r := NewRoster([]models.Worker{
		{ID: "b-standard", Tier: models.TierStandard},
		{ID: "z-fast", Tier: models.TierFast},
		{ID: "a-standard", Tier: models.TierStandard},
	})
	ws := r.Workers()
	if ws[0].ID != "z-fast" || ws[1].ID != "a-standard" || ws[2].ID != "b-standard" {
		t.Errorf("unexpected order: %v", ws)
	}
	if r.Worker("a-standard") == nil {
		t.Error("lookup by ID failed")
	}
	if r.Worker("missing") != nil {
		t.Error("expected nil for unknown ID")
	}
	if got := r.AtTier(models.TierStandard); len(got) != 2 {
		t.Errorf("AtTier returned %d workers", len(got))
	}
}

func TestLoadRoster(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.yaml")
	body := `workers:
  - id: haiku-pool
    tier: fast
  - id: sonnet-pool
    tier: standard
    max_tokens: 16384
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := LoadRoster(path)
	if err != nil {
		t.Fatalf("LoadRoster: %v", err)
	}
	if len(r.Workers()) != 2 {
		t.Fatalf("got %d workers", len(r.Workers()))
	}
	if w := r.Worker("sonnet-pool"); w == nil || w.MaxTokens != 16384 {
		t.Errorf("sonnet-pool = %+v", w)
	}
}

func TestLoadRosterRejectsBadDefinitions(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		name string
		body string
	}{
		{"empty roster", "workers: []\n"},
		{"missing id", "workers:\n  - tier: fast\n"},
		{"unknown tier", "workers:\n  - id: x\n    tier: turbo\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name+".yaml")
			if err := os.WriteFile(path, []byte(tc.body), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadRoster(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
