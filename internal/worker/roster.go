// Package worker maintains the roster of interchangeable worker agents and
// selects workers for subtasks, including escalation to more capable tiers
// after failures.
package worker

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/jpaulson/flotilla/pkg/models"
)

// Roster holds the available workers grouped by tier.
type Roster struct {
	workers []models.Worker
}

// rosterFile is the YAML shape of a roster definition.
type rosterFile struct {
	Workers []models.Worker `yaml:"workers"`
}

// DefaultRoster returns the built-in roster used when no roster file is
// configured.
func DefaultRoster() *Roster {
	return &Roster{workers: []models.Worker{
		{ID: "claude-haiku", Tier: models.TierFast},
		{ID: "claude-sonnet", Tier: models.TierStandard},
		{ID: "claude-opus", Tier: models.TierAdvanced},
	}}
}

// LoadRoster reads a roster definition from a YAML file.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster file: %w", err)
	}

	var rf rosterFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse roster file: %w", err)
	}
	if len(rf.Workers) == 0 {
		return nil, fmt.Errorf("roster file %s defines no workers", path)
	}
	for _, w := range rf.Workers {
		if w.ID == "" {
			return nil, fmt.Errorf("roster file %s contains a worker without an id", path)
		}
		if !w.Tier.Valid() {
			return nil, fmt.Errorf("worker %s has unknown tier %q", w.ID, w.Tier)
		}
	}

	return NewRoster(rf.Workers), nil
}

// NewRoster creates a roster from an explicit worker list.
func NewRoster(workers []models.Worker) *Roster {
	r := &Roster{workers: append([]models.Worker(nil), workers...)}
	// Stable order: by capability rank, then ID, so selection is
	// deterministic regardless of input order.
	sort.SliceStable(r.workers, func(i, j int) bool {
		ri, rj := r.workers[i].Tier.Rank(), r.workers[j].Tier.Rank()
		if ri != rj {
			return ri < rj
		}
		return r.workers[i].ID < r.workers[j].ID
	})
	return r
}

// Workers returns all workers in capability order.
func (r *Roster) Workers() []models.Worker {
	return r.workers
}

// Worker returns the worker with the given ID, or nil if not present.
func (r *Roster) Worker(id string) *models.Worker {
	for i := range r.workers {
		if r.workers[i].ID == id {
			return &r.workers[i]
		}
	}
	return nil
}

// AtTier returns all workers in the given tier, in ID order.
func (r *Roster) AtTier(tier models.Tier) []models.Worker {
	var out []models.Worker
	for _, w := range r.workers {
		if w.Tier == tier {
			out = append(out, w)
		}
	}
	return out
}
