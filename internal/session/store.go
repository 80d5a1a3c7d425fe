// Package session persists a session's plan and per-subtask state to disk
// with a write-ahead discipline: the plan is written the instant planning
// completes, and every subtask status transition is written immediately,
// one file per subtask. After a restart the on-disk state is strictly more
// authoritative than anything held in memory, which makes exact resumption
// possible without re-paying planning cost or repeating completed work.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jpaulson/flotilla/pkg/models"
)

// Layout of a session directory:
//
//	plan.json           the persisted plan
//	subtasks/<id>.json  status + inline result, one file per subtask
//	escalations.json    append-only escalation records
//	ledger.json         execution ledger state (written by the ledger)
//	execution.log       one line per orchestrator event
//	STATUS.md           human-readable summary, regenerated per transition

// PersistedSubtask is the on-disk projection of one subtask.
type PersistedSubtask struct {
	// Subtask is the subtask state at last write.
	Subtask *models.Subtask `json:"subtask"`
	// Result is the recorded outcome, if any.
	Result *models.SubtaskResult `json:"result,omitempty"`
	// UpdatedAt is when this file was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// PersistedSession is the on-disk projection of the session header.
type PersistedSession struct {
	// ID is the session identifier.
	ID string `json:"id"`
	// Request is the original high-level request.
	Request string `json:"request"`
	// Plan is the decomposed plan.
	Plan *models.Plan `json:"plan"`
	// CreatedAt is when the session began.
	CreatedAt time.Time `json:"created_at"`
}

// ResumeState is everything needed to continue an interrupted session.
type ResumeState struct {
	// Session is the reconstructed session header and plan.
	Session *PersistedSession
	// Completed maps subtask IDs with a persisted terminal completed
	// status to their results; these seed the initial completed set and
	// are never re-executed.
	Completed map[string]*models.SubtaskResult
	// Reset lists subtask IDs that were caught mid-flight and have been
	// returned to pending with a zeroed attempt counter.
	Reset []string
}

// Store reads and writes one session's directory.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a store rooted at dir, creating the directory tree.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "subtasks"), 0755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the session directory path.
func (s *Store) Dir() string {
	return s.dir
}

// LedgerPath returns where the session's ledger state lives.
func (s *Store) LedgerPath() string {
	return filepath.Join(s.dir, "ledger.json")
}

// WriteSession persists the session header and plan. Called the moment
// planning completes, before any execution begins.
func (s *Store) WriteSession(ps *PersistedSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(filepath.Join(s.dir, "plan.json"), ps)
}

// WriteSubtask persists one subtask's state and result. Called on every
// status transition; nothing important is held only in memory.
func (s *Store) WriteSubtask(st *models.Subtask, result *models.SubtaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := &PersistedSubtask{Subtask: st, Result: result, UpdatedAt: time.Now()}
	return writeJSON(filepath.Join(s.dir, "subtasks", st.ID+".json"), rec)
}

// WriteEscalations persists the escalation records for all subtasks.
func (s *Store) WriteEscalations(records map[string]*models.EscalationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(filepath.Join(s.dir, "escalations.json"), records)
}

// ReadEscalations loads persisted escalation records, or an empty map when
// none were written.
func (s *Store) ReadEscalations() (map[string]*models.EscalationRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "escalations.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*models.EscalationRecord{}, nil
		}
		return nil, fmt.Errorf("read escalations: %w", err)
	}
	records := make(map[string]*models.EscalationRecord)
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse escalations: %w", err)
	}
	return records, nil
}

// AppendLog appends one line to the session's execution log.
func (s *Store) AppendLog(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(filepath.Join(s.dir, "execution.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open execution log: %w", err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "[%s] %s\n", time.Now().Format(time.RFC3339), line)
	return err
}

// WriteStatusSummary regenerates the human-readable STATUS.md from the
// current plan and results.
func (s *Store) WriteStatusSummary(plan *models.Plan, results map[string]*models.SubtaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("# Session status\n\n")
	sb.WriteString(fmt.Sprintf("Plan: %s\n\n", plan.Summary))

	counts := map[models.SubtaskStatus]int{}
	for _, st := range plan.Subtasks {
		counts[st.Status]++
	}
	sb.WriteString(fmt.Sprintf("Progress: %d/%d completed, %d failed\n\n",
		counts[models.StatusCompleted], len(plan.Subtasks), counts[models.StatusFailed]))

	for _, st := range plan.Subtasks {
		sb.WriteString(fmt.Sprintf("- [%s] %s: %s", st.Status, st.ID, st.Title))
		if r, ok := results[st.ID]; ok && r.ReviewNotes != "" {
			note := r.ReviewNotes
			if len(note) > 120 {
				note = note[:120] + "..."
			}
			sb.WriteString(": " + note)
		}
		sb.WriteString("\n")
	}

	return os.WriteFile(filepath.Join(s.dir, "STATUS.md"), []byte(sb.String()), 0644)
}

// ReadForResume reconstructs the session from disk. Completed subtasks
// seed the completed set and are not re-executed; subtasks caught
// mid-flight or cancelled by an interrupted session are reset to pending
// with attempts zeroed.
func (s *Store) ReadForResume() (*ResumeState, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "plan.json"))
	if err != nil {
		return nil, fmt.Errorf("read session plan: %w", err)
	}
	var ps PersistedSession
	if err := json.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("parse session plan: %w", err)
	}
	if ps.Plan == nil {
		return nil, fmt.Errorf("session %s has no persisted plan", ps.ID)
	}

	resume := &ResumeState{
		Session:   &ps,
		Completed: make(map[string]*models.SubtaskResult),
	}

	for _, st := range ps.Plan.Subtasks {
		rec, err := s.readSubtask(st.ID)
		if err != nil {
			// Missing or corrupt subtask file: treat as never started.
			st.Status = models.StatusPending
			st.Attempts = 0
			continue
		}

		// The subtask file is more recent than the plan file.
		*st = *rec.Subtask

		switch st.Status {
		case models.StatusCompleted:
			resume.Completed[st.ID] = rec.Result
		case models.StatusInProgress, models.StatusReviewing, models.StatusEscalated,
			models.StatusCancelled:
			// Cancellation is an interruption, not an outcome: cancelled
			// subtasks never ran to completion and re-execute on resume.
			st.Status = models.StatusPending
			st.Attempts = 0
			st.Worker = ""
			st.WorkDir = ""
			resume.Reset = append(resume.Reset, st.ID)
		}
	}

	sort.Strings(resume.Reset)
	return resume, nil
}

// readSubtask loads one persisted subtask file.
func (s *Store) readSubtask(id string) (*PersistedSubtask, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "subtasks", id+".json"))
	if err != nil {
		return nil, err
	}
	var rec PersistedSubtask
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse subtask %s: %w", id, err)
	}
	if rec.Subtask == nil {
		return nil, fmt.Errorf("subtask file %s has no subtask", id)
	}
	return &rec, nil
}

// writeJSON writes v to path atomically via a temp file rename.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return os.Rename(tmp, path)
}
