// Package ledger maintains the session-scoped execution ledger: the shared
// record of what every subtask has done, who is running where, and what the
// working tree looks like. The orchestrator is the only writer; subtask
// workers consume point-in-time snapshots rendered by the context builders.
// The ledger is persisted after every mutation so a restarted process can
// reconcile from disk.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// maxGlobalNotes bounds the global notes ring buffer.
const maxGlobalNotes = 20

// SubtaskRecord is the ledger's view of one subtask.
type SubtaskRecord struct {
	// Status mirrors the subtask's status at last write.
	Status string `json:"status"`
	// Worker is the worker currently or last assigned.
	Worker string `json:"worker,omitempty"`
	// WorkDir is where the subtask operates, isolated or shared.
	WorkDir string `json:"work_dir,omitempty"`
	// Files is the manifest of files the subtask reported touching.
	Files []string `json:"files,omitempty"`
	// Commands lists key commands the subtask reported running.
	Commands []string `json:"commands,omitempty"`
	// Summary is a short description of what the subtask did.
	Summary string `json:"summary,omitempty"`
	// StartedAt is when execution began.
	StartedAt time.Time `json:"started_at,omitempty"`
	// FinishedAt is when execution reached a terminal state.
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// State is the persisted aggregate for one session.
type State struct {
	// SessionID identifies the owning session.
	SessionID string `json:"session_id"`
	// Subtasks maps subtask ID to its ledger record.
	Subtasks map[string]*SubtaskRecord `json:"subtasks"`
	// ActiveWorktrees maps subtask ID to its isolated directory.
	ActiveWorktrees map[string]string `json:"active_worktrees,omitempty"`
	// GlobalNotes is a bounded ring of cross-cutting observations.
	GlobalNotes []string `json:"global_notes,omitempty"`
	// CreatedAt is when the ledger was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the time of the last mutation.
	UpdatedAt time.Time `json:"updated_at"`
}

// Ledger is the in-process handle to a session's ledger state.
type Ledger struct {
	path  string
	state *State
	mu    sync.RWMutex
}

// New creates a ledger for the given session, persisted at path.
func New(sessionID, path string) *Ledger {
	return &Ledger{
		path: path,
		state: &State{
			SessionID:       sessionID,
			Subtasks:        make(map[string]*SubtaskRecord),
			ActiveWorktrees: make(map[string]string),
			CreatedAt:       time.Now(),
			UpdatedAt:       time.Now(),
		},
	}
}

// Load reads a previously persisted ledger from disk.
func Load(path string) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse ledger: %w", err)
	}
	if st.Subtasks == nil {
		st.Subtasks = make(map[string]*SubtaskRecord)
	}
	if st.ActiveWorktrees == nil {
		st.ActiveWorktrees = make(map[string]string)
	}
	return &Ledger{path: path, state: &st}, nil
}

// Reload replaces the in-memory state with the on-disk state. Used when
// cross-process freshness matters; the single-writer convention makes this
// safe at any point between mutations.
func (l *Ledger) Reload() error {
	fresh, err := Load(l.path)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.state = fresh.state
	l.mu.Unlock()
	return nil
}

// RecordStart marks a subtask as started on the given worker in workDir.
func (l *Ledger) RecordStart(id, worker, workDir string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := l.record(id)
	rec.Status = "in_progress"
	rec.Worker = worker
	rec.WorkDir = workDir
	rec.StartedAt = time.Now()
	return l.persistLocked()
}

// RecordCompletion marks a subtask as completed with its outcome summary,
// file manifest, and key commands.
func (l *Ledger) RecordCompletion(id, summary string, files, commands []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := l.record(id)
	rec.Status = "completed"
	rec.Summary = summary
	rec.Files = files
	rec.Commands = commands
	rec.FinishedAt = time.Now()
	return l.persistLocked()
}

// RecordFailure marks a subtask as failed with the failure reason.
func (l *Ledger) RecordFailure(id, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := l.record(id)
	rec.Status = "failed"
	rec.Summary = reason
	rec.FinishedAt = time.Now()
	return l.persistLocked()
}

// RegisterWorktree records an isolated working directory for a subtask.
func (l *Ledger) RegisterWorktree(id, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.ActiveWorktrees[id] = path
	return l.persistLocked()
}

// ReleaseWorktree removes a subtask's isolated directory registration.
func (l *Ledger) ReleaseWorktree(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.state.ActiveWorktrees, id)
	return l.persistLocked()
}

// AddGlobalNote appends a cross-cutting observation, evicting the oldest
// once the ring is full.
func (l *Ledger) AddGlobalNote(note string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.GlobalNotes = append(l.state.GlobalNotes, note)
	if len(l.state.GlobalNotes) > maxGlobalNotes {
		l.state.GlobalNotes = l.state.GlobalNotes[len(l.state.GlobalNotes)-maxGlobalNotes:]
	}
	return l.persistLocked()
}

// Snapshot returns a deep copy of the current state for read-only use.
func (l *Ledger) Snapshot() *State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cp := &State{
		SessionID:       l.state.SessionID,
		Subtasks:        make(map[string]*SubtaskRecord, len(l.state.Subtasks)),
		ActiveWorktrees: make(map[string]string, len(l.state.ActiveWorktrees)),
		GlobalNotes:     append([]string(nil), l.state.GlobalNotes...),
		CreatedAt:       l.state.CreatedAt,
		UpdatedAt:       l.state.UpdatedAt,
	}
	for id, rec := range l.state.Subtasks {
		c := *rec
		c.Files = append([]string(nil), rec.Files...)
		c.Commands = append([]string(nil), rec.Commands...)
		cp.Subtasks[id] = &c
	}
	for id, p := range l.state.ActiveWorktrees {
		cp.ActiveWorktrees[id] = p
	}
	return cp
}

// record returns the existing record for id, creating one if needed.
// Caller must hold l.mu.
func (l *Ledger) record(id string) *SubtaskRecord {
	rec, ok := l.state.Subtasks[id]
	if !ok {
		rec = &SubtaskRecord{}
		l.state.Subtasks[id] = rec
	}
	return rec
}

// persistLocked writes the state to disk. Caller must hold l.mu.
// Write errors degrade resumability but never abort orchestration, so the
// error is returned for logging only.
func (l *Ledger) persistLocked() error {
	l.state.UpdatedAt = time.Now()
	if l.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(l.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
