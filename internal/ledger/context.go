package ledger

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// BuildSubagentContext renders the full situational briefing for a subtask
// about to start: a live directory listing, what siblings have completed
// and which files they touched, who is running right now and where, active
// isolated directories, and what work is still pending. Emitted once, at
// subtask start; mid-execution updates use BuildMidRoundRefresh.
func (l *Ledger) BuildSubagentContext(forID, freshSnapshot string) string {
	st := l.Snapshot()

	var sb strings.Builder
	sb.WriteString("## Session state\n\n")

	if freshSnapshot != "" {
		sb.WriteString("### Current directory tree\n")
		sb.WriteString(freshSnapshot)
		sb.WriteString("\n")
	}

	completed := idsWithStatus(st, "completed")
	if len(completed) > 0 {
		sb.WriteString("### Completed subtasks (do not repeat this work)\n")
		for _, id := range completed {
			rec := st.Subtasks[id]
			sb.WriteString(fmt.Sprintf("- %s: %s\n", id, rec.Summary))
			if len(rec.Files) > 0 {
				sb.WriteString(fmt.Sprintf("  files: %s\n", strings.Join(rec.Files, ", ")))
			}
			if len(rec.Commands) > 0 {
				sb.WriteString(fmt.Sprintf("  commands: %s\n", strings.Join(rec.Commands, "; ")))
			}
		}
		sb.WriteString("\n")
	}

	running := idsWithStatus(st, "in_progress")
	var siblings []string
	for _, id := range running {
		if id != forID {
			siblings = append(siblings, id)
		}
	}
	if len(siblings) > 0 {
		sb.WriteString("### Running in parallel (avoid their files)\n")
		for _, id := range siblings {
			rec := st.Subtasks[id]
			sb.WriteString(fmt.Sprintf("- %s in %s\n", id, rec.WorkDir))
		}
		sb.WriteString("\n")
	}

	if len(st.ActiveWorktrees) > 0 {
		sb.WriteString("### Active isolated directories\n")
		for _, id := range sortedKeys(st.ActiveWorktrees) {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", id, st.ActiveWorktrees[id]))
		}
		sb.WriteString("\n")
	}

	pending := idsWithStatus(st, "")
	if len(pending) > 0 {
		sb.WriteString("### Pending subtasks (upcoming)\n")
		sb.WriteString(strings.Join(pending, ", "))
		sb.WriteString("\n\n")
	}

	if len(st.GlobalNotes) > 0 {
		sb.WriteString("### Session notes\n")
		for _, note := range st.GlobalNotes {
			sb.WriteString("- " + note + "\n")
		}
		sb.WriteString("\n")
	}

	if rec, ok := st.Subtasks[forID]; ok && rec.WorkDir != "" {
		sb.WriteString(fmt.Sprintf("### Your working directory\n%s\n", rec.WorkDir))
	}

	return sb.String()
}

// BuildMidRoundRefresh renders a compact delta for a long-running subtask:
// only what finished, started, or failed since the caller began, plus a
// conflict warning when a completed sibling touched the caller's own
// working directory. Sent between tool-use rounds so parallel siblings
// stay mutually aware without re-sending the full briefing.
func (l *Ledger) BuildMidRoundRefresh(forID string, since time.Time) string {
	st := l.Snapshot()

	var started, finished, failed []string
	for _, id := range sortedRecordIDs(st) {
		if id == forID {
			continue
		}
		rec := st.Subtasks[id]
		switch rec.Status {
		case "in_progress":
			if rec.StartedAt.After(since) {
				started = append(started, id)
			}
		case "completed":
			if rec.FinishedAt.After(since) {
				finished = append(finished, fmt.Sprintf("%s (%s)", id, rec.Summary))
			}
		case "failed":
			if rec.FinishedAt.After(since) {
				failed = append(failed, id)
			}
		}
	}

	if len(started) == 0 && len(finished) == 0 && len(failed) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Update from the orchestrator\n")
	if len(finished) > 0 {
		sb.WriteString("Completed since you started: " + strings.Join(finished, "; ") + "\n")
	}
	if len(started) > 0 {
		sb.WriteString("Now running in parallel: " + strings.Join(started, ", ") + "\n")
	}
	if len(failed) > 0 {
		sb.WriteString("Failed: " + strings.Join(failed, ", ") + "\n")
	}

	if warning := l.conflictWarning(st, forID, since); warning != "" {
		sb.WriteString(warning)
	}
	return sb.String()
}

// conflictWarning reports when a sibling that completed after `since`
// touched files under the caller's working directory. Workers report
// file paths relative to their own working directory, so each path is
// resolved against the sibling's WorkDir before comparing.
func (l *Ledger) conflictWarning(st *State, forID string, since time.Time) string {
	own, ok := st.Subtasks[forID]
	if !ok || own.WorkDir == "" {
		return ""
	}
	for _, id := range sortedRecordIDs(st) {
		if id == forID {
			continue
		}
		rec := st.Subtasks[id]
		if rec.Status != "completed" || !rec.FinishedAt.After(since) {
			continue
		}
		for _, f := range rec.Files {
			path := f
			if !filepath.IsAbs(path) && rec.WorkDir != "" {
				path = filepath.Join(rec.WorkDir, f)
			}
			if underDir(path, own.WorkDir) {
				return fmt.Sprintf("WARNING: subtask %s modified %s inside your working area; re-read before editing.\n", id, f)
			}
		}
	}
	return ""
}

// underDir reports whether path is dir or lies beneath it.
func underDir(path, dir string) bool {
	path = filepath.Clean(path)
	dir = filepath.Clean(dir)
	if path == dir {
		return true
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}

// idsWithStatus returns subtask IDs with the given ledger status, sorted.
// An empty status matches records that have not started.
func idsWithStatus(st *State, status string) []string {
	var out []string
	for id, rec := range st.Subtasks {
		if status == "" {
			if rec.Status == "" || rec.Status == "pending" {
				out = append(out, id)
			}
		} else if rec.Status == status {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func sortedRecordIDs(st *State) []string {
	ids := make([]string, 0, len(st.Subtasks))
	for id := range st.Subtasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
