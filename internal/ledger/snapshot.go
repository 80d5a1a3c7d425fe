package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SnapshotOptions controls how much of the directory tree a snapshot walks.
type SnapshotOptions struct {
	// MaxDepth limits how deep the walk descends. Zero means DefaultMaxDepth.
	MaxDepth int
	// MaxEntries caps the total number of listed entries. Zero means
	// DefaultMaxEntries.
	MaxEntries int
	// SkipDirs are directory names never descended into.
	SkipDirs []string
}

const (
	// DefaultMaxDepth is the default snapshot depth limit.
	DefaultMaxDepth = 4
	// DefaultMaxEntries is the default snapshot entry cap.
	DefaultMaxEntries = 400
)

// defaultSkipDirs are build, vendor, and cache directories that add noise
// without situational value.
var defaultSkipDirs = []string{
	".git", "node_modules", "vendor", "dist", "build", "target",
	".cache", "__pycache__", ".venv", ".next",
}

// SnapshotDirectory walks the directory tree rooted at root and renders an
// indented listing for the subagent briefing. It is called immediately
// before each subtask starts and never cached across subtasks: correctness
// depends on the listing reflecting work just completed by siblings.
func SnapshotDirectory(root string, opts SnapshotOptions) (string, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	skip := make(map[string]bool)
	for _, d := range defaultSkipDirs {
		skip[d] = true
	}
	for _, d := range opts.SkipDirs {
		skip[d] = true
	}

	var sb strings.Builder
	entries := 0
	truncated := false

	var walk func(dir string, depth int) error
	walk = func(dir string, depth int) error {
		if depth > opts.MaxDepth || truncated {
			return nil
		}
		items, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, item := range items {
			if entries >= opts.MaxEntries {
				truncated = true
				return nil
			}
			name := item.Name()
			if item.IsDir() && skip[name] {
				continue
			}
			indent := strings.Repeat("  ", depth)
			if item.IsDir() {
				sb.WriteString(fmt.Sprintf("%s%s/\n", indent, name))
				entries++
				if err := walk(filepath.Join(dir, name), depth+1); err != nil {
					return err
				}
			} else {
				sb.WriteString(fmt.Sprintf("%s%s\n", indent, name))
				entries++
			}
		}
		return nil
	}

	if err := walk(root, 0); err != nil {
		return "", fmt.Errorf("snapshot %s: %w", root, err)
	}
	if truncated {
		sb.WriteString("... (listing truncated)\n")
	}
	return sb.String(), nil
}
