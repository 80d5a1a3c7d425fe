// Package isolation gives each concurrent subtask a private copy of the
// session working directory and merges the copies back one at a time.
package isolation

import (
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// skipNames are directory names never copied into an isolate.
var skipNames = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"__pycache__":  true,
	"target":       true,
	"dist":         true,
}

// Isolate is one subtask's private working-directory copy.
type Isolate struct {
	// SubtaskID owns the isolate.
	SubtaskID string
	// Path is the isolate's root directory.
	Path string
	// CreatedAt is when the copy was taken.
	CreatedAt time.Time

	// baseline maps each relative file path to its content hash at copy
	// time. Merge uses it to tell "isolate changed it" from "someone
	// else changed it".
	baseline map[string]string
}

// MergeResult reports the outcome of merging one isolate back.
type MergeResult struct {
	// SubtaskID is the isolate that was merged.
	SubtaskID string
	// MergedPaths lists the relative paths written back to the base.
	MergedPaths []string
	// ConflictingPaths lists paths changed both in the isolate and in
	// the base since the copy was taken.
	ConflictingPaths []string
	// Err is non-nil when the merge failed.
	Err error
}

// Manager creates and merges isolates for one session.
type Manager struct {
	baseDir string // session working directory, the merge target
	root    string // directory holding the isolates

	mu       sync.Mutex
	isolates map[string]*Isolate
}

// NewManager creates a Manager. baseDir is the session working directory;
// isolates live under root (defaults to <baseDir>/.flotilla/isolates).
func NewManager(baseDir, root string) (*Manager, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if root == "" {
		root = filepath.Join(baseDir, ".flotilla", "isolates")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create isolate root: %w", err)
	}
	return &Manager{
		baseDir:  baseDir,
		root:     root,
		isolates: make(map[string]*Isolate),
	}, nil
}

// CreateIsolatedCopy copies the base directory into a fresh isolate for
// the subtask and returns the isolate's path.
func (m *Manager) CreateIsolatedCopy(id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.isolates[id]; exists {
		return "", fmt.Errorf("isolate already exists for %s", id)
	}

	path := filepath.Join(m.root, id)
	if err := os.RemoveAll(path); err != nil {
		return "", fmt.Errorf("clear stale isolate: %w", err)
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", fmt.Errorf("create isolate: %w", err)
	}

	baseline := make(map[string]string)
	err := walkFiles(m.baseDir, func(rel string, info fs.FileInfo) error {
		src := filepath.Join(m.baseDir, rel)
		dst := filepath.Join(path, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return err
		}
		hash, err := copyAndHash(src, dst, info.Mode())
		if err != nil {
			return err
		}
		baseline[rel] = hash
		return nil
	})
	if err != nil {
		os.RemoveAll(path)
		return "", fmt.Errorf("copy into isolate: %w", err)
	}

	m.isolates[id] = &Isolate{
		SubtaskID: id,
		Path:      path,
		CreatedAt: time.Now(),
		baseline:  baseline,
	}
	return path, nil
}

// MergeSequentially merges the named isolates back into the base
// directory strictly in order. A conflict on one isolate stops that
// isolate's merge but never the others. Merged isolates are removed.
func (m *Manager) MergeSequentially(ids []string) []MergeResult {
	results := make([]MergeResult, 0, len(ids))
	for _, id := range ids {
		results = append(results, m.mergeOne(id))
	}
	return results
}

func (m *Manager) mergeOne(id string) MergeResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := MergeResult{SubtaskID: id}
	iso, ok := m.isolates[id]
	if !ok {
		res.Err = fmt.Errorf("no isolate for %s", id)
		return res
	}

	changed, err := m.changedFiles(iso)
	if err != nil {
		res.Err = fmt.Errorf("scan isolate: %w", err)
		return res
	}

	// Detect every conflict before writing anything, so a conflicted
	// merge leaves the base directory untouched.
	for _, rel := range changed {
		baseHash, err := hashIfExists(filepath.Join(m.baseDir, rel))
		if err != nil {
			res.Err = fmt.Errorf("hash base file %s: %w", rel, err)
			return res
		}
		if baseHash != iso.baseline[rel] {
			res.ConflictingPaths = append(res.ConflictingPaths, rel)
		}
	}
	if len(res.ConflictingPaths) > 0 {
		res.Err = fmt.Errorf("%d files changed concurrently in the base directory", len(res.ConflictingPaths))
		return res
	}

	for _, rel := range changed {
		src := filepath.Join(iso.Path, rel)
		dst := filepath.Join(m.baseDir, rel)
		info, err := os.Stat(src)
		if err != nil {
			res.Err = fmt.Errorf("stat %s: %w", rel, err)
			return res
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			res.Err = fmt.Errorf("prepare %s: %w", rel, err)
			return res
		}
		if _, err := copyAndHash(src, dst, info.Mode()); err != nil {
			res.Err = fmt.Errorf("write back %s: %w", rel, err)
			return res
		}
		res.MergedPaths = append(res.MergedPaths, rel)
	}

	os.RemoveAll(iso.Path)
	delete(m.isolates, id)
	return res
}

// Discard removes an isolate without merging it.
func (m *Manager) Discard(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	iso, ok := m.isolates[id]
	if !ok {
		return nil
	}
	delete(m.isolates, id)
	return os.RemoveAll(iso.Path)
}

// CleanupOrphans removes isolate directories on disk that no live
// isolate owns, e.g. leftovers from a crashed session. It returns the
// number removed.
func (m *Manager) CleanupOrphans() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, live := m.isolates[e.Name()]; live {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.root, e.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// changedFiles returns the relative paths whose content in the isolate
// differs from the baseline, plus files created in the isolate. Sorted
// for deterministic merge order.
func (m *Manager) changedFiles(iso *Isolate) ([]string, error) {
	var changed []string
	err := walkFiles(iso.Path, func(rel string, _ fs.FileInfo) error {
		hash, err := hashFile(filepath.Join(iso.Path, rel))
		if err != nil {
			return err
		}
		if base, known := iso.baseline[rel]; !known || base != hash {
			changed = append(changed, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(changed)
	return changed, nil
}

// walkFiles visits every regular file under root with its root-relative
// path, skipping the usual heavyweight directories and the isolate root
// itself.
func walkFiles(root string, fn func(rel string, info fs.FileInfo) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return rerr
		}
		if d.IsDir() {
			if rel == "." {
				return nil
			}
			if skipNames[d.Name()] || strings.HasPrefix(d.Name(), ".flotilla") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return ierr
		}
		return fn(rel, info)
	})
}

func copyAndHash(src, dst string, mode fs.FileMode) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return "", err
	}

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(out, h), in); err != nil {
		out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// hashIfExists hashes a file, returning "" for a file that does not
// exist so a new file hashes equal to an absent baseline entry.
func hashIfExists(path string) (string, error) {
	hash, err := hashFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	return hash, err
}
