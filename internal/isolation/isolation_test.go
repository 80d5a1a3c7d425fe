package isolation

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "main.go"), "package main\n")
	writeFile(t, filepath.Join(base, "docs", "readme.md"), "hello\n")
	writeFile(t, filepath.Join(base, ".git", "HEAD"), "ref: refs/heads/main\n")
	writeFile(t, filepath.Join(base, "node_modules", "pkg", "index.js"), "junk\n")

	mgr, err := NewManager(base, "")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr, base
}

func TestCreateIsolatedCopySkipsHeavyDirs(t *testing.T) {
	mgr, _ := newTestManager(t)

	path, err := mgr.CreateIsolatedCopy("task-1")
	if err != nil {
		t.Fatalf("CreateIsolatedCopy: %v", err)
	}

	if got := readFile(t, filepath.Join(path, "main.go")); got != "package main\n" {
		t.Errorf("main.go = %q", got)
	}
	if got := readFile(t, filepath.Join(path, "docs", "readme.md")); got != "hello\n" {
		t.Errorf("readme.md = %q", got)
	}
	for _, skipped := range []string{".git", "node_modules"} {
		if _, err := os.Stat(filepath.Join(path, skipped)); !os.IsNotExist(err) {
			t.Errorf("%s was copied into the isolate", skipped)
		}
	}

	if _, err := mgr.CreateIsolatedCopy("task-1"); err == nil {
		t.Error("expected duplicate-isolate error")
	}
}

func TestMergeWritesChangedAndNewFiles(t *testing.T) {
	mgr, base := newTestManager(t)

	path, err := mgr.CreateIsolatedCopy("task-1")
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(path, "main.go"), "package main\n\nfunc main() {}\n")
	writeFile(t, filepath.Join(path, "internal", "util.go"), "package internal\n")

	results := mgr.MergeSequentially([]string{"task-1"})
	if len(results) != 1 {
		t.Fatalf("got %d results", len(results))
	}
	res := results[0]
	if res.Err != nil {
		t.Fatalf("merge failed: %v", res.Err)
	}
	want := []string{"internal/util.go", "main.go"}
	if !reflect.DeepEqual(res.MergedPaths, want) {
		t.Errorf("MergedPaths = %v, want %v", res.MergedPaths, want)
	}

	if got := readFile(t, filepath.Join(base, "main.go")); !strings.Contains(got, "func main()") {
		t.Errorf("base main.go not updated: %q", got)
	}
	if got := readFile(t, filepath.Join(base, "internal", "util.go")); got != "package internal\n" {
		t.Errorf("new file not written back: %q", got)
	}
	// Untouched base files stay as they were.
	if got := readFile(t, filepath.Join(base, "docs", "readme.md")); got != "hello\n" {
		t.Errorf("readme.md changed: %q", got)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("isolate directory not removed after merge")
	}
}

func TestMergeConflictLeavesBaseUntouched(t *testing.T) {
	mgr, base := newTestManager(t)

	path, err := mgr.CreateIsolatedCopy("task-1")
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(path, "main.go"), "package main // isolate edit\n")
	writeFile(t, filepath.Join(path, "new.go"), "package main\n")

	// The base changes underneath the isolate before the merge.
	writeFile(t, filepath.Join(base, "main.go"), "package main // base edit\n")

	res := mgr.MergeSequentially([]string{"task-1"})[0]
	if res.Err == nil {
		t.Fatal("expected conflict error")
	}
	if !reflect.DeepEqual(res.ConflictingPaths, []string{"main.go"}) {
		t.Errorf("ConflictingPaths = %v", res.ConflictingPaths)
	}
	if len(res.MergedPaths) != 0 {
		t.Errorf("MergedPaths = %v, want none", res.MergedPaths)
	}

	// Nothing was written, not even the conflict-free new file.
	if got := readFile(t, filepath.Join(base, "main.go")); got != "package main // base edit\n" {
		t.Errorf("base main.go overwritten: %q", got)
	}
	if _, err := os.Stat(filepath.Join(base, "new.go")); !os.IsNotExist(err) {
		t.Error("new.go written despite conflicted merge")
	}
}

func TestMergeNewFileDoesNotConflict(t *testing.T) {
	mgr, base := newTestManager(t)

	path, err := mgr.CreateIsolatedCopy("task-1")
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(path, "added.go"), "package main\n")

	res := mgr.MergeSequentially([]string{"task-1"})[0]
	if res.Err != nil {
		t.Fatalf("merge failed: %v", res.Err)
	}
	if !reflect.DeepEqual(res.MergedPaths, []string{"added.go"}) {
		t.Errorf("MergedPaths = %v", res.MergedPaths)
	}
	if got := readFile(t, filepath.Join(base, "added.go")); got != "package main\n" {
		t.Errorf("added.go = %q", got)
	}
}

func TestSequentialMergesSeeEarlierWrites(t *testing.T) {
	mgr, base := newTestManager(t)

	p1, err := mgr.CreateIsolatedCopy("task-1")
	if err != nil {
		t.Fatal(err)
	}
	p2, err := mgr.CreateIsolatedCopy("task-2")
	if err != nil {
		t.Fatal(err)
	}
	// The two isolates touch disjoint files.
	writeFile(t, filepath.Join(p1, "one.go"), "package main\n")
	writeFile(t, filepath.Join(p2, "two.go"), "package main\n")

	results := mgr.MergeSequentially([]string{"task-1", "task-2"})
	for _, res := range results {
		if res.Err != nil {
			t.Fatalf("merge %s: %v", res.SubtaskID, res.Err)
		}
	}
	if _, err := os.Stat(filepath.Join(base, "one.go")); err != nil {
		t.Error("one.go missing after merge")
	}
	if _, err := os.Stat(filepath.Join(base, "two.go")); err != nil {
		t.Error("two.go missing after merge")
	}
}

func TestSequentialMergeConflictIsIsolatedPerSubtask(t *testing.T) {
	mgr, base := newTestManager(t)

	p1, err := mgr.CreateIsolatedCopy("task-1")
	if err != nil {
		t.Fatal(err)
	}
	p2, err := mgr.CreateIsolatedCopy("task-2")
	if err != nil {
		t.Fatal(err)
	}
	// Both edit the same file; the first merge wins and the second
	// becomes a conflict against the updated base.
	writeFile(t, filepath.Join(p1, "main.go"), "package main // from task-1\n")
	writeFile(t, filepath.Join(p2, "main.go"), "package main // from task-2\n")

	results := mgr.MergeSequentially([]string{"task-1", "task-2"})
	if results[0].Err != nil {
		t.Fatalf("first merge failed: %v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Fatal("second merge should conflict")
	}
	if got := readFile(t, filepath.Join(base, "main.go")); got != "package main // from task-1\n" {
		t.Errorf("base main.go = %q", got)
	}
}

func TestDiscard(t *testing.T) {
	mgr, _ := newTestManager(t)

	path, err := mgr.CreateIsolatedCopy("task-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.Discard("task-1"); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("isolate directory still present after discard")
	}
	// Discarding an unknown isolate is a no-op.
	if err := mgr.Discard("task-1"); err != nil {
		t.Errorf("repeat Discard: %v", err)
	}
}

func TestCleanupOrphans(t *testing.T) {
	mgr, base := newTestManager(t)

	if _, err := mgr.CreateIsolatedCopy("task-live"); err != nil {
		t.Fatal(err)
	}
	orphan := filepath.Join(base, ".flotilla", "isolates", "task-dead")
	writeFile(t, filepath.Join(orphan, "stale.go"), "package main\n")

	removed, err := mgr.CleanupOrphans()
	if err != nil {
		t.Fatalf("CleanupOrphans: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Error("orphan directory survived cleanup")
	}
	live := filepath.Join(base, ".flotilla", "isolates", "task-live")
	if _, err := os.Stat(live); err != nil {
		t.Error("live isolate removed by cleanup")
	}
}
