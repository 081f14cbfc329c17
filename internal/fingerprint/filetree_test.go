package fingerprint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gobwas/glob"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWalkerComputeMatchesGlobAndExcludesGitignore(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "main.go"), "package main")
	writeFile(t, filepath.Join(dir, "src", "main.go.bak"), "stale")
	writeFile(t, filepath.Join(dir, "dist", "bundle.go"), "ignored build output")
	writeFile(t, filepath.Join(dir, ".gitignore"), "dist/\n")

	w := &Walker{}
	root, err := w.Compute(dir, []string{"**/*.go"})
	if err != nil {
		t.Fatal(err)
	}
	if root.IsZero() {
		t.Error("expected a non-zero root for a non-empty matched set")
	}

	ignorer, err := loadGitignore(dir)
	if err != nil {
		t.Fatal(err)
	}
	matches, err := w.collectMatches(dir, compileAll(t, []string{"**/*.go"}), ignorer)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0] != "src/main.go" {
		t.Errorf("expected exactly [src/main.go], got %v", matches)
	}
}

func TestWalkerComputeIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "hello")
	writeFile(t, filepath.Join(dir, "nested", "b.txt"), "world")

	w := &Walker{}
	d1, err := w.Compute(dir, []string{"**/*.txt"})
	if err != nil {
		t.Fatal(err)
	}
	d2, err := w.Compute(dir, []string{"**/*.txt"})
	if err != nil {
		t.Fatal(err)
	}
	if d1 != d2 {
		t.Error("expected repeated Compute calls over an unchanged tree to agree")
	}
}

func TestWalkerComputeChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a.txt")
	writeFile(t, target, "hello")

	w := &Walker{}
	before, err := w.Compute(dir, []string{"**/*.txt"})
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, target, "hello, world")
	after, err := w.Compute(dir, []string{"**/*.txt"})
	if err != nil {
		t.Fatal(err)
	}

	if before == after {
		t.Error("expected a content change to change the digest")
	}
}

func TestWalkerFollowsSymlinkedDirectories(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	writeFile(t, filepath.Join(real, "f.go"), "package real")

	link := filepath.Join(dir, "linked")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlinks unsupported in this environment: %s", err)
	}

	w := &Walker{}
	matches, err := w.collectMatches(dir, compileAll(t, []string{"**/*.go"}), nil)
	if err != nil {
		t.Fatal(err)
	}

	found := map[string]bool{}
	for _, m := range matches {
		found[m] = true
	}
	if !found["real/f.go"] {
		t.Error("expected to match the file through its real path")
	}
	if !found["linked/f.go"] {
		t.Error("expected godirwalk to follow the symlinked directory and match the file through it too")
	}
}

func TestWalkerRejectsSymlinkCycle(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	cycle := filepath.Join(sub, "back-to-root")
	if err := os.Symlink(dir, cycle); err != nil {
		t.Skipf("symlinks unsupported in this environment: %s", err)
	}

	w := &Walker{}
	_, err := w.collectMatches(dir, compileAll(t, []string{"**/*"}), nil)
	if err == nil {
		t.Fatal("expected a symlink cycle to be rejected")
	}
	if _, ok := err.(*ErrSymlinkCycle); !ok {
		t.Errorf("expected *ErrSymlinkCycle, got %T: %v", err, err)
	}
}

func compileAll(t *testing.T, patterns []string) []glob.Glob {
	t.Helper()
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, g)
	}
	return out
}
