package checkpoint

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func skipIfNoGit(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func TestCommitAndRestore(t *testing.T) {
	skipIfNoGit(t)

	cwd := t.TempDir()
	shadowDir := t.TempDir()
	path := filepath.Join(cwd, "file.txt")

	m := New(cwd, shadowDir)
	if err := m.Init(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("v1"), 0644); err != nil {
		t.Fatal(err)
	}
	first, err := m.Commit("checkpoint 1")
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("v2"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Commit("checkpoint 2"); err != nil {
		t.Fatal(err)
	}

	if err := m.Restore(first); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v1" {
		t.Fatalf("expected v1 after restore, got %q", got)
	}
}

func TestLogReturnsRecentHashesMostRecentFirst(t *testing.T) {
	skipIfNoGit(t)

	cwd := t.TempDir()
	shadowDir := t.TempDir()
	m := New(cwd, shadowDir)
	if err := m.Init(); err != nil {
		t.Fatal(err)
	}

	first, err := m.Commit("checkpoint 1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.Commit("checkpoint 2")
	if err != nil {
		t.Fatal(err)
	}

	hashes, err := m.Log(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hashes) != 2 || hashes[0] != second || hashes[1] != first {
		t.Fatalf("got %v, want [%s %s]", hashes, second, first)
	}
}
