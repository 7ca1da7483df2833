// Package checkpoint implements shadow-git checkpointing: every successful
// tool call that touches the working tree can be committed to a separate
// (non-bare) git repo kept outside the workspace, whose git dir is driven
// with the workspace as its work tree, so a session can later reset the tree back to
// a pre-turn state without the user's own git history ever seeing a commit.
package checkpoint

import (
	"crypto/sha256"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// Manager drives one shadow repository for a given working directory.
type Manager struct {
	cwd        string
	shadowPath string
	mu         sync.Mutex
}

// New returns a Manager whose shadow repo lives under shadowBaseDir, keyed
// by a hash of cwd so distinct workspaces never collide.
func New(cwd, shadowBaseDir string) *Manager {
	h := sha256.Sum256([]byte(cwd))
	return &Manager{
		cwd:        cwd,
		shadowPath: filepath.Join(shadowBaseDir, fmt.Sprintf("shadow-%x", h[:8])),
	}
}

func (m *Manager) gitDir() string {
	return filepath.Join(m.shadowPath, ".git")
}

// Init creates the shadow repo if it doesn't already exist. Safe to call on
// every session start.
func (m *Manager) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.shadowPath, 0755); err != nil {
		return fmt.Errorf("create shadow dir: %w", err)
	}

	if _, err := os.Stat(m.gitDir()); os.IsNotExist(err) {
		cmd := exec.Command("git", "init")
		cmd.Dir = m.shadowPath
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("git init: %s: %w", out, err)
		}
		exec.Command("git", "--git-dir="+m.gitDir(), "config", "core.fileMode", "false").Run()
	}
	return nil
}

// Commit snapshots the working tree into the shadow repo and returns the
// resulting commit hash. Always allow-empty, since a turn that touched the
// tree but left no net diff (e.g. a revert) is still worth a checkpoint.
func (m *Manager) Commit(message string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	add := exec.Command("git", "--git-dir="+m.gitDir(), "--work-tree="+m.cwd, "add", ".")
	if out, err := add.CombinedOutput(); err != nil {
		return "", fmt.Errorf("git add: %s: %w", out, err)
	}

	commit := exec.Command("git", "--git-dir="+m.gitDir(), "--work-tree="+m.cwd, "commit", "-m", message, "--allow-empty")
	if out, err := commit.CombinedOutput(); err != nil {
		return "", fmt.Errorf("git commit: %s: %w", out, err)
	}

	rev := exec.Command("git", "--git-dir="+m.gitDir(), "rev-parse", "HEAD")
	out, err := rev.Output()
	if err != nil {
		return "", fmt.Errorf("rev-parse HEAD: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Restore hard-resets the working tree to ref (a commit hash or something
// like "HEAD~1") and removes untracked files, undoing everything since.
func (m *Manager) Restore(ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reset := exec.Command("git", "--git-dir="+m.gitDir(), "--work-tree="+m.cwd, "reset", "--hard", ref)
	if out, err := reset.CombinedOutput(); err != nil {
		return fmt.Errorf("git reset: %s: %w", out, err)
	}
	clean := exec.Command("git", "--git-dir="+m.gitDir(), "--work-tree="+m.cwd, "clean", "-fd")
	if out, err := clean.CombinedOutput(); err != nil {
		return fmt.Errorf("git clean: %s: %w", out, err)
	}
	return nil
}

// Log returns up to n recent commit hashes, most recent first. Used by the
// undo command to find the checkpoint before the most recent one.
func (m *Manager) Log(n int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out, err := exec.Command("git", "--git-dir="+m.gitDir(), "log", fmt.Sprintf("-%d", n), "--format=%H").Output()
	if err != nil {
		return nil, fmt.Errorf("git log: %w", err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}
	return lines, nil
}
