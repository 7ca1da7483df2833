package toolexec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/codex-core/codex/internal/protocol"
)

// Patch applies a PatchAction to the filesystem: Add/Delete are handled
// directly, Update is handed to `git apply` against the unified diff so
// git's own hunk matching is reused rather than reimplemented.
type Patch struct{}

func NewPatch() *Patch {
	return &Patch{}
}

func (p *Patch) Apply(ctx context.Context, action protocol.PatchAction, cwd string) (stdout, stderr string, success bool) {
	var outBuf, errBuf strings.Builder

	for path, change := range action.Changes {
		abs := protocol.NormalizeAbs(path, cwd)

		switch change.Kind {
		case protocol.FileChangeAdd:
			if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
				fmt.Fprintf(&errBuf, "%s: mkdir: %v\n", path, err)
				return outBuf.String(), errBuf.String(), false
			}
			if err := os.WriteFile(abs, []byte(change.Content), 0o644); err != nil {
				fmt.Fprintf(&errBuf, "%s: write: %v\n", path, err)
				return outBuf.String(), errBuf.String(), false
			}
			fmt.Fprintf(&outBuf, "added %s\n", path)

		case protocol.FileChangeDelete:
			if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
				fmt.Fprintf(&errBuf, "%s: remove: %v\n", path, err)
				return outBuf.String(), errBuf.String(), false
			}
			fmt.Fprintf(&outBuf, "deleted %s\n", path)

		case protocol.FileChangeUpdate:
			if err := p.applyUnifiedDiff(ctx, cwd, change.UnifiedDiff); err != nil {
				fmt.Fprintf(&errBuf, "%s: %v\n", path, err)
				return outBuf.String(), errBuf.String(), false
			}
			if change.MovePath != "" {
				dest := protocol.NormalizeAbs(change.MovePath, cwd)
				if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
					fmt.Fprintf(&errBuf, "%s: mkdir dest: %v\n", path, err)
					return outBuf.String(), errBuf.String(), false
				}
				if err := os.Rename(abs, dest); err != nil {
					fmt.Fprintf(&errBuf, "%s: rename to %s: %v\n", path, change.MovePath, err)
					return outBuf.String(), errBuf.String(), false
				}
			}
			fmt.Fprintf(&outBuf, "updated %s\n", path)
		}
	}

	return outBuf.String(), errBuf.String(), true
}

func (p *Patch) applyUnifiedDiff(ctx context.Context, cwd, diff string) error {
	if strings.TrimSpace(diff) == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, "git", "apply", "--unsafe-paths", "-")
	cmd.Dir = cwd
	cmd.Stdin = strings.NewReader(diff)
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git apply failed: %s: %w", combined.String(), err)
	}
	return nil
}
