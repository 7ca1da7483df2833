// Package toolexec implements the concrete tool collaborators the turn loop
// dispatches function calls to: subprocess shell execution, patch
// application, and (by wrapping internal/mcp) MCP tool invocation.
package toolexec

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/codex-core/codex/internal/protocol"
)

// interactiveCommands names binaries that behave differently (prompts,
// progress bars, line buffering) depending on whether they see a real
// terminal. The exec tool runs these through a pty instead of plain pipes so
// the model-invoked subprocess gets the terminal semantics it expects.
var interactiveCommands = map[string]bool{
	"python": true, "python3": true, "node": true, "irb": true,
	"psql": true, "mysql": true, "sqlite3": true, "redis-cli": true,
}

func isInteractiveHint(argv []string) bool {
	if len(argv) == 0 {
		return false
	}
	return interactiveCommands[filepath.Base(argv[0])]
}

// Shell runs argv via os/exec. The sandbox argument is currently advisory:
// platform seatbelt/seccomp confinement is a deployment-specific concern
// layered in front of this collaborator (e.g. a wrapper binary invoked in
// argv[0]'s place); this implementation always runs the command directly
// but still honors the caller-supplied timeout and cwd.
type Shell struct {
	// Timeout bounds how long a single command may run; zero means
	// unbounded, matching spec §5's "subprocess: caller-supplied; unbounded
	// default".
	Timeout time.Duration
}

func NewShell() *Shell {
	return &Shell{}
}

func (s *Shell) Exec(ctx context.Context, argv []string, cwd string, sandbox protocol.SandboxType) (stdout, stderr string, exitCode int, err error) {
	if len(argv) == 0 {
		return "", "", -1, errEmptyCommand
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if s.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	if isInteractiveHint(argv) {
		return s.execViaPty(runCtx, argv, cwd)
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = cwd

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	stdout, stderr = outBuf.String(), errBuf.String()

	if runErr == nil {
		return stdout, stderr, 0, nil
	}

	if exitErr, ok := runErr.(*exec.ExitError); ok {
		code := exitErr.ExitCode()
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && runtime.GOOS != "windows" && status.Signaled() {
			return stdout, stderr, -1, runErr
		}
		return stdout, stderr, code, nil
	}

	return stdout, stderr, -1, runErr
}

// execViaPty runs argv under a pseudo-terminal. A pty multiplexes stdout and
// stderr onto one stream, so stderr is always returned empty here; callers
// get the combined output in stdout.
func (s *Shell) execViaPty(ctx context.Context, argv []string, cwd string) (stdout, stderr string, exitCode int, err error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = cwd

	ptmx, startErr := pty.Start(cmd)
	if startErr != nil {
		return "", "", -1, startErr
	}
	defer ptmx.Close()

	var buf bytes.Buffer
	copyDone := make(chan struct{})
	go func() {
		io.Copy(&buf, ptmx)
		close(copyDone)
	}()

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var runErr error
	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		<-waitErr
		runErr = ctx.Err()
	case runErr = <-waitErr:
	}
	<-copyDone

	output := buf.String()
	if runErr == nil {
		return output, "", 0, nil
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		return output, "", exitErr.ExitCode(), nil
	}
	return output, "", -1, runErr
}

type emptyCommandError struct{}

func (emptyCommandError) Error() string { return "toolexec: empty command" }

var errEmptyCommand = emptyCommandError{}
