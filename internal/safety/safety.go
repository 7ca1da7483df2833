// Package safety implements the pure, side-effect-free command and patch
// safety evaluator: given an approval policy, a sandbox policy, and (for
// commands) a set of prior per-session approvals, it decides whether a
// model-proposed action may run unattended, must be confined to a sandbox,
// needs the user's sign-off, or is rejected outright.
package safety

import (
	"path/filepath"
	"strings"

	"github.com/codex-core/codex/internal/protocol"
)

// Verdict is the outcome of a safety check.
type Verdict string

const (
	VerdictAutoApprove Verdict = "auto_approve"
	VerdictAskUser     Verdict = "ask_user"
	VerdictReject      Verdict = "reject"
)

// Check is the result returned by AssessCommandSafety / AssessPatchSafety.
type Check struct {
	Verdict     Verdict
	SandboxType protocol.SandboxType // only meaningful when Verdict == VerdictAutoApprove
	Reason      string               // only meaningful when Verdict == VerdictReject
}

func autoApprove(sandbox protocol.SandboxType) Check {
	return Check{Verdict: VerdictAutoApprove, SandboxType: sandbox}
}

func askUser() Check {
	return Check{Verdict: VerdictAskUser}
}

func reject(reason string) Check {
	return Check{Verdict: VerdictReject, Reason: reason}
}

// safeCommands are read-only shell primitives considered trusted by
// default, regardless of approval policy.
var safeCommands = map[string]bool{
	"ls": true, "cat": true, "head": true, "tail": true, "wc": true,
	"find": true, "grep": true, "rg": true, "awk": true, "sed": true, "sort": true,
	"pwd": true, "whoami": true, "date": true, "echo": true,
	"which": true, "type": true, "file": true, "stat": true,
	"true": true, "false": true, "nproc": true, "uname": true,
}

// IsKnownSafeCommand reports whether argv's program (ignoring a leading
// path, e.g. "/usr/bin/ls" -> "ls") is on the built-in safe list. Only a
// small, fixed set of read-only subcommands for git/go are additionally
// trusted; anything else routes through the approval policy.
func IsKnownSafeCommand(argv []string) bool {
	if len(argv) == 0 {
		return false
	}
	name := filepath.Base(argv[0])
	if safeCommands[name] {
		return true
	}
	switch name {
	case "git":
		return len(argv) > 1 && (argv[1] == "status" || argv[1] == "diff" || argv[1] == "log" || argv[1] == "show")
	case "go":
		return len(argv) > 1 && (argv[1] == "vet" || argv[1] == "build" || argv[1] == "test")
	}
	return false
}

// ApprovedSet is the per-session set of commands the user has approved with
// ReviewApprovedForSession, keyed by the argv joined on NUL (ArgvKey) so
// distinct arguments never collide.
type ApprovedSet map[string]struct{}

func ArgvKey(argv []string) string {
	return strings.Join(argv, "\x00")
}

func (s ApprovedSet) Contains(argv []string) bool {
	_, ok := s[ArgvKey(argv)]
	return ok
}

func (s ApprovedSet) Add(argv []string) {
	s[ArgvKey(argv)] = struct{}{}
}

// AssessCommandSafety decides whether argv may run, and under what sandbox,
// given the session's approval and sandbox policy plus any prior
// per-session approvals. It is pure: no I/O, no mutation of approved.
func AssessCommandSafety(argv []string, approvalPolicy protocol.ApprovalPolicy, sandboxPolicy protocol.SandboxPolicy, approved ApprovedSet) Check {
	if IsKnownSafeCommand(argv) || approved.Contains(argv) {
		return autoApprove(protocol.SandboxTypeNone)
	}

	switch approvalPolicy {
	case protocol.ApprovalUnlessTrusted:
		// Even DangerFullAccess does not skip the user here: the policy
		// explicitly asked to be consulted about untrusted commands.
		return askUser()

	case protocol.ApprovalOnFailure, protocol.ApprovalNever:
		if sandboxPolicy.Mode == protocol.SandboxDangerFullAccess {
			return autoApprove(protocol.SandboxTypeNone)
		}
		// ReadOnly or WorkspaceWrite: try to confine in a platform sandbox.
		if sandboxType, ok := protocol.PlatformSandbox(); ok {
			return autoApprove(sandboxType)
		}
		if approvalPolicy == protocol.ApprovalOnFailure {
			// No sandbox available, command isn't trusted: fall back to
			// asking, since we can't auto-run it safely.
			return askUser()
		}
		return reject("auto-rejected because command is not on trusted list")

	default:
		return askUser()
	}
}

// AssessPatchSafety decides whether a patch may be applied unattended,
// given the writable roots in effect for the session.
func AssessPatchSafety(patch protocol.PatchAction, approvalPolicy protocol.ApprovalPolicy, writableRoots []string, cwd string) Check {
	if patch.IsEmpty() {
		return reject("empty patch")
	}

	switch approvalPolicy {
	case protocol.ApprovalUnlessTrusted:
		return askUser()
	case protocol.ApprovalOnFailure, protocol.ApprovalNever:
		// fall through to the writable-roots check below
	default:
		return askUser()
	}

	if isPatchConstrainedToWritablePaths(patch, writableRoots, cwd) {
		return autoApprove(protocol.SandboxTypeNone)
	}

	switch approvalPolicy {
	case protocol.ApprovalOnFailure:
		if sandboxType, ok := protocol.PlatformSandbox(); ok {
			return autoApprove(sandboxType)
		}
		return askUser()
	case protocol.ApprovalNever:
		return reject("writing outside of the project; rejected by user approval settings")
	default:
		return askUser()
	}
}

// isPatchConstrainedToWritablePaths reports whether every path touched by
// patch (both sides of an update/rename) lies under some writable root,
// after normalizing "."/".." components without touching the filesystem.
func isPatchConstrainedToWritablePaths(patch protocol.PatchAction, writableRoots []string, cwd string) bool {
	if len(writableRoots) == 0 {
		return false
	}

	normalizedRoots := make([]string, len(writableRoots))
	for i, root := range writableRoots {
		normalizedRoots[i] = protocol.NormalizeAbs(root, cwd)
	}

	isWritable := func(path string) bool {
		abs := protocol.NormalizeAbs(path, cwd)
		for _, root := range normalizedRoots {
			if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
				return true
			}
		}
		return false
	}

	for path, change := range patch.Changes {
		if !isWritable(path) {
			return false
		}
		if change.Kind == protocol.FileChangeUpdate && change.MovePath != "" {
			if !isWritable(change.MovePath) {
				return false
			}
		}
	}

	return true
}
