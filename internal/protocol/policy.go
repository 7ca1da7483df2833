package protocol

import (
	"os"
	"path/filepath"
	"runtime"
)

// ApprovalPolicy governs when the user is consulted before executing a
// model-proposed action.
type ApprovalPolicy string

const (
	ApprovalUnlessTrusted ApprovalPolicy = "untrusted"
	ApprovalOnFailure     ApprovalPolicy = "on-failure"
	ApprovalNever         ApprovalPolicy = "never"
)

// SandboxMode discriminates the SandboxPolicy tagged union.
type SandboxMode string

const (
	SandboxDangerFullAccess SandboxMode = "danger-full-access"
	SandboxReadOnly         SandboxMode = "read-only"
	SandboxWorkspaceWrite   SandboxMode = "workspace-write"
)

// SandboxPolicy is the declarative permission set in effect for a session.
// WritableRoots and NetworkAccess only apply when Mode == SandboxWorkspaceWrite.
type SandboxPolicy struct {
	Mode          SandboxMode `json:"mode"`
	WritableRoots []string    `json:"writable_roots,omitempty"`
	NetworkAccess bool        `json:"network_access,omitempty"`
}

func NewDangerFullAccessPolicy() SandboxPolicy {
	return SandboxPolicy{Mode: SandboxDangerFullAccess}
}

func NewReadOnlyPolicy() SandboxPolicy {
	return SandboxPolicy{Mode: SandboxReadOnly}
}

func NewWorkspaceWritePolicy(writableRoots []string, networkAccess bool) SandboxPolicy {
	return SandboxPolicy{
		Mode:          SandboxWorkspaceWrite,
		WritableRoots: writableRoots,
		NetworkAccess: networkAccess,
	}
}

// HasFullDiskReadAccess is true for every variant; read restriction is not
// enforced at this layer.
func (p SandboxPolicy) HasFullDiskReadAccess() bool {
	return true
}

// HasFullDiskWriteAccess is true only for DangerFullAccess.
func (p SandboxPolicy) HasFullDiskWriteAccess() bool {
	return p.Mode == SandboxDangerFullAccess
}

// HasFullNetworkAccess is true for DangerFullAccess, or for WorkspaceWrite
// when NetworkAccess is set.
func (p SandboxPolicy) HasFullNetworkAccess() bool {
	if p.Mode == SandboxDangerFullAccess {
		return true
	}
	return p.Mode == SandboxWorkspaceWrite && p.NetworkAccess
}

// WritableRootsWithCwd returns the writable roots for WorkspaceWrite,
// including cwd itself and, on macOS, TMPDIR. DangerFullAccess and ReadOnly
// return an empty slice: the former needs no declared roots because it
// already has full write access, the latter has none by definition.
func (p SandboxPolicy) WritableRootsWithCwd(cwd string) []string {
	if p.Mode != SandboxWorkspaceWrite {
		return nil
	}

	roots := make([]string, 0, len(p.WritableRoots)+2)
	roots = append(roots, p.WritableRoots...)
	roots = append(roots, cwd)

	if runtime.GOOS == "darwin" {
		if tmpdir := os.Getenv("TMPDIR"); tmpdir != "" {
			roots = append(roots, tmpdir)
		}
	}

	return roots
}

// SandboxType names the platform sandbox mechanism chosen to confine a
// subprocess. SandboxTypeNone means the command runs unconfined (either
// because it was trusted, or DangerFullAccess was in effect).
type SandboxType string

const (
	SandboxTypeNone          SandboxType = "none"
	SandboxTypeMacosSeatbelt SandboxType = "macos-seatbelt"
	SandboxTypeLinuxSeccomp  SandboxType = "linux-seccomp"
)

// PlatformSandbox returns the sandbox mechanism available on the current
// host, or "" if none is available.
func PlatformSandbox() (SandboxType, bool) {
	switch runtime.GOOS {
	case "darwin":
		return SandboxTypeMacosSeatbelt, true
	case "linux":
		return SandboxTypeLinuxSeccomp, true
	default:
		return "", false
	}
}

// NormalizeAbs resolves path against cwd (if relative) and removes "."/".."
// components without touching the filesystem, so it works even when the
// path does not exist.
func NormalizeAbs(path, cwd string) string {
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(cwd, abs)
	}
	return filepath.Clean(abs)
}
