package safety

import (
	"path/filepath"
	"testing"

	"github.com/codex-core/codex/internal/protocol"
)

func TestAssessCommandSafety_ApprovedAlwaysAutoApproves(t *testing.T) {
	approved := ApprovedSet{}
	approved.Add([]string{"rm", "-rf", "/tmp/whatever"})

	policies := []protocol.ApprovalPolicy{protocol.ApprovalUnlessTrusted, protocol.ApprovalOnFailure, protocol.ApprovalNever}
	sandboxes := []protocol.SandboxPolicy{
		protocol.NewDangerFullAccessPolicy(),
		protocol.NewReadOnlyPolicy(),
		protocol.NewWorkspaceWritePolicy(nil, false),
	}

	for _, p := range policies {
		for _, s := range sandboxes {
			got := AssessCommandSafety([]string{"rm", "-rf", "/tmp/whatever"}, p, s, approved)
			if got.Verdict != VerdictAutoApprove || got.SandboxType != protocol.SandboxTypeNone {
				t.Errorf("policy=%v sandbox=%v: got %+v, want auto-approve/none", p, s.Mode, got)
			}
		}
	}
}

func TestAssessCommandSafety_UnlessTrustedAlwaysAsks(t *testing.T) {
	sandboxes := []protocol.SandboxPolicy{
		protocol.NewDangerFullAccessPolicy(),
		protocol.NewReadOnlyPolicy(),
	}
	for _, s := range sandboxes {
		got := AssessCommandSafety([]string{"curl", "evil.example"}, protocol.ApprovalUnlessTrusted, s, ApprovedSet{})
		if got.Verdict != VerdictAskUser {
			t.Errorf("sandbox=%v: got %+v, want ask-user", s.Mode, got)
		}
	}
}

func TestAssessCommandSafety_DangerFullAccessAutoApprovesUntrustedWhenNotUnlessTrusted(t *testing.T) {
	for _, p := range []protocol.ApprovalPolicy{protocol.ApprovalOnFailure, protocol.ApprovalNever} {
		got := AssessCommandSafety([]string{"curl", "evil.example"}, p, protocol.NewDangerFullAccessPolicy(), ApprovedSet{})
		if got.Verdict != VerdictAutoApprove || got.SandboxType != protocol.SandboxTypeNone {
			t.Errorf("policy=%v: got %+v", p, got)
		}
	}
}

func TestAssessCommandSafety_NeverRejectsWithoutSandbox(t *testing.T) {
	got := AssessCommandSafety([]string{"curl", "evil.example"}, protocol.ApprovalNever, protocol.NewReadOnlyPolicy(), ApprovedSet{})
	if sandboxType, ok := protocol.PlatformSandbox(); ok {
		if got.Verdict != VerdictAutoApprove || got.SandboxType != sandboxType {
			t.Fatalf("expected auto-approve under platform sandbox, got %+v", got)
		}
		return
	}
	if got.Verdict != VerdictReject {
		t.Fatalf("expected reject with no platform sandbox, got %+v", got)
	}
}

func TestAssessPatchSafety_EmptyPatchRejected(t *testing.T) {
	got := AssessPatchSafety(protocol.PatchAction{}, protocol.ApprovalNever, []string{"."}, "/work")
	if got.Verdict != VerdictReject || got.Reason != "empty patch" {
		t.Fatalf("got %+v", got)
	}
}

func TestAssessPatchSafety_UnlessTrustedAlwaysAsks(t *testing.T) {
	patch := protocol.PatchAction{Changes: map[string]protocol.FileChange{
		"inner.txt": {Kind: protocol.FileChangeAdd, Content: ""},
	}}
	got := AssessPatchSafety(patch, protocol.ApprovalUnlessTrusted, []string{"."}, "/work")
	if got.Verdict != VerdictAskUser {
		t.Fatalf("got %+v", got)
	}
}

func TestWritableRootsConstraint(t *testing.T) {
	cwd, err := filepath.Abs(".")
	if err != nil {
		t.Fatal(err)
	}
	parent := filepath.Dir(cwd)

	addInside := protocol.PatchAction{Changes: map[string]protocol.FileChange{
		filepath.Join(cwd, "inner.txt"): {Kind: protocol.FileChangeAdd},
	}}
	if !isPatchConstrainedToWritablePaths(addInside, []string{"."}, cwd) {
		t.Error("expected inner.txt to be constrained to cwd")
	}

	addOutside := protocol.PatchAction{Changes: map[string]protocol.FileChange{
		filepath.Join(parent, "outside.txt"): {Kind: protocol.FileChangeAdd},
	}}
	if isPatchConstrainedToWritablePaths(addOutside, []string{"."}, cwd) {
		t.Error("expected outside.txt to NOT be constrained to cwd")
	}
	if !isPatchConstrainedToWritablePaths(addOutside, []string{".."}, cwd) {
		t.Error("expected outside.txt to be constrained once parent dir is a writable root")
	}
}

func TestWritableRootsWithCwd(t *testing.T) {
	policy := protocol.NewWorkspaceWritePolicy([]string{"/extra"}, false)
	roots := policy.WritableRootsWithCwd("/work")
	found := false
	for _, r := range roots {
		if r == "/work" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected cwd to always be included, got %v", roots)
	}

	if protocol.NewDangerFullAccessPolicy().WritableRootsWithCwd("/work") != nil {
		t.Error("DangerFullAccess should report no writable roots")
	}
	if protocol.NewReadOnlyPolicy().WritableRootsWithCwd("/work") != nil {
		t.Error("ReadOnly should report no writable roots")
	}
}
