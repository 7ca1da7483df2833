// Package session implements the Submission-Queue/Event-Queue session
// actor: a single goroutine dequeues Submissions in order and dispatches
// them by op kind, running at most one turn at a time while still
// accepting Interrupt and approval replies for that turn.
package session

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/codex-core/codex/internal/logging"
	"github.com/codex-core/codex/internal/modelclient"
	"github.com/codex-core/codex/internal/protocol"
	"github.com/codex-core/codex/internal/safety"
)

// ModelStreamer is the subset of *modelclient.Client the turn loop needs;
// an interface so the turn loop can be exercised against a fake streamer.
type ModelStreamer interface {
	Stream(ctx context.Context, prompt protocol.Prompt, base, userInstructions string, reasoning *modelclient.ReasoningConfig, store bool) (<-chan modelclient.Result, error)
}

// ShellExecutor runs a shell function call under the given sandbox kind.
type ShellExecutor interface {
	Exec(ctx context.Context, argv []string, cwd string, sandbox protocol.SandboxType) (stdout, stderr string, exitCode int, err error)
}

// PatchApplier applies a parsed patch action to the filesystem.
type PatchApplier interface {
	Apply(ctx context.Context, action protocol.PatchAction, cwd string) (stdout, stderr string, success bool)
}

// McpCaller invokes one tool on an MCP server.
type McpCaller interface {
	Call(ctx context.Context, server, tool string, arguments json.RawMessage) (result json.RawMessage, err error)
}

// HistoryStore is the collaborator backing AddToHistory/GetHistoryEntry.
type HistoryStore interface {
	Append(text string) (offset int, skipped bool, err error)
	Get(logID uint64, offset int) (*protocol.HistoryEntry, error)
	LogID() uint64
	EntryCount() (int, error)
}

// Checkpointer snapshots the working tree after a successful tool call that
// touched it, so the session can later be driven back to a prior state.
// Optional: a nil Checkpoint collaborator simply disables checkpointing.
type Checkpointer interface {
	Commit(message string) (hash string, err error)
}

// Collaborators bundles every external dependency the session needs, so
// construction sites only need to assemble it once.
type Collaborators struct {
	Model      ModelStreamer
	Shell      ShellExecutor
	Patch      PatchApplier
	Mcp        McpCaller
	History    HistoryStore
	Checkpoint Checkpointer
}

type pendingApproval struct {
	reply chan protocol.ReviewDecision
}

// config is the mutable state established by ConfigureSession, touched only
// by the session's own goroutine.
type config struct {
	provider         string
	model            string
	approvalPolicy   protocol.ApprovalPolicy
	sandboxPolicy    protocol.SandboxPolicy
	cwd              string
	baseInstructions string
	userInstructions string
	configured       bool
}

// Session is one SQ/EQ actor. Create with New, feed it with Submit, and
// read Events().
type Session struct {
	id            string
	sq            chan protocol.Submission
	eq            chan protocol.Event
	collaborators Collaborators

	// touched only inside run()
	cfg             config
	history         []protocol.ResponseItem
	approved        safety.ApprovedSet
	previousRespID  string
	pendingApprovals map[string]pendingApproval
	queuedInput     []protocol.UserInputOp
	turnRunning     bool
	turnCancel      context.CancelFunc
}

// New constructs a Session. Call Run in its own goroutine to start the
// actor loop.
func New(collaborators Collaborators) *Session {
	return &Session{
		id:               uuid.NewString(),
		sq:               make(chan protocol.Submission, 256),
		eq:               make(chan protocol.Event, 4096),
		collaborators:    collaborators,
		approved:         make(safety.ApprovedSet),
		pendingApprovals: make(map[string]pendingApproval),
	}
}

// Submit enqueues a submission. Blocks if the SQ is full.
func (s *Session) Submit(sub protocol.Submission) {
	s.sq <- sub
}

// Events returns the event stream. Callers must keep draining it; a slow
// consumer will eventually block the session's emit calls.
func (s *Session) Events() <-chan protocol.Event {
	return s.eq
}

// Run executes the submission loop until a Shutdown op is processed. It
// blocks; call it from its own goroutine.
func (s *Session) Run(ctx context.Context) {
	defer close(s.eq)

	turnComplete := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return

		case sub, ok := <-s.sq:
			if !ok {
				return
			}
			if shutdown := s.dispatch(ctx, sub, turnComplete); shutdown {
				s.drainTurn(turnComplete)
				s.emit(sub.ID, protocol.EventMsg{Type: protocol.EventShutdownComplete, ShutdownComplete: &protocol.ShutdownCompleteEvent{}})
				return
			}

		case <-turnComplete:
			s.turnRunning = false
			s.maybeStartQueuedTurn(ctx, turnComplete)
		}
	}
}

func (s *Session) drainTurn(turnComplete chan struct{}) {
	if !s.turnRunning {
		return
	}
	if s.turnCancel != nil {
		s.turnCancel()
	}
	<-turnComplete
	s.turnRunning = false
}

// dispatch handles one submission and reports whether it was a Shutdown.
func (s *Session) dispatch(ctx context.Context, sub protocol.Submission, turnComplete chan struct{}) (shutdown bool) {
	op := sub.Op
	switch op.Type {
	case protocol.OpConfigureSession:
		s.handleConfigureSession(sub.ID, op.ConfigureSession)

	case protocol.OpInterrupt:
		if s.turnRunning && s.turnCancel != nil {
			s.turnCancel()
		}

	case protocol.OpUserInput:
		if op.UserInput == nil {
			return false
		}
		if s.turnRunning {
			s.queuedInput = append(s.queuedInput, *op.UserInput)
			return false
		}
		s.startTurn(ctx, sub.ID, *op.UserInput, turnComplete)

	case protocol.OpExecApproval:
		s.resolveApproval(op.ExecApproval.TargetID, op.ExecApproval.Decision)

	case protocol.OpPatchApproval:
		s.resolveApproval(op.PatchApproval.TargetID, op.PatchApproval.Decision)

	case protocol.OpAddToHistory:
		if s.collaborators.History != nil {
			if _, _, err := s.collaborators.History.Append(op.AddToHistory.Text); err != nil {
				logging.Warnf("history append failed: %v", err)
			}
		}

	case protocol.OpGetHistoryEntryReq:
		s.handleGetHistoryEntry(sub.ID, op.GetHistoryEntry)

	case protocol.OpShutdown:
		return true
	}
	return false
}

func (s *Session) maybeStartQueuedTurn(ctx context.Context, turnComplete chan struct{}) {
	if len(s.queuedInput) == 0 {
		return
	}
	next := s.queuedInput[0]
	s.queuedInput = s.queuedInput[1:]
	s.startTurn(ctx, uuid.NewString(), next, turnComplete)
}

func (s *Session) handleConfigureSession(subID string, op *protocol.ConfigureSessionOp) {
	if op == nil {
		return
	}
	s.cfg = config{
		provider:         op.Provider,
		model:            op.Model,
		approvalPolicy:   op.ApprovalPolicy,
		sandboxPolicy:    op.SandboxPolicy,
		cwd:              op.Cwd,
		baseInstructions: op.BaseInstructions,
		userInstructions: op.UserInstructions,
		configured:       true,
	}

	entryCount := 0
	logID := uint64(0)
	if s.collaborators.History != nil {
		logID = s.collaborators.History.LogID()
		if n, err := s.collaborators.History.EntryCount(); err == nil {
			entryCount = n
		}
	}

	s.emit(subID, protocol.EventMsg{
		Type: protocol.EventSessionConfigured,
		SessionConfigured: &protocol.SessionConfiguredEvent{
			SessionID:         s.id,
			Model:             s.cfg.model,
			HistoryLogID:      logID,
			HistoryEntryCount: entryCount,
		},
	})
}

func (s *Session) handleGetHistoryEntry(subID string, op *protocol.GetHistoryEntryOp) {
	if op == nil || s.collaborators.History == nil {
		return
	}
	entry, err := s.collaborators.History.Get(op.LogID, op.Offset)
	if err != nil {
		logging.Warnf("history get failed: %v", err)
	}
	s.emit(subID, protocol.EventMsg{
		Type: protocol.EventGetHistoryEntryResponse,
		GetHistoryEntryResponse: &protocol.GetHistoryEntryResponseEvent{
			LogID:  op.LogID,
			Offset: op.Offset,
			Entry:  entry,
		},
	})
}

func (s *Session) resolveApproval(targetID string, decision protocol.ReviewDecision) {
	pending, ok := s.pendingApprovals[targetID]
	if !ok {
		return
	}
	delete(s.pendingApprovals, targetID)
	pending.reply <- decision
}

func (s *Session) emit(id string, msg protocol.EventMsg) {
	s.eq <- protocol.Event{ID: id, Msg: msg}
}

