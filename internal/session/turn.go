package session

import (
	"context"
	"encoding/json"

	"github.com/codex-core/codex/internal/logging"
	"github.com/codex-core/codex/internal/modelclient"
	"github.com/codex-core/codex/internal/protocol"
	"github.com/codex-core/codex/internal/safety"
	"github.com/codex-core/codex/internal/tokencount"
)

// contextTokenBudget bounds the estimated token size of the history passed
// into each prompt; history is trimmed from the oldest end when exceeded.
const contextTokenBudget = 100_000

// startTurn marks a turn active and launches the turn loop goroutine, which
// reports completion by sending on turnComplete exactly once.
func (s *Session) startTurn(parent context.Context, subID string, input protocol.UserInputOp, turnComplete chan struct{}) {
	ctx, cancel := context.WithCancel(parent)
	s.turnRunning = true
	s.turnCancel = cancel

	for _, item := range input.Items {
		if item.Kind == protocol.InputItemText {
			s.history = append(s.history, protocol.ResponseItem{Type: protocol.ResponseItemMessage, Role: "user", Content: item.Text})
		}
	}

	go func() {
		defer func() { turnComplete <- struct{}{} }()
		s.runTurn(ctx, subID)
	}()
}

// runTurn drives the model-stream / tool-dispatch loop described in spec
// §4.E until the model produces a response with no further tool calls, or
// the turn is canceled, or a fatal stream error occurs.
func (s *Session) runTurn(ctx context.Context, subID string) {
	s.emit(subID, protocol.EventMsg{Type: protocol.EventTaskStarted})

	var lastAgentMessage string
	var usage protocol.TokenUsage

	for {
		if ctx.Err() != nil {
			break
		}

		trimmed, dropped := tokencount.TrimToBudget(s.history, contextTokenBudget)
		if dropped > 0 {
			logging.Infof("trimmed %d oldest history item(s) to fit context budget", dropped)
			s.history = trimmed
		}
		prompt := protocol.Prompt{Input: append([]protocol.ResponseItem(nil), s.history...), PreviousResponseID: s.previousRespID}

		results, err := s.collaborators.Model.Stream(ctx, prompt, s.cfg.baseInstructions, s.cfg.userInstructions, nil, true)
		if err != nil {
			s.emit(subID, protocol.EventMsg{Type: protocol.EventError, Error: &protocol.ErrorEvent{Message: err.Error()}})
			break
		}

		producedToolCall, fatal := s.consumeStream(ctx, subID, results, &usage, &lastAgentMessage)
		if fatal {
			break
		}
		if !producedToolCall {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	s.emit(subID, protocol.EventMsg{Type: protocol.EventTaskComplete, TaskComplete: &protocol.TaskCompleteEvent{LastAgentMessage: lastAgentMessage}})
}

// consumeStream drains one model stream call, dispatching tool calls as
// they arrive. It returns producedToolCall=true if the model emitted at
// least one function call (meaning another stream call should follow with
// the tool outputs appended), and fatal=true if a stream error terminated
// the turn early.
func (s *Session) consumeStream(ctx context.Context, subID string, results <-chan modelclient.Result, usage *protocol.TokenUsage, lastAgentMessage *string) (producedToolCall, fatal bool) {
	for {
		select {
		case <-ctx.Done():
			return producedToolCall, false

		case res, ok := <-results:
			if !ok {
				return producedToolCall, fatal
			}
			if res.Err != nil {
				s.emit(subID, protocol.EventMsg{Type: protocol.EventError, Error: &protocol.ErrorEvent{Message: res.Err.Error()}})
				return producedToolCall, true
			}

			switch res.Event.Kind {
			case modelclient.EventCreated:
				// ignored

			case modelclient.EventOutputTextDelta:
				s.emit(subID, protocol.EventMsg{Type: protocol.EventAgentMessageDelta, AgentMessageDelta: &protocol.AgentMessageDeltaEvent{Delta: res.Event.Delta}})

			case modelclient.EventReasoningSummaryDelta:
				s.emit(subID, protocol.EventMsg{Type: protocol.EventAgentReasoningDelta, AgentReasoningDelta: &protocol.AgentReasoningDeltaEvent{Delta: res.Event.Delta}})

			case modelclient.EventOutputItemDone:
				if res.Event.Item == nil {
					continue
				}
				if s.handleOutputItem(ctx, subID, *res.Event.Item, lastAgentMessage) {
					producedToolCall = true
				}

			case modelclient.EventCompleted:
				s.previousRespID = res.Event.ResponseID
				if res.Event.TokenUsage != nil {
					*usage = usage.Add(*res.Event.TokenUsage)
					s.emit(subID, protocol.EventMsg{Type: protocol.EventTokenCount, TokenCount: &protocol.TokenCountEvent{Usage: *usage}})
				}
			}
		}
	}
}

// handleOutputItem appends item to history and, for function calls,
// dispatches through the safety evaluator and the matching tool
// collaborator. It returns true if item was a function call (so the caller
// knows another model-stream round is needed).
func (s *Session) handleOutputItem(ctx context.Context, subID string, item protocol.ResponseItem, lastAgentMessage *string) bool {
	switch item.Type {
	case protocol.ResponseItemMessage:
		s.history = append(s.history, item)
		*lastAgentMessage = item.Content
		s.emit(subID, protocol.EventMsg{Type: protocol.EventAgentMessage, AgentMessage: &protocol.AgentMessageEvent{Message: item.Content}})
		return false

	case protocol.ResponseItemReasoning:
		s.history = append(s.history, item)
		s.emit(subID, protocol.EventMsg{Type: protocol.EventAgentReasoning, AgentReasoning: &protocol.AgentReasoningEvent{Text: item.ReasoningText}})
		return false

	case protocol.ResponseItemFunctionCall:
		s.history = append(s.history, item)
		s.dispatchFunctionCall(ctx, subID, item)
		return true

	default:
		return false
	}
}

func (s *Session) dispatchFunctionCall(ctx context.Context, subID string, item protocol.ResponseItem) {
	switch item.Target() {
	case protocol.FunctionCallShell:
		s.dispatchShell(ctx, subID, item)
	case protocol.FunctionCallApplyPatch:
		s.dispatchPatch(ctx, subID, item)
	default:
		s.dispatchMcp(ctx, subID, item)
	}
}

func (s *Session) appendFunctionCallOutput(callID, output string) {
	s.history = append(s.history, protocol.ResponseItem{Type: protocol.ResponseItemFunctionCallOutput, CallID: callID, Output: output})
}

func (s *Session) dispatchShell(ctx context.Context, subID string, item protocol.ResponseItem) {
	var argsPayload struct {
		Command []string `json:"command"`
	}
	if err := json.Unmarshal(item.Arguments, &argsPayload); err != nil {
		s.appendFunctionCallOutput(item.CallID, "invalid shell arguments: "+err.Error())
		return
	}
	argv := argsPayload.Command

	check := safety.AssessCommandSafety(argv, s.cfg.approvalPolicy, s.cfg.sandboxPolicy, s.approved)

	if check.Verdict == safety.VerdictAskUser {
		decision, ok := s.requestExecApproval(ctx, subID, item.CallID, argv, "")
		if !ok {
			s.appendFunctionCallOutput(item.CallID, "turn canceled before approval was resolved")
			return
		}
		switch decision {
		case protocol.ReviewApprovedForSession:
			s.approved.Add(argv)
		case protocol.ReviewApproved:
			// one-shot, nothing to record
		default:
			s.appendFunctionCallOutput(item.CallID, "command rejected by user")
			return
		}
		check = safety.Check{Verdict: safety.VerdictAutoApprove, SandboxType: protocol.SandboxTypeNone}
	}

	if check.Verdict == safety.VerdictReject {
		s.appendFunctionCallOutput(item.CallID, "command rejected: "+check.Reason)
		return
	}

	s.emit(subID, protocol.EventMsg{Type: protocol.EventExecCommandBegin, ExecCommandBegin: &protocol.ExecCommandBeginEvent{
		CallID: item.CallID, Command: argv, Cwd: s.cfg.cwd,
	}})

	if s.collaborators.Shell == nil {
		s.appendFunctionCallOutput(item.CallID, "no shell executor configured")
		return
	}

	stdout, stderr, exitCode, err := s.collaborators.Shell.Exec(ctx, argv, s.cfg.cwd, check.SandboxType)
	if err != nil && s.cfg.approvalPolicy == protocol.ApprovalOnFailure {
		decision, ok := s.requestExecApproval(ctx, subID, item.CallID, argv, "command failed in sandbox: "+err.Error())
		if ok && (decision == protocol.ReviewApproved || decision == protocol.ReviewApprovedForSession) {
			if decision == protocol.ReviewApprovedForSession {
				s.approved.Add(argv)
			}
			stdout, stderr, exitCode, err = s.collaborators.Shell.Exec(ctx, argv, s.cfg.cwd, protocol.SandboxTypeNone)
		}
	}

	s.emit(subID, protocol.EventMsg{Type: protocol.EventExecCommandEnd, ExecCommandEnd: &protocol.ExecCommandEndEvent{
		CallID: item.CallID, Stdout: stdout, Stderr: stderr, ExitCode: exitCode,
	}})

	output := stdout
	if err != nil {
		output = stdout + "\n" + stderr
	} else {
		s.maybeCheckpoint("exec: " + argvSummary(argv))
	}
	if ctx.Err() != nil {
		return
	}
	s.appendFunctionCallOutput(item.CallID, output)
}

func (s *Session) dispatchPatch(ctx context.Context, subID string, item protocol.ResponseItem) {
	var action protocol.PatchAction
	if err := json.Unmarshal(item.Arguments, &action); err != nil {
		s.appendFunctionCallOutput(item.CallID, "invalid patch arguments: "+err.Error())
		return
	}

	writableRoots := s.cfg.sandboxPolicy.WritableRootsWithCwd(s.cfg.cwd)
	check := safety.AssessPatchSafety(action, s.cfg.approvalPolicy, writableRoots, s.cfg.cwd)

	autoApproved := check.Verdict == safety.VerdictAutoApprove
	if check.Verdict == safety.VerdictAskUser {
		decision, ok := s.requestPatchApproval(ctx, subID, item.CallID, action, "")
		if !ok {
			s.appendFunctionCallOutput(item.CallID, "turn canceled before approval was resolved")
			return
		}
		if decision != protocol.ReviewApproved && decision != protocol.ReviewApprovedForSession {
			s.appendFunctionCallOutput(item.CallID, "patch rejected by user")
			return
		}
	} else if check.Verdict == safety.VerdictReject {
		s.appendFunctionCallOutput(item.CallID, "patch rejected: "+check.Reason)
		return
	}

	s.emit(subID, protocol.EventMsg{Type: protocol.EventPatchApplyBegin, PatchApplyBegin: &protocol.PatchApplyBeginEvent{
		CallID: item.CallID, AutoApproved: autoApproved, Changes: action.Changes,
	}})

	if s.collaborators.Patch == nil {
		s.appendFunctionCallOutput(item.CallID, "no patch applier configured")
		return
	}

	stdout, stderr, success := s.collaborators.Patch.Apply(ctx, action, s.cfg.cwd)

	s.emit(subID, protocol.EventMsg{Type: protocol.EventPatchApplyEnd, PatchApplyEnd: &protocol.PatchApplyEndEvent{
		CallID: item.CallID, Stdout: stdout, Stderr: stderr, Success: success,
	}})

	output := stdout
	if !success {
		output = stdout + "\n" + stderr
	} else {
		s.maybeCheckpoint("patch: " + item.CallID)
	}
	s.appendFunctionCallOutput(item.CallID, output)
}

// maybeCheckpoint commits a shadow-git snapshot of the working tree if a
// Checkpoint collaborator is configured. Failures are logged, not fatal:
// checkpointing is a safety net, not a correctness requirement of the turn.
func (s *Session) maybeCheckpoint(message string) {
	if s.collaborators.Checkpoint == nil {
		return
	}
	if _, err := s.collaborators.Checkpoint.Commit(message); err != nil {
		logging.Warnf("checkpoint commit failed: %v", err)
	}
}

func argvSummary(argv []string) string {
	out := ""
	for i, a := range argv {
		if i > 0 {
			out += " "
		}
		out += a
		if i >= 5 {
			out += " ..."
			break
		}
	}
	return out
}

func (s *Session) dispatchMcp(ctx context.Context, subID string, item protocol.ResponseItem) {
	server, tool := splitMcpTarget(item.Name)

	s.emit(subID, protocol.EventMsg{Type: protocol.EventMcpToolCallBegin, McpToolCallBegin: &protocol.McpToolCallBeginEvent{
		CallID: item.CallID, Server: server, Tool: tool, Arguments: item.Arguments,
	}})

	if s.collaborators.Mcp == nil {
		s.emit(subID, protocol.EventMsg{Type: protocol.EventMcpToolCallEnd, McpToolCallEnd: &protocol.McpToolCallEndEvent{
			CallID: item.CallID, Error: "no MCP collaborator configured",
		}})
		s.appendFunctionCallOutput(item.CallID, "no MCP collaborator configured")
		return
	}

	result, err := s.collaborators.Mcp.Call(ctx, server, tool, item.Arguments)
	end := protocol.McpToolCallEndEvent{CallID: item.CallID, Result: result}
	output := string(result)
	if err != nil {
		end.Error = err.Error()
		output = "mcp tool call failed: " + err.Error()
	}
	s.emit(subID, protocol.EventMsg{Type: protocol.EventMcpToolCallEnd, McpToolCallEnd: &end})
	s.appendFunctionCallOutput(item.CallID, output)
}

// splitMcpTarget splits a "server__tool" qualified function name at its
// first "__"; a name with no separator is treated as belonging to an
// unnamed default server. The MCP hub itself registers tools under their
// bare names and finds a tool's server by scanning its connections.
func splitMcpTarget(name string) (server, tool string) {
	for i := 0; i+1 < len(name); i++ {
		if name[i] == '_' && name[i+1] == '_' {
			return name[:i], name[i+2:]
		}
	}
	return "", name
}

// requestExecApproval registers a pending approval keyed by callID, emits
// ExecApprovalRequest, and blocks until the decision arrives or the turn is
// canceled (ok=false). callID doubles as the approval's wire target id: it's
// the only identifier the
// ExecApprovalRequest event actually carries, so a client resolving the
// approval has nothing else to echo back.
func (s *Session) requestExecApproval(ctx context.Context, subID, callID string, argv []string, reason string) (protocol.ReviewDecision, bool) {
	reply := make(chan protocol.ReviewDecision, 1)
	s.pendingApprovals[callID] = pendingApproval{reply: reply}

	s.emit(subID, protocol.EventMsg{Type: protocol.EventExecApprovalRequest, ExecApprovalRequest: &protocol.ExecApprovalRequestEvent{
		CallID: callID, Command: argv, Cwd: s.cfg.cwd, Reason: reason,
	}})

	select {
	case decision := <-reply:
		return decision, true
	case <-ctx.Done():
		delete(s.pendingApprovals, callID)
		return protocol.ReviewDenied, false
	}
}

func (s *Session) requestPatchApproval(ctx context.Context, subID, callID string, action protocol.PatchAction, reason string) (protocol.ReviewDecision, bool) {
	reply := make(chan protocol.ReviewDecision, 1)
	s.pendingApprovals[callID] = pendingApproval{reply: reply}

	s.emit(subID, protocol.EventMsg{Type: protocol.EventApplyPatchApprovalReq, ApplyPatchApprovalReq: &protocol.ApplyPatchApprovalRequestEvent{
		CallID: callID, Changes: action.Changes, Reason: reason,
	}})

	select {
	case decision := <-reply:
		return decision, true
	case <-ctx.Done():
		delete(s.pendingApprovals, callID)
		return protocol.ReviewDenied, false
	}
}
