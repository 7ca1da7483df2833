package protocol

import (
	"encoding/json"
	"fmt"
)

// EventType is the "type" discriminator on the wire for an Event's msg.
type EventType string

const (
	EventError                    EventType = "error"
	EventTaskStarted              EventType = "task_started"
	EventTaskComplete             EventType = "task_complete"
	EventTokenCount               EventType = "token_count"
	EventAgentMessage             EventType = "agent_message"
	EventAgentMessageDelta        EventType = "agent_message_delta"
	EventAgentReasoning           EventType = "agent_reasoning"
	EventAgentReasoningDelta      EventType = "agent_reasoning_delta"
	EventSessionConfigured        EventType = "session_configured"
	EventMcpToolCallBegin         EventType = "mcp_tool_call_begin"
	EventMcpToolCallEnd           EventType = "mcp_tool_call_end"
	EventExecCommandBegin         EventType = "exec_command_begin"
	EventExecCommandEnd           EventType = "exec_command_end"
	EventExecApprovalRequest      EventType = "exec_approval_request"
	EventApplyPatchApprovalReq    EventType = "apply_patch_approval_request"
	EventBackgroundEvent          EventType = "background_event"
	EventPatchApplyBegin          EventType = "patch_apply_begin"
	EventPatchApplyEnd            EventType = "patch_apply_end"
	EventGetHistoryEntryResponse  EventType = "get_history_entry_response"
	EventShutdownComplete         EventType = "shutdown_complete"
)

// TokenUsage accumulates request/response token counts. CachedInputTokens
// and ReasoningOutputTokens are optional because not every provider reports
// them.
type TokenUsage struct {
	InputTokens           int  `json:"input_tokens"`
	CachedInputTokens     *int `json:"cached_input_tokens,omitempty"`
	OutputTokens          int  `json:"output_tokens"`
	ReasoningOutputTokens *int `json:"reasoning_output_tokens,omitempty"`
	TotalTokens           int  `json:"total_tokens"`
}

// Add returns the element-wise sum of two usages. An optional field is
// present in the sum when either side reports it, a missing side counting
// as zero.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	sum := TokenUsage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
	if u.CachedInputTokens != nil || other.CachedInputTokens != nil {
		v := intPtrVal(u.CachedInputTokens) + intPtrVal(other.CachedInputTokens)
		sum.CachedInputTokens = &v
	}
	if u.ReasoningOutputTokens != nil || other.ReasoningOutputTokens != nil {
		v := intPtrVal(u.ReasoningOutputTokens) + intPtrVal(other.ReasoningOutputTokens)
		sum.ReasoningOutputTokens = &v
	}
	return sum
}

func intPtrVal(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

type ErrorEvent struct {
	Message string `json:"message"`
}

type TaskCompleteEvent struct {
	LastAgentMessage string `json:"last_agent_message,omitempty"`
}

type TokenCountEvent struct {
	Usage TokenUsage `json:"usage"`
}

type AgentMessageEvent struct {
	Message string `json:"message"`
}

type AgentMessageDeltaEvent struct {
	Delta string `json:"delta"`
}

type AgentReasoningEvent struct {
	Text string `json:"text"`
}

type AgentReasoningDeltaEvent struct {
	Delta string `json:"delta"`
}

type SessionConfiguredEvent struct {
	SessionID         string `json:"session_id"`
	Model             string `json:"model"`
	HistoryLogID      uint64 `json:"history_log_id"`
	HistoryEntryCount int    `json:"history_entry_count"`
}

type McpToolCallBeginEvent struct {
	CallID    string          `json:"call_id"`
	Server    string          `json:"server"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type McpToolCallEndEvent struct {
	CallID string          `json:"call_id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (e McpToolCallEndEvent) IsSuccess() bool {
	return e.Error == ""
}

type ExecCommandBeginEvent struct {
	CallID    string   `json:"call_id"`
	Command   []string `json:"command"`
	Cwd       string   `json:"cwd"`
	ParsedCmd string   `json:"parsed_cmd,omitempty"`
}

type ExecCommandEndEvent struct {
	CallID   string `json:"call_id"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

type ExecApprovalRequestEvent struct {
	CallID  string   `json:"call_id"`
	Command []string `json:"command"`
	Cwd     string   `json:"cwd"`
	Reason  string   `json:"reason,omitempty"`
}

type ApplyPatchApprovalRequestEvent struct {
	CallID    string                `json:"call_id"`
	Changes   map[string]FileChange `json:"changes"`
	Reason    string                `json:"reason,omitempty"`
	GrantRoot string                `json:"grant_root,omitempty"`
}

type BackgroundEventEvent struct {
	Message string `json:"message"`
}

type PatchApplyBeginEvent struct {
	CallID       string                `json:"call_id"`
	AutoApproved bool                  `json:"auto_approved"`
	Changes      map[string]FileChange `json:"changes"`
}

type PatchApplyEndEvent struct {
	CallID  string `json:"call_id"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
	Success bool   `json:"success"`
}

type GetHistoryEntryResponseEvent struct {
	LogID  uint64        `json:"log_id"`
	Offset int           `json:"offset"`
	Entry  *HistoryEntry `json:"entry,omitempty"`
}

type ShutdownCompleteEvent struct{}

// EventMsg is the tagged union of all event payloads. Exactly one typed
// field is populated, matching Type.
type EventMsg struct {
	Type EventType

	Error                   *ErrorEvent
	TaskComplete            *TaskCompleteEvent
	TokenCount              *TokenCountEvent
	AgentMessage            *AgentMessageEvent
	AgentMessageDelta       *AgentMessageDeltaEvent
	AgentReasoning          *AgentReasoningEvent
	AgentReasoningDelta     *AgentReasoningDeltaEvent
	SessionConfigured       *SessionConfiguredEvent
	McpToolCallBegin        *McpToolCallBeginEvent
	McpToolCallEnd          *McpToolCallEndEvent
	ExecCommandBegin        *ExecCommandBeginEvent
	ExecCommandEnd          *ExecCommandEndEvent
	ExecApprovalRequest     *ExecApprovalRequestEvent
	ApplyPatchApprovalReq   *ApplyPatchApprovalRequestEvent
	BackgroundEvent         *BackgroundEventEvent
	PatchApplyBegin         *PatchApplyBeginEvent
	PatchApplyEnd           *PatchApplyEndEvent
	GetHistoryEntryResponse *GetHistoryEntryResponseEvent
	ShutdownComplete        *ShutdownCompleteEvent
	// TaskStarted carries no payload.
}

// Event is one entry emitted on the EQ.
type Event struct {
	ID  string   `json:"id"`
	Msg EventMsg `json:"msg"`
}

type eventWire struct {
	Type EventType `json:"type"`
	*ErrorEvent
	*TaskCompleteEvent
	*TokenCountEvent
	*AgentMessageEvent
	*AgentMessageDeltaEvent
	*AgentReasoningEvent
	*AgentReasoningDeltaEvent
	*SessionConfiguredEvent
	*McpToolCallBeginEvent
	*McpToolCallEndEvent
	*ExecCommandBeginEvent
	*ExecCommandEndEvent
	*ExecApprovalRequestEvent
	*ApplyPatchApprovalRequestEvent
	*BackgroundEventEvent
	*PatchApplyBeginEvent
	*PatchApplyEndEvent
	*GetHistoryEntryResponseEvent
}

func (m EventMsg) MarshalJSON() ([]byte, error) {
	w := eventWire{Type: m.Type}
	switch m.Type {
	case EventError:
		w.ErrorEvent = m.Error
	case EventTaskComplete:
		w.TaskCompleteEvent = m.TaskComplete
	case EventTokenCount:
		w.TokenCountEvent = m.TokenCount
	case EventAgentMessage:
		w.AgentMessageEvent = m.AgentMessage
	case EventAgentMessageDelta:
		w.AgentMessageDeltaEvent = m.AgentMessageDelta
	case EventAgentReasoning:
		w.AgentReasoningEvent = m.AgentReasoning
	case EventAgentReasoningDelta:
		w.AgentReasoningDeltaEvent = m.AgentReasoningDelta
	case EventSessionConfigured:
		w.SessionConfiguredEvent = m.SessionConfigured
	case EventMcpToolCallBegin:
		w.McpToolCallBeginEvent = m.McpToolCallBegin
	case EventMcpToolCallEnd:
		w.McpToolCallEndEvent = m.McpToolCallEnd
	case EventExecCommandBegin:
		w.ExecCommandBeginEvent = m.ExecCommandBegin
	case EventExecCommandEnd:
		w.ExecCommandEndEvent = m.ExecCommandEnd
	case EventExecApprovalRequest:
		w.ExecApprovalRequestEvent = m.ExecApprovalRequest
	case EventApplyPatchApprovalReq:
		w.ApplyPatchApprovalRequestEvent = m.ApplyPatchApprovalReq
	case EventBackgroundEvent:
		w.BackgroundEventEvent = m.BackgroundEvent
	case EventPatchApplyBegin:
		w.PatchApplyBeginEvent = m.PatchApplyBegin
	case EventPatchApplyEnd:
		w.PatchApplyEndEvent = m.PatchApplyEnd
	case EventGetHistoryEntryResponse:
		w.GetHistoryEntryResponseEvent = m.GetHistoryEntryResponse
	case EventTaskStarted, EventShutdownComplete:
		// no payload
	default:
		return nil, fmt.Errorf("protocol: unknown event type %q", m.Type)
	}
	return json.Marshal(w)
}

func (m *EventMsg) UnmarshalJSON(data []byte) error {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	m.Type = head.Type

	// unmarshal decodes the flattened payload fields of data into dst, a
	// pointer to the payload struct for head.Type.
	unmarshal := func(dst interface{}) error {
		return json.Unmarshal(data, dst)
	}

	switch head.Type {
	case EventError:
		var v ErrorEvent
		if err := unmarshal(&v); err != nil {
			return err
		}
		m.Error = &v
	case EventTaskComplete:
		var v TaskCompleteEvent
		if err := unmarshal(&v); err != nil {
			return err
		}
		m.TaskComplete = &v
	case EventTokenCount:
		var v TokenCountEvent
		if err := unmarshal(&v); err != nil {
			return err
		}
		m.TokenCount = &v
	case EventAgentMessage:
		var v AgentMessageEvent
		if err := unmarshal(&v); err != nil {
			return err
		}
		m.AgentMessage = &v
	case EventAgentMessageDelta:
		var v AgentMessageDeltaEvent
		if err := unmarshal(&v); err != nil {
			return err
		}
		m.AgentMessageDelta = &v
	case EventAgentReasoning:
		var v AgentReasoningEvent
		if err := unmarshal(&v); err != nil {
			return err
		}
		m.AgentReasoning = &v
	case EventAgentReasoningDelta:
		var v AgentReasoningDeltaEvent
		if err := unmarshal(&v); err != nil {
			return err
		}
		m.AgentReasoningDelta = &v
	case EventSessionConfigured:
		var v SessionConfiguredEvent
		if err := unmarshal(&v); err != nil {
			return err
		}
		m.SessionConfigured = &v
	case EventMcpToolCallBegin:
		var v McpToolCallBeginEvent
		if err := unmarshal(&v); err != nil {
			return err
		}
		m.McpToolCallBegin = &v
	case EventMcpToolCallEnd:
		var v McpToolCallEndEvent
		if err := unmarshal(&v); err != nil {
			return err
		}
		m.McpToolCallEnd = &v
	case EventExecCommandBegin:
		var v ExecCommandBeginEvent
		if err := unmarshal(&v); err != nil {
			return err
		}
		m.ExecCommandBegin = &v
	case EventExecCommandEnd:
		var v ExecCommandEndEvent
		if err := unmarshal(&v); err != nil {
			return err
		}
		m.ExecCommandEnd = &v
	case EventExecApprovalRequest:
		var v ExecApprovalRequestEvent
		if err := unmarshal(&v); err != nil {
			return err
		}
		m.ExecApprovalRequest = &v
	case EventApplyPatchApprovalReq:
		var v ApplyPatchApprovalRequestEvent
		if err := unmarshal(&v); err != nil {
			return err
		}
		m.ApplyPatchApprovalReq = &v
	case EventBackgroundEvent:
		var v BackgroundEventEvent
		if err := unmarshal(&v); err != nil {
			return err
		}
		m.BackgroundEvent = &v
	case EventPatchApplyBegin:
		var v PatchApplyBeginEvent
		if err := unmarshal(&v); err != nil {
			return err
		}
		m.PatchApplyBegin = &v
	case EventPatchApplyEnd:
		var v PatchApplyEndEvent
		if err := unmarshal(&v); err != nil {
			return err
		}
		m.PatchApplyEnd = &v
	case EventGetHistoryEntryResponse:
		var v GetHistoryEntryResponseEvent
		if err := unmarshal(&v); err != nil {
			return err
		}
		m.GetHistoryEntryResponse = &v
	case EventTaskStarted, EventShutdownComplete:
		// no payload
	default:
		return fmt.Errorf("protocol: unknown event type %q", head.Type)
	}
	return nil
}
