package protocol

import "encoding/json"

// ResponseItemKind discriminates ResponseItem.
type ResponseItemKind string

const (
	ResponseItemMessage           ResponseItemKind = "message"
	ResponseItemReasoning         ResponseItemKind = "reasoning"
	ResponseItemFunctionCall      ResponseItemKind = "function_call"
	ResponseItemFunctionCallOutput ResponseItemKind = "function_call_output"
)

// FunctionCallTarget names which turn-loop branch a function_call item
// dispatches to. It is derived from the function name, not carried on the
// wire as a separate field.
type FunctionCallTarget string

const (
	FunctionCallShell     FunctionCallTarget = "shell"
	FunctionCallApplyPatch FunctionCallTarget = "apply_patch"
	FunctionCallMcpTool    FunctionCallTarget = "mcp_tool"
)

// ResponseItem is a single element of the conversation transcript, as
// returned within a response.output_item.done SSE frame.
type ResponseItem struct {
	ID   string           `json:"id,omitempty"`
	Type ResponseItemKind `json:"type"`

	// ResponseItemMessage
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`

	// ResponseItemReasoning
	ReasoningText string `json:"reasoning_text,omitempty"`

	// ResponseItemFunctionCall
	CallID    string          `json:"call_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`

	// ResponseItemFunctionCallOutput
	Output string `json:"output,omitempty"`
}

// Target classifies a function_call item by its Name into the turn loop's
// three dispatch branches.
func (r ResponseItem) Target() FunctionCallTarget {
	switch r.Name {
	case "shell", "exec_command", "local_shell":
		return FunctionCallShell
	case "apply_patch":
		return FunctionCallApplyPatch
	default:
		return FunctionCallMcpTool
	}
}

// HistoryEntry is a persisted past user message.
type HistoryEntry struct {
	Text   string `json:"text"`
	LogID  uint64 `json:"log_id"`
	Offset int    `json:"offset"`
}

// Prompt is the assembled input to a single model stream call.
type Prompt struct {
	Input              []ResponseItem `json:"input"`
	Tools              []json.RawMessage `json:"tools,omitempty"`
	PreviousResponseID string         `json:"previous_response_id,omitempty"`
}
