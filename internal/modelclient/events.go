package modelclient

import (
	"github.com/codex-core/codex/internal/protocol"
)

// ResponseEventKind discriminates ResponseEvent.
type ResponseEventKind string

const (
	EventCreated             ResponseEventKind = "created"
	EventOutputItemDone      ResponseEventKind = "output_item_done"
	EventOutputTextDelta     ResponseEventKind = "output_text_delta"
	EventReasoningSummaryDelta ResponseEventKind = "reasoning_summary_delta"
	EventCompleted           ResponseEventKind = "completed"
)

// ResponseEvent is the normalized stream element both wire variants
// (Responses API and Chat Completions adapter) converge on.
type ResponseEvent struct {
	Kind ResponseEventKind

	Item              *protocol.ResponseItem // OutputItemDone
	Delta             string                 // OutputTextDelta / ReasoningSummaryDelta
	ResponseID        string                 // Completed
	TokenUsage        *protocol.TokenUsage   // Completed
}
