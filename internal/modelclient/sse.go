package modelclient

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/codex-core/codex/internal/codexerr"
	"github.com/codex-core/codex/internal/logging"
	"github.com/codex-core/codex/internal/protocol"
)

// responseCompletedEnvelope is the body of a response.completed frame.
type responseCompletedEnvelope struct {
	ID    string `json:"id"`
	Usage *struct {
		InputTokens        int `json:"input_tokens"`
		InputTokensDetails *struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"input_tokens_details"`
		OutputTokens        int `json:"output_tokens"`
		OutputTokensDetails *struct {
			ReasoningTokens int `json:"reasoning_tokens"`
		} `json:"output_tokens_details"`
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (u *responseCompletedEnvelope) toTokenUsage() *protocol.TokenUsage {
	if u.Usage == nil {
		return nil
	}
	usage := &protocol.TokenUsage{
		InputTokens:  u.Usage.InputTokens,
		OutputTokens: u.Usage.OutputTokens,
		TotalTokens:  u.Usage.TotalTokens,
	}
	if u.Usage.InputTokensDetails != nil {
		cached := u.Usage.InputTokensDetails.CachedTokens
		usage.CachedInputTokens = &cached
	}
	if u.Usage.OutputTokensDetails != nil {
		reasoning := u.Usage.OutputTokensDetails.ReasoningTokens
		usage.ReasoningOutputTokens = &reasoning
	}
	return usage
}

// sseEventEnvelope is the generic wire shape of one Responses-API SSE
// frame: {"type": "...", "response": {...}, "item": {...}, "delta": "..."}.
type sseEventEnvelope struct {
	Type     string          `json:"type"`
	Response json.RawMessage `json:"response,omitempty"`
	Item     json.RawMessage `json:"item,omitempty"`
	Delta    string          `json:"delta,omitempty"`
}

// ignoredSSEKinds are known event kinds the agent deliberately does not act
// on; logging them at the default level would just be noise.
var ignoredSSEKinds = map[string]bool{
	"response.content_part.done":              true,
	"response.function_call_arguments.delta":  true,
	"response.in_progress":                    true,
	"response.output_item.added":              true,
	"response.output_text.done":                true,
	"response.reasoning_summary_part.added":    true,
	"response.reasoning_summary_text.done":     true,
}

// processSSE reads body as a stream of Server-Sent Events, emits one Result
// per translated ResponseEvent, and closes out exactly once: either with a
// Completed event (if response.completed was seen before the stream ended)
// or with a terminal error.
func processSSE(ctx context.Context, body io.ReadCloser, out chan<- Result, idleTimeout time.Duration) {
	defer close(out)
	defer body.Close()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	var completed *responseCompletedEnvelope

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					sendResult(ctx, out, Result{Err: &codexerr.StreamError{Message: err.Error()}})
					return
				}
				if completed != nil {
					sendResult(ctx, out, Result{Event: ResponseEvent{
						Kind:       EventCompleted,
						ResponseID: completed.ID,
						TokenUsage: completed.toTokenUsage(),
					}})
				} else {
					sendResult(ctx, out, Result{Err: &codexerr.StreamError{Message: "stream closed before response.completed"}})
				}
				return
			}

			if line == "" || strings.HasPrefix(line, ":") {
				continue
			}
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				continue
			}

			var frame sseEventEnvelope
			if err := json.Unmarshal([]byte(data), &frame); err != nil {
				logging.Debugf("failed to parse SSE event: %v, data: %s", err, data)
				continue
			}

			switch frame.Type {
			case "response.output_item.done":
				if frame.Item == nil {
					continue
				}
				var item protocol.ResponseItem
				if err := json.Unmarshal(frame.Item, &item); err != nil {
					logging.Debugf("failed to parse ResponseItem from output_item.done: %v", err)
					continue
				}
				if !sendResult(ctx, out, Result{Event: ResponseEvent{Kind: EventOutputItemDone, Item: &item}}) {
					return
				}

			case "response.output_text.delta":
				if frame.Delta != "" {
					if !sendResult(ctx, out, Result{Event: ResponseEvent{Kind: EventOutputTextDelta, Delta: frame.Delta}}) {
						return
					}
				}

			case "response.reasoning_summary_text.delta":
				if frame.Delta != "" {
					if !sendResult(ctx, out, Result{Event: ResponseEvent{Kind: EventReasoningSummaryDelta, Delta: frame.Delta}}) {
						return
					}
				}

			case "response.created":
				if frame.Response != nil {
					if !sendResult(ctx, out, Result{Event: ResponseEvent{Kind: EventCreated}}) {
						return
					}
				}

			case "response.failed":
				if frame.Response != nil {
					var errBody struct {
						Error struct {
							Message string `json:"message"`
						} `json:"error"`
					}
					msg := "response.failed event received"
					if err := json.Unmarshal(frame.Response, &errBody); err == nil && errBody.Error.Message != "" {
						msg = errBody.Error.Message
					}
					sendResult(ctx, out, Result{Err: &codexerr.StreamError{Message: msg}})
					return
				}

			case "response.completed":
				if frame.Response != nil {
					var env responseCompletedEnvelope
					if err := json.Unmarshal(frame.Response, &env); err != nil {
						logging.Debugf("failed to parse ResponseCompleted: %v", err)
						continue
					}
					completed = &env
				}

			default:
				if !ignoredSSEKinds[frame.Type] {
					logging.Debugf("unhandled sse event: %s", frame.Type)
				}
			}

		case <-time.After(idleTimeout):
			sendResult(ctx, out, Result{Err: &codexerr.StreamError{Message: "idle timeout waiting for SSE"}})
			return
		}
	}
}

// sendResult forwards r on out unless ctx is already done; returns false if
// the caller should stop processing (context canceled).
func sendResult(ctx context.Context, out chan<- Result, r Result) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}
