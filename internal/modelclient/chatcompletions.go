package modelclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/codex-core/codex/internal/codexerr"
	"github.com/codex-core/codex/internal/protocol"
)

// chatRequest is the wire shape posted to a Chat Completions-speaking
// provider (OpenAI-compatible, used by a handful of non-Responses-API
// deployments the client also has to support).
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// streamChatCompletions adapts a Chat Completions-speaking provider to the
// same ResponseEvent sequence the Responses API produces: a Created event,
// a run of OutputTextDelta events, a single OutputItemDone carrying the
// assembled assistant message, and a final Completed event. Chat Completions
// has no native notion of reasoning summaries or structured tool-call
// streaming deltas in the shape the turn core expects, so only the final
// assistant text is surfaced per turn.
func (c *Client) streamChatCompletions(ctx context.Context, prompt protocol.Prompt, base, userInstructions string) (<-chan Result, error) {
	messages := make([]chatMessage, 0, len(prompt.Input)+1)
	instructions := buildFullInstructions(base, userInstructions, c.model)
	if instructions != "" {
		messages = append(messages, chatMessage{Role: "system", Content: instructions})
	}
	for _, item := range prompt.Input {
		role := "user"
		if item.Role == "assistant" {
			role = "assistant"
		}
		messages = append(messages, chatMessage{Role: role, Content: item.Content})
	}

	payload := chatRequest{Model: c.model, Messages: messages, Stream: true}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chat completions request: %w", err)
	}

	resp, err := c.sendWithRetry(ctx, body)
	if err != nil {
		return nil, err
	}

	out := make(chan Result, 1600)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		if !sendResult(ctx, out, Result{Event: ResponseEvent{Kind: EventCreated}}) {
			return
		}

		var assembled strings.Builder
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if line == "" || strings.HasPrefix(line, ":") {
				continue
			}
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				break
			}

			var chunk chatStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			assembled.WriteString(delta)
			if !sendResult(ctx, out, Result{Event: ResponseEvent{Kind: EventOutputTextDelta, Delta: delta}}) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			sendResult(ctx, out, Result{Err: &codexerr.StreamError{Message: err.Error()}})
			return
		}

		item := protocol.ResponseItem{
			Type:    protocol.ResponseItemMessage,
			Role:    "assistant",
			Content: assembled.String(),
		}
		if !sendResult(ctx, out, Result{Event: ResponseEvent{Kind: EventOutputItemDone, Item: &item}}) {
			return
		}
		sendResult(ctx, out, Result{Event: ResponseEvent{Kind: EventCompleted}})
	}()

	return out, nil
}
