// Package tokencount estimates token counts for conversation history items
// ahead of a provider's own usage figures, using the same BPE encoding the
// model provider uses. The Turn Core consults this to decide when history
// needs trimming before a prompt is built, rather than waiting to overrun
// the provider's context window and get a hard failure back.
package tokencount

import (
	"log"
	"sync"

	"github.com/codex-core/codex/internal/protocol"
	"github.com/pkoukk/tiktoken-go"
)

// FudgeFactor is a safety margin covering encoding differences between our
// estimate and the provider's own tokenizer.
const FudgeFactor = 1.05

// PerMessageOverhead approximates the role/delimiter tokens a chat-formatted
// message costs beyond its raw text content.
const PerMessageOverhead = 4

var (
	tkm     *tiktoken.Tiktoken
	tkmOnce sync.Once
)

func encoder() *tiktoken.Tiktoken {
	tkmOnce.Do(func() {
		var err error
		tkm, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Printf("tokencount: failed to load cl100k_base encoding, falling back to heuristic: %v", err)
		}
	})
	return tkm
}

// EstimateText returns the token count for a string, falling back to a
// 1-token-per-4-characters heuristic if the encoder failed to load.
func EstimateText(text string) int {
	if text == "" {
		return 0
	}
	if enc := encoder(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return len(text) / 4
}

// EstimateBudgeted applies FudgeFactor to EstimateText.
func EstimateBudgeted(text string) int {
	return int(float64(EstimateText(text)) * FudgeFactor)
}

// EstimateItem estimates the token cost of one history item: its content,
// reasoning text, and any function-call arguments/output.
func EstimateItem(item protocol.ResponseItem) int {
	tokens := EstimateText(item.Content) + EstimateText(item.ReasoningText) + PerMessageOverhead
	if len(item.Arguments) > 0 {
		tokens += EstimateText(string(item.Arguments))
	}
	if item.Output != "" {
		tokens += EstimateText(item.Output)
	}
	return tokens
}

// EstimateHistory sums EstimateItem across a conversation history slice.
func EstimateHistory(items []protocol.ResponseItem) int {
	total := 0
	for _, item := range items {
		total += EstimateItem(item)
	}
	return total
}

// TrimToBudget drops the oldest items from history, starting with the first,
// until the estimated token count fits within budget, or only one item
// remains. It returns the possibly
// trimmed slice and the number of items dropped.
func TrimToBudget(history []protocol.ResponseItem, budget int) ([]protocol.ResponseItem, int) {
	if budget <= 0 || len(history) <= 1 {
		return history, 0
	}
	dropped := 0
	for EstimateHistory(history) > budget && len(history) > 1 {
		history = history[1:]
		dropped++
	}
	return history, dropped
}
