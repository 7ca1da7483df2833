package tokencount

import (
	"testing"

	"github.com/codex-core/codex/internal/protocol"
)

func TestEstimateTextNonEmpty(t *testing.T) {
	if EstimateText("") != 0 {
		t.Fatal("empty string should estimate to 0 tokens")
	}
	if EstimateText("hello world") <= 0 {
		t.Fatal("expected positive token estimate")
	}
}

func TestEstimateItemIncludesOverhead(t *testing.T) {
	item := protocol.ResponseItem{Type: protocol.ResponseItemMessage, Role: "user", Content: "hi"}
	if EstimateItem(item) < PerMessageOverhead {
		t.Fatalf("expected at least the per-message overhead, got %d", EstimateItem(item))
	}
}

func TestTrimToBudgetDropsOldest(t *testing.T) {
	history := []protocol.ResponseItem{
		{Type: protocol.ResponseItemMessage, Role: "user", Content: "aaaaaaaaaa"},
		{Type: protocol.ResponseItemMessage, Role: "assistant", Content: "bbbbbbbbbb"},
		{Type: protocol.ResponseItemMessage, Role: "user", Content: "cccccccccc"},
	}
	full := EstimateHistory(history)

	trimmed, dropped := TrimToBudget(history, full-1)
	if dropped == 0 {
		t.Fatal("expected at least one item dropped")
	}
	if len(trimmed) >= len(history) {
		t.Fatalf("expected history to shrink, got %d items", len(trimmed))
	}
	if trimmed[len(trimmed)-1].Content != "cccccccccc" {
		t.Fatal("expected the most recent item to survive trimming")
	}
}

func TestTrimToBudgetNoopUnderBudget(t *testing.T) {
	history := []protocol.ResponseItem{
		{Type: protocol.ResponseItemMessage, Content: "hi"},
	}
	trimmed, dropped := TrimToBudget(history, 1_000_000)
	if dropped != 0 || len(trimmed) != 1 {
		t.Fatalf("expected no trimming, got dropped=%d len=%d", dropped, len(trimmed))
	}
}
