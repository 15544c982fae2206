package dialect

import (
	"strings"
	"testing"
)

func TestBuildOpenAIResponseTextRoundTrip(t *testing.T) {
	events := []UpstreamEvent{{Kind: EventText, Text: "hello back"}}
	resp := BuildOpenAIResponse(events, Usage{InputTokens: 3, OutputTokens: 2}, "gpt-test", ThinkingAsReasoningContent)

	choices := resp["choices"].([]map[string]any)
	message := choices[0]["message"].(map[string]any)
	if message["content"] != "hello back" {
		t.Fatalf("expected content 'hello back', got %v", message["content"])
	}
	if choices[0]["finish_reason"] != "stop" {
		t.Fatalf("expected finish_reason 'stop', got %v", choices[0]["finish_reason"])
	}
}

func TestAnthropicStreamEventSequence(t *testing.T) {
	enc := NewAnthropicStreamEncoder("claude-test", ThinkingAsReasoningContent)

	var all []string
	all = append(all, enc.Start()...)
	all = append(all, enc.Encode(UpstreamEvent{Kind: EventText, Text: "hi"})...)
	all = append(all, enc.Finish(Usage{InputTokens: 1, OutputTokens: 1})...)

	joined := strings.Join(all, "")

	mustContainOnce(t, joined, "event: message_start")
	mustContainOnce(t, joined, "event: content_block_start")
	mustContainOnce(t, joined, "event: content_block_delta")
	mustContainOnce(t, joined, "event: content_block_stop")
	mustContainOnce(t, joined, "event: message_delta")
	mustContainOnce(t, joined, "event: message_stop")

	if !strings.Contains(joined, `"stop_reason":"end_turn"`) {
		t.Fatalf("expected end_turn stop reason, got: %s", joined)
	}
}

func mustContainOnce(t *testing.T, haystack, needle string) {
	t.Helper()
	count := strings.Count(haystack, needle)
	if count != 1 {
		t.Fatalf("expected exactly one %q, got %d in: %s", needle, count, haystack)
	}
}

func TestSyntheticHelloPrependedWhenHistoryStartsWithAssistant(t *testing.T) {
	turns := []NormalizedMessage{{Role: "assistant", Text: "hi there"}}
	sanitized := sanitizeHistory(turns)
	if len(sanitized) != 2 || sanitized[0].Role != "user" || sanitized[0].Text != syntheticHello {
		t.Fatalf("expected synthetic hello prepended, got %+v", sanitized)
	}
}
