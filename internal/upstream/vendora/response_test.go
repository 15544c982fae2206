package vendora

import (
	"testing"

	"github.com/mira-ai/antigravity-gateway/internal/dialect"
)

func TestParseResponseSplitsThoughtAndTextParts(t *testing.T) {
	body := []byte(`{
		"response": {
			"candidates": [{
				"content": {
					"parts": [
						{"text": "let me think", "thought": true},
						{"text": "the answer is 4"}
					]
				}
			}],
			"usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 5, "totalTokenCount": 15}
		}
	}`)

	events, usage, err := ParseResponse(body)
	if err != nil {
		t.Fatalf("ParseResponse error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(events), events)
	}
	if events[0].Kind != dialect.EventThinking || events[0].Text != "let me think" {
		t.Fatalf("expected first event to be thinking, got %+v", events[0])
	}
	if events[1].Kind != dialect.EventText || events[1].Text != "the answer is 4" {
		t.Fatalf("expected second event to be text, got %+v", events[1])
	}
	if usage.InputTokens != 10 || usage.OutputTokens != 5 {
		t.Fatalf("expected usage from usageMetadata, got %+v", usage)
	}
}

func TestParseStreamLineSkipsDoneSentinel(t *testing.T) {
	_, _, ok := ParseStreamLine([]byte("[DONE]"))
	if ok {
		t.Fatalf("expected [DONE] sentinel to be skipped")
	}
	_, _, ok = ParseStreamLine([]byte(""))
	if ok {
		t.Fatalf("expected empty payload to be skipped")
	}
}

func TestParseStreamLineDecodesEvent(t *testing.T) {
	payload := []byte(`{"response":{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}}`)
	events, _, ok := ParseStreamLine(payload)
	if !ok {
		t.Fatalf("expected ok for valid payload")
	}
	if len(events) != 1 || events[0].Text != "hi" {
		t.Fatalf("unexpected events: %+v", events)
	}
}
