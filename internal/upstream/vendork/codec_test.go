package vendork

import (
	"encoding/json"
	"testing"

	"github.com/mira-ai/antigravity-gateway/internal/dialect"
)

func TestMapModelIDDefaultsToSonnet45(t *testing.T) {
	if got := MapModelID("some-unknown-model"); got != "claude-sonnet-4.5" {
		t.Fatalf("expected default mapping, got %q", got)
	}
	if got := MapModelID("gpt-4o-mini"); got != "claude-sonnet-4.5" {
		t.Fatalf("expected gpt-4o substring mapping, got %q", got)
	}
	if got := MapModelID("claude-3-5-sonnet-20241022"); got != "claude-sonnet-4.5" {
		t.Fatalf("expected claude-3-5-sonnet mapping, got %q", got)
	}
}

func TestOrderedEndpointsSwapsForAmazonQPreference(t *testing.T) {
	list := OrderedEndpoints("AmazonQ-For-CLI")
	if list[0].Origin != EndpointAmazonQ.Origin {
		t.Fatalf("expected AmazonQ endpoint first, got %+v", list[0])
	}

	defaultList := OrderedEndpoints("")
	if defaultList[0].Origin != EndpointCodeWhisperer.Origin {
		t.Fatalf("expected CodeWhisperer endpoint first by default, got %+v", defaultList[0])
	}
}

func TestParseProfileRegion(t *testing.T) {
	cases := map[string]string{
		"":                                                  "us-east-1",
		"not-an-arn":                                         "us-east-1",
		"arn:aws:codewhisperer:eu-central-1:111111111:profile/x": "eu-central-1",
		"arn:aws:codewhisperer:ap-southeast-1:111111111:profile/x": "us-east-1",
	}
	for arn, want := range cases {
		if got := ParseProfileRegion(arn); got != want {
			t.Fatalf("ParseProfileRegion(%q) = %q, want %q", arn, got, want)
		}
	}
}

func TestCommonHeadersIDCvsSocial(t *testing.T) {
	social := CommonHeaders(EndpointCodeWhisperer, "tok", "google", "machine-1")
	if social["x-amzn-kiro-agent-mode"] != "spec" {
		t.Fatalf("expected spec mode for social login, got %q", social["x-amzn-kiro-agent-mode"])
	}
	if social["Authorization"] != "Bearer tok" {
		t.Fatalf("expected bearer token header, got %q", social["Authorization"])
	}

	idc := CommonHeaders(EndpointCodeWhisperer, "tok", "AwsIdc", "")
	if idc["x-amzn-kiro-agent-mode"] != "vibe" {
		t.Fatalf("expected vibe mode for idc login, got %q", idc["x-amzn-kiro-agent-mode"])
	}
	if idc["User-Agent"] != cliUserAgent {
		t.Fatalf("expected cli user agent for idc login, got %q", idc["User-Agent"])
	}
}

func TestBuildRequestShapesConversationState(t *testing.T) {
	req := dialect.NormalizedRequest{
		Model: "claude-sonnet-4.5",
		CurrentMessage: dialect.NormalizedMessage{
			Role: "user",
			Text: "hello there",
		},
		MaxTokens:   512,
		Temperature: 0.5,
	}

	body, err := BuildRequest(req, "arn:aws:codewhisperer:us-east-1:1:profile/p")
	if err != nil {
		t.Fatalf("BuildRequest error: %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("unmarshal built request: %v", err)
	}

	cs := parsed["conversationState"].(map[string]any)
	if cs["chatTriggerType"] != "MANUAL" {
		t.Fatalf("expected MANUAL chat trigger, got %v", cs["chatTriggerType"])
	}
	current := cs["currentMessage"].(map[string]any)["userInputMessage"].(map[string]any)
	if current["content"] != "hello there" {
		t.Fatalf("expected current message content preserved, got %v", current["content"])
	}
	if parsed["profileArn"] != "arn:aws:codewhisperer:us-east-1:1:profile/p" {
		t.Fatalf("expected profileArn passthrough, got %v", parsed["profileArn"])
	}
}

func TestBuildRequestEmptyCurrentMessageFallsBackToContinue(t *testing.T) {
	req := dialect.NormalizedRequest{Model: "claude-sonnet-4.5"}
	body, err := BuildRequest(req, "")
	if err != nil {
		t.Fatalf("BuildRequest error: %v", err)
	}
	var parsed map[string]any
	_ = json.Unmarshal(body, &parsed)
	cs := parsed["conversationState"].(map[string]any)
	current := cs["currentMessage"].(map[string]any)["userInputMessage"].(map[string]any)
	if current["content"] != "Continue." {
		t.Fatalf("expected fallback 'Continue.', got %v", current["content"])
	}
	if _, hasProfile := parsed["profileArn"]; hasProfile {
		t.Fatalf("expected profileArn omitted when empty")
	}
}

func TestSanitizeHistoryPrependsHelloWhenFirstTurnNotUser(t *testing.T) {
	history := []map[string]any{
		{"assistantResponseMessage": map[string]any{"content": "hi"}},
	}
	sanitized := sanitizeHistory(history)
	if len(sanitized) != 2 {
		t.Fatalf("expected synthetic hello prepended, got %d entries", len(sanitized))
	}
	if _, ok := sanitized[0]["userInputMessage"]; !ok {
		t.Fatalf("expected first entry to be a userInputMessage, got %+v", sanitized[0])
	}
}
