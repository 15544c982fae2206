package vendora

import (
	"encoding/json"

	"github.com/mira-ai/antigravity-gateway/internal/dialect"
)

// ParseResponse decodes a single non-streaming generateContent JSON body
// into UpstreamEvents and a Usage, ported from translator.rs's
// parse_content_from_response/parse_usage.
func ParseResponse(body []byte) ([]dialect.UpstreamEvent, dialect.Usage, error) {
	var parsed struct {
		Response struct {
			Candidates []struct {
				Content struct {
					Parts []contentPart `json:"parts"`
				} `json:"content"`
			} `json:"candidates"`
			UsageMetadata usageMetadata `json:"usageMetadata"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, dialect.Usage{}, err
	}

	var events []dialect.UpstreamEvent
	if len(parsed.Response.Candidates) > 0 {
		events = partsToEvents(parsed.Response.Candidates[0].Content.Parts)
	}
	return events, parsed.Response.UsageMetadata.toUsage(), nil
}

// ParseStreamLine decodes one SSE `data:` payload emitted by
// streamGenerateContent into UpstreamEvents plus an optional Usage update.
// Returns ok=false for lines that carry no parseable event (e.g. "[DONE]").
func ParseStreamLine(payload []byte) (events []dialect.UpstreamEvent, usage dialect.Usage, ok bool) {
	trimmed := string(payload)
	if trimmed == "" || trimmed == "[DONE]" {
		return nil, dialect.Usage{}, false
	}

	events, usage, err := ParseResponse(payload)
	if err != nil {
		return nil, dialect.Usage{}, false
	}
	return events, usage, true
}

type contentPart struct {
	Text    string `json:"text,omitempty"`
	Thought bool   `json:"thought,omitempty"`
}

type usageMetadata struct {
	PromptTokenCount     int64 `json:"promptTokenCount"`
	CandidatesTokenCount int64 `json:"candidatesTokenCount"`
	TotalTokenCount      int64 `json:"totalTokenCount"`
}

func (u usageMetadata) toUsage() dialect.Usage {
	return dialect.Usage{
		InputTokens:  u.PromptTokenCount,
		OutputTokens: u.CandidatesTokenCount,
	}
}

func partsToEvents(parts []contentPart) []dialect.UpstreamEvent {
	var events []dialect.UpstreamEvent
	for _, part := range parts {
		if part.Text == "" {
			continue
		}
		if part.Thought {
			events = append(events, dialect.UpstreamEvent{Kind: dialect.EventThinking, Text: part.Text})
			continue
		}
		events = append(events, dialect.UpstreamEvent{Kind: dialect.EventText, Text: part.Text})
	}
	return events
}
